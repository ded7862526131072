package provider

import (
	"net"
	"net/netip"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/omnirelay/omnirelay/pkg/domain/message"
	"github.com/omnirelay/omnirelay/pkg/logger"
)

const maxEmbedColor = 0xFFFFFF

// ParseEmbedColor reduces a "#RRGGBB" hex string or decimal integer string to
// an integer in [0, 0xFFFFFF]. Returns false for out-of-range or unparsable
// values; callers drop the color and send the embed without one.
func ParseEmbedColor(raw string) (int, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, false
	}

	if strings.HasPrefix(s, "#") {
		hex := s[1:]
		if len(hex) != 6 {
			return 0, false
		}
		// ParseUint rejects sign characters, so exactly six hex digits reach
		// here and the result is always within [0, 0xFFFFFF].
		n, err := strconv.ParseUint(hex, 16, 32)
		if err != nil {
			return 0, false
		}
		return int(n), true
	}

	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n > maxEmbedColor {
		return 0, false
	}
	return n, true
}

// ParseEmbedTimestamp accepts an RFC3339 timestamp; anything else is dropped.
func ParseEmbedTimestamp(raw string) (time.Time, bool) {
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// lookupIP is swappable in tests to avoid real DNS.
var lookupIP = net.LookupIP

// SafeURL reports whether an embed URL is safe to hand to a platform: it must
// parse, use http/https, and must not point at loopback, private, link-local,
// or otherwise non-global addresses. The check runs immediately before use so
// a URL substituted after embed authoring never bypasses it.
func SafeURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Hostname() == "" {
		return false
	}

	host := strings.ToLower(u.Hostname())
	if host == "localhost" || strings.HasSuffix(host, ".localhost") ||
		strings.HasSuffix(host, ".local") || strings.HasSuffix(host, ".internal") {
		return false
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		return addrIsGlobal(addr)
	}

	ips, err := lookupIP(host)
	if err != nil || len(ips) == 0 {
		return false
	}
	for _, ip := range ips {
		addr, ok := netip.AddrFromSlice(ip)
		if !ok || !addrIsGlobal(addr.Unmap()) {
			return false
		}
	}
	return true
}

func addrIsGlobal(addr netip.Addr) bool {
	return addr.IsValid() &&
		!addr.IsLoopback() &&
		!addr.IsPrivate() &&
		!addr.IsLinkLocalUnicast() &&
		!addr.IsLinkLocalMulticast() &&
		!addr.IsMulticast() &&
		!addr.IsUnspecified()
}

// SanitizeEmbed revalidates every URL field of an embed and strips the unsafe
// ones, returning a copy. The rest of the embed still goes out; dropping a
// cosmetic field beats failing the whole send.
func SanitizeEmbed(e *message.Embed) *message.Embed {
	if e == nil {
		return nil
	}
	out := *e
	out.Fields = append([]message.EmbedField(nil), e.Fields...)

	check := func(field string, value *string) {
		if *value == "" {
			return
		}
		if !SafeURL(*value) {
			logger.WarnCF("provider", "Dropping unsafe embed URL", map[string]interface{}{
				"field": field,
				"url":   *value,
			})
			*value = ""
		}
	}

	check("image_url", &out.ImageURL)
	check("thumbnail_url", &out.ThumbnailURL)
	check("author_url", &out.AuthorURL)
	return &out
}

// EmbedFallbackText flattens an embed into plain text for platforms without
// native embed rendering.
func EmbedFallbackText(e *message.Embed) string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	if e.Title != "" {
		b.WriteString("*" + e.Title + "*\n")
	}
	if e.Description != "" {
		b.WriteString(e.Description + "\n")
	}
	for _, f := range e.Fields {
		b.WriteString(f.Name + ": " + f.Value + "\n")
	}
	if e.FooterText != "" {
		b.WriteString("_" + e.FooterText + "_\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
