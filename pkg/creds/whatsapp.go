package creds

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/omnirelay/omnirelay/pkg/domain"
)

const whatsappInstanceMaxLen = 50

var whatsappInstanceRE = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// WhatsAppValidator checks credentials for an Evolution API instance.
type WhatsAppValidator struct{}

func (v *WhatsAppValidator) Platform() domain.Platform { return domain.PlatformWhatsApp }

func (v *WhatsAppValidator) RequiredFields() []string {
	return []string{"serverUrl", "apiKey", "instanceName"}
}

func (v *WhatsAppValidator) OptionalFields() []string { return []string{"webhookByEvents"} }

func (v *WhatsAppValidator) Validate(credentials map[string]string) Result {
	var r Result
	present := requirePresent(&r, credentials, "serverUrl", "apiKey", "instanceName")

	if raw, ok := present["serverUrl"]; ok {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			r.errorf("serverUrl must be a valid URL")
		} else if u.Scheme != "http" && u.Scheme != "https" {
			r.errorf("serverUrl must use http or https")
		} else if u.Scheme == "http" {
			r.warnf("serverUrl uses plain http, the API key travels unencrypted")
		}
	}

	if name, ok := present["instanceName"]; ok {
		if len(name) > whatsappInstanceMaxLen {
			r.errorf("instanceName must be at most %d chars", whatsappInstanceMaxLen)
		}
		if !whatsappInstanceRE.MatchString(name) {
			r.errorf("instanceName may only contain letters, digits, underscores, and dashes")
		}
	}

	if key, ok := present["apiKey"]; ok && len(key) < 8 {
		r.warnf("apiKey is unusually short for an Evolution API key")
	}

	if byEvents, ok := get(credentials, "webhookByEvents"); ok {
		if s := strings.ToLower(byEvents); s != "true" && s != "false" {
			r.errorf("webhookByEvents must be true or false")
		}
	}

	return r
}

func (v *WhatsAppValidator) ExampleCredentials() map[string]string {
	return map[string]string{
		"serverUrl":    "https://evolution.example.com",
		"apiKey":       "B6D9F2E1-4C83-4A5B-9D1E-7F2A3B4C5D6E",
		"instanceName": "support-line",
	}
}
