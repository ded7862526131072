package domain

import "strings"

// ---------------------------------------------------------------------------
// Shared value objects
// ---------------------------------------------------------------------------

// Platform identifies a supported chat platform. The set is closed: adding a
// platform means adding a provider adapter and a credential validator.
type Platform string

const (
	PlatformDiscord  Platform = "discord"
	PlatformTelegram Platform = "telegram"
	PlatformWhatsApp Platform = "whatsapp-evo"
	PlatformEmail    Platform = "email"
)

// AllPlatforms returns every supported platform.
func AllPlatforms() []Platform {
	return []Platform{PlatformDiscord, PlatformTelegram, PlatformWhatsApp, PlatformEmail}
}

// String implements fmt.Stringer.
func (p Platform) String() string { return string(p) }

// Valid returns true if the platform is recognized.
func (p Platform) Valid() bool {
	for _, known := range AllPlatforms() {
		if known == p {
			return true
		}
	}
	return false
}

// ParsePlatform resolves a platform identifier case-insensitively.
func ParsePlatform(s string) (Platform, bool) {
	p := Platform(strings.ToLower(strings.TrimSpace(s)))
	if p.Valid() {
		return p, true
	}
	return "", false
}

// ---------------------------------------------------------------------------

// ConnectionType describes how a platform delivers inbound traffic.
type ConnectionType string

const (
	ConnectionWebhook   ConnectionType = "webhook"
	ConnectionPolling   ConnectionType = "polling"
	ConnectionWebsocket ConnectionType = "websocket"
)

func (ct ConnectionType) String() string { return string(ct) }

// ---------------------------------------------------------------------------

// Direction indicates message flow relative to the gateway.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

func (d Direction) String() string { return string(d) }
