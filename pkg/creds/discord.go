package creds

import (
	"regexp"
	"strings"

	"github.com/omnirelay/omnirelay/pkg/domain"
)

var (
	snowflakeRE    = regexp.MustCompile(`^\d{17,19}$`)
	discordTokenRE = regexp.MustCompile(`^[A-Za-z0-9_-]{20,}\.[A-Za-z0-9_-]{6,7}\.[A-Za-z0-9_-]{20,}$`)
)

// DiscordValidator checks Discord bot credentials.
type DiscordValidator struct{}

func (v *DiscordValidator) Platform() domain.Platform { return domain.PlatformDiscord }

func (v *DiscordValidator) RequiredFields() []string { return []string{"token"} }

func (v *DiscordValidator) OptionalFields() []string {
	return []string{"applicationId", "guildId"}
}

func (v *DiscordValidator) Validate(credentials map[string]string) Result {
	var r Result
	present := requirePresent(&r, credentials, "token")

	if token, ok := present["token"]; ok {
		if !discordTokenRE.MatchString(token) {
			r.errorf("token does not look like a Discord bot token (three dot-separated segments)")
		}
		if strings.HasPrefix(strings.ToLower(token), "mfa.") {
			r.warnf("token looks like a user token, bots require a bot token")
		}
	}

	for _, field := range []string{"applicationId", "guildId"} {
		if id, ok := get(credentials, field); ok && !snowflakeRE.MatchString(id) {
			r.errorf("%s must be a Discord snowflake (17-19 digits)", field)
		}
	}

	return r
}

func (v *DiscordValidator) ExampleCredentials() map[string]string {
	return map[string]string{
		"token":         "MTA5NzYzMjk4NDU1MzIwzdAw.GxYzAb.ExampleExampleExampleExample123",
		"applicationId": "109763298455320000",
	}
}
