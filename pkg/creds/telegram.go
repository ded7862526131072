package creds

import (
	"regexp"
	"strings"

	"github.com/omnirelay/omnirelay/pkg/domain"
)

// telegramTokenRE matches the "botID:secret" shape issued by BotFather.
var (
	telegramTokenRE = regexp.MustCompile(`^\d{8,10}:[A-Za-z0-9_-]{30,50}$`)
	numericChatRE   = regexp.MustCompile(`^-?\d+$`)
)

// TelegramValidator checks Telegram bot credentials.
type TelegramValidator struct{}

func (v *TelegramValidator) Platform() domain.Platform { return domain.PlatformTelegram }

func (v *TelegramValidator) RequiredFields() []string { return []string{"token"} }

func (v *TelegramValidator) OptionalFields() []string { return []string{"allowedChatId"} }

func (v *TelegramValidator) Validate(credentials map[string]string) Result {
	var r Result
	present := requirePresent(&r, credentials, "token")

	if token, ok := present["token"]; ok {
		if !telegramTokenRE.MatchString(token) {
			r.errorf("token must look like <botId>:<secret> as issued by BotFather")
		}
		if strings.Contains(strings.ToLower(token), "test") {
			r.warnf("token looks like a test token")
		}
	}

	if chatID, ok := get(credentials, "allowedChatId"); ok {
		if !numericChatRE.MatchString(chatID) {
			r.errorf("allowedChatId must be a numeric chat identifier")
		}
	}

	return r
}

func (v *TelegramValidator) ExampleCredentials() map[string]string {
	return map[string]string{
		"token": "1234567890:AAHdqWcvCH1vGWJxfSeofSAs0K5PALDsaw",
	}
}
