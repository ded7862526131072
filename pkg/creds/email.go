package creds

import (
	"net/mail"
	"strconv"
	"strings"

	"github.com/omnirelay/omnirelay/pkg/domain"
)

// EmailValidator checks SMTP credentials.
type EmailValidator struct{}

func (v *EmailValidator) Platform() domain.Platform { return domain.PlatformEmail }

func (v *EmailValidator) RequiredFields() []string {
	return []string{"smtpHost", "smtpPort", "username", "password", "fromAddress"}
}

func (v *EmailValidator) OptionalFields() []string { return []string{"secure", "fromName"} }

func (v *EmailValidator) Validate(credentials map[string]string) Result {
	var r Result
	present := requirePresent(&r, credentials, "smtpHost", "smtpPort", "username", "password", "fromAddress")

	port := 0
	if raw, ok := present["smtpPort"]; ok {
		p, err := strconv.Atoi(raw)
		if err != nil || p < 1 || p > 65535 {
			r.errorf("smtpPort must be an integer between 1 and 65535")
		} else {
			port = p
		}
	}

	if host, ok := present["smtpHost"]; ok && strings.ContainsAny(host, " /") {
		r.errorf("smtpHost must be a bare hostname or IP")
	}

	if from, ok := present["fromAddress"]; ok {
		if _, err := mail.ParseAddress(from); err != nil {
			r.errorf("fromAddress must be a valid email address")
		}
	}

	secure := ""
	if raw, ok := get(credentials, "secure"); ok {
		secure = strings.ToLower(raw)
		if secure != "true" && secure != "false" {
			r.errorf("secure must be true or false")
		}
	}

	// Common port/secure-flag mismatches are suspicious but not fatal.
	switch port {
	case 465:
		if secure == "false" {
			r.warnf("port 465 is implicit-TLS, secure=false will likely fail")
		}
	case 587, 25:
		if secure == "true" {
			r.warnf("port %d normally uses STARTTLS, secure=true expects implicit TLS", port)
		}
	}

	return r
}

func (v *EmailValidator) ExampleCredentials() map[string]string {
	return map[string]string{
		"smtpHost":    "smtp.example.com",
		"smtpPort":    "587",
		"username":    "relay@example.com",
		"password":    "app-specific-password",
		"fromAddress": "relay@example.com",
	}
}
