// Package creds holds the per-platform credential validators and the service
// that dispatches to them. Validation is structural and semantic only — it
// never calls the remote platform; that happens at provider activation.
package creds

import (
	"fmt"
	"strings"

	"github.com/omnirelay/omnirelay/pkg/domain"
)

// Result is the outcome of validating one credential set. Warnings never
// invalidate credentials; only errors do.
type Result struct {
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// IsValid reports whether the credential set has zero errors.
func (r Result) IsValid() bool { return len(r.Errors) == 0 }

func (r *Result) errorf(format string, args ...interface{}) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *Result) warnf(format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Validator checks one platform's credential shape.
type Validator interface {
	Platform() domain.Platform
	Validate(credentials map[string]string) Result
	RequiredFields() []string
	OptionalFields() []string
	// ExampleCredentials returns a set that passes Validate with zero errors,
	// used for documentation and CLI generation.
	ExampleCredentials() map[string]string
}

// Schema is the documentation surface for one platform's credentials.
type Schema struct {
	Platform domain.Platform   `json:"platform"`
	Required []string          `json:"required"`
	Optional []string          `json:"optional"`
	Example  map[string]string `json:"example"`
}

// ---------------------------------------------------------------------------
// Dispatching service
// ---------------------------------------------------------------------------

// Service routes validation requests to the validator matching the platform
// identifier, case-insensitively.
type Service struct {
	validators map[domain.Platform]Validator
}

// NewService builds a service over the given validators.
func NewService(validators ...Validator) *Service {
	m := make(map[domain.Platform]Validator, len(validators))
	for _, v := range validators {
		m[v.Platform()] = v
	}
	return &Service{validators: m}
}

// DefaultService returns a service covering every supported platform.
func DefaultService() *Service {
	return NewService(
		&DiscordValidator{},
		&TelegramValidator{},
		&WhatsAppValidator{},
		&EmailValidator{},
	)
}

func (s *Service) lookup(platform string) (Validator, error) {
	p, ok := domain.ParsePlatform(platform)
	if !ok {
		return nil, &domain.UnsupportedPlatformError{Platform: platform}
	}
	v, ok := s.validators[p]
	if !ok {
		return nil, &domain.UnsupportedPlatformError{Platform: platform}
	}
	return v, nil
}

// Validate runs the matching validator. An unknown platform is a
// configuration error (UnsupportedPlatformError), not a validation failure.
func (s *Service) Validate(platform string, credentials map[string]string) (Result, error) {
	v, err := s.lookup(platform)
	if err != nil {
		return Result{}, err
	}
	return v.Validate(credentials), nil
}

// Schema returns the documentation schema for a platform.
func (s *Service) Schema(platform string) (Schema, error) {
	v, err := s.lookup(platform)
	if err != nil {
		return Schema{}, err
	}
	return Schema{
		Platform: v.Platform(),
		Required: v.RequiredFields(),
		Optional: v.OptionalFields(),
		Example:  v.ExampleCredentials(),
	}, nil
}

// ---------------------------------------------------------------------------
// Shared helpers
// ---------------------------------------------------------------------------

func get(credentials map[string]string, key string) (string, bool) {
	v, ok := credentials[key]
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func requirePresent(r *Result, credentials map[string]string, keys ...string) map[string]string {
	present := make(map[string]string, len(keys))
	for _, key := range keys {
		v, ok := get(credentials, key)
		if !ok {
			r.errorf("%s is required", key)
			continue
		}
		present[key] = v
	}
	return present
}
