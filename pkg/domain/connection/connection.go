// Package connection defines the PlatformConnection aggregate: a configured,
// credentialed instance of a platform integration owned by a project.
package connection

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/omnirelay/omnirelay/pkg/domain"
)

// nameRE enforces the connection naming rule: 1-20 chars of letters, digits,
// dots, spaces, and dashes.
var nameRE = regexp.MustCompile(`^[A-Za-z0-9.\s-]{1,20}$`)

// Ref is the composite key identifying one live platform instance within a
// project. It is the routing key for the registry, the bus, and the queue.
type Ref struct {
	ProjectID    domain.EntityID `json:"project_id"`
	ConnectionID domain.EntityID `json:"connection_id"`
}

// String renders the ref in its canonical "project/connection" form.
func (r Ref) String() string {
	return fmt.Sprintf("%s/%s", r.ProjectID, r.ConnectionID)
}

// IsZero returns true if either component is missing.
func (r Ref) IsZero() bool {
	return r.ProjectID.IsZero() || r.ConnectionID.IsZero()
}

// Connection is a configured instance of a platform integration.
type Connection struct {
	ID        domain.EntityID `json:"id"`
	ProjectID domain.EntityID `json:"project_id"`
	Platform  domain.Platform `json:"platform"`
	Name      string          `json:"name"`

	// Credentials is the validated, platform-specific secret map. It is
	// opaque to everything except the matching provider and validator.
	Credentials map[string]string `json:"credentials"`

	Active   bool `json:"active"`
	TestMode bool `json:"test_mode"`

	// WebhookToken is set only for webhook-connected platforms; it is the
	// unguessable path segment of the connection's inbound URL.
	WebhookToken string `json:"webhook_token,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New validates inputs and constructs a connection. Credentials are assumed
// to have passed the platform validator already; structural identity rules
// (name, platform) are enforced here.
func New(projectID domain.EntityID, platform domain.Platform, name string, credentials map[string]string) (*Connection, error) {
	if projectID.IsZero() {
		return nil, &domain.ValidationError{Field: "projectId", Reason: "required"}
	}
	if !platform.Valid() {
		return nil, &domain.ValidationError{Field: "platform", Reason: fmt.Sprintf("unknown platform %q", platform)}
	}
	if !nameRE.MatchString(name) {
		return nil, &domain.ValidationError{Field: "name", Reason: "must be 1-20 chars of letters, digits, dots, spaces, or dashes"}
	}
	now := domain.Now()
	return &Connection{
		ID:          domain.NewID(),
		ProjectID:   projectID,
		Platform:    platform,
		Name:        name,
		Credentials: credentials,
		Active:      false,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Ref returns the connection's composite routing key.
func (c *Connection) Ref() Ref {
	return Ref{ProjectID: c.ProjectID, ConnectionID: c.ID}
}

// AssignWebhookToken mints a fresh inbound token. Called once for
// webhook-connected platforms; rotating it invalidates the old URL.
func (c *Connection) AssignWebhookToken() {
	c.WebhookToken = strings.ReplaceAll(uuid.NewString(), "-", "")
	c.UpdatedAt = domain.Now()
}

// RotateCredentials replaces the secret map after re-validation.
func (c *Connection) RotateCredentials(credentials map[string]string) {
	c.Credentials = credentials
	c.UpdatedAt = domain.Now()
}

// SetActive toggles the activation flag.
func (c *Connection) SetActive(active bool) {
	c.Active = active
	c.UpdatedAt = domain.Now()
}

// ---------------------------------------------------------------------------
// Persistence port
// ---------------------------------------------------------------------------

// Repository defines persistence operations for connections. Implementations
// live in infrastructure; the core never owns schema or migrations.
type Repository interface {
	FindByID(ctx context.Context, id domain.EntityID) (*Connection, error)
	FindByRef(ctx context.Context, ref Ref) (*Connection, error)
	FindByProject(ctx context.Context, projectID domain.EntityID) ([]*Connection, error)
	FindActive(ctx context.Context) ([]*Connection, error)
	Save(ctx context.Context, conn *Connection) error
	Delete(ctx context.Context, id domain.EntityID) error
}
