// Package persistence implements the repository ports over SQLite, plus
// in-memory twins used by tests and no-database deployments.
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/omnirelay/omnirelay/pkg/domain"
	"github.com/omnirelay/omnirelay/pkg/domain/connection"
	"github.com/omnirelay/omnirelay/pkg/domain/message"
)

const schema = `
CREATE TABLE IF NOT EXISTS connections (
	id            TEXT PRIMARY KEY,
	project_id    TEXT NOT NULL,
	platform      TEXT NOT NULL,
	name          TEXT NOT NULL,
	credentials   TEXT NOT NULL,
	active        INTEGER NOT NULL DEFAULT 0,
	test_mode     INTEGER NOT NULL DEFAULT 0,
	webhook_token TEXT NOT NULL DEFAULT '',
	created_at    TEXT NOT NULL,
	updated_at    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_connections_project ON connections(project_id);

CREATE TABLE IF NOT EXISTS received_messages (
	id                  TEXT PRIMARY KEY,
	project_id          TEXT NOT NULL,
	connection_id       TEXT NOT NULL,
	platform            TEXT NOT NULL,
	provider_message_id TEXT NOT NULL,
	provider_chat_id    TEXT NOT NULL,
	sender_id           TEXT NOT NULL,
	text                TEXT NOT NULL,
	received_at         TEXT NOT NULL,
	UNIQUE(project_id, connection_id, provider_message_id)
);

CREATE TABLE IF NOT EXISTS sent_messages (
	id                  TEXT PRIMARY KEY,
	project_id          TEXT NOT NULL,
	connection_id       TEXT NOT NULL,
	platform            TEXT NOT NULL,
	provider_message_id TEXT NOT NULL,
	target_chat_id      TEXT NOT NULL,
	text                TEXT NOT NULL,
	sent_at             TEXT NOT NULL,
	UNIQUE(project_id, connection_id, provider_message_id)
);
`

// DB wraps the SQLite handle shared by the repositories.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the database file and applies the schema.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &DB{db: db}, nil
}

func (d *DB) Close() error { return d.db.Close() }

func encodeTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func decodeTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// ---------------------------------------------------------------------------
// Connections
// ---------------------------------------------------------------------------

// SQLiteConnectionRepository persists connections. Credentials are stored as
// a JSON blob; the database never interprets them.
type SQLiteConnectionRepository struct {
	db *sql.DB
}

var _ connection.Repository = (*SQLiteConnectionRepository)(nil)

// NewConnectionRepository creates the connection repository.
func NewConnectionRepository(db *DB) *SQLiteConnectionRepository {
	return &SQLiteConnectionRepository{db: db.db}
}

const connectionColumns = `id, project_id, platform, name, credentials, active, test_mode, webhook_token, created_at, updated_at`

func scanConnection(row interface{ Scan(...interface{}) error }) (*connection.Connection, error) {
	var (
		c                    connection.Connection
		credentials          string
		createdAt, updatedAt string
	)
	err := row.Scan(&c.ID, &c.ProjectID, &c.Platform, &c.Name, &credentials,
		&c.Active, &c.TestMode, &c.WebhookToken, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(credentials), &c.Credentials); err != nil {
		return nil, fmt.Errorf("decode credentials: %w", err)
	}
	c.CreatedAt = decodeTime(createdAt)
	c.UpdatedAt = decodeTime(updatedAt)
	return &c, nil
}

func (r *SQLiteConnectionRepository) FindByID(ctx context.Context, id domain.EntityID) (*connection.Connection, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+connectionColumns+` FROM connections WHERE id = ?`, id)
	c, err := scanConnection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.NotFoundError{Resource: "connection", ID: string(id)}
	}
	return c, err
}

func (r *SQLiteConnectionRepository) FindByRef(ctx context.Context, ref connection.Ref) (*connection.Connection, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+connectionColumns+` FROM connections WHERE id = ? AND project_id = ?`,
		ref.ConnectionID, ref.ProjectID)
	c, err := scanConnection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.NotFoundError{Resource: "connection", ID: ref.String()}
	}
	return c, err
}

func (r *SQLiteConnectionRepository) FindByProject(ctx context.Context, projectID domain.EntityID) ([]*connection.Connection, error) {
	return r.query(ctx, `SELECT `+connectionColumns+` FROM connections WHERE project_id = ? ORDER BY created_at`, projectID)
}

func (r *SQLiteConnectionRepository) FindActive(ctx context.Context) ([]*connection.Connection, error) {
	return r.query(ctx, `SELECT `+connectionColumns+` FROM connections WHERE active = 1 ORDER BY created_at`)
}

func (r *SQLiteConnectionRepository) query(ctx context.Context, q string, args ...interface{}) ([]*connection.Connection, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*connection.Connection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *SQLiteConnectionRepository) Save(ctx context.Context, conn *connection.Connection) error {
	credentials, err := json.Marshal(conn.Credentials)
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO connections (`+connectionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			credentials = excluded.credentials,
			active = excluded.active,
			test_mode = excluded.test_mode,
			webhook_token = excluded.webhook_token,
			updated_at = excluded.updated_at`,
		conn.ID, conn.ProjectID, conn.Platform, conn.Name, string(credentials),
		conn.Active, conn.TestMode, conn.WebhookToken,
		encodeTime(conn.CreatedAt), encodeTime(conn.UpdatedAt))
	return err
}

func (r *SQLiteConnectionRepository) Delete(ctx context.Context, id domain.EntityID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM connections WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &domain.NotFoundError{Resource: "connection", ID: string(id)}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Received messages
// ---------------------------------------------------------------------------

// SQLiteReceivedRepository persists inbound message records.
type SQLiteReceivedRepository struct {
	db *sql.DB
}

var _ message.ReceivedRepository = (*SQLiteReceivedRepository)(nil)

// NewReceivedRepository creates the received-message repository.
func NewReceivedRepository(db *DB) *SQLiteReceivedRepository {
	return &SQLiteReceivedRepository{db: db.db}
}

func (r *SQLiteReceivedRepository) FindByProviderID(ctx context.Context, projectID, connectionID domain.EntityID, providerMessageID string) (*message.ReceivedMessage, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, project_id, connection_id, platform, provider_message_id, provider_chat_id, sender_id, text, received_at
		FROM received_messages
		WHERE project_id = ? AND connection_id = ? AND provider_message_id = ?`,
		projectID, connectionID, providerMessageID)

	var m message.ReceivedMessage
	var receivedAt string
	err := row.Scan(&m.ID, &m.ProjectID, &m.ConnectionID, &m.Platform,
		&m.ProviderMessageID, &m.ProviderChatID, &m.SenderID, &m.Text, &receivedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.NotFoundError{Resource: "message", ID: providerMessageID}
	}
	if err != nil {
		return nil, err
	}
	m.ReceivedAt = decodeTime(receivedAt)
	return &m, nil
}

func (r *SQLiteReceivedRepository) Save(ctx context.Context, m *message.ReceivedMessage) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO received_messages
			(id, project_id, connection_id, platform, provider_message_id, provider_chat_id, sender_id, text, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id, connection_id, provider_message_id) DO NOTHING`,
		m.ID, m.ProjectID, m.ConnectionID, m.Platform,
		m.ProviderMessageID, m.ProviderChatID, m.SenderID, m.Text, encodeTime(m.ReceivedAt))
	return err
}

// ---------------------------------------------------------------------------
// Sent messages
// ---------------------------------------------------------------------------

// SQLiteSentRepository persists outbound message records.
type SQLiteSentRepository struct {
	db *sql.DB
}

var _ message.SentRepository = (*SQLiteSentRepository)(nil)

// NewSentRepository creates the sent-message repository.
func NewSentRepository(db *DB) *SQLiteSentRepository {
	return &SQLiteSentRepository{db: db.db}
}

func (r *SQLiteSentRepository) FindByProviderID(ctx context.Context, projectID, connectionID domain.EntityID, providerMessageID string) (*message.SentMessage, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, project_id, connection_id, platform, provider_message_id, target_chat_id, text, sent_at
		FROM sent_messages
		WHERE project_id = ? AND connection_id = ? AND provider_message_id = ?`,
		projectID, connectionID, providerMessageID)

	var m message.SentMessage
	var sentAt string
	err := row.Scan(&m.ID, &m.ProjectID, &m.ConnectionID, &m.Platform,
		&m.ProviderMessageID, &m.TargetChatID, &m.Text, &sentAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.NotFoundError{Resource: "message", ID: providerMessageID}
	}
	if err != nil {
		return nil, err
	}
	m.SentAt = decodeTime(sentAt)
	return &m, nil
}

func (r *SQLiteSentRepository) Save(ctx context.Context, m *message.SentMessage) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sent_messages
			(id, project_id, connection_id, platform, provider_message_id, target_chat_id, text, sent_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id, connection_id, provider_message_id) DO NOTHING`,
		m.ID, m.ProjectID, m.ConnectionID, m.Platform,
		m.ProviderMessageID, m.TargetChatID, m.Text, encodeTime(m.SentAt))
	return err
}
