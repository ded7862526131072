package persistence

import (
	"context"
	"sync"

	"github.com/omnirelay/omnirelay/pkg/domain"
	"github.com/omnirelay/omnirelay/pkg/domain/connection"
	"github.com/omnirelay/omnirelay/pkg/domain/message"
)

// MemoryConnectionRepository keeps connections in a map. Used by tests.
type MemoryConnectionRepository struct {
	mu    sync.RWMutex
	conns map[domain.EntityID]*connection.Connection
}

var _ connection.Repository = (*MemoryConnectionRepository)(nil)

func NewMemoryConnectionRepository() *MemoryConnectionRepository {
	return &MemoryConnectionRepository{conns: make(map[domain.EntityID]*connection.Connection)}
}

func (r *MemoryConnectionRepository) FindByID(_ context.Context, id domain.EntityID) (*connection.Connection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	if !ok {
		return nil, &domain.NotFoundError{Resource: "connection", ID: string(id)}
	}
	copied := *c
	return &copied, nil
}

func (r *MemoryConnectionRepository) FindByRef(ctx context.Context, ref connection.Ref) (*connection.Connection, error) {
	c, err := r.FindByID(ctx, ref.ConnectionID)
	if err != nil || c.ProjectID != ref.ProjectID {
		return nil, &domain.NotFoundError{Resource: "connection", ID: ref.String()}
	}
	return c, nil
}

func (r *MemoryConnectionRepository) FindByProject(_ context.Context, projectID domain.EntityID) ([]*connection.Connection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*connection.Connection
	for _, c := range r.conns {
		if c.ProjectID == projectID {
			copied := *c
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *MemoryConnectionRepository) FindActive(_ context.Context) ([]*connection.Connection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*connection.Connection
	for _, c := range r.conns {
		if c.Active {
			copied := *c
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *MemoryConnectionRepository) Save(_ context.Context, conn *connection.Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *conn
	r.conns[conn.ID] = &copied
	return nil
}

func (r *MemoryConnectionRepository) Delete(_ context.Context, id domain.EntityID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[id]; !ok {
		return &domain.NotFoundError{Resource: "connection", ID: string(id)}
	}
	delete(r.conns, id)
	return nil
}

// ---------------------------------------------------------------------------

type receivedKey struct {
	projectID    domain.EntityID
	connectionID domain.EntityID
	providerID   string
}

// MemoryReceivedRepository keeps inbound message records in a map.
type MemoryReceivedRepository struct {
	mu   sync.RWMutex
	msgs map[receivedKey]*message.ReceivedMessage
}

var _ message.ReceivedRepository = (*MemoryReceivedRepository)(nil)

func NewMemoryReceivedRepository() *MemoryReceivedRepository {
	return &MemoryReceivedRepository{msgs: make(map[receivedKey]*message.ReceivedMessage)}
}

func (r *MemoryReceivedRepository) FindByProviderID(_ context.Context, projectID, connectionID domain.EntityID, providerMessageID string) (*message.ReceivedMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.msgs[receivedKey{projectID, connectionID, providerMessageID}]
	if !ok {
		return nil, &domain.NotFoundError{Resource: "message", ID: providerMessageID}
	}
	copied := *m
	return &copied, nil
}

func (r *MemoryReceivedRepository) Save(_ context.Context, m *message.ReceivedMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := receivedKey{m.ProjectID, m.ConnectionID, m.ProviderMessageID}
	if _, exists := r.msgs[key]; exists {
		return nil
	}
	copied := *m
	r.msgs[key] = &copied
	return nil
}

// MemorySentRepository keeps outbound message records in a map.
type MemorySentRepository struct {
	mu   sync.RWMutex
	msgs map[receivedKey]*message.SentMessage
}

var _ message.SentRepository = (*MemorySentRepository)(nil)

func NewMemorySentRepository() *MemorySentRepository {
	return &MemorySentRepository{msgs: make(map[receivedKey]*message.SentMessage)}
}

func (r *MemorySentRepository) FindByProviderID(_ context.Context, projectID, connectionID domain.EntityID, providerMessageID string) (*message.SentMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.msgs[receivedKey{projectID, connectionID, providerMessageID}]
	if !ok {
		return nil, &domain.NotFoundError{Resource: "message", ID: providerMessageID}
	}
	copied := *m
	return &copied, nil
}

func (r *MemorySentRepository) Save(_ context.Context, m *message.SentMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := receivedKey{m.ProjectID, m.ConnectionID, m.ProviderMessageID}
	if _, exists := r.msgs[key]; exists {
		return nil
	}
	copied := *m
	r.msgs[key] = &copied
	return nil
}
