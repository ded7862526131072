// Package registry owns the live set of activated platform connections. It
// maps connection refs to provider registrations and webhook tokens to refs
// for O(1) inbound resolution. The registry is handed to the webhook router
// and the dispatch queue at construction time; there is no global instance.
package registry

import (
	"context"
	"sync"

	"github.com/omnirelay/omnirelay/pkg/domain"
	"github.com/omnirelay/omnirelay/pkg/domain/connection"
	"github.com/omnirelay/omnirelay/pkg/logger"
	"github.com/omnirelay/omnirelay/pkg/provider"
)

// Registration is one live connection: its provider, activation handle,
// connection snapshot, and static capability metadata.
type Registration struct {
	Provider     provider.Provider
	Handle       provider.Handle
	Connection   *connection.Connection
	Capabilities provider.Capabilities
}

// WebhookEntry is the informational health view of one registered
// webhook-type provider. Never used for routing.
type WebhookEntry struct {
	Platform domain.Platform `json:"platform"`
	Ref      string          `json:"connection_ref"`
	Name     string          `json:"name"`
}

// Registry is the sole owner of both mappings. All mutations are applied
// atomically with respect to resolves: both maps live under one lock, so a
// reader never observes one map updated and the other stale.
type Registry struct {
	mu        sync.RWMutex
	byRef     map[connection.Ref]*Registration
	byToken   map[string]connection.Ref
	providers map[domain.Platform]provider.Provider
}

// New creates a registry over the given platform providers.
func New(providers ...provider.Provider) *Registry {
	m := make(map[domain.Platform]provider.Provider, len(providers))
	for _, p := range providers {
		m[p.Platform()] = p
	}
	return &Registry{
		byRef:     make(map[connection.Ref]*Registration),
		byToken:   make(map[string]connection.Ref),
		providers: m,
	}
}

// ProviderFor returns the platform adapter for a platform, registered or not.
func (r *Registry) ProviderFor(platform domain.Platform) (provider.Provider, bool) {
	p, ok := r.providers[platform]
	return p, ok
}

// Register activates the connection's provider and stores the registration.
// It fails atomically: if activation fails no partial entry is left behind,
// and a ref that is already registered is rejected rather than overwritten.
// Callers that replace credentials must Unregister first.
func (r *Registry) Register(ctx context.Context, conn *connection.Connection) error {
	p, ok := r.providers[conn.Platform]
	if !ok {
		return &domain.UnsupportedPlatformError{Platform: string(conn.Platform)}
	}

	r.mu.RLock()
	_, exists := r.byRef[conn.Ref()]
	r.mu.RUnlock()
	if exists {
		return &domain.ValidationError{Field: "connection", Reason: "already registered"}
	}

	handle, err := p.Activate(ctx, conn)
	if err != nil {
		return err
	}

	reg := &Registration{
		Provider:     p,
		Handle:       handle,
		Connection:   conn,
		Capabilities: provider.CapabilitiesOf(p),
	}

	r.mu.Lock()
	if _, exists := r.byRef[conn.Ref()]; exists {
		r.mu.Unlock()
		// Lost a race with a concurrent Register for the same ref. Release
		// the fresh handle; the existing registration stays untouched.
		if derr := handle.Deactivate(ctx); derr != nil {
			logger.WarnCF("registry", "Deactivation of losing handle failed", map[string]interface{}{
				"ref":   conn.Ref().String(),
				"error": derr.Error(),
			})
		}
		return &domain.ValidationError{Field: "connection", Reason: "already registered"}
	}
	r.byRef[conn.Ref()] = reg
	if conn.WebhookToken != "" {
		r.byToken[conn.WebhookToken] = conn.Ref()
	}
	r.mu.Unlock()

	logger.InfoCF("registry", "Connection registered", map[string]interface{}{
		"platform": string(conn.Platform),
		"ref":      conn.Ref().String(),
		"name":     conn.Name,
	})
	return nil
}

// Unregister removes both mapping entries and deactivates the handle.
// Unknown refs are a no-op; deactivation is idempotent by contract.
func (r *Registry) Unregister(ctx context.Context, ref connection.Ref) error {
	r.mu.Lock()
	reg, ok := r.byRef[ref]
	if ok {
		delete(r.byRef, ref)
		if token := reg.Connection.WebhookToken; token != "" {
			delete(r.byToken, token)
		}
	}
	r.mu.Unlock()

	if !ok {
		return nil
	}

	err := reg.Handle.Deactivate(ctx)
	logger.InfoCF("registry", "Connection unregistered", map[string]interface{}{
		"platform": string(reg.Connection.Platform),
		"ref":      ref.String(),
	})
	return err
}

// Resolve returns the live registration for a connection ref. Pure lookup.
func (r *Registry) Resolve(ref connection.Ref) (*Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.byRef[ref]
	return reg, ok
}

// ResolveToken returns the registration owning a webhook token, verifying the
// platform matches. Pure lookup with no side effects, so at-least-once
// webhook deliveries are idempotent from the registry's perspective.
func (r *Registry) ResolveToken(platform domain.Platform, token string) (*Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ref, ok := r.byToken[token]
	if !ok {
		return nil, false
	}
	reg, ok := r.byRef[ref]
	if !ok || reg.Connection.Platform != platform {
		return nil, false
	}
	return reg, true
}

// WebhookEntries snapshots the registered webhook-type providers for the
// health endpoint.
func (r *Registry) WebhookEntries() []WebhookEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := make([]WebhookEntry, 0, len(r.byToken))
	for token, ref := range r.byToken {
		if reg, ok := r.byRef[ref]; ok && token == reg.Connection.WebhookToken {
			entries = append(entries, WebhookEntry{
				Platform: reg.Connection.Platform,
				Ref:      ref.String(),
				Name:     reg.Connection.Name,
			})
		}
	}
	return entries
}

// Size returns the number of live registrations.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byRef)
}

// Close unregisters everything, used during shutdown.
func (r *Registry) Close(ctx context.Context) {
	r.mu.RLock()
	refs := make([]connection.Ref, 0, len(r.byRef))
	for ref := range r.byRef {
		refs = append(refs, ref)
	}
	r.mu.RUnlock()

	for _, ref := range refs {
		if err := r.Unregister(ctx, ref); err != nil {
			logger.WarnCF("registry", "Deactivation failed during shutdown", map[string]interface{}{
				"ref":   ref.String(),
				"error": err.Error(),
			})
		}
	}
}
