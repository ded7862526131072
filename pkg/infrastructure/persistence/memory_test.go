package persistence

import (
	"context"
	"errors"
	"testing"

	"github.com/omnirelay/omnirelay/pkg/domain"
	"github.com/omnirelay/omnirelay/pkg/domain/connection"
	"github.com/omnirelay/omnirelay/pkg/domain/message"
)

func TestMemoryConnectionRepository(t *testing.T) {
	repo := NewMemoryConnectionRepository()
	ctx := context.Background()

	conn, err := connection.New(domain.NewID(), domain.PlatformDiscord, "main bot", map[string]string{"token": "t"})
	if err != nil {
		t.Fatal(err)
	}
	if err := repo.Save(ctx, conn); err != nil {
		t.Fatal(err)
	}

	got, err := repo.FindByRef(ctx, conn.Ref())
	if err != nil {
		t.Fatalf("FindByRef: %v", err)
	}
	if got.Name != "main bot" {
		t.Errorf("name = %q", got.Name)
	}

	// Mutating the returned copy must not leak into the store.
	got.Name = "changed"
	again, _ := repo.FindByID(ctx, conn.ID)
	if again.Name != "main bot" {
		t.Error("repository returned a shared pointer, not a copy")
	}

	conn.SetActive(true)
	repo.Save(ctx, conn)
	active, _ := repo.FindActive(ctx)
	if len(active) != 1 {
		t.Errorf("FindActive returned %d, want 1", len(active))
	}

	if err := repo.Delete(ctx, conn.ID); err != nil {
		t.Fatal(err)
	}
	var notFound *domain.NotFoundError
	if _, err := repo.FindByID(ctx, conn.ID); !errors.As(err, &notFound) {
		t.Errorf("FindByID after delete = %v, want NotFoundError", err)
	}
	if err := repo.Delete(ctx, conn.ID); !errors.As(err, &notFound) {
		t.Errorf("second delete = %v, want NotFoundError", err)
	}
}

func TestMemoryReceivedRepositoryIgnoresDuplicateSave(t *testing.T) {
	repo := NewMemoryReceivedRepository()
	ctx := context.Background()

	projectID, connectionID := domain.NewID(), domain.NewID()
	first := &message.ReceivedMessage{
		ID: domain.NewID(), ProjectID: projectID, ConnectionID: connectionID,
		Platform: domain.PlatformTelegram, ProviderMessageID: "42",
		ProviderChatID: "chat-9", Text: "original",
	}
	if err := repo.Save(ctx, first); err != nil {
		t.Fatal(err)
	}

	dup := *first
	dup.ID = domain.NewID()
	dup.Text = "replayed"
	if err := repo.Save(ctx, &dup); err != nil {
		t.Fatal(err)
	}

	got, err := repo.FindByProviderID(ctx, projectID, connectionID, "42")
	if err != nil {
		t.Fatal(err)
	}
	if got.Text != "original" {
		t.Errorf("duplicate save overwrote the record: text = %q", got.Text)
	}
}
