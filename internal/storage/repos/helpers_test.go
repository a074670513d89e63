package repos

import (
	"context"
	"path/filepath"
	"testing"

	"campusdesk/internal/config"
	"campusdesk/internal/model"
	"campusdesk/internal/storage"
)

func setupStore(t *testing.T) *Store {
	t.Helper()

	cfg := config.Default()
	cfg.Database.Path = filepath.Join(t.TempDir(), "repos-test.db")

	db, err := storage.Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := storage.Migrate(context.Background(), db); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	return New(db)
}

func createTestAccount(t *testing.T, ctx context.Context, store *Store, name string, role model.Role) model.Account {
	t.Helper()

	acc, err := store.CreateAccount(ctx, CreateAccountInput{
		Email:       name + "@campus.test",
		DisplayName: name,
		Role:        role,
		APIKeyHash:  newID(),
	})
	if err != nil {
		t.Fatalf("create account %s: %v", name, err)
	}
	return acc
}

func createEscalatedConversation(t *testing.T, ctx context.Context, store *Store, userID string) (model.Conversation, model.AgentRequest) {
	t.Helper()

	conv, err := store.CreateConversation(ctx, userID, nil)
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	if _, err := store.AddMessage(ctx, CreateMessageInput{
		ConversationID: conv.ID,
		Role:           model.MessageRoleUser,
		Content:        "necesito hablar con un agente",
	}); err != nil {
		t.Fatalf("add message: %v", err)
	}
	req, err := store.EscalateConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("escalate: %v", err)
	}
	return conv, req
}
