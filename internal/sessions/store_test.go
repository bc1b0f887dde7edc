package sessions

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/ensembleai/ensemble/pkg/models"
)

func sampleMessages() []models.Message {
	return []models.Message{
		{
			ID:        "msg-1",
			Role:      models.RoleUser,
			Content:   "pay the invoice",
			CreatedAt: time.Now().UTC().Truncate(time.Second),
		},
		{
			ID:      "msg-2",
			Role:    models.RoleAssistant,
			Content: "on it",
			ToolCalls: []models.ToolCall{
				{ID: "call-1", Name: "send_payment", Input: json.RawMessage(`{"amount":10}`)},
			},
			CreatedAt: time.Now().UTC().Truncate(time.Second),
		},
		{
			ID:   "msg-3",
			Role: models.RoleTool,
			ToolResults: []models.ToolResult{
				{ToolCallID: "call-1", Content: "payment sent"},
			},
			Metadata:  map[string]any{"transfer_from": "triage"},
			CreatedAt: time.Now().UTC().Truncate(time.Second),
		},
	}
}

func testStoreRoundTrip(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	msgs := sampleMessages()

	if err := store.Save(ctx, "s-1", msgs); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := store.Load(ctx, "s-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != len(msgs) {
		t.Fatalf("len(loaded) = %d, want %d", len(loaded), len(msgs))
	}
	for i := range msgs {
		if loaded[i].ID != msgs[i].ID {
			t.Errorf("loaded[%d].ID = %q, want %q", i, loaded[i].ID, msgs[i].ID)
		}
		if loaded[i].Role != msgs[i].Role {
			t.Errorf("loaded[%d].Role = %q, want %q", i, loaded[i].Role, msgs[i].Role)
		}
		if loaded[i].Content != msgs[i].Content {
			t.Errorf("loaded[%d].Content = %q, want %q", i, loaded[i].Content, msgs[i].Content)
		}
	}
	if len(loaded[1].ToolCalls) != 1 || loaded[1].ToolCalls[0].Name != "send_payment" {
		t.Errorf("tool calls lost: %+v", loaded[1].ToolCalls)
	}
	if len(loaded[2].ToolResults) != 1 || loaded[2].ToolResults[0].Content != "payment sent" {
		t.Errorf("tool results lost: %+v", loaded[2].ToolResults)
	}

	// Saving again replaces, never appends.
	if err := store.Save(ctx, "s-1", msgs[:1]); err != nil {
		t.Fatalf("re-save: %v", err)
	}
	loaded, err = store.Load(ctx, "s-1")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(loaded) != 1 {
		t.Errorf("len after replace = %d, want 1", len(loaded))
	}

	// Unknown session loads empty.
	empty, err := store.Load(ctx, "missing")
	if err != nil {
		t.Fatalf("load missing: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("missing session loaded %d messages, want 0", len(empty))
	}
}

func TestMemoryStore(t *testing.T) {
	testStoreRoundTrip(t, NewMemoryStore())
}

func TestMemoryStore_Isolation(t *testing.T) {
	store := NewMemoryStore()
	msgs := sampleMessages()
	if err := store.Save(context.Background(), "s-1", msgs); err != nil {
		t.Fatal(err)
	}

	// Mutating the caller's slice must not leak into the store.
	msgs[0].Content = "mutated"
	loaded, _ := store.Load(context.Background(), "s-1")
	if loaded[0].Content == "mutated" {
		t.Error("store shares memory with caller")
	}
}

func TestSQLiteStore(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()
	testStoreRoundTrip(t, store)
}

func TestSQLiteStore_SessionsAreSeparate(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	if err := store.Save(ctx, "a", sampleMessages()); err != nil {
		t.Fatal(err)
	}
	if err := store.Save(ctx, "b", sampleMessages()[:1]); err != nil {
		t.Fatal(err)
	}

	a, _ := store.Load(ctx, "a")
	b, _ := store.Load(ctx, "b")
	if len(a) != 3 || len(b) != 1 {
		t.Errorf("sessions bled: a=%d b=%d, want 3 and 1", len(a), len(b))
	}
}
