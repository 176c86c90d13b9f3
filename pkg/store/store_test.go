package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dotsetgreg/chatpilot/pkg/model"
	"github.com/dotsetgreg/chatpilot/pkg/retry"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore(:memory:) failed: %v", err)
	}
	// No backoff sleeps in tests.
	s.policy = retry.Policy{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGetUserContext_NotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetUserContext(context.Background(), "nobody")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestCreateAndGetUserContext(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	uc := model.NewUserContext("history")
	uc.AppendTurn("who was Hypatia?", "a philosopher of Alexandria")
	uc.UserSummary = "asked about antiquity"
	uc.Birthdate = "1985-06-15"
	uc.Topics = []string{"antiquity", "philosophy"}

	if err := s.CreateUserContext(ctx, "user-1", uc); err != nil {
		t.Fatalf("CreateUserContext failed: %v", err)
	}

	got, err := s.GetUserContext(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetUserContext failed: %v", err)
	}
	if got.ChatInterest != "history" || got.UserSummary != "asked about antiquity" || got.Birthdate != "1985-06-15" {
		t.Errorf("got = %+v", got)
	}
	if len(got.ChatHistory) != 2 || got.ChatHistory[1].Role != model.RoleAssistant {
		t.Errorf("history = %+v", got.ChatHistory)
	}
	if len(got.Topics) != 2 || got.Topics[0] != "antiquity" {
		t.Errorf("topics = %v", got.Topics)
	}
}

func TestCreateUserContext_DuplicateFails(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.CreateUserContext(ctx, "user-1", model.NewUserContext("")); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateUserContext(ctx, "user-1", model.NewUserContext("")); err == nil {
		t.Error("expected error on duplicate create")
	}
}

func TestUpdateUserContext(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	uc := model.NewUserContext("go")
	if err := s.CreateUserContext(ctx, "user-1", uc); err != nil {
		t.Fatal(err)
	}

	uc.AppendTurn("generics?", "since 1.18")
	uc.UserSummary = "talked about go"
	if err := s.UpdateUserContext(ctx, "user-1", uc); err != nil {
		t.Fatalf("UpdateUserContext failed: %v", err)
	}

	got, err := s.GetUserContext(ctx, "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.UserSummary != "talked about go" {
		t.Errorf("UserSummary = %q", got.UserSummary)
	}
	if len(got.ChatHistory) != 2 {
		t.Errorf("history = %d messages, want 2", len(got.ChatHistory))
	}
}

func TestUpdateUserContext_MissingUser(t *testing.T) {
	s := openTestStore(t)
	err := s.UpdateUserContext(context.Background(), "nobody", model.NewUserContext(""))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestNilSlicesStoredAsEmpty(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.CreateUserContext(ctx, "user-1", &model.UserContext{}); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetUserContext(ctx, "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.ChatHistory == nil || got.Topics == nil {
		t.Errorf("slices = %v / %v, want empty not nil", got.ChatHistory, got.Topics)
	}
}
