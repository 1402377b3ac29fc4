package storage

import (
	"context"
	"testing"
	"time"
)

func TestUserGetOrCreate(t *testing.T) {
	repo := NewUserRepo(newTestDB(t))
	ctx := context.Background()

	user, err := repo.GetOrCreate(ctx, "42", "Alice", "", "alice", "ru")
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if user.ID == 0 || user.TelegramID != "42" {
		t.Fatalf("user = %+v", user)
	}
	if user.CurrentChatIndex != 1 || !user.ContextRemember {
		t.Fatalf("defaults = index %d, remember %v", user.CurrentChatIndex, user.ContextRemember)
	}

	again, err := repo.GetOrCreate(ctx, "42", "Different", "", "other", "en")
	if err != nil {
		t.Fatalf("second get or create: %v", err)
	}
	if again.ID != user.ID || again.FirstName != "Alice" {
		t.Fatalf("existing row must be returned untouched: %+v", again)
	}
}

func TestUserGetOrCreateDefaultsLanguage(t *testing.T) {
	repo := NewUserRepo(newTestDB(t))

	user, err := repo.GetOrCreate(context.Background(), "42", "Alice", "", "alice", "")
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if user.LanguageCode != "en" {
		t.Fatalf("language = %q", user.LanguageCode)
	}
}

func TestUserFindByBothubID(t *testing.T) {
	repo := NewUserRepo(newTestDB(t))
	ctx := context.Background()

	user, _ := repo.GetOrCreate(ctx, "42", "Alice", "", "alice", "ru")
	user.BothubID = "bh-1"
	if err := repo.Update(ctx, user); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := repo.FindByBothubID(ctx, "bh-1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got == nil || got.ID != user.ID {
		t.Fatalf("got = %+v", got)
	}

	missing, err := repo.FindByBothubID(ctx, "bh-zzz")
	if err != nil {
		t.Fatalf("find missing: %v", err)
	}
	if missing != nil {
		t.Fatalf("missing = %+v", missing)
	}
}

func TestUserTokenRoundTrip(t *testing.T) {
	repo := NewUserRepo(newTestDB(t))
	ctx := context.Background()

	user, _ := repo.GetOrCreate(ctx, "42", "Alice", "", "alice", "ru")
	issued := time.Now().Truncate(time.Second)
	user.SetAccessToken("tok-1", issued)
	if err := repo.Update(ctx, user); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, _ := repo.FindByID(ctx, user.ID)
	if got.BothubAccessToken != "tok-1" {
		t.Fatalf("token = %q", got.BothubAccessToken)
	}
	if got.BothubAccessTokenCreatedAt == nil || !got.BothubAccessTokenCreatedAt.Equal(issued) {
		t.Fatalf("created at = %v", got.BothubAccessTokenCreatedAt)
	}

	got.ClearAccessToken()
	if err := repo.Update(ctx, got); err != nil {
		t.Fatalf("clear update: %v", err)
	}
	cleared, _ := repo.FindByID(ctx, user.ID)
	if cleared.BothubAccessToken != "" || cleared.BothubAccessTokenCreatedAt != nil {
		t.Fatalf("cleared = %q %v", cleared.BothubAccessToken, cleared.BothubAccessTokenCreatedAt)
	}
}
