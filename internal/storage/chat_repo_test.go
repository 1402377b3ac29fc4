package storage

import (
	"context"
	"testing"

	"github.com/bothub-tgbot-go/internal/models"
)

func seedUser(t *testing.T, repo *UserRepo, telegramID string) *models.User {
	t.Helper()
	user, err := repo.GetOrCreate(context.Background(), telegramID, "First", "Last", "user", "ru")
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return user
}

func TestChatGetOrCreate(t *testing.T) {
	db := newTestDB(t)
	users := NewUserRepo(db)
	chats := NewChatRepo(db)
	ctx := context.Background()

	user := seedUser(t, users, "100")

	chat, err := chats.GetOrCreate(ctx, user, 1)
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if chat.UserID != user.ID || chat.ChatIndex != 1 {
		t.Fatalf("chat = %+v", chat)
	}
	if !chat.ContextRemember {
		t.Fatal("chat must inherit the user's context flag")
	}

	again, err := chats.GetOrCreate(ctx, user, 1)
	if err != nil {
		t.Fatalf("second get or create: %v", err)
	}
	if again.ID != chat.ID {
		t.Fatalf("same slot must return the same row: %d vs %d", again.ID, chat.ID)
	}
}

func TestChatSlotUniquePerUser(t *testing.T) {
	db := newTestDB(t)
	users := NewUserRepo(db)
	chats := NewChatRepo(db)
	ctx := context.Background()

	alice := seedUser(t, users, "100")
	bob := seedUser(t, users, "200")

	if _, err := chats.GetOrCreate(ctx, alice, 1); err != nil {
		t.Fatalf("alice slot: %v", err)
	}
	if _, err := chats.GetOrCreate(ctx, bob, 1); err != nil {
		t.Fatalf("same index for another user must be allowed: %v", err)
	}

	// A direct duplicate insert must hit the unique index.
	err := db.Create(&models.Chat{UserID: alice.ID, ChatIndex: 1}).Error
	if err == nil {
		t.Fatal("duplicate (user, index) insert must fail")
	}
}

func TestChatGetOrCreateRace(t *testing.T) {
	db := newTestDB(t)
	users := NewUserRepo(db)
	chats := NewChatRepo(db)
	ctx := context.Background()

	user := seedUser(t, users, "100")

	// Simulate a lost creation race: the row appears between the lookup and
	// the insert. GetOrCreate must return the winner's row, not fail.
	winner := &models.Chat{UserID: user.ID, ChatIndex: 2}
	if err := db.Create(winner).Error; err != nil {
		t.Fatalf("winner insert: %v", err)
	}
	chat, err := chats.GetOrCreate(ctx, user, 2)
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if chat.ID != winner.ID {
		t.Fatalf("expected winner's row %d, got %d", winner.ID, chat.ID)
	}
}

func TestListByUser(t *testing.T) {
	db := newTestDB(t)
	users := NewUserRepo(db)
	chats := NewChatRepo(db)
	ctx := context.Background()

	user := seedUser(t, users, "100")
	for _, idx := range []int{3, 1, 2} {
		if _, err := chats.GetOrCreate(ctx, user, idx); err != nil {
			t.Fatalf("slot %d: %v", idx, err)
		}
	}

	list, err := chats.ListByUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("len = %d", len(list))
	}
	for i, chat := range list {
		if chat.ChatIndex != i+1 {
			t.Fatalf("position %d has index %d", i, chat.ChatIndex)
		}
	}
}
