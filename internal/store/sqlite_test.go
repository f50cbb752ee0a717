package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUsersByEmail(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	created, err := s.CreateUser(ctx, "u-1", " Ada@Example.com ")
	require.NoError(t, err)
	require.Equal(t, "ada@example.com", created.Email)

	got, err := s.GetUserByEmail(ctx, "ADA@example.com")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "u-1", got.ExternalUserID)

	missing, err := s.GetUserByEmail(ctx, "nobody@example.com")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestRecentChatsAndMessages(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	s.now = func() time.Time { tick++; return base.Add(time.Duration(tick) * time.Second) }

	user, err := s.CreateUser(ctx, "u-1", "")
	require.NoError(t, err)

	var ids []string
	for i := 0; i < 3; i++ {
		chat, err := s.CreateChat(ctx, user.ID, nil)
		require.NoError(t, err)
		ids = append(ids, chat.ID)
	}

	chats, err := s.GetRecentChatsByUserID(ctx, user.ID, 2)
	require.NoError(t, err)
	require.Len(t, chats, 2)
	require.Equal(t, ids[2], chats[0].ID)
	require.Equal(t, ids[1], chats[1].ID)

	require.NoError(t, s.CreateMessage(ctx, &Message{ChatID: ids[0], Sender: "user", Content: "I need a laptop"}))
	require.NoError(t, s.CreateMessage(ctx, &Message{ChatID: ids[0], Sender: "model", Content: "Sure"}))

	msgs, err := s.GetMessagesByChatID(ctx, ids[0], 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "I need a laptop", msgs[0].Content)
	require.Equal(t, "model", msgs[1].Sender)

	// A limit keeps the tail of a long conversation.
	for _, c := range []string{"budget is $800", "prefer 14 inch"} {
		require.NoError(t, s.CreateMessage(ctx, &Message{ChatID: ids[0], Sender: "user", Content: c}))
	}
	msgs, err = s.GetMessagesByChatID(ctx, ids[0], 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "budget is $800", msgs[0].Content)
	require.Equal(t, "prefer 14 inch", msgs[1].Content)
}

func TestCacheEntryLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	key := CacheKey{Identity: UserIdentity("u-1"), Tier: TierPersonalized}

	got, err := s.FindCacheEntry(ctx, key, now)
	require.NoError(t, err)
	require.Nil(t, got)

	require.NoError(t, s.UpsertCacheEntry(ctx, &RecommendationCacheEntry{
		Key:       key,
		Items:     []RecommendationItem{{ID: "a", Title: "Laptop", Price: 499.99}},
		ExpiresAt: now.Add(time.Hour),
	}))
	// Second write replaces the first rather than adding a row.
	require.NoError(t, s.UpsertCacheEntry(ctx, &RecommendationCacheEntry{
		Key:       key,
		Items:     []RecommendationItem{{ID: "b", Title: "Phone"}},
		ExpiresAt: now.Add(time.Hour),
	}))

	got, err = s.FindCacheEntry(ctx, key, now)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Len(t, got.Items, 1)
	require.Equal(t, "b", got.Items[0].ID)

	// Expiry equal to now counts as expired.
	got, err = s.FindCacheEntry(ctx, key, now.Add(time.Hour))
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestCacheKeysAreDistinct(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now().UTC()
	exp := now.Add(time.Hour)

	keys := []CacheKey{
		{Identity: UserIdentity("x"), Tier: TierPersonalized},
		{Identity: EmailIdentity("x"), Tier: TierPersonalized},
		{Identity: GlobalIdentity(), Tier: TierCategory, Category: "laptops"},
		{Identity: GlobalIdentity(), Tier: TierCategory, Category: "phones"},
	}
	for i, k := range keys {
		require.NoError(t, s.UpsertCacheEntry(ctx, &RecommendationCacheEntry{
			Key: k, Items: []RecommendationItem{{ID: string(rune('a' + i))}}, ExpiresAt: exp,
		}))
	}
	for i, k := range keys {
		got, err := s.FindCacheEntry(ctx, k, now)
		require.NoError(t, err)
		require.NotNil(t, got)
		require.Equal(t, string(rune('a'+i)), got.Items[0].ID)
	}
}

func TestDeleteAndPurgeCacheEntries(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now().UTC()

	put := func(k CacheKey, exp time.Time) {
		require.NoError(t, s.UpsertCacheEntry(ctx, &RecommendationCacheEntry{Key: k, ExpiresAt: exp}))
	}
	put(CacheKey{Identity: UserIdentity("u-1"), Tier: TierPersonalized}, now.Add(time.Hour))
	put(CacheKey{Identity: EmailIdentity("a@b.c"), Tier: TierPersonalized}, now.Add(time.Hour))
	put(CacheKey{Identity: GlobalIdentity(), Tier: TierTrending}, now.Add(time.Hour))
	put(CacheKey{Identity: AnonymousIdentity(), Tier: TierDefault}, now.Add(-time.Minute))

	n, err := s.DeleteCacheEntries(ctx, UserIdentity("u-1"), EmailIdentity("a@b.c"))
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	n, err = s.DeleteCacheEntries(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	n, err = s.PurgeExpiredCacheEntries(ctx, now)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	got, err := s.FindCacheEntry(ctx, CacheKey{Identity: GlobalIdentity(), Tier: TierTrending}, now)
	require.NoError(t, err)
	require.NotNil(t, got)
}

func TestClickLogs(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	for i, user := range []string{"u-1", "u-2", "u-1", ""} {
		require.NoError(t, s.InsertClickLog(ctx, &ClickLogEntry{
			OriginalURL: "https://shop.example/p",
			Token:       "/redirect/t",
			Params:      map[string]string{"title": "Item"},
			RedirectURL: "https://shop.example/p?title=Item",
			UserID:      user,
			CreatedAt:   base.Add(time.Duration(i) * time.Hour),
		}))
	}

	mine, err := s.FindClickLogsByUser(ctx, "u-1", 20)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	require.True(t, mine[0].CreatedAt.After(mine[1].CreatedAt))
	require.Equal(t, "Item", mine[0].Params["title"])

	recent, err := s.FindClickLogsSince(ctx, base.Add(2*time.Hour), 100)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Empty(t, recent[0].UserID)
}
