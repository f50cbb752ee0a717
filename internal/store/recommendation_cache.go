package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// FindCacheEntry returns the entry for key if it expires strictly after now.
// A missing or expired entry is reported as (nil, nil).
func (s *SQLiteStore) FindCacheEntry(ctx context.Context, key CacheKey, now time.Time) (*RecommendationCacheEntry, error) {
	var itemsJSON string
	var expiresAt, updatedAt int64
	err := s.db.QueryRowContext(ctx, `
        SELECT items_json, expires_at, updated_at FROM recommendation_cache
        WHERE identity_kind = ? AND identity = ? AND tier = ? AND category = ? AND expires_at > ?`,
		key.Identity.Kind, key.Identity.Value, key.Tier, key.Category, now.UnixMilli(),
	).Scan(&itemsJSON, &expiresAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query cache entry %s/%s: %w", key.Identity, key.Tier, err)
	}

	entry := &RecommendationCacheEntry{
		Key:       key,
		ExpiresAt: time.UnixMilli(expiresAt).UTC(),
		UpdatedAt: time.UnixMilli(updatedAt).UTC(),
	}
	if err := json.Unmarshal([]byte(itemsJSON), &entry.Items); err != nil {
		return nil, fmt.Errorf("failed to decode cached items: %w", err)
	}
	return entry, nil
}

// UpsertCacheEntry inserts or replaces the entry addressed by entry.Key.
func (s *SQLiteStore) UpsertCacheEntry(ctx context.Context, entry *RecommendationCacheEntry) error {
	items := entry.Items
	if items == nil {
		items = []RecommendationItem{}
	}
	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to encode cache items: %w", err)
	}
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = s.now()
	}

	k := entry.Key
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO recommendation_cache (identity_kind, identity, tier, category, items_json, expires_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT (identity_kind, identity, tier, category) DO UPDATE SET
            items_json = excluded.items_json,
            expires_at = excluded.expires_at,
            updated_at = excluded.updated_at`,
		k.Identity.Kind, k.Identity.Value, k.Tier, k.Category, string(itemsJSON),
		entry.ExpiresAt.UnixMilli(), entry.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to upsert cache entry %s/%s: %w", k.Identity, k.Tier, err)
	}
	return nil
}

// DeleteCacheEntries removes every entry, of any tier, owned by one of the
// given identities.
func (s *SQLiteStore) DeleteCacheEntries(ctx context.Context, identities ...Identity) (int64, error) {
	if len(identities) == 0 {
		return 0, nil
	}
	clauses := make([]string, 0, len(identities))
	args := make([]any, 0, 2*len(identities))
	for _, id := range identities {
		clauses = append(clauses, "(identity_kind = ? AND identity = ?)")
		args = append(args, id.Kind, id.Value)
	}

	res, err := s.db.ExecContext(ctx, "DELETE FROM recommendation_cache WHERE "+strings.Join(clauses, " OR "), args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete cache entries: %w", err)
	}
	return res.RowsAffected()
}

// PurgeExpiredCacheEntries drops entries whose expiry is at or before now.
func (s *SQLiteStore) PurgeExpiredCacheEntries(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM recommendation_cache WHERE expires_at <= ?", now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired cache entries: %w", err)
	}
	return res.RowsAffected()
}
