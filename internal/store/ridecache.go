package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"carebot/internal/domain"
)

const (
	// latestRideID is the fixed key of the most-recent-lookup singleton.
	latestRideID = "latest"

	// RideCacheFreshness is how long a cached route lookup may be reused.
	RideCacheFreshness = 10 * time.Minute

	// RideCacheRetention is the age past which cache rows are pruned on write.
	RideCacheRetention = 60 * time.Minute
)

// RouteKey normalizes a pickup/destination pair into a cache key:
// lowercased, whitespace collapsed, joined with "->".
func RouteKey(pickup, destination string) string {
	norm := func(s string) string {
		return strings.Join(strings.Fields(strings.ToLower(s)), " ")
	}
	return norm(pickup) + "->" + norm(destination)
}

// SaveLatestRideLookup replaces the most-recent-lookup singleton.
func (s *Store) SaveLatestRideLookup(ctx context.Context, lookup domain.RideLookup) error {
	data, err := json.Marshal(lookup)
	if err != nil {
		return fmt.Errorf("marshal ride lookup: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO ride_lookups (id, data, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET data=excluded.data, created_at=excluded.created_at`,
		latestRideID, string(data), time.Now(),
	)
	return err
}

// LatestRideLookup returns the most recent saved lookup, or nil when no
// ride has been looked up yet.
func (s *Store) LatestRideLookup(ctx context.Context) (*domain.RideLookup, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM ride_lookups WHERE id = ?`, latestRideID,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var lookup domain.RideLookup
	if err := json.Unmarshal([]byte(data), &lookup); err != nil {
		return nil, fmt.Errorf("unmarshal ride lookup: %w", err)
	}
	return &lookup, nil
}

// CacheRideLookup appends a cache row for the route and prunes rows older
// than the retention window. Duplicate rows for the same route within the
// freshness window are fine; reads pick the newest.
func (s *Store) CacheRideLookup(ctx context.Context, lookup domain.RideLookup) error {
	data, err := json.Marshal(lookup)
	if err != nil {
		return fmt.Errorf("marshal ride lookup: %w", err)
	}
	key := RouteKey(lookup.Pickup, lookup.Destination)

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO ride_lookup_cache (route_key, data, created_at) VALUES (?, ?, ?)`,
		key, string(data), time.Now(),
	); err != nil {
		return err
	}

	cutoff := time.Now().Add(-RideCacheRetention)
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM ride_lookup_cache WHERE created_at < ?`, cutoff,
	); err != nil {
		s.logger.Warn("ride cache prune failed", "err", err)
	}
	return nil
}

// CachedRideLookup returns the newest cache row for the route if it is
// within the freshness window, else nil.
func (s *Store) CachedRideLookup(ctx context.Context, pickup, destination string) (*domain.RideLookup, error) {
	key := RouteKey(pickup, destination)
	cutoff := time.Now().Add(-RideCacheFreshness)

	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM ride_lookup_cache
		 WHERE route_key = ? AND created_at >= ?
		 ORDER BY created_at DESC LIMIT 1`, key, cutoff,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var lookup domain.RideLookup
	if err := json.Unmarshal([]byte(data), &lookup); err != nil {
		return nil, fmt.Errorf("unmarshal cached ride lookup: %w", err)
	}
	return &lookup, nil
}
