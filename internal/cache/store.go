// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package cache persists browse results per (server, parent) and serves EPG
// range queries from an index over the cached programs.
package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/ManuGH/epgcache/internal/content"
	xglog "github.com/ManuGH/epgcache/internal/log"
	"github.com/ManuGH/epgcache/internal/metrics"
	"github.com/ManuGH/epgcache/internal/persistence/sqlite"
)

var migrations = []string{
	`
	CREATE TABLE IF NOT EXISTS nodes (
		server_id TEXT NOT NULL,
		parent_id TEXT NOT NULL,
		node_id TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		declared_class TEXT NOT NULL,
		serialized_object TEXT NOT NULL,
		ordinal INTEGER NOT NULL,
		start_ms INTEGER,
		end_ms INTEGER,
		channel_id TEXT,
		PRIMARY KEY (server_id, parent_id, node_id)
	);

	CREATE INDEX IF NOT EXISTS idx_nodes_epg ON nodes(server_id, channel_id, start_ms, end_ms);
	CREATE INDEX IF NOT EXISTS idx_nodes_parent_ordinal ON nodes(server_id, parent_id, ordinal);
	`,
}

// Stats summarizes the cache contents.
type Stats struct {
	Rows     int64 `json:"rows"`
	Keys     int64 `json:"keys"`
	Programs int64 `json:"programs"`
	Servers  int64 `json:"servers"`
}

// Store is the sqlite-backed cache. Readers never observe a partial
// replacement of a key, and writers of the same key are serialized.
type Store struct {
	db       *sql.DB
	registry *content.Registry
	logger   zerolog.Logger
	locks    [lockStripes]sync.Mutex
}

// lockStripes is the number of mutexes writers of a key hash onto.
const lockStripes = 64

// Open opens (or creates) the cache database at path.
func Open(ctx context.Context, path string, registry *content.Registry) (*Store, error) {
	db, err := sqlite.Open(path, sqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}
	s, err := New(ctx, db, registry)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open database and applies the schema.
func New(ctx context.Context, db *sql.DB, registry *content.Registry) (*Store, error) {
	if registry == nil {
		registry = content.NewRegistry()
	}
	if err := sqlite.Migrate(ctx, db, migrations); err != nil {
		return nil, fmt.Errorf("cache: migrate: %w", err)
	}
	return &Store{
		db:       db,
		registry: registry,
		logger:   xglog.WithComponent("cache"),
	}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) keyLock(udn, parentID string) *sync.Mutex {
	return &s.locks[lockStripe(udn, parentID)]
}

func lockStripe(udn, parentID string) uint64 {
	return xxhash.Sum64String(udn+"\x00"+parentID) % lockStripes
}

// GetChildren returns the children cached under (udn, parentID) in their
// original order. The boolean is false when nothing is cached; read errors
// are logged and reported as a miss.
func (s *Store) GetChildren(ctx context.Context, udn, parentID string) ([]content.Object, bool) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT serialized_object FROM nodes
		WHERE server_id = ? AND parent_id = ?
		ORDER BY ordinal`, udn, parentID)
	if err != nil {
		s.readFailed(ctx, err, udn, parentID)
		return nil, false
	}
	defer rows.Close()

	objs, err := s.decodeRows(ctx, rows)
	if err != nil {
		s.readFailed(ctx, err, udn, parentID)
		return nil, false
	}
	if len(objs) == 0 {
		metrics.RecordCacheLookup("miss")
		return nil, false
	}
	metrics.RecordCacheLookup("hit")
	return objs, true
}

func (s *Store) readFailed(ctx context.Context, err error, udn, parentID string) {
	metrics.RecordCacheLookup("error")
	l := xglog.WithContext(ctx, s.logger)
	l.Warn().Err(err).
		Str(xglog.FieldEvent, "cache.read_failed").
		Str(xglog.FieldUDN, udn).
		Str(xglog.FieldParentID, parentID).
		Msg("cache read failed, treating as miss")
}

// decodeRows turns serialized rows into objects, skipping rows that no longer decode.
func (s *Store) decodeRows(ctx context.Context, rows *sql.Rows) ([]content.Object, error) {
	var objs []content.Object
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		obj, err := s.registry.Unmarshal([]byte(data))
		if err != nil {
			l := xglog.WithContext(ctx, s.logger)
			l.Warn().Err(err).Str(xglog.FieldEvent, "cache.decode_failed").Msg("skipping undecodable cache row")
			continue
		}
		objs = append(objs, obj)
	}
	return objs, rows.Err()
}

// Put replaces everything cached under (udn, parentID) with children, in
// order. Duplicate ids keep their first occurrence. The delete and inserts
// commit as one transaction.
func (s *Store) Put(ctx context.Context, udn, parentID string, children []content.Object) error {
	mu := s.keyLock(udn, parentID)
	mu.Lock()
	defer mu.Unlock()

	n, err := s.put(ctx, udn, parentID, children)
	if err != nil {
		metrics.RecordCacheWrite(false, 0)
		l := xglog.WithContext(ctx, s.logger)
		l.Error().Err(err).
			Str(xglog.FieldEvent, "cache.write_failed").
			Str(xglog.FieldUDN, udn).
			Str(xglog.FieldParentID, parentID).
			Msg("cache write dropped")
		return err
	}
	metrics.RecordCacheWrite(true, n)
	s.logger.Debug().
		Str(xglog.FieldEvent, "cache.write").
		Str(xglog.FieldUDN, udn).
		Str(xglog.FieldParentID, parentID).
		Int(xglog.FieldCount, n).
		Msg("cache key replaced")
	return nil
}

func (s *Store) put(ctx context.Context, udn, parentID string, children []content.Object) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM nodes WHERE server_id = ? AND parent_id = ?`, udn, parentID); err != nil {
		return 0, fmt.Errorf("delete: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO nodes (server_id, parent_id, node_id, title, declared_class, serialized_object, ordinal, start_ms, end_ms, channel_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	seen := make(map[string]struct{}, len(children))
	ordinal := 0
	for _, obj := range children {
		if _, dup := seen[obj.GetID()]; dup {
			continue
		}
		seen[obj.GetID()] = struct{}{}

		data, err := content.Marshal(obj)
		if err != nil {
			return 0, fmt.Errorf("encode %s: %w", obj.GetID(), err)
		}

		var startMs, endMs sql.NullInt64
		var channelID sql.NullString
		if p, ok := obj.(*content.Program); ok {
			if p.Scheduled() {
				startMs = sql.NullInt64{Int64: p.Start.UnixMilli(), Valid: true}
				endMs = sql.NullInt64{Int64: p.End.UnixMilli(), Valid: true}
			}
			channelID = sql.NullString{String: p.ChannelID, Valid: p.ChannelID != ""}
		}

		if _, err := stmt.ExecContext(ctx, udn, parentID, obj.GetID(), obj.GetTitle(), obj.GetClass(),
			string(data), ordinal, startMs, endMs, channelID); err != nil {
			return 0, fmt.Errorf("insert %s: %w", obj.GetID(), err)
		}
		ordinal++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return ordinal, nil
}

// SearchByTitle returns cached objects under any parent starting with
// parentPrefix whose title contains text, ignoring case.
func (s *Store) SearchByTitle(ctx context.Context, udn, parentPrefix, text string) []content.Object {
	rows, err := s.db.QueryContext(ctx, `
		SELECT title, serialized_object FROM nodes
		WHERE server_id = ? AND substr(parent_id, 1, length(?)) = ?
		ORDER BY parent_id, ordinal`, udn, parentPrefix, parentPrefix)
	if err != nil {
		s.readFailed(ctx, err, udn, parentPrefix)
		return nil
	}
	defer rows.Close()

	needle := fold(text)
	var out []content.Object
	for rows.Next() {
		var title, data string
		if err := rows.Scan(&title, &data); err != nil {
			s.readFailed(ctx, err, udn, parentPrefix)
			return nil
		}
		if !strings.Contains(fold(title), needle) {
			continue
		}
		obj, err := s.registry.Unmarshal([]byte(data))
		if err != nil {
			continue
		}
		out = append(out, obj)
	}
	if err := rows.Err(); err != nil {
		s.readFailed(ctx, err, udn, parentPrefix)
		return nil
	}
	return out
}

// fold normalizes s for case-insensitive comparison.
func fold(s string) string {
	return cases.Fold().String(norm.NFC.String(s))
}

// SearchEPG returns cached programs on channelIDs intersecting [start, end),
// ordered by channel and start time. An empty channelIDs means every channel.
// A program cached under several day containers is returned once.
func (s *Store) SearchEPG(ctx context.Context, udn string, channelIDs []string, start, end time.Time) []*content.Program {
	began := time.Now()
	defer func() { metrics.ObserveEPGSearch(time.Since(began)) }()

	query, args := epgQuery(udn, channelIDs, start, end)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.readFailed(ctx, err, udn, content.EPGPath)
		return nil
	}
	defer rows.Close()

	seen := make(map[string]struct{})
	var out []*content.Program
	for rows.Next() {
		var channelID, nodeID, data string
		if err := rows.Scan(&channelID, &nodeID, &data); err != nil {
			s.readFailed(ctx, err, udn, content.EPGPath)
			return nil
		}
		key := channelID + "\x00" + nodeID
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		obj, err := s.registry.Unmarshal([]byte(data))
		if err != nil {
			continue
		}
		if p, ok := obj.(*content.Program); ok {
			out = append(out, p)
		}
	}
	if err := rows.Err(); err != nil {
		s.readFailed(ctx, err, udn, content.EPGPath)
		return nil
	}
	return out
}

func epgQuery(udn string, channelIDs []string, start, end time.Time) (string, []any) {
	query := `
		SELECT channel_id, node_id, serialized_object FROM nodes
		WHERE server_id = ? AND channel_id IS NOT NULL`
	args := []any{udn}
	if len(channelIDs) > 0 {
		query += ` AND channel_id IN (?` + strings.Repeat(`, ?`, len(channelIDs)-1) + `)`
		for _, id := range channelIDs {
			args = append(args, id)
		}
	}
	query += ` AND start_ms < ? AND end_ms > ? ORDER BY channel_id, start_ms, node_id`
	args = append(args, end.UnixMilli(), start.UnixMilli())
	return query, args
}

// Reset removes every cached row.
func (s *Store) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM nodes`); err != nil {
		return fmt.Errorf("cache: reset: %w", err)
	}
	s.logger.Info().Str(xglog.FieldEvent, "cache.reset").Msg("cache cleared")
	return nil
}

// ResetServer removes every row cached for udn.
func (s *Store) ResetServer(ctx context.Context, udn string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM nodes WHERE server_id = ?`, udn); err != nil {
		return fmt.Errorf("cache: reset %s: %w", udn, err)
	}
	return nil
}

// Stats returns row counts.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(DISTINCT server_id || '|' || parent_id),
			COUNT(start_ms),
			COUNT(DISTINCT server_id)
		FROM nodes`).Scan(&st.Rows, &st.Keys, &st.Programs, &st.Servers)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return Stats{}, fmt.Errorf("cache: stats: %w", err)
	}
	return st, nil
}
