// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package favorites keeps the ordered favorite channels of each server.
package favorites

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/dgraph-io/badger/v4"
)

// Store is a badger-backed favorites list.
//   - key = "fav:<udn>" (JSON array of channel ids)
type Store struct {
	db *badger.DB
}

// Open opens or creates the store at dir.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("favorites: open %s: %w", dir, err)
	}
	return &Store{db: db}, nil
}

// OpenInMemory opens a store that is never written to disk.
func OpenInMemory() (*Store, error) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("favorites: open in memory: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error { return s.db.Close() }

func key(udn string) []byte { return []byte("fav:" + udn) }

func get(txn *badger.Txn, udn string) ([]string, error) {
	item, err := txn.Get(key(udn))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ids []string
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &ids)
	})
	return ids, err
}

func set(txn *badger.Txn, udn string, ids []string) error {
	if len(ids) == 0 {
		return txn.Delete(key(udn))
	}
	buf, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return txn.Set(key(udn), buf)
}

// Get returns the favorite channel ids of udn in order.
func (s *Store) Get(_ context.Context, udn string) ([]string, error) {
	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		ids, err = get(txn, udn)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("favorites: get %s: %w", udn, err)
	}
	return ids, nil
}

// Set replaces the list. Duplicates keep their first position.
func (s *Store) Set(_ context.Context, udn string, ids []string) error {
	unique := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" && !slices.Contains(unique, id) {
			unique = append(unique, id)
		}
	}
	return s.update(udn, func([]string) []string { return unique })
}

// Add appends channelID unless it is already a favorite.
func (s *Store) Add(_ context.Context, udn, channelID string) error {
	return s.update(udn, func(ids []string) []string {
		if slices.Contains(ids, channelID) {
			return ids
		}
		return append(ids, channelID)
	})
}

// Remove drops channelID from the list.
func (s *Store) Remove(_ context.Context, udn, channelID string) error {
	return s.update(udn, func(ids []string) []string {
		return slices.DeleteFunc(ids, func(id string) bool { return id == channelID })
	})
}

func (s *Store) update(udn string, fn func([]string) []string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		ids, err := get(txn, udn)
		if err != nil {
			return err
		}
		return set(txn, udn, fn(ids))
	})
	if err != nil {
		return fmt.Errorf("favorites: update %s: %w", udn, err)
	}
	return nil
}
