// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package favorites

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFavoritesLifecycle(t *testing.T) {
	ctx := context.Background()
	s, err := OpenInMemory()
	require.NoError(t, err)
	defer s.Close()

	ids, err := s.Get(ctx, "udn1")
	require.NoError(t, err)
	assert.Empty(t, ids)

	require.NoError(t, s.Set(ctx, "udn1", []string{"7", "3", "7", "", "9"}))
	require.NoError(t, s.Add(ctx, "udn1", "3"))
	require.NoError(t, s.Add(ctx, "udn1", "12"))
	require.NoError(t, s.Remove(ctx, "udn1", "9"))

	ids, err = s.Get(ctx, "udn1")
	require.NoError(t, err)
	assert.Equal(t, []string{"7", "3", "12"}, ids)

	other, err := s.Get(ctx, "udn2")
	require.NoError(t, err)
	assert.Empty(t, other)

	require.NoError(t, s.Set(ctx, "udn1", nil))
	ids, err = s.Get(ctx, "udn1")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestFavoritesPersist(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.Add(ctx, "udn1", "42"))
	require.NoError(t, s.Close())

	s, err = Open(dir)
	require.NoError(t, err)
	defer s.Close()
	ids, err := s.Get(ctx, "udn1")
	require.NoError(t, err)
	assert.Equal(t, []string{"42"}, ids)
}
