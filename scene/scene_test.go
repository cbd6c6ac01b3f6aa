// Copyright 2026 QuaternionEngine Authors. All rights reserved.

package scene

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hydrogendeuteride/QuaternionEngine-sub002/linear"
)

func TestWorldAnchoredFollowsOrigin(t *testing.T) {
	w := New()
	pos := linear.WPoint{1e9 + 5, 2, 3}
	id := w.AddWorld("station", 0, pos, linear.Q{R: 1}, linear.V3{1, 1, 1})

	w.ShiftOrigin(linear.WPoint{1e9, 0, 0})
	m, err := w.LocalMatrix(id)
	require.NoError(t, err)
	require.Equal(t, linear.V4{5, 2, 3, 1}, m[3])

	// The authoritative world position never moved.
	got, err := w.WorldPos(id)
	require.NoError(t, err)
	require.Equal(t, pos, got)
}

func TestLocalAnchoredShiftedByDelta(t *testing.T) {
	w := New()
	var m linear.M4
	m.Translate(10, 0, 0)
	id := w.AddLocal("debris", 0, &m)

	w.ShiftOrigin(linear.WPoint{4, 0, 0})
	got, err := w.LocalMatrix(id)
	require.NoError(t, err)
	require.Equal(t, linear.V4{6, 0, 0, 1}, got[3])

	// World position is preserved across the shift.
	wp, err := w.WorldPos(id)
	require.NoError(t, err)
	require.Equal(t, linear.WPoint{10, 0, 0}, wp)
}

func TestFindAndRemove(t *testing.T) {
	w := New()
	id := w.AddWorld("probe", 2, linear.WPoint{}, linear.Q{R: 1}, linear.V3{1, 1, 1})
	got, ok := w.Find("probe")
	require.True(t, ok)
	require.Equal(t, id, got)

	w.Remove(id)
	_, ok = w.Find("probe")
	require.False(t, ok)
	require.Zero(t, w.Len())

	_, err := w.LocalMatrix(id)
	require.ErrorIs(t, err, errNoInstance)
}
