package zonegraph

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGraph(t *testing.T) *Graph {
	t.Helper()
	g := New()
	require.NoError(t, g.AddZone("A", "Downtown", 2, decimal.NewFromInt(5)))
	require.NoError(t, g.AddZone("B", "Mall", 1, decimal.NewFromInt(4)))
	require.NoError(t, g.AddZone("C", "Office", 0, decimal.NewFromInt(6)))
	return g
}

func TestAddZoneValidation(t *testing.T) {
	g := newTestGraph(t)

	assert.ErrorIs(t, g.AddZone("A", "dup", 1, decimal.Zero), ErrZoneExists)
	assert.ErrorIs(t, g.AddZone("", "x", 1, decimal.Zero), ErrInvalidZone)
	assert.ErrorIs(t, g.AddZone("D", "x", -1, decimal.Zero), ErrInvalidZone)
	assert.ErrorIs(t, g.AddZone("D", "x", 1, decimal.NewFromInt(-1)), ErrInvalidZone)
	assert.False(t, g.Has("D"))

	z, err := g.Zone("A")
	require.NoError(t, err)
	assert.Equal(t, 2, z.Capacity)
	assert.Equal(t, 2, z.Free)
	assert.True(t, z.HourlyRate.Equal(decimal.NewFromInt(5)))
}

func TestConnect(t *testing.T) {
	g := newTestGraph(t)

	require.NoError(t, g.Connect("A", "B", 500, 0))
	require.NoError(t, g.Connect("A", "C", 800, 2.0))

	n, err := g.Neighbors("A")
	require.NoError(t, err)
	require.Len(t, n, 2)
	assert.Equal(t, Connection{From: "A", To: "B", Distance: 500, Penalty: DefaultPenalty, Active: true}, n[0])
	assert.Equal(t, "C", n[1].To)
	assert.Equal(t, 2.0, n[1].Penalty)

	// Directed: B has no edge back.
	n, err = g.Neighbors("B")
	require.NoError(t, err)
	assert.Empty(t, n)

	// Reconnecting replaces in place.
	require.NoError(t, g.Connect("A", "B", 100, 0))
	n, _ = g.Neighbors("A")
	require.Len(t, n, 2)
	assert.Equal(t, 100, n[0].Distance)
}

func TestConnectErrors(t *testing.T) {
	g := newTestGraph(t)

	assert.ErrorIs(t, g.Connect("A", "Z", 1, 0), ErrZoneNotFound)
	assert.ErrorIs(t, g.Connect("Z", "A", 1, 0), ErrZoneNotFound)
	assert.ErrorIs(t, g.Connect("A", "B", -1, 0), ErrInvalidConnection)
	assert.ErrorIs(t, g.Connect("A", "B", 1, 1.0), ErrInvalidConnection)
	assert.ErrorIs(t, g.Connect("A", "A", 1, 0), ErrInvalidConnection)

	_, err := g.Neighbors("Z")
	assert.ErrorIs(t, err, ErrZoneNotFound)
	n, _ := g.Neighbors("A")
	assert.Empty(t, n)
}

func TestNeighborsReturnsCopy(t *testing.T) {
	g := newTestGraph(t)
	require.NoError(t, g.Connect("A", "B", 500, 0))

	n, _ := g.Neighbors("A")
	n[0].Distance = 1

	n, _ = g.Neighbors("A")
	assert.Equal(t, 500, n[0].Distance)
}

func TestReserveAndReleaseKeepBounds(t *testing.T) {
	g := newTestGraph(t)

	assert.ErrorIs(t, g.Release("A"), ErrZoneAtCapacity)
	require.NoError(t, g.TryReserve("A"))
	require.NoError(t, g.TryReserve("A"))
	assert.ErrorIs(t, g.TryReserve("A"), ErrZoneFull)

	z, _ := g.Zone("A")
	assert.Equal(t, 0, z.Free)

	require.NoError(t, g.Release("A"))
	z, _ = g.Zone("A")
	assert.Equal(t, 1, z.Free)

	assert.ErrorIs(t, g.TryReserve("C"), ErrZoneFull)
	assert.ErrorIs(t, g.TryReserve("nope"), ErrZoneNotFound)
	assert.ErrorIs(t, g.Release("nope"), ErrZoneNotFound)

	for _, z := range g.Zones() {
		assert.GreaterOrEqual(t, z.Free, 0)
		assert.LessOrEqual(t, z.Free, z.Capacity)
	}
}

func TestUtilization(t *testing.T) {
	g := newTestGraph(t)
	require.NoError(t, g.TryReserve("A"))

	u, err := g.Utilization("A")
	require.NoError(t, err)
	assert.InDelta(t, 50.0, u, 1e-9)

	u, err = g.Utilization("C")
	require.NoError(t, err)
	assert.Zero(t, u)

	_, err = g.Utilization("nope")
	assert.ErrorIs(t, err, ErrZoneNotFound)

	assert.Equal(t, 3, g.TotalCapacity())
	assert.Equal(t, 2, g.TotalFree())
	assert.InDelta(t, 100.0/3.0, g.OverallUtilization(), 1e-9)
}

func TestZonesSorted(t *testing.T) {
	g := New()
	for _, id := range []string{"ZC", "ZA", "ZB"} {
		require.NoError(t, g.AddZone(id, id, 1, decimal.Zero))
	}
	var ids []string
	for _, z := range g.Zones() {
		ids = append(ids, z.ID)
	}
	assert.Equal(t, []string{"ZA", "ZB", "ZC"}, ids)
}

func TestSetConnectionState(t *testing.T) {
	g := newTestGraph(t)
	require.NoError(t, g.Connect("A", "B", 500, 0))

	require.NoError(t, g.SetConnectionActive("A", "B", false))
	n, _ := g.Neighbors("A")
	assert.False(t, n[0].Active)

	require.NoError(t, g.SetConnectionDistance("A", "B", 42))
	n, _ = g.Neighbors("A")
	assert.Equal(t, 42, n[0].Distance)

	assert.ErrorIs(t, g.SetConnectionActive("B", "A", true), ErrConnectionNotFound)
	assert.ErrorIs(t, g.SetConnectionActive("A", "Z", true), ErrZoneNotFound)
	assert.ErrorIs(t, g.SetConnectionDistance("A", "B", -5), ErrInvalidConnection)

	assert.Len(t, g.Connections(), 1)
}

func TestRemoveZoneDropsItsConnections(t *testing.T) {
	g := newTestGraph(t)
	require.NoError(t, g.Connect("A", "B", 500, 0))
	require.NoError(t, g.Connect("B", "A", 500, 0))
	require.NoError(t, g.Connect("B", "C", 300, 0))
	require.NoError(t, g.Connect("A", "C", 800, 0))

	require.NoError(t, g.RemoveZone("B"))
	assert.False(t, g.Has("B"))

	edges, err := g.Neighbors("A")
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, "C", edges[0].To)
	assert.Len(t, g.Connections(), 1)

	assert.ErrorIs(t, g.RemoveZone("B"), ErrZoneNotFound)
	require.NoError(t, g.AddZone("B", "Mall again", 1, decimal.NewFromInt(4)))
	_, err = g.Neighbors("B")
	require.NoError(t, err)
}
