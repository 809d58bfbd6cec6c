package repositories

import (
	"errors"
	"fmt"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexuspark/internal/models"
	"nexuspark/internal/services"
)

var _ services.ConnectionStore = (*ZoneRepository)(nil)

func record(kv ...any) *neo4j.Record {
	rec := &neo4j.Record{}
	for i := 0; i < len(kv); i += 2 {
		rec.Keys = append(rec.Keys, kv[i].(string))
		rec.Values = append(rec.Values, kv[i+1])
	}
	return rec
}

func TestZoneFromRecord(t *testing.T) {
	z, err := zoneFromRecord(record("id", "ZA", "name", "Downtown", "capacity", int64(20), "hourly_rate", 5.0))
	require.NoError(t, err)
	assert.Equal(t, models.Zone{ID: "ZA", Name: "Downtown", Capacity: 20, HourlyRate: 5}, z)

	z, err = zoneFromRecord(record("id", "ZB", "name", nil, "capacity", int64(3), "hourly_rate", int64(4)))
	require.NoError(t, err)
	assert.Equal(t, 4.0, z.HourlyRate)

	_, err = zoneFromRecord(record("id", nil))
	assert.Error(t, err)
	_, err = zoneFromRecord(record("id", "ZC", "capacity", "lots"))
	assert.ErrorContains(t, err, "capacity")
}

func TestConnectionFromRecord(t *testing.T) {
	c, err := connectionFromRecord(record("source", "ZA", "target", "ZB", "distance", int64(500), "penalty", nil, "active", nil))
	require.NoError(t, err)
	assert.Equal(t, "ZA", c.Source)
	assert.Equal(t, 500, c.Distance)
	assert.Zero(t, c.Penalty)
	assert.True(t, c.IsActive())
	assert.False(t, c.IsBidirectional())

	c, err = connectionFromRecord(record("source", "ZA", "target", "ZB", "distance", int64(1), "penalty", 2.0, "active", false))
	require.NoError(t, err)
	assert.False(t, c.IsActive())
	assert.Equal(t, 2.0, c.Penalty)

	_, err = connectionFromRecord(record("source", "ZA", "target", "ZB", "active", "yes"))
	assert.ErrorContains(t, err, "active")
}

func TestVehicleFromRecord(t *testing.T) {
	v, err := vehicleFromRecord(record("id", "BIKE001", "category", "bike", "preferred_zone", "ZB"))
	require.NoError(t, err)
	assert.Equal(t, models.Vehicle{ID: "BIKE001", PreferredZone: "ZB", Category: models.CategoryBike}, v)

	v, err = vehicleFromRecord(record("id", "V", "category", nil, "preferred_zone", nil))
	require.NoError(t, err)
	assert.Equal(t, models.CategoryCar, v.Category)
	assert.Empty(t, v.PreferredZone)

	_, err = vehicleFromRecord(record("id", "V", "category", "BOAT"))
	assert.Error(t, err)
}

func TestZoneParamsReadBack(t *testing.T) {
	in := models.Zone{ID: "ZX", Name: "Airport", Capacity: 12, HourlyRate: 7.5}
	p := zoneParams(in)

	z, err := zoneFromRecord(record("id", p["id"], "name", p["name"], "capacity", int64(p["capacity"].(int)), "hourly_rate", p["hourly_rate"]))
	require.NoError(t, err)
	assert.Equal(t, in, z)
}

func TestConnectionParamsPerEdge(t *testing.T) {
	closed := false
	c := models.Connection{Source: "ZX", Target: "ZA", Distance: 300, Penalty: 2, Direction: models.DirectionBi, Active: &closed}

	var got []map[string]any
	for _, e := range c.Edges() {
		got = append(got, connectionParams(c, e[0], e[1]))
	}
	assert.Equal(t, []map[string]any{
		{"from": "ZX", "to": "ZA", "distance": 300, "penalty": 2.0, "active": false},
		{"from": "ZA", "to": "ZX", "distance": 300, "penalty": 2.0, "active": false},
	}, got)
}

func TestNotFoundErrorsMatchService(t *testing.T) {
	err := fmt.Errorf("error setting connection ZA->ZB active=false: %w", ErrConnectionNotFound)
	assert.True(t, errors.Is(err, services.ErrConnectionNotFound))
	assert.True(t, errors.Is(ErrZoneNotFound, services.ErrZoneNotFound))
}
