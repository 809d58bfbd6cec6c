package repositories

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"nexuspark/internal/models"
)

// RouteRepository reads the CONNECTS relationships between zones.
type RouteRepository struct {
	Driver neo4j.DriverWithContext
}

func NewRouteRepository(driver neo4j.DriverWithContext) *RouteRepository {
	return &RouteRepository{Driver: driver}
}

// FindConnections returns every stored connection. Relationships are
// directed, so each one maps to a one-way catalog connection.
func (r *RouteRepository) FindConnections(ctx context.Context) ([]models.Connection, error) {
	session := r.Driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		query := `
		MATCH (s:Zone)-[r:CONNECTS]->(t:Zone)
		RETURN s.id AS source, t.id AS target, r.distance AS distance, r.penalty AS penalty, r.active AS active
		ORDER BY s.id, t.id
		`
		result, err := tx.Run(ctx, query, nil)
		if err != nil {
			return nil, fmt.Errorf("error running query for connections: %w", err)
		}

		var connections []models.Connection
		for result.Next(ctx) {
			c, err := connectionFromRecord(result.Record())
			if err != nil {
				return nil, err
			}
			connections = append(connections, c)
		}
		return connections, result.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("error fetching connections: %w", err)
	}

	connections, _ := result.([]models.Connection)
	return connections, nil
}

func connectionFromRecord(rec *neo4j.Record) (models.Connection, error) {
	c := models.Connection{Direction: models.DirectionUni}
	var err error
	if c.Source, err = recordString(rec, "source"); err != nil {
		return c, err
	}
	if c.Target, err = recordString(rec, "target"); err != nil {
		return c, err
	}
	if c.Distance, err = recordInt(rec, "distance"); err != nil {
		return c, err
	}
	if c.Penalty, err = recordFloat(rec, "penalty"); err != nil {
		return c, err
	}
	active, err := recordBool(rec, "active", true)
	if err != nil {
		return c, err
	}
	c.Active = &active
	return c, nil
}
