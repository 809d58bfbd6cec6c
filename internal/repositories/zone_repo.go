package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"nexuspark/internal/models"
	"nexuspark/internal/zonegraph"
)

var (
	// ErrConnectionNotFound is returned when an update matches no CONNECTS
	// relationship. It is the graph's sentinel so callers see one error.
	ErrConnectionNotFound = zonegraph.ErrConnectionNotFound
	// ErrZoneNotFound is returned when a new connection names a zone the
	// database does not hold.
	ErrZoneNotFound = zonegraph.ErrZoneNotFound
)

type ZoneRepository struct {
	Driver neo4j.DriverWithContext
}

func NewZoneRepository(driver neo4j.DriverWithContext) *ZoneRepository {
	return &ZoneRepository{Driver: driver}
}

func (r *ZoneRepository) FindAll(ctx context.Context) ([]models.Zone, error) {
	session := r.Driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		query := `
        MATCH (z:Zone)
        RETURN z.id AS id, z.name AS name, z.capacity AS capacity, z.hourly_rate AS hourly_rate
        ORDER BY z.id
        `
		result, err := tx.Run(ctx, query, nil)
		if err != nil {
			return nil, err
		}

		var zones []models.Zone
		for result.Next(ctx) {
			z, err := zoneFromRecord(result.Record())
			if err != nil {
				return nil, err
			}
			zones = append(zones, z)
		}
		return zones, result.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("error fetching zones: %w", err)
	}

	zones, _ := result.([]models.Zone)
	return zones, nil
}

// SetConnectionActive opens or closes the CONNECTS relationship from -> to.
func (r *ZoneRepository) SetConnectionActive(ctx context.Context, from, to string, active bool) error {
	query := `
    MATCH (:Zone {id: $from})-[rel:CONNECTS]->(:Zone {id: $to})
    SET rel.active = $active
    RETURN count(rel) AS updated
    `
	params := map[string]any{"from": from, "to": to, "active": active}
	if err := r.updateConnection(ctx, query, params); err != nil {
		return fmt.Errorf("error setting connection %s->%s active=%t: %w", from, to, active, err)
	}
	return nil
}

// UpdateConnectionDistance sets the distance of the relationship from -> to.
func (r *ZoneRepository) UpdateConnectionDistance(ctx context.Context, from, to string, distance int) error {
	query := `
    MATCH (:Zone {id: $from})-[rel:CONNECTS]->(:Zone {id: $to})
    SET rel.distance = $distance
    RETURN count(rel) AS updated
    `
	params := map[string]any{"from": from, "to": to, "distance": distance}
	if err := r.updateConnection(ctx, query, params); err != nil {
		return fmt.Errorf("error updating connection distance %s->%s: %w", from, to, err)
	}
	return nil
}

// CreateZoneAndConnections adds a Zone node and its CONNECTS relationships
// in one write transaction.
func (r *ZoneRepository) CreateZoneAndConnections(ctx context.Context, zone models.Zone, connections []models.Connection) error {
	session := r.Driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		createZoneQuery := `
		CREATE (z:Zone {id: $id, name: $name, capacity: $capacity, hourly_rate: $hourly_rate})
		`
		if _, err := tx.Run(ctx, createZoneQuery, zoneParams(zone)); err != nil {
			return nil, fmt.Errorf("error creating zone %s: %w", zone.ID, err)
		}

		createConnQuery := `
		MATCH (from:Zone {id: $from}), (to:Zone {id: $to})
		MERGE (from)-[rel:CONNECTS]->(to)
		SET rel.distance = $distance, rel.penalty = $penalty, rel.active = $active
		RETURN count(rel) AS created
		`
		for _, conn := range connections {
			for _, edge := range conn.Edges() {
				result, err := tx.Run(ctx, createConnQuery, connectionParams(conn, edge[0], edge[1]))
				if err != nil {
					return nil, fmt.Errorf("error creating connection from %s to %s: %w", edge[0], edge[1], err)
				}
				record, err := result.Single(ctx)
				if err != nil {
					return nil, err
				}
				created, err := recordInt(record, "created")
				if err != nil {
					return nil, err
				}
				if created == 0 {
					return nil, fmt.Errorf("%w: %s->%s", ErrZoneNotFound, edge[0], edge[1])
				}
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("error in CreateZoneAndConnections: %w", err)
	}
	return nil
}

func zoneParams(z models.Zone) map[string]any {
	return map[string]any{
		"id":          z.ID,
		"name":        z.Name,
		"capacity":    z.Capacity,
		"hourly_rate": z.HourlyRate,
	}
}

func connectionParams(c models.Connection, from, to string) map[string]any {
	return map[string]any{
		"from":     from,
		"to":       to,
		"distance": c.Distance,
		"penalty":  c.Penalty,
		"active":   c.IsActive(),
	}
}

func (r *ZoneRepository) updateConnection(ctx context.Context, query string, params map[string]any) error {
	session := r.Driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		record, err := result.Single(ctx)
		if err != nil {
			return nil, err
		}
		updated, err := recordInt(record, "updated")
		if err != nil {
			return nil, err
		}
		if updated == 0 {
			return nil, ErrConnectionNotFound
		}
		return nil, nil
	})
	return err
}

func zoneFromRecord(rec *neo4j.Record) (models.Zone, error) {
	var z models.Zone
	var err error
	if z.ID, err = recordString(rec, "id"); err != nil {
		return z, err
	}
	if z.ID == "" {
		return z, errors.New("zone without id")
	}
	if z.Name, err = recordString(rec, "name"); err != nil {
		return z, err
	}
	if z.Capacity, err = recordInt(rec, "capacity"); err != nil {
		return z, err
	}
	if z.HourlyRate, err = recordFloat(rec, "hourly_rate"); err != nil {
		return z, err
	}
	return z, nil
}
