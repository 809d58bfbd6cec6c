package repositories

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"nexuspark/internal/models"
)

type VehicleRepository struct {
	Driver neo4j.DriverWithContext
}

func NewVehicleRepository(driver neo4j.DriverWithContext) *VehicleRepository {
	return &VehicleRepository{Driver: driver}
}

// FindAll returns every Vehicle node with the zone it PREFERS, if any.
func (r *VehicleRepository) FindAll(ctx context.Context) ([]models.Vehicle, error) {
	session := r.Driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		query := `
		MATCH (v:Vehicle)
		OPTIONAL MATCH (v)-[:PREFERS]->(z:Zone)
		RETURN v.id AS id, v.category AS category, z.id AS preferred_zone
		ORDER BY v.id
		`
		result, err := tx.Run(ctx, query, nil)
		if err != nil {
			return nil, err
		}

		var vehicles []models.Vehicle
		for result.Next(ctx) {
			v, err := vehicleFromRecord(result.Record())
			if err != nil {
				return nil, err
			}
			vehicles = append(vehicles, v)
		}
		return vehicles, result.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("error fetching vehicles: %w", err)
	}

	vehicles, _ := result.([]models.Vehicle)
	return vehicles, nil
}

func vehicleFromRecord(rec *neo4j.Record) (models.Vehicle, error) {
	var v models.Vehicle
	var err error
	if v.ID, err = recordString(rec, "id"); err != nil {
		return v, err
	}
	category, err := recordString(rec, "category")
	if err != nil {
		return v, err
	}
	if v.Category, err = models.ParseCategory(category); err != nil {
		return v, fmt.Errorf("vehicle %s: %w", v.ID, err)
	}
	if v.PreferredZone, err = recordString(rec, "preferred_zone"); err != nil {
		return v, err
	}
	return v, nil
}
