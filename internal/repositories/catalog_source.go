package repositories

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"nexuspark/internal/catalog"
	"nexuspark/internal/models"
)

// CatalogSource reads the whole catalog from the graph database.
type CatalogSource struct {
	Zones    *ZoneRepository
	Routes   *RouteRepository
	Vehicles *VehicleRepository
}

func NewCatalogSource(driver neo4j.DriverWithContext) *CatalogSource {
	return &CatalogSource{
		Zones:    NewZoneRepository(driver),
		Routes:   NewRouteRepository(driver),
		Vehicles: NewVehicleRepository(driver),
	}
}

var _ catalog.Source = (*CatalogSource)(nil)

func (s *CatalogSource) Load(ctx context.Context) (*models.Catalog, error) {
	zones, err := s.Zones.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	connections, err := s.Routes.FindConnections(ctx)
	if err != nil {
		return nil, err
	}
	vehicles, err := s.Vehicles.FindAll(ctx)
	if err != nil {
		return nil, err
	}

	c := &models.Catalog{Zones: zones, Connections: connections, Vehicles: vehicles}
	if err := catalog.Validate(c); err != nil {
		return nil, err
	}
	return c, nil
}
