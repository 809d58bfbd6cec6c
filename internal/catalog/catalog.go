// Package catalog loads the static zone, connection and vehicle data the
// parking service starts from: the built-in demo catalog, a YAML file, or a
// graph database (see repositories.CatalogSource).
package catalog

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"nexuspark/internal/models"
)

//go:embed default.yaml
var defaultYAML []byte

var ErrInvalidCatalog = errors.New("catalog: invalid")

// Source produces a catalog.
type Source interface {
	Load(ctx context.Context) (*models.Catalog, error)
}

// DefaultSource serves the built-in five zone demo catalog.
type DefaultSource struct{}

func (DefaultSource) Load(context.Context) (*models.Catalog, error) { return Default() }

// FileSource reads a YAML catalog from Path.
type FileSource struct {
	Path string
}

func (f FileSource) Load(context.Context) (*models.Catalog, error) { return LoadFile(f.Path) }

// Default returns a fresh copy of the built-in catalog.
func Default() (*models.Catalog, error) {
	return Parse(bytes.NewReader(defaultYAML))
}

func LoadFile(path string) (*models.Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening catalog: %w", err)
	}
	defer f.Close()

	c, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Parse decodes and validates a YAML catalog. Unknown keys are rejected.
func Parse(r io.Reader) (*models.Catalog, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var c models.Catalog
	if err := dec.Decode(&c); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", ErrInvalidCatalog)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	if err := Validate(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate reports every problem in c at once.
func Validate(c *models.Catalog) error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidCatalog}, args...)...))
	}

	zones := make(map[string]bool, len(c.Zones))
	for i, z := range c.Zones {
		switch {
		case z.ID == "":
			bad("zone %d has no id", i)
		case zones[z.ID]:
			bad("duplicate zone %s", z.ID)
		}
		if z.Capacity < 0 {
			bad("zone %s capacity %d", z.ID, z.Capacity)
		}
		if z.HourlyRate < 0 {
			bad("zone %s hourly rate %.2f", z.ID, z.HourlyRate)
		}
		zones[z.ID] = true
	}

	for _, conn := range c.Connections {
		name := conn.Source + "->" + conn.Target
		if !zones[conn.Source] || !zones[conn.Target] {
			bad("connection %s references an unknown zone", name)
		}
		if conn.Source == conn.Target {
			bad("connection %s is a self loop", name)
		}
		if conn.Distance < 0 {
			bad("connection %s distance %d", name, conn.Distance)
		}
		if conn.Penalty != 0 && conn.Penalty <= 1 {
			bad("connection %s penalty %.2f must be > 1", name, conn.Penalty)
		}
		switch conn.Direction {
		case "", models.DirectionUni, models.DirectionBi:
		default:
			bad("connection %s direction %q", name, conn.Direction)
		}
	}

	vehicles := make(map[string]bool, len(c.Vehicles))
	for i, v := range c.Vehicles {
		switch {
		case v.ID == "":
			bad("vehicle %d has no id", i)
		case vehicles[v.ID]:
			bad("duplicate vehicle %s", v.ID)
		}
		vehicles[v.ID] = true
		if _, err := models.ParseCategory(string(v.Category)); err != nil {
			bad("vehicle %s: %v", v.ID, err)
		}
		if v.PreferredZone != "" && !zones[v.PreferredZone] {
			bad("vehicle %s prefers unknown zone %s", v.ID, v.PreferredZone)
		}
	}

	return errors.Join(errs...)
}
