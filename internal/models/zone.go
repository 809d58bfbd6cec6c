// models/zone.go
package models

// Direction values for Connection.Direction.
const (
	DirectionUni = "uni"
	DirectionBi  = "bi"
)

// Zone is a catalog entry for a parking zone.
type Zone struct {
	ID         string  `json:"id" yaml:"id"`
	Name       string  `json:"name" yaml:"name"`
	Capacity   int     `json:"capacity" yaml:"capacity"`
	HourlyRate float64 `json:"hourly_rate" yaml:"hourly_rate"`
}

// Connection is a catalog entry for a link between two zones.
type Connection struct {
	Source    string  `json:"source" yaml:"source"`
	Target    string  `json:"target" yaml:"target"`
	Distance  int     `json:"distance" yaml:"distance"`
	Penalty   float64 `json:"penalty,omitempty" yaml:"penalty,omitempty"`
	Direction string  `json:"direction,omitempty" yaml:"direction,omitempty"` // uni or bi
	Active    *bool   `json:"active,omitempty" yaml:"active,omitempty"`       // nil means open
}

// IsActive reports whether the connection starts open.
func (c Connection) IsActive() bool {
	return c.Active == nil || *c.Active
}

// IsBidirectional reports whether the reverse edge must be added too.
func (c Connection) IsBidirectional() bool {
	return c.Direction == DirectionBi
}

// Edges returns the directed from/to pairs the connection stands for: the
// connection itself, then its reverse when bidirectional.
func (c Connection) Edges() [][2]string {
	edges := [][2]string{{c.Source, c.Target}}
	if c.IsBidirectional() {
		edges = append(edges, [2]string{c.Target, c.Source})
	}
	return edges
}

// Catalog is the static zone, connection and vehicle data loaded at startup.
type Catalog struct {
	Zones       []Zone       `json:"zones" yaml:"zones"`
	Connections []Connection `json:"connections" yaml:"connections"`
	Vehicles    []Vehicle    `json:"vehicles,omitempty" yaml:"vehicles,omitempty"`
}
