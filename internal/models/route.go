package models

// Route is an ordered walk through zones and its cumulative distance.
// An empty Path means the target could not be reached.
type Route struct {
	Path     []string `json:"path"`
	Distance int      `json:"distance"`
	Target   string   `json:"target_zone"`
}

// Found reports whether the route reaches its target.
func (r Route) Found() bool { return len(r.Path) > 0 }
