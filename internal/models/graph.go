package models

// GraphData is the zone map as served to front ends.
type GraphData struct {
	Nodes []Node `json:"nodes"`
	Links []Link `json:"links"`
}

type Node struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Capacity    int     `json:"capacity"`
	Free        int     `json:"free"`
	HourlyRate  string  `json:"hourly_rate"`
	Utilization float64 `json:"utilization"`
}

type Link struct {
	Source   string  `json:"source"`
	Target   string  `json:"target"`
	Distance int     `json:"distance"`
	Penalty  float64 `json:"penalty"`
	Active   bool    `json:"active"`
}
