// Package analytics derives usage and revenue figures from a snapshot of
// zones and requests. It never mutates what it is given.
package analytics

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"nexuspark/internal/request"
	"nexuspark/internal/zonegraph"
)

// DefaultPeakZones is how many zones Compute ranks when topN <= 0.
const DefaultPeakZones = 3

type ZoneUsage struct {
	ZoneID      string  `json:"zone_id"`
	Capacity    int     `json:"capacity"`
	Free        int     `json:"free"`
	Utilization float64 `json:"utilization"`
}

type ZoneCount struct {
	ZoneID      string `json:"zone_id"`
	Allocations int    `json:"allocations"`
}

// Report is a point-in-time summary. Revenue, durations and cross-zone
// figures only count released requests.
type Report struct {
	GeneratedAt           time.Time                  `json:"generated_at"`
	TotalRequests         int                        `json:"total_requests"`
	Active                int                        `json:"active"`
	Completed             int                        `json:"completed"`
	Cancelled             int                        `json:"cancelled"`
	CompletionRate        float64                    `json:"completion_rate"`
	CancellationRate      float64                    `json:"cancellation_rate"`
	AverageDurationHours  float64                    `json:"average_duration_hours"`
	TotalRevenue          decimal.Decimal            `json:"total_revenue"`
	RevenueByZone         map[string]decimal.Decimal `json:"revenue_by_zone"`
	AverageRevenuePerHour decimal.Decimal            `json:"average_revenue_per_hour"`
	CrossZoneAllocations  int                        `json:"cross_zone_allocations"`
	CrossZoneRate         float64                    `json:"cross_zone_rate"`
	Zones                 []ZoneUsage                `json:"zones"`
	OverallUtilization    float64                    `json:"overall_utilization"`
	PeakZones             []ZoneCount                `json:"peak_zones"`
}

// Compute builds a report over zones and reqs, ranking the topN busiest
// zones by allocation count.
func Compute(zones []zonegraph.Zone, reqs []request.Request, topN int, at time.Time) Report {
	if topN <= 0 {
		topN = DefaultPeakZones
	}
	r := Report{
		GeneratedAt:           at,
		TotalRequests:         len(reqs),
		TotalRevenue:          decimal.Zero,
		RevenueByZone:         make(map[string]decimal.Decimal),
		AverageRevenuePerHour: decimal.Zero,
	}

	allocations := make(map[string]int)
	totalHours := 0.0
	for _, req := range reqs {
		if req.AllocatedZone != "" {
			allocations[req.AllocatedZone]++
		}
		switch req.State {
		case request.Allocated, request.Occupied:
			r.Active++
		case request.Cancelled:
			r.Cancelled++
		case request.Released:
			r.Completed++
			totalHours += req.DurationHours
			r.TotalRevenue = r.TotalRevenue.Add(req.Cost)
			r.RevenueByZone[req.AllocatedZone] = r.RevenueByZone[req.AllocatedZone].Add(req.Cost)
			if req.CrossZone {
				r.CrossZoneAllocations++
			}
		}
	}

	r.CompletionRate = percent(r.Completed, r.TotalRequests)
	r.CancellationRate = percent(r.Cancelled, r.TotalRequests)
	r.CrossZoneRate = percent(r.CrossZoneAllocations, r.Completed)
	if r.Completed > 0 {
		r.AverageDurationHours = totalHours / float64(r.Completed)
	}
	if totalHours > 0 {
		r.AverageRevenuePerHour = r.TotalRevenue.Div(decimal.NewFromFloat(totalHours)).Round(2)
	}

	capacity, free := 0, 0
	for _, z := range zones {
		r.Zones = append(r.Zones, ZoneUsage{
			ZoneID:      z.ID,
			Capacity:    z.Capacity,
			Free:        z.Free,
			Utilization: z.Utilization(),
		})
		capacity += z.Capacity
		free += z.Free
	}
	r.OverallUtilization = percent(capacity-free, capacity)
	r.PeakZones = peakZones(allocations, topN)
	return r
}

func percent(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return float64(part) / float64(whole) * 100
}

// peakZones ranks by allocation count, ties broken by zone id.
func peakZones(counts map[string]int, topN int) []ZoneCount {
	out := make([]ZoneCount, 0, len(counts))
	for id, n := range counts {
		out = append(out, ZoneCount{ZoneID: id, Allocations: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Allocations != out[j].Allocations {
			return out[i].Allocations > out[j].Allocations
		}
		return out[i].ZoneID < out[j].ZoneID
	})
	if len(out) > topN {
		out = out[:topN]
	}
	return out
}

// WriteText renders the report as an aligned plain-text table.
func (r Report) WriteText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Parking report\t%s\n", r.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(tw, "Requests\t%d (active %d, completed %d, cancelled %d)\n", r.TotalRequests, r.Active, r.Completed, r.Cancelled)
	fmt.Fprintf(tw, "Completion rate\t%.1f%%\n", r.CompletionRate)
	fmt.Fprintf(tw, "Cancellation rate\t%.1f%%\n", r.CancellationRate)
	fmt.Fprintf(tw, "Average duration\t%.1f h\n", r.AverageDurationHours)
	fmt.Fprintf(tw, "Total revenue\t%s\n", r.TotalRevenue.StringFixed(2))
	fmt.Fprintf(tw, "Revenue per hour\t%s\n", r.AverageRevenuePerHour.StringFixed(2))
	fmt.Fprintf(tw, "Cross-zone allocations\t%d (%.1f%%)\n", r.CrossZoneAllocations, r.CrossZoneRate)
	fmt.Fprintf(tw, "Overall utilization\t%.1f%%\n", r.OverallUtilization)

	fmt.Fprintln(tw, "\nZone\tCapacity\tFree\tUtilization\tRevenue")
	for _, z := range r.Zones {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%.1f%%\t%s\n", z.ZoneID, z.Capacity, z.Free, z.Utilization, r.RevenueByZone[z.ZoneID].StringFixed(2))
	}

	peaks := make([]string, 0, len(r.PeakZones))
	for _, p := range r.PeakZones {
		peaks = append(peaks, fmt.Sprintf("%s (%d)", p.ZoneID, p.Allocations))
	}
	if len(peaks) == 0 {
		peaks = append(peaks, "none")
	}
	fmt.Fprintf(tw, "\nPeak zones\t%s\n", strings.Join(peaks, ", "))
	return tw.Flush()
}
