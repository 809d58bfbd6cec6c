// Package dijkstra runs shortest-path queries over the zone graph.
package dijkstra

import (
	"container/heap"
	"errors"
	"fmt"

	"nexuspark/internal/models"
	"nexuspark/internal/zonegraph"
)

var (
	// ErrUnreachable is returned by Travel when no path reaches the target.
	ErrUnreachable  = errors.New("dijkstra: target not reachable")
	ErrZoneNotFound = zonegraph.ErrZoneNotFound
)

// Topology is the read-only view of the zone graph the search needs.
type Topology interface {
	Has(id string) bool
	Neighbors(id string) ([]zonegraph.Connection, error)
	Zones() []zonegraph.Zone
}

// Item is an entry of the priority queue.
type Item struct {
	Value    string
	Priority int
	seq      uint64 // push order, breaks priority ties
	Index    int
}

// PriorityQueue implements heap.Interface ordered by Priority, then push order.
type PriorityQueue []*Item

func (pq PriorityQueue) Len() int { return len(pq) }

func (pq PriorityQueue) Less(i, j int) bool {
	if pq[i].Priority != pq[j].Priority {
		return pq[i].Priority < pq[j].Priority
	}
	return pq[i].seq < pq[j].seq
}

func (pq PriorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].Index = i
	pq[j].Index = j
}

func (pq *PriorityQueue) Push(x any) {
	n := len(*pq)
	item := x.(*Item)
	item.Index = n
	*pq = append(*pq, item)
}

func (pq *PriorityQueue) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.Index = -1
	*pq = old[0 : n-1]
	return item
}

// Dijkstra computes shortest distances from start over active connections.
// Only reachable zones appear in distances; previous maps each reached zone
// to its predecessor ("" for start). A zone's predecessor is fixed by the
// first strictly shorter relaxation, so equal-cost alternatives discovered
// later never replace it.
func Dijkstra(t Topology, start string) (map[string]int, map[string]string, error) {
	if !t.Has(start) {
		return nil, nil, fmt.Errorf("%w: %s", ErrZoneNotFound, start)
	}

	distances := map[string]int{start: 0}
	previous := map[string]string{start: ""}
	settled := make(map[string]bool)

	var seq uint64
	pq := make(PriorityQueue, 0)
	heap.Init(&pq)
	heap.Push(&pq, &Item{Value: start, Priority: 0, seq: seq})

	for pq.Len() > 0 {
		current := heap.Pop(&pq).(*Item)
		u := current.Value

		// Stale entry from a lazy decrease-key.
		if settled[u] || current.Priority > distances[u] {
			continue
		}
		settled[u] = true

		edges, err := t.Neighbors(u)
		if err != nil {
			return nil, nil, err
		}
		for _, edge := range edges {
			if !edge.Active || settled[edge.To] {
				continue
			}
			alt := distances[u] + edge.Distance
			if d, seen := distances[edge.To]; seen && alt >= d {
				continue
			}
			distances[edge.To] = alt
			previous[edge.To] = u
			seq++
			heap.Push(&pq, &Item{Value: edge.To, Priority: alt, seq: seq})
		}
	}
	return distances, previous, nil
}

// Travel rebuilds the start -> end path from the Dijkstra tables.
func Travel(distances map[string]int, previous map[string]string, start, end string) ([]string, int, error) {
	cost, ok := distances[end]
	if !ok {
		return nil, 0, fmt.Errorf("%w: %s from %s", ErrUnreachable, end, start)
	}

	path := []string{}
	currentNode := end
	for currentNode != start {
		path = append(path, currentNode)
		predecessor, exists := previous[currentNode]
		if !exists || predecessor == "" {
			return nil, 0, fmt.Errorf("dijkstra: predecessor missing for %s on path %s->%s", currentNode, start, end)
		}
		if len(path) > len(previous) {
			return nil, 0, fmt.Errorf("dijkstra: loop while rebuilding path %s->%s", start, end)
		}
		currentNode = predecessor
	}
	path = append(path, start)

	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, cost, nil
}

// PathFinder answers route queries against a live topology.
type PathFinder struct {
	topology Topology
}

func NewPathFinder(t Topology) *PathFinder {
	return &PathFinder{topology: t}
}

// ShortestPath returns the minimum-distance route from -> to. An unreachable
// target yields an empty route and no error.
func (p *PathFinder) ShortestPath(from, to string) (models.Route, error) {
	if !p.topology.Has(to) {
		return models.Route{}, fmt.Errorf("%w: %s", ErrZoneNotFound, to)
	}
	distances, previous, err := Dijkstra(p.topology, from)
	if err != nil {
		return models.Route{}, err
	}
	path, cost, err := Travel(distances, previous, from, to)
	if errors.Is(err, ErrUnreachable) {
		return models.Route{}, nil
	}
	if err != nil {
		return models.Route{}, err
	}
	return models.Route{Path: path, Distance: cost, Target: to}, nil
}

// NearestReachable returns the route to the closest zone reachable from
// from that satisfies pred. Equal distances resolve to the lowest zone id.
func (p *PathFinder) NearestReachable(from string, pred func(zonegraph.Zone) bool) (models.Route, bool, error) {
	distances, previous, err := Dijkstra(p.topology, from)
	if err != nil {
		return models.Route{}, false, err
	}

	best := ""
	bestDistance := 0
	// Zones come back sorted by id, so a strict comparison keeps the lowest id.
	for _, z := range p.topology.Zones() {
		d, reachable := distances[z.ID]
		if !reachable || !pred(z) {
			continue
		}
		if best == "" || d < bestDistance {
			best, bestDistance = z.ID, d
		}
	}
	if best == "" {
		return models.Route{}, false, nil
	}

	path, cost, err := Travel(distances, previous, from, best)
	if err != nil {
		return models.Route{}, false, err
	}
	return models.Route{Path: path, Distance: cost, Target: best}, true, nil
}

// Reachable splits every zone into those reachable from start over active
// connections and those that are not. Both lists are sorted by zone id.
func (p *PathFinder) Reachable(start string) ([]string, []string, error) {
	if !p.topology.Has(start) {
		return nil, nil, fmt.Errorf("%w: %s", ErrZoneNotFound, start)
	}

	visited := map[string]bool{start: true}
	queue := []string{start}
	for len(queue) > 0 {
		currentNode := queue[0]
		queue = queue[1:]

		edges, err := p.topology.Neighbors(currentNode)
		if err != nil {
			return nil, nil, err
		}
		for _, neighbor := range edges {
			if neighbor.Active && !visited[neighbor.To] {
				visited[neighbor.To] = true
				queue = append(queue, neighbor.To)
			}
		}
	}

	accessibleNodes := []string{}
	inaccessibleNodes := []string{}
	for _, z := range p.topology.Zones() {
		if visited[z.ID] {
			accessibleNodes = append(accessibleNodes, z.ID)
		} else {
			inaccessibleNodes = append(inaccessibleNodes, z.ID)
		}
	}
	return accessibleNodes, inaccessibleNodes, nil
}
