package ports

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Default range for preview dev servers. Chosen well above the common
// 3000/8080 dev defaults to avoid colliding with whatever else a host runs.
const (
	DefaultMinPort = 4110
	DefaultMaxPort = 4990
)

// ErrPortExhausted is returned when no free port remains in the range.
// Callers must free capacity; Allocate never retries.
var ErrPortExhausted = errors.New("no free port in range")

// Allocation records which build holds a port and when it was last handed out.
type Allocation struct {
	Port     int       `json:"port"`
	BuildID  string    `json:"build_id"`
	LastUsed time.Time `json:"last_used"`
}

// RangeInfo is a diagnostics snapshot of the allocator.
type RangeInfo struct {
	MinPort   int `json:"min_port"`
	MaxPort   int `json:"max_port"`
	Total     int `json:"total"`
	Allocated int `json:"allocated"`
	Available int `json:"available"`
}

// Allocator hands out ports from a fixed range, at most one per build
// and one build per port. Free ports are reused least-recently-first so
// a just-freed port (possibly still in TIME_WAIT at the OS level) is
// picked last. Ports that were never used share a zero last-used time
// and are tie-broken by ascending port number.
type Allocator struct {
	mu       sync.Mutex
	minPort  int
	maxPort  int
	byPort   map[int]*Allocation
	byBuild  map[string]int
	lastFree map[int]time.Time // last-used times surviving Free, for LRU ordering
	now      func() time.Time
}

// New creates an Allocator for [minPort, maxPort]. Zero values select the defaults.
func New(minPort, maxPort int) (*Allocator, error) {
	if minPort == 0 && maxPort == 0 {
		minPort, maxPort = DefaultMinPort, DefaultMaxPort
	}
	if minPort <= 0 || maxPort <= 0 || minPort > maxPort {
		return nil, fmt.Errorf("invalid port range: min %d, max %d", minPort, maxPort)
	}
	return &Allocator{
		minPort:  minPort,
		maxPort:  maxPort,
		byPort:   make(map[int]*Allocation),
		byBuild:  make(map[string]int),
		lastFree: make(map[int]time.Time),
		now:      time.Now,
	}, nil
}

// Allocate returns the port held by buildID, allocating one if needed.
// A build that already holds a port gets the same port back unchanged.
func (a *Allocator) Allocate(buildID string) (int, error) {
	if buildID == "" {
		return 0, errors.New("empty build id")
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if p, ok := a.byBuild[buildID]; ok {
		a.byPort[p].LastUsed = a.now()
		return p, nil
	}

	candidates := make([]int, 0, a.maxPort-a.minPort+1)
	for p := a.minPort; p <= a.maxPort; p++ {
		if _, used := a.byPort[p]; !used {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return 0, fmt.Errorf("%w [%d-%d]", ErrPortExhausted, a.minPort, a.maxPort)
	}
	// Least-recently-used first; never-used ports share the zero time and
	// fall back to ascending port order.
	sort.SliceStable(candidates, func(i, j int) bool {
		ti, tj := a.lastFree[candidates[i]], a.lastFree[candidates[j]]
		if ti.Equal(tj) {
			return candidates[i] < candidates[j]
		}
		return ti.Before(tj)
	})
	p := candidates[0]
	now := a.now()
	a.byPort[p] = &Allocation{Port: p, BuildID: buildID, LastUsed: now}
	a.byBuild[buildID] = p
	a.lastFree[p] = now
	return p, nil
}

// Adopt records an existing binding of buildID to a specific port,
// bypassing LRU selection. Crash recovery uses it to re-track previews
// found alive in the persisted snapshot.
func (a *Allocator) Adopt(buildID string, port int) error {
	if buildID == "" {
		return errors.New("empty build id")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if port < a.minPort || port > a.maxPort {
		return fmt.Errorf("port %d outside range [%d-%d]", port, a.minPort, a.maxPort)
	}
	if alloc, used := a.byPort[port]; used && alloc.BuildID != buildID {
		return fmt.Errorf("port %d already held by %s", port, alloc.BuildID)
	}
	if p, ok := a.byBuild[buildID]; ok && p != port {
		return fmt.Errorf("build %s already holds port %d", buildID, p)
	}
	now := a.now()
	a.byPort[port] = &Allocation{Port: port, BuildID: buildID, LastUsed: now}
	a.byBuild[buildID] = port
	a.lastFree[port] = now
	return nil
}

// Free releases a port. Unknown ports are a no-op.
func (a *Allocator) Free(port int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.freeLocked(port)
}

// ForceFree releases a port unconditionally, even if the allocator never
// tracked it. Crash recovery uses this after killing whatever was bound.
func (a *Allocator) ForceFree(port int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.freeLocked(port)
	// Record the forced release so LRU ordering still avoids immediate reuse.
	if port >= a.minPort && port <= a.maxPort {
		a.lastFree[port] = a.now()
	}
}

func (a *Allocator) freeLocked(port int) {
	alloc, ok := a.byPort[port]
	if !ok {
		return
	}
	a.lastFree[port] = a.now()
	delete(a.byBuild, alloc.BuildID)
	delete(a.byPort, port)
}

// PortForBuild returns the port held by buildID, or 0 when none.
func (a *Allocator) PortForBuild(buildID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.byBuild[buildID]
}

// IsAvailable reports whether port is inside the range and unallocated.
func (a *Allocator) IsAvailable(port int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if port < a.minPort || port > a.maxPort {
		return false
	}
	_, used := a.byPort[port]
	return !used
}

// AllocatedPorts returns a copy of the current allocations keyed by port.
func (a *Allocator) AllocatedPorts() map[int]Allocation {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[int]Allocation, len(a.byPort))
	for p, alloc := range a.byPort {
		out[p] = *alloc
	}
	return out
}

// Clear drops every allocation. Last-used history is kept.
func (a *Allocator) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for p := range a.byPort {
		a.lastFree[p] = a.now()
	}
	a.byPort = make(map[int]*Allocation)
	a.byBuild = make(map[string]int)
}

// Range returns the configured [min, max] bounds.
func (a *Allocator) Range() (int, int) {
	return a.minPort, a.maxPort
}

// Info returns range diagnostics.
func (a *Allocator) Info() RangeInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	total := a.maxPort - a.minPort + 1
	return RangeInfo{
		MinPort:   a.minPort,
		MaxPort:   a.maxPort,
		Total:     total,
		Allocated: len(a.byPort),
		Available: total - len(a.byPort),
	}
}
