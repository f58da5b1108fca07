package devstack

import "fmt"

// MonitorSet groups monitor points for polling/trending, mirroring the
// spec's monitor-set / monitor-point table pair (§4.5). It is a
// lightweight table: only index-keyed storage, no encoding concerns,
// since the MIP-app translator doesn't put these on the wire directly
// (§4.7 covers only NV/address/alias traffic).
type MonitorPoint struct {
	NVIndex int // which NV (by full NVTable index) this point tracks
	SetID   int
}

// MonitorTable holds monitor points, keyed by point index, and tracks how
// many of them are "monitor NVs" for NVTable's legacy-index adjustment.
type MonitorTable struct {
	points map[int]*MonitorPoint
}

func (t *MonitorTable) ensure() {
	if t.points == nil {
		t.points = make(map[int]*MonitorPoint)
	}
}

// Get returns the monitor point at index.
func (t *MonitorTable) Get(index int) (MonitorPoint, error) {
	t.ensure()
	p, ok := t.points[index]
	if !ok {
		return MonitorPoint{}, fmt.Errorf("devstack: %w: monitor point %d", ErrInvalidIndex, index)
	}
	return *p, nil
}

// Create adds or replaces the monitor point at index.
func (t *MonitorTable) Create(index int, p MonitorPoint) error {
	t.ensure()
	cp := p
	t.points[index] = &cp
	return nil
}

// Remove deletes entries [start, end).
func (t *MonitorTable) Remove(start, end int) error {
	t.ensure()
	for i := start; i < end; i++ {
		delete(t.points, i)
	}
	return nil
}

// Count returns how many monitor points are configured.
func (t *MonitorTable) Count() int {
	return len(t.points)
}

func (*MonitorTable) AffectsNetworkImage() bool { return true }

func (t *MonitorTable) Initialize(start, end int, data []byte, domainIndex int) error {
	return t.Remove(start, end)
}

// monitorSnapshot is MonitorTable's persisted form.
type monitorSnapshot struct {
	Points map[int]MonitorPoint
}

func (t *MonitorTable) snapshot() monitorSnapshot {
	t.ensure()
	m := make(map[int]MonitorPoint, len(t.points))
	for k, v := range t.points {
		m[k] = *v
	}
	return monitorSnapshot{Points: m}
}

func (t *MonitorTable) restore(s monitorSnapshot) {
	t.points = make(map[int]*MonitorPoint, len(s.Points))
	for k, v := range s.Points {
		cp := v
		t.points[k] = &cp
	}
}
