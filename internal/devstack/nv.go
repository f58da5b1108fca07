package devstack

import "fmt"

// NVDirection is a network variable's data-flow direction.
type NVDirection byte

const (
	NVIn NVDirection = iota
	NVOut
)

// NVEntry is one network-variable configuration entry (§3).
type NVEntry struct {
	Selector      uint16 // 14-bit NV selector
	Direction     NVDirection
	Priority      bool
	ServiceType   byte
	Authenticated bool
	AddrIndex     byte // address_table_index
	Turnaround    bool
}

// AliasEntry points back at a primary NV index and overrides any of its
// fields (§3).
type AliasEntry struct {
	Primary  int
	Override NVEntry
}

// NVTable stores NVs and aliases in one logical sequence partitioned by
// count, plus a count of "hidden" monitor NVs that sit between the two
// partitions in the full (ECS/internal) index space but are invisible to
// legacy-indexed commands (§4.5).
type NVTable struct {
	nvs           map[int]*NVEntry
	aliases       map[int]*AliasEntry
	nvCount       int
	monitorNVCount int
}

func (t *NVTable) ensure() {
	if t.nvs == nil {
		t.nvs = make(map[int]*NVEntry)
	}
	if t.aliases == nil {
		t.aliases = make(map[int]*AliasEntry)
	}
}

// SetMonitorNVCount records how many monitor NVs occupy the hidden region
// between the NV and alias partitions. GetLegacy does not read it: aliases
// are stored by their 0-based alias-partition index, so a legacy index
// maps to an alias by subtracting the NV count alone.
func (t *NVTable) SetMonitorNVCount(n int) { t.monitorNVCount = n }

// SetNVCount sets the size of the NV partition; indices below this are
// NVs, at or above are aliases.
func (t *NVTable) SetNVCount(n int) { t.nvCount = n }

// GetNV returns the NV at a full (ECS/internal) index.
func (t *NVTable) GetNV(index int) (NVEntry, error) {
	t.ensure()
	e, ok := t.nvs[index]
	if !ok {
		return NVEntry{}, fmt.Errorf("devstack: %w: nv index %d", ErrInvalidIndex, index)
	}
	return *e, nil
}

// UpdateNV sets the NV at a full index (§4.6 UPDATE_NV_CNFG / ECS nv-config).
func (t *NVTable) UpdateNV(index int, e NVEntry) error {
	t.ensure()
	cp := e
	t.nvs[index] = &cp
	return nil
}

// GetAlias returns the alias at a 0-based index within the alias
// partition (full/ECS addressing — no monitor-NV offset applied).
func (t *NVTable) GetAlias(index int) (AliasEntry, error) {
	t.ensure()
	e, ok := t.aliases[index]
	if !ok {
		return AliasEntry{}, fmt.Errorf("devstack: %w: alias index %d", ErrInvalidIndex, index)
	}
	return *e, nil
}

// UpdateAlias sets the alias at a 0-based alias-partition index.
func (t *NVTable) UpdateAlias(index int, e AliasEntry) error {
	t.ensure()
	cp := e
	t.aliases[index] = &cp
	return nil
}

// GetLegacy resolves a legacy (pre-ECS) NV-table index. Legacy indexing
// treats the NV and alias partitions as contiguous — monitor NVs, stored
// separately, never occupy a legacy index even though they sit between
// the two partitions in the full/ECS index space (§4.5).
func (t *NVTable) GetLegacy(index int) (isAlias bool, nv NVEntry, alias AliasEntry, err error) {
	if index < t.nvCount {
		nv, err = t.GetNV(index)
		return false, nv, AliasEntry{}, err
	}
	aliasLocal := index - t.nvCount
	alias, err = t.GetAlias(aliasLocal)
	return true, NVEntry{}, alias, err
}

func (*NVTable) AffectsNetworkImage() bool { return true }

func (t *NVTable) Initialize(start, end int, data []byte, domainIndex int) error {
	t.ensure()
	for i := start; i < end; i++ {
		delete(t.nvs, i)
		delete(t.aliases, i)
	}
	return nil
}

// nvSnapshot is NVTable's persisted form.
type nvSnapshot struct {
	NVs            map[int]NVEntry
	Aliases        map[int]AliasEntry
	NVCount        int
	MonitorNVCount int
}

func (t *NVTable) snapshot() nvSnapshot {
	t.ensure()
	nvs := make(map[int]NVEntry, len(t.nvs))
	for k, v := range t.nvs {
		nvs[k] = *v
	}
	aliases := make(map[int]AliasEntry, len(t.aliases))
	for k, v := range t.aliases {
		aliases[k] = *v
	}
	return nvSnapshot{NVs: nvs, Aliases: aliases, NVCount: t.nvCount, MonitorNVCount: t.monitorNVCount}
}

func (t *NVTable) restore(s nvSnapshot) {
	t.nvs = make(map[int]*NVEntry, len(s.NVs))
	for k, v := range s.NVs {
		cp := v
		t.nvs[k] = &cp
	}
	t.aliases = make(map[int]*AliasEntry, len(s.Aliases))
	for k, v := range s.Aliases {
		cp := v
		t.aliases[k] = &cp
	}
	t.nvCount = s.NVCount
	t.monitorNVCount = s.MonitorNVCount
}
