package devstack

import "fmt"

// DomainEntry is one domain configuration entry (§3): a device belongs to
// 0-2 domains by index. Length 0 means "flex domain" — matches any
// incoming domain for authentication purposes only.
type DomainEntry struct {
	Index     int
	ID        [6]byte
	Length    int // 0, 1, 3, or 6
	Subnet    byte
	Node      byte
	CloneFlag bool
	Key       [12]byte // 6 bytes normally, 12 with OMA enabled
	OMA       bool
	valid     bool
}

// IsFlex reports whether this is a flex (wildcard) domain entry.
func (d DomainEntry) IsFlex() bool { return d.Length == 0 }

// matchID compares the first Length bytes of the domain id.
func (d DomainEntry) matchID(id []byte, length int) bool {
	if d.IsFlex() {
		return true
	}
	if length != d.Length {
		return false
	}
	for i := 0; i < d.Length; i++ {
		if d.ID[i] != id[i] {
			return false
		}
	}
	return true
}

// DomainTable holds the device's (at most two) domain configuration
// entries.
type DomainTable struct {
	entries [2]DomainEntry
}

// Get returns the entry at idx (0 or 1).
func (t *DomainTable) Get(idx int) (DomainEntry, error) {
	if idx < 0 || idx > 1 {
		return DomainEntry{}, fmt.Errorf("devstack: %w: domain index %d", ErrInvalidIndex, idx)
	}
	return t.entries[idx], nil
}

// Update sets domain idx's id/length/subnet/node/key (NM UPDATE_DOMAIN,
// §4.6). A zero-length domain id is the flex-domain wildcard.
func (t *DomainTable) Update(idx int, id []byte, length int, subnet, node byte, key []byte, oma bool) error {
	if idx < 0 || idx > 1 {
		return fmt.Errorf("devstack: %w: domain index %d", ErrInvalidIndex, idx)
	}
	if length != 0 && length != 1 && length != 3 && length != 6 {
		return fmt.Errorf("devstack: %w: domain length %d", ErrLengthMismatch, length)
	}

	e := DomainEntry{Index: idx, Length: length, Subnet: subnet, Node: node, OMA: oma, valid: true}
	copy(e.ID[:], id)
	copy(e.Key[:], key)
	t.entries[idx] = e
	return nil
}

// Leave clears domain idx (NM LEAVE_DOMAIN, §4.6).
func (t *DomainTable) Leave(idx int) error {
	if idx < 0 || idx > 1 {
		return fmt.Errorf("devstack: %w: domain index %d", ErrInvalidIndex, idx)
	}
	t.entries[idx] = DomainEntry{Index: idx}
	return nil
}

// UpdateKey replaces domain idx's key material only (NM security/update
// key commands), leaving id/subnet/node untouched.
func (t *DomainTable) UpdateKey(idx int, key []byte, oma bool) error {
	if idx < 0 || idx > 1 {
		return fmt.Errorf("devstack: %w: domain index %d", ErrInvalidIndex, idx)
	}
	copy(t.entries[idx].Key[:], key)
	t.entries[idx].OMA = oma
	return nil
}

// FindMatch returns the index of the first valid domain entry whose id
// matches the incoming (id, length), preferring a non-flex match over a
// flex one for the same incoming domain.
func (t *DomainTable) FindMatch(id []byte, length int) (idx int, ok bool) {
	flexIdx, haveFlex := -1, false
	for i := 0; i < 2; i++ {
		e := t.entries[i]
		if !e.valid {
			continue
		}
		if e.IsFlex() {
			if !haveFlex {
				flexIdx, haveFlex = i, true
			}
			continue
		}
		if e.matchID(id, length) {
			return i, true
		}
	}
	if haveFlex {
		return flexIdx, true
	}
	return 0, false
}

func (*DomainTable) AffectsNetworkImage() bool { return true }

// Initialize resets domains [start,end) — in practice start=0, end=2.
func (t *DomainTable) Initialize(start, end int, data []byte, domainIndex int) error {
	for i := start; i < end && i < 2; i++ {
		t.entries[i] = DomainEntry{Index: i}
	}
	return nil
}

// domainSnapshot is DomainEntry's persisted form: a plain exported mirror
// that also carries the unexported valid flag FindMatch depends on, so
// Stack.Commit can serialize it through encoding/json.
type domainSnapshot struct {
	ID        [6]byte
	Length    int
	Subnet    byte
	Node      byte
	CloneFlag bool
	Key       [12]byte
	OMA       bool
	Valid     bool
}

func (t *DomainTable) snapshot() [2]domainSnapshot {
	var out [2]domainSnapshot
	for i, e := range t.entries {
		out[i] = domainSnapshot{
			ID: e.ID, Length: e.Length, Subnet: e.Subnet, Node: e.Node,
			CloneFlag: e.CloneFlag, Key: e.Key, OMA: e.OMA, Valid: e.valid,
		}
	}
	return out
}

func (t *DomainTable) restore(snap [2]domainSnapshot) {
	for i, s := range snap {
		t.entries[i] = DomainEntry{
			Index: i, ID: s.ID, Length: s.Length, Subnet: s.Subnet, Node: s.Node,
			CloneFlag: s.CloneFlag, Key: s.Key, OMA: s.OMA, valid: s.Valid,
		}
	}
}
