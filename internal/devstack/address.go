package devstack

import "fmt"

// AddressType tags the outgoing address-table entry union (§3).
type AddressType byte

const (
	AddressUnbound    AddressType = 0
	AddressSubnetNode AddressType = 1
	AddressUniqueID   AddressType = 2
	AddressBroadcast  AddressType = 3
	AddressGroup      AddressType = 4
	AddressGroupAck   AddressType = 5
)

// AddressEntry is one outgoing address-table entry: a tagged union over
// the types above, with the per-type fields spec.md §3 lists (timers,
// retry count, group size, member number).
type AddressEntry struct {
	Type AddressType

	TxTimer  byte
	RptTimer byte
	Retry    byte

	Domain int // domain index this address uses (0 or 1)

	// SubnetNode / Broadcast
	Subnet byte
	Node   byte

	// UniqueID
	UID [6]byte

	// Group / GroupAck
	Group     byte
	GroupSize byte
	Member    byte
}

// classicLen is the wire length of a "style 1" (classic) address entry.
const classicLen = 5

// Encode packs the entry to its classic 5-byte wire form (§3).
func (e AddressEntry) Encode() [classicLen]byte {
	var b [classicLen]byte
	b[0] = byte(e.Type)
	switch e.Type {
	case AddressSubnetNode, AddressBroadcast:
		b[1] = e.TxTimer<<4 | e.RptTimer
		b[2] = e.Retry
		b[3] = e.Subnet
		b[4] = e.Node
	case AddressUniqueID:
		b[1] = e.TxTimer<<4 | e.RptTimer
		b[2] = e.Retry
		b[3] = e.UID[0]
		b[4] = e.UID[1]
	case AddressGroup, AddressGroupAck:
		b[1] = e.TxTimer<<4 | e.RptTimer
		b[2] = e.Retry
		b[3] = e.Group
		b[4] = e.GroupSize<<4 | e.Member&0xF
	}
	return b
}

// DecodeAddressEntry validates the type tag in byte 0 and unpacks the
// classic 5-byte form (§4.5: "validated against the type tag in byte 0").
func DecodeAddressEntry(b []byte) (AddressEntry, error) {
	if len(b) < classicLen {
		return AddressEntry{}, fmt.Errorf("devstack: %w: address entry needs %d bytes, got %d", ErrLengthMismatch, classicLen, len(b))
	}
	t := AddressType(b[0])
	if t > AddressGroupAck {
		return AddressEntry{}, fmt.Errorf("devstack: invalid address type tag %d", b[0])
	}

	e := AddressEntry{Type: t}
	switch t {
	case AddressSubnetNode, AddressBroadcast:
		e.TxTimer, e.RptTimer = b[1]>>4, b[1]&0xF
		e.Retry = b[2]
		e.Subnet = b[3]
		e.Node = b[4]
	case AddressUniqueID:
		e.TxTimer, e.RptTimer = b[1]>>4, b[1]&0xF
		e.Retry = b[2]
		e.UID[0], e.UID[1] = b[3], b[4]
	case AddressGroup, AddressGroupAck:
		e.TxTimer, e.RptTimer = b[1]>>4, b[1]&0xF
		e.Retry = b[2]
		e.Group = b[3]
		e.GroupSize, e.Member = b[4]>>4, b[4]&0xF
	}
	return e, nil
}

// AddressTable is C5's outgoing address table. Legacy tables hold up to
// 15 entries; EAT (extended address table, ECS) tables hold up to 256.
type AddressTable struct {
	entries map[int]*AddressEntry
	ecs     bool // true once an ECS-sized table has been requested
}

const (
	legacyAddressMax = 15
	ecsAddressMax    = 256
)

func (t *AddressTable) ensure() {
	if t.entries == nil {
		t.entries = make(map[int]*AddressEntry)
	}
}

// EnableECS switches the table's size limit from legacy (15) to EAT (256).
func (t *AddressTable) EnableECS() { t.ecs = true }

func (t *AddressTable) max() int {
	if t.ecs {
		return ecsAddressMax
	}
	return legacyAddressMax
}

// CheckLimits validates an index against the table's current size limit
// (§4.5).
func (t *AddressTable) CheckLimits(index int) error {
	if index < 0 || index >= t.max() {
		return fmt.Errorf("devstack: %w: address index %d (max %d)", ErrInvalidIndex, index, t.max())
	}
	return nil
}

// Get returns the entry at index.
func (t *AddressTable) Get(index int) (AddressEntry, error) {
	if err := t.CheckLimits(index); err != nil {
		return AddressEntry{}, err
	}
	t.ensure()
	e, ok := t.entries[index]
	if !ok {
		return AddressEntry{Type: AddressUnbound}, nil
	}
	return *e, nil
}

// Update sets the entry at index (NM UPDATE_ADDRESS / extended NV/address
// config, §4.6).
func (t *AddressTable) Update(index int, e AddressEntry) error {
	if err := t.CheckLimits(index); err != nil {
		return err
	}
	t.ensure()
	cp := e
	t.entries[index] = &cp
	return nil
}

// Remove clears entries [start, end).
func (t *AddressTable) Remove(start, end int) error {
	if err := t.CheckLimits(start); err != nil {
		return err
	}
	t.ensure()
	for i := start; i < end; i++ {
		delete(t.entries, i)
	}
	return nil
}

func (*AddressTable) AffectsNetworkImage() bool { return true }

func (t *AddressTable) Initialize(start, end int, data []byte, domainIndex int) error {
	return t.Remove(start, end)
}

// addressSnapshot is AddressTable's persisted form.
type addressSnapshot struct {
	ECS     bool
	Entries map[int]AddressEntry
}

func (t *AddressTable) snapshot() addressSnapshot {
	t.ensure()
	m := make(map[int]AddressEntry, len(t.entries))
	for k, v := range t.entries {
		m[k] = *v
	}
	return addressSnapshot{ECS: t.ecs, Entries: m}
}

func (t *AddressTable) restore(s addressSnapshot) {
	t.ecs = s.ECS
	t.entries = make(map[int]*AddressEntry, len(s.Entries))
	for k, v := range s.Entries {
		cp := v
		t.entries[k] = &cp
	}
}
