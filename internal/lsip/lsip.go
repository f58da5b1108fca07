// Package lsip implements C3, the LS/IP address map: for every
// (domain, subnet, node) on the shared medium it tracks whether the
// target uses an LS-derived IP address or an arbitrary one, and ages out
// arbitrary mappings that stop being refreshed by announcements.
package lsip

import (
	"fmt"
	"sync"
)

// MaxNodeID and MaxSubnetID bound valid addresses (§4.3). Out-of-range
// entries are never stored: GetDerived, SetDerived and GetArbitrary
// ignore them, and SetArbitrary returns an error.
const (
	MaxNodeID   = 127
	MaxSubnetID = 255
)

// DefaultAgeLimit is the age, counted in TickAging calls since the last
// refreshing SetArbitrary, at which an arbitrary mapping is discarded.
// Grounded on IzoTLsIpMapping.cpp's IZOT_ARB_ADDRESS_AGE_LIMIT == 2
// ("after two ticks we should have seen an announcement").
const DefaultAgeLimit = 2

// IPBytes is an IPv4 address in network byte order. §9 leaves IPv6
// unspecified and this module follows that: the map only ever stores
// 4-byte addresses.
type IPBytes [4]byte

type arbitraryEntry struct {
	addr IPBytes
	age  int
}

type nodeInfo struct {
	derived    bool
	arbitrary  *arbitraryEntry
}

type subnetInfo struct {
	mu    sync.Mutex
	nodes map[int]*nodeInfo
}

// Map is C3: per-domain subnet/node derived-vs-arbitrary address tracking
// with aging. The zero value is not usable; construct with New.
type Map struct {
	ageLimit int

	mu      sync.RWMutex
	domains map[int]map[int]*subnetInfo // domain -> subnet -> subnetInfo
}

// New creates an empty Map. ageLimit <= 0 selects DefaultAgeLimit.
func New(ageLimit int) *Map {
	if ageLimit <= 0 {
		ageLimit = DefaultAgeLimit
	}
	return &Map{
		ageLimit: ageLimit,
		domains:  make(map[int]map[int]*subnetInfo),
	}
}

func valid(subnet, node int) bool {
	return subnet >= 0 && subnet <= MaxSubnetID && node >= 0 && node <= MaxNodeID
}

// subnetFor returns the subnetInfo for (domain, subnet), creating
// intermediate storage on first use (§4.3: "unused subnets/nodes
// allocate no storage").
func (m *Map) subnetFor(domain, subnet int, create bool) *subnetInfo {
	m.mu.RLock()
	sn, ok := m.domains[domain]
	var si *subnetInfo
	if ok {
		si = sn[subnet]
	}
	m.mu.RUnlock()
	if si != nil || !create {
		return si
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	sn, ok = m.domains[domain]
	if !ok {
		sn = make(map[int]*subnetInfo)
		m.domains[domain] = sn
	}
	si, ok = sn[subnet]
	if !ok {
		si = &subnetInfo{nodes: make(map[int]*nodeInfo)}
		sn[subnet] = si
	}
	return si
}

func (si *subnetInfo) nodeFor(node int, create bool) *nodeInfo {
	n, ok := si.nodes[node]
	if !ok {
		if !create {
			return nil
		}
		n = &nodeInfo{}
		si.nodes[node] = n
	}
	return n
}

// GetDerived reports whether (domain, subnet, node) is known to use its
// LS-derived IP address.
func (m *Map) GetDerived(domain, subnet, node int) bool {
	if !valid(subnet, node) {
		return false
	}
	si := m.subnetFor(domain, subnet, false)
	if si == nil {
		return false
	}
	si.mu.Lock()
	defer si.mu.Unlock()
	n := si.nodeFor(node, false)
	return n != nil && n.derived
}

// SetDerived marks (domain, subnet, node) as using its derived IP (or
// clears that marking). Setting it true clears any arbitrary mapping,
// preserving the derived/arbitrary exclusivity invariant (§4.3, §8.5).
func (m *Map) SetDerived(domain, subnet, node int, derived bool) {
	if !valid(subnet, node) {
		return
	}
	si := m.subnetFor(domain, subnet, true)
	si.mu.Lock()
	defer si.mu.Unlock()
	n := si.nodeFor(node, true)
	n.derived = derived
	if derived {
		n.arbitrary = nil
	}
}

// GetArbitrary returns the arbitrary IP address recorded for
// (domain, subnet, node), if any.
func (m *Map) GetArbitrary(domain, subnet, node int) (IPBytes, bool) {
	if !valid(subnet, node) {
		return IPBytes{}, false
	}
	si := m.subnetFor(domain, subnet, false)
	if si == nil {
		return IPBytes{}, false
	}
	si.mu.Lock()
	defer si.mu.Unlock()
	n := si.nodeFor(node, false)
	if n == nil || n.arbitrary == nil {
		return IPBytes{}, false
	}
	return n.arbitrary.addr, true
}

// SetArbitrary records addr as the arbitrary IP for (domain, subnet, node),
// resetting its age to zero, and clears the derived bit (exclusivity
// invariant, §4.3). Passing ok=false clears any existing arbitrary entry.
func (m *Map) SetArbitrary(domain, subnet, node int, addr IPBytes, ok bool) error {
	if !valid(subnet, node) {
		return fmt.Errorf("lsip: address (subnet=%d node=%d) out of range", subnet, node)
	}
	si := m.subnetFor(domain, subnet, true)
	si.mu.Lock()
	defer si.mu.Unlock()
	n := si.nodeFor(node, true)
	if !ok {
		n.arbitrary = nil
		return nil
	}
	n.derived = false
	n.arbitrary = &arbitraryEntry{addr: addr, age: 0}
	return nil
}

// SetDerivedSubnets bulk-applies SetDerived across every node id present
// in bitmap (one bit per node id) for the given domain/subnet.
func (m *Map) SetDerivedSubnets(domain, subnet int, bitmap [16]byte, set bool) {
	for node := 0; node <= MaxNodeID; node++ {
		byteIdx := node / 8
		bitIdx := uint(node % 8)
		if bitmap[byteIdx]&(1<<bitIdx) == 0 {
			continue
		}
		m.SetDerived(domain, subnet, node, set)
	}
}

// TickAging advances the age of every live arbitrary mapping by one tick
// and discards any mapping that has reached the age limit (§4.3, §8.6).
func (m *Map) TickAging() {
	m.mu.RLock()
	subnets := make([]*subnetInfo, 0)
	for _, sn := range m.domains {
		for _, si := range sn {
			subnets = append(subnets, si)
		}
	}
	m.mu.RUnlock()

	for _, si := range subnets {
		si.mu.Lock()
		for _, n := range si.nodes {
			if n.arbitrary == nil {
				continue
			}
			n.arbitrary.age++
			if n.arbitrary.age >= m.ageLimit {
				n.arbitrary = nil
			}
		}
		si.mu.Unlock()
	}
}
