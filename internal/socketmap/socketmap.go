// Package socketmap implements C4, the device-socket map: it maps
// (stack, domain, subnet/node) triples to a reference-counted unicast UDP
// socket, joins the multicast groups each stack's domains care about, and
// runs the rebind and announcement timers described in spec.md §4.4.
//
// Following §9's design note, the original's hand-rolled singly-linked
// lists (DevConfigMap, DevDomainConfig, DevSubnetNodeConfig) become plain
// Go maps keyed by the id field; iteration order is never load-bearing.
package socketmap

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// IPBytes is an IPv4 address in network byte order.
type IPBytes [4]byte

// Socket is the per-unicast-address UDP socket abstraction. The real
// implementation binds a UDP socket and manipulates multicast group
// membership via golang.org/x/sys/unix socket options; tests substitute a
// fake.
type Socket interface {
	Close() error
	JoinMulticast(group IPBytes) error
	LeaveMulticast(group IPBytes) error
}

// Opener binds a new Socket to the given local address.
type Opener interface {
	Bind(addr IPBytes) (Socket, error)
}

// unicastEntry is one row of the unicast-address table (§3).
type unicastEntry struct {
	addr     IPBytes
	sock     Socket
	isBound  bool
	useCount int
}

// DevSubnetNodeConfig records the socket index registered for one
// (domain, subnet, node) triple.
type DevSubnetNodeConfig struct {
	Subnet, Node int
	SocketIndex  int
}

// DevDomainConfig is the per-domain configuration for one stack: its
// registered subnet/node entries and its multicast group membership
// bitmap (256 bits, one per group number).
type DevDomainConfig struct {
	Domain     []byte
	SubnetNode map[int]*DevSubnetNodeConfig // key: subnet<<8|node
	Groups     [32]byte                     // 256-bit group membership bitmap
}

// DevConfig is one stack's registration: its LS/IP announcement tuning
// and the domains it has registered addresses in.
type DevConfig struct {
	StackIndex      int
	AnnounceFreq    time.Duration
	AnnounceThrottle time.Duration
	AgeLimit        int
	Domains         map[int]*DevDomainConfig // key: domain index (0 or 1)
}

// Announcer emits an LS/IP address announcement for an arbitrary-IP
// mapping. The real implementation sends it over the LS/IP shim;
// injectable for tests.
type Announcer interface {
	Announce(domain []byte, subnet, node int, addr IPBytes)
}

const multicastSocketIndex = 0

// reallocStep controls how many slots the unicast table grows by when it
// runs out of room, grounded on IzoTDevSocketMaps.cpp's reallocation
// strategy (§4.4 step 2).
const reallocStep = 16

// Map is C4. The zero value is not usable; construct with New.
type Map struct {
	log      *slog.Logger
	opener   Opener
	announcer Announcer

	mu       sync.Mutex
	unicast  []unicastEntry // index 0 is reserved for the shared multicast socket
	byAddr   map[IPBytes]int
	stacks   map[int]*DevConfig

	lastAnnounceRemainder time.Duration
}

// New creates an empty device-socket map.
func New(opener Opener, announcer Announcer, logger *slog.Logger) *Map {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Map{
		log:       logger.With("component", "socketmap"),
		opener:    opener,
		announcer: announcer,
		byAddr:    make(map[IPBytes]int),
		stacks:    make(map[int]*DevConfig),
	}
	m.unicast = append(m.unicast, unicastEntry{}) // reserve index 0
	return m
}

// DeriveIP computes the LS-derived IPv4 address for an (domain, subnet,
// node) triple (§4.4 step 1): the network portion comes from the lower 16
// bits of a hash of the domain id and subnet, the host octet is the node
// id.
func DeriveIP(domain []byte, subnet, node int) IPBytes {
	h := fnv.New32a()
	_, _ = h.Write(domain)
	_, _ = h.Write([]byte{byte(subnet)})
	sum := h.Sum32() & 0xFFFF
	return IPBytes{10, byte(sum >> 8), byte(sum), byte(node)}
}

func subnetNodeKey(subnet, node int) int { return subnet<<8 | node }

func (m *Map) stackFor(stack int) *DevConfig {
	dc, ok := m.stacks[stack]
	if !ok {
		dc = &DevConfig{
			StackIndex:       stack,
			AnnounceFreq:     5 * time.Minute,
			AnnounceThrottle: 500 * time.Millisecond,
			AgeLimit:         2,
			Domains:          make(map[int]*DevDomainConfig),
		}
		m.stacks[stack] = dc
	}
	return dc
}

func (dc *DevConfig) domainFor(domainIdx int, domain []byte) *DevDomainConfig {
	dd, ok := dc.Domains[domainIdx]
	if !ok {
		dd = &DevDomainConfig{
			Domain:     append([]byte(nil), domain...),
			SubnetNode: make(map[int]*DevSubnetNodeConfig),
		}
		dc.Domains[domainIdx] = dd
	}
	return dd
}

// SetUnicastAddress implements §4.4's algorithm: compute the derived IP,
// find-or-allocate a reference-counted socket for it, record it under the
// stack's (domainIdx, subnet, node) registration, and join the relevant
// multicast groups.
func (m *Map) SetUnicastAddress(stack, domainIdx, snIdx int, domain []byte, subnet, node int) (socketIndex int, err error) {
	addr := DeriveIP(domain, subnet, node)

	m.mu.Lock()
	defer m.mu.Unlock()

	idx, err := m.acquireLocked(addr)
	if err != nil {
		return 0, err
	}

	dc := m.stackFor(stack)
	dd := dc.domainFor(domainIdx, domain)
	dd.SubnetNode[subnetNodeKey(subnet, node)] = &DevSubnetNodeConfig{
		Subnet: subnet, Node: node, SocketIndex: idx,
	}

	m.joinGroupsLocked(dd)
	return idx, nil
}

// acquireLocked finds an existing unicast entry for addr (bumping its
// refcount) or allocates a new one, attempting to bind it. A failed bind
// still returns the allocated index but leaves isBound false so the
// rebind timer retries it later (§4.4).
func (m *Map) acquireLocked(addr IPBytes) (int, error) {
	if idx, ok := m.byAddr[addr]; ok {
		m.unicast[idx].useCount++
		return idx, nil
	}

	idx := m.allocSlotLocked()
	entry := unicastEntry{addr: addr, useCount: 1}

	sock, err := m.opener.Bind(addr)
	if err != nil {
		m.log.Warn("unicast bind failed, will retry", "addr", addr, "error", err)
		entry.isBound = false
	} else {
		entry.sock = sock
		entry.isBound = true
	}

	m.unicast[idx] = entry
	m.byAddr[addr] = idx
	return idx, nil
}

// allocSlotLocked returns the index of a free (zero-useCount, non-reserved)
// slot, growing the table by reallocStep if none is available.
func (m *Map) allocSlotLocked() int {
	for i := 1; i < len(m.unicast); i++ {
		if m.unicast[i].useCount == 0 && m.unicast[i].addr == (IPBytes{}) {
			return i
		}
	}
	start := len(m.unicast)
	m.unicast = append(m.unicast, make([]unicastEntry, reallocStep)...)
	return start
}

func (m *Map) joinGroupsLocked(dd *DevDomainConfig) {
	sock := m.unicast[multicastSocketIndex].sock
	if sock == nil {
		return
	}
	// Subnet broadcast group: by convention the host octet 255 within each
	// registered subnet's derived /24.
	for _, sn := range dd.SubnetNode {
		bcast := DeriveIP(dd.Domain, sn.Subnet, 0)
		bcast[3] = 255
		if err := sock.JoinMulticast(bcast); err != nil {
			m.log.Warn("subnet broadcast join failed", "subnet", sn.Subnet, "error", err)
		}
	}

	for g := 0; g < 256; g++ {
		byteIdx, bitIdx := g/8, uint(g%8)
		if dd.Groups[byteIdx]&(1<<bitIdx) == 0 {
			continue
		}
		group := DeriveIP(dd.Domain, 0, g)
		group[0] = 239 // multicast range for group addresses
		if err := sock.JoinMulticast(group); err != nil {
			m.log.Warn("group join failed", "group", g, "error", err)
		}
	}
}

// UpdateGroupMembership replaces the group membership bitmap for a
// stack's domain and (re)joins any newly-set groups.
func (m *Map) UpdateGroupMembership(stack, domainIdx int, groups [32]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	dc, ok := m.stacks[stack]
	if !ok {
		return fmt.Errorf("socketmap: unknown stack %d", stack)
	}
	dd, ok := dc.Domains[domainIdx]
	if !ok {
		return fmt.Errorf("socketmap: stack %d has no domain %d registered", stack, domainIdx)
	}
	dd.Groups = groups
	m.joinGroupsLocked(dd)
	return nil
}

// DeregisterStack unwinds every registration made by stack: decrements
// the refcount of each associated unicast entry, closing and clearing any
// that reach zero (§4.4, §8.4).
func (m *Map) DeregisterStack(stack int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	dc, ok := m.stacks[stack]
	if !ok {
		return
	}
	for _, dd := range dc.Domains {
		for _, sn := range dd.SubnetNode {
			m.releaseLocked(sn.SocketIndex)
		}
	}
	delete(m.stacks, stack)
}

func (m *Map) releaseLocked(idx int) {
	if idx <= 0 || idx >= len(m.unicast) {
		return
	}
	e := &m.unicast[idx]
	if e.useCount == 0 {
		return
	}
	e.useCount--
	if e.useCount == 0 {
		if e.sock != nil {
			_ = e.sock.Close()
		}
		delete(m.byAddr, e.addr)
		*e = unicastEntry{}
	}
}

// UseCount returns the reference count of the unicast entry at idx, for
// tests and diagnostics.
func (m *Map) UseCount(idx int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if idx < 0 || idx >= len(m.unicast) {
		return 0
	}
	return m.unicast[idx].useCount
}

// IsBound reports whether the unicast entry at idx is currently bound.
func (m *Map) IsBound(idx int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if idx < 0 || idx >= len(m.unicast) {
		return false
	}
	return m.unicast[idx].isBound
}

// QueryIPAddr returns the IP address this device would use to reach
// (domain, subnet, node): the LS-derived address unless an arbitrary
// mapping is active, which callers resolve via internal/lsip and pass in
// as override (nil for the pure-derived case). This keeps C4 independent
// of C3's storage. netmgmt's EXPANDED QUERY_IP_ADDR handler does not call
// it.
func (m *Map) QueryIPAddr(domain []byte, subnet, node int, override *IPBytes) IPBytes {
	if override != nil {
		return *override
	}
	return DeriveIP(domain, subnet, node)
}

// SetLSAddrMappingConfig updates a stack's announcement tuning.
func (m *Map) SetLSAddrMappingConfig(stack int, freq, throttle time.Duration, ageLimit int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	dc := m.stackFor(stack)
	dc.AnnounceFreq = freq
	dc.AnnounceThrottle = throttle
	dc.AgeLimit = ageLimit
}

// RunRebind runs the rebind timer task (§4.4, §5): a timer with
// exponential backoff (min 5s, max 5m) retries binds for every entry with
// isBound == false && useCount > 0, until ctx is cancelled.
func (m *Map) RunRebind(ctx context.Context) error {
	backoff := 5 * time.Second
	const maxBackoff = 5 * time.Minute

	timer := time.NewTimer(backoff)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		anyFailed := m.retryBindsOnce()
		if anyFailed {
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		} else {
			backoff = 5 * time.Second
		}
		timer.Reset(backoff)
	}
}

func (m *Map) retryBindsOnce() (anyFailed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.unicast {
		e := &m.unicast[i]
		if e.useCount == 0 || e.isBound {
			continue
		}
		sock, err := m.opener.Bind(e.addr)
		if err != nil {
			anyFailed = true
			continue
		}
		e.sock = sock
		e.isBound = true
		m.log.Info("rebind succeeded", "addr", e.addr)
	}
	return anyFailed
}

// RunAnnounce runs the announcement timer task (§4.4, §5): period =
// max(announce-freq across registered stacks, throttle); walks the
// unicast table and announces every arbitrary-flagged address with at
// least throttle spacing between announcements, remembering any leftover
// delay to subtract from the next full period.
//
// isArbitrary reports whether a given unicast-table address is currently
// an arbitrary (not derived) mapping; it is injected so this package
// doesn't need to depend on internal/lsip directly.
func (m *Map) RunAnnounce(ctx context.Context, isArbitrary func(addr IPBytes) bool) error {
	for {
		period, throttle := m.announcePeriodLocked()
		wait := period - m.lastAnnounceRemainder
		if wait < 0 {
			wait = 0
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		spent := m.announceOnce(ctx, throttle, isArbitrary)
		if spent > period {
			m.lastAnnounceRemainder = spent - period
		} else {
			m.lastAnnounceRemainder = 0
		}
	}
}

func (m *Map) announcePeriodLocked() (period, throttle time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	throttle = 500 * time.Millisecond
	for _, dc := range m.stacks {
		if dc.AnnounceFreq > period {
			period = dc.AnnounceFreq
		}
		if dc.AnnounceThrottle > throttle {
			throttle = dc.AnnounceThrottle
		}
	}
	if period < throttle {
		period = throttle
	}
	return period, throttle
}

// announceOnce paces its Announce calls with a rate.Limiter keyed to
// throttle, rather than a hand-rolled timer, so the same primitive used
// for the retransmit backoff (internal/mip) also governs announcement
// spacing.
func (m *Map) announceOnce(ctx context.Context, throttle time.Duration, isArbitrary func(addr IPBytes) bool) time.Duration {
	m.mu.Lock()
	targets := make([]IPBytes, 0)
	for _, e := range m.unicast {
		if e.useCount > 0 && isArbitrary(e.addr) {
			targets = append(targets, e.addr)
		}
	}
	m.mu.Unlock()

	limiter := rate.NewLimiter(rate.Every(throttle), 1)
	var spent time.Duration
	for i, addr := range targets {
		if i > 0 {
			if err := limiter.Wait(ctx); err != nil {
				return spent
			}
			spent += throttle
		}
		if m.announcer != nil {
			m.announcer.Announce(nil, 0, int(addr[3]), addr)
		}
	}
	return spent
}
