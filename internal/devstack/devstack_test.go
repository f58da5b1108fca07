package devstack

import (
	"context"
	"errors"
	"testing"
)

// memStore is an in-memory Store for tests; it never returns ErrNoSuchKey
// once a key has been written, matching a real backend's behavior.
type memStore struct {
	data       map[string][]byte
	commits    int
	failCommit bool
}

func newMemStore() *memStore { return &memStore{data: make(map[string][]byte)} }

func (m *memStore) Read(_ context.Context, key string) ([]byte, error) {
	v, ok := m.data[key]
	if !ok {
		return nil, ErrNoSuchKey
	}
	return v, nil
}

func (m *memStore) Write(_ context.Context, key string, data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	m.data[key] = cp
	return nil
}

func (m *memStore) Commit(_ context.Context) error {
	m.commits++
	if m.failCommit {
		return errors.New("simulated commit failure")
	}
	return nil
}

func newTestStack(t *testing.T, store Store) *Stack {
	t.Helper()
	return New(store, [6]byte{1, 2, 3, 4, 5, 6}, 9, [8]byte{})
}

func TestNewStackStartsUnconfigured(t *testing.T) {
	t.Parallel()

	s := newTestStack(t, newMemStore())
	if s.RO.State != StateUnconfigured || s.Config.State != StateUnconfigured {
		t.Fatalf("new stack state = (%v, %v), want unconfigured", s.RO.State, s.Config.State)
	}
}

func TestBootNoPriorState(t *testing.T) {
	t.Parallel()

	s := newTestStack(t, newMemStore())
	blackout, err := s.Boot(context.Background())
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	if blackout {
		t.Fatal("expected no blackout on fresh store")
	}
}

// TestBlackoutSuppressesNextCommand covers §8.8/§9: a crash between
// BeginWrite and Commit must leave the device unconfigured on reboot, and
// the very next modifying command after boot must be dropped, not just
// the one that crashed.
func TestBlackoutSuppressesNextCommand(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newMemStore()
	s := newTestStack(t, store)

	if err := s.BeginWrite(ctx); err != nil {
		t.Fatalf("BeginWrite: %v", err)
	}
	// Simulate a crash: no Commit call. A new Stack reattaches to the same
	// store on "reboot".
	rebooted := newTestStack(t, store)
	blackout, err := rebooted.Boot(ctx)
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	if !blackout {
		t.Fatal("expected blackout to be detected after crash")
	}
	if rebooted.RO.State != StateUnconfigured || rebooted.Config.State != StateUnconfigured {
		t.Fatalf("post-blackout state = (%v, %v), want unconfigured", rebooted.RO.State, rebooted.Config.State)
	}

	if !rebooted.ConsumeBlackoutSuppression() {
		t.Fatal("expected first command after blackout boot to be suppressed")
	}
	if rebooted.ConsumeBlackoutSuppression() {
		t.Fatal("expected suppression to apply to exactly one command")
	}
}

func TestCommitClearsPendingFlag(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newMemStore()
	s := newTestStack(t, store)

	if err := s.BeginWrite(ctx); err != nil {
		t.Fatalf("BeginWrite: %v", err)
	}
	if err := s.Commit(ctx, true); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	rebooted := newTestStack(t, store)
	blackout, err := rebooted.Boot(ctx)
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	if blackout {
		t.Fatal("expected no blackout after a clean commit")
	}
}

// TestCommitWithoutRecomputeForcesUnconfigured covers §4.5's checksum
// invariant: committing with recomputeChecksum=false while a write is
// pending must force the node unconfigured and log CNFG_CS_ERROR.
func TestCommitWithoutRecomputeForcesUnconfigured(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStack(t, newMemStore())
	s.RO.State = StateConfigured
	s.Config.State = StateConfigured

	if err := s.BeginWrite(ctx); err != nil {
		t.Fatalf("BeginWrite: %v", err)
	}
	if err := s.Commit(ctx, false); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if s.RO.State != StateUnconfigured || s.Config.State != StateUnconfigured {
		t.Fatalf("state = (%v, %v), want unconfigured", s.RO.State, s.Config.State)
	}
	if s.ErrorLog() != ErrorLogCNFGCSError {
		t.Fatalf("ErrorLog = 0x%02x, want 0x%02x", s.ErrorLog(), ErrorLogCNFGCSError)
	}
}

// TestCommitPersistsTableImagesAcrossReboot covers §3/§6: Commit must
// serialize the domain/address/NV/monitor/RO/config images, not just the
// blackout pending flag, so a rebooted Stack over the same store comes
// back with the same commissioned state.
func TestCommitPersistsTableImagesAcrossReboot(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newMemStore()
	s := newTestStack(t, store)
	s.RO.State = StateConfigured
	s.Config.State = StateConfigured
	s.Config.NMAuth = true

	if err := s.Domains.Update(0, []byte{0x49, 0x53, 0x49, 0, 0, 0}, 3, 1, 4, []byte{1, 2, 3, 4, 5, 6}, false); err != nil {
		t.Fatalf("Domains.Update: %v", err)
	}
	if err := s.Addrs.Update(0, AddressEntry{Type: AddressSubnetNode, Subnet: 1, Node: 4}); err != nil {
		t.Fatalf("Addrs.Update: %v", err)
	}
	if err := s.NVs.UpdateNV(0, NVEntry{Selector: 42, AddrIndex: 0}); err != nil {
		t.Fatalf("NVs.UpdateNV: %v", err)
	}
	if err := s.Monitors.Create(0, MonitorPoint{NVIndex: 0, SetID: 1}); err != nil {
		t.Fatalf("Monitors.Create: %v", err)
	}

	if err := s.BeginWrite(ctx); err != nil {
		t.Fatalf("BeginWrite: %v", err)
	}
	if err := s.Commit(ctx, true); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	rebooted := newTestStack(t, store)
	blackout, err := rebooted.Boot(ctx)
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	if blackout {
		t.Fatal("expected no blackout after a clean commit")
	}

	if rebooted.RO.State != StateConfigured || rebooted.Config.State != StateConfigured || !rebooted.Config.NMAuth {
		t.Fatalf("rebooted state = (%v, %v, nmauth=%t), want configured/configured/true",
			rebooted.RO.State, rebooted.Config.State, rebooted.Config.NMAuth)
	}

	dom, err := rebooted.Domains.Get(0)
	if err != nil {
		t.Fatalf("Domains.Get: %v", err)
	}
	if dom.Length != 3 || dom.Subnet != 1 || dom.Node != 4 || dom.ID[0] != 0x49 {
		t.Fatalf("restored domain = %+v, want the committed ISI domain", dom)
	}

	addr, err := rebooted.Addrs.Get(0)
	if err != nil {
		t.Fatalf("Addrs.Get: %v", err)
	}
	if addr.Type != AddressSubnetNode || addr.Subnet != 1 || addr.Node != 4 {
		t.Fatalf("restored address = %+v, want the committed subnet/node entry", addr)
	}

	nv, err := rebooted.NVs.GetNV(0)
	if err != nil {
		t.Fatalf("NVs.GetNV: %v", err)
	}
	if nv.Selector != 42 {
		t.Fatalf("restored nv selector = %d, want 42", nv.Selector)
	}

	mp, err := rebooted.Monitors.Get(0)
	if err != nil {
		t.Fatalf("Monitors.Get: %v", err)
	}
	if mp.SetID != 1 {
		t.Fatalf("restored monitor point = %+v, want SetID 1", mp)
	}
}

func TestCommitSurfacesBackendFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newMemStore()
	store.failCommit = true
	s := newTestStack(t, store)

	if err := s.BeginWrite(ctx); err != nil {
		t.Fatalf("BeginWrite: %v", err)
	}
	if err := s.Commit(ctx, true); err == nil {
		t.Fatal("expected Commit to surface backend failure")
	}
}
