package socketmap

import "testing"

type fakeSocket struct {
	closed bool
	joined []IPBytes
}

func (s *fakeSocket) Close() error { s.closed = true; return nil }
func (s *fakeSocket) JoinMulticast(g IPBytes) error {
	s.joined = append(s.joined, g)
	return nil
}
func (s *fakeSocket) LeaveMulticast(g IPBytes) error { return nil }

type fakeOpener struct {
	fail    map[IPBytes]bool
	sockets map[IPBytes]*fakeSocket
}

func newFakeOpener() *fakeOpener {
	return &fakeOpener{fail: map[IPBytes]bool{}, sockets: map[IPBytes]*fakeSocket{}}
}

func (o *fakeOpener) Bind(addr IPBytes) (Socket, error) {
	if o.fail[addr] {
		return nil, errFake
	}
	s := &fakeSocket{}
	o.sockets[addr] = s
	return s, nil
}

var errFake = fakeErr("bind failed")

type fakeErr string

func (e fakeErr) Error() string { return string(e) }

func TestSetUnicastAddressRefcounting(t *testing.T) {
	t.Parallel()
	opener := newFakeOpener()
	m := New(opener, nil, nil)

	idxA, err := m.SetUnicastAddress(1 /*stackA*/, 0, 0, []byte("domainX"), 1, 5)
	if err != nil {
		t.Fatal(err)
	}
	idxB, err := m.SetUnicastAddress(2 /*stackB*/, 0, 0, []byte("domainX"), 1, 5)
	if err != nil {
		t.Fatal(err)
	}

	if idxA != idxB {
		t.Fatalf("expected same socket index for same address, got %d and %d", idxA, idxB)
	}
	if got := m.UseCount(idxA); got != 2 {
		t.Fatalf("use count = %d, want 2", got)
	}

	m.DeregisterStack(1)
	if got := m.UseCount(idxA); got != 1 {
		t.Fatalf("use count after one deregister = %d, want 1", got)
	}

	m.DeregisterStack(2)
	if got := m.UseCount(idxA); got != 0 {
		t.Fatalf("use count after both deregister = %d, want 0", got)
	}
}

func TestSetUnicastAddressBindFailureMarksUnbound(t *testing.T) {
	t.Parallel()
	opener := newFakeOpener()
	addr := DeriveIP([]byte("d"), 1, 9)
	opener.fail[addr] = true

	m := New(opener, nil, nil)
	idx, err := m.SetUnicastAddress(1, 0, 0, []byte("d"), 1, 9)
	if err != nil {
		t.Fatal(err)
	}
	if m.IsBound(idx) {
		t.Fatal("entry should not be bound when Bind failed")
	}

	// Rebind succeeds once the opener stops failing.
	delete(opener.fail, addr)
	if m.retryBindsOnce() {
		t.Fatal("retryBindsOnce should report no remaining failures")
	}
	if !m.IsBound(idx) {
		t.Fatal("entry should be bound after successful retry")
	}
}

func TestUpdateGroupMembershipJoinsGroups(t *testing.T) {
	t.Parallel()
	opener := newFakeOpener()
	m := New(opener, nil, nil)

	// Index 0 is the shared multicast socket; bind it directly.
	sock, _ := opener.Bind(IPBytes{})
	m.unicast[multicastSocketIndex].sock = sock

	if _, err := m.SetUnicastAddress(1, 0, 0, []byte("d"), 1, 9); err != nil {
		t.Fatal(err)
	}

	var groups [32]byte
	groups[0] = 0b0000_0001 // group 0
	if err := m.UpdateGroupMembership(1, 0, groups); err != nil {
		t.Fatal(err)
	}

	fs := sock.(*fakeSocket)
	if len(fs.joined) == 0 {
		t.Fatal("expected at least one multicast join (subnet broadcast)")
	}
}

func TestQueryIPAddrPrefersOverride(t *testing.T) {
	t.Parallel()
	m := New(newFakeOpener(), nil, nil)
	derived := DeriveIP([]byte("d"), 1, 9)
	if got := m.QueryIPAddr([]byte("d"), 1, 9, nil); got != derived {
		t.Fatalf("QueryIPAddr without override = %v, want %v", got, derived)
	}
	override := IPBytes{1, 2, 3, 4}
	if got := m.QueryIPAddr([]byte("d"), 1, 9, &override); got != override {
		t.Fatalf("QueryIPAddr with override = %v, want %v", got, override)
	}
}
