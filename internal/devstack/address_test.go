package devstack

import "testing"

func TestAddressEntryEncodeDecodeSubnetNode(t *testing.T) {
	t.Parallel()

	e := AddressEntry{Type: AddressSubnetNode, TxTimer: 3, RptTimer: 2, Retry: 4, Subnet: 10, Node: 20}
	b := e.Encode()
	got, err := DecodeAddressEntry(b[:])
	if err != nil {
		t.Fatalf("DecodeAddressEntry: %v", err)
	}
	if got != e {
		t.Fatalf("got %+v, want %+v", got, e)
	}
}

func TestAddressEntryEncodeDecodeGroup(t *testing.T) {
	t.Parallel()

	e := AddressEntry{Type: AddressGroupAck, TxTimer: 1, RptTimer: 1, Retry: 3, Group: 44, GroupSize: 8, Member: 5}
	b := e.Encode()
	got, err := DecodeAddressEntry(b[:])
	if err != nil {
		t.Fatalf("DecodeAddressEntry: %v", err)
	}
	if got != e {
		t.Fatalf("got %+v, want %+v", got, e)
	}
}

func TestDecodeAddressEntryRejectsBadTag(t *testing.T) {
	t.Parallel()

	if _, err := DecodeAddressEntry([]byte{0xFF, 0, 0, 0, 0}); err == nil {
		t.Fatal("expected error for invalid type tag")
	}
}

func TestDecodeAddressEntryRejectsShortInput(t *testing.T) {
	t.Parallel()

	if _, err := DecodeAddressEntry([]byte{0, 1, 2}); err == nil {
		t.Fatal("expected error for short input")
	}
}

func TestAddressTableLegacyLimit(t *testing.T) {
	t.Parallel()

	var at AddressTable
	if err := at.CheckLimits(14); err != nil {
		t.Fatalf("index 14 should be in range: %v", err)
	}
	if err := at.CheckLimits(15); err == nil {
		t.Fatal("expected index 15 to exceed legacy limit")
	}
}

func TestAddressTableECSExpandsLimit(t *testing.T) {
	t.Parallel()

	var at AddressTable
	at.EnableECS()
	if err := at.CheckLimits(200); err != nil {
		t.Fatalf("index 200 should be in range under ECS: %v", err)
	}
	if err := at.CheckLimits(256); err == nil {
		t.Fatal("expected index 256 to exceed ECS limit")
	}
}

func TestAddressTableGetUnboundDefault(t *testing.T) {
	t.Parallel()

	var at AddressTable
	got, err := at.Get(3)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Type != AddressUnbound {
		t.Fatalf("Type = %v, want AddressUnbound for unset entry", got.Type)
	}
}

func TestAddressTableUpdateAndRemove(t *testing.T) {
	t.Parallel()

	var at AddressTable
	if err := at.Update(2, AddressEntry{Type: AddressBroadcast, Subnet: 7}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, _ := at.Get(2)
	if got.Type != AddressBroadcast || got.Subnet != 7 {
		t.Fatalf("got %+v", got)
	}

	if err := at.Remove(2, 3); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	got, _ = at.Get(2)
	if got.Type != AddressUnbound {
		t.Fatalf("expected unbound after Remove, got %+v", got)
	}
}
