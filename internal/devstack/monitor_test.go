package devstack

import "testing"

func TestMonitorTableCreateGetCount(t *testing.T) {
	t.Parallel()

	var mt MonitorTable
	if err := mt.Create(0, MonitorPoint{NVIndex: 4, SetID: 1}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := mt.Create(1, MonitorPoint{NVIndex: 5, SetID: 1}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := mt.Get(0)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.NVIndex != 4 {
		t.Fatalf("NVIndex = %d, want 4", got.NVIndex)
	}
	if mt.Count() != 2 {
		t.Fatalf("Count = %d, want 2", mt.Count())
	}
}

func TestMonitorTableRemove(t *testing.T) {
	t.Parallel()

	var mt MonitorTable
	_ = mt.Create(0, MonitorPoint{NVIndex: 1})
	_ = mt.Create(1, MonitorPoint{NVIndex: 2})

	if err := mt.Remove(0, 1); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if mt.Count() != 1 {
		t.Fatalf("Count = %d, want 1", mt.Count())
	}
	if _, err := mt.Get(0); err == nil {
		t.Fatal("expected point 0 to be removed")
	}
}

func TestMonitorTableGetUnknownIndex(t *testing.T) {
	t.Parallel()

	var mt MonitorTable
	if _, err := mt.Get(9); err == nil {
		t.Fatal("expected error for unset monitor index")
	}
}
