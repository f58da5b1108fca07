package link

import (
	"context"
	"errors"
	"testing"
)

type fakeDriver struct {
	opened     bool
	writeErr   error
	commParams [16]byte
	netBufs    NetworkBufferConfig
	writes     int
}

func (f *fakeDriver) Open(name string) error { f.opened = true; return nil }
func (f *fakeDriver) Close() error            { f.opened = false; return nil }

func (f *fakeDriver) Read(ctx context.Context, buf []byte) (int, error) {
	return 0, nil
}

func (f *fakeDriver) Write(ctx context.Context, buf []byte) error {
	f.writes++
	return f.writeErr
}

func (f *fakeDriver) SelfTest(ctx context.Context) error { return nil }

func (f *fakeDriver) GetTransceiverRegister(ctx context.Context, n int) (byte, error) {
	return byte(n), nil
}

func (f *fakeDriver) SetServicePinState(ctx context.Context, state ServicePinState) error {
	return nil
}

func (f *fakeDriver) GetCommParams(ctx context.Context) ([16]byte, error) {
	return f.commParams, nil
}

func (f *fakeDriver) SetCommParams(ctx context.Context, params [16]byte, flags byte) error {
	f.commParams = params
	return nil
}

func (f *fakeDriver) GetNetworkBuffers(ctx context.Context) (NetworkBufferConfig, error) {
	return f.netBufs, nil
}

func (f *fakeDriver) SetNetworkBuffers(ctx context.Context, cfg NetworkBufferConfig) error {
	f.netBufs = cfg
	return nil
}

func TestLinkOpenCloseStateMachine(t *testing.T) {
	t.Parallel()
	drv := &fakeDriver{}
	l := New(drv, nil)

	if l.State() != StateClosed {
		t.Fatalf("initial state = %v, want Closed", l.State())
	}
	if err := l.Write(context.Background(), []byte{1}); !errors.Is(err, ErrClosed) {
		t.Fatalf("Write before Open: err = %v, want ErrClosed", err)
	}

	if err := l.Open(context.Background(), "mip0"); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if l.State() != StateOpen {
		t.Fatalf("state after Open = %v, want Open", l.State())
	}
	if err := l.Open(context.Background(), "mip0"); err == nil {
		t.Fatal("Open() while already open should fail")
	}

	if err := l.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if l.State() != StateClosed {
		t.Fatalf("state after Close = %v, want Closed", l.State())
	}
}

func TestLinkWriteQueueFull(t *testing.T) {
	t.Parallel()
	drv := &fakeDriver{writeErr: ErrQueueFull}
	l := New(drv, nil)
	if err := l.Open(context.Background(), "mip0"); err != nil {
		t.Fatal(err)
	}

	if err := l.Write(context.Background(), []byte{1, 2, 3}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Write() err = %v, want ErrQueueFull", err)
	}
	stats := l.Stats.Snapshot()
	if stats[CounterTransmissionErrors] != 0 {
		t.Errorf("queue-full should not bump transmission-error counter, got %d", stats[CounterTransmissionErrors])
	}
}

func TestStatsSaturateAndShadowIndependence(t *testing.T) {
	t.Parallel()
	var s Stats
	for i := 0; i < counterMax+10; i++ {
		s.Bump(CounterCollisions)
	}
	if got := s.Snapshot()[CounterCollisions]; got != counterMax {
		t.Errorf("primary counter = %d, want saturated at %d", got, counterMax)
	}

	s.ClearShadow()
	if got := s.SnapshotShadow()[CounterCollisions]; got != 0 {
		t.Errorf("shadow counter after ClearShadow = %d, want 0", got)
	}
	if got := s.Snapshot()[CounterCollisions]; got != counterMax {
		t.Errorf("clearing shadow must not affect primary; got %d", got)
	}
}

func TestCommParamsCacheWritesOnlyOnChange(t *testing.T) {
	t.Parallel()
	drv := &fakeDriver{}
	l := New(drv, nil)
	if err := l.Open(context.Background(), "mip0"); err != nil {
		t.Fatal(err)
	}

	var p [16]byte
	p[0] = 0xAA
	changed, err := l.SetCommParams(context.Background(), p, 12)
	if err != nil || !changed {
		t.Fatalf("first SetCommParams: changed=%v err=%v, want true/nil", changed, err)
	}

	changed, err = l.SetCommParams(context.Background(), p, 12)
	if err != nil || changed {
		t.Fatalf("repeat SetCommParams: changed=%v err=%v, want false/nil", changed, err)
	}

	l.InvalidateCommParams()
	changed, err = l.SetCommParams(context.Background(), p, 12)
	if err != nil || !changed {
		t.Fatalf("SetCommParams after invalidate: changed=%v err=%v, want true/nil", changed, err)
	}
}

func TestGetStandardTransceiverID(t *testing.T) {
	t.Parallel()
	if _, err := GetStandardTransceiverID(1); err != nil {
		t.Fatalf("GetStandardTransceiverID(1) error = %v", err)
	}
	if _, err := GetStandardTransceiverID(9999); err == nil {
		t.Fatal("GetStandardTransceiverID on unknown XID should fail")
	}

	LoadOverride(1, CommParamTemplate{0xFF})
	got, err := GetStandardTransceiverID(1)
	if err != nil {
		t.Fatal(err)
	}
	if got[0] != 0xFF {
		t.Errorf("override not applied: got %v", got)
	}
}
