// Package link implements C1, the link-driver abstraction: it opens a
// named physical interface, moves SICB-framed bytes in and out, and
// exposes the transceiver/comm-param/statistics surface the MIP bridge
// (internal/mip) needs.
//
// The physical driver itself — raw socket, USB, or Ethernet framing — is
// an external collaborator (spec.md §1); Link only depends on the Driver
// interface below.
package link

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Errors returned by Link methods. Callers branch on these with errors.Is.
var (
	ErrQueueFull    = errors.New("link: transmit queue full")
	ErrClosed       = errors.New("link: not open")
	ErrTimeout      = errors.New("link: operation timed out")
	ErrNotSupported = errors.New("link: operation not supported by driver")
)

// State is the link's lifecycle state (§4.1).
type State int

const (
	StateClosed State = iota
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// ServicePinState is the physical service-pin LED/button state.
type ServicePinState int

const (
	ServicePinOff ServicePinState = iota
	ServicePinOn
	ServicePinBlinking
)

// Driver is the physical interface a Link drives. Implementations move
// raw framed bytes to and from hardware; Link adds state, statistics, and
// caching on top.
type Driver interface {
	Open(name string) error
	Close() error

	// Read blocks for at most the context's deadline, returning the bytes
	// of one received frame.
	Read(ctx context.Context, buf []byte) (int, error)

	// Write enqueues buf for transmission. It returns ErrQueueFull
	// synchronously if the outbound queue has no room (§4.1 failure
	// semantics): queue-full is reported immediately, not after a timeout.
	Write(ctx context.Context, buf []byte) error

	SelfTest(ctx context.Context) error
	GetTransceiverRegister(ctx context.Context, n int) (byte, error)
	SetServicePinState(ctx context.Context, state ServicePinState) error

	// GetCommParams/SetCommParams move the raw 16-byte comm-parameter
	// block. SetCommParams returning ErrTimeout after the driver's
	// internal retry budget is exhausted (§4.1: "timeouts on
	// comm-parameter programming give up after a few seconds").
	GetCommParams(ctx context.Context) ([16]byte, error)
	SetCommParams(ctx context.Context, params [16]byte, flags byte) error

	GetNetworkBuffers(ctx context.Context) (NetworkBufferConfig, error)
	SetNetworkBuffers(ctx context.Context, cfg NetworkBufferConfig) error
}

// NetworkBufferConfig is the device's network-buffer sizing, encoded with
// the shared nibble scheme (internal/wire).
type NetworkBufferConfig struct {
	InBufSize     byte // packed size/count byte, in-buffers
	OutBufSize    byte // packed size/count byte, out-buffers
	InBufPriCount byte
	OutBufPriCount byte
}

// Counter identifies one statistics slot (§4.1).
type Counter int

const (
	CounterTransmissionErrors Counter = iota
	CounterMissedPackets
	CounterCollisions
	CounterBacklogOverflows
	CounterTransmitted
	CounterReceived
	CounterReceivedPriority
	CounterBackoffs
	numCounters
)

// Stats holds the driver's statistics counters, each capped at 0xFFFF
// (§4.1). Two independent copies are kept: Primary (read/cleared by
// external tools) and Shadow (read/cleared by the device-internal path),
// so an external reset doesn't blind the stack's own monitoring.
type Stats struct {
	mu      sync.Mutex
	primary [numCounters]uint32
	shadow  [numCounters]uint32
}

const counterMax = 0xFFFF

// Bump increments a counter in both copies, saturating at counterMax.
func (s *Stats) Bump(c Counter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.primary[c] < counterMax {
		s.primary[c]++
	}
	if s.shadow[c] < counterMax {
		s.shadow[c]++
	}
}

// Snapshot returns a copy of the primary counters.
func (s *Stats) Snapshot() [numCounters]uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.primary
}

// Clear zeroes the primary counters.
func (s *Stats) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.primary = [numCounters]uint32{}
}

// SnapshotShadow returns a copy of the shadow counters.
func (s *Stats) SnapshotShadow() [numCounters]uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shadow
}

// ClearShadow zeroes the shadow counters independently of Clear.
func (s *Stats) ClearShadow() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shadow = [numCounters]uint32{}
}

// Link is C1: the named interface to a MIP, wrapping a Driver with
// lifecycle state, statistics, and a comm-param/network-buffer cache.
type Link struct {
	log *slog.Logger

	mu    sync.Mutex
	state State
	name  string
	drv   Driver

	Stats Stats

	commParams       [16]byte
	commParamsCached bool

	netBufs      NetworkBufferConfig
	netBufsValid bool
}

// New creates a Link over the given Driver. logger may be nil, in which
// case slog.Default() is used.
func New(drv Driver, logger *slog.Logger) *Link {
	if logger == nil {
		logger = slog.Default()
	}
	return &Link{
		log: logger.With("component", "link"),
		drv: drv,
	}
}

// Open transitions Closed -> Open for the named interface.
func (l *Link) Open(ctx context.Context, name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != StateClosed {
		return fmt.Errorf("link: Open called in state %s", l.state)
	}
	if err := l.drv.Open(name); err != nil {
		return fmt.Errorf("link: opening %q: %w", name, err)
	}
	l.name = name
	l.state = StateOpen
	l.log.Info("link opened", "name", name)
	return nil
}

// Close transitions Open -> Closing -> Closed. Calls to Read/Write made
// once Close begins return ErrClosed; a Read or Write already inside the
// driver is left to the driver's own Close handling.
func (l *Link) Close(ctx context.Context) error {
	l.mu.Lock()
	if l.state == StateClosed {
		l.mu.Unlock()
		return nil
	}
	l.state = StateClosing
	l.mu.Unlock()

	err := l.drv.Close()

	l.mu.Lock()
	l.state = StateClosed
	l.mu.Unlock()

	if err != nil {
		return fmt.Errorf("link: closing %q: %w", l.name, err)
	}
	l.log.Info("link closed")
	return nil
}

// State returns the link's current lifecycle state.
func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Link) requireOpen() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateOpen {
		return ErrClosed
	}
	return nil
}

// Read reads one framed message from the driver.
func (l *Link) Read(ctx context.Context, buf []byte) (int, error) {
	if err := l.requireOpen(); err != nil {
		return 0, err
	}
	n, err := l.drv.Read(ctx, buf)
	if err != nil {
		return 0, err
	}
	l.Stats.Bump(CounterReceived)
	return n, nil
}

// Write writes one framed message to the driver. ErrQueueFull is returned
// synchronously, never via timeout (§4.1).
func (l *Link) Write(ctx context.Context, buf []byte) error {
	if err := l.requireOpen(); err != nil {
		return err
	}
	if err := l.drv.Write(ctx, buf); err != nil {
		if errors.Is(err, ErrQueueFull) {
			return ErrQueueFull
		}
		l.Stats.Bump(CounterTransmissionErrors)
		return fmt.Errorf("link: write: %w", err)
	}
	l.Stats.Bump(CounterTransmitted)
	return nil
}

// SelfTest runs the driver's self-test.
func (l *Link) SelfTest(ctx context.Context) error {
	if err := l.requireOpen(); err != nil {
		return err
	}
	return l.drv.SelfTest(ctx)
}

// GetTransceiverRegister reads one transceiver status register.
func (l *Link) GetTransceiverRegister(ctx context.Context, n int) (byte, error) {
	if err := l.requireOpen(); err != nil {
		return 0, err
	}
	return l.drv.GetTransceiverRegister(ctx, n)
}

// SetServicePinState drives the service-pin LED/button.
func (l *Link) SetServicePinState(ctx context.Context, state ServicePinState) error {
	if err := l.requireOpen(); err != nil {
		return err
	}
	return l.drv.SetServicePinState(ctx, state)
}

// GetCommParams returns the cached comm-parameter block, reading through
// to the driver on first access or after invalidation.
func (l *Link) GetCommParams(ctx context.Context) ([16]byte, error) {
	l.mu.Lock()
	cached := l.commParamsCached
	cp := l.commParams
	l.mu.Unlock()
	if cached {
		return cp, nil
	}

	cp, err := l.drv.GetCommParams(ctx)
	if err != nil {
		return [16]byte{}, fmt.Errorf("link: reading comm params: %w", err)
	}

	l.mu.Lock()
	l.commParams = cp
	l.commParamsCached = true
	l.mu.Unlock()
	return cp, nil
}

// SetCommParams writes the 16-byte comm-parameter block only if it
// differs from the cached copy, per §4.2's write sequence. flags carries
// the reset/checksum bits (flags=12 for the MIP bridge's standard write).
func (l *Link) SetCommParams(ctx context.Context, params [16]byte, flags byte) (changed bool, err error) {
	l.mu.Lock()
	same := l.commParamsCached && l.commParams == params
	l.mu.Unlock()
	if same {
		return false, nil
	}

	if err := l.drv.SetCommParams(ctx, params, flags); err != nil {
		if errors.Is(err, ErrTimeout) {
			return false, ErrTimeout
		}
		return false, fmt.Errorf("link: writing comm params: %w", err)
	}

	l.mu.Lock()
	l.commParams = params
	l.commParamsCached = true
	l.mu.Unlock()
	return true, nil
}

// InvalidateCommParams forces the next GetCommParams/SetCommParams to
// read through to the driver. Called after a comm reset (§4.1).
func (l *Link) InvalidateCommParams() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.commParamsCached = false
}

// GetNetworkBuffers returns the cached network-buffer configuration,
// re-reading from the driver if the cache is stale (§4.1: "after a comm
// reset, network-buffer cache is marked stale and re-read on next
// access").
func (l *Link) GetNetworkBuffers(ctx context.Context) (NetworkBufferConfig, error) {
	l.mu.Lock()
	valid := l.netBufsValid
	cfg := l.netBufs
	l.mu.Unlock()
	if valid {
		return cfg, nil
	}

	cfg, err := l.drv.GetNetworkBuffers(ctx)
	if err != nil {
		return NetworkBufferConfig{}, fmt.Errorf("link: reading network buffers: %w", err)
	}

	l.mu.Lock()
	l.netBufs = cfg
	l.netBufsValid = true
	l.mu.Unlock()
	return cfg, nil
}

// SetNetworkBuffers writes and caches a new network-buffer configuration.
func (l *Link) SetNetworkBuffers(ctx context.Context, cfg NetworkBufferConfig) error {
	if err := l.drv.SetNetworkBuffers(ctx, cfg); err != nil {
		return fmt.Errorf("link: writing network buffers: %w", err)
	}
	l.mu.Lock()
	l.netBufs = cfg
	l.netBufsValid = true
	l.mu.Unlock()
	return nil
}

// InvalidateNetworkBuffers marks the network-buffer cache stale, forcing
// a re-read on next access. Called after a comm reset.
func (l *Link) InvalidateNetworkBuffers() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.netBufsValid = false
}

// OnReset handles a MI_RESET frame from the driver: it invalidates the
// comm-param and network-buffer caches and logs the reset. It does not
// signal or cancel in-flight MIP bridge operations.
func (l *Link) OnReset() {
	l.InvalidateCommParams()
	l.InvalidateNetworkBuffers()
	l.log.Warn("link reset observed")
}
