// Package mip implements C2, the MIP bridge: transmit queues with
// priority/non-priority separation, the local_command request/response
// protocol, the comm-parameter write sequence, and the receive task that
// dispatches incoming frames by type (§4.1-§4.2, §5).
package mip

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/lonworks/lon-device-stack/internal/link"
	"github.com/lonworks/lon-device-stack/internal/wire"
)

// Errors surfaced by the bridge.
var (
	ErrQueueFull = errors.New("mip: transmit queue full")
	ErrTimeout   = errors.New("mip: local command timed out")
)

// DefaultQueueDepth matches the teacher-style small bounded channel used
// elsewhere in this module for worker queues.
const DefaultQueueDepth = 32

// FrameHandler processes one decoded incoming SICB. Handlers run
// synchronously on the receive task, so they must not block (§5: "a
// receive event triggers at most one downlink transmit attempt before
// the receiver returns to polling").
type FrameHandler func(ctx context.Context, s *wire.SICB)

// Bridge is C2: queues sit in front of a link.Link, and a receive task
// drains it and fans frames out by command type.
type Bridge struct {
	log  *slog.Logger
	link *link.Link

	txQueue   chan []byte
	txPQueue  chan []byte

	handlers map[wire.Command]FrameHandler

	localMu    sync.Mutex // serializes local_command callers (§5)
	pending    map[uint8]chan *wire.SICB
	pendingMu  sync.Mutex
	nextLocalTag uint8
}

// New creates a Bridge over l. handlers maps incoming command type to the
// function that processes it; NM-request frames are expected to be
// registered under wire.CommandNetMgmt by the caller (internal/device).
func New(l *link.Link, logger *slog.Logger, handlers map[wire.Command]FrameHandler) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		log:      logger.With("component", "mip"),
		link:     l,
		txQueue:  make(chan []byte, DefaultQueueDepth),
		txPQueue: make(chan []byte, DefaultQueueDepth),
		handlers: handlers,
		pending:  make(map[uint8]chan *wire.SICB),
	}
}

// TryTransmit enqueues sicb on the priority or non-priority queue per its
// Priority flag, returning ErrQueueFull synchronously if full (§5's
// backpressure rule: "a non-priority caller must retry after the
// retransmit timer fires, a priority caller likewise").
func (b *Bridge) TryTransmit(sicb *wire.SICB) error {
	buf, err := sicb.MarshalBinary()
	if err != nil {
		return fmt.Errorf("mip: encoding outgoing SICB: %w", err)
	}

	q := b.txQueue
	if sicb.Priority {
		q = b.txPQueue
	}
	select {
	case q <- buf:
		return nil
	default:
		return ErrQueueFull
	}
}

// drainOne attempts one transmit, priority queue first, matching §5's
// ordering guarantee ("priority packets are sent before non-priority ones
// when both are queued").
func (b *Bridge) drainOne(ctx context.Context) {
	select {
	case buf := <-b.txPQueue:
		b.writeOut(ctx, buf)
		return
	default:
	}
	select {
	case buf := <-b.txQueue:
		b.writeOut(ctx, buf)
	default:
	}
}

func (b *Bridge) writeOut(ctx context.Context, buf []byte) {
	if err := b.link.Write(ctx, buf); err != nil {
		b.log.Warn("transmit failed", "error", err)
	}
}

// ReceiveTask reads frames from the link until ctx is cancelled,
// dispatching one at a time and attempting at most one downlink transmit
// per receive event (§5).
func (b *Bridge) ReceiveTask(ctx context.Context) {
	buf := make([]byte, wire.MaxAPDU+32)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := b.link.Read(ctx, buf)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			b.log.Warn("read failed", "error", err)
			continue
		}
		if n == 0 {
			continue
		}

		sicb, _, err := wire.Decode(buf[:n])
		if err != nil {
			b.log.Warn("decode failed", "error", err)
			continue
		}

		if sicb.Response {
			if ch, ok := b.takePending(sicb.Tag); ok {
				ch <- sicb
				continue
			}
		}

		if sicb.Cmd == wire.CommandComm && len(sicb.APDU) == 0 {
			// No command code to dispatch on: drop it and count it.
			b.link.Stats.Bump(link.CounterMissedPackets)
		} else if h, ok := b.handlers[sicb.Cmd]; ok {
			h(ctx, sicb)
		}

		b.drainOne(ctx)
	}
}

// LocalCommand sends req as a local NM request and blocks for its
// response, retrying once on timeout (§5: "a single local-response binary
// semaphore coordinates the local_command caller with the link receive
// task; the caller holds a separate local-NM mutex so only one local
// command may be in flight at a time").
func (b *Bridge) LocalCommand(ctx context.Context, req *wire.SICB, timeout time.Duration) (*wire.SICB, error) {
	b.localMu.Lock()
	defer b.localMu.Unlock()

	const retries = 2
	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		resp, err := b.sendLocalOnce(ctx, req, timeout)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !errors.Is(err, ErrTimeout) {
			return nil, err
		}
	}
	return nil, lastErr
}

func (b *Bridge) sendLocalOnce(ctx context.Context, req *wire.SICB, timeout time.Duration) (*wire.SICB, error) {
	tag := b.allocTag()
	req.Tag = tag

	ch := make(chan *wire.SICB, 1)
	b.pendingMu.Lock()
	b.pending[tag] = ch
	b.pendingMu.Unlock()
	defer func() {
		b.pendingMu.Lock()
		delete(b.pending, tag)
		b.pendingMu.Unlock()
	}()

	buf, err := req.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("mip: encoding local command: %w", err)
	}
	if err := b.link.Write(ctx, buf); err != nil {
		return nil, fmt.Errorf("mip: writing local command: %w", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case resp := <-ch:
		return resp, nil
	case <-timer.C:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *Bridge) allocTag() uint8 {
	b.pendingMu.Lock()
	defer b.pendingMu.Unlock()
	b.nextLocalTag = (b.nextLocalTag + 1) & 0xF
	return b.nextLocalTag
}

func (b *Bridge) takePending(tag uint8) (chan *wire.SICB, bool) {
	b.pendingMu.Lock()
	defer b.pendingMu.Unlock()
	ch, ok := b.pending[tag]
	if ok {
		delete(b.pending, tag)
	}
	return ch, ok
}

// DefaultRetransmitInterval is the link retransmit timer's default period
// (§5's "Link retransmit timer ... high" task, ~20ms backoff).
const DefaultRetransmitInterval = 20 * time.Millisecond

// RunRetransmitTimer drains one queued packet per tick until ctx is
// cancelled, paced by a rate.Limiter rather than a free-running ticker.
// The limiter paces only this loop; the drainOne calls ReceiveTask makes
// are not counted against it. It runs independently of ReceiveTask so a
// backlog drains even during a quiet network (§5: queued sends must
// still go out when no receive events are arriving to trigger drainOne).
func (b *Bridge) RunRetransmitTimer(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultRetransmitInterval
	}
	limiter := rate.NewLimiter(rate.Every(interval), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		b.drainOne(ctx)
	}
}

// commParamWriteFlags is the flags byte the comm-parameter write sequence
// uses: the reset and checksum-recompute bits (flags=12, §4.2).
const commParamWriteFlags byte = 12

// WriteCommParams runs the standard comm-parameter write sequence against
// the underlying link (§4.2).
func (b *Bridge) WriteCommParams(ctx context.Context, params [16]byte) (changed bool, err error) {
	changed, err = b.link.SetCommParams(ctx, params, commParamWriteFlags)
	if err != nil {
		return false, fmt.Errorf("mip: writing comm params: %w", err)
	}
	return changed, nil
}
