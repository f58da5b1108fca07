// Package netmgmt implements C6, the network-manager dispatcher: a
// single-threaded worker that receives decoded NM request APDUs, runs the
// authentication/blackout/EEPROM-lock/ECS-lockout gates of spec.md §4.6,
// dispatches on command code, mutates internal/devstack's tables, and
// builds the NM_SUCCESS/NM_FAIL reply.
package netmgmt

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lonworks/lon-device-stack/internal/devstack"
)

// FailReason names the abstract error kinds of spec.md §7 that a handler
// maps to a specific NM failure; the value itself never reaches the wire,
// only Result.Success/Payload does.
type FailReason string

const (
	ReasonInvalidParameter      FailReason = "invalid_parameter"
	ReasonAuthenticationMismatch FailReason = "authentication_mismatch"
	ReasonEEPROMWriteFailure    FailReason = "eeprom_write_failure"
	ReasonNoResources           FailReason = "no_resources"
)

// Request is a decoded NM request APDU ready for dispatch.
type Request struct {
	Code        byte
	Data        []byte
	Domain      int    // domain table index the request arrived on; selects the authentication key
	AuthTag     []byte // keyed-MAC tag carried on the wire when the sender set the auth bit; nil means unauthenticated
	FromNetwork bool   // false for local/turnaround NM requests
}

// Result is what a command handler produces; the dispatcher turns it
// into a wire reply (or no reply at all).
type Result struct {
	Success    bool
	Payload    []byte
	Reason     FailReason
	NoReply    bool // NOT_QUALIFIED: suppress any response
	AppMessage bool // forward the whole request to the application layer
	Store      bool // handler mutated C5 and needs Stack.Commit
}

func ok(payload []byte) Result       { return Result{Success: true, Payload: payload} }
func okStore(payload []byte) Result  { return Result{Success: true, Payload: payload, Store: true} }
func fail(reason FailReason) Result  { return Result{Success: false, Reason: reason} }
func notQualified() Result           { return Result{NoReply: true} }
func appMessage() Result             { return Result{AppMessage: true} }

// Handler implements one command's logic against the dispatcher's device
// stack and ambient flags (respond-to-query, router mode, ...).
type Handler func(ctx context.Context, d *Dispatcher, req Request) Result

// Reply is the fully-built wire response, or a signal that none should be
// sent.
type Reply struct {
	Code    byte // NM_SUCCESS(code) or NM_FAIL(code)
	Payload []byte
	Send    bool
}

// Dispatcher is C6: authentication/blackout/lockout gates plus the
// command-code handler table, running against one devstack.Stack.
type Dispatcher struct {
	stack    *devstack.Stack
	handlers map[byte]Handler
	log      *slog.Logger

	// These mirror device state the gates need but that doesn't live on
	// devstack.Stack itself; the NM authentication flag is read from
	// stack.Config.NMAuth.
	configured    bool
	eepromLocked  bool
	isRouter      bool
	mipFilter     bool
	ecsEverWritten bool
	respondToQuery bool

	queue chan queuedRequest
}

type queuedRequest struct {
	req   Request
	reply chan Reply
}

// DefaultQueueDepth is the bounded request queue capacity (§4.6: "cap 10
// in the source; configurable").
const DefaultQueueDepth = 10

// New creates a Dispatcher bound to stack.
func New(stack *devstack.Stack, log *slog.Logger, queueDepth int) *Dispatcher {
	if queueDepth <= 0 {
		queueDepth = DefaultQueueDepth
	}
	if log == nil {
		log = slog.Default()
	}
	d := &Dispatcher{
		stack: stack,
		log:   log.With("component", "netmgmt"),
		queue: make(chan queuedRequest, queueDepth),
	}
	d.handlers = d.buildHandlerTable()
	return d
}

// SetConfigured records whether the device is in the CONFIGURED state;
// the authentication gate only applies to a configured device.
func (d *Dispatcher) SetConfigured(v bool) { d.configured = v }

// SetEEPROMLocked records whether the EEPROM write lock is held.
func (d *Dispatcher) SetEEPROMLocked(v bool) { d.eepromLocked = v }

// SetRouter records whether this stack is a router (affects routing
// command gating).
func (d *Dispatcher) SetRouter(v bool) { d.isRouter = v }

// SetMIPFilter enables forwarding NV/ECS-class commands to the
// application instead of handling them locally (§4.6 step 5).
func (d *Dispatcher) SetMIPFilter(v bool) { d.mipFilter = v }

// SetRespondToQuery records the respond-to-query flag QUERY_ID's
// selector 1/2 test against (§4.6).
func (d *Dispatcher) SetRespondToQuery(v bool) { d.respondToQuery = v }

// Stack exposes the underlying device stack for callers (e.g. internal/mipapp)
// that need direct read access outside the dispatch path.
func (d *Dispatcher) Stack() *devstack.Stack { return d.stack }

// ECSLocked reports whether any ECS write has ever succeeded against this
// stack, permanently locking out the eight legacy commands (§8.3).
func (d *Dispatcher) ECSLocked() bool { return d.ecsEverWritten }

// Submit enqueues req and blocks until Run's worker has produced a reply
// or ctx is done. Submit never blocks the link receive path itself —
// callers are expected to run it from a goroutine dedicated to NM
// delivery (§5: "the NM worker never blocks the receive path").
func (d *Dispatcher) Submit(ctx context.Context, req Request) (Reply, error) {
	qr := queuedRequest{req: req, reply: make(chan Reply, 1)}
	select {
	case d.queue <- qr:
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	default:
		return Reply{}, fmt.Errorf("netmgmt: %w", ErrQueueFull)
	}
	select {
	case r := <-qr.reply:
		return r, nil
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
}

// Run drains the request queue until ctx is cancelled, dispatching each
// request in turn. It is meant to run as the single NM worker goroutine
// (§5).
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case qr := <-d.queue:
			reply := d.dispatch(ctx, qr.req)
			qr.reply <- reply
		}
	}
}

// Dispatch runs a request synchronously against the gates and handler
// table, bypassing the queue; useful for local/turnaround NM commands
// that must complete inline (§5: "a separate local-NM mutex so only one
// local command may be in flight at a time" — callers serialize that
// themselves).
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Reply {
	return d.dispatch(ctx, req)
}

func (d *Dispatcher) dispatch(ctx context.Context, req Request) Reply {
	// Gate 1: authentication. A configured, nm_auth device requires a
	// valid keyed-MAC tag over the command code and data, verified
	// against the domain the request arrived on (§4.6 step 1).
	if d.configured && d.stack.Config.NMAuth && !alwaysAllowed[req.Code] && !isAlwaysAllowedExpandedQuery(req) {
		dom, err := d.stack.Domains.Get(req.Domain)
		if err != nil || !verifyAuthTag(dom, req.Code, req.Data, req.AuthTag) {
			return buildReply(req.Code, fail(ReasonAuthenticationMismatch))
		}
	}

	// Gate 2: blackout suppression — drop the very next modifying command
	// silently after a detected blackout (§4.6 step 2, §8.8).
	if modifying[req.Code] && d.stack.ConsumeBlackoutSuppression() {
		d.log.Warn("dropping command after blackout", "code", req.Code)
		return Reply{Send: false}
	}

	// Gate 3: EEPROM lock.
	if modifying[req.Code] && d.eepromLocked {
		return buildReply(req.Code, fail(ReasonEEPROMWriteFailure))
	}

	// Gate 4: ECS lockout.
	if d.ecsEverWritten && legacyLockedByECS[req.Code] {
		return buildReply(req.Code, fail(ReasonInvalidParameter))
	}

	// Gate 5: MIP filter — forward NV/ECS-class commands to the app.
	if d.mipFilter && nvOrECSClass[req.Code] {
		return buildReply(req.Code, appMessage())
	}

	// Gate 6: router-only commands on a node stack.
	if routerOnly[req.Code] && !d.isRouter {
		return buildReply(req.Code, fail(ReasonInvalidParameter))
	}

	h, known := d.handlers[req.Code]
	if !known {
		return buildReply(req.Code, fail(ReasonInvalidParameter))
	}

	res := h(ctx, d, req)
	if res.Store {
		if err := d.stack.BeginWrite(ctx); err != nil {
			d.log.Error("begin write failed", "error", err)
			return buildReply(req.Code, fail(ReasonEEPROMWriteFailure))
		}
		if err := d.stack.Commit(ctx, true); err != nil {
			d.log.Error("commit failed", "error", err)
			return buildReply(req.Code, fail(ReasonEEPROMWriteFailure))
		}
		if req.Code == Expanded {
			d.ecsEverWritten = true
		}
	}
	return buildReply(req.Code, res)
}

func buildReply(code byte, res Result) Reply {
	if res.NoReply || res.AppMessage {
		return Reply{Send: false}
	}
	if res.Success {
		return Reply{Code: 0x20 | (code & 0x1F), Payload: res.Payload, Send: true}
	}
	return Reply{Code: code & 0x1F, Payload: res.Payload, Send: true}
}
