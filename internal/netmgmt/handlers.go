package netmgmt

import (
	"context"

	"github.com/lonworks/lon-device-stack/internal/devstack"
)

func (d *Dispatcher) buildHandlerTable() map[byte]Handler {
	return map[byte]Handler{
		QueryStatus:           handleQueryStatus,
		QueryStatusFlexDomain: handleQueryStatus,
		QueryID:               handleQueryID,
		RespondToQuery:        handleRespondToQuery,
		UpdateDomain:          handleUpdateDomain,
		LeaveDomain:           handleLeaveDomain,
		QueryDomain:           handleQueryDomain,
		Security:              handleSecurity,
		UpdateAddress:         handleUpdateAddress,
		QueryAddress:          handleQueryAddress,
		UpdateGroupAddress:    handleUpdateAddress,
		UpdateNVConfig:        handleUpdateNVConfig,
		QueryNVConfig:         handleQueryNVConfig,
		ChecksumRecalc:        handleChecksumRecalc,
		NodeMode:              handleNodeMode,
		ReadMemory:            handleReadMemory,
		WriteMemory:           handleWriteMemory,
		Proxy:                 handleProxy,
		QueryXcvrStatus:       handleXcvrStatus,
		BidirXcvrStatus:       handleXcvrStatus,
		Expanded:              handleExpanded,
		SetRouterMode:         handleRouterStub,
		ClearRoutingTable:     handleRouterStub,
		SetRoutingTable:       handleRouterStub,
		SetGroupFwd:           handleRouterStub,
		ClearGroupFwd:         handleRouterStub,
		SetSubnetFwd:          handleRouterStub,
		ClearSubnetFwd:        handleRouterStub,
		DeviceEscape:          handleEscapeStub,
		RouterEscape:          handleEscapeStub,
		ServicePin:            handleEscapeStub,
	}
}

// handleQueryStatus returns a minimal status payload: node state and
// error log (§4.6, §7's service-LED state path reads the same state).
func handleQueryStatus(_ context.Context, d *Dispatcher, _ Request) Result {
	return ok([]byte{byte(d.stack.RO.State), d.stack.ErrorLog()})
}

// handleQueryID implements the conditional QUERY_ID: selector 0 requires
// UNCONFIGURED, selector 1 requires the respond-to-query flag, selector 2
// requires both; only a qualifying node replies, matching S1's behavior
// for selector 0 (§8, S1).
func handleQueryID(_ context.Context, d *Dispatcher, req Request) Result {
	if len(req.Data) < 1 {
		return fail(ReasonInvalidParameter)
	}
	selector := req.Data[0]

	qualifies := false
	switch selector {
	case 0:
		qualifies = d.stack.RO.State == devstack.StateUnconfigured
	case 1:
		qualifies = d.respondToQuery
	case 2:
		qualifies = d.stack.RO.State == devstack.StateUnconfigured && d.respondToQuery
	default:
		return fail(ReasonInvalidParameter)
	}
	if !qualifies {
		return notQualified()
	}

	payload := make([]byte, 0, 14)
	payload = append(payload, d.stack.RO.UID[:]...)
	payload = append(payload, d.stack.RO.ProgramID[:]...)
	return ok(payload)
}

// handleRespondToQuery toggles the flag QUERY_ID's selectors 1/2 test.
func handleRespondToQuery(_ context.Context, d *Dispatcher, req Request) Result {
	if len(req.Data) < 1 {
		return fail(ReasonInvalidParameter)
	}
	d.respondToQuery = req.Data[0] != 0
	return okStore(nil)
}

// domainUpdateLen is the request payload length for UpdateDomain: index
// (1) + id (6) + length (1) + subnet (1) + node (1) + key (6).
const domainUpdateLen = 16

func handleUpdateDomain(_ context.Context, d *Dispatcher, req Request) Result {
	if len(req.Data) < domainUpdateLen {
		return fail(ReasonInvalidParameter)
	}
	idx := int(req.Data[0])
	id := req.Data[1:7]
	length := int(req.Data[7])
	subnet := req.Data[8]
	node := req.Data[9]
	key := req.Data[10:16]

	if err := d.stack.Domains.Update(idx, id, length, subnet, node, key, false); err != nil {
		return fail(ReasonInvalidParameter)
	}
	return okStore(nil)
}

func handleLeaveDomain(_ context.Context, d *Dispatcher, req Request) Result {
	if len(req.Data) < 1 {
		return fail(ReasonInvalidParameter)
	}
	if err := d.stack.Domains.Leave(int(req.Data[0])); err != nil {
		return fail(ReasonInvalidParameter)
	}
	return okStore(nil)
}

func handleQueryDomain(_ context.Context, d *Dispatcher, req Request) Result {
	if len(req.Data) < 1 {
		return fail(ReasonInvalidParameter)
	}
	e, err := d.stack.Domains.Get(int(req.Data[0]))
	if err != nil {
		return fail(ReasonInvalidParameter)
	}
	payload := make([]byte, 0, 15)
	payload = append(payload, e.ID[:]...)
	payload = append(payload, byte(e.Length), e.Subnet, e.Node)
	payload = append(payload, e.Key[:6]...)
	return ok(payload)
}

// handleSecurity updates a domain's key material only, leaving id/subnet/
// node untouched (§4.6: "SECURITY: ... updating key separately from
// address").
func handleSecurity(_ context.Context, d *Dispatcher, req Request) Result {
	if len(req.Data) < 7 {
		return fail(ReasonInvalidParameter)
	}
	idx := int(req.Data[0])
	key := req.Data[1:7]
	oma := len(req.Data) >= 13
	if oma {
		key = req.Data[1:13]
	}
	if err := d.stack.Domains.UpdateKey(idx, key, oma); err != nil {
		return fail(ReasonInvalidParameter)
	}
	return okStore(nil)
}

func handleUpdateAddress(_ context.Context, d *Dispatcher, req Request) Result {
	if len(req.Data) < 6 {
		return fail(ReasonInvalidParameter)
	}
	idx := int(req.Data[0])
	e, err := devstack.DecodeAddressEntry(req.Data[1:6])
	if err != nil {
		return fail(ReasonInvalidParameter)
	}
	if err := d.stack.Addrs.Update(idx, e); err != nil {
		return fail(ReasonInvalidParameter)
	}
	return okStore(nil)
}

func handleQueryAddress(_ context.Context, d *Dispatcher, req Request) Result {
	if len(req.Data) < 1 {
		return fail(ReasonInvalidParameter)
	}
	e, err := d.stack.Addrs.Get(int(req.Data[0]))
	if err != nil {
		return fail(ReasonInvalidParameter)
	}
	b := e.Encode()
	return ok(b[:])
}

// nvConfigLen is NVEntry's fixed wire length: selector (2, only 14 bits
// used) + flags byte + addr index + reserved.
const nvConfigLen = 5

func handleUpdateNVConfig(_ context.Context, d *Dispatcher, req Request) Result {
	if len(req.Data) < 1+nvConfigLen {
		return fail(ReasonInvalidParameter)
	}
	idx := int(req.Data[0])
	e := decodeNVEntry(req.Data[1 : 1+nvConfigLen])
	if err := d.stack.NVs.UpdateNV(idx, e); err != nil {
		return fail(ReasonInvalidParameter)
	}
	return okStore(nil)
}

func handleQueryNVConfig(_ context.Context, d *Dispatcher, req Request) Result {
	if len(req.Data) < 1 {
		return fail(ReasonInvalidParameter)
	}
	isAlias, nv, alias, err := d.stack.NVs.GetLegacy(int(req.Data[0]))
	if err != nil {
		return fail(ReasonInvalidParameter)
	}
	if isAlias {
		return ok(encodeNVEntry(alias.Override))
	}
	return ok(encodeNVEntry(nv))
}

func decodeNVEntry(b []byte) devstack.NVEntry {
	var e devstack.NVEntry
	e.Selector = uint16(b[0])<<8 | uint16(b[1])
	e.Direction = devstack.NVDirection(b[2] >> 7 & 1)
	e.Priority = b[2]&(1<<6) != 0
	e.Authenticated = b[2]&(1<<5) != 0
	e.Turnaround = b[2]&(1<<4) != 0
	e.ServiceType = b[2] & 0x3
	e.AddrIndex = b[3]
	return e
}

func encodeNVEntry(e devstack.NVEntry) []byte {
	b := make([]byte, nvConfigLen)
	b[0] = byte(e.Selector >> 8)
	b[1] = byte(e.Selector)
	var flags byte
	flags |= byte(e.Direction&1) << 7
	if e.Priority {
		flags |= 1 << 6
	}
	if e.Authenticated {
		flags |= 1 << 5
	}
	if e.Turnaround {
		flags |= 1 << 4
	}
	flags |= e.ServiceType & 0x3
	b[2] = flags
	b[3] = e.AddrIndex
	return b
}

// handleChecksumRecalc forces a checksum recompute through a normal
// commit path (§4.5's recompute==true branch never triggers blackout).
func handleChecksumRecalc(ctx context.Context, d *Dispatcher, _ Request) Result {
	return okStore(nil)
}

// Node-mode subcommands (§4.6).
const (
	modeOffline    byte = 0
	modeOnline     byte = 1
	modeResetTx    byte = 2
	modeReset      byte = 3
	modeChangeState byte = 4
)

func handleNodeMode(_ context.Context, d *Dispatcher, req Request) Result {
	if len(req.Data) < 1 {
		return fail(ReasonInvalidParameter)
	}
	switch req.Data[0] {
	case modeOffline, modeOnline:
		return appMessage()
	case modeResetTx:
		return okStore(nil)
	case modeReset:
		return okStore(nil)
	case modeChangeState:
		if len(req.Data) < 2 {
			return fail(ReasonInvalidParameter)
		}
		d.stack.RO.State = devstack.NodeState(req.Data[1])
		d.stack.Config.State = devstack.NodeState(req.Data[1])
		return okStore(nil)
	default:
		return fail(ReasonInvalidParameter)
	}
}

// Memory-access modes (§4.6).
type memMode byte

const (
	memRelativeRO     memMode = 0
	memRelativeConfig memMode = 1
	memRelativeStats  memMode = 2
	memAbsolute       memMode = 3
)

func handleReadMemory(_ context.Context, d *Dispatcher, req Request) Result {
	if len(req.Data) < 3 {
		return fail(ReasonInvalidParameter)
	}
	mode := memMode(req.Data[0])
	offset := int(req.Data[1])
	length := int(req.Data[2])

	switch mode {
	case memRelativeRO:
		b, err := d.stack.RO.ToWire(offset, length)
		if err != nil {
			return fail(ReasonInvalidParameter)
		}
		return ok(b)
	case memRelativeConfig:
		b, err := d.stack.Config.ToWire(offset, length)
		if err != nil {
			return fail(ReasonInvalidParameter)
		}
		return ok(b)
	case memRelativeStats:
		// Network statistics are owned by C1/C2; this layer has no
		// stats image of its own to read yet.
		return fail(ReasonInvalidParameter)
	case memAbsolute:
		// Absolute reads map to application memory only (§4.6).
		return appMessage()
	default:
		return fail(ReasonInvalidParameter)
	}
}

func handleWriteMemory(ctx context.Context, d *Dispatcher, req Request) Result {
	if len(req.Data) < 4 {
		return fail(ReasonInvalidParameter)
	}
	mode := memMode(req.Data[0])
	offset := int(req.Data[1])
	length := int(req.Data[2])
	flags := req.Data[3]
	if len(req.Data) < 4+length {
		return fail(ReasonInvalidParameter)
	}
	payload := req.Data[4 : 4+length]
	recompute := flags&1 != 0

	switch mode {
	case memRelativeRO:
		if err := d.stack.RO.FromWire(offset, payload); err != nil {
			return fail(ReasonInvalidParameter)
		}
	case memRelativeConfig:
		if err := d.stack.Config.FromWire(offset, payload); err != nil {
			return fail(ReasonInvalidParameter)
		}
		if !recompute {
			// §4.5: a config-relative write without a trusted checksum
			// recompute forces the node unconfigured rather than trust
			// unverified data (S3).
			if err := d.stack.BeginWrite(ctx); err != nil {
				return fail(ReasonEEPROMWriteFailure)
			}
			if err := d.stack.Commit(ctx, false); err != nil {
				return fail(ReasonEEPROMWriteFailure)
			}
			return ok(nil)
		}
	case memAbsolute:
		// Absolute writes in the app region are delegated to the app;
		// anywhere else fails (§4.6).
		return appMessage()
	default:
		return fail(ReasonInvalidParameter)
	}
	return okStore(nil)
}

// handleProxy sends no reply to the original request and does not
// rebuild or forward the nested request; outgoing-SICB reconstruction
// belongs to internal/mipapp, which owns address/SICB translation (§4.6).
func handleProxy(_ context.Context, _ *Dispatcher, _ Request) Result {
	return Result{NoReply: true}
}

// handleXcvrStatus synthesizes "perfect" transceiver register values for
// local/turnaround requests; hardware-backed reads for genuine network
// requests are internal/link's concern and aren't wired through here yet.
func handleXcvrStatus(_ context.Context, _ *Dispatcher, req Request) Result {
	if req.FromNetwork {
		return fail(ReasonNoResources)
	}
	// 6-byte "perfect" register block: no errors, full margin.
	return ok([]byte{0, 0, 0, 0, 0, 0})
}

func handleRouterStub(_ context.Context, _ *Dispatcher, _ Request) Result {
	return okStore(nil)
}

// handleEscapeStub acknowledges DEVICE_ESCAPE/ROUTER_ESCAPE/SERVICE_PIN at
// the NM dispatch layer with an empty success reply. The product-query
// and ESCAPE_NSS bodies (§4.7) are produced by internal/mipapp's
// Translator (ProductQuery, EscapeNSS); nothing in this module routes
// escape requests to them.
func handleEscapeStub(_ context.Context, _ *Dispatcher, _ Request) Result {
	return ok(nil)
}
