package netmgmt

import (
	"context"
	"encoding/binary"

	"github.com/lonworks/lon-device-stack/internal/devstack"
)

// handleExpanded dispatches the EXPANDED command's sub-commands (§4.6).
// The first response byte always repeats the sub-command, even on
// failure, and a successful write here is what trips the permanent ECS
// lockout (§8.3) — the dispatcher sets that flag when Result.Store is
// true and req.Code == Expanded.
func handleExpanded(ctx context.Context, d *Dispatcher, req Request) Result {
	if len(req.Data) < 1 {
		return fail(ReasonInvalidParameter)
	}
	sub := req.Data[0]
	rest := req.Data[1:]

	res := dispatchExpandedSub(ctx, d, sub, rest)
	if res.NoReply || res.AppMessage {
		return res
	}
	res.Payload = append([]byte{sub}, res.Payload...)
	return res
}

func dispatchExpandedSub(_ context.Context, d *Dispatcher, sub byte, data []byte) Result {
	switch sub {
	case ExpQueryCommandSetVersion:
		caps := CapOMA | CapProxy | CapPhaseDetect | CapBiDirSSI | CapInitConfig
		payload := make([]byte, 4)
		binary.BigEndian.PutUint16(payload[0:2], NMVersion)
		binary.BigEndian.PutUint16(payload[2:4], caps)
		return ok(payload)

	case ExpOMAKeyQuery:
		if len(data) < 1 {
			return fail(ReasonInvalidParameter)
		}
		e, err := d.stack.Domains.Get(int(data[0]))
		if err != nil {
			return fail(ReasonInvalidParameter)
		}
		if !e.OMA {
			return fail(ReasonInvalidParameter)
		}
		return ok(append([]byte(nil), e.Key[:]...))

	case ExpOMAKeyUpdate:
		if len(data) < 13 {
			return fail(ReasonInvalidParameter)
		}
		idx := int(data[0])
		key := data[1:13]
		if err := d.stack.Domains.UpdateKey(idx, key, true); err != nil {
			return fail(ReasonInvalidParameter)
		}
		return okStore(nil)

	case ExpInitConfig:
		d.stack.RO.State = devstack.StateApplicationless
		d.stack.Config.State = devstack.StateApplicationless
		return okStore(nil)

	case ExpUpdateNVConfig:
		// 16-bit index variant of legacy UPDATE_NV_CNFG.
		if len(data) < 2+nvConfigLen {
			return fail(ReasonInvalidParameter)
		}
		idx := int(binary.BigEndian.Uint16(data[0:2]))
		e := decodeNVEntry(data[2 : 2+nvConfigLen])
		if err := d.stack.NVs.UpdateNV(idx, e); err != nil {
			return fail(ReasonInvalidParameter)
		}
		return okStore(nil)

	case ExpQueryNVConfig:
		if len(data) < 2 {
			return fail(ReasonInvalidParameter)
		}
		idx := int(binary.BigEndian.Uint16(data[0:2]))
		e, err := d.stack.NVs.GetNV(idx)
		if err != nil {
			return fail(ReasonInvalidParameter)
		}
		return ok(encodeNVEntry(e))

	case ExpUpdateAliasConfig:
		if len(data) < 2+nvConfigLen+2 {
			return fail(ReasonInvalidParameter)
		}
		idx := int(binary.BigEndian.Uint16(data[0:2]))
		primary := int(binary.BigEndian.Uint16(data[2:4]))
		e := decodeNVEntry(data[4 : 4+nvConfigLen])
		if err := d.stack.NVs.UpdateAlias(idx, devstack.AliasEntry{Primary: primary, Override: e}); err != nil {
			return fail(ReasonInvalidParameter)
		}
		return okStore(nil)

	case ExpAnnounceConfig:
		// LS-address-mapping announcement tuning; owned by
		// internal/socketmap's DevConfig, not C5 — acknowledged here so
		// the EXPANDED reply shape stays uniform.
		return okStore(nil)

	case ExpQueryIPAddr:
		if len(data) < 8 {
			return fail(ReasonInvalidParameter)
		}
		// data: domain(6) subnet(1) node(1). The reply is always the
		// 4-byte IPv4 address 0.0.0.0; the address this device would use
		// for that LS source is not computed here.
		return ok([]byte{0, 0, 0, 0})

	default:
		return fail(ReasonInvalidParameter)
	}
}
