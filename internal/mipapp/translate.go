package mipapp

import (
	"github.com/lonworks/lon-device-stack/internal/devstack"
	"github.com/lonworks/lon-device-stack/internal/wire"
)

// SSI is signal-strength info attached to an uplink SICB: either the
// APDU's own attached value, or a synthesized "perfect" value keyed by
// which physical path (primary/alternate) the frame arrived on (§4.7).
type SSI struct {
	Value     byte
	Alternate bool
}

// perfectSSI is the synthesized register value used when no attached SSI
// is available.
const perfectSSI = 0xFF

// IncomingParams describes one uplink frame the link/MIP layer decoded,
// in the structured form the translator needs — not the raw wire bytes,
// since the physical address-type tag is a MIP driver concern outside
// this package's framing (§9, spec.md's wire-format non-goal).
type IncomingParams struct {
	Format          devstack.AddressType
	Subnet, Node    byte
	Group           byte
	UID             [6]byte
	FlexDomainMatch bool
	APDU            []byte
	AttachedSSI     *byte
	AlternatePath   bool
	IsWink          bool
}

// Uplink is what IncomingSICB hands to the host: the SICB to deliver plus
// the flex-domain flag and signal-strength info that don't belong on the
// wire-framing type itself.
type Uplink struct {
	SICB *wire.SICB
	Flex bool
	SSI  SSI
}

// Translator holds the cross-call state the SICB↔APDU conversion needs:
// the tag pool, the last saved downlink wink address, and this device's
// identity for the product-query escape.
type Translator struct {
	Tags *TagPool

	lastWinkAddr *wire.AddressBlock

	MIPAppVersion byte
	XcvrID        byte

	nss NSSData
}

// NewTranslator creates a Translator with a fresh tag pool of poolSize
// slots.
func NewTranslator(poolSize int, mipAppVersion, xcvrID byte) *Translator {
	return &Translator{
		Tags:          NewTagPool(poolSize),
		MIPAppVersion: mipAppVersion,
		XcvrID:        xcvrID,
	}
}

// IncomingSICB converts a decoded uplink frame to the SICB delivered to
// the host (§4.7).
func (t *Translator) IncomingSICB(in IncomingParams) Uplink {
	out := &wire.SICB{
		Cmd:     wire.CommandComm,
		Queue:   wire.QueueNonPriority,
		Service: wire.ServiceUnackd,
		APDU:    append([]byte(nil), in.APDU...),
	}

	format := in.Format
	addr := &wire.AddressBlock{}
	switch format {
	case devstack.AddressGroupAck:
		// Rewrite to SUBNET_NODE with grp=0, per §4.7.
		format = devstack.AddressSubnetNode
		addr.Raw[0] = byte(devstack.AddressSubnetNode)
		addr.Raw[3] = in.Subnet
		addr.Raw[4] = in.Node
	case devstack.AddressSubnetNode, devstack.AddressBroadcast:
		addr.Raw[0] = byte(format)
		addr.Raw[3] = in.Subnet
		addr.Raw[4] = in.Node
	case devstack.AddressGroup:
		addr.Raw[0] = byte(format)
		addr.Raw[3] = in.Group
	case devstack.AddressUniqueID:
		addr.Raw[0] = byte(format)
		copy(addr.Raw[3:5], in.UID[:2])
	}
	out.Address = addr
	out.Expanded = true

	flex := false
	if in.FlexDomainMatch {
		flex = true
	}

	// A zero-data WINK on a turnaround restores the previously-saved
	// downlink wink address so the host sees matched addresses (§4.7).
	if in.IsWink && len(in.APDU) <= 1 && t.lastWinkAddr != nil {
		out.Address = t.lastWinkAddr
	}

	ssi := SSI{Value: perfectSSI, Alternate: in.AlternatePath}
	if in.AttachedSSI != nil {
		ssi = SSI{Value: *in.AttachedSSI, Alternate: in.AlternatePath}
	}

	return Uplink{SICB: out, Flex: flex, SSI: ssi}
}

// Downlink address-flag bits, carried in the high byte of an address
// entry's type tag for the extended encodings §4.7 mentions.
const (
	AddrFlagPriority  byte = 1 << 3
	AddrFlagLongTimer byte = 1 << 4 // LT_LONGTIME: shift tx/rpt timer range by +16
	AddrFlagAttenuate byte = 1 << 5
	AddrFlagZeroSync  byte = 1 << 6
	AddrFlagOverride  byte = 1 << 7
)

// SendParams is a downlink SICB-generation request from the application
// (§4.7's send/sendMsg).
type SendParams struct {
	Addr       devstack.AddressEntry
	AddrFlags  byte
	APDU       []byte
	IsWink     bool
	LocalNMTag byte // non-zero: this is a response to a pending local NM request
	NSAWrite   bool
	NSAAddr    uint16
	NSAData    []byte
}

// SendResult is what Send produces: the SICB to hand to the MIP, or a
// short-circuited local NM response when the request never needs to go
// on the wire.
type SendResult struct {
	SICB       *wire.SICB
	LocalReply bool // true: don't transmit, deliver SICB straight back up
}

// nsaStatusAddr is the one-shot stack-error NSA address §4.7 special-cases.
const nsaStatusAddr = 0xF1FD

// Send converts an application send request into the SICB to transmit,
// applying the long-timer escape, the priority and override flags,
// local-NM response short-circuiting, and NSA-relative write handling
// (§4.7). The attenuate and zero-sync flags are not read and have no
// effect on the SICB.
func (t *Translator) Send(p SendParams) SendResult {
	if p.LocalNMTag != 0 {
		if sicb, ok := t.Tags.Lookup(p.LocalNMTag); ok {
			return SendResult{SICB: sicb, LocalReply: true}
		}
	}

	if p.NSAWrite {
		if p.NSAAddr == nsaStatusAddr && len(p.NSAData) == 1 {
			// Short-circuited with success, not actually transmitted
			// (§4.7); the written byte is not logged or recorded.
			return SendResult{SICB: &wire.SICB{APDU: []byte{0x01}}, LocalReply: true}
		}
		// General NSA-relative write: bounds-checked copy into local NSA
		// storage; success/fail folded into the reply APDU's first byte.
		ok := p.NSAAddr < uint16(len(t.nss.Local))
		status := byte(1)
		if !ok {
			status = 0
		} else {
			copy(t.nss.Local[p.NSAAddr:], p.NSAData)
		}
		return SendResult{SICB: &wire.SICB{APDU: []byte{status}}, LocalReply: true}
	}

	out := &wire.SICB{
		Cmd:     wire.CommandComm,
		Queue:   wire.QueueNonPriority,
		Service: wire.ServiceACKD,
		APDU:    append([]byte(nil), p.APDU...),
	}
	if p.AddrFlags&AddrFlagLongTimer != 0 {
		p.Addr.TxTimer += 16
	}
	if p.AddrFlags&AddrFlagPriority != 0 {
		out.Queue = wire.QueuePriority
		out.Priority = true
	}
	if p.AddrFlags&AddrFlagOverride != 0 {
		out.Service = wire.ServiceUnackd
	}

	enc := p.Addr.Encode()
	out.Address = &wire.AddressBlock{Raw: [12]byte{enc[0], enc[1], enc[2], enc[3], enc[4]}}
	out.Expanded = true

	if p.IsWink {
		t.lastWinkAddr = out.Address
	}

	return SendResult{SICB: out}
}

// Complete reconstructs the uplink completion-event SICB for tag, per
// §4.7's msgCompletes: cmd=COMM, queue=RESPONSE (modeled here as
// QueueLocal since it never goes back out on the wire), dlen=2, carrying
// the success/fail flag.
func (t *Translator) Complete(tag byte, success bool) (Uplink, bool) {
	orig, ok := t.Tags.Lookup(tag)
	if !ok {
		return Uplink{}, false
	}
	t.Tags.Release(tag)

	status := byte(0)
	if success {
		status = 1
	}
	out := &wire.SICB{
		Cmd:      wire.CommandComm,
		Queue:    wire.QueueLocal,
		Response: true,
		Address:  orig.Address,
		APDU:     []byte{0x00, status},
	}
	return Uplink{SICB: out}, true
}

// ProductQuery answers the local/broadcast ESCAPE_GENERAL/PRODUCT_QUERY
// NM escape (§4.7).
func (t *Translator) ProductQuery() []byte {
	return []byte{3, 4, t.MIPAppVersion, 0, t.XcvrID, 0}
}
