// Package wire implements the byte-level framing shared by the MIP bridge
// (internal/mip) and the MIP-app translator (internal/mipapp): the SICB
// (Service Interface Control Block) that frames every message exchanged
// with the MIP, and the APDU it carries.
//
// Framing here is NOT bit-exact with the original LonTalk/IzoT source —
// spec.md explicitly excludes that from scope — but it preserves every
// documented invariant: the length-escape rule, the exp/rsp/auth flag
// semantics, and dlen counting only APDU bytes.
package wire

import (
	"encoding/binary"
	"fmt"
)

// Command is the first byte of an outbound SICB, naming the operation the
// MIP should perform.
type Command uint8

const (
	CommandComm     Command = 0x12 // MI_COMM: carries an APDU to send on the network
	CommandNetMgmt  Command = 0x13 // MI_NETMGMT: local network-management request/response
	CommandFlush    Command = 0x14 // MI_FLUSH: discard queued transmits
	CommandReset    Command = 0x50 // MI_RESET: reset the MIP
)

// Service is the SICB service-type field (byte 4.2's svc:2 bits).
type Service uint8

const (
	ServiceACKD   Service = iota // acknowledged
	ServiceUnackd                // unacknowledged
	ServiceRequest                // request/response
	ServiceUnackdRpt             // unacknowledged-repeat
)

// Queue selects which transmit queue a packet is placed in (§4.2: TQ vs TQP).
type Queue uint8

const (
	QueueNonPriority Queue = iota
	QueuePriority
	QueueLocal // local NM command/response, not carried on the wire
)

// lengthEscape is the byte-1 value signalling a 16-bit extended length
// follows in bytes 2-3, little-endian (§6).
const lengthEscape = 0xFF

// MaxGuaranteedAPDU is the APDU length guaranteed to fit without
// fragmentation concerns (§3).
const MaxGuaranteedAPDU = 227

// MaxAPDU is the absolute maximum APDU length (§3).
const MaxAPDU = 253

// AddressBlock is the optional outgoing/incoming address block of an SICB.
// Classic form is 5 bytes; the OMA (12-byte key) variant is 12 bytes,
// selected by OMA.
type AddressBlock struct {
	Raw [12]byte
	OMA bool
}

// Len returns the encoded size of the address block.
func (a *AddressBlock) Len() int {
	if a == nil {
		return 0
	}
	if a.OMA {
		return 12
	}
	return 5
}

// Bytes returns the encoded address block bytes.
func (a *AddressBlock) Bytes() []byte {
	if a == nil {
		return nil
	}
	return a.Raw[:a.Len()]
}

// SICB is a decoded Service Interface Control Block: header flags, an
// optional address block, and the APDU it carries.
type SICB struct {
	Cmd      Command
	Queue    Queue
	Service  Service
	Auth     bool // authenticated
	Priority bool
	PathSpec bool // alternate path requested
	Response bool // this SICB is a response
	Expanded bool // explicit addressing follows (exp=1)
	Tag      uint8

	Address *AddressBlock

	// APDU is the application code byte followed by 0..(MaxAPDU-1) data
	// bytes. dlen in the round-trip invariant (§8.1) is len(APDU).
	APDU []byte
}

const headerLen = 2

// flags1 packs queue (bits 4-7), service (bits 2-3), auth (bit 1), priority (bit 0).
func (s *SICB) flags1() byte {
	var b byte
	b |= byte(s.Queue&0xF) << 4
	b |= byte(s.Service&0x3) << 2
	if s.Auth {
		b |= 1 << 1
	}
	if s.Priority {
		b |= 1
	}
	return b
}

// flags2 packs pathspec (bit 2), response (bit 1), expanded (bit 0), tag (bits 4-7).
func (s *SICB) flags2() byte {
	var b byte
	b |= byte(s.Tag&0xF) << 4
	if s.PathSpec {
		b |= 1 << 2
	}
	if s.Response {
		b |= 1 << 1
	}
	if s.Expanded {
		b |= 1
	}
	return b
}

func (s *SICB) setFlags(f1, f2 byte) {
	s.Queue = Queue((f1 >> 4) & 0xF)
	s.Service = Service((f1 >> 2) & 0x3)
	s.Auth = f1&(1<<1) != 0
	s.Priority = f1&1 != 0

	s.Tag = (f2 >> 4) & 0xF
	s.PathSpec = f2&(1<<2) != 0
	s.Response = f2&(1<<1) != 0
	s.Expanded = f2&1 != 0
}

// MarshalBinary encodes the SICB to its wire form.
//
// Invariant (§8.1): for every valid SICB s, Decode(Encode(s)) reproduces s,
// and the decoded APDU has the same length as s.APDU.
func (s *SICB) MarshalBinary() ([]byte, error) {
	if len(s.APDU) > MaxAPDU {
		return nil, fmt.Errorf("wire: APDU length %d exceeds max %d", len(s.APDU), MaxAPDU)
	}

	addrLen := s.Address.Len()
	body := headerLen + addrLen + len(s.APDU)

	var out []byte
	out = append(out, byte(s.Cmd))
	if body >= lengthEscape {
		out = append(out, lengthEscape)
		var ext [2]byte
		binary.LittleEndian.PutUint16(ext[:], uint16(body))
		out = append(out, ext[:]...)
	} else {
		out = append(out, byte(body))
	}

	out = append(out, s.flags1(), s.flags2())
	out = append(out, s.Address.Bytes()...)
	out = append(out, s.APDU...)
	return out, nil
}

// Decode parses an encoded SICB. It returns the number of bytes consumed
// from buf so callers can decode multiple frames out of one read buffer.
func Decode(buf []byte) (*SICB, int, error) {
	if len(buf) < 2 {
		return nil, 0, fmt.Errorf("wire: short SICB header (%d bytes)", len(buf))
	}

	cmd := Command(buf[0])
	var body int
	var headerEnd int
	if buf[1] == lengthEscape {
		if len(buf) < 4 {
			return nil, 0, fmt.Errorf("wire: short extended-length SICB header")
		}
		body = int(binary.LittleEndian.Uint16(buf[2:4]))
		headerEnd = 4
	} else {
		body = int(buf[1])
		headerEnd = 2
	}

	total := headerEnd + body
	if len(buf) < total {
		return nil, 0, fmt.Errorf("wire: truncated SICB, want %d bytes have %d", total, len(buf))
	}
	if body < headerLen {
		return nil, 0, fmt.Errorf("wire: SICB body %d shorter than header", body)
	}

	s := &SICB{Cmd: cmd}
	flagsStart := headerEnd
	s.setFlags(buf[flagsStart], buf[flagsStart+1])

	rest := buf[flagsStart+headerLen : total]
	if s.Expanded && len(rest) >= 5 {
		addrLen := 5
		oma := s.PathSpec && len(rest) >= 12
		if oma {
			addrLen = 12
		}
		if len(rest) >= addrLen {
			a := &AddressBlock{OMA: oma}
			copy(a.Raw[:addrLen], rest[:addrLen])
			s.Address = a
			rest = rest[addrLen:]
		}
	}

	s.APDU = append([]byte(nil), rest...)
	return s, total, nil
}

// APDUCode returns the command/response code byte of the APDU, or false
// if the APDU is empty.
//
// §9 flags a length-0 APDU with MI_COMM as a must-decide open question;
// this implementation drops such frames with a statistic bump (see
// internal/mip), which is why callers must check ok before use.
func (s *SICB) APDUCode() (byte, bool) {
	if len(s.APDU) == 0 {
		return 0, false
	}
	return s.APDU[0], true
}
