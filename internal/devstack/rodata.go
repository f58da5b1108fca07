package devstack

import (
	"fmt"

	"github.com/lonworks/lon-device-stack/internal/wire"
)

// NodeState is the device's configuration lifecycle state (§4.5, §7).
type NodeState byte

const (
	StateUnconfigured NodeState = iota
	StateApplicationless
	StateConfigured
	StateHardOffline
)

func (s NodeState) String() string {
	switch s {
	case StateUnconfigured:
		return "unconfigured"
	case StateApplicationless:
		return "applicationless"
	case StateConfigured:
		return "configured"
	case StateHardOffline:
		return "hard_offline"
	default:
		return "unknown"
	}
}

// ReadOnlyImageSize is the fixed size of the read-only data image (§3).
const ReadOnlyImageSize = 41

// ReadOnlyData is the 41-byte read-only data image: UID, model number,
// program ID, device state, encoded buffer counts, and table sizes.
type ReadOnlyData struct {
	UID         [6]byte
	ModelNumber byte
	ProgramID   [8]byte
	State       NodeState

	InBuf  wire.BufferConfig
	OutBuf wire.BufferConfig

	NumDomains       byte
	NumAddresses     byte
	NumNVs           byte
	NumAliases       byte
	NumMonitorPoints byte

	// PendingUpdate mirrors Stack.pendingUpdate for external readers: a
	// dirty-cache flag that must be committed before reset (§3).
	PendingUpdate bool
}

// ToWire encodes the image and returns the [offset, offset+length) slice,
// per the read-only/network-image/network-stats "to_wire(offset,len)"
// contract (§4.5).
func (r ReadOnlyData) ToWire(offset, length int) ([]byte, error) {
	var img [ReadOnlyImageSize]byte
	copy(img[0:6], r.UID[:])
	img[6] = r.ModelNumber
	copy(img[7:15], r.ProgramID[:])
	img[15] = byte(r.State)
	img[16] = wire.EncodeBufferByte(r.InBuf)
	img[17] = wire.EncodeBufferByte(r.OutBuf)
	img[18] = r.NumDomains
	img[19] = r.NumAddresses
	img[20] = r.NumNVs
	img[21] = r.NumAliases
	img[22] = r.NumMonitorPoints
	if r.PendingUpdate {
		img[23] = 1
	}
	// Bytes 24-40 are reserved padding to round out the 41-byte image.

	if offset < 0 || offset+length > ReadOnlyImageSize {
		return nil, fmt.Errorf("devstack: %w: read-only image range [%d,%d)", ErrInvalidIndex, offset, offset+length)
	}
	return img[offset : offset+length], nil
}

// FromWire applies a write to the read-only image's [offset, offset+len)
// range; used for the handful of RO fields that are writable through
// WRITE_MEMORY with mode RELATIVE_RO (§4.6).
func (r *ReadOnlyData) FromWire(offset int, data []byte) error {
	if offset < 0 || offset+len(data) > ReadOnlyImageSize {
		return fmt.Errorf("devstack: %w: read-only image range [%d,%d)", ErrInvalidIndex, offset, offset+len(data))
	}
	full, _ := r.ToWire(0, ReadOnlyImageSize)
	img := [ReadOnlyImageSize]byte{}
	copy(img[:], full)
	copy(img[offset:], data)

	copy(r.UID[:], img[0:6])
	r.ModelNumber = img[6]
	copy(r.ProgramID[:], img[7:15])
	r.State = NodeState(img[15])
	r.InBuf = wire.DecodeBufferByte(img[16])
	r.OutBuf = wire.DecodeBufferByte(img[17])
	r.NumDomains = img[18]
	r.NumAddresses = img[19]
	r.NumNVs = img[20]
	r.NumAliases = img[21]
	r.NumMonitorPoints = img[22]
	r.PendingUpdate = img[23] != 0
	return nil
}
