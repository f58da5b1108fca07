package devstack

import "fmt"

// ConfigData is the configuration-data blob (§4.5): node state duplicates
// ReadOnlyData.State for the fields that travel with config rather than
// the RO image, plus the NM authentication flag, channel id, priority
// slot, and transceiver id.
type ConfigData struct {
	State NodeState

	NMAuth bool // incoming NM commands must be authenticated

	ChannelID    byte
	PrioritySlot byte

	TransceiverID int // index into the standard transceiver-id table (internal/link)
}

// ConfigDataSize is the fixed wire size of the configuration-data blob.
const ConfigDataSize = 6

// ToWire encodes the blob and returns the [offset, offset+length) slice.
func (c ConfigData) ToWire(offset, length int) ([]byte, error) {
	var img [ConfigDataSize]byte
	img[0] = byte(c.State)
	if c.NMAuth {
		img[1] = 1
	}
	img[2] = c.ChannelID
	img[3] = c.PrioritySlot
	img[4] = byte(c.TransceiverID)
	img[5] = byte(c.TransceiverID >> 8)

	if offset < 0 || offset+length > ConfigDataSize {
		return nil, fmt.Errorf("devstack: %w: config data range [%d,%d)", ErrInvalidIndex, offset, offset+length)
	}
	return img[offset : offset+length], nil
}

// FromWire applies a write to the blob's [offset, offset+len) range.
func (c *ConfigData) FromWire(offset int, data []byte) error {
	if offset < 0 || offset+len(data) > ConfigDataSize {
		return fmt.Errorf("devstack: %w: config data range [%d,%d)", ErrInvalidIndex, offset, offset+len(data))
	}
	full, _ := c.ToWire(0, ConfigDataSize)
	img := [ConfigDataSize]byte{}
	copy(img[:], full)
	copy(img[offset:], data)

	c.State = NodeState(img[0])
	c.NMAuth = img[1] != 0
	c.ChannelID = img[2]
	c.PrioritySlot = img[3]
	c.TransceiverID = int(img[4]) | int(img[5])<<8
	return nil
}
