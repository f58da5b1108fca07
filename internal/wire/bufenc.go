package wire

// Buffer size/count nibble encoding shared by the MIP bridge's network
// buffer configuration cache (C1/C2) and the read-only data image (C5).
// Each byte of the encoded buffer-configuration form packs a size code in
// the high nibble and a count code in the low nibble (§3).

// bufferSizeTable is the 16-entry size-code table, following the Neuron
// convention of starting at 20 bytes and roughly doubling across the range.
var bufferSizeTable = [16]uint16{
	20, 24, 28, 34, 40, 48, 56, 64,
	80, 96, 112, 128, 160, 192, 224, 255,
}

// largeCountSentinel marks a count nibble value that means "count stored
// elsewhere" rather than a literal count (§3: "0,1,2,…,15 or special 'large'
// codes").
const largeCountSentinel = 14

// BufferSize decodes a size nibble (0-15) to its byte count.
func BufferSize(code byte) uint16 {
	return bufferSizeTable[code&0xF]
}

// SizeCode returns the smallest size code whose decoded size is >= want,
// or 15 (the largest size) if want exceeds the table.
func SizeCode(want uint16) byte {
	for i, sz := range bufferSizeTable {
		if sz >= want {
			return byte(i)
		}
	}
	return 15
}

// BufferCount decodes a count nibble. ok is false for the two reserved
// "large" codes (14, 15), which mean the real count is carried elsewhere;
// callers must handle that case explicitly rather than treat it as zero.
func BufferCount(code byte) (count int, ok bool) {
	c := int(code & 0xF)
	if c >= largeCountSentinel {
		return 0, false
	}
	return c, true
}

// CountCode encodes a literal buffer count (0-13) to its nibble form. Counts
// of 14 or more must use the large-count path and are encoded as the
// sentinel plus an out-of-band count field.
func CountCode(count int) byte {
	if count >= largeCountSentinel {
		return largeCountSentinel
	}
	return byte(count)
}

// BufferConfig is the decoded form of one size/count byte pair as used by
// both the network-buffer cache (C1) and the read-only data image (C5).
type BufferConfig struct {
	Size  uint16
	Count int
	Large bool
}

// DecodeBufferByte decodes one packed size/count byte.
func DecodeBufferByte(b byte) BufferConfig {
	size := BufferSize(b >> 4)
	count, ok := BufferCount(b)
	return BufferConfig{Size: size, Count: count, Large: !ok}
}

// EncodeBufferByte packs a BufferConfig back into its wire byte. Large
// configurations encode the sentinel count; the actual large count is
// carried by the caller in the surrounding structure, per the original
// format's out-of-band large-count fields.
func EncodeBufferByte(c BufferConfig) byte {
	sizeCode := SizeCode(c.Size)
	countCode := CountCode(c.Count)
	if c.Large {
		countCode = largeCountSentinel
	}
	return sizeCode<<4 | countCode
}
