package mipapp

import "fmt"

// NSSLocalDataSize is the fixed size of the NSS-local data block the
// ESCAPE_NSS store/retrieve subcommands operate on (§4.7).
const NSSLocalDataSize = 50

// NSSData is C7's "NSS-local" scratch storage and mode state, covered by
// the ESCAPE_NSS subset of the local/broadcast NM escape.
type NSSData struct {
	Local      [NSSLocalDataSize]byte
	Mode       byte
	ResetCount int
}

// NmNsMipEevars mirrors the record ESCAPE_NSS's query subcommand returns:
// the MIP's non-volatile NSS execution variables.
type NmNsMipEevars struct {
	Mode       byte
	ResetCount byte
	Reserved   [4]byte
}

// ESCAPE_NSS subcommands (§4.7).
const (
	NSSChangeMode byte = 0x01
	NSSReset      byte = 0x02
	NSSStore      byte = 0x03
	NSSRetrieve   byte = 0x04
	NSSQueryVars  byte = 0x05
)

// EscapeNSS dispatches one ESCAPE_NSS subcommand against the device's NSS
// state.
func (t *Translator) EscapeNSS(sub byte, data []byte) ([]byte, error) {
	switch sub {
	case NSSChangeMode:
		if len(data) < 1 {
			return nil, fmt.Errorf("mipapp: %w: change-mode needs 1 byte", ErrShortEscapeData)
		}
		t.nss.Mode = data[0]
		return nil, nil

	case NSSReset:
		t.nss.ResetCount++
		return nil, nil

	case NSSStore:
		if len(data) < NSSLocalDataSize {
			return nil, fmt.Errorf("mipapp: %w: store needs %d bytes", ErrShortEscapeData, NSSLocalDataSize)
		}
		copy(t.nss.Local[:], data)
		return nil, nil

	case NSSRetrieve:
		return append([]byte(nil), t.nss.Local[:]...), nil

	case NSSQueryVars:
		v := NmNsMipEevars{Mode: t.nss.Mode, ResetCount: byte(t.nss.ResetCount)}
		return []byte{v.Mode, v.ResetCount, v.Reserved[0], v.Reserved[1], v.Reserved[2], v.Reserved[3]}, nil

	default:
		return nil, fmt.Errorf("mipapp: unknown ESCAPE_NSS subcommand 0x%02x", sub)
	}
}
