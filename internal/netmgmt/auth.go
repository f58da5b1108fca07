package netmgmt

import (
	"crypto/subtle"

	"golang.org/x/crypto/blake2b"

	"github.com/lonworks/lon-device-stack/internal/devstack"
)

// authTagSize is the wire length of a request's carried authentication
// tag: wide enough to make forgery impractical, narrow enough to fit the
// NM authentication field alongside the command's own parameter data.
const authTagSize = 8

// computeAuthTag keys a BLAKE2b-256 MAC with the domain's authentication
// key over the command code and request data, truncated to authTagSize
// (§4.6 step 1).
func computeAuthTag(key []byte, code byte, data []byte) ([]byte, error) {
	h, err := blake2b.New256(key)
	if err != nil {
		return nil, err
	}
	h.Write([]byte{code})
	h.Write(data)
	return h.Sum(nil)[:authTagSize], nil
}

// domainAuthKey returns the key material a domain entry authenticates
// with: the full 12 bytes under OMA, else the plain 6-byte domain key.
func domainAuthKey(dom devstack.DomainEntry) []byte {
	if dom.OMA {
		return dom.Key[:12]
	}
	return dom.Key[:6]
}

// verifyAuthTag reports whether tag is the correct keyed-MAC for
// (code, data) under dom's authentication key. A missing or wrong-length
// tag never verifies.
func verifyAuthTag(dom devstack.DomainEntry, code byte, data, tag []byte) bool {
	if len(tag) != authTagSize {
		return false
	}
	expected, err := computeAuthTag(domainAuthKey(dom), code, data)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(expected, tag) == 1
}
