package lib

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// Handle is the opaque reference to a ciphertext accepted into the ledger.
type Handle [32]byte

// HandleOf returns the handle of the ciphertext, which is the hash of its
// two points.
func HandleOf(ct *Ciphertext) (Handle, error) {
	h := sha256.New()
	if _, err := ct.K.MarshalTo(h); err != nil {
		return Handle{}, err
	}
	if _, err := ct.C.MarshalTo(h); err != nil {
		return Handle{}, err
	}
	var hd Handle
	copy(hd[:], h.Sum(nil))
	return hd, nil
}

// NewHandle creates a handle from a slice.
func NewHandle(buf []byte) (Handle, error) {
	var h Handle
	if len(buf) != len(h) {
		return h, errors.New("handle must be 32 bytes")
	}
	copy(h[:], buf)
	return h, nil
}

// Slice returns a slice of the handle.
func (h Handle) Slice() []byte {
	return h[:]
}

// Equal returns if both handles are equal.
func (h Handle) Equal(other Handle) bool {
	return bytes.Equal(h[:], other[:])
}

// IsNull returns true if the handle has never been set.
func (h Handle) IsNull() bool {
	return h == Handle{}
}

// String returns the hex representation of the handle.
func (h Handle) String() string {
	return hex.EncodeToString(h[:])
}
