package lib

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

// Context is the recipient context bound into every proof of valid
// encryption and every decryption request. It ties them to one deployment of
// the ledger (ContractID) and to the party allowed to consume the result
// (Recipient), so they cannot be replayed elsewhere.
type Context struct {
	ContractID [32]byte
	Recipient  []byte
}

// NewContext returns a context for the given deployment and recipient.
func NewContext(contractID [32]byte, recipient []byte) Context {
	return Context{
		ContractID: contractID,
		Recipient:  append([]byte{}, recipient...),
	}
}

// ContractIDFromString derives a contract id from a human readable name.
func ContractIDFromString(name string) (id [32]byte) {
	return sha256.Sum256([]byte(name))
}

// Digest returns the hash that is bound into proofs and signatures.
func (c Context) Digest() []byte {
	h := sha256.New()
	h.Write([]byte("sealedsurvey-context"))
	h.Write(c.ContractID[:])
	l := make([]byte, 4)
	binary.LittleEndian.PutUint32(l, uint32(len(c.Recipient)))
	h.Write(l)
	h.Write(c.Recipient)
	return h.Sum(nil)
}

// Equal returns true if both contexts address the same deployment and
// recipient.
func (c Context) Equal(other Context) bool {
	return c.ContractID == other.ContractID &&
		bytes.Equal(c.Recipient, other.Recipient)
}

func (c Context) String() string {
	return hex.EncodeToString(c.ContractID[:8]) + "/" +
		hex.EncodeToString(c.Recipient)
}
