package oracle

import (
	"context"
	"crypto/sha256"
	"encoding/binary"

	uuid "github.com/satori/go.uuid"
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/proof/dleq"
	"go.dedis.ch/kyber/v3/share"

	"go.dedis.ch/sealedsurvey"
	"go.dedis.ch/sealedsurvey/lib"
)

// Oracle decrypts ciphertexts on request. The call may take a long time and
// must return when ctx is done.
type Oracle interface {
	RequestDecryption(ctx context.Context, req *Request) (*Result, error)
}

// Resolver returns the ciphertext behind a handle. The ledger's handle
// registry implements it.
type Resolver interface {
	Resolve(h lib.Handle) (*lib.Ciphertext, error)
}

// Request asks for the decryption of a set of handles on behalf of a
// context. The nonce is bound into the result, so an old result cannot be
// replayed as the answer to a new request.
type Request struct {
	Nonce   uuid.UUID
	Context lib.Context
	Handles []lib.Handle
}

// NewRequest returns a request with a fresh nonce.
func NewRequest(ctx lib.Context, handles []lib.Handle) *Request {
	return &Request{
		Nonce:   uuid.NewV4(),
		Context: ctx,
		Handles: append([]lib.Handle{}, handles...),
	}
}

// DecryptShare is the partial decryption D = x_i K of one node, together
// with the proof that the same x_i has been used as in the public share of
// the node.
type DecryptShare struct {
	Index int
	D     kyber.Point
	Proof *dleq.Proof
}

// HandleShares holds all decryption shares of one handle.
type HandleShares struct {
	Handle lib.Handle
	Shares []DecryptShare
}

// Result is the answer of the oracle. Plaintexts and Shares are in the
// order of Handles. The signature covers Digest().
type Result struct {
	Nonce      uuid.UUID
	Context    lib.Context
	Handles    []lib.Handle
	Plaintexts []int64
	Shares     []HandleShares
	Signature  []byte
}

// Digest returns the hash signed by the oracle.
func (r *Result) Digest() []byte {
	h := sha256.New()
	h.Write([]byte("sealedsurvey-decryption"))
	h.Write(r.Nonce.Bytes())
	h.Write(r.Context.Digest())
	buf := make([]byte, 8)
	for i, hd := range r.Handles {
		h.Write(hd.Slice())
		if i < len(r.Plaintexts) {
			binary.LittleEndian.PutUint64(buf, uint64(r.Plaintexts[i]))
			h.Write(buf)
		}
	}
	return h.Sum(nil)
}

// PublicParams are published by the oracle network. They allow anybody to
// encrypt towards the oracle and to verify its results.
type PublicParams struct {
	// X is the collective public key.
	X kyber.Point
	// Commits are the commitments of the sharing polynomial, with the
	// standard base.
	Commits   []kyber.Point
	Threshold int
	Nodes     int
	// SignKey verifies the signature of the results.
	SignKey kyber.Point
}

// PubPoly returns the public polynomial used to verify the decryption
// shares.
func (p *PublicParams) PubPoly() *share.PubPoly {
	return share.NewPubPoly(sealedsurvey.Suite, nil, p.Commits)
}
