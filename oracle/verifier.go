package oracle

import (
	uuid "github.com/satori/go.uuid"
	"go.dedis.ch/kyber/v3/share"
	"go.dedis.ch/kyber/v3/sign/schnorr"
	"golang.org/x/xerrors"

	"go.dedis.ch/sealedsurvey"
	"go.dedis.ch/sealedsurvey/lib"
)

// Verifier checks the results of the oracle against the request they answer
// and the public parameters of the oracle.
type Verifier struct {
	params   *PublicParams
	poly     *share.PubPoly
	resolver Resolver
}

// NewVerifier returns a verifier that resolves the requested handles with
// resolver.
func NewVerifier(params *PublicParams, resolver Resolver) *Verifier {
	return &Verifier{
		params:   params,
		poly:     params.PubPoly(),
		resolver: resolver,
	}
}

func mismatch(format string, args ...interface{}) error {
	return xerrors.Errorf(format+": %w", append(args, sealedsurvey.ErrProofMismatch)...)
}

// Check returns nil only if res answers exactly req: same nonce, same
// context, same handles in the same order, a valid signature and, for every
// handle, enough valid decryption shares that decrypt the stored ciphertext
// to the returned plaintext. Every failure wraps ErrProofMismatch.
func (v *Verifier) Check(req *Request, res *Result) error {
	if res == nil {
		return mismatch("empty result")
	}
	if !uuid.Equal(req.Nonce, res.Nonce) {
		return mismatch("result for request %s, expected %s", res.Nonce, req.Nonce)
	}
	if !res.Context.Equal(req.Context) {
		return mismatch("result for context %s, expected %s", res.Context, req.Context)
	}
	if len(res.Handles) != len(req.Handles) {
		return mismatch("got %d handles for %d requested", len(res.Handles), len(req.Handles))
	}
	for i, h := range req.Handles {
		if !res.Handles[i].Equal(h) {
			return mismatch("handle %d is %s, expected %s", i, res.Handles[i], h)
		}
	}
	if len(res.Plaintexts) != len(req.Handles) || len(res.Shares) != len(req.Handles) {
		return mismatch("plaintexts or shares don't match the handles")
	}
	suite := sealedsurvey.Suite
	if err := schnorr.Verify(suite, v.params.SignKey, res.Digest(), res.Signature); err != nil {
		return mismatch("signature: %v", err)
	}

	for i, h := range req.Handles {
		if !res.Shares[i].Handle.Equal(h) {
			return mismatch("shares of %s given for %s", h, res.Shares[i].Handle)
		}
		ct, err := v.resolver.Resolve(h)
		if err != nil {
			return xerrors.Errorf("resolving %s: %w", h, err)
		}
		if err := v.checkHandle(ct, res.Plaintexts[i], res.Shares[i].Shares); err != nil {
			return mismatch("handle %s: %v", h, err)
		}
	}
	return nil
}

// checkHandle verifies the DLEQ proof of every share, recovers xK and
// checks that C - xK == mG.
func (v *Verifier) checkHandle(ct *lib.Ciphertext, m int64, shares []DecryptShare) error {
	if m < 0 || m > lib.MaxPlaintext {
		return xerrors.Errorf("plaintext %d out of range", m)
	}
	suite := sealedsurvey.Suite
	seen := make(map[int]bool)
	var valid []*share.PubShare
	for _, s := range shares {
		if s.Index < 0 || s.Index >= v.params.Nodes || seen[s.Index] ||
			s.D == nil || s.Proof == nil {
			continue
		}
		xiG := v.poly.Eval(s.Index).V
		if err := s.Proof.Verify(suite, suite.Point().Base(), ct.K, xiG, s.D); err != nil {
			continue
		}
		seen[s.Index] = true
		valid = append(valid, &share.PubShare{I: s.Index, V: s.D})
	}
	if len(valid) < v.params.Threshold {
		return xerrors.Errorf("only %d valid shares, need %d", len(valid), v.params.Threshold)
	}
	xK, err := share.RecoverCommit(suite, valid, v.params.Threshold, v.params.Nodes)
	if err != nil {
		return err
	}
	M := suite.Point().Sub(ct.C, xK)
	if !M.Equal(suite.Point().Mul(suite.Scalar().SetInt64(m), nil)) {
		return xerrors.New("plaintext doesn't match the ciphertext")
	}
	return nil
}
