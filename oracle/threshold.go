package oracle

import (
	"context"
	"sync"
	"time"

	"go.dedis.ch/kyber/v3/proof/dleq"
	"go.dedis.ch/kyber/v3/share"
	"go.dedis.ch/kyber/v3/sign/schnorr"
	"go.dedis.ch/onet/v3/log"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"go.dedis.ch/sealedsurvey"
	"go.dedis.ch/sealedsurvey/lib"
)

// Threshold is an in-process oracle network: every node holds one share of
// the collective key and produces a partial decryption with a DLEQ proof.
// The partials are combined, the message is recovered from the exponent and
// the result is signed.
//
// Only contexts that have been authorised get an answer.
type Threshold struct {
	setup    *Setup
	params   *PublicParams
	resolver Resolver

	authLock   sync.Mutex
	authorised map[string]bool

	available atomic.Bool
	latency   atomic.Duration
	requests  atomic.Int64
}

// NewThreshold returns an oracle using the secret material of setup. The
// ciphertexts are looked up using resolver.
func NewThreshold(setup *Setup, resolver Resolver) (*Threshold, error) {
	if err := setup.Check(); err != nil {
		return nil, sealedsurvey.ErrorOrNil(err, "invalid oracle setup")
	}
	t := &Threshold{
		setup:      setup,
		params:     setup.Params(),
		resolver:   resolver,
		authorised: make(map[string]bool),
	}
	t.available.Store(true)
	return t, nil
}

// Params returns the public parameters of the oracle.
func (t *Threshold) Params() *PublicParams {
	return t.params
}

// Authorise allows ctx to request decryptions.
func (t *Threshold) Authorise(ctx lib.Context) {
	t.authLock.Lock()
	defer t.authLock.Unlock()
	t.authorised[string(ctx.Digest())] = true
}

func (t *Threshold) isAuthorised(ctx lib.Context) bool {
	t.authLock.Lock()
	defer t.authLock.Unlock()
	return t.authorised[string(ctx.Digest())]
}

// SetAvailable switches the oracle on and off.
func (t *Threshold) SetAvailable(available bool) {
	t.available.Store(available)
}

// SetLatency adds a delay before every answer, to mimic the round trip to
// an oracle network.
func (t *Threshold) SetLatency(d time.Duration) {
	t.latency.Store(d)
}

// Requests returns how many requests the oracle received.
func (t *Threshold) Requests() int64 {
	return t.requests.Load()
}

// RequestDecryption implements Oracle.
func (t *Threshold) RequestDecryption(ctx context.Context, req *Request) (*Result, error) {
	t.requests.Inc()
	if !t.available.Load() {
		return nil, xerrors.Errorf("oracle switched off: %w", sealedsurvey.ErrOracleUnavailable)
	}
	if !t.isAuthorised(req.Context) {
		return nil, xerrors.Errorf("context %s is not authorised: %w", req.Context,
			sealedsurvey.ErrOracleUnavailable)
	}
	if d := t.latency.Load(); d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	cts := make([]*lib.Ciphertext, len(req.Handles))
	for i, h := range req.Handles {
		ct, err := t.resolver.Resolve(h)
		if err != nil {
			return nil, xerrors.Errorf("cannot resolve %s: %v: %w", h, err,
				sealedsurvey.ErrOracleUnavailable)
		}
		cts[i] = ct
	}

	shares, err := t.partials(ctx, cts)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Nonce:      req.Nonce,
		Context:    req.Context,
		Handles:    append([]lib.Handle{}, req.Handles...),
		Plaintexts: make([]int64, len(cts)),
		Shares:     make([]HandleShares, len(cts)),
	}
	suite := sealedsurvey.Suite
	for i, ct := range cts {
		res.Shares[i] = HandleShares{Handle: req.Handles[i], Shares: shares[i]}
		pubShares := make([]*share.PubShare, len(shares[i]))
		for j, s := range shares[i] {
			pubShares[j] = &share.PubShare{I: s.Index, V: s.D}
		}
		xK, err := share.RecoverCommit(suite, pubShares, t.params.Threshold, t.params.Nodes)
		if err != nil {
			return nil, xerrors.Errorf("recovering: %v: %w", err, sealedsurvey.ErrOracleUnavailable)
		}
		res.Plaintexts[i], err = lib.Dlog(ctx, suite.Point().Sub(ct.C, xK))
		if err != nil {
			return nil, xerrors.Errorf("handle %s: %w", req.Handles[i], err)
		}
	}
	res.Signature, err = schnorr.Sign(suite, t.setup.SignSecret, res.Digest())
	if err != nil {
		return nil, err
	}
	log.Lvlf3("oracle decrypted %d handles for %s", len(cts), req.Context)
	return res, nil
}

// partials lets every node compute its partial decryption of all
// ciphertexts in parallel. The result is indexed by ciphertext, then node.
func (t *Threshold) partials(ctx context.Context, cts []*lib.Ciphertext) ([][]DecryptShare, error) {
	suite := sealedsurvey.Suite
	out := make([][]DecryptShare, len(cts))
	for i := range out {
		out[i] = make([]DecryptShare, len(t.setup.Shares))
	}
	g, gctx := errgroup.WithContext(ctx)
	for node, xi := range t.setup.Shares {
		node, xi := node, xi
		g.Go(func() error {
			for i, ct := range cts {
				if err := gctx.Err(); err != nil {
					return err
				}
				proof, _, D, err := dleq.NewDLEQProof(suite, suite.Point().Base(), ct.K, xi)
				if err != nil {
					return err
				}
				out[i][node] = DecryptShare{Index: node, D: D, Proof: proof}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

var _ Oracle = (*Threshold)(nil)
