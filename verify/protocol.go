// Package verify implements the decryption-verification protocol. It turns
// the handles of an unverified response into authenticated plaintexts by
// asking the oracle, checking its answer against the request, and promoting
// the response to verified exactly once.
//
// No lock is held during the round trip to the oracle. The only
// synchronisation point is ledger.MarkVerified: when several callers verify
// the same response concurrently, one of them wins and the others return
// the stored plaintexts with the AlreadyVerified outcome.
package verify

import (
	"context"
	"time"

	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"

	"go.dedis.ch/sealedsurvey"
	"go.dedis.ch/sealedsurvey/ledger"
	"go.dedis.ch/sealedsurvey/lib"
	"go.dedis.ch/sealedsurvey/oracle"
)

// DefaultTimeout is used if the config doesn't give a timeout.
const DefaultTimeout = 30 * time.Second

// Outcome tells whether a call performed the verification or found it
// already done.
type Outcome int

const (
	// Verified means this call changed the response to verified.
	Verified Outcome = iota
	// AlreadyVerified means the response was verified before, by an
	// earlier or a concurrent call.
	AlreadyVerified
)

func (o Outcome) String() string {
	if o == Verified {
		return "verified"
	}
	return "already verified"
}

// Result is returned by a successful verification.
type Result struct {
	ResponseID uint64
	Plaintexts map[string]int64
	Outcome    Outcome
}

// Config of the protocol.
type Config struct {
	// Timeout bounds the round trip to the oracle.
	Timeout time.Duration
}

// Protocol binds a ledger to an oracle.
type Protocol struct {
	ledger   *ledger.Ledger
	oracle   oracle.Oracle
	verifier *oracle.Verifier
	timeout  time.Duration
}

// New returns a protocol verifying the responses of l with the oracle o,
// whose results are checked against params.
func New(l *ledger.Ledger, o oracle.Oracle, params *oracle.PublicParams, cfg Config) *Protocol {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Protocol{
		ledger:   l,
		oracle:   o,
		verifier: oracle.NewVerifier(params, l.Registry()),
		timeout:  cfg.Timeout,
	}
}

// RequestVerification decrypts the response through the oracle and marks it
// verified. If the response is already verified, the oracle is not
// contacted and the stored plaintexts are returned.
//
// Errors: ErrNotFound for an unknown id, ErrOracleTimeout and
// ErrOracleUnavailable (retryable), ErrProofMismatch if the oracle's answer
// doesn't match the request, ErrOutOfRange if a field doesn't decrypt to an
// integer in range. In all these cases the ledger is unchanged.
func (p *Protocol) RequestVerification(ctx context.Context, id uint64) (*Result, error) {
	resp, err := p.ledger.Get(id)
	if err != nil {
		return nil, err
	}
	if resp.Verified {
		log.Lvlf3("response %d already verified, not contacting the oracle", id)
		return alreadyVerified(resp), nil
	}

	values, err := p.Decrypt(ctx, resp.Handles())
	if err != nil {
		return nil, xerrors.Errorf("response %d: %w", id, err)
	}
	ps := make([]ledger.Plaintext, len(values))
	for i, name := range resp.Names() {
		ps[i] = ledger.Plaintext{Name: name, Value: values[i]}
	}

	verified, err := p.ledger.MarkVerified(id, ps)
	if err != nil {
		var ave *ledger.AlreadyVerifiedError
		if xerrors.As(err, &ave) {
			log.Lvlf2("response %d has been verified concurrently", id)
			return alreadyVerified(ave.Response), nil
		}
		return nil, err
	}
	return &Result{
		ResponseID: id,
		Plaintexts: verified.PlaintextMap(),
		Outcome:    Verified,
	}, nil
}

func alreadyVerified(resp *ledger.Response) *Result {
	return &Result{
		ResponseID: resp.ID,
		Plaintexts: resp.PlaintextMap(),
		Outcome:    AlreadyVerified,
	}
}

// Decrypt asks the oracle to decrypt the handles for the ledger's context
// and returns the plaintexts once the answer has been validated. It doesn't
// change the ledger.
func (p *Protocol) Decrypt(ctx context.Context, handles []lib.Handle) ([]int64, error) {
	req := oracle.NewRequest(p.ledger.Context(), handles)
	tctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	res, err := oracle.Go(tctx, p.oracle, req).Wait(tctx)
	if err != nil {
		return nil, oracleError(ctx, err)
	}
	if err := p.verifier.Check(req, res); err != nil {
		if xerrors.Is(err, sealedsurvey.ErrProofMismatch) {
			log.Errorf("possible attack, refusing oracle answer to %s: %v", req.Nonce, err)
		}
		return nil, err
	}
	return res.Plaintexts, nil
}

// oracleError sorts the errors of the round trip into the taxonomy.
func oracleError(ctx context.Context, err error) error {
	switch {
	case xerrors.Is(err, context.Canceled) || xerrors.Is(ctx.Err(), context.Canceled):
		return xerrors.Errorf("verification cancelled: %w", context.Canceled)
	case xerrors.Is(err, context.DeadlineExceeded):
		return xerrors.Errorf("%v: %w", err, sealedsurvey.ErrOracleTimeout)
	case xerrors.Is(err, sealedsurvey.ErrOracleUnavailable),
		xerrors.Is(err, sealedsurvey.ErrOutOfRange):
		return err
	default:
		return xerrors.Errorf("%v: %w", err, sealedsurvey.ErrOracleUnavailable)
	}
}
