package aggregate

import (
	"context"
	"io/ioutil"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/onet/v3/log"
	"go.etcd.io/bbolt"
	"golang.org/x/xerrors"

	"go.dedis.ch/sealedsurvey"
	"go.dedis.ch/sealedsurvey/ledger"
	"go.dedis.ch/sealedsurvey/lib"
	"go.dedis.ch/sealedsurvey/oracle"
	"go.dedis.ch/sealedsurvey/verify"
)

func TestMain(m *testing.M) {
	log.MainTest(m)
}

type env struct {
	ledger   *ledger.Ledger
	oracle   *oracle.Threshold
	protocol *verify.Protocol
	file     string
}

func newEnv(t *testing.T) *env {
	tmp, err := ioutil.TempFile("", "aggregate")
	require.NoError(t, err)
	tmp.Close()
	db, err := bbolt.Open(tmp.Name(), 0600, nil)
	require.NoError(t, err)
	store, err := ledger.NewStore(db, []byte("survey"))
	require.NoError(t, err)
	ctx := lib.NewContext(lib.ContractIDFromString("aggregate-test"), []byte("creator"))
	setup, err := oracle.NewSetup(2, 3)
	require.NoError(t, err)
	l := ledger.New(store, ctx, setup.Params().X)
	o, err := oracle.NewThreshold(setup, l.Registry())
	require.NoError(t, err)
	o.Authorise(ctx)
	p := verify.New(l, o, o.Params(), verify.Config{Timeout: 5 * time.Second})
	return &env{ledger: l, oracle: o, protocol: p, file: tmp.Name()}
}

func (e *env) close() {
	e.ledger.Store().Close()
	os.Remove(e.file)
}

func (e *env) submit(t *testing.T, category string, values map[string]int64) uint64 {
	var fs []ledger.Field
	for name, v := range values {
		ct, proof, err := lib.EncryptAndProve(e.oracle.Params().X, e.ledger.Context(), v)
		require.NoError(t, err)
		fs = append(fs, ledger.Field{Name: name, Ciphertext: ct, Proof: proof})
	}
	id, err := e.ledger.Submit(category, fs)
	require.NoError(t, err)
	return id
}

func (e *env) verify(t *testing.T, id uint64) {
	_, err := e.protocol.RequestVerification(context.Background(), id)
	require.NoError(t, err)
}

func TestAggregator_Ciphertext(t *testing.T) {
	e := newEnv(t)
	defer e.close()
	a := New(e.ledger, ModeCiphertext)

	id0 := e.submit(t, "tech", map[string]int64{"satisfaction": 8, "age": 30})
	id1 := e.submit(t, "tech", map[string]int64{"satisfaction": 6, "age": 40})
	e.submit(t, "tech", map[string]int64{"satisfaction": 1, "age": 99})

	// Nothing is verified yet.
	stats, err := a.Recompute("tech")
	require.NoError(t, err)
	require.Equal(t, 0, stats.TotalResponses)
	require.Empty(t, stats.Sums)

	e.verify(t, id0)
	e.verify(t, id1)
	stats, err = a.Recompute("tech")
	require.NoError(t, err)
	require.Equal(t, ModeCiphertext, stats.Mode)
	require.Equal(t, 2, stats.TotalResponses)
	require.Equal(t, 2, len(stats.Sums))
	require.Equal(t, "age", stats.Sums[0].Name)
	require.Equal(t, "satisfaction", stats.Sums[1].Name)
	for _, fs := range stats.Sums {
		require.False(t, fs.Revealed)
		require.True(t, e.ledger.Registry().Has(fs.Handle))
	}

	// The sums decrypt to the totals of the verified responses only.
	revealed, err := a.Reveal(context.Background(), "tech", e.protocol)
	require.NoError(t, err)
	require.Equal(t, map[string]int64{"age": 70, "satisfaction": 14}, revealed.Totals())

	cached, err := a.Stats("tech")
	require.NoError(t, err)
	require.Equal(t, revealed, cached)
}

func TestAggregator_Deterministic(t *testing.T) {
	e := newEnv(t)
	defer e.close()
	a := New(e.ledger, ModeCiphertext)

	e.verify(t, e.submit(t, "tech", map[string]int64{"satisfaction": 8}))
	e.verify(t, e.submit(t, "tech", map[string]int64{"satisfaction": 6}))

	s1, err := a.Recompute("tech")
	require.NoError(t, err)
	s2, err := a.Recompute("tech")
	require.NoError(t, err)
	require.Equal(t, s1, s2)
}

func TestAggregator_Plaintext(t *testing.T) {
	e := newEnv(t)
	defer e.close()
	a := New(e.ledger, ModeCiphertext)
	require.NoError(t, a.SetMode("tech", ModePlaintext))

	e.verify(t, e.submit(t, "tech", map[string]int64{"satisfaction": 8, "income": 50000}))
	e.verify(t, e.submit(t, "tech", map[string]int64{"satisfaction": 6}))
	e.submit(t, "tech", map[string]int64{"satisfaction": 10})

	stats, err := a.Recompute("tech")
	require.NoError(t, err)
	require.Equal(t, ModePlaintext, stats.Mode)
	require.Equal(t, 2, stats.TotalResponses)
	require.Equal(t, map[string]int64{"income": 50000, "satisfaction": 14}, stats.Totals())

	// Revealing plaintext sums needs no oracle.
	before := e.oracle.Requests()
	revealed, err := a.Reveal(context.Background(), "tech", e.protocol)
	require.NoError(t, err)
	require.Equal(t, stats.Totals(), revealed.Totals())
	require.Equal(t, before, e.oracle.Requests())
}

func TestAggregator_Mode(t *testing.T) {
	e := newEnv(t)
	defer e.close()
	a := New(e.ledger, ModeCiphertext)
	e.submit(t, "tech", map[string]int64{"satisfaction": 8})

	_, ok := a.Mode("tech")
	require.False(t, ok)
	_, err := a.Recompute("tech")
	require.NoError(t, err)
	m, ok := a.Mode("tech")
	require.True(t, ok)
	require.Equal(t, ModeCiphertext, m)

	require.NoError(t, a.SetMode("tech", ModeCiphertext))
	err = a.SetMode("tech", ModePlaintext)
	require.True(t, xerrors.Is(err, sealedsurvey.ErrAccumulatorFixed))

	// The mode survives a new aggregator on the same store.
	a2 := New(e.ledger, ModePlaintext)
	stats, err := a2.Recompute("tech")
	require.NoError(t, err)
	require.Equal(t, ModeCiphertext, stats.Mode)

	_, err = ParseMode("median")
	require.True(t, xerrors.Is(err, sealedsurvey.ErrInvalidRequest))
}

func TestAggregator_Unknown(t *testing.T) {
	e := newEnv(t)
	defer e.close()
	a := New(e.ledger, ModeCiphertext)
	e.submit(t, "tech", map[string]int64{"satisfaction": 8})

	_, err := a.Recompute("finance")
	require.True(t, xerrors.Is(err, sealedsurvey.ErrNoResponses))
	_, err = a.Stats("finance")
	require.True(t, xerrors.Is(err, sealedsurvey.ErrNotFound))
	_, err = a.Stats("tech")
	require.True(t, xerrors.Is(err, sealedsurvey.ErrNotFound))
}

func TestAggregator_Watch(t *testing.T) {
	e := newEnv(t)
	defer e.close()
	a := New(e.ledger, ModeCiphertext)
	stop := a.Watch()
	defer stop()

	id := e.submit(t, "tech", map[string]int64{"satisfaction": 8})
	_, err := a.Recompute("tech")
	require.NoError(t, err)
	stats, err := a.Stats("tech")
	require.NoError(t, err)
	require.False(t, stats.Stale)

	e.verify(t, id)
	require.Eventually(t, func() bool {
		stats, err := a.Stats("tech")
		return err == nil && stats.Stale
	}, time.Second, 10*time.Millisecond)

	stats, err = a.Recompute("tech")
	require.NoError(t, err)
	require.False(t, stats.Stale)
	require.Equal(t, 1, stats.TotalResponses)
}

// hookDecrypter calls before ahead of every decryption.
type hookDecrypter struct {
	Decrypter
	before func()
}

func (h *hookDecrypter) Decrypt(ctx context.Context, handles []lib.Handle) ([]int64, error) {
	h.before()
	return h.Decrypter.Decrypt(ctx, handles)
}

func TestAggregator_RevealKeepsNewerSnapshot(t *testing.T) {
	e := newEnv(t)
	defer e.close()
	a := New(e.ledger, ModeCiphertext)

	e.verify(t, e.submit(t, "tech", map[string]int64{"satisfaction": 8}))
	id := e.submit(t, "tech", map[string]int64{"satisfaction": 6})
	_, err := a.Recompute("tech")
	require.NoError(t, err)

	// The category is recomputed while the oracle decrypts the old sums.
	dec := &hookDecrypter{Decrypter: e.protocol, before: func() {
		e.verify(t, id)
		stats, err := a.Recompute("tech")
		require.NoError(t, err)
		require.Equal(t, 2, stats.TotalResponses)
	}}
	revealed, err := a.Reveal(context.Background(), "tech", dec)
	require.NoError(t, err)
	require.Equal(t, 1, revealed.TotalResponses)
	require.Equal(t, map[string]int64{"satisfaction": 8}, revealed.Totals())
	require.True(t, revealed.Stale)

	cached, err := a.Stats("tech")
	require.NoError(t, err)
	require.Equal(t, 2, cached.TotalResponses)
	require.Empty(t, cached.Totals())

	revealed, err = a.Reveal(context.Background(), "tech", e.protocol)
	require.NoError(t, err)
	require.False(t, revealed.Stale)
	require.Equal(t, map[string]int64{"satisfaction": 14}, revealed.Totals())
	cached, err = a.Stats("tech")
	require.NoError(t, err)
	require.Equal(t, revealed.Totals(), cached.Totals())
}

func TestAggregator_Overflow(t *testing.T) {
	e := newEnv(t)
	defer e.close()
	a := New(e.ledger, ModeCiphertext)

	e.verify(t, e.submit(t, "tech", map[string]int64{"income": 3000000000}))
	e.verify(t, e.submit(t, "tech", map[string]int64{"income": 3000000000}))
	_, err := a.Recompute("tech")
	require.NoError(t, err)

	_, err = a.Reveal(context.Background(), "tech", e.protocol)
	require.True(t, xerrors.Is(err, sealedsurvey.ErrOutOfRange))
	require.False(t, sealedsurvey.IsRetryable(err))
	cached, err := a.Stats("tech")
	require.NoError(t, err)
	require.Empty(t, cached.Totals())
}

func TestAggregator_VerifiedDuringScan(t *testing.T) {
	e := newEnv(t)
	defer e.close()
	a := New(e.ledger, ModeCiphertext)
	stop := a.Watch()
	defer stop()

	e.verify(t, e.submit(t, "tech", map[string]int64{"satisfaction": 8}))
	id := e.submit(t, "tech", map[string]int64{"satisfaction": 6})
	require.Eventually(t, func() bool {
		return a.currentGeneration("tech") == 1
	}, time.Second, 10*time.Millisecond)

	a.afterScan = func(string) {
		a.afterScan = func(string) {}
		e.verify(t, id)
		require.Eventually(t, func() bool {
			return a.currentGeneration("tech") == 2
		}, time.Second, 10*time.Millisecond)
	}
	stats, err := a.Recompute("tech")
	require.NoError(t, err)
	require.Equal(t, 1, stats.TotalResponses)
	require.True(t, stats.Stale)
	cached, err := a.Stats("tech")
	require.NoError(t, err)
	require.True(t, cached.Stale)

	stats, err = a.Recompute("tech")
	require.NoError(t, err)
	require.Equal(t, 2, stats.TotalResponses)
	require.False(t, stats.Stale)
}
