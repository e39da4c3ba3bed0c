package query

import (
	"io/ioutil"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/kyber/v3/util/key"
	"go.dedis.ch/onet/v3/log"
	"go.etcd.io/bbolt"
	"golang.org/x/xerrors"

	"go.dedis.ch/sealedsurvey"
	"go.dedis.ch/sealedsurvey/aggregate"
	"go.dedis.ch/sealedsurvey/ledger"
	"go.dedis.ch/sealedsurvey/lib"
)

func TestMain(m *testing.M) {
	log.MainTest(m)
}

func newLedger(t *testing.T) (*ledger.Ledger, func()) {
	tmp, err := ioutil.TempFile("", "query")
	require.NoError(t, err)
	tmp.Close()
	db, err := bbolt.Open(tmp.Name(), 0600, nil)
	require.NoError(t, err)
	store, err := ledger.NewStore(db, []byte("survey"))
	require.NoError(t, err)
	ctx := lib.NewContext(lib.ContractIDFromString("query-test"), []byte("creator"))
	return ledger.New(store, ctx, key.NewKeyPair(sealedsurvey.Suite).Public), func() {
		store.Close()
		os.Remove(tmp.Name())
	}
}

func submit(t *testing.T, l *ledger.Ledger, category string, satisfaction int64) uint64 {
	ct, proof, err := lib.EncryptAndProve(l.Key(), l.Context(), satisfaction)
	require.NoError(t, err)
	id, err := l.Submit(category, []ledger.Field{{Name: "satisfaction", Ciphertext: ct, Proof: proof}})
	require.NoError(t, err)
	return id
}

func TestSurface(t *testing.T) {
	l, done := newLedger(t)
	defer done()
	a := aggregate.New(l, aggregate.ModePlaintext)
	s := New(l, a)

	ids, err := s.ResponseIDs()
	require.NoError(t, err)
	require.Empty(t, ids)

	id0 := submit(t, l, "tech", 8)
	submit(t, l, "health", 3)
	id2 := submit(t, l, "tech", 6)

	ids, err = s.ResponseIDs()
	require.NoError(t, err)
	require.Equal(t, []uint64{0, 1, 2}, ids)
	cats, err := s.Categories()
	require.NoError(t, err)
	require.Equal(t, []string{"tech", "health"}, cats)

	v, err := s.Response(id0)
	require.NoError(t, err)
	require.Equal(t, "tech", v.Category)
	require.False(t, v.Verified)
	require.Nil(t, v.Plaintexts)
	require.Contains(t, v.Handles, "satisfaction")

	_, err = l.MarkVerified(id0, []ledger.Plaintext{{Name: "satisfaction", Value: 8}})
	require.NoError(t, err)
	_, err = l.MarkVerified(id2, []ledger.Plaintext{{Name: "satisfaction", Value: 6}})
	require.NoError(t, err)
	v, err = s.Response(id0)
	require.NoError(t, err)
	require.True(t, v.Verified)
	require.Equal(t, map[string]int64{"satisfaction": 8}, v.Plaintexts)

	_, err = s.Response(42)
	require.True(t, xerrors.Is(err, sealedsurvey.ErrNotFound))

	_, err = s.Stats("tech")
	require.True(t, xerrors.Is(err, sealedsurvey.ErrNotFound))
	_, err = a.Recompute("tech")
	require.NoError(t, err)
	stats, err := s.Stats("tech")
	require.NoError(t, err)
	require.Equal(t, 2, stats.TotalResponses)
	require.Equal(t, map[string]int64{"satisfaction": 14}, stats.Totals())

	_, err = s.Stats("finance")
	require.True(t, xerrors.Is(err, sealedsurvey.ErrNoResponses))
}

func TestSurface_NoAggregator(t *testing.T) {
	l, done := newLedger(t)
	defer done()
	submit(t, l, "tech", 8)
	_, err := New(l, nil).Stats("tech")
	require.True(t, xerrors.Is(err, sealedsurvey.ErrNotFound))
}
