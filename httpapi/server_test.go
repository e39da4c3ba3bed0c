package httpapi

import (
	"bytes"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/onet/v3/log"
	"go.etcd.io/bbolt"
	"golang.org/x/xerrors"

	"go.dedis.ch/sealedsurvey"
	"go.dedis.ch/sealedsurvey/aggregate"
	"go.dedis.ch/sealedsurvey/ledger"
	"go.dedis.ch/sealedsurvey/lib"
	"go.dedis.ch/sealedsurvey/oracle"
	"go.dedis.ch/sealedsurvey/verify"
)

func TestMain(m *testing.M) {
	log.MainTest(m)
}

type env struct {
	ledger  *ledger.Ledger
	oracle  *oracle.Threshold
	handler http.Handler
	file    string
}

func newEnv(t *testing.T, timeout time.Duration) *env {
	tmp, err := ioutil.TempFile("", "httpapi")
	require.NoError(t, err)
	tmp.Close()
	db, err := bbolt.Open(tmp.Name(), 0600, nil)
	require.NoError(t, err)
	store, err := ledger.NewStore(db, []byte("survey"))
	require.NoError(t, err)
	ctx := lib.NewContext(lib.ContractIDFromString("httpapi-test"), []byte("creator"))
	setup, err := oracle.NewSetup(2, 3)
	require.NoError(t, err)
	l := ledger.New(store, ctx, setup.Params().X)
	o, err := oracle.NewThreshold(setup, l.Registry())
	require.NoError(t, err)
	o.Authorise(ctx)
	p := verify.New(l, o, o.Params(), verify.Config{Timeout: timeout})
	a := aggregate.New(l, aggregate.ModeCiphertext)
	return &env{
		ledger:  l,
		oracle:  o,
		handler: New(l, p, a, o.Params()).Handler(),
		file:    tmp.Name(),
	}
}

func (e *env) close() {
	e.ledger.Store().Close()
	os.Remove(e.file)
}

func (e *env) do(t *testing.T, method, path string, body interface{}, reply interface{}) int {
	var buf []byte
	if body != nil {
		var err error
		buf, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req, err := http.NewRequest(method, path, bytes.NewReader(buf))
	require.NoError(t, err)
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	if reply != nil {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), reply))
	}
	return w.Code
}

func (e *env) request(t *testing.T, category string, values map[string]int64) SubmitRequest {
	req := SubmitRequest{Category: category}
	for _, name := range []string{"age", "satisfaction"} {
		v, ok := values[name]
		if !ok {
			continue
		}
		ct, proof, err := lib.EncryptAndProve(e.oracle.Params().X, e.ledger.Context(), v)
		require.NoError(t, err)
		fj, err := EncodeField(ledger.Field{Name: name, Ciphertext: ct, Proof: proof})
		require.NoError(t, err)
		req.Fields = append(req.Fields, fj)
	}
	return req
}

func TestServer_Flow(t *testing.T) {
	e := newEnv(t, time.Second)
	defer e.close()

	require.Equal(t, http.StatusOK, e.do(t, "GET", "/livez", nil, nil))
	var params ParamsJSON
	require.Equal(t, http.StatusOK, e.do(t, "GET", "/params", nil, &params))
	require.Equal(t, 2, params.Threshold)

	var sr SubmitReply
	require.Equal(t, http.StatusCreated, e.do(t, "POST", "/responses",
		e.request(t, "tech", map[string]int64{"age": 30, "satisfaction": 8}), &sr))
	require.Equal(t, uint64(0), sr.ID)
	require.Equal(t, http.StatusCreated, e.do(t, "POST", "/responses",
		e.request(t, "tech", map[string]int64{"age": 40, "satisfaction": 6}), &sr))
	require.Equal(t, uint64(1), sr.ID)

	var ids map[string][]uint64
	require.Equal(t, http.StatusOK, e.do(t, "GET", "/responses", nil, &ids))
	require.Equal(t, []uint64{0, 1}, ids["ids"])
	var cats map[string][]string
	require.Equal(t, http.StatusOK, e.do(t, "GET", "/categories", nil, &cats))
	require.Equal(t, []string{"tech"}, cats["categories"])

	var rj ResponseJSON
	require.Equal(t, http.StatusOK, e.do(t, "GET", "/responses/0", nil, &rj))
	require.False(t, rj.Verified)
	require.Len(t, rj.Handles, 2)
	require.Nil(t, rj.Plaintexts)

	var vr VerifyReply
	require.Equal(t, http.StatusOK, e.do(t, "POST", "/responses/0/verify", nil, &vr))
	require.Equal(t, "verified", vr.Outcome)
	require.Equal(t, map[string]int64{"age": 30, "satisfaction": 8}, vr.Plaintexts)
	require.Equal(t, http.StatusOK, e.do(t, "POST", "/responses/0/verify", nil, &vr))
	require.Equal(t, "already_verified", vr.Outcome)
	require.Equal(t, http.StatusOK, e.do(t, "POST", "/responses/1/verify", nil, &vr))

	var sj StatsJSON
	require.Equal(t, http.StatusNotFound, e.do(t, "GET", "/categories/tech/stats", nil, nil))
	require.Equal(t, http.StatusOK, e.do(t, "POST", "/categories/tech/recompute", nil, &sj))
	require.Equal(t, "ciphertext", sj.Mode)
	require.Equal(t, 2, sj.TotalResponses)
	require.Len(t, sj.Sums, 2)
	require.Nil(t, sj.Sums[0].Total)

	require.Equal(t, http.StatusOK, e.do(t, "GET", "/categories/tech/stats?reveal=true", nil, &sj))
	require.Equal(t, "age", sj.Sums[0].Name)
	require.Equal(t, int64(70), *sj.Sums[0].Total)
	require.Equal(t, "satisfaction", sj.Sums[1].Name)
	require.Equal(t, int64(14), *sj.Sums[1].Total)
}

func TestServer_Errors(t *testing.T) {
	e := newEnv(t, 50*time.Millisecond)
	defer e.close()

	var ej ErrorJSON
	require.Equal(t, http.StatusBadRequest, e.do(t, "GET", "/responses/abc", nil, &ej))
	require.Equal(t, http.StatusNotFound, e.do(t, "GET", "/responses/7", nil, &ej))
	require.Equal(t, http.StatusNotFound, e.do(t, "POST", "/categories/finance/recompute", nil, &ej))
	require.Equal(t, http.StatusBadRequest, e.do(t, "POST", "/responses",
		SubmitRequest{Category: "tech"}, &ej))
	// Bodies above the limit are cut off before being decoded.
	big := e.request(t, strings.Repeat("x", maxBodySize), map[string]int64{"satisfaction": 1})
	require.Equal(t, http.StatusBadRequest, e.do(t, "POST", "/responses", big, &ej))
	require.False(t, ej.Retryable)
	var ids map[string][]uint64
	require.Equal(t, http.StatusOK, e.do(t, "GET", "/responses", nil, &ids))
	require.Empty(t, ids["ids"])

	req := e.request(t, "tech", map[string]int64{"satisfaction": 8})
	bad := req
	bad.Fields = []FieldJSON{req.Fields[0]}
	bad.Fields[0].Proof = req.Fields[0].Proof[:10]
	require.Equal(t, http.StatusUnprocessableEntity, e.do(t, "POST", "/responses", bad, &ej))
	require.False(t, ej.Retryable)

	var sr SubmitReply
	require.Equal(t, http.StatusCreated, e.do(t, "POST", "/responses", req, &sr))
	// The same ciphertext can't be submitted twice.
	require.Equal(t, http.StatusUnprocessableEntity, e.do(t, "POST", "/responses", req, &ej))

	e.oracle.SetAvailable(false)
	require.Equal(t, http.StatusServiceUnavailable, e.do(t, "POST", "/responses/0/verify", nil, &ej))
	require.True(t, ej.Retryable)
	e.oracle.SetAvailable(true)
	e.oracle.SetLatency(time.Second)
	require.Equal(t, http.StatusGatewayTimeout, e.do(t, "POST", "/responses/0/verify", nil, &ej))
	require.True(t, ej.Retryable)

	var rj ResponseJSON
	require.Equal(t, http.StatusOK, e.do(t, "GET", "/responses/0", nil, &rj))
	require.False(t, rj.Verified)
}

func TestStatusCode(t *testing.T) {
	wrap := func(err error) error { return xerrors.Errorf("context: %w", err) }
	require.Equal(t, http.StatusConflict, StatusCode(wrap(sealedsurvey.ErrAccumulatorFixed)))
	require.Equal(t, http.StatusBadGateway, StatusCode(wrap(sealedsurvey.ErrProofMismatch)))
	require.Equal(t, http.StatusNotFound, StatusCode(wrap(sealedsurvey.ErrNoResponses)))
	require.Equal(t, http.StatusUnprocessableEntity, StatusCode(wrap(sealedsurvey.ErrOutOfRange)))
	require.Equal(t, http.StatusInternalServerError, StatusCode(xerrors.New("disk full")))
}
