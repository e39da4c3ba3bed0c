// Package httpapi exposes a sealed survey as JSON over HTTP, for the
// presentation layer.
package httpapi

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"

	"go.dedis.ch/sealedsurvey"
	"go.dedis.ch/sealedsurvey/aggregate"
	"go.dedis.ch/sealedsurvey/ledger"
	"go.dedis.ch/sealedsurvey/oracle"
	"go.dedis.ch/sealedsurvey/query"
	"go.dedis.ch/sealedsurvey/verify"
)

// maxBodySize bounds the body of a submission. A response with a few
// hundred fields stays well below it.
const maxBodySize = 1 << 20

// Server serves the ledger, the protocol and the aggregator of one survey.
type Server struct {
	ledger     *ledger.Ledger
	protocol   *verify.Protocol
	aggregator *aggregate.Aggregator
	query      *query.Surface
	params     *oracle.PublicParams
}

// New returns the HTTP surface of the survey.
func New(l *ledger.Ledger, p *verify.Protocol, a *aggregate.Aggregator,
	params *oracle.PublicParams) *Server {
	return &Server{
		ledger:     l,
		protocol:   p,
		aggregator: a,
		query:      query.New(l, a),
		params:     params,
	}
}

// RegisterRoutes registers HTTP routes for the survey.
func (s *Server) RegisterRoutes(r chi.Router) {
	r.Use(middleware.Recoverer)

	r.Get("/livez", s.handleLivez)
	r.Get("/params", s.handleParams)
	r.Get("/responses", s.handleListResponses)
	r.Post("/responses", s.handleSubmit)
	r.Get("/responses/{id}", s.handleGetResponse)
	r.Post("/responses/{id}/verify", s.handleVerify)
	r.Get("/categories", s.handleListCategories)
	r.Post("/categories/{category}/recompute", s.handleRecompute)
	r.Get("/categories/{category}/stats", s.handleStats)
}

// Handler returns a router serving all routes, logging every request.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	s.RegisterRoutes(r)
	return r
}

func (s *Server) handleLivez(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("ok"))
}

func (s *Server) handleParams(w http.ResponseWriter, r *http.Request) {
	x, err := s.params.X.MarshalBinary()
	if err != nil {
		writeError(w, err)
		return
	}
	ctx := s.ledger.Context()
	writeJSON(w, http.StatusOK, ParamsJSON{
		ContractID: hex.EncodeToString(ctx.ContractID[:]),
		Recipient:  hex.EncodeToString(ctx.Recipient),
		X:          hex.EncodeToString(x),
		Threshold:  s.params.Threshold,
		Nodes:      s.params.Nodes,
	})
}

func (s *Server) handleListResponses(w http.ResponseWriter, r *http.Request) {
	ids, err := s.query.ResponseIDs()
	if err != nil {
		writeError(w, err)
		return
	}
	if ids == nil {
		ids = []uint64{}
	}
	writeJSON(w, http.StatusOK, map[string][]uint64{"ids": ids})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, xerrors.Errorf("%v: %w", err, sealedsurvey.ErrInvalidRequest))
		return
	}
	fields := make([]ledger.Field, len(req.Fields))
	for i, fj := range req.Fields {
		f, err := decodeField(fj)
		if err != nil {
			writeError(w, err)
			return
		}
		fields[i] = f
	}
	id, err := s.ledger.Submit(req.Category, fields)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, SubmitReply{ID: id})
}

func parseID(r *http.Request) (uint64, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return 0, xerrors.Errorf("response id: %v: %w", err, sealedsurvey.ErrInvalidRequest)
	}
	return id, nil
}

func (s *Server) handleGetResponse(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	v, err := s.query.Response(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newResponseJSON(v))
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := s.protocol.RequestVerification(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	outcome := "verified"
	if res.Outcome == verify.AlreadyVerified {
		outcome = "already_verified"
	}
	writeJSON(w, http.StatusOK, VerifyReply{
		ID:         res.ResponseID,
		Outcome:    outcome,
		Plaintexts: res.Plaintexts,
	})
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := s.query.Categories()
	if err != nil {
		writeError(w, err)
		return
	}
	if cats == nil {
		cats = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"categories": cats})
}

func (s *Server) handleRecompute(w http.ResponseWriter, r *http.Request) {
	st, err := s.aggregator.Recompute(chi.URLParam(r, "category"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newStatsJSON(st))
}

// handleStats returns the last snapshot. With ?reveal=true, the encrypted
// sums are decrypted through the oracle first.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	category := chi.URLParam(r, "category")
	st, err := s.query.Stats(category)
	if err != nil {
		writeError(w, err)
		return
	}
	if r.URL.Query().Get("reveal") == "true" {
		st, err = s.aggregator.Reveal(r.Context(), category, s.protocol)
		if err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, newStatsJSON(st))
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warnf("couldn't write reply: %v", err)
	}
}

// StatusCode maps the errors of the ledger to HTTP status codes.
func StatusCode(err error) int {
	switch {
	case xerrors.Is(err, sealedsurvey.ErrInvalidRequest):
		return http.StatusBadRequest
	case xerrors.Is(err, sealedsurvey.ErrInvalidProof),
		xerrors.Is(err, sealedsurvey.ErrOutOfRange):
		return http.StatusUnprocessableEntity
	case xerrors.Is(err, sealedsurvey.ErrNotFound),
		xerrors.Is(err, sealedsurvey.ErrNoResponses):
		return http.StatusNotFound
	case xerrors.Is(err, sealedsurvey.ErrAccumulatorFixed):
		return http.StatusConflict
	case xerrors.Is(err, sealedsurvey.ErrProofMismatch):
		return http.StatusBadGateway
	case xerrors.Is(err, sealedsurvey.ErrOracleTimeout):
		return http.StatusGatewayTimeout
	case xerrors.Is(err, sealedsurvey.ErrOracleUnavailable),
		xerrors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	code := StatusCode(err)
	if code == http.StatusInternalServerError {
		log.Error(err)
	} else {
		log.Lvl3("request failed:", err)
	}
	writeJSON(w, code, ErrorJSON{
		Error:     err.Error(),
		Retryable: sealedsurvey.IsRetryable(err),
	})
}
