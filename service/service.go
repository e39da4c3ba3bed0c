// Package service runs a sealed survey inside a conode. The conode keeps
// the ledger in its database and runs the threshold oracle for the survey
// in-process, with one share per simulated node.
package service

import (
	"context"
	"sync"
	"time"

	"go.dedis.ch/onet/v3"
	"go.dedis.ch/onet/v3/log"
	"go.dedis.ch/onet/v3/network"
	"go.etcd.io/bbolt"
	"golang.org/x/xerrors"

	"go.dedis.ch/sealedsurvey"
	"go.dedis.ch/sealedsurvey/aggregate"
	"go.dedis.ch/sealedsurvey/ledger"
	"go.dedis.ch/sealedsurvey/lib"
	"go.dedis.ch/sealedsurvey/oracle"
	"go.dedis.ch/sealedsurvey/query"
	"go.dedis.ch/sealedsurvey/verify"
)

// ServiceName is the name of the service.
const ServiceName = "SealedSurvey"

var serviceID onet.ServiceID

func init() {
	var err error
	serviceID, err = onet.RegisterNewService(ServiceName, newService)
	log.ErrFatal(err)
	network.RegisterMessages(&storage1{})
}

// Service holds the survey of the conode.
type Service struct {
	*onet.ServiceProcessor

	db      *bbolt.DB
	bucket  []byte
	storage *storage1

	surveyLock sync.Mutex
	survey     *survey
}

// survey wires the components running on top of the stored setup.
type survey struct {
	ledger     *ledger.Ledger
	oracle     *oracle.Threshold
	protocol   *verify.Protocol
	aggregator *aggregate.Aggregator
	query      *query.Surface
}

// Setup creates the survey. It can only be called once per conode.
func (s *Service) Setup(req *Setup) (*SetupReply, error) {
	if len(req.ContractID) != 32 {
		return nil, xerrors.Errorf("contract id must be 32 bytes: %w", sealedsurvey.ErrInvalidRequest)
	}
	if _, err := aggregate.ParseMode(req.Mode); err != nil {
		return nil, err
	}
	if req.Timeout < 0 {
		return nil, xerrors.Errorf("negative timeout: %w", sealedsurvey.ErrInvalidRequest)
	}
	setup, err := oracle.NewSetup(req.Threshold, req.Nodes)
	if err != nil {
		return nil, xerrors.Errorf("%v: %w", err, sealedsurvey.ErrInvalidRequest)
	}

	s.surveyLock.Lock()
	defer s.surveyLock.Unlock()
	if s.survey != nil {
		return nil, xerrors.Errorf("survey already set up: %w", sealedsurvey.ErrInvalidRequest)
	}
	s.storage.Lock()
	s.storage.ContractID = append([]byte{}, req.ContractID...)
	s.storage.Recipient = append([]byte{}, req.Recipient...)
	s.storage.Mode = req.Mode
	s.storage.Timeout = req.Timeout
	s.storage.Oracle = setup
	s.storage.Unlock()
	// Only a survey that starts is persisted, so that the conode can
	// always boot from its storage.
	if err := s.start(); err != nil {
		s.resetStorage()
		return nil, err
	}
	if err := s.save(); err != nil {
		s.survey = nil
		s.resetStorage()
		return nil, err
	}
	log.Lvlf2("%s: survey set up with a %d-of-%d oracle", s.ServerIdentity(),
		req.Threshold, req.Nodes)
	return &SetupReply{Params: *s.params()}, nil
}

func (s *Service) resetStorage() {
	s.storage.Lock()
	defer s.storage.Unlock()
	s.storage.ContractID = nil
	s.storage.Recipient = nil
	s.storage.Mode = ""
	s.storage.Timeout = 0
	s.storage.Oracle = nil
}

// start builds the survey from the stored setup. The caller holds
// surveyLock.
func (s *Service) start() error {
	s.storage.Lock()
	defer s.storage.Unlock()
	st := s.storage
	if err := st.Oracle.Check(); err != nil {
		return xerrors.Errorf("stored oracle setup: %v", err)
	}
	var cid [32]byte
	copy(cid[:], st.ContractID)
	ctx := lib.NewContext(cid, st.Recipient)
	mode, err := aggregate.ParseMode(st.Mode)
	if err != nil {
		return err
	}

	store, err := ledger.NewStore(s.db, s.bucket)
	if err != nil {
		return sealedsurvey.WrapError(err)
	}
	l := ledger.New(store, ctx, st.Oracle.Params().X)
	o, err := oracle.NewThreshold(st.Oracle, l.Registry())
	if err != nil {
		return err
	}
	o.Authorise(ctx)
	a := aggregate.New(l, mode)
	s.survey = &survey{
		ledger:     l,
		oracle:     o,
		protocol:   verify.New(l, o, o.Params(), verify.Config{Timeout: time.Duration(st.Timeout)}),
		aggregator: a,
		query:      query.New(l, a),
	}
	return nil
}

func (s *Service) current() (*survey, error) {
	s.surveyLock.Lock()
	defer s.surveyLock.Unlock()
	if s.survey == nil {
		return nil, xerrors.Errorf("survey not set up: %w", sealedsurvey.ErrInvalidRequest)
	}
	return s.survey, nil
}

func (s *Service) params() *GetParamsReply {
	p := s.survey.oracle.Params()
	ctx := s.survey.ledger.Context()
	return &GetParamsReply{
		ContractID: append([]byte{}, ctx.ContractID[:]...),
		Recipient:  ctx.Recipient,
		X:          p.X,
		Commits:    p.Commits,
		Threshold:  p.Threshold,
		Nodes:      p.Nodes,
		SignKey:    p.SignKey,
	}
}

// GetParams returns the public parameters of the survey.
func (s *Service) GetParams(req *GetParams) (*GetParamsReply, error) {
	s.surveyLock.Lock()
	defer s.surveyLock.Unlock()
	if s.survey == nil {
		return nil, xerrors.Errorf("survey not set up: %w", sealedsurvey.ErrInvalidRequest)
	}
	return s.params(), nil
}

// Submit stores a new response after checking all its proofs.
func (s *Service) Submit(req *Submit) (*SubmitReply, error) {
	sv, err := s.current()
	if err != nil {
		return nil, err
	}
	id, err := sv.ledger.Submit(req.Category, req.Fields)
	if err != nil {
		return nil, err
	}
	return &SubmitReply{ID: id}, nil
}

// GetResponse returns the stored response.
func (s *Service) GetResponse(req *GetResponse) (*GetResponseReply, error) {
	sv, err := s.current()
	if err != nil {
		return nil, err
	}
	resp, err := sv.ledger.Get(req.ID)
	if err != nil {
		return nil, err
	}
	return &GetResponseReply{Response: *resp}, nil
}

// ListResponses returns all response ids.
func (s *Service) ListResponses(req *ListResponses) (*ListResponsesReply, error) {
	sv, err := s.current()
	if err != nil {
		return nil, err
	}
	ids, err := sv.query.ResponseIDs()
	if err != nil {
		return nil, err
	}
	return &ListResponsesReply{IDs: ids}, nil
}

// ListCategories returns all categories.
func (s *Service) ListCategories(req *ListCategories) (*ListCategoriesReply, error) {
	sv, err := s.current()
	if err != nil {
		return nil, err
	}
	cats, err := sv.query.Categories()
	if err != nil {
		return nil, err
	}
	return &ListCategoriesReply{Categories: cats}, nil
}

// RequestVerification runs the decryption-verification protocol on one
// response.
func (s *Service) RequestVerification(req *RequestVerification) (*RequestVerificationReply, error) {
	sv, err := s.current()
	if err != nil {
		return nil, err
	}
	res, err := sv.protocol.RequestVerification(context.Background(), req.ID)
	if err != nil {
		return nil, err
	}
	return &RequestVerificationReply{
		ID:              res.ResponseID,
		Plaintexts:      ledger.SortedPlaintexts(toPlaintexts(res.Plaintexts)),
		AlreadyVerified: res.Outcome == verify.AlreadyVerified,
	}, nil
}

func toPlaintexts(m map[string]int64) []ledger.Plaintext {
	var ps []ledger.Plaintext
	for n, v := range m {
		ps = append(ps, ledger.Plaintext{Name: n, Value: v})
	}
	return ps
}

// Recompute aggregates the category.
func (s *Service) Recompute(req *Recompute) (*RecomputeReply, error) {
	sv, err := s.current()
	if err != nil {
		return nil, err
	}
	stats, err := sv.aggregator.Recompute(req.Category)
	if err != nil {
		return nil, err
	}
	return &RecomputeReply{Stats: *stats}, nil
}

// GetStats returns the last snapshot of the category, decrypting the sums
// if asked to.
func (s *Service) GetStats(req *GetStats) (*GetStatsReply, error) {
	sv, err := s.current()
	if err != nil {
		return nil, err
	}
	stats, err := sv.query.Stats(req.Category)
	if err != nil {
		return nil, err
	}
	if req.Reveal {
		stats, err = sv.aggregator.Reveal(context.Background(), req.Category, sv.protocol)
		if err != nil {
			return nil, err
		}
	}
	return &GetStatsReply{Stats: *stats}, nil
}

// newService receives the context that holds information about the node it's
// running on. Saving and loading can be done using the context. The data will
// be stored in memory for tests and simulations, and on disk for real deployments.
func newService(c *onet.Context) (onet.Service, error) {
	db, bucket := c.GetAdditionalBucket([]byte("sealedsurvey"))
	s := &Service{
		ServiceProcessor: onet.NewServiceProcessor(c),
		db:               db,
		bucket:           bucket,
	}
	if err := s.RegisterHandlers(s.Setup, s.GetParams, s.Submit, s.GetResponse,
		s.ListResponses, s.ListCategories, s.RequestVerification,
		s.Recompute, s.GetStats); err != nil {
		return nil, xerrors.New("couldn't register messages")
	}
	if err := s.tryLoad(); err != nil {
		log.Error(err)
		return nil, err
	}
	if s.storage.Oracle != nil {
		s.surveyLock.Lock()
		err := s.start()
		s.surveyLock.Unlock()
		if err != nil {
			log.Error(err)
			return nil, err
		}
	}
	return s, nil
}
