package main

import (
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
	"golang.org/x/xerrors"

	"go.dedis.ch/sealedsurvey/aggregate"
	"go.dedis.ch/sealedsurvey/ledger"
	"go.dedis.ch/sealedsurvey/oracle"
	"go.dedis.ch/sealedsurvey/query"
	"go.dedis.ch/sealedsurvey/verify"
)

// surveyBucket is the root bucket of the ledger in survey.db.
var surveyBucket = []byte("sealedsurvey")

// survey is the local survey stored in a config directory, with its
// threshold oracle running in-process.
type survey struct {
	cfg        *config
	ledger     *ledger.Ledger
	oracle     *oracle.Threshold
	protocol   *verify.Protocol
	aggregator *aggregate.Aggregator
	query      *query.Surface
}

func openSurvey(dir string) (*survey, error) {
	cfg, setup, err := loadConfig(dir)
	if err != nil {
		return nil, err
	}
	if err := setup.Check(); err != nil {
		return nil, xerrors.Errorf("oracle config: %v", err)
	}
	ctx, err := cfg.context()
	if err != nil {
		return nil, err
	}
	timeout, err := cfg.timeout()
	if err != nil {
		return nil, err
	}
	mode, err := cfg.mode()
	if err != nil {
		return nil, err
	}

	db, err := bbolt.Open(filepath.Join(dir, dbFile), 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	store, err := ledger.NewStore(db, surveyBucket)
	if err != nil {
		db.Close()
		return nil, err
	}
	l := ledger.New(store, ctx, setup.Params().X)
	o, err := oracle.NewThreshold(setup, l.Registry())
	if err != nil {
		db.Close()
		return nil, err
	}
	o.Authorise(ctx)
	a := aggregate.New(l, mode)
	return &survey{
		cfg:        cfg,
		ledger:     l,
		oracle:     o,
		protocol:   verify.New(l, o, o.Params(), verify.Config{Timeout: timeout}),
		aggregator: a,
		query:      query.New(l, a),
	}, nil
}

func (s *survey) close() error {
	return s.ledger.Store().Close()
}
