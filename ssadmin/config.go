package main

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"go.dedis.ch/kyber/v3/util/encoding"
	"golang.org/x/xerrors"

	"go.dedis.ch/sealedsurvey"
	"go.dedis.ch/sealedsurvey/aggregate"
	"go.dedis.ch/sealedsurvey/lib"
	"go.dedis.ch/sealedsurvey/oracle"
)

const (
	surveyFile = "survey.toml"
	oracleFile = "oracle.toml"
	dbFile     = "survey.db"
)

// config is stored in survey.toml.
type config struct {
	// ContractID is the hex of the 32 bytes contract id.
	ContractID string
	Recipient  string
	Threshold  int
	Nodes      int
	// Timeout of the oracle, like "30s".
	Timeout string
	// Mode is the default accumulator of new categories.
	Mode   string
	Listen string
}

func (c *config) context() (lib.Context, error) {
	buf, err := hex.DecodeString(c.ContractID)
	if err != nil || len(buf) != 32 {
		return lib.Context{}, xerrors.Errorf("contract id must be 32 hex bytes: %w",
			sealedsurvey.ErrInvalidRequest)
	}
	var cid [32]byte
	copy(cid[:], buf)
	return lib.NewContext(cid, []byte(c.Recipient)), nil
}

func (c *config) timeout() (time.Duration, error) {
	if c.Timeout == "" {
		return 0, nil
	}
	return time.ParseDuration(c.Timeout)
}

func (c *config) mode() (aggregate.Mode, error) {
	return aggregate.ParseMode(c.Mode)
}

// oracleConfig is stored in oracle.toml and holds the secret material of
// the oracle, hex encoded.
type oracleConfig struct {
	Threshold  int
	Shares     []string
	Commits    []string
	SignSecret string
}

func newOracleConfig(s *oracle.Setup) (*oracleConfig, error) {
	suite := sealedsurvey.Suite
	oc := &oracleConfig{Threshold: s.Threshold}
	for _, sh := range s.Shares {
		str, err := encoding.ScalarToStringHex(suite, sh)
		if err != nil {
			return nil, err
		}
		oc.Shares = append(oc.Shares, str)
	}
	for _, c := range s.Commits {
		str, err := encoding.PointToStringHex(suite, c)
		if err != nil {
			return nil, err
		}
		oc.Commits = append(oc.Commits, str)
	}
	var err error
	oc.SignSecret, err = encoding.ScalarToStringHex(suite, s.SignSecret)
	return oc, err
}

func (oc *oracleConfig) setup() (*oracle.Setup, error) {
	suite := sealedsurvey.Suite
	s := &oracle.Setup{Threshold: oc.Threshold}
	for _, str := range oc.Shares {
		sh, err := encoding.StringHexToScalar(suite, str)
		if err != nil {
			return nil, err
		}
		s.Shares = append(s.Shares, sh)
	}
	for _, str := range oc.Commits {
		c, err := encoding.StringHexToPoint(suite, str)
		if err != nil {
			return nil, err
		}
		s.Commits = append(s.Commits, c)
	}
	var err error
	s.SignSecret, err = encoding.StringHexToScalar(suite, oc.SignSecret)
	if err != nil {
		return nil, err
	}
	return s, s.Check()
}

func writeTOML(path string, v interface{}, perm os.FileMode) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if err := toml.NewEncoder(f).Encode(v); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func loadConfig(dir string) (*config, *oracle.Setup, error) {
	cfg := &config{}
	if _, err := toml.DecodeFile(filepath.Join(dir, surveyFile), cfg); err != nil {
		return nil, nil, xerrors.Errorf("no survey in %s, run setup first: %v", dir, err)
	}
	oc := &oracleConfig{}
	if _, err := toml.DecodeFile(filepath.Join(dir, oracleFile), oc); err != nil {
		return nil, nil, xerrors.Errorf("reading oracle keys: %v", err)
	}
	setup, err := oc.setup()
	if err != nil {
		return nil, nil, xerrors.Errorf("oracle keys: %v", err)
	}
	return cfg, setup, nil
}

func saveConfig(dir string, cfg *config, setup *oracle.Setup) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}
	oc, err := newOracleConfig(setup)
	if err != nil {
		return err
	}
	if err := writeTOML(filepath.Join(dir, oracleFile), oc, 0600); err != nil {
		return err
	}
	return writeTOML(filepath.Join(dir, surveyFile), cfg, 0644)
}
