package oracle

import (
	"errors"
	"fmt"

	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/share"
	"go.dedis.ch/kyber/v3/util/key"
	"go.dedis.ch/kyber/v3/util/random"

	"go.dedis.ch/sealedsurvey"
	"go.dedis.ch/sealedsurvey/lib"
)

// Setup holds the secret material of a threshold oracle: one share of the
// collective private key per node and the key signing the results. It is
// created by a trusted dealer and can be stored by onet or in a config file.
type Setup struct {
	Threshold  int
	Shares     []kyber.Scalar
	Commits    []kyber.Point
	SignSecret kyber.Scalar
}

// MaxNodes is the biggest oracle network a setup can be created for.
const MaxNodes = 64

// NewSetup creates a fresh t-of-n sharing of a new collective key.
func NewSetup(t, n int) (*Setup, error) {
	if n > MaxNodes {
		return nil, fmt.Errorf("at most %d nodes are supported", MaxNodes)
	}
	if t < 1 || t > n {
		return nil, errors.New("threshold must be between 1 and the number of nodes")
	}
	suite := sealedsurvey.Suite
	secret := suite.Scalar().Pick(random.New())
	poly := share.NewPriPoly(suite, t, secret, random.New())
	setup := &Setup{
		Threshold:  t,
		SignSecret: key.NewKeyPair(suite).Private,
	}
	for _, sh := range poly.Shares(n) {
		setup.Shares = append(setup.Shares, sh.V)
	}
	_, setup.Commits = poly.Commit(nil).Info()
	return setup, nil
}

// Params returns the public part of the setup.
func (s *Setup) Params() *PublicParams {
	suite := sealedsurvey.Suite
	return &PublicParams{
		X:         s.Commits[0].Clone(),
		Commits:   s.Commits,
		Threshold: s.Threshold,
		Nodes:     len(s.Shares),
		SignKey:   suite.Point().Mul(s.SignSecret, nil),
	}
}

// Check verifies that every share matches the public commitments.
func (s *Setup) Check() error {
	if len(s.Shares) > MaxNodes {
		return errors.New("too many shares")
	}
	if s.Threshold < 1 || s.Threshold > len(s.Shares) {
		return errors.New("invalid threshold")
	}
	if len(s.Commits) != s.Threshold {
		return errors.New("wrong number of commitments")
	}
	if s.SignSecret == nil {
		return errors.New("missing signing key")
	}
	pub := s.Params().PubPoly()
	for i, sh := range s.Shares {
		if !pub.Check(&share.PriShare{I: i, V: sh}) {
			return errors.New("share doesn't match the commitments")
		}
	}
	return nil
}

// Decrypt is a helper for the holder of the setup to decrypt a ciphertext
// directly, without going through the network.
func (s *Setup) Decrypt(ct *lib.Ciphertext) (int64, error) {
	var shares []*share.PriShare
	for i, v := range s.Shares {
		shares = append(shares, &share.PriShare{I: i, V: v})
	}
	x, err := share.RecoverSecret(sealedsurvey.Suite, shares, s.Threshold, len(s.Shares))
	if err != nil {
		return 0, err
	}
	return lib.DecryptInt(x, ct)
}
