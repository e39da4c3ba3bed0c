package lib

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/util/random"

	"go.dedis.ch/sealedsurvey"
)

// EncryptionProof is a non-interactive proof of knowledge of the
// representation (r, m) of a ciphertext under the system key X:
// K = rG and C = rX + mG. The challenge hashes X, the ciphertext and the
// recipient context, so the proof is only valid for this ciphertext, under
// this key, in this deployment.
//
// E is the challenge, Fr and Fm are the responses for r and m.
type EncryptionProof struct {
	E  kyber.Scalar
	Fr kyber.Scalar
	Fm kyber.Scalar
}

// EncryptAndProve is used by the submitter to encrypt m under the ledger
// key X and to prove the ciphertext is well formed for the context ctx.
func EncryptAndProve(X kyber.Point, ctx Context, m int64) (*Ciphertext, *EncryptionProof, error) {
	if m < 0 || m > MaxPlaintext {
		return nil, nil, fmt.Errorf("plaintext %d out of range [0, %d]", m, MaxPlaintext)
	}
	suite := sealedsurvey.Suite
	ct, r := Encrypt(X, m)
	ms := suite.Scalar().SetInt64(m)

	sr := suite.Scalar().Pick(random.New())
	sm := suite.Scalar().Pick(random.New())
	w1 := suite.Point().Mul(sr, nil)
	w2 := suite.Point().Add(suite.Point().Mul(sr, X), suite.Point().Mul(sm, nil))
	e, err := challenge(X, ct, w1, w2, ctx)
	if err != nil {
		return nil, nil, err
	}
	return ct, &EncryptionProof{
		E:  e,
		Fr: suite.Scalar().Add(sr, suite.Scalar().Mul(e, r)),
		Fm: suite.Scalar().Add(sm, suite.Scalar().Mul(e, ms)),
	}, nil
}

// VerifyProof checks that the ciphertext is an encryption under X and that
// the proof has been created by somebody knowing the blinding scalar and
// the message, for this context.
func VerifyProof(X kyber.Point, ct *Ciphertext, proof *EncryptionProof, ctx Context) error {
	if X == nil {
		return errors.New("missing public key")
	}
	if ct == nil || ct.K == nil || ct.C == nil {
		return errors.New("missing ciphertext")
	}
	if proof == nil || proof.E == nil || proof.Fr == nil || proof.Fm == nil {
		return errors.New("missing proof")
	}
	suite := sealedsurvey.Suite
	if ct.K.Equal(suite.Point().Null()) {
		return errors.New("ciphertext is not blinded")
	}

	negE := suite.Scalar().Neg(proof.E)
	// w1 = Fr*G - E*K
	w1 := suite.Point().Add(suite.Point().Mul(proof.Fr, nil),
		suite.Point().Mul(negE, ct.K))
	// w2 = Fr*X + Fm*G - E*C
	w2 := suite.Point().Add(suite.Point().Mul(proof.Fr, X),
		suite.Point().Mul(proof.Fm, nil))
	w2 = suite.Point().Add(w2, suite.Point().Mul(negE, ct.C))
	e, err := challenge(X, ct, w1, w2, ctx)
	if err != nil {
		return err
	}
	if !e.Equal(proof.E) {
		return errors.New("recreated challenge is not equal to the proof")
	}
	return nil
}

func challenge(X kyber.Point, ct *Ciphertext, w1, w2 kyber.Point, ctx Context) (kyber.Scalar, error) {
	hash := sha256.New()
	for _, p := range []kyber.Point{X, ct.K, ct.C, w1, w2} {
		if _, err := p.MarshalTo(hash); err != nil {
			return nil, err
		}
	}
	hash.Write(ctx.Digest())
	return sealedsurvey.Suite.Scalar().SetBytes(hash.Sum(nil)), nil
}
