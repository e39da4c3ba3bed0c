package lib

import (
	"context"
	"errors"

	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/util/random"

	"go.dedis.ch/sealedsurvey"
)

// Ciphertext is a lifted ElGamal ciphertext: K = rG and C = rX + mG. The
// message lives in the exponent so that adding two ciphertexts adds the
// messages.
type Ciphertext struct {
	K kyber.Point
	C kyber.Point
}

// Encrypt performs the lifted ElGamal encryption of m under the public key
// X. It returns the ciphertext and the blinding scalar, which is needed to
// create the proof of valid encryption.
func Encrypt(X kyber.Point, m int64) (*Ciphertext, kyber.Scalar) {
	suite := sealedsurvey.Suite
	r := suite.Scalar().Pick(random.New())
	M := suite.Point().Mul(suite.Scalar().SetInt64(m), nil)
	S := suite.Point().Mul(r, X)
	return &Ciphertext{
		K: suite.Point().Mul(r, nil),
		C: suite.Point().Add(S, M),
	}, r
}

// Decrypt removes the blinding of the ciphertext with the private key x and
// returns mG.
func Decrypt(x kyber.Scalar, ct *Ciphertext) kyber.Point {
	S := sealedsurvey.Suite.Point().Mul(x, ct.K)
	return sealedsurvey.Suite.Point().Sub(ct.C, S)
}

// DecryptInt decrypts the ciphertext and recovers the integer message.
func DecryptInt(x kyber.Scalar, ct *Ciphertext) (int64, error) {
	return Dlog(context.Background(), Decrypt(x, ct))
}

// Zero returns the trivial encryption of 0, which is the neutral element of
// Add.
func Zero() *Ciphertext {
	return &Ciphertext{
		K: sealedsurvey.Suite.Point().Null(),
		C: sealedsurvey.Suite.Point().Null(),
	}
}

// Add returns a new ciphertext encrypting the sum of both messages.
func (ct *Ciphertext) Add(other *Ciphertext) *Ciphertext {
	return &Ciphertext{
		K: sealedsurvey.Suite.Point().Add(ct.K, other.K),
		C: sealedsurvey.Suite.Point().Add(ct.C, other.C),
	}
}

// Equal returns true if both ciphertexts have the same points.
func (ct *Ciphertext) Equal(other *Ciphertext) bool {
	return ct.K.Equal(other.K) && ct.C.Equal(other.C)
}

// Clone returns a deep copy of the ciphertext.
func (ct *Ciphertext) Clone() *Ciphertext {
	return &Ciphertext{K: ct.K.Clone(), C: ct.C.Clone()}
}

// Bytes returns K || C. It is the form stored in the handle registry and
// sent over HTTP. The onet and protobuf codecs encode both points as fields
// instead.
func (ct *Ciphertext) Bytes() ([]byte, error) {
	k, err := ct.K.MarshalBinary()
	if err != nil {
		return nil, err
	}
	c, err := ct.C.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return append(k, c...), nil
}

// SetBytes decodes K || C. It fails if one of the points is not on the
// curve.
func (ct *Ciphertext) SetBytes(buf []byte) error {
	l := sealedsurvey.Suite.PointLen()
	if len(buf) != 2*l {
		return errors.New("wrong ciphertext length")
	}
	ct.K = sealedsurvey.Suite.Point()
	if err := ct.K.UnmarshalBinary(buf[:l]); err != nil {
		return err
	}
	ct.C = sealedsurvey.Suite.Point()
	return ct.C.UnmarshalBinary(buf[l:])
}
