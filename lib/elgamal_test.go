package lib

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/kyber/v3/util/key"
	"golang.org/x/xerrors"

	"go.dedis.ch/sealedsurvey"
)

func TestElGamal(t *testing.T) {
	kp := key.NewKeyPair(sealedsurvey.Suite)
	ct, _ := Encrypt(kp.Public, 50000)
	m, err := DecryptInt(kp.Private, ct)
	require.NoError(t, err)
	require.Equal(t, int64(50000), m)
}

func TestElGamal_Add(t *testing.T) {
	kp := key.NewKeyPair(sealedsurvey.Suite)
	sum := Zero()
	for _, v := range []int64{8, 6, 0, 1} {
		ct, _ := Encrypt(kp.Public, v)
		sum = sum.Add(ct)
	}
	m, err := DecryptInt(kp.Private, sum)
	require.NoError(t, err)
	require.Equal(t, int64(15), m)

	m, err = DecryptInt(kp.Private, Zero())
	require.NoError(t, err)
	require.Equal(t, int64(0), m)
}

func TestCiphertext_Marshal(t *testing.T) {
	kp := key.NewKeyPair(sealedsurvey.Suite)
	ct, _ := Encrypt(kp.Public, 30)
	buf, err := ct.Bytes()
	require.NoError(t, err)

	var ct2 Ciphertext
	require.NoError(t, ct2.SetBytes(buf))
	require.True(t, ct.Equal(&ct2))
	require.Error(t, ct2.SetBytes(buf[1:]))

	h1, err := HandleOf(ct)
	require.NoError(t, err)
	h2, err := HandleOf(&ct2)
	require.NoError(t, err)
	require.True(t, h1.Equal(h2))
	require.False(t, h1.IsNull())
}

func TestDlog(t *testing.T) {
	suite := sealedsurvey.Suite
	for _, m := range []int64{0, 1, babySteps - 1, babySteps, 3*babySteps + 17, 1 << 31} {
		M := suite.Point().Mul(suite.Scalar().SetInt64(m), nil)
		res, err := Dlog(context.Background(), M)
		require.NoError(t, err)
		require.Equal(t, m, res)
	}
	_, err := Dlog(context.Background(), suite.Point().Pick(suite.RandomStream()))
	require.True(t, xerrors.Is(err, sealedsurvey.ErrOutOfRange))
	require.False(t, sealedsurvey.IsRetryable(err))

	// A sum above the range is refused the same way.
	M := suite.Point().Mul(suite.Scalar().SetInt64(MaxPlaintext+1), nil)
	_, err = Dlog(context.Background(), M)
	require.True(t, xerrors.Is(err, sealedsurvey.ErrOutOfRange))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Dlog(ctx, M)
	require.True(t, xerrors.Is(err, context.Canceled))
}
