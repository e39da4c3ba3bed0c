package lib

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/kyber/v3/util/key"

	"go.dedis.ch/sealedsurvey"
)

func TestEncryptAndProve(t *testing.T) {
	kp := key.NewKeyPair(sealedsurvey.Suite)
	ctx := NewContext(ContractIDFromString("survey-1"), []byte("alice"))

	ct, proof, err := EncryptAndProve(kp.Public, ctx, 30)
	require.NoError(t, err)
	require.NoError(t, VerifyProof(kp.Public, ct, proof, ctx))

	m, err := DecryptInt(kp.Private, ct)
	require.NoError(t, err)
	require.Equal(t, int64(30), m)

	_, _, err = EncryptAndProve(kp.Public, ctx, -1)
	require.Error(t, err)
	_, _, err = EncryptAndProve(kp.Public, ctx, MaxPlaintext+1)
	require.Error(t, err)
}

func TestVerifyProof_Context(t *testing.T) {
	kp := key.NewKeyPair(sealedsurvey.Suite)
	ctx := NewContext(ContractIDFromString("survey-1"), []byte("alice"))
	ct, proof, err := EncryptAndProve(kp.Public, ctx, 8)
	require.NoError(t, err)

	// Another deployment
	other := NewContext(ContractIDFromString("survey-2"), []byte("alice"))
	require.Error(t, VerifyProof(kp.Public, ct, proof, other))
	// Another recipient
	other = NewContext(ctx.ContractID, []byte("bob"))
	require.Error(t, VerifyProof(kp.Public, ct, proof, other))
}

func TestVerifyProof_Tampered(t *testing.T) {
	suite := sealedsurvey.Suite
	kp := key.NewKeyPair(suite)
	ctx := NewContext(ContractIDFromString("survey-1"), nil)
	ct, proof, err := EncryptAndProve(kp.Public, ctx, 8)
	require.NoError(t, err)

	// Proof of one ciphertext doesn't work for another one.
	ct2, _, err := EncryptAndProve(kp.Public, ctx, 8)
	require.NoError(t, err)
	require.Error(t, VerifyProof(kp.Public, ct2, proof, ctx))

	// Changing the message part breaks the proof.
	forged := ct.Clone()
	forged.C = suite.Point().Add(forged.C, suite.Point().Base())
	require.Error(t, VerifyProof(kp.Public, forged, proof, ctx))

	// Unblinded ciphertexts are refused.
	plain := &Ciphertext{K: suite.Point().Null(), C: suite.Point().Base()}
	require.Error(t, VerifyProof(kp.Public, plain, proof, ctx))

	require.Error(t, VerifyProof(kp.Public, nil, proof, ctx))
	require.Error(t, VerifyProof(kp.Public, ct, nil, ctx))
	require.Error(t, VerifyProof(kp.Public, ct, &EncryptionProof{E: proof.E, Fr: proof.Fr}, ctx))
	require.Error(t, VerifyProof(nil, ct, proof, ctx))
}

func TestVerifyProof_Key(t *testing.T) {
	suite := sealedsurvey.Suite
	kp := key.NewKeyPair(suite)
	ctx := NewContext(ContractIDFromString("survey-1"), []byte("alice"))

	// Encrypted under another key, with an honest proof for that key.
	wrongKey := suite.Point().Add(kp.Public, suite.Point().Base())
	ct, proof, err := EncryptAndProve(wrongKey, ctx, 8)
	require.NoError(t, err)
	require.NoError(t, VerifyProof(wrongKey, ct, proof, ctx))
	require.Error(t, VerifyProof(kp.Public, ct, proof, ctx))

	// Shifting both points by the same amount keeps K a valid blinding but
	// C is not an encryption under the key anymore.
	ct, proof, err = EncryptAndProve(kp.Public, ctx, 8)
	require.NoError(t, err)
	forged := ct.Clone()
	forged.K = suite.Point().Add(forged.K, suite.Point().Base())
	require.Error(t, VerifyProof(kp.Public, forged, proof, ctx))
}

func TestContext(t *testing.T) {
	a := NewContext(ContractIDFromString("x"), []byte{1, 2})
	b := NewContext(ContractIDFromString("x"), []byte{1, 2})
	c := NewContext(ContractIDFromString("x"), []byte{1})
	require.True(t, a.Equal(b))
	require.Equal(t, a.Digest(), b.Digest())
	require.False(t, a.Equal(c))
	require.NotEqual(t, a.Digest(), c.Digest())
}
