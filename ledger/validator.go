package ledger

import (
	"go.dedis.ch/kyber/v3"
	"golang.org/x/xerrors"

	"go.dedis.ch/sealedsurvey"
	"go.dedis.ch/sealedsurvey/lib"
)

// Validator admits ciphertexts into the ledger. It never decrypts anything:
// it checks the proof of valid encryption against the system key and the
// ledger's context, and returns the handle the ciphertext will be stored
// under.
type Validator struct {
	ctx      lib.Context
	key      kyber.Point
	registry *Registry
}

// NewValidator returns a validator accepting encryptions under key for the
// given context.
func NewValidator(ctx lib.Context, key kyber.Point, registry *Registry) *Validator {
	return &Validator{ctx: ctx, key: key, registry: registry}
}

// Admit verifies the proof of the ciphertext and binds it to a handle. A
// ciphertext that is already in the registry is refused, as it can only be
// a copy of somebody else's answer. Nothing is persisted here.
func (v *Validator) Admit(ct *lib.Ciphertext, proof *lib.EncryptionProof) (lib.Handle, error) {
	if err := lib.VerifyProof(v.key, ct, proof, v.ctx); err != nil {
		return lib.Handle{}, xerrors.Errorf("%v: %w", err, sealedsurvey.ErrInvalidProof)
	}
	h, err := lib.HandleOf(ct)
	if err != nil {
		return lib.Handle{}, xerrors.Errorf("%v: %w", err, sealedsurvey.ErrInvalidProof)
	}
	if v.registry != nil && v.registry.Has(h) {
		return lib.Handle{}, xerrors.Errorf("ciphertext %s replayed: %w", h,
			sealedsurvey.ErrInvalidProof)
	}
	return h, nil
}
