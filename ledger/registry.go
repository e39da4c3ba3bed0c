package ledger

import (
	"go.etcd.io/bbolt"
	"golang.org/x/xerrors"

	"go.dedis.ch/sealedsurvey"
	"go.dedis.ch/sealedsurvey/lib"
)

// Registry maps handles to the ciphertexts accepted into the ledger. It has
// no logic of its own: the validator decides what goes in.
type Registry struct {
	store *Store
}

// Resolve returns the ciphertext referenced by the handle.
func (r *Registry) Resolve(h lib.Handle) (*lib.Ciphertext, error) {
	var ct *lib.Ciphertext
	err := r.store.View(func(tx *bbolt.Tx) error {
		var err error
		ct, err = r.get(tx, h)
		return err
	})
	return ct, err
}

// Has returns true if the handle is known.
func (r *Registry) Has(h lib.Handle) bool {
	found := false
	r.store.View(func(tx *bbolt.Tx) error {
		found = r.store.Bucket(tx, bucketHandles).Get(h.Slice()) != nil
		return nil
	})
	return found
}

// PutIfAbsent stores the ciphertext and returns its handle. Storing the same
// ciphertext twice is not an error, as the handle is derived from it. This
// is used for derived ciphertexts like homomorphic sums.
func (r *Registry) PutIfAbsent(ct *lib.Ciphertext) (lib.Handle, error) {
	h, err := lib.HandleOf(ct)
	if err != nil {
		return h, err
	}
	err = r.store.Update(func(tx *bbolt.Tx) error {
		if r.store.Bucket(tx, bucketHandles).Get(h.Slice()) != nil {
			return nil
		}
		return r.put(tx, h, ct)
	})
	return h, err
}

func (r *Registry) get(tx *bbolt.Tx, h lib.Handle) (*lib.Ciphertext, error) {
	val := r.store.Bucket(tx, bucketHandles).Get(h.Slice())
	if val == nil {
		return nil, xerrors.Errorf("handle %s: %w", h, sealedsurvey.ErrNotFound)
	}
	ct := &lib.Ciphertext{}
	if err := ct.SetBytes(append([]byte{}, val...)); err != nil {
		return nil, err
	}
	return ct, nil
}

func (r *Registry) put(tx *bbolt.Tx, h lib.Handle, ct *lib.Ciphertext) error {
	buf, err := ct.Bytes()
	if err != nil {
		return err
	}
	return r.store.Bucket(tx, bucketHandles).Put(h.Slice(), buf)
}
