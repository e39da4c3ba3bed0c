package ledger

import (
	"sync"
	"time"

	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/onet/v3/log"
	"go.etcd.io/bbolt"
	"golang.org/x/xerrors"

	"go.dedis.ch/sealedsurvey"
	"go.dedis.ch/sealedsurvey/lib"
)

// eventBuffer is the size of the channel returned by Subscribe.
const eventBuffer = 64

// Ledger is the append-only store of encrypted responses. It is the only
// writer of the Verified and Plaintexts fields of a response. All mutations
// go through a bbolt update transaction, so they are serialized and atomic.
type Ledger struct {
	store     *Store
	ctx       lib.Context
	key       kyber.Point
	registry  *Registry
	validator *Validator

	subsLock sync.Mutex
	subs     map[int]chan Event
	nextSub  int

	// now is replaced in tests.
	now func() time.Time
}

// New returns a ledger using the store and bound to the recipient context
// ctx. Only ciphertexts encrypted under the system key X are accepted.
func New(store *Store, ctx lib.Context, X kyber.Point) *Ledger {
	reg := &Registry{store: store}
	return &Ledger{
		store:     store,
		ctx:       ctx,
		key:       X,
		registry:  reg,
		validator: NewValidator(ctx, X, reg),
		subs:      make(map[int]chan Event),
		now:       time.Now,
	}
}

// Context returns the recipient context of the ledger.
func (l *Ledger) Context() lib.Context {
	return l.ctx
}

// Key returns the system key the submissions are encrypted under.
func (l *Ledger) Key() kyber.Point {
	return l.key
}

// Registry returns the handle registry of the ledger.
func (l *Ledger) Registry() *Registry {
	return l.registry
}

// Store returns the underlying store.
func (l *Ledger) Store() *Store {
	return l.store
}

// Submit runs all fields through the validator and, if all of them pass,
// stores a new unverified response. Either everything is written or
// nothing.
func (l *Ledger) Submit(category string, fields []Field) (uint64, error) {
	if category == "" {
		return 0, xerrors.Errorf("empty category: %w", sealedsurvey.ErrInvalidRequest)
	}
	if len(fields) == 0 {
		return 0, xerrors.Errorf("no fields: %w", sealedsurvey.ErrInvalidRequest)
	}
	names := make(map[string]bool)
	handles := make(map[lib.Handle]bool)
	resp := &Response{
		Category:    category,
		SubmittedAt: l.now().UnixNano(),
	}
	for _, f := range fields {
		if f.Name == "" || names[f.Name] {
			return 0, xerrors.Errorf("field name '%s' empty or duplicate: %w",
				f.Name, sealedsurvey.ErrInvalidRequest)
		}
		names[f.Name] = true
		h, err := l.validator.Admit(f.Ciphertext, f.Proof)
		if err != nil {
			return 0, xerrors.Errorf("field %s: %w", f.Name, err)
		}
		if handles[h] {
			return 0, xerrors.Errorf("field %s reuses a ciphertext: %w", f.Name,
				sealedsurvey.ErrInvalidProof)
		}
		handles[h] = true
		resp.Ciphertexts = append(resp.Ciphertexts, NamedHandle{Name: f.Name, Handle: h})
	}

	var newCategory bool
	err := l.store.Update(func(tx *bbolt.Tx) error {
		hb := l.store.Bucket(tx, bucketHandles)
		for i, nh := range resp.Ciphertexts {
			// Another submission could have stored the same ciphertext
			// since the validator looked.
			if hb.Get(nh.Handle.Slice()) != nil {
				return xerrors.Errorf("ciphertext %s replayed: %w", nh.Handle,
					sealedsurvey.ErrInvalidProof)
			}
			if err := l.registry.put(tx, nh.Handle, fields[i].Ciphertext); err != nil {
				return sealedsurvey.ErrorOrNil(err, "storing ciphertext")
			}
		}

		rb := l.store.Bucket(tx, bucketResponses)
		seq, err := rb.NextSequence()
		if err != nil {
			return sealedsurvey.ErrorOrNil(err, "allocating id")
		}
		resp.ID = seq - 1
		if err := putMessage(rb, idKey(resp.ID), resp); err != nil {
			return sealedsurvey.ErrorOrNil(err, "storing response")
		}

		newCategory, err = l.addToCategory(tx, category, resp.ID)
		return sealedsurvey.ErrorOrNil(err, "indexing category")
	})
	if err != nil {
		return 0, err
	}
	log.Lvlf3("stored response %d in category %s", resp.ID, category)
	if newCategory {
		log.Lvl2("new category:", category)
	}
	l.emit(Event{Kind: EventSubmitted, ResponseID: resp.ID, Category: category})
	return resp.ID, nil
}

// addToCategory registers the response in the members bucket of the
// category and adds the category to the index if it is new.
func (l *Ledger) addToCategory(tx *bbolt.Tx, category string, id uint64) (bool, error) {
	set := l.store.Bucket(tx, bucketCategorySet)
	members := set.Bucket([]byte(category))
	isNew := members == nil
	if isNew {
		var err error
		members, err = set.CreateBucket([]byte(category))
		if err != nil {
			return false, err
		}
		cb := l.store.Bucket(tx, bucketCategories)
		seq, err := cb.NextSequence()
		if err != nil {
			return false, err
		}
		if err := cb.Put(idKey(seq), []byte(category)); err != nil {
			return false, err
		}
	}
	return isNew, members.Put(idKey(id), []byte{})
}

// Get returns a copy of the response.
func (l *Ledger) Get(id uint64) (*Response, error) {
	var resp *Response
	err := l.store.View(func(tx *bbolt.Tx) error {
		var err error
		resp, err = l.get(tx, id)
		return err
	})
	return resp, err
}

func (l *Ledger) get(tx *bbolt.Tx, id uint64) (*Response, error) {
	resp := &Response{}
	ok, err := getMessage(l.store.Bucket(tx, bucketResponses), idKey(id), resp)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, xerrors.Errorf("response %d: %w", id, sealedsurvey.ErrNotFound)
	}
	return resp, nil
}

// MarkVerified changes the response to verified and stores the plaintexts.
// It must only be called once the plaintexts have been authenticated. If
// the response is already verified, an *AlreadyVerifiedError holding the
// stored response is returned and nothing changes.
func (l *Ledger) MarkVerified(id uint64, plaintexts []Plaintext) (*Response, error) {
	var resp *Response
	err := l.store.Update(func(tx *bbolt.Tx) error {
		var err error
		resp, err = l.get(tx, id)
		if err != nil {
			return err
		}
		if resp.Verified {
			return &AlreadyVerifiedError{Response: resp}
		}
		if err := checkPlaintexts(resp, plaintexts); err != nil {
			return err
		}
		resp.Verified = true
		resp.Plaintexts = append([]Plaintext{}, plaintexts...)
		return sealedsurvey.ErrorOrNil(
			putMessage(l.store.Bucket(tx, bucketResponses), idKey(id), resp),
			"storing plaintexts")
	})
	if err != nil {
		return nil, err
	}
	log.Lvlf2("response %d is verified", id)
	l.emit(Event{Kind: EventVerified, ResponseID: id, Category: resp.Category})
	return resp.Copy(), nil
}

// checkPlaintexts makes sure there is exactly one plaintext per field, in
// the field order.
func checkPlaintexts(resp *Response, ps []Plaintext) error {
	if len(ps) != len(resp.Ciphertexts) {
		return xerrors.Errorf("got %d plaintexts for %d fields: %w", len(ps),
			len(resp.Ciphertexts), sealedsurvey.ErrInvalidRequest)
	}
	for i, p := range ps {
		if p.Name != resp.Ciphertexts[i].Name {
			return xerrors.Errorf("plaintext %s doesn't match field %s: %w",
				p.Name, resp.Ciphertexts[i].Name, sealedsurvey.ErrInvalidRequest)
		}
	}
	return nil
}

// ResponseIDs returns all response ids in insertion order.
func (l *Ledger) ResponseIDs() ([]uint64, error) {
	var ids []uint64
	err := l.store.View(func(tx *bbolt.Tx) error {
		return l.store.Bucket(tx, bucketResponses).ForEach(func(k, v []byte) error {
			ids = append(ids, keyID(k))
			return nil
		})
	})
	return ids, err
}

// Size returns the number of responses in the ledger.
func (l *Ledger) Size() (int, error) {
	var n int
	err := l.store.View(func(tx *bbolt.Tx) error {
		n = l.store.Bucket(tx, bucketResponses).Stats().KeyN
		return nil
	})
	return n, err
}

// Categories returns all categories in the order they were first seen.
func (l *Ledger) Categories() ([]string, error) {
	var cats []string
	err := l.store.View(func(tx *bbolt.Tx) error {
		return l.store.Bucket(tx, bucketCategories).ForEach(func(k, v []byte) error {
			cats = append(cats, string(v))
			return nil
		})
	})
	return cats, err
}

// HasCategory returns true if at least one response has been submitted
// to the category.
func (l *Ledger) HasCategory(category string) bool {
	found := false
	l.store.View(func(tx *bbolt.Tx) error {
		found = l.store.Bucket(tx, bucketCategorySet).Bucket([]byte(category)) != nil
		return nil
	})
	return found
}

// ResponsesIn returns all responses of the category, in insertion order,
// read in one consistent snapshot.
func (l *Ledger) ResponsesIn(category string) ([]*Response, error) {
	var resps []*Response
	err := l.store.View(func(tx *bbolt.Tx) error {
		members := l.store.Bucket(tx, bucketCategorySet).Bucket([]byte(category))
		if members == nil {
			return xerrors.Errorf("category %s: %w", category, sealedsurvey.ErrNotFound)
		}
		return members.ForEach(func(k, v []byte) error {
			resp, err := l.get(tx, keyID(k))
			if err != nil {
				return err
			}
			resps = append(resps, resp)
			return nil
		})
	})
	return resps, err
}

// Subscribe returns a channel receiving all events of the ledger, and a
// function to stop the subscription. Events are dropped for subscribers
// that don't keep up.
func (l *Ledger) Subscribe() (<-chan Event, func()) {
	l.subsLock.Lock()
	defer l.subsLock.Unlock()
	ch := make(chan Event, eventBuffer)
	id := l.nextSub
	l.nextSub++
	l.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.subsLock.Lock()
			defer l.subsLock.Unlock()
			delete(l.subs, id)
			close(ch)
		})
	}
}

func (l *Ledger) emit(ev Event) {
	l.subsLock.Lock()
	defer l.subsLock.Unlock()
	for id, ch := range l.subs {
		select {
		case ch <- ev:
		default:
			log.Warnf("subscriber %d is too slow, dropping %s event of %d",
				id, ev.Kind, ev.ResponseID)
		}
	}
}
