// Package aggregate computes per-category sums over the verified responses
// of the ledger. The sums are snapshots: they are recomputed on demand and
// cached, but never updated in place.
package aggregate

import (
	"context"
	"sort"
	"sync"

	"go.dedis.ch/onet/v3/log"
	"go.etcd.io/bbolt"
	"golang.org/x/xerrors"

	"go.dedis.ch/sealedsurvey"
	"go.dedis.ch/sealedsurvey/ledger"
	"go.dedis.ch/sealedsurvey/lib"
)

// Mode is the accumulator used for a category. Once a category has been
// aggregated, its mode doesn't change anymore.
type Mode int32

const (
	// ModeCiphertext adds the ciphertexts homomorphically. The sums are
	// handles that can be decrypted by the oracle.
	ModeCiphertext Mode = iota
	// ModePlaintext adds the revealed plaintexts of the responses.
	ModePlaintext
)

func (m Mode) String() string {
	switch m {
	case ModeCiphertext:
		return "ciphertext"
	case ModePlaintext:
		return "plaintext"
	default:
		return "unknown"
	}
}

// ParseMode returns the mode with the given name.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "ciphertext":
		return ModeCiphertext, nil
	case "plaintext":
		return ModePlaintext, nil
	}
	return 0, xerrors.Errorf("unknown mode '%s': %w", s, sealedsurvey.ErrInvalidRequest)
}

// FieldSum is the accumulator of one field. In ciphertext mode, Handle
// references the encrypted sum, and Total is only set once revealed.
type FieldSum struct {
	Name     string
	Handle   lib.Handle
	Total    int64
	Revealed bool
}

// Stats is the snapshot of one category.
type Stats struct {
	Category       string
	Mode           Mode
	TotalResponses int
	Sums           []FieldSum
	// Stale is set once a response of the category has been verified after
	// the snapshot was taken.
	Stale bool
}

// Sum returns the accumulator of the field.
func (s *Stats) Sum(name string) (FieldSum, bool) {
	for _, fs := range s.Sums {
		if fs.Name == name {
			return fs, true
		}
	}
	return FieldSum{}, false
}

// Totals returns the revealed totals indexed by field.
func (s *Stats) Totals() map[string]int64 {
	m := make(map[string]int64)
	for _, fs := range s.Sums {
		if fs.Revealed {
			m[fs.Name] = fs.Total
		}
	}
	return m
}

// Decrypter decrypts handles through a validated oracle round trip.
type Decrypter interface {
	Decrypt(ctx context.Context, handles []lib.Handle) ([]int64, error)
}

// Aggregator owns the stats cache of the ledger. It only reads responses.
type Aggregator struct {
	ledger      *ledger.Ledger
	store       *ledger.Store
	defaultMode Mode

	// generation counts the verifications seen by Watch per category. A
	// snapshot is only fresh if no verification happened since its scan
	// started.
	staleLock  sync.Mutex
	stale      map[string]bool
	generation map[string]uint64

	// afterScan is replaced in tests.
	afterScan func(category string)
}

// New returns an aggregator over the ledger. Categories that have no mode
// yet get defaultMode at their first recomputation.
func New(l *ledger.Ledger, defaultMode Mode) *Aggregator {
	return &Aggregator{
		ledger:      l,
		store:       l.Store(),
		defaultMode: defaultMode,
		stale:       make(map[string]bool),
		generation:  make(map[string]uint64),
		afterScan:   func(string) {},
	}
}

// SetMode fixes the accumulator of a category. It fails with
// ErrAccumulatorFixed if the category already has another mode.
func (a *Aggregator) SetMode(category string, m Mode) error {
	if m != ModeCiphertext && m != ModePlaintext {
		return xerrors.Errorf("mode %d: %w", m, sealedsurvey.ErrInvalidRequest)
	}
	_, err := a.fixMode(category, m)
	return err
}

// Mode returns the accumulator of the category, and false if it hasn't
// been fixed yet.
func (a *Aggregator) Mode(category string) (Mode, bool) {
	var m Mode
	var ok bool
	a.store.View(func(tx *bbolt.Tx) error {
		v := a.store.Bucket(tx, ledger.BucketModes).Get([]byte(category))
		if len(v) == 1 {
			m, ok = Mode(v[0]), true
		}
		return nil
	})
	return m, ok
}

// fixMode stores m as the mode of the category if there is none yet, and
// returns the mode of the category.
func (a *Aggregator) fixMode(category string, m Mode) (Mode, error) {
	err := a.store.Update(func(tx *bbolt.Tx) error {
		b := a.store.Bucket(tx, ledger.BucketModes)
		v := b.Get([]byte(category))
		if len(v) == 1 {
			if Mode(v[0]) != m {
				return xerrors.Errorf("category %s uses %s: %w", category,
					Mode(v[0]), sealedsurvey.ErrAccumulatorFixed)
			}
			return nil
		}
		return b.Put([]byte(category), []byte{byte(m)})
	})
	return m, err
}

// Recompute sums all verified responses of the category. It fails with
// ErrNoResponses if the category never received a response. Calling it
// again without new verifications returns the same stats.
func (a *Aggregator) Recompute(category string) (*Stats, error) {
	gen := a.currentGeneration(category)
	resps, err := a.ledger.ResponsesIn(category)
	if err != nil {
		if xerrors.Is(err, sealedsurvey.ErrNotFound) {
			return nil, xerrors.Errorf("category %s: %w", category, sealedsurvey.ErrNoResponses)
		}
		return nil, err
	}
	mode, ok := a.Mode(category)
	if !ok {
		mode, err = a.fixMode(category, a.defaultMode)
		if err != nil {
			// Somebody else fixed it in the meantime.
			if mode, ok = a.Mode(category); !ok {
				return nil, err
			}
		}
	}

	stats := &Stats{Category: category, Mode: mode}
	var verified []*ledger.Response
	names := make(map[string]bool)
	for _, r := range resps {
		if !r.Verified {
			continue
		}
		verified = append(verified, r)
		for _, n := range r.Names() {
			names[n] = true
		}
	}
	stats.TotalResponses = len(verified)
	a.afterScan(category)
	var sorted []string
	for n := range names {
		sorted = append(sorted, n)
	}
	sort.Strings(sorted)

	for _, name := range sorted {
		var fs FieldSum
		var err error
		switch mode {
		case ModeCiphertext:
			fs, err = a.sumCiphertexts(name, verified)
		case ModePlaintext:
			fs = sumPlaintexts(name, verified)
		}
		if err != nil {
			return nil, err
		}
		stats.Sums = append(stats.Sums, fs)
	}

	if err := a.save(stats); err != nil {
		return nil, err
	}
	a.staleLock.Lock()
	if a.generation[category] == gen {
		delete(a.stale, category)
	} else {
		// A verification landed during the scan.
		stats.Stale = true
	}
	a.staleLock.Unlock()
	log.Lvlf3("recomputed %s over %d verified responses", category, stats.TotalResponses)
	return stats, nil
}

func (a *Aggregator) currentGeneration(category string) uint64 {
	a.staleLock.Lock()
	defer a.staleLock.Unlock()
	return a.generation[category]
}

// sumCiphertexts folds the ciphertexts of the field over the responses and
// registers the sum, so that the oracle can decrypt it.
func (a *Aggregator) sumCiphertexts(name string, resps []*ledger.Response) (FieldSum, error) {
	sum := lib.Zero()
	reg := a.ledger.Registry()
	for _, r := range resps {
		for _, nh := range r.Ciphertexts {
			if nh.Name != name {
				continue
			}
			ct, err := reg.Resolve(nh.Handle)
			if err != nil {
				return FieldSum{}, err
			}
			sum = sum.Add(ct)
		}
	}
	h, err := reg.PutIfAbsent(sum)
	if err != nil {
		return FieldSum{}, err
	}
	return FieldSum{Name: name, Handle: h}, nil
}

func sumPlaintexts(name string, resps []*ledger.Response) FieldSum {
	fs := FieldSum{Name: name, Revealed: true}
	for _, r := range resps {
		if v, ok := r.PlaintextMap()[name]; ok {
			fs.Total += v
		}
	}
	return fs
}

func (a *Aggregator) save(stats *Stats) error {
	return a.store.Update(func(tx *bbolt.Tx) error {
		return sealedsurvey.ErrorOrNil(ledger.PutMessage(a.store.Bucket(tx, ledger.BucketStats),
			[]byte(stats.Category), stats), "saving stats")
	})
}

// Stats returns the last snapshot of the category, or ErrNotFound if it has
// never been computed.
func (a *Aggregator) Stats(category string) (*Stats, error) {
	stats := &Stats{}
	var found bool
	err := a.store.View(func(tx *bbolt.Tx) error {
		var err error
		found, err = ledger.GetMessage(a.store.Bucket(tx, ledger.BucketStats),
			[]byte(category), stats)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, xerrors.Errorf("stats of %s: %w", category, sealedsurvey.ErrNotFound)
	}
	a.staleLock.Lock()
	stats.Stale = a.stale[category]
	a.staleLock.Unlock()
	return stats, nil
}

// Reveal decrypts the encrypted sums of the last snapshot of the category
// and stores the totals in the snapshot. If the category has been
// recomputed during the round trip to the oracle, the newer snapshot is
// kept as is and the revealed one is returned marked as stale.
func (a *Aggregator) Reveal(ctx context.Context, category string, dec Decrypter) (*Stats, error) {
	stats, err := a.Stats(category)
	if err != nil {
		return nil, err
	}
	if stats.Mode == ModePlaintext || len(stats.Sums) == 0 {
		return stats, nil
	}
	handles := make([]lib.Handle, len(stats.Sums))
	for i, fs := range stats.Sums {
		handles[i] = fs.Handle
	}
	totals, err := dec.Decrypt(ctx, handles)
	if err != nil {
		return nil, err
	}
	for i := range stats.Sums {
		stats.Sums[i].Total = totals[i]
		stats.Sums[i].Revealed = true
	}
	saved, err := a.saveRevealed(stats)
	if err != nil {
		return nil, err
	}
	if !saved {
		log.Lvlf2("%s has been recomputed while revealing, keeping the new snapshot", category)
		stats.Stale = true
	}
	return stats, nil
}

// saveRevealed copies the revealed totals into the stored snapshot, but only
// if it still holds the same sums.
func (a *Aggregator) saveRevealed(revealed *Stats) (bool, error) {
	saved := false
	err := a.store.Update(func(tx *bbolt.Tx) error {
		b := a.store.Bucket(tx, ledger.BucketStats)
		key := []byte(revealed.Category)
		cur := &Stats{}
		found, err := ledger.GetMessage(b, key, cur)
		if err != nil {
			return err
		}
		if !found || !sameSums(cur, revealed) {
			return nil
		}
		for i := range cur.Sums {
			cur.Sums[i].Total = revealed.Sums[i].Total
			cur.Sums[i].Revealed = true
		}
		saved = true
		return sealedsurvey.ErrorOrNil(ledger.PutMessage(b, key, cur), "saving revealed stats")
	})
	return saved, err
}

func sameSums(a, b *Stats) bool {
	if a.Mode != b.Mode || a.TotalResponses != b.TotalResponses ||
		len(a.Sums) != len(b.Sums) {
		return false
	}
	for i := range a.Sums {
		if a.Sums[i].Name != b.Sums[i].Name || !a.Sums[i].Handle.Equal(b.Sums[i].Handle) {
			return false
		}
	}
	return true
}

// Watch marks the snapshots as stale whenever a response of their category
// gets verified. The returned function stops watching.
func (a *Aggregator) Watch() func() {
	events, cancel := a.ledger.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range events {
			if ev.Kind != ledger.EventVerified {
				continue
			}
			a.staleLock.Lock()
			a.generation[ev.Category]++
			a.stale[ev.Category] = true
			a.staleLock.Unlock()
		}
	}()
	return func() {
		cancel()
		<-done
	}
}
