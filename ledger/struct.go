package ledger

import (
	"fmt"
	"sort"

	"go.dedis.ch/sealedsurvey"
	"go.dedis.ch/sealedsurvey/lib"
)

// Field is one named answer of a submission, encrypted by the submitter
// and accompanied by its proof of valid encryption.
type Field struct {
	Name       string
	Ciphertext *lib.Ciphertext
	Proof      *lib.EncryptionProof
}

// NamedHandle links the name of a field to the handle of its ciphertext.
type NamedHandle struct {
	Name   string
	Handle lib.Handle
}

// Plaintext is the revealed value of a field.
type Plaintext struct {
	Name  string
	Value int64
}

// Response is one submitted answer set. Only ID, Category, Ciphertexts and
// SubmittedAt are set at creation. Verified and Plaintexts are promoted
// exactly once by MarkVerified.
type Response struct {
	ID          uint64
	Category    string
	Ciphertexts []NamedHandle
	// SubmittedAt is in unix nanoseconds.
	SubmittedAt int64
	Verified    bool
	Plaintexts  []Plaintext
}

// Handles returns the handles of the response in field order.
func (r *Response) Handles() []lib.Handle {
	hs := make([]lib.Handle, len(r.Ciphertexts))
	for i, c := range r.Ciphertexts {
		hs[i] = c.Handle
	}
	return hs
}

// Names returns the field names in order.
func (r *Response) Names() []string {
	ns := make([]string, len(r.Ciphertexts))
	for i, c := range r.Ciphertexts {
		ns[i] = c.Name
	}
	return ns
}

// PlaintextMap returns the revealed values indexed by field name. It is
// empty as long as the response is not verified.
func (r *Response) PlaintextMap() map[string]int64 {
	m := make(map[string]int64, len(r.Plaintexts))
	for _, p := range r.Plaintexts {
		m[p.Name] = p.Value
	}
	return m
}

// Copy returns a deep copy of the response.
func (r *Response) Copy() *Response {
	c := *r
	c.Ciphertexts = append([]NamedHandle{}, r.Ciphertexts...)
	if r.Plaintexts != nil {
		c.Plaintexts = append([]Plaintext{}, r.Plaintexts...)
	}
	return &c
}

// NewPlaintexts returns the plaintexts in the field order of the response,
// taking the values from the map. It fails if the map doesn't contain
// exactly the fields of the response.
func (r *Response) NewPlaintexts(values map[string]int64) ([]Plaintext, error) {
	if len(values) != len(r.Ciphertexts) {
		return nil, fmt.Errorf("got %d values for %d fields", len(values),
			len(r.Ciphertexts))
	}
	ps := make([]Plaintext, len(r.Ciphertexts))
	for i, c := range r.Ciphertexts {
		v, ok := values[c.Name]
		if !ok {
			return nil, fmt.Errorf("missing value for field %s", c.Name)
		}
		ps[i] = Plaintext{Name: c.Name, Value: v}
	}
	return ps, nil
}

// SortedPlaintexts returns a copy of the plaintexts sorted by name.
func SortedPlaintexts(ps []Plaintext) []Plaintext {
	out := append([]Plaintext{}, ps...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// EventKind tells what happened to a response.
type EventKind int

const (
	// EventSubmitted is sent once the response is stored.
	EventSubmitted EventKind = iota
	// EventVerified is sent once the response changed to verified.
	EventVerified
)

func (k EventKind) String() string {
	switch k {
	case EventSubmitted:
		return "submitted"
	case EventVerified:
		return "verified"
	default:
		return "unknown"
	}
}

// Event is sent to all subscribers of the ledger after a mutation has been
// committed.
type Event struct {
	Kind       EventKind
	ResponseID uint64
	Category   string
}

// AlreadyVerifiedError is returned by MarkVerified if the response has been
// verified before. It holds the stored response, so that a losing concurrent
// caller can return the stored plaintexts.
type AlreadyVerifiedError struct {
	Response *Response
}

func (e *AlreadyVerifiedError) Error() string {
	return fmt.Sprintf("response %d: %v", e.Response.ID, sealedsurvey.ErrAlreadyVerified)
}

// Unwrap allows xerrors.Is(err, sealedsurvey.ErrAlreadyVerified).
func (e *AlreadyVerifiedError) Unwrap() error {
	return sealedsurvey.ErrAlreadyVerified
}
