package httpapi

import (
	"encoding/hex"
	"sort"

	"go.dedis.ch/kyber/v3"
	"golang.org/x/xerrors"

	"go.dedis.ch/sealedsurvey"
	"go.dedis.ch/sealedsurvey/aggregate"
	"go.dedis.ch/sealedsurvey/ledger"
	"go.dedis.ch/sealedsurvey/lib"
	"go.dedis.ch/sealedsurvey/query"
)

// FieldJSON is one encrypted field. Ciphertext is the hex of K || C and
// Proof the hex of E || Fr || Fm.
type FieldJSON struct {
	Name       string `json:"name"`
	Ciphertext string `json:"ciphertext"`
	Proof      string `json:"proof"`
}

// SubmitRequest is the body of POST /responses.
type SubmitRequest struct {
	Category string      `json:"category"`
	Fields   []FieldJSON `json:"fields"`
}

// SubmitReply is returned for a stored response.
type SubmitReply struct {
	ID uint64 `json:"id"`
}

// ResponseJSON is the view of one response.
type ResponseJSON struct {
	ID          uint64            `json:"id"`
	Category    string            `json:"category"`
	Handles     map[string]string `json:"handles"`
	SubmittedAt int64             `json:"submittedAt"`
	Verified    bool              `json:"verified"`
	Plaintexts  map[string]int64  `json:"plaintexts,omitempty"`
}

// VerifyReply is returned by POST /responses/{id}/verify.
type VerifyReply struct {
	ID         uint64           `json:"id"`
	Outcome    string           `json:"outcome"`
	Plaintexts map[string]int64 `json:"plaintexts"`
}

// SumJSON is the accumulator of one field.
type SumJSON struct {
	Name     string `json:"name"`
	Handle   string `json:"handle,omitempty"`
	Total    *int64 `json:"total,omitempty"`
	Revealed bool   `json:"revealed"`
}

// StatsJSON is a stats snapshot of a category.
type StatsJSON struct {
	Category       string    `json:"category"`
	Mode           string    `json:"mode"`
	TotalResponses int       `json:"totalResponses"`
	Sums           []SumJSON `json:"sums"`
	Stale          bool      `json:"stale"`
}

// ParamsJSON holds what a submitter needs to encrypt its answers.
type ParamsJSON struct {
	ContractID string `json:"contractId"`
	Recipient  string `json:"recipient"`
	X          string `json:"x"`
	Threshold  int    `json:"threshold"`
	Nodes      int    `json:"nodes"`
}

// ErrorJSON is the body of every failed request.
type ErrorJSON struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable"`
}

// EncodeField returns the JSON form of an encrypted field.
func EncodeField(f ledger.Field) (FieldJSON, error) {
	ct, err := f.Ciphertext.Bytes()
	if err != nil {
		return FieldJSON{}, err
	}
	var proof []byte
	for _, sc := range []kyber.Scalar{f.Proof.E, f.Proof.Fr, f.Proof.Fm} {
		buf, err := sc.MarshalBinary()
		if err != nil {
			return FieldJSON{}, err
		}
		proof = append(proof, buf...)
	}
	return FieldJSON{
		Name:       f.Name,
		Ciphertext: hex.EncodeToString(ct),
		Proof:      hex.EncodeToString(proof),
	}, nil
}

// decodeField fails with ErrInvalidProof if the ciphertext or the proof
// can't be decoded.
func decodeField(fj FieldJSON) (ledger.Field, error) {
	invalid := func(err error) (ledger.Field, error) {
		return ledger.Field{}, xerrors.Errorf("field %s: %v: %w", fj.Name, err,
			sealedsurvey.ErrInvalidProof)
	}
	buf, err := hex.DecodeString(fj.Ciphertext)
	if err != nil {
		return invalid(err)
	}
	ct := &lib.Ciphertext{}
	if err := ct.SetBytes(buf); err != nil {
		return invalid(err)
	}
	buf, err = hex.DecodeString(fj.Proof)
	if err != nil {
		return invalid(err)
	}
	l := sealedsurvey.Suite.ScalarLen()
	if len(buf) != 3*l {
		return invalid(xerrors.New("wrong proof length"))
	}
	scalars := make([]kyber.Scalar, 3)
	for i := range scalars {
		scalars[i] = sealedsurvey.Suite.Scalar()
		if err := scalars[i].UnmarshalBinary(buf[i*l : (i+1)*l]); err != nil {
			return invalid(err)
		}
	}
	proof := &lib.EncryptionProof{E: scalars[0], Fr: scalars[1], Fm: scalars[2]}
	return ledger.Field{Name: fj.Name, Ciphertext: ct, Proof: proof}, nil
}

func newResponseJSON(v *query.ResponseView) ResponseJSON {
	rj := ResponseJSON{
		ID:          v.ID,
		Category:    v.Category,
		Handles:     make(map[string]string),
		SubmittedAt: v.SubmittedAt,
		Verified:    v.Verified,
		Plaintexts:  v.Plaintexts,
	}
	for n, h := range v.Handles {
		rj.Handles[n] = h.String()
	}
	return rj
}

func newStatsJSON(st *aggregate.Stats) StatsJSON {
	sj := StatsJSON{
		Category:       st.Category,
		Mode:           st.Mode.String(),
		TotalResponses: st.TotalResponses,
		Sums:           []SumJSON{},
		Stale:          st.Stale,
	}
	for _, fs := range st.Sums {
		s := SumJSON{Name: fs.Name, Revealed: fs.Revealed}
		if st.Mode == aggregate.ModeCiphertext {
			s.Handle = fs.Handle.String()
		}
		if fs.Revealed {
			total := fs.Total
			s.Total = &total
		}
		sj.Sums = append(sj.Sums, s)
	}
	sort.Slice(sj.Sums, func(i, j int) bool { return sj.Sums[i].Name < sj.Sums[j].Name })
	return sj
}
