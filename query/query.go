// Package query offers read-only projections of the ledger and of the
// aggregated stats, as used by the presentation layers.
package query

import (
	"go.dedis.ch/sealedsurvey/aggregate"
	"go.dedis.ch/sealedsurvey/ledger"
	"go.dedis.ch/sealedsurvey/lib"
)

// ResponseView is what a caller gets to see of one response.
type ResponseView struct {
	ID          uint64
	Category    string
	Handles     map[string]lib.Handle
	SubmittedAt int64
	Verified    bool
	// Plaintexts is nil until the response has been verified.
	Plaintexts map[string]int64
}

// Surface is the read side of a ledger and its aggregator.
type Surface struct {
	ledger     *ledger.Ledger
	aggregator *aggregate.Aggregator
}

// New returns the query surface. The aggregator may be nil, in which case
// no stats are available.
func New(l *ledger.Ledger, a *aggregate.Aggregator) *Surface {
	return &Surface{ledger: l, aggregator: a}
}

// ResponseIDs lists all responses in submission order.
func (s *Surface) ResponseIDs() ([]uint64, error) {
	return s.ledger.ResponseIDs()
}

// Categories lists the categories in order of their first response.
func (s *Surface) Categories() ([]string, error) {
	return s.ledger.Categories()
}

// Response returns the view of one response, or ErrNotFound.
func (s *Surface) Response(id uint64) (*ResponseView, error) {
	resp, err := s.ledger.Get(id)
	if err != nil {
		return nil, err
	}
	return NewResponseView(resp), nil
}

// NewResponseView projects the stored response.
func NewResponseView(resp *ledger.Response) *ResponseView {
	v := &ResponseView{
		ID:          resp.ID,
		Category:    resp.Category,
		Handles:     make(map[string]lib.Handle),
		SubmittedAt: resp.SubmittedAt,
		Verified:    resp.Verified,
	}
	for _, nh := range resp.Ciphertexts {
		v.Handles[nh.Name] = nh.Handle
	}
	if resp.Verified {
		v.Plaintexts = resp.PlaintextMap()
	}
	return v
}

// Stats returns the last snapshot of the category. It fails with
// ErrNoResponses if the category is unknown, and with ErrNotFound if it has
// never been aggregated.
func (s *Surface) Stats(category string) (*aggregate.Stats, error) {
	if !s.ledger.HasCategory(category) {
		return nil, noResponses(category)
	}
	if s.aggregator == nil {
		return nil, notAggregated(category)
	}
	return s.aggregator.Stats(category)
}
