package service

import (
	"sort"

	"go.dedis.ch/onet/v3"
	"go.dedis.ch/onet/v3/network"
	"golang.org/x/xerrors"

	"go.dedis.ch/sealedsurvey"
	"go.dedis.ch/sealedsurvey/ledger"
	"go.dedis.ch/sealedsurvey/lib"
)

// Client is a structure to communicate with the SealedSurvey service of one
// conode.
type Client struct {
	*onet.Client
	dest *network.ServerIdentity
}

// NewClient returns a client talking to the conode dest.
func NewClient(dest *network.ServerIdentity) *Client {
	return &Client{Client: onet.NewClient(sealedsurvey.Suite, ServiceName), dest: dest}
}

// Setup creates the survey on the conode.
func (c *Client) Setup(req *Setup) (reply *SetupReply, err error) {
	reply = &SetupReply{}
	err = c.SendProtobuf(c.dest, req, reply)
	return
}

// GetParams returns the public parameters of the survey.
func (c *Client) GetParams() (reply *GetParamsReply, err error) {
	reply = &GetParamsReply{}
	err = c.SendProtobuf(c.dest, &GetParams{}, reply)
	return
}

// Context returns the recipient context described by the parameters.
func (p *GetParamsReply) Context() lib.Context {
	var cid [32]byte
	copy(cid[:], p.ContractID)
	return lib.NewContext(cid, p.Recipient)
}

// Submit encrypts the values for the survey's oracle, proves every
// encryption and stores the response. It returns the id of the response.
func (c *Client) Submit(category string, values map[string]int64) (uint64, error) {
	params, err := c.GetParams()
	if err != nil {
		return 0, err
	}
	ctx := params.Context()
	var names []string
	for n := range values {
		names = append(names, n)
	}
	sort.Strings(names)
	var fields []ledger.Field
	for _, n := range names {
		ct, proof, err := lib.EncryptAndProve(params.X, ctx, values[n])
		if err != nil {
			return 0, xerrors.Errorf("field %s: %w", n, err)
		}
		fields = append(fields, ledger.Field{Name: n, Ciphertext: ct, Proof: proof})
	}
	return c.SubmitFields(category, fields)
}

// SubmitFields stores a response of already encrypted fields.
func (c *Client) SubmitFields(category string, fields []ledger.Field) (uint64, error) {
	reply := &SubmitReply{}
	err := c.SendProtobuf(c.dest, &Submit{Category: category, Fields: fields}, reply)
	if err != nil {
		return 0, err
	}
	return reply.ID, nil
}

// GetResponse returns one response.
func (c *Client) GetResponse(id uint64) (*ledger.Response, error) {
	reply := &GetResponseReply{}
	if err := c.SendProtobuf(c.dest, &GetResponse{ID: id}, reply); err != nil {
		return nil, err
	}
	return &reply.Response, nil
}

// ListResponses returns all response ids.
func (c *Client) ListResponses() ([]uint64, error) {
	reply := &ListResponsesReply{}
	if err := c.SendProtobuf(c.dest, &ListResponses{}, reply); err != nil {
		return nil, err
	}
	return reply.IDs, nil
}

// ListCategories returns all categories.
func (c *Client) ListCategories() ([]string, error) {
	reply := &ListCategoriesReply{}
	if err := c.SendProtobuf(c.dest, &ListCategories{}, reply); err != nil {
		return nil, err
	}
	return reply.Categories, nil
}

// RequestVerification asks the conode to verify the response.
func (c *Client) RequestVerification(id uint64) (reply *RequestVerificationReply, err error) {
	reply = &RequestVerificationReply{}
	err = c.SendProtobuf(c.dest, &RequestVerification{ID: id}, reply)
	return
}

// Recompute aggregates the category.
func (c *Client) Recompute(category string) (reply *RecomputeReply, err error) {
	reply = &RecomputeReply{}
	err = c.SendProtobuf(c.dest, &Recompute{Category: category}, reply)
	return
}

// GetStats returns the last snapshot of the category.
func (c *Client) GetStats(category string, reveal bool) (reply *GetStatsReply, err error) {
	reply = &GetStatsReply{}
	err = c.SendProtobuf(c.dest, &GetStats{Category: category, Reveal: reveal}, reply)
	return
}
