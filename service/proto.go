package service

import (
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/onet/v3/network"

	"go.dedis.ch/sealedsurvey/aggregate"
	"go.dedis.ch/sealedsurvey/ledger"
)

func init() {
	network.RegisterMessages(
		&Setup{}, &SetupReply{},
		&GetParams{}, &GetParamsReply{},
		&Submit{}, &SubmitReply{},
		&GetResponse{}, &GetResponseReply{},
		&ListResponses{}, &ListResponsesReply{},
		&ListCategories{}, &ListCategoriesReply{},
		&RequestVerification{}, &RequestVerificationReply{},
		&Recompute{}, &RecomputeReply{},
		&GetStats{}, &GetStatsReply{},
	)
}

// PROTOSTART
// package sealedsurvey;
//
// option java_package = "ch.epfl.dedis.lib.proto";
// option java_outer_classname = "SealedSurveyProto";

// ***
// These are the messages used in the API-calls
// ***

// Setup creates the survey of the conode: a ledger bound to the contract
// and recipient, and a fresh threshold oracle.
type Setup struct {
	// ContractID must be 32 bytes long.
	ContractID []byte
	Recipient  []byte
	Threshold  int
	Nodes      int
	// Mode is the default accumulator of the categories, "ciphertext" or
	// "plaintext".
	Mode string
	// Timeout of the oracle round trip, in nanoseconds. 0 uses the default.
	Timeout int64
}

// SetupReply returns the public parameters of the new survey.
type SetupReply struct {
	Params GetParamsReply
}

// GetParams asks for the public parameters of the survey.
type GetParams struct {
}

// GetParamsReply holds everything a submitter needs to encrypt and prove
// its answers, and a verifier needs to check the oracle.
type GetParamsReply struct {
	ContractID []byte
	Recipient  []byte
	X          kyber.Point
	Commits    []kyber.Point
	Threshold  int
	Nodes      int
	SignKey    kyber.Point
}

// Submit stores a new response.
type Submit struct {
	Category string
	Fields   []ledger.Field
}

// SubmitReply returns the id of the new response.
type SubmitReply struct {
	ID uint64
}

// GetResponse returns one response.
type GetResponse struct {
	ID uint64
}

// GetResponseReply holds the stored response.
type GetResponseReply struct {
	Response ledger.Response
}

// ListResponses returns the ids of all responses.
type ListResponses struct {
}

// ListResponsesReply holds the ids in submission order.
type ListResponsesReply struct {
	IDs []uint64
}

// ListCategories returns all categories.
type ListCategories struct {
}

// ListCategoriesReply holds the categories in order of their first response.
type ListCategoriesReply struct {
	Categories []string
}

// RequestVerification decrypts a response through the oracle and stores its
// plaintexts.
type RequestVerification struct {
	ID uint64
}

// RequestVerificationReply holds the plaintexts of the response.
// AlreadyVerified is true if they had been revealed by an earlier request.
type RequestVerificationReply struct {
	ID              uint64
	Plaintexts      []ledger.Plaintext
	AlreadyVerified bool
}

// Recompute aggregates a category over its verified responses.
type Recompute struct {
	Category string
}

// RecomputeReply holds the new snapshot.
type RecomputeReply struct {
	Stats aggregate.Stats
}

// GetStats returns the last snapshot of a category. If Reveal is true, the
// encrypted sums are decrypted through the oracle.
type GetStats struct {
	Category string
	Reveal   bool
}

// GetStatsReply holds the snapshot.
type GetStatsReply struct {
	Stats aggregate.Stats
}
