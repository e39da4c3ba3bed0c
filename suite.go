package sealedsurvey

import (
	"go.dedis.ch/kyber/v3/group/edwards25519"
)

// Suite is the Ed25519 suite used by every package of the ledger. It
// implements the interfaces needed by dleq, schnorr and the protobuf
// constructors.
var Suite = edwards25519.NewBlakeSHA256Ed25519()
