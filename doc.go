/*
Package sealedsurvey implements a confidential response ledger.

Participants submit numeric survey answers as lifted-ElGamal ciphertexts
together with a proof of valid encryption. The ledger accepts them only after
the proof verifies against the ledger's recipient context, aggregates them per
category in ciphertext space, and lets any single response be decrypted by a
threshold oracle. The oracle's result is checked against the requested
handles before the response is marked verified, which happens exactly once.

The root package holds the cryptographic suite and the error taxonomy shared
by the sub-packages:

	lib        - encryption, proofs, handles and contexts
	ledger     - handle registry, proof validator, response ledger
	oracle     - threshold decryption oracle and result verification
	verify     - the decryption-verification protocol
	aggregate  - per-category homomorphic sums
	query      - read-only projections
	service    - onet service and client
	httpapi    - HTTP surface for a presentation layer
	ssadmin    - command line administration tool
*/
package sealedsurvey
