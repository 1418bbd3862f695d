package sor

import (
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// OnchainAttestation is a content-addressed fingerprint of a ledger event,
// suitable for publishing alongside the event so a third party can verify
// the recorded payload was not altered after the fact. This is a local
// hash, not a transaction; nothing is broadcast. The Router does not call
// AttestEvent, and FF_LEDGER_ONCHAIN_ATTEST is parsed but not consulted.
type OnchainAttestation struct {
	Hash string
}

// AttestEvent hashes (level, code, canonical payload) with Keccak-256,
// matching the hash primitive Ethereum clients use for event topics, so
// downstream tooling already wired for that hash family can verify a
// ledger event offline.
func AttestEvent(level, code string, canonicalPayload []byte) OnchainAttestation {
	digest := crypto.Keccak256(append([]byte(level+"|"+code+"|"), canonicalPayload...))
	return OnchainAttestation{Hash: fmt.Sprintf("0x%x", digest)}
}
