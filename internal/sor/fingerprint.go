package sor

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// fingerprintScale is the rounding precision (1e-8) applied to price and
// qty before hashing, matching the original's Decimal quantization.
const fingerprintScale = 8

// Fingerprint computes the intent's canonical dedup identity: a sha256
// hash over {venue, symbol, side, price, qty, strategy, client_tag,
// parent_id} with price/qty rounded to 1e-8. It intentionally excludes
// nonce and timestamp so that retried submissions of "the same trade"
// collide within the Intent Window regardless of resend metadata.
func Fingerprint(intent Intent) string {
	n := intent.Normalized()
	price := n.Price.Round(fingerprintScale)
	qty := n.Qty.Round(fingerprintScale)

	payload := fmt.Sprintf("(%q, %q, %q, %s, %s, %q, %q, %q)",
		n.Venue, n.Symbol, n.Side,
		price.String(), qty.String(),
		n.Strategy, n.ClientTag, n.ParentID,
	)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// IntentKey is the Outbox's persistence key, derived from the fingerprint.
func IntentKey(intent Intent) string {
	sum := sha256.Sum256([]byte(Fingerprint(intent)))
	return hex.EncodeToString(sum[:])
}
