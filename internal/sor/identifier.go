package sor

import (
	"encoding/base32"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/blake2b"
)

const coidPrefix = "PB"
const coidMaxLen = 32
const coidDigestSize = 10

// MakeCOID derives a stable, 32-character-or-shorter client order id from
// the normalized intent tuple. Identical normalized inputs always produce
// the identical COID; changing any field changes it.
//
// The construction mirrors the original keyed-digest scheme exactly: a
// 10-byte blake2b digest over the pipe-joined, lower-cased/trimmed tuple,
// base32-encoded without padding, prefixed "PB" and truncated to 32 chars.
func MakeCOID(strategy, venue, symbol, side string, tsNanos int64, nonce uint64) string {
	payload := strings.Join([]string{
		trimAndLower(strategy),
		trimAndLower(venue),
		trimAndLower(symbol),
		trimAndLower(side),
		strconv.FormatInt(tsNanos, 10),
		strconv.FormatUint(nonce, 10),
	}, "|")

	digest := blake2bSum(payload, coidDigestSize)
	token := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(digest)
	coid := fmt.Sprintf("%s%s", coidPrefix, token)
	if len(coid) > coidMaxLen {
		coid = coid[:coidMaxLen]
	}
	return coid
}

func blake2bSum(payload string, size int) []byte {
	h, err := blake2b.New(size, nil)
	if err != nil {
		// blake2b.New only errors on an invalid size/key; coidDigestSize
		// is a compile-time constant known to be valid.
		panic(fmt.Sprintf("sor: blake2b init failed: %v", err))
	}
	_, _ = h.Write([]byte(payload))
	return h.Sum(nil)
}
