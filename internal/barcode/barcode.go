// Package barcode implements the deterministic, tamper-evident slip
// identifier described in SPEC_FULL.md §4.3: a 13-character [0-9A-Z] code
// derived from an HMAC-SHA256 of the round and slip identifiers, keyed by
// a process-wide secret.
//
// This stays on the standard library's crypto/hmac and crypto/sha256
// rather than a third-party dependency: no example repo in the corpus
// ships a dedicated barcode/checksum library, and HMAC-then-Base36 is a
// one-line composition of primitives the standard library already covers
// well — the same judgment the teacher makes for bcrypt and JWT signing.
package barcode

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Length is the fixed size of every barcode.
const Length = 13

var validFormat = regexp.MustCompile(`^[0-9A-Z]{13}$`)

// Codec encodes and verifies barcodes using a process secret.
type Codec struct {
	secret []byte
}

// New builds a Codec. The secret should be at least 32 bytes in production
// (enforced by configuration validation, not here).
func New(secret string) *Codec {
	return &Codec{secret: []byte(secret)}
}

// Encode derives the 13-character barcode for a (gameID, slipID) pair.
func (c *Codec) Encode(gameID string, slipID uuid.UUID) string {
	slipPrefix := strings.ToUpper(strings.ReplaceAll(slipID.String(), "-", ""))[:8]
	message := fmt.Sprintf("%s_%s", gameID, slipPrefix)

	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(message))
	sum := mac.Sum(nil)

	n := binary.BigEndian.Uint64(sum[:8])
	code := big.NewInt(0).SetUint64(n).Text(36)
	code = strings.ToUpper(code)
	if len(code) > Length {
		code = code[len(code)-Length:]
	}
	return strings.Repeat("0", Length-len(code)) + code
}

// Verify reports whether code is the barcode for (gameID, slipID).
func (c *Codec) Verify(gameID string, slipID uuid.UUID, code string) bool {
	return hmac.Equal([]byte(c.Encode(gameID, slipID)), []byte(strings.ToUpper(code)))
}

// Parse validates that s has the shape of a barcode (format only; it does
// not verify provenance). Callers needing authenticity should use Verify.
func Parse(s string) (string, bool) {
	upper := strings.ToUpper(s)
	if !validFormat.MatchString(upper) {
		return "", false
	}
	return upper, true
}
