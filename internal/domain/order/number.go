package order

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"
)

const numberPrefix = "SIP"

// NumberFunc produces a human-readable order number for the given time.
type NumberFunc func(now time.Time) (string, error)

// NewNumber returns SIP followed by the timestamp as YYMMDDHHMMSS and four
// upper-case hex digits. Uniqueness is left to the orders_order_number_key
// constraint.
func NewNumber(now time.Time) (string, error) {
	var b [2]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return numberPrefix + now.Format("060102150405") + strings.ToUpper(hex.EncodeToString(b[:])), nil
}
