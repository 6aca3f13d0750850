package booking

import (
	"crypto/rand"
	"math/big"
	"strconv"
	"strings"
	"time"
)

const (
	confirmationPrefix = "BK"
	randomTokenLength  = 6
	base36             = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// CodeGenerator produces a confirmation number for a booking created at now.
type CodeGenerator func(now time.Time) string

// NewConfirmationNumber returns BK-<base36 unix millis>-<6 random base36>.
//
// The value is a display/reference token. It is not a security token and is
// not used for idempotency; uniqueness is enforced by the store and the
// ledger regenerates on collision.
func NewConfirmationNumber(now time.Time) string {
	ts := strings.ToUpper(strconv.FormatInt(now.UnixMilli(), 36))
	return confirmationPrefix + "-" + ts + "-" + randomToken(randomTokenLength)
}

func randomToken(n int) string {
	max := big.NewInt(int64(len(base36)))
	var sb strings.Builder
	sb.Grow(n)
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand does not fail on supported platforms; fall back to
			// the clock so we still produce a token.
			idx = big.NewInt(time.Now().UnixNano() % int64(len(base36)))
		}
		sb.WriteByte(base36[idx.Int64()])
	}
	return sb.String()
}
