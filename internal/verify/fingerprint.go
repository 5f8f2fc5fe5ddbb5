package verify

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/jfkirchner/insiderwatch/internal/source"
)

// Fingerprint derives the stable identity of a real-world transaction
// from its canonical fields. Price is rounded to the nearest dollar and
// shares to the nearest ten so that sources agreeing within tolerance
// reduce to the same fingerprint; it is a pure function of its inputs.
func Fingerprint(issuer, insider, txDate string, txType source.TxType, price decimal.Decimal, shares int64) string {
	key := strings.Join([]string{
		strings.ToUpper(strings.TrimSpace(issuer)),
		InsiderKey(insider),
		txDate,
		string(txType),
		price.Round(0).String(),
		strconv.FormatInt(roundShares(shares), 10),
	}, "|")

	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:16])
}

// InsiderKey normalizes an insider name for identity comparison:
// lowercase, whitespace collapsed.
func InsiderKey(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

func roundShares(shares int64) int64 {
	return (shares + 5) / 10 * 10
}
