package session

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/params"
)

var weiPerEther = big.NewInt(params.Ether)

// FormatEther renders a wei amount as a decimal ether string with at least one
// fractional digit, e.g. "0.0", "1.5", "0.000000000000000001".
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0.0"
	}
	sign := ""
	if wei.Sign() < 0 {
		sign = "-"
	}
	whole, rem := new(big.Int).QuoRem(new(big.Int).Abs(wei), weiPerEther, new(big.Int))

	frac := rem.String()
	frac = strings.Repeat("0", 18-len(frac)) + frac
	frac = strings.TrimRight(frac, "0")
	if frac == "" {
		frac = "0"
	}
	return sign + whole.String() + "." + frac
}
