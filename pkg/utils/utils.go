package utils

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Placeholder is shown wherever a value is unknown.
const Placeholder = "-"

func TruncateString(str string, num int) string {
	if len(str) <= num {
		return str
	}
	if num <= 3 {
		return str[:num]
	}
	return str[0:num-3] + "..."
}

// ShortAddress renders 0x1234...abcd.
func ShortAddress(addr common.Address) string {
	hex := addr.Hex()
	return hex[:6] + "..." + hex[len(hex)-4:]
}

func AddCommas(s string) string {
	if s == "" {
		return s
	}
	intPart, frac, hasFrac := strings.Cut(s, ".")
	sign := ""
	if strings.HasPrefix(intPart, "-") {
		sign = "-"
		intPart = intPart[1:]
	}
	if len(intPart) <= 3 {
		return s
	}

	var b strings.Builder
	b.WriteString(sign)
	lead := len(intPart) % 3
	if lead > 0 {
		b.WriteString(intPart[:lead])
	}
	for i := lead; i < len(intPart); i += 3 {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(intPart[i : i+3])
	}
	if hasFrac {
		b.WriteByte('.')
		b.WriteString(frac)
	}
	return b.String()
}

// FormatInt renders an on-chain integer with thousands separators.
func FormatInt(v *big.Int) string {
	if v == nil {
		return Placeholder
	}
	return AddCommas(v.String())
}

// FormatUnits renders v scaled down by 10^decimals, truncated (not rounded)
// to at most shown fractional digits. Trailing zeros are dropped.
func FormatUnits(v *big.Int, decimals uint8, shown int) string {
	if v == nil {
		return Placeholder
	}
	neg := v.Sign() < 0
	abs := new(big.Int).Abs(v)
	unit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	whole, rem := new(big.Int).QuoRem(abs, unit, new(big.Int))

	out := whole.String()
	if decimals > 0 && shown > 0 {
		frac := rem.String()
		frac = strings.Repeat("0", int(decimals)-len(frac)) + frac
		if len(frac) > shown {
			frac = frac[:shown]
		}
		frac = strings.TrimRight(frac, "0")
		if frac != "" {
			out += "." + frac
		}
	}
	if neg && out != "0" {
		out = "-" + out
	}
	return AddCommas(out)
}
