package utils

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestTruncateString(t *testing.T) {
	tests := []struct {
		input    string
		length   int
		expected string
	}{
		{"hello world", 5, "he..."},
		{"short", 10, "short"},
		{"exact", 5, "exact"},
		{"", 5, ""},
		{"abc", 2, "ab"},
	}

	for _, tt := range tests {
		result := TruncateString(tt.input, tt.length)
		if result != tt.expected {
			t.Errorf("TruncateString(%q, %d) = %q; want %q", tt.input, tt.length, result, tt.expected)
		}
	}
}

func TestAddCommas(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"123", "123"},
		{"1234", "1,234"},
		{"123456", "123,456"},
		{"1234567", "1,234,567"},
		{"1234.56", "1,234.56"},
		{"-1234", "-1,234"},
		{"", ""},
	}

	for _, tt := range tests {
		result := AddCommas(tt.input)
		if result != tt.expected {
			t.Errorf("AddCommas(%q) = %q; want %q", tt.input, result, tt.expected)
		}
	}
}

func TestFormatUnits(t *testing.T) {
	wei, _ := new(big.Int).SetString("1234567890000000000000", 10)
	tests := []struct {
		input    *big.Int
		decimals uint8
		shown    int
		expected string
	}{
		{wei, 18, 4, "1,234.5678"},
		{big.NewInt(1500000000000000000), 18, 2, "1.5"},
		{big.NewInt(10), 18, 4, "0"},
		{big.NewInt(42), 0, 4, "42"},
		{big.NewInt(-2500000), 6, 2, "-2.5"},
		{nil, 18, 2, "-"},
	}

	for _, tt := range tests {
		result := FormatUnits(tt.input, tt.decimals, tt.shown)
		if result != tt.expected {
			t.Errorf("FormatUnits(%v, %d, %d) = %q; want %q", tt.input, tt.decimals, tt.shown, result, tt.expected)
		}
	}
}

func TestShortAddress(t *testing.T) {
	addr := common.HexToAddress("0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B")
	if got := ShortAddress(addr); got != "0xAb58...eC9B" {
		t.Errorf("ShortAddress() = %q", got)
	}
	if got := FormatInt(big.NewInt(1234567)); got != "1,234,567" {
		t.Errorf("FormatInt() = %q", got)
	}
}
