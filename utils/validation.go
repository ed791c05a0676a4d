package utils

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

var (
	hexPattern       = regexp.MustCompile("^[0-9a-fA-F]+$")
	bytes32Pattern   = regexp.MustCompile("^0x[0-9a-fA-F]{64}$")
	base58Pattern    = regexp.MustCompile("^[1-9A-HJ-NP-Za-km-z]+$")
	userOpHashFormat = bytes32Pattern
)

// IsHexString reports whether s is non-empty hexadecimal without prefix.
func IsHexString(s string) bool {
	return hexPattern.MatchString(s)
}

// IsBytes32Hex reports whether s is 0x followed by exactly 64 hex digits.
func IsBytes32Hex(s string) bool {
	return bytes32Pattern.MatchString(s)
}

// IsUserOpHash reports whether s has the shape of a user operation hash.
func IsUserOpHash(s string) bool {
	return userOpHashFormat.MatchString(s)
}

// IsSolanaAddress reports whether s decodes to a 32-byte public key.
func IsSolanaAddress(s string) bool {
	if !base58Pattern.MatchString(s) {
		return false
	}
	_, err := solana.PublicKeyFromBase58(s)
	return err == nil
}

// IsSolanaSignature reports whether s decodes to a 64-byte transaction signature.
func IsSolanaSignature(s string) bool {
	if !base58Pattern.MatchString(s) {
		return false
	}
	_, err := solana.SignatureFromBase58(s)
	return err == nil
}

// ValidateBigInt checks if a string is a valid non-negative big integer
func ValidateBigInt(value string) (*big.Int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, fmt.Errorf("value cannot be empty")
	}

	bigInt, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("invalid big integer format %q", value)
	}
	if bigInt.Sign() < 0 {
		return nil, fmt.Errorf("value cannot be negative")
	}
	return bigInt, nil
}

// FormatAmountFromBigInt formats a minor-unit amount with the token's decimals.
func FormatAmountFromBigInt(amount *big.Int, decimals int32) string {
	return decimal.NewFromBigInt(amount, -decimals).String()
}

// ParseAmountWithDecimals parses a whole-token amount such as "0.01" into minor units.
func ParseAmountWithDecimals(amount string, decimals int32) (*big.Int, error) {
	dec, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return nil, fmt.Errorf("invalid amount format: %w", err)
	}
	if dec.IsNegative() {
		return nil, fmt.Errorf("amount cannot be negative")
	}
	scaled := dec.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("amount %s has more than %d decimal places", amount, decimals)
	}
	return scaled.BigInt(), nil
}
