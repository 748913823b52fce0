// Package wallet handles validation and normalization of venue wallet
// addresses (EVM-style proxy wallets).
package wallet

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// addressRegex matches a 0x-prefixed 20-byte hex address.
var addressRegex = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

var (
	ErrInvalidAddress = errors.New("wallet: invalid address format")
)

// Normalize validates an address and returns it lowercased, the canonical
// form used for store keys and upstream API calls.
func Normalize(address string) (string, error) {
	address = strings.TrimSpace(address)
	if !addressRegex.MatchString(address) {
		return "", fmt.Errorf("%w: %s (expected 0x-prefixed 40 hex chars)", ErrInvalidAddress, address)
	}
	return strings.ToLower(address), nil
}

// IsAddress reports whether s looks like a wallet address at all. Used to
// decide whether a lookup input is an address or a username.
func IsAddress(s string) bool {
	return addressRegex.MatchString(strings.TrimSpace(s))
}
