// Package identity parses and validates account identities: a base58
// authority public key plus a subaccount id.
package identity

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"github.com/atmx/risk-engine/internal/model"
)

// authorityRegex matches a base58-encoded 32-byte public key.
// Example: 9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin
var authorityRegex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,44}$`)

// accountRegex matches: {authority} or {authority}/{subaccount}
var accountRegex = regexp.MustCompile(`^([^/]+)(?:/([0-9]+))?$`)

var (
	ErrInvalidAuthority  = errors.New("identity: invalid authority")
	ErrInvalidSubAccount = errors.New("identity: invalid subaccount id")
	ErrInvalidAccount    = errors.New("identity: invalid account format")
)

// Parse reads "authority" or "authority/subaccount". A missing subaccount
// is subaccount 0.
func Parse(s string) (model.AccountID, error) {
	matches := accountRegex.FindStringSubmatch(s)
	if matches == nil {
		return model.AccountID{}, fmt.Errorf("%w: %q (expected {authority}/{subaccount})", ErrInvalidAccount, s)
	}
	sub := matches[2]
	if sub == "" {
		sub = "0"
	}
	return ParseParts(matches[1], sub)
}

// ParseParts validates an authority and a decimal subaccount id.
func ParseParts(authority, subAccount string) (model.AccountID, error) {
	if !authorityRegex.MatchString(authority) {
		return model.AccountID{}, fmt.Errorf("%w: %q", ErrInvalidAuthority, authority)
	}
	id, err := strconv.ParseUint(subAccount, 10, 16)
	if err != nil {
		return model.AccountID{}, fmt.Errorf("%w: %q", ErrInvalidSubAccount, subAccount)
	}
	return model.AccountID{Authority: authority, SubAccountID: uint16(id)}, nil
}
