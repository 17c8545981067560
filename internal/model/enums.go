package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// BalanceType is the direction of a spot balance.
type BalanceType uint8

const (
	Deposit BalanceType = iota
	Borrow
)

func (b BalanceType) String() string {
	switch b {
	case Deposit:
		return "deposit"
	case Borrow:
		return "borrow"
	default:
		return fmt.Sprintf("BalanceType(%d)", uint8(b))
	}
}

// ParseBalanceType accepts "deposit" or "borrow" in any case.
func ParseBalanceType(s string) (BalanceType, error) {
	switch strings.ToLower(s) {
	case "deposit":
		return Deposit, nil
	case "borrow":
		return Borrow, nil
	default:
		return 0, fmt.Errorf("model: unknown balance type %q", s)
	}
}

func (b BalanceType) MarshalJSON() ([]byte, error) {
	if b != Deposit && b != Borrow {
		return nil, fmt.Errorf("model: cannot marshal %s", b)
	}
	return json.Marshal(b.String())
}

func (b *BalanceType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseBalanceType(s)
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// MarginCategory selects the risk regime. MarginNone means no weighting is
// applied; Initial floors are stricter than Maintenance floors.
type MarginCategory uint8

const (
	MarginNone MarginCategory = iota
	MarginInitial
	MarginMaintenance
)

func (c MarginCategory) String() string {
	switch c {
	case MarginNone:
		return "none"
	case MarginInitial:
		return "initial"
	case MarginMaintenance:
		return "maintenance"
	default:
		return fmt.Sprintf("MarginCategory(%d)", uint8(c))
	}
}

// ParseMarginCategory accepts "", "none", "initial" or "maintenance".
func ParseMarginCategory(s string) (MarginCategory, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return MarginNone, nil
	case "initial":
		return MarginInitial, nil
	case "maintenance":
		return MarginMaintenance, nil
	default:
		return 0, fmt.Errorf("model: unknown margin category %q", s)
	}
}

func (c MarginCategory) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *MarginCategory) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseMarginCategory(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
