// Package fixed implements the checked integer arithmetic used for every
// risk number in the engine.
//
// The ledger computes margin with checked 128-bit integers. Int reproduces
// that: values must stay within ±(2^127 - 1), every operation that can
// grow a value reports ErrOverflow instead of wrapping, and division
// truncates toward zero. Intermediate products are checked against the same
// bound, so a computation that would overflow on the ledger also fails here.
package fixed

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

var (
	// ErrOverflow is returned when a result or an intermediate product
	// leaves the 128-bit range.
	ErrOverflow = errors.New("fixed: arithmetic overflow")

	// ErrDivisionByZero is returned by Quo and MulDiv for a zero divisor.
	ErrDivisionByZero = errors.New("fixed: division by zero")

	// ErrNegativeSqrt is returned by Sqrt for a negative operand.
	ErrNegativeSqrt = errors.New("fixed: square root of negative value")
)

// maxMagnitude is 2^127 - 1.
var maxMagnitude = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))

// Int is an immutable signed integer bounded to ±(2^127 - 1).
// The zero value is 0 and ready to use.
type Int struct {
	v *big.Int
}

// Zero is the additive identity.
var Zero = Int{}

// New returns x as an Int.
func New(x int64) Int {
	return Int{v: big.NewInt(x)}
}

// NewUint returns x as an Int.
func NewUint(x uint64) Int {
	return Int{v: new(big.Int).SetUint64(x)}
}

// Pow10 returns 10^n. n must be small enough to stay in range (n <= 38).
func Pow10(n uint32) (Int, error) {
	v := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
	return checked(v)
}

// Parse reads a base-10 integer.
func Parse(s string) (Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Int{}, fmt.Errorf("fixed: invalid integer %q", s)
	}
	return checked(v)
}

// MustParse is Parse for constants; it panics on error.
func MustParse(s string) Int {
	x, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return x
}

func checked(v *big.Int) (Int, error) {
	if v.CmpAbs(maxMagnitude) > 0 {
		return Int{}, ErrOverflow
	}
	return Int{v: v}, nil
}

func (x Int) big() *big.Int {
	if x.v == nil {
		return new(big.Int)
	}
	return x.v
}

// Add returns x + y.
func (x Int) Add(y Int) (Int, error) {
	return checked(new(big.Int).Add(x.big(), y.big()))
}

// Sub returns x - y.
func (x Int) Sub(y Int) (Int, error) {
	return checked(new(big.Int).Sub(x.big(), y.big()))
}

// Mul returns x * y.
func (x Int) Mul(y Int) (Int, error) {
	return checked(new(big.Int).Mul(x.big(), y.big()))
}

// Quo returns x / y truncated toward zero.
func (x Int) Quo(y Int) (Int, error) {
	if y.IsZero() {
		return Int{}, ErrDivisionByZero
	}
	return checked(new(big.Int).Quo(x.big(), y.big()))
}

// MulDiv returns x * y / d truncated toward zero. The product x * y must
// itself fit the 128-bit range.
func MulDiv(x, y, d Int) (Int, error) {
	if d.IsZero() {
		return Int{}, ErrDivisionByZero
	}
	p, err := x.Mul(y)
	if err != nil {
		return Int{}, err
	}
	return checked(p.v.Quo(p.v, d.big()))
}

// Sqrt returns the floor square root of x.
func (x Int) Sqrt() (Int, error) {
	if x.Sign() < 0 {
		return Int{}, ErrNegativeSqrt
	}
	return Int{v: new(big.Int).Sqrt(x.big())}, nil
}

// Neg returns -x. The range is symmetric, so Neg never overflows.
func (x Int) Neg() Int {
	return Int{v: new(big.Int).Neg(x.big())}
}

// Abs returns |x|.
func (x Int) Abs() Int {
	return Int{v: new(big.Int).Abs(x.big())}
}

// Sign returns -1, 0 or +1.
func (x Int) Sign() int { return x.big().Sign() }

// IsZero reports whether x == 0.
func (x Int) IsZero() bool { return x.Sign() == 0 }

// Cmp compares x and y and returns -1, 0 or +1.
func (x Int) Cmp(y Int) int { return x.big().Cmp(y.big()) }

// Equal reports whether x == y.
func (x Int) Equal(y Int) bool { return x.Cmp(y) == 0 }

// LessThan reports whether x < y.
func (x Int) LessThan(y Int) bool { return x.Cmp(y) < 0 }

// GreaterThan reports whether x > y.
func (x Int) GreaterThan(y Int) bool { return x.Cmp(y) > 0 }

// Max returns the larger of x and y.
func Max(x, y Int) Int {
	if x.Cmp(y) >= 0 {
		return x
	}
	return y
}

// Min returns the smaller of x and y.
func Min(x, y Int) Int {
	if x.Cmp(y) <= 0 {
		return x
	}
	return y
}

// Int64 returns x as an int64 and whether it fit.
func (x Int) Int64() (int64, bool) {
	b := x.big()
	return b.Int64(), b.IsInt64()
}

// String returns the base-10 form of x.
func (x Int) String() string { return x.big().String() }

// Decimal scales x down by 10^exp, e.g. a quote amount with exp 6 becomes
// the human-readable dollar value.
func (x Int) Decimal(exp int32) decimal.Decimal {
	return decimal.NewFromBigInt(x.big(), -exp)
}

// MarshalJSON encodes x as a quoted base-10 string so that values above
// 2^53 survive JavaScript clients.
func (x Int) MarshalJSON() ([]byte, error) {
	return json.Marshal(x.String())
}

// UnmarshalJSON accepts a quoted or bare base-10 integer.
func (x *Int) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("fixed: invalid JSON integer %s", data)
		}
		s = n.String()
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*x = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (x Int) MarshalText() ([]byte, error) {
	return []byte(x.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (x *Int) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*x = parsed
	return nil
}
