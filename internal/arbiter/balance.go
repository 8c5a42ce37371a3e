package arbiter

import (
	"encoding/json"
	"math/big"
)

// Balance is a non-negative monetary amount. Amounts in this protocol
// are yoctoNEAR-scale and routinely exceed the range of a machine
// word (1 NEAR = 10^24 yoctoNEAR), so Balance wraps big.Int rather
// than uint64.
type Balance struct {
	v *big.Int
}

// NewBalance builds a Balance from a non-negative int64, primarily for
// tests and literal amounts.
func NewBalance(n int64) Balance {
	return Balance{v: big.NewInt(n)}
}

// BalanceFromBigInt wraps an existing big.Int. The caller retains
// ownership of b; BalanceFromBigInt copies it.
func BalanceFromBigInt(b *big.Int) Balance {
	if b == nil {
		return Balance{v: big.NewInt(0)}
	}
	return Balance{v: new(big.Int).Set(b)}
}

// Zero is the additive identity.
func Zero() Balance { return Balance{v: big.NewInt(0)} }

// Int returns the underlying big.Int, never nil.
func (b Balance) Int() *big.Int {
	if b.v == nil {
		return big.NewInt(0)
	}
	return b.v
}

// Add returns b + other.
func (b Balance) Add(other Balance) Balance {
	return Balance{v: new(big.Int).Add(b.Int(), other.Int())}
}

// Sub returns b - other, which may be negative; callers are expected
// to check Sign() or use SaturatingSub where negative is invalid.
func (b Balance) Sub(other Balance) Balance {
	return Balance{v: new(big.Int).Sub(b.Int(), other.Int())}
}

// SaturatingSub returns max(0, b - other), mirroring the original
// contract's NearToken::saturating_sub.
func (b Balance) SaturatingSub(other Balance) Balance {
	d := new(big.Int).Sub(b.Int(), other.Int())
	if d.Sign() < 0 {
		return Zero()
	}
	return Balance{v: d}
}

// Cmp compares b to other: -1, 0, or 1.
func (b Balance) Cmp(other Balance) int {
	return b.Int().Cmp(other.Int())
}

// IsZero reports whether b is exactly zero.
func (b Balance) IsZero() bool { return b.Int().Sign() == 0 }

// GreaterThan reports b > other.
func (b Balance) GreaterThan(other Balance) bool { return b.Cmp(other) > 0 }

// LessThan reports b < other.
func (b Balance) LessThan(other Balance) bool { return b.Cmp(other) < 0 }

// String renders the decimal value.
func (b Balance) String() string { return b.Int().String() }

// MarshalJSON encodes as a decimal string (u128 does not fit float64
// or JSON number precision losslessly).
func (b Balance) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.Int().String())
}

// UnmarshalJSON accepts either a JSON string or number.
func (b *Balance) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		n, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return &json.UnmarshalTypeError{Value: "balance", Type: nil}
		}
		b.v = n
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	v, ok := new(big.Int).SetString(n.String(), 10)
	if !ok {
		return &json.UnmarshalTypeError{Value: "balance", Type: nil}
	}
	b.v = v
	return nil
}
