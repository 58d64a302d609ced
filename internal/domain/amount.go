package domain

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
)

// Amount is a quantity of money expressed in milli-units. It is unsigned so a
// stored balance can never be negative; use Sub for checked subtraction.
type Amount uint64

// ZeroAmount is the balance of an account that has never been funded.
const ZeroAmount Amount = 0

// Sub returns a-b and false when b exceeds a.
func (a Amount) Sub(b Amount) (Amount, bool) {
	if b > a {
		return 0, false
	}
	return a - b, true
}

// Add returns a+b and false on overflow.
func (a Amount) Add(b Amount) (Amount, bool) {
	if b > math.MaxUint64-a {
		return 0, false
	}
	return a + b, true
}

func (a Amount) String() string {
	return strconv.FormatUint(uint64(a), 10) + " msat"
}

// Bytes encodes the amount as 8 big-endian bytes, the on-disk representation.
func (a Amount) Bytes() []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(a))
	return buf
}

// AmountFromBytes decodes an amount written by Bytes.
func AmountFromBytes(b []byte) (Amount, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("amount must be 8 bytes, got %d", len(b))
	}
	return Amount(binary.BigEndian.Uint64(b)), nil
}
