package domain

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// Common errors related to domain identifiers.
var (
	ErrInvalidID = errors.New("invalid id")
)

// -------------------------------
// Space
// -------------------------------

// Space defines the identifier space and routing parameters of the
// Chord ring.
//
// The identifier space is the set of integers in the range
// [0, 2^Bits - 1]. Identifiers are stored in big-endian format using
// ByteLen bytes.
//
// Fields:
//
//   - Bits: total number of bits in the identifier space (m in the
//     Chord paper; 160 for SHA-1, smaller values are common in tests).
//
//   - ByteLen: number of bytes required to encode an identifier of
//     length Bits (computed as ceil(Bits / 8)).
//
//   - SuccListSize: number of successor nodes to maintain for fault
//     tolerance (r). Also bounds how deep the replica chain goes: a
//     key is replicated on exactly the first SuccListSize successors
//     of its owner.
type Space struct {
	Bits         int // Number of bits in the identifier space (m)
	ByteLen      int // Number of bytes needed to represent an identifier
	SuccListSize int // Length of the successor list / replication factor (r)
}

// NewSpace initializes a new identifier space for the Chord ring.
//
// Parameters:
//   - b: number of bits in the identifier space. Must be > 0.
//   - succListSize: number of successors to maintain for fault tolerance
//     and replication. Must be > 0.
func NewSpace(b int, succListSize int) (Space, error) {
	if b <= 0 {
		return Space{}, fmt.Errorf("invalid identifier bits: %d (must be > 0)", b)
	}
	if succListSize <= 0 {
		return Space{}, fmt.Errorf("invalid successor list size: %d (must be > 0)", succListSize)
	}
	return Space{
		Bits:         b,
		ByteLen:      (b + 7) / 8,
		SuccListSize: succListSize,
	}, nil
}

// -------------------------------
// ID type and methods
// -------------------------------

// ID represents a unique identifier on the Chord ring.
//
// Identifiers are stored as a byte slice in **big-endian** format, the
// most significant byte at the lowest memory index. This keeps
// comparisons and modular arithmetic consistent with how the Chord
// paper treats identifiers as unsigned integers mod 2^m.
type ID []byte

// Zero returns the all-zero identifier for this space.
func (sp Space) Zero() ID {
	return make(ID, sp.ByteLen)
}

// NewIdFromString derives a new identifier from the given string within
// the current identifier space.
//
// Typical usage: generating node identifiers from endpoints (host:port)
// or key identifiers from a key's canonical byte representation.
//
// The ID is produced as follows:
//  1. Compute the SHA-1 digest (160 bits) of the input string.
//  2. Copy the most significant bytes (big-endian order) into a buffer
//     of length sp.ByteLen.
//  3. If Bits is not a multiple of 8, mask the unused high-order bits
//     in the first byte so the ID falls strictly within [0, 2^Bits).
func (sp Space) NewIdFromString(s string) ID {
	h := sha1.Sum([]byte(s)) // 160-bit digest

	buf := make([]byte, sp.ByteLen)
	copy(buf, h[:sp.ByteLen])

	extraBits := sp.ByteLen*8 - sp.Bits
	if extraBits > 0 {
		mask := byte(0xFF >> extraBits)
		buf[0] &= mask
	}

	return buf
}

// IsValidID verifies whether the given byte slice represents a valid
// identifier in the current identifier space.
//
// A valid ID must satisfy:
//  1. Its length matches sp.ByteLen.
//  2. If Bits is not byte-aligned, the unused high-order bits in the
//     first byte must be zero (i.e., ID < 2^Bits).
func (sp Space) IsValidID(id []byte) error {
	if len(id) != sp.ByteLen {
		return ErrInvalidID
	}

	extraBits := sp.ByteLen*8 - sp.Bits
	if extraBits > 0 {
		mask := byte(0xFF << (8 - extraBits))
		if id[0]&mask != 0 {
			return ErrInvalidID
		}
	}

	return nil
}

// ToHexString returns the identifier as a lowercase hexadecimal string.
//
// If prefix is true, the string is returned with a "0x" prefix. If the
// ID is nil, the string "<nil>" is returned instead.
func (x ID) ToHexString(prefix bool) string {
	if x == nil {
		return "<nil>"
	}
	hexStr := hex.EncodeToString(x)
	if prefix {
		return "0x" + hexStr
	}
	return hexStr
}

// String implements fmt.Stringer, returning the unprefixed hex form.
// Used as the canonical map key for storage implementations.
func (x ID) String() string {
	return x.ToHexString(false)
}

// ToBigInt converts the identifier into a non-negative integer,
// interpreted as a big-endian unsigned integer. Returns nil if x is
// nil.
func (x ID) ToBigInt() *big.Int {
	if x == nil {
		return nil
	}
	return new(big.Int).SetBytes(x)
}

// ToBinaryString returns the binary representation of the ID as a
// string of length len(x)*8, leading zeros preserved. If withPrefix is
// true the string carries a "0b" prefix.
func (x ID) ToBinaryString(withPrefix bool) string {
	if x == nil {
		return "<nil>"
	}

	var sb strings.Builder
	for _, b := range x {
		sb.WriteString(fmt.Sprintf("%08b", b))
	}

	if withPrefix {
		return "0b" + sb.String()
	}
	return sb.String()
}

// FromHexString parses a hexadecimal string into an ID, accepting
// leading zero padding but rejecting any value exceeding the current
// identifier space (i.e. value >= 2^Bits).
func (sp Space) FromHexString(s string) (ID, error) {
	str := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if str == "" {
		return nil, fmt.Errorf("invalid hex string: empty input")
	}

	bt, err := hex.DecodeString(str)
	if err != nil {
		return nil, fmt.Errorf("invalid hex string %q: %w", s, err)
	}

	if len(bt) > sp.ByteLen {
		leading := bt[:len(bt)-sp.ByteLen]
		for _, b := range leading {
			if b != 0 {
				return nil, fmt.Errorf("value exceeds %d-bit space (non-zero leading bytes)", sp.Bits)
			}
		}
		bt = bt[len(bt)-sp.ByteLen:]
	}

	id := make(ID, sp.ByteLen)
	copy(id[sp.ByteLen-len(bt):], bt)

	extraBits := sp.ByteLen*8 - sp.Bits
	if extraBits > 0 {
		topMask := byte(0xFF << (8 - extraBits))
		if id[0]&topMask != 0 {
			return nil, fmt.Errorf("value exceeds %d-bit space (non-zero in top %d unused bits)", sp.Bits, extraBits)
		}
	}

	return id, nil
}

// FromUint64 converts a uint64 value into an identifier in the current
// identifier space.
//
// The value is truncated to sp.Bits bits and returned as a big-endian
// byte slice of length sp.ByteLen. Typical use: building the 2^i
// offsets used to compute finger table targets.
func (sp Space) FromUint64(x uint64) ID {
	id := make(ID, sp.ByteLen)

	for i := sp.ByteLen - 1; i >= 0 && x > 0; i-- {
		id[i] = byte(x & 0xFF)
		x >>= 8
	}

	extraBits := sp.ByteLen*8 - sp.Bits
	if extraBits > 0 {
		mask := byte(0xFF >> extraBits)
		id[0] &= mask
	}

	return id
}

// FingerStart returns (self + 2^i) mod 2^Bits, the identifier that
// fingers[i] is responsible for routing towards. i must be in
// [0, Bits).
func (sp Space) FingerStart(self ID, i int) ID {
	offset := new(big.Int).Lsh(big.NewInt(1), uint(i))
	mod := new(big.Int).Lsh(big.NewInt(1), uint(sp.Bits))
	sum := new(big.Int).Add(self.ToBigInt(), offset)
	sum.Mod(sum, mod)

	out := make(ID, sp.ByteLen)
	sum.FillBytes(out)
	return out
}

// Cmp compares two identifiers in big-endian order.
//
// Returns -1 if x < b, 0 if x == b, +1 if x > b. Comparison is purely
// byte-wise, so IDs are treated as unsigned integers in the identifier
// space.
func (x ID) Cmp(b ID) int {
	return bytes.Compare(x, b)
}

// Equal reports whether two identifiers are exactly the same.
func (x ID) Equal(b ID) bool {
	return bytes.Equal(x, b)
}

// Between reports whether the identifier x lies in the circular
// interval (a, b].
//
// Interval semantics:
//   - If a == b: the interval (a, a] covers the entire ring (a
//     singleton ring owns everything), so the method always returns
//     true.
//   - If a < b: the interval is linear, i.e. strictly greater than a
//     and less than or equal to b.
//   - If a > b: the interval wraps around zero and includes all IDs
//     greater than a or less than or equal to b.
func (x ID) Between(a, b ID) bool {
	acmp := a.Cmp(x)
	xbcmp := x.Cmp(b)
	abcmp := a.Cmp(b)

	if abcmp == 0 {
		return true
	}
	if abcmp < 0 {
		return acmp < 0 && xbcmp <= 0
	}
	return acmp < 0 || xbcmp <= 0
}

// BetweenOpen reports whether x lies in the open circular interval
// (a, b), excluding both endpoints. When a == b the interval is the
// full ring minus {a}.
func (x ID) BetweenOpen(a, b ID) bool {
	if a.Equal(b) {
		return !x.Equal(a)
	}
	return x.Between(a, b) && !x.Equal(b)
}

// AddMod computes (a + b) modulo 2^Bits. Both inputs must be valid IDs
// of length sp.ByteLen, interpreted as big-endian unsigned integers.
func (sp Space) AddMod(a, b ID) (ID, error) {
	if err := sp.IsValidID(a); err != nil {
		return nil, fmt.Errorf("invalid ID a: %w", err)
	}
	if err := sp.IsValidID(b); err != nil {
		return nil, fmt.Errorf("invalid ID b: %w", err)
	}

	res := make(ID, sp.ByteLen)
	carry := 0
	for i := sp.ByteLen - 1; i >= 0; i-- {
		sum := int(a[i]) + int(b[i]) + carry
		res[i] = byte(sum & 0xFF)
		carry = sum >> 8
	}

	extraBits := sp.ByteLen*8 - sp.Bits
	if extraBits > 0 {
		mask := byte(0xFF >> extraBits)
		res[0] &= mask
	}

	return res, nil
}
