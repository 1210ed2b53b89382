package parsers

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// addrStr renders an address in the canonical stored form: lowercase hex.
func addrStr(a common.Address) string {
	return strings.ToLower(a.Hex())
}

// WordSize is the width of one ABI slot.
const WordSize = 32

// ErrShortData marks a log whose payload is too short for the expected
// layout. Callers treat it as a skip, not a failure.
var ErrShortData = errors.New("log data shorter than event layout")

// word returns the i-th 32-byte slot of data.
func word(data []byte, i int) ([]byte, error) {
	if len(data) < (i+1)*WordSize {
		return nil, errors.Wrapf(ErrShortData, "want word %d, have %d bytes", i, len(data))
	}
	return data[i*WordSize : (i+1)*WordSize], nil
}

// wordAddress reads the low 20 bytes of slot i as an address.
func wordAddress(data []byte, i int) (common.Address, error) {
	w, err := word(data, i)
	if err != nil {
		return common.Address{}, err
	}
	return common.BytesToAddress(w[12:]), nil
}

// wordUint reads slot i as an unsigned arbitrary-precision integer.
func wordUint(data []byte, i int) (*big.Int, error) {
	w, err := word(data, i)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(w), nil
}

// wordSigned reads slot i as a two's-complement signed integer of the given
// bit width. The value occupies the full 32-byte slot, sign-extended.
func wordSigned(data []byte, i int, bits uint) (*big.Int, error) {
	w, err := word(data, i)
	if err != nil {
		return nil, err
	}
	return twosComplement(new(big.Int).SetBytes(w), 256, bits), nil
}

// wordTick reads slot i as an int24 tick. Only the low 24 bits of the slot
// are considered before re-sign-extending, which defeats upstream encoders
// that sign-extend incorrectly.
func wordTick(data []byte, i int) (int32, error) {
	w, err := word(data, i)
	if err != nil {
		return 0, err
	}
	raw := uint32(w[29])<<16 | uint32(w[30])<<8 | uint32(w[31])
	return signExtend24(raw), nil
}

// topicAddress reads the low 20 bytes of a topic hash as an address.
func topicAddress(h common.Hash) common.Address {
	return common.BytesToAddress(h[12:])
}

// topicUint reads a topic hash as an unsigned integer.
func topicUint(h common.Hash) *big.Int {
	return new(big.Int).SetBytes(h[:])
}

// twosComplement reinterprets an unsigned big integer carrying a raw
// fromBits-wide slot as a signed toBits-wide value.
func twosComplement(v *big.Int, fromBits, toBits uint) *big.Int {
	mask := new(big.Int).Lsh(big.NewInt(1), toBits)
	v = new(big.Int).And(v, new(big.Int).Sub(mask, big.NewInt(1)))
	sign := new(big.Int).Lsh(big.NewInt(1), toBits-1)
	if v.Cmp(sign) >= 0 {
		v.Sub(v, mask)
	}
	return v
}

func signExtend24(raw uint32) int32 {
	raw &= 0xFFFFFF
	if raw&0x800000 != 0 {
		raw |= 0xFF000000
	}
	return int32(raw)
}

// dec renders a big integer as its canonical decimal string. Nil is "0".
func dec(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// splitSigned splits a signed amount into unsigned (in, out) decimal legs.
// Negative amounts are credited to the in leg, positive to the out leg.
func splitSigned(v *big.Int) (in, out string) {
	if v == nil || v.Sign() == 0 {
		return "0", "0"
	}
	if v.Sign() < 0 {
		return new(big.Int).Neg(v).String(), "0"
	}
	return "0", v.String()
}
