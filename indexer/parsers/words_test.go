package parsers

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// padWord left-pads a big integer into one 32-byte ABI slot, two's
// complement for negatives.
func padWord(v *big.Int) []byte {
	out := make([]byte, WordSize)
	if v.Sign() >= 0 {
		v.FillBytes(out)
		return out
	}
	mod := new(big.Int).Lsh(big.NewInt(1), 256)
	new(big.Int).Add(mod, v).FillBytes(out)
	return out
}

func packWords(vals ...*big.Int) []byte {
	var out []byte
	for _, v := range vals {
		out = append(out, padWord(v)...)
	}
	return out
}

func TestWord_ShortData(t *testing.T) {
	_, err := word(make([]byte, 31), 0)
	require.ErrorIs(t, err, ErrShortData)

	_, err = word(make([]byte, 64), 2)
	require.ErrorIs(t, err, ErrShortData)

	w, err := word(make([]byte, 64), 1)
	require.NoError(t, err)
	assert.Len(t, w, WordSize)
}

func TestWordAddress(t *testing.T) {
	addr := common.HexToAddress("0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc")
	data := packWords(new(big.Int).SetBytes(addr.Bytes()))
	got, err := wordAddress(data, 0)
	require.NoError(t, err)
	assert.Equal(t, addr, got)
}

func TestWordTick_SignExtension(t *testing.T) {
	// -887220 as int24 is 0xF2764C. Upstream encoders sometimes sign-extend
	// the full slot and sometimes do not; only the low 24 bits matter.
	cases := []struct {
		name string
		slot *big.Int
		want int32
	}{
		{"positive", big.NewInt(60), 60},
		{"negative sign-extended", big.NewInt(-887220), -887220},
		{"negative raw 24 bits", big.NewInt(0xF2764C), -887220},
		{"max int24", big.NewInt(0x7FFFFF), 8388607},
		{"min int24", big.NewInt(0x800000), -8388608},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := wordTick(packWords(tc.slot), 0)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestWordSigned_RoundTrip(t *testing.T) {
	values := []*big.Int{
		big.NewInt(0),
		big.NewInt(1),
		big.NewInt(-1),
		big.NewInt(-1000),
		new(big.Int).Lsh(big.NewInt(1), 120),
		new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 120)),
	}
	for _, v := range values {
		got, err := wordSigned(packWords(v), 0, 256)
		require.NoError(t, err)
		assert.Zero(t, v.Cmp(got), "round trip of %s gave %s", v, got)
	}
}

func TestWordSigned_Int128(t *testing.T) {
	// An int128 slot is sign-extended to the full word on chain.
	v := big.NewInt(-12345)
	got, err := wordSigned(packWords(v), 0, 128)
	require.NoError(t, err)
	assert.Zero(t, v.Cmp(got))
}

func TestSplitSigned(t *testing.T) {
	in, out := splitSigned(big.NewInt(-1000))
	assert.Equal(t, "1000", in)
	assert.Equal(t, "0", out)

	in, out = splitSigned(big.NewInt(2000))
	assert.Equal(t, "0", in)
	assert.Equal(t, "2000", out)

	in, out = splitSigned(big.NewInt(0))
	assert.Equal(t, "0", in)
	assert.Equal(t, "0", out)

	in, out = splitSigned(nil)
	assert.Equal(t, "0", in)
	assert.Equal(t, "0", out)
}

func TestDec(t *testing.T) {
	assert.Equal(t, "0", dec(nil))
	assert.Equal(t, "340282366920938463463374607431768211456", dec(new(big.Int).Lsh(big.NewInt(1), 128)))
}
