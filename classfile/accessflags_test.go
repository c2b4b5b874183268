package classfile

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/jclassfile/errors"
)

func definedMask(loc Location) int {
	var m int
	for f := AccessFlag(0); f < numAccessFlags; f++ {
		if f.ValidAt(loc) {
			m |= f.Mask()
		}
	}
	return m
}

func TestAccessFlagsRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for loc := LocClass; loc <= LocModuleOpens; loc++ {
		defined := definedMask(loc)
		for iter := 0; iter < 200; iter++ {
			mask := rng.Intn(0x10000) & defined
			flags := AccessFlagsOfMask(loc, mask).Flags()
			back, err := AccessFlagsOf(loc, flags...)
			require.NoError(t, err, "%s %#x", loc, mask)
			assert.Equal(t, mask, back.Mask(), "%s %#x", loc, mask)
		}
	}
}

func TestAccessFlagsUndefinedBitsPreserved(t *testing.T) {
	f := AccessFlagsOfMask(LocField, 0x0001|0x0800)
	assert.Equal(t, 0x0801, f.Mask())
	assert.Equal(t, []AccessFlag{AccPublic}, f.Flags())
	assert.False(t, f.Has(AccStrict))
}

func TestAccessFlagsSharedBits(t *testing.T) {
	assert.Equal(t, []AccessFlag{AccSuper}, ClassFlags(0x0020).Flags())
	assert.Equal(t, []AccessFlag{AccSynchronized}, MethodFlags(0x0020).Flags())
	assert.Equal(t, []AccessFlag{AccVolatile}, FieldFlags(0x0040).Flags())
	assert.Equal(t, []AccessFlag{AccBridge}, MethodFlags(0x0040).Flags())
	assert.Equal(t, []AccessFlag{AccModule}, ClassFlags(0x8000).Flags())
	assert.Equal(t, "public static final", FieldFlags(0x0019).String())
}

func TestAccessFlagsInvalidLocation(t *testing.T) {
	_, err := AccessFlagsOf(LocField, AccPublic, AccSynchronized)
	assert.ErrorIs(t, err, errors.ErrIllegalArgument)

	_, err = AccessFlagsOf(LocClass, AccPrivate)
	assert.ErrorIs(t, err, errors.ErrIllegalArgument)

	f, err := AccessFlagsOf(LocMethod, AccPublic, AccStatic, AccSynchronized)
	require.NoError(t, err)
	assert.Equal(t, 0x0029, f.Mask())
}
