package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "full error",
			err: &Error{
				Phase:    PhaseParse,
				Kind:     KindMalformedInput,
				Path:     []string{"methods", "3", "Code"},
				Class:    "com/example/Foo",
				Member:   "run()V",
				Position: 42,
				Detail:   "truncated",
			},
			contains: []string{"[parse]", "malformed_input", "methods.3.Code", "com/example/Foo::run()V", "offset 42", "truncated"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseWrite,
				Kind:  KindIllegalArgument,
			},
			contains: []string{"[write]", "illegal_argument"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseStackMap,
				Kind:   KindHierarchyResolution,
				Detail: "merge failed",
				Cause:  errors.New("underlying error"),
			},
			contains: []string{"[stackmap]", "hierarchy_resolution", "merge failed", "caused by", "underlying error"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				assert.Contains(t, msg, s)
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := Wrap(PhaseWrite, KindIllegalArgument, cause, "wrap")

	assert.ErrorIs(t, err.Unwrap(), cause)
	assert.ErrorIs(t, errors.Unwrap(err), cause)
}

func TestError_IsSentinel(t *testing.T) {
	err := IllegalArgument(PhaseBuild, "bad flag %s", "ACC_VOLATILE")

	assert.ErrorIs(t, err, ErrIllegalArgument)
	assert.NotErrorIs(t, err, ErrMalformedInput)

	// phase-qualified targets must match both fields
	assert.ErrorIs(t, err, &Error{Phase: PhaseBuild, Kind: KindIllegalArgument})
	assert.NotErrorIs(t, err, &Error{Phase: PhaseWrite, Kind: KindIllegalArgument})
	assert.False(t, err.Is(errors.New("other")))
}

func TestBuilder(t *testing.T) {
	err := New(PhaseWrite, KindIllegalArgument).
		Class("a/B").
		Member("m()V").
		Position(7).
		Value(3).
		Detail("label %d unbound", 3).
		Build()

	require.NotNil(t, err)
	assert.Equal(t, "a/B", err.Class)
	assert.Equal(t, "m()V", err.Member)
	assert.Equal(t, 7, err.Position)
	assert.Equal(t, 3, err.Value)
	assert.Equal(t, "label 3 unbound", err.Detail)
}

func TestConvenienceConstructors(t *testing.T) {
	assert.Equal(t, KindMalformedInput, Malformed(3, "tag %d", 99).Kind)
	assert.Equal(t, 3, Malformed(3, "tag %d", 99).Position)
	assert.Equal(t, KindIllegalConstant, IllegalConstant("I", "primitive").Kind)
	assert.Equal(t, "java/lang/Foo", HierarchyResolution("java/lang/Foo").Value)
	assert.Contains(t, UnsupportedVersion(51, "jsr").Error(), "version 51")
	assert.Equal(t, KindOutOfBounds, OutOfBounds(PhaseParse, nil, 5, 2).Kind)
	assert.Contains(t, InvalidUTF8(0, make([]byte, 64)).Detail, "modified UTF-8")
}

func TestIn(t *testing.T) {
	base := IllegalArgument(PhaseWrite, "x")
	got := In(base, "a/B", "m()V")

	var e *Error
	require.True(t, errors.As(got, &e))
	assert.Equal(t, "a/B", e.Class)
	assert.Empty(t, base.Class, "original must not be mutated")

	// already attributed errors keep their context
	again := In(got, "c/D", "")
	require.True(t, errors.As(again, &e))
	assert.Equal(t, "a/B", e.Class)

	plain := errors.New("plain")
	assert.Equal(t, plain, In(plain, "a/B", ""))
}

func TestParseFailuresAreMalformed(t *testing.T) {
	assert.True(t, errors.Is(InvalidUTF8(3, []byte{0xff}), ErrMalformedInput))
	assert.True(t, errors.Is(OutOfBounds(PhaseParse, nil, 9, 4), ErrMalformedInput))
	assert.False(t, errors.Is(OutOfBounds(PhaseBuild, nil, 9, 4), ErrMalformedInput))
}
