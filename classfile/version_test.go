package classfile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/jclassfile/errors"
)

func TestVersionForRelease(t *testing.T) {
	tests := []struct {
		release string
		want    Version
	}{
		{"1", Version{Major: 45, Minor: 3}},
		{"1.1", Version{Major: 45, Minor: 3}},
		{"1.4", Version{Major: 48}},
		{"1.8", Version{Major: 52}},
		{"8", Version{Major: 52}},
		{"11", Version{Major: 55}},
		{"17", Version{Major: 61}},
		{"17.0.2", Version{Major: 61}},
		{"25", Version{Major: 69}},
	}
	for _, tt := range tests {
		t.Run(tt.release, func(t *testing.T) {
			got, err := VersionForRelease(tt.release)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, bad := range []string{"", "x", "0", "26"} {
		_, err := VersionForRelease(bad)
		assert.ErrorIs(t, err, errors.ErrIllegalArgument, bad)
	}
}

func TestVersionCapabilities(t *testing.T) {
	v49 := Version{Major: 49}
	v50 := Version{Major: 50}
	v51 := Version{Major: 51}

	assert.False(t, v49.HasStackMaps())
	assert.True(t, v50.HasStackMaps())
	assert.False(t, v50.RequiresStackMaps())
	assert.True(t, v51.RequiresStackMaps())
	assert.True(t, v50.AllowsSubroutines())
	assert.False(t, v51.AllowsSubroutines())
	assert.True(t, Version{Major: 65, Minor: 0xFFFF}.IsPreview())
	assert.Equal(t, 17, Version{Major: 61}.Release())
	assert.Equal(t, "52.0", Version{Major: 52}.String())
}
