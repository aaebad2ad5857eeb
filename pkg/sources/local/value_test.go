package local

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitName(t *testing.T) {
	tests := []struct {
		name     string
		wantBase string
		wantInit string
		wantOK   bool
	}{
		{"x", "x", "", false},
		{"x(3)", "x", "3", true},
		{"x( \"a\" )", "x", "\"a\"", true},
		{"x(", "x(", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base, init, ok := splitName(tt.name)
			assert.Equal(t, tt.wantBase, base)
			assert.Equal(t, tt.wantInit, init)
			assert.Equal(t, tt.wantOK, ok)
		})
	}
}

func TestParseInitializer(t *testing.T) {
	tests := []struct {
		in      string
		want    any
		wantErr bool
	}{
		{in: "3", want: 3.0},
		{in: "-1.5e2", want: -150.0},
		{in: `"hello"`, want: "hello"},
		{in: `"a, b"`, want: "a, b"},
		{in: "1, 2, 3", want: []float64{1, 2, 3}},
		{in: `"a","b"`, want: []string{"a", "b"}},
		{in: `"a\"b"`, want: `a"b`},
		{in: "abc", wantErr: true},
		{in: `"a", 1`, wantErr: true},
		{in: `"open`, wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseInitializer(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedInitializer)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalize(t *testing.T) {
	v, f, err := normalize(int32(4))
	require.NoError(t, err)
	assert.Equal(t, 4.0, v)
	assert.Equal(t, familyNumber, f)

	v, f, err = normalize([]any{1, 2.5})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2.5}, v)
	assert.Equal(t, familyNumberArray, f)

	v, f, err = normalize([]any{"x"})
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, v)
	assert.Equal(t, familyStringArray, f)

	_, _, err = normalize(struct{}{})
	assert.ErrorIs(t, err, ErrTypeFamily)
}
