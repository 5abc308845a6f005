package shader

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAnnotationIgnoresPlainLines(t *testing.T) {
	for _, line := range []string{
		"",
		"fn main() {}",
		"// a regular comment",
		"let x = 1u; // @oxy:include particle",
	} {
		a, err := parseAnnotation(line, 1)
		assert.NoError(t, err, line)
		assert.Nil(t, a, line)
	}
}

func TestParseAnnotationGroup(t *testing.T) {
	a, err := parseAnnotation("//@oxy:group 1 0 storage_uniform params sort_params", 7)
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, AnnotationTypeBindingGroup, a.Type)
	assert.Equal(t, 1, *a.Group)
	assert.Equal(t, 0, *a.Binding)
	assert.Equal(t, []AnnotationArg{"storage_uniform", "params", "sort_params"}, a.Args)
	assert.Equal(t, 7, a.Line)

	a, err = parseAnnotation("  //@oxy:group 0 1 storage_read intermediate array<intermediate_data>", 1)
	require.NoError(t, err)
	assert.Equal(t, AnnotationArg("array<intermediate_data>"), a.Args[2])
}

func TestParseAnnotationProvider(t *testing.T) {
	a, err := parseAnnotation("//@oxy:provider 0 3 prefix_sums", 2)
	require.NoError(t, err)
	assert.Equal(t, AnnotationTypeProvider, a.Type)
	assert.Equal(t, []AnnotationArg{AnnotationArgPrefixSums}, a.Args)
	assert.Equal(t, 3, *a.Binding)
}

func TestParseAnnotationErrors(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"empty", "//@oxy:"},
		{"unknown type", "//@oxy:define foo"},
		{"include arity", "//@oxy:include"},
		{"unknown include", "//@oxy:include camera"},
		{"group arity", "//@oxy:group 0 0 storage_read particles"},
		{"bad group number", "//@oxy:group x 0 storage_read particles array<particle>"},
		{"bad address space", "//@oxy:group 0 0 storage_write particles array<particle>"},
		{"unknown struct", "//@oxy:group 0 0 storage_read particles array<vertex>"},
		{"snippet as group type", "//@oxy:group 0 0 storage_read particles random"},
		{"provider arity", "//@oxy:provider 0 3"},
		{"unknown slot", "//@oxy:provider 0 6 textures"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := parseAnnotation(tt.line, 4)
			assert.Error(t, err)
			assert.Nil(t, a)
		})
	}
}
