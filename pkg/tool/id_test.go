package tool

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateCode_LengthAndAlphabet(t *testing.T) {
	code := GenerateCode(6)
	require.Len(t, code, 6)
	for _, c := range code {
		require.Contains(t, codeAlphabet, string(c))
	}
}

func TestGenerateShortID_NonEmptyAndDistinct(t *testing.T) {
	a := GenerateShortID()
	b := GenerateShortID()
	require.NotEmpty(t, a)
	require.NotEqual(t, a, b)
}
