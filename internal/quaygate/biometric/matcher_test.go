package biometric

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewTemplateAndVerify(t *testing.T) {
	tpl, err := NewTemplate([]byte("ridge-pattern-7"))
	require.NoError(t, err)
	require.False(t, tpl.IsZero())

	var m HashMatcher

	ok, err := m.Verify([]byte("ridge-pattern-7"), tpl)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = m.Verify([]byte("ridge-pattern-8"), tpl)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestNewTemplateSaltsDiffer(t *testing.T) {
	a, err := NewTemplate([]byte("same-sample"))
	require.NoError(t, err)
	b, err := NewTemplate([]byte("same-sample"))
	require.NoError(t, err)
	require.NotEqual(t, a.Digest, b.Digest, "identical samples must not produce identical stored digests")
}

func TestVerifyRejectsEmptyInputs(t *testing.T) {
	tpl, err := NewTemplate([]byte("x"))
	require.NoError(t, err)

	var m HashMatcher

	_, err = m.Verify(nil, tpl)
	require.ErrorIs(t, err, ErrEmptySample)

	_, err = m.Verify([]byte("x"), Template{})
	require.ErrorIs(t, err, ErrEmptyTemplate)

	_, err = NewTemplate(nil)
	require.ErrorIs(t, err, ErrEmptySample)
}
