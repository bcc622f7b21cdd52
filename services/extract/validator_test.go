package extract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raglab-search/models"
)

func TestValidate(t *testing.T) {
	t.Run("accepts plain text", func(t *testing.T) {
		v, err := Validate("notes.txt", []byte("hello"))
		require.NoError(t, err)
		assert.Equal(t, ".txt", v.Ext)
		assert.Equal(t, PolicyLenient, v.Policy)
	})

	t.Run("accepts pdf with magic bytes", func(t *testing.T) {
		v, err := Validate("doc.pdf", []byte("%PDF-1.7 ..."))
		require.NoError(t, err)
		assert.Equal(t, PolicyStrict, v.Policy)
	})

	t.Run("rejects pdf without magic bytes", func(t *testing.T) {
		_, err := Validate("doc.pdf", []byte("not a pdf"))
		require.Error(t, err)
		assert.Equal(t, models.ErrKindSignatureMismatch, models.KindOf(err))
	})

	t.Run("rejects unknown extension", func(t *testing.T) {
		_, err := Validate("binary.exe", []byte{0x4D, 0x5A})
		require.Error(t, err)
		assert.Equal(t, models.ErrKindUnsupportedFormat, models.KindOf(err))
	})

	t.Run("rejects missing extension", func(t *testing.T) {
		_, err := Validate("README", []byte("text"))
		require.Error(t, err)
		assert.Equal(t, models.ErrKindUnsupportedFormat, models.KindOf(err))
	})

	t.Run("rejects oversized files", func(t *testing.T) {
		_, err := Validate("big.txt", make([]byte, MaxFileSize+1))
		require.Error(t, err)
		assert.Equal(t, models.ErrKindFileTooLarge, models.KindOf(err))
	})

	t.Run("extension check is case-insensitive", func(t *testing.T) {
		v, err := Validate("NOTES.TXT", []byte("hello"))
		require.NoError(t, err)
		assert.Equal(t, ".txt", v.Ext)
	})
}

func TestPolicyFor(t *testing.T) {
	cases := map[string]Policy{
		".pdf":  PolicyStrict,
		".json": PolicyStructured,
		".xml":  PolicyStructured,
		".yaml": PolicyStructured,
		".md":   PolicyLenient,
		".py":   PolicyLenient,
	}
	for ext, want := range cases {
		policy, ok := PolicyFor(ext)
		require.True(t, ok, ext)
		assert.Equal(t, want, policy, ext)
	}

	_, ok := PolicyFor(".exe")
	assert.False(t, ok)
}

func TestSupportedExtensions(t *testing.T) {
	exts := SupportedExtensions()
	assert.Contains(t, exts, ".pdf")
	assert.Contains(t, exts, ".json")
	assert.Contains(t, exts, ".txt")
	assert.True(t, sortedAsc(exts))
}

func sortedAsc(s []string) bool {
	for i := 1; i < len(s); i++ {
		if strings.Compare(s[i-1], s[i]) > 0 {
			return false
		}
	}
	return true
}
