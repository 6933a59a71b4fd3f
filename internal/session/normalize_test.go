package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize_TrimsWhitespace(t *testing.T) {
	got, err := Normalize("  cam1_dev9_abc  ")
	assert.NoError(t, err)
	assert.Equal(t, "cam1_dev9_abc", got)
}

func TestNormalize_RejectsEmpty(t *testing.T) {
	_, err := Normalize("   ")
	assert.ErrorIs(t, err, ErrInvalidSessionID)
}

func TestNormalize_RejectsDotAndDotDot(t *testing.T) {
	for _, in := range []string{".", ".."} {
		_, err := Normalize(in)
		assert.ErrorIsf(t, err, ErrInvalidSessionID, "input %q", in)
	}
}

func TestNormalize_RejectsPathSeparators(t *testing.T) {
	for _, in := range []string{"a/b", "a\\b", "../escape"} {
		_, err := Normalize(in)
		assert.ErrorIsf(t, err, ErrInvalidSessionID, "input %q", in)
	}
}

func TestNormalize_AcceptsPlainID(t *testing.T) {
	got, err := Normalize("session-123")
	assert.NoError(t, err)
	assert.Equal(t, "session-123", got)
}
