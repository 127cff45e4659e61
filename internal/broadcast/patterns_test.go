package broadcast

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpandPatterns(t *testing.T) {
	got := ExpandPatterns(DefaultKeyPatterns, "alice")
	assert.Equal(t, []string{"tier:alice", "subscription:alice", "entitlement:alice:*"}, got)
}

func TestExpandPatterns_EscapesGlobCharacters(t *testing.T) {
	got := ExpandPatterns([]string{"tier:{user}"}, "a*[b]")
	assert.Equal(t, []string{`tier:a\*\[b\]`}, got)
}
