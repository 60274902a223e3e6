package idgen

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithPrefix(t *testing.T) {
	id := WithPrefix(PrefixAward)
	assert.True(t, HasPrefix(id, PrefixAward))
	assert.Len(t, id, len(PrefixAward)+24)
	assert.NotEqual(t, id, WithPrefix(PrefixAward))
}

func TestHasPrefix(t *testing.T) {
	assert.False(t, HasPrefix("awd_short", PrefixAward))
	assert.False(t, HasPrefix(WithPrefix(PrefixSignal), PrefixAward))
	assert.False(t, HasPrefix("awd_zzzzzzzzzzzzzzzzzzzzzzzz", PrefixAward))
}

func TestRequestID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := RequestID()
		assert.Len(t, id, 32)
		assert.False(t, seen[id])
		seen[id] = true
	}
}
