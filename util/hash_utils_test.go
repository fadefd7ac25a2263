package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashCode(t *testing.T) {
	h1 := HashCode([]byte("hello"))
	h2 := HashCode([]byte("hello"))
	h3 := HashCode([]byte("world"))
	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
}

func TestHashCodeEmpty(t *testing.T) {
	assert.Equal(t, HashCode([]byte{}), HashCode(nil))
}
