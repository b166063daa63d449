package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFixedIDGenerator_Sequence(t *testing.T) {
	gen := NewFixedIDGenerator("worker")

	assert.Equal(t, "worker-1", gen.Generate())
	assert.Equal(t, "worker-2", gen.Generate())
	assert.Equal(t, "worker-3", gen.Generate())
}

func TestFixedIDGenerator_EmptyPrefixDefault(t *testing.T) {
	gen := NewFixedIDGenerator("")

	assert.Equal(t, "test-worker-1", gen.Generate())
}

func TestFixedIDGenerator_IndependentInstances(t *testing.T) {
	a := NewFixedIDGenerator("a")
	b := NewFixedIDGenerator("b")

	a.Generate()
	assert.Equal(t, "b-1", b.Generate())
	assert.Equal(t, "a-2", a.Generate())
}
