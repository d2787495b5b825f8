package virtualout

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnionIntsDeduplicates(t *testing.T) {
	set := unionInts([]int{1, 2, 3}, []int{2, 3, 4}, []int{5})
	assert.Len(t, set, 5)
	for _, v := range []int{1, 2, 3, 4, 5} {
		_, ok := set[v]
		assert.True(t, ok, "expected %d in union", v)
	}
}

func TestUnionIntsEmpty(t *testing.T) {
	set := unionInts()
	assert.Empty(t, set)
}

func TestCapKeyCodesUnderLimit(t *testing.T) {
	codes := []int{1, 2, 3}
	assert.Equal(t, codes, capKeyCodes(codes, 10))
}

func TestCapKeyCodesOverLimit(t *testing.T) {
	codes := []int{1, 2, 3, 4, 5}
	capped := capKeyCodes(codes, 3)
	assert.Equal(t, []int{1, 2, 3}, capped)
	assert.Len(t, capped, 3)
}
