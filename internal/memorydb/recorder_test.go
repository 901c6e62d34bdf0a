package memorydb

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJoinSemicolon(t *testing.T) {
	assert.Equal(t, "", joinSemicolon(nil))
	assert.Equal(t, "a", joinSemicolon([]string{"a"}))
	assert.Equal(t, "a; b; c", joinSemicolon([]string{"a", "b", "c"}))
}

func TestTableNames(t *testing.T) {
	assert.Equal(t, "cycle_memories", MemoryRecord{}.TableName())
	assert.Equal(t, "sponsorship_receipts", SponsorshipReceipt{}.TableName())
}
