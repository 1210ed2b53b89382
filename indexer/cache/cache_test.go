package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMarkerKeySchemas(t *testing.T) {
	assert.Equal(t, "pool_processed:8453:0xabc", poolMarkerKey(8453, "0xabc"))
	assert.Equal(t, "swap_processed:0xbeef:7", swapMarkerKey("0xbeef", 7))
	assert.Equal(t, "token_processing:8453:0xdef", tokenInFlightKey(8453, "0xdef"))
}

func TestLockKeySchemas(t *testing.T) {
	assert.Equal(t, "pool_indexer:8453", PoolIndexerLockKey(8453))
	assert.Equal(t, "swap_indexer:1:0xpool", SwapIndexerLockKey(1, "0xpool"))
}

func TestNew_RejectsBadURL(t *testing.T) {
	_, err := New(context.Background(), "not-a-redis-url")
	assert.Error(t, err)
}
