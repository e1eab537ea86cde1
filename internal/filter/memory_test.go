package filter_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/koopa0/system-design/short-link/internal/filter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_NoFalseNegatives(t *testing.T) {
	ctx := context.Background()
	f := filter.NewMemory(10000, 0.001)

	for i := 0; i < 10000; i++ {
		require.NoError(t, f.Add(ctx, fmt.Sprintf("nurl.ink/code%d", i)))
	}
	for i := 0; i < 10000; i++ {
		ok, err := f.MightContain(ctx, fmt.Sprintf("nurl.ink/code%d", i))
		require.NoError(t, err)
		require.True(t, ok, "added item %d must be reported present", i)
	}
}

func TestMemory_FalsePositiveRate(t *testing.T) {
	ctx := context.Background()
	f := filter.NewMemory(10000, 0.01)

	for i := 0; i < 10000; i++ {
		require.NoError(t, f.Add(ctx, fmt.Sprintf("present-%d", i)))
	}

	falsePositives := 0
	const probes = 20000
	for i := 0; i < probes; i++ {
		ok, err := f.MightContain(ctx, fmt.Sprintf("absent-%d", i))
		require.NoError(t, err)
		if ok {
			falsePositives++
		}
	}

	// 設定 1%，容許 3 倍誤差
	assert.Less(t, float64(falsePositives)/probes, 0.03)
}

func TestMemory_EmptyFilter(t *testing.T) {
	f := filter.NewMemory(0, 0)
	ok, err := f.MightContain(context.Background(), "anything")
	require.NoError(t, err)
	assert.False(t, ok)
}
