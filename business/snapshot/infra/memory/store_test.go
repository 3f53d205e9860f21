package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pricing "github.com/fd1az/pool-pricer/business/pricing/domain"
)

func TestStore(t *testing.T) {
	ctx := context.Background()
	s := NewStore(0)
	defer s.Close()

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	snap := &pricing.Snapshot{Version: 3}
	require.NoError(t, s.Save(ctx, snap))

	got, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Same(t, snap, got)
}

func TestStore_Expiry(t *testing.T) {
	ctx := context.Background()
	s := NewStore(10 * time.Millisecond)
	defer s.Close()

	require.NoError(t, s.Save(ctx, &pricing.Snapshot{Version: 1}))
	require.Eventually(t, func() bool {
		got, _ := s.Load(ctx)
		return got == nil
	}, time.Second, 5*time.Millisecond)
}
