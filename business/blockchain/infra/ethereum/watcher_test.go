package ethereum

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fd1az/pool-pricer/business/blockchain/domain"
	"github.com/fd1az/pool-pricer/internal/apperror"
	"github.com/fd1az/pool-pricer/internal/logger"
)

// scriptedHeads returns heads from a fixed script, repeating the last entry.
type scriptedHeads struct {
	mu     sync.Mutex
	script []int64 // negative entries fail
	i      int
}

func (s *scriptedHeads) HeaderByNumber(_ context.Context, number *big.Int) (*types.Header, error) {
	if number != nil {
		return nil, errors.New("only latest is supported")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.script[s.i]
	if s.i < len(s.script)-1 {
		s.i++
	}
	if n < 0 {
		return nil, errors.New("connection refused")
	}
	return &types.Header{Number: big.NewInt(n), Time: uint64(time.Now().Unix())}, nil
}

func newTestWatcher(t *testing.T, heads HeaderReader) *Watcher {
	t.Helper()
	w, err := NewWatcher(heads, WatcherConfig{PollInterval: 5 * time.Millisecond}, logger.NewDiscard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func collect(t *testing.T, ch <-chan *domain.Block, n int) []uint64 {
	t.Helper()
	var got []uint64
	timeout := time.After(2 * time.Second)
	for len(got) < n {
		select {
		case b, ok := <-ch:
			require.True(t, ok, "channel closed early")
			got = append(got, b.Number)
		case <-timeout:
			t.Fatalf("timed out after %v", got)
		}
	}
	return got
}

func TestWatcher_EmitsEachNewHeadOnce(t *testing.T) {
	heads := &scriptedHeads{script: []int64{100, 100, 101, 101, 101, 103, 102, 104}}
	w := newTestWatcher(t, heads)

	ch, err := w.Watch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []uint64{100, 101, 103, 104}, collect(t, ch, 4))

	st := w.Status()
	assert.Equal(t, domain.StateConnected, st.State)
	assert.Equal(t, uint64(104), st.LastBlock)
	assert.False(t, st.LastUpdate.IsZero())
}

func TestWatcher_RecoversAfterPollErrors(t *testing.T) {
	heads := &scriptedHeads{script: []int64{-1, -1, 7, 8}}
	w := newTestWatcher(t, heads)

	ch, err := w.Watch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []uint64{7, 8}, collect(t, ch, 2))
}

func TestWatcher_StopsOnContextCancel(t *testing.T) {
	heads := &scriptedHeads{script: []int64{1}}
	w := newTestWatcher(t, heads)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := w.Watch(ctx)
	require.NoError(t, err)

	collect(t, ch, 1)
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestWatcher_WatchOnce(t *testing.T) {
	w := newTestWatcher(t, &scriptedHeads{script: []int64{1}})

	_, err := w.Watch(context.Background())
	require.NoError(t, err)
	_, err = w.Watch(context.Background())
	require.Error(t, err)

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
}

func TestWatcher_LatestBlock(t *testing.T) {
	w := newTestWatcher(t, &scriptedHeads{script: []int64{42}})

	b, err := w.LatestBlock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(42), b.Number)

	failing := newTestWatcher(t, &scriptedHeads{script: []int64{-1}})
	_, err = failing.LatestBlock(context.Background())
	assert.True(t, apperror.IsCode(err, apperror.CodeEthereumRPCError))
}

func TestNewWatcher_RequiresClient(t *testing.T) {
	_, err := NewWatcher(nil, DefaultWatcherConfig(), logger.NewDiscard())
	assert.True(t, apperror.IsCode(err, apperror.CodeConfigurationError))
}
