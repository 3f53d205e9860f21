// Package app contains application services and port definitions for the blockchain context.
package app

import (
	"context"

	"github.com/fd1az/pool-pricer/business/blockchain/domain"
)

// BlockWatcher reports new chain heads.
type BlockWatcher interface {
	// Watch starts polling and returns a channel of strictly increasing
	// blocks. The channel is closed when ctx ends or the watcher is closed.
	Watch(ctx context.Context) (<-chan *domain.Block, error)

	// LatestBlock retrieves the current head.
	LatestBlock(ctx context.Context) (*domain.Block, error)

	// Status returns the watcher state.
	Status() domain.WatcherStatus
}
