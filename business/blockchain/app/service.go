package app

import (
	"context"

	"github.com/fd1az/pool-pricer/business/blockchain/domain"
)

// BlockchainService exposes chain head signals to other modules.
type BlockchainService struct {
	watcher BlockWatcher
}

// NewBlockchainService creates a new BlockchainService.
func NewBlockchainService(watcher BlockWatcher) *BlockchainService {
	return &BlockchainService{watcher: watcher}
}

// NewBlocks starts the watcher and returns the number of every new head.
// Sends never block; a slow reader sees only the latest pending head.
func (s *BlockchainService) NewBlocks(ctx context.Context) (<-chan uint64, error) {
	blocks, err := s.watcher.Watch(ctx)
	if err != nil {
		return nil, err
	}

	out := make(chan uint64, 1)
	go func() {
		defer close(out)
		for b := range blocks {
			select {
			case out <- b.Number:
			default:
				// replace the pending head with the newer one
				select {
				case <-out:
				default:
				}
				select {
				case out <- b.Number:
				default:
				}
			}
		}
	}()
	return out, nil
}

// LatestBlock returns the current head.
func (s *BlockchainService) LatestBlock(ctx context.Context) (*domain.Block, error) {
	return s.watcher.LatestBlock(ctx)
}

// Status returns the watcher state.
func (s *BlockchainService) Status() domain.WatcherStatus {
	return s.watcher.Status()
}
