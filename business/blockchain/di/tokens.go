// Package di contains dependency injection tokens for the blockchain context.
package di

import (
	"github.com/fd1az/pool-pricer/business/blockchain/app"
	"github.com/fd1az/pool-pricer/internal/di"
)

// Public service tokens - exposed to other modules
var (
	BlockchainService = di.NewToken[*app.BlockchainService]("blockchain.BlockchainService")
)

// Private dependency tokens - internal to blockchain module
var (
	BlockWatcher = di.NewToken[app.BlockWatcher]("blockchain:blockWatcher")
)

// Helper functions for type-safe access
func GetBlockchainService(c di.ServiceRegistry) *app.BlockchainService {
	return di.GetToken(c, BlockchainService)
}

func GetBlockWatcher(c di.ServiceRegistry) app.BlockWatcher {
	return di.GetToken(c, BlockWatcher)
}
