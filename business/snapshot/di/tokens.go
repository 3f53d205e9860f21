// Package di contains dependency injection tokens for the snapshot context.
package di

import (
	"github.com/fd1az/pool-pricer/business/snapshot/app"
	"github.com/fd1az/pool-pricer/internal/di"
)

// Public service tokens - exposed to other modules
var (
	Coordinator = di.NewToken[*app.Coordinator]("snapshot.Coordinator")
)

// Private dependency tokens - internal to snapshot module
var (
	SnapshotStore = di.NewToken[app.SnapshotStore]("snapshot:store")
	HistoryStore  = di.NewToken[app.HistoryStore]("snapshot:history")
	Publishers    = di.NewToken[[]app.Publisher]("snapshot:publishers")
)

// Helper functions for type-safe access
func GetCoordinator(c di.ServiceRegistry) *app.Coordinator {
	return di.GetToken(c, Coordinator)
}

func GetSnapshotStore(c di.ServiceRegistry) app.SnapshotStore {
	return di.GetToken(c, SnapshotStore)
}

func GetHistoryStore(c di.ServiceRegistry) app.HistoryStore {
	return di.GetToken(c, HistoryStore)
}

func GetPublishers(c di.ServiceRegistry) []app.Publisher {
	return di.GetToken(c, Publishers)
}
