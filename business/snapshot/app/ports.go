// Package app contains the refresh coordinator and its ports.
package app

import (
	"context"

	pricing "github.com/fd1az/pool-pricer/business/pricing/domain"
	"github.com/fd1az/pool-pricer/business/snapshot/domain"
)

// Pricer computes a fresh snapshot. pricing/app.PricingService implements it.
type Pricer interface {
	Compute(ctx context.Context) (*pricing.Snapshot, error)
}

// SnapshotStore keeps the latest published snapshot.
type SnapshotStore interface {
	Save(ctx context.Context, snap *pricing.Snapshot) error
	// Load returns nil without error when nothing is stored.
	Load(ctx context.Context) (*pricing.Snapshot, error)
}

// HistoryStore appends every published snapshot.
type HistoryStore interface {
	Append(ctx context.Context, points []domain.PricePoint) error
}

// Publisher is notified after each successful refresh.
type Publisher interface {
	Publish(ctx context.Context, snap *pricing.Snapshot) error
}
