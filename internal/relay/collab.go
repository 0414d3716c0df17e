package relay

import (
	"context"

	"relaygram/internal/config"
	"relaygram/internal/content"
	"relaygram/internal/storage"
)

// Origin fetches source posts by id range.
type Origin interface {
	// FetchRange returns the posts of source with minID <= id <= maxID, oldest first.
	FetchRange(ctx context.Context, source string, minID, maxID int64) ([]content.RawItem, error)
}

// Transformer decides whether a post is relayed and rewrites it.
type Transformer interface {
	Evaluate(settings config.ChannelSettings, it content.RawItem) (content.RawItem, bool)
}

// Sink delivers one item to a profile's destination.
type Sink interface {
	Deliver(ctx context.Context, profile config.Profile, it Item) error
}

// QueueStore persists queue rows.
type QueueStore interface {
	LoadQueues(ctx context.Context) ([]storage.QueueRow, error)
	CreateQueue(ctx context.Context, row storage.QueueRow) (int64, error)
	UpdateQueue(ctx context.Context, row storage.QueueRow) error
	DeleteQueue(ctx context.Context, id int64) error
}
