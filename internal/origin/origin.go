// Package origin serves source posts to the relay engine from the item
// journal written by the transport.
package origin

import (
	"context"
	"fmt"

	"relaygram/internal/content"
	logx "relaygram/pkg/logx"
)

// Journal reads journaled posts with after < id < before, oldest first.
type Journal interface {
	ItemsBetween(ctx context.Context, source string, after, before int64) ([]content.RawItem, error)
}

type Journaled struct {
	j   Journal
	log logx.Logger
}

func New(j Journal, log logx.Logger) *Journaled {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Journaled{j: j, log: log.With(logx.String("comp", "origin"))}
}

// FetchRange returns the journaled posts of source in [minID, maxID].
// Ids missing from the journal (deleted posts, service messages, posts
// older than the retention) are skipped.
func (o *Journaled) FetchRange(ctx context.Context, source string, minID, maxID int64) ([]content.RawItem, error) {
	if minID <= 0 || maxID < minID {
		return nil, nil
	}
	items, err := o.j.ItemsBetween(ctx, source, minID-1, maxID+1)
	if err != nil {
		return nil, fmt.Errorf("fetch %s [%d..%d]: %w", source, minID, maxID, err)
	}
	if gap := (maxID - minID + 1) - int64(len(items)); gap > 0 {
		o.log.Debug("range has gaps", logx.String("source", source),
			logx.Int64("min_id", minID), logx.Int64("max_id", maxID), logx.Int64("missing", gap))
	}
	return items, nil
}
