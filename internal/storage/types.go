package storage

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"time"

	"relaygram/internal/content"
)

var (
	ErrNotFound = errors.New("storage: not found")
	ErrClosed   = errors.New("storage: closed")
)

// Config configures storage.
type Config struct {
	Driver string
	Path   string
	DSN    string
	// Env suffixes table/bucket names ("queues_<env>", "items_<env>").
	Env         string
	BusyTimeout time.Duration
	// OpenTimeout bounds the connect retry window; 0 means a single attempt.
	OpenTimeout time.Duration
}

// QueueRow is the persisted form of one queue: range metadata only.
type QueueRow struct {
	ID      int64
	Profile string
	Source  string
	MinID   int64
	MaxID   int64
	Open    bool
}

// rowData is the JSON payload stored in the data column.
type rowData struct {
	ChannelID string `json:"channel_id"`
	MinID     int64  `json:"min_id"`
	MaxID     int64  `json:"max_id"`
	Open      bool   `json:"open"`
}

func encodeRowData(r QueueRow) (string, error) {
	b, err := json.Marshal(rowData{ChannelID: r.Source, MinID: r.MinID, MaxID: r.MaxID, Open: r.Open})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeRowData(r *QueueRow, data string) error {
	var d rowData
	if strings.TrimSpace(data) != "" {
		if err := json.Unmarshal([]byte(data), &d); err != nil {
			return err
		}
	}
	r.MinID, r.MaxID, r.Open = d.MinID, d.MaxID, d.Open
	return nil
}

// Store is the persistence API used by the relay engine, the origin and the transport.
type Store interface {
	LoadQueues(ctx context.Context) ([]QueueRow, error)
	CreateQueue(ctx context.Context, row QueueRow) (int64, error)
	UpdateQueue(ctx context.Context, row QueueRow) error
	DeleteQueue(ctx context.Context, id int64) error

	// PutItem inserts or replaces a journaled post keyed by (source, id).
	PutItem(ctx context.Context, it content.RawItem, at time.Time) error
	// ItemsBetween returns journaled posts with after < id < before, oldest first.
	ItemsBetween(ctx context.Context, source string, after, before int64) ([]content.RawItem, error)
	// PruneItems drops journal entries written before cutoff.
	PruneItems(ctx context.Context, cutoff time.Time) (int64, error)

	Close() error
}

var reEnvUnsafe = regexp.MustCompile(`[^a-z0-9_]+`)

// tableSuffix turns an env name into an identifier-safe suffix.
func tableSuffix(env string) string {
	s := reEnvUnsafe.ReplaceAllString(strings.ToLower(strings.TrimSpace(env)), "_")
	s = strings.Trim(s, "_")
	if s == "" {
		return "default"
	}
	return s
}
