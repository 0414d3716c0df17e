package storage

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.etcd.io/bbolt"

	"relaygram/internal/content"
	logx "relaygram/pkg/logx"
)

// boltStore keeps queues and journal items in two buckets of one bbolt file.
//
// Queue keys are 8-byte big-endian qids from the bucket sequence.
// Item keys are "<source>\x00<8-byte big-endian id>" so a cursor walks one
// source's items in id order.
type boltStore struct {
	db     *bbolt.DB
	log    logx.Logger
	queues []byte
	items  []byte
}

type boltQueue struct {
	Profile string `json:"config_name"`
	Source  string `json:"channel_id"`
	Data    string `json:"data"`
}

type boltItem struct {
	At   int64           `json:"at"`
	Item content.RawItem `json:"item"`
}

func openBolt(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, backoff.Permanent(errors.New("bolt path is required"))
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, backoff.Permanent(err)
	}
	timeout := cfg.BusyTimeout
	if timeout <= 0 {
		timeout = time.Second
	}
	// Another process holding the file lock surfaces as a timeout and is retried by Open.
	db, err := bbolt.Open(cfg.Path, 0o640, &bbolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("bolt: open %s: %w", cfg.Path, err)
	}

	sfx := tableSuffix(cfg.Env)
	st := &boltStore{
		db:     db,
		log:    log.With(logx.String("comp", "storage"), logx.String("driver", "bolt")),
		queues: []byte("queues_" + sfx),
		items:  []byte("items_" + sfx),
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(st.queues); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(st.items)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bolt: init buckets: %w", err)
	}
	return st, nil
}

func (s *boltStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func qidKey(id int64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(id))
	return k
}

func itemPrefix(source string) []byte {
	return append([]byte(source), 0)
}

func itemKey(source string, id int64) []byte {
	p := itemPrefix(source)
	k := make([]byte, len(p)+8)
	copy(k, p)
	binary.BigEndian.PutUint64(k[len(p):], uint64(id))
	return k
}

func (s *boltStore) LoadQueues(_ context.Context) ([]QueueRow, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	var out []QueueRow
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(s.queues).ForEach(func(k, v []byte) error {
			if len(k) != 8 {
				return nil
			}
			var bq boltQueue
			r := QueueRow{ID: int64(binary.BigEndian.Uint64(k))}
			if err := json.Unmarshal(v, &bq); err != nil {
				s.log.Warn("skipping unreadable queue row", logx.Int64("qid", r.ID), logx.Err(err))
				return nil
			}
			r.Profile, r.Source = bq.Profile, bq.Source
			if err := decodeRowData(&r, bq.Data); err != nil {
				s.log.Warn("skipping unreadable queue row", logx.Int64("qid", r.ID), logx.Err(err))
				return nil
			}
			out = append(out, r)
			return nil
		})
	})
	return out, err
}

func (s *boltStore) putQueue(b *bbolt.Bucket, row QueueRow) error {
	data, err := encodeRowData(row)
	if err != nil {
		return err
	}
	v, err := json.Marshal(boltQueue{Profile: row.Profile, Source: row.Source, Data: data})
	if err != nil {
		return err
	}
	return b.Put(qidKey(row.ID), v)
}

func (s *boltStore) CreateQueue(_ context.Context, row QueueRow) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrClosed
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(s.queues)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		row.ID = int64(seq)
		return s.putQueue(b, row)
	})
	if err != nil {
		return 0, err
	}
	return row.ID, nil
}

func (s *boltStore) UpdateQueue(_ context.Context, row QueueRow) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(s.queues)
		if b.Get(qidKey(row.ID)) == nil {
			return ErrNotFound
		}
		return s.putQueue(b, row)
	})
}

func (s *boltStore) DeleteQueue(_ context.Context, id int64) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(s.queues).Delete(qidKey(id))
	})
}

func (s *boltStore) PutItem(_ context.Context, it content.RawItem, at time.Time) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	if it.ID <= 0 {
		return fmt.Errorf("bolt: invalid item id %d", it.ID)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(s.items)
		key := itemKey(it.Source, it.ID)
		rec := boltItem{At: at.UnixMilli(), Item: it}
		// Edits replace the payload but keep the original journal time.
		if old := b.Get(key); old != nil {
			var prev boltItem
			if json.Unmarshal(old, &prev) == nil && prev.At != 0 {
				rec.At = prev.At
			}
		}
		v, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put(key, v)
	})
}

func (s *boltStore) ItemsBetween(_ context.Context, source string, after, before int64) ([]content.RawItem, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	if after < 0 {
		after = 0
	}
	if before <= after+1 {
		return nil, nil
	}
	prefix := itemPrefix(source)
	var out []content.RawItem
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(s.items).Cursor()
		for k, v := c.Seek(itemKey(source, after+1)); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			if len(k) != len(prefix)+8 {
				continue
			}
			id := int64(binary.BigEndian.Uint64(k[len(prefix):]))
			if id >= before {
				break
			}
			var rec boltItem
			if err := json.Unmarshal(v, &rec); err != nil {
				s.log.Warn("skipping unreadable journal item", logx.String("source", source), logx.Err(err))
				continue
			}
			out = append(out, rec.Item)
		}
		return nil
	})
	return out, err
}

func (s *boltStore) PruneItems(_ context.Context, cutoff time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrClosed
	}
	limit := cutoff.UnixMilli()
	var n int64
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(s.items)
		var stale [][]byte
		if err := b.ForEach(func(k, v []byte) error {
			var rec boltItem
			if err := json.Unmarshal(v, &rec); err != nil || rec.At < limit {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	return n, err
}
