package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	logx "relaygram/pkg/logx"
)

// Open initializes the configured store, retrying transient connect errors
// with exponential backoff for up to cfg.OpenTimeout.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	var open func(context.Context) (Store, error)
	switch driver {
	case "", "sqlite", "sqlite3":
		open = func(c context.Context) (Store, error) { return openSQLite(c, cfg, log) }
	case "mysql", "mariadb":
		open = func(c context.Context) (Store, error) { return openMySQL(c, cfg, log) }
	case "bolt", "bbolt":
		open = func(c context.Context) (Store, error) { return openBolt(cfg, log) }
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", driver)
	}

	if cfg.OpenTimeout <= 0 {
		return open(ctx)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = cfg.OpenTimeout

	var st Store
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		s, err := open(ctx)
		if err != nil {
			var perm *backoff.PermanentError
			if errors.As(err, &perm) {
				return err
			}
			log.Warn("storage open failed; retrying", logx.String("driver", driver), logx.Int("attempt", attempt), logx.Err(err))
			return err
		}
		st = s
		return nil
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		return nil, err
	}
	return st, nil
}
