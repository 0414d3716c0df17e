package telegram

import (
	"context"
	"errors"
	"fmt"
	"time"

	tele "gopkg.in/telebot.v4"

	"relaygram/internal/config"
	"relaygram/internal/content"
	"relaygram/internal/relay"
	logx "relaygram/pkg/logx"
)

// Deliver sends one relay item to the profile's output channel. It waits on
// the shared send limiter and honours a single flood-control retry.
func (a *Adapter) Deliver(ctx context.Context, p config.Profile, it relay.Item) error {
	chatID, err := content.ChatID(p.OutputChannel)
	if err != nil {
		return fmt.Errorf("profile %s: %w", p.Name, err)
	}
	to := tele.ChatID(chatID)

	send := func(what any, opts ...any) error {
		return a.withRetry(ctx, func() error {
			if err := a.limiter.Wait(ctx); err != nil {
				return err
			}
			return call(ctx, func() error {
				_, err := a.bot.Send(to, what, opts...)
				return err
			})
		})
	}

	switch v := it.(type) {
	case relay.TextItem:
		return a.deliverText(v, send)
	case *relay.AlbumItem:
		album := make(tele.Album, 0, len(v.Media))
		for _, m := range v.Media {
			album = append(album, inputMedia(m, ""))
		}
		if len(album) == 0 {
			return nil
		}
		return a.withRetry(ctx, func() error {
			if err := a.limiter.Wait(ctx); err != nil {
				return err
			}
			return call(ctx, func() error {
				_, err := a.bot.SendAlbum(to, album)
				return err
			})
		})
	default:
		return fmt.Errorf("telegram: unsupported item %T", it)
	}
}

func (a *Adapter) deliverText(v relay.TextItem, send func(what any, opts ...any) error) error {
	opts := &tele.SendOptions{Entities: toEntities(v.Entities)}
	if v.Media == nil {
		if v.Text == "" {
			return nil
		}
		return send(v.Text, opts)
	}
	if utf16Len(v.Text) <= maxCaption {
		return send(inputMedia(*v.Media, v.Text), opts)
	}
	// Too long for a caption: the attachment goes first, the text follows.
	if err := send(inputMedia(*v.Media, "")); err != nil {
		return err
	}
	return send(v.Text, opts)
}

// withRetry retries fn once after the wait Telegram asks for on flood control.
func (a *Adapter) withRetry(ctx context.Context, fn func() error) error {
	err := fn()
	wait, ok := retryAfter(err)
	if !ok {
		return err
	}
	a.log.Warn("flood control, retrying", logx.Duration("after", wait))
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
	}
	return fn()
}

func retryAfter(err error) (time.Duration, bool) {
	if err == nil {
		return 0, false
	}
	var fe tele.FloodError
	if errors.As(err, &fe) {
		return time.Duration(fe.RetryAfter) * time.Second, true
	}
	var pfe *tele.FloodError
	if errors.As(err, &pfe) && pfe != nil {
		return time.Duration(pfe.RetryAfter) * time.Second, true
	}
	return 0, false
}
