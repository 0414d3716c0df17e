package origin

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaygram/internal/content"
	logx "relaygram/pkg/logx"
)

type stubJournal struct {
	after, before int64
	items         []content.RawItem
	err           error
}

func (s *stubJournal) ItemsBetween(_ context.Context, _ string, after, before int64) ([]content.RawItem, error) {
	s.after, s.before = after, before
	return s.items, s.err
}

func TestFetchRangeUsesExclusiveJournalBounds(t *testing.T) {
	j := &stubJournal{items: []content.RawItem{{ID: 10}, {ID: 12}}}
	o := New(j, logx.Nop())

	items, err := o.FetchRange(context.Background(), "1111", 10, 12)
	require.NoError(t, err)
	assert.Len(t, items, 2)
	assert.EqualValues(t, 9, j.after)
	assert.EqualValues(t, 13, j.before)
}

func TestFetchRangeEmptyAndErrors(t *testing.T) {
	j := &stubJournal{err: errors.New("db gone")}
	o := New(j, logx.Nop())

	items, err := o.FetchRange(context.Background(), "1111", 0, 0)
	assert.NoError(t, err)
	assert.Nil(t, items)

	_, err = o.FetchRange(context.Background(), "1111", 1, 2)
	assert.ErrorContains(t, err, "fetch 1111 [1..2]")
}
