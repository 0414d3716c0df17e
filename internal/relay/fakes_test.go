package relay

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"relaygram/internal/clock"
	"relaygram/internal/config"
	"relaygram/internal/content"
	"relaygram/internal/eventbus"
	"relaygram/internal/storage"
)

type memStore struct {
	mu      sync.Mutex
	next    int64
	rows    map[int64]storage.QueueRow
	creates int
	updates int
	deletes int
	failAll bool
}

func newMemStore(rows ...storage.QueueRow) *memStore {
	s := &memStore{rows: map[int64]storage.QueueRow{}}
	for _, r := range rows {
		s.rows[r.ID] = r
		if r.ID > s.next {
			s.next = r.ID
		}
	}
	return s
}

func (s *memStore) LoadQueues(context.Context) ([]storage.QueueRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]storage.QueueRow, 0, len(s.rows))
	for _, r := range s.rows {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) CreateQueue(_ context.Context, r storage.QueueRow) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return 0, errors.New("store down")
	}
	s.next++
	r.ID = s.next
	s.rows[r.ID] = r
	s.creates++
	return r.ID, nil
}

func (s *memStore) UpdateQueue(_ context.Context, r storage.QueueRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return errors.New("store down")
	}
	if _, ok := s.rows[r.ID]; !ok {
		return storage.ErrNotFound
	}
	s.rows[r.ID] = r
	s.updates++
	return nil
}

func (s *memStore) DeleteQueue(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, id)
	s.deletes++
	return nil
}

func (s *memStore) row(id int64) (storage.QueueRow, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	return r, ok
}

func (s *memStore) counts() (creates, updates, deletes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creates, s.updates, s.deletes
}

type fakeOrigin struct {
	mu      sync.Mutex
	items   map[string][]content.RawItem
	err     error
	fetches int
}

func (o *fakeOrigin) add(source string, ids ...int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.items == nil {
		o.items = map[string][]content.RawItem{}
	}
	for _, id := range ids {
		o.items[source] = append(o.items[source], content.RawItem{ID: id, Source: source, Text: source + "#" + strconv.FormatInt(id, 10)})
	}
}

func (o *fakeOrigin) FetchRange(_ context.Context, source string, minID, maxID int64) ([]content.RawItem, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fetches++
	if o.err != nil {
		return nil, o.err
	}
	var out []content.RawItem
	for _, it := range o.items[source] {
		if it.ID >= minID && it.ID <= maxID {
			out = append(out, it)
		}
	}
	return out, nil
}

func (o *fakeOrigin) fetchCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.fetches
}

type passTransformer struct{}

func (passTransformer) Evaluate(_ config.ChannelSettings, it content.RawItem) (content.RawItem, bool) {
	return it, true
}

type recSink struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (s *recSink) Deliver(_ context.Context, p config.Profile, it Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch v := it.(type) {
	case TextItem:
		s.sent = append(s.sent, p.Name+":"+v.Text)
	case *AlbumItem:
		s.sent = append(s.sent, p.Name+":album:"+v.GroupedID)
	}
	return s.err
}

func (s *recSink) got() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

type harness struct {
	e      *Engine
	clk    *clock.Fake
	store  *memStore
	origin *fakeOrigin
	sink   *recSink
	bus    eventbus.Bus
}

func testProfile(name string, interval time.Duration, sources ...string) config.Profile {
	p := config.Profile{Name: name, OutputChannel: "-100999", Inputs: map[string]config.ChannelSettings{}}
	for _, s := range sources {
		p.Inputs[s] = config.ChannelSettings{CloseQueueInterval: interval}
	}
	return p
}

func newHarness(t *testing.T, cfg Config, store *memStore) *harness {
	t.Helper()
	if len(cfg.Profiles) == 0 {
		cfg.Profiles = []config.Profile{testProfile("shop", time.Minute, "1111", "2222")}
	}
	if cfg.JitterMin == 0 {
		cfg.JitterMin, cfg.JitterMax = 10*time.Second, 10*time.Second
	}
	if store == nil {
		store = newMemStore()
	}
	h := &harness{
		clk:    clock.NewFake(time.Time{}),
		store:  store,
		origin: &fakeOrigin{},
		sink:   &recSink{},
		bus:    eventbus.New(),
	}
	e, err := New(cfg, Deps{
		Store:       h.store,
		Origin:      h.origin,
		Transformer: passTransformer{},
		Sink:        h.sink,
		Clock:       h.clk,
		Bus:         h.bus,
	})
	require.NoError(t, err)
	h.e = e
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.Stop(ctx)
	})
	return h
}

// settle waits until every posted task and in-flight send has finished.
func (h *harness) settle(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.e.loop.Call(ctx, func() {}))
	h.e.sends.Wait()
	require.NoError(t, h.e.loop.Call(ctx, func() {}))
}

func (h *harness) advance(t *testing.T, d time.Duration) {
	t.Helper()
	h.clk.Advance(d)
	h.settle(t)
}

func (h *harness) queues(t *testing.T) []QueueInfo {
	t.Helper()
	st, err := h.e.Stats(context.Background())
	require.NoError(t, err)
	return st.Queues
}

func (h *harness) sending(t *testing.T, profile string) bool {
	t.Helper()
	var v bool
	require.NoError(t, h.e.loop.Call(context.Background(), func() { v = h.e.st.inProgress(profile) }))
	return v
}
