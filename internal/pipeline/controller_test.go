package pipeline

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newsrelay/internal/dedup"
	"newsrelay/internal/eventbus"
	"newsrelay/internal/feed"
	"newsrelay/internal/notifier"
	"newsrelay/internal/storage"
	"newsrelay/internal/translate"
	logx "newsrelay/pkg/logx"
)

// scriptedSource returns one scripted result per Fetch call; the last one repeats.
type scriptedSource struct {
	results [][]feed.Item
	errs    []error
	calls   int
}

func (s *scriptedSource) Fetch(context.Context) ([]feed.Item, error) {
	i := min(s.calls, len(s.results)-1)
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	return s.results[i], nil
}

type recordingNotifier struct {
	delivered   []notifier.Message
	fail        map[string]error // by link
	announceErr error
	announced   int
}

func (n *recordingNotifier) Deliver(_ context.Context, m notifier.Message) error {
	if err := n.fail[m.Link]; err != nil {
		return &notifier.DeliveryError{Link: m.Link, Err: err}
	}
	n.delivered = append(n.delivered, m)
	return nil
}

func (n *recordingNotifier) Announce(context.Context) error {
	n.announced++
	return n.announceErr
}

func (n *recordingNotifier) links() []string {
	out := make([]string, 0, len(n.delivered))
	for _, m := range n.delivered {
		out = append(out, m.Link)
	}
	return out
}

// newestFirst builds a feed window the way feeds list it: newest entry first.
func newestFirst(links ...string) []feed.Item {
	items := make([]feed.Item, 0, len(links))
	for i := len(links) - 1; i >= 0; i-- {
		items = append(items, feed.Item{Title: "title " + links[i], Link: links[i]})
	}
	return items
}

func newPolicy(t *testing.T, mode storage.Mode) dedup.Policy {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "memory", Mode: mode}, logx.Nop())
	require.NoError(t, err)
	p, err := dedup.New(context.Background(), st)
	require.NoError(t, err)
	return p
}

func newController(src feed.Source, n Notifier, cfg Config, opts ...Option) *Controller {
	return New(cfg, src, nil, n, logx.Nop(), opts...)
}

func TestBootstrapDeliversOnlyOldestNewItem(t *testing.T) {
	src := &scriptedSource{results: [][]feed.Item{newestFirst("http://x/1", "http://x/2", "http://x/3", "http://x/4", "http://x/5")}}
	n := &recordingNotifier{}
	st := NewState(newPolicy(t, storage.ModeSet))

	rep := newController(src, n, Config{}).RunCycle(context.Background(), st)

	assert.Equal(t, []string{"http://x/1"}, n.links())
	assert.False(t, st.Bootstrap)
	assert.True(t, rep.Bootstrap)
	assert.True(t, rep.StoppedEarly)
	assert.Equal(t, 1, rep.Delivered)
	assert.Equal(t, 1, st.Cycles)
}

func TestBootstrapFlagClearsWithNothingNew(t *testing.T) {
	src := &scriptedSource{results: [][]feed.Item{{}}}
	st := NewState(newPolicy(t, storage.ModeSet))

	rep := newController(src, &recordingNotifier{}, Config{}).RunCycle(context.Background(), st)
	assert.NoError(t, rep.Err)
	assert.False(t, st.Bootstrap)
}

func TestSubsequentCycleDeliversAllOldestFirst(t *testing.T) {
	src := &scriptedSource{results: [][]feed.Item{
		newestFirst("http://x/0"),
		newestFirst("http://x/0", "http://x/1", "http://x/2", "http://x/3"),
	}}
	n := &recordingNotifier{}
	st := NewState(newPolicy(t, storage.ModeSet))
	c := newController(src, n, Config{})

	c.RunCycle(context.Background(), st)
	rep := c.RunCycle(context.Background(), st)

	assert.Equal(t, []string{"http://x/0", "http://x/1", "http://x/2", "http://x/3"}, n.links())
	assert.Equal(t, 3, rep.Delivered)
	assert.Equal(t, 1, rep.Old)
	assert.False(t, rep.StoppedEarly)
}

func TestScenarioBootstrapThenOverlap(t *testing.T) {
	for _, mode := range []storage.Mode{storage.ModeSet, storage.ModePointer} {
		t.Run(string(mode), func(t *testing.T) {
			src := &scriptedSource{results: [][]feed.Item{
				newestFirst("http://x/A", "http://x/B"),
				newestFirst("http://x/B", "http://x/C"),
			}}
			n := &recordingNotifier{}
			st := NewState(newPolicy(t, mode))
			c := newController(src, n, Config{})

			c.RunCycle(context.Background(), st)
			assert.Equal(t, []string{"http://x/A"}, n.links())
			assert.False(t, st.Policy.IsNew("http://x/A"))

			c.RunCycle(context.Background(), st)
			assert.Equal(t, []string{"http://x/A", "http://x/B", "http://x/C"}, n.links())
		})
	}
}

func TestDeliveryFailureContinuesAndLeavesItemUnmarked(t *testing.T) {
	src := &scriptedSource{results: [][]feed.Item{newestFirst("http://x/a", "http://x/b", "http://x/c")}}
	n := &recordingNotifier{fail: map[string]error{"http://x/b": errors.New("bad request")}}
	st := NewState(newPolicy(t, storage.ModeSet))
	st.Bootstrap = false

	rep := newController(src, n, Config{}).RunCycle(context.Background(), st)

	assert.Equal(t, []string{"http://x/a", "http://x/c"}, n.links())
	assert.Equal(t, 1, rep.Failed)
	assert.Equal(t, 2, rep.Delivered)
	assert.True(t, st.Policy.IsNew("http://x/b"))

	// Retried next cycle once the channel recovers.
	delete(n.fail, "http://x/b")
	newController(src, n, Config{}).RunCycle(context.Background(), st)
	assert.Equal(t, []string{"http://x/a", "http://x/c", "http://x/b"}, n.links())
}

func TestBootstrapSkipsFailedItemsUntilOneSucceeds(t *testing.T) {
	src := &scriptedSource{results: [][]feed.Item{newestFirst("http://x/a", "http://x/b", "http://x/c")}}
	n := &recordingNotifier{fail: map[string]error{"http://x/a": errors.New("timeout")}}
	st := NewState(newPolicy(t, storage.ModeSet))

	rep := newController(src, n, Config{}).RunCycle(context.Background(), st)

	assert.Equal(t, []string{"http://x/b"}, n.links())
	assert.Equal(t, 1, rep.Failed)
	assert.True(t, rep.StoppedEarly)
}

type brokenStore struct {
	storage.Store
}

func (brokenStore) Record(context.Context, string) error { return errors.New("disk full") }

func TestStateWriteFailureDoesNotRedeliver(t *testing.T) {
	for _, mode := range []storage.Mode{storage.ModeSet, storage.ModePointer} {
		t.Run(string(mode), func(t *testing.T) {
			mem, err := storage.Open(storage.Config{Driver: "memory", Mode: mode}, logx.Nop())
			require.NoError(t, err)
			policy, err := dedup.New(context.Background(), brokenStore{Store: mem})
			require.NoError(t, err)

			src := &scriptedSource{results: [][]feed.Item{newestFirst("http://x/a")}}
			n := &recordingNotifier{}
			st := NewState(policy)
			c := newController(src, n, Config{})

			first := c.RunCycle(context.Background(), st)
			assert.Equal(t, 1, first.Delivered)
			assert.Equal(t, 1, first.Unpersisted)
			for i := 0; i < 2; i++ {
				rep := c.RunCycle(context.Background(), st)
				assert.Equal(t, 1, rep.Old)
				assert.Zero(t, rep.Delivered)
			}
			assert.Equal(t, []string{"http://x/a"}, n.links())
		})
	}
}

func TestFetchFailureMutatesNothing(t *testing.T) {
	src := &scriptedSource{
		results: [][]feed.Item{nil},
		errs:    []error{&feed.FetchError{URL: "http://feed", Err: errors.New("dial tcp: refused")}},
	}
	n := &recordingNotifier{}
	st := NewState(newPolicy(t, storage.ModeSet))

	rep := newController(src, n, Config{}).RunCycle(context.Background(), st)

	var fe *feed.FetchError
	require.ErrorAs(t, rep.Err, &fe)
	assert.True(t, st.Bootstrap)
	assert.Zero(t, st.Cycles)
	assert.Zero(t, st.Policy.Len())
	assert.Empty(t, n.delivered)
}

func TestItemsWithoutIdentityAreDiscarded(t *testing.T) {
	src := &scriptedSource{results: [][]feed.Item{{
		{Title: "no link"},
		{Title: "query only", Link: "?id=1"},
		{Title: "dup", Link: "http://x/a?utm=2"},
		{Title: "ok", Link: "http://x/a/"},
	}}}
	n := &recordingNotifier{}
	st := NewState(newPolicy(t, storage.ModeSet))
	st.Bootstrap = false

	rep := newController(src, n, Config{}).RunCycle(context.Background(), st)

	assert.Equal(t, 2, rep.Discarded)
	assert.Equal(t, 1, rep.Delivered)
	assert.Equal(t, 1, rep.Old)
	assert.Equal(t, "http://x/a/", n.delivered[0].Link)
}

func TestTranslationTimeoutDeliversOriginalTitle(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	tr, err := translate.NewLibre(translate.LibreConfig{Endpoint: srv.URL, Source: "en", Target: "ru", Timeout: 50 * time.Millisecond}, logx.Nop())
	require.NoError(t, err)

	src := &scriptedSource{results: [][]feed.Item{{{Title: "Dollar slips", Link: "http://x/usd"}}}}
	n := &recordingNotifier{}
	st := NewState(newPolicy(t, storage.ModeSet))
	c := New(Config{Translate: true}, src, tr, n, logx.Nop())

	c.RunCycle(context.Background(), st)

	require.Len(t, n.delivered, 1)
	assert.Equal(t, "Dollar slips", n.delivered[0].Title)
	assert.True(t, n.delivered[0].Translated)
	assert.False(t, st.Policy.IsNew("http://x/usd"))
}

type upperTranslator struct{}

func (upperTranslator) Translate(_ context.Context, text string) string { return "RU:" + text }

func TestTranslatedTitleKeepsOriginalLink(t *testing.T) {
	src := &scriptedSource{results: [][]feed.Item{{{Title: "Gold", Link: "http://x/gold?ref=rss"}}}}
	n := &recordingNotifier{}
	st := NewState(newPolicy(t, storage.ModeSet))

	New(Config{Translate: true}, src, upperTranslator{}, n, logx.Nop()).RunCycle(context.Background(), st)

	require.Len(t, n.delivered, 1)
	assert.Equal(t, notifier.Message{Title: "RU:Gold", Link: "http://x/gold?ref=rss", Translated: true}, n.delivered[0])
	assert.False(t, st.Policy.IsNew("http://x/gold"))
}

func TestSetPolicyNeverRedelivers(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	n := &recordingNotifier{}
	st := NewState(newPolicy(t, storage.ModeSet))

	windows := make([][]feed.Item, 0, 50)
	for i := 0; i < 50; i++ {
		var links []string
		for j := 0; j < 6; j++ {
			links = append(links, "http://x/"+strconv.Itoa(rng.Intn(20))+"?v="+strconv.Itoa(rng.Intn(3)))
		}
		windows = append(windows, newestFirst(links...))
	}
	src := &scriptedSource{results: windows}
	c := newController(src, n, Config{})
	for range windows {
		c.RunCycle(context.Background(), st)
	}

	seen := map[string]int{}
	for _, m := range n.delivered {
		seen[dedup.Normalize(m.Link)]++
	}
	for id, cnt := range seen {
		assert.Equal(t, 1, cnt, id)
	}
}

func TestPointerPolicyAppendOnlyFeedInOrder(t *testing.T) {
	var windows [][]feed.Item
	var all []string
	for i := 0; i < 12; i++ {
		all = append(all, "http://x/"+strconv.Itoa(i))
		lo := max(0, len(all)-4)
		windows = append(windows, newestFirst(all[lo:]...))
	}
	src := &scriptedSource{results: windows}
	n := &recordingNotifier{}
	st := NewState(newPolicy(t, storage.ModePointer))
	st.Bootstrap = false
	c := newController(src, n, Config{})
	for range windows {
		c.RunCycle(context.Background(), st)
	}
	assert.Equal(t, all, n.links())
}

func TestRunAnnouncesOnceAndSurvivesAnnouncementFailure(t *testing.T) {
	src := &scriptedSource{results: [][]feed.Item{
		newestFirst("http://x/a", "http://x/b"),
		newestFirst("http://x/a", "http://x/b", "http://x/c"),
	}}
	n := &recordingNotifier{announceErr: errors.New("forbidden")}
	st := NewState(newPolicy(t, storage.ModeSet))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var sleeps []time.Duration
	var reports []Report
	sched, err := ParseSchedule("60s")
	require.NoError(t, err)
	c := newController(src, n, Config{Announce: true, Schedule: sched},
		WithClock(func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }),
		WithSleep(func(ctx context.Context, d time.Duration) error {
			sleeps = append(sleeps, d)
			if len(sleeps) == 2 {
				cancel()
				return ctx.Err()
			}
			return nil
		}),
		WithCycleHook(func(r Report) { reports = append(reports, r) }),
	)

	err = c.Run(ctx, st)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, n.announced)
	assert.True(t, st.Announced)
	assert.Equal(t, []string{"http://x/a", "http://x/b", "http://x/c"}, n.links())
	assert.Equal(t, []time.Duration{60 * time.Second, 60 * time.Second}, sleeps)
	require.Len(t, reports, 2)
	assert.True(t, reports[0].Bootstrap)
	assert.False(t, reports[1].Bootstrap)
	assert.Equal(t, PhaseSleeping, st.Phase)

	// A restarted loop keeps its state and does not announce again.
	ctx2, cancel2 := context.WithCancel(context.Background())
	cancel2()
	_ = c.Run(ctx2, st)
	assert.Equal(t, 1, n.announced)
}

func TestRunCyclePublishesReport(t *testing.T) {
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(4)
	defer unsub()

	src := &scriptedSource{results: [][]feed.Item{newestFirst("http://x/a")}}
	st := NewState(newPolicy(t, storage.ModeSet))
	newController(src, &recordingNotifier{}, Config{}, WithEventBus(bus)).RunCycle(context.Background(), st)

	ev := <-ch
	assert.Equal(t, "pipeline.cycle", ev.Type)
	rep := ev.Data.(Report)
	assert.Equal(t, 1, rep.Delivered)
	assert.NotEmpty(t, rep.ID)
}
