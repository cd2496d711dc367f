package feed

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"nightmate-runtime/dom"
	"nightmate-runtime/dom/memdom"
	"nightmate-runtime/gateway"
	"nightmate-runtime/transport"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const twoProfiles = `{"profiles":[
	{"id":"1","name":"Mina","age":29,"bio":"Night owl, vampire lore","favorite_film":"Nosferatu"},
	{"id":"2","name":"Ash","age":33,"bio":"Chainsaw collector","favorite_film":"Evil Dead II"}
]}`

type result struct {
	resp *transport.Response
	err  error
}

func jsonResult(body string) result {
	return result{resp: &transport.Response{
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": {"application/json"}},
		Body:   []byte(body),
	}}
}

func htmlResult() result {
	return result{resp: &transport.Response{
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": {"text/html; charset=utf-8"}},
		Body:   []byte("<!doctype html><html><body>Sign in</body></html>"),
	}}
}

type fakeGateway struct {
	mu        sync.Mutex
	calls     int
	urls      []string
	responses []result
	delay     time.Duration
	gate      chan struct{}
}

func (f *fakeGateway) set(rs ...result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = rs
	f.calls = 0
}

func (f *fakeGateway) Call(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	f.mu.Lock()
	f.calls++
	f.urls = append(f.urls, req.URL)
	r := f.responses[min(f.calls-1, len(f.responses)-1)]
	delay, gate := f.delay, f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	return r.resp, r.err
}

func (f *fakeGateway) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type session struct{ on atomic.Bool }

func (s *session) Authenticated() bool { return s.on.Load() }

type reporter struct {
	mu   sync.Mutex
	errs []error
}

func (r *reporter) Report(_ context.Context, _ string, err error, _ map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *reporter) all() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func feedShell() *memdom.Document {
	doc := memdom.New()
	addFeedPanel(doc)
	return doc
}

func addFeedPanel(doc *memdom.Document) {
	panel := doc.Add(nil, "section", "panel-feed")
	panel.SetAttr("data-panel", Tab)
	doc.Add(panel, "input", SearchID)
	doc.Add(panel, "select", PrefsID)
	doc.Add(panel, "button", RetryID)
	doc.Add(panel, "input", PhotoID)
	doc.Add(panel, "img", PreviewID, "hidden")
	doc.Add(panel, "ul", ListID)
}

type fixture struct {
	mod  *Module
	doc  *memdom.Document
	gw   *fakeGateway
	sess *session
	rep  *reporter
	hook *test.Hook
}

func newFixture(t *testing.T, doc dom.Document, mutate func(*Config)) *fixture {
	t.Helper()
	logger, hook := test.NewNullLogger()
	f := &fixture{
		gw:   &fakeGateway{responses: []result{jsonResult(twoProfiles)}},
		sess: &session{},
		rep:  &reporter{},
		hook: hook,
	}
	f.sess.on.Store(true)
	if doc == nil {
		f.doc = feedShell()
		doc = f.doc
	}
	cfg := Config{
		Gateway:       f.gw,
		Session:       f.sess,
		Doc:           doc,
		Reporter:      f.rep,
		Logger:        logger,
		TriggerDelays: []time.Duration{},
		RetryBase:     time.Millisecond,
		WaitAttempts:  3,
		WaitStep:      time.Millisecond,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	f.mod = New(cfg)
	t.Cleanup(func() { f.mod.Destroy(context.Background()) })
	return f
}

func TestFeed_ThreeTriggersOneInitOneLoad(t *testing.T) {
	f := newFixture(t, nil, func(c *Config) { c.TriggerDelays = []time.Duration{0} })
	f.gw.delay = 120 * time.Millisecond

	f.mod.Start()
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, f.mod.Activate(context.Background()))
	time.Sleep(5 * time.Millisecond)
	go f.mod.AuthReady(context.Background())

	require.Eventually(t, func() bool { return f.mod.Record().Succeeded }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, 1, f.mod.Record().Runs, "initialization body runs once")
	assert.Equal(t, 1, f.gw.count(), "exactly one feed load")
	assert.Equal(t, 2, dom.CountClass(f.doc.ByID(ListID), CardClass))
}

func TestFeed_RetryAfterFailedInitialization(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.gw.set(result{err: transport.ErrNetwork})

	assert.False(t, f.mod.init.Trigger(context.Background(), "timer:0s"))
	assert.Equal(t, 3, f.gw.count(), "one attempt plus two linear retries")
	assert.False(t, f.mod.Record().Attempted)
	assert.False(t, f.mod.Initialized())
	assert.Len(t, f.rep.all(), 1)

	f.gw.set(jsonResult(twoProfiles))
	assert.True(t, f.mod.init.Trigger(context.Background(), "auth-ready"))
	assert.True(t, f.mod.Initialized())
	assert.Len(t, f.mod.Profiles(), 2)
}

func TestFeed_HTMLResponseIsNotRetried(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.gw.set(htmlResult())

	assert.False(t, f.mod.init.Trigger(context.Background(), "timer:0s"))
	assert.Equal(t, 1, f.gw.count())

	errs := f.rep.all()
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], gateway.ErrUnexpectedContentType)
	v, _ := f.doc.ByID(ListID).Attr("data-state")
	assert.Equal(t, "auth-required", v)
}

func TestFeed_RateLimitedIsNotRetried(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.gw.set(result{err: gateway.ErrRateLimited})

	assert.False(t, f.mod.init.Trigger(context.Background(), "timer:0s"))
	assert.Equal(t, 1, f.gw.count())
}

func TestFeed_ServerErrorIsRetried(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.gw.set(
		result{resp: &transport.Response{Status: http.StatusBadGateway, Body: []byte(`{}`)}},
		jsonResult(twoProfiles),
	)
	assert.True(t, f.mod.init.Trigger(context.Background(), "timer:0s"))
	assert.Equal(t, 2, f.gw.count())
}

func TestFeed_UnauthenticatedReleasesClaim(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.sess.on.Store(false)

	assert.False(t, f.mod.init.Trigger(context.Background(), "timer:0s"))
	assert.Zero(t, f.gw.count())
	assert.False(t, f.mod.Record().Attempted)

	f.sess.on.Store(true)
	assert.True(t, f.mod.init.Trigger(context.Background(), "auth-ready"))
}

func TestFeed_DomNotReadyFailsOpen(t *testing.T) {
	doc := memdom.New()
	doc.Add(nil, "ul", ListID)
	f := newFixture(t, doc, nil)

	assert.True(t, f.mod.init.Trigger(context.Background(), "timer:0s"))
	found := false
	for _, e := range f.hook.AllEntries() {
		if e.Message == "feed elements not ready, continuing degraded" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestFeed_MissingListIsPreconditionFailure(t *testing.T) {
	f := newFixture(t, memdom.New(), nil)
	assert.False(t, f.mod.init.Trigger(context.Background(), "timer:0s"))
	assert.Zero(t, f.gw.count())
}

func TestFeed_OverlappingLoadsCollapse(t *testing.T) {
	f := newFixture(t, nil, nil)
	require.True(t, f.mod.init.Trigger(context.Background(), "timer:0s"))
	require.Equal(t, 1, f.gw.count())

	gate := make(chan struct{})
	f.gw.mu.Lock()
	f.gw.gate = gate
	f.gw.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- f.mod.Load(context.Background()) }()
	require.Eventually(t, func() bool { return f.gw.count() == 2 }, time.Second, time.Millisecond)

	f.doc.Click(f.doc.ByID(RetryID))
	assert.ErrorIs(t, f.mod.Load(context.Background()), ErrLoadInProgress)
	assert.NoError(t, f.mod.Reload(context.Background()))

	close(gate)
	require.NoError(t, <-done)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 2, f.gw.count(), "only one load was in flight")
}

func TestFeed_SearchFiltersRenderedCards(t *testing.T) {
	f := newFixture(t, nil, nil)
	require.True(t, f.mod.init.Trigger(context.Background(), "timer:0s"))

	list := f.doc.ByID(ListID)
	f.doc.Input(f.doc.ByID(SearchID), "vampire")
	assert.Equal(t, 1, dom.CountClass(list, CardClass))

	f.doc.Input(f.doc.ByID(SearchID), "zombie")
	assert.Zero(t, dom.CountClass(list, CardClass))
	assert.Equal(t, 1, dom.CountClass(list, EmptyClass))
	v, _ := list.Attr("data-state")
	assert.Equal(t, "empty", v)
}

func TestFeed_PrefsChangeReloadsWithQuery(t *testing.T) {
	f := newFixture(t, nil, nil)
	require.True(t, f.mod.init.Trigger(context.Background(), "timer:0s"))

	f.doc.Change(f.doc.ByID(PrefsID), "slasher")
	require.Eventually(t, func() bool { return f.gw.count() == 2 }, time.Second, time.Millisecond)

	f.gw.mu.Lock()
	defer f.gw.mu.Unlock()
	assert.Equal(t, "/api/feed?prefs=slasher", f.gw.urls[1])
}

func TestFeed_ImagePreview(t *testing.T) {
	f := newFixture(t, nil, nil)
	require.True(t, f.mod.init.Trigger(context.Background(), "timer:0s"))

	f.doc.Change(f.doc.ByID(PhotoID), "blob:selfie.jpg")
	preview := f.doc.ByID(PreviewID)
	src, _ := preview.Attr("src")
	assert.Equal(t, "blob:selfie.jpg", src)
	assert.False(t, preview.HasClass("hidden"))
}

type droppingList struct{ dom.Element }

func (droppingList) Append(dom.Element) {}

type droppingDoc struct{ *memdom.Document }

func (d droppingDoc) ByID(id string) dom.Element {
	el := d.Document.ByID(id)
	if id == ListID && el != nil {
		return droppingList{el}
	}
	return el
}

func TestFeed_VisibilityMismatchRendersOnceMore(t *testing.T) {
	mem := feedShell()
	f := newFixture(t, droppingDoc{mem}, nil)

	require.True(t, f.mod.init.Trigger(context.Background(), "timer:0s"))
	assert.Equal(t, int32(2), f.mod.renders.Load(), "one forced re-render, no loop")
	v, _ := mem.ByID(ListID).Attr("data-state")
	assert.Equal(t, "render-mismatch", v)
}

func TestFeed_AutoRefreshAndDeactivate(t *testing.T) {
	f := newFixture(t, nil, func(c *Config) { c.RefreshInterval = 15 * time.Millisecond })
	require.True(t, f.mod.init.Trigger(context.Background(), "timer:0s"))

	require.Eventually(t, func() bool { return f.gw.count() >= 2 }, time.Second, time.Millisecond)

	f.mod.Deactivate(context.Background())
	time.Sleep(10 * time.Millisecond)
	n := f.gw.count()
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, n, f.gw.count(), "no refresh while inactive")
}

func TestFeed_ResetAllowsNewSession(t *testing.T) {
	f := newFixture(t, nil, nil)
	require.True(t, f.mod.init.Trigger(context.Background(), "timer:0s"))

	f.mod.Reset()
	assert.False(t, f.mod.Initialized())
	assert.Empty(t, f.mod.Profiles())
	assert.Zero(t, dom.CountClass(f.doc.ByID(ListID), CardClass))
	assert.Zero(t, f.doc.Listeners(f.doc.ByID(RetryID), "click"))
	assert.ErrorIs(t, f.mod.Load(context.Background()), ErrNotInitialized)

	assert.True(t, f.mod.init.Trigger(context.Background(), "auth-ready"))
	assert.Equal(t, 1, f.doc.Listeners(f.doc.ByID(RetryID), "click"))
}

func TestFeed_LogoutWhileWaitingForDOM(t *testing.T) {
	doc := memdom.New()
	f := newFixture(t, doc, func(c *Config) {
		c.WaitAttempts = 500
		c.WaitStep = time.Millisecond
	})
	f.doc = doc

	done := make(chan bool, 1)
	go func() { done <- f.mod.init.Trigger(context.Background(), "timer:0s") }()
	time.Sleep(20 * time.Millisecond)

	f.sess.on.Store(false)
	f.mod.Reset()
	addFeedPanel(doc)

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("initialization did not return")
	}
	assert.False(t, f.mod.Initialized())
	assert.False(t, f.mod.Record().Succeeded)
	assert.False(t, f.mod.Record().Attempted)
	assert.Zero(t, f.gw.count(), "no feed call after logout")
	assert.Zero(t, doc.Listeners(doc.ByID(RetryID), "click"))
	assert.Zero(t, dom.CountClass(doc.ByID(ListID), CardClass))

	f.sess.on.Store(true)
	assert.True(t, f.mod.init.Trigger(context.Background(), "auth-ready"))
	assert.Equal(t, 1, doc.Listeners(doc.ByID(RetryID), "click"))
	assert.Equal(t, 2, dom.CountClass(doc.ByID(ListID), CardClass))
}

func TestFeed_LogoutDuringFirstLoadDiscardsResult(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.gw.gate = make(chan struct{})

	done := make(chan bool, 1)
	go func() { done <- f.mod.init.Trigger(context.Background(), "timer:0s") }()
	require.Eventually(t, func() bool { return f.gw.count() == 1 }, time.Second, time.Millisecond)

	f.sess.on.Store(false)
	f.mod.Reset()
	close(f.gw.gate)

	assert.False(t, <-done)
	assert.False(t, f.mod.Initialized())
	assert.Empty(t, f.mod.Profiles())
	assert.Zero(t, dom.CountClass(f.doc.ByID(ListID), CardClass))
	assert.Empty(t, f.rep.all())
	assert.Zero(t, f.doc.Listeners(f.doc.ByID(SearchID), "input"))
	_, armed := f.doc.ByID(ListID).Attr("data-state")
	assert.False(t, armed, "discarded load leaves no state on the list")
}

func TestParseProfiles(t *testing.T) {
	ps, err := parseProfiles([]byte(`[{"id":"9","name":"Laurie","age":17}]`))
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Equal(t, "Laurie", ps[0].Name)

	_, err = parseProfiles([]byte(`{"items":3}`))
	assert.True(t, errors.Is(err, errMalformedPayload))
	_, err = parseProfiles([]byte(`not json`))
	assert.Error(t, err)
}
