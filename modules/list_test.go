package modules

import (
	"context"
	"net/http"
	"sync"
	"testing"

	"nightmate-runtime/dom"
	"nightmate-runtime/dom/memdom"
	"nightmate-runtime/gateway"
	"nightmate-runtime/lifecycle"
	"nightmate-runtime/transport"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCaller struct {
	mu    sync.Mutex
	resp  *transport.Response
	err   error
	paths []string
}

func (s *stubCaller) Call(_ context.Context, req *transport.Request) (*transport.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paths = append(s.paths, req.Path())
	return s.resp, s.err
}

type reports struct {
	mu       sync.Mutex
	contexts []string
	tabs     []any
}

func (r *reports) Report(_ context.Context, c string, _ error, extra map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contexts = append(r.contexts, c)
	r.tabs = append(r.tabs, extra[lifecycle.ExtraTab])
}

func jsonBody(s string) *transport.Response {
	return &transport.Response{Status: http.StatusOK, Header: http.Header{"Content-Type": {"application/json"}}, Body: []byte(s)}
}

func panelDoc(tabs ...string) *memdom.Document {
	doc := memdom.New()
	nav := doc.Add(nil, "nav", "")
	for _, t := range tabs {
		doc.Add(nav, "button", "tab-"+t).SetAttr("data-tab", t)
		doc.Add(nil, "section", "panel-"+t).SetAttr("data-panel", t)
	}
	return doc
}

func deps(doc dom.Document, c Caller, r lifecycle.Reporter) Deps {
	logger, _ := test.NewNullLogger()
	return Deps{Gateway: c, Doc: doc, Reporter: r, Logger: logger}
}

func TestList_RendersItems(t *testing.T) {
	doc := panelDoc("matches")
	caller := &stubCaller{resp: jsonBody(`{"matches":[{"id":"m1","name":"Carrie","favorite_film":"Suspiria"},{"id":"m2","name":"Norman"}]}`)}
	l := NewList(Lists[0], deps(doc, caller, nil))

	require.NoError(t, l.Activate(context.Background()))
	list := doc.ByID("matches-list")
	require.NotNil(t, list)
	assert.Equal(t, 2, dom.CountClass(list, ItemClass))
	assert.Equal(t, "Carrie", list.Children()[0].Text())
	assert.Equal(t, []string{"/api/matches"}, caller.paths)

	l.Reset()
	assert.Empty(t, l.Items())
	assert.Zero(t, dom.CountClass(list, ItemClass))
}

func TestList_SingleObject(t *testing.T) {
	doc := panelDoc("profile")
	caller := &stubCaller{resp: jsonBody(`{"profile":{"name":"Sidney","bio":"Survivor"}}`)}
	l := NewList(Lists[5], deps(doc, caller, nil))

	require.NoError(t, l.Activate(context.Background()))
	items := l.Items()
	require.Len(t, items, 1)
	assert.Equal(t, Item{ID: "0", Title: "Sidney", Detail: "Survivor"}, items[0])
}

func TestList_ErrorsAreReportedOrDropped(t *testing.T) {
	doc := panelDoc("events")
	rep := &reports{}
	caller := &stubCaller{err: gateway.ErrRateLimited}
	l := NewList(Lists[1], deps(doc, caller, rep))

	require.NoError(t, l.Activate(context.Background()))
	assert.Empty(t, rep.contexts, "gateway rejections are dropped silently")

	caller.err = gateway.ErrNetwork
	require.NoError(t, l.Activate(context.Background()))
	assert.Equal(t, []string{"events api"}, rep.contexts)
	assert.Equal(t, []any{"events"}, rep.tabs, "errors carry their tab for recovery")

	assert.ErrorIs(t, l.Reload(context.Background()), gateway.ErrNetwork)
	assert.Len(t, rep.contexts, 1, "reload failures are not reported again")
}

func TestList_HTMLAndStatus(t *testing.T) {
	doc := panelDoc("dms")
	caller := &stubCaller{resp: &transport.Response{Status: http.StatusOK, Header: http.Header{"Content-Type": {"text/html"}}, Body: []byte("<html></html>")}}
	l := NewList(Lists[3], deps(doc, caller, nil))
	assert.ErrorIs(t, l.Reload(context.Background()), gateway.ErrUnexpectedContentType)

	caller.resp = &transport.Response{Status: http.StatusInternalServerError, Body: []byte(`{}`)}
	assert.Error(t, l.Reload(context.Background()))
}

func TestList_MissingPanel(t *testing.T) {
	l := NewList(Lists[2], deps(memdom.New(), &stubCaller{}, nil))
	assert.ErrorIs(t, l.Activate(context.Background()), ErrPanelMissing)
}

func TestRegisterAll_BindsTabs(t *testing.T) {
	tabs := make([]string, 0, len(Lists))
	for _, s := range Lists {
		tabs = append(tabs, s.Tab)
	}
	doc := panelDoc(tabs...)
	logger, _ := test.NewNullLogger()
	ctrl := lifecycle.NewController(lifecycle.NewRegistry(), lifecycle.WithDocument(doc), lifecycle.WithLogger(logger))

	caller := &stubCaller{resp: jsonBody(`{"bookmarks":[{"title":"The Thing","kind":"film"}]}`)}
	require.NoError(t, RegisterAll(context.Background(), ctrl, deps(doc, caller, nil)))

	for _, tab := range tabs {
		assert.Equal(t, lifecycle.NotCreated, ctrl.State(tab))
	}
	doc.Click(doc.ByID("tab-bookmarks"))
	assert.Equal(t, lifecycle.Active, ctrl.State("bookmarks"))
	assert.Equal(t, 1, dom.CountClass(doc.ByID("bookmarks-list"), ItemClass))
}
