// Package modules reúne os módulos de lista das abas secundárias (matches,
// events, boards, dms, bookmarks, profile). Todos seguem o mesmo formato:
// buscam um endpoint JSON pelo gateway e desenham itens no painel da aba.
package modules

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"nightmate-runtime/dom"
	"nightmate-runtime/gateway"
	"nightmate-runtime/lifecycle"
	"nightmate-runtime/reconcile"
	"nightmate-runtime/transport"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

const ItemClass = "list-item"

var (
	ErrPanelMissing = errors.New("panel not found")
	errBadPayload   = errors.New("list payload malformed")
)

// Definition descreve uma aba de lista.
type Definition struct {
	Tab      string
	Endpoint string
	// Path é o caminho gjson do array (ou do objeto, se Single).
	Path   string
	Title  string
	Detail string
	Single bool
}

// Lists são as abas registradas por RegisterAll.
var Lists = []Definition{
	{Tab: "matches", Endpoint: "/api/matches", Path: "matches", Title: "name", Detail: "favorite_film"},
	{Tab: "events", Endpoint: "/api/events", Path: "events", Title: "title", Detail: "date"},
	{Tab: "boards", Endpoint: "/api/boards", Path: "threads", Title: "title", Detail: "author"},
	{Tab: "dms", Endpoint: "/api/dms", Path: "conversations", Title: "with", Detail: "last_message"},
	{Tab: "bookmarks", Endpoint: "/api/bookmarks", Path: "bookmarks", Title: "title", Detail: "kind"},
	{Tab: "profile", Endpoint: "/api/profile", Path: "profile", Title: "name", Detail: "bio", Single: true},
}

type Caller interface {
	Call(ctx context.Context, req *transport.Request) (*transport.Response, error)
}

type Deps struct {
	Gateway  Caller
	Doc      dom.Document
	Reporter lifecycle.Reporter
	Logger   logrus.FieldLogger
}

type Item struct {
	ID     string
	Title  string
	Detail string
}

type List struct {
	def     Definition
	deps    Deps
	log     logrus.FieldLogger
	loading reconcile.Claim

	mu    sync.Mutex
	items []Item
}

var (
	_ lifecycle.Module    = (*List)(nil)
	_ lifecycle.Reloader  = (*List)(nil)
	_ lifecycle.Resetter  = (*List)(nil)
	_ lifecycle.Destroyer = (*List)(nil)
)

func NewList(def Definition, deps Deps) *List {
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	return &List{def: def, deps: deps, log: deps.Logger.WithField("module", def.Tab)}
}

func Factory(def Definition, deps Deps) lifecycle.Factory {
	return func(context.Context) (lifecycle.Module, error) {
		return NewList(def, deps), nil
	}
}

// RegisterAll registra as abas de lista ligadas à navegação.
func RegisterAll(ctx context.Context, c *lifecycle.Controller, deps Deps) error {
	for _, def := range Lists {
		if err := c.RegisterManager(ctx, def.Tab, Factory(def, deps), lifecycle.BindTab); err != nil {
			return fmt.Errorf("register %s: %w", def.Tab, err)
		}
	}
	return nil
}

// Activate carrega a lista. Falhas de rede viram banner; rejeições do gateway
// por limite são descartadas em silêncio.
func (l *List) Activate(ctx context.Context) error {
	if l.container() == nil {
		return fmt.Errorf("%s: %w", l.def.Tab, ErrPanelMissing)
	}
	err := l.load(ctx)
	switch {
	case err == nil, errors.Is(err, errBusy):
	case errors.Is(err, gateway.ErrRateLimited), errors.Is(err, gateway.ErrTooManyConcurrent), errors.Is(err, gateway.ErrDestroyed):
		l.log.WithError(err).Debug("list load dropped by gateway")
	default:
		if l.deps.Reporter != nil {
			l.deps.Reporter.Report(ctx, l.def.Tab+" api", err, map[string]any{lifecycle.ExtraTab: l.def.Tab, "endpoint": l.def.Endpoint})
		}
	}
	return nil
}

func (l *List) Reload(ctx context.Context) error {
	err := l.load(ctx)
	if errors.Is(err, errBusy) {
		return nil
	}
	return err
}

func (l *List) Reset() {
	l.mu.Lock()
	l.items = nil
	l.mu.Unlock()
	if l.deps.Doc != nil {
		dom.Clear(l.deps.Doc.ByID(l.def.Tab + "-list"))
	}
}

func (l *List) Destroy(context.Context) { l.Reset() }

func (l *List) Items() []Item {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Item(nil), l.items...)
}

var errBusy = errors.New("list load in progress")

func (l *List) load(ctx context.Context) error {
	if !l.loading.TryClaim() {
		return errBusy
	}
	defer l.loading.Release()

	req := transport.NewJSONRequest("GET", l.def.Endpoint)
	req.IdempotencyKey = req.ID()
	resp, err := l.deps.Gateway.Call(ctx, req)
	if err != nil {
		return err
	}
	if resp == nil {
		return errBusy
	}
	body, err := resp.JSON()
	if err != nil {
		return fmt.Errorf("%s: %w", l.def.Tab, err)
	}
	if !resp.OK() {
		return fmt.Errorf("%s: api status %d", l.def.Tab, resp.Status)
	}
	items, err := l.parse(body)
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.items = items
	l.mu.Unlock()
	l.render(items)
	return nil
}

func (l *List) parse(body []byte) ([]Item, error) {
	res := gjson.GetBytes(body, l.def.Path)
	if !res.Exists() {
		return nil, fmt.Errorf("%s: %w", l.def.Tab, errBadPayload)
	}
	toItem := func(i int, v gjson.Result) Item {
		id := v.Get("id").String()
		if id == "" {
			id = strconv.Itoa(i)
		}
		return Item{ID: id, Title: v.Get(l.def.Title).String(), Detail: v.Get(l.def.Detail).String()}
	}
	if l.def.Single {
		return []Item{toItem(0, res)}, nil
	}
	if !res.IsArray() {
		return nil, fmt.Errorf("%s: %w", l.def.Tab, errBadPayload)
	}
	var out []Item
	for i, v := range res.Array() {
		out = append(out, toItem(i, v))
	}
	return out, nil
}

// container devolve #<tab>-list, criando-o dentro do painel se preciso.
func (l *List) container() dom.Element {
	doc := l.deps.Doc
	if doc == nil {
		return nil
	}
	id := l.def.Tab + "-list"
	if el := doc.ByID(id); el != nil {
		return el
	}
	panel := doc.Query("[data-panel=" + l.def.Tab + "]")
	if panel == nil {
		return nil
	}
	el := doc.Create("ul")
	el.SetAttr("id", id)
	panel.Append(el)
	return el
}

func (l *List) render(items []Item) {
	list := l.container()
	if list == nil {
		return
	}
	dom.Clear(list)
	for _, it := range items {
		li := l.deps.Doc.Create("li")
		li.AddClass(ItemClass)
		li.SetAttr("data-id", it.ID)
		li.SetText(it.Title)
		if it.Detail != "" {
			d := l.deps.Doc.Create("small")
			d.SetText(it.Detail)
			li.Append(d)
		}
		list.Append(li)
	}
	list.SetAttr("data-count", strconv.Itoa(len(items)))
}
