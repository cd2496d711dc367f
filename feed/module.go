// Package feed é o módulo da aba principal: lista perfis vindos de /api/feed.
//
// A inicialização pode ser disparada por timers escalonados, pela notificação
// de sessão pronta e pelo clique na aba; um reconcile.Initializer garante que
// o corpo rode uma vez. A carga tem seu próprio claim (isLoading), de modo que
// re-tentativa, reativação e botão de retry colapsam numa única chamada.
package feed

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"nightmate-runtime/dom"
	"nightmate-runtime/gateway"
	"nightmate-runtime/lifecycle"
	"nightmate-runtime/metrics"
	"nightmate-runtime/reconcile"
	"nightmate-runtime/retry"
	"nightmate-runtime/transport"

	"github.com/sirupsen/logrus"
)

const (
	Tab                    = "feed"
	DefaultEndpoint        = "/api/feed"
	DefaultRefreshInterval = 30 * time.Second
	DefaultRetryBase       = time.Second
	DefaultRetries         = 2
	DefaultWaitAttempts    = 100
	DefaultWaitStep        = 100 * time.Millisecond
)

// Ids dos elementos do painel do feed.
const (
	ListID    = "feed-list"
	SearchID  = "feed-search"
	PrefsID   = "feed-prefs"
	RetryID   = "feed-retry"
	PhotoID   = "feed-photo"
	PreviewID = "feed-photo-preview"
)

var DefaultTriggerDelays = []time.Duration{0, 500 * time.Millisecond, 1500 * time.Millisecond, 3000 * time.Millisecond}

var (
	ErrNotInitialized = errors.New("feed not initialized")
	ErrLoadInProgress = errors.New("feed load already in progress")
	errDuplicate      = errors.New("feed request suppressed as duplicate")
	errStale          = errors.New("feed session ended during the operation")
)

// Caller é o gateway visto pelo módulo.
type Caller interface {
	Call(ctx context.Context, req *transport.Request) (*transport.Response, error)
}

// Session informa se há sessão autenticada.
type Session interface {
	Authenticated() bool
}

type Config struct {
	Gateway  Caller
	Session  Session
	Doc      dom.Document
	Reporter lifecycle.Reporter
	Logger   logrus.FieldLogger
	Metrics  *metrics.Metrics

	Endpoint        string
	RefreshInterval time.Duration
	TriggerDelays   []time.Duration
	RetryBase       time.Duration
	Retries         int
	WaitAttempts    int
	WaitStep        time.Duration
}

func (c *Config) defaults() {
	if c.Endpoint == "" {
		c.Endpoint = DefaultEndpoint
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = DefaultRefreshInterval
	}
	if c.TriggerDelays == nil {
		c.TriggerDelays = DefaultTriggerDelays
	}
	if c.RetryBase <= 0 {
		c.RetryBase = DefaultRetryBase
	}
	if c.Retries < 0 {
		c.Retries = 0
	} else if c.Retries == 0 {
		c.Retries = DefaultRetries
	}
	if c.WaitAttempts <= 0 {
		c.WaitAttempts = DefaultWaitAttempts
	}
	if c.WaitStep <= 0 {
		c.WaitStep = DefaultWaitStep
	}
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
}

type statusError struct{ code int }

func (e *statusError) Error() string { return "feed api returned status " + strconv.Itoa(e.code) }

// transient diz se vale re-tentar: falha de transporte, limite de concorrência ou 5xx.
func transient(err error) bool {
	var se *statusError
	switch {
	case errors.Is(err, transport.ErrNetwork), errors.Is(err, gateway.ErrTooManyConcurrent):
		return true
	case errors.As(err, &se):
		return se.code >= 500
	}
	return false
}

type Module struct {
	cfg  Config
	log  logrus.FieldLogger
	init *reconcile.Initializer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	loading     reconcile.Claim
	epoch       atomic.Uint64 // incrementado a cada logout
	initialized atomic.Bool
	inactive    atomic.Bool
	loads       atomic.Int32
	renders     atomic.Int32

	mu       sync.Mutex
	list     dom.Element
	offs     []func()
	profiles []Profile
	query    string
	refresh  *time.Timer
}

var (
	_ lifecycle.Module      = (*Module)(nil)
	_ lifecycle.Deactivator = (*Module)(nil)
	_ lifecycle.Destroyer   = (*Module)(nil)
	_ lifecycle.Reloader    = (*Module)(nil)
	_ lifecycle.Resetter    = (*Module)(nil)
	_ lifecycle.AuthAware   = (*Module)(nil)
)

func New(cfg Config) *Module {
	cfg.defaults()
	m := &Module{cfg: cfg, log: cfg.Logger.WithField("module", Tab)}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.init = reconcile.New(Tab, m.initialize, reconcile.WithLogger(cfg.Logger))
	return m
}

// Factory devolve a fábrica registrada no lifecycle. A construção arma os
// timers escalonados de inicialização.
func Factory(cfg Config) lifecycle.Factory {
	return func(context.Context) (lifecycle.Module, error) {
		m := New(cfg)
		m.Start()
		return m, nil
	}
}

// Start arma os gatilhos por timer.
func (m *Module) Start() {
	m.init.Schedule(m.ctx, m.cfg.TriggerDelays...)
}

// Activate é o gatilho da aba: inicializa se ainda não inicializou, ou recarrega.
func (m *Module) Activate(context.Context) error {
	m.inactive.Store(false)
	m.goAsync(func(ctx context.Context) {
		if m.initialized.Load() {
			_ = m.load(ctx, "reactivate", true)
			return
		}
		m.init.Trigger(ctx, "tab-click")
	})
	return nil
}

func (m *Module) AuthReady(context.Context) {
	m.init.Trigger(m.ctx, "auth-ready")
}

// Reload é o gancho de recuperação. Falhas não são reportadas de novo.
func (m *Module) Reload(ctx context.Context) error {
	if !m.initialized.Load() {
		if !m.init.Trigger(ctx, "recovery") {
			return errors.New("feed initialization did not complete")
		}
		return nil
	}
	err := m.load(ctx, "recovery", false)
	if errors.Is(err, ErrLoadInProgress) {
		return nil
	}
	return err
}

// Deactivate suspende o auto-refresh até a próxima ativação.
func (m *Module) Deactivate(context.Context) {
	m.inactive.Store(true)
	m.stopRefresh()
}

// Reset limpa o estado da sessão (logout) e libera o claim de inicialização.
func (m *Module) Reset() {
	m.epoch.Add(1)
	m.init.Reset()
	m.teardown()
	m.log.Info("feed state cleared")
}

func (m *Module) Destroy(context.Context) {
	m.cancel()
	m.init.Stop()
	m.wg.Wait()
	m.teardown()
}

func (m *Module) goAsync(fn func(ctx context.Context)) {
	if m.ctx.Err() != nil {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		fn(m.ctx)
	}()
}

// Initialized e Loads expõem o estado para diagnóstico e testes.
func (m *Module) Initialized() bool        { return m.initialized.Load() }
func (m *Module) Loads() int               { return int(m.loads.Load()) }
func (m *Module) Record() reconcile.Record { return m.init.Record() }

func (m *Module) Profiles() []Profile {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Profile(nil), m.profiles...)
}

// initialize é o corpo protegido pelo claim.
func (m *Module) initialize(ctx context.Context) error {
	epoch := m.epoch.Load()
	if m.cfg.Session != nil && !m.cfg.Session.Authenticated() {
		return fmt.Errorf("%w: session not authenticated", reconcile.ErrPreconditionUnmet)
	}
	doc := m.cfg.Doc
	if doc == nil {
		return fmt.Errorf("%w: no document", reconcile.ErrPreconditionUnmet)
	}

	err := dom.WaitFor(ctx, doc, m.cfg.WaitAttempts, m.cfg.WaitStep, ListID, SearchID, PrefsID, RetryID)
	switch {
	case errors.Is(err, dom.ErrNotReady):
		m.log.WithField("missing", dom.Missing(doc, ListID, SearchID, PrefsID, RetryID)).
			Warn("feed elements not ready, continuing degraded")
	case err != nil:
		return err
	}

	list := doc.ByID(ListID)
	if list == nil {
		return fmt.Errorf("%w: #%s missing", reconcile.ErrPreconditionUnmet, ListID)
	}

	// Bind e initialized sob o mesmo lock do teardown: um Reset concorrente
	// ou vê a sessão velha já ligada (e desfaz), ou impede a ligação.
	m.mu.Lock()
	if m.epoch.Load() != epoch {
		m.mu.Unlock()
		return fmt.Errorf("%w: %w", reconcile.ErrPreconditionUnmet, errStale)
	}
	m.list = list
	m.offs = m.bind(doc)
	m.initialized.Store(true)
	m.mu.Unlock()

	err = m.loadIn(ctx, epoch, "initial", true)
	switch {
	case errors.Is(err, errStale) || m.epoch.Load() != epoch:
		return fmt.Errorf("%w: %w", reconcile.ErrPreconditionUnmet, errStale)
	case err != nil && !errors.Is(err, ErrLoadInProgress):
		m.teardown()
		return fmt.Errorf("first feed load: %w", err)
	}
	return nil
}

func (m *Module) bind(doc dom.Document) []func() {
	var offs []func()
	if el := doc.ByID(SearchID); el != nil {
		offs = append(offs, el.On("input", func(ev dom.Event) {
			m.mu.Lock()
			m.query = ev.Value
			m.mu.Unlock()
			m.render()
		}))
	}
	if el := doc.ByID(PrefsID); el != nil {
		offs = append(offs, el.On("change", func(dom.Event) {
			m.goAsync(func(ctx context.Context) { _ = m.load(ctx, "prefs", true) })
		}))
	}
	if el := doc.ByID(RetryID); el != nil {
		offs = append(offs, el.On("click", func(dom.Event) {
			m.goAsync(func(ctx context.Context) { _ = m.load(ctx, "retry-button", true) })
		}))
	}
	if el := doc.ByID(PhotoID); el != nil {
		offs = append(offs, el.On("change", func(ev dom.Event) {
			if preview := doc.ByID(PreviewID); preview != nil && ev.Value != "" {
				preview.SetAttr("src", ev.Value)
				preview.RemoveClass("hidden")
			}
		}))
	}
	return offs
}

func (m *Module) teardown() {
	m.stopRefresh()
	m.initialized.Store(false)

	m.mu.Lock()
	offs := m.offs
	list := m.list
	m.offs, m.list, m.profiles, m.query = nil, nil, nil, ""
	m.mu.Unlock()

	for _, off := range offs {
		off()
	}
	dom.Clear(list)
}

// Load carrega o feed. Chamadas sobrepostas devolvem ErrLoadInProgress.
func (m *Module) Load(ctx context.Context) error {
	return m.load(ctx, "manual", true)
}

func (m *Module) load(ctx context.Context, source string, report bool) error {
	return m.loadIn(ctx, m.epoch.Load(), source, report)
}

// loadIn carrega dentro da sessão `epoch`; se ela terminar no meio, o
// resultado é descartado sem tocar no DOM.
func (m *Module) loadIn(ctx context.Context, epoch uint64, source string, report bool) error {
	if !m.initialized.Load() {
		return ErrNotInitialized
	}
	if !m.loading.TryClaim() {
		m.log.WithField("source", source).Debug("feed load already in flight")
		return ErrLoadInProgress
	}
	defer m.loading.Release()

	log := m.log.WithField("source", source)
	var profiles []Profile
	err := retry.Do(ctx, retry.Policy{
		MaxAttempts: m.cfg.Retries + 1,
		Delay:       retry.Linear(m.cfg.RetryBase),
		Retryable:   transient,
	}, func(ctx context.Context, attempt int) error {
		m.loads.Add(1)
		var ferr error
		profiles, ferr = m.fetch(ctx)
		if ferr != nil && transient(ferr) {
			log.WithField("attempt", attempt).WithError(ferr).Warn("feed load failed, will retry")
		}
		return ferr
	})

	if m.epoch.Load() != epoch {
		log.Info("feed session ended during load, discarding result")
		return errStale
	}

	switch {
	case err == nil:
	case errors.Is(err, errDuplicate):
		return ErrLoadInProgress
	case errors.Is(err, transport.ErrUnexpectedContentType):
		m.cfg.Metrics.FeedLoad("html")
		m.setState("auth-required")
		log.Warn("feed endpoint answered with html, not retrying")
		m.report(ctx, report, err)
		return err
	default:
		m.cfg.Metrics.FeedLoad("error")
		m.setState("error")
		m.report(ctx, report, err)
		return err
	}

	m.mu.Lock()
	if m.epoch.Load() != epoch {
		m.mu.Unlock()
		return errStale
	}
	m.profiles = profiles
	m.mu.Unlock()

	m.cfg.Metrics.FeedLoad("ok")
	m.reconcileVisibility()
	m.scheduleRefresh()
	log.WithField("profiles", len(profiles)).Debug("feed loaded")
	return nil
}

func (m *Module) fetch(ctx context.Context) ([]Profile, error) {
	target := m.cfg.Endpoint
	if prefs := m.prefs(); prefs != "" {
		target += "?" + url.Values{"prefs": {prefs}}.Encode()
	}
	req := transport.NewJSONRequest("GET", target)
	req.IdempotencyKey = req.ID()

	resp, err := m.cfg.Gateway.Call(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, errDuplicate
	}
	body, err := resp.JSON()
	if err != nil {
		return nil, fmt.Errorf("feed: %w", err)
	}
	if !resp.OK() {
		return nil, &statusError{code: resp.Status}
	}
	return parseProfiles(body)
}

func (m *Module) prefs() string {
	if m.cfg.Doc == nil {
		return ""
	}
	el := m.cfg.Doc.ByID(PrefsID)
	if el == nil {
		return ""
	}
	v, _ := el.Attr("value")
	return v
}

func (m *Module) report(ctx context.Context, enabled bool, err error) {
	if !enabled || m.cfg.Reporter == nil {
		return
	}
	m.cfg.Reporter.Report(ctx, "feed load", err, map[string]any{lifecycle.ExtraTab: Tab, "endpoint": m.cfg.Endpoint})
}

func (m *Module) setState(state string) {
	m.mu.Lock()
	list := m.list
	m.mu.Unlock()
	if list != nil {
		list.SetAttr("data-state", state)
	}
}

func (m *Module) scheduleRefresh() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.refresh != nil {
		m.refresh.Stop()
		m.refresh = nil
	}
	if m.inactive.Load() {
		return
	}
	m.refresh = time.AfterFunc(m.cfg.RefreshInterval, func() {
		m.goAsync(func(ctx context.Context) { _ = m.load(ctx, "auto-refresh", true) })
	})
}

func (m *Module) stopRefresh() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.refresh != nil {
		m.refresh.Stop()
		m.refresh = nil
	}
}
