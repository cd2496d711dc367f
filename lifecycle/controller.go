package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"nightmate-runtime/dom"
	"nightmate-runtime/metrics"

	"github.com/sirupsen/logrus"
)

// InlineErrorMessage é o texto mostrado no painel quando o módulo falha.
const InlineErrorMessage = "This section could not be loaded. Please try again."

// BoundMarker marca o elemento de navegação que já tem listener de clique.
const BoundMarker = "data-manager-bound"

type Binding int

const (
	// BindTab constrói o módulo no primeiro clique da aba.
	BindTab Binding = iota
	// BindImmediate constrói e ativa o módulo no registro.
	BindImmediate
)

// ExtraTab é a chave de `extra` que identifica a aba de origem de um erro.
const ExtraTab = "tab"

// Reporter recebe falhas isoladas de módulos (coordenador de erros).
type Reporter interface {
	Report(ctx context.Context, context string, err error, extra map[string]any)
}

// Destroyable é o gateway visto pelo controller: só o flag de destruição.
type Destroyable interface {
	SetDestroying(bool)
}

type slot struct {
	mu          sync.Mutex
	instance    Module
	initialized bool
}

type Controller struct {
	registry *Registry
	doc      dom.Document
	gate     Destroyable
	probe    MemoryProbe
	high     uint64
	resident map[string]bool
	baseCtx  context.Context
	log      logrus.FieldLogger
	metrics  *metrics.Metrics

	reporterMu sync.RWMutex
	reporter   Reporter

	mu     sync.Mutex
	slots  map[string]*slot
	active string
	offs   []func()

	destroyed atomic.Bool
}

type Option func(*Controller)

func WithDocument(doc dom.Document) Option { return func(c *Controller) { c.doc = doc } }

func WithGate(g Destroyable) Option { return func(c *Controller) { c.gate = g } }

func WithReporter(r Reporter) Option { return func(c *Controller) { c.reporter = r } }

// WithMemoryProbe ativa a evicção: acima de highWater bytes, slots inativos são descartados.
func WithMemoryProbe(p MemoryProbe, highWater uint64) Option {
	return func(c *Controller) { c.probe, c.high = p, highWater }
}

// WithResident marca abas que nunca são descartadas por pressão de memória.
func WithResident(tabs ...string) Option {
	return func(c *Controller) {
		for _, t := range tabs {
			c.resident[t] = true
		}
	}
}

// WithContext define o contexto usado pelos cliques de navegação.
func WithContext(ctx context.Context) Option { return func(c *Controller) { c.baseCtx = ctx } }

func WithLogger(l logrus.FieldLogger) Option { return func(c *Controller) { c.log = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(c *Controller) { c.metrics = m } }

func NewController(reg *Registry, opts ...Option) *Controller {
	c := &Controller{
		registry: reg,
		resident: map[string]bool{},
		baseCtx:  context.Background(),
		log:      logrus.StandardLogger(),
		slots:    map[string]*slot{},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.WithField("component", "lifecycle")
	return c
}

// SetReporter troca o Reporter depois da construção.
func (c *Controller) SetReporter(r Reporter) {
	c.reporterMu.Lock()
	defer c.reporterMu.Unlock()
	c.reporter = r
}

func (c *Controller) ActiveTab() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *Controller) State(tab string) State {
	if c.destroyed.Load() {
		return Destroyed
	}
	c.mu.Lock()
	s, active := c.slots[tab], c.active
	c.mu.Unlock()
	if s == nil {
		return NotCreated
	}
	s.mu.Lock()
	created := s.instance != nil
	s.mu.Unlock()
	switch {
	case !created:
		return NotCreated
	case tab == active:
		return Active
	default:
		return Inactive
	}
}

// Instance devolve a instância viva do módulo, se houver.
func (c *Controller) Instance(tab string) (Module, bool) {
	c.mu.Lock()
	s := c.slots[tab]
	c.mu.Unlock()
	if s == nil {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.instance, s.instance != nil
}

// Activate troca a aba ativa. A troca sempre se completa: falhas de construção
// ou de ativação do módulo viram mensagem no painel e são devolvidas apenas
// como informação (*ModuleInitError).
func (c *Controller) Activate(ctx context.Context, tab string) error {
	if c.destroyed.Load() {
		return ErrControllerDestroyed
	}

	c.mu.Lock()
	prev := c.active
	c.active = tab
	c.mu.Unlock()

	if prev != "" && prev != tab {
		if m, ok := c.Instance(prev); ok {
			if d, ok := m.(Deactivator); ok {
				c.safely(prev, "deactivate", func() error { d.Deactivate(ctx); return nil })
			}
		}
	}

	c.present(tab)
	c.clearInlineError(tab)

	m, err := c.ensure(ctx, tab)
	if err != nil {
		c.isolate(ctx, tab, err)
		return err
	}
	if err := c.safely(tab, "activate", func() error { return m.Activate(ctx) }); err != nil {
		c.isolate(ctx, tab, err)
		return err
	}
	c.log.WithFields(logrus.Fields{"tab": tab, "previous": prev}).Debug("tab activated")
	return nil
}

// ensure devolve a instância do slot, construindo-a uma única vez.
func (c *Controller) ensure(ctx context.Context, tab string) (Module, error) {
	c.mu.Lock()
	s, ok := c.slots[tab]
	if !ok {
		s = &slot{}
		c.slots[tab] = s
	}
	c.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.instance != nil {
		return s.instance, nil
	}

	factory, ok := c.registry.Factory(tab)
	if !ok {
		return nil, &ModuleInitError{Tab: tab, Phase: "construct", Err: ErrUnknownModule}
	}

	var m Module
	err := c.safely(tab, "construct", func() error {
		var ferr error
		m, ferr = factory(ctx)
		if ferr == nil && m == nil {
			ferr = errors.New("factory returned nil module")
		}
		return ferr
	})
	c.metrics.ModuleConstructed(tab, err == nil)
	if err != nil {
		return nil, err
	}
	s.instance = m
	s.initialized = true
	c.log.WithField("tab", tab).Info("module constructed")
	return m, nil
}

// safely roda fn convertendo erro ou panic em *ModuleInitError.
func (c *Controller) safely(tab, phase string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &ModuleInitError{Tab: tab, Phase: phase, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	if ferr := fn(); ferr != nil {
		var mie *ModuleInitError
		if errors.As(ferr, &mie) {
			return ferr
		}
		return &ModuleInitError{Tab: tab, Phase: phase, Err: ferr}
	}
	return nil
}

func (c *Controller) isolate(ctx context.Context, tab string, err error) {
	c.log.WithField("tab", tab).WithError(err).Error("module failed, isolating")
	c.renderInlineError(tab)

	c.reporterMu.RLock()
	r := c.reporter
	c.reporterMu.RUnlock()
	if r != nil {
		r.Report(ctx, "module-init:"+tab, err, map[string]any{ExtraTab: tab})
	}
}

func (c *Controller) present(tab string) {
	if c.doc == nil {
		return
	}
	for _, el := range c.doc.QueryAll("[data-tab]") {
		v, _ := el.Attr("data-tab")
		dom.Toggle(el, "active", v == tab)
	}
	for _, el := range c.doc.QueryAll("[data-panel]") {
		v, _ := el.Attr("data-panel")
		dom.Toggle(el, "active", v == tab)
	}
}

func (c *Controller) panel(tab string) dom.Element {
	if c.doc == nil {
		return nil
	}
	return c.doc.Query("[data-panel=" + tab + "]")
}

func (c *Controller) renderInlineError(tab string) {
	p := c.panel(tab)
	if p == nil {
		return
	}
	c.clearInlineError(tab)
	msg := c.doc.Create("div")
	msg.AddClass("module-error")
	msg.SetAttr("role", "alert")
	msg.SetText(InlineErrorMessage)
	p.Append(msg)
}

func (c *Controller) clearInlineError(tab string) {
	p := c.panel(tab)
	if p == nil {
		return
	}
	for _, ch := range p.Children() {
		if ch.HasClass("module-error") {
			ch.Remove()
		}
	}
}

// RegisterManager registra a fábrica e liga o módulo à navegação.
// Com BindTab, o listener de clique é anexado no máximo uma vez por elemento.
func (c *Controller) RegisterManager(ctx context.Context, name string, f Factory, b Binding) error {
	if err := c.registry.Register(name, f); err != nil {
		return err
	}

	switch b {
	case BindImmediate:
		m, err := c.ensure(ctx, name)
		if err == nil {
			err = c.safely(name, "activate", func() error { return m.Activate(ctx) })
		}
		if err != nil {
			c.isolate(ctx, name, err)
		}
		return nil
	default:
		c.bindNav(name)
		return nil
	}
}

func (c *Controller) bindNav(name string) {
	if c.doc == nil {
		return
	}
	nav := c.doc.Query("[data-tab=" + name + "]")
	if nav == nil {
		c.log.WithField("tab", name).Warn("navigation element not found, manager not bound")
		return
	}
	if v, _ := nav.Attr(BoundMarker); v == "true" {
		return
	}
	nav.SetAttr(BoundMarker, "true")
	off := nav.On("click", func(dom.Event) {
		_ = c.Activate(c.baseCtx, name)
	})

	c.mu.Lock()
	c.offs = append(c.offs, off)
	c.mu.Unlock()
}

// HandleAuthReady avisa o módulo ativo, sem bloquear quem notificou.
func (c *Controller) HandleAuthReady(ctx context.Context) {
	tab := c.ActiveTab()
	m, ok := c.Instance(tab)
	if !ok {
		return
	}
	if a, ok := m.(AuthAware); ok {
		go a.AuthReady(ctx)
	}
}

// ResetAll limpa o estado dependente da sessão de todos os módulos vivos.
func (c *Controller) ResetAll() {
	for _, m := range c.instances() {
		if r, ok := m.(Resetter); ok {
			r.Reset()
		}
	}
	c.log.Info("module state cleared")
}

// Reload chama o gancho de recarga do módulo.
func (c *Controller) Reload(ctx context.Context, tab string) error {
	m, ok := c.Instance(tab)
	if !ok {
		return fmt.Errorf("reload %s: %w", tab, ErrNotCreated)
	}
	r, ok := m.(Reloader)
	if !ok {
		return fmt.Errorf("reload %s: %w", tab, ErrNoReloadHook)
	}
	return r.Reload(ctx)
}

func (c *Controller) instances() map[string]Module {
	c.mu.Lock()
	slots := make(map[string]*slot, len(c.slots))
	for k, v := range c.slots {
		slots[k] = v
	}
	c.mu.Unlock()

	out := map[string]Module{}
	for name, s := range slots {
		s.mu.Lock()
		if s.instance != nil {
			out[name] = s.instance
		}
		s.mu.Unlock()
	}
	return out
}

// DestroyAll liga o flag de destruição do gateway antes de qualquer gancho de
// destroy, para que chamadas disparadas durante o teardown sejam rejeitadas.
func (c *Controller) DestroyAll(ctx context.Context) {
	if c.gate != nil {
		c.gate.SetDestroying(true)
	}
	if !c.destroyed.CompareAndSwap(false, true) {
		return
	}

	c.mu.Lock()
	slots := c.slots
	offs := c.offs
	c.slots = map[string]*slot{}
	c.offs = nil
	c.active = ""
	c.mu.Unlock()

	for _, off := range offs {
		off()
	}
	for name, s := range slots {
		s.mu.Lock()
		m := s.instance
		s.instance, s.initialized = nil, false
		s.mu.Unlock()
		if d, ok := m.(Destroyer); ok {
			if err := c.safely(name, "destroy", func() error { d.Destroy(ctx); return nil }); err != nil {
				c.log.WithField("tab", name).WithError(err).Warn("destroy hook failed")
			}
		}
	}
	c.log.WithField("modules", len(slots)).Info("runtime destroyed")
}

// EvictIdle descarta os módulos inativos (exceto os residentes) quando o uso
// de memória passa do limite. Devolve quantos foram descartados.
func (c *Controller) EvictIdle(ctx context.Context) int {
	if c.probe == nil || c.high == 0 || c.destroyed.Load() {
		return 0
	}
	usage, err := c.probe.Usage()
	if err != nil {
		c.log.WithError(err).Debug("memory probe failed")
		return 0
	}
	if usage < c.high {
		return 0
	}

	c.mu.Lock()
	active := c.active
	candidates := map[string]*slot{}
	for name, s := range c.slots {
		if name == active || c.resident[name] {
			continue
		}
		candidates[name] = s
	}
	c.mu.Unlock()

	evicted := 0
	for name, s := range candidates {
		s.mu.Lock()
		m := s.instance
		s.instance, s.initialized = nil, false
		s.mu.Unlock()
		if m == nil {
			continue
		}
		if d, ok := m.(Destroyer); ok {
			_ = c.safely(name, "destroy", func() error { d.Destroy(ctx); return nil })
		}
		evicted++
	}

	if evicted > 0 {
		c.metrics.ModulesEvicted(evicted)
		c.log.WithFields(logrus.Fields{"evicted": evicted, "rss": usage}).Info("idle modules evicted under memory pressure")
	}
	return evicted
}

// WatchMemory roda EvictIdle periodicamente até o ctx encerrar.
func (c *Controller) WatchMemory(ctx context.Context, interval time.Duration) error {
	if c.probe == nil || interval <= 0 {
		<-ctx.Done()
		return nil
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			c.EvictIdle(ctx)
		}
	}
}
