// Package recovery é o Error/Recovery Coordinator: classifica erros reportados
// pelos módulos, mostra um banner único com mensagem fixa e agenda no máximo
// uma recuperação por vez para erros de rede/API na aba ativa.
package recovery

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"nightmate-runtime/dom"
	"nightmate-runtime/lifecycle"
	"nightmate-runtime/metrics"
	"nightmate-runtime/retry"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	DefaultRecoveryDelay = 2 * time.Second
	DefaultBannerTTL     = 10 * time.Second

	// BannerID é o id do único banner de erro.
	BannerID = "error-banner"
)

// Target é a visão do controller usada na recuperação.
type Target interface {
	ActiveTab() string
	Reload(ctx context.Context, tab string) error
}

type Option func(*Coordinator)

func WithTarget(t Target) Option { return func(c *Coordinator) { c.target = t } }

func WithDocument(doc dom.Document) Option { return func(c *Coordinator) { c.doc = doc } }

func WithRecoveryDelay(d time.Duration) Option { return func(c *Coordinator) { c.delay = d } }

func WithBannerTTL(d time.Duration) Option { return func(c *Coordinator) { c.ttl = d } }

func WithLogger(l logrus.FieldLogger) Option { return func(c *Coordinator) { c.log = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(c *Coordinator) { c.metrics = m } }

type Coordinator struct {
	target  Target
	doc     dom.Document
	delay   time.Duration
	ttl     time.Duration
	log     logrus.FieldLogger
	metrics *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc

	count   atomic.Int64
	pending atomic.Bool
	wg      sync.WaitGroup

	bannerMu    sync.Mutex
	banner      dom.Element
	bannerTimer *time.Timer
}

var _ lifecycle.Reporter = (*Coordinator)(nil)

func New(opts ...Option) *Coordinator {
	c := &Coordinator{
		delay: DefaultRecoveryDelay,
		ttl:   DefaultBannerTTL,
		log:   logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.WithField("component", "recovery")
	c.ctx, c.cancel = context.WithCancel(context.Background())
	return c
}

// SetTarget liga o coordenador ao controller depois da construção.
func (c *Coordinator) SetTarget(t Target) { c.target = t }

// Report registra o erro e reage a ele. Nunca devolve erro nem entra em pânico.
func (c *Coordinator) Report(ctx context.Context, context string, err error, extra map[string]any) {
	incident := uuid.NewString()
	cat := Classify(context, err)

	c.count.Add(1)
	c.metrics.Error(string(cat))

	fields := logrus.Fields{"incident": incident, "context": context, "category": string(cat)}
	for k, v := range extra {
		fields["extra."+k] = v
	}
	c.log.WithFields(fields).WithError(err).Error("error reported")

	c.showBanner(cat, incident)

	if cat.Recoverable() {
		origin, _ := extra[lifecycle.ExtraTab].(string)
		c.scheduleRecovery(incident, origin)
	}
}

// Errors devolve o total de erros reportados. Só para observabilidade.
func (c *Coordinator) Errors() int64 { return c.count.Load() }

// RecoveryPending diz se há uma recuperação agendada.
func (c *Coordinator) RecoveryPending() bool { return c.pending.Load() }

// scheduleRecovery só age quando o erro veio da aba ativa.
func (c *Coordinator) scheduleRecovery(incident, origin string) {
	if c.target == nil {
		return
	}
	tab := c.target.ActiveTab()
	if tab == "" {
		return
	}
	if origin != tab {
		c.log.WithFields(logrus.Fields{"incident": incident, "origin": origin, "active": tab}).
			Debug("error did not come from the active tab, no recovery")
		return
	}
	if !c.pending.CompareAndSwap(false, true) {
		c.log.WithField("incident", incident).Debug("recovery already pending")
		return
	}

	log := c.log.WithFields(logrus.Fields{"incident": incident, "tab": tab})
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.pending.Store(false)

		err := retry.Do(c.ctx, retry.Policy{MaxAttempts: 1, Initial: c.delay}, func(ctx context.Context, _ int) error {
			if now := c.target.ActiveTab(); now != tab {
				log.WithField("active", now).Debug("active tab changed, recovery skipped")
				return nil
			}
			return c.target.Reload(ctx, tab)
		})
		switch {
		case err == nil:
			c.metrics.Recovery(true)
			log.Info("recovery attempt finished")
		case errors.Is(err, lifecycle.ErrNoReloadHook), errors.Is(err, lifecycle.ErrNotCreated):
			log.WithError(err).Debug("module cannot be reloaded")
		case errors.Is(err, context.Canceled):
		default:
			c.metrics.Recovery(false)
			log.WithError(err).Warn("recovery attempt failed")
		}
	}()
}

func (c *Coordinator) showBanner(cat Category, incident string) {
	if c.doc == nil {
		return
	}
	c.bannerMu.Lock()
	defer c.bannerMu.Unlock()

	if c.bannerTimer != nil {
		c.bannerTimer.Stop()
	}
	if c.banner != nil {
		c.banner.Remove()
	}
	if stray := c.doc.ByID(BannerID); stray != nil {
		stray.Remove()
	}

	el := c.doc.Create("div")
	el.SetAttr("id", BannerID)
	el.SetAttr("role", "alert")
	el.SetAttr("data-category", string(cat))
	el.SetAttr("data-incident", incident)
	el.AddClass("error-banner")
	el.SetText(cat.Message())
	c.doc.Body().Append(el)

	c.banner = el
	c.bannerTimer = time.AfterFunc(c.ttl, func() {
		c.bannerMu.Lock()
		defer c.bannerMu.Unlock()
		if c.banner == el {
			el.Remove()
			c.banner = nil
		}
	})
}

// Close cancela recuperações pendentes e remove o banner.
func (c *Coordinator) Close() {
	c.cancel()
	c.wg.Wait()

	c.bannerMu.Lock()
	defer c.bannerMu.Unlock()
	if c.bannerTimer != nil {
		c.bannerTimer.Stop()
	}
	if c.banner != nil {
		c.banner.Remove()
		c.banner = nil
	}
}
