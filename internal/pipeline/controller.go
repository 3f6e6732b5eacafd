// Package pipeline runs the fetch → filter → translate → deliver loop.
//
// The controller is a small state machine:
//
//	STARTING ─▶ POLLING ─▶ SLEEPING ─▶ POLLING ─▶ ...
//
// STARTING sends the startup announcement once per process. POLLING runs one
// cycle (RunCycle). SLEEPING waits for the schedule's next tick. Nothing in
// the loop is fatal: fetch, translation, delivery and state-write failures
// are logged and reported, and the loop goes on until its context ends.
package pipeline

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"newsrelay/internal/dedup"
	"newsrelay/internal/eventbus"
	"newsrelay/internal/feed"
	"newsrelay/internal/notifier"
	"newsrelay/internal/translate"
	logx "newsrelay/pkg/logx"
)

// Notifier is the delivery side used by the controller.
type Notifier interface {
	Deliver(ctx context.Context, m notifier.Message) error
	Announce(ctx context.Context) error
}

type Config struct {
	Schedule  cron.Schedule // nil = every DefaultInterval
	Announce  bool
	Translate bool // titles go through the translator and use the translated format
}

type Controller struct {
	cfg        Config
	source     feed.Source
	translator translate.Translator
	notifier   Notifier
	log        logx.Logger
	bus        eventbus.Bus

	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
	onCycle func(Report)
}

type Option func(*Controller)

func WithEventBus(bus eventbus.Bus) Option { return func(c *Controller) { c.bus = bus } }

// WithCycleHook registers fn to run after every cycle, successful or not.
func WithCycleHook(fn func(Report)) Option { return func(c *Controller) { c.onCycle = fn } }

func WithClock(now func() time.Time) Option { return func(c *Controller) { c.now = now } }

func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Controller) { c.sleep = fn }
}

func New(cfg Config, source feed.Source, tr translate.Translator, n Notifier, log logx.Logger, opts ...Option) *Controller {
	if cfg.Schedule == nil {
		cfg.Schedule = cron.Every(DefaultInterval)
	}
	if tr == nil {
		tr = translate.Nop{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Controller{
		cfg:        cfg,
		source:     source,
		translator: tr,
		notifier:   n,
		log:        log,
		now:        time.Now,
		sleep:      sleepCtx,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Run drives st through the controller phases until ctx is done.
func (c *Controller) Run(ctx context.Context, st *State) error {
	if st.Phase == "" {
		st.Phase = PhaseStarting
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		switch st.Phase {
		case PhaseStarting:
			c.announce(ctx, st)
			st.Phase = PhasePolling

		case PhasePolling:
			rep := c.RunCycle(ctx, st)
			if c.onCycle != nil {
				c.onCycle(rep)
			}
			st.Phase = PhaseSleeping

		case PhaseSleeping:
			d := delayUntilNext(c.cfg.Schedule, c.now())
			c.log.Debug("sleeping until next cycle", logx.Duration("for", d))
			if err := c.sleep(ctx, d); err != nil {
				return err
			}
			st.Phase = PhasePolling

		default:
			return errors.New("pipeline: unknown phase " + string(st.Phase))
		}
	}
}

func (c *Controller) announce(ctx context.Context, st *State) {
	if !c.cfg.Announce || st.Announced {
		return
	}
	// One attempt per process, successful or not.
	st.Announced = true
	if err := c.notifier.Announce(ctx); err != nil {
		c.log.Warn("startup announcement failed", logx.Err(err))
		return
	}
	c.log.Info("startup announcement sent")
}

// RunCycle performs one fetch-filter-deliver pass and updates st.
func (c *Controller) RunCycle(ctx context.Context, st *State) (rep Report) {
	start := c.now()
	rep = Report{ID: uuid.NewString(), Bootstrap: st.Bootstrap}
	log := c.log.With(logx.String("cycle", rep.ID))
	defer func() {
		rep.Took = c.now().Sub(start)
		c.publish(rep)
	}()

	items, err := c.source.Fetch(ctx)
	if err != nil {
		rep.Err = err
		log.Warn("feed fetch failed; skipping cycle", logx.Err(err))
		return rep
	}
	rep.Fetched = len(items)

	// Feeds list newest first; deliver in chronological order.
	items = slices.Clone(items)
	slices.Reverse(items)

	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = dedup.Normalize(it.Link)
	}
	st.Policy.Prepare(ids)

	for i, it := range items {
		if err := ctx.Err(); err != nil {
			rep.Err = err
			break
		}
		id := ids[i]
		if id == "" {
			rep.Discarded++
			continue
		}
		if !st.Policy.IsNew(id) {
			rep.Old++
			continue
		}

		msg := notifier.Message{Title: it.Title, Link: it.Link}
		if c.cfg.Translate {
			msg.Title = c.translator.Translate(ctx, it.Title)
			msg.Translated = true
		}

		if err := c.notifier.Deliver(ctx, msg); err != nil {
			rep.Failed++
			log.Warn("delivery failed; item stays undelivered", logx.String("link", it.Link), logx.Err(err))
			continue
		}
		rep.Delivered++
		if err := st.Policy.MarkDelivered(ctx, id); err != nil {
			rep.Unpersisted++
			log.Error("item delivered but state write failed", logx.String("id", id), logx.Err(err))
		} else {
			log.Debug("item delivered", logx.String("id", id))
		}

		if st.Bootstrap {
			rep.StoppedEarly = i < len(items)-1
			break
		}
	}

	if rep.Err == nil {
		st.Bootstrap = false
		st.Cycles++
	}

	lvl := log.Info
	if rep.Delivered == 0 && rep.Failed == 0 {
		lvl = log.Debug
	}
	lvl("cycle complete",
		logx.Bool("bootstrap", rep.Bootstrap),
		logx.Int("fetched", rep.Fetched),
		logx.Int("old", rep.Old),
		logx.Int("delivered", rep.Delivered),
		logx.Int("failed", rep.Failed),
		logx.Bool("stopped_early", rep.StoppedEarly),
		logx.Int("known", st.Policy.Len()),
	)
	return rep
}

func (c *Controller) publish(rep Report) {
	if c.bus == nil {
		return
	}
	typ := "pipeline.cycle"
	if rep.Err != nil {
		typ = "pipeline.cycle_failed"
	}
	c.bus.Publish(eventbus.Event{Type: typ, Data: rep})
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
