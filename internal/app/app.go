// Package app wires configuration, storage, delivery and the pipeline into
// one process and runs them under a supervisor.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"newsrelay/internal/config"
	"newsrelay/internal/dedup"
	"newsrelay/internal/eventbus"
	"newsrelay/internal/feed"
	"newsrelay/internal/health"
	"newsrelay/internal/notifier"
	"newsrelay/internal/pipeline"
	"newsrelay/internal/runtime/supervisor"
	"newsrelay/internal/storage"
	telegram "newsrelay/internal/transport/telegram/adapter"
	logx "newsrelay/pkg/logx"
	"newsrelay/pkg/systemd"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store  storage.Store
	state  *pipeline.State
	ctrl   *pipeline.Controller
	health *health.Server
}

// New builds every component from the manager's current config and loads
// the delivery state. A state that cannot be opened or read is a startup
// error.
func New(ctx context.Context, cfgm *config.Manager) (*App, error) {
	cfg := cfgm.Get()
	if cfg == nil {
		return nil, fmt.Errorf("config not loaded")
	}

	bootLog := logx.NewConsole(cfg.Logging.Level).With(logx.String("comp", "telegram"))
	tcfg, err := mapTelegramConfig(cfg)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(tcfg, bootLog)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg), ad)
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	bus := eventbus.New()

	// everything below needs the delivery state
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open delivery state: %w", err)
	}
	a := &App{cfgm: cfgm, log: log.With(logx.String("comp", "app")), logs: logSvc, bus: bus, store: store}
	if err := a.build(ctx, cfg, ad); err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}

	a.log.Info("delivery state loaded",
		logx.String("dedup", string(a.state.Policy.Mode())),
		logx.String("driver", sc.Driver),
		logx.String("path", sc.Path),
		logx.Int("known", a.state.Policy.Len()),
	)
	return a, nil
}

func (a *App) build(ctx context.Context, cfg *config.Config, ad *telegram.Adapter) error {
	policy, err := dedup.New(ctx, a.store)
	if err != nil {
		return err
	}

	tr, err := mapTranslator(cfg, a.logs.Logger().With(logx.String("comp", "translate")))
	if err != nil {
		return err
	}

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return err
	}
	notif := notifier.New(ncfg, ad, a.logs.Logger().With(logx.String("comp", "notifier")), a.bus)

	fcfg, err := mapFeedConfig(cfg)
	if err != nil {
		return err
	}
	src, err := feed.NewHTTPSource(fcfg, a.logs.Logger().With(logx.String("comp", "feed")))
	if err != nil {
		return err
	}

	pcfg, err := mapPipelineConfig(cfg)
	if err != nil {
		return err
	}
	a.ctrl = pipeline.New(pcfg, src, tr, notif, a.logs.Logger().With(logx.String("comp", "pipeline")),
		pipeline.WithEventBus(a.bus),
		pipeline.WithCycleHook(a.onCycle),
	)
	a.state = pipeline.NewState(policy)
	a.health = health.New(cfg.Health.Addr, a.logs.Logger().With(logx.String("comp", "health")))
	return nil
}

// Done is closed when the app stops (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Done()
}

// Err returns the first fatal error, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// HealthAddr is the bound liveness address once started.
func (a *App) HealthAddr() string { return a.health.Addr() }

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.logs.Logger().With(logx.String("comp", "supervisor"))),
		supervisor.WithCancelOnError(true),
	)

	// the only fatal startup condition besides state loading
	if err := a.health.Listen(); err != nil {
		a.sup.Cancel()
		return err
	}
	a.sup.Go("health", a.health.Serve)

	// Run only returns on cancellation; restarts cover panics and keep the
	// same State, so a restarted loop neither re-announces nor re-bootstraps.
	a.sup.GoRestart("pipeline", func(c context.Context) error {
		return a.ctrl.Run(c, a.state)
	}, supervisor.WithRestartBackoff(time.Second, time.Minute))

	a.startEventLog()
	a.startConfigReload()
	a.startWatchdog()

	if _, err := systemd.Ready(); err != nil {
		a.log.Warn("systemd notify failed", logx.Err(err))
	}
	a.log.Info("app started", logx.String("health", a.health.Addr()))
	return nil
}

func (a *App) onCycle(rep pipeline.Report) {
	status := fmt.Sprintf("cycle %s: fetched %d, delivered %d, failed %d", rep.ID, rep.Fetched, rep.Delivered, rep.Failed)
	if rep.Err != nil {
		status = fmt.Sprintf("cycle %s: %v", rep.ID, rep.Err)
	}
	_, _ = systemd.Status(status)
}

// startEventLog mirrors failure events at debug level.
func (a *App) startEventLog() {
	events, unsub := a.bus.Subscribe(64, "notifier.failed", "pipeline.cycle_failed")
	log := a.logs.Logger().With(logx.String("comp", "events"))
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time), logx.Any("data", e.Data))
			}
		}
	})
}

// startConfigReload applies logging changes live and flags everything else
// as needing a restart.
func (a *App) startConfigReload() {
	a.sup.Go("config.watch", a.cfgm.Watch)

	sub := a.cfgm.Subscribe(4)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case next, ok := <-sub:
				if !ok {
					return nil
				}
				changed := config.ChangedSections(last, next)
				last = next
				if len(changed) == 0 {
					a.log.Debug("config reload received, but no effective changes detected")
					continue
				}
				a.logs.Apply(mapLogConfig(next))
				if restart := config.RestartRequired(changed); len(restart) > 0 {
					a.log.Warn("config changed; restart required for changes to take effect",
						logx.String("sections", strings.Join(restart, ",")))
				}
				a.log.Info("config reloaded", logx.String("changed", strings.Join(changed, ",")))
			}
		}
	})
}

func (a *App) startWatchdog() {
	wd := systemd.WatchdogInterval()
	if wd <= 0 {
		return
	}
	a.sup.Go("systemd.watchdog", func(c context.Context) error {
		t := time.NewTicker(wd / 2)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				return nil
			case <-t.C:
				_, _ = systemd.Watchdog()
			}
		}
	})
}
