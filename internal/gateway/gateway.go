// Package gateway wires the engine together: transports feed the bus, the
// router answers monitored contacts, and scheduled jobs keep state on disk.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/stellarlinkco/autoreply/internal/analytics"
	"github.com/stellarlinkco/autoreply/internal/backend"
	"github.com/stellarlinkco/autoreply/internal/bus"
	"github.com/stellarlinkco/autoreply/internal/channel"
	"github.com/stellarlinkco/autoreply/internal/config"
	"github.com/stellarlinkco/autoreply/internal/cron"
	"github.com/stellarlinkco/autoreply/internal/memory"
	"github.com/stellarlinkco/autoreply/internal/profile"
	"github.com/stellarlinkco/autoreply/internal/responder"
	"github.com/stellarlinkco/autoreply/internal/store"
)

// Internal job names.
const (
	JobFlush       = "flush"
	JobDailyReport = "daily-report"
)

// Options for creating a Gateway
type Options struct {
	// Store replaces the store opened from cfg.Storage. The gateway closes it on shutdown.
	Store store.Store
	// Generator replaces the backend selected by cfg.Backend.
	Generator responder.Generator
	// Channels replaces the transports enabled in cfg.Channels.
	Channels []channel.Channel
	// Sleep replaces the post-reply delay.
	Sleep      SleepFunc
	SignalChan chan os.Signal // for testing signal handling
	Now        func() time.Time
}

type Gateway struct {
	cfg        *config.Config
	bus        *bus.MessageBus
	store      store.Store
	ledger     *memory.Ledger
	analytics  *analytics.Aggregator
	profiles   *profile.Builder
	generator  responder.Generator
	responder  *responder.Orchestrator
	channels   *channel.ChannelManager
	router     *Router
	dedup      *Dedup
	cron       *cron.Service
	signalChan chan os.Signal
	now        func() time.Time
}

// New creates a Gateway with default options
func New(cfg *config.Config) (*Gateway, error) {
	return NewWithOptions(cfg, Options{})
}

// NewWithOptions creates a Gateway with custom options for testing
func NewWithOptions(cfg *config.Config, opts Options) (*Gateway, error) {
	g := &Gateway{
		cfg:        cfg,
		bus:        bus.NewMessageBus(config.DefaultBufSize),
		signalChan: opts.SignalChan,
		now:        opts.Now,
	}
	if g.now == nil {
		g.now = time.Now
	}

	g.store = opts.Store
	if g.store == nil {
		st, err := store.Open(cfg.Storage)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		g.store = st
	}

	g.analytics = analytics.NewAggregator(g.store)
	g.ledger = memory.NewLedger(g.store, g.analytics, memory.WithClock(g.now))
	g.profiles = profile.NewBuilder(g.store, g.ledger, profile.WithClock(g.now))

	g.generator = opts.Generator
	if g.generator == nil {
		gen, err := backend.New(cfg)
		if err != nil {
			log.Printf("[gateway] generation backend unavailable, replies will use fallbacks: %v", err)
			gen = responder.GeneratorFunc(func(context.Context, responder.Request) (string, error) {
				return "", backend.ErrUnavailable
			})
		}
		g.generator = gen
	}
	g.responder = responder.New(g.profiles, g.ledger, g.generator, responder.Options{
		UseAI:       cfg.Reply.UseAI,
		SimpleReply: cfg.Reply.SimpleReply,
		Timeout:     cfg.Reply.Timeout(),
	})

	if opts.Channels != nil {
		g.channels = channel.NewChannelManagerWith(g.bus, opts.Channels...)
	} else {
		chMgr, err := channel.NewChannelManager(cfg.Channels, g.bus)
		if err != nil {
			g.closeStore()
			return nil, fmt.Errorf("create channel manager: %w", err)
		}
		g.channels = chMgr
	}

	g.dedup = NewDedup()
	g.router = NewRouter(RouterOptions{
		Monitor:   NewMonitor(cfg.Reply.MonitorContacts),
		Dedup:     g.dedup,
		History:   g.ledger,
		Responder: g.responder,
		Sender:    g.channels,
		Recorder:  g.analytics,
		Sleep:     opts.Sleep,
	})

	g.cron = cron.NewService(filepath.Join(cfg.Storage.Dir, "cron", "jobs.json"))
	if err := g.registerJobs(); err != nil {
		g.closeStore()
		return nil, err
	}

	return g, nil
}

func (g *Gateway) registerJobs() error {
	if err := g.cron.AddJob(JobFlush, g.cfg.Schedule.FlushCron, func(context.Context) (string, error) {
		return "flushed", g.Flush()
	}); err != nil {
		return fmt.Errorf("register flush job: %w", err)
	}
	if err := g.cron.AddJob(JobDailyReport, g.cfg.Schedule.DailyReportCron, func(context.Context) (string, error) {
		return g.DailyReport(), nil
	}); err != nil {
		return fmt.Errorf("register daily report job: %w", err)
	}
	return nil
}

// DailyReport summarizes today's analytics.
func (g *Gateway) DailyReport() string {
	report := analytics.DailyReport(g.analytics.Snapshot(), analytics.DayKey(g.now()))
	log.Printf("[gateway] daily report: %s", report)
	return report
}

// Flush writes ledger, profiles and analytics. Every component is attempted.
func (g *Gateway) Flush() error {
	return errors.Join(g.ledger.Flush(), g.profiles.Flush(), g.analytics.Flush())
}

func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := g.channels.StartAll(ctx); err != nil {
		g.channels.StopAll()
		g.closeStore()
		return fmt.Errorf("start channels: %w", err)
	}
	log.Printf("[gateway] channels started: %v", g.channels.EnabledChannels())

	if err := g.cron.Start(ctx); err != nil {
		log.Printf("[gateway] cron start warning: %v", err)
	}

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		g.processLoop(ctx)
	}()

	if g.router.monitor.All() {
		log.Printf("[gateway] running, answering all direct messages")
	} else {
		log.Printf("[gateway] running, monitoring %v", g.cfg.Reply.MonitorContacts)
	}

	// Use injected signal channel for testing, or create default
	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
	}
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	log.Printf("[gateway] shutting down...")
	cancel()
	<-loopDone
	return g.Shutdown()
}

func (g *Gateway) processLoop(ctx context.Context) {
	defer g.router.Wait()
	for {
		select {
		case msg := <-g.bus.Inbound:
			g.router.Dispatch(ctx, msg)
		case <-ctx.Done():
			return
		}
	}
}

// Shutdown stops transports and jobs, persists every store and closes it.
func (g *Gateway) Shutdown() error {
	_ = g.channels.StopAll()
	g.cron.Stop()
	if err := g.Flush(); err != nil {
		log.Printf("[gateway] final flush warning: %v", err)
	}
	if c, ok := g.generator.(interface{ Close() }); ok {
		c.Close()
	}
	g.closeStore()
	log.Printf("[gateway] shutdown complete")
	return nil
}

func (g *Gateway) closeStore() {
	if g.store == nil {
		return
	}
	if err := g.store.Close(); err != nil {
		log.Printf("[gateway] close store warning: %v", err)
	}
	g.store = nil
}
