// Package gateway wires the pipeline together: inbound bus messages flow
// through a director, the output gate, and back out to the originating
// channel, with the send result fed back to the director.
package gateway

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rooniethecat/roonie/internal/bus"
	"github.com/rooniethecat/roonie/internal/channel"
	"github.com/rooniethecat/roonie/internal/config"
	"github.com/rooniethecat/roonie/internal/cron"
	"github.com/rooniethecat/roonie/internal/director"
	"github.com/rooniethecat/roonie/internal/gate"
	"github.com/rooniethecat/roonie/internal/memory"
	"github.com/rooniethecat/roonie/internal/provider"
	"github.com/rooniethecat/roonie/internal/roonie"
)

// Engine is the director surface the gateway drives. Both directors fit;
// the offline one ignores send feedback.
type Engine interface {
	Evaluate(ctx context.Context, ev roonie.Event, env roonie.Env) roonie.DecisionRecord
	ApplyOutputFeedback(eventID string, emitted, sent bool)
}

// offlineEngine adapts the fixed-responder director to the Engine surface.
type offlineEngine struct {
	d *director.OfflineDirector
}

func (e *offlineEngine) Evaluate(_ context.Context, ev roonie.Event, env roonie.Env) roonie.DecisionRecord {
	return e.d.Evaluate(ev, env)
}

func (e *offlineEngine) ApplyOutputFeedback(string, bool, bool) {}

// Options for creating a Gateway.
type Options struct {
	// Engine overrides the config-selected director, for testing.
	Engine Engine
	// SignalChan overrides signal handling, for testing.
	SignalChan chan os.Signal
}

type Gateway struct {
	cfg        *config.Config
	bus        *bus.MessageBus
	engine     Engine
	gate       *gate.Gate
	store      *memory.Store
	channels   *channel.ChannelManager
	cron       *cron.Service
	runtime    *provider.ConfigStore
	shadow     *provider.ShadowLog
	signalChan chan os.Signal
}

// New creates a Gateway with default options.
func New(cfg *config.Config) (*Gateway, error) {
	return NewWithOptions(cfg, Options{})
}

// NewWithOptions creates a Gateway with custom options for testing.
func NewWithOptions(cfg *config.Config, opts Options) (*Gateway, error) {
	g := &Gateway{cfg: cfg, signalChan: opts.SignalChan}

	g.bus = bus.NewMessageBus(cfg.Gateway.BufSize)

	if err := os.MkdirAll(filepath.Dir(cfg.Memory.DBPath), 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	store, err := memory.NewStore(cfg.Memory.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open memory store: %w", err)
	}
	g.store = store

	g.gate = gate.New(gate.Options{
		EmitEvery: time.Duration(cfg.Gate.EmitEverySeconds) * time.Second,
		DryRun:    cfg.Gate.DryRun,
	})

	g.runtime = provider.NewConfigStore(cfg.RuntimeConfigPath())
	g.shadow = provider.NewShadowLog(cfg.ShadowLogPath())

	if opts.Engine != nil {
		g.engine = opts.Engine
	} else {
		engine, err := g.buildEngine()
		if err != nil {
			_ = g.store.Close()
			return nil, err
		}
		g.engine = engine
	}

	cronStorePath := filepath.Join(cfg.Bot.DataDir, "cron", "jobs.json")
	g.cron = cron.NewService(cronStorePath)
	g.cron.OnJob = g.runMaintenanceJob

	chMgr, err := channel.NewChannelManager(cfg.Channels, g.bus)
	if err != nil {
		_ = g.store.Close()
		return nil, fmt.Errorf("create channel manager: %w", err)
	}
	g.channels = chMgr

	return g, nil
}

// buildEngine picks the director per config. Pure offline runs the fixed
// responders; everything else goes through the provider router, with stub
// backends when the network is disabled but stub replay is requested.
func (g *Gateway) buildEngine() (Engine, error) {
	library := director.NewLibrary(g.cfg.Bot.LibraryIndexPath)

	if g.cfg.Providers.Offline && !g.cfg.Providers.SanitizeStubOutput {
		return &offlineEngine{d: &director.OfflineDirector{Library: library}}, nil
	}

	registry, err := provider.NewRegistry(g.cfg.Providers.Offline, provider.Credentials{
		OpenAIKey:      g.cfg.Providers.OpenAI.APIKey,
		OpenAIModel:    g.cfg.Providers.OpenAI.Model,
		AnthropicKey:   g.cfg.Providers.Anthropic.APIKey,
		AnthropicModel: g.cfg.Providers.Anthropic.Model,
		GrokKey:        g.cfg.Providers.Grok.APIKey,
		GrokModel:      g.cfg.Providers.Grok.Model,
		MaxTokens:      g.cfg.Providers.OpenAI.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("build provider registry: %w", err)
	}

	routingStore := provider.NewRoutingStore(g.cfg.RoutingConfigPath())
	routingCfg, err := routingStore.Load()
	if err != nil {
		return nil, fmt.Errorf("load routing config: %w", err)
	}

	var moderator provider.Moderator
	if !g.cfg.Providers.Offline && g.cfg.Providers.OpenAI.APIKey != "" {
		moderator = provider.NewOpenAIModerator(g.cfg.Providers.OpenAI.APIKey)
	}

	router := provider.NewRouter(provider.RouterOptions{
		Registry:  registry,
		Runtime:   g.runtime,
		Routing:   routingStore,
		Moderator: moderator,
		Shadow:    g.shadow,
	})

	personaPolicy := ""
	if path := g.cfg.Bot.PersonaPolicyPath; path != "" {
		if data, err := os.ReadFile(path); err == nil {
			personaPolicy = strings.TrimSpace(string(data))
		}
	}

	return director.NewProviderDirector(director.ProviderDirectorOptions{
		Router:             router,
		Store:              g.store,
		Library:            library,
		PersonaPolicy:      personaPolicy,
		SanitizeStubOutput: g.cfg.Providers.SanitizeStubOutput,
		Rules:              routingCfg.ClassificationRules,
	}), nil
}

// Gate exposes the output gate for operator controls.
func (g *Gateway) Gate() *gate.Gate { return g.gate }

const (
	taskUsageRollover = "usage_rollover"
	taskShadowRotate  = "shadow_rotate"
)

func (g *Gateway) ensureMaintenanceJobs() error {
	// Hourly load touches the usage day so a long-running process rolls its
	// spend counters over at the broadcast-day boundary.
	if _, err := g.cron.EnsureJob("usage-rollover",
		cron.Schedule{Kind: "cron", Expr: "0 0 * * * *"},
		cron.Payload{Task: taskUsageRollover}); err != nil {
		return err
	}
	if _, err := g.cron.EnsureJob("shadow-rotate",
		cron.Schedule{Kind: "cron", Expr: "0 30 3 * * *"},
		cron.Payload{Task: taskShadowRotate}); err != nil {
		return err
	}
	return nil
}

func (g *Gateway) runMaintenanceJob(job cron.CronJob) (string, error) {
	switch job.Payload.Task {
	case taskUsageRollover:
		cfg, err := g.runtime.Load()
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("usage day %s", cfg.Usage.Day), nil
	case taskShadowRotate:
		if err := g.shadow.Rotate(); err != nil {
			return "", err
		}
		return "shadow log rotated", nil
	}
	return "", fmt.Errorf("unknown task %q", job.Payload.Task)
}

// Run starts the pipeline and blocks until SIGINT or SIGTERM.
func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go g.bus.DispatchOutbound(ctx)
	go g.processLoop(ctx)

	// Console input blocks until EOF, so channels run off the main path.
	go func() {
		if err := g.channels.StartAll(ctx); err != nil {
			log.Printf("[gateway] channel error: %v", err)
		}
	}()
	log.Printf("[gateway] channels started: %v", g.channels.EnabledChannels())

	if err := g.cron.Start(ctx); err != nil {
		log.Printf("[gateway] cron start warning: %v", err)
	}
	if err := g.ensureMaintenanceJobs(); err != nil {
		log.Printf("[gateway] ensure maintenance jobs warning: %v", err)
	}

	if g.gate.Status().Armed {
		log.Printf("[gateway] output gate armed")
	} else {
		log.Printf("[gateway] output gate is disarmed; arm it to allow posting")
	}

	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	}
	<-sigCh

	log.Printf("[gateway] shutting down...")
	return g.Shutdown()
}

func (g *Gateway) processLoop(ctx context.Context) {
	for {
		select {
		case msg := <-g.bus.Inbound:
			g.handleInbound(ctx, msg)
		case <-ctx.Done():
			return
		}
	}
}

// handleInbound runs one message through the full pipeline. Evaluation is
// strictly sequential; the directors rely on that.
func (g *Gateway) handleInbound(ctx context.Context, msg bus.InboundMessage) {
	ev := eventFromMessage(msg)
	env := roonie.Env{Offline: g.cfg.Providers.Offline}

	log.Printf("[gateway] inbound from %s/%s: %s", msg.Channel, msg.SenderID, truncate(msg.Content, 80))

	if intents := memory.EvaluateIntents(ev); len(intents) > 0 {
		if n, err := g.store.PersistWriteIntents(intents); err != nil {
			log.Printf("[gateway] persist memory intents: %v", err)
		} else if n > 0 {
			log.Printf("[gateway] persisted %d memory write intents", n)
		}
	}

	rec := g.engine.Evaluate(ctx, ev, env)
	outcome := g.gate.Check(rec)

	sent := false
	if outcome.Emitted && rec.ResponseText != nil {
		g.bus.Outbound <- bus.OutboundMessage{
			Channel: msg.Channel,
			ChatID:  msg.ChatID,
			Content: *rec.ResponseText,
		}
		sent = true
		log.Printf("[gateway] reply for event %s via %s: %s", ev.EventID, rec.Route, truncate(*rec.ResponseText, 80))
	} else {
		log.Printf("[gateway] silent for event %s: %s", ev.EventID, outcome.Reason)
	}

	g.engine.ApplyOutputFeedback(ev.EventID, outcome.Emitted, sent)
}

// eventFromMessage adapts a bus message to a pipeline event. A missing
// event id gets a fresh one so feedback can still be correlated.
func eventFromMessage(msg bus.InboundMessage) roonie.Event {
	metadata := make(map[string]any, len(msg.Metadata)+2)
	for k, v := range msg.Metadata {
		metadata[k] = v
	}

	eventID, _ := metadata["event_id"].(string)
	if eventID == "" {
		eventID = uuid.NewString()
		metadata["event_id"] = eventID
	}
	if s, _ := metadata["session_id"].(string); s == "" {
		metadata["session_id"] = msg.SessionKey()
	}
	if s, _ := metadata["user"].(string); s == "" {
		metadata["user"] = msg.SenderID
	}

	return roonie.Event{
		EventID:  eventID,
		Message:  msg.Content,
		Actor:    msg.SenderID,
		Metadata: metadata,
	}
}

// Shutdown stops services and closes stores.
func (g *Gateway) Shutdown() error {
	g.cron.Stop()
	_ = g.channels.StopAll()
	if err := g.shadow.Close(); err != nil {
		log.Printf("[gateway] close shadow log warning: %v", err)
	}
	if err := g.store.Close(); err != nil {
		log.Printf("[gateway] close memory store warning: %v", err)
	}
	log.Printf("[gateway] shutdown complete")
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
