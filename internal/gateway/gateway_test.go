package gateway

import (
	"context"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/rooniethecat/roonie/internal/bus"
	"github.com/rooniethecat/roonie/internal/config"
	"github.com/rooniethecat/roonie/internal/cron"
	"github.com/rooniethecat/roonie/internal/roonie"
)

type fakeEngine struct {
	rec       roonie.DecisionRecord
	lastEvent roonie.Event
	fbEventID string
	fbEmitted bool
	fbSent    bool
	fbCalled  bool
}

func (f *fakeEngine) Evaluate(_ context.Context, ev roonie.Event, _ roonie.Env) roonie.DecisionRecord {
	f.lastEvent = ev
	rec := f.rec
	rec.EventID = ev.EventID
	return rec
}

func (f *fakeEngine) ApplyOutputFeedback(eventID string, emitted, sent bool) {
	f.fbCalled = true
	f.fbEventID = eventID
	f.fbEmitted = emitted
	f.fbSent = sent
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dataDir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Bot.DataDir = dataDir
	cfg.Bot.PersonaPolicyPath = ""
	cfg.Bot.LibraryIndexPath = filepath.Join(dataDir, "library", "library_index.json")
	cfg.Memory.DBPath = filepath.Join(dataDir, "memory.sqlite")
	cfg.Channels.Console.Enabled = false
	cfg.Gateway.BufSize = 4
	return cfg
}

func newTestGateway(t *testing.T, engine Engine) *Gateway {
	t.Helper()
	g, err := NewWithOptions(testConfig(t), Options{Engine: engine})
	if err != nil {
		t.Fatalf("NewWithOptions: %v", err)
	}
	t.Cleanup(func() { _ = g.Shutdown() })
	return g
}

func respondRecord(text string) roonie.DecisionRecord {
	return roonie.DecisionRecord{
		Action:       roonie.ActionRespondPublic,
		Route:        "primary:openai",
		ResponseText: roonie.StringPtr(text),
	}
}

func inbound(content string) bus.InboundMessage {
	return bus.InboundMessage{
		Channel:  "console",
		SenderID: "ana",
		ChatID:   "rooniethecat",
		Content:  content,
		Metadata: map[string]any{"event_id": "e1", "is_direct_mention": true},
	}
}

func TestHandleInboundEmitsWhenArmed(t *testing.T) {
	engine := &fakeEngine{rec: respondRecord("Hey! Good to see you.")}
	g := newTestGateway(t, engine)
	g.Gate().Arm()

	g.handleInbound(context.Background(), inbound("@roonie hey"))

	select {
	case msg := <-g.bus.Outbound:
		if msg.Channel != "console" || msg.Content != "Hey! Good to see you." {
			t.Fatalf("outbound = %+v", msg)
		}
	default:
		t.Fatal("no outbound message")
	}
	if !engine.fbCalled || !engine.fbEmitted || !engine.fbSent {
		t.Fatalf("feedback = %+v", engine)
	}
	if engine.fbEventID != "e1" {
		t.Fatalf("feedback event id = %q", engine.fbEventID)
	}
}

func TestHandleInboundDisarmedStaysSilent(t *testing.T) {
	engine := &fakeEngine{rec: respondRecord("Hey!")}
	g := newTestGateway(t, engine)

	g.handleInbound(context.Background(), inbound("@roonie hey"))

	select {
	case msg := <-g.bus.Outbound:
		t.Fatalf("unexpected outbound %+v", msg)
	default:
	}
	if !engine.fbCalled || engine.fbEmitted || engine.fbSent {
		t.Fatalf("feedback = %+v", engine)
	}
}

func TestHandleInboundNoopDecision(t *testing.T) {
	engine := &fakeEngine{rec: roonie.DecisionRecord{Action: roonie.ActionNoop, Route: "none"}}
	g := newTestGateway(t, engine)
	g.Gate().Arm()

	g.handleInbound(context.Background(), inbound("just chatting"))

	select {
	case msg := <-g.bus.Outbound:
		t.Fatalf("unexpected outbound %+v", msg)
	default:
	}
	if engine.fbEmitted || engine.fbSent {
		t.Fatalf("feedback = %+v", engine)
	}
}

func TestHandleInboundPersistsMemoryIntents(t *testing.T) {
	engine := &fakeEngine{rec: roonie.DecisionRecord{Action: roonie.ActionNoop, Route: "none"}}
	g := newTestGateway(t, engine)

	msg := inbound("please don't ping me about raids")
	g.handleInbound(context.Background(), msg)

	items, err := g.store.Items("viewer:ana")
	if err != nil {
		t.Fatalf("Items: %v", err)
	}
	if len(items) == 0 {
		t.Fatal("expected a persisted write intent")
	}
}

func TestEventFromMessageFillsIDs(t *testing.T) {
	msg := bus.InboundMessage{
		Channel:  "console",
		SenderID: "bob",
		ChatID:   "rooniethecat",
		Content:  "hi",
	}
	ev := eventFromMessage(msg)
	if ev.EventID == "" {
		t.Fatal("missing event id")
	}
	if ev.MetaString("session_id") != "console:rooniethecat" {
		t.Fatalf("session id = %q", ev.MetaString("session_id"))
	}

	msg.Metadata = map[string]any{"event_id": "fixed", "session_id": "live-1"}
	ev = eventFromMessage(msg)
	if ev.EventID != "fixed" || ev.MetaString("session_id") != "live-1" {
		t.Fatalf("event = %+v", ev)
	}
}

func TestMaintenanceJobs(t *testing.T) {
	g := newTestGateway(t, &fakeEngine{})

	result, err := g.runMaintenanceJob(cron.CronJob{Payload: cron.Payload{Task: taskUsageRollover}})
	if err != nil {
		t.Fatalf("usage rollover: %v", err)
	}
	if result == "" {
		t.Fatal("empty rollover result")
	}

	if _, err := g.runMaintenanceJob(cron.CronJob{Payload: cron.Payload{Task: taskShadowRotate}}); err != nil {
		t.Fatalf("shadow rotate: %v", err)
	}

	if _, err := g.runMaintenanceJob(cron.CronJob{Payload: cron.Payload{Task: "bogus"}}); err == nil {
		t.Fatal("expected error for unknown task")
	}
}

func TestEngineSelectionPerConfig(t *testing.T) {
	cfg := testConfig(t)
	g, err := NewWithOptions(cfg, Options{})
	if err != nil {
		t.Fatalf("NewWithOptions offline: %v", err)
	}
	if _, ok := g.engine.(*offlineEngine); !ok {
		t.Fatalf("offline config should select the fixed responders, got %T", g.engine)
	}
	_ = g.Shutdown()

	cfg = testConfig(t)
	cfg.Providers.SanitizeStubOutput = true
	g, err = NewWithOptions(cfg, Options{})
	if err != nil {
		t.Fatalf("NewWithOptions stub replay: %v", err)
	}
	if _, ok := g.engine.(*offlineEngine); ok {
		t.Fatal("stub replay should route through the provider director")
	}
	_ = g.Shutdown()
}

func TestRunStopsOnSignal(t *testing.T) {
	sigCh := make(chan os.Signal, 1)
	g, err := NewWithOptions(testConfig(t), Options{Engine: &fakeEngine{}, SignalChan: sigCh})
	if err != nil {
		t.Fatalf("NewWithOptions: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- g.Run(context.Background()) }()

	time.Sleep(100 * time.Millisecond)
	sigCh <- syscall.SIGTERM

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not stop on signal")
	}
}
