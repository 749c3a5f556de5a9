// Package gate is the final authority between a RESPOND_PUBLIC decision and
// an actual post. Control state (arming, kill switch, timed silence) and
// pacing (global rate limit, per-category cooldowns) both live here; a fresh
// process always starts disarmed.
package gate

import (
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/rooniethecat/roonie/internal/behavior"
	"github.com/rooniethecat/roonie/internal/roonie"
)

// Block reasons, in the order they are reported.
const (
	BlockKillSwitch = "KILL_SWITCH"
	BlockDisarmed   = "DISARMED"
	BlockDryRun     = "DRY_RUN"
	BlockSilence    = "SILENCE_TTL"
)

// Outcome reasons beyond the control blocks.
const (
	ReasonEmitted         = "EMITTED"
	ReasonNoop            = "NOOP"
	ReasonNotAllowed      = "ACTION_NOT_ALLOWED"
	ReasonRateLimit       = "RATE_LIMIT"
	ReasonDisallowedEmote = "DISALLOWED_EMOTE"
)

// DefaultEmitEvery is the minimum spacing between any two posts.
const DefaultEmitEvery = 6 * time.Second

// DefaultSilenceTTL is the silence window applied when none is given.
const DefaultSilenceTTL = 5 * time.Minute

var tokenRE = regexp.MustCompile(`\b[A-Za-z0-9_]{3,32}\b`)

// Outcome reports what the gate did with one decision.
type Outcome struct {
	EventID           string        `json:"event_id"`
	SessionID         string        `json:"session_id,omitempty"`
	Category          string        `json:"category"`
	Emitted           bool          `json:"emitted"`
	Reason            string        `json:"reason"`
	CooldownKey       string        `json:"cooldown_key,omitempty"`
	CooldownRemaining time.Duration `json:"cooldown_remaining,omitempty"`
}

// Status is a point-in-time view of the control state.
type Status struct {
	Armed        bool      `json:"armed"`
	KillSwitch   bool      `json:"kill_switch"`
	DryRun       bool      `json:"dry_run"`
	Silenced     bool      `json:"silenced"`
	SilenceUntil time.Time `json:"silence_until"`
	BlockedBy    []string  `json:"blocked_by"`
}

// CanPost reports whether outbound posting is currently possible at all.
func (s Status) CanPost() bool { return len(s.BlockedBy) == 0 }

// Options configures a Gate.
type Options struct {
	// EmitEvery is the global post spacing; zero means DefaultEmitEvery.
	EmitEvery time.Duration
	// DryRun suppresses every outbound post while leaving the rest of the
	// pipeline observable.
	DryRun bool
	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// Gate holds control and pacing state. Safe for concurrent use.
type Gate struct {
	mu           sync.Mutex
	armed        bool
	killSwitch   bool
	dryRun       bool
	silenceUntil time.Time

	emitLimiter *rate.Limiter
	cooldowns   map[behavior.Category]*rate.Limiter
	now         func() time.Time
}

// New returns a disarmed gate.
func New(opts Options) *Gate {
	every := opts.EmitEvery
	if every <= 0 {
		every = DefaultEmitEvery
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Gate{
		dryRun:      opts.DryRun,
		emitLimiter: rate.NewLimiter(rate.Every(every), 1),
		cooldowns:   map[behavior.Category]*rate.Limiter{},
		now:         clock,
	}
}

// Arm enables posting. It does not clear the kill switch or silence.
func (g *Gate) Arm() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.armed = true
}

// Disarm disables posting.
func (g *Gate) Disarm() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.armed = false
}

// SetKillSwitch toggles the hard stop.
func (g *Gate) SetKillSwitch(on bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.killSwitch = on
}

// SilenceFor mutes posting for d (DefaultSilenceTTL when d <= 0).
func (g *Gate) SilenceFor(d time.Duration) {
	if d <= 0 {
		d = DefaultSilenceTTL
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.silenceUntil = g.now().Add(d)
}

// ClearSilence lifts an active silence window.
func (g *Gate) ClearSilence() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.silenceUntil = time.Time{}
}

// Status reports the control state and the blocks currently in effect.
func (g *Gate) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	silenced := g.silencedLocked()
	st := Status{
		Armed:      g.armed,
		KillSwitch: g.killSwitch,
		DryRun:     g.dryRun,
		Silenced:   silenced,
		BlockedBy:  g.blocksLocked(silenced),
	}
	if silenced {
		st.SilenceUntil = g.silenceUntil
	}
	return st
}

func (g *Gate) silencedLocked() bool {
	return !g.silenceUntil.IsZero() && g.now().Before(g.silenceUntil)
}

func (g *Gate) blocksLocked(silenced bool) []string {
	blocks := []string{}
	if g.killSwitch {
		blocks = append(blocks, BlockKillSwitch)
	}
	if !g.armed {
		blocks = append(blocks, BlockDisarmed)
	}
	if g.dryRun {
		blocks = append(blocks, BlockDryRun)
	}
	if silenced {
		blocks = append(blocks, BlockSilence)
	}
	return blocks
}

func decisionCategory(rec roonie.DecisionRecord) string {
	if rec.Trace.Behavior != nil && rec.Trace.Behavior.Category != "" {
		return strings.ToUpper(rec.Trace.Behavior.Category)
	}
	return string(behavior.CategoryOther)
}

func decisionSessionID(rec roonie.DecisionRecord) string {
	if rec.Trace.Proposal != nil {
		return rec.Trace.Proposal.SessionID
	}
	return ""
}

func looksLikeEmote(token string) bool {
	if token == "" {
		return false
	}
	if strings.Contains(token, "_") {
		return true
	}
	for i := 1; i < len(token); i++ {
		if token[i] >= 'A' && token[i] <= 'Z' && token[i-1] >= 'a' && token[i-1] <= 'z' {
			return true
		}
	}
	return false
}

// disallowedEmote returns the first emote-shaped token outside the approved
// set, or "". With no approved set the check is skipped entirely.
func disallowedEmote(text string, approved []string) string {
	allowed := map[string]bool{}
	for _, item := range approved {
		if t := strings.TrimSpace(item); t != "" {
			allowed[t] = true
		}
	}
	if len(allowed) == 0 {
		return ""
	}
	for _, token := range tokenRE.FindAllString(text, -1) {
		if looksLikeEmote(token) && !allowed[token] {
			return token
		}
	}
	return ""
}

func (g *Gate) cooldownLimiter(key behavior.Category, window time.Duration) *rate.Limiter {
	lim, ok := g.cooldowns[key]
	if !ok {
		lim = rate.NewLimiter(rate.Every(window), 1)
		g.cooldowns[key] = lim
	}
	return lim
}

// Check decides whether one decision may post. Exactly the decisions that
// come back Emitted should be forwarded to a channel; everything else stays
// silent with the reason recorded.
func (g *Gate) Check(rec roonie.DecisionRecord) Outcome {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	out := Outcome{
		EventID:   rec.EventID,
		SessionID: decisionSessionID(rec),
		Category:  decisionCategory(rec),
	}

	if rec.Action != roonie.ActionRespondPublic {
		reason := rec.Trace.SuppressionReason
		if reason == "" {
			reason = rec.Trace.ProviderBlockReason
		}
		if reason == "" {
			if rec.Action == roonie.ActionNoop {
				reason = ReasonNoop
			} else {
				reason = ReasonNotAllowed
			}
		}
		out.Reason = reason
		return out
	}

	if blocks := g.blocksLocked(g.silencedLocked()); len(blocks) > 0 {
		out.Reason = blocks[0]
		return out
	}

	text := ""
	if rec.ResponseText != nil {
		text = *rec.ResponseText
	}
	var approved []string
	if rec.Trace.Behavior != nil {
		approved = rec.Trace.Behavior.ApprovedEmotes
	}
	if emote := disallowedEmote(text, approved); emote != "" {
		out.Reason = ReasonDisallowedEmote
		return out
	}

	key, window, cooldownReason := behavior.Cooldown(behavior.Category(out.Category))
	var res *rate.Reservation
	if window > 0 {
		res = g.cooldownLimiter(key, window).ReserveN(now, 1)
		if delay := res.DelayFrom(now); delay > 0 {
			res.CancelAt(now)
			out.Reason = cooldownReason
			out.CooldownKey = string(key)
			out.CooldownRemaining = delay
			return out
		}
	}

	if !g.emitLimiter.AllowN(now, 1) {
		if res != nil {
			res.CancelAt(now)
		}
		out.Reason = ReasonRateLimit
		return out
	}

	out.Emitted = true
	out.Reason = ReasonEmitted
	return out
}
