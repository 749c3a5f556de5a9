package provider

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"log"
	"sort"
	"time"
)

// Suppression reasons. A suppressed request yields silence, never an error
// surfaced to chat.
const (
	SuppressCostCap         = "COST_CAP"
	SuppressProviderError   = "PROVIDER_ERROR"
	SuppressModerationBlock = "MODERATION_BLOCK"
)

// RouteRequest is one generation request entering the router.
type RouteRequest struct {
	EventID   string
	SessionID string
	Prompt    string
	Message   string
	Category  string
	// Seed drives weighted selection; empty falls back to EventID so
	// replays of the same event stay deterministic.
	Seed string
}

// RouteResult is the contained outcome of a routing attempt. Provider
// failures never escape as errors; they become a suppression reason and
// the pipeline stays silent.
type RouteResult struct {
	Text              string
	Provider          string
	RoutingEnabled    bool
	RoutingClass      string
	OverrideMode      string
	GeneralRouteMode  string
	ModerationStatus  string
	SuppressionReason string
	LatencyMS         int64
}

// Silent reports whether the result carries no sendable text.
func (r RouteResult) Silent() bool { return r.Text == "" }

// Router selects a provider per request and contains every failure mode
// behind the silence-first contract.
type Router struct {
	registry  *Registry
	runtime   *ConfigStore
	routing   *RoutingStore
	metrics   *Metrics
	moderator Moderator
	shadow    *ShadowLog
	// shadowProvider, when set, gets a best-effort duplicate call whose
	// output is logged and discarded.
	shadowProvider string
}

// RouterOptions wires a Router.
type RouterOptions struct {
	Registry       *Registry
	Runtime        *ConfigStore
	Routing        *RoutingStore
	Metrics        *Metrics
	Moderator      Moderator
	Shadow         *ShadowLog
	ShadowProvider string
}

// NewRouter builds a Router. Metrics defaults to a fresh table; a nil
// moderator skips output moderation entirely.
func NewRouter(opts RouterOptions) *Router {
	m := opts.Metrics
	if m == nil {
		m = NewMetrics()
	}
	return &Router{
		registry:       opts.Registry,
		runtime:        opts.Runtime,
		routing:        opts.Routing,
		metrics:        m,
		moderator:      opts.Moderator,
		shadow:         opts.Shadow,
		shadowProvider: opts.ShadowProvider,
	}
}

// Metrics exposes the router's metrics table for the status surface.
func (r *Router) Metrics() *Metrics { return r.metrics }

// Generate routes one request. The returned result is always well formed;
// check Silent() and SuppressionReason, never an error.
func (r *Router) Generate(ctx context.Context, req RouteRequest) RouteResult {
	cfg, err := r.routing.Load()
	if err != nil {
		log.Printf("[router] load routing config: %v", err)
		cfg = DefaultRoutingConfig()
	}

	res := RouteResult{
		RoutingEnabled:   cfg.Enabled,
		OverrideMode:     cfg.ManualOverride,
		GeneralRouteMode: cfg.GeneralRouteMode,
	}

	name := r.selectProvider(req, cfg, &res)
	res.Provider = name
	if name == NameNone {
		return res
	}

	runtime, err := r.runtime.Load()
	if err != nil {
		log.Printf("[router] load runtime config: %v", err)
		res.SuppressionReason = SuppressProviderError
		return res
	}
	if runtime.Caps.HardStopOnCap && runtime.CapReached() {
		res.SuppressionReason = SuppressCostCap
		return res
	}

	p := r.registry.Get(name)
	if p == nil || !p.Enabled() {
		// No usable backend is silence, not an error.
		return res
	}

	// Usage counts toward the cap before the call so a failing provider
	// still burns budget instead of retrying for free all day.
	if err := r.runtime.RecordUsage(estimateTokens(req.Prompt)); err != nil {
		log.Printf("[router] record usage: %v", err)
	}

	start := time.Now()
	text, genErr := p.Generate(ctx, req.Prompt)
	latency := time.Since(start)
	res.LatencyMS = latency.Milliseconds()

	if genErr != nil {
		log.Printf("[router] %s generate: %v", name, genErr)
		r.metrics.RecordFailure(name, latency, genErr)
		res.SuppressionReason = SuppressProviderError
		return res
	}
	r.metrics.RecordSuccess(name, latency)

	r.runShadow(ctx, req, name)

	if text == "" {
		return res
	}

	if r.moderator != nil && name == NameGrok {
		verdict := r.moderator.Check(ctx, text)
		res.ModerationStatus = verdict.Status
		if !verdict.Allowed {
			r.metrics.RecordModerationBlock(name)
			res.SuppressionReason = SuppressModerationBlock
			return res
		}
	}

	res.Text = text
	return res
}

// selectProvider applies override, class, and mode rules in that order.
func (r *Router) selectProvider(req RouteRequest, cfg RoutingConfig, res *RouteResult) string {
	if !cfg.Enabled {
		runtime, err := r.runtime.Load()
		if err != nil {
			return cfg.DefaultProvider
		}
		return runtime.ActiveProvider
	}

	switch cfg.ManualOverride {
	case OverrideForceOpenAI:
		return NameOpenAI
	case OverrideForceGrok:
		return NameGrok
	}

	res.RoutingClass = ClassifyRequest(req.Category, req.Message, cfg.ClassificationRules)
	if res.RoutingClass == ClassMusic {
		return cfg.MusicRouteProvider
	}
	if cfg.GeneralRouteMode == RouteModeWeightedRandom {
		seed := req.Seed
		if seed == "" {
			seed = req.EventID
		}
		return SelectWeighted(r.registry.Names(), cfg.ProviderWeights, seed)
	}
	return cfg.DefaultProvider
}

// SelectWeighted picks a provider by hashing seed into the cumulative
// weight table. The same seed always lands in the same bucket; zero-weight
// providers are unreachable; an all-zero table degrades to a uniform pick.
func SelectWeighted(candidates []string, weights map[string]int, seed string) string {
	if len(candidates) == 0 {
		return NameOpenAI
	}
	sorted := make([]string, len(candidates))
	copy(sorted, candidates)
	sort.Strings(sorted)

	digest := sha256.Sum256([]byte(seed))
	v := binary.BigEndian.Uint64(digest[:8])

	total := 0
	for _, name := range sorted {
		if w := weights[name]; w > 0 {
			total += w
		}
	}
	if total == 0 {
		return sorted[v%uint64(len(sorted))]
	}
	pick := v % uint64(total)
	var cum uint64
	for _, name := range sorted {
		w := weights[name]
		if w <= 0 {
			continue
		}
		cum += uint64(w)
		if pick < cum {
			return name
		}
	}
	return sorted[len(sorted)-1]
}

// runShadow fires the shadow provider without blocking the request path.
func (r *Router) runShadow(ctx context.Context, req RouteRequest, primary string) {
	if r.shadowProvider == "" || r.shadowProvider == primary {
		return
	}
	p := r.registry.Get(r.shadowProvider)
	if p == nil || !p.Enabled() {
		return
	}
	go func() {
		shadowCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 20*time.Second)
		defer cancel()
		start := time.Now()
		out, err := p.Generate(shadowCtx, req.Prompt)
		entry := ShadowEntry{
			EventID:      req.EventID,
			Provider:     r.shadowProvider,
			LatencyMS:    time.Since(start).Milliseconds(),
			OutputLength: len(out),
		}
		if err != nil {
			entry.Error = err.Error()
		}
		r.shadow.Record(entry)
	}()
}

// Rough chars-per-token estimate used for the daily token cap.
func estimateTokens(prompt string) int {
	n := len(prompt) / 4
	if n < 1 {
		n = 1
	}
	return n
}
