// Package engine wires configuration, storage and agents into the service
// that schedules and triggers agent runs.
package engine

import (
	"context"
	"log/slog"
	"strings"

	"panwatch/internal/ai"
	"panwatch/internal/config"
	"panwatch/pkg/panwatch"
)

// ConfigStore is the persistence the resolver reads.
type ConfigStore interface {
	GetAgent(ctx context.Context, name string) (*panwatch.AgentConfig, error)
	GetStockAgent(ctx context.Context, id int64) (*panwatch.StockAgent, error)
	DefaultAIModelID(ctx context.Context) (int64, bool, error)
	FirstAIModelID(ctx context.Context) (int64, bool, error)
	GetAIModel(ctx context.Context, id int64) (*panwatch.AIModel, *panwatch.AIService, error)
	EnabledChannelsByIDs(ctx context.Context, ids []int64) ([]panwatch.NotifyChannel, error)
	DefaultChannels(ctx context.Context) ([]panwatch.NotifyChannel, error)
	GetSetting(ctx context.Context, key string) (string, error)
}

// Scope selects what to resolve for. AssociationID 0 means no override.
type Scope struct {
	AgentName     string
	AssociationID int64
}

// ModelChoice is the resolved AI endpoint.
type ModelChoice struct {
	Endpoint ai.Endpoint
	Model    *panwatch.AIModel
	Service  *panwatch.AIService
	// Fallback is true when nothing in the database applied.
	Fallback bool
}

// Label renders "service/model", or "" for the fallback endpoint.
func (m ModelChoice) Label() string {
	if m.Fallback || m.Model == nil || m.Service == nil {
		return ""
	}
	return ai.Label(m.Service.Name, m.Model.Model)
}

// Resolution is everything the cascade decided for one scope.
type Resolution struct {
	Model    ModelChoice
	Channels []panwatch.NotifyChannel
	Proxy    string
}

type step[T any] struct {
	name string
	fn   func(ctx context.Context, s Scope) (T, bool, error)
}

// firstPresent runs steps in order and stops at the first one that yields a
// value. Errors are logged and the step counts as absent.
func firstPresent[T any](ctx context.Context, logger *slog.Logger, what string, s Scope, steps []step[T]) (T, string, bool) {
	for _, st := range steps {
		v, ok, err := st.fn(ctx, s)
		if err != nil {
			logger.Warn("config resolution step failed", "resolving", what, "step", st.name, "agent", s.AgentName, "err", err)
			continue
		}
		if ok {
			return v, st.name, true
		}
	}
	var zero T
	return zero, "", false
}

// Resolver implements the association, agent, system cascade.
type Resolver struct {
	store    ConfigStore
	fallback config.AI
	proxy    string
	logger   *slog.Logger

	modelSteps   []step[int64]
	channelSteps []step[[]panwatch.NotifyChannel]
}

// NewResolver returns a resolver. fallback and defaultProxy come from the
// process settings.
func NewResolver(store ConfigStore, fallback config.AI, defaultProxy string, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Resolver{store: store, fallback: fallback, proxy: defaultProxy, logger: logger}
	r.modelSteps = []step[int64]{
		{"association", r.associationModel},
		{"agent", r.agentModel},
		{"system_default", func(ctx context.Context, _ Scope) (int64, bool, error) { return store.DefaultAIModelID(ctx) }},
		{"first", func(ctx context.Context, _ Scope) (int64, bool, error) { return store.FirstAIModelID(ctx) }},
	}
	r.channelSteps = []step[[]panwatch.NotifyChannel]{
		{"association", r.associationChannels},
		{"agent", r.agentChannels},
		{"system_default", func(ctx context.Context, _ Scope) ([]panwatch.NotifyChannel, bool, error) {
			chs, err := store.DefaultChannels(ctx)
			return chs, err == nil, err
		}},
	}
	return r
}

// Resolve runs all three cascades. It never fails.
func (r *Resolver) Resolve(ctx context.Context, s Scope) Resolution {
	return Resolution{
		Model:    r.ResolveModel(ctx, s),
		Channels: r.ResolveChannels(ctx, s),
		Proxy:    r.ResolveProxy(ctx),
	}
}

// ResolveModel picks the AI model, falling back to the configured endpoint.
func (r *Resolver) ResolveModel(ctx context.Context, s Scope) ModelChoice {
	id, from, ok := firstPresent(ctx, r.logger, "ai_model", s, r.modelSteps)
	if ok {
		model, service, err := r.store.GetAIModel(ctx, id)
		if err == nil {
			r.logger.Debug("ai model resolved", "agent", s.AgentName, "tier", from, "model_id", id)
			return ModelChoice{
				Endpoint: ai.Endpoint{BaseURL: service.BaseURL, APIKey: service.APIKey, Model: model.Model},
				Model:    model,
				Service:  service,
			}
		}
		r.logger.Warn("resolved ai model unavailable, using fallback endpoint", "agent", s.AgentName, "model_id", id, "err", err)
	}
	return ModelChoice{
		Endpoint: ai.Endpoint{BaseURL: r.fallback.BaseURL, APIKey: r.fallback.APIKey, Model: r.fallback.Model},
		Fallback: true,
	}
}

// ResolveChannels returns the enabled channels for the first tier with an
// explicit list, else every enabled default channel.
func (r *Resolver) ResolveChannels(ctx context.Context, s Scope) []panwatch.NotifyChannel {
	chs, _, _ := firstPresent(ctx, r.logger, "notify_channels", s, r.channelSteps)
	return chs
}

// ResolveProxy returns the runtime proxy setting or the process default.
func (r *Resolver) ResolveProxy(ctx context.Context) string {
	v, err := r.store.GetSetting(ctx, panwatch.SettingHTTPProxy)
	if err != nil {
		r.logger.Warn("read proxy setting failed", "err", err)
	}
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return r.proxy
}

func (r *Resolver) association(ctx context.Context, s Scope) (*panwatch.StockAgent, error) {
	if s.AssociationID == 0 {
		return nil, nil
	}
	sa, err := r.store.GetStockAgent(ctx, s.AssociationID)
	if panwatch.IsNotFound(err) {
		return nil, nil
	}
	return sa, err
}

func (r *Resolver) agent(ctx context.Context, s Scope) (*panwatch.AgentConfig, error) {
	a, err := r.store.GetAgent(ctx, s.AgentName)
	if panwatch.IsNotFound(err) {
		return nil, nil
	}
	return a, err
}

func (r *Resolver) associationModel(ctx context.Context, s Scope) (int64, bool, error) {
	sa, err := r.association(ctx, s)
	if err != nil || sa == nil || sa.AIModelID == nil {
		return 0, false, err
	}
	return *sa.AIModelID, true, nil
}

func (r *Resolver) agentModel(ctx context.Context, s Scope) (int64, bool, error) {
	a, err := r.agent(ctx, s)
	if err != nil || a == nil || a.AIModelID == nil {
		return 0, false, err
	}
	return *a.AIModelID, true, nil
}

func (r *Resolver) associationChannels(ctx context.Context, s Scope) ([]panwatch.NotifyChannel, bool, error) {
	sa, err := r.association(ctx, s)
	if err != nil || sa == nil || len(sa.NotifyChannelIDs) == 0 {
		return nil, false, err
	}
	chs, err := r.store.EnabledChannelsByIDs(ctx, sa.NotifyChannelIDs)
	return chs, err == nil, err
}

func (r *Resolver) agentChannels(ctx context.Context, s Scope) ([]panwatch.NotifyChannel, bool, error) {
	a, err := r.agent(ctx, s)
	if err != nil || a == nil || len(a.NotifyChannelIDs) == 0 {
		return nil, false, err
	}
	chs, err := r.store.EnabledChannelsByIDs(ctx, a.NotifyChannelIDs)
	return chs, err == nil, err
}
