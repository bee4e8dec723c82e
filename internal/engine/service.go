package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"panwatch/internal/agent"
	"panwatch/internal/ai"
	"panwatch/internal/config"
	"panwatch/internal/httpclient"
	"panwatch/internal/metrics"
	"panwatch/internal/notify"
	"panwatch/internal/scheduler"
	"panwatch/pkg/panwatch"
)

var (
	ErrUnknownAgent  = errors.New("agent has no registered implementation")
	ErrAgentDisabled = errors.New("agent is disabled")
	ErrShuttingDown  = scheduler.ErrShuttingDown
)

// AIFactory builds the AI client for a resolved endpoint.
type AIFactory func(ctx context.Context, ep ai.Endpoint, proxy string) (ai.Client, error)

// NotifierFactory builds the notifier for resolved channels.
type NotifierFactory func(channels []panwatch.NotifyChannel, proxy string) notify.Notifier

// Options configures a Service.
type Options struct {
	Core     *panwatch.Core
	Settings config.Settings
	Logger   *slog.Logger
	Metrics  *metrics.Metrics

	Quotes agent.QuoteSource
	Gate   agent.TradingGate
	News   agent.NewsSource
	Charts agent.ChartSource

	// NewAI and NewNotifier default to the real providers and channels.
	NewAI       AIFactory
	NewNotifier NotifierFactory
	Clock       func() time.Time
}

// Service is the process-wide agent engine. Construct it once and share it.
type Service struct {
	core      *panwatch.Core
	settings  config.Settings
	logger    *slog.Logger
	metrics   *metrics.Metrics
	resolver  *Resolver
	pipeline  *agent.Pipeline
	scheduler *scheduler.Scheduler
	deps      agent.Deps
	newAI     AIFactory
	notifier  NotifierFactory

	reloadMu sync.Mutex
}

// New builds a Service. It does not start scheduling.
func New(opts Options) (*Service, error) {
	if opts.Core == nil {
		return nil, errors.New("engine: core is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	loc, err := opts.Settings.Location()
	if err != nil {
		return nil, err
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	s := &Service{
		core:     opts.Core,
		settings: opts.Settings,
		logger:   logger,
		metrics:  opts.Metrics,
		resolver: NewResolver(opts.Core, opts.Settings.AI, opts.Settings.HTTPProxy, logger),
		pipeline: agent.NewPipeline(agent.PipelineOptions{
			Recorder: opts.Core,
			Metrics:  opts.Metrics,
			Logger:   logger,
			Clock:    clock,
			Location: loc,
		}),
		scheduler: scheduler.New(scheduler.Options{
			Logger:       logger,
			Location:     loc,
			DrainTimeout: opts.Settings.DrainTimeout(),
		}),
		deps: agent.Deps{
			Quotes:   opts.Quotes,
			Gate:     opts.Gate,
			History:  opts.Core,
			Throttle: opts.Core,
			News:     opts.News,
			Charts:   opts.Charts,
			Clock:    clock,
			Location: loc,
			Logger:   logger,
			Metrics:  opts.Metrics,
		},
		newAI:    opts.NewAI,
		notifier: opts.NewNotifier,
	}
	if s.newAI == nil {
		s.newAI = defaultAIFactory(opts.Settings.AI, logger, opts.Metrics)
	}
	if s.notifier == nil {
		s.notifier = defaultNotifierFactory(opts.Settings.Notify, logger)
	}
	return s, nil
}

func defaultAIFactory(cfg config.AI, logger *slog.Logger, m *metrics.Metrics) AIFactory {
	limiter := ai.NewLimiter(cfg.RequestsPerMinute)
	policy := ai.Policy{
		Timeout:     time.Duration(cfg.TimeoutSeconds) * time.Second,
		MaxTokens:   cfg.MaxTokens,
		MaxAttempts: cfg.MaxAttempts,
		BackoffBase: time.Duration(cfg.BackoffBaseMs) * time.Millisecond,
		BackoffMax:  time.Duration(cfg.BackoffMaxMs) * time.Millisecond,
	}
	return func(ctx context.Context, ep ai.Endpoint, proxy string) (ai.Client, error) {
		hc, err := httpclient.New(proxy, 0)
		if err != nil {
			return nil, err
		}
		return ai.New(ctx, ep, ai.Options{
			HTTPClient: hc,
			Policy:     policy,
			Limiter:    limiter,
			Logger:     logger,
			Observe: func(p ai.Provider, err error, elapsed time.Duration) {
				m.AIRequest(string(p), err, elapsed)
			},
		})
	}
}

func defaultNotifierFactory(cfg config.Notify, logger *slog.Logger) NotifierFactory {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	return func(channels []panwatch.NotifyChannel, proxy string) notify.Notifier {
		hc, err := httpclient.New(proxy, timeout)
		if err != nil {
			logger.Warn("invalid proxy for notifications, using direct connection", "err", err)
			hc, _ = httpclient.New("", timeout)
		}
		return notify.NewManager(logger, timeout, notify.FromConfig(logger, hc, channels)...)
	}
}

// Seed inserts the built-in agents and, when enabled, sample stocks.
func (s *Service) Seed(ctx context.Context) error {
	if err := s.core.SeedAgents(ctx, agent.Definitions()); err != nil {
		return fmt.Errorf("seed agents: %w", err)
	}
	if !s.settings.SeedDemo {
		return nil
	}
	seeded, err := s.core.SeedStocks(ctx, SampleStocks())
	if err != nil {
		return fmt.Errorf("seed stocks: %w", err)
	}
	if seeded {
		s.logger.Info("sample stocks added on first start", "count", len(SampleStocks()))
	}
	return nil
}

// SampleStocks are inserted into an empty stock table.
func SampleStocks() []panwatch.Stock {
	return []panwatch.Stock{
		{Symbol: "600519", Name: "贵州茅台", Market: "CN", Enabled: true},
		{Symbol: "002594", Name: "比亚迪", Market: "CN", Enabled: true},
		{Symbol: "300750", Name: "宁德时代", Market: "CN", Enabled: true},
		{Symbol: "00700", Name: "腾讯控股", Market: "HK", Enabled: true},
		{Symbol: "AAPL", Name: "苹果", Market: "US", Enabled: true},
	}
}

// Start registers enabled agents and begins scheduling.
func (s *Service) Start(ctx context.Context) error {
	if err := s.Reload(ctx); err != nil {
		return err
	}
	s.scheduler.Start()
	return nil
}

// Reload re-reads agent definitions and replaces every cron registration.
// Agents that are disabled, unknown or have no valid schedule stay
// manual-only.
func (s *Service) Reload(ctx context.Context) error {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	agents, err := s.core.ListAgents(ctx)
	if err != nil {
		return fmt.Errorf("list agents: %w", err)
	}
	s.scheduler.Clear()
	registered := 0
	for _, cfg := range agents {
		if !cfg.Enabled {
			continue
		}
		if _, ok := agent.ParseKind(cfg.Name); !ok {
			s.logger.Warn("agent has no implementation, not scheduled", "agent", cfg.Name)
			continue
		}
		if strings.TrimSpace(cfg.Schedule) == "" {
			s.logger.Info("agent has no schedule, manual trigger only", "agent", cfg.Name)
			continue
		}
		name := cfg.Name
		if err := s.scheduler.Register(name, cfg.Schedule, func(ctx context.Context) { s.runScheduled(ctx, name) }); err != nil {
			if errors.Is(err, scheduler.ErrShuttingDown) {
				return ErrShuttingDown
			}
			continue
		}
		registered++
	}
	s.logger.Info("agent schedules loaded", "registered", registered, "agents", len(agents))
	return nil
}

// Schedules lists the active cron registrations.
func (s *Service) Schedules() []scheduler.Entry { return s.scheduler.Entries() }

// Stop halts scheduled firing and rejects new triggers. Runs in flight keep
// going until Shutdown drains them.
func (s *Service) Stop() {
	s.scheduler.Stop()
}

// Shutdown stops scheduling and waits for in-flight runs.
func (s *Service) Shutdown(ctx context.Context) error {
	return s.scheduler.Shutdown(ctx)
}

func (s *Service) runScheduled(ctx context.Context, name string) {
	cfg, err := s.core.GetAgent(ctx, name)
	if err != nil {
		s.logger.Error("load agent for scheduled run failed", "agent", name, "err", err)
		return
	}
	if !cfg.Enabled {
		s.logger.Info("agent disabled since registration, skipping", "agent", name)
		return
	}
	summary, err := s.execute(ctx, cfg)
	if err != nil {
		s.logger.Error("scheduled run failed", "agent", name, "err", err)
		return
	}
	s.logger.Info("scheduled run complete", "agent", name, "summary", truncate(summary, 200))
}

// Trigger runs an agent now, through the same path as a cron firing, and
// returns a human-readable summary.
func (s *Service) Trigger(ctx context.Context, name string) (string, error) {
	cfg, err := s.lookup(ctx, name)
	if err != nil {
		return "", err
	}
	if !cfg.Enabled {
		return "", fmt.Errorf("%s: %w", name, ErrAgentDisabled)
	}
	var summary string
	err = s.scheduler.Do(ctx, func(ctx context.Context) error {
		var runErr error
		summary, runErr = s.execute(ctx, cfg)
		return runErr
	})
	return summary, err
}

func (s *Service) lookup(ctx context.Context, name string) (*panwatch.AgentConfig, error) {
	if _, ok := agent.ParseKind(name); !ok {
		if _, err := s.core.GetAgent(ctx, name); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%s: %w", name, ErrUnknownAgent)
	}
	return s.core.GetAgent(ctx, name)
}

func (s *Service) execute(ctx context.Context, cfg *panwatch.AgentConfig) (string, error) {
	kind, ok := agent.ParseKind(cfg.Name)
	if !ok {
		return "", fmt.Errorf("%s: %w", cfg.Name, ErrUnknownAgent)
	}
	watchlist, err := s.core.WatchlistForAgent(ctx, cfg.Name)
	if err != nil {
		return "", err
	}
	if len(watchlist) == 0 {
		return fmt.Sprintf("Agent %s 没有关联的自选股", cfg.Name), nil
	}
	portfolio, err := s.core.PortfolioForAgent(ctx, cfg.Name)
	if err != nil {
		return "", err
	}

	res := s.resolver.Resolve(ctx, Scope{AgentName: cfg.Name})
	s.logTrigger(cfg.Name, watchlist, res)
	c := s.buildContext(ctx, cfg, watchlist, portfolio, res)
	a, err := agent.New(kind, s.deps, cfg.Config)
	if err != nil {
		return "", err
	}

	if cfg.ExecutionMode == panwatch.ModeSingle {
		return s.runEach(ctx, a, c)
	}
	out, err := s.pipeline.Run(ctx, a, c)
	if err != nil {
		return "", err
	}
	return out.Content, nil
}

// runEach drives a single-mode agent one symbol at a time. A failed symbol
// does not stop the others; the run errors only when every symbol failed.
func (s *Service) runEach(ctx context.Context, a agent.Agent, c *agent.Context) (string, error) {
	symbols := make([]panwatch.Stock, len(c.Watchlist))
	copy(symbols, c.Watchlist)

	var lines []string
	var errs []error
	for _, stock := range symbols {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		res, err := s.pipeline.RunSingle(ctx, a, c, stock.Symbol)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", stock.Symbol, err))
			lines = append(lines, fmt.Sprintf("%s: 执行失败: %v", stock.Name, err))
			continue
		}
		if res != nil && !res.Skipped {
			lines = append(lines, fmt.Sprintf("%s: %s", stock.Name, truncate(res.Content, 100)))
		}
	}
	if len(errs) > 0 && len(errs) >= len(symbols) {
		return "", errors.Join(errs...)
	}
	if len(lines) == 0 {
		return "无异动", nil
	}
	return strings.Join(lines, "\n\n"), nil
}

func (s *Service) buildContext(ctx context.Context, cfg *panwatch.AgentConfig, watchlist []panwatch.Stock, portfolio panwatch.PortfolioView, res Resolution) *agent.Context {
	c := &agent.Context{
		AgentName:   cfg.Name,
		DisplayName: cfg.DisplayName,
		Watchlist:   watchlist,
		Portfolio:   portfolio,
		Notifier:    s.notifier(res.Channels, res.Proxy),
		ModelLabel:  res.Model.Label(),
	}
	client, err := s.newAI(ctx, res.Model.Endpoint, res.Proxy)
	if err != nil {
		s.logger.Error("build ai client failed", "agent", cfg.Name, "err", err)
	} else {
		c.AI = client
	}
	return c
}

func (s *Service) logTrigger(name string, stocks []panwatch.Stock, res Resolution) {
	names := make([]string, len(stocks))
	for i, st := range stocks {
		names[i] = fmt.Sprintf("%s(%s)", st.Name, st.Symbol)
	}
	aiInfo := res.Model.Label()
	if aiInfo == "" {
		aiInfo = "fallback:" + res.Model.Endpoint.Model
	}
	channels := make([]string, len(res.Channels))
	for i, ch := range res.Channels {
		channels[i] = ch.Name
	}
	s.logger.Info("[trigger]", "agent", name, "stocks", strings.Join(names, ", "),
		"ai", aiInfo, "channels", strings.Join(channels, ", "))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// UpdateAgent applies an admin edit and reloads schedules.
func (s *Service) UpdateAgent(ctx context.Context, name string, upd panwatch.AgentUpdate) (*panwatch.AgentConfig, error) {
	if upd.Schedule != nil && strings.TrimSpace(*upd.Schedule) != "" {
		if err := scheduler.Validate(*upd.Schedule); err != nil {
			return nil, panwatch.WrapError(panwatch.ErrCodeInvalidInput, "invalid cron schedule", err)
		}
	}
	cfg, err := s.core.UpdateAgent(ctx, name, upd)
	if err != nil {
		return nil, err
	}
	if err := s.Reload(ctx); err != nil {
		s.logger.Error("reload schedules after agent update failed", "agent", name, "err", err)
	}
	return cfg, nil
}
