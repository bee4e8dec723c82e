package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"panwatch/internal/metrics"
	"panwatch/internal/notify"
	"panwatch/pkg/panwatch"
)

// Recorder persists run audits and archives analyses.
type Recorder interface {
	AddAgentRun(ctx context.Context, run panwatch.AgentRun) (int64, error)
	SaveAnalysis(ctx context.Context, rec panwatch.AnalysisRecord) error
}

// PipelineOptions configures a Pipeline.
type PipelineOptions struct {
	Recorder Recorder
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	Clock    func() time.Time
	Location *time.Location
}

// Pipeline drives agents through collect, analyze, decide and notify.
type Pipeline struct {
	recorder Recorder
	metrics  *metrics.Metrics
	logger   *slog.Logger
	clock    func() time.Time
	location *time.Location
}

// batchSymbol is the archive key for analyses that cover the whole watchlist.
const batchSymbol = "*"

// NewPipeline returns a pipeline. A nil Recorder disables auditing.
func NewPipeline(opts PipelineOptions) *Pipeline {
	p := &Pipeline{
		recorder: opts.Recorder,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		clock:    opts.Clock,
		location: opts.Location,
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.clock == nil {
		p.clock = time.Now
	}
	if p.location == nil {
		p.location = panwatch.ShanghaiLocation()
	}
	return p
}

// Run executes a over the whole watchlist: one collect, one analysis and at
// most one notification.
func (p *Pipeline) Run(ctx context.Context, a Agent, c *Context) (*Result, error) {
	return p.execute(ctx, a, c, "", false)
}

// RunForStock runs a with batch semantics over a watchlist holding one stock.
// The run is audited and archived under symbol, leaving the watchlist-wide
// analysis untouched.
func (p *Pipeline) RunForStock(ctx context.Context, a Agent, c *Context, symbol string) (*Result, error) {
	return p.execute(ctx, a, c, symbol, false)
}

// RunSingle narrows the watchlist to symbol and runs the pipeline for it
// alone. The original watchlist is restored on every exit path. It returns
// nil when symbol is not in the watchlist or nothing was collected.
func (p *Pipeline) RunSingle(ctx context.Context, a Agent, c *Context, symbol string) (*Result, error) {
	original := c.Watchlist
	defer func() { c.Watchlist = original }()

	c.Watchlist = narrowWatchlist(original, symbol)
	if len(c.Watchlist) == 0 {
		return nil, nil
	}
	return p.execute(ctx, a, c, c.Watchlist[0].Symbol, true)
}

type execution struct {
	runID  string
	agent  string
	symbol string
	start  time.Time
	sm     *stateMachine
	logger *slog.Logger
}

func (p *Pipeline) execute(ctx context.Context, a Agent, c *Context, symbol string, single bool) (*Result, error) {
	name := c.AgentName
	if name == "" {
		name = a.Kind().String()
	}
	ex := &execution{runID: uuid.NewString(), agent: name, symbol: symbol, start: p.clock()}
	ex.logger = p.logger.With("agent", name, "run_id", ex.runID)
	if symbol != "" {
		ex.logger = ex.logger.With("symbol", symbol)
	}
	ex.sm = newStateMachine(ex.logger)

	ex.sm.to(StateCollecting)
	data, err := a.Collect(ctx, c)
	if err != nil {
		ex.sm.to(StateFailed)
		err = fmt.Errorf("collect: %w", err)
		p.finish(ctx, ex, nil, err)
		return nil, err
	}
	if data == nil {
		data = &Data{Timestamp: p.clock()}
	}
	if single && data.Empty() && data.SkipReason == "" {
		ex.sm.to(StateDone)
		p.finish(ctx, ex, nil, nil)
		return nil, nil
	}

	ex.sm.to(StateAnalyzing)
	res, err := a.Analyze(ctx, c, data)
	if err != nil {
		ex.sm.to(StateFailed)
		err = fmt.Errorf("analyze: %w", err)
		p.finish(ctx, ex, nil, err)
		return nil, err
	}
	if res == nil {
		res = &Result{Skipped: true}
	}
	if res.AgentName == "" {
		res.AgentName = name
	}
	if res.Symbol == "" {
		res.Symbol = symbol
	}

	ex.sm.to(StateDecidingNotify)
	var notifyErr error
	if !res.Skipped && a.ShouldNotify(ctx, c, res) {
		ex.sm.to(StateNotifying)
		notifyErr = p.deliver(ctx, ex, c, res)
	} else {
		ex.sm.to(StateSkipped)
		p.metrics.Notification(name, "suppressed")
	}
	ex.sm.to(StateDone)

	p.archive(ctx, ex, res)
	p.finish(ctx, ex, res, notifyErr)
	return res, nil
}

// deliver sends the result. A delivery failure is recorded on the run but
// does not fail it.
func (p *Pipeline) deliver(ctx context.Context, ex *execution, c *Context, res *Result) error {
	if c.Notifier == nil {
		p.metrics.Notification(ex.agent, "no_channels")
		ex.logger.Warn("no notifier resolved; result not delivered")
		return nil
	}
	err := c.Notifier.Notify(ctx, notify.Message{Title: res.Title, Content: res.Content, Images: res.Images})
	switch {
	case errors.Is(err, notify.ErrNoChannels):
		p.metrics.Notification(ex.agent, "no_channels")
		ex.logger.Warn("no notify channels configured")
		return nil
	case err != nil:
		p.metrics.Notification(ex.agent, "failed")
		ex.logger.Error("notification failed", "title", res.Title, "err", err)
		return fmt.Errorf("notify: %w", err)
	}
	res.Notified = true
	p.metrics.Notification(ex.agent, "sent")
	ex.logger.Info("notification sent", "title", res.Title)
	return nil
}

func (p *Pipeline) archive(ctx context.Context, ex *execution, res *Result) {
	if p.recorder == nil || res.Skipped {
		return
	}
	symbol := res.Symbol
	if symbol == "" {
		symbol = batchSymbol
	}
	rec := panwatch.AnalysisRecord{
		AgentName:    ex.agent,
		Symbol:       symbol,
		AnalysisDate: p.clock().In(p.location).Format("2006-01-02"),
		Title:        res.Title,
		Content:      res.Content,
		RawData:      res.RawData,
	}
	if err := p.recorder.SaveAnalysis(ctx, rec); err != nil {
		ex.logger.Warn("archive analysis failed", "err", err)
	}
}

func (p *Pipeline) finish(ctx context.Context, ex *execution, res *Result, runErr error) {
	elapsed := p.clock().Sub(ex.start)
	status := panwatch.RunStatusSuccess
	switch {
	case ex.sm.visited(StateFailed):
		status = panwatch.RunStatusFailed
	case res == nil || res.Skipped:
		status = panwatch.RunStatusSkipped
	}
	p.metrics.AgentRun(ex.agent, status, elapsed)

	run := panwatch.AgentRun{
		RunID:      ex.runID,
		AgentName:  ex.agent,
		Symbol:     ex.symbol,
		Status:     status,
		State:      string(ex.sm.current),
		DurationMS: elapsed.Milliseconds(),
	}
	if res != nil {
		run.Title = res.Title
		run.Result = res.Content
		run.Notified = res.Notified
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}

	if status == panwatch.RunStatusFailed {
		ex.logger.Error("agent run failed", "duration_ms", run.DurationMS, "err", runErr)
	} else {
		ex.logger.Info("agent run finished", "status", status, "notified", run.Notified, "duration_ms", run.DurationMS)
	}

	if p.recorder == nil {
		return
	}
	// The audit must land even when the run's own context was cancelled.
	if _, err := p.recorder.AddAgentRun(context.WithoutCancel(ctx), run); err != nil {
		ex.logger.Warn("record agent run failed", "err", err)
	}
}
