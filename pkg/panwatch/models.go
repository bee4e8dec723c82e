package panwatch

import "time"

// ExecutionMode selects how the orchestrator drives an agent.
type ExecutionMode string

const (
	// ModeBatch analyzes the whole watchlist in one pipeline run.
	ModeBatch ExecutionMode = "batch"
	// ModeSingle runs the pipeline once per watchlist symbol.
	ModeSingle ExecutionMode = "single"
)

// Valid reports whether m is a known execution mode.
func (m ExecutionMode) Valid() bool {
	return m == ModeBatch || m == ModeSingle
}

// TradingStyle tags a position with the holder's intended horizon.
type TradingStyle string

const (
	StyleShort TradingStyle = "short"
	StyleSwing TradingStyle = "swing"
	StyleLong  TradingStyle = "long"
)

// Label returns the display label used in prompts.
func (s TradingStyle) Label() string {
	switch s {
	case StyleShort:
		return "短线"
	case StyleLong:
		return "长线"
	default:
		return "波段"
	}
}

func normalizeStyle(s string) TradingStyle {
	switch TradingStyle(s) {
	case StyleShort, StyleSwing, StyleLong:
		return TradingStyle(s)
	default:
		return StyleSwing
	}
}

// AgentConfig is the persisted definition of a schedulable agent.
type AgentConfig struct {
	ID               int64          `json:"id"`
	Name             string         `json:"name"`
	DisplayName      string         `json:"display_name"`
	Description      string         `json:"description"`
	Schedule         string         `json:"schedule"`
	ExecutionMode    ExecutionMode  `json:"execution_mode"`
	Enabled          bool           `json:"enabled"`
	AIModelID        *int64         `json:"ai_model_id,omitempty"`
	NotifyChannelIDs []int64        `json:"notify_channel_ids"`
	Config           map[string]any `json:"config"`
}

// AgentUpdate carries the admin-editable fields of an agent. Nil fields are left unchanged.
type AgentUpdate struct {
	Enabled          *bool          `json:"enabled,omitempty"`
	Schedule         *string        `json:"schedule,omitempty"`
	ExecutionMode    *ExecutionMode `json:"execution_mode,omitempty"`
	AIModelID        *int64         `json:"ai_model_id,omitempty"`
	ClearAIModel     bool           `json:"clear_ai_model,omitempty"`
	NotifyChannelIDs *[]int64       `json:"notify_channel_ids,omitempty"`
	Config           map[string]any `json:"config,omitempty"`
}

// Stock is a tracked security.
type Stock struct {
	ID      int64  `json:"id"`
	Symbol  string `json:"symbol"`
	Name    string `json:"name"`
	Market  string `json:"market"`
	Enabled bool   `json:"enabled"`
}

// StockAgent associates a stock with an agent, with optional overrides.
type StockAgent struct {
	ID               int64   `json:"id"`
	StockID          int64   `json:"stock_id"`
	AgentName        string  `json:"agent_name"`
	AIModelID        *int64  `json:"ai_model_id,omitempty"`
	NotifyChannelIDs []int64 `json:"notify_channel_ids"`
}

// Account is a brokerage account.
type Account struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	AvailableFunds Amount `json:"available_funds"`
	Enabled        bool   `json:"enabled"`
}

// Position is one holding of a stock inside an account.
type Position struct {
	ID             int64        `json:"id"`
	AccountID      int64        `json:"account_id"`
	StockID        int64        `json:"stock_id"`
	CostPrice      Amount       `json:"cost_price"`
	Quantity       int64        `json:"quantity"`
	InvestedAmount *Amount      `json:"invested_amount,omitempty"`
	TradingStyle   TradingStyle `json:"trading_style"`
}

// AIService is an AI provider endpoint.
type AIService struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	BaseURL string `json:"base_url"`
	APIKey  string `json:"-"`
}

// AIModel is a model offered by an AIService.
type AIModel struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	ServiceID int64  `json:"service_id"`
	Model     string `json:"model"`
	IsDefault bool   `json:"is_default"`
}

// NotifyChannel is a configured notification destination.
type NotifyChannel struct {
	ID        int64             `json:"id"`
	Name      string            `json:"name"`
	Type      string            `json:"type"`
	Config    map[string]string `json:"config"`
	Enabled   bool              `json:"enabled"`
	IsDefault bool              `json:"is_default"`
}

// ThrottleKey identifies a throttle record.
type ThrottleKey struct {
	AgentName string
	Symbol    string
}

// ThrottleRecord is the last notification sent for a ThrottleKey.
type ThrottleRecord struct {
	ThrottleKey
	LastNotifyAt time.Time
	NotifyCount  int
}

// Run statuses stored in agent_runs.
const (
	RunStatusSuccess = "success"
	RunStatusSkipped = "skipped"
	RunStatusFailed  = "failed"
)

// AgentRun is the audit record of one pipeline execution.
type AgentRun struct {
	ID         int64  `json:"id"`
	RunID      string `json:"run_id"`
	AgentName  string `json:"agent_name"`
	Symbol     string `json:"symbol,omitempty"`
	Status     string `json:"status"`
	State      string `json:"state"`
	Title      string `json:"title,omitempty"`
	Result     string `json:"result,omitempty"`
	Error      string `json:"error,omitempty"`
	Notified   bool   `json:"notified"`
	DurationMS int64  `json:"duration_ms"`
	CreatedAt  string `json:"created_at"`
}

// AnalysisRecord is an archived analysis, keyed by agent, symbol and date.
type AnalysisRecord struct {
	ID           int64          `json:"id"`
	AgentName    string         `json:"agent_name"`
	Symbol       string         `json:"symbol"`
	AnalysisDate string         `json:"analysis_date"`
	Title        string         `json:"title"`
	Content      string         `json:"content"`
	RawData      map[string]any `json:"raw_data,omitempty"`
	UpdatedAt    string         `json:"updated_at"`
}

// LogEntry is a persisted log record.
type LogEntry struct {
	ID        int64  `json:"id"`
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Message   string `json:"message"`
	Attrs     string `json:"attrs,omitempty"`
}
