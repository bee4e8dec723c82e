package market

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/encoding/simplifiedchinese"

	"panwatch/internal/httpclient"
)

const maxResponseSize = 1 << 20

// Quote collection errors. Use errors.Is to check for these conditions.
var (
	ErrNoData        = errors.New("no quote data available")
	ErrSourceCooling = errors.New("quote source cooling down after repeated failures")
)

// Quote is a live snapshot of one symbol.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Name      string    `json:"name"`
	Market    Code      `json:"market"`
	Price     float64   `json:"current_price"`
	PrevClose float64   `json:"prev_close"`
	Open      float64   `json:"open_price"`
	High      float64   `json:"high_price"`
	Low       float64   `json:"low_price"`
	Change    float64   `json:"change_amount"`
	ChangePct float64   `json:"change_pct"`
	Volume    float64   `json:"volume"`
	Turnover  float64   `json:"turnover"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Source fetches quotes for symbols of one market.
type Source interface {
	Name() string
	Fetch(ctx context.Context, market Code, symbols []string) (map[string]Quote, error)
}

// TencentSource reads batch quotes from qt.gtimg.cn.
type TencentSource struct {
	BaseURL string
	Client  httpclient.Doer
}

// NewTencentSource returns a source using client.
func NewTencentSource(client httpclient.Doer) *TencentSource {
	return &TencentSource{BaseURL: "http://qt.gtimg.cn/q=", Client: client}
}

func (s *TencentSource) Name() string { return "Tencent Finance" }

// tencentCode maps a symbol to Tencent's market-prefixed code.
func tencentCode(market Code, symbol string) string {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	switch market {
	case HK:
		return "hk" + symbol
	case US:
		return "us" + symbol
	}
	switch {
	case strings.HasPrefix(symbol, "SH"), strings.HasPrefix(symbol, "SZ"), strings.HasPrefix(symbol, "BJ"):
		return strings.ToLower(symbol[:2]) + symbol[2:]
	case strings.HasPrefix(symbol, "6"), strings.HasPrefix(symbol, "9"), strings.HasPrefix(symbol, "5"):
		return "sh" + symbol
	case strings.HasPrefix(symbol, "4"), strings.HasPrefix(symbol, "8"):
		return "bj" + symbol
	default:
		return "sz" + symbol
	}
}

func (s *TencentSource) Fetch(ctx context.Context, market Code, symbols []string) (map[string]Quote, error) {
	if len(symbols) == 0 {
		return map[string]Quote{}, nil
	}
	codes := make([]string, 0, len(symbols))
	bySymbol := make(map[string]string, len(symbols))
	for _, sym := range symbols {
		code := tencentCode(market, sym)
		codes = append(codes, code)
		bySymbol[code] = sym
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.BaseURL+strings.Join(codes, ","), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Referer", "https://gu.qq.com/")
	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("http status %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, err
	}
	body, err := simplifiedchinese.GBK.NewDecoder().Bytes(raw)
	if err != nil {
		body = raw
	}
	quotes := parseTencent(body, market, bySymbol)
	if len(quotes) == 0 {
		return nil, ErrNoData
	}
	return quotes, nil
}

// parseTencent parses lines of the form v_sh600519="1~name~code~price~...";
func parseTencent(body []byte, market Code, bySymbol map[string]string) map[string]Quote {
	out := map[string]Quote{}
	now := time.Now()
	scanner := bufio.NewScanner(bytes.NewReader(body))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "v_") {
			continue
		}
		eq := strings.Index(line, "=")
		if eq < 0 {
			continue
		}
		code := line[2:eq]
		payload := strings.TrimSuffix(strings.Trim(line[eq+1:], ";"), ";")
		payload = strings.Trim(payload, `"`)
		fields := strings.Split(payload, "~")
		if len(fields) < 35 {
			continue
		}
		price := field(fields, 3)
		if price <= 0 {
			continue
		}
		symbol, ok := bySymbol[code]
		if !ok {
			symbol = strings.ToUpper(fields[2])
		}
		out[symbol] = Quote{
			Symbol:    symbol,
			Name:      fields[1],
			Market:    market,
			Price:     price,
			PrevClose: field(fields, 4),
			Open:      field(fields, 5),
			Volume:    field(fields, 6),
			Change:    field(fields, 31),
			ChangePct: field(fields, 32),
			High:      field(fields, 33),
			Low:       field(fields, 34),
			Turnover:  field(fields, 37),
			FetchedAt: now,
		}
	}
	return out
}

func field(fields []string, i int) float64 {
	if i >= len(fields) {
		return 0
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(fields[i]), 64)
	if err != nil {
		return 0
	}
	return v
}

// CollectorOptions configures a Collector.
type CollectorOptions struct {
	Logger        *slog.Logger
	Source        Source
	CacheTTL      time.Duration
	FailThreshold int
	FailWindow    time.Duration
	Cooldown      time.Duration
	// Observe is called after every upstream fetch attempt.
	Observe func(market Code, err error)
}

// Collector fronts a Source with a TTL cache and a per-market circuit breaker.
type Collector struct {
	logger        *slog.Logger
	source        Source
	cacheTTL      time.Duration
	failThreshold int
	failWindow    time.Duration
	cooldown      time.Duration
	observe       func(Code, error)

	cacheMu      sync.RWMutex
	cache        map[string]Quote
	circuitMu    sync.Mutex
	serviceState map[Code]*serviceState
}

type serviceState struct {
	failCount     int
	firstFailAt   time.Time
	cooldownUntil time.Time
}

// NewCollector returns a collector over opts.Source.
func NewCollector(opts CollectorOptions) *Collector {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		logger:        logger,
		source:        opts.Source,
		cacheTTL:      defaultDuration(opts.CacheTTL, 30*time.Second),
		failThreshold: defaultInt(opts.FailThreshold, 3),
		failWindow:    defaultDuration(opts.FailWindow, 60*time.Second),
		cooldown:      defaultDuration(opts.Cooldown, 120*time.Second),
		observe:       opts.Observe,
		cache:         map[string]Quote{},
		serviceState:  map[Code]*serviceState{},
	}
}

// Fetch returns quotes for symbols of one market, serving fresh cache entries
// without a network call.
func (c *Collector) Fetch(ctx context.Context, market Code, symbols []string) (map[string]Quote, error) {
	out := map[string]Quote{}
	var missing []string
	for _, sym := range symbols {
		if q, ok := c.getCached(market, sym); ok {
			out[sym] = q
			continue
		}
		missing = append(missing, sym)
	}
	if len(missing) == 0 {
		return out, nil
	}
	if !c.serviceAvailable(market) {
		return out, fmt.Errorf("%s %s: %w", c.source.Name(), market, ErrSourceCooling)
	}

	fetched, err := c.source.Fetch(ctx, market, missing)
	if c.observe != nil {
		c.observe(market, err)
	}
	if err != nil {
		c.recordServiceFailure(market)
		return out, fmt.Errorf("%s %s: %w", c.source.Name(), market, err)
	}
	c.recordServiceSuccess(market)
	for sym, q := range fetched {
		c.setCached(market, sym, q)
		out[sym] = q
	}
	return out, nil
}

// Batch is the outcome of fetching several markets.
type Batch struct {
	Quotes   map[string]Quote
	Failures map[Code]error
	// Attempted counts markets that were queried.
	Attempted int
}

// AllFailed reports whether every attempted market failed.
func (b Batch) AllFailed() bool {
	return b.Attempted > 0 && len(b.Failures) == b.Attempted
}

// FetchAll fetches each market concurrently. A failing market is logged and
// recorded in Failures; the other markets still contribute quotes.
func (c *Collector) FetchAll(ctx context.Context, byMarket map[Code][]string) Batch {
	batch := Batch{Quotes: map[string]Quote{}, Failures: map[Code]error{}}
	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(len(Codes))
	for market, symbols := range byMarket {
		if len(symbols) == 0 {
			continue
		}
		batch.Attempted++
		g.Go(func() error {
			quotes, err := c.Fetch(ctx, market, symbols)
			mu.Lock()
			defer mu.Unlock()
			for sym, q := range quotes {
				batch.Quotes[sym] = q
			}
			if err != nil {
				c.logger.Warn("quote fetch failed", "market", market, "symbols", len(symbols), "err", err)
				if len(quotes) == 0 {
					batch.Failures[market] = err
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	return batch
}

func cacheKey(market Code, symbol string) string {
	return string(market) + ":" + strings.ToUpper(symbol)
}

func (c *Collector) getCached(market Code, symbol string) (Quote, bool) {
	c.cacheMu.RLock()
	defer c.cacheMu.RUnlock()
	q, ok := c.cache[cacheKey(market, symbol)]
	if !ok || time.Since(q.FetchedAt) > c.cacheTTL {
		return Quote{}, false
	}
	return q, true
}

func (c *Collector) setCached(market Code, symbol string, q Quote) {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	c.cache[cacheKey(market, symbol)] = q
}

func (c *Collector) serviceAvailable(market Code) bool {
	c.circuitMu.Lock()
	defer c.circuitMu.Unlock()
	state, ok := c.serviceState[market]
	if !ok {
		return true
	}
	return time.Now().After(state.cooldownUntil)
}

func (c *Collector) recordServiceFailure(market Code) {
	c.circuitMu.Lock()
	defer c.circuitMu.Unlock()
	state := c.serviceState[market]
	now := time.Now()
	if state == nil {
		state = &serviceState{firstFailAt: now}
		c.serviceState[market] = state
	}
	if now.Sub(state.firstFailAt) > c.failWindow {
		state.failCount = 0
		state.firstFailAt = now
	}
	state.failCount++
	if state.failCount >= c.failThreshold {
		state.cooldownUntil = now.Add(c.cooldown)
	}
}

func (c *Collector) recordServiceSuccess(market Code) {
	c.circuitMu.Lock()
	defer c.circuitMu.Unlock()
	delete(c.serviceState, market)
}

func defaultDuration(v, fallback time.Duration) time.Duration {
	if v <= 0 {
		return fallback
	}
	return v
}

func defaultInt(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}
