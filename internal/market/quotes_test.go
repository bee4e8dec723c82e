package market

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/simplifiedchinese"
)

func tencentLine(code, shortCode, name string, price, prevClose, changePct float64) string {
	fields := make([]string, 50)
	for i := range fields {
		fields[i] = "0"
	}
	fields[0] = "1"
	fields[1] = name
	fields[2] = shortCode
	fields[3] = ftoa(price)
	fields[4] = ftoa(prevClose)
	fields[5] = ftoa(prevClose)
	fields[6] = "12345"
	fields[31] = ftoa(price - prevClose)
	fields[32] = ftoa(changePct)
	fields[33] = ftoa(price)
	fields[34] = ftoa(prevClose)
	fields[37] = "98765"
	return "v_" + code + `="` + strings.Join(fields, "~") + `";`
}

func ftoa(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func TestTencentSourceParsesGBK(t *testing.T) {
	body := tencentLine("sh600519", "600519", "贵州茅台", 1650.5, 1600, 3.16) + "\n" + tencentLine("usAAPL", "AAPL.OQ", "苹果", 165, 150, 10)
	encoded, err := simplifiedchinese.GBK.NewEncoder().String(body)
	require.NoError(t, err)

	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.RawQuery + r.URL.Path
		_, _ = w.Write([]byte(encoded))
	}))
	defer srv.Close()

	src := &TencentSource{BaseURL: srv.URL + "/q=", Client: srv.Client()}
	quotes, err := src.Fetch(context.Background(), CN, []string{"600519"})
	require.NoError(t, err)
	assert.Contains(t, gotPath, "sh600519")

	q, ok := quotes["600519"]
	require.True(t, ok)
	assert.Equal(t, "贵州茅台", q.Name)
	assert.InDelta(t, 1650.5, q.Price, 0.001)
	assert.InDelta(t, 1600, q.PrevClose, 0.001)
	assert.InDelta(t, 3.16, q.ChangePct, 0.001)
	assert.InDelta(t, 98765, q.Turnover, 0.001)
	assert.Equal(t, CN, q.Market)
}

func TestTencentCode(t *testing.T) {
	assert.Equal(t, "sh600519", tencentCode(CN, "600519"))
	assert.Equal(t, "sz002594", tencentCode(CN, "002594"))
	assert.Equal(t, "sz300750", tencentCode(CN, "300750"))
	assert.Equal(t, "hk00700", tencentCode(HK, "00700"))
	assert.Equal(t, "usAAPL", tencentCode(US, "aapl"))
}

type fakeSource struct {
	calls  atomic.Int32
	fail   map[Code]bool
	quotes map[string]Quote
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) Fetch(_ context.Context, market Code, symbols []string) (map[string]Quote, error) {
	f.calls.Add(1)
	if f.fail[market] {
		return nil, errors.New("boom")
	}
	out := map[string]Quote{}
	for _, s := range symbols {
		if q, ok := f.quotes[s]; ok {
			q.FetchedAt = time.Now()
			out[s] = q
		}
	}
	return out, nil
}

func TestCollectorCachesAndTripsBreaker(t *testing.T) {
	src := &fakeSource{fail: map[Code]bool{}, quotes: map[string]Quote{"AAPL": {Symbol: "AAPL", Price: 165}}}
	c := NewCollector(CollectorOptions{Source: src, FailThreshold: 2, Cooldown: time.Hour})
	ctx := context.Background()

	_, err := c.Fetch(ctx, US, []string{"AAPL"})
	require.NoError(t, err)
	_, err = c.Fetch(ctx, US, []string{"AAPL"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, src.calls.Load(), "second fetch should hit the cache")

	src.fail[HK] = true
	for i := 0; i < 2; i++ {
		_, err = c.Fetch(ctx, HK, []string{"00700"})
		require.Error(t, err)
	}
	_, err = c.Fetch(ctx, HK, []string{"00700"})
	assert.ErrorIs(t, err, ErrSourceCooling)
	assert.EqualValues(t, 3, src.calls.Load())
}

func TestFetchAllToleratesMarketFailure(t *testing.T) {
	src := &fakeSource{
		fail:   map[Code]bool{HK: true},
		quotes: map[string]Quote{"600519": {Symbol: "600519", Price: 1650}, "AAPL": {Symbol: "AAPL", Price: 165}},
	}
	c := NewCollector(CollectorOptions{Source: src})

	batch := c.FetchAll(context.Background(), map[Code][]string{
		CN: {"600519"},
		HK: {"00700"},
		US: {"AAPL"},
	})
	assert.Equal(t, 3, batch.Attempted)
	assert.Len(t, batch.Quotes, 2)
	assert.Contains(t, batch.Failures, HK)
	assert.False(t, batch.AllFailed())

	src.fail = map[Code]bool{CN: true, US: true, HK: true}
	c = NewCollector(CollectorOptions{Source: src})
	batch = c.FetchAll(context.Background(), map[Code][]string{CN: {"600519"}, US: {"AAPL"}})
	assert.True(t, batch.AllFailed())
}

func TestCollectorObservesUpstreamFetches(t *testing.T) {
	src := &fakeSource{fail: map[Code]bool{HK: true}, quotes: map[string]Quote{"AAPL": {Symbol: "AAPL", Price: 165}}}
	var outcomes []string
	c := NewCollector(CollectorOptions{Source: src, Observe: func(m Code, err error) {
		outcomes = append(outcomes, string(m)+":"+strconv.FormatBool(err == nil))
	}})
	ctx := context.Background()

	_, _ = c.Fetch(ctx, US, []string{"AAPL"})
	_, _ = c.Fetch(ctx, US, []string{"AAPL"})
	_, _ = c.Fetch(ctx, HK, []string{"00700"})

	assert.Equal(t, []string{"US:true", "HK:false"}, outcomes, "cache hits are not observed")
}
