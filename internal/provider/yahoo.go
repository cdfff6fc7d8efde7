package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"aivest/internal/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const yahooBaseURL = "https://query1.finance.yahoo.com"

// YahooProvider fetches daily bars from the public Yahoo Finance chart API.
type YahooProvider struct {
	client  *http.Client
	baseURL string
	tracer  trace.Tracer
	limiter *RateLimiter
}

// NewYahooProvider creates a provider limited to requestsPerMin outbound calls.
func NewYahooProvider(tracer trace.Tracer, requestsPerMin int) *YahooProvider {
	return &YahooProvider{
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: yahooBaseURL,
		tracer:  tracer,
		limiter: NewRateLimiterPerMinute(requestsPerMin),
	}
}

type yahooChartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol    string `json:"symbol"`
				Currency  string `json:"currency"`
				GMTOffset int64  `json:"gmtoffset"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Close []*float64 `json:"close"`
				} `json:"quote"`
				AdjClose []struct {
					AdjClose []*float64 `json:"adjclose"`
				} `json:"adjclose"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// FetchDailyCloses returns one year of split and dividend adjusted daily closes.
// Missing symbols, empty payloads and payloads without an adjusted close wrap
// domain.ErrDataUnavailable; transport and server errors are returned as-is.
func (p *YahooProvider) FetchDailyCloses(ctx context.Context, symbol string) (*domain.PriceSeries, error) {
	ctx, span := p.tracer.Start(ctx, "yahoo.fetch-daily-closes")
	defer span.End()
	span.SetAttributes(attribute.String("symbol", symbol))

	u := fmt.Sprintf("%s/v8/finance/chart/%s?interval=1d&range=1y&includeAdjustedClose=true",
		p.baseURL, url.PathEscape(symbol))

	body, status, err := p.doRequest(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("fetch chart for %s: %w", symbol, err)
	}
	if status == http.StatusNotFound {
		return nil, fmt.Errorf("%w: unknown symbol %s", domain.ErrDataUnavailable, symbol)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("yahoo API error %d: %s", status, truncate(string(body), 256))
	}

	var chart yahooChartResponse
	if err := json.Unmarshal(body, &chart); err != nil {
		return nil, fmt.Errorf("parse chart for %s: %w", symbol, err)
	}
	if chart.Chart.Error != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrDataUnavailable, chart.Chart.Error.Description)
	}
	if len(chart.Chart.Result) == 0 || len(chart.Chart.Result[0].Timestamp) == 0 {
		return nil, fmt.Errorf("%w: no data returned for %s", domain.ErrDataUnavailable, symbol)
	}

	result := chart.Chart.Result[0]
	if len(result.Indicators.AdjClose) == 0 || len(result.Indicators.AdjClose[0].AdjClose) != len(result.Timestamp) {
		return nil, fmt.Errorf("%w: adjusted close missing for %s", domain.ErrDataUnavailable, symbol)
	}

	points := buildDailyPoints(result.Timestamp, result.Indicators.AdjClose[0].AdjClose, result.Meta.GMTOffset)
	span.SetAttributes(attribute.Int("points", len(points)))
	return &domain.PriceSeries{Symbol: strings.ToUpper(symbol), Points: points}, nil
}

func (p *YahooProvider) doRequest(ctx context.Context, u string) ([]byte, int, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, 0, fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

// buildDailyPoints drops null and non-positive closes, stamps each bar with its exchange
// local date, keeps the last bar per date and sorts ascending.
func buildDailyPoints(timestamps []int64, closes []*float64, gmtOffset int64) []domain.PricePoint {
	byDate := make(map[time.Time]float64, len(timestamps))
	for i, ts := range timestamps {
		c := closes[i]
		if c == nil || math.IsNaN(*c) || math.IsInf(*c, 0) || *c <= 0 {
			continue
		}
		local := time.Unix(ts+gmtOffset, 0).UTC()
		date := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
		byDate[date] = *c
	}

	points := make([]domain.PricePoint, 0, len(byDate))
	for d, c := range byDate {
		points = append(points, domain.PricePoint{Date: d, Close: c})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Date.Before(points[j].Date) })
	return points
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
