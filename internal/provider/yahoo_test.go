package provider

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"aivest/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func newTestYahoo(t *testing.T, status int, body string) *YahooProvider {
	t.Helper()
	p := NewYahooProvider(trace.NewNoopTracerProvider().Tracer("test"), 60)
	p.baseURL = "http://example"
	p.limiter = NewRateLimiter(10, time.Millisecond)
	p.client = &http.Client{
		Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			if !strings.Contains(req.URL.Path, "/v8/finance/chart/") {
				t.Fatalf("unexpected path: %s", req.URL.Path)
			}
			q := req.URL.Query()
			if q.Get("interval") != "1d" || q.Get("range") != "1y" {
				t.Fatalf("unexpected query: %s", req.URL.RawQuery)
			}
			return &http.Response{
				StatusCode: status,
				Body:       io.NopCloser(bytes.NewReader([]byte(body))),
				Header:     make(http.Header),
			}, nil
		}),
	}
	return p
}

func TestYahooFetchDailyCloses(t *testing.T) {
	t.Parallel()

	// 2026-01-05, 2026-01-06 (null), 2026-01-02 (out of order), 2026-01-07
	body := `{"chart":{"result":[{"meta":{"symbol":"INFY.NS","gmtoffset":19800},
		"timestamp":[1767584700,1767671100,1767325500,1767757500],
		"indicators":{"quote":[{"close":[101,null,99,103]}],
		"adjclose":[{"adjclose":[100.5,null,98.5,102.5]}]}}],"error":null}}`
	p := newTestYahoo(t, http.StatusOK, body)

	series, err := p.FetchDailyCloses(context.Background(), "infy.ns")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if series.Symbol != "INFY.NS" {
		t.Fatalf("expected upper-cased symbol, got %s", series.Symbol)
	}
	if series.Len() != 3 {
		t.Fatalf("expected 3 points after dropping null, got %d", series.Len())
	}
	closes := series.Closes()
	if closes[0] != 98.5 || closes[1] != 100.5 || closes[2] != 102.5 {
		t.Fatalf("expected adjusted closes in date order, got %v", closes)
	}
	dates := series.Dates()
	for i := 1; i < len(dates); i++ {
		if !dates[i].After(dates[i-1]) {
			t.Fatalf("dates not strictly increasing: %v", dates)
		}
	}
}

func TestYahooUnknownSymbolIsUnavailable(t *testing.T) {
	t.Parallel()

	body := `{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found, symbol may be delisted"}}}`
	p := newTestYahoo(t, http.StatusNotFound, body)

	_, err := p.FetchDailyCloses(context.Background(), "NOPE")
	if !errors.Is(err, domain.ErrDataUnavailable) {
		t.Fatalf("expected ErrDataUnavailable, got %v", err)
	}
}

func TestYahooChartErrorIsUnavailable(t *testing.T) {
	t.Parallel()

	body := `{"chart":{"result":null,"error":{"code":"Bad Request","description":"invalid range"}}}`
	p := newTestYahoo(t, http.StatusOK, body)

	_, err := p.FetchDailyCloses(context.Background(), "X")
	if !errors.Is(err, domain.ErrDataUnavailable) {
		t.Fatalf("expected ErrDataUnavailable, got %v", err)
	}
}

func TestYahooMissingAdjustedCloseIsUnavailable(t *testing.T) {
	t.Parallel()

	body := `{"chart":{"result":[{"meta":{},"timestamp":[1767584700],
		"indicators":{"quote":[{"close":[101]}]}}],"error":null}}`
	p := newTestYahoo(t, http.StatusOK, body)

	_, err := p.FetchDailyCloses(context.Background(), "X")
	if !errors.Is(err, domain.ErrDataUnavailable) {
		t.Fatalf("expected ErrDataUnavailable, got %v", err)
	}
}

func TestYahooEmptyResultIsUnavailable(t *testing.T) {
	t.Parallel()

	p := newTestYahoo(t, http.StatusOK, `{"chart":{"result":[],"error":null}}`)
	_, err := p.FetchDailyCloses(context.Background(), "X")
	if !errors.Is(err, domain.ErrDataUnavailable) {
		t.Fatalf("expected ErrDataUnavailable, got %v", err)
	}
}

func TestYahooServerErrorPropagates(t *testing.T) {
	t.Parallel()

	p := newTestYahoo(t, http.StatusBadGateway, "upstream down")
	_, err := p.FetchDailyCloses(context.Background(), "X")
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, domain.ErrDataUnavailable) {
		t.Fatalf("server errors must not be reported as unavailable data: %v", err)
	}
}

func TestYahooTransportErrorPropagates(t *testing.T) {
	t.Parallel()

	p := newTestYahoo(t, http.StatusOK, "")
	p.client = &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		return nil, errors.New("connection reset")
	})}
	_, err := p.FetchDailyCloses(context.Background(), "X")
	if err == nil || errors.Is(err, domain.ErrDataUnavailable) {
		t.Fatalf("expected transport fault, got %v", err)
	}
}

func TestBuildDailyPointsKeepsLastBarPerDate(t *testing.T) {
	a, b := 10.0, 11.0
	base := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC).Unix()
	points := buildDailyPoints([]int64{base, base + 3600}, []*float64{&a, &b}, 0)
	if len(points) != 1 || points[0].Close != 11 {
		t.Fatalf("expected one point with the later close, got %+v", points)
	}
}

func TestBuildDailyPointsDropsNonPositive(t *testing.T) {
	zero, neg, ok := 0.0, -1.0, 5.0
	base := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC).Unix()
	points := buildDailyPoints([]int64{base, base + 86400, base + 2*86400}, []*float64{&zero, &neg, &ok}, 0)
	if len(points) != 1 || points[0].Close != 5 {
		t.Fatalf("expected only the positive close, got %+v", points)
	}
}
