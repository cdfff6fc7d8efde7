package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"aivest/internal/auth"
	"aivest/internal/domain"
	"aivest/internal/service"

	"github.com/gin-gonic/gin"
)

func newTestRouter(h *Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h.RegisterRoutes(r)
	return r
}

func sampleResult(symbol string) *domain.PredictionResult {
	return &domain.PredictionResult{
		Symbol:         symbol,
		AsOf:           time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		Confidence:     0.9785,
		LatestPrice:    1520.4,
		PredictedPrice: 1531.1,
		ChangePct:      0.7037,
		Signal:         domain.SignalStrongBuy,
		Evaluation:     make([]domain.EvaluationPoint, 20),
	}
}

func TestPredictFormatsResponse(t *testing.T) {
	preds := &stubPredictions{result: sampleResult("INFY.NS")}
	r := newTestRouter(New(testTracer, preds, nil, Options{}))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/predict", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if preds.lastSymbol != "INFY.NS" {
		t.Fatalf("expected default symbol INFY.NS, got %s", preds.lastSymbol)
	}
	var body PredictResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("parse error: %v", err)
	}
	want := PredictResponse{
		Stock:            "INFY.NS",
		CurrentPrice:     "₹1520.40",
		PredictedNextDay: "₹1531.10",
		ChangePercentage: "0.70%",
		Confidence:       "97.85%",
		Signal:           "STRONG BUY 📈",
	}
	if body != want {
		t.Fatalf("unexpected body:\n got  %+v\n want %+v", body, want)
	}
}

func TestPredictUpperCasesSymbolAndUsesCurrency(t *testing.T) {
	preds := &stubPredictions{result: sampleResult("AAPL")}
	r := newTestRouter(New(testTracer, preds, nil, Options{CurrencySymbol: "$"}))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/predict?symbol=aapl", nil))

	if preds.lastSymbol != "AAPL" {
		t.Fatalf("expected upper-cased symbol, got %s", preds.lastSymbol)
	}
	var body PredictResponse
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if body.CurrentPrice != "$1520.40" {
		t.Fatalf("expected dollar formatting, got %s", body.CurrentPrice)
	}
}

func TestPredictUnavailableIs400(t *testing.T) {
	preds := &stubPredictions{err: domain.ErrDataUnavailable}
	r := newTestRouter(New(testTracer, preds, nil, Options{}))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/predict?symbol=NOPE", nil))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	var body map[string]string
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if body["error"] != "Stock data not available" {
		t.Fatalf("unexpected error body: %v", body)
	}
}

func TestPredictFaultIs500(t *testing.T) {
	preds := &stubPredictions{err: errors.New("yahoo API error 502")}
	r := newTestRouter(New(testTracer, preds, nil, Options{}))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/predict", nil))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}

func TestPredictRequiresSessionWhenConfigured(t *testing.T) {
	preds := &stubPredictions{result: sampleResult("X")}
	authSvc := &stubAuth{sessions: map[string]*auth.Session{"good": {Token: "good", Username: "asha"}}}
	r := newTestRouter(New(testTracer, preds, authSvc, Options{AuthRequired: true}))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/predict?symbol=X", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/predict?symbol=X", nil)
	req.Header.Set("Authorization", "Bearer bad")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad token, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/predict?symbol=X", nil)
	req.Header.Set("Authorization", "Bearer good")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with valid token, got %d", w.Code)
	}
}

func TestGetPredictionReturnsEvaluation(t *testing.T) {
	preds := &stubPredictions{result: sampleResult("TCS.NS")}
	r := newTestRouter(New(testTracer, preds, nil, Options{}))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/predictions/tcs.ns", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body domain.PredictionResult
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if len(body.Evaluation) != 20 || body.Signal != domain.SignalStrongBuy {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestGetPredictionHistory(t *testing.T) {
	preds := &stubPredictions{history: []*domain.StoredPrediction{{ID: 1, Symbol: "X"}}}
	r := newTestRouter(New(testTracer, preds, nil, Options{}))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/predictions/x/history?limit=5", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if preds.lastLimit != 5 || preds.lastSymbol != "X" {
		t.Fatalf("unexpected history args: %s %d", preds.lastSymbol, preds.lastLimit)
	}
}

func TestGetPredictionHistoryDisabled(t *testing.T) {
	preds := &stubPredictions{historyErr: service.ErrHistoryDisabled}
	r := newTestRouter(New(testTracer, preds, nil, Options{}))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/predictions/x/history", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestExplainPrediction(t *testing.T) {
	preds := &stubPredictions{result: sampleResult("X")}
	h := New(testTracer, preds, nil, Options{})
	r := newTestRouter(h)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/predictions/x/explain", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without explainer, got %d", w.Code)
	}

	h.SetExplainer(stubExplainer{text: "The model expects a small rise."})
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/predictions/x/explain", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body struct {
		Explanation string `json:"explanation"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if body.Explanation != "The model expects a small rise." {
		t.Fatalf("unexpected explanation: %q", body.Explanation)
	}

	h.SetExplainer(stubExplainer{err: errors.New("rate limited")})
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/predictions/x/explain", nil))
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 on explainer failure, got %d", w.Code)
	}
}

type stubPredictions struct {
	result     *domain.PredictionResult
	err        error
	history    []*domain.StoredPrediction
	historyErr error

	lastSymbol string
	lastLimit  int
}

func (s *stubPredictions) Predict(ctx context.Context, symbol string) (*domain.PredictionResult, error) {
	s.lastSymbol = symbol
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func (s *stubPredictions) History(ctx context.Context, symbol string, limit int) ([]*domain.StoredPrediction, error) {
	s.lastSymbol = symbol
	s.lastLimit = limit
	if s.historyErr != nil {
		return nil, s.historyErr
	}
	return s.history, nil
}

type stubExplainer struct {
	text string
	err  error
}

func (s stubExplainer) Explain(ctx context.Context, result *domain.PredictionResult) (string, error) {
	return s.text, s.err
}
