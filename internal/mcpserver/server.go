package mcpserver

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"aivest/internal/domain"

	"github.com/gin-gonic/gin"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type Predictor interface {
	Predict(ctx context.Context, symbol string) (*domain.PredictionResult, error)
}

// HistoryLister is optional; without it the prediction_history tool is not registered.
type HistoryLister interface {
	History(ctx context.Context, symbol string, limit int) ([]*domain.StoredPrediction, error)
}

type Options struct {
	DefaultSymbol  string
	RequestTimeout time.Duration
	Version        string
}

type PredictInput struct {
	Symbol string `json:"symbol,omitempty" jsonschema:"ticker symbol as listed on Yahoo Finance, e.g. INFY.NS or AAPL"`
}

type PredictOutput struct {
	Symbol           string          `json:"symbol"`
	AsOf             string          `json:"as_of"`
	CurrentPrice     float64         `json:"current_price"`
	PredictedNextDay float64         `json:"predicted_next_day"`
	ChangePercentage float64         `json:"change_percentage"`
	FitConfidence    float64         `json:"fit_confidence"`
	Signal           string          `json:"signal"`
	Evaluation       []EvaluationDay `json:"evaluation"`
}

// EvaluationDay is one day of the in-sample fit. Dates are YYYY-MM-DD strings.
type EvaluationDay struct {
	Date      string  `json:"date"`
	Actual    float64 `json:"actual"`
	Predicted float64 `json:"predicted"`
}

type HistoryInput struct {
	Symbol string `json:"symbol" jsonschema:"ticker symbol"`
	Limit  int    `json:"limit,omitempty" jsonschema:"number of rows, newest first (default 30)"`
}

type HistoryRow struct {
	AsOf             string  `json:"as_of"`
	CurrentPrice     float64 `json:"current_price"`
	PredictedNextDay float64 `json:"predicted_next_day"`
	ChangePercentage float64 `json:"change_percentage"`
	FitConfidence    float64 `json:"fit_confidence"`
	Signal           string  `json:"signal"`
	Epochs           int     `json:"epochs"`
	CreatedAt        string  `json:"created_at"`
}

type HistoryOutput struct {
	Symbol      string       `json:"symbol"`
	Predictions []HistoryRow `json:"predictions"`
}

type Server struct {
	tracer      trace.Tracer
	predictions Predictor
	history     HistoryLister
	opts        Options
	mcp         *mcp.Server
}

func New(tracer trace.Tracer, predictions Predictor, history HistoryLister, opts Options) *Server {
	if opts.DefaultSymbol == "" {
		opts.DefaultSymbol = "INFY.NS"
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 2 * time.Minute
	}
	if opts.Version == "" {
		opts.Version = "1.0.0"
	}
	s := &Server{tracer: tracer, predictions: predictions, history: history, opts: opts}

	s.mcp = mcp.NewServer(&mcp.Implementation{Name: "aivest", Version: opts.Version}, nil)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: "predict_stock",
		Description: "Train a small LSTM on about one year of daily closes and forecast the next close. " +
			"fit_confidence measures in-sample fit on the last 20 days, not forecast accuracy.",
	}, s.predictStock)
	if history != nil {
		mcp.AddTool(s.mcp, &mcp.Tool{
			Name:        "prediction_history",
			Description: "List stored past forecasts for a symbol, newest first.",
		}, s.predictionHistory)
	}
	return s
}

// MCP exposes the underlying server, mainly for in-memory transports in tests.
func (s *Server) MCP() *mcp.Server { return s.mcp }

func (s *Server) predictStock(ctx context.Context, _ *mcp.CallToolRequest, in PredictInput) (*mcp.CallToolResult, PredictOutput, error) {
	ctx, span := s.tracer.Start(ctx, "mcp.predict-stock")
	defer span.End()

	symbol := strings.ToUpper(strings.TrimSpace(in.Symbol))
	if symbol == "" {
		symbol = s.opts.DefaultSymbol
	}
	span.SetAttributes(attribute.String("symbol", symbol))

	ctx, cancel := context.WithTimeout(ctx, s.opts.RequestTimeout)
	defer cancel()

	res, err := s.predictions.Predict(ctx, symbol)
	if errors.Is(err, domain.ErrDataUnavailable) {
		return nil, PredictOutput{}, fmt.Errorf("stock data not available for %s", symbol)
	}
	if err != nil {
		span.RecordError(err)
		return nil, PredictOutput{}, err
	}

	out := PredictOutput{
		Symbol:           res.Symbol,
		AsOf:             res.AsOf.Format("2006-01-02"),
		CurrentPrice:     res.LatestPrice,
		PredictedNextDay: res.PredictedPrice,
		ChangePercentage: res.ChangePct,
		FitConfidence:    res.Confidence,
		Signal:           string(res.Signal),
		Evaluation:       make([]EvaluationDay, 0, len(res.Evaluation)),
	}
	for _, p := range res.Evaluation {
		out.Evaluation = append(out.Evaluation, EvaluationDay{
			Date:      p.Date.Format("2006-01-02"),
			Actual:    p.Actual,
			Predicted: p.Predicted,
		})
	}
	summary := fmt.Sprintf("%s: %.2f -> %.2f (%+.2f%%), %s %s, fit %.2f%%",
		res.Symbol, res.LatestPrice, res.PredictedPrice, res.ChangePct,
		res.Signal, res.Signal.Emoji(), res.Confidence*100)
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: summary}}}, out, nil
}

func (s *Server) predictionHistory(ctx context.Context, _ *mcp.CallToolRequest, in HistoryInput) (*mcp.CallToolResult, HistoryOutput, error) {
	ctx, span := s.tracer.Start(ctx, "mcp.prediction-history")
	defer span.End()

	symbol := strings.ToUpper(strings.TrimSpace(in.Symbol))
	if symbol == "" {
		return nil, HistoryOutput{}, errors.New("symbol is required")
	}
	rows, err := s.history.History(ctx, symbol, in.Limit)
	if err != nil {
		span.RecordError(err)
		return nil, HistoryOutput{}, err
	}
	out := HistoryOutput{Symbol: symbol, Predictions: make([]HistoryRow, 0, len(rows))}
	for _, r := range rows {
		out.Predictions = append(out.Predictions, HistoryRow{
			AsOf:             r.AsOf.Format("2006-01-02"),
			CurrentPrice:     r.LatestPrice,
			PredictedNextDay: r.PredictedPrice,
			ChangePercentage: r.ChangePct,
			FitConfidence:    r.Confidence,
			Signal:           string(r.Signal),
			Epochs:           r.Epochs,
			CreatedAt:        r.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return nil, out, nil
}

// RunStdio serves a single client over stdin/stdout until ctx ends or the client disconnects.
func (s *Server) RunStdio(ctx context.Context) error {
	return s.mcp.Run(ctx, &mcp.StdioTransport{})
}

// HTTPHandler serves the streamable HTTP transport at /mcp. A non-empty token is
// required as a bearer credential on every request.
func (s *Server) HTTPHandler(token string) http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	streamable := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return s.mcp }, nil)
	mcpRoutes := r.Group("/mcp")
	if token != "" {
		mcpRoutes.Use(requireToken(token))
	}
	mcpRoutes.Any("", gin.WrapH(streamable))
	return r
}

func requireToken(token string) gin.HandlerFunc {
	want := []byte("Bearer " + token)
	return func(c *gin.Context) {
		got := []byte(c.GetHeader("Authorization"))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
