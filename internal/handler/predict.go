package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"aivest/internal/domain"
	"aivest/internal/service"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

// PredictResponse is the compact, display-formatted prediction.
type PredictResponse struct {
	Stock            string `json:"stock" example:"INFY.NS"`
	CurrentPrice     string `json:"current_price" example:"₹1520.40"`
	PredictedNextDay string `json:"predicted_next_day" example:"₹1531.10"`
	ChangePercentage string `json:"change_percentage" example:"0.70%"`
	Confidence       string `json:"confidence" example:"97.85%"`
	Signal           string `json:"signal" example:"STRONG BUY 📈"`
}

// Predict godoc
// @Summary      Predict the next closing price
// @Description  Trains a fresh model on one year of daily closes and returns a formatted forecast with a trade signal. Confidence is in-sample fit quality.
// @Tags         predictions
// @Produce      json
// @Param        symbol  query  string  false  "Ticker (e.g., INFY.NS, AAPL)"  default(INFY.NS)
// @Success      200  {object}  PredictResponse
// @Failure      400  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Router       /predict [get]
func (h *Handler) Predict(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.predict")
	defer span.End()

	symbol := strings.ToUpper(strings.TrimSpace(c.DefaultQuery("symbol", h.opts.DefaultSymbol)))
	if symbol == "" {
		symbol = h.opts.DefaultSymbol
	}
	span.SetAttributes(attribute.String("symbol", symbol))

	result, err := h.predictions.Predict(ctx, symbol)
	if err != nil {
		h.writePredictError(c, err)
		return
	}

	c.JSON(http.StatusOK, PredictResponse{
		Stock:            symbol,
		CurrentPrice:     h.money(result.LatestPrice),
		PredictedNextDay: h.money(result.PredictedPrice),
		ChangePercentage: fmt.Sprintf("%.2f%%", result.ChangePct),
		Confidence:       fmt.Sprintf("%.2f%%", result.Confidence*100),
		Signal:           string(result.Signal) + " " + result.Signal.Emoji(),
	})
}

// GetPrediction godoc
// @Summary      Full prediction result
// @Description  Returns the raw prediction including the evaluation tail of actual vs. fitted closes
// @Tags         predictions
// @Produce      json
// @Param        symbol  path  string  true  "Ticker"
// @Success      200  {object}  domain.PredictionResult
// @Failure      400  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Router       /api/predictions/{symbol} [get]
func (h *Handler) GetPrediction(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-prediction")
	defer span.End()

	symbol := strings.ToUpper(c.Param("symbol"))
	span.SetAttributes(attribute.String("symbol", symbol))

	result, err := h.predictions.Predict(ctx, symbol)
	if err != nil {
		h.writePredictError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetPredictionHistory godoc
// @Summary      Past predictions for a ticker
// @Tags         predictions
// @Produce      json
// @Param        symbol  path   string  true   "Ticker"
// @Param        limit   query  int     false  "Number of rows (default 30, max 365)"  default(30)
// @Success      200  {object}  map[string]interface{}
// @Failure      503  {object}  map[string]string
// @Router       /api/predictions/{symbol}/history [get]
func (h *Handler) GetPredictionHistory(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-prediction-history")
	defer span.End()

	symbol := strings.ToUpper(c.Param("symbol"))
	limit := 0
	if l := c.Query("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}

	history, err := h.predictions.History(ctx, symbol, limit)
	if errors.Is(err, service.ErrHistoryDisabled) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if history == nil {
		history = []*domain.StoredPrediction{}
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "predictions": history})
}

// ExplainPrediction godoc
// @Summary      Explain a prediction in plain language
// @Tags         predictions
// @Produce      json
// @Param        symbol  path  string  true  "Ticker"
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]string
// @Failure      503  {object}  map[string]string
// @Router       /api/predictions/{symbol}/explain [post]
func (h *Handler) ExplainPrediction(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.explain-prediction")
	defer span.End()

	if h.explainer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "explanations are not enabled"})
		return
	}

	symbol := strings.ToUpper(c.Param("symbol"))
	result, err := h.predictions.Predict(ctx, symbol)
	if err != nil {
		h.writePredictError(c, err)
		return
	}
	text, err := h.explainer.Explain(ctx, result)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "explanation": text, "prediction": result})
}

func (h *Handler) writePredictError(c *gin.Context, err error) {
	if errors.Is(err, domain.ErrDataUnavailable) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Stock data not available"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func (h *Handler) money(v float64) string {
	return fmt.Sprintf("%s%.2f", h.opts.CurrencySymbol, v)
}
