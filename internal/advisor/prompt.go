package advisor

import (
	"fmt"
	"strings"
	"time"

	"aivest/internal/domain"
)

const analystBrief = `You explain next-day stock price forecasts produced by a small LSTM trained on about one year of daily adjusted closes. You do NOT produce forecasts yourself.

Signal scale, from the predicted change versus the latest close:
- STRONG BUY above +0.6%, BUY above +0.1%
- STRONG SELL below -0.6%, SELL below -0.1%
- NEUTRAL otherwise

Rules:
- Quote the numbers you are given. Never invent prices or forecasts.
- The confidence figure measures how closely the model fit the last 20 trading days it was trained on. It is not a probability and not an out-of-sample accuracy. Say so when you mention it.
- A one-day forecast from closing prices alone ignores news, earnings and volume. Keep that in view.
- If a forecast is missing, say the data was unavailable.
- Keep answers short. Three to five sentences unless asked for more.`

func BuildSystemPrompt(forecastContext string) string {
	var sb strings.Builder
	sb.WriteString(analystBrief)
	sb.WriteString("\n\n--- FORECASTS (as of ")
	sb.WriteString(time.Now().UTC().Format(time.RFC822))
	sb.WriteString(") ---\n")
	sb.WriteString(forecastContext)
	return sb.String()
}

// FormatPrediction renders one result including the tail of the evaluation window.
func FormatPrediction(r *domain.PredictionResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s (latest close %s)\n", r.Symbol, r.AsOf.Format("2006-01-02"))
	fmt.Fprintf(&sb, "  latest: %.2f  predicted next day: %.2f  change: %+.2f%%\n",
		r.LatestPrice, r.PredictedPrice, r.ChangePct)
	fmt.Fprintf(&sb, "  signal: %s  fit confidence: %.2f%%  epochs: %d  training windows: %d\n",
		r.Signal, r.Confidence*100, r.Epochs, r.TrainedWindows)

	tail := r.Evaluation
	if len(tail) > 5 {
		tail = tail[len(tail)-5:]
	}
	if len(tail) > 0 {
		sb.WriteString("  recent fit (actual / model):\n")
		for _, p := range tail {
			fmt.Fprintf(&sb, "    %s  %.2f / %.2f\n", p.Date.Format("2006-01-02"), p.Actual, p.Predicted)
		}
	}
	return sb.String()
}

func FormatForecasts(results []*domain.PredictionResult, missing []string) string {
	var sb strings.Builder
	for _, r := range results {
		sb.WriteString(FormatPrediction(r))
	}
	if len(missing) > 0 {
		sb.WriteString("\nUnavailable: ")
		sb.WriteString(strings.Join(missing, ", "))
		sb.WriteString("\n")
	}
	if sb.Len() == 0 {
		return "No forecasts were requested."
	}
	return sb.String()
}
