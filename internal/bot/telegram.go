package bot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"aivest/internal/domain"

	tele "gopkg.in/telebot.v3"
)

type Predictor interface {
	Predict(ctx context.Context, symbol string) (*domain.PredictionResult, error)
}

// Advisor answers free-form questions. Optional.
type Advisor interface {
	Ask(ctx context.Context, question string) (string, error)
}

type Options struct {
	DefaultSymbol  string
	CurrencySymbol string
	// PredictTimeout bounds one /predict command, training included.
	PredictTimeout time.Duration
}

// StartTelegramBot starts long polling in the background. An empty token disables the bot.
func StartTelegramBot(token string, predictions Predictor, advisor Advisor, opts Options) {
	if token == "" {
		log.Println("TELEGRAM_BOT_TOKEN not set, skipping Telegram bot startup")
		return
	}
	opts = withDefaults(opts)
	pref := tele.Settings{
		Token:  token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	}
	b, err := tele.NewBot(pref)
	if err != nil {
		log.Fatalf("failed to create Telegram bot: %v", err)
	}

	b.Handle("/ping", func(c tele.Context) error {
		return c.Send("pong")
	})

	b.Handle("/predict", func(c tele.Context) error {
		ctx, cancel := context.WithTimeout(context.Background(), opts.PredictTimeout)
		defer cancel()
		_ = c.Notify(tele.Typing)
		return c.Send(PredictReply(ctx, predictions, c.Args(), opts))
	})

	b.Handle("/ask", func(c tele.Context) error {
		if advisor == nil {
			return c.Send("The advisor is not configured.")
		}
		question := strings.TrimSpace(c.Message().Payload)
		if question == "" {
			return c.Send("Usage: /ask should I hold INFY.NS?")
		}
		ctx, cancel := context.WithTimeout(context.Background(), opts.PredictTimeout)
		defer cancel()
		_ = c.Notify(tele.Typing)
		answer, err := advisor.Ask(ctx, question)
		if err != nil {
			log.Printf("telegram /ask failed: %v", err)
			return c.Send("The advisor is unavailable right now.")
		}
		return c.Send(answer)
	})

	log.Println("Telegram bot started")
	go b.Start()
}

func withDefaults(opts Options) Options {
	if opts.DefaultSymbol == "" {
		opts.DefaultSymbol = "INFY.NS"
	}
	if opts.CurrencySymbol == "" {
		opts.CurrencySymbol = "₹"
	}
	if opts.PredictTimeout <= 0 {
		opts.PredictTimeout = 2 * time.Minute
	}
	return opts
}

// PredictReply renders the /predict answer for the given command arguments.
func PredictReply(ctx context.Context, predictions Predictor, args []string, opts Options) string {
	opts = withDefaults(opts)
	symbol := opts.DefaultSymbol
	if len(args) > 0 && strings.TrimSpace(args[0]) != "" {
		symbol = strings.ToUpper(strings.TrimSpace(args[0]))
	}

	res, err := predictions.Predict(ctx, symbol)
	if errors.Is(err, domain.ErrDataUnavailable) {
		return fmt.Sprintf("Stock data not available for %s", symbol)
	}
	if err != nil {
		log.Printf("telegram /predict %s failed: %v", symbol, err)
		return fmt.Sprintf("Error predicting %s: %v", symbol, err)
	}

	return fmt.Sprintf(
		"%s\nCurrent: %s%.2f\nNext day: %s%.2f\nChange: %.2f%%\nConfidence: %.2f%%\nSignal: %s %s",
		res.Symbol,
		opts.CurrencySymbol, res.LatestPrice,
		opts.CurrencySymbol, res.PredictedPrice,
		res.ChangePct,
		res.Confidence*100,
		res.Signal, res.Signal.Emoji(),
	)
}
