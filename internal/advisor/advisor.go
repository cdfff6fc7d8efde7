package advisor

import (
	"context"
	"fmt"
	"log"

	"aivest/internal/domain"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// LLMClient abstracts the OpenAI chat completions API for testability.
type LLMClient interface {
	CreateChatCompletion(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error)
}

// Predictor supplies the forecasts the advisor talks about.
type Predictor interface {
	Predict(ctx context.Context, symbol string) (*domain.PredictionResult, error)
}

// maxSymbolsPerQuestion bounds the number of model runs a single question can trigger.
const maxSymbolsPerQuestion = 3

type AdvisorService struct {
	tracer      trace.Tracer
	llm         LLMClient
	predictions Predictor
	model       string
}

func NewAdvisorService(tracer trace.Tracer, llm LLMClient, predictions Predictor, model string) *AdvisorService {
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &AdvisorService{
		tracer:      tracer,
		llm:         llm,
		predictions: predictions,
		model:       model,
	}
}

// Explain turns one prediction into a short plain-language summary.
func (s *AdvisorService) Explain(ctx context.Context, result *domain.PredictionResult) (string, error) {
	ctx, span := s.tracer.Start(ctx, "advisor.explain")
	defer span.End()

	if result == nil {
		return "", fmt.Errorf("advisor: nil prediction")
	}
	span.SetAttributes(attribute.String("symbol", result.Symbol))

	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(BuildSystemPrompt(FormatPrediction(result))),
		openai.UserMessage(fmt.Sprintf("Explain the next-day forecast for %s.", result.Symbol)),
	}
	reply, err := s.callLLM(ctx, messages)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("advisor unavailable: %w", err)
	}
	return reply, nil
}

// Ask answers a free-form question. Tickers written with an exchange suffix or a $ prefix
// are forecast first and handed to the model as context.
func (s *AdvisorService) Ask(ctx context.Context, question string) (string, error) {
	ctx, span := s.tracer.Start(ctx, "advisor.ask")
	defer span.End()

	symbols := ExtractSymbols(question)
	if len(symbols) > maxSymbolsPerQuestion {
		symbols = symbols[:maxSymbolsPerQuestion]
	}
	span.SetAttributes(attribute.Int("symbol_count", len(symbols)))

	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(BuildSystemPrompt(s.gatherContext(ctx, symbols))),
		openai.UserMessage(question),
	}
	reply, err := s.callLLM(ctx, messages)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("advisor unavailable: %w", err)
	}
	return reply, nil
}

func (s *AdvisorService) gatherContext(ctx context.Context, symbols []string) string {
	ctx, span := s.tracer.Start(ctx, "advisor.gather-context")
	defer span.End()

	if len(symbols) == 0 || s.predictions == nil {
		return "No forecasts were requested."
	}
	var results []*domain.PredictionResult
	var missing []string
	for _, sym := range symbols {
		res, err := s.predictions.Predict(ctx, sym)
		if err != nil {
			log.Printf("advisor: forecast for %s failed: %v", sym, err)
			missing = append(missing, sym)
			continue
		}
		results = append(results, res)
	}
	return FormatForecasts(results, missing)
}

func (s *AdvisorService) callLLM(
	ctx context.Context,
	messages []openai.ChatCompletionMessageParamUnion,
) (string, error) {
	ctx, span := s.tracer.Start(ctx, "advisor.llm-call")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", s.model),
		attribute.Int("llm.message_count", len(messages)),
	)

	completion, err := s.llm.CreateChatCompletion(ctx, openai.ChatCompletionNewParams{
		Model:    s.model,
		Messages: messages,
	})
	if err != nil {
		return "", err
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("no choices in LLM response")
	}

	reply := completion.Choices[0].Message.Content
	span.SetAttributes(attribute.Int("llm.reply_length", len(reply)))
	return reply, nil
}

// openaiClient wraps the official SDK's chat completions service.
type openaiClient struct {
	client openai.Client
}

func NewOpenAIClient(apiKey string) LLMClient {
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &openaiClient{client: client}
}

func (c *openaiClient) CreateChatCompletion(
	ctx context.Context,
	params openai.ChatCompletionNewParams,
) (*openai.ChatCompletion, error) {
	return c.client.Chat.Completions.New(ctx, params)
}
