package handler

import (
	"context"

	"aivest/internal/auth"
	"aivest/internal/domain"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
)

type PredictionService interface {
	Predict(ctx context.Context, symbol string) (*domain.PredictionResult, error)
	History(ctx context.Context, symbol string, limit int) ([]*domain.StoredPrediction, error)
}

type AuthService interface {
	Register(ctx context.Context, username, email, password string) (*domain.User, error)
	Login(ctx context.Context, username, password string) (*auth.Session, error)
	Logout(ctx context.Context, token string) error
	Session(ctx context.Context, token string) (*auth.Session, error)
	ResetPassword(ctx context.Context, username, newPassword string) error
}

// Explainer turns a prediction into a short natural-language summary.
type Explainer interface {
	Explain(ctx context.Context, result *domain.PredictionResult) (string, error)
}

type Options struct {
	DefaultSymbol  string
	CurrencySymbol string
	AuthRequired   bool
}

type Handler struct {
	tracer      trace.Tracer
	predictions PredictionService
	auth        AuthService
	explainer   Explainer
	opts        Options
}

func New(tracer trace.Tracer, predictions PredictionService, authService AuthService, opts Options) *Handler {
	if opts.DefaultSymbol == "" {
		opts.DefaultSymbol = "INFY.NS"
	}
	if opts.CurrencySymbol == "" {
		opts.CurrencySymbol = "₹"
	}
	return &Handler{
		tracer:      tracer,
		predictions: predictions,
		auth:        authService,
		opts:        opts,
	}
}

// SetExplainer enables POST /api/predictions/:symbol/explain.
func (h *Handler) SetExplainer(e Explainer) {
	h.explainer = e
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.Use(CORS())

	r.GET("/", h.Home)
	r.GET("/health", h.Health)

	r.POST("/register", h.Register)
	r.POST("/login", h.Login)

	session := SessionAuth(h.auth, true)
	r.POST("/logout", session, h.Logout)
	r.POST("/reset-password", session, h.ResetPassword)

	predict := r.Group("/")
	if h.opts.AuthRequired {
		predict.Use(session)
	}
	predict.GET("/predict", h.Predict)
	predict.GET("/api/predictions/:symbol", h.GetPrediction)
	predict.GET("/api/predictions/:symbol/history", h.GetPredictionHistory)
	predict.POST("/api/predictions/:symbol/explain", h.ExplainPrediction)
}
