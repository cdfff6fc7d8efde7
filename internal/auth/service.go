package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"aivest/internal/domain"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrMissingFields      = errors.New("all fields are required")
	ErrSessionNotFound    = errors.New("session not found or expired")
	ErrStoreDisabled      = errors.New("credential store is not configured")
	ErrPasswordTooLong    = errors.New("password must be at most 72 bytes")
)

const sessionKeyPrefix = "session:"

type UserStore interface {
	CreateUser(ctx context.Context, u *domain.User) error
	GetUser(ctx context.Context, username string) (*domain.User, error)
	UpdatePasswordHash(ctx context.Context, username, hash string) error
}

type SessionStore interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Session is a logged-in user. The token is the bearer credential clients send back.
type Session struct {
	Token     string    `json:"token"`
	Username  string    `json:"username"`
	ExpiresAt time.Time `json:"expires_at"`
}

type Service struct {
	tracer   trace.Tracer
	users    UserStore
	sessions SessionStore
	ttl      time.Duration
	cost     int
	now      func() time.Time
	newToken func() string
	compare  func(hash, password []byte) error

	dummyOnce sync.Once
	dummyHash []byte
}

// NewService wires the credential store. users may be nil, in which case every
// credential operation returns ErrStoreDisabled.
func NewService(tracer trace.Tracer, users UserStore, sessions SessionStore, sessionTTL time.Duration) *Service {
	if sessionTTL <= 0 {
		sessionTTL = 24 * time.Hour
	}
	return &Service{
		tracer:   tracer,
		users:    users,
		sessions: sessions,
		ttl:      sessionTTL,
		cost:     bcrypt.DefaultCost,
		now:      time.Now,
		newToken: uuid.NewString,
		compare:  bcrypt.CompareHashAndPassword,
	}
}

func (s *Service) Enabled() bool { return s != nil && s.users != nil }

// Register creates a user with a bcrypt hash of password.
func (s *Service) Register(ctx context.Context, username, email, password string) (*domain.User, error) {
	ctx, span := s.tracer.Start(ctx, "auth.register")
	defer span.End()

	if !s.Enabled() {
		return nil, ErrStoreDisabled
	}
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)
	if username == "" || email == "" || password == "" {
		return nil, ErrMissingFields
	}
	span.SetAttributes(attribute.String("username", username))

	hash, err := s.hash(password)
	if err != nil {
		return nil, err
	}
	u := &domain.User{Username: username, Email: email, PasswordHash: string(hash)}
	if err := s.users.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Authenticate verifies a username/password pair. Unknown users and wrong passwords both
// return ErrInvalidCredentials.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*domain.User, error) {
	ctx, span := s.tracer.Start(ctx, "auth.authenticate")
	defer span.End()

	if !s.Enabled() {
		return nil, ErrStoreDisabled
	}
	u, err := s.users.GetUser(ctx, strings.TrimSpace(username))
	if errors.Is(err, domain.ErrUserNotFound) {
		// unknown users pay the same bcrypt cost as a wrong password
		_ = s.compare(s.unknownUserHash(), []byte(password))
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := s.compare([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

// Login authenticates and opens a session.
func (s *Service) Login(ctx context.Context, username, password string) (*Session, error) {
	u, err := s.Authenticate(ctx, username, password)
	if err != nil {
		return nil, err
	}
	return s.CreateSession(ctx, u.Username)
}

func (s *Service) CreateSession(ctx context.Context, username string) (*Session, error) {
	ctx, span := s.tracer.Start(ctx, "auth.create-session")
	defer span.End()

	if s.sessions == nil {
		return nil, errors.New("session store is not configured")
	}
	sess := &Session{
		Token:     s.newToken(),
		Username:  username,
		ExpiresAt: s.now().UTC().Add(s.ttl),
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return nil, err
	}
	if err := s.sessions.Set(ctx, sessionKeyPrefix+sess.Token, data, s.ttl).Err(); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}
	return sess, nil
}

// Session resolves a bearer token.
func (s *Service) Session(ctx context.Context, token string) (*Session, error) {
	ctx, span := s.tracer.Start(ctx, "auth.session")
	defer span.End()

	token = strings.TrimSpace(token)
	if token == "" || s.sessions == nil {
		return nil, ErrSessionNotFound
	}
	data, err := s.sessions.Get(ctx, sessionKeyPrefix+token).Bytes()
	if err == redis.Nil {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if !sess.ExpiresAt.IsZero() && s.now().After(sess.ExpiresAt) {
		return nil, ErrSessionNotFound
	}
	return &sess, nil
}

func (s *Service) Logout(ctx context.Context, token string) error {
	ctx, span := s.tracer.Start(ctx, "auth.logout")
	defer span.End()

	if s.sessions == nil {
		return nil
	}
	return s.sessions.Del(ctx, sessionKeyPrefix+token).Err()
}

// ResetPassword replaces the stored hash for username.
func (s *Service) ResetPassword(ctx context.Context, username, newPassword string) error {
	ctx, span := s.tracer.Start(ctx, "auth.reset-password")
	defer span.End()

	if !s.Enabled() {
		return ErrStoreDisabled
	}
	if strings.TrimSpace(username) == "" || newPassword == "" {
		return ErrMissingFields
	}
	hash, err := s.hash(newPassword)
	if err != nil {
		return err
	}
	return s.users.UpdatePasswordHash(ctx, username, string(hash))
}

func (s *Service) unknownUserHash() []byte {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("no such user"), s.cost)
	})
	return s.dummyHash
}

// bcrypt only looks at the first 72 bytes.
func (s *Service) hash(password string) ([]byte, error) {
	if len(password) > 72 {
		return nil, ErrPasswordTooLong
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	return hash, nil
}
