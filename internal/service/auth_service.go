package service

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/crypto/bcrypt"

	"github.com/aviarydata/aviary/internal/domain"
	"github.com/aviarydata/aviary/internal/search"
)

// --- Error Definitions ---
var (
	ErrUserAlreadyExists    = errors.New("user with this username already exists")
	ErrAuthenticationFailed = errors.New("authentication failed: invalid username or password")
	ErrHashingFailed        = errors.New("failed to hash password")
	ErrTokenGeneration      = errors.New("failed to generate authentication token")
)

// UserStore is the slice of the search adapter the auth service needs.
type UserStore interface {
	EnsureUser(ctx context.Context, user domain.User) error
	GetUser(ctx context.Context, username string) (*domain.User, error)
	PullSettings(ctx context.Context, username string) (domain.UserSettings, error)
	PushSettings(ctx context.Context, username string, settings domain.UserSettings) error
}

type AuthService interface {
	Register(ctx context.Context, username, password string) (*domain.User, error)
	Login(ctx context.Context, username, password string) (token string, user *domain.User, err error)
	GetSettings(ctx context.Context, username string) (domain.UserSettings, error)
	UpdateSettings(ctx context.Context, username string, settings domain.UserSettings) error
	GetJWTSecret() string
}

type authService struct {
	users         UserStore
	jwtSecret     string
	jwtExpiration time.Duration
}

func NewAuthService(users UserStore, jwtSecret string, jwtExpiration time.Duration) AuthService {
	if jwtSecret == "" {
		panic("JWT secret cannot be empty")
	}
	if jwtExpiration <= 0 {
		jwtExpiration = time.Hour
	}
	return &authService{
		users:         users,
		jwtSecret:     jwtSecret,
		jwtExpiration: jwtExpiration,
	}
}

// Register creates a user document with default settings.
func (s *authService) Register(ctx context.Context, username, password string) (*domain.User, error) {
	if username == "" || password == "" {
		return nil, errors.New("username and password cannot be empty")
	}

	_, err := s.users.GetUser(ctx, username)
	if err == nil {
		return nil, ErrUserAlreadyExists
	}
	if !errors.Is(err, search.ErrNotFound) {
		return nil, err
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, ErrHashingFailed
	}

	user := domain.User{
		Username:     username,
		PasswordHash: string(hashed),
		Settings:     domain.DefaultSettings(),
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.users.EnsureUser(ctx, user); err != nil {
		return nil, err
	}

	user.PasswordHash = ""
	return &user, nil
}

// Login authenticates a user and hands back a signed token.
func (s *authService) Login(ctx context.Context, username, password string) (string, *domain.User, error) {
	if username == "" || password == "" {
		return "", nil, ErrAuthenticationFailed
	}

	user, err := s.users.GetUser(ctx, username)
	if err != nil {
		if errors.Is(err, search.ErrNotFound) {
			return "", nil, ErrAuthenticationFailed
		}
		return "", nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", nil, ErrAuthenticationFailed
	}

	token, err := s.generateJWT(user)
	if err != nil {
		return "", nil, ErrTokenGeneration
	}

	user.PasswordHash = ""
	return token, user, nil
}

func (s *authService) GetSettings(ctx context.Context, username string) (domain.UserSettings, error) {
	return s.users.PullSettings(ctx, username)
}

func (s *authService) UpdateSettings(ctx context.Context, username string, settings domain.UserSettings) error {
	return s.users.PushSettings(ctx, username, settings)
}

// --- JWT Helper ---

// jwtClaims defines the structure of the JWT payload.
type jwtClaims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

func (s *authService) generateJWT(user *domain.User) (string, error) {
	expirationTime := time.Now().Add(s.jwtExpiration)
	claims := &jwtClaims{
		Username: user.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.Username,
			ExpiresAt: jwt.NewNumericDate(expirationTime),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "aviary",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.jwtSecret))
}

// GetJWTSecret returns the JWT secret for middleware authentication.
func (s *authService) GetJWTSecret() string {
	return s.jwtSecret
}
