package identity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/calma-app/calma/internal/models"
	"github.com/calma-app/calma/internal/store"
)

// Token lifetime defaults, mirroring the short access / long refresh split of
// the upstream identity service.
const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 720 * time.Hour
	DefaultIssuer     = "calma"
)

// Opts holds configuration options for the local identity provider.
type Opts struct {
	TokenSecret []byte
	AccessTTL   time.Duration
	RefreshTTL  time.Duration
	Issuer      string
}

// Option defines a configuration option for the local identity provider.
type Option func(*Opts)

// WithTokenSecret sets the HMAC secret used to sign tokens.
func WithTokenSecret(secret string) Option {
	return func(o *Opts) {
		o.TokenSecret = []byte(secret)
	}
}

// WithAccessTTL overrides the access token lifetime.
func WithAccessTTL(ttl time.Duration) Option {
	return func(o *Opts) {
		o.AccessTTL = ttl
	}
}

// WithRefreshTTL overrides the refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) Option {
	return func(o *Opts) {
		o.RefreshTTL = ttl
	}
}

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) Option {
	return func(o *Opts) {
		o.Issuer = issuer
	}
}

// LocalProvider is a store-backed identity provider issuing HS256 JWT pairs.
type LocalProvider struct {
	store   store.Store
	secret  []byte
	access  time.Duration
	refresh time.Duration
	issuer  string
	now     func() time.Time
}

// NewLocalProvider creates a provider over the given store.
func NewLocalProvider(st store.Store, opts ...Option) (*LocalProvider, error) {
	cfg := Opts{AccessTTL: DefaultAccessTTL, RefreshTTL: DefaultRefreshTTL, Issuer: DefaultIssuer}
	for _, opt := range opts {
		opt(&cfg)
	}
	if len(cfg.TokenSecret) == 0 {
		return nil, fmt.Errorf("identity token secret not set")
	}
	slog.Debug("identity.NewLocalProvider: provider created", "issuer", cfg.Issuer, "accessTTL", cfg.AccessTTL, "refreshTTL", cfg.RefreshTTL)
	return &LocalProvider{
		store:   st,
		secret:  cfg.TokenSecret,
		access:  cfg.AccessTTL,
		refresh: cfg.RefreshTTL,
		issuer:  cfg.Issuer,
		now:     time.Now,
	}, nil
}

// Register creates a password-credentialed account.
func (p *LocalProvider) Register(ctx context.Context, email, password string) (string, error) {
	existing, err := p.store.GetAccountByEmail(email)
	if err != nil {
		slog.Error("identity.Register: account lookup failed", "error", err, "email", email)
		return "", fmt.Errorf("%w: account lookup: %v", models.ErrAuthCollaborator, err)
	}
	if existing != nil {
		slog.Warn("identity.Register: account already exists", "email", email)
		return "", models.ErrAccountExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		slog.Error("identity.Register: password hashing failed", "error", err)
		return "", fmt.Errorf("%w: password hashing: %v", models.ErrAuthCollaborator, err)
	}

	account := models.Account{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    p.now(),
	}
	if err := p.store.SaveAccount(account); err != nil {
		slog.Error("identity.Register: account save failed", "error", err, "email", email)
		return "", fmt.Errorf("%w: account save: %v", models.ErrAuthCollaborator, err)
	}
	slog.Info("identity.Register: account created", "accountID", account.ID)
	return account.ID, nil
}

// Login validates credentials and issues a token pair.
func (p *LocalProvider) Login(ctx context.Context, email, password string) (*models.TokenPair, error) {
	account, err := p.store.GetAccountByEmail(email)
	if err != nil {
		slog.Error("identity.Login: account lookup failed", "error", err, "email", email)
		return nil, fmt.Errorf("%w: account lookup: %v", models.ErrAuthCollaborator, err)
	}
	if account == nil || account.PasswordHash == "" {
		return nil, models.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		slog.Warn("identity.Login: password mismatch", "accountID", account.ID)
		return nil, models.ErrInvalidCredentials
	}
	return p.issuePair(account)
}

// Refresh exchanges a valid refresh token for a new pair.
func (p *LocalProvider) Refresh(ctx context.Context, refreshToken string) (*models.TokenPair, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(refreshToken, claims, func(t *jwt.Token) (interface{}, error) {
		return p.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(p.issuer))
	if err != nil {
		slog.Warn("identity.Refresh: token parse failed", "error", err)
		return nil, models.ErrInvalidToken
	}
	if typ, _ := claims["typ"].(string); typ != "refresh" {
		return nil, models.ErrInvalidToken
	}
	sub, _ := claims["sub"].(string)
	account, err := p.store.GetAccount(sub)
	if err != nil {
		slog.Error("identity.Refresh: account lookup failed", "error", err, "accountID", sub)
		return nil, fmt.Errorf("%w: account lookup: %v", models.ErrAuthCollaborator, err)
	}
	if account == nil {
		return nil, models.ErrInvalidToken
	}
	return p.issuePair(account)
}

// SignInWithOAuth resolves the account for an OAuth-asserted identity,
// creating a password-less account on first sign-in.
func (p *LocalProvider) SignInWithOAuth(ctx context.Context, email string) (string, error) {
	account, err := p.store.GetAccountByEmail(email)
	if err != nil {
		slog.Error("identity.SignInWithOAuth: account lookup failed", "error", err, "email", email)
		return "", fmt.Errorf("%w: account lookup: %v", models.ErrAuthCollaborator, err)
	}
	if account != nil {
		return account.ID, nil
	}

	account = &models.Account{
		ID:        uuid.NewString(),
		Email:     email,
		OAuth:     true,
		CreatedAt: p.now(),
	}
	if err := p.store.SaveAccount(*account); err != nil {
		slog.Error("identity.SignInWithOAuth: account save failed", "error", err, "email", email)
		return "", fmt.Errorf("%w: account save: %v", models.ErrAuthCollaborator, err)
	}
	slog.Info("identity.SignInWithOAuth: account created", "accountID", account.ID)
	return account.ID, nil
}

// Authenticated reports whether the account id resolves to an account.
func (p *LocalProvider) Authenticated(ctx context.Context, accountID string) (bool, error) {
	if accountID == "" {
		return false, nil
	}
	account, err := p.store.GetAccount(accountID)
	if err != nil {
		return false, fmt.Errorf("%w: account lookup: %v", models.ErrAuthCollaborator, err)
	}
	return account != nil, nil
}

func (p *LocalProvider) issuePair(account *models.Account) (*models.TokenPair, error) {
	now := p.now()
	access, err := p.signToken(account, "access", now, p.access)
	if err != nil {
		return nil, fmt.Errorf("%w: access token signing: %v", models.ErrAuthCollaborator, err)
	}
	refresh, err := p.signToken(account, "refresh", now, p.refresh)
	if err != nil {
		return nil, fmt.Errorf("%w: refresh token signing: %v", models.ErrAuthCollaborator, err)
	}
	return &models.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(p.access.Seconds()),
	}, nil
}

func (p *LocalProvider) signToken(account *models.Account, typ string, now time.Time, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"iss":   p.issuer,
		"sub":   account.ID,
		"email": account.Email,
		"typ":   typ,
		"iat":   now.Unix(),
		"exp":   now.Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
}
