package identity

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"time"

	"github.com/calma-app/calma/internal/models"
	"github.com/calma-app/calma/internal/store"
	"github.com/calma-app/calma/internal/util"
)

// CodeLength is the fixed length of email verification codes.
const CodeLength = 6

// DefaultCodeTTL is how long an issued verification code stays valid.
const DefaultCodeTTL = 10 * time.Minute

// CodeSender delivers a verification code to an email address.
type CodeSender interface {
	SendCode(ctx context.Context, email, code string) error
}

// LogSender writes codes to the log instead of delivering them. Used in
// development and tests where no mail transport is configured.
type LogSender struct{}

// SendCode logs the code for the given email.
func (LogSender) SendCode(ctx context.Context, email, code string) error {
	slog.Info("identity.LogSender: verification code issued", "email", email, "code", code)
	return nil
}

// IssuerOption configures a VerificationIssuer.
type IssuerOption func(*VerificationIssuer)

// WithCodeTTL overrides the code lifetime.
func WithCodeTTL(ttl time.Duration) IssuerOption {
	return func(i *VerificationIssuer) {
		i.ttl = ttl
	}
}

// WithIssuerClock overrides the time source, for tests.
func WithIssuerClock(now func() time.Time) IssuerOption {
	return func(i *VerificationIssuer) {
		i.now = now
	}
}

// WithCodeGenerator overrides code generation, for tests.
func WithCodeGenerator(gen func() string) IssuerOption {
	return func(i *VerificationIssuer) {
		i.generate = gen
	}
}

// VerificationIssuer issues and validates email verification codes. Codes are
// store-backed with a TTL; resend replaces the pending code.
type VerificationIssuer struct {
	store    store.Store
	sender   CodeSender
	ttl      time.Duration
	now      func() time.Time
	generate func() string
}

// NewVerificationIssuer creates an issuer over the given store and sender.
func NewVerificationIssuer(st store.Store, sender CodeSender, opts ...IssuerOption) *VerificationIssuer {
	issuer := &VerificationIssuer{
		store:    st,
		sender:   sender,
		ttl:      DefaultCodeTTL,
		now:      time.Now,
		generate: func() string { return util.GenerateNumericCode(CodeLength) },
	}
	for _, opt := range opts {
		opt(issuer)
	}
	return issuer
}

// Issue generates a fresh code for the email, stores it, and delivers it.
func (i *VerificationIssuer) Issue(ctx context.Context, email string) error {
	now := i.now()
	code := models.VerificationCode{
		Email:     email,
		Code:      i.generate(),
		IssuedAt:  now,
		ExpiresAt: now.Add(i.ttl),
	}
	if err := i.store.SaveVerificationCode(code); err != nil {
		slog.Error("identity.Issue: code save failed", "error", err, "email", email)
		return fmt.Errorf("%w: verification code save: %v", models.ErrAuthCollaborator, err)
	}
	if err := i.sender.SendCode(ctx, email, code.Code); err != nil {
		slog.Error("identity.Issue: code delivery failed", "error", err, "email", email)
		return fmt.Errorf("%w: verification code delivery: %v", models.ErrAuthCollaborator, err)
	}
	slog.Debug("identity.Issue: code issued", "email", email, "expiresAt", code.ExpiresAt)
	return nil
}

// Resend issues a fresh code, replacing any pending one.
func (i *VerificationIssuer) Resend(ctx context.Context, email string) error {
	return i.Issue(ctx, email)
}

// Verify checks a candidate code. Candidates that are not exactly six
// characters are rejected before any lookup. A successful verification
// consumes the pending code.
func (i *VerificationIssuer) Verify(ctx context.Context, email, candidate string) error {
	if len(candidate) != CodeLength {
		return models.ErrCodeLength
	}

	pending, err := i.store.GetVerificationCode(email)
	if err != nil {
		slog.Error("identity.Verify: code lookup failed", "error", err, "email", email)
		return fmt.Errorf("%w: verification code lookup: %v", models.ErrAuthCollaborator, err)
	}
	if pending == nil {
		return models.ErrCodeExpired
	}
	if i.now().After(pending.ExpiresAt) {
		// Consume the stale code so retries prompt a resend.
		_ = i.store.DeleteVerificationCode(email)
		return models.ErrCodeExpired
	}
	if subtle.ConstantTimeCompare([]byte(pending.Code), []byte(candidate)) != 1 {
		slog.Warn("identity.Verify: code mismatch", "email", email)
		return models.ErrCodeMismatch
	}

	if err := i.store.DeleteVerificationCode(email); err != nil {
		slog.Error("identity.Verify: code consume failed", "error", err, "email", email)
	}
	slog.Debug("identity.Verify: code verified", "email", email)
	return nil
}

// SweepExpired removes all expired codes. Run periodically by the scheduler.
func (i *VerificationIssuer) SweepExpired(ctx context.Context) (int64, error) {
	removed, err := i.store.DeleteExpiredVerificationCodes(i.now())
	if err != nil {
		slog.Error("identity.SweepExpired: sweep failed", "error", err)
		return 0, fmt.Errorf("%w: code sweep: %v", models.ErrPersistence, err)
	}
	if removed > 0 {
		slog.Info("identity.SweepExpired: expired codes removed", "count", removed)
	}
	return removed, nil
}
