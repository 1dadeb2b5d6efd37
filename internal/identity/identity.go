// Package identity implements the identity collaborator: account
// registration, credential and OAuth sign-in, token issuance, and email
// verification codes. The core flows only consume success/failure and the
// authenticated flag; token formats stay inside this package.
package identity

import (
	"context"

	"github.com/calma-app/calma/internal/models"
)

// Provider is the identity collaborator surface consumed by the onboarding
// sequencer and the auth endpoints.
type Provider interface {
	// Register creates an account with email/password credentials and
	// returns the new account id.
	Register(ctx context.Context, email, password string) (string, error)

	// Login validates credentials and issues a token pair.
	Login(ctx context.Context, email, password string) (*models.TokenPair, error)

	// Refresh exchanges a refresh token for a new token pair.
	Refresh(ctx context.Context, refreshToken string) (*models.TokenPair, error)

	// SignInWithOAuth resolves (or creates) the account for an identity
	// asserted by the external OAuth provider and returns its id.
	SignInWithOAuth(ctx context.Context, email string) (string, error)

	// Authenticated reports whether an authenticated identity exists for
	// the given account id.
	Authenticated(ctx context.Context, accountID string) (bool, error)
}
