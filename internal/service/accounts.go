// Package service contains the account lifecycle: sign-up, email
// verification, and sign-in. It owns the NonExistent → PendingVerification →
// Verified state machine and gates connection opening on the Verified state.
package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/chatwire/chatwire/internal/crypto"
	"github.com/chatwire/chatwire/internal/errs"
	"github.com/chatwire/chatwire/internal/mail"
	"github.com/chatwire/chatwire/internal/model"
	"github.com/chatwire/chatwire/internal/store"
	"github.com/chatwire/chatwire/internal/validation"
)

// Accounts orchestrates account creation, verification, and credential checks
// against the identity store.
type Accounts struct {
	store      store.IdentityStore
	mailer     mail.Mailer
	linkPrefix string
	verifyTTL  time.Duration
	log        *zap.Logger
	now        func() time.Time
}

// NewAccounts constructs the account lifecycle service. linkPrefix is the
// verification-link prefix the token is appended to; verifyTTL bounds how
// long a fresh token stays consumable.
func NewAccounts(st store.IdentityStore, mailer mail.Mailer, linkPrefix string, verifyTTL time.Duration, log *zap.Logger) *Accounts {
	return &Accounts{
		store:      st,
		mailer:     mailer,
		linkPrefix: linkPrefix,
		verifyTTL:  verifyTTL,
		log:        log,
		now:        time.Now,
	}
}

// SignUp validates the raw fields, creates the account in the pending state,
// and requests a verification email. Duplicate ids surface as
// errs.ErrConflict; invalid fields surface as validation.Errors with every
// applicable message.
func (a *Accounts) SignUp(ctx context.Context, id, password, email string) error {
	if verrs := validation.SignUp(id, password, email); len(verrs) > 0 {
		return verrs
	}

	hash, err := crypto.HashPassword(password)
	if err != nil {
		return err
	}
	token, err := crypto.NewToken()
	if err != nil {
		return err
	}

	acc := &model.Account{
		ID:           id,
		PasswordHash: hash,
		Email:        email,
		Token:        token,
		TokenExpiry:  a.now().Add(a.verifyTTL),
	}
	if err := a.store.Put(ctx, acc); err != nil {
		return err
	}

	// Dispatch is a request to an external collaborator; a failure here
	// must not undo the created account.
	if err := a.mailer.SendVerification(ctx, email, a.linkPrefix+token); err != nil {
		a.log.Error("verification email dispatch failed",
			zap.String("id", id), zap.Error(err))
	}
	return nil
}

// Verify consumes a verification token exactly once. An unknown or already
// consumed token returns errs.ErrNotFound; a token past its expiry instant
// returns errs.ErrTokenExpired and stays unconsumable.
func (a *Accounts) Verify(ctx context.Context, token string) error {
	acc, err := a.store.GetByToken(ctx, token)
	if err != nil {
		return err
	}
	if !a.now().Before(acc.TokenExpiry) {
		return errs.ErrTokenExpired
	}

	acc.Verified = true
	acc.Token = ""
	acc.TokenExpiry = time.Time{}
	if err := a.store.Update(ctx, acc); err != nil {
		return err
	}
	a.log.Info("account verified", zap.String("id", acc.ID))
	return nil
}

// SignIn validates and checks the credentials. The caller may open a
// connection session only on a nil error. Unknown ids return
// errs.ErrNotFound; an existing but unverified account returns
// errs.ErrUnverified regardless of the password; a wrong password returns
// errs.ErrUnauthorized with no further detail.
func (a *Accounts) SignIn(ctx context.Context, id, password string) (*model.Account, error) {
	if verrs := validation.Credentials(id, password); len(verrs) > 0 {
		return nil, verrs
	}

	acc, err := a.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !acc.Verified {
		return nil, errs.ErrUnverified
	}
	if !crypto.VerifyPassword(password, acc.PasswordHash) {
		return nil, errs.ErrUnauthorized
	}
	return acc, nil
}
