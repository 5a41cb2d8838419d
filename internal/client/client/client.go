package client

import (
	"context"

	"github.com/dmitrijs2005/campuskeeper/internal/client/models"
)

// Client is the backend auth API used by the session core.
type Client interface {
	Login(ctx context.Context, email, password string) (*models.LoginResult, error)
	Register(ctx context.Context, req models.RegisterRequest) (*models.Identity, error)
	Me(ctx context.Context) (*models.Identity, error)
	EnableTwoFactor(ctx context.Context) (*models.TwoFactorSecret, error)
	VerifyTwoFactorSetup(ctx context.Context, code string) error
	DisableTwoFactor(ctx context.Context, code string) error
	Ping(ctx context.Context) error
}
