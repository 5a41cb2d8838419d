package client

import (
	"context"
	"errors"
	"net/http"

	"github.com/dmitrijs2005/campuskeeper/internal/client/gateway"
	"github.com/dmitrijs2005/campuskeeper/internal/client/models"
)

const (
	pathLogin          = "/auth/login"
	pathRegister       = "/auth/register"
	pathMe             = "/auth/me"
	pathTwoFactor      = "/auth/2fa/enable"
	pathTwoFactorSetup = "/auth/2fa/verify-setup"
	pathTwoFactorOff   = "/auth/2fa/disable"
	pathHealth         = "/health"
)

// HTTPClient implements Client over the JSON HTTP API. Every call goes
// through the gateway, so credential attachment and 401 handling happen
// there and nowhere else.
type HTTPClient struct {
	gw *gateway.Gateway
}

func NewHTTPClient(gw *gateway.Gateway) *HTTPClient {
	return &HTTPClient{gw: gw}
}

var _ Client = (*HTTPClient)(nil)

func (c *HTTPClient) Login(ctx context.Context, email, password string) (*models.LoginResult, error) {
	res, err := gateway.Request[*models.LoginResult](ctx, c.gw, http.MethodPost, pathLogin,
		models.LoginRequest{Email: email, Password: password})
	if err != nil {
		return nil, err
	}
	if res == nil || res.AccessToken == "" {
		return nil, ErrMissingToken
	}
	return res, nil
}

// Register creates an account. It does not sign the caller in; the returned
// identity may be nil when the backend answers with an empty body.
func (c *HTTPClient) Register(ctx context.Context, req models.RegisterRequest) (*models.Identity, error) {
	return gateway.Request[*models.Identity](ctx, c.gw, http.MethodPost, pathRegister, req)
}

func (c *HTTPClient) Me(ctx context.Context) (*models.Identity, error) {
	return gateway.Request[*models.Identity](ctx, c.gw, http.MethodGet, pathMe, nil)
}

func (c *HTTPClient) EnableTwoFactor(ctx context.Context) (*models.TwoFactorSecret, error) {
	res, err := gateway.Request[*models.TwoFactorSecret](ctx, c.gw, http.MethodPost, pathTwoFactor, nil)
	if err != nil {
		return nil, err
	}
	if res == nil || res.Secret == "" {
		return nil, ErrMissingSecret
	}
	return res, nil
}

func (c *HTTPClient) VerifyTwoFactorSetup(ctx context.Context, code string) error {
	_, err := c.gw.Do(ctx, http.MethodPost, pathTwoFactorSetup, models.TwoFactorCode{Code: code})
	return err
}

func (c *HTTPClient) DisableTwoFactor(ctx context.Context, code string) error {
	_, err := c.gw.Do(ctx, http.MethodPost, pathTwoFactorOff, models.TwoFactorCode{Code: code})
	return err
}

// Ping reports whether the backend is reachable. Any answer, including an
// error status, counts; only a network failure is returned.
func (c *HTTPClient) Ping(ctx context.Context) error {
	_, err := c.gw.Do(ctx, http.MethodGet, pathHealth, nil)
	if errors.Is(err, gateway.ErrNetwork) {
		return err
	}
	return nil
}
