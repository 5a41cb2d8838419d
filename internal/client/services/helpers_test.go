package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/campuskeeper/internal/client/client"
	"github.com/dmitrijs2005/campuskeeper/internal/client/credential"
	"github.com/dmitrijs2005/campuskeeper/internal/client/fakebackend"
	"github.com/dmitrijs2005/campuskeeper/internal/client/gateway"
	"github.com/dmitrijs2005/campuskeeper/internal/client/models"
)

// ---- full stack over the fake backend ----

type env struct {
	fb    *fakebackend.Server
	store *credential.MemoryStore
	gw    *gateway.Gateway
	api   *client.HTTPClient
	sess  *SessionService
}

func newEnv(t *testing.T) *env {
	t.Helper()
	fb := fakebackend.New()
	t.Cleanup(fb.Close)

	store := credential.NewMemoryStore()
	gw, err := gateway.New(fb.URL(), store)
	require.NoError(t, err)
	api := client.NewHTTPClient(gw)

	return &env{
		fb:    fb,
		store: store,
		gw:    gw,
		api:   api,
		sess:  NewSessionService(api, store, WithUnauthorizedNotifier(gw)),
	}
}

func (e *env) credential(t *testing.T) credential.Credential {
	t.Helper()
	c, err := e.store.Get(context.Background())
	require.NoError(t, err)
	return c
}

// signIn seeds a user and stores a valid credential for it.
func (e *env) signIn(t *testing.T, email string, role models.Role) {
	t.Helper()
	e.fb.AddUser(email, "good", "Test User", role)
	tok, err := e.fb.IssueToken(email)
	require.NoError(t, err)
	require.NoError(t, e.store.Set(context.Background(), credential.Credential(tok)))
	require.NoError(t, e.sess.Bootstrap(context.Background()))
	require.Equal(t, models.PhaseAuthenticated, e.sess.Phase())
}

// waitCalls blocks until path has been hit n times.
func (e *env) waitCalls(t *testing.T, path string, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return e.fb.Calls(path) >= n }, 2*time.Second, 5*time.Millisecond)
}

// ---- hand-written fake client ----

// fakeClient implements client.Client with scripted answers.
type fakeClient struct {
	mu sync.Mutex

	LoginRet *models.LoginResult
	LoginErr error
	MeRet    *models.Identity
	MeErr    error

	RegisterRet *models.Identity
	RegisterErr error

	EnableRet  *models.TwoFactorSecret
	EnableErr  error
	VerifyErr  error
	DisableErr error

	// MeGate, when set, is received from before Me answers.
	MeGate chan struct{}

	Calls        map[string]int
	LastRegister models.RegisterRequest
}

func (f *fakeClient) count(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Calls == nil {
		f.Calls = make(map[string]int)
	}
	f.Calls[name]++
}

func (f *fakeClient) calls(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Calls[name]
}

func (f *fakeClient) Login(ctx context.Context, email, password string) (*models.LoginResult, error) {
	f.count("login")
	return f.LoginRet, f.LoginErr
}

func (f *fakeClient) Register(ctx context.Context, req models.RegisterRequest) (*models.Identity, error) {
	f.count("register")
	f.mu.Lock()
	f.LastRegister = req
	f.mu.Unlock()
	return f.RegisterRet, f.RegisterErr
}

func (f *fakeClient) Me(ctx context.Context) (*models.Identity, error) {
	f.count("me")
	if f.MeGate != nil {
		<-f.MeGate
	}
	return f.MeRet, f.MeErr
}

func (f *fakeClient) EnableTwoFactor(ctx context.Context) (*models.TwoFactorSecret, error) {
	f.count("enable")
	return f.EnableRet, f.EnableErr
}

func (f *fakeClient) VerifyTwoFactorSetup(ctx context.Context, code string) error {
	f.count("verify")
	return f.VerifyErr
}

func (f *fakeClient) DisableTwoFactor(ctx context.Context, code string) error {
	f.count("disable")
	return f.DisableErr
}

func (f *fakeClient) Ping(ctx context.Context) error {
	f.count("ping")
	return nil
}

var _ client.Client = (*fakeClient)(nil)
