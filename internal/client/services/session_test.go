package services

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/campuskeeper/internal/client/credential"
	"github.com/dmitrijs2005/campuskeeper/internal/client/gateway"
	"github.com/dmitrijs2005/campuskeeper/internal/client/metrics"
	"github.com/dmitrijs2005/campuskeeper/internal/client/models"
)

func TestBootstrap_NoCredential_NoNetworkCall(t *testing.T) {
	e := newEnv(t)

	require.NoError(t, e.sess.Bootstrap(context.Background()))

	snap := e.sess.Snapshot()
	assert.Equal(t, models.PhaseUnauthenticated, snap.Phase)
	assert.Nil(t, snap.Identity)
	assert.Equal(t, 0, e.fb.Calls("/auth/me"))

	fc := &fakeClient{}
	s := NewSessionService(fc, credential.NewMemoryStore())
	require.NoError(t, s.Bootstrap(context.Background()))
	assert.Equal(t, models.PhaseUnauthenticated, s.Phase())
	assert.Equal(t, 0, fc.calls("me"))
}

func TestBootstrap_ValidCredential(t *testing.T) {
	e := newEnv(t)
	e.signIn(t, "a@b.com", models.RoleTeacher)

	id := e.sess.Identity()
	require.NotNil(t, id)
	assert.Equal(t, "a@b.com", id.Email)
	assert.Equal(t, models.RoleTeacher, id.Role)
}

func TestBootstrap_RejectedCredential_Unauthenticated(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.fb.AddUser("a@b.com", "good", "", models.RoleStudent)
	tok, err := e.fb.IssueToken("a@b.com")
	require.NoError(t, err)
	require.NoError(t, e.store.Set(ctx, credential.Credential(tok)))
	e.fb.RevokeAll()

	err = e.sess.Bootstrap(ctx)
	require.ErrorIs(t, err, gateway.ErrUnauthorized)

	snap := e.sess.Snapshot()
	assert.Equal(t, models.PhaseUnauthenticated, snap.Phase)
	assert.Nil(t, snap.Identity)
	assert.True(t, e.credential(t).IsZero())
}

func TestBootstrap_NetworkFailure_KeepsCredential(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	require.NoError(t, e.store.Set(ctx, "tok-kept"))
	e.fb.Close()

	err := e.sess.Bootstrap(ctx)
	require.ErrorIs(t, err, gateway.ErrNetwork)

	snap := e.sess.Snapshot()
	assert.Equal(t, models.PhaseError, snap.Phase)
	assert.Nil(t, snap.Identity)
	assert.True(t, snap.Recoverable)
	require.ErrorIs(t, snap.LastError, gateway.ErrNetwork)
	assert.Equal(t, credential.Credential("tok-kept"), e.credential(t))
}

func TestBootstrap_ApplicationFailure(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		recoverable bool
	}{
		{name: "server error", status: http.StatusInternalServerError, recoverable: true},
		{name: "client error", status: http.StatusForbidden, recoverable: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			ctx := context.Background()
			require.NoError(t, e.store.Set(ctx, "tok"))
			e.fb.FailNext("/auth/me", tt.status, "nope")

			err := e.sess.Bootstrap(ctx)
			require.ErrorIs(t, err, gateway.ErrApplication)

			snap := e.sess.Snapshot()
			assert.Equal(t, models.PhaseError, snap.Phase)
			assert.Equal(t, tt.recoverable, snap.Recoverable)
			assert.Equal(t, "nope", gateway.Message(snap.LastError))
			assert.Equal(t, credential.Credential("tok"), e.credential(t))
		})
	}
}

func TestBootstrap_EmptyIdentity(t *testing.T) {
	fc := &fakeClient{}
	store := credential.NewMemoryStore()
	require.NoError(t, store.Set(context.Background(), "tok"))
	s := NewSessionService(fc, store)

	require.ErrorIs(t, s.Bootstrap(context.Background()), ErrNoIdentity)
	assert.Equal(t, models.PhaseError, s.Phase())
}

func TestLogin_Success(t *testing.T) {
	e := newEnv(t)
	e.fb.AddUser("a@b.com", "good", "Ann", models.RoleStudent)

	id, err := e.sess.Login(context.Background(), "a@b.com", "good")
	require.NoError(t, err)
	assert.Equal(t, "a@b.com", id.Email)

	snap := e.sess.Snapshot()
	assert.Equal(t, models.PhaseAuthenticated, snap.Phase)
	require.NotNil(t, snap.Identity)
	assert.Equal(t, "a@b.com", snap.Identity.Email)
	assert.False(t, e.credential(t).IsZero())
}

func TestLogin_Rejected_ErrorPhaseAndNoCredential(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(e *env)
		wantMsg string
	}{
		{
			name:    "wrong password",
			prepare: func(e *env) {},
			wantMsg: "Incorrect email or password",
		},
		{
			name:    "backend answers 401",
			prepare: func(e *env) { e.fb.FailNext("/auth/login", http.StatusUnauthorized, "Bad credentials") },
			wantMsg: "Bad credentials",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			e.fb.AddUser("a@b.com", "good", "", models.RoleStudent)
			tt.prepare(e)

			_, err := e.sess.Login(context.Background(), "a@b.com", "bad")
			require.Error(t, err)

			snap := e.sess.Snapshot()
			assert.Equal(t, models.PhaseError, snap.Phase)
			assert.Nil(t, snap.Identity)
			assert.False(t, snap.Recoverable)
			assert.Equal(t, tt.wantMsg, gateway.Message(snap.LastError))
			assert.True(t, e.credential(t).IsZero())
		})
	}
}

func TestLogin_ErrorPhaseIsReenterable(t *testing.T) {
	e := newEnv(t)
	e.fb.AddUser("a@b.com", "good", "", models.RoleStudent)
	ctx := context.Background()

	_, err := e.sess.Login(ctx, "a@b.com", "bad")
	require.Error(t, err)
	require.Equal(t, models.PhaseError, e.sess.Phase())

	_, err = e.sess.Login(ctx, "a@b.com", "good")
	require.NoError(t, err)
	snap := e.sess.Snapshot()
	assert.Equal(t, models.PhaseAuthenticated, snap.Phase)
	assert.NoError(t, snap.LastError)
}

func TestLogin_ResponseWithoutUser_FetchesIdentity(t *testing.T) {
	fc := &fakeClient{
		LoginRet: &models.LoginResult{AccessToken: "tok", TokenType: "bearer"},
		MeRet:    &models.Identity{ID: "7", Email: "a@b.com", Role: models.RoleAdmin},
	}
	store := credential.NewMemoryStore()
	s := NewSessionService(fc, store)

	id, err := s.Login(context.Background(), "a@b.com", "good")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, id.Role)
	assert.Equal(t, 1, fc.calls("me"))

	got, _ := store.Get(context.Background())
	assert.Equal(t, credential.Credential("tok"), got)
}

func TestLogin_Validation(t *testing.T) {
	fc := &fakeClient{}
	s := NewSessionService(fc, credential.NewMemoryStore())

	_, err := s.Login(context.Background(), "  ", "pw")
	require.ErrorIs(t, err, gateway.ErrValidation)
	_, err = s.Login(context.Background(), "a@b.com", "")
	require.ErrorIs(t, err, gateway.ErrValidation)

	assert.Equal(t, 0, fc.calls("login"))
	assert.Equal(t, models.PhaseUnauthenticated, s.Phase())
}

func TestLogin_ConcurrentAttemptRejected(t *testing.T) {
	e := newEnv(t)
	e.fb.AddUser("a@b.com", "good", "", models.RoleStudent)
	ctx := context.Background()

	release := e.fb.Hold("/auth/login")
	done := make(chan error, 1)
	go func() {
		_, err := e.sess.Login(ctx, "a@b.com", "good")
		done <- err
	}()
	e.waitCalls(t, "/auth/login", 1)
	assert.Equal(t, models.PhaseAuthenticating, e.sess.Phase())

	_, err := e.sess.Login(ctx, "a@b.com", "good")
	require.ErrorIs(t, err, ErrInProgress)
	require.ErrorIs(t, e.sess.Bootstrap(ctx), ErrInProgress)

	release()
	require.NoError(t, <-done)
	assert.Equal(t, models.PhaseAuthenticated, e.sess.Phase())
	assert.Equal(t, 1, e.fb.Calls("/auth/login"))
}

func TestBootstrap_StaleResultAfterLogout_IsDiscarded(t *testing.T) {
	e := newEnv(t)
	e.signIn(t, "a@b.com", models.RoleStudent)
	ctx := context.Background()

	release := e.fb.Hold("/auth/me")
	done := make(chan error, 1)
	go func() { done <- e.sess.Bootstrap(ctx) }()
	e.waitCalls(t, "/auth/me", 2)

	require.NoError(t, e.sess.Logout(ctx))
	release()

	require.ErrorIs(t, <-done, ErrSuperseded)
	snap := e.sess.Snapshot()
	assert.Equal(t, models.PhaseUnauthenticated, snap.Phase)
	assert.Nil(t, snap.Identity)
	assert.True(t, e.credential(t).IsZero())
}

func TestLogin_StaleResultAfterLogout_StoresNothing(t *testing.T) {
	e := newEnv(t)
	e.fb.AddUser("a@b.com", "good", "", models.RoleStudent)
	ctx := context.Background()

	release := e.fb.Hold("/auth/login")
	done := make(chan error, 1)
	go func() {
		_, err := e.sess.Login(ctx, "a@b.com", "good")
		done <- err
	}()
	e.waitCalls(t, "/auth/login", 1)

	require.NoError(t, e.sess.Logout(ctx))
	release()

	require.ErrorIs(t, <-done, ErrSuperseded)
	assert.Equal(t, models.PhaseUnauthenticated, e.sess.Phase())
	assert.True(t, e.credential(t).IsZero(), "a superseded login must not store its credential")
}

func TestRefresh_RejectedAfterNewerLogin_DoesNotCancelIt(t *testing.T) {
	e := newEnv(t)
	e.signIn(t, "a@b.com", models.RoleStudent)
	ctx := context.Background()
	e.fb.RevokeAll()

	releaseMe := e.fb.Hold("/auth/me")
	refreshed := make(chan error, 1)
	go func() {
		_, err := e.sess.Refresh(ctx)
		refreshed <- err
	}()
	e.waitCalls(t, "/auth/me", 2)

	releaseLogin := e.fb.Hold("/auth/login")
	loggedIn := make(chan error, 1)
	go func() {
		_, err := e.sess.Login(ctx, "a@b.com", "good")
		loggedIn <- err
	}()
	e.waitCalls(t, "/auth/login", 1)
	require.Equal(t, models.PhaseAuthenticating, e.sess.Phase())

	releaseMe()
	require.ErrorIs(t, <-refreshed, gateway.ErrUnauthorized)
	assert.Equal(t, models.PhaseAuthenticating, e.sess.Phase(), "the in-flight login decides")

	releaseLogin()
	require.NoError(t, <-loggedIn)
	snap := e.sess.Snapshot()
	assert.Equal(t, models.PhaseAuthenticated, snap.Phase)
	assert.Nil(t, snap.LastError)
	assert.False(t, e.credential(t).IsZero())
}

func TestLogout_Idempotent(t *testing.T) {
	e := newEnv(t)
	e.signIn(t, "a@b.com", models.RoleStudent)
	ctx := context.Background()

	var notified int
	cancel := e.sess.Subscribe(func(Snapshot) { notified++ })
	defer cancel()

	require.NoError(t, e.sess.Logout(ctx))
	first := e.sess.Snapshot()
	require.NoError(t, e.sess.Logout(ctx))
	second := e.sess.Snapshot()

	assert.Equal(t, models.PhaseUnauthenticated, second.Phase)
	assert.Nil(t, second.Identity)
	assert.True(t, e.credential(t).IsZero())
	assert.Equal(t, first.Phase, second.Phase)
	assert.Equal(t, first.LastError, second.LastError)
	assert.Equal(t, 1, notified, "second logout changes nothing")
	assert.Equal(t, 0, e.fb.Calls("/auth/logout"))
}

type failingClearStore struct {
	*credential.MemoryStore
}

func (s failingClearStore) Clear(ctx context.Context) error {
	_ = s.MemoryStore.Clear(ctx)
	return errors.New("disk full")
}

func TestLogout_StoreFailureStillSignsOut(t *testing.T) {
	fc := &fakeClient{MeRet: &models.Identity{Email: "a@b.com"}}
	store := failingClearStore{credential.NewMemoryStore()}
	require.NoError(t, store.Set(context.Background(), "tok"))
	s := NewSessionService(fc, store)
	require.NoError(t, s.Bootstrap(context.Background()))

	err := s.Logout(context.Background())
	require.ErrorContains(t, err, "disk full")
	assert.Equal(t, models.PhaseUnauthenticated, s.Phase())
	assert.Nil(t, s.Identity())
}

func TestUnauthorizedFromAnyCall_DemotesSession(t *testing.T) {
	e := newEnv(t)
	e.signIn(t, "a@b.com", models.RoleStudent)

	var phases []models.SessionPhase
	cancel := e.sess.Subscribe(func(s Snapshot) { phases = append(phases, s.Phase) })
	defer cancel()

	e.fb.RevokeAll()
	// A collaborator other than the session hits the 401.
	_, err := e.api.EnableTwoFactor(context.Background())
	require.ErrorIs(t, err, gateway.ErrUnauthorized)

	snap := e.sess.Snapshot()
	assert.Equal(t, models.PhaseUnauthenticated, snap.Phase)
	assert.Nil(t, snap.Identity)
	require.ErrorIs(t, snap.LastError, ErrSessionExpired)
	assert.True(t, e.credential(t).IsZero())
	assert.Equal(t, []models.SessionPhase{models.PhaseUnauthenticated}, phases)
}

func TestUnauthorized_WhenAlreadySignedOut_IsNoop(t *testing.T) {
	e := newEnv(t)

	var notified int
	cancel := e.sess.Subscribe(func(Snapshot) { notified++ })
	defer cancel()

	_, err := e.api.Me(context.Background())
	require.ErrorIs(t, err, gateway.ErrUnauthorized)
	assert.Equal(t, models.PhaseUnauthenticated, e.sess.Phase())
	assert.NoError(t, e.sess.Snapshot().LastError)
	assert.Equal(t, 0, notified)
}

func TestRefresh(t *testing.T) {
	t.Run("re-reads identity", func(t *testing.T) {
		e := newEnv(t)
		e.signIn(t, "a@b.com", models.RoleStudent)

		id, err := e.sess.Refresh(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "a@b.com", id.Email)
		assert.Equal(t, models.PhaseAuthenticated, e.sess.Phase())
	})

	t.Run("rejected credential signs out", func(t *testing.T) {
		e := newEnv(t)
		e.signIn(t, "a@b.com", models.RoleStudent)
		e.fb.RevokeAll()

		_, err := e.sess.Refresh(context.Background())
		require.ErrorIs(t, err, gateway.ErrUnauthorized)
		assert.Equal(t, models.PhaseUnauthenticated, e.sess.Phase())
		assert.True(t, e.credential(t).IsZero())
	})

	t.Run("network failure keeps phase", func(t *testing.T) {
		e := newEnv(t)
		e.signIn(t, "a@b.com", models.RoleStudent)
		before := e.sess.Identity()
		e.fb.Close()

		_, err := e.sess.Refresh(context.Background())
		require.ErrorIs(t, err, gateway.ErrNetwork)
		assert.Equal(t, models.PhaseAuthenticated, e.sess.Phase())
		assert.Equal(t, before, e.sess.Identity())
	})

	t.Run("requires a signed-in session", func(t *testing.T) {
		e := newEnv(t)
		_, err := e.sess.Refresh(context.Background())
		require.ErrorIs(t, err, ErrNotAuthenticated)
		assert.Equal(t, 0, e.fb.Calls("/auth/me"))
	})
}

func TestRefresh_ConcurrentCallsShareOneRequest(t *testing.T) {
	fc := &fakeClient{MeRet: &models.Identity{Email: "a@b.com", Role: models.RoleStudent}}
	store := credential.NewMemoryStore()
	require.NoError(t, store.Set(context.Background(), "tok"))
	s := NewSessionService(fc, store)
	require.NoError(t, s.Bootstrap(context.Background()))
	require.Equal(t, 1, fc.calls("me"))

	gate := make(chan struct{})
	fc.MeGate = gate

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := s.Refresh(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, "a@b.com", id.Email)
		}()
	}
	require.Eventually(t, func() bool { return fc.calls("me") == 2 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	assert.Equal(t, 2, fc.calls("me"))
}

func TestRegister_DoesNotAuthenticate(t *testing.T) {
	e := newEnv(t)

	id, err := e.sess.Register(context.Background(), models.RegisterRequest{
		Email:       "new@uni.edu",
		Password:    "pw",
		DisplayName: "New",
		Role:        models.RoleTeacher,
	})
	require.NoError(t, err)
	assert.Equal(t, models.RoleTeacher, id.Role)
	assert.Equal(t, models.PhaseUnauthenticated, e.sess.Phase())
	assert.True(t, e.credential(t).IsZero())

	_, err = e.sess.Register(context.Background(), models.RegisterRequest{Email: "x@uni.edu", Password: "pw", Role: "root"})
	require.ErrorIs(t, err, gateway.ErrValidation)
}

func TestSubscribe_OrderAndCancel(t *testing.T) {
	e := newEnv(t)
	e.fb.AddUser("a@b.com", "good", "", models.RoleStudent)
	ctx := context.Background()

	var phases []models.SessionPhase
	cancel := e.sess.Subscribe(func(s Snapshot) { phases = append(phases, s.Phase) })

	_, err := e.sess.Login(ctx, "a@b.com", "good")
	require.NoError(t, err)
	assert.Equal(t, []models.SessionPhase{models.PhaseAuthenticating, models.PhaseAuthenticated}, phases)

	cancel()
	require.NoError(t, e.sess.Logout(ctx))
	assert.Len(t, phases, 2)
}

func TestSession_RecordsTransitions(t *testing.T) {
	reg := prometheus.NewRegistry()
	fc := &fakeClient{LoginRet: &models.LoginResult{AccessToken: "tok", User: &models.Identity{Email: "a@b.com"}}}
	s := NewSessionService(fc, credential.NewMemoryStore(), WithSessionMetrics(metrics.New(reg)))

	_, err := s.Login(context.Background(), "a@b.com", "good")
	require.NoError(t, err)
	require.NoError(t, s.Logout(context.Background()))

	n, err := testutil.GatherAndCount(reg, "campuskeeper_session_transitions_total")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestSnapshot_IdentityIsACopy(t *testing.T) {
	e := newEnv(t)
	e.signIn(t, "a@b.com", models.RoleStudent)

	id := e.sess.Identity()
	id.Role = models.RoleAdmin
	assert.Equal(t, models.RoleStudent, e.sess.Identity().Role)
}
