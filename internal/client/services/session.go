// Package services contains the application services of the campus
// client: the session state and the two-factor enrollment machine.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dmitrijs2005/campuskeeper/internal/client/client"
	"github.com/dmitrijs2005/campuskeeper/internal/client/credential"
	"github.com/dmitrijs2005/campuskeeper/internal/client/gateway"
	"github.com/dmitrijs2005/campuskeeper/internal/client/metrics"
	"github.com/dmitrijs2005/campuskeeper/internal/client/models"
	"github.com/dmitrijs2005/campuskeeper/internal/logging"
)

// Snapshot is a consistent, read-only view of the session.
type Snapshot struct {
	Phase    models.SessionPhase
	Identity *models.Identity
	// LastError is the failure that put the session in PhaseError, or the
	// reason of the last forced sign-out.
	LastError error
	// Recoverable is set in PhaseError when retrying Bootstrap may succeed
	// without user action (the backend was unreachable or failing).
	Recoverable bool

	seq uint64
}

// UnauthorizedNotifier delivers forced sign-out events. *gateway.Gateway
// implements it.
type UnauthorizedNotifier interface {
	OnUnauthorized(fn func(ctx context.Context))
}

type SessionOption func(*SessionService)

func WithSessionLogger(l logging.Logger) SessionOption {
	return func(s *SessionService) { s.logger = l }
}

func WithSessionMetrics(m *metrics.Metrics) SessionOption {
	return func(s *SessionService) { s.metrics = m }
}

// WithUnauthorizedNotifier subscribes the session to forced sign-outs.
func WithUnauthorizedNotifier(n UnauthorizedNotifier) SessionOption {
	return func(s *SessionService) { n.OnUnauthorized(s.onUnauthorized) }
}

// SessionService owns the session phase and the signed-in identity.
//
// Every call that changes the session bumps a generation counter; a
// backend answer that arrives after the generation moved is dropped
// (ErrSuperseded), so a slow bootstrap can never undo a logout.
type SessionService struct {
	client  client.Client
	store   credential.Store
	logger  logging.Logger
	metrics *metrics.Metrics

	mu          sync.Mutex
	phase       models.SessionPhase
	identity    *models.Identity
	lastErr     error
	recoverable bool
	gen         uint64
	seq         uint64

	subMu     sync.Mutex
	subs      map[int]func(Snapshot)
	nextSub   int
	published uint64

	refresh singleflight.Group
}

func NewSessionService(c client.Client, store credential.Store, opts ...SessionOption) *SessionService {
	s := &SessionService{
		client: c,
		store:  store,
		logger: logging.NewNopLogger(),
		subs:   make(map[int]func(Snapshot)),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Snapshot returns the current state. The identity is a copy.
func (s *SessionService) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *SessionService) Phase() models.SessionPhase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Identity returns a copy of the signed-in identity, or nil.
func (s *SessionService) Identity() *models.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity.Clone()
}

// Subscribe registers fn for state changes. Notifications are delivered in
// order, synchronously, on the goroutine that made the change. fn must not
// block and must not subscribe or unsubscribe. The returned func removes
// the subscription.
func (s *SessionService) Subscribe(fn func(Snapshot)) (cancel func()) {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

// Bootstrap resolves the session from a stored credential. Without one the
// session becomes Unauthenticated and the backend is not contacted.
func (s *SessionService) Bootstrap(ctx context.Context) error {
	cred, err := s.store.Get(ctx)
	if err != nil {
		return fmt.Errorf("session: bootstrap: %w", err)
	}

	s.mu.Lock()
	if s.phase == models.PhaseAuthenticating {
		s.mu.Unlock()
		return ErrInProgress
	}
	s.gen++
	if cred.IsZero() {
		snap, changed := s.transitionLocked(models.PhaseUnauthenticated, nil, nil, false)
		s.mu.Unlock()
		s.publish(ctx, snap, changed)
		return nil
	}
	gen := s.gen
	snap, changed := s.transitionLocked(models.PhaseAuthenticating, nil, nil, false)
	s.mu.Unlock()
	s.publish(ctx, snap, changed)

	s.logger.Debug(ctx, "bootstrapping session", "credential", cred.Redacted(), "expires", expiryHint(cred))

	id, err := s.client.Me(ctx)
	return s.resolve(ctx, gen, id, err, true)
}

// Login exchanges email and password for a credential and signs in. The
// credential is stored only if the login is still current when the backend
// answers.
func (s *SessionService) Login(ctx context.Context, email, password string) (*models.Identity, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, gateway.NewValidationError("email and password are required")
	}

	s.mu.Lock()
	if s.phase == models.PhaseAuthenticating {
		s.mu.Unlock()
		return nil, ErrInProgress
	}
	s.gen++
	gen := s.gen
	snap, changed := s.transitionLocked(models.PhaseAuthenticating, nil, nil, false)
	s.mu.Unlock()
	s.publish(ctx, snap, changed)

	res, err := s.client.Login(ctx, email, password)
	if err != nil {
		return nil, s.resolve(ctx, gen, nil, err, false)
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		s.logger.Info(ctx, "discarding superseded login result")
		return nil, ErrSuperseded
	}
	if err := s.store.Set(ctx, credential.Credential(res.AccessToken)); err != nil {
		err = fmt.Errorf("session: store credential: %w", err)
		snap, changed := s.transitionLocked(models.PhaseError, nil, err, false)
		s.mu.Unlock()
		s.publish(ctx, snap, changed)
		return nil, err
	}
	s.mu.Unlock()

	id := res.User
	if id == nil {
		id, err = s.client.Me(ctx)
	}
	if err := s.resolve(ctx, gen, id, err, false); err != nil {
		return nil, err
	}
	return id.Clone(), nil
}

// Register creates an account. The session is not changed; the caller signs
// in separately.
func (s *SessionService) Register(ctx context.Context, req models.RegisterRequest) (*models.Identity, error) {
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		return nil, gateway.NewValidationError("email and password are required")
	}
	if req.Role != models.RoleUnknown && !req.Role.Valid() {
		return nil, gateway.NewValidationError(fmt.Sprintf("unknown role %q", string(req.Role)))
	}
	return s.client.Register(ctx, req)
}

// Logout clears the credential and the identity. It is idempotent and never
// contacts the backend. A failure to delete the durable copy is returned,
// but the session is signed out regardless.
func (s *SessionService) Logout(ctx context.Context) error {
	s.mu.Lock()
	s.gen++
	clearErr := s.store.Clear(ctx)
	snap, changed := s.transitionLocked(models.PhaseUnauthenticated, nil, nil, false)
	s.mu.Unlock()

	if changed {
		s.metrics.CredentialCleared("logout")
	}
	s.publish(ctx, snap, changed)

	if clearErr != nil {
		return fmt.Errorf("session: logout: %w", clearErr)
	}
	return nil
}

// Refresh re-reads the identity of a signed-in session. The phase does not
// change unless the backend rejects the credential. Concurrent calls share
// one backend request.
func (s *SessionService) Refresh(ctx context.Context) (*models.Identity, error) {
	v, err, _ := s.refresh.Do("refresh", func() (any, error) {
		return s.doRefresh(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Identity).Clone(), nil
}

func (s *SessionService) doRefresh(ctx context.Context) (*models.Identity, error) {
	s.mu.Lock()
	if s.phase != models.PhaseAuthenticated {
		s.mu.Unlock()
		return nil, ErrNotAuthenticated
	}
	gen := s.gen
	s.mu.Unlock()

	id, err := s.client.Me(ctx)

	s.mu.Lock()
	if errors.Is(err, gateway.ErrUnauthorized) {
		// The gateway subscription normally got here first. A login or
		// logout started since this refresh owns the session now.
		if s.gen != gen || (s.phase != models.PhaseAuthenticated && s.phase != models.PhaseError) {
			s.mu.Unlock()
			return nil, err
		}
		s.gen++
		snap, changed := s.transitionLocked(models.PhaseUnauthenticated, nil, ErrSessionExpired, false)
		s.mu.Unlock()
		s.publish(ctx, snap, changed)
		return nil, err
	}
	if s.gen != gen {
		s.mu.Unlock()
		return nil, ErrSuperseded
	}
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if id == nil {
		s.mu.Unlock()
		return nil, ErrNoIdentity
	}
	snap, changed := s.transitionLocked(models.PhaseAuthenticated, id.Clone(), nil, false)
	s.mu.Unlock()
	s.publish(ctx, snap, changed)
	return id, nil
}

// resolve applies the outcome of a login or bootstrap started in generation
// gen. Only a bootstrap treats a rejected credential as a plain sign-out and
// only a bootstrap failure is worth retrying without the user.
func (s *SessionService) resolve(ctx context.Context, gen uint64, id *models.Identity, err error, bootstrap bool) error {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		s.logger.Info(ctx, "discarding superseded session result")
		return ErrSuperseded
	}

	var (
		snap    Snapshot
		changed bool
	)
	switch {
	case err == nil && id != nil:
		snap, changed = s.transitionLocked(models.PhaseAuthenticated, id.Clone(), nil, false)
	case err == nil:
		err = ErrNoIdentity
		snap, changed = s.transitionLocked(models.PhaseError, nil, err, false)
	case errors.Is(err, gateway.ErrUnauthorized) && bootstrap:
		snap, changed = s.transitionLocked(models.PhaseUnauthenticated, nil, nil, false)
	default:
		snap, changed = s.transitionLocked(models.PhaseError, nil, err, bootstrap && recoverable(err))
	}
	s.mu.Unlock()

	s.publish(ctx, snap, changed)
	return err
}

// onUnauthorized handles a credential the backend rejected on any call.
// An in-flight login or bootstrap decides the outcome itself.
func (s *SessionService) onUnauthorized(ctx context.Context) {
	s.mu.Lock()
	if s.phase != models.PhaseAuthenticated && s.phase != models.PhaseError {
		s.mu.Unlock()
		return
	}
	s.gen++
	snap, changed := s.transitionLocked(models.PhaseUnauthenticated, nil, ErrSessionExpired, false)
	s.mu.Unlock()

	s.logger.Warn(ctx, "credential rejected, signed out")
	s.publish(ctx, snap, changed)
}

// setTwoFactor replaces the identity snapshot with one carrying the new
// two-factor flag.
func (s *SessionService) setTwoFactor(ctx context.Context, enabled bool) {
	s.mu.Lock()
	if s.identity == nil || s.identity.TwoFactorEnabled == enabled {
		s.mu.Unlock()
		return
	}
	id := s.identity.Clone()
	id.TwoFactorEnabled = enabled
	s.identity = id
	s.seq++
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.publish(ctx, snap, true)
}

// transitionLocked installs a new state and reports whether anything a
// subscriber can observe changed.
func (s *SessionService) transitionLocked(phase models.SessionPhase, id *models.Identity, lastErr error, rec bool) (Snapshot, bool) {
	from := s.phase
	changed := from != phase || s.identity != id || s.lastErr != lastErr || s.recoverable != rec

	s.phase = phase
	s.identity = id
	s.lastErr = lastErr
	s.recoverable = rec

	if from != phase {
		s.metrics.SessionTransition(from.String(), phase.String())
	}
	if changed {
		s.seq++
	}
	return s.snapshotLocked(), changed
}

func (s *SessionService) snapshotLocked() Snapshot {
	return Snapshot{
		Phase:       s.phase,
		Identity:    s.identity.Clone(),
		LastError:   s.lastErr,
		Recoverable: s.recoverable,
		seq:         s.seq,
	}
}

// publish delivers snap to subscribers unless a newer snapshot has already
// been delivered.
func (s *SessionService) publish(ctx context.Context, snap Snapshot, changed bool) {
	if !changed {
		return
	}

	s.subMu.Lock()
	defer s.subMu.Unlock()

	if snap.seq <= s.published {
		return
	}
	s.published = snap.seq

	s.logger.Info(ctx, "session state changed", "phase", snap.Phase.String())
	for _, fn := range s.subs {
		fn(snap)
	}
}

func recoverable(err error) bool {
	if errors.Is(err, gateway.ErrNetwork) {
		return true
	}
	var gwErr *gateway.Error
	return errors.As(err, &gwErr) && gwErr.Kind == gateway.KindApplication && gwErr.Status >= 500
}

// expiryHint formats the unverified expiry of cred for logs.
func expiryHint(cred credential.Credential) string {
	exp, ok := cred.ExpiresAt()
	if !ok {
		return "unknown"
	}
	return exp.UTC().Format(time.RFC3339)
}
