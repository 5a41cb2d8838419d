package cli

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dmitrijs2005/campuskeeper/internal/client/capability"
	"github.com/dmitrijs2005/campuskeeper/internal/client/client"
	"github.com/dmitrijs2005/campuskeeper/internal/client/config"
	"github.com/dmitrijs2005/campuskeeper/internal/client/credential"
	"github.com/dmitrijs2005/campuskeeper/internal/client/gateway"
	"github.com/dmitrijs2005/campuskeeper/internal/client/metrics"
	"github.com/dmitrijs2005/campuskeeper/internal/client/models"
	"github.com/dmitrijs2005/campuskeeper/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/campuskeeper/internal/client/services"
	"github.com/dmitrijs2005/campuskeeper/internal/logging"
)

// pingTimeout bounds the reachability probe of the recovery watcher.
const pingTimeout = 3 * time.Second

type App struct {
	config    *config.Config
	logger    logging.Logger
	db        *sql.DB
	registry  *prometheus.Registry
	api       client.Client
	session   *services.SessionService
	twoFactor *services.TwoFactorMachine
	gate      *capability.Gate
	reader    *bufio.Reader

	mu        sync.Mutex
	lastPhase models.SessionPhase

	unsubscribe func()
}

// NewApp wires the credential store, gateway, session, two-factor machine
// and capability gate from c.
func NewApp(ctx context.Context, c *config.Config, logger logging.Logger) (*App, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	a := &App{
		config:   c,
		logger:   logger,
		registry: prometheus.NewRegistry(),
		reader:   bufio.NewReader(os.Stdin),
	}
	m := metrics.New(a.registry)

	var store credential.Store
	if c.DatabasePath == "" {
		store = credential.NewMemoryStore()
	} else {
		db, err := client.InitDatabase(ctx, c.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("error initializing database: %w", err)
		}
		a.db = db
		store = credential.NewPersistentStore(metadata.NewSQLiteRepository(db))
	}

	gw, err := gateway.New(c.ServerBaseURL, store,
		gateway.WithTimeout(c.RequestTimeout),
		gateway.WithLogger(logger.With("component", "gateway")),
		gateway.WithMetrics(m),
	)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.api = client.NewHTTPClient(gw)
	a.session = services.NewSessionService(a.api, store,
		services.WithUnauthorizedNotifier(gw),
		services.WithSessionLogger(logger.With("component", "session")),
		services.WithSessionMetrics(m),
	)
	a.twoFactor = services.NewTwoFactorMachine(a.api, a.session, logger.With("component", "twofactor"))
	a.gate = capability.NewGate(a.session)
	a.unsubscribe = a.session.Subscribe(a.onSessionChange)

	return a, nil
}

// Close releases the database and detaches from the session.
func (a *App) Close() {
	if a.twoFactor != nil {
		a.twoFactor.Close()
	}
	if a.unsubscribe != nil {
		a.unsubscribe()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}

// Run bootstraps the session, starts the background helpers and blocks in
// the REPL until the user exits or ctx is done.
func (a *App) Run(ctx context.Context) {
	defer a.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	printlnFn("Welcome to the campus portal CLI (type 'help' for commands)")

	if err := a.session.Bootstrap(ctx); err != nil {
		a.logger.Debug(ctx, "bootstrap finished with error", "error", err)
	}

	if a.config.MetricsAddr != "" {
		go a.serveMetrics(ctx, a.config.MetricsAddr)
	}
	go a.StartRecoveryWatcher(ctx, a.config.RecoveryInterval)

	runREPL(ctx, a, a.getStatus, a.reader)
}

func (a *App) isLoggedIn() bool {
	return a.session.Phase() == models.PhaseAuthenticated
}

func (a *App) getStatus() string {
	snap := a.session.Snapshot()
	if snap.Identity != nil {
		return fmt.Sprintf("(%s %s)", snap.Identity.Email, snap.Phase)
	}
	return fmt.Sprintf("(%s)", snap.Phase)
}

// onSessionChange reports phase changes the user did not ask for directly,
// such as a forced sign-out or a recovered backend.
func (a *App) onSessionChange(snap services.Snapshot) {
	a.mu.Lock()
	prev := a.lastPhase
	a.lastPhase = snap.Phase
	a.mu.Unlock()

	if prev == snap.Phase {
		return
	}

	switch {
	case snap.Phase == models.PhaseUnauthenticated && errors.Is(snap.LastError, services.ErrSessionExpired):
		printlnFn("Your session has expired. Please log in again.")
	case snap.Phase == models.PhaseError && snap.Recoverable:
		printlnFn("Backend unavailable:", gateway.Message(snap.LastError))
		printlnFn("Will retry in the background; use 'retry' to try now.")
	case snap.Phase == models.PhaseAuthenticated && prev == models.PhaseAuthenticating && snap.Identity != nil:
		printlnFn("Signed in as", snap.Identity.Email)
	}
}

// StartRecoveryWatcher periodically retries bootstrap while the session is
// in a recoverable error, that is, while the backend was unreachable.
func (a *App) StartRecoveryWatcher(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.tryRecover(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// tryRecover re-runs bootstrap once the backend answers again. It reports
// whether the session left the error phase.
func (a *App) tryRecover(ctx context.Context) bool {
	snap := a.session.Snapshot()
	if snap.Phase != models.PhaseError || !snap.Recoverable {
		return false
	}

	pctx, cancel := context.WithTimeout(ctx, pingTimeout)
	err := a.api.Ping(pctx)
	cancel()
	if err != nil {
		a.logger.Debug(ctx, "backend still unreachable", "error", err)
		return false
	}

	if err := a.session.Bootstrap(ctx); err != nil {
		a.logger.Debug(ctx, "recovery bootstrap failed", "error", err)
	}
	return a.session.Phase() != models.PhaseError
}

func (a *App) serveMetrics(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	a.logger.Info(ctx, "serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		a.logger.Error(ctx, "metrics server stopped", "error", err)
	}
}
