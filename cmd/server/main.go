package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/joho/godotenv"
	"github.com/jrsteele09/go-attendance-server/attendance"
	"github.com/jrsteele09/go-attendance-server/identity"
	"github.com/jrsteele09/go-attendance-server/internal/config"
	"github.com/jrsteele09/go-attendance-server/internal/storage"
	"github.com/jrsteele09/go-attendance-server/ledger"
	ledgermem "github.com/jrsteele09/go-attendance-server/ledger/memrepo"
	ledgersql "github.com/jrsteele09/go-attendance-server/ledger/sqlrepo"
	"github.com/jrsteele09/go-attendance-server/rosterfeed"
	"github.com/jrsteele09/go-attendance-server/server"
	"github.com/jrsteele09/go-attendance-server/sessions"
	sessionmem "github.com/jrsteele09/go-attendance-server/sessions/memrepo"
	sessionsql "github.com/jrsteele09/go-attendance-server/sessions/sqlrepo"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Error running server")
	}
	log.Info().Msg("Server stopped")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("Recovered from panic")
			returnError = errors.New("panic recovered")
		}
	}()

	c := config.New()
	setupLogging(c)
	displayAppname(c.GetAppName())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repos, err := openRepos(c)
	if err != nil {
		return err
	}
	defer repos.close()

	verifier, err := newIdentity(ctx, c)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	feed := rosterfeed.NewHub()

	store, err := sessions.NewStore(repos.sessions,
		sessions.WithWindow(c.GetSessionWindow()),
		sessions.WithDefaultRadius(c.GetDefaultRadiusMeters()),
		sessions.WithRetention(c.GetSessionRetention()),
	)
	if err != nil {
		return err
	}
	marks, err := ledger.NewLedger(repos.marks, ledger.WithObserver(feed.Publish))
	if err != nil {
		return err
	}
	service, err := attendance.NewService(store, marks, attendance.WithMetrics(attendance.NewMetrics(registry)))
	if err != nil {
		return err
	}

	handler, err := server.New(c, server.Deps{
		Service:  service,
		Identity: verifier,
		Feed:     feed,
		Metrics:  registry,
		Health:   repos.ping,
	})
	if err != nil {
		return err
	}

	go sessions.RunJanitor(ctx, store, c.GetPurgeInterval())

	httpServer := &http.Server{
		Addr:              c.GetPort(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errs := make(chan error, 1)
	go func() { errs <- listenAndServe(httpServer) }()

	select {
	case err := <-errs:
		return err
	case <-waitForStopSignal():
	}
	cancel()
	return shutdown(httpServer)
}

func setupLogging(c config.Config) {
	level, err := zerolog.ParseLevel(strings.ToLower(c.GetLogLevel()))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339
	if c.GetEnv() == "DEV" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

type repos struct {
	sessions sessions.Repo
	marks    ledger.Repo
	ping     func(context.Context) error
	close    func()
}

// openRepos selects the storage backend from DB_DRIVER.
func openRepos(c config.Config) (*repos, error) {
	driver := c.GetDBDriver()
	if driver == config.DriverMemory {
		log.Warn().Msg("Using in-memory storage; data is lost on restart")
		return &repos{
			sessions: sessionmem.New(),
			marks:    ledgermem.New(),
			ping:     func(context.Context) error { return nil },
			close:    func() {},
		}, nil
	}

	db, err := storage.Open(driver, c.GetDBDSN())
	if err != nil {
		return nil, err
	}
	if err := sessionsql.Migrate(db); err != nil {
		_ = storage.Close(db)
		return nil, err
	}
	if err := ledgersql.Migrate(db); err != nil {
		_ = storage.Close(db)
		return nil, err
	}
	log.Info().Str("driver", driver).Msg("Storage ready")

	return &repos{
		sessions: sessionsql.New(db),
		marks:    ledgersql.New(db),
		ping: func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
		close: func() {
			if err := storage.Close(db); err != nil {
				log.Error().Err(err).Msg("Closing storage")
			}
		},
	}, nil
}

// newIdentity accepts portal HS256 tokens and, when configured, ID tokens from an OIDC provider.
func newIdentity(ctx context.Context, c config.Config) (identity.Verifier, error) {
	var chain identity.Chain

	if secret := c.GetJWTSecret(); secret != "" {
		signer, err := identity.NewHMACSigner(secret, identity.WithIssuer(c.GetJWTIssuer()))
		if err != nil {
			return nil, err
		}
		chain = append(chain, signer)
	}

	if issuer := c.GetOIDCIssuer(); issuer != "" {
		v, err := identity.NewOIDCVerifier(ctx, issuer, c.GetOIDCClientID())
		if err != nil {
			return nil, err
		}
		chain = append(chain, v)
		log.Info().Str("issuer", issuer).Msg("OIDC token verification enabled")
	}

	if len(chain) == 0 {
		return nil, errors.New("no identity provider configured: set JWT_SECRET or OIDC_ISSUER")
	}
	return chain, nil
}

func listenAndServe(server *http.Server) error {
	log.Info().Str("addr", server.Addr).Msg("Server listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func waitForStopSignal() <-chan os.Signal {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	return stop
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
