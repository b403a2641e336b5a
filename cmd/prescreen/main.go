package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/prescreenhq/prescreen/pkg/extract"
	"github.com/prescreenhq/prescreen/pkg/gateway/call/agent"
	"github.com/prescreenhq/prescreen/pkg/gateway/config"
	gatewayserver "github.com/prescreenhq/prescreen/pkg/gateway/server"
	"github.com/prescreenhq/prescreen/pkg/store/postgres"
	"github.com/prescreenhq/prescreen/pkg/telephony/twilio"
)

type appDeps struct {
	loadConfig   func() (config.Config, error)
	migrate      func(databaseURL string) error
	openStore    func(ctx context.Context, databaseURL string, logger *slog.Logger) (*postgres.Store, error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultAppDeps() appDeps {
	return appDeps{
		loadConfig: config.LoadFromEnv,
		migrate:    postgres.Migrate,
		openStore:  postgres.New,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func run(ctx context.Context, logger *slog.Logger, deps appDeps) error {
	if deps.loadConfig == nil || deps.migrate == nil || deps.openStore == nil {
		return errors.New("missing store dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := deps.migrate(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	store, err := deps.openStore(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	caller, err := twilio.NewClient(twilio.Config{
		AccountSID: cfg.TwilioAccountSID,
		AuthToken:  cfg.TwilioAuthToken,
		FromNumber: cfg.TwilioFromNumber,
	}, logger)
	if err != nil {
		return fmt.Errorf("telephony client: %w", err)
	}

	extractor, err := extract.New(extract.Config{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.OpenAIModel,
	}, logger)
	if err != nil {
		return fmt.Errorf("extractor: %w", err)
	}

	gw := gatewayserver.New(cfg, logger, gatewayserver.Dependencies{
		Store:     store,
		Pinger:    store,
		Responses: store,
		Extractor: extractor,
		Caller:    caller,
		Dialer:    agent.Dialer{URL: cfg.AgentURL, APIKey: cfg.DeepgramAPIKey},
		Sink:      store,
	})
	httpSrv := buildHTTPServer(cfg, gw.Handler())

	logger.Info("starting gateway", "addr", cfg.Addr, "stream_url", cfg.StreamURL())

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	// Hang up in-flight calls and wait for their teardown (farewell, flush,
	// close) before stopping the HTTP surface.
	sessions := gw.Sessions()
	if n := sessions.Count(); n > 0 {
		logger.Info("cancelling active calls", "count", n)
	}
	sessions.CancelAll()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer waitCancel()
	if !sessions.Wait(waitCtx) {
		logger.Warn("call teardown timed out", "remaining", sessions.Count())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("gateway stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, deps appDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	// .env is optional; real deployments configure through the environment.
	_ = godotenv.Load()

	if err := run(ctx, logger, deps); err != nil {
		fmt.Fprintf(stderr, "prescreen: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultAppDeps()))
}
