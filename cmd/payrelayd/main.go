// Command payrelayd runs the payment relay HTTP daemon.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/edwardtay/payrelay"
	"github.com/edwardtay/payrelay/api"
	"github.com/edwardtay/payrelay/config"
	"github.com/edwardtay/payrelay/fees"
	"github.com/edwardtay/payrelay/logger"
	"github.com/edwardtay/payrelay/metrics"
	"github.com/edwardtay/payrelay/routing"
	"github.com/edwardtay/payrelay/signer"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.NewZapLogger("error").Error("failed to load config", map[string]any{"error": err.Error()})
		os.Exit(1)
	}

	log := logger.NewZapLogger(cfg.App.LogLevel)
	log.Info("starting payrelay", map[string]any{
		"app":    cfg.App.Name,
		"listen": cfg.Server.ListenAddr,
	})

	relay, err := buildRelay(cfg, log)
	if err != nil {
		log.Error("failed to build relay", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	defer relay.Close()

	server := api.NewServer(relay, cfg.Server.ListenAddr,
		api.WithLogger(log),
		api.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout),
	)

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		log.Info("shutting down", map[string]any{"signal": sig.String()})
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Error("shutdown failed", map[string]any{"error": err.Error()})
			os.Exit(1)
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", map[string]any{"error": err.Error()})
			os.Exit(1)
		}
	}
}

// buildRelay assembles the relay from configuration: providers, fee
// tiers, seeded registry, and the local EIP-3009 signer.
func buildRelay(cfg *config.Config, log logger.Logger) (*payrelay.Relay, error) {
	key, err := cfg.Signer.GetPrivateKey()
	if err != nil {
		return nil, err
	}
	paySigner, err := signer.NewEIP3009Signer(key,
		signer.WithValidity(cfg.Signer.Validity),
		signer.WithLogger(log),
	)
	if err != nil {
		return nil, err
	}

	tiers, err := cfg.FeeTiers()
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{Timeout: cfg.Routing.ProviderTimeout}
	providers := []routing.Provider{
		routing.NewLifiProvider(cfg.Routing.LifiBaseURL, cfg.Routing.LifiAPIKey, httpClient),
		routing.NewCCTPProvider(cfg.Routing.CCTPBaseURL, httpClient),
	}

	opts := []payrelay.Option{
		payrelay.WithProviders(providers...),
		payrelay.WithRegistry(fees.NewMemoryRegistry(cfg.Fees.Participants...)),
		payrelay.WithDestinations(cfg.Strategy.Destinations...),
		payrelay.WithQuoteTTL(cfg.Routing.QuoteTTL),
		payrelay.WithProviderTimeout(cfg.Routing.ProviderTimeout),
		payrelay.WithHTTPClient(httpClient),
		payrelay.WithLogger(log),
		payrelay.WithMetrics(metrics.NewPrometheusRecorder()),
	}
	if len(tiers) > 0 {
		opts = append(opts, payrelay.WithFeeTiers(tiers))
	}

	return payrelay.New(paySigner, opts...), nil
}
