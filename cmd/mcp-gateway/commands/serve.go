package commands

import (
	"context"
	"errors"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/yubingjiaocn/mcp-gateway-registry/pkg/adminapi"
	"github.com/yubingjiaocn/mcp-gateway-registry/pkg/auth"
	"github.com/yubingjiaocn/mcp-gateway-registry/pkg/config"
	"github.com/yubingjiaocn/mcp-gateway-registry/pkg/gateway"
	"github.com/yubingjiaocn/mcp-gateway-registry/pkg/health"
	"github.com/yubingjiaocn/mcp-gateway-registry/pkg/log"
	"github.com/yubingjiaocn/mcp-gateway-registry/pkg/metrics"
	"github.com/yubingjiaocn/mcp-gateway-registry/pkg/registry"
	"github.com/yubingjiaocn/mcp-gateway-registry/pkg/registryapi"
	"github.com/yubingjiaocn/mcp-gateway-registry/pkg/toolindex"
)

func newServeCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway's public and internal HTTP listeners",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to a YAML configuration file")
	return cmd
}

// runServe wires every component together and blocks until ctx is
// canceled or one of the two HTTP listeners fails.
func runServe(ctx context.Context, cfg config.Config) error {
	logger := log.Base()

	rec, promExporter, err := metrics.New()
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := rec.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("metrics shutdown failed")
		}
	}()

	disk, err := registry.NewDisk(cfg.DataRoot)
	if err != nil {
		return err
	}
	store := registry.New(disk)
	if err := store.LoadFromDisk(); err != nil {
		return err
	}

	scopeStore, err := registry.NewScopeStore(cfg.ScopesFile)
	if err != nil {
		return err
	}
	if err := scopeStore.Watch(); err != nil {
		return err
	}
	defer scopeStore.Close()

	verifiers := auth.NewIssuerVerifiers(cfg.Issuers, cfg.OIDCClientID, cfg.JWKSTTL, cfg.JWKSNegativeTTL)

	cookieStore, err := auth.OpenCookieStore(filepath.Join(cfg.DataRoot, "sessions.db"))
	if err != nil {
		return err
	}

	adminGroups := append(append([]string{}, cfg.AdminGroups...), auth.HealthMonitorGroup)
	resolver := auth.New(verifiers, scopeStore, cfg.PrincipalTTL, adminGroups, auth.WithCookieStore(cookieStore))

	healthCookie := uuid.NewString()
	if err := cookieStore.Put(ctx, auth.CookieSession{
		Cookie:    healthCookie,
		Username:  "health-monitor",
		Groups:    auth.HealthMonitorGroup,
		ExpiresAt: time.Now().AddDate(100, 0, 0),
	}); err != nil {
		return err
	}

	prober := health.NewProber(&http.Client{Timeout: cfg.ProbeTimeout}, health.StaticCredentials{}, cfg.ProbeTimeout, gatewayLoopbackURL(cfg.ListenAddr), healthCookie)
	monitor := health.New(store, store, prober, cfg.ProbePeriod, cfg.ProbeWorkers, rec)

	embedCache, err := toolindex.Open(filepath.Join(cfg.DataRoot, "tool_index.db"))
	if err != nil {
		return err
	}
	index := toolindex.New(store, nil, embedCache, cfg.IndexDebounce, rec)

	catalogHandler := registryapi.New(store, cfg.Namespace)
	adminHandler := adminapi.New(store, scopeStore, prober)

	validator := gateway.NewRemoteValidator("http://"+cfg.InternalAddr, &http.Client{Timeout: cfg.JWKSTimeout})

	router := gateway.New(gateway.Config{
		Store:           store,
		Validator:       validator,
		UpstreamTimeout: cfg.UpstreamTimeout,
		CatalogHandler:  catalogHandler,
		AdminHandler:    adminHandler,
		Metrics:         rec,
	})

	internalMux := http.NewServeMux()
	internalMux.Handle("/validate", resolver.ValidateHandler())
	internalMux.Handle("/metrics", promhttp.Handler())

	publicServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: gateway.WithRequestLogging(router),
	}
	internalServer := &http.Server{
		Addr:    cfg.InternalAddr,
		Handler: internalMux,
	}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error { monitor.Run(gctx); return nil })
	group.Go(func() error { index.Run(gctx); return nil })
	group.Go(func() error {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("public listener starting")
		if err := publicServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		logger.Info().Str("addr", cfg.InternalAddr).Msg("internal listener starting")
		if err := internalServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		_ = publicServer.Shutdown(shutdownCtx)
		_ = internalServer.Shutdown(shutdownCtx)
		return nil
	})

	_ = promExporter // kept alive via the default Prometheus registry it registered with
	err = group.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// gatewayLoopbackURL turns a public listen address (which may bind all
// interfaces, e.g. ":8080") into a URL the Health Monitor can dial on
// the loopback interface to reach the gateway's own listener.
func gatewayLoopbackURL(listenAddr string) string {
	host, port, err := net.SplitHostPort(listenAddr)
	if err != nil || host == "" {
		host = "127.0.0.1"
	}
	return "http://" + host + ":" + port
}
