package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"

	"github.com/stacklok/toolgate/pkg/audit"
	"github.com/stacklok/toolgate/pkg/auth"
	"github.com/stacklok/toolgate/pkg/authz"
	"github.com/stacklok/toolgate/pkg/config"
	"github.com/stacklok/toolgate/pkg/logger"
	"github.com/stacklok/toolgate/pkg/middleware"
	"github.com/stacklok/toolgate/pkg/oauth"
	"github.com/stacklok/toolgate/pkg/ratelimit"
	"github.com/stacklok/toolgate/pkg/vault"
)

func serveCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the access-control gateway",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Path to the gateway configuration file")
	return cmd
}

// runServe is the composition root: every component is constructed here
// and passed by reference to its consumers.
func runServe(ctx context.Context, configPath string) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	validator, err := auth.NewValidator(auth.ValidatorConfig{
		Issuer:           cfg.OIDC.Issuer,
		Audience:         cfg.OIDC.Audience,
		JWKSURL:          cfg.OIDC.JWKSURL,
		IntrospectionURL: cfg.OIDC.IntrospectionURL,
		ClientID:         cfg.OIDC.ClientID,
		ClientSecret:     cfg.OIDC.ClientSecret,
	})
	if err != nil {
		return err
	}

	serverValidator, err := oauth.NewServerValidator(oauth.ServerValidatorConfig{
		TrustedIssuers: cfg.TrustedIssuers,
	})
	if err != nil {
		return err
	}
	for _, issuer := range cfg.TrustedIssuers {
		// The authorization server may simply be down right now; token
		// validation still fails closed, so a startup miss is a warning.
		if _, err := serverValidator.Validate(ctx, issuer); err != nil {
			logger.Warnf("authorization server %s failed validation: %v", issuer, err)
		}
	}

	roleStore := authz.NewMemoryRoleStore()
	policyStore := authz.NewMemoryPolicyStore()
	if cfg.PolicyFile != "" {
		policyDoc, err := authz.LoadConfig(cfg.PolicyFile)
		if err != nil {
			return err
		}
		if err := policyDoc.Apply(ctx, roleStore, policyStore); err != nil {
			return err
		}
	}
	engine := authz.NewEngine(roleStore, policyStore)

	limiter := ratelimit.NewLimiter(ratelimit.Config{
		PerMinute: cfg.RateLimit.PerMinute,
		PerHour:   cfg.RateLimit.PerHour,
	})

	masterKey, err := cfg.MasterKey()
	if err != nil {
		return err
	}
	auditLogger := audit.NewSlogLogger(logger.Get())
	credentialVault, err := vault.New(vault.Config{MasterKey: masterKey}, vault.NewMemoryStore(), auditLogger)
	if err != nil {
		return err
	}
	scheduler := vault.NewScheduler(credentialVault, vault.SchedulerConfig{})
	scheduler.Start(ctx)
	defer scheduler.Stop()

	gateway, err := middleware.NewGateway(validator, limiter, engine, nil, middleware.Config{
		PublicOperations: cfg.PublicOperations,
		RequiredScopes:   cfg.RequiredScopes,
		BindingType:      auth.BindingType(cfg.TokenBinding),
	})
	if err != nil {
		return err
	}

	router := newRouter(gateway, cfg)
	server := &http.Server{
		Addr:              cfg.Address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("server shutdown failed: %v", err)
		}
	}()

	logger.Infof("toolgate listening on %s", cfg.Address)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// newRouter mounts the discovery endpoints and the protected operation
// surface behind the access pipeline.
func newRouter(gateway *middleware.Gateway, cfg *config.Config) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Get("/.well-known/oauth-protected-resource", protectedResourceHandler(cfg))

	r.Group(func(r chi.Router) {
		r.Use(gateway.HTTPMiddleware(func(req *http.Request) string {
			return chi.URLParamFromCtx(req.Context(), "operation")
		}))
		r.Post("/operations/{operation}", func(w http.ResponseWriter, req *http.Request) {
			// The tool layer mounts here; the gateway only resolves and
			// forwards the tenant context.
			tc := middleware.TenantContextFrom(req.Context())
			w.Header().Set("Content-Type", "application/json")
			resp := map[string]any{"authorized": true}
			if tc != nil {
				resp["tenant"] = tc.TenantID
			}
			if err := json.NewEncoder(w).Encode(resp); err != nil {
				logger.Errorf("failed to encode response: %v", err)
			}
		})
	})

	return r
}

// protectedResourceHandler serves OAuth protected-resource metadata so
// clients can discover the authorization servers this gateway accepts.
func protectedResourceHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		doc := map[string]any{
			"authorization_servers":    cfg.TrustedIssuers,
			"bearer_methods_supported": []string{"header"},
		}
		if cfg.OIDC.JWKSURL != "" {
			doc["jwks_uri"] = cfg.OIDC.JWKSURL
		}
		if err := json.NewEncoder(w).Encode(doc); err != nil {
			logger.Errorf("failed to encode discovery response: %v", err)
		}
	}
}
