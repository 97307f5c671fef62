package app

import (
	"context"
	"fmt"

	"github.com/upb/queue-trigger-api/auth"
	"github.com/upb/queue-trigger-api/cognito"
	"github.com/upb/queue-trigger-api/config"
	"github.com/upb/queue-trigger-api/middleware"
	"github.com/upb/queue-trigger-api/parameters"
	"github.com/upb/queue-trigger-api/trustconfig"
	"go.uber.org/zap"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config     *config.Config
	Logger     *zap.Logger
	Parameters parameters.Store

	// Trust discovery
	Resolver *trustconfig.Resolver
	Trust    *trustconfig.Holder

	// Verification
	Keys          *cognito.HTTPKeySetFetcher
	Verifier      *cognito.TokenVerifier
	Authenticator *auth.Authenticator

	// HTTP
	AuthMiddleware *middleware.AuthMiddleware
}

// Option customizes dependency construction
type Option func(*options)

type options struct {
	params         parameters.Store
	fetcherOptions []cognito.FetcherOption
}

// WithParameterStore replaces the SSM-backed parameter store
func WithParameterStore(store parameters.Store) Option {
	return func(o *options) {
		o.params = store
	}
}

// WithFetcherOptions appends key set fetcher options after the configured ones
func WithFetcherOptions(opts ...cognito.FetcherOption) Option {
	return func(o *options) {
		o.fetcherOptions = append(o.fetcherOptions, opts...)
	}
}

// NewDependencies creates and wires up all application dependencies.
// Trust configuration is not resolved here; call InitializeTrust.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*Dependencies, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	for _, warning := range cfg.Warnings {
		logger.Warn("configuration warning", zap.String("warning", warning))
	}

	deps.initParameters(ctx, o.params)
	deps.initTrust()
	deps.initAuth(o.fetcherOptions)

	logger.Info("all dependencies initialized successfully",
		zap.String("environment", cfg.Environment),
		zap.Bool("lambda", cfg.IsLambda()))
	return deps, nil
}

// initParameters leaves Parameters nil when no SSM client can be built.
// Discovery then resolves an incomplete trust configuration and the
// process keeps serving.
func (d *Dependencies) initParameters(ctx context.Context, store parameters.Store) {
	if store != nil {
		d.Parameters = store
		d.Logger.Info("using injected parameter store")
		return
	}

	ssmStore, err := parameters.NewSSMStore(ctx, d.Config.AWS.Region, d.Logger)
	if err != nil {
		d.Logger.Error("failed to initialize SSM parameter store, parameter lookups will fail",
			zap.String("region", d.Config.AWS.Region),
			zap.Error(err))
		return
	}
	d.Parameters = ssmStore
	d.Logger.Info("SSM parameter store initialized", zap.String("region", d.Config.AWS.Region))
}

func (d *Dependencies) initTrust() {
	d.Resolver = trustconfig.NewResolver(d.Parameters, trustconfig.Environment{
		Region:                   d.Config.AWS.Region,
		DeploymentID:             d.Config.Deployment.DeploymentID,
		PipelineID:               d.Config.Deployment.PipelineID,
		InfrastructureConfigJSON: d.Config.Deployment.InfrastructureConfigJSON,
	}, d.Logger)
	d.Trust = trustconfig.NewHolder()
}

func (d *Dependencies) initAuth(extra []cognito.FetcherOption) {
	authCfg := d.Config.Auth

	fetcherOpts := []cognito.FetcherOption{
		cognito.WithTimeout(authCfg.JWKSTimeout),
		cognito.WithCacheTTL(authCfg.JWKSCacheTTL),
		cognito.WithMinRefreshInterval(authCfg.JWKSMinRefreshInterval),
		cognito.WithRetryOnNetworkError(authCfg.RetryOnNetworkError, authCfg.RetryDelay),
	}
	d.Keys = cognito.NewHTTPKeySetFetcher(append(fetcherOpts, extra...)...)

	d.Verifier = cognito.NewTokenVerifier(d.Keys, d.Logger, cognito.WithLeeway(authCfg.ClockLeeway))
	d.Authenticator = auth.NewAuthenticator(d.Verifier, d.Trust, d.Logger)
	d.AuthMiddleware = middleware.NewAuthMiddleware(d.Authenticator, authCfg.IDTokenHeader, d.Logger)

	d.Logger.Info("authentication initialized",
		zap.String("token_header", d.AuthMiddleware.Header()),
		zap.Duration("jwks_cache_ttl", authCfg.JWKSCacheTTL))
}

// InitializeTrust resolves and publishes the trust configuration once per process.
// Later calls return the configuration published first.
func (d *Dependencies) InitializeTrust(ctx context.Context) cognito.TrustConfig {
	return d.Trust.Initialize(ctx, d.Resolver)
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	if d.Keys != nil {
		d.Keys.Invalidate()
	}

	// Sync logger
	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	return nil
}
