// Package trustconfig discovers which user pool and app clients this
// deployment trusts, and publishes the result for the request path.
package trustconfig

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/upb/queue-trigger-api/cognito"
	"github.com/upb/queue-trigger-api/parameters"
	"go.uber.org/zap"
)

// StackTypeStaticFrontend marks a service whose users sign in through the pool
const StackTypeStaticFrontend = "STATIC_FRONTEND"

// Environment carries the deployment settings discovery starts from
type Environment struct {
	Region                   string
	DeploymentID             string
	PipelineID               string
	InfrastructureConfigJSON string
}

// Document is the deployment description passed in INFRASTRUCTURE_CONFIG_JSON
type Document struct {
	Services map[string]Service `json:"services"`
}

// Service is one entry of Document.Services
type Service struct {
	StackType string     `json:"stackType"`
	Auth      *AuthBlock `json:"auth,omitempty"`
}

// AuthBlock is a service's auth settings. An empty block counts as enabled.
type AuthBlock struct {
	Enabled *bool `json:"enabled,omitempty"`
}

// AuthEnabled reports whether the service participates in sign-in
func (s Service) AuthEnabled() bool {
	if s.Auth == nil {
		return false
	}
	return s.Auth.Enabled == nil || *s.Auth.Enabled
}

// ParseDocument decodes a deployment document
func ParseDocument(raw string) (*Document, error) {
	var doc Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// AuthenticatedFrontends returns the names of static frontends with auth
// enabled, sorted.
func (d *Document) AuthenticatedFrontends() []string {
	var names []string
	for name, svc := range d.Services {
		if svc.StackType == StackTypeStaticFrontend && svc.AuthEnabled() {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Resolver builds a TrustConfig from the environment and the parameter store.
type Resolver struct {
	params parameters.Store
	env    Environment
	logger *zap.Logger
}

// NewResolver creates a resolver
func NewResolver(params parameters.Store, env Environment, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{params: params, env: env, logger: logger}
}

// Resolve never fails. Every lookup problem is logged and leaves the
// corresponding field empty; the verifier rejects tokens until the
// configuration is complete.
func (r *Resolver) Resolve(ctx context.Context) cognito.TrustConfig {
	cfg := cognito.TrustConfig{
		Anchor: cognito.TrustAnchor{
			Region:     r.env.Region,
			UserPoolID: r.lookup(ctx, "user pool id", parameters.UserPoolRefPath(r.env.DeploymentID)),
		},
	}

	var clientIDs []string
	for _, name := range r.frontends() {
		id := r.lookup(ctx, "client id", parameters.ClientIDPath(r.env.DeploymentID, name))
		if id == "" {
			continue
		}
		r.logger.Info("retrieved client id for frontend service", zap.String("service", name))
		clientIDs = append(clientIDs, id)
	}

	if len(clientIDs) == 0 && r.env.PipelineID != "" {
		r.logger.Info("no frontend client ids found, falling back to pipeline id",
			zap.String("pipeline_id", r.env.PipelineID))
		if id := r.lookup(ctx, "client id", parameters.ClientIDPath(r.env.DeploymentID, r.env.PipelineID)); id != "" {
			clientIDs = append(clientIDs, id)
		}
	}

	cfg.Audiences = cognito.NewAudienceSet(clientIDs...)

	if problems := cfg.Problems(); len(problems) > 0 {
		r.logger.Warn("trust configuration is incomplete, token verification will fail",
			zap.Strings("problems", problems))
	} else {
		r.logger.Info("trust configuration resolved",
			zap.String("issuer", cfg.Anchor.Issuer()),
			zap.Int("client_ids", len(cfg.Audiences)))
	}
	return cfg
}

func (r *Resolver) frontends() []string {
	raw := r.env.InfrastructureConfigJSON
	if raw == "" {
		r.logger.Warn("INFRASTRUCTURE_CONFIG_JSON not set, cannot find frontend services")
		return nil
	}
	doc, err := ParseDocument(raw)
	if err != nil {
		r.logger.Error("failed to parse INFRASTRUCTURE_CONFIG_JSON",
			zap.Error(err),
			zap.Int("length", len(raw)))
		return nil
	}
	names := doc.AuthenticatedFrontends()
	r.logger.Info("found frontend services with auth enabled",
		zap.Int("services", len(doc.Services)),
		zap.Strings("frontends", names))
	return names
}

func (r *Resolver) lookup(ctx context.Context, what, name string) string {
	if r.params == nil {
		r.logger.Warn("no parameter store configured", zap.String("parameter", name))
		return ""
	}
	value, found, err := r.params.Get(ctx, name)
	if err != nil {
		r.logger.Error("failed to read parameter",
			zap.String("what", what),
			zap.String("parameter", name),
			zap.Error(err))
		return ""
	}
	if !found || value == "" {
		r.logger.Warn("parameter not set",
			zap.String("what", what),
			zap.String("parameter", name))
		return ""
	}
	return value
}
