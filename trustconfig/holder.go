package trustconfig

import (
	"context"
	"sync/atomic"

	"github.com/upb/queue-trigger-api/cognito"
)

// Holder keeps the trust configuration for the life of the process. The
// first published value wins; later publishes are ignored so every request
// sees one configuration.
type Holder struct {
	current atomic.Pointer[cognito.TrustConfig]
}

// NewHolder returns an empty holder
func NewHolder() *Holder {
	return &Holder{}
}

// Publish stores cfg if nothing has been published yet and reports whether it did.
func (h *Holder) Publish(cfg cognito.TrustConfig) bool {
	cfg.Audiences = append(cognito.AudienceSet(nil), cfg.Audiences...)
	return h.current.CompareAndSwap(nil, &cfg)
}

// Load returns the published configuration, or false before the first publish.
func (h *Holder) Load() (cognito.TrustConfig, bool) {
	cfg := h.current.Load()
	if cfg == nil {
		return cognito.TrustConfig{}, false
	}
	return *cfg, true
}

// Initialize resolves and publishes once. Warm invocations reuse the
// published value without touching the parameter store.
func (h *Holder) Initialize(ctx context.Context, resolver *Resolver) cognito.TrustConfig {
	if cfg, ok := h.Load(); ok {
		return cfg
	}
	h.Publish(resolver.Resolve(ctx))
	cfg, _ := h.Load()
	return cfg
}
