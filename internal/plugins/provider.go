package plugins

import (
	"context"
	"fmt"

	"github.com/ilindan-dev/notifyforge/internal/domain/model"
	"github.com/ilindan-dev/notifyforge/internal/ratelimit"
)

// Manifest describes a Provider's identity, used by the registry and by
// operator tooling to introspect what is bound to a channel.
type Manifest struct {
	Channel string
	Name    string
	Version string
}

// SendResult carries the provider-assigned identifier for a successful send.
type SendResult struct {
	ProviderMessageID string
}

// SendError is a typed provider failure distinguishing retryable
// conditions (network errors, upstream 5xx/429) from terminal ones
// (invalid recipient, unsupported content) per spec.md §4.6's outcome
// handling, following the teacher's `errors.Is`/`errors.As` sentinel
// idiom from `storage/postgres/repository.go` generalized to provider
// failures instead of store failures.
type SendError struct {
	Code      string
	Message   string
	Retryable bool
}

func (e *SendError) Error() string {
	return fmt.Sprintf("plugins: %s: %s", e.Code, e.Message)
}

// Provider is the capability interface every channel plug-in implements
// (spec.md §4.9 / SPEC_FULL.md §4.9), generalized from the teacher's
// single-method `notifiers.Notifier` interface into the richer
// manifest/validate/health/lifecycle surface a pluggable channel needs.
type Provider interface {
	// Manifest identifies this provider.
	Manifest() Manifest

	// ValidateNotification checks the notification carries the fields
	// this provider needs (e.g. a recipient key), before a Send is attempted.
	ValidateNotification(n *model.Notification) error

	// RateLimit advertises this provider's preferred token-bucket sizing.
	// The rate limiter does not read it: ratelimit.Limiter sizes each
	// channel's bucket from RateLimitConfig.Channels, else the configured
	// defaults.
	RateLimit() ratelimit.Config

	// Initialize prepares the provider (e.g. opens a connection).
	// Registry.InitializeAll calls it for every bound provider; the fx
	// wiring in internal/app does not call InitializeAll.
	Initialize(ctx context.Context) error

	// HealthCheck reports whether the provider's upstream dependency is
	// reachable. The recovery cron does not call it; its backoff counts
	// failed reconciliation ticks.
	HealthCheck(ctx context.Context) error

	// Send dispatches the notification, returning a typed *SendError on
	// failure so the channel processor can distinguish retryable from
	// terminal outcomes.
	Send(ctx context.Context, n *model.Notification) (SendResult, error)

	// Shutdown releases any resources Initialize acquired.
	Shutdown(ctx context.Context) error
}
