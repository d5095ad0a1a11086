package plugins

import (
	"context"
	"fmt"

	"github.com/ilindan-dev/notifyforge/internal/config"
	"github.com/rs/zerolog"
)

// binding pairs a channel's primary provider with an optional fallback,
// used the way the teacher's Dispatcher fell back to LogNotifier when a
// real provider was not configured.
type binding struct {
	primary  Provider
	fallback Provider
}

// Registry holds the channel -> Provider bindings resolved at startup,
// generalized from the teacher's `notifiers.Dispatcher` (a single
// `map[model.Channel]Notifier]` built once in `NewDispatcher`) into an
// explicit Bind/For API so the plugin set isn't hardcoded to two channels.
type Registry struct {
	bindings map[string]binding
	logger   zerolog.Logger
}

// NewRegistry creates an empty Registry. Providers are bound via Bind
// after construction, mirroring the teacher's mode-driven setup in
// `NewDispatcher` (there: built inline; here: built by the caller wiring
// each channel's concrete provider).
func NewRegistry(logger *zerolog.Logger) *Registry {
	return &Registry{
		bindings: make(map[string]binding),
		logger:   logger.With().Str("component", "plugins_registry").Logger(),
	}
}

// Bind registers the primary provider for a channel, with an optional
// fallback provider. For always returns the primary; the fallback is only
// returned by Fallback and is never substituted automatically.
func (r *Registry) Bind(channel string, primary Provider, fallback Provider) {
	r.bindings[channel] = binding{primary: primary, fallback: fallback}
	r.logger.Info().Str("channel", channel).Str("provider", primary.Manifest().Name).Msg("provider bound")
}

// For resolves the provider bound to a channel. If the channel has no
// explicit binding, ok is false.
func (r *Registry) For(channel string) (Provider, bool) {
	b, ok := r.bindings[channel]
	if !ok {
		return nil, false
	}
	return b.primary, true
}

// Fallback resolves the fallback provider bound to a channel, if any.
func (r *Registry) Fallback(channel string) (Provider, bool) {
	b, ok := r.bindings[channel]
	if !ok || b.fallback == nil {
		return nil, false
	}
	return b.fallback, true
}

// InitializeAll calls Initialize on every bound provider (primary and
// fallback), returning the first error encountered.
func (r *Registry) InitializeAll(ctx context.Context) error {
	for channel, b := range r.bindings {
		if err := b.primary.Initialize(ctx); err != nil {
			return fmt.Errorf("plugins: initialize %s primary provider: %w", channel, err)
		}
		if b.fallback != nil {
			if err := b.fallback.Initialize(ctx); err != nil {
				return fmt.Errorf("plugins: initialize %s fallback provider: %w", channel, err)
			}
		}
	}
	return nil
}

// ShutdownAll calls Shutdown on every bound provider, logging (not
// returning) individual failures so one provider's shutdown error never
// blocks the rest from releasing their resources.
func (r *Registry) ShutdownAll(ctx context.Context) {
	for channel, b := range r.bindings {
		if err := b.primary.Shutdown(ctx); err != nil {
			r.logger.Error().Err(err).Str("channel", channel).Msg("failed to shut down primary provider")
		}
		if b.fallback != nil {
			if err := b.fallback.Shutdown(ctx); err != nil {
				r.logger.Error().Err(err).Str("channel", channel).Msg("failed to shut down fallback provider")
			}
		}
	}
}

// NewRegistryFromConfig builds a Registry wired per config.NotifiersConfig,
// generalizing the teacher's `NewDispatcher` mode switch: in any mode
// other than "production" every channel gets the log-only provider; in
// "production" mode a channel present in providers gets its real provider
// as primary with the log-only provider as its fallback, and a channel
// absent from providers gets the log-only provider as primary.
func NewRegistryFromConfig(cfg *config.Config, logger *zerolog.Logger, providers map[string]Provider, logOnly Provider) *Registry {
	registry := NewRegistry(logger)

	channels := []string{"email", "telegram", "whatsapp"}
	for _, channel := range channels {
		if cfg.Notifiers.Mode != "production" {
			registry.Bind(channel, logOnly, nil)
			continue
		}
		if real, ok := providers[channel]; ok {
			registry.Bind(channel, real, logOnly)
			continue
		}
		registry.Bind(channel, logOnly, nil)
	}

	return registry
}
