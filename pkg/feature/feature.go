package feature

import (
	"context"
	"fmt"

	"github.com/open-feature/go-sdk/openfeature"
	"github.com/open-feature/go-sdk/openfeature/memprovider"
)

// Flags known to the review queue.
const (
	// FlagReopen registers the resolved -> pending "reopen" action at startup.
	FlagReopen = "reviewable.reopen"
)

// Manager evaluates boolean feature flags through an OpenFeature client bound to
// an in-memory provider seeded from configuration.
type Manager struct {
	client *openfeature.Client
	flags  map[string]bool
}

// NewManager registers an in-memory provider for domain and returns a manager
// evaluating against it.
func NewManager(domain string, flags map[string]bool) (*Manager, error) {
	defs := make(map[string]memprovider.InMemoryFlag, len(flags))
	seeded := make(map[string]bool, len(flags))
	for name, enabled := range flags {
		defaultVariant := "off"
		if enabled {
			defaultVariant = "on"
		}
		defs[name] = memprovider.InMemoryFlag{
			Key:            name,
			State:          memprovider.Enabled,
			DefaultVariant: defaultVariant,
			Variants: map[string]interface{}{
				"on":  true,
				"off": false,
			},
		}
		seeded[name] = enabled
	}
	if err := openfeature.SetNamedProviderAndWait(domain, memprovider.NewInMemoryProvider(defs)); err != nil {
		return nil, fmt.Errorf("register feature provider: %w", err)
	}
	return &Manager{
		client: openfeature.NewClient(domain),
		flags:  seeded,
	}, nil
}

// IsEnabled evaluates name. Unknown flags and evaluation errors are false.
func (m *Manager) IsEnabled(ctx context.Context, name string) bool {
	if m == nil || m.client == nil {
		return false
	}
	v, err := m.client.BooleanValue(ctx, name, false, openfeature.NewEvaluationContext("", nil))
	if err != nil {
		return false
	}
	return v
}

// Known lists the flags the manager was seeded with.
func (m *Manager) Known() map[string]bool {
	out := make(map[string]bool, len(m.flags))
	for k, v := range m.flags {
		out[k] = v
	}
	return out
}
