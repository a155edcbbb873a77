package providers

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/hayahq/haya/internal/agent"
)

// Constructor builds one backend driver from resolved settings.
type Constructor func(ctx context.Context, st Settings) (agent.Provider, error)

// registry maps the configuration's provider names to their constructors.
// Adding a backend means adding one entry here; selection code never grows
// another switch arm.
var registry = map[string]Constructor{
	"openai": func(_ context.Context, st Settings) (agent.Provider, error) {
		return NewOpenAI(st)
	},
	"anthropic": func(_ context.Context, st Settings) (agent.Provider, error) {
		return NewAnthropic(st)
	},
	"bedrock": func(ctx context.Context, st Settings) (agent.Provider, error) {
		return NewBedrock(ctx, st)
	},
	"gemini": func(ctx context.Context, st Settings) (agent.Provider, error) {
		return NewGemini(ctx, st)
	},
}

// New builds the named backend. The name matches config's defaultProvider
// values; unknown names list the supported set in the error.
func New(ctx context.Context, name string, st Settings) (agent.Provider, error) {
	construct, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q (supported: %s)", name, strings.Join(Names(), ", "))
	}
	return construct(ctx, st)
}

// Names lists the registered backends, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
