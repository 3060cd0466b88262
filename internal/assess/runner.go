package assess

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// ProcessRunner spawns a provider CLI and returns its stdout. Implementations
// must kill the child process when ctx is done.
type ProcessRunner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// execRunner runs providers through os/exec. CommandContext kills the child
// on cancellation, so a hung CLI cannot outlive its deadline.
type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", ctxErr
	}
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 200 {
			msg = msg[:200]
		}
		if msg == "" {
			return "", fmt.Errorf("%s: %w", name, err)
		}
		return "", fmt.Errorf("%s: %w: %s", name, err, msg)
	}
	return stdout.String(), nil
}

// Provider describes one assessment CLI. Args hold the fixed non-interactive
// flags; the prompt is always appended as the final positional argument.
type Provider struct {
	Name    string   `json:"name"`
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
}

// builtinProviders maps provider labels to CLI invocations. Each flag set
// suppresses sandboxing and approval prompts so a headless spawn cannot
// block waiting for input.
var builtinProviders = map[string]Provider{
	"claude": {Name: "claude", Command: "claude", Args: []string{"-p", "--dangerously-skip-permissions"}},
	"codex":  {Name: "codex", Command: "codex", Args: []string{"exec", "--dangerously-bypass-approvals-and-sandbox"}},
	"gemini": {Name: "gemini", Command: "gemini", Args: []string{"--yolo", "-p"}},
}

// providerOrder keeps DefaultProviders deterministic.
var providerOrder = []string{"claude", "codex", "gemini"}

// ProviderByName resolves a provider label against the builtin table.
func ProviderByName(name string) (Provider, bool) {
	p, ok := builtinProviders[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}

// DefaultProviders returns the full builtin provider set.
func DefaultProviders() []Provider {
	out := make([]Provider, 0, len(providerOrder))
	for _, name := range providerOrder {
		out = append(out, builtinProviders[name])
	}
	return out
}

// ResolveProviders maps provider labels to their builtin definitions. An
// empty list selects every builtin provider; an unknown label is an error.
func ResolveProviders(names []string) ([]Provider, error) {
	if len(names) == 0 {
		return DefaultProviders(), nil
	}
	out := make([]Provider, 0, len(names))
	for _, name := range names {
		p, ok := ProviderByName(name)
		if !ok {
			return nil, fmt.Errorf("unknown provider %q (known: %s)", name, strings.Join(providerOrder, ", "))
		}
		out = append(out, p)
	}
	return out, nil
}
