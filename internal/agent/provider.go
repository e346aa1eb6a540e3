// Package agent defines the catalog of supported AI CLI providers and the
// provider-specific knowledge the executor needs: command construction,
// credential environment mirroring, availability probing, and the stderr
// patterns that identify an authentication failure.
package agent

import (
	"fmt"
	"os/exec"
	"strings"

	errs "github.com/quorumlabs/quorum/internal/errors"
)

// ProviderName identifies a supported agent provider.
type ProviderName string

const (
	ProviderClaude ProviderName = "claude"
	ProviderGemini ProviderName = "gemini"
	ProviderCodex  ProviderName = "codex"
	ProviderQwen   ProviderName = "qwen"
)

// Mode selects how much write access an agent invocation is granted.
type Mode int

const (
	// ModeReadOnly runs the agent in its non-mutating, print-only mode.
	ModeReadOnly Mode = iota
	// ModeWrite allows the agent to modify the working directory.
	ModeWrite
)

// Provider supplies provider-specific behavior for spawning agent processes.
type Provider interface {
	Name() ProviderName
	DisplayName() string
	// DefaultCommand is the executable name used when configuration does
	// not override it.
	DefaultCommand() string
	// DefaultArgs returns the baseline argument list for the given mode,
	// before the prompt is appended.
	DefaultArgs(mode Mode) []string
	// PromptArgs returns the arguments that deliver an inline prompt.
	// Large prompts bypass this and arrive on stdin instead.
	PromptArgs(prompt string) []string
	// AuthPatterns returns the lowercase stderr substrings that identify a
	// credential failure for this provider.
	AuthPatterns() []string
	// AuthRemediation is the user-facing fix suggestion attached to an
	// authentication failure.
	AuthRemediation() string
	// InstallHint is the user-facing guidance attached when the executable
	// is missing.
	InstallHint() string
	// MirrorEnv copies equivalent credential variables both ways so an
	// agent finds its key regardless of which spelling the user exported.
	MirrorEnv(env map[string]string)
}

// New returns the Provider for the given name.
func New(name string) (Provider, error) {
	switch ProviderName(strings.ToLower(name)) {
	case ProviderClaude:
		return claudeProvider{}, nil
	case ProviderGemini:
		return geminiProvider{}, nil
	case ProviderCodex:
		return codexProvider{}, nil
	case ProviderQwen:
		return qwenProvider{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", errs.ErrUnknownProvider, name)
	}
}

// All returns every supported provider in display order.
func All() []Provider {
	return []Provider{claudeProvider{}, geminiProvider{}, codexProvider{}, qwenProvider{}}
}

// Names returns every supported provider name in display order.
func Names() []string {
	all := All()
	names := make([]string, len(all))
	for i, p := range all {
		names[i] = string(p.Name())
	}
	return names
}

// Available reports whether command resolves to a spawnable executable.
// Relative names are resolved through PATH.
func Available(command string) bool {
	_, err := exec.LookPath(command)
	return err == nil
}

// mirror copies src to dst when src is set and dst is not.
func mirror(env map[string]string, src, dst string) {
	if v, ok := env[src]; ok && v != "" {
		if _, exists := env[dst]; !exists {
			env[dst] = v
		}
	}
}

// -----------------------------------------------------------------------------
// Claude
// -----------------------------------------------------------------------------

type claudeProvider struct{}

func (claudeProvider) Name() ProviderName { return ProviderClaude }

func (claudeProvider) DisplayName() string { return "Claude" }

func (claudeProvider) DefaultCommand() string { return "claude" }

func (claudeProvider) DefaultArgs(mode Mode) []string {
	if mode == ModeWrite {
		return []string{"--print", "--dangerously-skip-permissions"}
	}
	return []string{"--print"}
}

func (claudeProvider) PromptArgs(prompt string) []string {
	return []string{"-p", prompt}
}

func (claudeProvider) AuthPatterns() []string {
	return []string{
		"anthropic_api_key",
		"claude_api_key",
		"please run /login",
		"not authenticated",
		"invalid api key",
	}
}

func (claudeProvider) AuthRemediation() string {
	return "run `claude /login` or export ANTHROPIC_API_KEY"
}

func (claudeProvider) InstallHint() string {
	return "install the Claude CLI: npm install -g @anthropic-ai/claude-code"
}

func (claudeProvider) MirrorEnv(env map[string]string) {
	mirror(env, "CLAUDE_API_KEY", "ANTHROPIC_API_KEY")
	mirror(env, "ANTHROPIC_API_KEY", "CLAUDE_API_KEY")
}

// -----------------------------------------------------------------------------
// Gemini
// -----------------------------------------------------------------------------

type geminiProvider struct{}

func (geminiProvider) Name() ProviderName { return ProviderGemini }

func (geminiProvider) DisplayName() string { return "Gemini" }

func (geminiProvider) DefaultCommand() string { return "gemini" }

func (geminiProvider) DefaultArgs(mode Mode) []string {
	if mode == ModeWrite {
		return []string{"--yolo"}
	}
	return nil
}

func (geminiProvider) PromptArgs(prompt string) []string {
	return []string{"-p", prompt}
}

func (geminiProvider) AuthPatterns() []string {
	return []string{
		"gemini_api_key",
		"google_api_key",
		"not authenticated",
		"please set an api key",
		"login required",
	}
}

func (geminiProvider) AuthRemediation() string {
	return "run `gemini auth login` or export GEMINI_API_KEY"
}

func (geminiProvider) InstallHint() string {
	return "install the Gemini CLI: npm install -g @google/gemini-cli"
}

func (geminiProvider) MirrorEnv(env map[string]string) {
	mirror(env, "GOOGLE_API_KEY", "GEMINI_API_KEY")
	mirror(env, "GEMINI_API_KEY", "GOOGLE_API_KEY")
}

// -----------------------------------------------------------------------------
// Codex
// -----------------------------------------------------------------------------

type codexProvider struct{}

func (codexProvider) Name() ProviderName { return ProviderCodex }

func (codexProvider) DisplayName() string { return "Codex" }

func (codexProvider) DefaultCommand() string { return "codex" }

func (codexProvider) DefaultArgs(mode Mode) []string {
	if mode == ModeWrite {
		return []string{"exec", "--full-auto"}
	}
	return []string{"exec"}
}

func (codexProvider) PromptArgs(prompt string) []string {
	return []string{prompt}
}

func (codexProvider) AuthPatterns() []string {
	return []string{
		"openai_api_key",
		"not logged in",
		"not authenticated",
		"run codex login",
		"invalid api key",
	}
}

func (codexProvider) AuthRemediation() string {
	return "run `codex login` or export OPENAI_API_KEY"
}

func (codexProvider) InstallHint() string {
	return "install the Codex CLI: npm install -g @openai/codex"
}

func (codexProvider) MirrorEnv(env map[string]string) {}

// -----------------------------------------------------------------------------
// Qwen
// -----------------------------------------------------------------------------

type qwenProvider struct{}

func (qwenProvider) Name() ProviderName { return ProviderQwen }

func (qwenProvider) DisplayName() string { return "Qwen" }

func (qwenProvider) DefaultCommand() string { return "qwen" }

func (qwenProvider) DefaultArgs(mode Mode) []string {
	if mode == ModeWrite {
		return []string{"--yolo"}
	}
	return nil
}

func (qwenProvider) PromptArgs(prompt string) []string {
	return []string{"-p", prompt}
}

func (qwenProvider) AuthPatterns() []string {
	return []string{
		"qwen_api_key",
		"dashscope_api_key",
		"not authenticated",
		"invalid api key",
	}
}

func (qwenProvider) AuthRemediation() string {
	return "export DASHSCOPE_API_KEY (or QWEN_API_KEY)"
}

func (qwenProvider) InstallHint() string {
	return "install the Qwen CLI: npm install -g @qwen-code/qwen-code"
}

func (qwenProvider) MirrorEnv(env map[string]string) {
	mirror(env, "QWEN_API_KEY", "DASHSCOPE_API_KEY")
	mirror(env, "DASHSCOPE_API_KEY", "QWEN_API_KEY")
}
