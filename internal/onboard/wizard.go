// Package onboard is the interactive first-run wizard: it asks the few
// questions a fresh install needs and writes haya.json with a generated
// gateway token.
package onboard

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/hayahq/haya/internal/config"
)

// channelPrompts lists the optional channels and the settings each needs.
// Secrets are recorded as env-var names; the wizard never writes a secret
// into the file.
var channelPrompts = []struct {
	id       string
	question string
	settings []settingPrompt
}{
	{"telegram", "Enable Telegram?", []settingPrompt{
		{"botTokenEnvVar", "Env var holding the Telegram bot token", "TELEGRAM_BOT_TOKEN"},
	}},
	{"discord", "Enable Discord?", []settingPrompt{
		{"botTokenEnvVar", "Env var holding the Discord bot token", "DISCORD_BOT_TOKEN"},
	}},
	{"slack", "Enable Slack (Socket Mode)?", []settingPrompt{
		{"botTokenEnvVar", "Env var holding the Slack bot token", "SLACK_BOT_TOKEN"},
		{"appTokenEnvVar", "Env var holding the Slack app token", "SLACK_APP_TOKEN"},
	}},
	{"webchat", "Enable the built-in web chat?", nil},
}

type settingPrompt struct {
	key      string
	question string
	fallback string
}

// Wizard drives the conversation. Reads come from in, prompts go to out;
// secrets are read without echo when in is a terminal.
type Wizard struct {
	in  *bufio.Reader
	out io.Writer
	fd  int // -1 when stdin is not a terminal
}

// NewWizard wires the wizard to the given streams. Pass os.Stdin and
// os.Stdout for interactive use.
func NewWizard(in io.Reader, out io.Writer) *Wizard {
	fd := -1
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fd = int(f.Fd())
	}
	return &Wizard{in: bufio.NewReader(in), out: out, fd: fd}
}

// Run asks every question and writes the resulting config to path. The
// returned config is already saved.
func (w *Wizard) Run(path string) (*config.Config, error) {
	fmt.Fprintln(w.out, "Welcome to Haya. A few questions and you're running.")
	fmt.Fprintln(w.out)

	provider := w.choose("Default model provider", []string{
		config.ProviderOpenAI, config.ProviderAnthropic, config.ProviderGemini, config.ProviderBedrock,
	}, config.ProviderOpenAI)

	cfg, err := config.Scaffold(config.InitOptions{Path: path, Provider: provider})
	if err != nil {
		return nil, err
	}

	if provider != config.ProviderBedrock {
		envVar := cfg.Agent.DefaultProviderAPIKeyEnvVar
		if os.Getenv(envVar) == "" {
			if key := w.secret(fmt.Sprintf("Paste your %s API key to verify (blank to skip)", provider)); key != "" {
				fmt.Fprintf(w.out, "Add to your shell profile:\n  export %s=%s\n", envVar, "…")
			} else {
				fmt.Fprintf(w.out, "Remember to export %s before starting.\n", envVar)
			}
		}
	} else if cfg.Agent.AWSRegion == "" {
		cfg.Agent.AWSRegion = w.ask("AWS region for Bedrock", "us-east-1")
	}

	mode := w.choose("Who may message the assistant", []string{
		config.SenderAuthPairing, config.SenderAuthAllowlist, config.SenderAuthOpen,
	}, config.SenderAuthPairing)
	cfg.SenderAuth.Mode = mode

	cfg.Channels = map[string]config.ChannelConfig{}
	for _, ch := range channelPrompts {
		if !w.yes(ch.question) {
			continue
		}
		settings := map[string]any{}
		for _, sp := range ch.settings {
			settings[sp.key] = w.ask(sp.question, sp.fallback)
		}
		cfg.Channels[ch.id] = config.ChannelConfig{Settings: settings}
	}

	if err := cfg.Save(); err != nil {
		return nil, err
	}

	fmt.Fprintln(w.out)
	fmt.Fprintf(w.out, "Config written to %s\n", cfg.Path())
	fmt.Fprintf(w.out, "Gateway token: %s\n", cfg.Gateway.EffectiveToken())
	fmt.Fprintln(w.out, "Keep the token safe; clients need it to connect. Start with `haya start`.")
	return cfg, nil
}

func (w *Wizard) ask(question, fallback string) string {
	if fallback != "" {
		fmt.Fprintf(w.out, "%s [%s]: ", question, fallback)
	} else {
		fmt.Fprintf(w.out, "%s: ", question)
	}
	line, _ := w.in.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return fallback
	}
	return line
}

func (w *Wizard) yes(question string) bool {
	answer := w.ask(question+" (y/N)", "n")
	return strings.EqualFold(answer, "y") || strings.EqualFold(answer, "yes")
}

func (w *Wizard) choose(question string, options []string, fallback string) string {
	answer := w.ask(fmt.Sprintf("%s (%s)", question, strings.Join(options, "/")), fallback)
	for _, opt := range options {
		if strings.EqualFold(answer, opt) {
			return opt
		}
	}
	fmt.Fprintf(w.out, "Unknown choice %q, using %s.\n", answer, fallback)
	return fallback
}

// secret reads without echo on a terminal and falls back to a plain line
// read otherwise.
func (w *Wizard) secret(question string) string {
	fmt.Fprintf(w.out, "%s: ", question)
	if w.fd >= 0 {
		raw, err := term.ReadPassword(w.fd)
		fmt.Fprintln(w.out)
		if err != nil {
			return ""
		}
		return strings.TrimSpace(string(raw))
	}
	line, _ := w.in.ReadString('\n')
	return strings.TrimSpace(line)
}
