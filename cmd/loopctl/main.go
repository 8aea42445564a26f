// loopctl runs a bounded, self-terminating iteration loop around an AI
// producer and a local command executor, with an interactive shell on top.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"golang.org/x/term"

	"loopctl/pkg/config"
	"loopctl/pkg/exec"
	"loopctl/pkg/logx"
	"loopctl/pkg/loop"
	"loopctl/pkg/metrics"
	"loopctl/pkg/persistence"
	"loopctl/pkg/producer"
	"loopctl/pkg/shell"
	"loopctl/pkg/tokens"
	"loopctl/pkg/transcript"
)

// Version information - set by goreleaser via ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var (
		providerName  = flag.String("provider", "", "producer backend: anthropic, openai, ollama, gemini")
		model         = flag.String("model", "", "override the provider's default model")
		maxIterations = flag.Int("max-iterations", 0, "iteration budget (0 uses the configured default)")
		promise       = flag.String("promise", "", "completion phrase override")
		mode          = flag.String("mode", "", "auto or confirm")
		workDir       = flag.String("workdir", "", "directory commands run in")
		configPath    = flag.String("config", "", "config file (default ~/.loopctl/config.yaml)")
		showVersion   = flag.Bool("version", false, "show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("loopctl %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
		os.Exit(0)
	}

	logger := logx.NewLogger("loopctl")
	defer logx.CloseDebugFiles()

	if err := run(logger, *providerName, *model, *maxIterations, *promise, *mode, *workDir, *configPath); err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
}

//nolint:gocritic // flat parameter list keeps main trivially readable
func run(logger *logx.Logger, providerName, model string, maxIterations int, promise, mode, workDir, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Flags override file configuration.
	if providerName != "" {
		cfg.Provider = providerName
	}
	if model != "" {
		cfg.Model = model
	}
	if maxIterations != 0 {
		cfg.MaxIterations = maxIterations
	}
	if promise != "" {
		cfg.CompletionPromise = promise
	}
	if mode != "" {
		cfg.Mode = mode
	}
	if workDir != "" {
		cfg.WorkDir = workDir
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	// SIGINT belongs to the shell's pause/resume contract; only SIGTERM
	// tears the process down.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer cancel()

	unlockSecrets(logger)

	backend, probe, err := buildProducer(cfg)
	if err != nil {
		return err
	}

	sessionID := uuid.New().String()
	logger.Info("session %s: provider=%s mode=%s max=%d", sessionID, cfg.Provider, cfg.Mode, cfg.MaxIterations)

	recorder := metrics.NewRecorder()

	var history *persistence.History
	if cfg.HistoryDB != "" {
		history, err = persistence.Open(config.ExpandHome(cfg.HistoryDB), logx.NewLogger("persistence"))
		if err != nil {
			logger.Warn("run history disabled: %v", err)
			history = nil
		} else {
			defer history.Close()
		}
	}

	counter, err := tokens.NewCounter()
	if err != nil {
		logger.Warn("token counting disabled: %v", err)
	}

	watchdog := shell.NewWatchdog(backend, probe, logx.NewLogger("watchdog"))
	watchdog.OnStall = recorder.ObserveStall

	var executor loop.Executor = exec.NewShell(cfg.WorkDir, cfg.CommandTimeout.Std())
	if home, homeErr := os.UserHomeDir(); homeErr == nil {
		transcriptPath := filepath.Join(home, config.UserConfigDir, "transcripts", sessionID+".jsonl")
		writer, writeErr := transcript.NewWriter(transcriptPath)
		if writeErr != nil {
			logger.Warn("transcript disabled: %v", writeErr)
		} else {
			defer writer.Close()
			executor = transcript.WrapExecutor(executor, writer)
			logger.Debug("transcript: %s", transcriptPath)
		}
	}

	ctrlCfg := loop.Config{
		Producer:      watchdog,
		Executor:      executor,
		MaxIterations: cfg.MaxIterations,
		Promise:       cfg.CompletionPromise,
		Mode:          loop.Mode(cfg.Mode),
		SessionID:     sessionID,
		Logger:        logx.NewLogger("loop"),
		Recorder:      recorder,
	}
	if history != nil {
		ctrlCfg.History = history
	}
	if counter != nil {
		ctrlCfg.Tokens = counter
	}

	ctrl, err := loop.NewController(ctrlCfg)
	if err != nil {
		return err
	}

	sh := shell.New(ctrl, logx.NewLogger("shell"))
	runErr := sh.Run(ctx)

	if cfg.MetricsSnapshot != "" {
		snapshotPath := config.ExpandHome(cfg.MetricsSnapshot)
		if err := recorder.WriteSnapshot(snapshotPath); err != nil {
			logger.Warn("failed to write metrics snapshot: %v", err)
		} else {
			logger.Debug("metrics snapshot written to %s", snapshotPath)
		}
	}

	return runErr
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		defaultPath, err := config.Path()
		if err != nil {
			return config.Defaults(), err
		}
		path = defaultPath
	}
	return config.Load(path)
}

// buildProducer constructs the configured backend, resolving its API key
// from the secrets store, the environment, or an interactive prompt.
func buildProducer(cfg config.Config) (loop.Producer, shell.Pinger, error) {
	switch cfg.Provider {
	case config.ProviderAnthropic:
		key, err := resolveAPIKey("ANTHROPIC_API_KEY")
		if err != nil {
			return nil, nil, err
		}
		client := producer.NewAnthropic(key, cfg.Model)
		return client, client, nil
	case config.ProviderOpenAI:
		key, err := resolveAPIKey("OPENAI_API_KEY")
		if err != nil {
			return nil, nil, err
		}
		return producer.NewOpenAI(key, cfg.Model), nil, nil
	case config.ProviderOllama:
		client := producer.NewOllama(cfg.OllamaHost, cfg.Model)
		return client, client, nil
	case config.ProviderGemini:
		key, err := resolveAPIKey("GEMINI_API_KEY")
		if err != nil {
			return nil, nil, err
		}
		return producer.NewGemini(key, cfg.Model), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

// unlockSecrets decrypts the stored secrets file when one exists and a
// terminal is attached. Failure is non-fatal; keys fall back to the
// environment.
func unlockSecrets(logger *logx.Logger) {
	home, err := os.UserHomeDir()
	if err != nil {
		return
	}
	secretsDir := filepath.Join(home, config.UserConfigDir)
	if !config.SecretsFileExists(secretsDir) || !term.IsTerminal(int(syscall.Stdin)) {
		return
	}

	fmt.Print("Secrets file password: ")
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		logger.Warn("failed to read password: %v", err)
		return
	}
	secrets, err := config.DecryptSecretsFile(secretsDir, string(password))
	if err != nil {
		logger.Warn("failed to unlock secrets: %v", err)
		return
	}
	config.SetDecryptedSecrets(secrets)
}

// resolveAPIKey checks the secrets store and environment, then falls back
// to prompting when attached to a terminal.
func resolveAPIKey(name string) (string, error) {
	if key, err := config.GetSecret(name); err == nil {
		return key, nil
	}
	if !term.IsTerminal(int(syscall.Stdin)) {
		return "", fmt.Errorf("%s not set", name)
	}

	fmt.Printf("Enter %s: ", name)
	key, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", name, err)
	}
	if len(key) == 0 {
		return "", fmt.Errorf("%s not set", name)
	}
	return string(key), nil
}
