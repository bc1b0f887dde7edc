// Package main provides the CLI entry point for the Ensemble agent engine.
//
// Ensemble runs multi-step, multi-agent language-model workflows: a roster
// of agents defined in YAML, a model gateway (Anthropic or OpenAI), parallel
// tool execution, agent-to-agent handoffs, guardrails, and human approval
// for sensitive tool calls.
//
// # Basic Usage
//
// Execute a run against the configured roster:
//
//	ensemble run --config ensemble.yaml "summarize the incident report"
//
// Validate a configuration file:
//
//	ensemble validate --config ensemble.yaml
//
// # Environment Variables
//
//   - ENSEMBLE_CONFIG: Path to configuration file (default: ensemble.yaml)
//   - ANTHROPIC_API_KEY: Anthropic API key for Claude models
//   - OPENAI_API_KEY: OpenAI API key for GPT models
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ensembleai/ensemble/internal/agent"
	"github.com/ensembleai/ensemble/internal/agent/gateway"
	"github.com/ensembleai/ensemble/internal/config"
	"github.com/ensembleai/ensemble/internal/observability"
	"github.com/ensembleai/ensemble/internal/sessions"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ensemble",
		Short: "Multi-agent workflow engine",
		Long: `Ensemble executes multi-step, multi-agent language-model workflows
with parallel tool dispatch, agent handoffs, guardrails, and human approval.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(versionCmd())
	return rootCmd
}

func runCmd() *cobra.Command {
	var (
		configPath string
		sessionID  string
		autoOK     bool
	)
	cmd := &cobra.Command{
		Use:   "run [input]",
		Short: "Execute a run against the configured agent roster",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return executeRun(cmd.Context(), cfg, args[0], sessionID, autoOK)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "path to configuration file")
	cmd.Flags().StringVar(&sessionID, "session", "", "session ID for conversation persistence")
	cmd.Flags().BoolVar(&autoOK, "auto-approve", false, "approve all pending tool calls without prompting")
	return cmd
}

func validateCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a configuration file and its agent roster",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if _, _, err := cfg.BuildRoster(); err != nil {
				return err
			}
			fmt.Printf("%s: %d agents, entry %q, gateway %s\n",
				configPath, len(cfg.Agents), cfg.EntryAgent, cfg.Gateway.Provider)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "path to configuration file")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("ensemble %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}

func defaultConfigPath() string {
	if p := os.Getenv("ENSEMBLE_CONFIG"); p != "" {
		return p
	}
	return "ensemble.yaml"
}

// executeRun wires the configured stack together and drives a run to a
// terminal state, prompting on approval suspensions.
func executeRun(ctx context.Context, cfg *config.Config, input, sessionID string, autoOK bool) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := observability.NewLogger(observability.LogConfig{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		AddSource: cfg.Logging.AddSource,
	})

	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: version,
		Endpoint:       cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
		EnableInsecure: cfg.Tracing.EnableInsecure,
	})
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	}()

	gw, err := buildGateway(cfg)
	if err != nil {
		return err
	}
	store, err := buildStore(cfg)
	if err != nil {
		return err
	}

	root, _, err := cfg.BuildRoster()
	if err != nil {
		return err
	}

	runner, err := agent.NewRunner(agent.Options{
		Gateway:  gw,
		Sessions: store,
		Events:   &agent.LogSink{Logger: logger},
		Logger:   logger,
		Metrics:  observability.NewMetrics(nil),
		Tracer:   tracer,
		Dispatch: &agent.DispatchConfig{
			MaxConcurrency: cfg.Runner.MaxConcurrency,
			DefaultTimeout: cfg.Runner.ToolTimeout,
			ToolTimeouts:   cfg.Runner.ToolTimeouts,
		},
		GuardrailRetryBudget: cfg.Runner.GuardrailRetryBudget,
	})
	if err != nil {
		return err
	}

	var opts []agent.RunOption
	if sessionID != "" {
		opts = append(opts, agent.WithSession(sessionID))
	}

	result, err := runner.Start(ctx, root, input, nil, opts...)
	for err == nil && result.Status == agent.StatusAwaitingApproval {
		decisions, derr := collectDecisions(result.Interruption, autoOK)
		if derr != nil {
			return derr
		}
		result, err = runner.Resume(ctx, root, result.Interruption, decisions, nil, opts...)
	}
	if err != nil {
		return err
	}

	fmt.Println(result.FinalOutput)
	if len(result.TransferChain) > 0 {
		fmt.Fprintf(os.Stderr, "transfers: %s\n", strings.Join(result.TransferChain, " -> "))
	}
	fmt.Fprintf(os.Stderr, "steps: %d\n", result.Steps)
	return nil
}

func buildGateway(cfg *config.Config) (agent.ModelGateway, error) {
	switch cfg.Gateway.Provider {
	case "anthropic":
		return gateway.NewAnthropicGateway(gateway.AnthropicConfig{
			APIKey:     cfg.Gateway.APIKey,
			BaseURL:    cfg.Gateway.BaseURL,
			Model:      cfg.Gateway.Model,
			MaxRetries: cfg.Gateway.MaxRetries,
			RetryDelay: cfg.Gateway.RetryDelay,
		})
	case "openai":
		return gateway.NewOpenAIGateway(gateway.OpenAIConfig{
			APIKey:     cfg.Gateway.APIKey,
			BaseURL:    cfg.Gateway.BaseURL,
			Model:      cfg.Gateway.Model,
			MaxRetries: cfg.Gateway.MaxRetries,
			RetryDelay: cfg.Gateway.RetryDelay,
		})
	case "scripted":
		return gateway.NewScriptedGateway(), nil
	default:
		return nil, fmt.Errorf("unknown gateway provider %q", cfg.Gateway.Provider)
	}
}

func buildStore(cfg *config.Config) (sessions.Store, error) {
	switch cfg.Sessions.Backend {
	case "sqlite":
		return sessions.NewSQLiteStore(cfg.Sessions.Path)
	default:
		return sessions.NewMemoryStore(), nil
	}
}

// collectDecisions prompts on stdin for each pending approval, or approves
// everything when autoOK is set.
func collectDecisions(in *agent.Interruption, autoOK bool) ([]agent.Decision, error) {
	decisions := make([]agent.Decision, 0, len(in.Pending))
	reader := bufio.NewReader(os.Stdin)

	for _, p := range in.Pending {
		if autoOK {
			decisions = append(decisions, agent.Decision{CallID: p.CallID, Approve: true})
			continue
		}

		fmt.Fprintf(os.Stderr, "\nagent %s wants to call %s\n  args: %s\napprove? [y/N]: ",
			p.RequestingAgent, p.ToolName, string(p.Args))

		line, err := reader.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("read approval decision: %w", err)
		}
		answer := strings.ToLower(strings.TrimSpace(line))
		if answer == "y" || answer == "yes" {
			decisions = append(decisions, agent.Decision{CallID: p.CallID, Approve: true})
			continue
		}

		fmt.Fprint(os.Stderr, "reason (optional): ")
		reason, _ := reader.ReadString('\n')
		decisions = append(decisions, agent.Decision{
			CallID:  p.CallID,
			Approve: false,
			Reason:  strings.TrimSpace(reason),
		})
	}
	return decisions, nil
}
