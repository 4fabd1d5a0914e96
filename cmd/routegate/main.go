package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zen-systems/routegate/pkg/audit"
	"github.com/zen-systems/routegate/pkg/backend"
	"github.com/zen-systems/routegate/pkg/config"
	"github.com/zen-systems/routegate/pkg/dispatch"
	"github.com/zen-systems/routegate/pkg/task"
)

var (
	configFile string
	debugFlag  bool
	auditDir   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "routegate",
		Short: "Task dispatch engine for local and cloud model backends",
		Long: `Routegate decides, per inference request, which compute backend serves it:
	a local model server first, escalating across remote providers when the
	task's risk, category or context length demands it, with per-class rate
	budgets, per-tier circuit breakers and response caching along the way.`,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to routing config file")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&auditDir, "audit-dir", "", "directory for the per-dispatch audit trail (disabled when empty)")

	rootCmd.AddCommand(askCmd())
	rootCmd.AddCommand(stateCmd())
	rootCmd.AddCommand(modelsCmd())
	rootCmd.AddCommand(laddersCmd())
	rootCmd.AddCommand(validateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func askCmd() *cobra.Command {
	var categoryFlag, riskFlag, classFlag, overrideFlag string
	var jsonFlag bool

	cmd := &cobra.Command{
		Use:   "ask [prompt]",
		Short: "Dispatch a prompt through the engine",
		Long: `Dispatches a single task. The engine checks its cache, consumes the
	traffic class's admission budget, tries the local model first (or the
	primary cloud tier under remote-first policy) and escalates along the
	category's ladder until a backend answers above threshold.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := buildEngine()
			if err != nil {
				return err
			}

			t := task.Task{
				Category: categoryFlag,
				Risk:     task.Risk(riskFlag),
				Prompt:   args[0],
				Override: overrideFlag,
				Class:    task.TrafficClass(classFlag),
			}

			resp := engine.Dispatch(context.Background(), t)

			if jsonFlag {
				out, err := json.MarshalIndent(resp, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(out))
				return nil
			}

			fmt.Println(resp.Text)
			if resp.Failed {
				os.Exit(1)
			}
			fmt.Fprintf(os.Stderr, "\n[backend=%s confidence=%.2f cached=%v attempts=%d]\n",
				resp.Backend, resp.Confidence, resp.Cached, len(resp.Attempts))
			return nil
		},
	}

	cmd.Flags().StringVar(&categoryFlag, "category", "", "task category (selects the ladder)")
	cmd.Flags().StringVar(&riskFlag, "risk", "low", "risk level: low, medium or high")
	cmd.Flags().StringVar(&classFlag, "class", "general", "traffic class: interactive, background or general")
	cmd.Flags().StringVar(&overrideFlag, "override", "", "dispatch override (retryLocal, retryCloud, forceModel:<id>, lowerConfidence:<x>, queue)")
	cmd.Flags().BoolVar(&jsonFlag, "json", false, "print the full response as JSON")

	return cmd
}

func stateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Show bucket levels, breaker cooldowns and cache size",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := buildEngine()
			if err != nil {
				return err
			}

			st := engine.State()
			out, err := json.MarshalIndent(st, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
}

func modelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List models available on the local backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			local, err := backend.NewLocalInvoker(cfg.LocalBaseURL)
			if err != nil {
				return err
			}

			models, err := local.ListModels(context.Background())
			if err != nil {
				return fmt.Errorf("local backend unavailable: %w", err)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "MODEL\tOWNED BY")
			for _, m := range models {
				fmt.Fprintf(w, "%s\t%s\n", m.ID, m.Metadata["owned_by"])
			}
			return w.Flush()
		},
	}
}

func laddersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ladders",
		Short: "Show the resolved escalation ladder for every category",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CATEGORY\tLADDER")

			categories := make([]string, 0, len(cfg.Routing.Ladders))
			for name := range cfg.Routing.Ladders {
				categories = append(categories, name)
			}
			sort.Strings(categories)

			for _, name := range categories {
				fmt.Fprintf(w, "%s\t%s\n", name, strings.Join(cfg.Routing.Ladders[name], " > "))
			}
			fmt.Fprintf(w, "(default)\t%s\n", strings.Join(cfg.Routing.DefaultLadder, " > "))
			return w.Flush()
		},
	}
}

func validateCmd() *cobra.Command {
	var printFlag bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the routing configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Routing.Validate(); err != nil {
				return fmt.Errorf("routing config invalid: %w", err)
			}
			if printFlag {
				out, err := cfg.Routing.Marshal()
				if err != nil {
					return err
				}
				fmt.Print(string(out))
				return nil
			}
			fmt.Println("routing config OK")
			return nil
		},
	}

	cmd.Flags().BoolVar(&printFlag, "print", false, "print the effective config as YAML")
	return cmd
}

func loadConfig() (*config.Config, error) {
	if configFile != "" {
		return config.LoadWithRoutingFile(configFile)
	}
	return config.Load()
}

// createInvokers builds the provider map from configured credentials.
// Providers without credentials are simply absent; their tiers report a
// protocol error if a ladder reaches them.
func createInvokers(cfg *config.Config) (map[string]backend.Invoker, error) {
	invokers := make(map[string]backend.Invoker)

	local, err := backend.NewLocalInvoker(cfg.LocalBaseURL)
	if err != nil {
		return nil, err
	}
	invokers["local"] = local

	if cfg.HasProvider("anthropic") {
		inv, err := backend.NewAnthropicInvoker(cfg.AnthropicAPIKey)
		if err != nil {
			return nil, err
		}
		invokers["anthropic"] = inv
	}
	if cfg.HasProvider("openai") {
		inv, err := backend.NewOpenAIInvoker(cfg.OpenAIAPIKey)
		if err != nil {
			return nil, err
		}
		invokers["openai"] = inv
	}
	if cfg.HasProvider("google") {
		inv, err := backend.NewGoogleInvoker(cfg.GoogleAPIKey)
		if err != nil {
			return nil, err
		}
		invokers["google"] = inv
	}
	if cfg.HasProvider("openrouter") {
		inv, err := backend.NewOpenRouterInvoker(cfg.OpenRouterAPIKey)
		if err != nil {
			return nil, err
		}
		invokers["openrouter"] = inv
	}

	return invokers, nil
}

func buildEngine() (*dispatch.Engine, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	invokers, err := createInvokers(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create invokers: %w", err)
	}

	logger := zap.NewNop()
	if debugFlag {
		logger, err = zap.NewDevelopment()
		if err != nil {
			return nil, err
		}
	}

	engine := dispatch.New(cfg.Routing, invokers,
		dispatch.WithLogger(logger),
		dispatch.WithSecrets(cfg.SecretValues()),
	)

	if auditDir != "" {
		trail, err := audit.NewTrail(auditDir)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit trail: %w", err)
		}
		engine.Capabilities().Register(dispatch.CapAudit, trail)
	}
	return engine, nil
}
