// Package main provides the narrative binary: a CLI front end for the
// compliance narrative generation pipeline.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	// Register LLM providers via init()
	_ "github.com/veridoc/narrative/llm/providers"

	"github.com/veridoc/narrative/cache"
	"github.com/veridoc/narrative/compliance"
	"github.com/veridoc/narrative/config"
	"github.com/veridoc/narrative/ledger"
	"github.com/veridoc/narrative/llm"
	"github.com/veridoc/narrative/narrative"
	"github.com/veridoc/narrative/pipeline"
	"github.com/veridoc/narrative/tenant"
	"github.com/veridoc/narrative/validate"
)

const (
	Version = "0.3.0"
	appName = "narrative"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var logLevel string

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Compliance narrative generation",
		Long: `Narrative turns a structured compliance-decision result into a
publishable natural-language assessment: cache first, then the configured
remote models in priority order with quality gating, then the deterministic
template builder.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging(logLevel)
		},
	}

	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	cmd.AddCommand(generateCmd())
	cmd.AddCommand(validateCmd())
	cmd.AddCommand(versionCmd())

	return cmd
}

func setupLogging(level string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}

func generateCmd() *cobra.Command {
	var (
		configPath string
		inputPath  string
		showAudit  bool
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a narrative from a compliance decision",
		Long: `Generate reads a JSON compliance decision (from --input or stdin)
and prints the narrative. With --audit, the generation audit record is
printed to stderr as JSON.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			in, err := readInput(inputPath)
			if err != nil {
				return err
			}

			svc, cleanup, err := buildService(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			text, audit, err := svc.Generate(cmd.Context(), in)
			if err != nil {
				return err
			}

			fmt.Println(text)

			if showAudit {
				data, err := json.MarshalIndent(audit, "", "  ")
				if err != nil {
					return fmt.Errorf("marshal audit: %w", err)
				}
				fmt.Fprintln(os.Stderr, string(data))
			}

			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")
	cmd.Flags().StringVarP(&inputPath, "input", "i", "", "Decision input file (JSON, default stdin)")
	cmd.Flags().BoolVar(&showAudit, "audit", false, "Print the audit record to stderr")

	return cmd
}

func validateCmd() *cobra.Command {
	var (
		inputPath     string
		narrativePath string
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Score a narrative against a compliance decision",
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := readInput(inputPath)
			if err != nil {
				return err
			}

			text, err := os.ReadFile(narrativePath)
			if err != nil {
				return fmt.Errorf("read narrative: %w", err)
			}

			res := validate.ForRisk(in.RiskLevel)(string(text), in)
			data, err := json.MarshalIndent(res, "", "  ")
			if err != nil {
				return fmt.Errorf("marshal result: %w", err)
			}
			fmt.Println(string(data))

			if !res.Valid {
				os.Exit(1)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&inputPath, "input", "i", "", "Decision input file (JSON, default stdin)")
	cmd.Flags().StringVarP(&narrativePath, "narrative", "n", "", "Narrative text file")
	_ = cmd.MarkFlagRequired("narrative")

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s %s\n", appName, Version)
		},
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.DefaultConfig(), nil
	}
	return config.LoadFromFile(path)
}

func readInput(path string) (*compliance.Input, error) {
	var reader io.Reader = os.Stdin
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		reader = f
	}

	var in compliance.Input
	if err := json.NewDecoder(reader).Decode(&in); err != nil {
		return nil, fmt.Errorf("parse decision input: %w", err)
	}
	in.RiskLevel = compliance.ParseRiskLevel(string(in.RiskLevel))
	return &in, nil
}

// buildService wires the pipeline from configuration. The returned cleanup
// stops the ledger writer and closes the NATS connection, if any.
func buildService(ctx context.Context, cfg *config.Config) (*narrative.Service, func(), error) {
	logger := slog.Default()

	sink := ledger.Sink(ledger.NopSink{})
	var nc *nats.Conn
	if cfg.Audit.NATSURL != "" {
		conn, err := nats.Connect(cfg.Audit.NATSURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect NATS: %w", err)
		}
		nc = conn

		natsSink, err := ledger.NewNATSSink(conn, ledger.WithSubject(cfg.Audit.Subject))
		if err != nil {
			conn.Close()
			return nil, nil, err
		}
		sink = natsSink
	}

	metrics := ledger.NewMetrics(prometheus.DefaultRegisterer)
	led := ledger.New(cfg.Rollout,
		ledger.WithSink(sink),
		ledger.WithMetrics(metrics),
		ledger.WithLogger(logger))

	ledgerCtx, cancelLedger := context.WithCancel(ctx)
	led.Start(ledgerCtx)

	var tenants tenant.Store
	if cfg.TenantSettingsPath != "" {
		store, err := tenant.NewFileStore(cfg.TenantSettingsPath, tenant.WithLogger(logger))
		if err != nil {
			cancelLedger()
			if nc != nil {
				nc.Close()
			}
			return nil, nil, err
		}
		tenants = store
	}

	generator := pipeline.NewGenerator(
		pipeline.WithCache(cache.New(
			cache.WithMaxEntries(cfg.Cache.MaxEntries),
			cache.WithTTL(cfg.Cache.TTL))),
		pipeline.WithCompleter(llm.NewClient(llm.WithLogger(logger))),
		pipeline.WithModels(cfg.Models),
		pipeline.WithGate(led),
		pipeline.WithExperiment(cfg.Experiment),
		pipeline.WithCallTimeout(cfg.CallTimeout),
		pipeline.WithLogger(logger),
	)

	svc := narrative.NewService(generator,
		narrative.WithTenantStore(tenants),
		narrative.WithLedger(led),
		narrative.WithLogger(logger))

	cleanup := func() {
		cancelLedger()
		led.Wait()
		if nc != nil {
			nc.Close()
		}
	}

	return svc, cleanup, nil
}
