package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/jonwraymond/scriptrun/internal/logging"
	"github.com/jonwraymond/scriptrun/script"
	"github.com/jonwraymond/scriptrun/skill"
	"github.com/jonwraymond/scriptrun/tools"
	"github.com/jonwraymond/scriptrun/worker"
	"github.com/jonwraymond/scriptrun/worker/mock"
)

var (
	backendFlag    string
	timeoutFlag    time.Duration
	allowToolsFlag []string
	denyAllFlag    bool
	noPrintFlag    bool
	debugFlag      bool
	noAPIsFlag     bool
	skillsDirFlag  string
	skillLabelFlag string
	envFlag        []string
	maxConcurrent  int64
	maxQueue       int64
)

var runCmd = &cobra.Command{
	Use:   "run <program>",
	Short: "Execute one script in an isolated unit",
	Long: `Execute a program in the in-process mock backend and print the
execution result as JSON. Skills loaded from the skills directory are
exposed to the script as callable tools, subject to the gateway policy.

Examples:
  scriptrun run demo/tools --allow-tool echo
  scriptrun run demo/tools --deny-all-tools
  scriptrun run demo/print --timeout 30s`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&backendFlag, "backend", "", "Registered backend to run on (default mock)")
	runCmd.Flags().DurationVar(&timeoutFlag, "timeout", 0, "Wall-clock budget (default 10m)")
	runCmd.Flags().StringSliceVar(&allowToolsFlag, "allow-tool", nil, "Restrict tool calls to these names (repeatable)")
	runCmd.Flags().BoolVar(&denyAllFlag, "deny-all-tools", false, "Refuse every tool call")
	runCmd.Flags().BoolVar(&noPrintFlag, "no-print", false, "Discard script print output")
	runCmd.Flags().BoolVar(&debugFlag, "debug", false, "Emit per-call diagnostics")
	runCmd.Flags().BoolVar(&noAPIsFlag, "no-apis", false, "Disable builtin APIs")
	runCmd.Flags().StringVar(&skillsDirFlag, "skills-dir", "", "Directory of skill manifests to expose as tools")
	runCmd.Flags().StringVar(&skillLabelFlag, "skill-label", "", "Visibility label for skill filtering")
	runCmd.Flags().StringSliceVar(&envFlag, "env", nil, "Script environment values as key=value (repeatable)")
	runCmd.Flags().Int64Var(&maxConcurrent, "max-concurrent", 0, "Concurrent execution bound")
	runCmd.Flags().Int64Var(&maxQueue, "max-queue", 0, "Wait queue depth")
	rootCmd.AddCommand(runCmd)
}

func runRun(_ *cobra.Command, args []string) error {
	logger, err := logging.New(viper.GetString("log-level"), viper.GetBool("dev"))
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	registry := tools.NewRegistry()
	if err := registerBuiltinTools(registry); err != nil {
		return err
	}
	if skillsDirFlag != "" {
		if err := registerSkills(registry, skillsDirFlag, skillLabelFlag, logger); err != nil {
			return err
		}
	}

	backend := mock.New(mock.Config{Programs: demoPrograms(), Logger: logger})
	backends := worker.NewRegistry()
	if err := backends.Register(string(worker.KindMock), backend); err != nil {
		return err
	}

	engine, err := script.NewEngine(script.Options{
		Backend:  backend,
		Registry: backends,
		Runner:   registry,
		Limits:   script.Limits{MaxConcurrent: maxConcurrent, MaxQueue: maxQueue},
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("building engine: %w", err)
	}

	opts := []script.Option{}
	if timeoutFlag > 0 {
		opts = append(opts, script.WithMaxExecutionTime(timeoutFlag))
	}
	if len(allowToolsFlag) > 0 {
		opts = append(opts, script.WithAllowedTools(allowToolsFlag...))
	}
	if denyAllFlag {
		opts = append(opts, script.WithDenyAllTools())
	}
	if noPrintFlag {
		opts = append(opts, script.WithPrint(false))
	}
	if debugFlag {
		opts = append(opts, script.WithDebug(true))
	}
	if noAPIsFlag {
		opts = append(opts, script.WithoutAPIs())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := engine.Run(ctx, script.Request{
		Payload: worker.Payload{Source: args[0], Env: parseEnv(envFlag)},
		Config:  script.NewConfig(opts...),
		Backend: backendFlag,
	})
	if err != nil {
		return fmt.Errorf("run rejected: %w", err)
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))

	if result.Outcome != script.OutcomeSuccess {
		os.Exit(1)
	}
	return nil
}

// registerSkills exposes each visible skill as a tool returning its
// content. Real deployments replace this with handlers that act on the
// skill body.
func registerSkills(registry *tools.Registry, dir, label string, logger *zap.Logger) error {
	library := skill.NewLibrary()
	if err := library.LoadFrom(context.Background(), skill.DirLoader{Dir: dir}); err != nil {
		return fmt.Errorf("loading skills: %w", err)
	}
	for _, s := range library.Visible(label) {
		content := s.Content
		if err := registry.Register(s.Name, func(_ context.Context, _ map[string]any) (any, error) {
			return content, nil
		}); err != nil {
			return err
		}
		logger.Info("skill registered", zap.String("name", s.Name), zap.String("source", s.Source))
	}
	return nil
}

func registerBuiltinTools(registry *tools.Registry) error {
	return registry.Register("echo", func(_ context.Context, args map[string]any) (any, error) {
		return args["message"], nil
	})
}

// demoPrograms are the in-process programs the mock backend can run.
func demoPrograms() map[string]mock.Program {
	return map[string]mock.Program{
		"demo/print": func(_ context.Context, env mock.Env) (any, error) {
			env.Print("hello from the sandbox")
			return "done", nil
		},
		"demo/tools": func(ctx context.Context, env mock.Env) (any, error) {
			return env.Call(ctx, "echo", map[string]any{"message": "ping"})
		},
		"demo/apis": func(ctx context.Context, env mock.Env) (any, error) {
			return env.API(ctx, "time.now", nil)
		},
	}
}

func parseEnv(pairs []string) map[string]string {
	if len(pairs) == 0 {
		return nil
	}
	env := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, _ := strings.Cut(pair, "=")
		env[key] = value
	}
	return env
}
