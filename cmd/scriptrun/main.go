package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	configFlag   string
	logLevelFlag string
	devFlag      bool
)

var rootCmd = &cobra.Command{
	Use:   "scriptrun",
	Short: "Run untrusted scripts in isolated sandboxes with tool gating",
	Long: `scriptrun executes scripts inside isolated worker units and routes
every tool call the script makes through a policy gateway. Denied calls
never reach the host; the execution ends with a tool_denied outcome.`,
	PersistentPreRunE: loadConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Config file (default searches ./scriptrun.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&devFlag, "dev", false, "Human-readable log output")
}

// loadConfig wires flags, environment, and an optional config file into
// one viper instance. Precedence: flags, then SCRIPTRUN_* environment
// variables, then the file.
func loadConfig(cmd *cobra.Command, _ []string) error {
	if configFlag != "" {
		viper.SetConfigFile(configFlag)
	} else {
		viper.SetConfigName("scriptrun")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix("scriptrun")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFlag != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("reading config: %w", err)
		}
	}

	return viper.BindPFlags(cmd.Flags())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
