package commands

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/charmbracelet/lipgloss"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/DrSkyle/vmplace/pkg/config"
	"github.com/DrSkyle/vmplace/pkg/engine"
	"github.com/DrSkyle/vmplace/pkg/version"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "vmplace",
	Short: "Multi-resource VM placement",
	Long: `vmplace - multi-resource VM placement

Pack workloads onto the fewest servers with first-fit, first-fit-divide,
scarcity-weighted best-fit or an exact GLPK model.`,
	Version:       version.Current,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "Config file (default $HOME/.vmplace.yaml)")
	pf.StringSlice("resources", nil, "Resource schema, in column order")
	pf.String("log-level", "", "Log level (debug, info, warn, error)")
	pf.String("log-format", "", "Log format (json, text)")
	pf.String("otel-endpoint", "", "OTLP HTTP endpoint, or \"stdout\"")
	pf.Bool("skip-telemetry", false, "Do not install a tracer provider")

	addInputFlags(pf)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return bindFlags(cmd.Flags())
	}

	rootCmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		renderHelp(cmd)
	})

	rootCmd.AddCommand(solveCmd, scarcityCmd, milpCmd, versionCmd)
}

// flagKeys maps flag names to config keys. Several commands define the same
// flag, so binding happens for the executing command only.
var flagKeys = map[string]string{
	"resources":      "resources",
	"log-level":      "log.level",
	"log-format":     "log.format",
	"otel-endpoint":  "otel_endpoint",
	"skip-telemetry": "skip_telemetry",

	"workloads":     "dataset.workloads",
	"comma":         "dataset.comma",
	"fleet":         "dataset.fleet",
	"servers":       "dataset.servers",
	"sample":        "dataset.sample",
	"seed":          "dataset.seed",
	"aws-fleet":     "aws.fleet",
	"region":        "aws.region",
	"profile":       "aws.profile",
	"aws-verbose":   "aws.verbose",
	"kubeconfig":    "kubernetes.kubeconfig",
	"namespace":     "kubernetes.namespace",
	"node-selector": "kubernetes.node_selector",
	"class-label":   "kubernetes.class_label",

	"strategies":  "placement.strategies",
	"criterion":   "placement.criterion",
	"presort":     "placement.presort_scarcity",
	"filter":      "placement.filters",
	"concurrency": "placement.max_concurrency",
	"strict":      "placement.strict_mode",
	"output":      "output",
	"relaxed":     "milp.relaxed",
	"glpsol":      "milp.binary",
	"time-limit":  "milp.time_limit",
}

// bindFlags binds the command's flags to their config keys. A flag only
// overrides the config file and environment when set on the command line.
func bindFlags(fs *pflag.FlagSet) error {
	var err error
	fs.VisitAll(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok || err != nil {
			return
		}
		if bindErr := viper.BindPFlag(key, f); bindErr != nil {
			err = fmt.Errorf("binding flag %s: %w", f.Name, bindErr)
		}
	})
	return err
}

func initConfig() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to load .env", "error", err)
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.SetConfigFile(filepath.Join(home, ".vmplace.yaml"))
			viper.SetConfigType("yaml")
		}
	}
	viper.SetEnvPrefix("VMPLACE")
	viper.SetEnvKeyReplacer(config.EnvKeyReplacer)
	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err != nil && cfgFile != "" {
		slog.Warn("failed to read config", "file", cfgFile, "error", err)
	}
}

// loadConfig decodes the merged flag, env and file settings.
func loadConfig() (config.Config, error) {
	return config.Load(viper.GetViper())
}

// newLogger builds the run logger. Logs go to stderr so that stdout carries
// only command output.
func newLogger(cfg config.Config) *slog.Logger {
	level, _ := config.ParseLevel(cfg.Log.Level)
	return engine.NewLogger(os.Stderr, cfg.Log.Format, level)
}

func renderHelp(cmd *cobra.Command) {
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#00FF99")).
		MarginBottom(1)

	flagStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#AAAAAA"))

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, titleStyle.Render(fmt.Sprintf("VMPLACE %s", version.Current)))
	fmt.Fprintln(out, cmd.Short+".")

	fmt.Fprintln(out, titleStyle.Render("USAGE"))
	fmt.Fprintf(out, "  %s\n\n", cmd.UseLine())

	if cmd.HasAvailableSubCommands() {
		fmt.Fprintln(out, titleStyle.Render("COMMANDS"))
		for _, c := range cmd.Commands() {
			if c.IsAvailableCommand() {
				fmt.Fprintf(out, "  %-12s %s\n", c.Name(), c.Short)
			}
		}
		fmt.Fprintln(out)
	}

	if cmd == rootCmd {
		fmt.Fprintln(out, titleStyle.Render("EXAMPLES"))
		fmt.Fprintln(out, "  vmplace solve --workloads vms.csv --server-capacity vcpu=64,memory=512,storage=2Ki")
		fmt.Fprintln(out, "  vmplace solve --workloads vms.csv --aws-fleet m5.4xlarge=10 --strategies best_fit,milp")
		fmt.Fprintln(out, "  vmplace solve --source k8s --namespace prod --interactive")
		fmt.Fprintln(out, "  vmplace milp export --workloads vms.csv --fleet fleet.yaml > model.lp")
		fmt.Fprintln(out)
	}

	fmt.Fprintln(out, titleStyle.Render("FLAGS"))
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if f.Hidden {
			return
		}
		line := fmt.Sprintf("  --%-18s %s", f.Name, f.Usage)
		if f.DefValue != "" && f.DefValue != "false" && f.DefValue != "0" && f.DefValue != "[]" {
			line += fmt.Sprintf(" (default %s)", f.DefValue)
		}
		fmt.Fprintln(out, flagStyle.Render(line))
	})
	fmt.Fprintln(out)
}
