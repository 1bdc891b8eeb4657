package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/XylarDark/DevEnvTemplate-sub002/pkg/cache"
	"github.com/XylarDark/DevEnvTemplate-sub002/pkg/config"
	"github.com/XylarDark/DevEnvTemplate-sub002/pkg/engine"
	"github.com/XylarDark/DevEnvTemplate-sub002/pkg/report"
)

const (
	cmdExamples = `  # Preview the cleanup of the current directory (dry-run is the default):
  devtmpl

  # Preview with unified diffs of every rewrite:
  devtmpl --diff

  # Apply the default profile with the docker and ci features enabled:
  devtmpl --apply --flag docker --flag ci .

  # Run the minimal profile against a generated project:
  devtmpl ./my-project minimal --apply

  # Gate CI on a clean tree (exit 2 when cleanup would change files):
  devtmpl --fail-on-actions

  # Emit the machine-readable report:
  devtmpl --output yaml --report-file cleanup-report.yaml`

	defaultProfile = "default"
)

type CleanupArgs struct {
	*RootArgs

	Path          string
	Profile       string
	ConfigPath    string
	Output        string
	ReportFile    string
	Flags         []string
	Rules         []string
	SkipRules     []string
	Excludes      []string
	CacheTTL      time.Duration
	Workers       int
	Apply         bool
	Diff          bool
	NoCache       bool
	FailOnActions bool
	WriteConfig   bool
	ShowConfig    bool
}

func NewCleanupArgs(rootArgs *RootArgs) *CleanupArgs {
	return &CleanupArgs{
		RootArgs: rootArgs,
	}
}

func (ca *CleanupArgs) AddFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&ca.ConfigPath, "config", "", "Path to the devtmpl configuration file")
	cmd.Flags().StringArrayVar(&ca.Flags, "flag", nil, "Enable a feature flag, or set one with name=false; repeatable")
	cmd.Flags().BoolVar(&ca.Apply, "apply", false, "Mutate the file system; without it the run is a dry-run")
	cmd.Flags().BoolVar(&ca.Diff, "diff", false, "Record unified diffs of in-place rewrites")
	cmd.Flags().StringArrayVar(&ca.Rules, "rule", nil, "Only execute the named rules; repeatable")
	cmd.Flags().StringArrayVar(&ca.SkipRules, "skip-rule", nil, "Skip the named rules; repeatable")
	cmd.Flags().StringArrayVar(&ca.Excludes, "exclude", nil, "Extra exclusion patterns applied to every rule; repeatable")
	cmd.Flags().BoolVar(&ca.NoCache, "no-cache", false, "Disable the plan cache")
	cmd.Flags().DurationVar(&ca.CacheTTL, "cache-ttl", cache.DefaultTTL, "Expiry for cached plans")
	cmd.Flags().IntVar(&ca.Workers, "workers", 1, "Worker pool size for file-level work")
	cmd.Flags().BoolVar(&ca.FailOnActions, "fail-on-actions", false, "Fail when cleanup performs (or would perform) any action")
	cmd.Flags().StringVar(&ca.Output, "output", report.FormatJSON,
		fmt.Sprintf("Report format, one of: %s", report.AllFormats))
	cmd.Flags().StringVar(&ca.ReportFile, "report-file", "", "Write the report to a file instead of stdout")
	cmd.Flags().BoolVar(&ca.WriteConfig, "write-config", false, "Write the default configuration file and exit")
	cmd.Flags().BoolVar(&ca.ShowConfig, "show-config", false, "Print the active configuration and exit")

	err := cmd.MarkFlagFilename("config", "yaml", "yml")
	if err != nil {
		panic(fmt.Errorf("mark config flag: %w", err))
	}

	err = cmd.RegisterFlagCompletionFunc("output",
		cobra.FixedCompletions(report.AllFormats, cobra.ShellCompDirectiveNoFileComp),
	)
	if err != nil {
		panic(err)
	}
}

func NewCleanupCmd(ca *CleanupArgs) *cobra.Command {
	cmd := &cobra.Command{
		Use:               "cleanup [path] [profile]",
		Short:             "Default command, strips template-only scaffolding from a generated project",
		Example:           cmdExamples,
		Args:              cobra.MaximumNArgs(2), //nolint:mnd // Path and profile.
		ValidArgsFunction: cleanupCompletion(ca),
		RunE: func(cmd *cobra.Command, args []string) error {
			ca.Path = "."
			if len(args) > 0 {
				ca.Path = args[0]
			}

			ca.Profile = defaultProfile
			if len(args) > 1 {
				ca.Profile = args[1]
			}

			return runCleanup(cmd, ca)
		},
	}
	ca.AddFlags(cmd)

	bindEnvVars(cmd)

	return cmd
}

// Try to load config to get available profiles.
func tryGetProfileNames(root, configPath string) []cobra.Completion {
	if configPath == "" {
		configPath = config.GetPath(root)
	}

	cl, err := config.NewConfigLoaderFromFile(configPath)
	if err != nil {
		return nil
	}

	cfg, err := cl.Load()
	if err != nil {
		return nil
	}

	completions := make([]cobra.Completion, 0, len(cfg.Profiles))
	for name, p := range cfg.Profiles {
		completions = append(completions, cobra.CompletionWithDesc(name, p.String()))
	}

	return completions
}

func cleanupCompletion(ca *CleanupArgs) func(*cobra.Command, []string, string) ([]cobra.Completion, cobra.ShellCompDirective) {
	return func(_ *cobra.Command, args []string, _ string) ([]cobra.Completion, cobra.ShellCompDirective) {
		// First argument: path completion.
		if len(args) == 0 {
			return nil, cobra.ShellCompDirectiveFilterDirs
		}

		// Second argument: profile completion.
		if len(args) == 1 {
			return tryGetProfileNames(args[0], ca.ConfigPath), cobra.ShellCompDirectiveNoFileComp
		}

		return nil, cobra.ShellCompDirectiveNoFileComp
	}
}

func runCleanup(cmd *cobra.Command, ca *CleanupArgs) error {
	root, err := filepath.Abs(ca.Path)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}

	configPath := ca.ConfigPath
	if configPath == "" {
		configPath = config.GetPath(root)
	}

	if ca.WriteConfig {
		return config.WriteDefaultConfig(configPath, false) //nolint:wrapcheck // Terminal call.
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	if ca.ShowConfig {
		slog.Info("active configuration", slog.String("path", configPath))

		yamlBytes, err := cfg.MarshalYAML()
		if err != nil {
			return fmt.Errorf("marshal config yaml: %w", err)
		}

		mustN(fmt.Fprint(cmd.OutOrStdout(), string(yamlBytes)))

		return nil
	}

	flags, err := parseFlags(ca.Flags)
	if err != nil {
		return err
	}

	opts := []engine.Opt{
		engine.WithProfile(ca.Profile),
		engine.WithFlags(flags),
		engine.WithDryRun(!ca.Apply),
		engine.WithDiff(ca.Diff),
		engine.WithRuleFilter(ca.Rules, ca.SkipRules),
		engine.WithExcludes(ca.Excludes...),
		engine.WithWorkers(ca.Workers),
		engine.WithFailOnActions(ca.FailOnActions),
	}
	if !ca.NoCache {
		opts = append(opts, engine.WithCache(
			cache.NewFileCache(cache.DefaultDir(), cache.WithTTL(ca.CacheTTL)),
		))
	}

	eng, err := engine.New(root, cfg, opts...)
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}

	rep, runErr := eng.Run(cmd.Context())
	if rep == nil {
		return runErr
	}

	err = emitReport(cmd, ca, rep)
	if err != nil {
		return err
	}

	return runErr
}

func loadConfig(configPath string) (*config.Config, error) {
	cl, err := config.NewConfigLoaderFromFile(configPath)
	if err != nil {
		slog.Warn("could not read config, using defaults", slog.Any("err", err))

		return config.NewConfig(), nil
	}

	err = cl.Validate()
	if err != nil {
		return nil, fmt.Errorf("invalid config %q: %w", configPath, err)
	}

	cfg, err := cl.Load()
	if err != nil {
		return nil, fmt.Errorf("invalid config %q: %w", configPath, err)
	}

	return cfg, nil
}

// parseFlags turns repeated --flag values into the feature-flag set. A bare
// name enables the flag; name=value parses the value as a boolean.
func parseFlags(pairs []string) (map[string]bool, error) {
	flags := make(map[string]bool, len(pairs))

	for _, pair := range pairs {
		name, value, found := strings.Cut(pair, "=")
		if name == "" {
			return nil, fmt.Errorf("invalid flag %q: empty name", pair)
		}

		if !found {
			flags[name] = true

			continue
		}

		b, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("invalid flag %q: %w", pair, err)
		}

		flags[name] = b
	}

	return flags, nil
}

// emitReport writes the machine-readable report to the report file or to a
// piped stdout, and a human summary when stdout is a terminal.
func emitReport(cmd *cobra.Command, ca *CleanupArgs, rep *report.Report) error {
	if ca.ReportFile != "" {
		f, err := os.Create(ca.ReportFile)
		if err != nil {
			return fmt.Errorf("create report file: %w", err)
		}

		err = rep.Write(f, ca.Output)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("write report: %w", err)
		}

		printSummary(cmd, rep)

		return nil
	}

	if term.IsTerminal(int(os.Stdout.Fd())) {
		printSummary(cmd, rep)

		return nil
	}

	err := rep.Write(cmd.OutOrStdout(), ca.Output)
	if err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	return nil
}
