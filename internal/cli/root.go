package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/XylarDark/DevEnvTemplate-sub002/pkg/log"
)

const (
	cmdName = "devtmpl"
	cmdDesc = `Declarative cleanup engine for generated project templates.`
)

type RootArgs struct {
	LogLevel  string
	LogFormat string
}

func NewRootArgs() *RootArgs {
	return &RootArgs{}
}

func (ra *RootArgs) AddFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().
		StringVar(&ra.LogLevel, "log-level", "warn", fmt.Sprintf("Log level, one of: %s", log.AllLevels))
	cmd.PersistentFlags().
		StringVar(&ra.LogFormat, "log-format", "text", fmt.Sprintf("Log format, one of: %s", log.AllFormats))

	for flag, choices := range map[string][]string{
		"log-level":  log.AllLevels,
		"log-format": log.AllFormats,
	} {
		err := cmd.RegisterFlagCompletionFunc(flag,
			cobra.FixedCompletions(choices, cobra.ShellCompDirectiveNoFileComp),
		)
		if err != nil {
			panic(err)
		}
	}
}

func NewRootCmd() *cobra.Command {
	args := NewRootArgs()
	cleanupArgs := NewCleanupArgs(args)

	cleanupCmd := NewCleanupCmd(cleanupArgs)
	cmd := &cobra.Command{
		Use:               cmdName,
		Short:             cmdDesc,
		Example:           cmdExamples,
		PersistentPreRunE: setupLogging(args),
		ValidArgsFunction: cleanupCompletion(cleanupArgs),
		Args:              cleanupCmd.Args,
		RunE:              cleanupCmd.RunE,
	}

	args.AddFlags(cmd)
	cleanupArgs.AddFlags(cmd)
	cmd.AddCommand(cleanupCmd, NewCacheCmd())

	bindEnvVars(cmd)

	return cmd
}

func setupLogging(rc *RootArgs) func(cmd *cobra.Command, _ []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		logHandler, err := log.CreateHandlerWithStrings(cmd.ErrOrStderr(), rc.LogLevel, rc.LogFormat)
		if err != nil {
			return fmt.Errorf("create log handler: %w", err)
		}

		slog.SetDefault(slog.New(logHandler))

		return nil
	}
}
