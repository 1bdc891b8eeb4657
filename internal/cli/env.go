package cli

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// bindEnvVars wires every flag of the command to a DEVTMPL_<FLAG>
// environment variable ("log-level" reads $DEVTMPL_LOG_LEVEL) and appends
// the variable name to the flag's help text. Precedence is argument over
// environment over default.
func bindEnvVars(cmd *cobra.Command) {
	cmd.Flags().VisitAll(bindFlagToEnv)
	cmd.PersistentFlags().VisitAll(bindFlagToEnv)
}

func bindFlagToEnv(flag *pflag.Flag) {
	envName := flagToEnvName(flag.Name)

	if !strings.Contains(flag.Usage, envName) {
		flag.Usage = fmt.Sprintf("%s ($%s)", flag.Usage, envName)
	}

	// Command-line arguments win over the environment.
	if flag.Changed {
		return
	}

	envValue, ok := os.LookupEnv(envName)
	if !ok {
		return
	}

	err := flag.Value.Set(envValue)
	if err != nil {
		// Keep the default rather than failing startup.
		slog.Warn("ignoring environment variable",
			slog.String("env", envName),
			slog.String("value", envValue),
			slog.Any("err", err),
		)
	}
}

func flagToEnvName(flagName string) string {
	name := strings.ReplaceAll(flagName, "-", "_")

	return strings.ToUpper(cmdName + "_" + name)
}
