package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/moolen/lookout/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file with the defaults",
	Long: `Write the default configuration to --config (or ./lookout.yaml) so it can be
edited. Secrets are never written; they are read from the environment
(ANTHROPIC_API_KEY, GEMINI_API_KEY, DT_ENVIRONMENT, DT_PLATFORM_TOKEN, ...).`,
	RunE: runInit,
}

var initForce bool

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing file")
}

func runInit(cmd *cobra.Command, args []string) error {
	path := configPath
	if path == "" {
		path = defaultConfigFile
	}
	if _, err := os.Stat(path); err == nil && !initForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := config.Write(path, config.Default()); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	return nil
}
