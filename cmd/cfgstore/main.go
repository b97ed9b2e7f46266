package main

import (
	"fmt"
	"os"
	"os/user"

	"github.com/spf13/cobra"
	"github.com/systmms/cfgstore/cmd/cfgstore/commands"
	"github.com/systmms/cfgstore/internal/config"
	dserrors "github.com/systmms/cfgstore/internal/errors"
	"github.com/systmms/cfgstore/internal/logging"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", dserrors.SimplifyError(err))
		os.Exit(1)
	}
}

func run() error {
	// Global flags
	var (
		configFile string
		noColor    bool
		debug      bool
		userName   string
	)

	// Create config placeholder
	cfg := &config.Config{}

	rootCmd := &cobra.Command{
		Use:   "cfgstore",
		Short: "Versioned configuration and secrets for every environment",
		Long: `cfgstore keeps configuration values and encrypted secrets per namespace
and environment. Every change is a new version, so any earlier value can be
inspected or restored.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg.Path = configFile
			cfg.Explicit = cmd.Flags().Changed("config")
			cfg.Logger = logging.New(debug, noColor)
			cfg.Debug = debug
			cfg.NoColor = noColor
			cfg.User = userName
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", config.DefaultPath, "Config file path")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&userName, "user", currentUser(), "Identity used for authorization and audit")

	rootCmd.AddCommand(
		commands.NewGetCommand(cfg),
		commands.NewSetCommand(cfg),
		commands.NewListCommand(cfg),
		commands.NewHistoryCommand(cfg),
		commands.NewRollbackCommand(cfg),
		commands.NewDeleteCommand(cfg),
		commands.NewExportCommand(cfg),
		commands.NewKeygenCommand(cfg),
		commands.NewRotateKeyCommand(cfg),
		commands.NewAuditCommand(cfg),
		commands.NewDoctorCommand(cfg),
		commands.NewCompletionCommand(cfg),
	)

	return rootCmd.Execute()
}

// currentUser defaults --user to CFGSTORE_USER, then the login name.
func currentUser() string {
	if name := os.Getenv("CFGSTORE_USER"); name != "" {
		return name
	}
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return os.Getenv("USER")
}
