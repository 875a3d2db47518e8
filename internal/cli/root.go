package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sessionflow/flowguard/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Format     string // "json" | "text"
	Driver     string // "postgres" | "sqlite"
	Database   string // DSN for postgres, file path for sqlite
	SigningKey []byte
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for flowctl.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "flowctl",
		Short: "Operate the booking flow integrity engine",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			cfg, err := config.Load()
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to load config", err)
			}
			if opts.Driver == "" {
				opts.Driver = cfg.StoreDriver
			}
			if opts.Database == "" {
				switch opts.Driver {
				case config.DriverSQLite:
					opts.Database = cfg.SQLitePath
				case config.DriverPostgres:
					opts.Database = cfg.DatabaseURL
				}
			}
			opts.SigningKey = cfg.AuditSignKey
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Driver, "driver", "", "store driver (postgres|sqlite); defaults to STORE_DRIVER")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "postgres DSN or sqlite path; defaults to DATABASE_URL/SQLITE_PATH")

	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewTablesCommand(opts))
	cmd.AddCommand(NewBookingCommand(opts))
	cmd.AddCommand(NewAuditCommand(opts))
	cmd.AddCommand(NewReplayCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
