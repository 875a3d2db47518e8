package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/sessionflow/flowguard/internal/config"
	"github.com/sessionflow/flowguard/internal/infrastructure/postgres"
	"github.com/sessionflow/flowguard/internal/infrastructure/sqlite"
	"github.com/sessionflow/flowguard/internal/migrations"
)

// MigrateResult reports what a migrate run changed.
type MigrateResult struct {
	Driver        string   `json:"driver"`
	Applied       []string `json:"applied"`
	SchemaVersion int      `json:"schema_version,omitempty"`
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the schema for the configured store",
		Long: `Apply pending schema migrations.

Postgres migrations are tracked in schema_migrations; the SQLite schema is
applied when the file is opened and versioned with user_version.

Examples:
  flowctl migrate --driver sqlite --db ./flow.db
  flowctl migrate --driver postgres --db postgres://flowguard@localhost/flowguard`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context(), rootOpts, cmd)
		},
	}
}

func runMigrate(ctx context.Context, opts *RootOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	result := MigrateResult{Driver: opts.Driver, Applied: []string{}}

	switch opts.Driver {
	case config.DriverSQLite:
		st, err := sqlite.Open(opts.Database)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer st.Close()
		version, err := st.SchemaVersion(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read schema version", err)
		}
		result.SchemaVersion = version
	case config.DriverPostgres:
		pool, err := postgres.NewPool(ctx, opts.Database, 2)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to connect to database", err)
		}
		defer pool.Close()
		applied, err := postgres.RunMigrations(ctx, pool, migrations.FS)
		if err != nil {
			return WrapExitError(ExitCommandError, "migration failed", err)
		}
		result.Applied = append(result.Applied, applied...)
	default:
		return NewExitError(ExitCommandError, fmt.Sprintf("unsupported driver %q", opts.Driver))
	}

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return out.Success(result, func(w io.Writer) {
		if result.SchemaVersion > 0 {
			fmt.Fprintf(w, "%s schema at version %d\n", result.Driver, result.SchemaVersion)
			return
		}
		if len(result.Applied) == 0 {
			fmt.Fprintln(w, "Schema is up to date.")
			return
		}
		for _, name := range result.Applied {
			fmt.Fprintf(w, "applied %s\n", name)
		}
	})
}
