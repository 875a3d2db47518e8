package cli

import (
	"context"
	"fmt"

	"github.com/sessionflow/flowguard/internal/config"
	"github.com/sessionflow/flowguard/internal/domain/booking"
	"github.com/sessionflow/flowguard/internal/infrastructure/postgres"
	"github.com/sessionflow/flowguard/internal/infrastructure/sqlite"
)

// openStore opens the durable store named by the global flags.
func openStore(ctx context.Context, opts *RootOptions) (booking.Store, error) {
	if opts.Database == "" {
		return nil, NewExitError(ExitCommandError, "no database configured (use --db)")
	}
	switch opts.Driver {
	case config.DriverSQLite:
		st, err := sqlite.Open(opts.Database)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to open database", err)
		}
		return st, nil
	case config.DriverPostgres:
		pool, err := postgres.NewPool(ctx, opts.Database, 4)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to connect to database", err)
		}
		return postgres.NewStore(pool), nil
	}
	return nil, NewExitError(ExitCommandError, fmt.Sprintf("unsupported driver %q", opts.Driver))
}
