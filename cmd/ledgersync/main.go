// Command ledgersync manages QuickBooks Online records from the terminal
// and serves the HTTP API used by the web front end.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/custodia-labs/ledgersync/internal/adapters/driven/config/file"
	"github.com/custodia-labs/ledgersync/internal/adapters/driving/cli"
	"github.com/custodia-labs/ledgersync/internal/app"
	"github.com/custodia-labs/ledgersync/internal/core/domain"
	"github.com/custodia-labs/ledgersync/internal/core/services"
	"github.com/custodia-labs/ledgersync/internal/logger"
)

func main() {
	if err := file.LoadDotEnv(); err != nil {
		logger.Warn(".env: %v", err)
	}

	dir, err := file.DefaultDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ledgersync: %v\n", err)
		os.Exit(1)
	}
	store, err := file.NewConfigStore(dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ledgersync: config: %v\n", err)
		os.Exit(1)
	}
	settings := services.NewSettingsService(file.NewEnvStore(store))

	cli.Configure(settings, func(ctx context.Context, s domain.Settings) (*cli.Runtime, error) {
		a, err := app.New(ctx, s, dir, app.Overrides{})
		if err != nil {
			return nil, err
		}
		return &cli.Runtime{
			Settings:    a.Settings,
			Connections: a.Connections,
			Entities:    a.Entities,
			Transfer:    a.Transfer,
			Audit:       a.Audit,
			Scheduler:   a.Scheduler,
			Close:       a.Close,
		}, nil
	})

	cli.Execute()
}
