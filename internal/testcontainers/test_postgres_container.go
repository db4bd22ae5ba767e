// SPDX-License-Identifier: Apache-2.0

package testcontainers

import (
	"context"
	"fmt"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Cleanup terminates a test container.
type Cleanup func() error

const postgresImage = "postgres:17-alpine"

// SetupPostgresContainer starts the record source database and sets url to
// its connection string.
func SetupPostgresContainer(ctx context.Context, url *string) (Cleanup, error) {
	ctr, err := postgres.Run(ctx, postgresImage,
		postgres.WithDatabase("searchsync"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(10*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	*url, err = ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return nil, fmt.Errorf("retrieving connection string for postgres container: %w", err)
	}
	return terminate(ctx, ctr), nil
}

func terminate(ctx context.Context, ctr testcontainers.Container) Cleanup {
	return func() error {
		return ctr.Terminate(ctx)
	}
}
