// SPDX-License-Identifier: Apache-2.0

package testcontainers

import (
	"context"
	"fmt"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/elasticsearch"
)

const elasticsearchImage = "docker.elastic.co/elasticsearch/elasticsearch:8.15.0"

// SetupElasticsearchContainer starts a single node cluster with security
// disabled and sets url to its address.
func SetupElasticsearchContainer(ctx context.Context, url *string) (Cleanup, error) {
	ctr, err := elasticsearch.Run(ctx, elasticsearchImage,
		testcontainers.WithEnv(map[string]string{
			"xpack.security.enabled": "false",
			"ES_JAVA_OPTS":           "-Xms512m -Xmx512m",
		}))
	if err != nil {
		return nil, fmt.Errorf("failed to start elasticsearch container: %w", err)
	}

	*url = ctr.Settings.Address
	return terminate(ctx, ctr), nil
}
