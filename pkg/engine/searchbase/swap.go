// SPDX-License-Identifier: Apache-2.0

package searchbase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xataio/searchsync/internal/searchstore"
	"github.com/xataio/searchsync/pkg/engine"
	loglib "github.com/xataio/searchsync/pkg/log"
)

func (e *Engine) SupportsAtomicSwap() bool {
	return true
}

// SwapIndex points the live alias at the temporary index in a single
// _aliases call. A concrete index holding the live name is removed in the
// same call. The index previously behind the alias is returned as stale.
func (e *Engine) SwapIndex(ctx context.Context, live, temp *engine.Index) (*engine.Index, error) {
	liveName, tempName := e.indexName(live), e.indexName(temp)

	targets, err := e.aliasTargets(ctx, liveName)
	if err != nil {
		return nil, err
	}

	actions := []searchstore.AliasAction{}
	var stale *engine.Index
	switch {
	case len(targets) > 0:
		for _, target := range targets {
			if target == tempName {
				continue
			}
			actions = append(actions, searchstore.AliasAction{Remove: &searchstore.AliasTarget{Index: target, Alias: liveName}})
			if stale == nil {
				stale = live.WithHandle(strings.TrimPrefix(target, e.cfg.IndexPrefix))
			}
		}
	default:
		exists, err := e.client.IndexExists(ctx, liveName)
		if err != nil {
			return nil, mapError(err)
		}
		if exists {
			actions = append(actions, searchstore.AliasAction{RemoveIndex: &searchstore.AliasTarget{Index: liveName}})
		}
	}
	actions = append(actions, searchstore.AliasAction{Add: &searchstore.AliasTarget{Index: tempName, Alias: liveName}})

	if err := e.client.UpdateAliases(ctx, actions); err != nil {
		return nil, mapError(fmt.Errorf("swapping %s to %s: %w", liveName, tempName, err))
	}

	e.logger.Info("index swapped", loglib.Fields{
		loglib.IndexField: liveName,
		"target":          tempName,
		"previous":        targets,
	})
	return stale, nil
}

// LiveTarget returns the concrete index currently behind the live alias.
func (e *Engine) LiveTarget(ctx context.Context, live *engine.Index) (string, error) {
	targets, err := e.aliasTargets(ctx, e.indexName(live))
	if err != nil || len(targets) == 0 {
		return "", err
	}
	return strings.TrimPrefix(targets[0], e.cfg.IndexPrefix), nil
}

// aliasTargets returns the indices behind an alias, sorted by name. A name
// that is not an alias has no targets.
func (e *Engine) aliasTargets(ctx context.Context, alias string) ([]string, error) {
	resp, err := e.client.GetIndexAlias(ctx, alias)
	if errors.Is(err, searchstore.ErrResourceNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, mapError(fmt.Errorf("getting alias %s: %w", alias, err))
	}
	return sortedKeys(resp), nil
}
