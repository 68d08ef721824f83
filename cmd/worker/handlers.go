package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/ghuser/pokedex/pkg/events"
	"github.com/ghuser/pokedex/pkg/logger"
	pokemonSvcs "github.com/ghuser/pokedex/services/pokemon/application/services"
	pokemonEvents "github.com/ghuser/pokedex/services/pokemon/domain/events"
)

type detailWarmer interface {
	WarmDetails(ctx context.Context, names []string, limit int) (pokemonSvcs.WarmResult, error)
}

// handlePageMerged returns a handler for pokemon.page_merged events.
// Handlers must be idempotent: EventBus retries up to 3× on failure.
// Warms the Redis detail cache for every name in the merged page.
func handlePageMerged(warmer detailWarmer, log logger.Logger) func(context.Context, *message.Message) error {
	return func(ctx context.Context, msg *message.Message) error {
		var evt pokemonEvents.PageMergedEvent
		if err := json.Unmarshal(msg.Payload, &evt); err != nil {
			return events.Permanent(fmt.Errorf("decode page_merged: %w", err))
		}
		if evt.Version > pokemonEvents.PageMergedVersion {
			log.WarnContext(ctx, "skipping page_merged with newer schema", "version", evt.Version)
			return nil
		}

		res, err := warmer.WarmDetails(ctx, evt.Names, warmConcurrency)
		if err != nil {
			// Detail warming is best-effort; a cancelled context is the only error here.
			log.WarnContext(ctx, "detail warm interrupted", "page", evt.Page, "error", err)
			return nil
		}
		log.InfoContext(ctx, "detail cache warmed",
			"page", evt.Page,
			"fetched", res.Fetched,
			"skipped", res.Skipped,
			"failed", res.Failed,
		)
		return nil
	}
}
