package anthropic

import (
	"context"

	"github.com/rotisserie/eris"
)

// BuildCachedSystemBlocks wraps text in a single system block with a 1-hour
// cache breakpoint. Vetting reuses the same campaign criteria across every
// candidate it scores, so the criteria block is cached and subsequent calls
// within the TTL pay the cache-read rate.
func BuildCachedSystemBlocks(text string) []SystemBlock {
	return []SystemBlock{{Text: text, CacheControl: &CacheControl{TTL: "1h"}}}
}

// PrimerRequest sends one message to warm the prompt cache before a worker
// pool fans out. Concurrent first requests would each pay the cache write
// premium; one sequential primer per campaign avoids that. The request
// should carry system blocks built with BuildCachedSystemBlocks.
func PrimerRequest(ctx context.Context, client Client, req MessageRequest) (*MessageResponse, error) {
	resp, err := client.CreateMessage(ctx, req)
	if err != nil {
		return nil, eris.Wrap(err, "anthropic: prime cache")
	}
	return resp, nil
}
