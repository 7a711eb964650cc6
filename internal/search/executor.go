package search

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// InterQueryDelay spaces adjacent queries so a shared search backend is not
// hammered by a single session.
const InterQueryDelay = 1500 * time.Millisecond

// Executor issues a batch of queries serially against one provider.
type Executor struct {
	Provider Provider
	// Sleep is swappable for tests; nil means time.Sleep.
	Sleep func(time.Duration)
}

func (e *Executor) sleep(d time.Duration) {
	if e.Sleep != nil {
		e.Sleep(d)
		return
	}
	time.Sleep(d)
}

// ExecuteSearches runs each query in order with InterQueryDelay between
// adjacent queries and returns results keyed by the original query string.
// A failing query yields an empty slice rather than aborting the batch.
func (e *Executor) ExecuteSearches(ctx context.Context, queries []string, perQuery int) map[string][]Result {
	out := make(map[string][]Result, len(queries))
	for i, q := range queries {
		if i > 0 {
			e.sleep(InterQueryDelay)
		}
		if err := ctx.Err(); err != nil {
			return out
		}
		results, err := e.Provider.Search(ctx, q, perQuery)
		if err != nil {
			log.Warn().Err(err).Str("query", q).Msg("search failed")
			out[q] = nil
			continue
		}
		out[q] = results
	}
	return out
}
