package swarmkit

import (
	"context"
	"fmt"

	"github.com/forge9/swarmkit/contextstore"
	"github.com/forge9/swarmkit/feature"
)

// Enricher implements feature_enrich: it queries the context store for
// chunks relevant to a feature and records the rendered result on
// Feature.Context. The embedding/ranking heuristic behind queryVec is an
// external contract; Enricher only owns the storage round-trip.
type Enricher struct {
	controller *SessionController
	store      *contextstore.Store
}

// NewEnricher constructs an Enricher backed by store.
func NewEnricher(controller *SessionController, store *contextstore.Store) *Enricher {
	return &Enricher{controller: controller, store: store}
}

// Enrich searches the whole context store by queryVec (the search is not
// filtered by featureID) and replaces that feature's Context field with the
// rendered result.
func (e *Enricher) Enrich(ctx context.Context, featureID string, queryVec []float32, limit int) (int, error) {
	results, err := e.store.Search(ctx, "", queryVec, contextstore.SearchOptions{Limit: limit, MinSimilarity: 0})
	if err != nil {
		return 0, fmt.Errorf("swarmkit: enrich %s: %w", featureID, err)
	}
	rendered := contextstore.FormatContext(results)

	err = e.controller.Mutate(func(sess *feature.Session) error {
		found := false
		for i := range sess.Features {
			if sess.Features[i].ID == featureID {
				sess.Features[i].Context = rendered
				found = true
			}
		}
		if !found {
			return fmt.Errorf("swarmkit: unknown feature %q", featureID)
		}
		feature.AppendProgress(sess, "enriched %s with %d context chunk(s)", featureID, len(results))
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(results), nil
}
