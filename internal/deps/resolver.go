package deps

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/codefence/codefence/internal/infrastructure/logging"
)

// ErrBundleLoad marks a failed load of a known alias. It fails the whole
// unit; unknown aliases never do.
var ErrBundleLoad = errors.New("deps: bundle load failed")

// Bundle is one resolved alias → source-text pair, immutable once loaded.
type Bundle struct {
	Alias  string
	Source string
}

// Resolver maps requested aliases to bundle sources.
type Resolver struct {
	registry *Registry
	store    *Store
	log      *logging.Logger
}

// NewResolver creates a resolver over the given registry and store.
func NewResolver(registry *Registry, store *Store, log *logging.Logger) *Resolver {
	if log == nil {
		log = logging.NewNop()
	}
	return &Resolver{registry: registry, store: store, log: log}
}

// Registry exposes the underlying alias table.
func (r *Resolver) Registry() *Registry { return r.registry }

// Resolve loads sources for the requested aliases, in request order.
// Unknown aliases are dropped with a warning. A load failure for any known
// alias aborts the whole resolution: all-or-nothing.
func (r *Resolver) Resolve(ctx context.Context, aliases []string) ([]Bundle, error) {
	bundles := make([]Bundle, 0, len(aliases))
	for _, alias := range aliases {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		entry, ok := r.registry.Lookup(alias)
		if !ok {
			r.log.Warn("unknown dependency alias dropped",
				zap.String("alias", alias),
			)
			continue
		}

		source, err := r.store.Load(entry.File)
		if err != nil {
			return nil, fmt.Errorf("%w: alias %s: %v", ErrBundleLoad, entry.Alias, err)
		}
		bundles = append(bundles, Bundle{Alias: entry.Alias, Source: source})
	}
	return bundles, nil
}
