package pararun

import (
	"fmt"
	"reflect"

	"github.com/utkarsh5026/pararun/internal/cache"
	"github.com/utkarsh5026/pararun/internal/progress"
)

// checkHooks validates the type-erased hooks against the run's item and result
// types and returns typed wrappers for them.
func checkHooks[T, R any](cfg *config) (beforeItem func(T), onItemEnd func(T, R, error), err error) {
	itemType, resultType := reflect.TypeFor[T](), reflect.TypeFor[R]()

	if cfg.beforeItem != nil {
		if cfg.beforeItemType != itemType {
			return nil, nil, fmt.Errorf("%w: WithBeforeItem expects items of type %s, but the run processes %s",
				ErrHookType, cfg.beforeItemType, itemType)
		}
		beforeItem = func(item T) { cfg.beforeItem(item) }
	}

	if cfg.onItemEnd != nil {
		if cfg.onItemEndItemType != itemType {
			return nil, nil, fmt.Errorf("%w: WithOnItemEnd expects items of type %s, but the run processes %s",
				ErrHookType, cfg.onItemEndItemType, itemType)
		}
		if cfg.onItemEndResultType != resultType {
			return nil, nil, fmt.Errorf("%w: WithOnItemEnd expects results of type %s, but the run produces %s",
				ErrHookType, cfg.onItemEndResultType, resultType)
		}
		onItemEnd = func(item T, result R, err error) { cfg.onItemEnd(item, result, err) }
	}

	return beforeItem, onItemEnd, nil
}

// openCache returns the configured store and a func releasing what the run opened.
func (cfg *config) openCache() (cache.Cache, func() error, error) {
	nop := func() error { return nil }
	opts := cache.Options{
		KeyField:       cfg.keyField,
		FlushThreshold: cfg.flushThreshold,
		Logger:         cfg.logger,
		Metrics:        cfg.metrics,
	}

	switch {
	case cfg.cache != nil:
		return cfg.cache, nop, nil
	case cfg.cachePath != "":
		c, err := cache.OpenJSONL(cfg.cachePath, opts)
		if err != nil {
			return nil, nil, err
		}
		return c, c.Close, nil
	case cfg.pebbleDir != "":
		c, err := cache.OpenPebble(cfg.pebbleDir, opts)
		if err != nil {
			return nil, nil, err
		}
		return c, c.Close, nil
	default:
		return cache.Nop{}, nop, nil
	}
}

func (cfg *config) newObserver() progress.Observer {
	switch {
	case cfg.observer != nil:
		return cfg.observer
	case cfg.barWriter != nil:
		return progress.NewBar(cfg.barWriter, cfg.barDescription, cfg.total)
	default:
		return progress.Noop{}
	}
}
