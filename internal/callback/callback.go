// Package callback defines the per-block consumer contract and the registry of
// built-in callbacks selectable by name.
package callback

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/goodnatureofminers/blockparser7000-backend/internal/model"
)

// ErrInvalidArguments reports an unknown callback name or arguments that do
// not match what the callback expects.
var ErrInvalidArguments = errors.New("invalid callback arguments")

// Callback consumes canonical blocks in strict height order. Configure runs
// before anything else; OnStart and OnComplete bracket the delivery stream.
// All methods are invoked from a single goroutine and receive the run
// context, so a cancelled run propagates into slow sinks.
type Callback interface {
	Configure(args []string) error
	OnStart(ctx context.Context, height uint64) error
	OnBlock(ctx context.Context, b *model.Block) error
	OnComplete(ctx context.Context, height uint64) error
}

type registration struct {
	description string
	build       func(logger *zap.Logger) Callback
}

var registry = map[string]registration{
	"simplestats": {
		description: "aggregate counters over the processed range, printed on completion",
		build: func(logger *zap.Logger) Callback {
			return NewSimpleStats(logger)
		},
	},
	"csvdump": {
		description: "dump blocks, transactions, inputs and outputs as CSV files (args: <output-dir>)",
		build: func(logger *zap.Logger) Callback {
			return NewCSVDump(logger)
		},
	},
	"clickhousedump": {
		description: "batch-insert block and transaction rows into ClickHouse (args: <dsn>)",
		build: func(logger *zap.Logger) Callback {
			return NewClickHouseDump(logger)
		},
	},
}

// New builds the named callback, not yet configured.
func New(name string, logger *zap.Logger) (Callback, error) {
	reg, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown callback %q, known: %v: %w", name, Names(), ErrInvalidArguments)
	}
	return reg.build(logger), nil
}

// Names lists registered callback names in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe returns the one-line description of a registered callback.
func Describe(name string) string {
	return registry[name].description
}
