// Package parser orchestrates the two-phase run: a header-only scan that
// reconstructs the canonical chain, then a full-data pass that decodes blocks
// and delivers them to the callback in height order.
package parser

//go:generate mockgen -source=$GOFILE -destination=mocks_test.go -package=$GOPACKAGE

import (
	"context"
	"time"

	"github.com/goodnatureofminers/blockparser7000-backend/internal/model"
)

// Callback consumes canonical blocks in strict ascending height order. All
// methods are invoked from the dispatching goroutine only and receive the
// run context.
type Callback interface {
	OnStart(ctx context.Context, height uint64) error
	OnBlock(ctx context.Context, b *model.Block) error
	OnComplete(ctx context.Context, height uint64) error
}

// Metrics records phase outcomes and durations.
type Metrics interface {
	ObserveHeaderScan(err error, files, headers int, started time.Time)
	ObserveDecode(err error, started time.Time)
	ObserveDispatch(err error, started time.Time)
	ObserveRun(err error, mode string, started time.Time)
}
