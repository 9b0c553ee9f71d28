package port

import (
	"context"

	"papertrade/internal/domain"
)

// PriceFeed is a push transport: a persistent subscription delivering
// normalized ticks until the context is cancelled or the stream dies.
type PriceFeed interface {
	Name() string
	Subscribe(ctx context.Context, symbol string) (<-chan domain.Tick, error)
}
