package headless

import (
	"context"
	"errors"

	"github.com/JakeFAU/asset-warmup/internal/warmup"
)

// ErrDisabled is returned by Noop.
var ErrDisabled = errors.New("headless rendering disabled")

// Noop stands in for the renderer when pages.headless_enabled is off.
type Noop struct{}

// NewNoop creates a Noop fetcher.
func NewNoop() *Noop {
	return &Noop{}
}

// Fetch always fails with ErrDisabled.
func (Noop) Fetch(context.Context, warmup.FetchRequest) (warmup.FetchResponse, error) {
	return warmup.FetchResponse{}, ErrDisabled
}
