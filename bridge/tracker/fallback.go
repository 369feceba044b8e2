package tracker

import (
	"context"
	"errors"

	"github.com/Cogwheel-Validator/spectra-bridge/bridge/failover"
	"github.com/Cogwheel-Validator/spectra-bridge/bridge/registry"
)

// FallbackConfirmations asks each source in turn until one gives an answer. Every
// call starts with the first source; later ones are only asked when the earlier
// ones error. A source that reports ErrNoSignal is treated as authoritative and ends
// the rotation.
type FallbackConfirmations struct {
	list *failover.List[ConfirmationSource]
}

// NewFallbackConfirmations wraps the sources in preference order.
func NewFallbackConfirmations(sources ...failover.Provider[ConfirmationSource]) *FallbackConfirmations {
	return &FallbackConfirmations{list: failover.NewOrderedList(0, sources...)}
}

func (f *FallbackConfirmations) GetConfirmation(
	ctx context.Context,
	txHash string,
	chain registry.ChainInfo,
) (Confirmation, error) {
	return failover.Do(ctx, f.list, func(ctx context.Context, src ConfirmationSource) (Confirmation, error) {
		conf, err := src.GetConfirmation(ctx, txHash, chain)
		if errors.Is(err, ErrNoSignal) {
			return Confirmation{}, failover.Final(err)
		}
		return conf, err
	})
}
