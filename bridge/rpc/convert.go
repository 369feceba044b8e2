package rpc

import (
	"context"
	"errors"

	"connectrpc.com/connect"
	"github.com/Cogwheel-Validator/spectra-bridge/bridge/models"
	"github.com/Cogwheel-Validator/spectra-bridge/bridge/quoter"
	"github.com/Cogwheel-Validator/spectra-bridge/bridge/registry"
	"github.com/Cogwheel-Validator/spectra-bridge/bridge/tracker"
)

// CONVERT FUNCTIONS
// These convert between engine types and wire models

func convertQuote(q *quoter.Quote) *models.QuoteResponse {
	return &models.QuoteResponse{
		ID:                  q.ID,
		FromChain:           q.FromChain,
		ToChain:             q.ToChain,
		Token:               q.Token,
		ToToken:             q.ToToken,
		InputAmount:         q.InputAmount,
		OutputAmount:        q.OutputAmount,
		MinOutputAmount:     q.MinOutputAmount,
		FeeAmount:           q.FeeAmount,
		ExchangeRate:        q.ExchangeRate,
		GasCostUSD:          q.GasCostUSD,
		BridgeFeePercent:    q.BridgeFeePercent,
		SlippagePercent:     q.SlippagePercent,
		TotalFeePercent:     q.TotalFeePercent,
		EstimatedMinutes:    q.EstimatedMinutes,
		Route:               string(q.Route),
		Steps:               convertSteps(q.Steps),
		Confidence:          q.Confidence,
		StalePrices:         q.StalePrices,
		SourcePriceUSD:      q.SourcePriceUSD,
		DestinationPriceUSD: q.DestinationPriceUSD,
		InputValueUSD:       q.InputValueUSD,
		CreatedAt:           q.CreatedAt,
		ExpiresAt:           q.ExpiresAt,
	}
}

func convertFeeEstimate(e quoter.FeeEstimate) *models.FeeEstimateResponse {
	return &models.FeeEstimateResponse{
		Route:            string(e.Route),
		GasCostUSD:       e.GasCostUSD,
		BridgeFeePercent: e.BridgeFeePercent,
		SlippagePercent:  e.SlippagePercent,
		TotalFeePercent:  e.TotalFeePercent,
		EstimatedMinutes: e.EstimatedMinutes,
		Steps:            convertSteps(e.Steps),
	}
}

func convertSteps(steps []quoter.RouteStep) []models.RouteStep {
	out := make([]models.RouteStep, len(steps))
	for i, step := range steps {
		out[i] = models.RouteStep{
			Kind:             string(step.Kind),
			FromChain:        step.FromChain,
			ToChain:          step.ToChain,
			FromToken:        step.FromToken,
			ToToken:          step.ToToken,
			EstimatedMinutes: step.EstimatedMinutes,
		}
	}
	return out
}

func convertTracking(tx tracker.TrackedTransaction) *models.TrackingStatus {
	return &models.TrackingStatus{
		Handle:                 tx.ID,
		TxHash:                 tx.TxHash,
		FromChain:              tx.FromChain,
		ToChain:                tx.ToChain,
		DestinationTxHash:      tx.DestinationTxHash,
		Status:                 string(tx.Status),
		Progress:               tx.Progress,
		Message:                tx.Message,
		FailureReason:          tx.FailureReason,
		Terminal:               tx.Status.Terminal(),
		SourceConfirmations:    tx.SourceConfirmations,
		RequiredConfirmations:  tx.RequiredConfirmations,
		ETASeconds:             int64(tx.ETA.Seconds()),
		SourceExplorerURL:      tx.SourceExplorerURL,
		DestinationExplorerURL: tx.DestinationExplorerURL,
		CreatedAt:              tx.CreatedAt,
		UpdatedAt:              tx.UpdatedAt,
		Polls:                  tx.Polls,
	}
}

func convertChain(chain registry.ChainInfo) models.Chain {
	return models.Chain{
		Key:                   chain.Key,
		ID:                    chain.ID,
		Name:                  chain.Name,
		NativeSymbol:          chain.NativeSymbol,
		Network:               string(chain.Network),
		ExplorerURL:           chain.ExplorerURL,
		RequiredConfirmations: chain.RequiredConfirmations,
		BridgeGasUSD:          chain.BridgeGasUSD,
		SwapGasUSD:            chain.SwapGasUSD,
	}
}

// toConnectError maps domain errors onto connect codes.
func toConnectError(err error) error {
	var code connect.Code
	switch {
	case errors.Is(err, quoter.ErrInvalidRequest), errors.Is(err, tracker.ErrInvalidRequest):
		code = connect.CodeInvalidArgument
	case errors.Is(err, quoter.ErrPriceUnavailable):
		code = connect.CodeUnavailable
	case errors.Is(err, quoter.ErrUnsupportedRoute):
		code = connect.CodeFailedPrecondition
	case errors.Is(err, tracker.ErrUnknownHandle), errors.Is(err, registry.ErrNotFound):
		code = connect.CodeNotFound
	case errors.Is(err, context.DeadlineExceeded):
		code = connect.CodeDeadlineExceeded
	case errors.Is(err, context.Canceled):
		code = connect.CodeCanceled
	default:
		Logger.Error().Err(err).Msg("Unexpected service error")
		code = connect.CodeInternal
	}
	return connect.NewError(code, err)
}
