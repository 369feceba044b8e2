package rpc

import (
	"context"
	"fmt"
	"strings"
	"time"

	"connectrpc.com/connect"
	"github.com/Cogwheel-Validator/spectra-bridge/bridge/models"
	"github.com/Cogwheel-Validator/spectra-bridge/bridge/quoter"
	"github.com/Cogwheel-Validator/spectra-bridge/bridge/registry"
	"github.com/Cogwheel-Validator/spectra-bridge/bridge/tracker"
	"github.com/shopspring/decimal"
)

// BridgeServer implements BridgeServiceHandler on top of the quote engine and the
// transaction tracker.
type BridgeServer struct {
	registry *registry.Registry
	engine   *quoter.Engine
	tracker  *tracker.Tracker
}

// Verify that BridgeServer implements the interface
var _ BridgeServiceHandler = (*BridgeServer)(nil)

// NewBridgeServer creates a new BridgeServer
func NewBridgeServer(reg *registry.Registry, engine *quoter.Engine, t *tracker.Tracker) *BridgeServer {
	return &BridgeServer{
		registry: reg,
		engine:   engine,
		tracker:  t,
	}
}

// Tracker returns the tracker behind the service, shared with the status stream.
func (s *BridgeServer) Tracker() *tracker.Tracker {
	return s.tracker
}

// ComputeQuote prices a transfer.
//
// Returns:
// - InvalidArgument: malformed amount, unknown chain or token, mixed networks
// - Unavailable: no live or cached price for a token
// - FailedPrecondition: the pair has no route
func (s *BridgeServer) ComputeQuote(
	ctx context.Context,
	req *connect.Request[models.QuoteRequest],
) (*connect.Response[models.QuoteResponse], error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(req.Msg.Amount))
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument,
			fmt.Errorf("amount %q is not a decimal number", req.Msg.Amount))
	}

	quote, err := s.engine.ComputeQuote(ctx, quoter.TransferRequest{
		FromChain: req.Msg.FromChain,
		ToChain:   req.Msg.ToChain,
		Token:     req.Msg.Token,
		ToToken:   req.Msg.ToToken,
		Amount:    amount,
	})
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(convertQuote(quote)), nil
}

// EstimateFees returns route and fee figures without pricing the transfer.
func (s *BridgeServer) EstimateFees(
	ctx context.Context,
	req *connect.Request[models.FeeEstimateRequest],
) (*connect.Response[models.FeeEstimateResponse], error) {
	estimate, err := s.engine.EstimateFees(req.Msg.FromChain, req.Msg.ToChain, req.Msg.Token, req.Msg.ToToken)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(convertFeeEstimate(estimate)), nil
}

// StartTracking registers a submitted transaction and returns its first snapshot.
// The expected duration comes from the request when given, else from the fee
// schedule of the route the chains and tokens describe.
func (s *BridgeServer) StartTracking(
	ctx context.Context,
	req *connect.Request[models.StartTrackingRequest],
) (*connect.Response[models.TrackingStatus], error) {
	opts := tracker.TrackOptions{
		DestinationTxHash: req.Msg.DestinationTxHash,
		Token:             req.Msg.Token,
		ToToken:           req.Msg.ToToken,
	}
	if req.Msg.ExpectedSeconds > 0 {
		opts.ExpectedDuration = time.Duration(req.Msg.ExpectedSeconds) * time.Second
	}

	h, err := s.tracker.StartTracking(req.Msg.TxHash, req.Msg.FromChain, req.Msg.ToChain, opts)
	if err != nil {
		return nil, toConnectError(err)
	}
	tx, err := s.tracker.Snapshot(h)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(convertTracking(tx)), nil
}

// PollTracking runs one poll cycle. Collaborator failures never fail the call.
func (s *BridgeServer) PollTracking(
	ctx context.Context,
	req *connect.Request[models.TrackingHandle],
) (*connect.Response[models.TrackingStatus], error) {
	tx, err := s.tracker.Poll(ctx, tracker.Handle{ID: req.Msg.Handle})
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(convertTracking(tx)), nil
}

// StopTracking forgets a tracked transaction. Unknown handles are not an error.
func (s *BridgeServer) StopTracking(
	ctx context.Context,
	req *connect.Request[models.TrackingHandle],
) (*connect.Response[models.StopTrackingResponse], error) {
	s.tracker.StopTracking(tracker.Handle{ID: req.Msg.Handle})
	return connect.NewResponse(&models.StopTrackingResponse{}), nil
}

// ListChains lists the supported chains, optionally of one network.
func (s *BridgeServer) ListChains(
	ctx context.Context,
	req *connect.Request[models.ListChainsRequest],
) (*connect.Response[models.ListChainsResponse], error) {
	network := registry.Network(strings.ToLower(strings.TrimSpace(req.Msg.Network)))
	if network != "" && network != registry.Mainnet && network != registry.Testnet {
		return nil, connect.NewError(connect.CodeInvalidArgument,
			fmt.Errorf("network must be %q or %q", registry.Mainnet, registry.Testnet))
	}

	chains := s.registry.Chains(network)
	out := make([]models.Chain, len(chains))
	for i, chain := range chains {
		out[i] = convertChain(chain)
	}
	return connect.NewResponse(&models.ListChainsResponse{Chains: out}), nil
}

// ListTokens lists the supported tokens.
func (s *BridgeServer) ListTokens(
	ctx context.Context,
	req *connect.Request[models.ListTokensRequest],
) (*connect.Response[models.ListTokensResponse], error) {
	tokens := s.registry.Tokens()
	out := make([]models.Token, len(tokens))
	for i, token := range tokens {
		out[i] = models.Token{
			Symbol:   token.Symbol,
			Name:     token.Name,
			Decimals: token.Decimals,
			Stable:   token.Stable,
		}
	}
	return connect.NewResponse(&models.ListTokensResponse{Tokens: out}), nil
}
