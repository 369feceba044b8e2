package rpc

import (
	"context"
	"net/http"

	"connectrpc.com/connect"
	"github.com/Cogwheel-Validator/spectra-bridge/bridge/models"
)

// BridgeServiceName is the fully-qualified name of the bridge service.
const BridgeServiceName = "bridge.v1.BridgeService"

// Procedure paths of the bridge service.
const (
	ComputeQuoteProcedure  = "/" + BridgeServiceName + "/ComputeQuote"
	EstimateFeesProcedure  = "/" + BridgeServiceName + "/EstimateFees"
	StartTrackingProcedure = "/" + BridgeServiceName + "/StartTracking"
	PollTrackingProcedure  = "/" + BridgeServiceName + "/PollTracking"
	StopTrackingProcedure  = "/" + BridgeServiceName + "/StopTracking"
	ListChainsProcedure    = "/" + BridgeServiceName + "/ListChains"
	ListTokensProcedure    = "/" + BridgeServiceName + "/ListTokens"
)

// BridgeServiceHandler is the server side of the bridge service.
type BridgeServiceHandler interface {
	ComputeQuote(context.Context, *connect.Request[models.QuoteRequest]) (*connect.Response[models.QuoteResponse], error)
	EstimateFees(context.Context, *connect.Request[models.FeeEstimateRequest]) (*connect.Response[models.FeeEstimateResponse], error)
	StartTracking(context.Context, *connect.Request[models.StartTrackingRequest]) (*connect.Response[models.TrackingStatus], error)
	PollTracking(context.Context, *connect.Request[models.TrackingHandle]) (*connect.Response[models.TrackingStatus], error)
	StopTracking(context.Context, *connect.Request[models.TrackingHandle]) (*connect.Response[models.StopTrackingResponse], error)
	ListChains(context.Context, *connect.Request[models.ListChainsRequest]) (*connect.Response[models.ListChainsResponse], error)
	ListTokens(context.Context, *connect.Request[models.ListTokensRequest]) (*connect.Response[models.ListTokensResponse], error)
}

// NewBridgeServiceHandler builds an HTTP handler for every procedure of the service.
// It returns the path to mount the handler on.
func NewBridgeServiceHandler(svc BridgeServiceHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(jsonCodec{})}, opts...)
	readOnly := append([]connect.HandlerOption{connect.WithIdempotency(connect.IdempotencyNoSideEffects)}, opts...)

	handlers := map[string]http.Handler{
		ComputeQuoteProcedure:  connect.NewUnaryHandler(ComputeQuoteProcedure, svc.ComputeQuote, opts...),
		EstimateFeesProcedure:  connect.NewUnaryHandler(EstimateFeesProcedure, svc.EstimateFees, readOnly...),
		StartTrackingProcedure: connect.NewUnaryHandler(StartTrackingProcedure, svc.StartTracking, opts...),
		PollTrackingProcedure:  connect.NewUnaryHandler(PollTrackingProcedure, svc.PollTracking, opts...),
		StopTrackingProcedure:  connect.NewUnaryHandler(StopTrackingProcedure, svc.StopTracking, opts...),
		ListChainsProcedure:    connect.NewUnaryHandler(ListChainsProcedure, svc.ListChains, readOnly...),
		ListTokensProcedure:    connect.NewUnaryHandler(ListTokensProcedure, svc.ListTokens, readOnly...),
	}

	return "/" + BridgeServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler, ok := handlers[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		handler.ServeHTTP(w, r)
	})
}

// BridgeServiceClient calls the bridge service over Connect with the JSON codec.
type BridgeServiceClient struct {
	computeQuote  *connect.Client[models.QuoteRequest, models.QuoteResponse]
	estimateFees  *connect.Client[models.FeeEstimateRequest, models.FeeEstimateResponse]
	startTracking *connect.Client[models.StartTrackingRequest, models.TrackingStatus]
	pollTracking  *connect.Client[models.TrackingHandle, models.TrackingStatus]
	stopTracking  *connect.Client[models.TrackingHandle, models.StopTrackingResponse]
	listChains    *connect.Client[models.ListChainsRequest, models.ListChainsResponse]
	listTokens    *connect.Client[models.ListTokensRequest, models.ListTokensResponse]
}

// NewBridgeServiceClient creates a client for the server at baseURL, e.g.
// http://localhost:8080.
func NewBridgeServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *BridgeServiceClient {
	opts = append([]connect.ClientOption{connect.WithCodec(jsonCodec{})}, opts...)
	return &BridgeServiceClient{
		computeQuote:  connect.NewClient[models.QuoteRequest, models.QuoteResponse](httpClient, baseURL+ComputeQuoteProcedure, opts...),
		estimateFees:  connect.NewClient[models.FeeEstimateRequest, models.FeeEstimateResponse](httpClient, baseURL+EstimateFeesProcedure, opts...),
		startTracking: connect.NewClient[models.StartTrackingRequest, models.TrackingStatus](httpClient, baseURL+StartTrackingProcedure, opts...),
		pollTracking:  connect.NewClient[models.TrackingHandle, models.TrackingStatus](httpClient, baseURL+PollTrackingProcedure, opts...),
		stopTracking:  connect.NewClient[models.TrackingHandle, models.StopTrackingResponse](httpClient, baseURL+StopTrackingProcedure, opts...),
		listChains:    connect.NewClient[models.ListChainsRequest, models.ListChainsResponse](httpClient, baseURL+ListChainsProcedure, opts...),
		listTokens:    connect.NewClient[models.ListTokensRequest, models.ListTokensResponse](httpClient, baseURL+ListTokensProcedure, opts...),
	}
}

func (c *BridgeServiceClient) ComputeQuote(ctx context.Context, req *models.QuoteRequest) (*models.QuoteResponse, error) {
	resp, err := c.computeQuote.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

func (c *BridgeServiceClient) EstimateFees(ctx context.Context, req *models.FeeEstimateRequest) (*models.FeeEstimateResponse, error) {
	resp, err := c.estimateFees.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

func (c *BridgeServiceClient) StartTracking(ctx context.Context, req *models.StartTrackingRequest) (*models.TrackingStatus, error) {
	resp, err := c.startTracking.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

func (c *BridgeServiceClient) PollTracking(ctx context.Context, handle string) (*models.TrackingStatus, error) {
	resp, err := c.pollTracking.CallUnary(ctx, connect.NewRequest(&models.TrackingHandle{Handle: handle}))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

func (c *BridgeServiceClient) StopTracking(ctx context.Context, handle string) error {
	_, err := c.stopTracking.CallUnary(ctx, connect.NewRequest(&models.TrackingHandle{Handle: handle}))
	return err
}

func (c *BridgeServiceClient) ListChains(ctx context.Context, network string) ([]models.Chain, error) {
	resp, err := c.listChains.CallUnary(ctx, connect.NewRequest(&models.ListChainsRequest{Network: network}))
	if err != nil {
		return nil, err
	}
	return resp.Msg.Chains, nil
}

func (c *BridgeServiceClient) ListTokens(ctx context.Context) ([]models.Token, error) {
	resp, err := c.listTokens.CallUnary(ctx, connect.NewRequest(&models.ListTokensRequest{}))
	if err != nil {
		return nil, err
	}
	return resp.Msg.Tokens, nil
}
