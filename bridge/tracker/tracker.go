package tracker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/Cogwheel-Validator/spectra-bridge/bridge/registry"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var log zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log = zerolog.New(out).With().Timestamp().Str("component", "tracker").Logger()
}

// SetLogger allows setting a custom logger
func SetLogger(l zerolog.Logger) {
	log = l.With().Str("component", "tracker").Logger()
}

var tracer = otel.Tracer("github.com/Cogwheel-Validator/spectra-bridge/bridge/tracker")

// Config controls polling behaviour.
type Config struct {
	// CollaboratorTimeout bounds each collaborator query within a poll.
	CollaboratorTimeout time.Duration
	// Retention is how long finished or idle transactions stay readable before
	// StartTracking prunes them.
	Retention time.Duration
	// ExpectedDuration gives the expected end-to-end time of a transfer. toChain is
	// empty for same-chain transactions, the token symbols are empty when unknown.
	ExpectedDuration func(fromChain, toChain, token, toToken string) time.Duration
}

// DefaultConfig uses a 5 second collaborator timeout and a one hour retention.
func DefaultConfig() Config {
	return Config{
		CollaboratorTimeout: 5 * time.Second,
		Retention:           time.Hour,
		ExpectedDuration: func(fromChain, toChain, token, toToken string) time.Duration {
			switch {
			case toChain == "":
				return time.Minute
			case toToken == "" || strings.EqualFold(toToken, token):
				return 10 * time.Minute
			default:
				return 11 * time.Minute
			}
		},
	}
}

// TrackOptions are optional inputs to StartTracking.
type TrackOptions struct {
	// ExpectedDuration overrides the configured estimate, e.g. with a quote's.
	ExpectedDuration time.Duration
	// DestinationTxHash is set when the caller already knows the destination tx.
	DestinationTxHash string
	// Token and ToToken pick the route for the configured estimate. Leaving
	// ToToken empty means the same token arrives.
	Token   string
	ToToken string
}

type entry struct {
	mu       sync.Mutex
	tx       TrackedTransaction
	from     registry.ChainInfo
	to       registry.ChainInfo
	expected time.Duration
}

// Tracker reduces collaborator signals about submitted transactions into one status
// per transaction. It never polls on its own; callers drive Poll, directly or via
// Watch.
type Tracker struct {
	registry    *registry.Registry
	source      ConfirmationSource
	destination ConfirmationSource
	bridge      BridgeStatusSource
	config      Config
	now         func() time.Time

	mu      sync.RWMutex
	entries map[string]*entry
}

/*
New creates a tracker.

Parameters:
  - reg: chain registry used to validate chains and build explorer links
  - source: confirmations on the source chain
  - destination: confirmations on the destination chain, may be the same as source
  - bridge: relayer status, may be nil when only same-chain transactions are tracked
  - config: timeouts and ETA estimates
*/
func New(
	reg *registry.Registry,
	source ConfirmationSource,
	destination ConfirmationSource,
	bridge BridgeStatusSource,
	config Config,
) *Tracker {
	defaults := DefaultConfig()
	if config.CollaboratorTimeout <= 0 {
		config.CollaboratorTimeout = defaults.CollaboratorTimeout
	}
	if config.Retention <= 0 {
		config.Retention = defaults.Retention
	}
	if config.ExpectedDuration == nil {
		config.ExpectedDuration = defaults.ExpectedDuration
	}
	return &Tracker{
		registry:    reg,
		source:      source,
		destination: destination,
		bridge:      bridge,
		config:      config,
		now:         time.Now,
		entries:     make(map[string]*entry),
	}
}

// WithClock replaces the tracker clock. Meant for tests.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// StartTracking registers a submitted transaction. toChain may be empty for a
// same-chain transaction.
func (t *Tracker) StartTracking(txHash, fromChain, toChain string, opts TrackOptions) (Handle, error) {
	hash, err := normalizeHash(txHash)
	if err != nil {
		return Handle{}, fmt.Errorf("%w: tx_hash: %w", ErrInvalidRequest, err)
	}
	from, err := t.registry.ResolveChain(fromChain)
	if err != nil {
		return Handle{}, fmt.Errorf("%w: from_chain: %w", ErrInvalidRequest, err)
	}

	to := from
	crossChain := false
	if toChain != "" {
		to, err = t.registry.ResolveChain(toChain)
		if err != nil {
			return Handle{}, fmt.Errorf("%w: to_chain: %w", ErrInvalidRequest, err)
		}
		crossChain = to.Key != from.Key
	}
	if crossChain && t.bridge == nil {
		return Handle{}, fmt.Errorf("%w: no bridge status source for cross-chain tracking", ErrInvalidRequest)
	}

	destHash := ""
	if opts.DestinationTxHash != "" {
		destHash, err = normalizeHash(opts.DestinationTxHash)
		if err != nil {
			return Handle{}, fmt.Errorf("%w: destination_tx_hash: %w", ErrInvalidRequest, err)
		}
	}

	toKey := ""
	if crossChain {
		toKey = to.Key
	}
	expected := opts.ExpectedDuration
	if expected <= 0 {
		expected = t.config.ExpectedDuration(from.Key, toKey, opts.Token, opts.ToToken)
	}

	now := t.now()
	tx := TrackedTransaction{
		ID:                    uuid.NewString(),
		TxHash:                hash,
		FromChain:             from.Key,
		ToChain:               toKey,
		DestinationTxHash:     destHash,
		Status:                StatusPending,
		RequiredConfirmations: from.RequiredConfirmations,
		ETA:                   expected,
		SourceExplorerURL:     from.TxURL(hash),
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if crossChain {
		tx.DestinationExplorerURL = to.TxURL(destHash)
	}
	tx.Message = phaseMessage(tx, from, to)

	t.mu.Lock()
	t.pruneLocked(now)
	t.entries[tx.ID] = &entry{tx: tx, from: from, to: to, expected: expected}
	t.mu.Unlock()

	log.Info().
		Str("id", tx.ID).
		Str("tx_hash", hash).
		Str("from", from.Key).
		Str("to", toKey).
		Msg("Tracking started")
	return tx.Handle(), nil
}

// StopTracking forgets a transaction. Stopping an unknown handle is a no-op.
func (t *Tracker) StopTracking(h Handle) {
	t.mu.Lock()
	_, ok := t.entries[h.ID]
	delete(t.entries, h.ID)
	t.mu.Unlock()
	if ok {
		log.Debug().Str("id", h.ID).Msg("Tracking stopped")
	}
}

// Snapshot returns the latest state without querying collaborators.
func (t *Tracker) Snapshot(h Handle) (TrackedTransaction, error) {
	e, err := t.lookup(h)
	if err != nil {
		return TrackedTransaction{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tx, nil
}

// Active returns the number of transactions currently tracked.
func (t *Tracker) Active() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

/*
Poll runs one round of collaborator queries and returns the updated snapshot.

Collaborators are queried concurrently, each under its own timeout. A collaborator
that errors or times out contributes no signal this round; Poll itself only fails
for unknown handles. Once the transaction is terminal, Poll returns the final
snapshot without querying anything.
*/
func (t *Tracker) Poll(ctx context.Context, h Handle) (TrackedTransaction, error) {
	e, err := t.lookup(h)
	if err != nil {
		return TrackedTransaction{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tx.Status.Terminal() {
		return e.tx, nil
	}

	ctx, span := tracer.Start(ctx, "tracker.Poll",
		trace.WithAttributes(attribute.String("tx_hash", e.tx.TxHash)),
	)
	defer span.End()

	sig := t.collect(ctx, e)
	candidate, reason := reduce(sig, e.tx.CrossChain())

	prev := e.tx
	next := advance(prev, candidate, reason)
	now := t.now()
	next.Polls++
	next.UpdatedAt = now
	if sig.source != nil {
		next.SourceConfirmations = sig.source.BlockCount
		if sig.source.Required > 0 {
			next.RequiredConfirmations = sig.source.Required
		}
	}
	if sig.bridge != nil && sig.bridge.DestinationTxHash != "" && next.CrossChain() {
		if hash, err := normalizeHash(sig.bridge.DestinationTxHash); err == nil {
			next.DestinationTxHash = hash
			next.DestinationExplorerURL = e.to.TxURL(hash)
		}
	}
	if next.Status.Terminal() {
		next.ETA = 0
	} else {
		next.ETA = remaining(e.expected, next.CreatedAt, now)
	}
	next.Message = phaseMessage(next, e.from, e.to)
	e.tx = next

	span.SetAttributes(
		attribute.String("tracking_id", next.ID),
		attribute.String("status", string(next.Status)),
		attribute.Int("progress", next.Progress),
	)
	pollsTotal.WithLabelValues(string(next.Status)).Inc()

	if next.Status != prev.Status {
		event := log.Info()
		if next.Status == StatusFailed {
			event = log.Warn().Str("reason", next.FailureReason)
		}
		event.
			Str("id", next.ID).
			Str("from_status", string(prev.Status)).
			Str("to_status", string(next.Status)).
			Int("progress", next.Progress).
			Msg("Status changed")
	}
	return next, nil
}

// collect queries every relevant collaborator in parallel and waits for all of
// them. Errors are absorbed here.
func (t *Tracker) collect(ctx context.Context, e *entry) signals {
	var sig signals
	var g errgroup.Group
	tx := e.tx

	g.Go(func() error {
		conf, err := t.querySource(ctx, "source", t.source, tx.TxHash, e.from)
		if err == nil {
			sig.source = &conf
		}
		return nil
	})

	if tx.CrossChain() {
		if t.destination != nil {
			destHash := tx.DestinationTxHash
			if destHash == "" {
				destHash = tx.TxHash
			}
			g.Go(func() error {
				conf, err := t.querySource(ctx, "destination", t.destination, destHash, e.to)
				if err == nil {
					sig.destination = &conf
				}
				return nil
			})
		}
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(ctx, t.config.CollaboratorTimeout)
			defer cancel()
			status, err := t.bridge.GetBridgeStatus(callCtx, tx.TxHash, e.from, e.to)
			if err != nil {
				t.noSignal("bridge", tx.ID, err)
				return nil
			}
			sig.bridge = &status
			return nil
		})
	}

	_ = g.Wait()
	return sig
}

func (t *Tracker) querySource(
	ctx context.Context,
	name string,
	src ConfirmationSource,
	txHash string,
	chain registry.ChainInfo,
) (Confirmation, error) {
	callCtx, cancel := context.WithTimeout(ctx, t.config.CollaboratorTimeout)
	defer cancel()
	conf, err := src.GetConfirmation(callCtx, txHash, chain)
	if err != nil {
		t.noSignal(name, txHash, err)
		return Confirmation{}, err
	}
	return conf, nil
}

func (t *Tracker) noSignal(collaborator, ref string, err error) {
	if errors.Is(err, ErrNoSignal) {
		return
	}
	collaboratorErrorsTotal.WithLabelValues(collaborator).Inc()
	log.Debug().Err(err).
		Str("collaborator", collaborator).
		Str("ref", ref).
		Msg("Collaborator gave no signal")
}

func (t *Tracker) lookup(h Handle) (*entry, error) {
	t.mu.RLock()
	e, ok := t.entries[h.ID]
	t.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownHandle, h.ID)
	}
	return e, nil
}

// pruneLocked drops entries not updated within the retention window.
func (t *Tracker) pruneLocked(now time.Time) {
	for id, e := range t.entries {
		if !e.mu.TryLock() {
			continue
		}
		idle := now.Sub(e.tx.UpdatedAt)
		e.mu.Unlock()
		if idle > t.config.Retention {
			delete(t.entries, id)
		}
	}
}

func normalizeHash(txHash string) (string, error) {
	txHash = strings.TrimSpace(txHash)
	raw, err := hexutil.Decode(txHash)
	if err != nil {
		return "", err
	}
	if len(raw) != common.HashLength {
		return "", fmt.Errorf("expected %d bytes, got %d", common.HashLength, len(raw))
	}
	return common.BytesToHash(raw).Hex(), nil
}
