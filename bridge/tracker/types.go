package tracker

import (
	"context"
	"errors"
	"time"

	"github.com/Cogwheel-Validator/spectra-bridge/bridge/registry"
)

var (
	// ErrNoSignal means a collaborator has nothing to report this cycle. It is never
	// surfaced to callers of Poll.
	ErrNoSignal = errors.New("no signal")
	// ErrUnknownHandle is returned for handles that were never issued or were stopped.
	ErrUnknownHandle = errors.New("unknown tracking handle")
	// ErrInvalidRequest is returned by StartTracking for a malformed hash or chain.
	ErrInvalidRequest = errors.New("invalid tracking request")
)

// Status is the reduced state of a tracked transaction.
type Status string

const (
	StatusPending         Status = "pending"
	StatusSourceConfirmed Status = "source_confirmed"
	StatusBridging        Status = "bridging"
	StatusComplete        Status = "complete"
	StatusFailed          Status = "failed"
)

// rank orders statuses by precedence. Higher wins.
func (s Status) rank() int {
	switch s {
	case StatusSourceConfirmed:
		return 1
	case StatusBridging:
		return 2
	case StatusComplete:
		return 3
	case StatusFailed:
		return 4
	}
	return 0
}

// Terminal reports whether tracking has finished.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// Progress is the fixed percentage breakpoint of the status. Failed has none; the
// tracker freezes the last value instead.
func (s Status) Progress() int {
	switch s {
	case StatusSourceConfirmed:
		return 33
	case StatusBridging:
		return 66
	case StatusComplete:
		return 100
	}
	return 0
}

// Confirmation is a chain's view of one transaction.
type Confirmation struct {
	Confirmed bool
	Reverted  bool
	// BlockCount is the number of blocks on top of and including the tx block.
	BlockCount uint64
	Required   uint64
}

// BridgePhase is the relayer's view of a transfer.
type BridgePhase string

const (
	BridgeInitiated BridgePhase = "initiated"
	BridgeCompleted BridgePhase = "completed"
	BridgeFailed    BridgePhase = "failed"
)

// BridgeStatus is what a relayer reports for a source transaction.
type BridgeStatus struct {
	Phase             BridgePhase
	DestinationTxHash string
	Reason            string
}

// ConfirmationSource reports confirmations of a transaction on one chain.
type ConfirmationSource interface {
	GetConfirmation(ctx context.Context, txHash string, chain registry.ChainInfo) (Confirmation, error)
}

// BridgeStatusSource reports the relayer phase of a cross-chain transfer.
type BridgeStatusSource interface {
	GetBridgeStatus(ctx context.Context, txHash string, from, to registry.ChainInfo) (BridgeStatus, error)
}

// Handle identifies one tracked transaction.
type Handle struct {
	ID string
}

// TrackedTransaction is a snapshot of one tracked transaction. Snapshots are values;
// a later Poll never changes one already returned.
type TrackedTransaction struct {
	ID                string
	TxHash            string
	FromChain         string
	ToChain           string
	DestinationTxHash string

	Status        Status
	Progress      int
	Message       string
	FailureReason string

	SourceConfirmations   uint64
	RequiredConfirmations uint64

	// ETA is the expected time left, zero once terminal or overdue.
	ETA time.Duration

	SourceExplorerURL      string
	DestinationExplorerURL string

	CreatedAt time.Time
	UpdatedAt time.Time
	Polls     int
}

// Handle returns the handle of the snapshot's transaction.
func (tx TrackedTransaction) Handle() Handle {
	return Handle{ID: tx.ID}
}

// CrossChain reports whether the transaction moves funds to another chain.
func (tx TrackedTransaction) CrossChain() bool {
	return tx.ToChain != "" && tx.ToChain != tx.FromChain
}
