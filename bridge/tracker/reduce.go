package tracker

import (
	"fmt"
	"time"

	"github.com/Cogwheel-Validator/spectra-bridge/bridge/registry"
)

// signals are the answers collected in one poll cycle. A nil field means the
// collaborator withheld its signal.
type signals struct {
	source      *Confirmation
	destination *Confirmation
	bridge      *BridgeStatus
}

// reduce folds one cycle's signals into a status with the fixed precedence
// Failed > Complete > Bridging > SourceConfirmed > Pending.
func reduce(sig signals, crossChain bool) (Status, string) {
	switch {
	case sig.source != nil && sig.source.Reverted:
		return StatusFailed, "transaction reverted on the source chain"
	case sig.destination != nil && sig.destination.Reverted:
		return StatusFailed, "transaction reverted on the destination chain"
	case sig.bridge != nil && sig.bridge.Phase == BridgeFailed:
		reason := sig.bridge.Reason
		if reason == "" {
			reason = "bridge relayer reported a failure"
		}
		return StatusFailed, reason
	}

	sourceConfirmed := sig.source != nil && sig.source.Confirmed
	if !crossChain {
		if sourceConfirmed {
			return StatusComplete, ""
		}
		return StatusPending, ""
	}

	switch {
	case sig.bridge != nil && sig.bridge.Phase == BridgeCompleted:
		return StatusComplete, ""
	case sig.destination != nil && sig.destination.Confirmed:
		return StatusComplete, ""
	case sig.bridge != nil && sig.bridge.Phase == BridgeInitiated:
		return StatusBridging, ""
	case sourceConfirmed:
		return StatusSourceConfirmed, ""
	}
	return StatusPending, ""
}

// advance applies a cycle's result to the previous snapshot. Status never moves
// down the precedence order and progress never decreases; a failure freezes the
// progress reached so far.
func advance(prev TrackedTransaction, candidate Status, reason string) TrackedTransaction {
	next := prev
	if prev.Status.Terminal() {
		return next
	}
	if candidate.rank() > prev.Status.rank() {
		next.Status = candidate
	}
	if next.Status == StatusFailed {
		next.FailureReason = reason
		return next
	}
	if p := next.Status.Progress(); p > next.Progress {
		next.Progress = p
	}
	return next
}

func phaseMessage(tx TrackedTransaction, from registry.ChainInfo, to registry.ChainInfo) string {
	switch tx.Status {
	case StatusPending:
		if tx.SourceConfirmations > 0 && tx.RequiredConfirmations > 0 {
			return fmt.Sprintf("Confirming on %s (%d/%d blocks)...", from.Name, tx.SourceConfirmations, tx.RequiredConfirmations)
		}
		return fmt.Sprintf("Waiting for confirmation on %s...", from.Name)
	case StatusSourceConfirmed:
		return fmt.Sprintf("Confirmed on %s, waiting for the bridge relayer...", from.Name)
	case StatusBridging:
		return fmt.Sprintf("Bridging to %s...", to.Name)
	case StatusComplete:
		if tx.CrossChain() {
			return fmt.Sprintf("Transfer complete on %s", to.Name)
		}
		return fmt.Sprintf("Transaction confirmed on %s", from.Name)
	case StatusFailed:
		return "Transaction failed: " + tx.FailureReason
	}
	return ""
}

// remaining is expected minus elapsed, floored at zero.
func remaining(expected time.Duration, created, now time.Time) time.Duration {
	left := expected - now.Sub(created)
	if left < 0 {
		return 0
	}
	return left
}
