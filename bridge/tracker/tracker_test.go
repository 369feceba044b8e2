package tracker_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Cogwheel-Validator/spectra-bridge/bridge/failover"
	"github.com/Cogwheel-Validator/spectra-bridge/bridge/registry"
	"github.com/Cogwheel-Validator/spectra-bridge/bridge/tracker"
	"github.com/zeebo/assert"
)

const (
	srcHash  = "0x8c5be1e5ebec7d5bd14f71427d1e84f3dd0314c0f7b2291e5b200ac8c7c3b925"
	destHash = "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"
)

type fakeConfirmations struct {
	mu    sync.Mutex
	conf  *tracker.Confirmation
	err   error
	block bool
	calls int
}

func (f *fakeConfirmations) set(conf *tracker.Confirmation, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conf, f.err = conf, err
}

func (f *fakeConfirmations) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeConfirmations) GetConfirmation(
	ctx context.Context,
	txHash string,
	chain registry.ChainInfo,
) (tracker.Confirmation, error) {
	f.mu.Lock()
	f.calls++
	conf, err, block := f.conf, f.err, f.block
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return tracker.Confirmation{}, ctx.Err()
	}
	if err != nil {
		return tracker.Confirmation{}, err
	}
	if conf == nil {
		return tracker.Confirmation{}, tracker.ErrNoSignal
	}
	return *conf, nil
}

type fakeBridge struct {
	mu     sync.Mutex
	status *tracker.BridgeStatus
	block  bool
	calls  int
}

func (f *fakeBridge) set(status *tracker.BridgeStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = status
}

func (f *fakeBridge) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeBridge) GetBridgeStatus(
	ctx context.Context,
	txHash string,
	from, to registry.ChainInfo,
) (tracker.BridgeStatus, error) {
	f.mu.Lock()
	f.calls++
	status, block := f.status, f.block
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return tracker.BridgeStatus{}, ctx.Err()
	}
	if status == nil {
		return tracker.BridgeStatus{}, tracker.ErrNoSignal
	}
	return *status, nil
}

type fixture struct {
	tracker     *tracker.Tracker
	source      *fakeConfirmations
	destination *fakeConfirmations
	bridge      *fakeBridge
	now         time.Time
	mu          sync.Mutex
}

func (f *fixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fixture) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newFixture(t *testing.T, config tracker.Config) *fixture {
	t.Helper()
	reg, err := registry.Default()
	if err != nil {
		t.Fatalf("failed to load registry: %v", err)
	}
	f := &fixture{
		source:      &fakeConfirmations{},
		destination: &fakeConfirmations{},
		bridge:      &fakeBridge{},
		now:         time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	f.tracker = tracker.New(reg, f.source, f.destination, f.bridge, config).WithClock(f.clock)
	return f
}

func startCrossChain(t *testing.T, f *fixture) tracker.Handle {
	t.Helper()
	h, err := f.tracker.StartTracking(srcHash, "sepolia", "polygon-amoy", tracker.TrackOptions{})
	assert.NoError(t, err)
	return h
}

func poll(t *testing.T, f *fixture, h tracker.Handle) tracker.TrackedTransaction {
	t.Helper()
	tx, err := f.tracker.Poll(context.Background(), h)
	assert.NoError(t, err)
	return tx
}

func TestStartTrackingInitialSnapshot(t *testing.T) {
	f := newFixture(t, tracker.DefaultConfig())
	h := startCrossChain(t, f)

	tx, err := f.tracker.Snapshot(h)
	assert.NoError(t, err)
	assert.Equal(t, tx.Status, tracker.StatusPending)
	assert.Equal(t, tx.Progress, 0)
	assert.Equal(t, tx.FromChain, "sepolia")
	assert.Equal(t, tx.ToChain, "polygon-amoy")
	assert.Equal(t, tx.RequiredConfirmations, uint64(6))
	assert.Equal(t, tx.SourceExplorerURL, "https://sepolia.etherscan.io/tx/"+srcHash)
	assert.Equal(t, tx.DestinationExplorerURL, "")
	assert.Equal(t, tx.Message, "Waiting for confirmation on Ethereum Sepolia...")
	assert.Equal(t, tx.ETA, 10*time.Minute)
	assert.True(t, tx.CrossChain())
	assert.Equal(t, f.tracker.Active(), 1)
}

func TestStartTrackingRejectsBadInput(t *testing.T) {
	f := newFixture(t, tracker.DefaultConfig())
	cases := []struct {
		name     string
		hash     string
		from, to string
	}{
		{"no prefix", strings.TrimPrefix(srcHash, "0x"), "sepolia", "polygon-amoy"},
		{"short hash", "0x1234", "sepolia", "polygon-amoy"},
		{"not hex", "0xzz5be1e5ebec7d5bd14f71427d1e84f3dd0314c0f7b2291e5b200ac8c7c3b925", "sepolia", ""},
		{"unknown source", srcHash, "solana", "polygon-amoy"},
		{"unknown destination", srcHash, "sepolia", "solana"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.tracker.StartTracking(tc.hash, tc.from, tc.to, tracker.TrackOptions{})
			assert.Error(t, err)
			assert.True(t, errors.Is(err, tracker.ErrInvalidRequest))
		})
	}
	assert.Equal(t, f.tracker.Active(), 0)
}

func TestStartTrackingNormalizesHash(t *testing.T) {
	f := newFixture(t, tracker.DefaultConfig())
	h, err := f.tracker.StartTracking(" 0x"+strings.ToUpper(srcHash[2:])+" ", "sepolia", "", tracker.TrackOptions{})
	assert.NoError(t, err)
	tx, err := f.tracker.Snapshot(h)
	assert.NoError(t, err)
	assert.Equal(t, tx.TxHash, srcHash)
}

func TestPollSuccessSequence(t *testing.T) {
	f := newFixture(t, tracker.DefaultConfig())
	h := startCrossChain(t, f)

	var seen []tracker.TrackedTransaction
	seen = append(seen, poll(t, f, h))

	f.source.set(&tracker.Confirmation{Confirmed: true, BlockCount: 6, Required: 6}, nil)
	seen = append(seen, poll(t, f, h))

	f.bridge.set(&tracker.BridgeStatus{Phase: tracker.BridgeInitiated})
	seen = append(seen, poll(t, f, h))

	f.bridge.set(&tracker.BridgeStatus{Phase: tracker.BridgeCompleted, DestinationTxHash: destHash})
	seen = append(seen, poll(t, f, h))

	wantStatus := []tracker.Status{
		tracker.StatusPending,
		tracker.StatusSourceConfirmed,
		tracker.StatusBridging,
		tracker.StatusComplete,
	}
	wantProgress := []int{0, 33, 66, 100}
	for i, tx := range seen {
		assert.Equal(t, tx.Status, wantStatus[i])
		assert.Equal(t, tx.Progress, wantProgress[i])
		assert.Equal(t, tx.Polls, i+1)
		if i < len(seen)-1 && tx.Progress == 100 {
			t.Fatalf("poll %d reported 100%% before completion", i+1)
		}
	}

	last := seen[3]
	assert.Equal(t, last.Message, "Transfer complete on Polygon Amoy")
	assert.Equal(t, last.DestinationTxHash, destHash)
	assert.Equal(t, last.DestinationExplorerURL, "https://amoy.polygonscan.com/tx/"+destHash)
	assert.Equal(t, last.ETA, time.Duration(0))
	assert.Equal(t, seen[1].Message, "Confirmed on Ethereum Sepolia, waiting for the bridge relayer...")
	assert.Equal(t, seen[2].Message, "Bridging to Polygon Amoy...")
}

func TestPollConfirmingMessage(t *testing.T) {
	f := newFixture(t, tracker.DefaultConfig())
	h := startCrossChain(t, f)

	f.source.set(&tracker.Confirmation{BlockCount: 3, Required: 6}, nil)
	tx := poll(t, f, h)
	assert.Equal(t, tx.Status, tracker.StatusPending)
	assert.Equal(t, tx.SourceConfirmations, uint64(3))
	assert.Equal(t, tx.Message, "Confirming on Ethereum Sepolia (3/6 blocks)...")
}

func TestPollFailureTakesPrecedence(t *testing.T) {
	f := newFixture(t, tracker.DefaultConfig())
	h := startCrossChain(t, f)

	f.source.set(&tracker.Confirmation{Reverted: true, Confirmed: true, BlockCount: 6, Required: 6}, nil)
	f.bridge.set(&tracker.BridgeStatus{Phase: tracker.BridgeCompleted})

	tx := poll(t, f, h)
	assert.Equal(t, tx.Status, tracker.StatusFailed)
	assert.Equal(t, tx.Progress, 0)
	assert.Equal(t, tx.FailureReason, "transaction reverted on the source chain")
	assert.Equal(t, tx.Message, "Transaction failed: transaction reverted on the source chain")
}

func TestPollFailureFreezesProgress(t *testing.T) {
	f := newFixture(t, tracker.DefaultConfig())
	h := startCrossChain(t, f)

	f.source.set(&tracker.Confirmation{Confirmed: true, BlockCount: 6, Required: 6}, nil)
	f.bridge.set(&tracker.BridgeStatus{Phase: tracker.BridgeInitiated})
	tx := poll(t, f, h)
	assert.Equal(t, tx.Progress, 66)

	f.bridge.set(&tracker.BridgeStatus{Phase: tracker.BridgeFailed, Reason: "refunded"})
	tx = poll(t, f, h)
	assert.Equal(t, tx.Status, tracker.StatusFailed)
	assert.Equal(t, tx.Progress, 66)
	assert.Equal(t, tx.FailureReason, "refunded")
}

func TestPollTerminalIsIdempotent(t *testing.T) {
	f := newFixture(t, tracker.DefaultConfig())
	h := startCrossChain(t, f)

	f.bridge.set(&tracker.BridgeStatus{Phase: tracker.BridgeCompleted})
	first := poll(t, f, h)
	assert.Equal(t, first.Status, tracker.StatusComplete)
	calls := f.bridge.callCount()

	// A later revert signal must not reopen a finished transfer.
	f.source.set(&tracker.Confirmation{Reverted: true}, nil)
	f.advance(time.Minute)
	second := poll(t, f, h)
	assert.Equal(t, second, first)
	assert.Equal(t, f.bridge.callCount(), calls)
}

func TestPollNeverRegresses(t *testing.T) {
	f := newFixture(t, tracker.DefaultConfig())
	h := startCrossChain(t, f)

	f.source.set(&tracker.Confirmation{Confirmed: true, BlockCount: 6, Required: 6}, nil)
	f.bridge.set(&tracker.BridgeStatus{Phase: tracker.BridgeInitiated})
	tx := poll(t, f, h)
	assert.Equal(t, tx.Status, tracker.StatusBridging)

	// Relayer goes quiet and the source node lags behind.
	f.bridge.set(nil)
	f.source.set(nil, errors.New("node behind"))
	tx = poll(t, f, h)
	assert.Equal(t, tx.Status, tracker.StatusBridging)
	assert.Equal(t, tx.Progress, 66)

	f.source.set(&tracker.Confirmation{BlockCount: 2, Required: 6}, nil)
	tx = poll(t, f, h)
	assert.Equal(t, tx.Status, tracker.StatusBridging)
	assert.Equal(t, tx.Progress, 66)
}

func TestPollDestinationConfirmationCompletes(t *testing.T) {
	f := newFixture(t, tracker.DefaultConfig())
	h, err := f.tracker.StartTracking(srcHash, "sepolia", "polygon-amoy", tracker.TrackOptions{DestinationTxHash: destHash})
	assert.NoError(t, err)

	f.destination.set(&tracker.Confirmation{Confirmed: true, BlockCount: 6, Required: 6}, nil)
	tx := poll(t, f, h)
	assert.Equal(t, tx.Status, tracker.StatusComplete)
	assert.Equal(t, tx.DestinationExplorerURL, "https://amoy.polygonscan.com/tx/"+destHash)
}

func TestPollTimeoutIsNoSignal(t *testing.T) {
	f := newFixture(t, tracker.Config{CollaboratorTimeout: 20 * time.Millisecond})
	h := startCrossChain(t, f)

	f.bridge.block = true
	f.destination.block = true
	f.source.set(&tracker.Confirmation{Confirmed: true, BlockCount: 6, Required: 6}, nil)

	start := time.Now()
	tx := poll(t, f, h)
	assert.True(t, time.Since(start) < 2*time.Second)
	assert.Equal(t, tx.Status, tracker.StatusSourceConfirmed)
	assert.Equal(t, tx.Progress, 33)
}

func TestPollAllCollaboratorsDown(t *testing.T) {
	f := newFixture(t, tracker.DefaultConfig())
	h := startCrossChain(t, f)

	f.source.set(nil, errors.New("connection refused"))
	f.destination.set(nil, errors.New("connection refused"))
	tx := poll(t, f, h)
	assert.Equal(t, tx.Status, tracker.StatusPending)
	assert.Equal(t, tx.Polls, 1)
}

func TestPollETA(t *testing.T) {
	f := newFixture(t, tracker.DefaultConfig())
	h, err := f.tracker.StartTracking(srcHash, "sepolia", "polygon-amoy", tracker.TrackOptions{ExpectedDuration: 8 * time.Minute})
	assert.NoError(t, err)

	f.advance(3 * time.Minute)
	tx := poll(t, f, h)
	assert.Equal(t, tx.ETA, 5*time.Minute)

	f.advance(30 * time.Minute)
	tx = poll(t, f, h)
	assert.Equal(t, tx.ETA, time.Duration(0))
	assert.Equal(t, tx.Status, tracker.StatusPending)
}

func TestPollETAFollowsRoute(t *testing.T) {
	cases := []struct {
		opts tracker.TrackOptions
		eta  time.Duration
	}{
		{tracker.TrackOptions{}, 10 * time.Minute},
		{tracker.TrackOptions{Token: "USDC", ToToken: "USDC"}, 10 * time.Minute},
		{tracker.TrackOptions{Token: "USDC", ToToken: "ETH"}, 11 * time.Minute},
	}

	for _, tc := range cases {
		f := newFixture(t, tracker.DefaultConfig())
		h, err := f.tracker.StartTracking(srcHash, "sepolia", "polygon-amoy", tc.opts)
		assert.NoError(t, err)

		tx := poll(t, f, h)
		if tx.ETA != tc.eta {
			t.Fatalf("%s->%s: expected eta %v, got %v", tc.opts.Token, tc.opts.ToToken, tc.eta, tx.ETA)
		}
	}
}

func TestSameChainTracking(t *testing.T) {
	f := newFixture(t, tracker.DefaultConfig())
	h, err := f.tracker.StartTracking(srcHash, "sepolia", "sepolia", tracker.TrackOptions{})
	assert.NoError(t, err)

	tx := poll(t, f, h)
	assert.False(t, tx.CrossChain())
	assert.Equal(t, tx.Status, tracker.StatusPending)
	assert.Equal(t, tx.ETA, time.Minute)

	f.source.set(&tracker.Confirmation{Confirmed: true, BlockCount: 6, Required: 6}, nil)
	tx = poll(t, f, h)
	assert.Equal(t, tx.Status, tracker.StatusComplete)
	assert.Equal(t, tx.Progress, 100)
	assert.Equal(t, tx.Message, "Transaction confirmed on Ethereum Sepolia")
	assert.Equal(t, f.bridge.callCount(), 0)
	assert.Equal(t, f.destination.callCount(), 0)
}

func TestUnknownAndStoppedHandles(t *testing.T) {
	f := newFixture(t, tracker.DefaultConfig())

	_, err := f.tracker.Poll(context.Background(), tracker.Handle{ID: "missing"})
	assert.True(t, errors.Is(err, tracker.ErrUnknownHandle))

	h := startCrossChain(t, f)
	f.tracker.StopTracking(h)
	f.tracker.StopTracking(h)
	assert.Equal(t, f.tracker.Active(), 0)

	_, err = f.tracker.Poll(context.Background(), h)
	assert.True(t, errors.Is(err, tracker.ErrUnknownHandle))
	_, err = f.tracker.Snapshot(h)
	assert.True(t, errors.Is(err, tracker.ErrUnknownHandle))
}

func TestStartTrackingPrunesIdleEntries(t *testing.T) {
	f := newFixture(t, tracker.Config{Retention: 10 * time.Minute})
	old := startCrossChain(t, f)

	f.advance(11 * time.Minute)
	fresh := startCrossChain(t, f)

	_, err := f.tracker.Snapshot(old)
	assert.True(t, errors.Is(err, tracker.ErrUnknownHandle))
	_, err = f.tracker.Snapshot(fresh)
	assert.NoError(t, err)
}

func TestWatchStopsAtTerminal(t *testing.T) {
	f := newFixture(t, tracker.DefaultConfig())
	h := startCrossChain(t, f)

	var updates []tracker.Status
	f.source.set(&tracker.Confirmation{Confirmed: true, BlockCount: 6, Required: 6}, nil)
	tx, err := tracker.Watch(context.Background(), f.tracker, h, time.Millisecond, func(tx tracker.TrackedTransaction) {
		updates = append(updates, tx.Status)
		if tx.Polls == 2 {
			f.bridge.set(&tracker.BridgeStatus{Phase: tracker.BridgeCompleted})
		}
	})
	assert.NoError(t, err)
	assert.Equal(t, tx.Status, tracker.StatusComplete)
	assert.Equal(t, len(updates), 3)
	assert.Equal(t, updates[0], tracker.StatusSourceConfirmed)
}

func TestWatchHonoursContext(t *testing.T) {
	f := newFixture(t, tracker.DefaultConfig())
	h := startCrossChain(t, f)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	tx, err := tracker.Watch(ctx, f.tracker, h, 5*time.Millisecond, nil)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, tx.Status, tracker.StatusPending)
	assert.True(t, tx.Polls >= 1)
}

func TestFallbackConfirmations(t *testing.T) {
	chain := registry.ChainInfo{Key: "sepolia"}
	broken := &fakeConfirmations{err: errors.New("rpc down")}
	healthy := &fakeConfirmations{conf: &tracker.Confirmation{Confirmed: true, BlockCount: 7, Required: 6}}

	fb := tracker.NewFallbackConfirmations(
		failover.Provider[tracker.ConfirmationSource]{Name: "broken", Client: broken},
		failover.Provider[tracker.ConfirmationSource]{Name: "healthy", Client: healthy},
	)
	conf, err := fb.GetConfirmation(context.Background(), srcHash, chain)
	assert.NoError(t, err)
	assert.Equal(t, conf.BlockCount, uint64(7))

	// the first source is asked again as soon as it recovers, even though the
	// second one answered last time
	broken.set(&tracker.Confirmation{Confirmed: true, BlockCount: 9, Required: 6}, nil)
	healthy.set(nil, nil)
	conf, err = fb.GetConfirmation(context.Background(), srcHash, chain)
	assert.NoError(t, err)
	assert.True(t, conf.Confirmed)
	assert.Equal(t, conf.BlockCount, uint64(9))
	assert.Equal(t, broken.callCount(), 2)
	assert.Equal(t, healthy.callCount(), 1)

	// NoSignal from the answering source is not worth asking the next one about.
	broken.set(nil, nil)
	healthy.set(&tracker.Confirmation{Confirmed: true}, nil)
	_, err = fb.GetConfirmation(context.Background(), srcHash, chain)
	assert.True(t, errors.Is(err, tracker.ErrNoSignal))
	assert.Equal(t, broken.callCount(), 3)
	assert.Equal(t, healthy.callCount(), 1)
}
