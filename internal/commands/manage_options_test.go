package commands

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orbit/internal/events"
	"orbit/internal/store/model"
)

func (h *testHarness) seedSpread(t *testing.T, pos model.OptionPosition, open bool, entryAt time.Time) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.store.Options().Create(ctx, &pos))
	if open {
		require.NoError(t, h.store.Options().MarkOpen(ctx, pos.ID, pos.NetCredit, entryAt.Unix()))
	}
}

func TestOptionsComboFillOpensAtRecordedCredit(t *testing.T) {
	h := newHarness(t)
	h.seedSpread(t, model.OptionPosition{
		ID: 500, Symbol: "NVDA", Strategy: "BULL_PUT", Contracts: 2,
		NetCredit: 1.50, Expiration: "20261016",
	}, false, time.Time{})
	// The combo fill reports a per-leg artifact price; the recorded net
	// credit stays authoritative.
	h.broker.fills[500] = fillAt(500, 2, 97.30, testNow)

	cmd := NewManageOptionPositions(h.deps)
	require.NoError(t, cmd.Execute(events.Event{Kind: events.KindManagePositions}))

	got, err := h.store.Options().GetByID(context.Background(), 500)
	require.NoError(t, err)
	assert.Equal(t, model.StatusOpen, got.Status)
	assert.Equal(t, 1.50, got.NetCredit)
	assert.True(t, h.notifier.containsSubstring("SPREAD OPENED NVDA"))
}

func TestOptionsCreditSpreadRoundTrip(t *testing.T) {
	h := newHarness(t)
	h.seedSpread(t, model.OptionPosition{
		ID: 500, Symbol: "NVDA", Strategy: "BULL_PUT", Contracts: 1,
		NetCredit: 1.50, Expiration: "20261016",
	}, true, testNow.Add(-24*time.Hour))
	ctx := context.Background()
	require.NoError(t, h.store.Options().SetClosingOrder(ctx, 500, 510))
	h.broker.fills[510] = fillAt(510, 1, 0.50, testNow)

	cmd := NewManageOptionPositions(h.deps)
	require.NoError(t, cmd.Execute(events.Event{}))

	got, err := h.store.Options().GetByID(ctx, 500)
	require.NoError(t, err)
	assert.Equal(t, model.StatusClosed, got.Status)
	assert.Equal(t, model.ExitManual, got.ExitReason)
	assert.InDelta(t, 100.0, got.RealizedPnL, 1e-9, "(1.50 - 0.50) x 100 x 1")
}

func TestOptionsDebitSpreadRoundTrip(t *testing.T) {
	h := newHarness(t)
	h.seedSpread(t, model.OptionPosition{
		ID: 600, Symbol: "AMD", Strategy: "BULL_CALL", Contracts: 2,
		NetCredit: -2.00, Expiration: "20261016",
	}, true, testNow.Add(-24*time.Hour))
	ctx := context.Background()
	require.NoError(t, h.store.Options().SetClosingOrder(ctx, 600, 610))
	h.broker.fills[610] = fillAt(610, 2, 3.00, testNow)

	cmd := NewManageOptionPositions(h.deps)
	require.NoError(t, cmd.Execute(events.Event{}))

	got, err := h.store.Options().GetByID(ctx, 600)
	require.NoError(t, err)
	assert.InDelta(t, 200.0, got.RealizedPnL, 1e-9, "(3.00 - 2.00) x 100 x 2")
}

func TestOptionsOpenSpreadWithoutClosingOrderIsLeftAlone(t *testing.T) {
	h := newHarness(t)
	h.seedSpread(t, model.OptionPosition{
		ID: 500, Symbol: "NVDA", Contracts: 1,
		NetCredit: 1.50, Expiration: "20991231",
	}, true, testNow.Add(-24*time.Hour))

	cmd := NewManageOptionPositions(h.deps)
	require.NoError(t, cmd.Execute(events.Event{}))

	got, err := h.store.Options().GetByID(context.Background(), 500)
	require.NoError(t, err)
	assert.Equal(t, model.StatusOpen, got.Status)
}

func TestOptionsExpireWorthlessCreditKeepsPremium(t *testing.T) {
	h := newHarness(t)
	h.seedSpread(t, model.OptionPosition{
		ID: 500, Symbol: "NVDA", Contracts: 2,
		NetCredit: 1.50, Expiration: "20260821", // past testNow (2026-08-26)
	}, true, testNow.Add(-30*24*time.Hour))

	cmd := NewManageOptionPositions(h.deps)
	require.NoError(t, cmd.Execute(events.Event{}))

	got, err := h.store.Options().GetByID(context.Background(), 500)
	require.NoError(t, err)
	assert.Equal(t, model.StatusClosed, got.Status)
	assert.Equal(t, model.ExitExpiredWorthless, got.ExitReason)
	assert.InDelta(t, 300.0, got.RealizedPnL, 1e-9, "1.50 x 100 x 2 kept")
}

func TestOptionsExpireWorthlessDebitLosesPremium(t *testing.T) {
	h := newHarness(t)
	h.seedSpread(t, model.OptionPosition{
		ID: 600, Symbol: "AMD", Contracts: 1,
		NetCredit: -2.00, Expiration: "20260821",
	}, true, testNow.Add(-30*24*time.Hour))

	cmd := NewManageOptionPositions(h.deps)
	require.NoError(t, cmd.Execute(events.Event{}))

	got, err := h.store.Options().GetByID(context.Background(), 600)
	require.NoError(t, err)
	assert.InDelta(t, -200.0, got.RealizedPnL, 1e-9)
}

func TestOptionsExpirationDayItselfIsNotWorthlessYet(t *testing.T) {
	h := newHarness(t)
	h.seedSpread(t, model.OptionPosition{
		ID: 500, Symbol: "NVDA", Contracts: 1,
		NetCredit: 1.50, Expiration: "20260826", // expires today
	}, true, testNow.Add(-24*time.Hour))

	cmd := NewManageOptionPositions(h.deps)
	require.NoError(t, cmd.Execute(events.Event{}))

	got, err := h.store.Options().GetByID(context.Background(), 500)
	require.NoError(t, err)
	assert.Equal(t, model.StatusOpen, got.Status, "settlement completes after the expiration day")
}

func TestOptionsSpreadWithClosingOrderNeverExpires(t *testing.T) {
	h := newHarness(t)
	h.seedSpread(t, model.OptionPosition{
		ID: 500, Symbol: "NVDA", Contracts: 1,
		NetCredit: 1.50, Expiration: "20260821",
	}, true, testNow.Add(-30*24*time.Hour))
	ctx := context.Background()
	require.NoError(t, h.store.Options().SetClosingOrder(ctx, 500, 510))
	// Closing order not filled yet.

	cmd := NewManageOptionPositions(h.deps)
	require.NoError(t, cmd.Execute(events.Event{}))

	got, err := h.store.Options().GetByID(ctx, 500)
	require.NoError(t, err)
	assert.Equal(t, model.StatusOpen, got.Status, "the closing fill must realize this spread")
}

func TestOptionsInvalidExpirationIsReported(t *testing.T) {
	h := newHarness(t)
	h.seedSpread(t, model.OptionPosition{
		ID: 500, Symbol: "NVDA", Contracts: 1,
		NetCredit: 1.50, Expiration: "not-a-date",
	}, true, testNow.Add(-24*time.Hour))

	cmd := NewManageOptionPositions(h.deps)
	err := cmd.Execute(events.Event{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid expiration")
}
