package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"grit-backend/internal/access"
	"grit-backend/internal/config"
	"grit-backend/internal/repository"
)

var testAccessCfg = config.AccessConfig{
	ResonanceThreshold: 1_000,
	MarketStakeDays:    7,
}

type attributeFixture struct {
	svc *AttributeService
	now time.Time
}

func newAttributeFixture(t *testing.T) *attributeFixture {
	t.Helper()
	f := &attributeFixture{now: time.Unix(1_800_000_000, 0)}
	f.svc = NewAttributeService(testAccessCfg, &fakeScarRepo{}, &fakeStakeRepo{}, newFakeAttributeRepo())
	f.svc.SetClock(func() time.Time { return f.now })
	return f
}

func TestRecordScar(t *testing.T) {
	f := newAttributeFixture(t)
	ctx := context.Background()

	scar, err := f.svc.RecordScar(ctx, "alice", 5_000)
	require.NoError(t, err)
	require.Equal(t, f.now.Unix(), scar.Timestamp)

	attrs, err := f.svc.Attributes(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, 1, attrs.ScarCount)

	_, err = f.svc.RecordScar(ctx, "alice", 0)
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestOpenStakeOncePerActor(t *testing.T) {
	f := newAttributeFixture(t)
	ctx := context.Background()

	position, err := f.svc.OpenStake(ctx, "alice", 10_000)
	require.NoError(t, err)
	require.Equal(t, f.now.Unix(), position.StartTime)

	_, err = f.svc.OpenStake(ctx, "alice", 20_000)
	require.ErrorIs(t, err, repository.ErrActiveStakeExists)

	// after withdrawal a fresh position may open, with a fresh clock
	_, err = f.svc.WithdrawStake(ctx, "alice")
	require.NoError(t, err)

	f.now = f.now.Add(48 * time.Hour)
	reopened, err := f.svc.OpenStake(ctx, "alice", 20_000)
	require.NoError(t, err)
	require.Equal(t, f.now.Unix(), reopened.StartTime, "heritage clock restarts from zero")
}

func TestWithdrawStakeWithoutPosition(t *testing.T) {
	f := newAttributeFixture(t)

	_, err := f.svc.WithdrawStake(context.Background(), "nobody")
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestAttributesDerivation(t *testing.T) {
	f := newAttributeFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.AddResonance(ctx, "alice", 600))
	require.NoError(t, f.svc.AddResonance(ctx, "alice", 500))
	_, err := f.svc.RecordScar(ctx, "alice", 1_000)
	require.NoError(t, err)
	_, err = f.svc.OpenStake(ctx, "alice", 42_000)
	require.NoError(t, err)

	attrs, err := f.svc.Attributes(ctx, "alice")
	require.NoError(t, err)
	require.EqualValues(t, 1_100, attrs.Resonance)
	require.Equal(t, 1, attrs.ScarCount)
	require.EqualValues(t, 42_000, attrs.StakedAmount)
	require.Equal(t, f.now.Unix(), attrs.StakeStartTime)
}

func TestCheckAccessThroughService(t *testing.T) {
	f := newAttributeFixture(t)
	ctx := context.Background()

	// fresh actor: only the sovereign domain is open
	result, err := f.svc.CheckAccess(ctx, "alice", access.DomainSovereign)
	require.NoError(t, err)
	require.True(t, result.Unlocked)

	result, err = f.svc.CheckAccess(ctx, "alice", access.DomainAscesis)
	require.NoError(t, err)
	require.False(t, result.Unlocked)

	require.NoError(t, f.svc.AddResonance(ctx, "alice", 1_000))
	result, err = f.svc.CheckAccess(ctx, "alice", access.DomainAscesis)
	require.NoError(t, err)
	require.True(t, result.Unlocked)

	// market unlocks only after the stake matures
	_, err = f.svc.OpenStake(ctx, "alice", 100)
	require.NoError(t, err)
	result, err = f.svc.CheckAccess(ctx, "alice", access.DomainMarket)
	require.NoError(t, err)
	require.False(t, result.Unlocked)

	f.now = f.now.Add(7 * 24 * time.Hour)
	result, err = f.svc.CheckAccess(ctx, "alice", access.DomainMarket)
	require.NoError(t, err)
	require.True(t, result.Unlocked)
}
