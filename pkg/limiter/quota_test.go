package limiter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQuota_Validate(t *testing.T) {
	require.NoError(t, Quota{}.Validate())
	require.NoError(t, Quota{Rate: IntQuota(10), Interval: time.Second}.Validate())
	require.ErrorIs(t, Quota{Rate: IntQuota(10)}.Validate(), ErrRateRequiresInterval)
}

func TestQuota_IsZero(t *testing.T) {
	require.True(t, Quota{}.IsZero())
	require.True(t, Quota{MaxDelay: time.Second}.IsZero())
	require.False(t, Quota{Rate: IntQuota(1), Interval: time.Second}.IsZero())
	require.False(t, Quota{Concurrency: IntQuota(1)}.IsZero())
}

func TestQuota_WithGroupSizeFloors(t *testing.T) {
	q := Quota{Rate: IntQuota(10), Interval: time.Second, Concurrency: IntQuota(7)}

	share := q.withGroupSize(3)
	require.Equal(t, 3, *share.Rate)
	require.Equal(t, 2, *share.Concurrency)
	require.Equal(t, time.Second, share.Interval)

	// Floor division never lets shares sum past the configured budget.
	require.LessOrEqual(t, *share.Rate*3, *q.Rate)
	require.LessOrEqual(t, *share.Concurrency*3, *q.Concurrency)
}

func TestQuota_WithGroupSizeCanFloorToZero(t *testing.T) {
	q := Quota{Rate: IntQuota(2), Interval: time.Second}
	share := q.withGroupSize(5)
	require.Equal(t, 0, *share.Rate)
}

func TestQuota_WithGroupSizeLeavesUnboundedAlone(t *testing.T) {
	q := Quota{MaxDelay: time.Second}
	share := q.withGroupSize(4)
	require.Nil(t, share.Rate)
	require.Nil(t, share.Concurrency)
}

func TestQuota_BlockedShare(t *testing.T) {
	q := Quota{Rate: IntQuota(10), Interval: time.Second, Concurrency: IntQuota(5)}
	blocked := q.blockedShare()
	require.Equal(t, 0, *blocked.Rate)
	require.Equal(t, 0, *blocked.Concurrency)

	unbounded := Quota{MaxDelay: time.Second}
	require.True(t, unbounded.blockedShare().IsZero())
}
