package coupon

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRankSplitsApplicableAndNotYet(t *testing.T) {
	now := time.Now()
	candidates := []Coupon{
		activePercentage("WELCOME10", 10, 0, 0),
		activeFixed("FIRST100", 10_000, 50_000),
	}

	ranked := Rank(candidates, 30_000, now)
	require.Len(t, ranked.Applicable, 1)
	assert.Equal(t, "WELCOME10", ranked.Applicable[0].Coupon.Code)
	require.Len(t, ranked.NotYet, 1)
	assert.Equal(t, "FIRST100", ranked.NotYet[0].Coupon.Code)
	assert.Equal(t, int64(20_000), ranked.NotYet[0].AmountShort, "hint carries the amount still needed")
}

func TestRankBestIsMaxDiscount(t *testing.T) {
	now := time.Now()
	candidates := []Coupon{
		activePercentage("WELCOME10", 10, 0, 0), // 6_000 on 60_000
		activeFixed("FIRST100", 10_000, 50_000), // 10_000
	}

	ranked := Rank(candidates, 60_000, now)
	require.NotNil(t, ranked.Best)
	assert.Equal(t, "FIRST100", ranked.Best.Coupon.Code)
	assert.Equal(t, int64(10_000), ranked.Best.PotentialDiscount)
}

func TestRankTieBrokenByFirstSeen(t *testing.T) {
	now := time.Now()
	candidates := []Coupon{
		activeFixed("ALPHA", 5_000, 0),
		activeFixed("BETA", 5_000, 0),
	}

	ranked := Rank(candidates, 60_000, now)
	require.NotNil(t, ranked.Best)
	assert.Equal(t, "ALPHA", ranked.Best.Coupon.Code)
}

func TestRankBestIsAlwaysApplicable(t *testing.T) {
	now := time.Now()
	expired := now.Add(-time.Hour)
	candidates := []Coupon{
		{Code: "OLD50", Kind: KindPercentage, Value: 50, Active: true, ValidUntil: &expired},
		activePercentage("WELCOME10", 10, 0, 0),
	}

	ranked := Rank(candidates, 60_000, now)
	require.NotNil(t, ranked.Best)
	found := false
	for _, suggestion := range ranked.Applicable {
		if suggestion.Coupon.Code == ranked.Best.Coupon.Code {
			found = true
		}
	}
	assert.True(t, found, "best must be a member of the applicable set")
}

func TestRankNoApplicableCandidates(t *testing.T) {
	now := time.Now()
	candidates := []Coupon{activeFixed("FIRST100", 10_000, 50_000)}

	ranked := Rank(candidates, 1_000, now)
	assert.Nil(t, ranked.Best)
	assert.Empty(t, ranked.Applicable)
	require.Len(t, ranked.NotYet, 1)
}
