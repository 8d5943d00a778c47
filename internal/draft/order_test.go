// internal/draft/order_test.go
package draft

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpetrov/scrimdraft/internal/models"
)

func TestEffectiveOrderStructure(t *testing.T) {
	for _, firstPick := range []models.Team{models.TeamBlue, models.TeamRed} {
		order := EffectiveOrder(firstPick)
		require.Len(t, order, SequenceLength)

		// 5 bans and 5 picks per team.
		counts := map[models.Team]map[StepType]int{
			models.TeamBlue: {},
			models.TeamRed:  {},
		}
		for _, step := range order {
			counts[step.Team][step.Type]++
		}
		assert.Equal(t, 5, counts[models.TeamBlue][StepBan])
		assert.Equal(t, 5, counts[models.TeamBlue][StepPick])
		assert.Equal(t, 5, counts[models.TeamRed][StepBan])
		assert.Equal(t, 5, counts[models.TeamRed][StepPick])

		// First action is a ban by the first-pick side.
		assert.Equal(t, firstPick, order[0].Team)
		assert.Equal(t, StepBan, order[0].Type)
		assert.Equal(t, 0, order[0].Slot)
	}
}

func TestSideSwapFlipsOnlyTeams(t *testing.T) {
	blue := EffectiveOrder(models.TeamBlue)
	red := EffectiveOrder(models.TeamRed)
	for i := range blue {
		assert.Equal(t, blue[i].Team.Opponent(), red[i].Team, "step %d team", i)
		assert.Equal(t, blue[i].Type, red[i].Type, "step %d type", i)
		assert.Equal(t, blue[i].Slot, red[i].Slot, "step %d slot", i)
	}
}

func TestArrayIndexOfBijection(t *testing.T) {
	for _, firstPick := range []models.Team{models.TeamBlue, models.TeamRed} {
		seen := map[int]int{}
		for i := 0; i < SequenceLength; i++ {
			idx := ArrayIndexOf(i, firstPick)
			require.GreaterOrEqual(t, idx, 0)
			require.Less(t, idx, models.PicksArraySize)
			if prev, dup := seen[idx]; dup {
				t.Fatalf("firstPick=%s: steps %d and %d both map to array slot %d", firstPick, prev, i, idx)
			}
			seen[idx] = i
		}
		assert.Len(t, seen, models.PicksArraySize, "every slot reachable")
	}
}

func TestSequenceIndexFromPicksRoundTrip(t *testing.T) {
	for _, firstPick := range []models.Team{models.TeamBlue, models.TeamRed} {
		picks := models.NewPicksArray()
		for i := 0; i < SequenceLength; i++ {
			require.Equal(t, i, SequenceIndexFromPicks(picks, firstPick))
			picks[ArrayIndexOf(i, firstPick)] = fmt.Sprintf("champ-%d", i)
		}
		assert.Equal(t, SequenceLength, SequenceIndexFromPicks(picks, firstPick))
	}
}

func TestSequenceIndexFirstGapWins(t *testing.T) {
	picks := models.NewPicksArray()
	// Fill steps 0-4 and step 6, leaving step 5 empty.
	for _, i := range []int{0, 1, 2, 3, 4, 6} {
		picks[ArrayIndexOf(i, models.TeamBlue)] = fmt.Sprintf("champ-%d", i)
	}
	assert.Equal(t, 5, SequenceIndexFromPicks(picks, models.TeamBlue))
}

func TestSequenceIndexShortArray(t *testing.T) {
	// A truncated persisted array reads as empty beyond its length.
	assert.Equal(t, 0, SequenceIndexFromPicks(nil, models.TeamBlue))
}

func TestArrayLayoutBases(t *testing.T) {
	// Blue first pick: the opening ban lands in the blue ban block, the
	// second in the red ban block.
	assert.Equal(t, 0, ArrayIndexOf(0, models.TeamBlue))
	assert.Equal(t, 5, ArrayIndexOf(1, models.TeamBlue))
	// First pick of the draft (sequence step 6) is blue pick slot 0.
	assert.Equal(t, 10, ArrayIndexOf(6, models.TeamBlue))
	assert.Equal(t, 15, ArrayIndexOf(7, models.TeamBlue))

	// Red first pick mirrors the blocks.
	assert.Equal(t, 5, ArrayIndexOf(0, models.TeamRed))
	assert.Equal(t, 0, ArrayIndexOf(1, models.TeamRed))
	assert.Equal(t, 15, ArrayIndexOf(6, models.TeamRed))
}

func TestChampionInUse(t *testing.T) {
	picks := models.NewPicksArray()
	picks[3] = "77"
	assert.True(t, ChampionInUse(picks, "77", -1))
	assert.False(t, ChampionInUse(picks, "77", 3), "own slot excluded")
	assert.False(t, ChampionInUse(picks, "42", -1))
}
