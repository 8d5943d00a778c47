// internal/draft/order.go
package draft

import "github.com/mpetrov/scrimdraft/internal/models"

// StepType distinguishes ban steps from pick steps.
type StepType string

const (
	StepBan  StepType = "ban"
	StepPick StepType = "pick"
)

// SequenceStep is one position in the 20-step draft order. Slot is the
// per-team, per-type counter (bans 0-4, picks 0-4) and is what anchors the
// step to its home index in the persisted picks array.
type SequenceStep struct {
	Team models.Team `json:"team"`
	Type StepType    `json:"type"`
	Slot int         `json:"slot"`
}

// SequenceLength is the number of actions in a full draft. A sequence index
// of SequenceLength means the draft is complete.
const SequenceLength = 20

// canonicalOrder is the competitive draft sequence with blue holding first
// pick: 6 alternating bans, 6 picks (snake), 4 bans, 4 picks (snake).
var canonicalOrder = [SequenceLength]SequenceStep{
	// Ban phase 1
	{Team: models.TeamBlue, Type: StepBan, Slot: 0},
	{Team: models.TeamRed, Type: StepBan, Slot: 0},
	{Team: models.TeamBlue, Type: StepBan, Slot: 1},
	{Team: models.TeamRed, Type: StepBan, Slot: 1},
	{Team: models.TeamBlue, Type: StepBan, Slot: 2},
	{Team: models.TeamRed, Type: StepBan, Slot: 2},
	// Pick phase 1
	{Team: models.TeamBlue, Type: StepPick, Slot: 0},
	{Team: models.TeamRed, Type: StepPick, Slot: 0},
	{Team: models.TeamRed, Type: StepPick, Slot: 1},
	{Team: models.TeamBlue, Type: StepPick, Slot: 1},
	{Team: models.TeamBlue, Type: StepPick, Slot: 2},
	{Team: models.TeamRed, Type: StepPick, Slot: 2},
	// Ban phase 2
	{Team: models.TeamRed, Type: StepBan, Slot: 3},
	{Team: models.TeamBlue, Type: StepBan, Slot: 3},
	{Team: models.TeamRed, Type: StepBan, Slot: 4},
	{Team: models.TeamBlue, Type: StepBan, Slot: 4},
	// Pick phase 2
	{Team: models.TeamRed, Type: StepPick, Slot: 3},
	{Team: models.TeamBlue, Type: StepPick, Slot: 3},
	{Team: models.TeamBlue, Type: StepPick, Slot: 4},
	{Team: models.TeamRed, Type: StepPick, Slot: 4},
}

// EffectiveOrder returns the draft sequence for a series where firstPick
// holds the opening ban. Only team labels are flipped when red has first
// pick; type and slot never change, so the array mapping composes in both
// directions and the current step can always be rederived from persisted
// picks alone.
func EffectiveOrder(firstPick models.Team) [SequenceLength]SequenceStep {
	order := canonicalOrder
	if firstPick == models.TeamRed {
		for i := range order {
			order[i].Team = order[i].Team.Opponent()
		}
	}
	return order
}

// StepAt returns the effective step at sequence index i.
func StepAt(i int, firstPick models.Team) SequenceStep {
	return EffectiveOrder(firstPick)[i]
}

// ArrayIndexOf maps a sequence index (the n-th action taken) to its home
// slot in the persisted picks array: bans at team offsets 0/5, picks at
// 10/15, plus the step's slot number.
func ArrayIndexOf(sequenceIndex int, firstPick models.Team) int {
	step := EffectiveOrder(firstPick)[sequenceIndex]
	base := 0
	if step.Type == StepPick {
		base = 10
	}
	if step.Team == models.TeamRed {
		base += 5
	}
	return base + step.Slot
}

// SequenceIndexFromPicks recovers "whose turn is it" from persisted data:
// it walks the effective order and returns the index of the first step whose
// mapped array slot is empty, or SequenceLength if every slot is filled.
// The first gap wins even if later slots are already populated, which models
// resuming a draft exactly where picks stopped.
func SequenceIndexFromPicks(picks []string, firstPick models.Team) int {
	for i := 0; i < SequenceLength; i++ {
		idx := ArrayIndexOf(i, firstPick)
		if idx >= len(picks) || picks[idx] == "" {
			return i
		}
	}
	return SequenceLength
}

// ChampionInUse reports whether champion already occupies any slot of the
// picks array other than exceptIndex. Pass -1 to check every slot.
func ChampionInUse(picks []string, champion string, exceptIndex int) bool {
	for i, c := range picks {
		if i == exceptIndex {
			continue
		}
		if c != "" && c == champion {
			return true
		}
	}
	return false
}
