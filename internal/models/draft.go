// internal/models/draft.go
package models

import (
	"github.com/google/uuid"
)

// Team identifies a draft side. The side is a property of the draft, not of a
// named team: which named team sits on blue is tracked by Draft.BlueSideTeam.
type Team string

const (
	TeamBlue Team = "blue"
	TeamRed  Team = "red"
)

// Opponent returns the other side.
func (t Team) Opponent() Team {
	if t == TeamBlue {
		return TeamRed
	}
	return TeamBlue
}

// Valid reports whether t is one of the two known sides.
func (t Team) Valid() bool {
	return t == TeamBlue || t == TeamRed
}

// PicksArraySize is the fixed length of a draft's persisted picks array:
// indices 0-4 blue-side bans, 5-9 red-side bans, 10-14 blue-side picks,
// 15-19 red-side picks.
const PicksArraySize = 20

// Draft is a single game's persisted draft record within a versus series.
type Draft struct {
	ID          uuid.UUID `json:"id"`
	SeriesID    uuid.UUID `json:"seriesId"`
	SeriesIndex int       `json:"seriesIndex"`
	Picks       []string  `json:"picks"` // always PicksArraySize entries; "" means unfilled
	Completed   bool      `json:"completed"`
	Winner      *Team     `json:"winner,omitempty"`
	FirstPick   Team      `json:"firstPick"`
	// BlueSideTeam is 1 or 2: which named team currently occupies the blue side.
	BlueSideTeam int `json:"blueSideTeam"`
}

// NewPicksArray returns an empty, fully sized picks array.
func NewPicksArray() []string {
	return make([]string, PicksArraySize)
}

// Restriction types govern champion reuse across games of a series.
const (
	RestrictionStandard = "standard"
	RestrictionFearless = "fearless" // champions picked in prior games are unavailable
	RestrictionIronman  = "ironman"  // champions picked or banned in prior games are unavailable
)

// VersusSeries groups an ordered list of drafts played between two teams.
type VersusSeries struct {
	ID          uuid.UUID `json:"id"`
	ShareToken  string    `json:"shareToken"`
	Length      int       `json:"length"` // 1, 3, 5 or 7
	Competitive bool      `json:"competitive"`
	Team1Name   string    `json:"team1Name"`
	Team2Name   string    `json:"team2Name"`
	Restriction string    `json:"restriction"`
	Drafts      []*Draft  `json:"drafts"` // ordered by SeriesIndex
}

// UsedChampions computes the champion exclusion set for the draft at
// gameIndex from the series' prior games, per the restriction type. Read-only
// over persisted picks; the live state machine never mutates it.
func (s *VersusSeries) UsedChampions(gameIndex int) map[string]bool {
	used := map[string]bool{}
	if s.Restriction == RestrictionStandard {
		return used
	}
	for _, d := range s.Drafts {
		if d.SeriesIndex >= gameIndex {
			continue
		}
		for i, champ := range d.Picks {
			if champ == "" {
				continue
			}
			isBan := i < 10
			if isBan && s.Restriction != RestrictionIronman {
				continue
			}
			used[champ] = true
		}
	}
	return used
}
