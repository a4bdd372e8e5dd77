package consensus

import (
	"crypto/sha1"
	"fmt"
	"strings"
	"time"
)

// Direction is the side of the total the consensus favors.
type Direction string

const (
	DirectionOver  Direction = "OVER"
	DirectionUnder Direction = "UNDER"
)

// Record is one game's over/under consensus snapshot, extracted from a
// single table row on the consensus page.
type Record struct {
	Date        string    `json:"date"` // YYYY-MM-DD
	Sport       string    `json:"sport"`
	AwayTeam    string    `json:"away_team"`
	HomeTeam    string    `json:"home_team"`
	OverPct     int       `json:"over_pct"`
	UnderPct    int       `json:"under_pct"`
	Direction   Direction `json:"consensus_direction"`
	Pct         int       `json:"consensus_pct"`
	TotalLine   float64   `json:"total_line,omitempty"` // 0 when not observed
	ExpertCount int       `json:"expert_count"`
	GameTime    string    `json:"game_time,omitempty"` // display string, e.g. "7:05 pm ET"
	SourceURL   string    `json:"source_url"`
	ScrapedAt   time.Time `json:"scraped_at"`
}

// SetConsensus records one observed side and derives the other as its
// complement, so OverPct+UnderPct is always 100 once either is known.
func (r *Record) SetConsensus(pct int, dir Direction) {
	switch dir {
	case DirectionOver:
		r.OverPct = pct
		r.UnderPct = 100 - pct
	case DirectionUnder:
		r.UnderPct = pct
		r.OverPct = 100 - pct
	}
	if r.OverPct > r.UnderPct {
		r.Direction = DirectionOver
		r.Pct = r.OverPct
	} else {
		r.Direction = DirectionUnder
		r.Pct = r.UnderPct
	}
}

// HasConsensus reports whether a consensus percentage was observed.
func (r *Record) HasConsensus() bool {
	return r.Direction != ""
}

// Matchup returns the display form of the team pair.
func (r *Record) Matchup() string {
	return fmt.Sprintf("%s @ %s", r.AwayTeam, r.HomeTeam)
}

// SameGame reports whether the record describes the given team pair.
// Team comparison is case-insensitive; the page is not consistent about
// abbreviation casing.
func (r *Record) SameGame(away, home string) bool {
	return strings.EqualFold(r.AwayTeam, away) && strings.EqualFold(r.HomeTeam, home)
}

// JobKey creates a deterministic identifier for a game, shared between
// the extractor's output and the pregame scheduler so that repeated
// scheduling attempts land on the same job.
func JobKey(sport, away, home, gameTime string) string {
	h := sha1.New()
	h.Write([]byte(strings.ToLower(sport) + "|" + strings.ToUpper(away) + "|" + strings.ToUpper(home) + "|" + gameTime))
	return fmt.Sprintf("%x", h.Sum(nil))
}

// Key returns the record's deterministic game identifier.
func (r *Record) Key() string {
	return JobKey(r.Sport, r.AwayTeam, r.HomeTeam, r.GameTime)
}
