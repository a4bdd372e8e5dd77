package consensus

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// The consensus page's column layout is not stable: team pairs, game
// times, percentages, and expert counts move between columns from one
// season to the next (sometimes from one day to the next). Extraction
// therefore runs ordered heuristic strategies over the raw cell text
// instead of trusting column positions, and accepts a row as soon as a
// team pair plus at least one of {consensus, expert count} is found.

// teamStrategy attempts to read a team pair from one cell.
// The first cell (in cell order) matching any strategy supplies the
// pair and the search stops; within a cell, strategies are tried in
// priority order. When several cells could match, first-in-cell-order
// wins -- that is inherited behavior, not a correctness guarantee.
type teamStrategy struct {
	name    string
	extract func(cell string) (away, home string, ok bool)
}

var (
	// "NYY @ BOS" -- 2-3 letter abbreviations separated by @
	abbrevAtPattern = regexp.MustCompile(`\b([A-Z]{2,3})\s*@\s*([A-Z]{2,3})\b`)

	// "NYY BOS" -- two bare abbreviations in one cell
	abbrevPairPattern = regexp.MustCompile(`^\s*([A-Z]{2,3})\s+([A-Z]{2,3})\s*$`)

	// "Yankees @ Red Sox" -- full team names separated by @
	fullNameAtPattern = regexp.MustCompile(`^\s*([A-Za-z][A-Za-z .']+?)\s*@\s*([A-Za-z][A-Za-z .']+?)\s*$`)

	gameTimePattern  = regexp.MustCompile(`(?i)\b(\d{1,2}:\d{2}\s*(?:am|pm)\s*ET)\b`)
	consensusPattern = regexp.MustCompile(`(?i)\b(\d{1,3})%\s*(Over|Under)\b`)
	numberPattern    = regexp.MustCompile(`\d+(?:\.\d+)?`)
	integerPattern   = regexp.MustCompile(`\b(\d{1,3})\b`)
)

var teamStrategies = []teamStrategy{
	{
		name: "abbrev-at",
		extract: func(cell string) (string, string, bool) {
			m := abbrevAtPattern.FindStringSubmatch(cell)
			if m == nil {
				return "", "", false
			}
			return m[1], m[2], true
		},
	},
	{
		name: "abbrev-pair",
		extract: func(cell string) (string, string, bool) {
			m := abbrevPairPattern.FindStringSubmatch(cell)
			if m == nil {
				return "", "", false
			}
			return m[1], m[2], true
		},
	},
	{
		name: "fullname-at",
		extract: func(cell string) (string, string, bool) {
			m := fullNameAtPattern.FindStringSubmatch(cell)
			if m == nil {
				return "", "", false
			}
			away := strings.TrimSpace(m[1])
			home := strings.TrimSpace(m[2])
			if away == "" || home == "" {
				return "", "", false
			}
			return away, home, true
		},
	},
}

// Plausibility window for an MLB game total. Numbers outside it (run
// lines, percentages, expert counts) are never totals.
const (
	totalLineMin = 6.0
	totalLineMax = 15.0
)

// Expert counts on the page are small integers; anything above 100 in
// a cell is a percentage artifact or junk.
const (
	expertCountMin = 1
	expertCountMax = 100
)

// Extractor converts raw table rows into Records. A zero Extractor is
// usable; Sport, Date and SourceURL are stamped onto every record.
type Extractor struct {
	Sport     string
	Date      string
	SourceURL string
}

// Extract converts one row's cell texts into a Record, or nil when the
// row does not look like a game row. It never panics: any internal
// failure discards the row so sibling rows keep being processed.
func (e *Extractor) Extract(cells []string) (rec *Record) {
	defer func() {
		if r := recover(); r != nil {
			rec = nil
		}
	}()

	if len(cells) == 0 {
		return nil
	}

	away, home, ok := findTeams(cells)
	if !ok {
		return nil
	}

	rec = &Record{
		Date:      e.Date,
		Sport:     e.Sport,
		AwayTeam:  away,
		HomeTeam:  home,
		SourceURL: e.SourceURL,
		ScrapedAt: time.Now().UTC(),
	}

	rec.GameTime = findGameTime(cells)

	if pct, dir, ok := findConsensus(cells); ok {
		rec.SetConsensus(pct, dir)
	}

	rec.TotalLine = findTotalLine(cells)
	rec.ExpertCount = findExpertCount(cells)

	// A team pair alone is not enough; the row must carry at least one
	// betting signal to count as a consensus row.
	if !rec.HasConsensus() && rec.ExpertCount == 0 {
		return nil
	}

	return rec
}

// findTeams walks the cells in order and stops at the first cell any
// strategy matches; strategy priority only breaks ties within a cell.
func findTeams(cells []string) (away, home string, ok bool) {
	for _, cell := range cells {
		cell = strings.TrimSpace(cell)
		for _, strat := range teamStrategies {
			if a, h, matched := strat.extract(cell); matched {
				return a, h, true
			}
		}
	}
	return "", "", false
}

// findGameTime returns the first "H:MM am|pm ET" styled token found in
// any cell, preserved as display text.
func findGameTime(cells []string) string {
	for _, cell := range cells {
		if m := gameTimePattern.FindStringSubmatch(cell); m != nil {
			return normalizeGameTime(m[1])
		}
	}
	return ""
}

func normalizeGameTime(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	return strings.Replace(strings.ToLower(s), "et", "ET", 1)
}

// findConsensus scans for "<N>% Over" / "<N>% Under" and returns the
// first match with a percentage in range.
func findConsensus(cells []string) (pct int, dir Direction, ok bool) {
	for _, cell := range cells {
		m := consensusPattern.FindStringSubmatch(cell)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 0 || n > 100 {
			continue
		}
		if strings.EqualFold(m[2], "over") {
			return n, DirectionOver, true
		}
		return n, DirectionUnder, true
	}
	return 0, "", false
}

// findTotalLine accepts the first numeric token that falls inside the
// plausible totals window. Cells that matched a consensus percentage or
// a game time are skipped so neither "78% Over" nor the 7 in "7:05 pm"
// can contribute a line.
func findTotalLine(cells []string) float64 {
	for _, cell := range cells {
		if consensusPattern.MatchString(cell) || gameTimePattern.MatchString(cell) {
			continue
		}
		for _, tok := range numberPattern.FindAllString(cell, -1) {
			v, err := strconv.ParseFloat(tok, 64)
			if err != nil {
				continue
			}
			if v >= totalLineMin && v <= totalLineMax {
				return v
			}
		}
	}
	return 0
}

// findExpertCount scans cells for small integers. Two or more in one
// cell are read as a split pick count ("15 picked Over, 4 picked
// Under") and the first two are summed; a lone integer is used as-is.
// This heuristic is known to be fragile: an incidental small number (a
// total line, a jersey number) can collide with it. Kept as-is rather
// than guessing stricter intent.
func findExpertCount(cells []string) int {
	for _, cell := range cells {
		if consensusPattern.MatchString(cell) || gameTimePattern.MatchString(cell) {
			continue
		}
		var found []int
		for _, m := range integerPattern.FindAllStringSubmatch(cell, -1) {
			n, err := strconv.Atoi(m[1])
			if err != nil {
				continue
			}
			if n >= expertCountMin && n <= expertCountMax {
				found = append(found, n)
			}
		}
		switch {
		case len(found) >= 2:
			return found[0] + found[1]
		case len(found) == 1:
			return found[0]
		}
	}
	return 0
}
