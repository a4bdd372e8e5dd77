package consensus

import "fmt"

// AlertCriteria is the qualification bar a record must clear before it
// is worth notifying about.
type AlertCriteria struct {
	Threshold  int // minimum consensus percentage
	MinExperts int // minimum contributing expert picks
}

// Qualify reports whether the record clears the criteria. When it does
// not, reason names the first failed check in the form "experts 10 < 15".
func (c AlertCriteria) Qualify(rec *Record) (ok bool, reason string) {
	if rec == nil {
		return false, "no record"
	}
	if !rec.HasConsensus() {
		return false, "no consensus observed"
	}
	if rec.Pct < c.Threshold {
		return false, fmt.Sprintf("consensus %d < %d", rec.Pct, c.Threshold)
	}
	if rec.ExpertCount < c.MinExperts {
		return false, fmt.Sprintf("experts %d < %d", rec.ExpertCount, c.MinExperts)
	}
	return true, ""
}

// FilterQualified returns the records that clear the criteria.
func (c AlertCriteria) FilterQualified(recs []*Record) []*Record {
	out := make([]*Record, 0, len(recs))
	for _, r := range recs {
		if ok, _ := c.Qualify(r); ok {
			out = append(out, r)
		}
	}
	return out
}
