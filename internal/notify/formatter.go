package notify

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/pkaufman/fadewatch/internal/consensus"
	"github.com/pkaufman/fadewatch/internal/schedule"
	"github.com/pkaufman/fadewatch/internal/store"
)

// FormatAlert renders one qualifying consensus record as an HTML
// Telegram message.
func FormatAlert(rec *consensus.Record) string {
	var msg strings.Builder

	msg.WriteString("🚨 <b>Heavy Consensus Detected</b>\n\n")
	msg.WriteString(fmt.Sprintf("⚾ <b>%s</b>\n", html.EscapeString(rec.Matchup())))
	msg.WriteString(fmt.Sprintf("📊 %d%% on the <b>%s</b>", rec.Pct, rec.Direction))
	if rec.TotalLine > 0 {
		msg.WriteString(fmt.Sprintf(" (total %.1f)", rec.TotalLine))
	}
	msg.WriteString("\n")
	msg.WriteString(fmt.Sprintf("👥 %d experts\n", rec.ExpertCount))
	if rec.GameTime != "" {
		msg.WriteString(fmt.Sprintf("🕐 %s\n", html.EscapeString(rec.GameTime)))
	}
	if rec.SourceURL != "" {
		msg.WriteString(fmt.Sprintf("\n🔗 <a href=\"%s\">consensus page</a>", rec.SourceURL))
	}

	return msg.String()
}

// FormatMovement renders a pregame re-scrape outcome. Only significant
// movements are worth sending; the caller decides.
func FormatMovement(job *schedule.Job, result *schedule.Result) string {
	var msg strings.Builder

	if result.Flipped {
		msg.WriteString("🔄 <b>Consensus Flipped</b>\n\n")
	} else {
		msg.WriteString("📈 <b>Consensus Moved</b>\n\n")
	}
	msg.WriteString(fmt.Sprintf("⚾ <b>%s @ %s</b>\n",
		html.EscapeString(job.AwayTeam), html.EscapeString(job.HomeTeam)))
	msg.WriteString(fmt.Sprintf("📊 now %d%% on the <b>%s</b>", result.Pct, result.Direction))
	if result.Delta != 0 {
		msg.WriteString(fmt.Sprintf(" (%+d since open)", result.Delta))
	}
	msg.WriteString("\n")
	msg.WriteString(fmt.Sprintf("👥 %d experts\n", result.ExpertCount))
	if job.GameTime != "" {
		msg.WriteString(fmt.Sprintf("🕐 first pitch %s", html.EscapeString(job.GameTime)))
	}

	return msg.String()
}

// FormatDailyReport renders the end-of-day stats summary.
func FormatDailyReport(date time.Time, stats *store.Stats) string {
	var msg strings.Builder

	msg.WriteString(fmt.Sprintf("📋 <b>Daily Report - %s</b>\n\n", date.Format("Mon Jan 2")))
	msg.WriteString(fmt.Sprintf("🔎 Scrape sessions: %d\n", stats.Sessions))
	msg.WriteString(fmt.Sprintf("✅ Jobs completed: %d\n", stats.Completed))
	if stats.Failed > 0 {
		msg.WriteString(fmt.Sprintf("❌ Jobs failed: %d\n", stats.Failed))
	}
	if stats.Cancelled > 0 {
		msg.WriteString(fmt.Sprintf("🚫 Jobs cancelled: %d\n", stats.Cancelled))
	}
	pending := stats.Scheduled + stats.Running
	if pending > 0 {
		msg.WriteString(fmt.Sprintf("⏳ Still pending: %d\n", pending))
	}

	return msg.String()
}
