package ratelimit

import (
	"time"

	"github.com/dustin/go-humanize"
)

// remainingMagnitudes renders a wait without "ago"/"from now" labels.
var remainingMagnitudes = []humanize.RelTimeMagnitude{
	{D: time.Second, Format: "a moment", DivBy: time.Second},
	{D: 2 * time.Second, Format: "1 second", DivBy: 1},
	{D: time.Minute, Format: "%d seconds", DivBy: time.Second},
	{D: 2 * time.Minute, Format: "1 minute", DivBy: 1},
	{D: time.Hour, Format: "%d minutes", DivBy: time.Minute},
	{D: 2 * time.Hour, Format: "1 hour", DivBy: 1},
	{D: humanize.Day, Format: "%d hours", DivBy: time.Hour},
	{D: 2 * humanize.Day, Format: "1 day", DivBy: 1},
	{D: humanize.Week, Format: "%d days", DivBy: humanize.Day},
	{D: 2 * humanize.Week, Format: "1 week", DivBy: 1},
	{D: humanize.LongTime, Format: "%d weeks", DivBy: humanize.Week},
}

// HumanizeRemaining renders the wait until `until` for display, e.g.
// "4 minutes" or "1 hour". The wait is rounded up to whole seconds so a
// caller is never told to retry early.
func HumanizeRemaining(now, until time.Time) string {
	wait := until.Sub(now)
	if wait <= 0 {
		return "a moment"
	}
	rounded := time.Duration(CeilSeconds(wait)) * time.Second
	return humanize.CustomRelTime(now, now.Add(rounded), "", "", remainingMagnitudes)
}

// HumanizeDuration is HumanizeRemaining for a bare duration.
func HumanizeDuration(d time.Duration) string {
	now := time.Now()
	return HumanizeRemaining(now, now.Add(d))
}
