package models

import "time"

const (
	// TimestampLayout is how the ledger stores instants.
	TimestampLayout = "2006-01-02 15:04:05"
	// DayLayout is the calendar day used for uniqueness, retention and reports.
	DayLayout = "2006-01-02"
	// FolderDayLayout names the per-day folders on disk and on the remote.
	FolderDayLayout = "060102"
)

// Day returns the calendar day of t in DayLayout.
func Day(t time.Time) string {
	return t.Format(DayLayout)
}

// FolderDay returns the day folder name of t.
func FolderDay(t time.Time) string {
	return t.Format(FolderDayLayout)
}

// ParseDay parses a DayLayout string in the local zone.
func ParseDay(day string) (time.Time, error) {
	return time.ParseInLocation(DayLayout, day, time.Local)
}
