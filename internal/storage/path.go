package storage

import (
	"fmt"
	"path"
	"time"
)

const journalRoot = "journal"

// BuildJournalPath names one flushed journal batch. Batches are partitioned by
// UTC date and hour of the flush.
func BuildJournalPath(flushedAt time.Time, sequence int) (string, error) {
	if sequence < 0 {
		return "", fmt.Errorf("sequence must be >= 0")
	}
	ts := flushedAt.UTC()
	return path.Join(
		JournalDayPrefix(ts),
		fmt.Sprintf("hour=%02d", ts.Hour()),
		fmt.Sprintf("part-%d-%05d.parquet", ts.Unix(), sequence),
	), nil
}

// JournalDayPrefix is the key prefix shared by every batch flushed on day.
func JournalDayPrefix(day time.Time) string {
	ts := day.UTC()
	return path.Join(journalRoot, fmt.Sprintf("date=%04d-%02d-%02d", ts.Year(), ts.Month(), ts.Day())) + "/"
}
