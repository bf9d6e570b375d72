package transfer

import (
	"time"

	"dropwire/models"
)

// Progress is one per-file progress sample emitted while moving chunks.
// Speed and ETA come from wall-clock elapsed since the file started.
type Progress struct {
	File             models.FileInfo
	BytesTransferred int64
	Percent          int
	BytesPerSecond   float64
	ETA              time.Duration
}

type progressTracker struct {
	file    models.FileInfo
	started time.Time
	bytes   int64
}

func newProgressTracker(file models.FileInfo) *progressTracker {
	return &progressTracker{file: file, started: time.Now()}
}

func (t *progressTracker) add(n int64) Progress {
	t.bytes += n

	sample := Progress{
		File:             t.file,
		BytesTransferred: t.bytes,
		Percent:          100,
	}
	if t.file.Size > 0 {
		percent := int(t.bytes * 100 / t.file.Size)
		if percent > 100 {
			percent = 100
		}
		sample.Percent = percent
	}

	elapsed := time.Since(t.started).Seconds()
	if elapsed > 0 {
		sample.BytesPerSecond = float64(t.bytes) / elapsed
		if sample.BytesPerSecond > 0 && t.bytes < t.file.Size {
			remaining := float64(t.file.Size-t.bytes) / sample.BytesPerSecond
			sample.ETA = time.Duration(remaining * float64(time.Second))
		}
	}
	return sample
}
