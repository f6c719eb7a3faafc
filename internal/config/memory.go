package config

import (
	"time"

	"github.com/seisnoise/seisnoise/internal/errors"
	"github.com/seisnoise/seisnoise/internal/logging"
)

// BytesPerSample is the in-memory width of one waveform sample (float32).
const BytesPerSample = 4

// MemoryEstimate is the computed peak-memory figure for one chunk.
type MemoryEstimate struct {
	// WindowsPerChunk is the number of correlation windows one chunk yields.
	WindowsPerChunk int64

	// PointsPerChunk is the number of samples held for one station's chunk
	// once cut into windows.
	PointsPerChunk int64

	// EstimatedBytes is the total across all stations.
	EstimatedBytes int64

	// CeilingBytes is the configured per-worker ceiling.
	CeilingBytes int64
}

// EstimateChunkMemory computes the expected peak memory for loading one
// chunk of all stations' data cut into correlation windows.
//
//	windows = floor((chunk_seconds - cc_len) / step) + 1
//	points  = windows * cc_len * samp_freq
//	bytes   = stations * points * BytesPerSample
func EstimateChunkMemory(stationCount int, chunkDur time.Duration, ccLen, step int, sampFreq float64, ceilingBytes int64) MemoryEstimate {
	chunkSec := int64(chunkDur / time.Second)
	windows := (chunkSec-int64(ccLen))/int64(step) + 1
	if windows < 0 {
		windows = 0
	}
	points := int64(float64(windows*int64(ccLen)) * sampFreq)

	return MemoryEstimate{
		WindowsPerChunk: windows,
		PointsPerChunk:  points,
		EstimatedBytes:  int64(stationCount) * points * BytesPerSample,
		CeilingBytes:    ceilingBytes,
	}
}

// CheckMemoryBudget fails fast when the estimated per-chunk memory exceeds
// the per-worker ceiling. It runs exactly once before any parallel work
// starts; all workers share identical chunk sizing, so a per-worker check
// would be redundant.
func (c *Config) CheckMemoryBudget(stationCount int) error {
	ceiling := int64(c.Resources.MaxMemGB * float64(1<<30))
	est := EstimateChunkMemory(stationCount, c.Increment(),
		c.Processing.CCLen, c.Processing.Step, c.Processing.SampFreq, ceiling)

	logging.Component("config").Debug("memory estimate",
		"stations", stationCount,
		"windows_per_chunk", est.WindowsPerChunk,
		"estimated_bytes", est.EstimatedBytes,
		"ceiling_bytes", ceiling)

	if est.EstimatedBytes > ceiling {
		return errors.NewResourceExceeded(est.EstimatedBytes, ceiling)
	}
	return nil
}
