package registry

import (
	"math"
	"sort"

	"github.com/kestrelworks/conductor/pkg/models"
)

// summarize recomputes a performance snapshot from a window of records.
// Success rate is successes over total, durations are mean and 95th
// percentile over the window, and retry rate is the fraction of records
// that needed at least one retry.
func summarize(window []models.PerformanceRecord) models.PerformanceSnapshot {
	n := len(window)
	if n == 0 {
		return models.PerformanceSnapshot{}
	}

	var successes, retried int
	var total float64
	durations := make([]float64, 0, n)
	for _, rec := range window {
		if rec.Success {
			successes++
		}
		if rec.Retries > 0 {
			retried++
		}
		total += rec.Duration
		durations = append(durations, rec.Duration)
	}

	sort.Float64s(durations)
	p95Index := int(math.Floor(0.95 * float64(n)))
	if p95Index >= n {
		p95Index = n - 1
	}

	return models.PerformanceSnapshot{
		SuccessRate: float64(successes) / float64(n),
		AvgDuration: total / float64(n),
		P95Duration: durations[p95Index],
		RetryRate:   float64(retried) / float64(n),
		Samples:     n,
	}
}
