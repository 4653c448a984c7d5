package domain

import (
	"sync"
	"time"
)

// Quality marks the trustworthiness of a Reading.
type Quality string

const (
	QualityGood      Quality = "good"
	QualityBad       Quality = "bad"
	QualityUncertain Quality = "uncertain"
)

// Reading is one sample of one register. Append-only once written.
type Reading struct {
	ID         int64
	RegisterID int64
	Timestamp  time.Time
	RawValue   float64
	ScaledValue float64
	Quality    Quality
}

// Scale computes ScaledValue from RawValue, clamping overflow to ±Inf and
// marking the reading uncertain when that happens, per SPEC_FULL.md §4.6.
func (r *Reading) Scale(scale, offset float64) {
	v := r.RawValue*scale + offset
	r.ScaledValue = v
	if isInfOrNaN(v) && r.Quality == QualityGood {
		r.Quality = QualityUncertain
	}
}

func isInfOrNaN(f float64) bool {
	return f != f || f > maxFinite || f < -maxFinite
}

const maxFinite = 1.7976931348623157e+308

var readingPool = sync.Pool{
	New: func() any { return new(Reading) },
}

// AcquireReading returns a zeroed Reading from the pool, mirroring the
// sync.Pool reuse idiom used for the data-ingestion DataPoint type.
func AcquireReading() *Reading {
	r := readingPool.Get().(*Reading)
	*r = Reading{}
	return r
}

// ReleaseReading returns a Reading to the pool once it has been durably
// written and is no longer referenced by any in-process cache.
func ReleaseReading(r *Reading) {
	readingPool.Put(r)
}

// AggregateBucket is one row of a time-bucketed aggregate query.
type AggregateBucket struct {
	BucketStart time.Time
	Avg         float64
	Min         float64
	Max         float64
	Count       int64
}
