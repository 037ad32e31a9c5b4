// Package aggregate holds the in-memory, per-device minute aggregator:
// a small state machine that folds instantaneous samples into a
// running average and hands back a finalized bucket each time wall
// clock rolls over into a new minute.
package aggregate

import (
	"time"

	"github.com/hakimfrh/swm-worker/internal/timeutil"
)

// Fields are the five instantaneous measurements averaged per minute.
// Energy is excluded here; it is tracked as first/last cumulative
// counters rather than averaged.
type Fields struct {
	Voltage   float64
	Current   float64
	Power     float64
	Frequency float64
	PF        float64
}

// MinuteAggregate is a finalized bucket, ready to be upserted and fed
// to the hourly rollover check.
type MinuteAggregate struct {
	MinuteStart time.Time
	Averages    Fields
	EnergyFirst float64
	EnergyLast  float64
	BucketHour  time.Time
}

type bucket struct {
	minuteStart time.Time
	count       int
	sum         Fields
	energyFirst float64
	energyLast  float64
}

// Minute is a per-device finite-state machine accumulating samples
// into the currently-open minute bucket.
type Minute struct {
	current *bucket
}

// NewMinute returns an aggregator with no open bucket.
func NewMinute() *Minute {
	return &Minute{}
}

// Add folds one sample at timestamp dt into the aggregator. It returns
// (finalized, true) when dt belongs to a later minute than the
// currently open bucket, in which case the just-completed bucket is
// returned and a new one is opened for dt. Otherwise it returns
// (MinuteAggregate{}, false): the sample was folded into the open
// bucket and there is nothing to finalize yet.
func (m *Minute) Add(f Fields, energy float64, dt time.Time) (MinuteAggregate, bool) {
	minute := timeutil.FloorMinute(dt)

	if m.current == nil {
		m.current = &bucket{
			minuteStart: minute,
			count:       1,
			sum:         f,
			energyFirst: energy,
			energyLast:  energy,
		}
		return MinuteAggregate{}, false
	}

	if minute.Equal(m.current.minuteStart) {
		m.current.count++
		m.current.sum.Voltage += f.Voltage
		m.current.sum.Current += f.Current
		m.current.sum.Power += f.Power
		m.current.sum.Frequency += f.Frequency
		m.current.sum.PF += f.PF
		m.current.energyLast = energy
		return MinuteAggregate{}, false
	}

	finalized := m.finalize(m.current)
	m.current = &bucket{
		minuteStart: minute,
		count:       1,
		sum:         f,
		energyFirst: energy,
		energyLast:  energy,
	}
	return finalized, true
}

func (m *Minute) finalize(b *bucket) MinuteAggregate {
	n := float64(b.count)
	return MinuteAggregate{
		MinuteStart: b.minuteStart,
		Averages: Fields{
			Voltage:   b.sum.Voltage / n,
			Current:   b.sum.Current / n,
			Power:     b.sum.Power / n,
			Frequency: b.sum.Frequency / n,
			PF:        b.sum.PF / n,
		},
		EnergyFirst: b.energyFirst,
		EnergyLast:  b.energyLast,
		BucketHour:  timeutil.FloorHour(b.minuteStart),
	}
}
