package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/hakimfrh/swm-worker/internal/aggregate"
	"github.com/hakimfrh/swm-worker/internal/buffer"
	"github.com/hakimfrh/swm-worker/internal/datastore"
	"github.com/hakimfrh/swm-worker/internal/metrics"
	"github.com/hakimfrh/swm-worker/internal/timeutil"
	"github.com/rs/zerolog"
)

// BalanceMode selects which rollover triggers a token balance decrement.
type BalanceMode string

const (
	BalanceModeMinute BalanceMode = "minute"
	BalanceModeHour   BalanceMode = "hour"
)

// RawSample mirrors the wire payload's numeric fields, already decoded.
type RawSample struct {
	Datetime  string  `json:"datetime"`
	Voltage   float64 `json:"voltage"`
	Current   float64 `json:"current"`
	Power     float64 `json:"power"`
	Energy    float64 `json:"energy"`
	Frequency float64 `json:"frequency"`
	PF        float64 `json:"pf"`
}

// Pipeline is the per-device state machine that turns buffered records
// into durable datastore effects: realtime snapshot, minute rollup,
// hourly rollup, and balance decrements, in that order, with a
// monotonic-datetime guard against replaying already-processed samples.
type Pipeline struct {
	deviceCode  string
	db          *datastore.DB
	realtime    *Realtime
	hourly      *Hourly
	balanceMode BalanceMode
	log         zerolog.Logger

	mu               sync.Mutex
	lastProcessedDt  time.Time
	hasProcessed     bool
	minuteAggregator *aggregate.Minute
}

// New builds a Pipeline for one device, identified by its buffer
// device_code. The device's numeric id travels with each record
// (resolved once at worker ingress) rather than being fixed at
// construction, so a pipeline can be recreated for crash recovery
// without a live message to re-resolve identity from.
func New(deviceCode string, db *datastore.DB, balanceMode BalanceMode, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		deviceCode:       deviceCode,
		db:               db,
		realtime:         NewRealtime(db),
		hourly:           NewHourly(db, log),
		balanceMode:      balanceMode,
		log:              log.With().Str("component", "pipeline").Str("device_code", deviceCode).Logger(),
		minuteAggregator: aggregate.NewMinute(),
	}
}

// Handler returns a buffer.Handler bound to this pipeline's Handle
// method, suitable for registering with buffer.Buffer.Process.
func (p *Pipeline) Handler() buffer.Handler {
	return func(rec buffer.Record) buffer.ProcessDecision {
		return p.Handle(context.Background(), rec)
	}
}

// Handle implements the per-record decision sequence: monotonic guard,
// realtime upsert, minute aggregation, minute upsert, balance decrement,
// hour rollover check, hourly upsert, balance decrement on rollover.
func (p *Pipeline) Handle(ctx context.Context, rec buffer.Record) buffer.ProcessDecision {
	p.mu.Lock()
	defer p.mu.Unlock()

	var raw RawSample
	if err := json.Unmarshal(rec.Payload, &raw); err != nil {
		p.log.Warn().Err(err).Msg("failed to parse buffered payload")
		metrics.PipelineFailuresTotal.WithLabelValues("parse").Inc()
		return buffer.ProcessDecision{Success: false}
	}

	dt, err := timeutil.ParseSampleTime(raw.Datetime)
	if err != nil {
		p.log.Warn().Err(err).Str("datetime", raw.Datetime).Msg("failed to parse sample datetime")
		metrics.PipelineFailuresTotal.WithLabelValues("parse").Inc()
		return buffer.ProcessDecision{Success: false}
	}

	if p.hasProcessed && !dt.After(p.lastProcessedDt) {
		p.log.Debug().Time("dt", dt).Time("last", p.lastProcessedDt).Msg("dropping non-monotonic sample")
		metrics.MonotonicDropsTotal.Inc()
		return buffer.ProcessDecision{Success: true, CheckpointOffset: -1}
	}

	sample := datastore.Sample{
		Voltage:   raw.Voltage,
		Current:   raw.Current,
		Power:     raw.Power,
		Energy:    raw.Energy,
		Frequency: raw.Frequency,
		PF:        raw.PF,
	}

	if err := p.realtime.Handle(ctx, rec.DeviceID, sample, dt); err != nil {
		p.log.Error().Err(err).Msg("realtime upsert failed")
		metrics.PipelineFailuresTotal.WithLabelValues("realtime").Inc()
		return buffer.ProcessDecision{Success: false}
	}

	fields := aggregate.Fields{
		Voltage:   raw.Voltage,
		Current:   raw.Current,
		Power:     raw.Power,
		Frequency: raw.Frequency,
		PF:        raw.PF,
	}

	finalized, rolledOver := p.minuteAggregator.Add(fields, raw.Energy, dt)
	p.lastProcessedDt = dt
	p.hasProcessed = true

	if !rolledOver {
		return buffer.ProcessDecision{Success: true, CheckpointOffset: -1}
	}

	energyBefore := finalized.EnergyFirst
	if last, err := p.db.GetLastMinute(ctx, rec.DeviceID); err == nil {
		if last.Datetime.Before(finalized.MinuteStart) {
			energyBefore = last.Energy
		}
	} else if !errors.Is(err, datastore.ErrNotFound) {
		p.log.Error().Err(err).Msg("failed to read last minute row")
		metrics.PipelineFailuresTotal.WithLabelValues("minute_lookup").Inc()
		return buffer.ProcessDecision{Success: false}
	}

	energyMinute := roundThousandths(finalized.EnergyLast - energyBefore)

	avg := datastore.MinuteAverages{
		Voltage:   finalized.Averages.Voltage,
		Current:   finalized.Averages.Current,
		Power:     finalized.Averages.Power,
		Frequency: finalized.Averages.Frequency,
		PF:        finalized.Averages.PF,
	}
	if err := p.db.UpsertMinute(ctx, rec.DeviceID, finalized.MinuteStart, avg, finalized.EnergyLast, energyMinute); err != nil {
		p.log.Error().Err(err).Msg("minute upsert failed")
		metrics.PipelineFailuresTotal.WithLabelValues("minute_upsert").Inc()
		return buffer.ProcessDecision{Success: false}
	}
	metrics.BufferProcessedTotal.Inc()

	if p.balanceMode == BalanceModeMinute {
		if err := p.decrementBalance(ctx, rec.DeviceID, energyMinute, false); err != nil {
			return buffer.ProcessDecision{Success: false}
		}
	}

	hourOfSample := timeutil.FloorHour(dt)
	if !hourOfSample.Equal(finalized.BucketHour) {
		ok, delta, err := p.hourly.Handle(ctx, rec.DeviceID, finalized.BucketHour, finalized.EnergyLast)
		if err != nil || !ok {
			p.log.Error().Err(err).Msg("hourly processor failed")
			metrics.PipelineFailuresTotal.WithLabelValues("hourly").Inc()
			return buffer.ProcessDecision{Success: false}
		}
		if delta != nil {
			metrics.BufferProcessedTotal.Inc()
			if p.balanceMode == BalanceModeHour {
				if err := p.decrementBalance(ctx, rec.DeviceID, *delta, true); err != nil {
					return buffer.ProcessDecision{Success: false}
				}
			}
		}
	}

	return buffer.ProcessDecision{Success: true, CheckpointOffset: -1}
}

func (p *Pipeline) decrementBalance(ctx context.Context, deviceID int64, amount float64, hourRollover bool) error {
	if amount <= 0 {
		return nil
	}
	if err := p.db.DecrementTokenBalance(ctx, deviceID, amount); err != nil {
		p.log.Error().Err(err).Float64("amount", amount).Msg("balance decrement failed")
		metrics.PipelineFailuresTotal.WithLabelValues("balance").Inc()
		return err
	}
	rollover := "minute"
	if hourRollover {
		rollover = "hour"
	}
	metrics.BalanceDecrementsTotal.WithLabelValues(rollover).Inc()
	return nil
}

func roundThousandths(v float64) float64 {
	return math.Round(v*1000) / 1000
}
