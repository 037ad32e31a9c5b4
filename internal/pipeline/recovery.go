package pipeline

import (
	"github.com/hakimfrh/swm-worker/internal/buffer"
	"github.com/hakimfrh/swm-worker/internal/metrics"
	"github.com/rs/zerolog"
)

// Registry resolves a device_code to its pipeline, for components that
// only know the buffer's notion of device identity.
type Registry interface {
	HandlerFor(deviceCode string) (buffer.Handler, bool)
}

// Recovery drains every device's buffer through its pipeline handler on
// worker start, before live traffic resumes. This is what makes a
// crash between checkpoints safe: whatever the previous process never
// finished gets replayed from disk.
type Recovery struct {
	buf      *buffer.Buffer
	registry Registry
	log      zerolog.Logger
}

// NewRecovery builds a Recovery manager over buf and registry.
func NewRecovery(buf *buffer.Buffer, registry Registry, log zerolog.Logger) *Recovery {
	return &Recovery{buf: buf, registry: registry, log: log.With().Str("component", "recovery").Logger()}
}

// Run drains every buffered device once. A device for which the
// registry returns no handler is skipped. The worker's registry builds
// a pipeline on demand, so under the worker every buffered device is
// drained here.
func (r *Recovery) Run() error {
	devices, err := r.buf.ListDevices()
	if err != nil {
		return err
	}

	r.log.Info().Int("devices", len(devices)).Msg("recovery sweep starting")

	var totalProcessed int
	for _, deviceCode := range devices {
		handler, ok := r.registry.HandlerFor(deviceCode)
		if !ok {
			r.log.Debug().Str("device_code", deviceCode).Msg("no pipeline registered yet, deferring recovery")
			continue
		}

		result, err := r.buf.Process(deviceCode, handler)
		if err != nil {
			r.log.Error().Err(err).Str("device_code", deviceCode).Msg("recovery process failed")
			continue
		}

		totalProcessed += result.Processed
		metrics.RecoveryProcessedTotal.Add(float64(result.Processed))
		metrics.BufferRemainingGauge.WithLabelValues(deviceCode).Set(float64(result.Remaining))

		r.log.Info().
			Str("device_code", deviceCode).
			Int("processed", result.Processed).
			Int("remaining", result.Remaining).
			Msg("recovered device buffer")
	}

	r.log.Info().Int("total_processed", totalProcessed).Msg("recovery sweep complete")
	return nil
}
