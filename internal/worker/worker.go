package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/hakimfrh/swm-worker/internal/buffer"
	"github.com/hakimfrh/swm-worker/internal/datastore"
	"github.com/hakimfrh/swm-worker/internal/metrics"
	"github.com/hakimfrh/swm-worker/internal/mqttclient"
	"github.com/hakimfrh/swm-worker/internal/pipeline"
	"github.com/rs/zerolog"
)

var requiredPayloadKeys = []string{"datetime", "voltage", "current", "power", "energy", "frequency", "pf"}

// Worker is the live-traffic entry point: it receives (topic, payload)
// callbacks from the MQTT transport, resolves device identity, enforces
// the payload gate, and drives each message through the buffer into its
// device's pipeline.
type Worker struct {
	db          *datastore.DB
	buf         *buffer.Buffer
	topicMode   TopicMode
	balanceMode pipeline.BalanceMode
	log         zerolog.Logger

	mu        sync.Mutex
	pipelines map[string]*pipeline.Pipeline
	deviceIDs map[string]int64 // "username/device_code" -> resolved device id, cached
}

// New builds a Worker over an already-connected datastore and buffer.
func New(db *datastore.DB, buf *buffer.Buffer, topicMode TopicMode, balanceMode pipeline.BalanceMode, log zerolog.Logger) *Worker {
	return &Worker{
		db:          db,
		buf:         buf,
		topicMode:   topicMode,
		balanceMode: balanceMode,
		log:         log.With().Str("component", "worker").Logger(),
		pipelines:   make(map[string]*pipeline.Pipeline),
		deviceIDs:   make(map[string]int64),
	}
}

// HandlerFor implements pipeline.Registry: it returns the buffer.Handler
// of deviceCode's pipeline, building the pipeline on demand if no live
// message or recovery pass has created it yet. ok is always true.
func (w *Worker) HandlerFor(deviceCode string) (buffer.Handler, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	p, ok := w.pipelines[deviceCode]
	if !ok {
		p = pipeline.New(deviceCode, w.db, w.balanceMode, w.log)
		w.pipelines[deviceCode] = p
	}
	return p.Handler(), true
}

// ActivePipelineCount implements metrics.WorkerStats.
func (w *Worker) ActivePipelineCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pipelines)
}

// Drain implements buffer.Drainer, used by the optional buffer watcher.
func (w *Worker) Drain(deviceCode string) error {
	handler, _ := w.HandlerFor(deviceCode)
	_, err := w.buf.Process(deviceCode, handler)
	return err
}

// MessageHandler returns an mqttclient.MessageHandler bound to this
// worker, suitable for mqttclient.Client.SetMessageHandler.
func (w *Worker) MessageHandler() mqttclient.MessageHandler {
	return func(topic string, payload []byte) {
		w.handle(topic, payload)
	}
}

func (w *Worker) handle(topic string, payload []byte) {
	metrics.MQTTMessagesTotal.Inc()

	identity, ok := ParseTopic(w.topicMode, topic)
	if !ok {
		w.log.Warn().Str("topic", topic).Msg("dropping message with unrecognized topic shape")
		metrics.MessagesDroppedTotal.WithLabelValues("topic_shape").Inc()
		return
	}

	fields, err := decodePayloadFields(payload)
	if err != nil {
		w.log.Warn().Err(err).Str("topic", topic).Msg("dropping message with undecodable payload")
		metrics.MessagesDroppedTotal.WithLabelValues("decode").Inc()
		return
	}

	if reason, ok := checkPayloadGate(fields, identity.DeviceCode); !ok {
		w.log.Warn().Str("topic", topic).Str("reason", reason).Msg("dropping message failing payload gate")
		metrics.MessagesDroppedTotal.WithLabelValues(reason).Inc()
		return
	}

	deviceID, err := w.resolveDevice(identity)
	if err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			w.log.Warn().Str("username", identity.Username).Str("device_code", identity.DeviceCode).Msg("dropping message for unknown device")
			metrics.MessagesDroppedTotal.WithLabelValues("unknown_device").Inc()
			return
		}
		w.log.Error().Err(err).Msg("device resolution failed")
		metrics.MessagesDroppedTotal.WithLabelValues("resolve_error").Inc()
		return
	}

	rec := buffer.Record{
		Username:   identity.Username,
		DeviceCode: identity.DeviceCode,
		DeviceID:   deviceID,
		Payload:    payload,
	}

	if err := w.buf.Append(identity.DeviceCode, rec); err != nil {
		w.log.Error().Err(err).Str("device_code", identity.DeviceCode).Msg("failed to append to buffer")
		return
	}
	metrics.BufferAppendsTotal.Inc()

	handler, _ := w.HandlerFor(identity.DeviceCode)
	result, err := w.buf.Process(identity.DeviceCode, handler)
	if err != nil {
		w.log.Error().Err(err).Str("device_code", identity.DeviceCode).Msg("buffer drain failed")
		return
	}
	metrics.BufferRemainingGauge.WithLabelValues(identity.DeviceCode).Set(float64(result.Remaining))
}

// resolveDevice looks up and caches the (username, device_code) -> id
// mapping. device_code is only unique per user, not globally, so the
// cache key must carry both halves of the identity or two users sharing
// a device_code would resolve onto the same cached row. The worker never
// writes device identity; it only reads it.
func (w *Worker) resolveDevice(identity Identity) (int64, error) {
	key := identity.Username + "/" + identity.DeviceCode

	w.mu.Lock()
	if id, ok := w.deviceIDs[key]; ok {
		w.mu.Unlock()
		return id, nil
	}
	w.mu.Unlock()

	device, err := w.db.ResolveDevice(context.Background(), identity.Username, identity.DeviceCode)
	if err != nil {
		return 0, err
	}

	w.mu.Lock()
	w.deviceIDs[key] = device.ID
	w.mu.Unlock()
	return device.ID, nil
}

// checkPayloadGate enforces the two payload-level rules required
// before a message may be buffered: all required keys present,
// and any explicit payload.device_id agrees with the topic's device
// code. ok is false when the message should be dropped; reason is the
// metrics label / log field describing why.
func checkPayloadGate(fields map[string]json.RawMessage, topicDeviceCode string) (reason string, ok bool) {
	for _, key := range requiredPayloadKeys {
		if _, present := fields[key]; !present {
			return "missing_field", false
		}
	}

	raw, present := fields["device_id"]
	if !present {
		return "", true
	}

	var wireDeviceID string
	if err := json.Unmarshal(raw, &wireDeviceID); err != nil {
		return "", true
	}
	if wireDeviceID != "" && wireDeviceID != topicDeviceCode {
		return "device_id_mismatch", false
	}
	return "", true
}

func decodePayloadFields(payload []byte) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return fields, nil
}
