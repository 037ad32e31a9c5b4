package archive

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Saver is the subset of Store that AsyncUploader needs, narrowed to an
// interface so tests can exercise the worker pool without a real bucket.
type Saver interface {
	Save(ctx context.Context, key string, data []byte) error
}

// AsyncUploader ships quarantined bad-line files to S3 without blocking
// the buffer's quarantine path. Files already live on local disk under
// the buffer's bad/ directory, so a dropped or failed upload never loses
// data — it just means the operator has to look at the local copy.
type AsyncUploader struct {
	store    Saver
	ch       chan uploadJob
	log      zerolog.Logger
	stopped  atomic.Bool
	stopOnce sync.Once
}

type uploadJob struct {
	key  string
	data []byte
}

// NewAsyncUploader creates an async uploader with the given buffer size.
func NewAsyncUploader(store Saver, bufferSize int, log zerolog.Logger) *AsyncUploader {
	return &AsyncUploader{
		store: store,
		ch:    make(chan uploadJob, bufferSize),
		log:   log.With().Str("component", "archive-uploader").Logger(),
	}
}

// Enqueue schedules key/data for upload. Non-blocking: drops with a
// warning if the queue is full or the uploader has been stopped, since
// the bad-line file is already safe on local disk.
func (u *AsyncUploader) Enqueue(key string, data []byte) {
	if u.stopped.Load() {
		return
	}
	job := uploadJob{key: key, data: data}
	select {
	case u.ch <- job:
	default:
		u.log.Warn().Str("key", key).Msg("archive upload queue full, skipping (file safe on local disk)")
	}
}

// Start launches worker goroutines draining the upload queue.
func (u *AsyncUploader) Start(workers int) {
	for i := 0; i < workers; i++ {
		go u.worker()
	}
	u.log.Info().Int("workers", workers).Int("buffer", cap(u.ch)).Msg("archive uploader started")
}

// Stop signals workers to drain and exit. Call during shutdown, after
// the buffer has stopped quarantining new lines.
func (u *AsyncUploader) Stop() {
	u.stopped.Store(true)
	u.stopOnce.Do(func() { close(u.ch) })
}

func (u *AsyncUploader) worker() {
	for job := range u.ch {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := u.store.Save(ctx, job.key, job.data); err != nil {
			u.log.Error().Err(err).Str("key", job.key).Msg("archive upload failed (file safe on local disk)")
		}
		cancel()
	}
}
