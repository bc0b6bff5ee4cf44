package ingest

import (
	"context"
	"strings"
	"sync"
	"time"

	"kiromemory/internal/apperr"
	"kiromemory/internal/embedding"
	"kiromemory/internal/logging"
	"kiromemory/internal/metrics"
	"kiromemory/internal/store"
)

const (
	embedQueueCapacity = 256
	embedWorkers       = 2
	embedTimeout       = 10 * time.Second
	backfillBatchSize  = 50

	// embedTextLimit keeps provider payloads bounded; everything past it adds
	// little retrieval signal anyway.
	embedTextLimit = 8 * 1024
)

// EmbedQueue decouples ingest latency from embedding latency: ingest enqueues
// an observation id and returns, a small worker pool embeds and upserts. A
// full queue or a failed provider call drops the job; backfill picks the row
// up later.
type EmbedQueue struct {
	store   *store.Store
	engine  embedding.Engine
	metrics *metrics.Metrics

	jobs chan int64

	mu   sync.Mutex
	stop chan struct{}
	wg   sync.WaitGroup
}

// NewEmbedQueue builds the queue. A nil engine yields a queue that rejects
// every job, so callers never need to special-case "embeddings off".
func NewEmbedQueue(st *store.Store, engine embedding.Engine, m *metrics.Metrics) *EmbedQueue {
	return &EmbedQueue{
		store:   st,
		engine:  engine,
		metrics: m,
		jobs:    make(chan int64, embedQueueCapacity),
	}
}

// Start launches the worker pool. Calling Start on a running queue is a
// no-op.
func (q *EmbedQueue) Start() {
	if q.engine == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stop != nil {
		return
	}
	q.stop = make(chan struct{})
	for i := 0; i < embedWorkers; i++ {
		q.wg.Add(1)
		go q.run(q.stop)
	}
}

// Stop halts the workers. Jobs still queued are abandoned; backfill recovers
// the rows they would have covered.
func (q *EmbedQueue) Stop() {
	q.mu.Lock()
	stop := q.stop
	q.stop = nil
	q.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	q.wg.Wait()
}

// Enqueue offers an observation id to the pool without blocking. It reports
// false when the queue is full or no engine is configured.
func (q *EmbedQueue) Enqueue(id int64) bool {
	if q.engine == nil {
		return false
	}
	select {
	case q.jobs <- id:
		if q.metrics != nil {
			q.metrics.EmbedQueueSize.Set(float64(len(q.jobs)))
		}
		return true
	default:
		if q.metrics != nil {
			q.metrics.EmbeddingsDropped.Inc()
		}
		logging.Get(logging.CategoryEmbedding).Warnw("embed queue full, dropping job", "id", id)
		return false
	}
}

// Len reports queued jobs, for stats endpoints.
func (q *EmbedQueue) Len() int { return len(q.jobs) }

func (q *EmbedQueue) run(stop <-chan struct{}) {
	defer q.wg.Done()
	for {
		select {
		case <-stop:
			return
		case id := <-q.jobs:
			q.process(id)
			if q.metrics != nil {
				q.metrics.EmbedQueueSize.Set(float64(len(q.jobs)))
			}
		}
	}
}

// process embeds one observation. Failures are logged and dropped; the
// ingest path must never see them.
func (q *EmbedQueue) process(id int64) {
	log := logging.Get(logging.CategoryEmbedding)

	ctx, cancel := context.WithTimeout(context.Background(), embedTimeout)
	defer cancel()

	obs, err := q.store.GetObservation(ctx, id)
	if err != nil || obs == nil {
		log.Warnw("embed job lost its observation", "id", id, "error", err)
		return
	}

	vec, err := q.engine.Embed(ctx, EmbeddingText(obs))
	if err != nil {
		if q.metrics != nil {
			q.metrics.EmbeddingsDropped.Inc()
		}
		log.Warnw("embedding failed", "id", id, "error", err)
		return
	}
	if err := q.store.UpsertEmbedding(ctx, id, vec, q.engine.Name()); err != nil {
		if q.metrics != nil {
			q.metrics.EmbeddingsDropped.Inc()
		}
		log.Warnw("embedding store failed", "id", id, "error", err)
		return
	}
	if q.metrics != nil {
		q.metrics.EmbeddingsGenerated.Inc()
	}
}

// Backfill embeds every observation that lacks a vector, in batches, until
// none remain or ctx ends. It returns how many rows gained an embedding.
func (q *EmbedQueue) Backfill(ctx context.Context) (int, error) {
	if q.engine == nil {
		return 0, apperr.New(apperr.KindValidation, "no embedding engine configured")
	}
	log := logging.Get(logging.CategoryEmbedding)

	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		ids, err := q.store.MissingEmbeddingIDs(ctx, backfillBatchSize)
		if err != nil {
			return total, apperr.Wrap(apperr.KindInternal, "list unembedded rows", err)
		}
		if len(ids) == 0 {
			break
		}

		obs, err := q.store.GetObservations(ctx, ids)
		if err != nil {
			return total, apperr.Wrap(apperr.KindInternal, "load unembedded rows", err)
		}
		texts := make([]string, len(obs))
		for i, o := range obs {
			texts[i] = EmbeddingText(o)
		}

		embedCtx, cancel := context.WithTimeout(ctx, embedTimeout*time.Duration(1+len(texts)/10))
		vecs, err := q.engine.EmbedBatch(embedCtx, texts)
		if err != nil {
			// Batch endpoints flake; fall back to one call per row.
			vecs = make([][]float32, len(texts))
			for i, text := range texts {
				vec, embedErr := q.engine.Embed(embedCtx, text)
				if embedErr != nil {
					continue
				}
				vecs[i] = vec
			}
		}
		cancel()

		embedded := 0
		for i, o := range obs {
			if len(vecs) <= i || len(vecs[i]) == 0 {
				continue
			}
			if err := q.store.UpsertEmbedding(ctx, o.ID, vecs[i], q.engine.Name()); err != nil {
				log.Warnw("backfill upsert failed", "id", o.ID, "error", err)
				continue
			}
			embedded++
		}
		total += embedded
		if q.metrics != nil {
			q.metrics.EmbeddingsGenerated.Add(float64(embedded))
		}
		if embedded == 0 {
			// Nothing in this batch could be embedded; bail instead of
			// spinning on the same ids.
			break
		}
		log.Infow("backfill progress", "embedded", total)
	}
	return total, nil
}

// EmbeddingText is the canonical text an observation is embedded under. The
// same recipe must serve ingest and backfill or stored vectors drift.
func EmbeddingText(o *store.Observation) string {
	parts := make([]string, 0, 3)
	for _, s := range []string{o.Title, o.Narrative, o.Text} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	text := strings.Join(parts, "\n")
	if len(text) > embedTextLimit {
		text = text[:embedTextLimit]
	}
	return text
}
