package worker

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/heyitswin/zipsea-sub004/internal/metrics"
	"github.com/heyitswin/zipsea-sub004/internal/pricesync"
	"github.com/heyitswin/zipsea-sub004/internal/storage/memory"
)

func init() {
	metrics.Init()
}

type fakeQueue struct {
	mu    sync.Mutex
	items []pricesync.QueueItem
}

func (q *fakeQueue) Enqueue(_ context.Context, item pricesync.QueueItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item)
	return nil
}

func (q *fakeQueue) Dequeue(ctx context.Context) (pricesync.QueueItem, error) {
	q.mu.Lock()
	if len(q.items) > 0 {
		item := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()
		return item, nil
	}
	q.mu.Unlock()
	<-ctx.Done()
	return pricesync.QueueItem{}, ctx.Err()
}

type fakeEnumerator struct {
	refs []pricesync.FileRef
	err  error
}

func (e *fakeEnumerator) Enumerate(context.Context, int64, pricesync.DateWindow) ([]pricesync.FileRef, error) {
	return e.refs, e.err
}

type fakeDownloader struct {
	result pricesync.BatchResult
	err    error
}

func (d *fakeDownloader) Download(context.Context, []pricesync.FileRef) (pricesync.BatchResult, error) {
	return d.result, d.err
}

type passthroughNormalizer struct {
	// failIDs lists sailing IDs whose payloads are unrepairable.
	failIDs map[string]bool
}

func (n *passthroughNormalizer) Normalize(ref pricesync.FileRef, raw []byte) (pricesync.NormalizedItem, error) {
	if n.failIDs[ref.SailingID] {
		return pricesync.NormalizedItem{}, pricesync.ErrUnrepairable
	}
	var doc struct {
		CheapestInside float64 `json:"cheapestinside"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return pricesync.NormalizedItem{}, errors.Join(err, pricesync.ErrUnrepairable)
	}
	item := pricesync.NormalizedItem{
		Line:    pricesync.CruiseLine{ID: ref.LineID},
		Ship:    pricesync.Ship{ID: ref.ShipID, LineID: ref.LineID},
		Sailing: pricesync.Sailing{ID: ref.SailingID, LineID: ref.LineID, ShipID: ref.ShipID},
	}
	if doc.CheapestInside > 0 {
		item.Prices = pricesync.PriceSnapshot{
			SailingID: ref.SailingID,
			Interior:  &doc.CheapestInside,
			Cheapest:  &doc.CheapestInside,
		}
	}
	return item, nil
}

type capturingWriter struct {
	mu      sync.Mutex
	items   []pricesync.NormalizedItem
	err     error
	failIDs map[string]bool
}

func (w *capturingWriter) WriteItem(_ context.Context, item pricesync.NormalizedItem) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	if w.failIDs[item.Sailing.ID] {
		return errors.New("deadlock detected")
	}
	w.items = append(w.items, item)
	return nil
}

func (w *capturingWriter) written() []pricesync.NormalizedItem {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]pricesync.NormalizedItem, len(w.items))
	copy(out, w.items)
	return out
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

type harness struct {
	queue      *fakeQueue
	jobs       *memory.JobStore
	locks      *memory.LockStore
	flags      *memory.FlagStore
	enumerator *fakeEnumerator
	downloader *fakeDownloader
	normalizer *passthroughNormalizer
	writer     *capturingWriter
	blobs      *memory.BlobStore
	clock      *fakeClock
	worker     *Worker
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := &fakeClock{now: time.Unix(1_760_000_000, 0).UTC()}
	h := &harness{
		queue:      &fakeQueue{},
		jobs:       memory.NewJobStore(),
		locks:      memory.NewLockStore(clock),
		flags:      memory.NewFlagStore(),
		enumerator: &fakeEnumerator{},
		downloader: &fakeDownloader{},
		normalizer: &passthroughNormalizer{failIDs: map[string]bool{}},
		writer:     &capturingWriter{},
		blobs:      memory.NewBlobStore(),
		clock:      clock,
	}
	h.worker = New(
		h.queue, h.jobs, h.locks, h.flags,
		h.enumerator, h.downloader, h.normalizer, h.writer,
		nil, h.blobs, h.clock, nil,
		Config{LockTTL: 30 * time.Minute},
		zap.NewNop(),
	)
	return h
}

func (h *harness) createJob(t *testing.T, jobID string, lineID int64) pricesync.QueueItem {
	t.Helper()
	require.NoError(t, h.jobs.CreateJob(context.Background(), pricesync.Job{
		ID:        jobID,
		LineID:    lineID,
		Event:     "cruiseline_pricing_updated",
		Status:    pricesync.JobStatusPending,
		Submitted: h.clock.now,
	}))
	return pricesync.QueueItem{
		JobID:       jobID,
		LineID:      lineID,
		Event:       "cruiseline_pricing_updated",
		TriggeredAt: h.clock.now,
		Attempt:     1,
	}
}

func batchFor(files map[string][]byte, extra map[pricesync.Outcome]int) pricesync.BatchResult {
	total := len(files)
	for _, n := range extra {
		total += n
	}
	result := pricesync.NewBatchResult(total)
	result.Counts[pricesync.OutcomeSuccess] = len(files)
	for outcome, n := range extra {
		result.Counts[outcome] = n
	}
	for id, body := range files {
		result.Succeeded[id] = pricesync.Download{
			Ref:  pricesync.FileRef{Path: "/2026/09/22/180/" + id + ".json", LineID: 22, ShipID: 180, SailingID: id},
			Body: body,
		}
	}
	return result
}

func refs(n int) []pricesync.FileRef {
	out := make([]pricesync.FileRef, n)
	for i := range out {
		out[i] = pricesync.FileRef{LineID: 22, ShipID: 180, SailingID: strconv.Itoa(900001 + i)}
	}
	return out
}

func TestWorker_NotFoundIsNotAFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.enumerator.refs = refs(3)
	h.downloader.result = batchFor(map[string][]byte{
		"900001": []byte(`{"cheapestinside": 400}`),
		"900002": []byte(`{"cheapestinside": 650}`),
	}, map[pricesync.Outcome]int{pricesync.OutcomeNotFound: 1})

	item := h.createJob(t, "job-1", 22)
	h.worker.processJob(context.Background(), item)

	job, err := h.jobs.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	// notFound is not a failure, so the job still succeeds.
	require.Equal(t, pricesync.JobStatusSucceeded, job.Status)
	require.Equal(t, 3, job.Counters.FilesTotal)
	require.Equal(t, 2, job.Counters.Succeeded)
	require.Equal(t, 1, job.Counters.NotFound)
	require.Equal(t, 2, job.Counters.ItemsWritten)

	written := h.writer.written()
	require.Len(t, written, 2)

	_, held := h.locks.Holder(22)
	require.False(t, held)
}

func TestWorker_ConnectionFailuresMakeJobPartial(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.enumerator.refs = refs(3)
	h.downloader.result = batchFor(map[string][]byte{
		"900001": []byte(`{"cheapestinside": 400}`),
	}, map[pricesync.Outcome]int{pricesync.OutcomeConnectionFailure: 2})

	item := h.createJob(t, "job-1", 22)
	h.worker.processJob(context.Background(), item)

	job, err := h.jobs.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, pricesync.JobStatusPartial, job.Status)
	require.Equal(t, 2, job.Counters.ConnectionFailures)
}

func TestWorker_NothingSucceededMeansFailed(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.enumerator.refs = refs(2)
	h.downloader.result = batchFor(nil, map[pricesync.Outcome]int{pricesync.OutcomeConnectionFailure: 2})

	item := h.createJob(t, "job-1", 22)
	h.worker.processJob(context.Background(), item)

	job, err := h.jobs.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, pricesync.JobStatusFailed, job.Status)
}

func TestWorker_UnrepairablePayloadReclassifiedAndQuarantined(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.enumerator.refs = refs(2)
	h.normalizer.failIDs["900002"] = true
	h.downloader.result = batchFor(map[string][]byte{
		"900001": []byte(`{"cheapestinside": 400}`),
		"900002": []byte(`{"0":"g","1":"a","2":"r"}`),
	}, nil)

	item := h.createJob(t, "job-1", 22)
	h.worker.processJob(context.Background(), item)

	job, err := h.jobs.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, pricesync.JobStatusPartial, job.Status)
	require.Equal(t, 1, job.Counters.Succeeded)
	require.Equal(t, 1, job.Counters.ParseErrors)
	require.Equal(t, 1, job.Counters.ItemsWritten)

	// The raw payload lands in quarantine for inspection.
	body, ok := h.blobs.Object("quarantine/22/900002.json")
	require.True(t, ok)
	require.Equal(t, []byte(`{"0":"g","1":"a","2":"r"}`), body)
}

func TestWorker_WriteFailureCounted(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.enumerator.refs = refs(1)
	h.writer.err = errors.New("deadlock detected")
	h.downloader.result = batchFor(map[string][]byte{
		"900001": []byte(`{"cheapestinside": 400}`),
	}, nil)

	item := h.createJob(t, "job-1", 22)
	h.worker.processJob(context.Background(), item)

	job, err := h.jobs.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, pricesync.JobStatusFailed, job.Status)
	require.Equal(t, 1, job.Counters.WriteFailures)
	require.Equal(t, 0, job.Counters.Succeeded)
	require.Equal(t, 0, job.Counters.ItemsWritten)
}

func TestWorker_WriteFailureAmongSuccessesIsPartial(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.enumerator.refs = refs(2)
	h.writer.failIDs = map[string]bool{"900002": true}
	h.downloader.result = batchFor(map[string][]byte{
		"900001": []byte(`{"cheapestinside": 400}`),
		"900002": []byte(`{"cheapestinside": 500}`),
	}, nil)

	item := h.createJob(t, "job-1", 22)
	h.worker.processJob(context.Background(), item)

	job, err := h.jobs.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, pricesync.JobStatusPartial, job.Status)
	require.Equal(t, 1, job.Counters.Succeeded)
	require.Equal(t, 1, job.Counters.WriteFailures)
	require.Equal(t, 1, job.Counters.ItemsWritten)
}

func TestWorker_LockContentionSkipsJob(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	acquired, err := h.locks.TryAcquire(context.Background(), 22, "other-job", time.Hour)
	require.NoError(t, err)
	require.True(t, acquired)

	item := h.createJob(t, "job-1", 22)
	h.worker.processJob(context.Background(), item)

	job, err := h.jobs.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, pricesync.JobStatusSkipped, job.Status)

	// The contended lock is untouched.
	holder, held := h.locks.Holder(22)
	require.True(t, held)
	require.Equal(t, "other-job", holder)
}

func TestWorker_PausedFlagSkipsJob(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	require.NoError(t, h.flags.SetBool(context.Background(), pricesync.FlagWebhooksPaused, true))

	item := h.createJob(t, "job-1", 22)
	h.worker.processJob(context.Background(), item)

	job, err := h.jobs.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, pricesync.JobStatusSkipped, job.Status)
	require.Empty(t, h.writer.written())
}

func TestWorker_EnumerationFailureIsFatal(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.enumerator.err = errors.New("listing tree: connection refused")

	item := h.createJob(t, "job-1", 22)
	h.worker.processJob(context.Background(), item)

	job, err := h.jobs.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, pricesync.JobStatusFailed, job.Status)
	require.Contains(t, job.ErrorText, "enumerate")

	_, held := h.locks.Holder(22)
	require.False(t, held)
}

func TestWorker_PausedMidBatch(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.enumerator.refs = refs(4)
	result := batchFor(map[string][]byte{
		"900001": []byte(`{"cheapestinside": 400}`),
	}, nil)
	result.Paused = true
	h.downloader.result = result

	item := h.createJob(t, "job-1", 22)
	h.worker.processJob(context.Background(), item)

	job, err := h.jobs.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, pricesync.JobStatusPartial, job.Status)
	require.Contains(t, job.ErrorText, "paused")
}

func TestWorker_RunConsumesQueue(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.enumerator.refs = refs(1)
	h.downloader.result = batchFor(map[string][]byte{
		"900001": []byte(`{"cheapestinside": 400}`),
	}, nil)

	item := h.createJob(t, "job-1", 22)
	require.NoError(t, h.queue.Enqueue(context.Background(), item))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.worker.Run(ctx)

	require.Eventually(t, func() bool {
		job, err := h.jobs.GetJob(context.Background(), "job-1")
		return err == nil && job.Status == pricesync.JobStatusSucceeded
	}, time.Second, 10*time.Millisecond)
	cancel()
}
