package uploader

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ianusa/phoeup/lib/errs"
	"github.com/ianusa/phoeup/lib/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memFile struct {
	name string
	*bytes.Reader
}

func newMemFile(name string, data []byte) *memFile {
	return &memFile{name: name, Reader: bytes.NewReader(data)}
}

func (f *memFile) Name() string { return f.name }

type received struct {
	req  ChunkRequest
	data []byte
}

// fakeIngester records every chunk it is sent
type fakeIngester struct {
	mu     sync.Mutex
	chunks []received
	failAt int // chunk index to refuse, -1 for none
	hook   func(req *ChunkRequest)
}

func newFakeIngester() *fakeIngester {
	return &fakeIngester{failAt: -1}
}

func (f *fakeIngester) UploadChunk(ctx context.Context, req *ChunkRequest) error {
	data, err := io.ReadAll(req.Body)
	if err != nil {
		return err
	}
	if f.hook != nil {
		f.hook(req)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	r := *req
	r.Body = nil
	f.chunks = append(f.chunks, received{req: r, data: data})
	if req.Index == f.failAt {
		return errors.New("Chunk size exceeds 10MB")
	}
	return nil
}

func (f *fakeIngester) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.chunks)
}

// sorted returns the chunks received in index order
func (f *fakeIngester) sorted() []received {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]received(nil), f.chunks...)
	sort.Slice(out, func(i, j int) bool { return out[i].req.Index < out[j].req.Index })
	return out
}

type eventLog struct {
	mu     sync.Mutex
	events []Progress
}

func (l *eventLog) record(p Progress) {
	l.mu.Lock()
	l.events = append(l.events, p)
	l.mu.Unlock()
}

func (l *eventLog) all() []Progress {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Progress(nil), l.events...)
}

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}

func TestUploadSplitsIntoTenMebiChunks(t *testing.T) {
	const size = 25 << 20
	data := pattern(size)
	dst := newFakeIngester()
	u := New(dst, Options{})

	status, err := u.Upload(context.Background(), newMemFile("big.bin", data), "root", nil)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, status)

	got := dst.sorted()
	require.Len(t, got, 3)
	wantLens := []int{10 << 20, 10 << 20, 5 << 20}
	var joined []byte
	for i, c := range got {
		assert.Equal(t, i, c.req.Index)
		assert.Equal(t, 3, c.req.TotalChunks)
		assert.Equal(t, "big.bin", c.req.FileName)
		assert.Equal(t, "root", c.req.FolderID)
		assert.Equal(t, got[0].req.SessionID, c.req.SessionID)
		assert.Equal(t, int64(wantLens[i]), c.req.Size)
		assert.Len(t, c.data, wantLens[i])
		joined = append(joined, c.data...)
	}
	assert.NotEmpty(t, got[0].req.SessionID)
	assert.True(t, bytes.Equal(data, joined), "chunks do not reassemble to the file")
}

func TestUploadSubmitsChunksInIndexOrder(t *testing.T) {
	dst := newFakeIngester()
	u := New(dst, Options{ChunkSize: 10, Concurrency: 1})

	status, err := u.Upload(context.Background(), newMemFile("a.txt", pattern(95)), "root", nil)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, status)

	dst.mu.Lock()
	defer dst.mu.Unlock()
	require.Len(t, dst.chunks, 10)
	for i, c := range dst.chunks {
		assert.Equal(t, i, c.req.Index)
	}
}

func TestUploadProgressWithOutOfOrderAcks(t *testing.T) {
	dst := newFakeIngester()
	release := make(chan struct{})
	dst.hook = func(req *ChunkRequest) {
		if req.Index == 0 {
			<-release
		}
	}
	u := New(dst, Options{ChunkSize: 10, Concurrency: 4})

	var (
		log   eventLog
		acks  int
		once  sync.Once
		seen  []int64
	)
	fn := func(p Progress) {
		log.record(p)
		seen = append(seen, p.Bytes)
		if p.Bytes > 0 {
			acks++
		}
		// chunks 1 to 3 are in, now let chunk 0 finish
		if acks == 3 {
			once.Do(func() { close(release) })
		}
	}
	status, err := u.Upload(context.Background(), newMemFile("a.txt", pattern(40)), "root", fn)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, status)

	assert.Equal(t, []int64{0, 10, 20, 30, 40, 40}, seen)
	events := log.all()
	assert.Equal(t, StateFinalizing, events[4].State)
	assert.Equal(t, StateCompleted, events[5].State)

	dst.mu.Lock()
	defer dst.mu.Unlock()
	require.Len(t, dst.chunks, 4)
	assert.Equal(t, 0, dst.chunks[3].req.Index, "chunk 0 should have been received last")
}

func TestUploadProgressNeverGoesBackwards(t *testing.T) {
	data := pattern(1000)
	dst := newFakeIngester()
	dst.hook = func(*ChunkRequest) { time.Sleep(time.Millisecond) }
	u := New(dst, Options{ChunkSize: 10, Concurrency: 8})

	var log eventLog
	status, err := u.Upload(context.Background(), newMemFile("a.txt", data), "root", log.record)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, status)
	assert.Equal(t, 100, dst.calls())

	events := log.all()
	require.NotEmpty(t, events)
	assert.Equal(t, StateUploading, events[0].State)
	assert.Equal(t, int64(0), events[0].Bytes)
	for i := 1; i < len(events); i++ {
		assert.GreaterOrEqual(t, events[i].Bytes, events[i-1].Bytes, "event %d went backwards", i)
		assert.LessOrEqual(t, events[i].Bytes, events[i].Total)
	}
	last := events[len(events)-1]
	assert.Equal(t, StateCompleted, last.State)
	assert.Equal(t, int64(1000), last.Bytes)
	assert.Equal(t, 100, last.Percent())
	// one start, one per chunk, one completion
	assert.Len(t, events, 102)
}

func TestUploadRejectsEmptyFile(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	dst := newFakeIngester()
	u := New(dst, Options{Metrics: m})
	var log eventLog

	status, err := u.Upload(context.Background(), newMemFile("empty", nil), "root", log.record)
	assert.Equal(t, StatusFailed, status)
	require.Error(t, err)
	assert.True(t, errs.IsValidation(err))
	assert.Equal(t, ErrEmptyFile, err)
	assert.EqualError(t, err, "Your uploaded file is empty")
	assert.Equal(t, 0, dst.calls())
	assert.Empty(t, log.all())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Uploads.WithLabelValues(metrics.StatusRejected)))
}

func TestUploadRejectsMissingFile(t *testing.T) {
	dst := newFakeIngester()
	u := New(dst, Options{})

	status, err := u.Upload(context.Background(), nil, "root", nil)
	assert.Equal(t, StatusFailed, status)
	assert.Equal(t, ErrNoFile, err)
	assert.EqualError(t, err, "You did not upload a file")
	assert.Equal(t, 0, dst.calls())
}

func TestUploadRejectsNilPointerFile(t *testing.T) {
	dst := newFakeIngester()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	u := New(dst, Options{Metrics: m})

	var f *memFile
	status, err := u.Upload(context.Background(), f, "root", nil)
	assert.Equal(t, StatusFailed, status)
	assert.Equal(t, ErrNoFile, err)
	assert.Equal(t, 0, dst.calls())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Uploads.WithLabelValues(metrics.StatusRejected)))
}

func TestUploadStopsAfterFailedChunk(t *testing.T) {
	dst := newFakeIngester()
	dst.failAt = 3
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	u := New(dst, Options{ChunkSize: 10, Concurrency: 1, Metrics: m})
	var log eventLog

	status, err := u.Upload(context.Background(), newMemFile("a.txt", pattern(100)), "root", log.record)
	assert.Equal(t, StatusFailed, status)
	require.Error(t, err)
	assert.True(t, errs.IsTransfer(err))
	assert.Contains(t, err.Error(), "upload chunk 4/10")
	assert.Contains(t, err.Error(), "Chunk size exceeds 10MB")

	// chunks 0..3 were sent and nothing after the failure
	assert.Equal(t, 4, dst.calls())

	events := log.all()
	last := events[len(events)-1]
	assert.Equal(t, StateFailed, last.State)
	assert.Equal(t, int64(30), last.Bytes)
	assert.Equal(t, err, last.Err)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.ChunksUploaded))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ChunkFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Uploads.WithLabelValues(metrics.StatusFailed)))
}

func TestUploadFailureWithConcurrencyStartsNoNewChunks(t *testing.T) {
	dst := newFakeIngester()
	dst.failAt = 0
	u := New(dst, Options{ChunkSize: 1, Concurrency: 4})
	dst.hook = func(req *ChunkRequest) {
		if req.Index != 0 {
			time.Sleep(5 * time.Millisecond)
		}
	}

	status, err := u.Upload(context.Background(), newMemFile("a.txt", pattern(200)), "root", nil)
	assert.Equal(t, StatusFailed, status)
	require.Error(t, err)
	// at most the chunks already claimed by the other workers
	assert.LessOrEqual(t, dst.calls(), 4)
}

func TestUploadCancel(t *testing.T) {
	dst := newFakeIngester()
	started := make(chan struct{})
	release := make(chan struct{})
	var startOnce sync.Once
	dst.hook = func(req *ChunkRequest) {
		startOnce.Do(func() { close(started) })
		<-release
	}
	u := New(dst, Options{ChunkSize: 10, Concurrency: 1})

	cancelled := make(chan struct{})
	var cancelOnce sync.Once
	var log eventLog
	fn := func(p Progress) {
		log.record(p)
		if p.State == StateCancelled {
			cancelOnce.Do(func() { close(cancelled) })
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	type result struct {
		status Status
		err    error
	}
	done := make(chan result, 1)
	go func() {
		status, err := u.Upload(ctx, newMemFile("a.txt", pattern(100)), "root", fn)
		done <- result{status, err}
	}()

	<-started
	cancel()
	select {
	case <-cancelled:
	case <-time.After(5 * time.Second):
		t.Fatal("no cancelled event while a chunk was in flight")
	}
	close(release)

	res := <-done
	assert.NoError(t, res.err)
	assert.Equal(t, StatusCancelled, res.status)
	assert.Equal(t, 1, dst.calls())

	// the in flight chunk's ack arrives after cancellation and is dropped
	events := log.all()
	last := events[len(events)-1]
	assert.Equal(t, StateCancelled, last.State)
	assert.Equal(t, int64(0), last.Bytes)
}

func TestUploadAlreadyCancelled(t *testing.T) {
	dst := newFakeIngester()
	u := New(dst, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	status, err := u.Upload(ctx, newMemFile("a.txt", pattern(10)), "root", nil)
	assert.NoError(t, err)
	assert.Equal(t, StatusCancelled, status)
	assert.Equal(t, 0, dst.calls())
}

func TestUploadDetectsMimeType(t *testing.T) {
	dst := newFakeIngester()
	u := New(dst, Options{})
	var log eventLog
	data := []byte("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n1 0 obj\n<<>>\nendobj\n")

	_, err := u.Upload(context.Background(), newMemFile("doc.pdf", data), "root", log.record)
	require.NoError(t, err)
	events := log.all()
	require.NotEmpty(t, events)
	assert.Equal(t, "application/pdf", events[0].MimeType)
}

func TestUploadElapsedUsesClock(t *testing.T) {
	dst := newFakeIngester()
	u := New(dst, Options{ChunkSize: 10, Concurrency: 1})
	var mu sync.Mutex
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	u.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
	var log eventLog

	_, err := u.Upload(context.Background(), newMemFile("a.txt", pattern(20)), "root", log.record)
	require.NoError(t, err)
	events := log.all()
	for i := 1; i < len(events); i++ {
		assert.Greater(t, events[i].Elapsed, events[i-1].Elapsed)
	}
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "completed", StatusCompleted.String())
	assert.Equal(t, "cancelled", StatusCancelled.String())
	assert.Equal(t, "failed", StatusFailed.String())
	assert.Equal(t, "Status(9)", Status(9).String())
}
