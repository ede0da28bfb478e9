// Package uploader sends one file to the remote store as a series of
// fixed size chunks uploaded concurrently.
package uploader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/ianusa/phoeup/lib/errs"
	"github.com/ianusa/phoeup/lib/metrics"
	"github.com/ianusa/phoeup/lib/scheduler"
	"github.com/rclone/rclone/fs"
)

const (
	// DefaultChunkSize is the size of every chunk but the last. The
	// server places chunks at index * 10 MiB so this must not change.
	DefaultChunkSize = int64(10 * fs.Mebi)
	// DefaultConcurrency is the number of chunks in flight per file
	DefaultConcurrency = 10
	// bytes read to guess the content type
	sniffLen = 3072
)

var (
	// ErrNoFile is returned when Upload is called without a file
	ErrNoFile = errs.NewValidation("file", "You did not upload a file")
	// ErrEmptyFile is returned for zero length files
	ErrEmptyFile = errs.NewValidation("file", "Your uploaded file is empty")

	errIncomplete = errors.New("upload ended before every chunk was acknowledged")
)

// File is the local content to upload
type File interface {
	Name() string
	Size() int64
	io.ReaderAt
}

// ChunkRequest is one chunk as it is sent to the server
type ChunkRequest struct {
	Index       int
	TotalChunks int
	FileName    string
	FolderID    string
	SessionID   string
	Size        int64
	Body        io.Reader
}

// Ingester accepts chunks. UploadChunk returns an error carrying the
// server's message if the chunk was refused.
type Ingester interface {
	UploadChunk(ctx context.Context, req *ChunkRequest) error
}

// Status is the final result of Upload
type Status int

// Upload results
const (
	StatusCompleted Status = iota
	StatusCancelled
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusCompleted:
		return metrics.StatusCompleted
	case StatusCancelled:
		return metrics.StatusCancelled
	case StatusFailed:
		return metrics.StatusFailed
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Options configures an Uploader
type Options struct {
	ChunkSize   int64            // defaults to DefaultChunkSize
	Concurrency int              // defaults to DefaultConcurrency
	Metrics     *metrics.Metrics // may be nil
}

// Uploader uploads files through an Ingester
type Uploader struct {
	dst Ingester
	opt Options
	now func() time.Time
}

// New makes an Uploader sending chunks to dst
func New(dst Ingester, opt Options) *Uploader {
	if opt.ChunkSize <= 0 {
		opt.ChunkSize = DefaultChunkSize
	}
	if opt.Concurrency <= 0 {
		opt.Concurrency = DefaultConcurrency
	}
	return &Uploader{dst: dst, opt: opt, now: time.Now}
}

// Upload sends file into the remote folder folderID.
//
// fn, if not nil, is called with a progress event when the session
// starts, each time a chunk is acknowledged and once with the final
// state.
//
// Cancelling ctx cancels the upload: no further chunk is started and a
// StateCancelled event is sent at once. Chunk requests already in
// flight are not interrupted, Upload waits for them and ignores their
// results, then returns StatusCancelled and a nil error.
//
// A missing file, including a nil pointer behind File, is rejected
// with ErrNoFile and an empty one with ErrEmptyFile.
//
// If any chunk fails no further chunks are started and Upload returns
// StatusFailed with an *errs.TransferError. Chunks already accepted by
// the server are left there.
func (u *Uploader) Upload(ctx context.Context, file File, folderID string, fn ProgressFunc) (Status, error) {
	size, ok := fileSize(file)
	if !ok {
		u.opt.Metrics.UploadFinished(metrics.StatusRejected)
		return StatusFailed, ErrNoFile
	}
	if size <= 0 {
		u.opt.Metrics.UploadFinished(metrics.StatusRejected)
		return StatusFailed, ErrEmptyFile
	}
	if ctx.Err() != nil {
		return StatusCancelled, nil
	}

	s := newSession(file, folderID, u.opt.ChunkSize, u.now, fn)
	s.MimeType = detectMimeType(file)
	fs.Debugf(s, "upload %s starting: %v in %d chunks to folder %q", s.ID, fs.SizeSuffix(s.TotalSize), s.TotalChunks, folderID)

	stop := context.AfterFunc(ctx, func() {
		fs.Infof(s, "upload cancelled")
		s.cancel()
	})
	defer stop()
	s.start()

	// requests in flight must outlive a cancelled ctx
	reqCtx := context.WithoutCancel(ctx)
	chunks := Split(s.TotalSize, u.opt.ChunkSize)
	tasks := make([]scheduler.Task, len(chunks))
	for i := range chunks {
		c := chunks[i]
		tasks[i] = func() error {
			return u.uploadChunk(reqCtx, file, s, c)
		}
	}
	outcomes := scheduler.Run(tasks, u.opt.Concurrency, s.token)

	state, err := s.finish()
	switch state {
	case StateCompleted:
		fs.Debugf(s, "upload %s complete", s.ID)
		u.opt.Metrics.UploadFinished(metrics.StatusCompleted)
		return StatusCompleted, nil
	case StateCancelled:
		fs.Debugf(s, "upload %s cancelled after %d/%d chunks started", s.ID, scheduler.Started(outcomes), len(chunks))
		u.opt.Metrics.UploadFinished(metrics.StatusCancelled)
		return StatusCancelled, nil
	}
	u.opt.Metrics.UploadFinished(metrics.StatusFailed)
	return StatusFailed, err
}

// fileSize returns the size of file. ok is false if there is no file,
// which includes a nil pointer stored in the interface.
func fileSize(file File) (size int64, ok bool) {
	if file == nil {
		return 0, false
	}
	defer func() {
		if r := recover(); r != nil {
			size, ok = 0, false
		}
	}()
	return file.Size(), true
}

// uploadChunk sends a single chunk and accounts for it in s
func (u *Uploader) uploadChunk(ctx context.Context, file File, s *Session, c Chunk) error {
	req := &ChunkRequest{
		Index:       c.Index,
		TotalChunks: s.TotalChunks,
		FileName:    s.FileName,
		FolderID:    s.FolderID,
		SessionID:   s.ID,
		Size:        c.Len(),
		Body:        io.NewSectionReader(file, c.Start, c.Len()),
	}
	err := u.dst.UploadChunk(ctx, req)
	if err != nil {
		u.opt.Metrics.ChunkFailed()
		err = errs.NewTransfer(fmt.Sprintf("upload chunk %d/%d", c.Index+1, s.TotalChunks), err)
		fs.Errorf(s, "%v", err)
		s.fail(err)
		return err
	}
	u.opt.Metrics.ChunkDone(c.Len())
	s.ack(c.Len())
	return nil
}

// detectMimeType sniffs the start of file
func detectMimeType(file File) string {
	mtype, err := mimetype.DetectReader(io.NewSectionReader(file, 0, min(file.Size(), sniffLen)))
	if err != nil {
		return "application/octet-stream"
	}
	return mtype.String()
}
