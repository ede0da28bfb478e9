package uploader

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ianusa/phoeup/lib/scheduler"
)

// Session is the state of one file upload. It lives for a single
// Upload call.
type Session struct {
	ID          string
	FileName    string
	MimeType    string
	FolderID    string
	TotalSize   int64
	TotalChunks int
	StartedAt   time.Time

	token *scheduler.Token
	now   func() time.Time
	fn    ProgressFunc

	mu    sync.Mutex
	acked int64 // only grows, protected by mu
	state State
	err   error
}

func newSession(file File, folderID string, chunkSize int64, now func() time.Time, fn ProgressFunc) *Session {
	return &Session{
		ID:          uuid.NewString(),
		FileName:    file.Name(),
		FolderID:    folderID,
		TotalSize:   file.Size(),
		TotalChunks: NumChunks(file.Size(), chunkSize),
		StartedAt:   now(),
		token:       scheduler.NewToken(),
		now:         now,
		fn:          fn,
		state:       StateUploading,
	}
}

// String returns the file name for logging
func (s *Session) String() string {
	return s.FileName
}

// Acknowledged returns the number of bytes the server has accepted
func (s *Session) Acknowledged() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acked
}

// snapshot must be called with mu held
func (s *Session) snapshot() Progress {
	return Progress{
		SessionID: s.ID,
		FileName:  s.FileName,
		MimeType:  s.MimeType,
		State:     s.state,
		Bytes:     s.acked,
		Total:     s.TotalSize,
		Elapsed:   s.now().Sub(s.StartedAt),
		Err:       s.err,
	}
}

// emit must be called with mu held so events leave in the order the
// state changed
func (s *Session) emit() {
	if s.fn != nil {
		s.fn(s.snapshot())
	}
}

// start announces the session
func (s *Session) start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emit()
}

// ack adds n acknowledged bytes. Acks arriving after the session ended
// are dropped.
func (s *Session) ack(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return
	}
	s.acked += n
	if s.acked >= s.TotalSize {
		s.state = StateFinalizing
	}
	s.emit()
}

// fail ends the session with err and stops further chunks being
// scheduled. Only the first failure is kept.
func (s *Session) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token.Cancel()
	if s.state.Terminal() {
		return
	}
	s.state = StateFailed
	s.err = err
	s.emit()
}

// cancel ends the session straight away without waiting for chunks in
// flight
func (s *Session) cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token.Cancel()
	if s.state.Terminal() {
		return
	}
	s.state = StateCancelled
	s.emit()
}

// finish settles the final state once every started chunk has returned
func (s *Session) finish() (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.Terminal() {
		if s.acked == s.TotalSize {
			s.state = StateCompleted
		} else {
			s.state = StateFailed
			s.err = errIncomplete
		}
		s.emit()
	}
	return s.state, s.err
}
