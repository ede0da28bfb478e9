package uploader

import (
	"fmt"
	"math"
	"time"
)

// State is the lifecycle state of an upload session
type State int

// Upload states
const (
	StateUploading  State = iota // chunks are being sent
	StateFinalizing              // every byte is acknowledged
	StateCompleted               // upload finished successfully
	StateFailed                  // a chunk failed, the session is over
	StateCancelled               // the user cancelled the upload
)

var stateNames = [...]string{
	StateUploading:  "uploading",
	StateFinalizing: "finalizing",
	StateCompleted:  "completed",
	StateFailed:     "failed",
	StateCancelled:  "cancelled",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Terminal returns true if no further events follow this state
func (s State) Terminal() bool {
	return s >= StateCompleted
}

// Progress is a snapshot of an upload session, passed to ProgressFunc.
//
// Bytes only ever grows for a given session.
type Progress struct {
	SessionID string
	FileName  string
	MimeType  string
	State     State
	Bytes     int64         // bytes acknowledged so far, summed over all chunks
	Total     int64         // size of the file
	Elapsed   time.Duration // time since the session started
	Err       error         // set when State is StateFailed
}

// ProgressFunc receives progress events. Calls for one session are
// serialised and must not block for long.
type ProgressFunc func(Progress)

// Fraction returns the share of the file acknowledged, 0..1
func (p Progress) Fraction() float64 {
	if p.Total <= 0 {
		return 0
	}
	return float64(p.Bytes) / float64(p.Total)
}

// Percent returns the rounded percentage acknowledged
func (p Progress) Percent() int {
	return int(math.Round(p.Fraction() * 100))
}

// ETA estimates the time left from the rate so far. ok is false while
// nothing has been acknowledged.
func (p Progress) ETA() (eta time.Duration, ok bool) {
	f := p.Fraction()
	if f <= 0 {
		return 0, false
	}
	secs := p.Elapsed.Seconds() * (1 - f) / f
	if math.IsNaN(secs) || math.IsInf(secs, 0) {
		return 0, false
	}
	return time.Duration(secs * float64(time.Second)), true
}

// Remaining renders the time left for display
func (p Progress) Remaining() string {
	if p.Fraction() >= 1 {
		return "finalizing..."
	}
	eta, ok := p.ETA()
	if !ok {
		return "estimating..."
	}
	return fmtRemaining(eta)
}

// fmtRemaining formats d as "1 hour, 2 min left" and friends
func fmtRemaining(d time.Duration) string {
	sec := int64(math.Max(0, math.Round(d.Seconds())))
	h := sec / 3600
	m := (sec % 3600) / 60
	s := sec % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%d hour, %d min left", h, m)
	case m > 0:
		return fmt.Sprintf("%d min, %d sec left", m, s)
	case s == 0:
		return "finalizing..."
	}
	return fmt.Sprintf("%d seconds left", s)
}
