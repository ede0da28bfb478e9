// Package metrics exposes prometheus counters for uploads and folder
// resolution.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "phoeup"

// Upload outcomes used as the status label of UploadsTotal
const (
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
	StatusFailed    = "failed"
	StatusRejected  = "rejected"
)

// Metrics holds the collectors. A nil *Metrics is valid and records
// nothing so callers never need to check.
type Metrics struct {
	ChunksUploaded prometheus.Counter
	ChunkBytes     prometheus.Counter
	ChunkFailures  prometheus.Counter
	Uploads        *prometheus.CounterVec
	FolderLookups  prometheus.Counter
	FoldersCreated prometheus.Counter
}

// New makes the collectors and registers them with reg. If reg is nil
// they are not registered anywhere.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ChunksUploaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_uploaded_total",
			Help:      "Chunks acknowledged by the server.",
		}),
		ChunkBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunk_bytes_total",
			Help:      "Bytes acknowledged by the server.",
		}),
		ChunkFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunk_failures_total",
			Help:      "Chunk requests which failed.",
		}),
		Uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "File uploads by final status.",
		}, []string{"status"}),
		FolderLookups: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "folder_lookups_total",
			Help:      "Remote folder lookups by name.",
		}),
		FoldersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "folders_created_total",
			Help:      "Remote folders created.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.ChunksUploaded,
			m.ChunkBytes,
			m.ChunkFailures,
			m.Uploads,
			m.FolderLookups,
			m.FoldersCreated,
		)
	}
	return m
}

// ChunkDone records an acknowledged chunk of n bytes
func (m *Metrics) ChunkDone(n int64) {
	if m == nil {
		return
	}
	m.ChunksUploaded.Inc()
	m.ChunkBytes.Add(float64(n))
}

// ChunkFailed records a failed chunk request
func (m *Metrics) ChunkFailed() {
	if m == nil {
		return
	}
	m.ChunkFailures.Inc()
}

// UploadFinished records the final status of a file upload
func (m *Metrics) UploadFinished(status string) {
	if m == nil {
		return
	}
	m.Uploads.WithLabelValues(status).Inc()
}

// FolderLookup records a lookup of a folder by name
func (m *Metrics) FolderLookup() {
	if m == nil {
		return
	}
	m.FolderLookups.Inc()
}

// FolderCreated records the creation of a remote folder
func (m *Metrics) FolderCreated() {
	if m == nil {
		return
	}
	m.FoldersCreated.Inc()
}
