package tree

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ianusa/phoeup/lib/errs"
	"github.com/ianusa/phoeup/lib/metrics"
	"github.com/ianusa/phoeup/pathresolver"
	"github.com/ianusa/phoeup/uploader"
	"github.com/rclone/rclone/fs"
)

// Uploader sends one file into a folder
type Uploader interface {
	Upload(ctx context.Context, file uploader.File, folderID string, fn uploader.ProgressFunc) (uploader.Status, error)
}

// Failure is a file which could not be uploaded
type Failure struct {
	Path string
	Err  error
}

func (f Failure) String() string {
	return fmt.Sprintf("%s: %v", f.Path, f.Err)
}

// Summary is the result of a Run
type Summary struct {
	Uploaded  []string  // paths uploaded
	Skipped   []string  // zero length files
	Failed    []Failure // paths which failed with their error
	Cancelled bool      // the run was stopped before the end
}

// Err returns an error describing the failures, or nil if there were
// none
func (s *Summary) Err() error {
	if len(s.Failed) == 0 {
		return nil
	}
	if len(s.Failed) == 1 {
		return fmt.Errorf("failed to upload %s", s.Failed[0])
	}
	return fmt.Errorf("failed to upload %d files, first %s", len(s.Failed), s.Failed[0])
}

func (s *Summary) String() string {
	var out strings.Builder
	fmt.Fprintf(&out, "%d uploaded, %d skipped, %d failed", len(s.Uploaded), len(s.Skipped), len(s.Failed))
	if s.Cancelled {
		out.WriteString(", cancelled")
	}
	return out.String()
}

// Orchestrator uploads the files of a Source one after another,
// creating the remote folders for their paths first.
type Orchestrator struct {
	up      Uploader
	dc      pathresolver.DirCacher
	metrics *metrics.Metrics
}

// New makes an Orchestrator uploading with up and resolving folders
// with dc. m may be nil.
func New(up Uploader, dc pathresolver.DirCacher, m *metrics.Metrics) *Orchestrator {
	return &Orchestrator{up: up, dc: dc, metrics: m}
}

// String returns a description for logging
func (o *Orchestrator) String() string {
	return "tree upload"
}

// Run uploads every item of src below the folder rootID. fn receives the
// progress of each file.
//
// Folders are resolved once per Run. A file which fails is recorded in
// the Summary and the run continues with the next one. Cancelling ctx
// stops the run before the next file and marks the Summary cancelled.
// The returned error is only set if src itself failed.
//
// If src is an io.Closer it is closed when Run returns, which releases
// whatever a cancelled run left unread.
func (o *Orchestrator) Run(ctx context.Context, rootID string, src Source, fn uploader.ProgressFunc) (*Summary, error) {
	if c, ok := src.(io.Closer); ok {
		defer func() {
			if err := c.Close(); err != nil {
				fs.Debugf(o, "close source: %v", err)
			}
		}()
	}
	res := pathresolver.New(o.dc, o.metrics)
	summary := &Summary{}
	for {
		if ctx.Err() != nil {
			summary.Cancelled = true
			break
		}
		item, err := src.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				summary.Cancelled = true
				break
			}
			return summary, fmt.Errorf("read upload source: %w", err)
		}
		o.upload(ctx, res, rootID, item, fn, summary)
		if summary.Cancelled {
			break
		}
	}
	fs.Infof(o, "%v", summary)
	return summary, nil
}

// upload sends a single item recording the outcome in summary
func (o *Orchestrator) upload(ctx context.Context, res *pathresolver.Resolver, rootID string, item Item, fn uploader.ProgressFunc, summary *Summary) {
	if c, ok := item.File.(io.Closer); ok {
		defer func() {
			if err := c.Close(); err != nil {
				fs.Debugf(o, "close %q: %v", item.Path, err)
			}
		}()
	}
	fail := func(err error) {
		fs.Errorf(o, "%s: %v", item.Path, err)
		summary.Failed = append(summary.Failed, Failure{Path: item.Path, Err: err})
	}
	if item.Err != nil {
		fail(item.Err)
		return
	}
	if item.File == nil {
		fail(uploader.ErrNoFile)
		return
	}
	if item.File.Size() == 0 {
		fs.Debugf(o, "%s: skipping empty file", item.Path)
		summary.Skipped = append(summary.Skipped, item.Path)
		return
	}

	folderID := rootID
	if dirs, _ := pathresolver.SplitPath(item.Path); len(dirs) > 0 {
		var err error
		folderID, err = res.Ensure(ctx, rootID, item.Path)
		if err != nil {
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				summary.Cancelled = true
				return
			}
			fail(errs.NewTransfer("create folders", err))
			return
		}
	}

	status, err := o.up.Upload(ctx, item.File, folderID, fn)
	switch status {
	case uploader.StatusCompleted:
		fs.Debugf(o, "%s: uploaded", item.Path)
		summary.Uploaded = append(summary.Uploaded, item.Path)
	case uploader.StatusCancelled:
		summary.Cancelled = true
	default:
		fail(err)
	}
}
