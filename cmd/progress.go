// Show per file upload progress

package cmd

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ianusa/phoeup/uploader"
	"github.com/mattn/go-runewidth"
	"github.com/rclone/rclone/fs"
	"github.com/rclone/rclone/lib/terminal"
)

// interval between progress prints
const defaultProgressInterval = 500 * time.Millisecond

// Progress keeps the latest event of every running upload and draws
// them as a block of lines which is redrawn in place.
type Progress struct {
	mu       sync.Mutex
	active   map[string]uploader.Progress // by session ID
	finished []string                     // lines to print once above the block
	nlines   int                          // lines in the previously drawn block
	width    func() int
	write    func([]byte)
	dynamic  bool // redraw in place, otherwise only print finished lines
}

// NewProgress makes a Progress writing to the terminal
func NewProgress() *Progress {
	return &Progress{
		active:  map[string]uploader.Progress{},
		width:   func() int { w, _ := terminal.GetSize(); return w },
		write:   terminal.Write,
		dynamic: terminal.IsTerminal(1),
	}
}

// newProgressTo makes a Progress writing plain lines to w
func newProgressTo(w io.Writer, width int) *Progress {
	return &Progress{
		active: map[string]uploader.Progress{},
		width:  func() int { return width },
		write:  func(b []byte) { _, _ = w.Write(b) },
	}
}

// Update records an event. It is an uploader.ProgressFunc.
func (p *Progress) Update(ev uploader.Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !ev.State.Terminal() {
		p.active[ev.SessionID] = ev
		return
	}
	delete(p.active, ev.SessionID)
	p.finished = append(p.finished, finishedLine(ev))
}

func finishedLine(ev uploader.Progress) string {
	switch ev.State {
	case uploader.StateCompleted:
		return fmt.Sprintf("%s: uploaded %v (%s) in %v", ev.FileName, fs.SizeSuffix(ev.Total), ev.MimeType, ev.Elapsed.Round(time.Millisecond))
	case uploader.StateFailed:
		return fmt.Sprintf("%s: failed at %d%%: %v", ev.FileName, ev.Percent(), ev.Err)
	}
	return fmt.Sprintf("%s: %v at %d%%", ev.FileName, ev.State, ev.Percent())
}

// activeLine renders a running upload
func activeLine(ev uploader.Progress) string {
	return fmt.Sprintf("%s: %3d%% %v / %v, %s",
		ev.FileName, ev.Percent(), fs.SizeSuffix(ev.Bytes), fs.SizeSuffix(ev.Total), ev.Remaining())
}

// Print draws the current state
func (p *Progress) Print() {
	p.mu.Lock()
	defer p.mu.Unlock()

	var buf bytes.Buffer
	out := func(s string) {
		buf.WriteString(s)
	}
	w := p.width()
	clip := func(line string) string {
		if w > 0 {
			return runewidth.Truncate(line, w, "")
		}
		return line
	}

	if !p.dynamic {
		for _, line := range p.finished {
			out(line + "\n")
		}
		p.finished = p.finished[:0]
		if buf.Len() > 0 {
			p.write(buf.Bytes())
		}
		return
	}

	// Move to the start of the block we wrote erasing all the previous lines
	for i := 0; i < p.nlines-1; i++ {
		out(terminal.EraseLine)
		out(terminal.MoveUp)
	}
	out(terminal.EraseLine)
	out(terminal.MoveToStartOfLine)
	for _, line := range p.finished {
		out(clip(line) + "\n")
	}
	p.finished = p.finished[:0]

	events := make([]uploader.Progress, 0, len(p.active))
	for _, ev := range p.active {
		events = append(events, ev)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].FileName < events[j].FileName })
	lines := make([]string, len(events))
	for i, ev := range events {
		lines[i] = clip(activeLine(ev))
	}
	out(strings.Join(lines, "\n"))
	p.nlines = len(lines)
	p.write(buf.Bytes())
}

// Start redraws the progress every interval until the returned func is
// called, which draws it a last time.
func (p *Progress) Start() (stop func()) {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(defaultProgressInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.Print()
			case <-done:
				p.Print()
				if p.dynamic {
					p.write([]byte("\n"))
				}
				return
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}
