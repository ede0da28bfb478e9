package tree

import (
	"context"
	"fmt"
	"io"
)

// frame is a directory being walked
type frame struct {
	reader  DirReader // nil for the list of roots
	prefix  string    // path of the directory, "" for the roots
	pending []Entry   // entries of the current batch not yet visited
}

// EntrySource walks a set of entries depth first
type EntrySource struct {
	stack []frame
}

// NewEntrySource returns a Source walking roots depth first.
//
// Files among roots become loose items, directories yield their files
// with paths starting with the directory name.
func NewEntrySource(roots ...Entry) *EntrySource {
	return &EntrySource{
		stack: []frame{{pending: roots}},
	}
}

func joinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

// Next returns the next file of the walk.
//
// Directories which can't be read and files which can't be opened are
// returned as items with Err set so the walk carries on.
func (s *EntrySource) Next(ctx context.Context) (Item, error) {
	for len(s.stack) > 0 {
		if err := ctx.Err(); err != nil {
			return Item{}, err
		}
		top := &s.stack[len(s.stack)-1]
		if len(top.pending) == 0 {
			if top.reader == nil {
				s.pop()
				continue
			}
			batch, err := top.reader.ReadEntries(ctx)
			if err != nil {
				item := Item{Path: top.prefix, Err: fmt.Errorf("read directory: %w", err)}
				s.pop()
				return item, nil
			}
			if len(batch) == 0 {
				s.pop()
				continue
			}
			top.pending = batch
			continue
		}
		e := top.pending[0]
		top.pending = top.pending[1:]
		p := joinPath(top.prefix, e.Name())
		if e.IsDir() {
			r, err := e.ReadDir(ctx)
			if err != nil {
				return Item{Path: p, Err: fmt.Errorf("open directory: %w", err)}, nil
			}
			s.stack = append(s.stack, frame{reader: r, prefix: p})
			continue
		}
		f, err := e.Open(ctx)
		if err != nil {
			return Item{Path: p, Err: fmt.Errorf("open file: %w", err)}, nil
		}
		return Item{Path: p, File: f}, nil
	}
	return Item{}, io.EOF
}

// pop drops the top frame, closing its reader if it can be closed
func (s *EntrySource) pop() (err error) {
	if c, ok := s.stack[len(s.stack)-1].reader.(io.Closer); ok {
		err = c.Close()
	}
	s.stack[len(s.stack)-1] = frame{}
	s.stack = s.stack[:len(s.stack)-1]
	return err
}

// Close abandons the walk, closing every directory still open. It
// returns the first error from closing.
func (s *EntrySource) Close() (err error) {
	for len(s.stack) > 0 {
		if closeErr := s.pop(); err == nil {
			err = closeErr
		}
	}
	return err
}

// ListSource yields a fixed list of items in order
type ListSource struct {
	items []Item
}

// NewListSource returns a Source over items, each carrying its own
// relative path as a folder picker would report it.
func NewListSource(items ...Item) *ListSource {
	return &ListSource{items: items}
}

// Next returns the next item of the list
func (s *ListSource) Next(ctx context.Context) (Item, error) {
	if err := ctx.Err(); err != nil {
		return Item{}, err
	}
	if len(s.items) == 0 {
		return Item{}, io.EOF
	}
	item := s.items[0]
	s.items = s.items[1:]
	return item, nil
}

// Close closes the files of the items not yet returned
func (s *ListSource) Close() (err error) {
	for _, item := range s.items {
		if c, ok := item.File.(io.Closer); ok {
			if closeErr := c.Close(); err == nil {
				err = closeErr
			}
		}
	}
	s.items = nil
	return err
}

// check interfaces
var (
	_ Source    = (*EntrySource)(nil)
	_ io.Closer = (*EntrySource)(nil)
	_ Source    = (*ListSource)(nil)
	_ io.Closer = (*ListSource)(nil)
)
