package tree

import (
	"context"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/ianusa/phoeup/uploader"
)

// number of directory entries read at a time
const readDirBatch = 128

// localFile is a file on disk which is only opened on first read
type localFile struct {
	path string
	name string
	size int64

	mu  sync.Mutex
	fd  *os.File
	err error
}

func newLocalFile(path string, info iofs.FileInfo) *localFile {
	return &localFile{
		path: path,
		name: info.Name(),
		size: info.Size(),
	}
}

// Name returns the base name of the file
func (f *localFile) Name() string { return f.name }

// Size returns the size of the file when it was listed
func (f *localFile) Size() int64 { return f.size }

func (f *localFile) open() (*os.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fd == nil && f.err == nil {
		f.fd, f.err = os.Open(f.path)
	}
	return f.fd, f.err
}

// ReadAt reads from the file, opening it if necessary
func (f *localFile) ReadAt(p []byte, off int64) (int, error) {
	fd, err := f.open()
	if err != nil {
		return 0, err
	}
	return fd.ReadAt(p, off)
}

// Close closes the file if it was opened
func (f *localFile) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fd == nil {
		return nil
	}
	err := f.fd.Close()
	f.fd = nil
	f.err = os.ErrClosed
	return err
}

// localEntry is a file or directory on disk
type localEntry struct {
	path string
	info iofs.FileInfo
}

func (e *localEntry) Name() string { return e.info.Name() }
func (e *localEntry) IsDir() bool  { return e.info.IsDir() }

func (e *localEntry) Open(ctx context.Context) (uploader.File, error) {
	if !e.info.Mode().IsRegular() {
		return nil, fmt.Errorf("%q is not a regular file", e.path)
	}
	return newLocalFile(e.path, e.info), nil
}

func (e *localEntry) ReadDir(ctx context.Context) (DirReader, error) {
	fd, err := os.Open(e.path)
	if err != nil {
		return nil, err
	}
	return &localDir{path: e.path, fd: fd}, nil
}

// localDir reads a directory in batches of readDirBatch
type localDir struct {
	path string
	fd   *os.File
}

// ReadEntries returns the next batch, skipping anything which is
// neither a regular file nor a directory. The directory is closed when
// the empty batch is returned.
func (d *localDir) ReadEntries(ctx context.Context) ([]Entry, error) {
	for d.fd != nil {
		dirEntries, err := d.fd.ReadDir(readDirBatch)
		if len(dirEntries) == 0 {
			_ = d.fd.Close()
			d.fd = nil
			if err != nil && !errors.Is(err, io.EOF) {
				return nil, err
			}
			return nil, nil
		}
		entries := make([]Entry, 0, len(dirEntries))
		for _, de := range dirEntries {
			if !de.IsDir() && !de.Type().IsRegular() {
				continue
			}
			info, err := de.Info()
			if err != nil {
				// removed since it was listed
				continue
			}
			entries = append(entries, &localEntry{path: filepath.Join(d.path, de.Name()), info: info})
		}
		if len(entries) > 0 {
			sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
			return entries, nil
		}
	}
	return nil, nil
}

// Close closes the directory if it is still open
func (d *localDir) Close() error {
	if d.fd == nil {
		return nil
	}
	err := d.fd.Close()
	d.fd = nil
	return err
}

// LocalEntries returns entries for the files and directories at paths,
// ready for NewEntrySource.
func LocalEntries(paths ...string) ([]Entry, error) {
	entries := make([]Entry, 0, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, err
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, err
		}
		entries = append(entries, &localEntry{path: abs, info: info})
	}
	return entries, nil
}

// LocalList lists every regular file under dir the way a folder picker
// does: each path starts with the base name of dir and uses "/".
func LocalList(dir string) ([]Item, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	base := filepath.Base(dir)
	var items []Item
	err = filepath.WalkDir(dir, func(p string, d iofs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		items = append(items, Item{
			Path: base + "/" + filepath.ToSlash(rel),
			File: newLocalFile(p, info),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %q: %w", dir, err)
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].Path < items[j].Path })
	return items, nil
}
