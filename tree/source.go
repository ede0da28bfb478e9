// Package tree uploads whole directory trees, recreating the folder
// hierarchy on the remote before each file is sent.
package tree

import (
	"context"

	"github.com/ianusa/phoeup/uploader"
)

// Item is one file to upload with its path relative to the upload
// root, eg "photos/2024/a.jpg". A path without a "/" is a loose file
// which goes straight into the root folder.
type Item struct {
	Path string
	File uploader.File
	Err  error // set instead of File when the item could not be read
}

// Source yields the files of an upload one at a time.
//
// Next returns io.EOF once there are no more items. A Source is
// consumed once and is not safe for concurrent use.
type Source interface {
	Next(ctx context.Context) (Item, error)
}

// Entry is a node of a dropped tree, either a file or a directory
type Entry interface {
	Name() string
	IsDir() bool
	// Open returns the content of a file entry
	Open(ctx context.Context) (uploader.File, error)
	// ReadDir returns a reader over the children of a directory entry
	ReadDir(ctx context.Context) (DirReader, error)
}

// DirReader returns the children of a directory in batches. An empty
// batch means the directory is exhausted.
type DirReader interface {
	ReadEntries(ctx context.Context) ([]Entry, error)
}
