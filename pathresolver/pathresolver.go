// Package pathresolver maps relative directory paths onto remote folder
// IDs, creating the folders that are missing.
//
// Each (parent, name) pair is looked up or created at most once per
// Resolver however many uploads ask for it at the same time.
package pathresolver

import (
	"context"
	"fmt"
	"strings"

	"github.com/ianusa/phoeup/lib/metrics"
	"github.com/patrickmn/go-cache"
	"github.com/rclone/rclone/fs"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/unicode/norm"
)

// DirCacher does the low level directory work against the remote
type DirCacher interface {
	// FindLeaf looks for a folder called leaf in pathID
	FindLeaf(ctx context.Context, pathID, leaf string) (pathIDOut string, found bool, err error)
	// CreateDir makes a folder called leaf in pathID
	CreateDir(ctx context.Context, pathID, leaf string) (newID string, err error)
}

// Resolver resolves and memoizes folder IDs. It is safe for concurrent
// use.
type Resolver struct {
	dc      DirCacher
	cache   *cache.Cache
	group   singleflight.Group
	metrics *metrics.Metrics
}

// New makes a Resolver using dc. m may be nil.
func New(dc DirCacher, m *metrics.Metrics) *Resolver {
	return &Resolver{
		dc:      dc,
		cache:   cache.New(cache.NoExpiration, 0),
		metrics: m,
	}
}

// String returns a description for logging
func (r *Resolver) String() string {
	return "path resolver"
}

// SplitPath splits p into its directory segments and the leaf.
//
// Empty segments are dropped and every name is NFC normalised so
// differently composed names land in the same folder.
func SplitPath(p string) (dirs []string, leaf string) {
	for _, part := range strings.Split(p, "/") {
		if part == "" {
			continue
		}
		dirs = append(dirs, norm.NFC.String(part))
	}
	switch len(dirs) {
	case 0:
		return nil, ""
	case 1:
		return nil, dirs[0]
	}
	return dirs[:len(dirs)-1], dirs[len(dirs)-1]
}

// Ensure returns the ID of the folder which should hold the file at
// relativePath under rootID, creating folders as needed. The last
// segment of relativePath is the file name and is not resolved.
//
// A path with no directory portion resolves to rootID without any
// remote call.
func (r *Resolver) Ensure(ctx context.Context, rootID, relativePath string) (string, error) {
	dirs, _ := SplitPath(relativePath)
	return r.resolve(ctx, rootID, dirs)
}

// EnsureDir resolves every segment of dirPath under rootID and returns
// the ID of the deepest folder.
func (r *Resolver) EnsureDir(ctx context.Context, rootID, dirPath string) (string, error) {
	dirs, leaf := SplitPath(dirPath)
	if leaf != "" {
		dirs = append(dirs, leaf)
	}
	return r.resolve(ctx, rootID, dirs)
}

func (r *Resolver) resolve(ctx context.Context, rootID string, dirs []string) (string, error) {
	id := rootID
	for i, name := range dirs {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		var err error
		id, err = r.segment(ctx, id, name)
		if err != nil {
			return "", fmt.Errorf("resolve %q: %w", strings.Join(dirs[:i+1], "/"), err)
		}
	}
	return id, nil
}

func cacheKey(parentID, name string) string {
	return parentID + "/" + name
}

// segment resolves name in parentID through the cache, sharing the
// remote work with any concurrent caller for the same key
func (r *Resolver) segment(ctx context.Context, parentID, name string) (string, error) {
	key := cacheKey(parentID, name)
	if id, ok := r.cache.Get(key); ok {
		return id.(string), nil
	}
	// waiters may give up on ctx but the flight itself runs to the end
	flightCtx := context.WithoutCancel(ctx)
	ch := r.group.DoChan(key, func() (interface{}, error) {
		// another flight may have filled the cache since the first check
		if id, ok := r.cache.Get(key); ok {
			return id, nil
		}
		id, err := r.lookupOrCreate(flightCtx, parentID, name)
		if err != nil {
			return nil, err
		}
		r.cache.Set(key, id, cache.NoExpiration)
		return id, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (r *Resolver) lookupOrCreate(ctx context.Context, parentID, name string) (string, error) {
	r.metrics.FolderLookup()
	id, found, err := r.dc.FindLeaf(ctx, parentID, name)
	if err != nil {
		return "", fmt.Errorf("find folder %q: %w", name, err)
	}
	if found {
		fs.Debugf(r, "found %q in %q: %s", name, parentID, id)
		return id, nil
	}
	id, err = r.dc.CreateDir(ctx, parentID, name)
	if err != nil {
		return "", fmt.Errorf("create folder %q: %w", name, err)
	}
	r.metrics.FolderCreated()
	fs.Debugf(r, "created %q in %q: %s", name, parentID, id)
	return id, nil
}

// Flush forgets every resolved folder
func (r *Resolver) Flush() {
	r.cache.Flush()
}

// Len returns the number of resolved folders held
func (r *Resolver) Len() int {
	return r.cache.ItemCount()
}
