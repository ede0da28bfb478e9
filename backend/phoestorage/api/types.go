// Package api provides types used by the PhoeStorage API.
package api

import (
	"fmt"
	"net/http"
)

// Folder is a folder as returned by the folder endpoints
type Folder struct {
	UUID     string `json:"uuid"`     // ID of the folder
	Owner    string `json:"owner"`    // ID of the owning user
	Name     string `json:"name"`     // name of the folder
	FolderID string `json:"folderId"` // ID of the parent folder
	Size     int64  `json:"size"`     // total size of the contents
}

// Error is returned for any non 2xx response. The server sends the
// reason as a plain text body which ends up in Detail.
type Error struct {
	StatusCode int
	Status     string
	Detail     string
}

// Error satisfies the error interface
func (e *Error) Error() string {
	if e.Detail == "" {
		return e.Status
	}
	return e.Detail
}

// Full returns the error with its HTTP status for logging
func (e *Error) Full() string {
	return fmt.Sprintf("%s (%d %s)", e.Detail, e.StatusCode, http.StatusText(e.StatusCode))
}

// NotFound returns true if the server said the resource doesn't exist
func (e *Error) NotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// Server messages for chunk uploads
const (
	MsgChunkTooLarge    = "Chunk too large (max 10 MB) the chunk was %d Bytes"
	MsgUploadIDRequired = "An Upload ID is required"
	MsgNameTaken        = "A file is already named that in this directory"
	MsgNoSpace          = "You dont have enough space for this file"
	MsgNotFound         = "Not found"
	MsgInternal         = "Something happened"
)

// Form fields of a chunk upload
const (
	FieldFile        = "file"
	FieldChunkIndex  = "chunkIndex"
	FieldTotalChunks = "totalChunks"
	FieldFileName    = "fileName"
	FieldFolderID    = "folderId"
	FieldUploadID    = "uploadId"
	FieldFolderName  = "folderName"
)

// MaxChunkSize is the largest chunk the server accepts
const MaxChunkSize = 10 * 1024 * 1024
