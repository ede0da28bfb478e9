// Package phoestorage provides a client for the chunk and folder
// endpoints of a PhoeStorage server.
package phoestorage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ianusa/phoeup/backend/phoestorage/api"
	"github.com/ianusa/phoeup/lib/errs"
	"github.com/ianusa/phoeup/pathresolver"
	"github.com/ianusa/phoeup/uploader"
	"github.com/rclone/rclone/fs"
	"github.com/rclone/rclone/fs/config"
	"github.com/rclone/rclone/fs/config/configmap"
	"github.com/rclone/rclone/fs/config/configstruct"
	"github.com/rclone/rclone/fs/fserrors"
	"github.com/rclone/rclone/fs/fshttp"
	"github.com/rclone/rclone/lib/encoder"
	"github.com/rclone/rclone/lib/pacer"
	"github.com/rclone/rclone/lib/rest"
)

const (
	minSleep      = 10 * time.Millisecond
	maxSleep      = 2 * time.Second
	decayConstant = 2

	uploadPath       = "/api/files/upload"
	findFolderPath   = "/api/folders/parent"
	createFolderPath = "/api/folders/upload"
)

// OptionsInfo describes the options of the client
var OptionsInfo = fs.Options{{
	Name:     "url",
	Help:     "URL of the PhoeStorage server, eg https://storage.example.com",
	Required: true,
}, {
	Name:    "upload_concurrency",
	Help:    "Number of chunks of a file uploaded at the same time.",
	Default: uploader.DefaultConcurrency,
}, {
	Name:     config.ConfigEncoding,
	Help:     config.ConfigEncodingHelp,
	Advanced: true,
	Default:  encoder.EncodeInvalidUtf8 | encoder.EncodeCtl,
}, {
	Name:     "min_sleep",
	Help:     "Minimum time to sleep between API calls.",
	Advanced: true,
	Default:  fs.Duration(minSleep),
}}

// Options defines the configuration for the client
type Options struct {
	URL               string               `config:"url"`
	UploadConcurrency int                  `config:"upload_concurrency"`
	Enc               encoder.MultiEncoder `config:"encoding"`
	MinSleep          fs.Duration          `config:"min_sleep"`
}

// DefaultOptions returns the options with every default filled in
func DefaultOptions() Options {
	return Options{
		UploadConcurrency: uploader.DefaultConcurrency,
		Enc:               encoder.EncodeInvalidUtf8 | encoder.EncodeCtl,
		MinSleep:          fs.Duration(minSleep),
	}
}

// Client talks to a PhoeStorage server
type Client struct {
	opt   Options      // parsed options
	srv   *rest.Client // the connection to the server
	pacer *fs.Pacer    // pacer for API calls
}

// NewClient makes a Client from the config in m. Keys missing from m
// take their default.
func NewClient(ctx context.Context, m configmap.Getter) (*Client, error) {
	opt := DefaultOptions()
	err := configstruct.Set(m, &opt)
	if err != nil {
		return nil, err
	}
	if err := opt.validate(); err != nil {
		return nil, err
	}
	c := &Client{
		opt: opt,
		srv: rest.NewClient(fshttp.NewClient(ctx)).SetRoot(strings.TrimRight(opt.URL, "/")).SetErrorHandler(errorHandler),
		pacer: fs.NewPacer(ctx, pacer.NewDefault(
			pacer.MinSleep(time.Duration(opt.MinSleep)),
			pacer.MaxSleep(maxSleep),
			pacer.DecayConstant(decayConstant))),
	}
	return c, nil
}

func (opt *Options) validate() error {
	if opt.URL == "" {
		return errs.NewValidation("url", "a server URL is required")
	}
	u, err := url.Parse(opt.URL)
	if err != nil {
		return errs.NewValidation("url", fmt.Sprintf("invalid url: %v", err))
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errs.NewValidation("url", fmt.Sprintf("unsupported url scheme %q", u.Scheme))
	}
	if opt.UploadConcurrency < 1 {
		return errs.NewValidation("upload_concurrency", "upload_concurrency must be at least 1")
	}
	return nil
}

// Options returns the parsed options
func (c *Client) Options() Options {
	return c.opt
}

// String returns a description for logging
func (c *Client) String() string {
	return "phoestorage " + c.opt.URL
}

// retryErrorCodes is a slice of error codes that we will retry
var retryErrorCodes = []int{
	429, // Too Many Requests.
	500, // Internal Server Error
	502, // Bad Gateway
	503, // Service Unavailable
	504, // Gateway Timeout
}

// shouldRetry returns a boolean as to whether this resp and err
// deserve to be retried.  It returns the err as a convenience
func shouldRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if fserrors.ContextError(ctx, &err) {
		return false, err
	}
	return fserrors.ShouldRetry(err) || fserrors.ShouldRetryHTTP(resp, retryErrorCodes), err
}

// errorHandler parses a non 2xx response into an *api.Error
func errorHandler(resp *http.Response) error {
	body, err := rest.ReadBody(resp)
	if err != nil {
		return fmt.Errorf("error when trying to read error body: %w", err)
	}
	errResponse := &api.Error{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Detail:     strings.TrimSpace(string(body)),
	}
	fs.Debugf(nil, "phoestorage: %s", errResponse.Full())
	return errResponse
}

// UploadChunk sends one chunk of a file.
//
// The request is made once. An error from the server comes back as an
// *api.Error carrying its message.
func (c *Client) UploadChunk(ctx context.Context, req *uploader.ChunkRequest) error {
	size := req.Size
	opts := rest.Opts{
		Method: "POST",
		Path:   uploadPath,
		Body:   req.Body,
		MultipartParams: url.Values{
			api.FieldChunkIndex:  {strconv.Itoa(req.Index)},
			api.FieldTotalChunks: {strconv.Itoa(req.TotalChunks)},
			api.FieldFileName:    {c.opt.Enc.FromStandardName(req.FileName)},
			api.FieldFolderID:    {req.FolderID},
			api.FieldUploadID:    {req.SessionID},
		},
		MultipartContentName: api.FieldFile,
		MultipartFileName:    req.FileName,
		ContentLength:        &size,
		NoResponse:           true,
	}
	err := c.pacer.CallNoRetry(func() (bool, error) {
		_, err := c.srv.CallJSON(ctx, &opts, nil, nil)
		return false, err
	})
	if err != nil {
		return err
	}
	fs.Debugf(c, "chunk %d/%d of %q accepted", req.Index+1, req.TotalChunks, req.FileName)
	return nil
}

// FindLeaf finds the folder leaf in the folder pathID.
//
// Lookups change nothing on the server so they are retried.
func (c *Client) FindLeaf(ctx context.Context, pathID, leaf string) (pathIDOut string, found bool, err error) {
	var folder api.Folder
	opts := rest.Opts{
		Method: "GET",
		Path:   findFolderPath,
		Parameters: url.Values{
			api.FieldFolderID:   {pathID},
			api.FieldFolderName: {c.opt.Enc.FromStandardName(leaf)},
		},
	}
	err = c.pacer.Call(func() (bool, error) {
		resp, err := c.srv.CallJSON(ctx, &opts, nil, &folder)
		return shouldRetry(ctx, resp, err)
	})
	if err != nil {
		var apiErr *api.Error
		if errors.As(err, &apiErr) && apiErr.NotFound() {
			return "", false, nil
		}
		return "", false, err
	}
	if folder.UUID == "" {
		return "", false, fmt.Errorf("folder %q in %q returned without an ID", leaf, pathID)
	}
	return folder.UUID, true, nil
}

// CreateDir makes a folder called leaf in pathID and returns its ID.
//
// It is not retried as a lost reply would leave a duplicate folder.
func (c *Client) CreateDir(ctx context.Context, pathID, leaf string) (newID string, err error) {
	if strings.TrimSpace(leaf) == "" {
		return "", errs.NewValidation("folder name", "Folder name can't be empty")
	}
	var folder api.Folder
	opts := rest.Opts{
		Method: "POST",
		Path:   createFolderPath,
		Parameters: url.Values{
			api.FieldFolderID:   {pathID},
			api.FieldFolderName: {c.opt.Enc.FromStandardName(leaf)},
		},
	}
	err = c.pacer.CallNoRetry(func() (bool, error) {
		_, err := c.srv.CallJSON(ctx, &opts, nil, &folder)
		return false, err
	})
	if err != nil {
		return "", err
	}
	if folder.UUID == "" {
		return "", fmt.Errorf("folder %q created in %q without an ID", leaf, pathID)
	}
	fs.Debugf(c, "created folder %q in %q: %s", leaf, pathID, folder.UUID)
	return folder.UUID, nil
}

// check interfaces
var (
	_ uploader.Ingester      = (*Client)(nil)
	_ pathresolver.DirCacher = (*Client)(nil)
)
