package ota

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/benmeehan/ble-node/pkg/file"
	http_utils "github.com/benmeehan/ble-node/pkg/httpUtils"
	"github.com/benmeehan/ble-node/pkg/s3"
)

// Status of an image replacement.
type Status int

const (
	StatusIdle Status = iota
	StatusInProgress
	StatusSuccess
	StatusFail
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusInProgress:
		return "in_progress"
	case StatusSuccess:
		return "success"
	case StatusFail:
		return "fail"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// ErrAlreadyInProgress is returned by Begin while a replacement runs.
var ErrAlreadyInProgress = errors.New("image replacement already in progress")

// Flasher is the image-replacement primitive. Begin starts the transfer in the
// background, Status is polled until it reports success or failure.
type Flasher interface {
	Begin(ctx context.Context, imageURL string, trustAnchor []byte) error
	Status() Status
}

// Downloader fetches an image into a local file.
type Downloader interface {
	Download(ctx context.Context, imageURL string, trustAnchor []byte, outputPath string) error
}

// SchemeDownloader serves http and https URLs directly and s3://bucket/object
// URLs from object storage.
type SchemeDownloader struct {
	objectStorage s3.ObjectStorageClient
}

// NewSchemeDownloader creates a downloader. objectStorage may be nil when no
// object storage is configured.
func NewSchemeDownloader(objectStorage s3.ObjectStorageClient) *SchemeDownloader {
	return &SchemeDownloader{objectStorage: objectStorage}
}

// Download implements Downloader.
func (d *SchemeDownloader) Download(ctx context.Context, imageURL string, trustAnchor []byte, outputPath string) error {
	u, err := url.Parse(imageURL)
	if err != nil {
		return fmt.Errorf("invalid image url: %w", err)
	}

	switch u.Scheme {
	case "http", "https":
		client, err := http_utils.NewClient(trustAnchor)
		if err != nil {
			return err
		}
		return http_utils.DownloadFile(ctx, client, imageURL, outputPath)
	case "s3":
		if d.objectStorage == nil {
			return fmt.Errorf("s3 image url but no object storage configured")
		}
		object := strings.TrimPrefix(u.Path, "/")
		if u.Host == "" || object == "" {
			return fmt.Errorf("s3 image url must be s3://bucket/object")
		}
		return d.objectStorage.Download(ctx, u.Host, object, outputPath)
	default:
		return fmt.Errorf("unsupported image url scheme %q", u.Scheme)
	}
}

// ImageFlasher downloads an image next to the running executable and swaps it
// in with a rename. The new image takes effect after a restart.
type ImageFlasher struct {
	imagePath  string
	downloader Downloader
	fileOps    file.FileOperations
	logger     zerolog.Logger

	mu     sync.Mutex
	status Status
}

// NewImageFlasher creates a flasher replacing the file at imagePath.
func NewImageFlasher(imagePath string, downloader Downloader, fileOps file.FileOperations, logger zerolog.Logger) *ImageFlasher {
	return &ImageFlasher{
		imagePath:  imagePath,
		downloader: downloader,
		fileOps:    fileOps,
		logger:     logger,
		status:     StatusIdle,
	}
}

// Begin starts the replacement in the background.
func (f *ImageFlasher) Begin(ctx context.Context, imageURL string, trustAnchor []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.status == StatusInProgress {
		return ErrAlreadyInProgress
	}
	f.status = StatusInProgress

	f.logger.Info().Str("url", imageURL).Str("image", f.imagePath).Msg("Starting image replacement")
	go f.apply(ctx, imageURL, trustAnchor)
	return nil
}

// Status returns the current replacement status.
func (f *ImageFlasher) Status() Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *ImageFlasher) apply(ctx context.Context, imageURL string, trustAnchor []byte) {
	if err := f.replace(ctx, imageURL, trustAnchor); err != nil {
		f.logger.Error().Err(err).Msg("Image replacement failed")
		f.finish(StatusFail)
		return
	}
	f.logger.Info().Str("image", f.imagePath).Msg("Image written successfully")
	f.finish(StatusSuccess)
}

func (f *ImageFlasher) replace(ctx context.Context, imageURL string, trustAnchor []byte) error {
	staging := f.imagePath + ".new"
	_ = os.Remove(staging)

	if err := f.downloader.Download(ctx, imageURL, trustAnchor, staging); err != nil {
		_ = os.Remove(staging)
		return err
	}

	info, err := os.Stat(staging)
	if err != nil {
		return fmt.Errorf("downloaded image missing: %w", err)
	}
	if info.Size() == 0 {
		_ = os.Remove(staging)
		return errors.New("downloaded image is empty")
	}

	hash, err := f.fileOps.GetFileHash(staging)
	if err != nil {
		_ = os.Remove(staging)
		return err
	}
	f.logger.Info().Int64("size", info.Size()).Str("sha256", hash).Msg("Image downloaded")

	if err := os.Chmod(staging, 0755); err != nil {
		_ = os.Remove(staging)
		return fmt.Errorf("failed to make image executable: %w", err)
	}
	if err := os.Rename(staging, f.imagePath); err != nil {
		_ = os.Remove(staging)
		return fmt.Errorf("failed to swap image: %w", err)
	}
	return nil
}

func (f *ImageFlasher) finish(status Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = status
}
