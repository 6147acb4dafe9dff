package ota_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/benmeehan/ble-node/internal/mocks"
	"github.com/benmeehan/ble-node/pkg/file"
	"github.com/benmeehan/ble-node/pkg/ota"
)

type writingDownloader struct {
	content []byte
	err     error
	release chan struct{}
}

func (d *writingDownloader) Download(_ context.Context, _ string, _ []byte, outputPath string) error {
	if d.release != nil {
		<-d.release
	}
	if d.err != nil {
		return d.err
	}
	return os.WriteFile(outputPath, d.content, 0600)
}

func waitForStatus(t *testing.T, f ota.Flasher) ota.Status {
	t.Helper()
	var status ota.Status
	require.Eventually(t, func() bool {
		status = f.Status()
		return status != ota.StatusInProgress
	}, 2*time.Second, 5*time.Millisecond)
	return status
}

func TestImageFlasher_Success(t *testing.T) {
	image := filepath.Join(t.TempDir(), "ble-node")
	require.NoError(t, os.WriteFile(image, []byte("old"), 0755))

	f := ota.NewImageFlasher(image, &writingDownloader{content: []byte("new image")}, file.NewFileService(), zerolog.Nop())
	assert.Equal(t, ota.StatusIdle, f.Status())

	require.NoError(t, f.Begin(context.Background(), "http://x/fw.bin", nil))
	assert.Equal(t, ota.StatusSuccess, waitForStatus(t, f))

	data, err := os.ReadFile(image)
	require.NoError(t, err)
	assert.Equal(t, "new image", string(data))

	info, err := os.Stat(image)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0755), info.Mode().Perm())

	_, err = os.Stat(image + ".new")
	assert.True(t, os.IsNotExist(err))
}

func TestImageFlasher_DownloadFailureKeepsImage(t *testing.T) {
	image := filepath.Join(t.TempDir(), "ble-node")
	require.NoError(t, os.WriteFile(image, []byte("old"), 0755))

	f := ota.NewImageFlasher(image, &writingDownloader{err: errors.New("404")}, file.NewFileService(), zerolog.Nop())
	require.NoError(t, f.Begin(context.Background(), "http://x/fw.bin", nil))
	assert.Equal(t, ota.StatusFail, waitForStatus(t, f))

	data, err := os.ReadFile(image)
	require.NoError(t, err)
	assert.Equal(t, "old", string(data))
}

func TestImageFlasher_EmptyImageFails(t *testing.T) {
	image := filepath.Join(t.TempDir(), "ble-node")
	f := ota.NewImageFlasher(image, &writingDownloader{content: []byte{}}, file.NewFileService(), zerolog.Nop())

	require.NoError(t, f.Begin(context.Background(), "http://x/fw.bin", nil))
	assert.Equal(t, ota.StatusFail, waitForStatus(t, f))
}

func TestImageFlasher_BeginTwice(t *testing.T) {
	image := filepath.Join(t.TempDir(), "ble-node")
	d := &writingDownloader{content: []byte("img"), release: make(chan struct{})}
	f := ota.NewImageFlasher(image, d, file.NewFileService(), zerolog.Nop())

	require.NoError(t, f.Begin(context.Background(), "http://x/fw.bin", nil))
	assert.ErrorIs(t, f.Begin(context.Background(), "http://x/fw.bin", nil), ota.ErrAlreadyInProgress)

	close(d.release)
	assert.Equal(t, ota.StatusSuccess, waitForStatus(t, f))
}

func TestSchemeDownloader_HTTP(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("image"))
	}))
	defer server.Close()

	out := filepath.Join(t.TempDir(), "fw.bin")
	require.NoError(t, ota.NewSchemeDownloader(nil).Download(context.Background(), server.URL+"/fw.bin", nil, out))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "image", string(data))
}

func TestSchemeDownloader_S3(t *testing.T) {
	storage := new(mocks.MockObjectStorage)
	storage.On("Download", mock.Anything, "firmware", "ble-node/2.0.bin", "/tmp/out").Return(nil)

	err := ota.NewSchemeDownloader(storage).Download(context.Background(), "s3://firmware/ble-node/2.0.bin", nil, "/tmp/out")

	require.NoError(t, err)
	storage.AssertExpectations(t)
}

func TestSchemeDownloader_Unsupported(t *testing.T) {
	d := ota.NewSchemeDownloader(nil)
	assert.Error(t, d.Download(context.Background(), "ftp://x/fw.bin", nil, "/tmp/out"))
	assert.Error(t, d.Download(context.Background(), "s3://firmware/fw.bin", nil, "/tmp/out"))
	assert.Error(t, ota.NewSchemeDownloader(new(mocks.MockObjectStorage)).Download(context.Background(), "s3://firmware", nil, "/tmp/out"))
}
