package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/matheus3301/wpp-archive/internal/chat"
	"go.uber.org/ratelimit"
	"go.uber.org/zap"
)

// DefaultMaxDownloadSize is the largest attachment downloaded by default.
const DefaultMaxDownloadSize = 50 * 1024 * 1024

// ErrSizeLimit is returned for files that are empty or larger than the
// configured ceiling. Such files are recorded but never downloaded.
var ErrSizeLimit = errors.New("file size outside download limit")

const stagingMarker = ".tmp-"

// IsStaging reports whether name is a download staging file.
func IsStaging(name string) bool {
	base := filepath.Base(name)
	return strings.HasPrefix(base, ".") && strings.Contains(base, stagingMarker)
}

// FileRef identifies the remote source of a file.
type FileRef struct {
	DialogID  int64
	MessageID int64
	Thumbnail bool
	Size      int64
	// Path is relative to the media root, slash separated.
	Path string
}

// Limits bound the downloads of a Downloader. Zero values mean the default
// size ceiling, no rate limit and a single attempt.
type Limits struct {
	MaxSize int64
	// PerSecond caps the rate of transport downloads.
	PerSecond int
	// Retries is how many times a transient failure is retried, waiting
	// exponentially longer from RetryWait.
	Retries   int
	RetryWait time.Duration
}

// Downloader fetches attachments into the media root, one at a time.
type Downloader struct {
	transport chat.Transport
	root      string
	limits    Limits
	limiter   ratelimit.Limiter
	logger    *zap.Logger
}

// NewDownloader creates a downloader writing under root.
func NewDownloader(t chat.Transport, root string, limits Limits, logger *zap.Logger) *Downloader {
	if limits.MaxSize <= 0 {
		limits.MaxSize = DefaultMaxDownloadSize
	}
	if limits.RetryWait <= 0 {
		limits.RetryWait = time.Second
	}
	limiter := ratelimit.NewUnlimited()
	if limits.PerSecond > 0 {
		limiter = ratelimit.New(limits.PerSecond)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Downloader{transport: t, root: root, limits: limits, limiter: limiter, logger: logger}
}

// Root returns the media root.
func (d *Downloader) Root() string { return d.root }

// MaxSize returns the download ceiling in bytes.
func (d *Downloader) MaxSize() int64 { return d.limits.MaxSize }

// Allowed reports whether a file of size bytes may be downloaded.
func (d *Downloader) Allowed(size int64) bool {
	return size > 0 && size <= d.limits.MaxSize
}

// Abs resolves a media-root relative path.
func (d *Downloader) Abs(rel string) string {
	return filepath.Join(d.root, filepath.FromSlash(rel))
}

// Stage downloads ref into a temporary file beside its final location and
// returns the temporary path. It returns "" when the final file already exists.
func (d *Downloader) Stage(ctx context.Context, ref FileRef) (string, error) {
	if !d.Allowed(ref.Size) {
		return "", fmt.Errorf("%s (%d bytes): %w", ref.Path, ref.Size, ErrSizeLimit)
	}

	dst := d.Abs(ref.Path)
	if _, err := os.Stat(dst); err == nil {
		return "", nil
	}

	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dst)+stagingMarker+"*")
	if err != nil {
		return "", fmt.Errorf("create staging file: %w", err)
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()

	if err := d.download(ctx, ref, tmpPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("download %s: %w", ref.Path, err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("chmod staging file: %w", err)
	}
	return tmpPath, nil
}

// download retries transient transport failures. Missing messages and
// cancellation are final.
func (d *Downloader) download(ctx context.Context, ref FileRef, dst string) error {
	op := func() error {
		d.limiter.Take()
		err := d.transport.Download(ctx, ref.DialogID, ref.MessageID, ref.Thumbnail, dst)
		if err != nil && (errors.Is(err, chat.ErrMessageNotFound) || ctx.Err() != nil) {
			return backoff.Permanent(err)
		}
		return err
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = d.limits.RetryWait
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(max(d.limits.Retries, 0))), ctx)
	return backoff.RetryNotify(op, b, func(err error, wait time.Duration) {
		d.logger.Warn("download failed, retrying",
			zap.Int64("dialog_id", ref.DialogID),
			zap.Int64("message_id", ref.MessageID),
			zap.Duration("wait", wait),
			zap.Error(err))
	})
}

// Commit moves a staged file into its final location.
func (d *Downloader) Commit(staged, rel string) error {
	if err := os.Rename(staged, d.Abs(rel)); err != nil {
		_ = os.Remove(staged)
		return fmt.Errorf("commit %s: %w", rel, err)
	}
	return nil
}

// Discard removes a staged file.
func (d *Downloader) Discard(staged string) {
	if staged == "" {
		return
	}
	if err := os.Remove(staged); err != nil && !errors.Is(err, os.ErrNotExist) {
		d.logger.Warn("failed to remove staging file", zap.String("path", staged), zap.Error(err))
	}
}

// Fetch downloads ref straight into place. It reports whether bytes were written.
func (d *Downloader) Fetch(ctx context.Context, ref FileRef) (bool, error) {
	staged, err := d.Stage(ctx, ref)
	if err != nil || staged == "" {
		return false, err
	}
	if err := d.Commit(staged, ref.Path); err != nil {
		return false, err
	}
	return true, nil
}
