package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"tg-archiver/internal/domain"
	"tg-archiver/internal/pkg/retry"

	"go.uber.org/zap"
)

const (
	defaultFetchBatchSize = 50
	interBatchSleep       = 100 * time.Millisecond
	wholeFileMaxRetry     = 3
	wholeFileBaseDelay    = 1 * time.Second

	// storage modes mirror config.StorageMode's string values; kept as
	// unexported literals here rather than importing the config package,
	// since usecase is the inner layer.
	storageModeUpload = "upload"
	storageModeHybrid = "hybrid"
)

// FetcherDeps are the collaborators one Fetcher needs, threaded in rather
// than constructed internally so tests can substitute fakes.
type FetcherDeps struct {
	Transport  domain.Transport
	Chat       domain.Chat
	FS         domain.FileSystem
	Pool       *Pool
	Session    string
	ChannelDir string
	Uploads    chan<- domain.FetchedItem // nil when storage_mode == raw

	// StorageMode is "raw", "upload", or "hybrid". Empty behaves as "raw".
	// Upload mode streams media straight into memory and never touches
	// local disk; hybrid mode streams to a local file and also enqueues
	// that file's path for upload; raw mode downloads to disk only.
	StorageMode string

	// BatchSize paces cancellation checks and inter-batch pauses; it
	// mirrors the configured message_batch_size. Defaults to
	// defaultFetchBatchSize when <= 0.
	BatchSize int

	Progress func(outcome domain.FetchOutcome)
	Log      *zap.Logger
}

func (d FetcherDeps) batchSize() int {
	if d.BatchSize <= 0 {
		return defaultFetchBatchSize
	}
	return d.BatchSize
}

// Fetcher walks one session's assigned groups in order, downloading media
// and logging text-only messages, reporting per-item outcomes as it goes.
type Fetcher struct {
	deps FetcherDeps
}

// NewFetcher constructs a Fetcher for one session's slice of the assignment.
func NewFetcher(deps FetcherDeps) *Fetcher {
	return &Fetcher{deps: deps}
}

// Run walks groups in assignment order, members in id order within a group.
// The probe already built every descriptor, so Run never touches
// GetMessages again; it only paces itself in batchSize-sized bursts between
// the transport calls that actually move bytes. It never aborts on a
// per-item failure; it returns only on context cancellation or assignment
// exhaustion.
func (f *Fetcher) Run(ctx context.Context, groups []domain.Group) (domain.FetchResult, error) {
	start := time.Now()
	result := domain.FetchResult{Session: f.deps.Session}
	batchSize := f.deps.batchSize()

	descs := make([]domain.MessageDescriptor, 0)
	for _, g := range groups {
		descs = append(descs, g.Messages...)
	}

	for i, d := range descs {
		if i%batchSize == 0 {
			if i > 0 {
				select {
				case <-time.After(interBatchSleep):
				case <-ctx.Done():
				}
			}
			if err := ctx.Err(); err != nil {
				result.DurationMS = time.Since(start).Milliseconds()
				return result, &domain.CoordinatorCancelError{Err: err}
			}
		}

		if result.MinID == 0 || d.ID < result.MinID {
			result.MinID = d.ID
		}
		if d.ID > result.MaxID {
			result.MaxID = d.ID
		}

		if !d.Kind.HasMedia() {
			if err := f.logTextMessage(d); err != nil {
				f.deps.Log.Warn("failed to append to messages.txt", zap.Int("message_id", d.ID), zap.Error(err))
			}
			result.Downloaded++
			f.report(d.ID, true, "")
			continue
		}

		if err := f.fetchMedia(ctx, d); err != nil {
			result.Failed++
			f.report(d.ID, false, err.Error())
			continue
		}
		result.Downloaded++
		f.report(d.ID, true, "")
	}

	result.DurationMS = time.Since(start).Milliseconds()
	return result, nil
}

func (f *Fetcher) report(id int, ok bool, reason string) {
	if f.deps.Progress != nil {
		f.deps.Progress(domain.FetchOutcome{Session: f.deps.Session, ID: id, Succeeded: ok, Reason: reason})
	}
}

func (f *Fetcher) logTextMessage(d domain.MessageDescriptor) error {
	ts := time.Unix(d.TimestampUnix, 0).UTC().Format(time.RFC3339)
	text := d.Text
	if text == "" {
		text = "无文本内容"
	}

	groupSuffix := ""
	if d.InAlbum() {
		groupSuffix = fmt.Sprintf(" (媒体组: %s)", d.AlbumID)
	}

	block := fmt.Sprintf("消息ID: %d%s\n时间: %s\n内容: %s\n--------------------------------------------------\n",
		d.ID, groupSuffix, ts, text)

	path := filepath.Join(f.deps.ChannelDir, "messages.txt")
	return f.deps.FS.AppendLine(path, block)
}

func (f *Fetcher) fetchMedia(ctx context.Context, d domain.MessageDescriptor) error {
	switch f.deps.StorageMode {
	case storageModeUpload:
		return f.streamToMemory(ctx, d)
	case storageModeHybrid:
		return f.streamToFileOrQueue(ctx, d, filepath.Join(f.deps.ChannelDir, domain.Filename(d)))
	default:
		return f.downloadWholeFile(ctx, d, filepath.Join(f.deps.ChannelDir, domain.Filename(d)))
	}
}

// downloadWholeFile downloads straight to disk (raw mode). A RateLimitedError
// is never counted against wholeFileMaxRetry: it is waited out and retried
// indefinitely, the same policy probe.go's fetchBatchWithRateLimit applies,
// so FLOOD_WAIT never surfaces as a per-item failure. Only a genuinely
// non-rate-limit error is handed to the bounded, backed-off retry helper.
func (f *Fetcher) downloadWholeFile(ctx context.Context, d domain.MessageDescriptor, path string) error {
	op := func() error {
		_, err := f.deps.Transport.DownloadMedia(ctx, f.deps.Chat, d, path)
		return err
	}
	retryOp := func() error {
		for {
			err := op()
			if waited, werr := f.waitOutRateLimit(ctx, err); !waited {
				return err
			} else if werr != nil {
				return werr
			}
		}
	}

	for {
		err := op()
		if err == nil {
			return nil
		}
		if waited, werr := f.waitOutRateLimit(ctx, err); waited {
			if werr != nil {
				return werr
			}
			continue
		}

		attempts, rerr := retry.WithRetry(ctx, f.deps.Log, fmt.Sprintf("download message %d", d.ID), retryOp, wholeFileMaxRetry, wholeFileBaseDelay)
		if rerr != nil {
			_ = f.deps.FS.DeleteFile(path)
			return fmt.Errorf("download failed after %d attempts: %w", attempts+1, rerr)
		}
		return nil
	}
}

// streamToFileOrQueue streams a message's media into a local file (hybrid
// mode) and, when uploading is enabled, enqueues a FetchedItem referencing
// that same path.
func (f *Fetcher) streamToFileOrQueue(ctx context.Context, d domain.MessageDescriptor, path string) error {
	rc, err := f.streamMedia(ctx, d)
	if err != nil {
		return err
	}
	defer rc.Close()

	w, err := f.deps.FS.CreateFile(path)
	if err != nil {
		return &domain.FilesystemError{Path: path, Err: err}
	}

	if _, copyErr := io.Copy(w, rc); copyErr != nil {
		w.Close()
		_ = f.deps.FS.DeleteFile(path)
		return fmt.Errorf("streaming message %d: %w", d.ID, copyErr)
	}
	if err := w.Close(); err != nil {
		_ = f.deps.FS.DeleteFile(path)
		return &domain.FilesystemError{Path: path, Err: err}
	}

	if f.deps.Uploads != nil {
		item := domain.FetchedItem{
			Descriptor:    d,
			PayloadKind:   domain.PayloadPath,
			Path:          path,
			OriginSession: f.deps.Session,
		}
		select {
		case f.deps.Uploads <- item:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// streamToMemory streams a message's media entirely into memory (upload
// mode) and enqueues it for upload without ever writing to local disk.
func (f *Fetcher) streamToMemory(ctx context.Context, d domain.MessageDescriptor) error {
	rc, err := f.streamMedia(ctx, d)
	if err != nil {
		return err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return fmt.Errorf("streaming message %d into memory: %w", d.ID, err)
	}

	if f.deps.Uploads == nil {
		return fmt.Errorf("upload storage mode requires an upload queue")
	}
	item := domain.FetchedItem{
		Descriptor:    d,
		PayloadKind:   domain.PayloadMemory,
		Bytes:         data,
		OriginSession: f.deps.Session,
	}
	select {
	case f.deps.Uploads <- item:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// streamMedia opens a media stream, waiting out and retrying indefinitely on
// FLOOD_WAIT rather than surfacing it as a per-item failure (spec.md's
// "FloodWait is never bubbled up", same policy as downloadWholeFile).
func (f *Fetcher) streamMedia(ctx context.Context, d domain.MessageDescriptor) (io.ReadCloser, error) {
	for {
		rc, err := f.deps.Transport.StreamMedia(ctx, f.deps.Chat, d)
		if err == nil {
			return rc, nil
		}
		if waited, werr := f.waitOutRateLimit(ctx, err); waited {
			if werr != nil {
				return nil, werr
			}
			continue
		}
		return nil, err
	}
}

// waitOutRateLimit reports whether err is a RateLimitedError; if so it marks
// the session cooling down on the pool and sleeps rl.Wait before returning
// (true, nil) so the caller retries the same operation. It returns (true,
// err) if ctx is cancelled mid-sleep, and (false, nil) when err is not a
// RateLimitedError at all.
func (f *Fetcher) waitOutRateLimit(ctx context.Context, err error) (bool, error) {
	var rl *domain.RateLimitedError
	if !errors.As(err, &rl) {
		return false, nil
	}
	_ = f.deps.Pool.MarkRateLimited(f.deps.Session, rl.Wait)
	f.deps.Log.Warn("rate limited, sleeping", zap.String("session", f.deps.Session), zap.Duration("wait", rl.Wait))
	select {
	case <-time.After(rl.Wait):
		return true, nil
	case <-ctx.Done():
		return true, ctx.Err()
	}
}
