package usecase

import (
	"context"
	"errors"
	"time"

	"tg-archiver/internal/domain"

	"go.uber.org/zap"
)

const maxAlbumSize = 10

type uploaderState int

const (
	stateIdle uploaderState = iota
	stateBuffering
	stateFlushing
)

// UploaderConfig holds the §4.E/§6 knobs governing upload behavior.
type UploaderConfig struct {
	PreserveCaptions     bool
	PreserveMediaGroups  bool
	UploadDelay          time.Duration
	DeleteAfterUpload    bool
}

// Uploader consumes FetchedItems from a bounded queue and re-emits them to
// the target channel, holding at most one album open at a time. It is the
// explicit three-state machine called for in spec §9, replacing a pair of
// optional fields with idle/buffering/flushing.
type Uploader struct {
	transport domain.Transport
	target    domain.Chat
	fs        domain.FileSystem
	cfg       UploaderConfig
	log       *zap.Logger

	state     uploaderState
	albumID   string
	collected []domain.FetchedItem

	counters domain.UploadCounters
}

// NewUploader constructs an idle Uploader targeting chat.
func NewUploader(transport domain.Transport, target domain.Chat, fs domain.FileSystem, cfg UploaderConfig, log *zap.Logger) *Uploader {
	if cfg.UploadDelay <= 0 {
		cfg.UploadDelay = 1500 * time.Millisecond
	}
	return &Uploader{transport: transport, target: target, fs: fs, cfg: cfg, log: log, state: stateIdle}
}

// Run drains queue until it is closed, applying the state machine to each
// item, then flushes any still-open album before returning (the shutdown
// path that guarantees the tail album of a run is emitted).
func (u *Uploader) Run(ctx context.Context, queue <-chan domain.FetchedItem) domain.UploadCounters {
	for {
		select {
		case item, ok := <-queue:
			if !ok {
				u.flushIfBuffering(ctx)
				return u.counters
			}
			u.handle(ctx, item)
		case <-ctx.Done():
			u.flushIfBuffering(ctx)
			return u.counters
		}
	}
}

func (u *Uploader) handle(ctx context.Context, item domain.FetchedItem) {
	if !u.cfg.PreserveMediaGroups || !item.Descriptor.InAlbum() {
		if u.state == stateBuffering {
			u.flush(ctx)
		}
		u.sendSingle(ctx, item)
		return
	}

	switch u.state {
	case stateIdle:
		u.state = stateBuffering
		u.albumID = item.Descriptor.AlbumID
		u.collected = []domain.FetchedItem{item}

	case stateBuffering:
		if item.Descriptor.AlbumID != u.albumID {
			u.flush(ctx)
			u.state = stateBuffering
			u.albumID = item.Descriptor.AlbumID
			u.collected = []domain.FetchedItem{item}
			return
		}
		u.collected = append(u.collected, item)
		if len(u.collected) >= maxAlbumSize {
			// Decision D1: flush at 10 even mid-album; any further members
			// of the same album_id start a fresh buffering round.
			u.flush(ctx)
		}
	}
}

func (u *Uploader) flushIfBuffering(ctx context.Context) {
	if u.state == stateBuffering {
		u.flush(ctx)
	}
}

func (u *Uploader) flush(ctx context.Context) {
	u.state = stateFlushing
	items := u.collected
	u.collected = nil

	caption := ""
	if u.cfg.PreserveCaptions && len(items) > 0 {
		caption = items[0].Descriptor.Caption
	}

	if len(items) == 1 {
		u.sendSingle(ctx, items[0])
		u.state = stateIdle
		return
	}

	if err := u.transport.SendMediaGroup(ctx, u.target, items, caption); err != nil {
		u.log.Error("album upload failed, discarding", zap.String("album_id", u.albumID), zap.Int("members", len(items)), zap.Error(err))
		u.counters.Failed++
	} else {
		u.counters.AlbumsUploaded++
		u.cleanupLocal(items)
	}

	u.state = stateIdle
	time.Sleep(u.cfg.UploadDelay)
}

// sendSingle emits one non-album (or fallen-back) item immediately via the
// kind-appropriate call, retrying once on non-rate-limit transient errors
// (Decision D2), never on rate-limit (waited out instead).
func (u *Uploader) sendSingle(ctx context.Context, item domain.FetchedItem) {
	caption := ""
	if u.cfg.PreserveCaptions {
		caption = item.Descriptor.Caption
	}

	send := func() error { return u.dispatchSingle(ctx, item, caption) }

	retried := false
	err := send()
	for {
		if err == nil {
			break
		}
		var rl *domain.RateLimitedError
		if errors.As(err, &rl) {
			select {
			case <-time.After(rl.Wait):
			case <-ctx.Done():
				u.counters.Failed++
				return
			}
			err = send()
			continue
		}
		if retried {
			break
		}
		retried = true
		err = send()
	}

	if err != nil {
		u.log.Error("single upload failed", zap.Int("message_id", item.Descriptor.ID), zap.Error(err))
		u.counters.Failed++
		return
	}

	u.counters.SinglesUploaded++
	u.cleanupLocal([]domain.FetchedItem{item})
	time.Sleep(u.cfg.UploadDelay)
}

func (u *Uploader) dispatchSingle(ctx context.Context, item domain.FetchedItem, caption string) error {
	switch item.Descriptor.Kind {
	case domain.KindPhoto:
		return u.transport.SendPhoto(ctx, u.target, item, caption)
	case domain.KindVideo, domain.KindVideoNote, domain.KindAnimation:
		return u.transport.SendVideo(ctx, u.target, item, caption)
	case domain.KindAudio, domain.KindVoice:
		return u.transport.SendAudio(ctx, u.target, item, caption)
	case domain.KindText:
		return u.transport.SendMessage(ctx, u.target, item.Descriptor.Text)
	default:
		return u.transport.SendDocument(ctx, u.target, item, caption)
	}
}

func (u *Uploader) cleanupLocal(items []domain.FetchedItem) {
	if !u.cfg.DeleteAfterUpload {
		return
	}
	for _, item := range items {
		if item.PayloadKind == domain.PayloadPath && item.Path != "" {
			if err := u.fs.DeleteFile(item.Path); err != nil {
				u.log.Warn("failed to delete local file after upload", zap.String("path", item.Path), zap.Error(err))
			}
		}
	}
}
