package domain

import (
	"context"
	"io"
)

// Chat identifies a resolved Telegram channel/supergroup, cached for the
// lifetime of a run after the coordinator's one GetChat call.
type Chat struct {
	ID         int64
	AccessHash int64
	Username   string
	Title      string
}

// Transport is the boundary the core speaks to the Telegram MTProto world
// through. It is the sole place any component branches on a library-specific
// message/media shape; every other package consumes MessageDescriptor.
//
// Implementations must translate library errors into the domain error kinds
// in errors.go (RateLimitedError, TransientNetworkError, AuthFailureError,
// ForbiddenError, MalformedMessageError) at this boundary.
type Transport interface {
	// GetChat resolves a "@handle" to a Chat, called once per run.
	GetChat(ctx context.Context, handle string) (Chat, error)

	// GetMessages fetches up to 200 ids in one call. The returned slice has
	// the same length as ids; an entry is nil when the message is absent
	// (deleted or never existed).
	GetMessages(ctx context.Context, chat Chat, ids []int) ([]*MessageDescriptor, error)

	// StreamMedia opens a chunked reader over a message's media, used when
	// the item will also be handed to the uploader.
	StreamMedia(ctx context.Context, chat Chat, desc MessageDescriptor) (io.ReadCloser, error)

	// DownloadMedia writes a message's media directly to path and returns
	// the final path, used when no upload is scheduled (raw mode).
	DownloadMedia(ctx context.Context, chat Chat, desc MessageDescriptor, path string) (string, error)

	// SendMessage posts a text-only message. The uploader uses it for a
	// queued item of kind text; the fetcher writes text-only messages to
	// messages.txt and does not queue them.
	SendMessage(ctx context.Context, chat Chat, text string) error

	// SendPhoto/SendVideo/SendAudio/SendDocument post one singleton fetched
	// item with its caption, selecting the call by descriptor kind.
	SendPhoto(ctx context.Context, chat Chat, item FetchedItem, caption string) error
	SendVideo(ctx context.Context, chat Chat, item FetchedItem, caption string) error
	SendAudio(ctx context.Context, chat Chat, item FetchedItem, caption string) error
	SendDocument(ctx context.Context, chat Chat, item FetchedItem, caption string) error

	// SendMediaGroup posts 2-10 items as one atomic album, with caption
	// attached to the first member only.
	SendMediaGroup(ctx context.Context, chat Chat, items []FetchedItem, caption string) error

	// ListDialogs lists the caller's open channels/supergroups, used only
	// for interactive target-channel selection when not given via flag.
	ListDialogs(ctx context.Context) ([]Chat, error)

	// Close releases the underlying connection.
	Close() error
}

// FileSystem is the local-disk boundary: channel directory creation,
// per-message file writes (streamed or whole), and the messages.txt log.
type FileSystem interface {
	EnsureDir(path string) error
	// CreateFile opens path for writing, truncating any existing content.
	CreateFile(path string) (io.WriteCloser, error)
	DeleteFile(path string) error
	// AppendLine appends a line (already newline-terminated) to path in
	// UTF-8, creating the file if absent.
	AppendLine(path string, line string) error
	Stat(path string) (size int64, exists bool)
}

// ProgressTask is one in-flight transfer's progress handle.
type ProgressTask interface {
	Increment(n int)
	SetCurrent(current int64)
	Complete()
	Abort()
}

// ProgressReporter creates and waits on ProgressTasks, implemented by the UI
// adapter (console progress bars, or a non-interactive logger).
type ProgressReporter interface {
	Start(name string, total int64) ProgressTask
	Wait()
}
