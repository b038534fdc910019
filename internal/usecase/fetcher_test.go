package usecase

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tg-archiver/internal/domain"

	"go.uber.org/zap"
)

func newTestPool(t *testing.T, names ...string) *Pool {
	t.Helper()
	ctx := context.Background()
	var handles []SessionHandle
	for _, name := range names {
		transport := newFakeTransport()
		handles = append(handles, SessionHandle{
			Name:      name,
			Transport: transport,
			Start:     func(ctx context.Context) error { return nil },
		})
	}
	pool := NewPool(ctx, handles, zap.NewNop())
	if err := pool.BringOnline(); err != nil {
		t.Fatalf("BringOnline: %v", err)
	}
	return pool
}

func TestFetcherLogsTextMessagesToMessagesTxt(t *testing.T) {
	transport := newFakeTransport()
	fs := newFakeFS()
	pool := newTestPool(t, "s1")

	f := NewFetcher(FetcherDeps{
		Transport:  transport,
		Chat:       domain.Chat{ID: 1},
		FS:         fs,
		Pool:       pool,
		Session:    "s1",
		ChannelDir: "/archive/chan",
		Log:        zap.NewNop(),
	})

	groups := []domain.Group{{ID: "single:1", Messages: []domain.MessageDescriptor{{ID: 1, Kind: domain.KindText, Text: "hello"}}}}
	result, err := f.Run(context.Background(), groups)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Downloaded != 1 || result.Failed != 0 {
		t.Errorf("result = %+v, want Downloaded=1 Failed=0", result)
	}

	lines := fs.appends[filepath.Join("/archive/chan", "messages.txt")]
	if len(lines) != 1 {
		t.Fatalf("len(messages.txt lines) = %d, want 1", len(lines))
	}
	if !strings.Contains(lines[0], "消息ID: 1") || !strings.Contains(lines[0], "内容: hello") {
		t.Errorf("messages.txt line missing expected fields: %q", lines[0])
	}
}

func TestFetcherTextMessageBlankContentPlaceholder(t *testing.T) {
	transport := newFakeTransport()
	fs := newFakeFS()
	pool := newTestPool(t, "s1")

	f := NewFetcher(FetcherDeps{Transport: transport, Chat: domain.Chat{ID: 1}, FS: fs, Pool: pool, Session: "s1", ChannelDir: "/archive/chan", Log: zap.NewNop()})

	groups := []domain.Group{{ID: "single:1", Messages: []domain.MessageDescriptor{{ID: 1, Kind: domain.KindText, Text: ""}}}}
	if _, err := f.Run(context.Background(), groups); err != nil {
		t.Fatalf("Run: %v", err)
	}

	lines := fs.appends[filepath.Join("/archive/chan", "messages.txt")]
	if len(lines) != 1 || !strings.Contains(lines[0], "无文本内容") {
		t.Fatalf("expected placeholder text, got %v", lines)
	}
}

func TestFetcherStreamsMediaAndEnqueuesUpload(t *testing.T) {
	transport := newFakeTransport()
	transport.mediaBytes[1] = []byte("fake-photo-bytes")
	fs := newFakeFS()
	pool := newTestPool(t, "s1")

	uploads := make(chan domain.FetchedItem, 1)
	f := NewFetcher(FetcherDeps{
		Transport:   transport,
		Chat:        domain.Chat{ID: 1},
		FS:          fs,
		Pool:        pool,
		Session:     "s1",
		ChannelDir:  "/archive/chan",
		Uploads:     uploads,
		StorageMode: "hybrid",
		Log:         zap.NewNop(),
	})

	d := domain.MessageDescriptor{ID: 1, Kind: domain.KindPhoto}
	groups := []domain.Group{{ID: "single:1", Messages: []domain.MessageDescriptor{d}}}
	result, err := f.Run(context.Background(), groups)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Downloaded != 1 {
		t.Errorf("Downloaded = %d, want 1", result.Downloaded)
	}

	select {
	case item := <-uploads:
		if item.PayloadKind != domain.PayloadPath || item.Path == "" {
			t.Errorf("enqueued item missing path payload: %+v", item)
		}
	default:
		t.Fatal("expected an item on the uploads channel")
	}

	path := filepath.Join("/archive/chan", domain.Filename(d))
	if string(fs.files[path]) != "fake-photo-bytes" {
		t.Errorf("file contents = %q, want %q", fs.files[path], "fake-photo-bytes")
	}
}

func TestFetcherIsolatesPerItemFailures(t *testing.T) {
	transport := newFakeTransport()
	transport.mediaBytes[1] = []byte("ok-bytes")
	transport.streamMediaErrByID = map[int]error{2: errors.New("stream failed")}
	fs := newFakeFS()
	pool := newTestPool(t, "s1")

	f := NewFetcher(FetcherDeps{
		Transport: transport, Chat: domain.Chat{ID: 1}, FS: fs, Pool: pool, Session: "s1",
		ChannelDir: "/archive/chan", StorageMode: "hybrid", Log: zap.NewNop(),
	})

	groups := []domain.Group{{ID: "g", Messages: []domain.MessageDescriptor{
		{ID: 1, Kind: domain.KindPhoto},
		{ID: 2, Kind: domain.KindPhoto},
	}}}
	result, err := f.Run(context.Background(), groups)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Downloaded != 1 || result.Failed != 1 {
		t.Errorf("result = %+v, want Downloaded=1 Failed=1", result)
	}
	if result.MinID != 1 || result.MaxID != 2 {
		t.Errorf("id range = [%d, %d], want [1, 2]", result.MinID, result.MaxID)
	}
}

// TestFetcherRetriesWholeFileDownloadOnRateLimit exercises the named
// scenario of a FloodWait mid-batch: the first DownloadMedia attempt is
// rate-limited, the fetcher waits it out and retries, and the item still
// succeeds rather than being counted as failed.
func TestFetcherRetriesWholeFileDownloadOnRateLimit(t *testing.T) {
	transport := newFakeTransport()
	transport.downloadMediaErrByID = map[int]error{1: &domain.RateLimitedError{Session: "s1", Wait: time.Millisecond}}
	fs := newFakeFS()
	pool := newTestPool(t, "s1")

	f := NewFetcher(FetcherDeps{
		Transport: transport, Chat: domain.Chat{ID: 1}, FS: fs, Pool: pool, Session: "s1",
		ChannelDir: "/archive/chan", Log: zap.NewNop(),
	})

	groups := []domain.Group{{ID: "single:1", Messages: []domain.MessageDescriptor{{ID: 1, Kind: domain.KindPhoto}}}}
	result, err := f.Run(context.Background(), groups)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Downloaded != 1 || result.Failed != 0 {
		t.Errorf("result = %+v, want Downloaded=1 Failed=0", result)
	}
	if transport.downloadMediaCalls[1] != 2 {
		t.Errorf("download attempts for message 1 = %d, want 2 (one rate-limited, one success)", transport.downloadMediaCalls[1])
	}
}

// TestFetcherRetriesStreamOnRateLimit exercises the same scenario for
// hybrid/upload mode's StreamMedia path.
func TestFetcherRetriesStreamOnRateLimit(t *testing.T) {
	transport := newFakeTransport()
	transport.mediaBytes[1] = []byte("fake-photo-bytes")
	transport.streamMediaErrOnceByID = map[int]error{1: &domain.RateLimitedError{Session: "s1", Wait: time.Millisecond}}
	fs := newFakeFS()
	pool := newTestPool(t, "s1")

	f := NewFetcher(FetcherDeps{
		Transport: transport, Chat: domain.Chat{ID: 1}, FS: fs, Pool: pool, Session: "s1",
		ChannelDir: "/archive/chan", StorageMode: "hybrid", Log: zap.NewNop(),
	})

	groups := []domain.Group{{ID: "single:1", Messages: []domain.MessageDescriptor{{ID: 1, Kind: domain.KindPhoto}}}}
	result, err := f.Run(context.Background(), groups)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Downloaded != 1 || result.Failed != 0 {
		t.Errorf("result = %+v, want Downloaded=1 Failed=0", result)
	}
}

func TestFetcherUploadModeBuildsMemoryPayload(t *testing.T) {
	transport := newFakeTransport()
	transport.mediaBytes[1] = []byte("fake-photo-bytes")
	fs := newFakeFS()
	pool := newTestPool(t, "s1")

	uploads := make(chan domain.FetchedItem, 1)
	f := NewFetcher(FetcherDeps{
		Transport: transport, Chat: domain.Chat{ID: 1}, FS: fs, Pool: pool, Session: "s1",
		ChannelDir: "/archive/chan", Uploads: uploads, StorageMode: "upload", Log: zap.NewNop(),
	})

	groups := []domain.Group{{ID: "single:1", Messages: []domain.MessageDescriptor{{ID: 1, Kind: domain.KindPhoto}}}}
	if _, err := f.Run(context.Background(), groups); err != nil {
		t.Fatalf("Run: %v", err)
	}

	select {
	case item := <-uploads:
		if item.PayloadKind != domain.PayloadMemory || string(item.Bytes) != "fake-photo-bytes" {
			t.Errorf("enqueued item = %+v, want PayloadMemory with fake-photo-bytes", item)
		}
	default:
		t.Fatal("expected an item on the uploads channel")
	}

	if len(fs.files) != 0 {
		t.Errorf("upload mode must not write to disk, got files: %v", fs.files)
	}
}

func TestFetcherReturnsCancelErrorOnContextCancellation(t *testing.T) {
	transport := newFakeTransport()
	fs := newFakeFS()
	pool := newTestPool(t, "s1")

	f := NewFetcher(FetcherDeps{Transport: transport, Chat: domain.Chat{ID: 1}, FS: fs, Pool: pool, Session: "s1", ChannelDir: "/archive/chan", Log: zap.NewNop()})

	var msgs []domain.MessageDescriptor
	for i := 1; i <= 200; i++ {
		msgs = append(msgs, domain.MessageDescriptor{ID: i, Kind: domain.KindText, Text: "x"})
	}
	groups := []domain.Group{{ID: "g", Messages: msgs}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.Run(ctx, groups)
	var cancelErr *domain.CoordinatorCancelError
	if !errors.As(err, &cancelErr) {
		t.Fatalf("expected *domain.CoordinatorCancelError, got %v", err)
	}
}
