package usecase

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"

	"tg-archiver/internal/domain"
)

// fakeTransport is a minimal in-memory domain.Transport used by fetcher and
// uploader tests. Behavior is driven by the exported fields/funcs, set up
// per test before use.
type fakeTransport struct {
	mu sync.Mutex

	messagesByID map[int]*domain.MessageDescriptor
	mediaBytes   map[int][]byte

	getMessagesErr  error
	getMessagesCall int

	streamMediaErrByID     map[int]error // returned on every call for that id
	streamMediaErrOnceByID map[int]error // returned once, then cleared, for that id

	downloadMediaErrByID map[int]error // returned once, then cleared, for that id
	downloadMediaCalls   map[int]int

	sentSingles    []domain.FetchedItem
	sentAlbums     [][]domain.FetchedItem
	sentTexts      []string
	sendSingleErr  error
	sendAlbumErr   error
	sendSingleFail int // number of calls to fail before succeeding
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		messagesByID:       make(map[int]*domain.MessageDescriptor),
		mediaBytes:         make(map[int][]byte),
		downloadMediaCalls: make(map[int]int),
	}
}

func (f *fakeTransport) GetChat(ctx context.Context, handle string) (domain.Chat, error) {
	return domain.Chat{ID: 1, Username: handle, Title: handle}, nil
}

func (f *fakeTransport) GetMessages(ctx context.Context, chat domain.Chat, ids []int) ([]*domain.MessageDescriptor, error) {
	f.mu.Lock()
	f.getMessagesCall++
	f.mu.Unlock()

	if f.getMessagesErr != nil {
		err := f.getMessagesErr
		f.getMessagesErr = nil
		return nil, err
	}

	out := make([]*domain.MessageDescriptor, len(ids))
	for i, id := range ids {
		out[i] = f.messagesByID[id]
	}
	return out, nil
}

func (f *fakeTransport) StreamMedia(ctx context.Context, chat domain.Chat, desc domain.MessageDescriptor) (io.ReadCloser, error) {
	if err := f.streamMediaErrByID[desc.ID]; err != nil {
		return nil, err
	}
	f.mu.Lock()
	onceErr, ok := f.streamMediaErrOnceByID[desc.ID]
	if ok {
		delete(f.streamMediaErrOnceByID, desc.ID)
	}
	f.mu.Unlock()
	if ok {
		return nil, onceErr
	}
	b := f.mediaBytes[desc.ID]
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (f *fakeTransport) DownloadMedia(ctx context.Context, chat domain.Chat, desc domain.MessageDescriptor, path string) (string, error) {
	f.mu.Lock()
	f.downloadMediaCalls[desc.ID]++
	err, ok := f.downloadMediaErrByID[desc.ID]
	if ok {
		delete(f.downloadMediaErrByID, desc.ID)
	}
	f.mu.Unlock()
	if ok {
		return "", err
	}
	return path, nil
}

func (f *fakeTransport) SendMessage(ctx context.Context, chat domain.Chat, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sentTexts = append(f.sentTexts, text)
	return nil
}

func (f *fakeTransport) sendSingle(item domain.FetchedItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendSingleFail > 0 {
		f.sendSingleFail--
		return errors.New("transient send failure")
	}
	if f.sendSingleErr != nil {
		return f.sendSingleErr
	}
	f.sentSingles = append(f.sentSingles, item)
	return nil
}

func (f *fakeTransport) SendPhoto(ctx context.Context, chat domain.Chat, item domain.FetchedItem, caption string) error {
	return f.sendSingle(item)
}
func (f *fakeTransport) SendVideo(ctx context.Context, chat domain.Chat, item domain.FetchedItem, caption string) error {
	return f.sendSingle(item)
}
func (f *fakeTransport) SendAudio(ctx context.Context, chat domain.Chat, item domain.FetchedItem, caption string) error {
	return f.sendSingle(item)
}
func (f *fakeTransport) SendDocument(ctx context.Context, chat domain.Chat, item domain.FetchedItem, caption string) error {
	return f.sendSingle(item)
}

func (f *fakeTransport) SendMediaGroup(ctx context.Context, chat domain.Chat, items []domain.FetchedItem, caption string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendAlbumErr != nil {
		return f.sendAlbumErr
	}
	f.sentAlbums = append(f.sentAlbums, items)
	return nil
}

func (f *fakeTransport) ListDialogs(ctx context.Context) ([]domain.Chat, error) {
	return nil, nil
}

func (f *fakeTransport) Close() error { return nil }

// fakeFS is an in-memory domain.FileSystem.
type fakeFS struct {
	mu      sync.Mutex
	files   map[string][]byte
	appends map[string][]string
	deleted map[string]bool
}

func newFakeFS() *fakeFS {
	return &fakeFS{
		files:   make(map[string][]byte),
		appends: make(map[string][]string),
		deleted: make(map[string]bool),
	}
}

func (f *fakeFS) EnsureDir(path string) error { return nil }

func (f *fakeFS) CreateFile(path string) (io.WriteCloser, error) {
	return &fakeWriteCloser{fs: f, path: path}, nil
}

func (f *fakeFS) DeleteFile(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.files, path)
	f.deleted[path] = true
	return nil
}

func (f *fakeFS) AppendLine(path string, line string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appends[path] = append(f.appends[path], line)
	return nil
}

func (f *fakeFS) Stat(path string) (int64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.files[path]
	if !ok {
		return 0, false
	}
	return int64(len(b)), true
}

type fakeWriteCloser struct {
	fs   *fakeFS
	path string
	buf  bytes.Buffer
}

func (w *fakeWriteCloser) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

func (w *fakeWriteCloser) Close() error {
	w.fs.mu.Lock()
	defer w.fs.mu.Unlock()
	w.fs.files[w.path] = append([]byte(nil), w.buf.Bytes()...)
	return nil
}
