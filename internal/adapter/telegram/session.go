// Package telegram implements domain.Transport over github.com/gotd/td. One
// Session wraps exactly one gotd client, built from one session file on
// disk; the usecase-level Pool owns N of them.
package telegram

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"tg-archiver/internal/domain"

	"github.com/gotd/contrib/middleware/ratelimit"
	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/telegram/uploader"
	"github.com/gotd/td/tg"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// clientRateLimit paces outgoing MTProto calls per session: 20 requests per
// second sustained with bursts up to 10, ahead of Telegram's own FLOOD_WAIT
// so well-behaved sessions rarely trigger one.
const (
	clientRateLimit      = 20
	clientRateLimitBurst = 10
)

// AuthInput supplies interactive credentials during the login flow. The UI
// adapter implements this.
type AuthInput interface {
	GetPhoneNumber() (string, error)
	GetCode() (string, error)
	GetPassword() (string, error)
}

// Session implements domain.Transport for one authenticated account.
type Session struct {
	name   string
	client *telegram.Client
	api    *tg.Client
	sender *message.Sender
	upl    *uploader.Uploader
	log    *zap.Logger

	mu             sync.RWMutex
	peerCache      map[string]domain.Chat
	progressStarts map[int64]time.Time
	progressTasks  map[int64]domain.ProgressTask

	reporter      domain.ProgressReporter
	uploadThreads int
}

// NewSession constructs a Session backed by sessionFile, which is created on
// first successful login and reused on every later run.
func NewSession(name string, appID int, appHash string, sessionFile string, log *zap.Logger) (*Session, error) {
	if err := os.MkdirAll(filepath.Dir(sessionFile), 0700); err != nil {
		return nil, &domain.FilesystemError{Path: sessionFile, Fatal: true, Err: err}
	}

	opts := telegram.Options{
		SessionStorage: &session.FileStorage{Path: sessionFile},
		Middlewares: []telegram.Middleware{
			ratelimit.New(rate.Limit(clientRateLimit), clientRateLimitBurst),
		},
	}
	client := telegram.NewClient(appID, appHash, opts)

	return &Session{
		name:           name,
		client:         client,
		log:            log.With(zap.String("session", name)),
		peerCache:      make(map[string]domain.Chat),
		progressStarts: make(map[int64]time.Time),
		progressTasks:  make(map[int64]domain.ProgressTask),
		uploadThreads:  4,
	}, nil
}

// Name identifies the session for pool bookkeeping and log correlation.
func (s *Session) Name() string { return s.name }

// SetUploadThreads changes the uploader's part-concurrency.
func (s *Session) SetUploadThreads(threads int) {
	if threads <= 0 {
		threads = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploadThreads = threads
	if s.upl != nil {
		s.upl = s.upl.WithThreads(threads)
	}
}

// SetProgressReporter wires a UI progress reporter into this session's
// upload/download tracking.
func (s *Session) SetProgressReporter(reporter domain.ProgressReporter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reporter = reporter
}

// Start connects and authenticates, blocking until the client is ready to
// serve API calls or the context is cancelled.
func (s *Session) Start(ctx context.Context, input AuthInput) error {
	ready := make(chan error, 1)

	go func() {
		err := s.client.Run(ctx, func(ctx context.Context) error {
			status, err := s.client.Auth().Status(ctx)
			if err != nil {
				ready <- &domain.AuthFailureError{Session: s.name, Err: err}
				return err
			}

			if !status.Authorized {
				s.log.Info("not authorized, starting login flow")
				flow := auth.NewFlow(termAuth{input: input, log: s.log}, auth.SendCodeOptions{})
				if err := s.client.Auth().IfNecessary(ctx, flow); err != nil {
					wrapped := &domain.AuthFailureError{Session: s.name, Err: err}
					ready <- wrapped
					return wrapped
				}
				s.log.Info("login flow complete")
			}

			s.api = s.client.API()
			s.sender = message.NewSender(s.api)
			s.upl = uploader.NewUploader(s.api).
				WithProgress(s).
				WithPartSize(512 * 1024).
				WithThreads(s.uploadThreads)

			select {
			case ready <- nil:
			default:
			}

			s.log.Info("session online")
			<-ctx.Done()
			return ctx.Err()
		})
		if err != nil {
			select {
			case ready <- err:
			default:
			}
		}
	}()

	select {
	case err := <-ready:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close is a no-op kept for interface symmetry: gotd's Run loop, and with it
// the connection, ends when the caller-owned context is cancelled.
func (s *Session) Close() error { return nil }

func (s *Session) cachedChat(handle string) (domain.Chat, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.peerCache[handle]
	return c, ok
}

func (s *Session) cacheChat(handle string, c domain.Chat) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peerCache[handle] = c
}

func (s *Session) inputPeer(chat domain.Chat) *tg.InputPeerChannel {
	return &tg.InputPeerChannel{ChannelID: chat.ID, AccessHash: chat.AccessHash}
}

func (s *Session) inputChannel(chat domain.Chat) *tg.InputChannel {
	return &tg.InputChannel{ChannelID: chat.ID, AccessHash: chat.AccessHash}
}

func formatSize(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}
