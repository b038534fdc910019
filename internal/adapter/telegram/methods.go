package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"tg-archiver/internal/domain"

	"github.com/gotd/td/crypto"
	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/telegram/message/styling"
	"github.com/gotd/td/telegram/uploader"
	"github.com/gotd/td/tg"
)

// GetChat resolves "@handle" (with or without the leading "@") to a Chat,
// caching the access hash for the lifetime of the session.
func (s *Session) GetChat(ctx context.Context, handle string) (domain.Chat, error) {
	clean := strings.TrimPrefix(handle, "@")
	if c, ok := s.cachedChat(clean); ok {
		return c, nil
	}

	res, err := s.api.ContactsResolveUsername(ctx, &tg.ContactsResolveUsernameRequest{Username: clean})
	if err != nil {
		return domain.Chat{}, s.translate("resolve_username", err)
	}

	for _, chat := range res.Chats {
		if c, ok := chat.(*tg.Channel); ok {
			resolved := domain.Chat{ID: c.ID, AccessHash: c.AccessHash, Username: clean, Title: c.Title}
			s.cacheChat(clean, resolved)
			return resolved, nil
		}
	}
	return domain.Chat{}, fmt.Errorf("handle %q did not resolve to a channel", handle)
}

// ListDialogs lists the account's open channels/supergroups, for interactive
// target-channel selection.
func (s *Session) ListDialogs(ctx context.Context) ([]domain.Chat, error) {
	dialogs, err := s.api.MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
		Limit:      100,
		OffsetPeer: &tg.InputPeerEmpty{},
	})
	if err != nil {
		return nil, s.translate("get_dialogs", err)
	}

	var chats []tg.ChatClass
	switch d := dialogs.(type) {
	case *tg.MessagesDialogs:
		chats = d.Chats
	case *tg.MessagesDialogsSlice:
		chats = d.Chats
	}

	var out []domain.Chat
	for _, chat := range chats {
		if c, ok := chat.(*tg.Channel); ok {
			resolved := domain.Chat{ID: c.ID, AccessHash: c.AccessHash, Username: c.Username, Title: c.Title}
			if c.Username != "" {
				s.cacheChat(c.Username, resolved)
			}
			out = append(out, resolved)
		}
	}
	return out, nil
}

// GetMessages fetches up to 200 ids in one call. The result slice has the
// same length as ids; missing messages yield a nil entry.
func (s *Session) GetMessages(ctx context.Context, chat domain.Chat, ids []int) ([]*domain.MessageDescriptor, error) {
	inputIDs := make([]tg.InputMessageClass, len(ids))
	for i, id := range ids {
		inputIDs[i] = &tg.InputMessageID{ID: id}
	}

	res, err := s.api.ChannelsGetMessages(ctx, &tg.ChannelsGetMessagesRequest{
		Channel: s.inputChannel(chat),
		ID:      inputIDs,
	})
	if err != nil {
		return nil, s.translate("get_messages", err)
	}

	var raw []tg.MessageClass
	switch m := res.(type) {
	case *tg.MessagesChannelMessages:
		raw = m.Messages
	case *tg.MessagesMessagesSlice:
		raw = m.Messages
	case *tg.MessagesMessages:
		raw = m.Messages
	}

	byID := make(map[int]*domain.MessageDescriptor, len(raw))
	for _, mc := range raw {
		m, ok := mc.(*tg.Message)
		if !ok {
			continue
		}
		d, err := descriptorFromMessage(m)
		if err != nil {
			byID[m.ID] = nil
			continue
		}
		byID[m.ID] = d
	}

	out := make([]*domain.MessageDescriptor, len(ids))
	for i, id := range ids {
		out[i] = byID[id]
	}
	return out, nil
}

func descriptorFromMessage(m *tg.Message) (*domain.MessageDescriptor, error) {
	d := &domain.MessageDescriptor{
		ID:            m.ID,
		Caption:       m.Message,
		Text:          m.Message,
		TimestampUnix: int64(m.Date),
	}

	if gid, ok := m.GetGroupedID(); ok && gid != 0 {
		d.AlbumID = fmt.Sprintf("%d", gid)
	}

	if m.Media == nil {
		d.Kind = domain.KindText
		d.SizeEstimate = domain.EstimateText
		if d.Text == "" {
			return nil, errors.New("empty service message")
		}
		return d, nil
	}

	switch media := m.Media.(type) {
	case *tg.MessageMediaPhoto:
		photo, ok := media.Photo.(*tg.Photo)
		if !ok {
			return nil, errors.New("unresolvable photo media")
		}
		d.Kind = domain.KindPhoto
		d.SizeEstimate = largestPhotoSize(photo)
		if d.SizeEstimate == 0 {
			d.SizeEstimate = domain.DefaultSizeEstimate(domain.KindPhoto)
		}
	case *tg.MessageMediaDocument:
		doc, ok := media.Document.(*tg.Document)
		if !ok {
			return nil, errors.New("unresolvable document media")
		}
		d.Kind = kindFromDocument(doc)
		d.MIMEType = doc.MimeType
		d.SourceName = filenameFromAttributes(doc.Attributes)
		d.SizeEstimate = doc.Size
		if d.SizeEstimate == 0 {
			d.SizeEstimate = domain.DefaultSizeEstimate(d.Kind)
		}
	default:
		return nil, fmt.Errorf("unsupported media type %T", media)
	}

	return d, nil
}

func largestPhotoSize(photo *tg.Photo) int64 {
	var best int64
	for _, sz := range photo.Sizes {
		if s, ok := sz.(*tg.PhotoSize); ok && int64(s.Size) > best {
			best = int64(s.Size)
		}
	}
	return best
}

func kindFromDocument(doc *tg.Document) domain.MessageKind {
	for _, attr := range doc.Attributes {
		switch a := attr.(type) {
		case *tg.DocumentAttributeVideo:
			if a.RoundMessage {
				return domain.KindVideoNote
			}
			return domain.KindVideo
		case *tg.DocumentAttributeAudio:
			if a.Voice {
				return domain.KindVoice
			}
			return domain.KindAudio
		case *tg.DocumentAttributeAnimated:
			return domain.KindAnimation
		case *tg.DocumentAttributeSticker:
			return domain.KindSticker
		}
	}
	return domain.KindDocument
}

func filenameFromAttributes(attrs []tg.DocumentAttributeClass) string {
	for _, attr := range attrs {
		if a, ok := attr.(*tg.DocumentAttributeFilename); ok {
			return a.FileName
		}
	}
	return ""
}

func (s *Session) fileLocation(ctx context.Context, chat domain.Chat, desc domain.MessageDescriptor) (tg.InputFileLocationClass, int64, error) {
	res, err := s.api.ChannelsGetMessages(ctx, &tg.ChannelsGetMessagesRequest{
		Channel: s.inputChannel(chat),
		ID:      []tg.InputMessageClass{&tg.InputMessageID{ID: desc.ID}},
	})
	if err != nil {
		return nil, 0, s.translate("get_messages", err)
	}

	var msg *tg.Message
	if mm, ok := res.(*tg.MessagesChannelMessages); ok && len(mm.Messages) > 0 {
		msg, _ = mm.Messages[0].(*tg.Message)
	}
	if msg == nil {
		return nil, 0, &domain.MalformedMessageError{MessageID: desc.ID, Reason: "message not found at download time"}
	}

	switch media := msg.Media.(type) {
	case *tg.MessageMediaDocument:
		doc, ok := media.Document.(*tg.Document)
		if !ok {
			return nil, 0, &domain.MalformedMessageError{MessageID: desc.ID, Reason: "document not resolvable"}
		}
		return doc.AsInputDocumentFileLocation(), doc.Size, nil
	case *tg.MessageMediaPhoto:
		photo, ok := media.Photo.(*tg.Photo)
		if !ok {
			return nil, 0, &domain.MalformedMessageError{MessageID: desc.ID, Reason: "photo not resolvable"}
		}
		var biggest *tg.PhotoSize
		for _, sz := range photo.Sizes {
			if s, ok := sz.(*tg.PhotoSize); ok {
				if biggest == nil || s.Size > biggest.Size {
					biggest = s
				}
			}
		}
		if biggest == nil {
			return nil, 0, &domain.MalformedMessageError{MessageID: desc.ID, Reason: "photo has no sizes"}
		}
		return photo.AsInputPhotoFileLocation(biggest.Type), int64(biggest.Size), nil
	default:
		return nil, 0, &domain.MalformedMessageError{MessageID: desc.ID, Reason: "message carries no downloadable media"}
	}
}

// StreamMedia opens a chunked reader over a message's media.
func (s *Session) StreamMedia(ctx context.Context, chat domain.Chat, desc domain.MessageDescriptor) (io.ReadCloser, error) {
	loc, size, err := s.fileLocation(ctx, chat, desc)
	if err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	task := s.startProgress(desc.SourceName, size)

	go func() {
		dl := downloader.NewDownloader().WithPartSize(512 * 1024)
		tw := &trackingWriter{w: pw, task: task, total: size}
		_, err := dl.Download(s.api, loc).Stream(ctx, tw)
		if err != nil {
			task.abort()
			pw.CloseWithError(s.translate("stream_media", err))
			return
		}
		task.complete()
		pw.Close()
	}()

	return pr, nil
}

// DownloadMedia writes a message's media directly to path.
func (s *Session) DownloadMedia(ctx context.Context, chat domain.Chat, desc domain.MessageDescriptor, path string) (string, error) {
	loc, size, err := s.fileLocation(ctx, chat, desc)
	if err != nil {
		return "", err
	}

	task := s.startProgress(filepath.Base(path), size)
	dl := downloader.NewDownloader().WithPartSize(512 * 1024)
	_, err = dl.Download(s.api, loc).ToPath(ctx, path)
	if err != nil {
		task.abort()
		return "", s.translate("download_media", err)
	}
	task.complete()
	return path, nil
}

func (s *Session) startProgress(name string, total int64) *progressHandle {
	id, _ := crypto.RandInt64(crypto.DefaultRand())
	h := &progressHandle{id: id, name: name, total: total, start: time.Now()}

	s.mu.Lock()
	s.progressStarts[id] = h.start
	if s.reporter != nil {
		h.task = s.reporter.Start(name, total)
		s.progressTasks[id] = h.task
	}
	s.mu.Unlock()
	return h
}

type progressHandle struct {
	id    int64
	name  string
	total int64
	start time.Time
	task  domain.ProgressTask
}

func (h *progressHandle) complete() {
	if h.task != nil {
		h.task.Complete()
	}
}
func (h *progressHandle) abort() {
	if h.task != nil {
		h.task.Abort()
	}
}

type trackingWriter struct {
	w      io.Writer
	task   domain.ProgressTask
	total  int64
	sent   int64
}

func (tw *trackingWriter) Write(p []byte) (int, error) {
	n, err := tw.w.Write(p)
	if n > 0 {
		tw.sent += int64(n)
		if tw.task != nil {
			tw.task.Increment(n)
		}
	}
	return n, err
}

// Chunk implements gotd's uploader.Progress, invoked on every uploaded part.
func (s *Session) Chunk(ctx context.Context, state uploader.ProgressState) error {
	s.mu.RLock()
	task, hasTask := s.progressTasks[state.ID]
	s.mu.RUnlock()
	if hasTask {
		task.SetCurrent(state.Uploaded)
	}
	return nil
}

func (s *Session) uploadPayload(ctx context.Context, item domain.FetchedItem) (tg.InputFileClass, error) {
	id, _ := crypto.RandInt64(crypto.DefaultRand())
	s.mu.Lock()
	s.progressStarts[id] = time.Now()
	name := item.Descriptor.SourceName
	if name == "" {
		name = fmt.Sprintf("msg-%d", item.Descriptor.ID)
	}
	if s.reporter != nil {
		s.progressTasks[id] = s.reporter.Start(name, int64(len(item.Bytes)))
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.progressStarts, id)
		delete(s.progressTasks, id)
		s.mu.Unlock()
	}()

	withID := s.upl.WithIDGenerator(func() (int64, error) { return id, nil })

	switch item.PayloadKind {
	case domain.PayloadPath:
		return withID.FromPath(ctx, item.Path)
	case domain.PayloadMemory:
		return withID.FromBytes(ctx, name, item.Bytes)
	default:
		return nil, fmt.Errorf("fetched item %d has no payload", item.Descriptor.ID)
	}
}

func mediaOption(kind domain.MessageKind, u tg.InputFileClass, item domain.FetchedItem, caption string) message.MediaOption {
	name := item.Descriptor.SourceName
	if name == "" {
		name = fmt.Sprintf("msg-%d", item.Descriptor.ID)
	}
	mimeType := item.Descriptor.MIMEType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	switch kind {
	case domain.KindVideo:
		return message.UploadedDocument(u, styling.Plain(caption)).MIME(mimeType).Filename(name).Video()
	case domain.KindAudio:
		return message.UploadedDocument(u, styling.Plain(caption)).MIME(mimeType).Filename(name).Audio()
	default:
		return message.UploadedDocument(u, styling.Plain(caption)).MIME(mimeType).Filename(name)
	}
}

func (s *Session) sendSingle(ctx context.Context, chat domain.Chat, item domain.FetchedItem, caption string, asPhoto bool) error {
	u, err := s.uploadPayload(ctx, item)
	if err != nil {
		return &domain.UploadFailureError{Album: false, GroupID: item.Descriptor.AlbumID, Err: err}
	}

	var opt message.MediaOption
	if asPhoto {
		opt = message.UploadedPhoto(u, styling.Plain(caption))
	} else {
		opt = mediaOption(item.Descriptor.Kind, u, item, caption)
	}

	_, err = s.sender.To(s.inputPeer(chat)).Media(ctx, opt)
	if err != nil {
		return &domain.UploadFailureError{Album: false, GroupID: item.Descriptor.AlbumID, Err: s.translate("send_media", err)}
	}
	return nil
}

// SendPhoto sends one photo item.
func (s *Session) SendPhoto(ctx context.Context, chat domain.Chat, item domain.FetchedItem, caption string) error {
	return s.sendSingle(ctx, chat, item, caption, true)
}

// SendVideo sends one video item.
func (s *Session) SendVideo(ctx context.Context, chat domain.Chat, item domain.FetchedItem, caption string) error {
	return s.sendSingle(ctx, chat, item, caption, false)
}

// SendAudio sends one audio item.
func (s *Session) SendAudio(ctx context.Context, chat domain.Chat, item domain.FetchedItem, caption string) error {
	return s.sendSingle(ctx, chat, item, caption, false)
}

// SendDocument sends one document item.
func (s *Session) SendDocument(ctx context.Context, chat domain.Chat, item domain.FetchedItem, caption string) error {
	return s.sendSingle(ctx, chat, item, caption, false)
}

// SendMessage posts a text-only message.
func (s *Session) SendMessage(ctx context.Context, chat domain.Chat, text string) error {
	_, err := s.sender.To(s.inputPeer(chat)).Text(ctx, text)
	if err != nil {
		return s.translate("send_message", err)
	}
	return nil
}

// SendMediaGroup posts 2-10 items as one atomic album. Never retried by the
// uploader; a failure here fails the whole group.
func (s *Session) SendMediaGroup(ctx context.Context, chat domain.Chat, items []domain.FetchedItem, caption string) error {
	if len(items) < 2 || len(items) > 10 {
		return &domain.UploadFailureError{Album: true, Err: fmt.Errorf("invalid album size %d", len(items))}
	}

	albums := make([]message.MediaOption, 0, len(items))
	for i, item := range items {
		u, err := s.uploadPayload(ctx, item)
		if err != nil {
			return &domain.UploadFailureError{Album: true, GroupID: item.Descriptor.AlbumID, Err: err}
		}

		itemCaption := ""
		if i == 0 {
			itemCaption = caption
		}

		if item.Descriptor.Kind == domain.KindPhoto {
			albums = append(albums, message.UploadedPhoto(u, styling.Plain(itemCaption)))
		} else {
			albums = append(albums, mediaOption(item.Descriptor.Kind, u, item, itemCaption))
		}
	}

	_, err := s.sender.To(s.inputPeer(chat)).Album(ctx, albums[0], albums[1:]...)
	if err != nil {
		return &domain.UploadFailureError{Album: true, GroupID: items[0].Descriptor.AlbumID, Err: s.translate("send_album", err)}
	}
	return nil
}
