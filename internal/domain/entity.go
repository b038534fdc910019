// Package domain holds the types and ports shared by every layer of the
// archiver: message descriptors, groups, sessions, assignments, and the
// boundary interfaces (Transport, FileSystem, ProgressReporter) that the
// usecase layer is written against.
package domain

import "fmt"

// MessageKind is the closed set of message shapes the probe ever produces.
// The transport adapter is the only place that branches on gotd's own
// message/media types; everywhere else consumes this enum.
type MessageKind string

const (
	KindPhoto     MessageKind = "photo"
	KindVideo     MessageKind = "video"
	KindAudio     MessageKind = "audio"
	KindVoice     MessageKind = "voice"
	KindVideoNote MessageKind = "video_note"
	KindAnimation MessageKind = "animation"
	KindDocument  MessageKind = "document"
	KindSticker   MessageKind = "sticker"
	KindText      MessageKind = "text"
)

// Default size estimates in bytes, used when the transport does not report
// a file_size for the media.
const (
	EstimatePhoto     int64 = 3 * 1024 * 1024
	EstimateVideo     int64 = 37 * 1024 * 1024
	EstimateAudio     int64 = 5 * 1024 * 1024
	EstimateDocument  int64 = 10 * 1024 * 1024
	EstimateVoice     int64 = 1 * 1024 * 1024
	EstimateAnimation int64 = 3 * 1024 * 1024
	EstimateOther     int64 = 1 * 1024 * 1024
	EstimateText      int64 = 1024
)

// DefaultSizeEstimate returns the per-kind constant used when a message
// carries no declared file_size.
func DefaultSizeEstimate(kind MessageKind) int64 {
	switch kind {
	case KindPhoto:
		return EstimatePhoto
	case KindVideo:
		return EstimateVideo
	case KindAudio:
		return EstimateAudio
	case KindDocument:
		return EstimateDocument
	case KindVoice:
		return EstimateVoice
	case KindAnimation:
		return EstimateAnimation
	case KindText:
		return EstimateText
	default:
		return EstimateOther
	}
}

// HasMedia reports whether a kind carries downloadable content.
func (k MessageKind) HasMedia() bool {
	return k != KindText && k != ""
}

// MessageDescriptor is immutable after the probe constructs it.
type MessageDescriptor struct {
	ID            int
	AlbumID       string // empty when the message is not part of an album
	Kind          MessageKind
	SizeEstimate  int64
	Caption       string
	SourceName    string // original filename reported by the transport, if any
	MIMEType      string
	TimestampUnix int64 // message date, used for messages.txt
	Text          string
}

// InAlbum reports whether this descriptor belongs to a media group.
func (m MessageDescriptor) InAlbum() bool {
	return m.AlbumID != ""
}

// Group is a set of descriptors sharing an album, or a singleton.
type Group struct {
	ID       string // "single:<id>" for singletons, album id (or split id) otherwise
	IsAlbum  bool
	Messages []MessageDescriptor // id-ascending
}

// FileCount returns the number of messages in the group carrying media.
func (g Group) FileCount() int {
	n := 0
	for _, m := range g.Messages {
		if m.Kind.HasMedia() {
			n++
		}
	}
	return n
}

// MessageCount returns the total number of messages in the group.
func (g Group) MessageCount() int {
	return len(g.Messages)
}

// EstimatedSize returns the sum of size estimates across the group.
func (g Group) EstimatedSize() int64 {
	var total int64
	for _, m := range g.Messages {
		total += m.SizeEstimate
	}
	return total
}

// MessageIDs returns the ids of every message in the group, in order.
func (g Group) MessageIDs() []int {
	ids := make([]int, len(g.Messages))
	for i, m := range g.Messages {
		ids[i] = m.ID
	}
	return ids
}

// SessionState is the lifecycle of one authenticated transport handle.
type SessionState int

const (
	SessionOffline SessionState = iota
	SessionConnecting
	SessionOnline
	SessionRateLimited
	SessionFailed
)

func (s SessionState) String() string {
	switch s {
	case SessionOffline:
		return "offline"
	case SessionConnecting:
		return "connecting"
	case SessionOnline:
		return "online"
	case SessionRateLimited:
		return "rate-limited"
	case SessionFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// SessionDescriptor is a read-only snapshot of a pool-managed session,
// returned by Pool.Snapshot for reporting purposes.
type SessionDescriptor struct {
	Name            string
	State           SessionState
	FailureReason   string
	RateLimitedTill int64 // unix seconds; meaningful only when State == SessionRateLimited
	AssignedGroups  int
}

// Assignment maps a session name to the ordered list of groups it owns.
type Assignment struct {
	BySession map[string][]Group
	// Order preserves the session iteration order used when the assignment
	// was built, so reporting is deterministic.
	Order []string
}

// GroupsFor returns the groups assigned to a session, or nil.
func (a Assignment) GroupsFor(session string) []Group {
	return a.BySession[session]
}

// AllIDs returns every message id assigned across all sessions.
func (a Assignment) AllIDs() []int {
	var ids []int
	for _, session := range a.Order {
		for _, g := range a.BySession[session] {
			ids = append(ids, g.MessageIDs()...)
		}
	}
	return ids
}

// BalanceReport carries the operator-facing summary of a distribution.
type BalanceReport struct {
	PerSessionFileCount map[string]int
	Min, Max            int
	Mean                float64
}

// String renders a one-line summary suitable for logging.
func (b BalanceReport) String() string {
	return fmt.Sprintf("min=%d max=%d mean=%.1f", b.Min, b.Max, b.Mean)
}

// PayloadKind distinguishes how a FetchedItem's bytes are held.
type PayloadKind int

const (
	PayloadNone PayloadKind = iota
	PayloadMemory
	PayloadPath
)

// FetchedItem flows from a Fetcher to the Uploader. Ownership transfers to
// the uploader once sent on the queue; the uploader discards the payload
// once the corresponding send completes (or permanently fails).
type FetchedItem struct {
	Descriptor    MessageDescriptor
	PayloadKind   PayloadKind
	Bytes         []byte // set when PayloadKind == PayloadMemory
	Path          string // set when PayloadKind == PayloadPath
	OriginSession string
}

// FetchOutcome is reported by the Fetcher, once per processed item.
type FetchOutcome struct {
	Session   string
	ID        int
	Succeeded bool
	Reason    string // empty on success
}

// FetchResult summarizes one session's fetcher run, returned on completion.
// MinID/MaxID describe the id range the session was actually assigned
// (zero/zero when it processed nothing), for the per-session breakdown in
// the completion report.
type FetchResult struct {
	Session    string
	Downloaded int
	Failed     int
	MinID      int
	MaxID      int
	DurationMS int64
}

// UploadCounters accumulates the uploader's final report.
type UploadCounters struct {
	AlbumsUploaded  int
	SinglesUploaded int
	Failed          int
}
