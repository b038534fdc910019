package domain

import (
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"unicode"
)

const maxDirNameCodepoints = 100

var invalidDirChars = map[rune]bool{
	'<': true, '>': true, ':': true, '"': true,
	'/': true, '\\': true, '|': true, '?': true, '*': true,
}

// SanitizeTitle applies the channel-directory sanitization rule: replace
// the forbidden character class and control bytes with "_", trim
// surrounding whitespace and dots, and truncate to maxDirNameCodepoints.
// It is a fixpoint: sanitizing an already-sanitized string is a no-op.
func SanitizeTitle(title string) string {
	runes := []rune(title)
	out := make([]rune, 0, len(runes))
	for _, r := range runes {
		if invalidDirChars[r] || unicode.IsControl(r) {
			out = append(out, '_')
			continue
		}
		out = append(out, r)
	}

	s := strings.Trim(string(out), " \t\r\n.")
	if len(s) == 0 {
		s = "untitled"
	}

	if runeCount := []rune(s); len(runeCount) > maxDirNameCodepoints {
		s = strings.TrimRight(string(runeCount[:maxDirNameCodepoints]), " \t\r\n.")
	}
	return s
}

// ChannelDirName builds the per-run channel directory name from the
// resolved username and title.
func ChannelDirName(username, title string) string {
	return fmt.Sprintf("@%s-%s", username, SanitizeTitle(title))
}

// Filename builds a message's on-disk filename: album members get
// "<album_id>-<id><ext>", singletons get "msg-<id><ext>".
func Filename(d MessageDescriptor) string {
	ext := extensionFor(d)
	if d.InAlbum() {
		return fmt.Sprintf("%s-%d%s", d.AlbumID, d.ID, ext)
	}
	return fmt.Sprintf("msg-%d%s", d.ID, ext)
}

// extensionFor resolves a filename extension in priority order: the
// source filename's own extension, then a MIME-type mapping, then a
// per-kind default, falling back to ".bin".
func extensionFor(d MessageDescriptor) string {
	if d.SourceName != "" {
		if ext := filepath.Ext(d.SourceName); ext != "" {
			return ext
		}
	}

	if d.MIMEType != "" {
		if exts, err := mime.ExtensionsByType(d.MIMEType); err == nil && len(exts) > 0 {
			return exts[0]
		}
	}

	switch d.Kind {
	case KindPhoto:
		return ".jpg"
	case KindVideo, KindAnimation, KindVideoNote:
		return ".mp4"
	case KindAudio:
		return ".mp3"
	case KindVoice:
		return ".ogg"
	case KindSticker:
		return ".webp"
	case KindDocument:
		return ".bin"
	default:
		return ".bin"
	}
}
