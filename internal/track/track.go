// Package track describes what a playback session streams and how the
// request is addressed on the sing server.
package track

import (
	"strings"
)

const (
	// StreamPath serves a song by raw query over GET.
	StreamPath = "/stream"
	// ConvertPath is the older endpoint that takes the query as a multipart
	// POST field instead of a URL parameter.
	ConvertPath = "/convert_stream_simple"

	QueryParam = "raw_query"
	FormField  = "query"
)

// Request identifies the song a session should play.
type Request struct {
	Song   string
	Artist string
	ID     string // Server-side song identifier
}

// RawQuery returns the query sent to the server. An identifier wins over
// song/artist; artist and song are joined with "+".
func (r Request) RawQuery() string {
	if id := strings.TrimSpace(r.ID); id != "" {
		return id
	}

	song := strings.TrimSpace(r.Song)
	artist := strings.TrimSpace(r.Artist)
	switch {
	case artist != "" && song != "":
		return artist + "+" + song
	case song != "":
		return song
	default:
		return artist
	}
}

// Title returns the name shown while the track plays.
func (r Request) Title() string {
	if s := strings.TrimSpace(r.Song); s != "" {
		return s
	}
	return strings.TrimSpace(r.ID)
}

func (r Request) IsEmpty() bool {
	return r.RawQuery() == ""
}

// StreamURL builds {baseHost}/stream?raw_query=<encoded>.
func StreamURL(baseHost, rawQuery string) string {
	return strings.TrimRight(baseHost, "/") + StreamPath + "?" + QueryParam + "=" + EncodeQuery(rawQuery)
}

// UsesFormPost reports whether url targets the multipart POST endpoint.
func UsesFormPost(url string) bool {
	return strings.Contains(url, ConvertPath)
}

// QueryFromURL extracts the raw_query value of a stream URL without
// decoding it. It returns "" if the parameter is absent.
func QueryFromURL(url string) string {
	i := strings.IndexByte(url, '?')
	if i < 0 {
		return ""
	}
	for _, kv := range strings.Split(url[i+1:], "&") {
		if v, ok := strings.CutPrefix(kv, QueryParam+"="); ok {
			return v
		}
	}
	return ""
}

const upperHex = "0123456789ABCDEF"

// EncodeQuery percent-encodes s byte by byte. Unreserved characters
// (A-Z a-z 0-9 - _ . ~) pass through, space becomes %20 and every other
// byte, "+" included, becomes an uppercase %XX escape.
func EncodeQuery(s string) string {
	var b strings.Builder
	b.Grow(len(s) * 3)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperHex[c>>4])
		b.WriteByte(upperHex[c&0x0F])
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	switch {
	case 'A' <= c && c <= 'Z', 'a' <= c && c <= 'z', '0' <= c && c <= '9':
		return true
	case c == '-', c == '_', c == '.', c == '~':
		return true
	}
	return false
}
