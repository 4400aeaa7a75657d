package protocol

import (
	"bytes"
	"fmt"
	"strings"
)

// frameDelimiter separates browse request frames on the stream.
var frameDelimiter = []byte{0x00, 0x00, 0x00, 0x00}

// BrowseRequest is one parsed server-list request.
type BrowseRequest struct {
	// Validate is the 8-byte client nonce for the enctypex schedule.
	Validate []byte

	// RawFilter is the filter text exactly as the client sent it.
	RawFilter string

	// Fields are the attribute names the client wants per record.
	Fields []string
}

// SplitFrames divides a received buffer on the four-NUL frame delimiter.
// Empty frames are dropped.
func SplitFrames(data []byte) [][]byte {
	var frames [][]byte
	for _, f := range bytes.Split(data, frameDelimiter) {
		if len(f) > 0 {
			frames = append(frames, f)
		}
	}
	return frames
}

// ParseBrowseRequest extracts the validate nonce, filter, and requested
// field list from one frame. Frames for other titles and frames with too
// few parts are rejected; the session ignores them silently.
func ParseBrowseRequest(frame []byte) (*BrowseRequest, error) {
	if !bytes.HasPrefix(frame, []byte(GameName)) {
		return nil, fmt.Errorf("frame does not carry the %s tag", GameName)
	}

	var parts [][]byte
	for _, p := range bytes.Split(frame, []byte{0x00}) {
		if len(p) > 0 {
			parts = append(parts, p)
		}
	}
	if len(parts) < 4 {
		return nil, fmt.Errorf("malformed frame: %d parts", len(parts))
	}

	// parts[2] is validate || filter; parts[3] is the backslash-separated
	// field list.
	if len(parts[2]) < ValidateLen {
		return nil, fmt.Errorf("malformed frame: validate nonce truncated")
	}
	req := &BrowseRequest{
		Validate:  append([]byte(nil), parts[2][:ValidateLen]...),
		RawFilter: string(parts[2][ValidateLen:]),
	}

	for _, name := range strings.Split(string(parts[3]), "\\") {
		if name != "" {
			req.Fields = append(req.Fields, name)
		}
	}
	if len(req.Fields) == 0 {
		return nil, fmt.Errorf("malformed frame: empty field list")
	}
	return req, nil
}
