// Package protocol implements the GameSpy master-server wire formats: the
// browse request framing, the binary server-list blob, and the enctypex
// cipher that wraps responses. All multi-byte integers are big-endian.
package protocol

// GameName is the title tag a browse request frame must start with.
const GameName = "battlefield2"

// GameKey is the title handoff key fed to the enctypex keying schedule.
const GameKey = "hW6m9a"

// ValidateLen is the length of the client nonce that prefixes the filter in
// a browse request.
const ValidateLen = 8

// DefaultQueryPort is the advertised default query port (6500), reflected
// into the response header.
const DefaultQueryPort = 0x1964

// Record markers introducing one server entry in the encoded list. Both
// values appear in captures with no documented distinction; the encoder
// emits RecordMarker unconditionally and the decoder tolerates either.
const (
	RecordMarker    byte = 0x51
	RecordMarkerAlt byte = 0x55
)

// fieldRunStart separates a record's address from its field values.
const fieldRunStart byte = 0xFF

// MaxRequestSize bounds a single browse request read.
const MaxRequestSize = 8192
