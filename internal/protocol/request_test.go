package protocol

import (
	"bytes"
	"testing"
)

func buildFrame(tag, validate, filter string, fields string) []byte {
	var buf bytes.Buffer
	buf.WriteString(tag)
	buf.WriteByte(0x00)
	buf.WriteString(tag)
	buf.WriteByte(0x00)
	buf.WriteString(validate)
	buf.WriteString(filter)
	buf.WriteByte(0x00)
	buf.WriteString(fields)
	buf.WriteByte(0x00)
	return buf.Bytes()
}

func TestSplitFrames(t *testing.T) {
	frame := buildFrame(GameName, "01234567", "", `\hostname`)
	data := append(append([]byte{}, frame...), 0x00, 0x00, 0x00, 0x00)

	frames := SplitFrames(data)
	if len(frames) == 0 {
		t.Fatal("no frames found")
	}
	if !bytes.HasPrefix(frames[0], []byte(GameName)) {
		t.Fatalf("frame[0] = % X, want %s prefix", frames[0], GameName)
	}
}

func TestParseBrowseRequest(t *testing.T) {
	frame := buildFrame(GameName, "ABCDEFGH", "numplayers > 0", `\hostname\numplayers\mapname`)

	req, err := ParseBrowseRequest(frame)
	if err != nil {
		t.Fatalf("ParseBrowseRequest failed: %v", err)
	}
	if string(req.Validate) != "ABCDEFGH" {
		t.Errorf("validate = %q, want ABCDEFGH", req.Validate)
	}
	if req.RawFilter != "numplayers > 0" {
		t.Errorf("filter = %q, want %q", req.RawFilter, "numplayers > 0")
	}
	want := []string{"hostname", "numplayers", "mapname"}
	if len(req.Fields) != len(want) {
		t.Fatalf("fields = %v, want %v", req.Fields, want)
	}
	for i := range want {
		if req.Fields[i] != want[i] {
			t.Fatalf("fields = %v, want %v", req.Fields, want)
		}
	}
}

func TestParseBrowseRequestEmptyFilter(t *testing.T) {
	frame := buildFrame(GameName, "ABCDEFGH", "", `\hostname`)
	req, err := ParseBrowseRequest(frame)
	if err != nil {
		t.Fatalf("ParseBrowseRequest failed: %v", err)
	}
	if req.RawFilter != "" {
		t.Errorf("filter = %q, want empty", req.RawFilter)
	}
}

func TestParseBrowseRequestRejectsForeignTag(t *testing.T) {
	frame := buildFrame("quake3", "ABCDEFGH", "", `\hostname`)
	if _, err := ParseBrowseRequest(frame); err == nil {
		t.Fatal("expected rejection of a foreign title tag")
	}
}

func TestParseBrowseRequestRejectsShortFrames(t *testing.T) {
	bad := [][]byte{
		[]byte(GameName),
		[]byte(GameName + "\x00" + GameName),
		[]byte(GameName + "\x00" + GameName + "\x00short\x00\\hostname"), // validate too short
	}
	for _, frame := range bad {
		if _, err := ParseBrowseRequest(frame); err == nil {
			t.Errorf("ParseBrowseRequest(% X) succeeded, want error", frame)
		}
	}
}
