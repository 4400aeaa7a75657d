package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"
	"strconv"

	"github.com/bf2statistics/battlespy/internal/registry"
)

// EncodeServerList serialises a filtered snapshot into the browse response
// blob: the requesting peer's address, the field schema header, one record
// per server, and the list terminator. Pure over its inputs.
func EncodeServerList(clientIP net.IP, fields []string, servers []registry.GameServer) ([]byte, error) {
	ip4 := clientIP.To4()
	if ip4 == nil {
		return nil, fmt.Errorf("client address %s is not IPv4", clientIP)
	}
	if len(fields) > 255 {
		return nil, fmt.Errorf("field list too long: %d", len(fields))
	}

	var buf bytes.Buffer
	buf.Write(ip4)
	binary.Write(&buf, binary.BigEndian, uint16(DefaultQueryPort))
	buf.WriteByte(byte(len(fields)))
	buf.WriteByte(0x00)

	for _, name := range fields {
		buf.WriteString(name)
		buf.WriteByte(0x00)
		buf.WriteByte(0x00)
	}

	for i := range servers {
		if err := encodeRecord(&buf, fields, &servers[i]); err != nil {
			return nil, err
		}
	}

	buf.Write([]byte{0x00, 0xFF, 0xFF, 0xFF, 0xFF})
	return buf.Bytes(), nil
}

func encodeRecord(buf *bytes.Buffer, fields []string, s *registry.GameServer) error {
	ip4 := net.ParseIP(s.IP).To4()
	if ip4 == nil {
		return fmt.Errorf("server %s: address is not IPv4", s.Key())
	}

	buf.WriteByte(RecordMarker)
	buf.Write(ip4)
	binary.Write(buf, binary.BigEndian, s.QueryPort)
	buf.WriteByte(fieldRunStart)

	for i, name := range fields {
		buf.WriteString(registry.RenderField(s, name))
		if i < len(fields)-1 {
			buf.WriteByte(0x00)
			buf.WriteByte(fieldRunStart)
		}
	}
	buf.WriteByte(0x00)
	return nil
}

// ServerEntry is one decoded record from a server-list blob.
type ServerEntry struct {
	IP        string
	QueryPort uint16
	Fields    map[string]string
}

// DecodeServerList parses a blob produced by EncodeServerList (or by the
// original master server). It tolerates both observed record markers.
func DecodeServerList(data []byte) (fields []string, entries []ServerEntry, err error) {
	if len(data) < 8 {
		return nil, nil, fmt.Errorf("server list too short: %d bytes", len(data))
	}

	fieldCount := int(data[6])
	rest := data[8:]
	fields = make([]string, 0, fieldCount)
	for i := 0; i < fieldCount; i++ {
		name, rem, ok := consumeCString(rest)
		if !ok || len(rem) < 1 {
			return nil, nil, fmt.Errorf("truncated field header at field %d", i)
		}
		fields = append(fields, name)
		rest = rem[1:] // second NUL after each field name
	}

	for len(rest) > 0 && (rest[0] == RecordMarker || rest[0] == RecordMarkerAlt) {
		if len(rest) < 8 {
			return nil, nil, fmt.Errorf("truncated record header")
		}
		entry := ServerEntry{
			IP:        net.IPv4(rest[1], rest[2], rest[3], rest[4]).String(),
			QueryPort: binary.BigEndian.Uint16(rest[5:7]),
			Fields:    make(map[string]string, fieldCount),
		}
		if rest[7] != fieldRunStart {
			return nil, nil, fmt.Errorf("record for %s: missing field-run marker", entry.IP)
		}
		rest = rest[8:]

		if fieldCount == 0 {
			if len(rest) < 1 || rest[0] != 0x00 {
				return nil, nil, fmt.Errorf("record for %s: missing record end", entry.IP)
			}
			rest = rest[1:]
		}

		for i, name := range fields {
			value, rem, ok := consumeCString(rest)
			if !ok {
				return nil, nil, fmt.Errorf("record for %s: truncated value for %q", entry.IP, name)
			}
			entry.Fields[name] = value
			rest = rem
			if i < fieldCount-1 {
				if len(rest) < 1 || rest[0] != fieldRunStart {
					return nil, nil, fmt.Errorf("record for %s: missing separator after %q", entry.IP, name)
				}
				rest = rest[1:]
			}
		}
		entries = append(entries, entry)
	}

	if !bytes.Equal(rest, []byte{0x00, 0xFF, 0xFF, 0xFF, 0xFF}) {
		return nil, nil, fmt.Errorf("missing list terminator")
	}
	return fields, entries, nil
}

// consumeCString splits a NUL-terminated string off the front of data.
func consumeCString(data []byte) (string, []byte, bool) {
	i := bytes.IndexByte(data, 0x00)
	if i < 0 {
		return "", nil, false
	}
	return string(data[:i]), data[i+1:], true
}

// FormatAddr renders an entry address for logs and tooling.
func (e *ServerEntry) FormatAddr() string {
	return net.JoinHostPort(e.IP, strconv.Itoa(int(e.QueryPort)))
}
