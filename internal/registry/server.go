// Package registry holds the live set of reporting game servers shared
// between the heartbeat listener (writer) and the query sessions (readers),
// together with the static field schema the browser protocol exposes.
package registry

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// MaxServerNameLen is the longest server name persisted to the database.
const MaxServerNameLen = 100

// GameServer is one reporting Battlefield 2 server. All fields are scalars
// so a by-value copy is a coherent snapshot of the record.
type GameServer struct {
	// Identity
	IP        string
	QueryPort uint16
	GamePort  uint16

	// Advertised attributes
	Hostname       string
	GameName       string
	GameVersion    string
	GameType       string
	GameVariant    string
	GameMode       string
	MapName        string
	NumPlayers     uint8
	MaxPlayers     uint8
	TimeLimit      uint16
	RoundTime      uint16
	ConnectionType string
	Password       bool
	Dedicated      bool
	Ranked         bool
	Punkbuster     bool
	OS             string
	Voip           bool
	Autobalanced   bool
	FriendlyFire   bool
	TKMode         string
	StartDelay     uint16
	ScoreLimit     uint16
	TicketRatio    uint16
	TeamRatio      uint16
	Team1          string
	Team2          string
	Bots           uint8
	Pure           bool
	MapSize        uint16
	GlobalUnlocks  bool
	ReservedSlots  uint8
	NoVehicles     bool
	SponsorText    string
	SponsorLogo    string
	CommunityLogo  string

	// Liveness
	LastRefreshed time.Time
	IsValidated   bool

	// Database linkage. DatabaseID is 0 until resolved; dbResolved remembers
	// that a lookup happened, including a "not found" outcome.
	DatabaseID int64
	dbResolved bool
}

// Key returns the registry key for this record.
func (s *GameServer) Key() string {
	return fmt.Sprintf("%s:%d", s.IP, s.QueryPort)
}

// AttrDigest hashes the advertised attributes. Unchanged heartbeats produce
// the same digest, letting callers skip redundant database writes.
func (s *GameServer) AttrDigest() uint64 {
	h := xxhash.New()
	for i := range schema {
		h.WriteString(schema[i].Name)
		h.WriteString("\x00")
		h.WriteString(schema[i].Render(s))
		h.WriteString("\x00")
	}
	return h.Sum64()
}

// FieldKind is the runtime type of a server attribute.
type FieldKind int

const (
	KindString FieldKind = iota
	KindInt
	KindBool
)

// Field describes one attribute of the browser schema: its wire name,
// runtime type, whether client filters may reference it, and how to read it
// off a record.
type Field struct {
	Name       string
	Kind       FieldKind
	Filterable bool

	Str  func(*GameServer) string
	Int  func(*GameServer) int64
	Bool func(*GameServer) bool
}

// Render formats the attribute value the way the list encoder sends it:
// booleans as "1"/"0", integers in decimal, strings as-is.
func (f *Field) Render(s *GameServer) string {
	switch f.Kind {
	case KindBool:
		if f.Bool(s) {
			return "1"
		}
		return "0"
	case KindInt:
		return strconv.FormatInt(f.Int(s), 10)
	default:
		return f.Str(s)
	}
}

var schema = []Field{
	{Name: "hostname", Kind: KindString, Filterable: true, Str: func(s *GameServer) string { return s.Hostname }},
	{Name: "gamename", Kind: KindString, Filterable: true, Str: func(s *GameServer) string { return s.GameName }},
	{Name: "gamever", Kind: KindString, Filterable: true, Str: func(s *GameServer) string { return s.GameVersion }},
	{Name: "gametype", Kind: KindString, Filterable: true, Str: func(s *GameServer) string { return s.GameType }},
	{Name: "gamevariant", Kind: KindString, Filterable: true, Str: func(s *GameServer) string { return s.GameVariant }},
	{Name: "gamemode", Kind: KindString, Filterable: true, Str: func(s *GameServer) string { return s.GameMode }},
	{Name: "mapname", Kind: KindString, Filterable: true, Str: func(s *GameServer) string { return s.MapName }},
	{Name: "numplayers", Kind: KindInt, Filterable: true, Int: func(s *GameServer) int64 { return int64(s.NumPlayers) }},
	{Name: "maxplayers", Kind: KindInt, Filterable: true, Int: func(s *GameServer) int64 { return int64(s.MaxPlayers) }},
	{Name: "timelimit", Kind: KindInt, Filterable: true, Int: func(s *GameServer) int64 { return int64(s.TimeLimit) }},
	{Name: "roundtime", Kind: KindInt, Filterable: true, Int: func(s *GameServer) int64 { return int64(s.RoundTime) }},
	{Name: "hostport", Kind: KindInt, Filterable: true, Int: func(s *GameServer) int64 { return int64(s.GamePort) }},
	{Name: "connectiontype", Kind: KindString, Filterable: true, Str: func(s *GameServer) string { return s.ConnectionType }},
	{Name: "password", Kind: KindBool, Filterable: true, Bool: func(s *GameServer) bool { return s.Password }},
	{Name: "bf2_dedicated", Kind: KindBool, Filterable: true, Bool: func(s *GameServer) bool { return s.Dedicated }},
	{Name: "bf2_ranked", Kind: KindBool, Filterable: true, Bool: func(s *GameServer) bool { return s.Ranked }},
	{Name: "bf2_anticheat", Kind: KindBool, Filterable: true, Bool: func(s *GameServer) bool { return s.Punkbuster }},
	{Name: "bf2_os", Kind: KindString, Filterable: true, Str: func(s *GameServer) string { return s.OS }},
	{Name: "bf2_voip", Kind: KindBool, Filterable: true, Bool: func(s *GameServer) bool { return s.Voip }},
	{Name: "bf2_autobalanced", Kind: KindBool, Filterable: true, Bool: func(s *GameServer) bool { return s.Autobalanced }},
	{Name: "bf2_friendlyfire", Kind: KindBool, Filterable: true, Bool: func(s *GameServer) bool { return s.FriendlyFire }},
	{Name: "bf2_tkmode", Kind: KindString, Filterable: true, Str: func(s *GameServer) string { return s.TKMode }},
	{Name: "bf2_startdelay", Kind: KindInt, Filterable: true, Int: func(s *GameServer) int64 { return int64(s.StartDelay) }},
	{Name: "bf2_scorelimit", Kind: KindInt, Filterable: true, Int: func(s *GameServer) int64 { return int64(s.ScoreLimit) }},
	{Name: "bf2_ticketratio", Kind: KindInt, Filterable: true, Int: func(s *GameServer) int64 { return int64(s.TicketRatio) }},
	{Name: "bf2_teamratio", Kind: KindInt, Filterable: true, Int: func(s *GameServer) int64 { return int64(s.TeamRatio) }},
	{Name: "bf2_team1", Kind: KindString, Filterable: true, Str: func(s *GameServer) string { return s.Team1 }},
	{Name: "bf2_team2", Kind: KindString, Filterable: true, Str: func(s *GameServer) string { return s.Team2 }},
	{Name: "bf2_bots", Kind: KindInt, Filterable: true, Int: func(s *GameServer) int64 { return int64(s.Bots) }},
	{Name: "bf2_pure", Kind: KindBool, Filterable: true, Bool: func(s *GameServer) bool { return s.Pure }},
	{Name: "bf2_mapsize", Kind: KindInt, Filterable: true, Int: func(s *GameServer) int64 { return int64(s.MapSize) }},
	{Name: "bf2_globalunlocks", Kind: KindBool, Filterable: true, Bool: func(s *GameServer) bool { return s.GlobalUnlocks }},
	{Name: "bf2_reservedslots", Kind: KindInt, Filterable: true, Int: func(s *GameServer) int64 { return int64(s.ReservedSlots) }},
	{Name: "bf2_novehicles", Kind: KindBool, Filterable: true, Bool: func(s *GameServer) bool { return s.NoVehicles }},

	// Presentation-only fields; never legal in a client filter.
	{Name: "bf2_sponsortext", Kind: KindString, Filterable: false, Str: func(s *GameServer) string { return s.SponsorText }},
	{Name: "bf2_sponsorlogo_url", Kind: KindString, Filterable: false, Str: func(s *GameServer) string { return s.SponsorLogo }},
	{Name: "bf2_communitylogo_url", Kind: KindString, Filterable: false, Str: func(s *GameServer) string { return s.CommunityLogo }},
}

var schemaByName = func() map[string]*Field {
	m := make(map[string]*Field, len(schema))
	for i := range schema {
		m[schema[i].Name] = &schema[i]
	}
	return m
}()

// filterableNames is sorted longest-first so substring scans prefer the
// longest property name at a given position.
var filterableNames = func() []string {
	names := make([]string, 0, len(schema))
	for i := range schema {
		if schema[i].Filterable {
			names = append(names, schema[i].Name)
		}
	}
	for i := 1; i < len(names); i++ {
		for j := i; j > 0 && len(names[j]) > len(names[j-1]); j-- {
			names[j], names[j-1] = names[j-1], names[j]
		}
	}
	return names
}()

// Schema returns the full ordered field schema.
func Schema() []Field {
	return schema
}

// LookupField finds a schema field by its lowercase wire name.
func LookupField(name string) (*Field, bool) {
	f, ok := schemaByName[strings.ToLower(name)]
	return f, ok
}

// FilterableNames returns the names legal in client filters, longest first.
func FilterableNames() []string {
	return filterableNames
}

// RenderField formats one named attribute of a record for the wire. Names
// outside the schema render as the empty string; the encoder reflects them
// back rather than rejecting the request.
func RenderField(s *GameServer, name string) string {
	f, ok := LookupField(name)
	if !ok {
		return ""
	}
	return f.Render(s)
}
