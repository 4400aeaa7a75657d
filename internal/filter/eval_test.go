package filter

import (
	"testing"

	"github.com/bf2statistics/battlespy/internal/registry"
)

func sampleServer() *registry.GameServer {
	return &registry.GameServer{
		IP:          "1.2.3.4",
		QueryPort:   29900,
		GamePort:    16567,
		Hostname:    "Flyin' High 24/7",
		GameName:    "battlefield2",
		GameVersion: "1.41",
		GameType:    "gpm_cq_small",
		MapName:     "strike_at_karkand",
		NumPlayers:  8,
		MaxPlayers:  64,
		RoundTime:   2,
		Password:    false,
		Ranked:      true,
		Dedicated:   true,
	}
}

func mustMatch(t *testing.T, predicate string, want bool) {
	t.Helper()
	pred, err := Parse(predicate)
	if err != nil {
		t.Fatalf("Parse(%q) failed: %v", predicate, err)
	}
	got, err := pred.Match(sampleServer())
	if err != nil {
		t.Fatalf("Match(%q) failed: %v", predicate, err)
	}
	if got != want {
		t.Fatalf("Match(%q) = %v, want %v", predicate, got, want)
	}
}

func TestEvalComparisons(t *testing.T) {
	cases := []struct {
		pred string
		want bool
	}{
		{"numplayers = 8", true},
		{"numplayers != 8", false},
		{"numplayers > 0", true},
		{"numplayers > 8", false},
		{"numplayers >= 8", true},
		{"numplayers < 64", true},
		{"maxplayers <= 64", true},
		{"gametype = 'gpm_cq_small'", true},
		{"gametype = 'GPM_CQ_SMALL'", true}, // string compare is case-insensitive
		{"gametype != 'gpm_coop'", true},
		{"bf2_ranked = 1", true},
		{"bf2_ranked = 0", false},
		{"bf2_ranked = 'true'", true},
		{"password = 'false'", true},
		{"bf2_ranked != password", true}, // identifier on the right-hand side
		{"numplayers < maxplayers", true},
		{"numplayers > '3'", true}, // numeric coercion of a string literal
	}
	for _, c := range cases {
		mustMatch(t, c.pred, c.want)
	}
}

func TestEvalLike(t *testing.T) {
	cases := []struct {
		pred string
		want bool
	}{
		{"gametype like '%gpm_cq%'", true},
		{"gametype like 'gpm%'", true},
		{"gametype like '%small'", true},
		{"gametype like 'gpm_cq'", false}, // _ is exactly one character
		{"mapname like 'strike%'", true},
		{"hostname like 'flyin_ high%'", true}, // _ absorbs the apostrophe
		{"hostname like '%24/7'", true},
		{"hostname not like '%test%'", true},
		{"numplayers like '8'", true}, // glob over the rendered decimal
		{"mapname like 'strike[_]at%'", true},
		{"mapname like '[!x]trike%'", true},
	}
	for _, c := range cases {
		mustMatch(t, c.pred, c.want)
	}
}

func TestEvalLogic(t *testing.T) {
	cases := []struct {
		pred string
		want bool
	}{
		{"numplayers > 0 and gametype like '%gpm_cq%'", true},
		{"numplayers > 100 or bf2_ranked = 1", true},
		{"numplayers > 100 and bf2_ranked = 1", false},
		{"not numplayers = 0", true},
		{"not (numplayers = 8 and bf2_ranked = 1)", false},
		// and binds tighter than or
		{"numplayers = 1 or numplayers = 8 and maxplayers = 64", true},
		{"numplayers = 1 or numplayers = 8 and maxplayers = 1", false},
		{"(numplayers = 1 or numplayers = 8) and maxplayers = 64", true},
	}
	for _, c := range cases {
		mustMatch(t, c.pred, c.want)
	}
}

func TestEvalShortCircuit(t *testing.T) {
	// The right-hand side references an unknown property; short-circuit
	// evaluation must never reach it.
	pred, err := Parse("numplayers > 0 or databaseid = 5")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	got, err := pred.Match(sampleServer())
	if err != nil {
		t.Fatalf("short-circuit or still evaluated the bad side: %v", err)
	}
	if !got {
		t.Fatal("Match = false, want true")
	}

	pred, err = Parse("numplayers > 100 and databaseid = 5")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	got, err = pred.Match(sampleServer())
	if err != nil {
		t.Fatalf("short-circuit and still evaluated the bad side: %v", err)
	}
	if got {
		t.Fatal("Match = true, want false")
	}
}

func TestEvalUnknownPropertyFails(t *testing.T) {
	pred, err := Parse("databaseid = 5")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if _, err := pred.Match(sampleServer()); err == nil {
		t.Fatal("expected evaluation error for unknown property")
	}
}

func TestEvalNonFilterablePropertyFails(t *testing.T) {
	pred, err := Parse("bf2_sponsortext = 'x'")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if _, err := pred.Match(sampleServer()); err == nil {
		t.Fatal("expected evaluation error for non-filterable property")
	}
}

func TestEvalBadCoercionFails(t *testing.T) {
	pred, err := Parse("numplayers = 'abc'")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if _, err := pred.Match(sampleServer()); err == nil {
		t.Fatal("expected evaluation error for unparseable numeric literal")
	}
}

func TestEmptyPredicateMatchesAll(t *testing.T) {
	pred, err := Parse("")
	if err != nil {
		t.Fatalf("Parse(\"\") failed: %v", err)
	}
	ok, err := pred.Match(sampleServer())
	if err != nil || !ok {
		t.Fatalf("empty predicate: got (%v, %v), want (true, nil)", ok, err)
	}
}

func TestSelectFallsBackToMatchAll(t *testing.T) {
	servers := []registry.GameServer{*sampleServer(), {
		IP:         "5.6.7.8",
		QueryPort:  29900,
		Hostname:   "beta",
		NumPlayers: 12,
	}}

	pred, err := Parse("databaseid = 5")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	got := Select(pred, servers, "databaseid = 5")
	if len(got) != len(servers) {
		t.Fatalf("Select fallback returned %d servers, want %d", len(got), len(servers))
	}
}

func TestSelectFilters(t *testing.T) {
	servers := []registry.GameServer{*sampleServer(), {
		IP:         "5.6.7.8",
		QueryPort:  29900,
		Hostname:   "beta",
		GameType:   "gpm_coop",
		NumPlayers: 0,
	}}

	pred, err := Parse(Normalize("numplayers > 0gametype like '%gpm_cq%'"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	got := Select(pred, servers, "")
	if len(got) != 1 || got[0].IP != "1.2.3.4" {
		t.Fatalf("Select = %+v, want only 1.2.3.4", got)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	bad := []string{
		") (",
		"and and",
		"numplayers >",
		"= 5",
		"numplayers ! 5",
		"(numplayers = 5",
	}
	for _, in := range bad {
		if _, err := Parse(in); err == nil {
			t.Errorf("Parse(%q) succeeded, want error", in)
		}
	}
}
