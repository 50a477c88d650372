// Package state defines the persisted game-state document the coordinator
// reads and writes through the persistence service.
package state

import (
	"encoding/json"
	"fmt"
	"time"
)

// Faction identifies one of the three player factions.
type Faction string

const (
	FactionBlue  Faction = "blue"
	FactionRed   Faction = "red"
	FactionGreen Faction = "green"
)

// Valid reports whether f is a recognised faction.
func (f Faction) Valid() bool {
	switch f {
	case FactionBlue, FactionRed, FactionGreen:
		return true
	}
	return false
}

// ParseFaction converts s to a Faction.
//
// Postcondition: Returns the faction, or FactionBlue and an error when s is unrecognised.
func ParseFaction(s string) (Faction, error) {
	f := Faction(s)
	if !f.Valid() {
		return FactionBlue, fmt.Errorf("unknown faction %q", s)
	}
	return f, nil
}

// Materials holds the three faction material counters.
type Materials struct {
	Blue  float64 `json:"blue"`
	Red   float64 `json:"red"`
	Green float64 `json:"green"`
}

// Add increments the counter matching f by amount. Unknown factions are ignored.
func (m *Materials) Add(f Faction, amount float64) {
	switch f {
	case FactionBlue:
		m.Blue += amount
	case FactionRed:
		m.Red += amount
	case FactionGreen:
		m.Green += amount
	}
}

// Get returns the counter matching f.
func (m Materials) Get(f Faction) float64 {
	switch f {
	case FactionBlue:
		return m.Blue
	case FactionRed:
		return m.Red
	case FactionGreen:
		return m.Green
	}
	return 0
}

// Ships holds the player's fleet counts.
type Ships struct {
	Fighters     int `json:"fighters"`
	CapitalShips int `json:"capital_ships"`
}

// Document is the subset of a player's game state the coordinator understands.
// Fields the coordinator does not model are carried in extra and written back
// unchanged.
type Document struct {
	Resources        float64        `json:"resources"`
	ResearchPoints   float64        `json:"research_points"`
	Population       float64        `json:"population"`
	Materials        Materials      `json:"materials"`
	Ships            Ships          `json:"ships"`
	MiningFacilities map[string]int `json:"mining_facilities"`
	ResearchOutposts map[string]int `json:"research_outposts"`
	ColonyBases      map[string]int `json:"colony_bases"`
	LastUpdated      *time.Time     `json:"last_updated"`

	extra map[string]json.RawMessage
}

// knownFields lists the JSON keys owned by Document.
var knownFields = []string{
	"resources", "research_points", "population", "materials", "ships",
	"mining_facilities", "research_outposts", "colony_bases", "last_updated",
}

// documentFields is Document without methods, used to avoid recursive marshalling.
type documentFields Document

// UnmarshalJSON decodes the known fields and retains every other key verbatim.
func (d *Document) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decoding game state: %w", err)
	}

	// last_updated was historically written as a naive ISO timestamp or null
	lastUpdated, err := parseLastUpdated(raw["last_updated"])
	if err != nil {
		return err
	}
	delete(raw, "last_updated")

	var fields documentFields
	known, err := json.Marshal(pick(raw, knownFields))
	if err != nil {
		return fmt.Errorf("re-encoding game state: %w", err)
	}
	if err := json.Unmarshal(known, &fields); err != nil {
		return fmt.Errorf("decoding game state fields: %w", err)
	}
	fields.LastUpdated = lastUpdated

	for _, k := range knownFields {
		delete(raw, k)
	}
	fields.extra = raw
	*d = Document(fields)
	return nil
}

// MarshalJSON encodes the known fields merged over the retained unknown fields.
func (d Document) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(documentFields(d))
	if err != nil {
		return nil, err
	}
	if len(d.extra) == 0 {
		return known, nil
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(known, &merged); err != nil {
		return nil, err
	}
	for k, v := range d.extra {
		if _, ok := merged[k]; !ok {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// Clone returns a deep copy of d.
func (d Document) Clone() Document {
	out := d
	out.MiningFacilities = cloneCounts(d.MiningFacilities)
	out.ResearchOutposts = cloneCounts(d.ResearchOutposts)
	out.ColonyBases = cloneCounts(d.ColonyBases)
	if d.LastUpdated != nil {
		t := *d.LastUpdated
		out.LastUpdated = &t
	}
	if d.extra != nil {
		out.extra = make(map[string]json.RawMessage, len(d.extra))
		for k, v := range d.extra {
			out.extra[k] = append(json.RawMessage(nil), v...)
		}
	}
	return out
}

// Extra returns the raw value of an unmodelled field.
func (d Document) Extra(key string) (json.RawMessage, bool) {
	v, ok := d.extra[key]
	return v, ok
}

// TotalMiningFacilities sums mining facilities across all planets.
func (d Document) TotalMiningFacilities() int { return sumCounts(d.MiningFacilities) }

// TotalResearchOutposts sums research outposts across all planets.
func (d Document) TotalResearchOutposts() int { return sumCounts(d.ResearchOutposts) }

// TotalColonyBases sums colony bases across all planets.
func (d Document) TotalColonyBases() int { return sumCounts(d.ColonyBases) }

// Sanitize clamps every counter to be non-negative.
//
// Postcondition: All counters and facility counts are >= 0.
func (d *Document) Sanitize() {
	d.Resources = nonNegative(d.Resources)
	d.ResearchPoints = nonNegative(d.ResearchPoints)
	d.Population = nonNegative(d.Population)
	d.Materials.Blue = nonNegative(d.Materials.Blue)
	d.Materials.Red = nonNegative(d.Materials.Red)
	d.Materials.Green = nonNegative(d.Materials.Green)
	if d.Ships.Fighters < 0 {
		d.Ships.Fighters = 0
	}
	if d.Ships.CapitalShips < 0 {
		d.Ships.CapitalShips = 0
	}
	clampCounts(d.MiningFacilities)
	clampCounts(d.ResearchOutposts)
	clampCounts(d.ColonyBases)
}

func parseLastUpdated(raw json.RawMessage) (*time.Time, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decoding last_updated: %w", err)
	}
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("invalid last_updated %q", s)
}

func pick(raw map[string]json.RawMessage, keys []string) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(keys))
	for _, k := range keys {
		if v, ok := raw[k]; ok {
			out[k] = v
		}
	}
	return out
}

func cloneCounts(m map[string]int) map[string]int {
	if m == nil {
		return nil
	}
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func sumCounts(m map[string]int) int {
	total := 0
	for _, v := range m {
		if v > 0 {
			total += v
		}
	}
	return total
}

func clampCounts(m map[string]int) {
	for k, v := range m {
		if v < 0 {
			m[k] = 0
		}
	}
}

func nonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
