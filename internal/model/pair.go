package model

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Pair identifies two entities judged potentially identical.
type Pair struct {
	Entity1ID int64 `json:"entity1_id"`
	Entity2ID int64 `json:"entity2_id"`
}

// String renders the pair as the comma-joined `entities` parameter.
func (p Pair) String() string {
	return strconv.FormatInt(p.Entity1ID, 10) + "," + strconv.FormatInt(p.Entity2ID, 10)
}

// ParsePair parses an `entities` parameter of the form "<id1>,<id2>".
func ParsePair(s string) (Pair, error) {
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 2 {
		return Pair{}, eris.Errorf("model: entities must hold exactly two ids, got %q", s)
	}
	ids := make([]int64, 2)
	for i, p := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil || id <= 0 {
			return Pair{}, eris.Errorf("model: invalid entity id %q", p)
		}
		ids[i] = id
	}
	if ids[0] == ids[1] {
		return Pair{}, eris.Errorf("model: entities must differ, got %d twice", ids[0])
	}
	return Pair{Entity1ID: ids[0], Entity2ID: ids[1]}, nil
}

// Descriptor is the backend's summary of one entity of the pair.
type Descriptor struct {
	ID         int64          `json:"id,omitempty"`
	Name       string         `json:"name,omitempty"`
	EntityType string         `json:"entity_type,omitempty"`
	OrgUnit    string         `json:"org_unit,omitempty"`
	Fields     map[string]any `json:"fields,omitempty"`
}

// DetailResponse is the payload of the duplicate details endpoint.
type DetailResponse struct {
	Fields      []RawFieldComparison `json:"fields"`
	Descriptor1 *Descriptor          `json:"descriptor1,omitempty"`
	Descriptor2 *Descriptor          `json:"descriptor2,omitempty"`
}

// AlgorithmRun records one algorithm execution that flagged the pair.
type AlgorithmRun struct {
	AnalyzeID int64    `json:"analyze_id"`
	Type      string   `json:"type"`
	Fields    []string `json:"fields,omitempty"`
}

// EntityRef is the short form of an entity embedded in pair metadata.
type EntityRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name,omitempty"`
}

// NamedRef is an id/name reference to a related object (form, entity type).
type NamedRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name,omitempty"`
}

// DuplicatePairMetadata summarises one duplicate pair. It is read-only.
type DuplicatePairMetadata struct {
	ID             int64          `json:"id"`
	Entity1        EntityRef      `json:"entity1"`
	Entity2        EntityRef      `json:"entity2"`
	Similarity     float64        `json:"similarity"`
	SimilarityStar *float64       `json:"similarity_star,omitempty"`
	Algorithms     []AlgorithmRun `json:"algorithms,omitempty"`
	EntityType     *NamedRef      `json:"entity_type,omitempty"`
	Form           *NamedRef      `json:"form,omitempty"`
	Ignored        bool           `json:"ignored"`
	Merged         bool           `json:"merged"`
	CreatedAt      time.Time      `json:"created_at,omitempty"`
}

// Stars returns the 0-5 star rating of the pair. The backend's value wins
// when present; otherwise it is derived from the 0-100 similarity score.
func (m DuplicatePairMetadata) Stars() float64 {
	if m.SimilarityStar != nil {
		return *m.SimilarityStar
	}
	return SimilarityStars(m.Similarity)
}

// EntityCount returns how many distinct entity ids the pair references.
func (m DuplicatePairMetadata) EntityCount() int {
	switch {
	case m.Entity1.ID == 0 && m.Entity2.ID == 0:
		return 0
	case m.Entity1.ID == m.Entity2.ID || m.Entity1.ID == 0 || m.Entity2.ID == 0:
		return 1
	default:
		return 2
	}
}

// SimilarityStars converts a 0-100 similarity score into a 0-5 rating.
func SimilarityStars(score float64) float64 {
	if score <= 0 {
		return 0
	}
	if score >= 100 {
		return 5
	}
	return math.Round(score / 20)
}
