package protocols

import (
	"context"
	"sort"
	"strings"
)

// SymptomMatch pairs a reported symptom with the protocol symptom it hit.
type SymptomMatch struct {
	PatientSymptom  string `json:"patient_symptom"`
	ProtocolSymptom string `json:"protocol_symptom"`
}

// Match is a protocol scored against reported symptoms.
type Match struct {
	Protocol        Protocol       `json:"protocol"`
	MatchScore      float64        `json:"match_score"`
	MatchedSymptoms []SymptomMatch `json:"matched_symptoms"`
}

// Matcher ranks active protocols against reported symptoms.
type Matcher struct {
	store Store
}

// NewMatcher creates a matcher reading from store.
func NewMatcher(store Store) *Matcher {
	if store == nil {
		panic("protocols: store required")
	}
	return &Matcher{store: store}
}

// Match returns every active protocol sharing at least one symptom with the
// input, ordered by priority, score, name and id.
func (m *Matcher) Match(ctx context.Context, symptoms []string) ([]Match, error) {
	active, err := m.store.List(ctx, ActiveOnly())
	if err != nil {
		return nil, err
	}
	return Rank(active, symptoms), nil
}

// Rank scores protocols against symptoms. Inactive protocols and protocols
// with no shared symptom are left out.
func Rank(protocols []Protocol, symptoms []string) []Match {
	reported := make(map[string]string, len(symptoms))
	for _, s := range symptoms {
		c := CanonicalSymptom(s)
		if c == "" {
			continue
		}
		if _, seen := reported[c]; !seen {
			reported[c] = strings.TrimSpace(s)
		}
	}
	if len(reported) == 0 {
		return []Match{}
	}

	out := make([]Match, 0, len(protocols))
	for _, p := range protocols {
		if !p.Active {
			continue
		}
		own := CanonicalSymptoms(p.Symptoms)
		if len(own) == 0 {
			continue
		}
		var hits []SymptomMatch
		for _, ps := range own {
			if original, ok := reported[ps]; ok {
				hits = append(hits, SymptomMatch{PatientSymptom: original, ProtocolSymptom: ps})
			}
		}
		if len(hits) == 0 {
			continue
		}
		out = append(out, Match{
			Protocol:        p,
			MatchScore:      float64(len(hits)) / float64(len(own)),
			MatchedSymptoms: hits,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Protocol.PriorityLevel != b.Protocol.PriorityLevel {
			return a.Protocol.PriorityLevel > b.Protocol.PriorityLevel
		}
		if a.MatchScore != b.MatchScore {
			return a.MatchScore > b.MatchScore
		}
		if a.Protocol.Name != b.Protocol.Name {
			return a.Protocol.Name < b.Protocol.Name
		}
		return a.Protocol.ID < b.Protocol.ID
	})
	return out
}
