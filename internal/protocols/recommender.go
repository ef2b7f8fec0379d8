package protocols

import (
	"context"
	"sort"
	"strings"

	"github.com/wolfman30/careflow-scheduling/internal/apperr"
	"github.com/wolfman30/careflow-scheduling/internal/masterdata"
	"github.com/wolfman30/careflow-scheduling/pkg/logging"
)

// PatientExams reports the exams a patient already holds an active
// reservation for.
type PatientExams interface {
	ActiveExamIDs(ctx context.Context, patientID string) ([]string, error)
}

// RecommendRequest asks for exam recommendations.
type RecommendRequest struct {
	Symptoms  []string `json:"symptoms"`
	PatientID string   `json:"patient_id,omitempty"`
}

// ProtocolRef identifies a protocol contributing to a recommendation.
type ProtocolRef struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	MatchScore    float64 `json:"match_score"`
	PriorityLevel int     `json:"priority_level"`
}

// Recommendation is one exam aggregated across the protocols recommending it.
type Recommendation struct {
	Exam          masterdata.Exam `json:"exam"`
	Protocols     []ProtocolRef   `json:"protocols"`
	PriorityScore int             `json:"priority_score"`
	MatchScore    float64         `json:"match_score"`
}

// Recommender turns protocol matches into a de-duplicated exam list.
type Recommender struct {
	matcher  *Matcher
	store    Store
	exams    ExamLookup
	existing PatientExams
	logger   *logging.Logger
}

// NewRecommender constructs a recommender. existing may be nil, in which
// case exams already booked by the patient are not filtered.
func NewRecommender(matcher *Matcher, store Store, exams ExamLookup, existing PatientExams, logger *logging.Logger) *Recommender {
	if matcher == nil || store == nil || exams == nil {
		panic("protocols: matcher, store and exam lookup required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Recommender{matcher: matcher, store: store, exams: exams, existing: existing, logger: logger}
}

// Recommend matches req.Symptoms and aggregates the recommended exams. With
// no matching protocol every active protocol contributes at score zero.
func (r *Recommender) Recommend(ctx context.Context, req RecommendRequest) ([]Recommendation, error) {
	matches, err := r.matcher.Match(ctx, req.Symptoms)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		active, err := r.store.List(ctx, ActiveOnly())
		if err != nil {
			return nil, err
		}
		for _, p := range active {
			matches = append(matches, Match{Protocol: p})
		}
	}
	return r.FromMatches(ctx, matches, req.PatientID)
}

// FromMatches aggregates exams from already ranked matches.
func (r *Recommender) FromMatches(ctx context.Context, matches []Match, patientID string) ([]Recommendation, error) {
	skip, err := r.bookedExams(ctx, patientID)
	if err != nil {
		return nil, err
	}

	byName := make(map[string]*Recommendation)
	var order []string
	for _, m := range matches {
		ref := ProtocolRef{
			ID:            m.Protocol.ID,
			Name:          m.Protocol.Name,
			MatchScore:    m.MatchScore,
			PriorityLevel: m.Protocol.PriorityLevel,
		}
		for _, examID := range m.Protocol.RecommendedExams {
			if _, ok := skip[examID]; ok {
				continue
			}
			exam, err := r.exams.GetExam(ctx, examID)
			if err != nil {
				if apperr.Is(err, apperr.KindNotFound) {
					r.logger.Warn("protocol references unknown exam", "protocol_id", m.Protocol.ID, "exam_id", examID)
					continue
				}
				return nil, err
			}

			key := strings.ToLower(strings.TrimSpace(exam.Name))
			rec, ok := byName[key]
			if !ok {
				rec = &Recommendation{Exam: *exam, PriorityScore: ref.PriorityLevel, MatchScore: ref.MatchScore}
				byName[key] = rec
				order = append(order, key)
			}
			if !hasProtocol(rec.Protocols, ref.ID) {
				rec.Protocols = append(rec.Protocols, ref)
			}
			if ref.PriorityLevel > rec.PriorityScore {
				rec.PriorityScore = ref.PriorityLevel
			}
			if ref.MatchScore > rec.MatchScore {
				rec.MatchScore = ref.MatchScore
			}
		}
	}

	out := make([]Recommendation, 0, len(order))
	for _, key := range order {
		out = append(out, *byName[key])
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.PriorityScore != b.PriorityScore {
			return a.PriorityScore > b.PriorityScore
		}
		if a.MatchScore != b.MatchScore {
			return a.MatchScore > b.MatchScore
		}
		return strings.ToLower(a.Exam.Name) < strings.ToLower(b.Exam.Name)
	})
	return out, nil
}

func (r *Recommender) bookedExams(ctx context.Context, patientID string) (map[string]struct{}, error) {
	skip := make(map[string]struct{})
	if patientID == "" || r.existing == nil {
		return skip, nil
	}
	ids, err := r.existing.ActiveExamIDs(ctx, patientID)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		skip[id] = struct{}{}
	}
	return skip, nil
}

func hasProtocol(refs []ProtocolRef, id string) bool {
	for _, r := range refs {
		if r.ID == id {
			return true
		}
	}
	return false
}
