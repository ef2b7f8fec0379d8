package protocols

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/careflow-scheduling/internal/apperr"
	"github.com/wolfman30/careflow-scheduling/internal/masterdata"
	"github.com/wolfman30/careflow-scheduling/pkg/logging"
)

var protocolsTracer = otel.Tracer("careflow.internal.protocols")

// ExamLookup resolves exam references.
type ExamLookup interface {
	GetExam(ctx context.Context, id string) (*masterdata.Exam, error)
}

// ReferenceChecker reports whether any reservation points at a protocol.
type ReferenceChecker interface {
	ProtocolReferenced(ctx context.Context, protocolID string) (bool, error)
}

// Service validates and persists protocol changes.
type Service struct {
	store  Store
	exams  ExamLookup
	refs   ReferenceChecker
	logger *logging.Logger
}

// NewService constructs a protocol service. refs may be nil, in which case
// protocols are never considered referenced.
func NewService(store Store, exams ExamLookup, refs ReferenceChecker, logger *logging.Logger) *Service {
	if store == nil {
		panic("protocols: store required")
	}
	if exams == nil {
		panic("protocols: exam lookup required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{store: store, exams: exams, refs: refs, logger: logger}
}

// Create validates and stores a new protocol.
func (s *Service) Create(ctx context.Context, req CreateProtocolRequest) (*Protocol, error) {
	const op = "protocols: create"
	ctx, span := protocolsTracer.Start(ctx, "protocols.create")
	defer span.End()

	p := req.toProtocol()
	p.normalize()
	if err := p.validate(op); err != nil {
		return nil, err
	}
	if err := s.checkExams(ctx, op, p.RecommendedExams); err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := s.store.Create(ctx, &p); err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.String("careflow.protocol_id", p.ID))
	s.logger.Info("protocol created", "protocol_id", p.ID, "name", p.Name, "priority_level", p.PriorityLevel)
	return &p, nil
}

// Update applies a partial update. Once a reservation references the
// protocol only name, description and the active flag may change.
func (s *Service) Update(ctx context.Context, id string, req UpdateProtocolRequest) (*Protocol, error) {
	const op = "protocols: update"
	ctx, span := protocolsTracer.Start(ctx, "protocols.update")
	defer span.End()
	span.SetAttributes(attribute.String("careflow.protocol_id", id))

	existing, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	updated := req.apply(clone(*existing))
	updated.normalize()
	if err := updated.validate(op); err != nil {
		return nil, err
	}

	if !semanticallyEqual(*existing, updated) {
		referenced, err := s.referenced(ctx, id)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		if referenced {
			return nil, apperr.InvalidState(op, "protocol %s is referenced by reservations; only name, description and active may change", id)
		}
		if err := s.checkExams(ctx, op, updated.RecommendedExams); err != nil {
			return nil, err
		}
	}

	if err := s.store.Update(ctx, &updated); err != nil {
		span.RecordError(err)
		return nil, err
	}
	s.logger.Info("protocol updated", "protocol_id", id, "active", updated.Active)
	return &updated, nil
}

// Get returns a protocol by id.
func (s *Service) Get(ctx context.Context, id string) (*Protocol, error) {
	return s.store.Get(ctx, id)
}

// List returns protocols matching filter ordered by id.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Protocol, error) {
	return s.store.List(ctx, filter)
}

func (s *Service) referenced(ctx context.Context, id string) (bool, error) {
	if s.refs == nil {
		return false, nil
	}
	return s.refs.ProtocolReferenced(ctx, id)
}

func (s *Service) checkExams(ctx context.Context, op string, ids []string) error {
	for _, id := range ids {
		if _, err := s.exams.GetExam(ctx, id); err != nil {
			if apperr.Is(err, apperr.KindNotFound) {
				return apperr.Validation(op, "unknown exam %s", id)
			}
			return err
		}
	}
	return nil
}
