package masterdata

import (
	"context"

	"github.com/wolfman30/careflow-scheduling/internal/cache"
	"github.com/wolfman30/careflow-scheduling/pkg/logging"
)

// CachedDirectory is a read-through exam cache in front of another
// Directory. Patients and medics are always read from the source because
// their active flags change outside the engine.
type CachedDirectory struct {
	Directory
	exams  *cache.JSONCache
	logger *logging.Logger
}

// NewCachedDirectory wraps src with an exam cache.
func NewCachedDirectory(src Directory, exams *cache.JSONCache, logger *logging.Logger) *CachedDirectory {
	if src == nil {
		panic("masterdata: source directory required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &CachedDirectory{Directory: src, exams: exams, logger: logger}
}

// GetExam serves the exam from cache, filling it from the source on a miss.
// Cache failures degrade to a direct read.
func (d *CachedDirectory) GetExam(ctx context.Context, id string) (*Exam, error) {
	var cached Exam
	found, err := d.exams.Get(ctx, id, &cached)
	if err != nil {
		d.logger.Warn("exam cache read failed", "exam_id", id, "error", err)
	} else if found {
		return &cached, nil
	}

	exam, err := d.Directory.GetExam(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := d.exams.Set(ctx, id, exam); err != nil {
		d.logger.Warn("exam cache fill failed", "exam_id", id, "error", err)
	}
	return exam, nil
}

// InvalidateExam drops cached exam entries. It is the hook for master-data
// change notifications from the records service; the engine itself never
// writes exams, so nothing in-process calls it and without a notifier
// entries live until CACHE_TTL expires them.
func (d *CachedDirectory) InvalidateExam(ctx context.Context, ids ...string) error {
	return d.exams.Delete(ctx, ids...)
}
