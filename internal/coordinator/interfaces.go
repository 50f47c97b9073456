package coordinator

import (
	"context"
	"errors"

	"github.com/kestrelworks/conductor/pkg/models"
)

// ErrAnalysisFailed indicates the requirement extractor could not
// produce task requirements for a description.
var ErrAnalysisFailed = errors.New("requirement analysis failed")

// TaskDescription is raw input to the requirement extractor.
type TaskDescription struct {
	// Description is the free-form task description.
	Description string
	// InputRefs reference external inputs the task consumes.
	InputRefs []string
}

// Analyzer extracts structured task requirements from a description.
// Implementations are external collaborators; the coordinator only
// consumes the structured result.
type Analyzer interface {
	Analyze(ctx context.Context, desc TaskDescription) (*models.Task, error)
}

// ReportStore persists execution reports. The sqlite-backed state store
// satisfies this.
type ReportStore interface {
	SaveReport(report *models.Report) error
}
