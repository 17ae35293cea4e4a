package hermes

import (
	"context"
	"log/slog"

	"github.com/MikeSquared-Agency/cartographer/internal/status"
)

// Starter begins a pipeline run over an export document.
type Starter interface {
	Start(ctx context.Context, data []byte) (status.Status, error)
}

// UploadHandler returns the handler for SubjectUploadRequested. The message
// body is the export document itself; progress is reported on
// SubjectRunStatus.
func UploadHandler(starter Starter, logger *slog.Logger) func(subject string, data []byte) {
	return func(subject string, data []byte) {
		if len(data) == 0 {
			logger.Warn("ignoring empty upload request", "subject", subject)
			return
		}
		st, err := starter.Start(context.Background(), data)
		if err != nil {
			logger.Error("failed to start run from bus", "subject", subject, "error", err)
			return
		}
		logger.Info("run started from bus", "run_id", st.RunID, "bytes", len(data))
	}
}
