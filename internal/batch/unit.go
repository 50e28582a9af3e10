package batch

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/sells-group/candidate-intake/internal/ingest"
	"github.com/sells-group/candidate-intake/internal/model"
)

// PipelineUnit adapts the ingestion pipeline to a UnitFunc. Messages that
// fail validation are counted as skipped; they will not improve on retry.
func PipelineUnit(p *ingest.Pipeline, policy ingest.Policy) UnitFunc {
	return func(ctx context.Context, msg model.Message) (model.Outcome, error) {
		res, err := p.Reprocess(ctx, msg, policy)
		var verr *ingest.ValidationError
		if errors.As(err, &verr) {
			zap.L().Info("batch: required fields missing",
				zap.String("message_id", msg.ID),
				zap.Strings("missing", verr.Missing),
				zap.Any("partial", verr.Partial),
			)
			return model.OutcomeSkipped, nil
		}
		if err != nil {
			return model.OutcomeError, err
		}
		return res.Outcome, nil
	}
}
