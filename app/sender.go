package app

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"crewcall/internal/models"
)

// DryRunSender logs every message instead of delivering it. Deployments plug
// in a real provider through WithSender.
type DryRunSender struct {
	logger *zap.Logger
}

func NewDryRunSender(logger *zap.Logger) *DryRunSender {
	return &DryRunSender{logger: logger}
}

func (s *DryRunSender) Send(_ context.Context, phone string, kind models.MessageKind, vars map[string]string) (string, error) {
	id := uuid.NewString()
	s.logger.Info("dry-run send",
		zap.String("to", phone),
		zap.String("kind", string(kind)),
		zap.Any("vars", vars),
		zap.String("provider_id", id))
	return id, nil
}
