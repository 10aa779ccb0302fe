package recovery

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// LoggingContacter is the default ParticipantContacter: it has no real
// transport to a participant master, so it logs the decision request it
// would have sent and reports success, standing in for a real RPC until
// a transport is wired in.
type LoggingContacter struct {
	logger *slog.Logger
}

// NewLoggingContacter returns a ParticipantContacter that only logs.
func NewLoggingContacter(logger *slog.Logger) *LoggingContacter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingContacter{logger: logger}
}

// RequestDecision logs the decision request with a fresh correlation ID
// and returns nil, simulating an always-successful participant exchange.
func (c *LoggingContacter) RequestDecision(ctx context.Context, job Job) error {
	c.logger.Info("recovery: requesting decision from participant",
		"correlationId", uuid.NewString(),
		"leaseId", job.LeaseID, "rpcId", job.RPCID, "attempt", job.Attempt,
		"participantTable", job.Participant.TableID, "participantKeyHash", job.Participant.KeyHash)
	return nil
}
