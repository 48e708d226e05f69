package runner

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// ReasonCode explains a SendNow outcome to the caller.
type ReasonCode string

const (
	ReasonMissingRecipient ReasonCode = "MISSING_RECIPIENT"
	ReasonSendFailed       ReasonCode = "SEND_FAILED"
	ReasonAlreadySent      ReasonCode = "ALREADY_SENT"
	ReasonException        ReasonCode = "EXCEPTION"
)

// SendNowResult is always returned, never an error thrown past the caller.
type SendNowResult struct {
	Success    bool       `json:"success"`
	ReasonCode ReasonCode `json:"reason_code,omitempty"`
	JobID      int64      `json:"job_id"`
}

// SendNow sends one job immediately on operator request. It bypasses enable
// flags, the weekend rule and the dedupe check, but still resolves the
// recipient and writes the same sent/failed audit trail as a scheduled send.
func (r *Runner) SendNow(ctx context.Context, orgID, jobID int64) (result SendNowResult) {
	result = SendNowResult{JobID: jobID}
	log := r.logger.With(zap.Int64("job_id", jobID), zap.Int64("org_id", orgID))

	defer func() {
		if p := recover(); p != nil {
			log.Error("panic during manual send", zap.Any("panic", p))
			result = SendNowResult{JobID: jobID, ReasonCode: ReasonException}
		}
	}()

	job, err := r.jobs.FindByID(ctx, jobID)
	if err != nil {
		log.Warn("manual send on unknown job", zap.Error(err))
		result.ReasonCode = ReasonException
		return result
	}
	if job.OrgID != orgID {
		log.Warn("manual send across orgs rejected")
		result.ReasonCode = ReasonException
		return result
	}
	if job.Status.Terminal() {
		result.ReasonCode = ReasonAlreadySent
		return result
	}

	res, err := r.resolveRecipient(ctx, job)
	if err != nil || !res.Success {
		reason := string(ReasonMissingRecipient)
		if err != nil {
			reason = fmt.Sprintf("%s: %v", ReasonMissingRecipient, err)
		} else if res.Reason != "" {
			reason = fmt.Sprintf("%s: %s", ReasonMissingRecipient, res.Reason)
		}
		// Status is left alone so rebuild keeps owning the blocked flow.
		if uerr := r.jobs.UpdateStatus(ctx, job.ID, job.Status, &reason); uerr != nil {
			log.Error("record missing recipient", zap.Error(uerr))
		}
		result.ReasonCode = ReasonMissingRecipient
		return result
	}

	sendCtx, cancel := context.WithTimeout(ctx, r.cfg.SendTimeout)
	providerID, sendErr := r.sender.Send(sendCtx, res.Phone, job.Kind, r.messageVars(job, res))
	cancel()

	if sendErr != nil {
		decision := NextOnFailure(job.AttemptCount, job.MaxAttempts, sendErr, r.now(), r.cfg.RetryDelay)
		// Manual sends run outside a claim, the empty claim token bypasses
		// the locked_by check.
		if _, err := r.jobs.MarkSendFailure(ctx, job.ID, "", decision.Status, decision.NextSendAt, decision.LastError); err != nil {
			log.Error("record manual send failure", zap.Error(err))
		}
		log.Warn("manual send failed", zap.Error(sendErr))
		result.ReasonCode = ReasonSendFailed
		return result
	}

	if _, err := r.jobs.MarkSent(ctx, job.ID, "", r.now(), res.DisplayName, res.Phone); err != nil {
		log.Error("record manual sent", zap.Error(err))
	}
	log.Info("manual send delivered",
		zap.String("provider_id", providerID),
		zap.String("to", res.Phone))
	result.Success = true
	return result
}
