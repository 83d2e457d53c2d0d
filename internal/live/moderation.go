package live

import (
	"strings"
	"time"

	"github.com/classcast/backend/internal/models"
)

// SenderState is the per-viewer state moderation needs. It is tracked by
// the presence layer so the engine itself stays stateless.
type SenderState struct {
	Role           models.Role
	LastAcceptedAt time.Time
}

// VerdictResult is the outcome of evaluating one inbound message.
type VerdictResult struct {
	Verdict models.Verdict       `json:"verdict"`
	Reason  models.VerdictReason `json:"reason,omitempty"`
}

// Evaluate applies policy to one inbound message. Pure: a function of
// (message, policy, sender state, now) with no side effects.
//
// Banned terms are matched as case-insensitive substrings. A banned-term
// hit normally rejects outright; with policy.HoldForReview it is held for
// host review instead. Slow-mode violations are temporal holds: the
// message is dropped, not queued.
func Evaluate(body string, policy models.ModerationPolicy, sender SenderState, now time.Time) VerdictResult {
	lower := strings.ToLower(body)
	for _, term := range policy.BannedTerms {
		if term == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(term)) {
			if policy.HoldForReview {
				return VerdictResult{Verdict: models.VerdictHeld, Reason: models.ReasonBannedTerm}
			}
			return VerdictResult{Verdict: models.VerdictRejected, Reason: models.ReasonBannedTerm}
		}
	}
	if !policy.RoleAllowed(sender.Role) {
		return VerdictResult{Verdict: models.VerdictRejected, Reason: models.ReasonRoleRestricted}
	}
	if policy.SlowModeSeconds > 0 && !sender.LastAcceptedAt.IsZero() {
		if now.Sub(sender.LastAcceptedAt) < time.Duration(policy.SlowModeSeconds)*time.Second {
			return VerdictResult{Verdict: models.VerdictHeld, Reason: models.ReasonSlowMode}
		}
	}
	return VerdictResult{Verdict: models.VerdictAccepted}
}
