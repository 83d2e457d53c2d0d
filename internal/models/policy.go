package models

// ModerationPolicy is an immutable per-session moderation snapshot.
// Reloaded from the policy store on session start and on explicit refresh,
// never mutated mid-evaluation.
type ModerationPolicy struct {
	BannedTerms       []string `json:"banned_terms"`
	SlowModeSeconds   int      `json:"slow_mode_seconds"`
	RestrictedToRoles []Role   `json:"restricted_to_roles"`
	HoldForReview     bool     `json:"hold_for_review"` // banned-term hits go to host review instead of outright rejection
}

// RoleAllowed reports whether role may post under this policy. An empty
// restriction set allows everyone.
func (p ModerationPolicy) RoleAllowed(role Role) bool {
	if len(p.RestrictedToRoles) == 0 {
		return true
	}
	for _, r := range p.RestrictedToRoles {
		if r == role {
			return true
		}
	}
	return false
}
