package rank

import "context"

// Threshold maps a leaderboard rank cutoff to a tier role. Thresholds are
// ordered ascending by MaxRank; a member's tier is the first entry whose
// MaxRank covers their rank. MaxRank 0 is the sentinel for everyone below the
// listed cutoffs; a sentinel with an empty RoleID means "no tier role".
type Threshold struct {
	MaxRank int
	RoleID  string
}

// Directory is the external role surface the synchronizer mutates. Every call
// may fail transiently (member gone, permission change); failures are logged
// and skipped, never fatal.
//
// CanAssign reports whether the acting account's own highest role outranks the
// role in the platform's hierarchy. A non-assignable tier role is an expected
// configuration state, not a bug.
type Directory interface {
	MemberRoles(ctx context.Context, spaceID, userID string) ([]string, error)
	AddRole(ctx context.Context, spaceID, userID, roleID string) error
	RemoveRole(ctx context.Context, spaceID, userID, roleID string) error
	CanAssign(ctx context.Context, spaceID, roleID string) (bool, error)
}

// resolveTier returns the target tier role for a rank.
func resolveTier(tiers []Threshold, rank int) (string, bool) {
	for _, tier := range tiers {
		if tier.MaxRank == 0 || rank <= tier.MaxRank {
			return tier.RoleID, true
		}
	}
	return "", false
}

// tierRoleSet collects every role ID that participates in tiering.
func tierRoleSet(tiers []Threshold) map[string]struct{} {
	set := make(map[string]struct{}, len(tiers))
	for _, tier := range tiers {
		if tier.RoleID != "" {
			set[tier.RoleID] = struct{}{}
		}
	}
	return set
}
