package domain

// PhasePermissions declares what the end user may do during a phase.
// The table is pure data; the transport layer attaches the matching
// permissions to every phase broadcast so clients never render stale
// capabilities. MaxSupplementCount is session policy rather than
// phase data: a supplement always consumes one time extension, so the
// budget comes from the extension policy via WithSupplementCap.
type PhasePermissions struct {
	CanUserInput          bool `json:"can_user_input"`
	UserSupplementAllowed bool `json:"user_supplement_allowed"`
	MaxSupplementCount    int  `json:"max_supplement_count"`
	ShowBiddingStatus     bool `json:"show_bidding_status"`
}

var phasePermissions = map[Phase]PhasePermissions{
	PhaseWarmup: {
		CanUserInput:          false,
		UserSupplementAllowed: false,
		ShowBiddingStatus:     false,
	},
	PhaseDiscussion: {
		CanUserInput:          false,
		UserSupplementAllowed: true,
		ShowBiddingStatus:     true,
	},
	PhaseBidding: {
		CanUserInput:          false,
		UserSupplementAllowed: true,
		ShowBiddingStatus:     true,
	},
	PhasePrediction: {
		CanUserInput:          true,
		UserSupplementAllowed: true,
		ShowBiddingStatus:     true,
	},
	PhaseResult: {
		CanUserInput:          false,
		UserSupplementAllowed: false,
		ShowBiddingStatus:     true,
	},
}

// PermissionsFor returns the permission matrix for a phase. Unknown
// phases get the most restrictive set.
func PermissionsFor(phase Phase) PhasePermissions {
	if p, ok := phasePermissions[phase]; ok {
		return p
	}
	return PhasePermissions{}
}

// WithSupplementCap fills in the per-phase supplement budget from the
// session's extension policy. Phases that forbid supplements keep a
// zero cap regardless of policy.
func (p PhasePermissions) WithSupplementCap(limit int) PhasePermissions {
	if p.UserSupplementAllowed {
		p.MaxSupplementCount = limit
	}
	return p
}
