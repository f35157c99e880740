package services

// DefaultModerationThreshold is the downvote total at which a script is removed.
const DefaultModerationThreshold int64 = 100

// ModerationPolicy decides when community downvotes remove a script.
// The zero value uses DefaultModerationThreshold.
type ModerationPolicy struct {
	Threshold int64
}

// ShouldRemove reports whether a script with the given downvote total must
// be deleted.
func (p ModerationPolicy) ShouldRemove(downvotes int64) bool {
	return downvotes >= p.threshold()
}

func (p ModerationPolicy) threshold() int64 {
	if p.Threshold <= 0 {
		return DefaultModerationThreshold
	}
	return p.Threshold
}
