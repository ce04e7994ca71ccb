package domain

// ScaStatus is the position of an authorisation in the SCA protocol.
type ScaStatus string

const (
	ScaStatusReceived          ScaStatus = "received"
	ScaStatusPsuIdentified     ScaStatus = "psuIdentified"
	ScaStatusPsuAuthenticated  ScaStatus = "psuAuthenticated"
	ScaStatusScaMethodSelected ScaStatus = "scaMethodSelected"
	ScaStatusStarted           ScaStatus = "started"
	ScaStatusFinalised         ScaStatus = "finalised"
	ScaStatusFailed            ScaStatus = "failed"
	ScaStatusExempted          ScaStatus = "exempted"
)

var scaStatusRank = map[ScaStatus]int{
	ScaStatusReceived:          0,
	ScaStatusPsuIdentified:     1,
	ScaStatusPsuAuthenticated:  2,
	ScaStatusScaMethodSelected: 3,
	ScaStatusStarted:           4,
	ScaStatusFinalised:         5,
	ScaStatusFailed:            5,
	ScaStatusExempted:          5,
}

// ParseScaStatus converts a stored or transmitted value to ScaStatus.
func ParseScaStatus(s string) (ScaStatus, bool) {
	status := ScaStatus(s)
	_, ok := scaStatusRank[status]
	return status, ok
}

// IsFinal reports whether the status is terminal.
func (s ScaStatus) IsFinal() bool {
	return s == ScaStatusFinalised || s == ScaStatusFailed || s == ScaStatusExempted
}

// CanTransitionTo reports whether moving from s to next respects the
// forward-only order. Repeating a non-terminal status is allowed, FAILED is
// reachable from every non-terminal status and nothing leaves a terminal one.
func (s ScaStatus) CanTransitionTo(next ScaStatus) bool {
	from, ok := scaStatusRank[s]
	if !ok {
		return false
	}
	to, ok := scaStatusRank[next]
	if !ok || s.IsFinal() {
		return false
	}
	return next == ScaStatusFailed || to >= from
}

func (s ScaStatus) String() string {
	return string(s)
}
