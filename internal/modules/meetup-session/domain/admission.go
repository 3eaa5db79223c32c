package domain

type AdmissionResult int

const (
	Admitted AdmissionResult = iota + 1
	AlreadyMember
	Full
	SessionNotActive
)

func (r AdmissionResult) String() string {
	switch r {
	case Admitted:
		return "admitted"
	case AlreadyMember:
		return "already_member"
	case Full:
		return "full"
	case SessionNotActive:
		return "session_not_active"
	default:
		return "unknown"
	}
}
