package pipeline

// State é o estado de uma requisição dentro do pipeline.
//
//	START -> RATE_LIMITED | AUTH_FAILED | FORBIDDEN | SUBSCRIPTION_REQUIRED | HANDLING
//	HANDLING -> SUCCESS | INTERNAL_ERROR
type State int

const (
	StateStart State = iota
	StateRateLimited
	StateAuthFailed
	StateForbidden
	StateSubscriptionRequired
	StateHandling
	StateSuccess
	StateInternalError
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "START"
	case StateRateLimited:
		return "RATE_LIMITED"
	case StateAuthFailed:
		return "AUTH_FAILED"
	case StateForbidden:
		return "FORBIDDEN"
	case StateSubscriptionRequired:
		return "SUBSCRIPTION_REQUIRED"
	case StateHandling:
		return "HANDLING"
	case StateSuccess:
		return "SUCCESS"
	case StateInternalError:
		return "INTERNAL_ERROR"
	default:
		return "UNKNOWN"
	}
}

// Terminal indica se nenhuma transição sai deste estado.
func (s State) Terminal() bool {
	switch s {
	case StateStart, StateHandling:
		return false
	default:
		return true
	}
}
