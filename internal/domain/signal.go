package domain

type SignalKind string

const (
	SignalOffer     SignalKind = "offer"
	SignalAnswer    SignalKind = "answer"
	SignalCandidate SignalKind = "candidate"
)

// ParseSignalKind accepts only the three negotiation kinds. The payload that
// travels with a kind is never inspected.
func ParseSignalKind(s string) (SignalKind, bool) {
	switch k := SignalKind(s); k {
	case SignalOffer, SignalAnswer, SignalCandidate:
		return k, true
	default:
		return "", false
	}
}
