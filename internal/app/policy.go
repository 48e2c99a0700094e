package app

import (
	"errors"
	"fmt"

	"github.com/dkeye/rifthub/internal/domain"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickConnection
)

// Policy decides what happens to a connection whose outbound queue is full.
type Policy interface {
	OnBackPressure(conn domain.ConnectionInfo) BackpressureAction
}

type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(domain.ConnectionInfo) BackpressureAction {
	return KickConnection
}

// TolerantPolicy keeps slow viewers attached and only kicks broadcasters,
// whose missed negotiation traffic would stall the whole session.
type TolerantPolicy struct{}

func (TolerantPolicy) OnBackPressure(conn domain.ConnectionInfo) BackpressureAction {
	if conn.Role == domain.RoleBroadcaster {
		return KickConnection
	}
	return NoAction
}

var ErrUnknownPolicy = errors.New("unknown backpressure policy")

// PolicyByName maps the backpressure_policy setting to a Policy. The empty
// name selects the default kick policy.
func PolicyByName(name string) (Policy, error) {
	switch name {
	case "", "kick":
		return SimplePolicy{}, nil
	case "tolerant":
		return TolerantPolicy{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownPolicy, name)
}
