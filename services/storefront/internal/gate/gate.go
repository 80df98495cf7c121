// Package gate decides which storefront routes a visitor may see given the
// state of their session.
package gate

import "strings"

// State is the session state the gate routes on.
type State int

const (
	// Restoring means a stored session is being checked and no routing
	// decision should be made yet.
	Restoring State = iota
	Unauthenticated
	Authenticated
)

func (s State) String() string {
	switch s {
	case Restoring:
		return "restoring"
	case Unauthenticated:
		return "unauthenticated"
	case Authenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// Routes.
const (
	CatalogRoute  = "/"
	LoginRoute    = "/login"
	RegisterRoute = "/register"
)

// Action is what the router should do with a navigation.
type Action int

const (
	Allow Action = iota
	Redirect
	Wait
)

// Decision is the gate's answer for one navigation.
type Decision struct {
	Action Action
	To     string
}

// Class groups routes by who may see them.
type Class int

const (
	Public Class = iota
	// Protected routes need an authenticated session.
	Protected
	// GuestOnly routes are hidden from authenticated sessions.
	GuestOnly
)

// Classify maps a request path to its route class. The catalog root and
// everything under it except the guest pages and public assets is protected.
func Classify(path string) Class {
	path = cleanPath(path)
	switch {
	case path == LoginRoute || path == RegisterRoute:
		return GuestOnly
	case path == "/healthz" || strings.HasPrefix(path, "/static/"):
		return Public
	default:
		return Protected
	}
}

// Resolve returns the routing decision for path in state.
func Resolve(state State, path string) Decision {
	class := Classify(path)
	if class == Public {
		return Decision{Action: Allow}
	}
	switch state {
	case Restoring:
		return Decision{Action: Wait}
	case Authenticated:
		if class == GuestOnly {
			return Decision{Action: Redirect, To: CatalogRoute}
		}
	default:
		if class == Protected {
			return Decision{Action: Redirect, To: LoginRoute}
		}
	}
	return Decision{Action: Allow}
}

func cleanPath(path string) string {
	if path == "" {
		return "/"
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	return path
}
