// Package state holds the single shared session record and notifies subscribers
// of every transition.
//
// The record is owned by one [Container]. Writers (the bootstrapper and renewal
// callbacks) go through [Container.Dispatch]; everyone else reads snapshots or
// subscribes. There is no package-level instance.
package state

import (
	"github.com/MrEthical07/goAuthClient/session"
)

// Phase mirrors the bootstrap state machine in the shared record.
type Phase string

const (
	PhaseInit       Phase = "INIT"
	PhaseNoSession  Phase = "NO_SESSION"
	PhaseValidating Phase = "VALIDATING"
	PhaseHydrated   Phase = "HYDRATED"
	PhaseFailed     Phase = "FAILED"
)

// State is an immutable snapshot of the session record.
type State struct {
	User            *session.User
	Token           string
	IsAuthenticated bool
	Loading         bool
	Error           string
	Phase           Phase
}

// Initial is the record before bootstrap has decided anything.
func Initial() State {
	return State{Loading: true, Phase: PhaseInit}
}

// EventType names a session transition.
type EventType string

const (
	EventAuthStart      EventType = "AUTH_START"
	EventAuthSuccess    EventType = "AUTH_SUCCESS"
	EventAuthFailure    EventType = "AUTH_FAILURE"
	EventLogout         EventType = "LOGOUT"
	EventGuest          EventType = "GUEST"
	EventTokenRenewed   EventType = "TOKEN_RENEWED"
	EventUserReconciled EventType = "USER_RECONCILED"
)

// Event is dispatched into a [Container]. Only the fields relevant to Type are read.
type Event struct {
	Type   EventType
	User   *session.User
	Token  string
	Reason string
}

func AuthStart() Event { return Event{Type: EventAuthStart} }

func AuthSuccess(u session.User, token string) Event {
	return Event{Type: EventAuthSuccess, User: &u, Token: token}
}

func AuthFailure(reason string) Event { return Event{Type: EventAuthFailure, Reason: reason} }

func Logout() Event { return Event{Type: EventLogout} }

func Guest() Event { return Event{Type: EventGuest} }

func TokenRenewed(token string) Event { return Event{Type: EventTokenRenewed, Token: token} }

func UserReconciled(u session.User) Event { return Event{Type: EventUserReconciled, User: &u} }

// Reduce applies ev to s. It is pure; unknown events leave s unchanged.
//
// TOKEN_RENEWED and USER_RECONCILED only touch an authenticated record and never
// set Loading, so background renewal and reconciliation are invisible to readers
// waiting on the loading flag.
func Reduce(s State, ev Event) State {
	switch ev.Type {
	case EventAuthStart:
		return State{Loading: true, Phase: PhaseValidating}
	case EventAuthSuccess:
		return State{
			User:            cloneUser(ev.User),
			Token:           ev.Token,
			IsAuthenticated: true,
			Phase:           PhaseHydrated,
		}
	case EventAuthFailure:
		return State{Error: ev.Reason, Phase: PhaseFailed}
	case EventLogout, EventGuest:
		return State{Phase: PhaseNoSession}
	case EventTokenRenewed:
		if !s.IsAuthenticated || ev.Token == "" {
			return s
		}
		s.Token = ev.Token
		return s
	case EventUserReconciled:
		if !s.IsAuthenticated || ev.User == nil {
			return s
		}
		s.User = cloneUser(ev.User)
		return s
	default:
		return s
	}
}

func cloneUser(u *session.User) *session.User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}
