// Package auth provides the request-scoped identity and capability checks
// the gateway consults. Authentication mechanism internals live behind the
// Authorizer interface; the static implementation covers development and
// single-box deployments.
package auth

import (
	"errors"
	"net/http"
	"strings"
	"sync"
)

// Capability is a named permission on an acting identity.
type Capability string

const (
	// CapOperateTimers allows starting, stopping and editing timers.
	CapOperateTimers Capability = "timer.operate"
	// CapViewProfiles allows reading timer profile configuration.
	CapViewProfiles Capability = "timerprofile.view"
)

// ErrNoIdentity means the request carried no usable credentials.
var ErrNoIdentity = errors.New("auth: no identity on request")

// Authorizer resolves a request to a subject and answers capability checks
// against live permission state. Can must consult current grants on every
// call: the gateway re-authorizes each inbound message, so a revocation
// takes effect on the subject's very next message.
type Authorizer interface {
	Subject(r *http.Request) (string, error)
	Can(subject string, caps ...Capability) bool
}

// StaticAuthorizer maps bearer tokens to capability sets. Grants are
// mutable at runtime.
type StaticAuthorizer struct {
	mu     sync.RWMutex
	grants map[string]map[Capability]struct{}
}

// NewStaticAuthorizer creates an authorizer with no grants.
func NewStaticAuthorizer() *StaticAuthorizer {
	return &StaticAuthorizer{grants: make(map[string]map[Capability]struct{})}
}

// Grant adds capabilities to a subject.
func (a *StaticAuthorizer) Grant(subject string, caps ...Capability) {
	a.mu.Lock()
	defer a.mu.Unlock()
	set, ok := a.grants[subject]
	if !ok {
		set = make(map[Capability]struct{})
		a.grants[subject] = set
	}
	for _, c := range caps {
		set[c] = struct{}{}
	}
}

// Revoke removes capabilities from a subject.
func (a *StaticAuthorizer) Revoke(subject string, caps ...Capability) {
	a.mu.Lock()
	defer a.mu.Unlock()
	set, ok := a.grants[subject]
	if !ok {
		return
	}
	for _, c := range caps {
		delete(set, c)
	}
}

// Subject extracts the token from the Authorization header or, for browser
// WebSocket clients that cannot set headers, the token query parameter.
func (a *StaticAuthorizer) Subject(r *http.Request) (string, error) {
	if h := r.Header.Get("Authorization"); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok && tok != "" {
			return tok, nil
		}
	}
	if tok := r.URL.Query().Get("token"); tok != "" {
		return tok, nil
	}
	return "", ErrNoIdentity
}

// Can reports whether the subject currently holds every given capability.
func (a *StaticAuthorizer) Can(subject string, caps ...Capability) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	set, ok := a.grants[subject]
	if !ok {
		return false
	}
	for _, c := range caps {
		if _, ok := set[c]; !ok {
			return false
		}
	}
	return true
}
