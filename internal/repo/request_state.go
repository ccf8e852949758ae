package repo

import (
	"strings"

	"github.com/bookstore/services/archive/internal/apperr"
)

// RequestStatus is where a publication request sits in triage
type RequestStatus string

const (
	StatusPending                 RequestStatus = "Pending"
	StatusApproved                RequestStatus = "Approved"
	StatusDenied                  RequestStatus = "Denied"
	StatusAdditionalInfoRequested RequestStatus = "Additional Information Requested"
)

// RequestStatuses lists every status in triage order
func RequestStatuses() []RequestStatus {
	return []RequestStatus{StatusPending, StatusApproved, StatusDenied, StatusAdditionalInfoRequested}
}

// Terminal reports whether staff have already acted on the request
func (s RequestStatus) Terminal() bool {
	return s != StatusPending
}

// ParseRequestStatus accepts a status name in any letter case
func ParseRequestStatus(s string) (RequestStatus, bool) {
	for _, status := range RequestStatuses() {
		if strings.EqualFold(string(status), strings.TrimSpace(s)) {
			return status, true
		}
	}
	return "", false
}

// RequestAction is a staff decision on a request
type RequestAction string

const (
	ActionApprove     RequestAction = "Approve"
	ActionDeny        RequestAction = "Deny"
	ActionRequestInfo RequestAction = "RequestInfo"
)

// ParseRequestAction accepts an action name in any letter case
func ParseRequestAction(s string) (RequestAction, bool) {
	for _, a := range []RequestAction{ActionApprove, ActionDeny, ActionRequestInfo} {
		if strings.EqualFold(string(a), strings.TrimSpace(s)) {
			return a, true
		}
	}
	return "", false
}

// Result is the status an action leads to
func (a RequestAction) Result() (RequestStatus, bool) {
	switch a {
	case ActionApprove:
		return StatusApproved, true
	case ActionDeny:
		return StatusDenied, true
	case ActionRequestInfo:
		return StatusAdditionalInfoRequested, true
	}
	return "", false
}

// ReprocessPolicy decides whether a processed request may be processed again
type ReprocessPolicy int

const (
	// ReprocessAllow lets a later decision overwrite an earlier one
	ReprocessAllow ReprocessPolicy = iota
	// ReprocessReject fails with InvalidStateTransition once processed
	ReprocessReject
)

// ParseReprocessPolicy maps "allow" and "reject" to a policy
func ParseReprocessPolicy(s string) (ReprocessPolicy, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "allow", "":
		return ReprocessAllow, true
	case "reject":
		return ReprocessReject, true
	}
	return ReprocessAllow, false
}

func (p ReprocessPolicy) String() string {
	if p == ReprocessReject {
		return "reject"
	}
	return "allow"
}

// Transition returns the status reached by applying action to from
func (p ReprocessPolicy) Transition(from RequestStatus, action RequestAction) (RequestStatus, error) {
	to, ok := action.Result()
	if !ok {
		return from, apperr.Invalid(map[string]string{"action": "must be one of Approve, Deny or RequestInfo"})
	}
	if from.Terminal() && p == ReprocessReject {
		return from, apperr.InvalidTransitionf("This request is already %s and cannot be changed to %s.", from, to)
	}
	return to, nil
}
