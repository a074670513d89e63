// Package conversation owns the escalation lifecycle of a conversation.
package conversation

import (
	"errors"
	"fmt"

	"campusdesk/internal/model"
)

var ErrInvalidTransition = errors.New("invalid_transition")

type Event string

const (
	EventEscalate Event = "escalate"
	EventClaim    Event = "claim"
	EventResolve  Event = "resolve"
)

var transitions = map[model.ConversationState]map[Event]model.ConversationState{
	model.ConversationActive: {
		EventEscalate: model.ConversationEscalatedPending,
	},
	model.ConversationEscalatedPending: {
		EventClaim: model.ConversationEscalatedInProgress,
	},
	model.ConversationEscalatedInProgress: {
		EventResolve: model.ConversationResolved,
	},
	// Resolved is terminal for escalation; a new escalation needs a new conversation.
	model.ConversationResolved: {},
}

// Transition returns the state reached from `from` on ev, or
// ErrInvalidTransition when the move is not allowed.
func Transition(from model.ConversationState, ev Event) (model.ConversationState, error) {
	next, ok := transitions[from][ev]
	if !ok {
		return from, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, ev, from)
	}
	return next, nil
}

func CanTransition(from model.ConversationState, ev Event) bool {
	_, err := Transition(from, ev)
	return err == nil
}

// RequiredState is the state a conversation must hold for ev to apply.
// Stores use it as the expected value of a conditional update.
func RequiredState(ev Event) model.ConversationState {
	for from, edges := range transitions {
		if _, ok := edges[ev]; ok {
			return from
		}
	}
	return ""
}

// AcceptsBotReplies reports whether the bot should still answer messages.
// Escalated conversations are handled by a human.
func AcceptsBotReplies(s model.ConversationState) bool {
	return s == model.ConversationActive || s == model.ConversationResolved
}

// States lists every conversation state in lifecycle order.
func States() []model.ConversationState {
	return []model.ConversationState{
		model.ConversationActive,
		model.ConversationEscalatedPending,
		model.ConversationEscalatedInProgress,
		model.ConversationResolved,
	}
}
