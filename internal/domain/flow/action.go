package flow

import (
	"errors"
	"fmt"

	"github.com/Knetic/govaluate"
)

// Action is a side effect the notification collaborator must carry out after commit.
type Action string

const (
	ActionAlertClientRetryPayment Action = "ALERT_CLIENT_RETRY_PAYMENT"
	ActionProcessRefund           Action = "PROCESS_REFUND"
	ActionRequestIntakeForms      Action = "REQUEST_INTAKE_FORMS"
	ActionNotifySessionReady      Action = "NOTIFY_SESSION_READY"
	ActionNotifyBookingCancelled  Action = "NOTIFY_BOOKING_CANCELLED"
)

// ActionRule derives an action from a state change. Condition is a govaluate
// expression over payment, session, video and their *_from counterparts.
type ActionRule struct {
	Action    Action
	Condition string
}

// DefaultActionRules is the rule set used when none is configured.
var DefaultActionRules = []ActionRule{
	{ActionAlertClientRetryPayment, `(payment == "FAILED" && payment_from != "FAILED") || (payment_from == "FAILED" && payment == "INITIATED")`},
	{ActionProcessRefund, `payment == "REFUNDED" && payment_from != "REFUNDED"`},
	{ActionRequestIntakeForms, `session == "FORMS_REQUIRED" && session_from != "FORMS_REQUIRED"`},
	{ActionNotifySessionReady, `session == "READY" && session_from != "READY"`},
	{ActionNotifyBookingCancelled, `session == "CANCELLED" && session_from != "CANCELLED"`},
}

type compiledRule struct {
	action Action
	expr   *govaluate.EvaluableExpression
}

// Synchronizer validates joint states and derives the actions a change requires.
type Synchronizer struct {
	rules []compiledRule
}

// NewSynchronizer compiles the action rules. Nil rules means DefaultActionRules.
func NewSynchronizer(rules []ActionRule) (*Synchronizer, error) {
	if rules == nil {
		rules = DefaultActionRules
	}
	compiled := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		expr, err := govaluate.NewEvaluableExpression(r.Condition)
		if err != nil {
			return nil, fmt.Errorf("compile rule %s: %w", r.Action, err)
		}
		compiled = append(compiled, compiledRule{action: r.Action, expr: expr})
	}
	return &Synchronizer{rules: compiled}, nil
}

// CheckJoint validates a standalone joint state and returns the actions it requires.
func (s *Synchronizer) CheckJoint(j Joint) ([]Action, error) {
	return s.Check(Joint{}, j)
}

// Check validates the joint state after a change and returns the actions the
// move from before to after requires.
func (s *Synchronizer) Check(before, after Joint) ([]Action, error) {
	if err := CheckJoint(after); err != nil {
		return nil, err
	}
	params := map[string]interface{}{
		"payment":      string(after.Payment),
		"session":      string(after.Session),
		"video":        string(after.Video),
		"payment_from": string(before.Payment),
		"session_from": string(before.Session),
		"video_from":   string(before.Video),
	}
	var actions []Action
	for _, r := range s.rules {
		result, err := r.expr.Evaluate(params)
		if err != nil {
			return nil, fmt.Errorf("evaluate rule %s: %w", r.action, err)
		}
		matched, ok := result.(bool)
		if !ok {
			return nil, errors.New("rule " + string(r.action) + " did not evaluate to boolean")
		}
		if matched {
			actions = append(actions, r.action)
		}
	}
	return actions, nil
}
