// Package retention decides which due-deletion notification, if any, applies
// to an account and whether the account should be marked for deletion.
//
// All decisions are pure functions of the policy, the evaluation instant and
// the account fields. Windows are closed intervals; where two windows share a
// boundary the oldest stage wins, so an account is never due for two stages.
package retention

import (
	"errors"
	"fmt"
	"time"

	"github.com/ras-rm/auth-service/types"
)

const day = 24 * time.Hour

// Policy holds the inactivity thresholds, each measured back from "now".
type Policy struct {
	FirstNotificationAfter  time.Duration
	SecondNotificationAfter time.Duration
	ThirdNotificationAfter  time.Duration
	DeletionAfter           time.Duration
	UnverifiedGrace         time.Duration
}

// DefaultPolicy returns the production windows: 24, 30, 35 and 36 months of
// inactivity, and 80 hours for unverified accounts.
func DefaultPolicy() Policy {
	return Policy{
		FirstNotificationAfter:  730 * day,
		SecondNotificationAfter: 913 * day,
		ThirdNotificationAfter:  1065 * day,
		DeletionAfter:           1095 * day,
		UnverifiedGrace:         80 * time.Hour,
	}
}

// Validate checks the thresholds are positive and strictly increasing.
func (p Policy) Validate() error {
	if p.FirstNotificationAfter <= 0 || p.UnverifiedGrace <= 0 {
		return errors.New("retention thresholds must be positive")
	}
	if !(p.FirstNotificationAfter < p.SecondNotificationAfter &&
		p.SecondNotificationAfter < p.ThirdNotificationAfter &&
		p.ThirdNotificationAfter < p.DeletionAfter) {
		return errors.New("retention thresholds must be strictly increasing")
	}
	return nil
}

// Window is the closed interval of activity timestamps covered by a stage.
type Window struct {
	Oldest time.Time
	Newest time.Time
}

// Contains reports whether t lies within the window, bounds included.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Oldest) && !t.After(w.Newest)
}

// Window returns the activity window of stage evaluated at now.
func (p Policy) Window(stage types.Stage, now time.Time) (Window, error) {
	switch stage {
	case types.StageFirst:
		return Window{Oldest: now.Add(-p.SecondNotificationAfter), Newest: now.Add(-p.FirstNotificationAfter)}, nil
	case types.StageSecond:
		return Window{Oldest: now.Add(-p.ThirdNotificationAfter), Newest: now.Add(-p.SecondNotificationAfter)}, nil
	case types.StageThird:
		return Window{Oldest: now.Add(-p.DeletionAfter), Newest: now.Add(-p.ThirdNotificationAfter)}, nil
	default:
		return Window{}, fmt.Errorf("unknown notification stage %s", stage)
	}
}

// StageFor returns the stage whose window contains activity, checking the
// oldest window first.
func (p Policy) StageFor(now, activity time.Time) (types.Stage, bool) {
	for i := len(types.Stages) - 1; i >= 0; i-- {
		stage := types.Stages[i]
		w, _ := p.Window(stage, now)
		if w.Contains(activity) {
			return stage, true
		}
	}
	return 0, false
}

// NotificationDue returns the stage due for acc, if its stamp is still unset.
func (p Policy) NotificationDue(now time.Time, acc types.Account) (types.Stage, bool) {
	stage, ok := p.StageFor(now, acc.LastActivity())
	if !ok || acc.Notification(stage) != nil {
		return 0, false
	}
	return stage, true
}

// DeletionDue reports whether acc has been inactive past the deletion
// threshold, or left unverified past the grace period.
func (p Policy) DeletionDue(now time.Time, acc types.Account) bool {
	if acc.LastActivity().Before(now.Add(-p.DeletionAfter)) {
		return true
	}
	return !acc.AccountVerified && acc.AccountCreationDate.Before(now.Add(-p.UnverifiedGrace))
}

// Decision is the full outcome of evaluating one account.
type Decision struct {
	// Notification is the due stage, or zero when none is due.
	Notification    types.Stage
	MarkForDeletion bool
}

// NotificationDue reports whether a stage notification is due.
func (d Decision) NotificationDue() bool {
	return d.Notification.Valid()
}

// None reports whether no action applies.
func (d Decision) None() bool {
	return !d.NotificationDue() && !d.MarkForDeletion
}

// Evaluate applies every rule to acc. Notification staging and deletion
// marking are decided independently and may both apply.
func (p Policy) Evaluate(now time.Time, acc types.Account) Decision {
	var d Decision
	if stage, ok := p.NotificationDue(now, acc); ok {
		d.Notification = stage
	}
	d.MarkForDeletion = p.DeletionDue(now, acc)
	return d
}
