package service

import "meetdesk/internal/models"

type transitionRule struct {
	adminOnly bool
}

// transitions lists every allowed (from, to) pair. An empty from is creation;
// from == to is a reschedule.
var transitions = map[[2]string]transitionRule{
	{"", models.StatusPending}:                       {},
	{models.StatusPending, models.StatusConfirmed}:   {adminOnly: true},
	{models.StatusPending, models.StatusCancelled}:   {},
	{models.StatusConfirmed, models.StatusCompleted}: {adminOnly: true},
	{models.StatusConfirmed, models.StatusCancelled}: {},
	{models.StatusCancelled, models.StatusConfirmed}: {adminOnly: true},
	{models.StatusCompleted, models.StatusConfirmed}: {adminOnly: true},
	{models.StatusPending, models.StatusPending}:     {},
	{models.StatusConfirmed, models.StatusConfirmed}: {},
}

// CanTransition checks a status change against the lifecycle table.
// Non-admin changes other than creation require ownership.
func CanTransition(from, to string, actor models.Actor, isOwner bool) error {
	rule, ok := transitions[[2]string{from, to}]
	if !ok {
		return ErrInvalidTransition
	}
	if actor.IsAdmin {
		return nil
	}
	if rule.adminOnly {
		return ErrForbidden
	}
	if from != "" && !isOwner {
		return ErrForbidden
	}
	return nil
}

// IsReopen reports whether the change brings a closed meeting back.
func IsReopen(from, to string) bool {
	return to == models.StatusConfirmed && (from == models.StatusCancelled || from == models.StatusCompleted)
}
