// Package capability maps portal roles to the actions the UI may offer.
// The mapping is a pure function of the role; nothing is cached.
package capability

import (
	"sort"

	"github.com/dmitrijs2005/campuskeeper/internal/client/models"
)

// Action is a named operation a role may invoke.
type Action string

// Student actions.
const (
	Enroll               Action = "enroll"
	WithdrawOwnEnrolment Action = "withdraw-own-enrolment"
	SubmitOwnAssignment  Action = "submit-own-assignment"
	ViewOwnGrades        Action = "view-own-grades"
	ApplyDormitory       Action = "apply-dormitory"
	ManageOwnThesis      Action = "manage-own-thesis"
	PayOwnInvoice        Action = "pay-own-invoice"
)

// Teacher actions.
const (
	CreateSubject       Action = "create-subject"
	DeleteOwnSubject    Action = "delete-own-subject"
	CreateAssignment    Action = "create-assignment"
	GradeSubmission     Action = "grade-submission"
	CreateScheduleEntry Action = "create-schedule-entry"
	AssignGrade         Action = "assign-grade"
	AssignThesis        Action = "assign-thesis"
)

// Admin-only actions.
const (
	ManageAnyDormitory          Action = "manage-any-dormitory"
	CreatePaymentForAnyUser     Action = "create-payment-for-any-user"
	ApproveDormitoryApplication Action = "approve-dormitory-application"
	RejectDormitoryApplication  Action = "reject-dormitory-application"
	CancelAnyPayment            Action = "cancel-any-payment"
)

func studentActions() []Action {
	return []Action{
		Enroll,
		WithdrawOwnEnrolment,
		SubmitOwnAssignment,
		ViewOwnGrades,
		ApplyDormitory,
		ManageOwnThesis,
		PayOwnInvoice,
	}
}

func teacherActions() []Action {
	return []Action{
		CreateSubject,
		DeleteOwnSubject,
		CreateAssignment,
		GradeSubmission,
		CreateScheduleEntry,
		AssignGrade,
		AssignThesis,
	}
}

// RoleActions returns the actions granted to role. Unknown roles get none.
func RoleActions(role models.Role) []Action {
	switch role {
	case models.RoleStudent:
		return studentActions()
	case models.RoleTeacher:
		return teacherActions()
	case models.RoleAdmin:
		return append(teacherActions(),
			ManageAnyDormitory,
			CreatePaymentForAnyUser,
			ApproveDormitoryApplication,
			RejectDormitoryApplication,
			CancelAnyPayment,
		)
	default:
		return []Action{}
	}
}

// ParseAction maps s onto a known action.
func ParseAction(s string) (Action, bool) {
	a := Action(s)
	for _, known := range append(studentActions(), RoleActions(models.RoleAdmin)...) {
		if known == a {
			return a, true
		}
	}
	return "", false
}

// Set is an immutable set of actions.
type Set struct {
	actions map[Action]struct{}
}

// ForRole builds the capability set of role.
func ForRole(role models.Role) Set {
	list := RoleActions(role)
	s := Set{actions: make(map[Action]struct{}, len(list))}
	for _, a := range list {
		s.actions[a] = struct{}{}
	}
	return s
}

func (s Set) Has(a Action) bool {
	_, ok := s.actions[a]
	return ok
}

func (s Set) Len() int { return len(s.actions) }

// List returns the actions in lexical order.
func (s Set) List() []Action {
	out := make([]Action, 0, len(s.actions))
	for a := range s.actions {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// IdentitySource yields the current identity, or nil when signed out.
// *services.SessionService implements it.
type IdentitySource interface {
	Identity() *models.Identity
}

// Gate answers capability questions for whoever is signed in right now.
type Gate struct {
	source IdentitySource
}

func NewGate(source IdentitySource) *Gate {
	return &Gate{source: source}
}

// Permits reports whether the current identity may perform a. With no
// identity the answer is false.
func (g *Gate) Permits(a Action) bool {
	return g.Current().Has(a)
}

// Current returns the capability set of the current identity.
func (g *Gate) Current() Set {
	id := g.source.Identity()
	if id == nil {
		return Set{}
	}
	return ForRole(id.Role)
}
