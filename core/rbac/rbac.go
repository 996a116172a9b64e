// Package rbac is the authorization gate: it decides whether a user may perform an action.
package rbac

import (
	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/user"
)

// Permission is an action on a resource.
type Permission string

const (
	QuizCreate   Permission = "quiz:create"
	QuizActivate Permission = "quiz:activate"
	QuizView     Permission = "quiz:view"
	QuizViewKey  Permission = "quiz:view-key" // see which option is correct

	AttemptCreate  Permission = "attempt:create"
	AttemptAnswer  Permission = "attempt:answer"
	AttemptViewOwn Permission = "attempt:view-own"
	AttemptViewAll Permission = "attempt:view-all"

	LibraryItemCreate Permission = "library:item-create"
	LibraryItemView   Permission = "library:item-view"
	BorrowRequest     Permission = "borrow:request"
	BorrowViewOwn     Permission = "borrow:view-own"
	BorrowViewAll     Permission = "borrow:view-all"
	BorrowManage      Permission = "borrow:manage" // approve, reject, mark returned
)

var ErrForbidden = core.NewError(core.KindForbidden, "permission denied")

// Has reports whether role is granted perm.
func Has(role user.Role, perm Permission) bool {
	switch role {
	case user.RoleAdmin:
		return true
	case user.RoleLibrarian:
		switch perm {
		case LibraryItemCreate, LibraryItemView, BorrowViewAll, BorrowManage:
			return true
		}
	case user.RoleTeacher:
		switch perm {
		case QuizCreate, QuizActivate, QuizView, QuizViewKey, AttemptViewAll, LibraryItemView:
			return true
		}
	case user.RoleStudent:
		switch perm {
		case QuizView, AttemptCreate, AttemptAnswer, AttemptViewOwn, LibraryItemView, BorrowRequest, BorrowViewOwn:
			return true
		}
	}
	return false
}

// Check fails with ErrForbidden unless usr is active and granted perm.
func Check(usr user.User, perm Permission) error {
	if usr.IsActive && Has(usr.Role, perm) {
		return nil
	}
	return ErrForbidden
}

// CheckAny fails with ErrForbidden unless usr is active and granted at least one of perms.
func CheckAny(usr user.User, perms ...Permission) error {
	for _, perm := range perms {
		if Check(usr, perm) == nil {
			return nil
		}
	}
	return ErrForbidden
}
