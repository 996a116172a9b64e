package library

import (
	"time"

	"github.com/volatiletech/null/v8"

	"github.com/trezcool/shule/core"
)

// LoanPeriod is how long an approved book may be kept.
const LoanPeriod = 14 * 24 * time.Hour

// Status of a borrowing Request. "Returned" is not a Status: see Request.Returned.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	default:
		return false
	}
}

// Item is a catalog entry with Quantity physical copies.
type Item struct {
	ID        string    `json:"id" db:"id"`
	Title     string    `json:"title" db:"title"`
	Author    string    `json:"author" db:"author"`
	Quantity  int       `json:"quantity" db:"quantity"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Request is a user's claim on a copy of an Item.
type Request struct {
	ID         string      `json:"id" db:"id"`
	UserID     string      `json:"user_id" db:"user_id"`
	ItemID     string      `json:"library_item_id" db:"library_item_id"`
	Status     Status      `json:"status" db:"status"`
	DueDate    null.Time   `json:"due_date" db:"due_date"`
	ReturnDate null.Time   `json:"return_date" db:"return_date"`
	Notes      null.String `json:"notes" db:"notes"`
	ApprovedBy null.String `json:"approved_by" db:"approved_by"`
	CreatedAt  time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at" db:"updated_at"`
}

// Returned reports whether the borrowed copy was given back.
func (r Request) Returned() bool { return r.Status == StatusApproved && r.ReturnDate.Valid }

// CheckedOut reports whether the request currently holds a copy.
func (r Request) CheckedOut() bool { return r.Status == StatusApproved && !r.ReturnDate.Valid }

// Overdue reports whether the copy is still out past its due date.
func (r Request) Overdue(now time.Time) bool {
	return r.CheckedOut() && r.DueDate.Valid && r.DueDate.Time.Before(now)
}

// Open reports whether the request blocks its user from requesting the same item again.
func (r Request) Open() bool { return r.Status == StatusPending || r.CheckedOut() }

type Availability struct {
	ItemID            string `json:"library_item_id"`
	Quantity          int    `json:"quantity"`
	AvailableQuantity int    `json:"available_quantity"`
	IsAvailable       bool   `json:"is_available"`
}

func newAvailability(item Item, checkedOut int) Availability {
	avail := item.Quantity - checkedOut
	if avail < 0 {
		avail = 0
	}
	return Availability{ItemID: item.ID, Quantity: item.Quantity, AvailableQuantity: avail, IsAvailable: avail > 0}
}

// NewItem contains information needed to add an Item to the catalog.
type NewItem struct {
	Title    string `json:"title" validate:"required,notblank"`
	Author   string `json:"author"`
	Quantity int    `json:"quantity" validate:"min=1"`
}

func (ni *NewItem) Clean() {
	ni.Title = core.CleanString(ni.Title)
	ni.Author = core.CleanString(ni.Author)
}

type Rejection struct {
	Notes string `json:"notes" validate:"max=1000"`
}

// QueryFilter narrows down borrowing requests. Empty fields do not filter.
type QueryFilter struct {
	UserID     string
	ItemID     string
	Status     Status
	CheckedOut bool
	Returned   bool
	Overdue    bool
	Now        time.Time // reference time for Overdue; set by the Service
	Ordering   []core.DBOrdering
}

// OrderingFields are the fields requests can be ordered by.
var OrderingFields = []string{"created_at", "updated_at", "due_date", "status"}
