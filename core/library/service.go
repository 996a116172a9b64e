package library

import (
	"context"
	"net/mail"
	"time"

	"github.com/kat-co/vala"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/rbac"
	"github.com/trezcool/shule/core/user"
)

var (
	// errors
	ErrItemNotFound        = core.NewError(core.KindNotFound, "library item not found")
	ErrRequestNotFound     = core.NewError(core.KindNotFound, "borrowing request not found")
	ErrItemUnavailable     = core.NewError(core.KindItemUnavailable, "no copy of this item is available")
	ErrDuplicateRequest    = core.NewError(core.KindDuplicateRequest, "you already have an open request for this item")
	ErrNotPending          = core.NewError(core.KindInvalidStateTransition, "borrowing request is not pending")
	ErrNotCheckedOut       = core.NewError(core.KindInvalidStateTransition, "borrowing request is not checked out")
	errInvalidQuantity     = errors.New("quantity must be at least 1")
	errUnknownNotification = errors.New("unknown notification")

	// nowFunc is mocked in tests
	nowFunc = func() time.Time { return time.Now().UTC() }
)

const dateLayout = "Monday, 2 January 2006"

type (
	// Repository persists the catalog and borrowing requests.
	// Methods taking callbacks run them in the same transaction as the write,
	// while the Item row is locked against concurrent borrowing changes.
	Repository interface {
		CreateItem(ctx context.Context, item Item) (Item, error)
		GetItem(ctx context.Context, id string) (Item, error)
		CountCheckedOut(ctx context.Context, itemID string) (int, error)

		// CreateRequest calls check with req's item, its checked-out copies count and
		// whether req's user already has an open request for it, then inserts req unless check fails.
		CreateRequest(ctx context.Context, req Request, check func(item Item, checkedOut int, hasOpen bool) error) (Request, error)
		GetRequest(ctx context.Context, id string) (Request, error)
		QueryRequests(ctx context.Context, filter QueryFilter) ([]Request, error)

		// UpdateRequest loads the request, calls fn with it and its item's state, then saves it unless fn fails.
		UpdateRequest(ctx context.Context, id string, fn func(req *Request, item Item, checkedOut int) error) (Request, error)
	}

	Service struct {
		repo   Repository
		users  user.Repository
		mailer core.EmailService
		logger core.Logger
	}

	notificationData struct {
		Name       string
		Title      string
		DueDate    string
		Notes      string
		ReturnDate string
	}
)

// NewService panics if a dependency is missing. mailer is optional: no notification is sent without it.
func NewService(repo Repository, users user.Repository, mailer core.EmailService, logger core.Logger) *Service {
	vala.BeginValidation().Validate(
		vala.IsNotNil(repo, "repo"),
		vala.IsNotNil(users, "users"),
		vala.IsNotNil(logger, "logger"),
	).CheckAndPanic()
	return &Service{repo: repo, users: users, mailer: mailer, logger: logger}
}

func (svc *Service) CreateItem(ctx context.Context, actor user.User, ni NewItem) (Item, error) {
	if err := rbac.Check(actor, rbac.LibraryItemCreate); err != nil {
		return Item{}, err
	}
	ni.Clean()
	if ni.Quantity < 1 {
		return Item{}, core.NewValidationError(errInvalidQuantity, core.FieldError{Field: "quantity", Error: errInvalidQuantity.Error()})
	}
	item, err := svc.repo.CreateItem(ctx, Item{Title: ni.Title, Author: ni.Author, Quantity: ni.Quantity, CreatedAt: nowFunc()})
	if err != nil {
		return Item{}, errors.Wrap(err, "creating item")
	}
	return item, nil
}

func (svc *Service) GetItem(ctx context.Context, actor user.User, id string) (Item, error) {
	if err := rbac.Check(actor, rbac.LibraryItemView); err != nil {
		return Item{}, err
	}
	return svc.repo.GetItem(ctx, id)
}

// Availability returns the number of copies of the item that can still be lent.
func (svc *Service) Availability(ctx context.Context, actor user.User, itemID string) (Availability, error) {
	if err := rbac.Check(actor, rbac.LibraryItemView); err != nil {
		return Availability{}, err
	}
	item, err := svc.repo.GetItem(ctx, itemID)
	if err != nil {
		return Availability{}, err
	}
	checkedOut, err := svc.repo.CountCheckedOut(ctx, item.ID)
	if err != nil {
		return Availability{}, errors.Wrap(err, "counting checked out copies")
	}
	return newAvailability(item, checkedOut), nil
}

// RequestBook files a pending borrowing request from actor for the item.
func (svc *Service) RequestBook(ctx context.Context, actor user.User, itemID string) (Request, error) {
	if err := rbac.Check(actor, rbac.BorrowRequest); err != nil {
		return Request{}, err
	}
	now := nowFunc()
	req := Request{UserID: actor.ID, ItemID: itemID, Status: StatusPending, CreatedAt: now, UpdatedAt: now}
	req, err := svc.repo.CreateRequest(ctx, req, func(item Item, checkedOut int, hasOpen bool) error {
		if !newAvailability(item, checkedOut).IsAvailable {
			return ErrItemUnavailable
		}
		if hasOpen {
			return ErrDuplicateRequest
		}
		return nil
	})
	if err != nil {
		if core.KindOf(err) != core.KindUnknown {
			return Request{}, err
		}
		return Request{}, errors.Wrap(err, "creating borrowing request")
	}
	return req, nil
}

// Approve lends a copy: the item's availability is checked again at approval time.
func (svc *Service) Approve(ctx context.Context, actor user.User, id string) (Request, error) {
	if err := rbac.Check(actor, rbac.BorrowManage); err != nil {
		return Request{}, err
	}
	var item Item
	req, err := svc.repo.UpdateRequest(ctx, id, func(req *Request, itm Item, checkedOut int) error {
		if req.Status != StatusPending {
			return ErrNotPending
		}
		if !newAvailability(itm, checkedOut).IsAvailable {
			return ErrItemUnavailable
		}
		now := nowFunc()
		req.Status = StatusApproved
		req.DueDate = null.TimeFrom(now.Add(LoanPeriod))
		req.ApprovedBy = null.StringFrom(actor.ID)
		req.UpdatedAt = now
		item = itm
		return nil
	})
	if err != nil {
		return Request{}, svc.wrapUpdateErr(err, "approving")
	}
	svc.notify(ctx, "borrowing_approved", req, item)
	return req, nil
}

func (svc *Service) Reject(ctx context.Context, actor user.User, id string, notes string) (Request, error) {
	if err := rbac.Check(actor, rbac.BorrowManage); err != nil {
		return Request{}, err
	}
	notes = core.CleanString(notes)
	var item Item
	req, err := svc.repo.UpdateRequest(ctx, id, func(req *Request, itm Item, _ int) error {
		if req.Status != StatusPending {
			return ErrNotPending
		}
		req.Status = StatusRejected
		if notes != "" {
			req.Notes = null.StringFrom(notes)
		}
		req.UpdatedAt = nowFunc()
		item = itm
		return nil
	})
	if err != nil {
		return Request{}, svc.wrapUpdateErr(err, "rejecting")
	}
	svc.notify(ctx, "borrowing_rejected", req, item)
	return req, nil
}

// MarkReturned records that the borrowed copy was given back. The status stays approved.
func (svc *Service) MarkReturned(ctx context.Context, actor user.User, id string) (Request, error) {
	if err := rbac.Check(actor, rbac.BorrowManage); err != nil {
		return Request{}, err
	}
	var item Item
	req, err := svc.repo.UpdateRequest(ctx, id, func(req *Request, itm Item, _ int) error {
		if !req.CheckedOut() {
			return ErrNotCheckedOut
		}
		now := nowFunc()
		req.ReturnDate = null.TimeFrom(now)
		req.UpdatedAt = now
		item = itm
		return nil
	})
	if err != nil {
		return Request{}, svc.wrapUpdateErr(err, "returning")
	}
	svc.notify(ctx, "borrowing_returned", req, item)
	return req, nil
}

func (svc *Service) wrapUpdateErr(err error, action string) error {
	if core.KindOf(err) != core.KindUnknown {
		return err
	}
	return errors.Wrapf(err, "%s borrowing request", action)
}

// GetRequest returns a borrowing request. Users may only see their own unless granted BorrowViewAll.
func (svc *Service) GetRequest(ctx context.Context, actor user.User, id string) (Request, error) {
	if err := rbac.CheckAny(actor, rbac.BorrowViewOwn, rbac.BorrowViewAll); err != nil {
		return Request{}, err
	}
	req, err := svc.repo.GetRequest(ctx, id)
	if err != nil {
		return Request{}, err
	}
	if req.UserID != actor.ID && !rbac.Has(actor.Role, rbac.BorrowViewAll) {
		return Request{}, rbac.ErrForbidden
	}
	return req, nil
}

// QueryRequests lists borrowing requests. Users not granted BorrowViewAll only see their own.
func (svc *Service) QueryRequests(ctx context.Context, actor user.User, filter QueryFilter) ([]Request, error) {
	if err := rbac.CheckAny(actor, rbac.BorrowViewOwn, rbac.BorrowViewAll); err != nil {
		return nil, err
	}
	if !rbac.Has(actor.Role, rbac.BorrowViewAll) {
		filter.UserID = actor.ID
	}
	filter.Ordering = core.CleanOrderings(filter.Ordering, OrderingFields...)
	filter.Now = nowFunc()
	reqs, err := svc.repo.QueryRequests(ctx, filter)
	if err != nil {
		return nil, errors.Wrap(err, "querying borrowing requests")
	}
	return reqs, nil
}

// notify emails the requester about a status change. Failures are logged: the change itself already succeeded.
func (svc *Service) notify(ctx context.Context, tmpl string, req Request, item Item) {
	if svc.mailer == nil {
		return
	}
	usr, err := svc.users.GetUser(ctx, user.GetFilter{ID: req.UserID})
	if err != nil {
		svc.logger.Error("notifying borrower: "+err.Error(), err, map[string]interface{}{"request_id": req.ID})
		return
	}
	name, address := usr.MailAddress()
	if address == "" {
		return
	}

	data := notificationData{Name: name, Title: item.Title, Notes: req.Notes.String}
	var subject string
	switch tmpl {
	case "borrowing_approved":
		subject = "Your borrowing request was approved"
		data.DueDate = req.DueDate.Time.Format(dateLayout)
	case "borrowing_rejected":
		subject = "Your borrowing request was rejected"
	case "borrowing_returned":
		subject = "Thank you for returning your book"
		data.ReturnDate = req.ReturnDate.Time.Format(dateLayout)
	default:
		svc.logger.Error(errUnknownNotification.Error(), errUnknownNotification, map[string]interface{}{"template": tmpl})
		return
	}

	svc.mailer.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: name, Address: address}},
		Subject:      subject,
		TemplateName: tmpl,
		TemplateData: data,
	})
}
