package sqlxrepos

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core/library"
	"github.com/trezcool/shule/storage/database"
)

const (
	itemTable    = "library_items"
	requestTable = "book_borrowing_requests"
)

var (
	itemColumns    = []string{"id", "title", "author", "quantity", "created_at"}
	requestColumns = []string{
		"id", "user_id", "library_item_id", "status", "due_date", "return_date", "notes", "approved_by", "created_at", "updated_at",
	}

	checkedOutCond = sq.And{sq.Eq{"status": library.StatusApproved}, sq.Eq{"return_date": nil}}
	returnedCond   = sq.And{sq.Eq{"status": library.StatusApproved}, sq.NotEq{"return_date": nil}}
	openCond       = sq.Or{sq.Eq{"status": library.StatusPending}, checkedOutCond}
)

type libraryRepository struct {
	db *sqlx.DB
}

var _ library.Repository = (*libraryRepository)(nil) // interface compliance check

func NewLibraryRepository(db *sqlx.DB) *libraryRepository {
	return &libraryRepository{db: db}
}

func (repo libraryRepository) CreateItem(ctx context.Context, item library.Item) (library.Item, error) {
	item.ID = newID()
	q := database.Psql.Insert(itemTable).Columns(itemColumns...).
		Values(item.ID, item.Title, item.Author, item.Quantity, item.CreatedAt.UTC())
	if _, err := exec(ctx, repo.db, q); err != nil {
		return library.Item{}, errors.Wrap(err, "inserting library item")
	}
	return item, nil
}

func (repo libraryRepository) getItem(ctx context.Context, q queryer, id string, lock bool) (library.Item, error) {
	if !validID(id) {
		return library.Item{}, library.ErrItemNotFound
	}
	b := database.Psql.Select(itemColumns...).From(itemTable).Where(sq.Eq{"id": id})
	if lock {
		b = b.Suffix("FOR UPDATE")
	}
	var item library.Item
	if err := get(ctx, q, &item, b); err != nil {
		return library.Item{}, trapNoRowsErr(err, library.ErrItemNotFound, "finding library item")
	}
	return item, nil
}

func (repo libraryRepository) GetItem(ctx context.Context, id string) (library.Item, error) {
	return repo.getItem(ctx, repo.db, id, false)
}

func (repo libraryRepository) countCheckedOut(ctx context.Context, q queryer, itemID string) (int, error) {
	n, err := count(ctx, q, requestTable, sq.And{sq.Eq{"library_item_id": itemID}, checkedOutCond})
	return n, errors.Wrap(err, "counting checked out copies")
}

func (repo libraryRepository) CountCheckedOut(ctx context.Context, itemID string) (int, error) {
	if !validID(itemID) {
		return 0, nil
	}
	return repo.countCheckedOut(ctx, repo.db, itemID)
}

func (repo libraryRepository) CreateRequest(ctx context.Context, req library.Request, check func(item library.Item, checkedOut int, hasOpen bool) error) (library.Request, error) {
	req.ID = newID()
	err := database.WithTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		item, err := repo.getItem(ctx, tx, req.ItemID, true)
		if err != nil {
			return err
		}
		n, err := repo.countCheckedOut(ctx, tx, item.ID)
		if err != nil {
			return err
		}
		hasOpen, err := exists(ctx, tx, database.Psql.Select("1").From(requestTable).
			Where(sq.Eq{"user_id": req.UserID, "library_item_id": item.ID}).Where(openCond))
		if err != nil {
			return errors.Wrap(err, "checking open requests")
		}
		if err = check(item, n, hasOpen); err != nil {
			return err
		}

		q := database.Psql.Insert(requestTable).Columns(requestColumns...).Values(
			req.ID, req.UserID, req.ItemID, req.Status, req.DueDate, req.ReturnDate, req.Notes, req.ApprovedBy,
			req.CreatedAt.UTC(), req.UpdatedAt.UTC(),
		)
		_, err = exec(ctx, tx, q)
		return errors.Wrap(err, "inserting borrowing request")
	})
	if err != nil {
		return library.Request{}, err
	}
	return req, nil
}

func (repo libraryRepository) getRequest(ctx context.Context, q queryer, id string, lock bool) (library.Request, error) {
	if !validID(id) {
		return library.Request{}, library.ErrRequestNotFound
	}
	b := database.Psql.Select(requestColumns...).From(requestTable).Where(sq.Eq{"id": id})
	if lock {
		b = b.Suffix("FOR UPDATE")
	}
	var req library.Request
	if err := get(ctx, q, &req, b); err != nil {
		return library.Request{}, trapNoRowsErr(err, library.ErrRequestNotFound, "finding borrowing request")
	}
	return req, nil
}

func (repo libraryRepository) GetRequest(ctx context.Context, id string) (library.Request, error) {
	return repo.getRequest(ctx, repo.db, id, false)
}

func (repo libraryRepository) QueryRequests(ctx context.Context, filter library.QueryFilter) ([]library.Request, error) {
	reqs := make([]library.Request, 0)
	q := database.Psql.Select(requestColumns...).From(requestTable)
	if filter.UserID != "" {
		if !validID(filter.UserID) {
			return reqs, nil
		}
		q = q.Where(sq.Eq{"user_id": filter.UserID})
	}
	if filter.ItemID != "" {
		if !validID(filter.ItemID) {
			return reqs, nil
		}
		q = q.Where(sq.Eq{"library_item_id": filter.ItemID})
	}
	if filter.Status != "" {
		q = q.Where(sq.Eq{"status": filter.Status})
	}
	if filter.CheckedOut {
		q = q.Where(checkedOutCond)
	}
	if filter.Returned {
		q = q.Where(returnedCond)
	}
	if filter.Overdue {
		q = q.Where(checkedOutCond).Where(sq.Lt{"due_date": filter.Now.UTC()})
	}
	q = orderBy(q, filter.Ordering, "created_at DESC")

	if err := sel(ctx, repo.db, &reqs, q); err != nil {
		return nil, errors.Wrap(err, "querying borrowing requests")
	}
	return reqs, nil
}

func (repo libraryRepository) UpdateRequest(ctx context.Context, id string, fn func(req *library.Request, item library.Item, checkedOut int) error) (library.Request, error) {
	var req library.Request
	err := database.WithTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		r, err := repo.getRequest(ctx, tx, id, false)
		if err != nil {
			return err
		}
		// lock the item first: every borrowing change on it goes through this lock
		item, err := repo.getItem(ctx, tx, r.ItemID, true)
		if err != nil {
			return err
		}
		if req, err = repo.getRequest(ctx, tx, id, true); err != nil {
			return err
		}
		n, err := repo.countCheckedOut(ctx, tx, item.ID)
		if err != nil {
			return err
		}
		if err = fn(&req, item, n); err != nil {
			return err
		}

		q := database.Psql.Update(requestTable).SetMap(map[string]interface{}{
			"status":      req.Status,
			"due_date":    req.DueDate,
			"return_date": req.ReturnDate,
			"notes":       req.Notes,
			"approved_by": req.ApprovedBy,
			"updated_at":  req.UpdatedAt.UTC(),
		}).Where(sq.Eq{"id": req.ID})
		_, err = exec(ctx, tx, q)
		return errors.Wrap(err, "updating borrowing request")
	})
	if err != nil {
		return library.Request{}, err
	}
	return req, nil
}
