package dummydb

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/library"
)

type libraryRepository struct {
	db *DB
}

var _ library.Repository = (*libraryRepository)(nil) // interface compliance check

func NewLibraryRepository(db *DB) library.Repository {
	return &libraryRepository{db: db}
}

func (repo *libraryRepository) CreateItem(_ context.Context, item library.Item) (library.Item, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	item.ID = newID()
	repo.db.items[item.ID] = item
	return item, nil
}

func (repo *libraryRepository) GetItem(_ context.Context, id string) (library.Item, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if item, ok := repo.db.items[id]; ok {
		return item, nil
	}
	return library.Item{}, library.ErrItemNotFound
}

func (repo *libraryRepository) countCheckedOut(itemID string) int {
	var n int
	for _, req := range repo.db.requests {
		if req.ItemID == itemID && req.CheckedOut() {
			n++
		}
	}
	return n
}

func (repo *libraryRepository) CountCheckedOut(_ context.Context, itemID string) (int, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()
	return repo.countCheckedOut(itemID), nil
}

func (repo *libraryRepository) CreateRequest(_ context.Context, req library.Request, check func(item library.Item, checkedOut int, hasOpen bool) error) (library.Request, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	item, ok := repo.db.items[req.ItemID]
	if !ok {
		return library.Request{}, library.ErrItemNotFound
	}
	var hasOpen bool
	for _, r := range repo.db.requests {
		if r.UserID == req.UserID && r.ItemID == req.ItemID && r.Open() {
			hasOpen = true
			break
		}
	}
	if err := check(item, repo.countCheckedOut(item.ID), hasOpen); err != nil {
		return library.Request{}, err
	}

	req.ID = newID()
	repo.db.requests[req.ID] = req
	return req, nil
}

func (repo *libraryRepository) GetRequest(_ context.Context, id string) (library.Request, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if req, ok := repo.db.requests[id]; ok {
		return req, nil
	}
	return library.Request{}, library.ErrRequestNotFound
}

func (repo *libraryRepository) QueryRequests(_ context.Context, filter library.QueryFilter) ([]library.Request, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	reqs := make([]library.Request, 0)
	for _, req := range repo.db.requests {
		if (filter.UserID != "" && req.UserID != filter.UserID) ||
			(filter.ItemID != "" && req.ItemID != filter.ItemID) ||
			(filter.Status != "" && req.Status != filter.Status) ||
			(filter.CheckedOut && !req.CheckedOut()) ||
			(filter.Returned && !req.Returned()) ||
			(filter.Overdue && !req.Overdue(filter.Now)) {
			continue
		}
		reqs = append(reqs, req)
	}

	ordering := filter.Ordering
	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "created_at"}}
	}
	sort.SliceStable(reqs, func(i, j int) bool {
		for _, ord := range ordering {
			c := compareRequests(reqs[i], reqs[j], ord.Field)
			if c == 0 {
				continue
			}
			if ord.Ascending {
				return c < 0
			}
			return c > 0
		}
		return false
	})
	return reqs, nil
}

func compareRequests(a, b library.Request, field string) int {
	cmpTime := func(x, y time.Time) int {
		switch {
		case x.Before(y):
			return -1
		case x.After(y):
			return 1
		default:
			return 0
		}
	}
	switch field {
	case "created_at":
		return cmpTime(a.CreatedAt, b.CreatedAt)
	case "updated_at":
		return cmpTime(a.UpdatedAt, b.UpdatedAt)
	case "due_date":
		// NULLs sort as larger than any date, like in Postgres
		switch {
		case !a.DueDate.Valid && !b.DueDate.Valid:
			return 0
		case !a.DueDate.Valid:
			return 1
		case !b.DueDate.Valid:
			return -1
		}
		return cmpTime(a.DueDate.Time, b.DueDate.Time)
	case "status":
		return strings.Compare(string(a.Status), string(b.Status))
	default:
		return 0
	}
}

func (repo *libraryRepository) UpdateRequest(_ context.Context, id string, fn func(req *library.Request, item library.Item, checkedOut int) error) (library.Request, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	req, ok := repo.db.requests[id]
	if !ok {
		return library.Request{}, library.ErrRequestNotFound
	}
	item, ok := repo.db.items[req.ItemID]
	if !ok {
		return library.Request{}, library.ErrItemNotFound
	}
	if err := fn(&req, item, repo.countCheckedOut(item.ID)); err != nil {
		return library.Request{}, err
	}
	req.ID = id
	repo.db.requests[id] = req
	return req, nil
}
