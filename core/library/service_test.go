package library_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/library"
	"github.com/trezcool/shule/core/user"
	emailsvc "github.com/trezcool/shule/services/email"
	logsvc "github.com/trezcool/shule/services/logger"
	dummydb "github.com/trezcool/shule/storage/database/dummy"
	testutil "github.com/trezcool/shule/tests"
)

type fixture struct {
	svc       *library.Service
	mailer    *emailsvc.ConsoleServiceMock
	librarian user.User
	student   user.User
	student2  user.User
	teacher   user.User
}

func setup(t *testing.T) *fixture {
	db, err := dummydb.Open()
	require.NoError(t, err)

	conf := testutil.Config()
	logger := logsvc.NewRecorder()
	core.ParseEmailTemplates(conf, logger)

	usrRepo := dummydb.NewUserRepository(db)
	mailer := emailsvc.NewConsoleServiceMock(conf, logger)
	return &fixture{
		svc:       library.NewService(dummydb.NewLibraryRepository(db), usrRepo, mailer, logger),
		mailer:    mailer,
		librarian: testutil.CreateUser(t, usrRepo, "Librarian", "librarian", "librarian@test.cd", "", user.RoleLibrarian, true),
		student:   testutil.CreateUser(t, usrRepo, "Student", "student", "student@test.cd", "", user.RoleStudent, true),
		student2:  testutil.CreateUser(t, usrRepo, "Student 2", "student2", "student2@test.cd", "", user.RoleStudent, true),
		teacher:   testutil.CreateUser(t, usrRepo, "Teacher", "teacher", "teacher@test.cd", "", user.RoleTeacher, true),
	}
}

func (f *fixture) createItem(t *testing.T, qty int) library.Item {
	item, err := f.svc.CreateItem(context.Background(), f.librarian, library.NewItem{Title: "Things Fall Apart", Author: "Chinua Achebe", Quantity: qty})
	require.NoError(t, err)
	return item
}

func (f *fixture) available(t *testing.T, itemID string) int {
	avail, err := f.svc.Availability(context.Background(), f.student, itemID)
	require.NoError(t, err)
	return avail.AvailableQuantity
}

func assertKind(t *testing.T, err error, kind core.Kind) {
	t.Helper()
	assert.Equal(t, kind, core.KindOf(err), "error = %v, want kind %s", err, kind)
}

func TestService_CreateItem(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.CreateItem(ctx, f.student, library.NewItem{Title: "Book", Quantity: 1})
	assertKind(t, err, core.KindForbidden)

	for _, qty := range []int{-1, 0} {
		_, err = f.svc.CreateItem(ctx, f.librarian, library.NewItem{Title: "Book", Quantity: qty})
		assert.IsType(t, &core.ValidationError{}, err, "quantity %d", qty)
	}

	item := f.createItem(t, 3)
	got, err := f.svc.GetItem(ctx, f.teacher, item.ID)
	require.NoError(t, err)
	assert.Equal(t, item, got)

	_, err = f.svc.GetItem(ctx, f.teacher, "nope")
	assertKind(t, err, core.KindNotFound)
}

func TestService_availabilityRoundTrip(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	item := f.createItem(t, 2)
	assert.Equal(t, 2, f.available(t, item.ID))

	req, err := f.svc.RequestBook(ctx, f.student, item.ID)
	require.NoError(t, err)
	assert.Equal(t, library.StatusPending, req.Status)
	assert.Equal(t, 2, f.available(t, item.ID), "pending requests do not hold a copy")

	req, err = f.svc.Approve(ctx, f.librarian, req.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, f.available(t, item.ID))

	req, err = f.svc.MarkReturned(ctx, f.librarian, req.ID)
	require.NoError(t, err)
	assert.Equal(t, library.StatusApproved, req.Status)
	assert.True(t, req.Returned())
	assert.Equal(t, 2, f.available(t, item.ID))
}

func TestService_RequestBook(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	t.Run("unknown item", func(t *testing.T) {
		_, err := f.svc.RequestBook(ctx, f.student, "nope")
		assertKind(t, err, core.KindNotFound)
	})

	t.Run("librarian cannot request", func(t *testing.T) {
		item := f.createItem(t, 1)
		_, err := f.svc.RequestBook(ctx, f.librarian, item.ID)
		assertKind(t, err, core.KindForbidden)
	})

	t.Run("no copies", func(t *testing.T) {
		item := f.createItem(t, 0)
		_, err := f.svc.RequestBook(ctx, f.student, item.ID)
		assertKind(t, err, core.KindItemUnavailable)
	})

	t.Run("duplicate pending", func(t *testing.T) {
		item := f.createItem(t, 5)
		_, err := f.svc.RequestBook(ctx, f.student, item.ID)
		require.NoError(t, err)
		_, err = f.svc.RequestBook(ctx, f.student, item.ID)
		assertKind(t, err, core.KindDuplicateRequest)
	})

	t.Run("duplicate checked out", func(t *testing.T) {
		item := f.createItem(t, 5)
		req, err := f.svc.RequestBook(ctx, f.student, item.ID)
		require.NoError(t, err)
		_, err = f.svc.Approve(ctx, f.librarian, req.ID)
		require.NoError(t, err)
		_, err = f.svc.RequestBook(ctx, f.student, item.ID)
		assertKind(t, err, core.KindDuplicateRequest)
	})

	t.Run("again after rejection", func(t *testing.T) {
		item := f.createItem(t, 1)
		req, err := f.svc.RequestBook(ctx, f.student, item.ID)
		require.NoError(t, err)
		_, err = f.svc.Reject(ctx, f.librarian, req.ID, "")
		require.NoError(t, err)
		_, err = f.svc.RequestBook(ctx, f.student, item.ID)
		assert.NoError(t, err)
	})
}

func TestService_Approve(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	now := time.Date(2021, 3, 1, 10, 0, 0, 0, time.UTC)
	defer library.SetNowFunc(func() time.Time { return now })()

	t.Run("sets due date and approver", func(t *testing.T) {
		item := f.createItem(t, 1)
		req, err := f.svc.RequestBook(ctx, f.student, item.ID)
		require.NoError(t, err)

		req, err = f.svc.Approve(ctx, f.librarian, req.ID)
		require.NoError(t, err)
		assert.Equal(t, library.StatusApproved, req.Status)
		assert.True(t, req.DueDate.Time.Equal(now.Add(14*24*time.Hour)))
		assert.Equal(t, f.librarian.ID, req.ApprovedBy.String)

		sent := f.mailer.SentMessages()
		require.NotEmpty(t, sent)
		last := sent[len(sent)-1]
		assert.Equal(t, "student@test.cd", last.To[0].Address)
		assert.True(t, strings.Contains(last.TextContent, item.Title), "mail should name the book: %s", last.TextContent)
	})

	t.Run("student cannot approve", func(t *testing.T) {
		item := f.createItem(t, 1)
		req, err := f.svc.RequestBook(ctx, f.student, item.ID)
		require.NoError(t, err)
		_, err = f.svc.Approve(ctx, f.student, req.ID)
		assertKind(t, err, core.KindForbidden)
	})

	t.Run("last copy", func(t *testing.T) {
		item := f.createItem(t, 1)
		first, err := f.svc.RequestBook(ctx, f.student, item.ID)
		require.NoError(t, err)
		second, err := f.svc.RequestBook(ctx, f.student2, item.ID)
		require.NoError(t, err)

		_, err = f.svc.Approve(ctx, f.librarian, first.ID)
		require.NoError(t, err)
		_, err = f.svc.Approve(ctx, f.librarian, second.ID)
		assertKind(t, err, core.KindItemUnavailable)
		assert.Equal(t, 0, f.available(t, item.ID))

		got, err := f.svc.GetRequest(ctx, f.librarian, second.ID)
		require.NoError(t, err)
		assert.Equal(t, library.StatusPending, got.Status)
	})

	t.Run("unknown request", func(t *testing.T) {
		_, err := f.svc.Approve(ctx, f.librarian, "nope")
		assertKind(t, err, core.KindNotFound)
	})
}

func TestService_Approve_concurrent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	item := f.createItem(t, 1)

	const n = 10
	reqIDs := make([]string, 0, n)
	for i := 0; i < n; i++ {
		usr := f.student
		usr.ID = usr.ID + string(rune('a'+i))
		req, err := f.svc.RequestBook(ctx, usr, item.ID)
		require.NoError(t, err)
		reqIDs = append(reqIDs, req.ID)
	}

	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		approved    int
		unavailable int
	)
	for _, id := range reqIDs {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := f.svc.Approve(ctx, f.librarian, id)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				approved++
			case core.IsKind(err, core.KindItemUnavailable):
				unavailable++
			default:
				t.Errorf("Approve() unexpected error = %v", err)
			}
		}(id)
	}
	wg.Wait()

	assert.Equal(t, 1, approved)
	assert.Equal(t, n-1, unavailable)
	assert.Equal(t, 0, f.available(t, item.ID))
}

func TestService_stateTransitions(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	item := f.createItem(t, 3)

	rejected, err := f.svc.RequestBook(ctx, f.student, item.ID)
	require.NoError(t, err)
	rejected, err = f.svc.Reject(ctx, f.librarian, rejected.ID, "  damaged copy ")
	require.NoError(t, err)
	assert.Equal(t, library.StatusRejected, rejected.Status)
	assert.Equal(t, "damaged copy", rejected.Notes.String)

	pending, err := f.svc.RequestBook(ctx, f.student2, item.ID)
	require.NoError(t, err)

	tests := []struct {
		name string
		op   func(id string) (library.Request, error)
		id   string
	}{
		{name: "approve rejected", op: func(id string) (library.Request, error) { return f.svc.Approve(ctx, f.librarian, id) }, id: rejected.ID},
		{name: "reject rejected", op: func(id string) (library.Request, error) { return f.svc.Reject(ctx, f.librarian, id, "") }, id: rejected.ID},
		{name: "return rejected", op: func(id string) (library.Request, error) { return f.svc.MarkReturned(ctx, f.librarian, id) }, id: rejected.ID},
		{name: "return pending", op: func(id string) (library.Request, error) { return f.svc.MarkReturned(ctx, f.librarian, id) }, id: pending.ID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.op(tt.id)
			assertKind(t, err, core.KindInvalidStateTransition)
		})
	}

	t.Run("return twice", func(t *testing.T) {
		_, err := f.svc.Approve(ctx, f.librarian, pending.ID)
		require.NoError(t, err)
		_, err = f.svc.MarkReturned(ctx, f.librarian, pending.ID)
		require.NoError(t, err)
		_, err = f.svc.MarkReturned(ctx, f.librarian, pending.ID)
		assertKind(t, err, core.KindInvalidStateTransition)
		_, err = f.svc.Approve(ctx, f.librarian, pending.ID)
		assertKind(t, err, core.KindInvalidStateTransition)
	})
}

func TestService_QueryRequests(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	item := f.createItem(t, 3)

	mine, err := f.svc.RequestBook(ctx, f.student, item.ID)
	require.NoError(t, err)
	theirs, err := f.svc.RequestBook(ctx, f.student2, item.ID)
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, f.librarian, theirs.ID)
	require.NoError(t, err)

	got, err := f.svc.QueryRequests(ctx, f.student, library.QueryFilter{})
	require.NoError(t, err)
	require.Len(t, got, 1, "students only see their own requests")
	assert.Equal(t, mine.ID, got[0].ID)

	got, err = f.svc.QueryRequests(ctx, f.librarian, library.QueryFilter{ItemID: item.ID})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = f.svc.QueryRequests(ctx, f.librarian, library.QueryFilter{CheckedOut: true})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, theirs.ID, got[0].ID)

	_, err = f.svc.GetRequest(ctx, f.student, theirs.ID)
	assertKind(t, err, core.KindForbidden)

	_, err = f.svc.QueryRequests(ctx, f.teacher, library.QueryFilter{})
	assertKind(t, err, core.KindForbidden)
}

func TestService_QueryRequests_returnedAndOverdue(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	book, other := f.createItem(t, 3), f.createItem(t, 3)

	restore := library.SetNowFunc(func() time.Time { return now.Add(-20 * 24 * time.Hour) })
	late, err := f.svc.RequestBook(ctx, f.student, book.ID)
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, f.librarian, late.ID)
	require.NoError(t, err)
	returned, err := f.svc.RequestBook(ctx, f.student2, book.ID)
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, f.librarian, returned.ID)
	require.NoError(t, err)
	_, err = f.svc.MarkReturned(ctx, f.librarian, returned.ID)
	require.NoError(t, err)
	restore()

	defer library.SetNowFunc(func() time.Time { return now })()
	onTime, err := f.svc.RequestBook(ctx, f.student, other.ID)
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, f.librarian, onTime.ID)
	require.NoError(t, err)
	pending, err := f.svc.RequestBook(ctx, f.student2, other.ID)
	require.NoError(t, err)

	ids := func(reqs []library.Request) []string {
		out := make([]string, 0, len(reqs))
		for _, r := range reqs {
			out = append(out, r.ID)
		}
		return out
	}
	tests := []struct {
		name   string
		filter library.QueryFilter
		want   []string
	}{
		{name: "overdue", filter: library.QueryFilter{Overdue: true}, want: []string{late.ID}},
		{name: "returned", filter: library.QueryFilter{Returned: true}, want: []string{returned.ID}},
		{name: "checked out", filter: library.QueryFilter{CheckedOut: true, Ordering: []core.DBOrdering{{Field: "due_date", Ascending: true}}}, want: []string{late.ID, onTime.ID}},
		{
			name:   "null due dates last",
			filter: library.QueryFilter{ItemID: other.ID, Ordering: []core.DBOrdering{{Field: "due_date", Ascending: true}}},
			want:   []string{onTime.ID, pending.ID},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.svc.QueryRequests(ctx, f.librarian, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(got))
		})
	}
}
