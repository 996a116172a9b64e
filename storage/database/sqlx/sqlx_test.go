package sqlxrepos_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/library"
	"github.com/trezcool/shule/core/quiz"
	"github.com/trezcool/shule/core/user"
	logsvc "github.com/trezcool/shule/services/logger"
	sqlxrepos "github.com/trezcool/shule/storage/database/sqlx"
	"github.com/trezcool/shule/tests"
)

func TestUserRepository(t *testing.T) {
	db := testutil.PrepareDB(t)
	repo := sqlxrepos.NewUserRepository(db)
	ctx := context.Background()

	usr := testutil.CreateUser(t, repo, "Hero", "hero", "hero@test.cd", "Pa$$w0rd!", user.RoleStudent, true)
	testutil.CreateUser(t, repo, "No Mail", "nomail", "", "", user.RoleStudent, true)
	testutil.CreateUser(t, repo, "No Username", "", "nouname@test.cd", "", user.RoleStudent, true)

	got, err := repo.GetUser(ctx, user.GetFilter{UsernameOrEmail: "hero@test.cd"})
	require.NoError(t, err)
	assert.Equal(t, usr.ID, got.ID)
	assert.NoError(t, got.CheckPassword("Pa$$w0rd!"))

	_, err = repo.GetUser(ctx, user.GetFilter{ID: "not-a-uuid"})
	assert.Equal(t, user.ErrNotFound, err)

	assert.Equal(t, user.ErrUserExists, repo.CheckUsernameUniqueness(ctx, "hero", "other@test.cd"))
	assert.NoError(t, repo.CheckUsernameUniqueness(ctx, "hero", "hero@test.cd", usr.ID))

	got.Role = user.RoleTeacher
	_, err = repo.UpdateUser(ctx, got)
	require.NoError(t, err)
	got, err = repo.GetUser(ctx, user.GetFilter{ID: usr.ID})
	require.NoError(t, err)
	assert.Equal(t, user.RoleTeacher, got.Role)
}

func TestQuizRepository_concurrentAttempts(t *testing.T) {
	db := testutil.PrepareDB(t)
	usrRepo := sqlxrepos.NewUserRepository(db)
	svc := quiz.NewService(sqlxrepos.NewQuizRepository(db), logsvc.NewRecorder())
	ctx := context.Background()

	teacher := testutil.CreateUser(t, usrRepo, "Teacher", "teacher", "teacher@test.cd", "", user.RoleTeacher, true)
	student := testutil.CreateUser(t, usrRepo, "Hero", "hero", "hero@test.cd", "", user.RoleStudent, true)

	qz, err := svc.Create(ctx, teacher, testutil.NewQuiz(5))
	require.NoError(t, err)

	const n = 8
	var wg sync.WaitGroup
	ids := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := svc.Start(ctx, student, qz.ID)
			ids[i], errs[i] = res.AttemptID, err
		}(i)
	}
	wg.Wait()
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i], "concurrent starts must share one attempt")
	}

	for i, q := range qz.Questions {
		wg.Add(1)
		go func(i int, q quiz.Question) {
			defer wg.Done()
			opt := q.Options[0].ID // correct
			if i%2 == 1 {
				opt = q.Options[1].ID
			}
			_, errs[i] = svc.SubmitAnswer(ctx, student, ids[0], quiz.SubmitAnswer{QuestionID: q.ID, SelectedOptionID: opt})
		}(i, q)
	}
	wg.Wait()
	for i := range qz.Questions {
		require.NoError(t, errs[i])
	}

	_, err = svc.SubmitAnswer(ctx, student, ids[0], quiz.SubmitAnswer{QuestionID: qz.Questions[0].ID, SelectedOptionID: qz.Questions[0].Options[0].ID})
	assert.True(t, core.IsKind(err, core.KindInvalidStateTransition), "got %v", err)

	res, err := svc.Complete(ctx, student, ids[0], false)
	require.NoError(t, err)
	assert.Equal(t, quiz.CompletionResult{Score: 3, TotalQuestions: 5}, res)

	_, err = svc.Start(ctx, student, qz.ID)
	assert.Equal(t, quiz.ErrAlreadyCompleted, err)
}

func TestLibraryRepository_concurrentApprovals(t *testing.T) {
	db := testutil.PrepareDB(t)
	usrRepo := sqlxrepos.NewUserRepository(db)
	svc := library.NewService(sqlxrepos.NewLibraryRepository(db), usrRepo, nil, logsvc.NewRecorder())
	ctx := context.Background()

	librarian := testutil.CreateUser(t, usrRepo, "Librarian", "librarian", "librarian@test.cd", "", user.RoleLibrarian, true)
	item, err := svc.CreateItem(ctx, librarian, library.NewItem{Title: "Weep Not, Child", Quantity: 2})
	require.NoError(t, err)

	const n = 6
	reqs := make([]library.Request, n)
	for i := 0; i < n; i++ {
		student := testutil.CreateUser(t, usrRepo, "Student", "student"+string(rune('a'+i)), "", "", user.RoleStudent, true)
		reqs[i], err = svc.RequestBook(ctx, student, item.ID)
		require.NoError(t, err)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		approved int
	)
	for _, req := range reqs {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := svc.Approve(ctx, librarian, id)
			switch {
			case err == nil:
				mu.Lock()
				approved++
				mu.Unlock()
			case !core.IsKind(err, core.KindItemUnavailable):
				t.Errorf("Approve() unexpected error = %v", err)
			}
		}(req.ID)
	}
	wg.Wait()
	assert.Equal(t, 2, approved, "never lend more copies than the item has")

	avail, err := svc.Availability(ctx, librarian, item.ID)
	require.NoError(t, err)
	assert.Equal(t, library.Availability{ItemID: item.ID, Quantity: 2, AvailableQuantity: 0, IsAvailable: false}, avail)

	checkedOut, err := svc.QueryRequests(ctx, librarian, library.QueryFilter{CheckedOut: true, Ordering: []core.DBOrdering{{Field: "due_date"}}})
	require.NoError(t, err)
	require.Len(t, checkedOut, 2)

	_, err = svc.MarkReturned(ctx, librarian, checkedOut[0].ID)
	require.NoError(t, err)
	repo := sqlxrepos.NewLibraryRepository(db)

	returned, err := repo.QueryRequests(ctx, library.QueryFilter{Returned: true})
	require.NoError(t, err)
	require.Len(t, returned, 1)
	assert.Equal(t, checkedOut[0].ID, returned[0].ID)

	overdue, err := repo.QueryRequests(ctx, library.QueryFilter{Overdue: true, Now: time.Now().Add(library.LoanPeriod + time.Hour)})
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	assert.Equal(t, checkedOut[1].ID, overdue[0].ID)

	overdue, err = repo.QueryRequests(ctx, library.QueryFilter{Overdue: true, Now: time.Now()})
	require.NoError(t, err)
	assert.Empty(t, overdue)

	byDue, err := repo.QueryRequests(ctx, library.QueryFilter{ItemID: item.ID, Ordering: []core.DBOrdering{{Field: "due_date", Ascending: true}}})
	require.NoError(t, err)
	require.Len(t, byDue, n)
	for i, req := range byDue {
		assert.Equal(t, i < 2, req.DueDate.Valid, "requests without a due date sort last")
	}
}
