package testutil

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/quiz"
	"github.com/trezcool/shule/core/user"
	"github.com/trezcool/shule/storage/database"
)

// DatabaseURLEnv names the env var holding the postgres URL integration tests run against.
const DatabaseURLEnv = "TEST_DATABASE_URL"

func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, uname, email, pwd string,
	role user.Role,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	t.Helper()
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		Name:      name,
		Username:  uname,
		Email:     email,
		Role:      role,
		IsActive:  isActive,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("CreateUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	return usr
}

// NewQuiz returns an active single-attempt quiz of n questions, each with 3 options of which the first is correct.
func NewQuiz(n int) quiz.NewQuiz {
	nq := quiz.NewQuiz{Subject: "Maths", Title: "Fractions", IsActive: true}
	for i := 0; i < n; i++ {
		nq.Questions = append(nq.Questions, quiz.NewQuestion{
			Text: "Question",
			Options: []quiz.NewOption{
				{Text: "right", IsCorrect: true},
				{Text: "wrong"},
				{Text: "also wrong"},
			},
		})
	}
	return nq
}

// Config returns the configuration used by tests.
func Config() *core.Config {
	_ = os.Setenv("ENV", "test")
	conf := core.NewConfig()
	conf.SecretKey = "test-secret"
	return conf
}

// PrepareDB opens and migrates the integration tests database, and empties it once the test is done.
// The test is skipped if TEST_DATABASE_URL is unset.
func PrepareDB(t *testing.T) *sqlx.DB {
	t.Helper()
	url := os.Getenv(DatabaseURLEnv)
	if url == "" {
		t.Skipf("%s not set", DatabaseURLEnv)
	}

	db, err := database.OpenURL(url)
	if err != nil {
		t.Fatalf("PrepareDB(): %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err = database.Ping(ctx, db); err != nil {
		t.Fatalf("PrepareDB(): %v", err)
	}
	if err = database.Migrate(db); err != nil {
		t.Fatalf("PrepareDB(): %v", err)
	}

	t.Cleanup(func() {
		_, err := db.Exec("TRUNCATE attempt_answers, quiz_attempts, options, questions, quizzes, " +
			"book_borrowing_requests, library_items, users CASCADE")
		if err != nil {
			t.Errorf("truncating tables: %v", err)
		}
		_ = db.Close()
	})
	return db
}
