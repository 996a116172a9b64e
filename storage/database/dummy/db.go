// Package dummydb implements the repositories in memory. Used in tests and for local demos.
package dummydb

import (
	"sync"

	"github.com/google/uuid"

	"github.com/trezcool/shule/core/library"
	"github.com/trezcool/shule/core/quiz"
	"github.com/trezcool/shule/core/user"
)

// DB holds every table behind a single lock, so each repository call is atomic.
type DB struct {
	sync.RWMutex

	users     map[string]user.User
	quizzes   map[string]quiz.Quiz // without questions
	questions map[string]quiz.Question
	options   map[string]quiz.Option
	attempts  map[string]quiz.Attempt
	answers   []quiz.AttemptAnswer
	items     map[string]library.Item
	requests  map[string]library.Request
}

func Open() (*DB, error) {
	db := &DB{}
	db.reset()
	return db, nil
}

func (db *DB) reset() {
	db.users = make(map[string]user.User)
	db.quizzes = make(map[string]quiz.Quiz)
	db.questions = make(map[string]quiz.Question)
	db.options = make(map[string]quiz.Option)
	db.attempts = make(map[string]quiz.Attempt)
	db.answers = nil
	db.items = make(map[string]library.Item)
	db.requests = make(map[string]library.Request)
}

// Truncate empties every table.
func (db *DB) Truncate() {
	db.Lock()
	defer db.Unlock()
	db.reset()
}

func newID() string {
	return uuid.New().String()
}
