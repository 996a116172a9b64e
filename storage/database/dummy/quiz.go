package dummydb

import (
	"context"
	"sort"
	"time"

	"github.com/volatiletech/null/v8"

	"github.com/trezcool/shule/core/quiz"
)

type quizRepository struct {
	db *DB
}

var _ quiz.Repository = (*quizRepository)(nil) // interface compliance check

func NewQuizRepository(db *DB) quiz.Repository {
	return &quizRepository{db: db}
}

func (repo *quizRepository) CreateQuiz(_ context.Context, qz quiz.Quiz) (quiz.Quiz, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	qz.ID = newID()
	questions := make([]quiz.Question, 0, len(qz.Questions))
	for _, qs := range qz.Questions {
		qs.ID, qs.QuizID = newID(), qz.ID
		opts := make([]quiz.Option, 0, len(qs.Options))
		for _, o := range qs.Options {
			o.ID, o.QuestionID = newID(), qs.ID
			repo.db.options[o.ID] = o
			opts = append(opts, o)
		}
		qs.Options = opts
		repo.db.questions[qs.ID] = withoutOptions(qs)
		questions = append(questions, qs)
	}

	stored := qz
	stored.Questions = nil
	repo.db.quizzes[qz.ID] = stored
	qz.Questions = questions
	return qz, nil
}

func withoutOptions(qs quiz.Question) quiz.Question {
	qs.Options = nil
	return qs
}

func (repo *quizRepository) optionsOf(questionID string) []quiz.Option {
	var opts []quiz.Option
	for _, o := range repo.db.options {
		if o.QuestionID == questionID {
			opts = append(opts, o)
		}
	}
	sort.Slice(opts, func(i, j int) bool { return opts[i].Position < opts[j].Position })
	return opts
}

func (repo *quizRepository) questionsOf(quizID string) []quiz.Question {
	var questions []quiz.Question
	for _, qs := range repo.db.questions {
		if qs.QuizID == quizID {
			qs.Options = repo.optionsOf(qs.ID)
			questions = append(questions, qs)
		}
	}
	sort.Slice(questions, func(i, j int) bool { return questions[i].Position < questions[j].Position })
	return questions
}

func (repo *quizRepository) getQuiz(id string) (quiz.Quiz, error) {
	qz, ok := repo.db.quizzes[id]
	if !ok {
		return quiz.Quiz{}, quiz.ErrQuizNotFound
	}
	qz.Questions = repo.questionsOf(id)
	return qz, nil
}

func (repo *quizRepository) GetQuiz(_ context.Context, id string) (quiz.Quiz, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()
	return repo.getQuiz(id)
}

func (repo *quizRepository) SetQuizActive(_ context.Context, id string, active bool) (quiz.Quiz, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	qz, ok := repo.db.quizzes[id]
	if !ok {
		return quiz.Quiz{}, quiz.ErrQuizNotFound
	}
	qz.IsActive = active
	repo.db.quizzes[id] = qz
	return repo.getQuiz(id)
}

func (repo *quizRepository) CountQuestions(_ context.Context, quizID string) (int, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var n int
	for _, qs := range repo.db.questions {
		if qs.QuizID == quizID {
			n++
		}
	}
	return n, nil
}

func (repo *quizRepository) GetQuestion(_ context.Context, id string) (quiz.Question, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	qs, ok := repo.db.questions[id]
	if !ok {
		return quiz.Question{}, quiz.ErrQuestionNotFound
	}
	qs.Options = repo.optionsOf(id)
	return qs, nil
}

func (repo *quizRepository) GetOption(_ context.Context, id string) (quiz.Option, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if o, ok := repo.db.options[id]; ok {
		return o, nil
	}
	return quiz.Option{}, quiz.ErrOptionNotFound
}

func (repo *quizRepository) FindOrCreateAttempt(_ context.Context, att quiz.Attempt, canCreate func(hasCompleted bool) error) (quiz.Attempt, bool, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	var hasCompleted bool
	for _, a := range repo.db.attempts {
		if a.UserID != att.UserID || a.QuizID != att.QuizID {
			continue
		}
		if a.InProgress() {
			return a, false, nil
		}
		hasCompleted = true
	}
	if err := canCreate(hasCompleted); err != nil {
		return quiz.Attempt{}, false, err
	}

	att.ID = newID()
	att.Score = 0
	att.CompletedAt = null.Time{}
	att.ForcedCompletion = false
	repo.db.attempts[att.ID] = att
	return att, true, nil
}

func (repo *quizRepository) GetAttempt(_ context.Context, id string) (quiz.Attempt, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if att, ok := repo.db.attempts[id]; ok {
		return att, nil
	}
	return quiz.Attempt{}, quiz.ErrAttemptNotFound
}

func (repo *quizRepository) QueryAttempts(_ context.Context, userID, quizID string) ([]quiz.Attempt, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	attempts := make([]quiz.Attempt, 0)
	for _, att := range repo.db.attempts {
		if att.UserID == userID && att.QuizID == quizID {
			attempts = append(attempts, att)
		}
	}
	sort.Slice(attempts, func(i, j int) bool { return attempts[i].StartedAt.Before(attempts[j].StartedAt) })
	return attempts, nil
}

func (repo *quizRepository) RecordAnswer(_ context.Context, ans quiz.AttemptAnswer) (quiz.AttemptAnswer, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	att, ok := repo.db.attempts[ans.AttemptID]
	if !ok {
		return quiz.AttemptAnswer{}, quiz.ErrAttemptNotFound
	}
	if !att.InProgress() {
		return quiz.AttemptAnswer{}, quiz.ErrAttemptCompleted
	}
	for _, a := range repo.db.answers {
		if a.AttemptID == ans.AttemptID && a.QuestionID == ans.QuestionID {
			return quiz.AttemptAnswer{}, quiz.ErrAlreadyAnswered
		}
	}

	ans.ID = newID()
	repo.db.answers = append(repo.db.answers, ans)
	if ans.IsCorrect {
		att.Score++
		repo.db.attempts[att.ID] = att
	}
	return ans, nil
}

func (repo *quizRepository) CountAnswers(_ context.Context, attemptID string) (int, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var n int
	for _, a := range repo.db.answers {
		if a.AttemptID == attemptID {
			n++
		}
	}
	return n, nil
}

func (repo *quizRepository) QueryAnswers(_ context.Context, attemptID string) ([]quiz.AttemptAnswer, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	answers := make([]quiz.AttemptAnswer, 0)
	for _, a := range repo.db.answers {
		if a.AttemptID == attemptID {
			answers = append(answers, a)
		}
	}
	return answers, nil
}

func (repo *quizRepository) CompleteAttempt(_ context.Context, id string, completedAt time.Time, forced bool) (quiz.Attempt, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	att, ok := repo.db.attempts[id]
	if !ok {
		return quiz.Attempt{}, quiz.ErrAttemptNotFound
	}
	if !att.InProgress() {
		return quiz.Attempt{}, quiz.ErrAttemptCompleted
	}
	att.CompletedAt = null.TimeFrom(completedAt)
	att.ForcedCompletion = forced
	repo.db.attempts[id] = att
	return att, nil
}
