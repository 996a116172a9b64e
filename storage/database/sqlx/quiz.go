package sqlxrepos

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core/quiz"
	"github.com/trezcool/shule/storage/database"
)

const (
	quizTable     = "quizzes"
	questionTable = "questions"
	optionTable   = "options"
	attemptTable  = "quiz_attempts"
	answerTable   = "attempt_answers"
)

var (
	quizColumns     = []string{"id", "subject", "title", "created_by", "is_active", "allow_multiple_attempts", "created_at"}
	questionColumns = []string{"id", "quiz_id", "position", "text", "points"}
	optionColumns   = []string{"id", "question_id", "position", "text", "is_correct"}
	attemptColumns  = []string{"id", "user_id", "quiz_id", "score", "started_at", "completed_at", "forced_completion"}
	answerColumns   = []string{"id", "quiz_attempt_id", "question_id", "selected_option_id", "is_correct", "created_at"}

	inProgress = sq.Eq{"completed_at": nil}
)

type quizRepository struct {
	db *sqlx.DB
}

var _ quiz.Repository = (*quizRepository)(nil) // interface compliance check

func NewQuizRepository(db *sqlx.DB) *quizRepository {
	return &quizRepository{db: db}
}

func (repo quizRepository) CreateQuiz(ctx context.Context, qz quiz.Quiz) (quiz.Quiz, error) {
	qz.ID = newID()
	err := database.WithTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		q := database.Psql.Insert(quizTable).Columns(quizColumns...).
			Values(qz.ID, qz.Subject, qz.Title, qz.CreatedBy, qz.IsActive, qz.AllowMultipleAttempts, qz.CreatedAt.UTC())
		if _, err := exec(ctx, tx, q); err != nil {
			return errors.Wrap(err, "inserting quiz")
		}

		for i := range qz.Questions {
			qs := &qz.Questions[i]
			qs.ID, qs.QuizID = newID(), qz.ID
			q := database.Psql.Insert(questionTable).Columns(questionColumns...).
				Values(qs.ID, qs.QuizID, qs.Position, qs.Text, qs.Points)
			if _, err := exec(ctx, tx, q); err != nil {
				return errors.Wrap(err, "inserting question")
			}

			if len(qs.Options) == 0 {
				continue
			}
			oq := database.Psql.Insert(optionTable).Columns(optionColumns...)
			for j := range qs.Options {
				o := &qs.Options[j]
				o.ID, o.QuestionID = newID(), qs.ID
				oq = oq.Values(o.ID, o.QuestionID, o.Position, o.Text, o.IsCorrect)
			}
			if _, err := exec(ctx, tx, oq); err != nil {
				return errors.Wrap(err, "inserting options")
			}
		}
		return nil
	})
	if err != nil {
		return quiz.Quiz{}, err
	}
	return qz, nil
}

func (repo quizRepository) GetQuiz(ctx context.Context, id string) (quiz.Quiz, error) {
	if !validID(id) {
		return quiz.Quiz{}, quiz.ErrQuizNotFound
	}
	var qz quiz.Quiz
	if err := get(ctx, repo.db, &qz, database.Psql.Select(quizColumns...).From(quizTable).Where(sq.Eq{"id": id})); err != nil {
		return quiz.Quiz{}, trapNoRowsErr(err, quiz.ErrQuizNotFound, "finding quiz")
	}

	var questions []quiz.Question
	q := database.Psql.Select(questionColumns...).From(questionTable).Where(sq.Eq{"quiz_id": id}).OrderBy("position")
	if err := sel(ctx, repo.db, &questions, q); err != nil {
		return quiz.Quiz{}, errors.Wrap(err, "querying questions")
	}
	if err := repo.loadOptions(ctx, questions); err != nil {
		return quiz.Quiz{}, err
	}
	qz.Questions = questions
	return qz, nil
}

func (repo quizRepository) loadOptions(ctx context.Context, questions []quiz.Question) error {
	if len(questions) == 0 {
		return nil
	}
	ids := make([]string, 0, len(questions))
	for _, qs := range questions {
		ids = append(ids, qs.ID)
	}

	var opts []quiz.Option
	q := database.Psql.Select(optionColumns...).From(optionTable).Where(sq.Eq{"question_id": ids}).OrderBy("position")
	if err := sel(ctx, repo.db, &opts, q); err != nil {
		return errors.Wrap(err, "querying options")
	}

	byQuestion := make(map[string][]quiz.Option, len(questions))
	for _, o := range opts {
		byQuestion[o.QuestionID] = append(byQuestion[o.QuestionID], o)
	}
	for i := range questions {
		questions[i].Options = byQuestion[questions[i].ID]
	}
	return nil
}

func (repo quizRepository) SetQuizActive(ctx context.Context, id string, active bool) (quiz.Quiz, error) {
	if !validID(id) {
		return quiz.Quiz{}, quiz.ErrQuizNotFound
	}
	n, err := exec(ctx, repo.db, database.Psql.Update(quizTable).Set("is_active", active).Where(sq.Eq{"id": id}))
	if err != nil {
		return quiz.Quiz{}, errors.Wrap(err, "updating quiz")
	}
	if n == 0 {
		return quiz.Quiz{}, quiz.ErrQuizNotFound
	}
	return repo.GetQuiz(ctx, id)
}

func (repo quizRepository) CountQuestions(ctx context.Context, quizID string) (int, error) {
	if !validID(quizID) {
		return 0, nil
	}
	return count(ctx, repo.db, questionTable, sq.Eq{"quiz_id": quizID})
}

func (repo quizRepository) GetQuestion(ctx context.Context, id string) (quiz.Question, error) {
	if !validID(id) {
		return quiz.Question{}, quiz.ErrQuestionNotFound
	}
	var qs quiz.Question
	if err := get(ctx, repo.db, &qs, database.Psql.Select(questionColumns...).From(questionTable).Where(sq.Eq{"id": id})); err != nil {
		return quiz.Question{}, trapNoRowsErr(err, quiz.ErrQuestionNotFound, "finding question")
	}
	questions := []quiz.Question{qs}
	if err := repo.loadOptions(ctx, questions); err != nil {
		return quiz.Question{}, err
	}
	return questions[0], nil
}

func (repo quizRepository) GetOption(ctx context.Context, id string) (quiz.Option, error) {
	if !validID(id) {
		return quiz.Option{}, quiz.ErrOptionNotFound
	}
	var o quiz.Option
	if err := get(ctx, repo.db, &o, database.Psql.Select(optionColumns...).From(optionTable).Where(sq.Eq{"id": id})); err != nil {
		return quiz.Option{}, trapNoRowsErr(err, quiz.ErrOptionNotFound, "finding option")
	}
	return o, nil
}

func (repo quizRepository) getInProgress(ctx context.Context, q queryer, userID, quizID string) (quiz.Attempt, error) {
	var att quiz.Attempt
	err := get(ctx, q, &att, database.Psql.Select(attemptColumns...).From(attemptTable).
		Where(sq.Eq{"user_id": userID, "quiz_id": quizID}).Where(inProgress))
	return att, err
}

func (repo quizRepository) FindOrCreateAttempt(ctx context.Context, att quiz.Attempt, canCreate func(hasCompleted bool) error) (quiz.Attempt, bool, error) {
	var created bool
	err := database.WithTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		existing, err := repo.getInProgress(ctx, tx, att.UserID, att.QuizID)
		if err == nil {
			att = existing
			return nil
		}
		if err = trapNoRowsErr(err, nil, "finding attempt in progress"); err != nil {
			return err
		}

		hasCompleted, err := exists(ctx, tx, database.Psql.Select("1").From(attemptTable).
			Where(sq.Eq{"user_id": att.UserID, "quiz_id": att.QuizID}).Where(sq.NotEq{"completed_at": nil}))
		if err != nil {
			return errors.Wrap(err, "checking completed attempts")
		}
		if err = canCreate(hasCompleted); err != nil {
			return err
		}

		att.ID = newID()
		q := database.Psql.Insert(attemptTable).Columns(attemptColumns...).
			Values(att.ID, att.UserID, att.QuizID, 0, att.StartedAt.UTC(), nil, false)
		if _, err = exec(ctx, tx, q); err != nil {
			return err
		}
		att.Score = 0
		created = true
		return nil
	})

	if database.IsUniqueViolation(err) {
		// a concurrent call created the attempt first
		existing, err := repo.getInProgress(ctx, repo.db, att.UserID, att.QuizID)
		if err != nil {
			return quiz.Attempt{}, false, errors.Wrap(err, "finding attempt in progress")
		}
		return existing, false, nil
	}
	if err != nil {
		return quiz.Attempt{}, false, err
	}
	return att, created, nil
}

func (repo quizRepository) GetAttempt(ctx context.Context, id string) (quiz.Attempt, error) {
	if !validID(id) {
		return quiz.Attempt{}, quiz.ErrAttemptNotFound
	}
	var att quiz.Attempt
	if err := get(ctx, repo.db, &att, database.Psql.Select(attemptColumns...).From(attemptTable).Where(sq.Eq{"id": id})); err != nil {
		return quiz.Attempt{}, trapNoRowsErr(err, quiz.ErrAttemptNotFound, "finding attempt")
	}
	return att, nil
}

func (repo quizRepository) QueryAttempts(ctx context.Context, userID, quizID string) ([]quiz.Attempt, error) {
	attempts := make([]quiz.Attempt, 0)
	if !validID(userID) || !validID(quizID) {
		return attempts, nil
	}
	q := database.Psql.Select(attemptColumns...).From(attemptTable).
		Where(sq.Eq{"user_id": userID, "quiz_id": quizID}).OrderBy("started_at")
	if err := sel(ctx, repo.db, &attempts, q); err != nil {
		return nil, errors.Wrap(err, "querying attempts")
	}
	return attempts, nil
}

func (repo quizRepository) RecordAnswer(ctx context.Context, ans quiz.AttemptAnswer) (quiz.AttemptAnswer, error) {
	if !validID(ans.AttemptID) {
		return quiz.AttemptAnswer{}, quiz.ErrAttemptNotFound
	}
	ans.ID = newID()
	err := database.WithTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		var att quiz.Attempt
		q := database.Psql.Select(attemptColumns...).From(attemptTable).Where(sq.Eq{"id": ans.AttemptID}).Suffix("FOR UPDATE")
		if err := get(ctx, tx, &att, q); err != nil {
			return trapNoRowsErr(err, quiz.ErrAttemptNotFound, "locking attempt")
		}
		if !att.InProgress() {
			return quiz.ErrAttemptCompleted
		}

		iq := database.Psql.Insert(answerTable).Columns(answerColumns...).
			Values(ans.ID, ans.AttemptID, ans.QuestionID, ans.SelectedOptionID, ans.IsCorrect, ans.CreatedAt.UTC())
		if _, err := exec(ctx, tx, iq); err != nil {
			if database.IsUniqueViolation(err) {
				return quiz.ErrAlreadyAnswered
			}
			return errors.Wrap(err, "inserting answer")
		}

		if ans.IsCorrect {
			uq := database.Psql.Update(attemptTable).Set("score", sq.Expr("score + 1")).Where(sq.Eq{"id": ans.AttemptID})
			if _, err := exec(ctx, tx, uq); err != nil {
				return errors.Wrap(err, "incrementing score")
			}
		}
		return nil
	})
	if err != nil {
		return quiz.AttemptAnswer{}, err
	}
	return ans, nil
}

func (repo quizRepository) CountAnswers(ctx context.Context, attemptID string) (int, error) {
	if !validID(attemptID) {
		return 0, nil
	}
	return count(ctx, repo.db, answerTable, sq.Eq{"quiz_attempt_id": attemptID})
}

func (repo quizRepository) QueryAnswers(ctx context.Context, attemptID string) ([]quiz.AttemptAnswer, error) {
	answers := make([]quiz.AttemptAnswer, 0)
	if !validID(attemptID) {
		return answers, nil
	}
	q := database.Psql.Select(answerColumns...).From(answerTable).Where(sq.Eq{"quiz_attempt_id": attemptID}).OrderBy("created_at")
	if err := sel(ctx, repo.db, &answers, q); err != nil {
		return nil, errors.Wrap(err, "querying answers")
	}
	return answers, nil
}

func (repo quizRepository) CompleteAttempt(ctx context.Context, id string, completedAt time.Time, forced bool) (quiz.Attempt, error) {
	if !validID(id) {
		return quiz.Attempt{}, quiz.ErrAttemptNotFound
	}
	var att quiz.Attempt
	q := database.Psql.Update(attemptTable).
		SetMap(map[string]interface{}{"completed_at": completedAt.UTC(), "forced_completion": forced}).
		Where(sq.Eq{"id": id}).Where(inProgress).
		Suffix("RETURNING " + joinColumns(attemptColumns))
	err := get(ctx, repo.db, &att, q)
	if err == nil {
		return att, nil
	}
	if err = trapNoRowsErr(err, nil, "completing attempt"); err != nil {
		return quiz.Attempt{}, err
	}
	// either missing or already completed
	if _, err = repo.GetAttempt(ctx, id); err != nil {
		return quiz.Attempt{}, err
	}
	return quiz.Attempt{}, quiz.ErrAttemptCompleted
}
