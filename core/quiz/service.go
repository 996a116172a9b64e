package quiz

import (
	"context"
	"fmt"
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
	ErrQuizNotFound        = core.NewError(core.KindNotFound, "quiz not found")
	ErrQuestionNotFound    = core.NewError(core.KindNotFound, "question not found")
	ErrOptionNotFound      = core.NewError(core.KindNotFound, "option not found")
	ErrAttemptNotFound     = core.NewError(core.KindNotFound, "attempt not found")
	ErrQuizInactive        = core.NewError(core.KindAttemptDenied, "quiz is not active")
	ErrAlreadyCompleted    = core.NewError(core.KindAttemptDenied, "quiz already completed")
	ErrQuestionNotInQuiz   = core.NewError(core.KindInvalidReference, "question does not belong to this quiz")
	ErrOptionNotInQuestion = core.NewError(core.KindInvalidReference, "option does not belong to this question")
	ErrOptionRequired      = core.NewError(core.KindInvalidReference, "an option must be selected")
	ErrAttemptCompleted    = core.NewError(core.KindInvalidStateTransition, "attempt is already completed")
	ErrAlreadyAnswered     = core.NewError(core.KindInvalidStateTransition, "question already answered")

	errNoCorrectOption = errors.New("question has no correct option")

	// nowFunc is mocked in tests
	nowFunc = func() time.Time { return time.Now().UTC() }
)

type (
	// Repository persists quizzes and attempts. Methods taking callbacks run them atomically with the write.
	Repository interface {
		CreateQuiz(ctx context.Context, qz Quiz) (Quiz, error)
		GetQuiz(ctx context.Context, id string) (Quiz, error)
		SetQuizActive(ctx context.Context, id string, active bool) (Quiz, error)
		CountQuestions(ctx context.Context, quizID string) (int, error)
		GetQuestion(ctx context.Context, id string) (Question, error)
		GetOption(ctx context.Context, id string) (Option, error)

		// FindOrCreateAttempt returns the user's in-progress attempt on the quiz if any.
		// Otherwise it calls canCreate (with whether the user already completed the quiz) and
		// creates att unless canCreate fails. The returned bool is true if att was created.
		FindOrCreateAttempt(ctx context.Context, att Attempt, canCreate func(hasCompleted bool) error) (Attempt, bool, error)
		GetAttempt(ctx context.Context, id string) (Attempt, error)
		QueryAttempts(ctx context.Context, userID, quizID string) ([]Attempt, error)

		// RecordAnswer stores ans and increments the attempt's score if ans is correct.
		// Fails with ErrAttemptCompleted or ErrAlreadyAnswered.
		RecordAnswer(ctx context.Context, ans AttemptAnswer) (AttemptAnswer, error)
		CountAnswers(ctx context.Context, attemptID string) (int, error)
		QueryAnswers(ctx context.Context, attemptID string) ([]AttemptAnswer, error)

		// CompleteAttempt marks the attempt completed. Fails with ErrAttemptCompleted if it already is.
		CompleteAttempt(ctx context.Context, id string, completedAt time.Time, forced bool) (Attempt, error)
	}

	Service struct {
		repo   Repository
		logger core.Logger
	}
)

// NewService panics if a dependency is missing.
func NewService(repo Repository, logger core.Logger) *Service {
	vala.BeginValidation().Validate(
		vala.IsNotNil(repo, "repo"),
		vala.IsNotNil(logger, "logger"),
	).CheckAndPanic()
	return &Service{repo: repo, logger: logger}
}

// Create stores a new quiz authored by actor.
func (svc *Service) Create(ctx context.Context, actor user.User, nq NewQuiz) (Quiz, error) {
	if err := rbac.Check(actor, rbac.QuizCreate); err != nil {
		return Quiz{}, err
	}
	nq.Clean()
	if err := checkQuestions(nq.Questions); err != nil {
		return Quiz{}, err
	}

	qz := Quiz{
		Subject:               nq.Subject,
		Title:                 nq.Title,
		CreatedBy:             actor.ID,
		IsActive:              nq.IsActive,
		AllowMultipleAttempts: nq.AllowMultipleAttempts,
		CreatedAt:             nowFunc(),
		Questions:             make([]Question, 0, len(nq.Questions)),
	}
	for i, nqs := range nq.Questions {
		q := Question{Position: i, Text: nqs.Text, Points: nqs.Points, Options: make([]Option, 0, len(nqs.Options))}
		for j, no := range nqs.Options {
			q.Options = append(q.Options, Option{Position: j, Text: no.Text, IsCorrect: no.IsCorrect})
		}
		qz.Questions = append(qz.Questions, q)
	}
	qz, err := svc.repo.CreateQuiz(ctx, qz)
	if err != nil {
		return Quiz{}, errors.Wrap(err, "creating quiz")
	}
	return qz, nil
}

// checkQuestions enforces that every question has positive points, at least 2 options and exactly one correct option.
func checkQuestions(questions []NewQuestion) error {
	var flds []core.FieldError
	if len(questions) == 0 {
		flds = append(flds, core.FieldError{Field: "questions", Error: "at least one question is required"})
	}
	for i, q := range questions {
		if q.Points < 1 {
			flds = append(flds, core.FieldError{Field: fmt.Sprintf("questions[%d].points", i), Error: "points must be at least 1"})
		}
		if msg := checkOptions(q.Options); msg != "" {
			flds = append(flds, core.FieldError{Field: fmt.Sprintf("questions[%d].options", i), Error: msg})
		}
	}
	if len(flds) > 0 {
		return core.NewValidationError(errors.New("invalid questions"), flds...)
	}
	return nil
}

func checkOptions(opts []NewOption) string {
	if len(opts) < 2 {
		return minOptionsText
	}
	var correct int
	for _, o := range opts {
		if o.IsCorrect {
			correct++
		}
	}
	if correct != 1 {
		return oneCorrectText
	}
	return ""
}

// Get returns the quiz with its questions. The answer key is hidden from users who may not see it,
// and inactive quizzes are hidden from users who may not activate them.
func (svc *Service) Get(ctx context.Context, actor user.User, id string) (Quiz, error) {
	if err := rbac.Check(actor, rbac.QuizView); err != nil {
		return Quiz{}, err
	}
	qz, err := svc.repo.GetQuiz(ctx, id)
	if err != nil {
		return Quiz{}, err
	}
	if !qz.IsActive && !rbac.Has(actor.Role, rbac.QuizActivate) {
		return Quiz{}, ErrQuizNotFound
	}
	if !rbac.Has(actor.Role, rbac.QuizViewKey) {
		qz = qz.WithoutKey()
	}
	return qz, nil
}

func (svc *Service) SetActive(ctx context.Context, actor user.User, id string, active bool) (Quiz, error) {
	if err := rbac.Check(actor, rbac.QuizActivate); err != nil {
		return Quiz{}, err
	}
	return svc.repo.SetQuizActive(ctx, id, active)
}

// Start begins an attempt on the quiz, or resumes the user's in-progress one.
func (svc *Service) Start(ctx context.Context, actor user.User, quizID string) (StartResult, error) {
	if err := rbac.Check(actor, rbac.AttemptCreate); err != nil {
		return StartResult{}, err
	}
	qz, err := svc.repo.GetQuiz(ctx, quizID)
	if err != nil {
		return StartResult{}, err
	}

	att := Attempt{UserID: actor.ID, QuizID: qz.ID, StartedAt: nowFunc()}
	att, created, err := svc.repo.FindOrCreateAttempt(ctx, att, func(hasCompleted bool) error {
		if !qz.IsActive {
			return ErrQuizInactive
		}
		if hasCompleted && !qz.AllowMultipleAttempts {
			return ErrAlreadyCompleted
		}
		return nil
	})
	if err != nil {
		if core.KindOf(err) != core.KindUnknown {
			return StartResult{}, err
		}
		return StartResult{}, errors.Wrap(err, "starting attempt")
	}

	res := StartResult{AttemptID: att.ID, Resumed: !created}
	if created {
		return res, nil
	}
	if res.CurrentQuestionIndex, err = svc.repo.CountAnswers(ctx, att.ID); err != nil {
		return StartResult{}, errors.Wrap(err, "counting answers")
	}
	return res, nil
}

// ownAttempt loads the attempt and checks that actor owns it.
func (svc *Service) ownAttempt(ctx context.Context, actor user.User, attemptID string) (Attempt, error) {
	if err := rbac.Check(actor, rbac.AttemptAnswer); err != nil {
		return Attempt{}, err
	}
	att, err := svc.repo.GetAttempt(ctx, attemptID)
	if err != nil {
		return Attempt{}, err
	}
	if att.UserID != actor.ID {
		return Attempt{}, rbac.ErrForbidden
	}
	return att, nil
}

// questionOf loads the question and checks that it belongs to the attempt's quiz.
func (svc *Service) questionOf(ctx context.Context, att Attempt, questionID string) (Question, error) {
	q, err := svc.repo.GetQuestion(ctx, questionID)
	if err != nil {
		return Question{}, err
	}
	if q.QuizID != att.QuizID {
		return Question{}, ErrQuestionNotInQuiz
	}
	return q, nil
}

// SubmitAnswer records the answer to one question and returns its correctness along with the correct option.
// When data.TimeExpired is set the answer is recorded as incorrect with no selected option.
func (svc *Service) SubmitAnswer(ctx context.Context, actor user.User, attemptID string, data SubmitAnswer) (AnswerResult, error) {
	att, err := svc.ownAttempt(ctx, actor, attemptID)
	if err != nil {
		return AnswerResult{}, err
	}
	if !att.InProgress() {
		return AnswerResult{}, ErrAttemptCompleted
	}
	q, err := svc.questionOf(ctx, att, data.QuestionID)
	if err != nil {
		return AnswerResult{}, err
	}
	correct, ok := q.CorrectOption()
	if !ok {
		return AnswerResult{}, errors.Wrapf(errNoCorrectOption, "question %s", q.ID)
	}

	ans := AttemptAnswer{AttemptID: att.ID, QuestionID: q.ID, CreatedAt: nowFunc()}
	if !data.TimeExpired {
		if data.SelectedOptionID == "" {
			return AnswerResult{}, ErrOptionRequired
		}
		opt, err := svc.repo.GetOption(ctx, data.SelectedOptionID)
		if err != nil {
			return AnswerResult{}, err
		}
		if opt.QuestionID != q.ID {
			return AnswerResult{}, ErrOptionNotInQuestion
		}
		ans.SelectedOptionID = null.StringFrom(opt.ID)
		ans.IsCorrect = opt.ID == correct.ID
	}

	if _, err := svc.repo.RecordAnswer(ctx, ans); err != nil {
		if core.KindOf(err) != core.KindUnknown {
			return AnswerResult{}, err
		}
		return AnswerResult{}, errors.Wrap(err, "recording answer")
	}
	return AnswerResult{IsCorrect: ans.IsCorrect, CorrectOptionID: correct.ID}, nil
}

// ValidateQuestionSequence reports whether expectedIndex is the index of the next question to answer,
// i.e. the number of questions already answered in the attempt.
func (svc *Service) ValidateQuestionSequence(ctx context.Context, actor user.User, attemptID string, data SequenceCheck) (SequenceResult, error) {
	att, err := svc.ownAttempt(ctx, actor, attemptID)
	if err != nil {
		return SequenceResult{}, err
	}
	if _, err = svc.questionOf(ctx, att, data.QuestionID); err != nil {
		return SequenceResult{}, err
	}
	answered, err := svc.repo.CountAnswers(ctx, att.ID)
	if err != nil {
		return SequenceResult{}, errors.Wrap(err, "counting answers")
	}
	if data.ExpectedIndex == answered {
		return SequenceResult{Valid: true}, nil
	}
	return SequenceResult{ExpectedIndex: &answered}, nil
}

// Complete ends the attempt. A forced completion (e.g. the student left the quiz) is flagged and logged.
func (svc *Service) Complete(ctx context.Context, actor user.User, attemptID string, forced bool) (CompletionResult, error) {
	att, err := svc.ownAttempt(ctx, actor, attemptID)
	if err != nil {
		return CompletionResult{}, err
	}
	if !att.InProgress() {
		return CompletionResult{}, ErrAttemptCompleted
	}
	att, err = svc.repo.CompleteAttempt(ctx, att.ID, nowFunc(), forced)
	if err != nil {
		if core.KindOf(err) != core.KindUnknown {
			return CompletionResult{}, err
		}
		return CompletionResult{}, errors.Wrap(err, "completing attempt")
	}
	if forced {
		svc.logger.Warn("quiz attempt force-completed", map[string]interface{}{
			"attempt_id": att.ID,
			"quiz_id":    att.QuizID,
			"score":      att.Score,
		}, actor)
	}

	total, err := svc.repo.CountQuestions(ctx, att.QuizID)
	if err != nil {
		return CompletionResult{}, errors.Wrap(err, "counting questions")
	}
	return CompletionResult{Score: att.Score, TotalQuestions: total, ForcedCompletion: att.ForcedCompletion}, nil
}

// CheckEligibility reports whether actor may start the quiz, and the id of their in-progress attempt if any.
func (svc *Service) CheckEligibility(ctx context.Context, actor user.User, quizID string) (Eligibility, error) {
	if err := rbac.Check(actor, rbac.AttemptCreate); err != nil {
		return Eligibility{}, err
	}
	qz, err := svc.repo.GetQuiz(ctx, quizID)
	if err != nil {
		return Eligibility{}, err
	}
	attempts, err := svc.repo.QueryAttempts(ctx, actor.ID, qz.ID)
	if err != nil {
		return Eligibility{}, errors.Wrap(err, "querying attempts")
	}

	var (
		elig         Eligibility
		hasCompleted bool
	)
	for _, att := range attempts {
		if att.InProgress() {
			elig.InProgressAttemptID = att.ID
		} else {
			hasCompleted = true
		}
	}
	elig.CanAttempt = qz.IsActive && (!hasCompleted || qz.AllowMultipleAttempts)
	return elig, nil
}

// Result returns an attempt with its answers. Users may only see their own attempts unless granted AttemptViewAll.
func (svc *Service) Result(ctx context.Context, actor user.User, attemptID string) (AttemptResult, error) {
	if err := rbac.CheckAny(actor, rbac.AttemptViewOwn, rbac.AttemptViewAll); err != nil {
		return AttemptResult{}, err
	}
	att, err := svc.repo.GetAttempt(ctx, attemptID)
	if err != nil {
		return AttemptResult{}, err
	}
	if att.UserID != actor.ID && !rbac.Has(actor.Role, rbac.AttemptViewAll) {
		return AttemptResult{}, rbac.ErrForbidden
	}
	answers, err := svc.repo.QueryAnswers(ctx, att.ID)
	if err != nil {
		return AttemptResult{}, errors.Wrap(err, "querying answers")
	}
	total, err := svc.repo.CountQuestions(ctx, att.QuizID)
	if err != nil {
		return AttemptResult{}, errors.Wrap(err, "counting questions")
	}
	return AttemptResult{Attempt: att, Answers: answers, TotalQuestions: total}, nil
}
