package quiz

import (
	"time"

	"github.com/volatiletech/null/v8"

	"github.com/trezcool/shule/core"
)

const defaultPoints = 1

type Quiz struct {
	ID                    string     `json:"id" db:"id"`
	Subject               string     `json:"subject" db:"subject"`
	Title                 string     `json:"title" db:"title"`
	CreatedBy             string     `json:"created_by" db:"created_by"`
	IsActive              bool       `json:"is_active" db:"is_active"`
	AllowMultipleAttempts bool       `json:"allow_multiple_attempts" db:"allow_multiple_attempts"`
	CreatedAt             time.Time  `json:"created_at" db:"created_at"`
	Questions             []Question `json:"questions,omitempty" db:"-"`
}

// WithoutKey returns a copy of the Quiz in which no Option is marked correct.
func (qz Quiz) WithoutKey() Quiz {
	questions := make([]Question, 0, len(qz.Questions))
	for _, q := range qz.Questions {
		opts := make([]Option, 0, len(q.Options))
		for _, o := range q.Options {
			o.IsCorrect = false
			opts = append(opts, o)
		}
		q.Options = opts
		questions = append(questions, q)
	}
	qz.Questions = questions
	return qz
}

type Question struct {
	ID       string   `json:"id" db:"id"`
	QuizID   string   `json:"quiz_id" db:"quiz_id"`
	Position int      `json:"position" db:"position"`
	Text     string   `json:"text" db:"text"`
	Points   int      `json:"points" db:"points"`
	Options  []Option `json:"options,omitempty" db:"-"`
}

// CorrectOption returns the Option marked correct.
func (q Question) CorrectOption() (Option, bool) {
	for _, o := range q.Options {
		if o.IsCorrect {
			return o, true
		}
	}
	return Option{}, false
}

type Option struct {
	ID         string `json:"id" db:"id"`
	QuestionID string `json:"question_id" db:"question_id"`
	Position   int    `json:"position" db:"position"`
	Text       string `json:"text" db:"text"`
	IsCorrect  bool   `json:"is_correct,omitempty" db:"is_correct"`
}

// Attempt is one student's run through a Quiz. A nil CompletedAt means it is in progress.
type Attempt struct {
	ID               string    `json:"id" db:"id"`
	UserID           string    `json:"user_id" db:"user_id"`
	QuizID           string    `json:"quiz_id" db:"quiz_id"`
	Score            int       `json:"score" db:"score"`
	StartedAt        time.Time `json:"started_at" db:"started_at"`
	CompletedAt      null.Time `json:"completed_at" db:"completed_at"`
	ForcedCompletion bool      `json:"forced_completion" db:"forced_completion"`
}

func (a Attempt) InProgress() bool { return !a.CompletedAt.Valid }

// AttemptAnswer records the answer given to one Question. A null SelectedOptionID is a timed-out non-answer.
type AttemptAnswer struct {
	ID               string      `json:"id" db:"id"`
	AttemptID        string      `json:"quiz_attempt_id" db:"quiz_attempt_id"`
	QuestionID       string      `json:"question_id" db:"question_id"`
	SelectedOptionID null.String `json:"selected_option_id" db:"selected_option_id"`
	IsCorrect        bool        `json:"is_correct" db:"is_correct"`
	CreatedAt        time.Time   `json:"created_at" db:"created_at"`
}

// NewQuiz contains information needed to create a new Quiz with its questions.
type NewQuiz struct {
	Subject               string        `json:"subject" validate:"required,notblank"`
	Title                 string        `json:"title" validate:"required,notblank"`
	IsActive              bool          `json:"is_active"`
	AllowMultipleAttempts bool          `json:"allow_multiple_attempts"`
	Questions             []NewQuestion `json:"questions" validate:"required,min=1,dive"`
}

type NewQuestion struct {
	Text    string      `json:"text" validate:"required,notblank"`
	Points  int         `json:"points" validate:"omitempty,min=1"`
	Options []NewOption `json:"options" validate:"required,min=2,dive"`
}

type NewOption struct {
	Text      string `json:"text" validate:"required,notblank"`
	IsCorrect bool   `json:"is_correct"`
}

func (nq *NewQuiz) Clean() {
	nq.Subject = core.CleanString(nq.Subject)
	nq.Title = core.CleanString(nq.Title)
	for i := range nq.Questions {
		q := &nq.Questions[i]
		q.Text = core.CleanString(q.Text)
		if q.Points == 0 {
			q.Points = defaultPoints
		}
		for j := range q.Options {
			q.Options[j].Text = core.CleanString(q.Options[j].Text)
		}
	}
}

// SubmitAnswer is a student's answer to one question; SelectedOptionID is ignored when TimeExpired.
type SubmitAnswer struct {
	QuestionID       string `json:"question_id" validate:"required"`
	SelectedOptionID string `json:"selected_option_id" validate:"required_without=TimeExpired"`
	TimeExpired      bool   `json:"time_expired"`
}

type SequenceCheck struct {
	QuestionID    string `json:"question_id" validate:"required"`
	ExpectedIndex int    `json:"expected_index" validate:"min=0"`
}

type Completion struct {
	Forced bool `json:"forced"`
}

type (
	StartResult struct {
		AttemptID            string `json:"attempt_id"`
		Resumed              bool   `json:"resumed"`
		CurrentQuestionIndex int    `json:"current_question_index"`
	}

	AnswerResult struct {
		IsCorrect       bool   `json:"is_correct"`
		CorrectOptionID string `json:"correct_option_id"`
	}

	SequenceResult struct {
		Valid         bool `json:"valid"`
		ExpectedIndex *int `json:"expected_index,omitempty"`
	}

	CompletionResult struct {
		Score            int  `json:"score"`
		TotalQuestions   int  `json:"total_questions"`
		ForcedCompletion bool `json:"forced_completion"`
	}

	Eligibility struct {
		CanAttempt          bool   `json:"can_attempt"`
		InProgressAttemptID string `json:"in_progress_attempt_id,omitempty"`
	}

	AttemptResult struct {
		Attempt        Attempt         `json:"attempt"`
		Answers        []AttemptAnswer `json:"answers"`
		TotalQuestions int             `json:"total_questions"`
	}
)
