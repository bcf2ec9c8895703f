package quiz

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/volatiletech/null/v8"

	"github.com/fads122/kodigrow-remake/core"
)

// Session statuses
const (
	StatusWaiting   = "waiting"
	StatusActive    = "active"
	StatusSubmitted = "submitted" // participants only
	StatusEnded     = "ended"     // sessions only
)

// Watched tables, as reported by realtime change events.
const (
	TableSessions     = "quiz_session"
	TableParticipants = "quiz_session_participant"
)

// CleanCode normalizes a human-typed quiz code.
func CleanCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Question is a multiple-choice question authored by a professor under a quiz code.
// All questions sharing a code belong to the same quiz run.
type Question struct {
	ID          string      `json:"id"`
	QuizCode    string      `json:"quiz_code"`
	ProfessorID string      `json:"professor_id"`
	CourseID    string      `json:"course_id"`
	Title       string      `json:"title"`
	Subject     null.String `json:"subject"`
	Question    string      `json:"question"`
	Choices     []string    `json:"choices"`
	AnswerIndex int         `json:"answer_index"`
	CreatedAt   time.Time   `json:"created_at"` // UTC
}

// Session is one live run of a quiz; students join it and the owning
// professor starts it. At most one session exists per quiz code.
type Session struct {
	ID          string      `json:"id"`
	QuizCode    string      `json:"quiz_code"`
	ProfessorID string      `json:"professor_id"`
	CourseID    string      `json:"course_id"`
	Title       string      `json:"title"`
	Subject     null.String `json:"subject"`
	Status      string      `json:"status"`
	CreatedAt   time.Time   `json:"created_at"` // UTC
	UpdatedAt   time.Time   `json:"updated_at"` // UTC
}

// Participant is a student's membership in a session.
type Participant struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	StudentID string    `json:"student_id"`
	Status    string    `json:"status"`
	JoinedAt  time.Time `json:"joined_at"` // UTC
}

// NewQuestion contains information needed to author a new Question.
type NewQuestion struct {
	QuizCode    string   `json:"quiz_code" validate:"required,quizcode"`
	CourseID    string   `json:"course_id" validate:"required,uuid4"`
	Title       string   `json:"title" validate:"required"`
	Subject     string   `json:"subject"`
	Question    string   `json:"question" validate:"required"`
	Choices     []string `json:"choices" validate:"required,min=2,dive,required"`
	AnswerIndex int      `json:"answer_index" validate:"gte=0"`
}

func (nq *NewQuestion) Validate(validate *validator.Validate) error {
	nq.QuizCode = CleanCode(nq.QuizCode)
	nq.Title = core.CleanString(nq.Title)
	nq.Subject = core.CleanString(nq.Subject)
	nq.Question = core.CleanString(nq.Question)

	if err := validate.Struct(nq); err != nil {
		return err
	}
	if nq.AnswerIndex >= len(nq.Choices) {
		return core.NewValidationError(nil, core.FieldError{Field: "answer_index", Error: "answer index out of range"})
	}
	return nil
}

// EnterQuiz is a student's request to resolve and join a session by code.
type EnterQuiz struct {
	QuizCode string `json:"quiz_code" validate:"required,quizcode"`
}

func (eq *EnterQuiz) Validate(validate *validator.Validate) error {
	eq.QuizCode = CleanCode(eq.QuizCode)
	return validate.Struct(eq)
}
