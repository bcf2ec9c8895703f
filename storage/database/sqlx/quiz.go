package sqlxrepos

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/fads122/kodigrow-remake/core/quiz"
)

type quizRepository struct {
	db *sqlx.DB
}

var _ quiz.Repository = (*quizRepository)(nil) // interface compliance check

func NewQuizRepository(db *sqlx.DB) *quizRepository {
	return &quizRepository{db: db}
}

type dbQuestion struct {
	ID          string         `db:"id"`
	QuizCode    string         `db:"quiz_code"`
	ProfessorID string         `db:"professor_id"`
	CourseID    string         `db:"course_id"`
	Title       string         `db:"title"`
	Subject     null.String    `db:"subject"`
	Question    string         `db:"question"`
	Choices     pq.StringArray `db:"choices"`
	AnswerIndex int            `db:"answer_index"`
	CreatedAt   null.Time      `db:"created_at"`
}

type dbSession struct {
	ID          string      `db:"id"`
	QuizCode    string      `db:"quiz_code"`
	ProfessorID string      `db:"professor_id"`
	CourseID    string      `db:"course_id"`
	Title       string      `db:"title"`
	Subject     null.String `db:"subject"`
	Status      string      `db:"status"`
	CreatedAt   null.Time   `db:"created_at"`
	UpdatedAt   null.Time   `db:"updated_at"`
}

type dbParticipant struct {
	ID        string    `db:"id"`
	SessionID string    `db:"session_id"`
	StudentID string    `db:"student_id"`
	Status    string    `db:"status"`
	JoinedAt  null.Time `db:"joined_at"`
}

func (repo quizRepository) unpackQuestion(q dbQuestion) quiz.Question {
	return quiz.Question{
		ID:          q.ID,
		QuizCode:    q.QuizCode,
		ProfessorID: q.ProfessorID,
		CourseID:    q.CourseID,
		Title:       q.Title,
		Subject:     q.Subject,
		Question:    q.Question,
		Choices:     q.Choices,
		AnswerIndex: q.AnswerIndex,
		CreatedAt:   q.CreatedAt.Time,
	}
}

func (repo quizRepository) unpackSession(s dbSession) quiz.Session {
	return quiz.Session{
		ID:          s.ID,
		QuizCode:    s.QuizCode,
		ProfessorID: s.ProfessorID,
		CourseID:    s.CourseID,
		Title:       s.Title,
		Subject:     s.Subject,
		Status:      s.Status,
		CreatedAt:   s.CreatedAt.Time,
		UpdatedAt:   s.UpdatedAt.Time,
	}
}

func (repo quizRepository) unpackParticipant(p dbParticipant) quiz.Participant {
	return quiz.Participant{
		ID:        p.ID,
		SessionID: p.SessionID,
		StudentID: p.StudentID,
		Status:    p.Status,
		JoinedAt:  p.JoinedAt.Time,
	}
}

func (repo quizRepository) CreateQuestion(ctx context.Context, q quiz.Question) (quiz.Question, error) {
	dq := dbQuestion{
		ID:          uuid.New().String(),
		QuizCode:    q.QuizCode,
		ProfessorID: q.ProfessorID,
		CourseID:    q.CourseID,
		Title:       q.Title,
		Subject:     q.Subject,
		Question:    q.Question,
		Choices:     q.Choices,
		AnswerIndex: q.AnswerIndex,
		CreatedAt:   null.NewTime(q.CreatedAt.UTC(), !q.CreatedAt.IsZero()),
	}
	_, err := repo.db.NamedExecContext(ctx,
		`INSERT INTO multiple_choice_question (id, quiz_code, professor_id, course_id, title, subject, question, choices, answer_index, created_at)
		 VALUES (:id, :quiz_code, :professor_id, :course_id, :title, :subject, :question, :choices, :answer_index, :created_at)`,
		dq,
	)
	if err != nil {
		return quiz.Question{}, errors.Wrap(err, "inserting question")
	}
	return repo.unpackQuestion(dq), nil
}

func (repo quizRepository) QueryQuestionsByProfessor(ctx context.Context, professorID string) ([]quiz.Question, error) {
	var qs []dbQuestion
	err := repo.db.SelectContext(ctx, &qs,
		`SELECT * FROM multiple_choice_question WHERE professor_id = $1 ORDER BY created_at DESC`, professorID)
	if err != nil {
		return nil, errors.Wrap(err, "querying questions by professor")
	}
	questions := make([]quiz.Question, 0, len(qs))
	for _, q := range qs {
		questions = append(questions, repo.unpackQuestion(q))
	}
	return questions, nil
}

func (repo quizRepository) QueryQuestionsByCode(ctx context.Context, code string) ([]quiz.Question, error) {
	var qs []dbQuestion
	err := repo.db.SelectContext(ctx, &qs,
		`SELECT * FROM multiple_choice_question WHERE quiz_code = $1 ORDER BY created_at`, code)
	if err != nil {
		return nil, errors.Wrap(err, "querying questions by code")
	}
	questions := make([]quiz.Question, 0, len(qs))
	for _, q := range qs {
		questions = append(questions, repo.unpackQuestion(q))
	}
	return questions, nil
}

func (repo quizRepository) GetQuestionByCode(ctx context.Context, code string) (quiz.Question, error) {
	var q dbQuestion
	err := repo.db.GetContext(ctx, &q,
		`SELECT * FROM multiple_choice_question WHERE quiz_code = $1 ORDER BY created_at LIMIT 1`, code)
	if err != nil {
		if err == sql.ErrNoRows {
			return quiz.Question{}, quiz.ErrQuestionNotFound
		}
		return quiz.Question{}, errors.Wrap(err, "finding question by code")
	}
	return repo.unpackQuestion(q), nil
}

func (repo quizRepository) GetSessionByID(ctx context.Context, id string) (quiz.Session, error) {
	var s dbSession
	if err := repo.db.GetContext(ctx, &s, `SELECT * FROM quiz_session WHERE id = $1`, id); err != nil {
		if err == sql.ErrNoRows {
			return quiz.Session{}, quiz.ErrNotFound
		}
		return quiz.Session{}, errors.Wrap(err, "finding session by id")
	}
	return repo.unpackSession(s), nil
}

func (repo quizRepository) GetSessionByCode(ctx context.Context, code string) (quiz.Session, error) {
	var s dbSession
	if err := repo.db.GetContext(ctx, &s, `SELECT * FROM quiz_session WHERE quiz_code = $1`, code); err != nil {
		if err == sql.ErrNoRows {
			return quiz.Session{}, quiz.ErrNotFound
		}
		return quiz.Session{}, errors.Wrap(err, "finding session by code")
	}
	return repo.unpackSession(s), nil
}

// CreateSession serializes the check-then-insert on the quiz_code unique
// index: the losing concurrent insert comes back as ErrSessionExists.
func (repo quizRepository) CreateSession(ctx context.Context, sess quiz.Session) (quiz.Session, error) {
	var s dbSession
	err := repo.db.GetContext(ctx, &s,
		`INSERT INTO quiz_session (id, quiz_code, professor_id, course_id, title, subject, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (quiz_code) DO NOTHING
		 RETURNING *`,
		uuid.New().String(), sess.QuizCode, sess.ProfessorID, sess.CourseID, sess.Title, sess.Subject,
		sess.Status, null.NewTime(sess.CreatedAt.UTC(), !sess.CreatedAt.IsZero()), null.NewTime(sess.UpdatedAt.UTC(), !sess.UpdatedAt.IsZero()),
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return quiz.Session{}, quiz.ErrSessionExists
		}
		return quiz.Session{}, errors.Wrap(err, "inserting session")
	}
	return repo.unpackSession(s), nil
}

func (repo quizRepository) UpdateSessionStatus(ctx context.Context, id, status string) (quiz.Session, error) {
	var s dbSession
	err := repo.db.GetContext(ctx, &s,
		`UPDATE quiz_session SET status = $2, updated_at = now() WHERE id = $1 RETURNING *`, id, status)
	if err != nil {
		if err == sql.ErrNoRows {
			return quiz.Session{}, quiz.ErrNotFound
		}
		return quiz.Session{}, errors.Wrap(err, "updating session status")
	}
	return repo.unpackSession(s), nil
}

// CreateParticipant relies on the (session_id, student_id) unique index to
// keep joins idempotent under concurrency.
func (repo quizRepository) CreateParticipant(ctx context.Context, p quiz.Participant) (quiz.Participant, error) {
	var dp dbParticipant
	err := repo.db.GetContext(ctx, &dp,
		`INSERT INTO quiz_session_participant (id, session_id, student_id, status, joined_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (session_id, student_id) DO NOTHING
		 RETURNING *`,
		uuid.New().String(), p.SessionID, p.StudentID, p.Status, null.NewTime(p.JoinedAt.UTC(), !p.JoinedAt.IsZero()),
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return quiz.Participant{}, quiz.ErrAlreadyJoined
		}
		return quiz.Participant{}, errors.Wrap(err, "inserting participant")
	}
	return repo.unpackParticipant(dp), nil
}

func (repo quizRepository) GetParticipant(ctx context.Context, sessionID, studentID string) (quiz.Participant, error) {
	var p dbParticipant
	err := repo.db.GetContext(ctx, &p,
		`SELECT * FROM quiz_session_participant WHERE session_id = $1 AND student_id = $2`, sessionID, studentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return quiz.Participant{}, quiz.ErrNotFound
		}
		return quiz.Participant{}, errors.Wrap(err, "finding participant")
	}
	return repo.unpackParticipant(p), nil
}

func (repo quizRepository) QueryParticipants(ctx context.Context, sessionID string) ([]quiz.Participant, error) {
	var ps []dbParticipant
	err := repo.db.SelectContext(ctx, &ps,
		`SELECT * FROM quiz_session_participant WHERE session_id = $1 ORDER BY joined_at`, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "querying participants")
	}
	participants := make([]quiz.Participant, 0, len(ps))
	for _, p := range ps {
		participants = append(participants, repo.unpackParticipant(p))
	}
	return participants, nil
}

func (repo quizRepository) CountParticipants(ctx context.Context, sessionID string) (int, error) {
	var count int
	err := repo.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM quiz_session_participant WHERE session_id = $1`, sessionID)
	if err != nil {
		return 0, errors.Wrap(err, "counting participants")
	}
	return count, nil
}
