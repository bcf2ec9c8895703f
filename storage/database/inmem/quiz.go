package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/fads122/kodigrow-remake/core"
	"github.com/fads122/kodigrow-remake/core/quiz"
)

type quizRepository struct {
	db *DB
}

var _ quiz.Repository = (*quizRepository)(nil) // interface compliance check

func NewQuizRepository(db *DB) *quizRepository {
	return &quizRepository{db: db}
}

func sessionRow(s quiz.Session) map[string]interface{} {
	return map[string]interface{}{
		"id":        s.ID,
		"quiz_code": s.QuizCode,
		"status":    s.Status,
	}
}

func participantRow(p quiz.Participant) map[string]interface{} {
	return map[string]interface{}{
		"id":         p.ID,
		"session_id": p.SessionID,
		"student_id": p.StudentID,
		"status":     p.Status,
	}
}

func (repo *quizRepository) CreateQuestion(ctx context.Context, q quiz.Question) (quiz.Question, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	q.ID = uuid.New().String()
	repo.db.questions[q.ID] = &q
	return q, nil
}

func (repo *quizRepository) QueryQuestionsByProfessor(ctx context.Context, professorID string) ([]quiz.Question, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	res := make([]quiz.Question, 0)
	for _, q := range repo.db.questions {
		if q.ProfessorID == professorID {
			res = append(res, *q)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	return res, nil
}

func (repo *quizRepository) QueryQuestionsByCode(ctx context.Context, code string) ([]quiz.Question, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	res := make([]quiz.Question, 0)
	for _, q := range repo.db.questions {
		if q.QuizCode == code {
			res = append(res, *q)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	return res, nil
}

func (repo *quizRepository) GetQuestionByCode(ctx context.Context, code string) (quiz.Question, error) {
	qs, _ := repo.QueryQuestionsByCode(ctx, code)
	if len(qs) == 0 {
		return quiz.Question{}, quiz.ErrQuestionNotFound
	}
	return qs[0], nil
}

func (repo *quizRepository) GetSessionByID(ctx context.Context, id string) (quiz.Session, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	if s, ok := repo.db.sessions[id]; ok {
		return *s, nil
	}
	return quiz.Session{}, quiz.ErrNotFound
}

func (repo *quizRepository) GetSessionByCode(ctx context.Context, code string) (quiz.Session, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	for _, s := range repo.db.sessions {
		if s.QuizCode == code {
			return *s, nil
		}
	}
	return quiz.Session{}, quiz.ErrNotFound
}

// CreateSession holds the write lock across the uniqueness check and the
// insert, mirroring the quiz_code unique index.
func (repo *quizRepository) CreateSession(ctx context.Context, sess quiz.Session) (quiz.Session, error) {
	repo.db.mu.Lock()

	for _, s := range repo.db.sessions {
		if s.QuizCode == sess.QuizCode {
			repo.db.mu.Unlock()
			return quiz.Session{}, quiz.ErrSessionExists
		}
	}
	sess.ID = uuid.New().String()
	repo.db.sessions[sess.ID] = &sess
	repo.db.mu.Unlock()

	repo.db.publish(quiz.TableSessions, core.ChangeInsert, sessionRow(sess))
	return sess, nil
}

func (repo *quizRepository) UpdateSessionStatus(ctx context.Context, id, status string) (quiz.Session, error) {
	repo.db.mu.Lock()

	s, ok := repo.db.sessions[id]
	if !ok {
		repo.db.mu.Unlock()
		return quiz.Session{}, quiz.ErrNotFound
	}
	s.Status = status
	s.UpdatedAt = time.Now().UTC()
	updated := *s
	repo.db.mu.Unlock()

	repo.db.publish(quiz.TableSessions, core.ChangeUpdate, sessionRow(updated))
	return updated, nil
}

// CreateParticipant holds the write lock across the duplicate check and the
// insert, mirroring the (session_id, student_id) unique index.
func (repo *quizRepository) CreateParticipant(ctx context.Context, p quiz.Participant) (quiz.Participant, error) {
	repo.db.mu.Lock()

	for _, existing := range repo.db.participants {
		if existing.SessionID == p.SessionID && existing.StudentID == p.StudentID {
			repo.db.mu.Unlock()
			return quiz.Participant{}, quiz.ErrAlreadyJoined
		}
	}
	p.ID = uuid.New().String()
	repo.db.participants[p.ID] = &p
	repo.db.mu.Unlock()

	repo.db.publish(quiz.TableParticipants, core.ChangeInsert, participantRow(p))
	return p, nil
}

func (repo *quizRepository) GetParticipant(ctx context.Context, sessionID, studentID string) (quiz.Participant, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	for _, p := range repo.db.participants {
		if p.SessionID == sessionID && p.StudentID == studentID {
			return *p, nil
		}
	}
	return quiz.Participant{}, quiz.ErrNotFound
}

func (repo *quizRepository) QueryParticipants(ctx context.Context, sessionID string) ([]quiz.Participant, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	res := make([]quiz.Participant, 0)
	for _, p := range repo.db.participants {
		if p.SessionID == sessionID {
			res = append(res, *p)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].JoinedAt.Before(res[j].JoinedAt) })
	return res, nil
}

func (repo *quizRepository) CountParticipants(ctx context.Context, sessionID string) (int, error) {
	ps, err := repo.QueryParticipants(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	return len(ps), nil
}
