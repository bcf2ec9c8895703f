package quiz

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/pkg/errors"

	"github.com/fads122/kodigrow-remake/core"
	"github.com/fads122/kodigrow-remake/core/user"
)

var (
	// errors
	ErrNotFound          = errors.New("quiz session not found")
	ErrQuestionNotFound  = errors.New("question not found")
	ErrInvalidCode       = errors.New("invalid quiz code")
	ErrSessionExists     = errors.New("a session already exists for this quiz code")
	ErrAlreadyJoined     = errors.New("student already joined this session")
	ErrJoinFailed        = errors.New("failed to join quiz session")
	ErrNotOwner          = errors.New("only the owning professor may control this session")
	ErrInvalidTransition = errors.New("invalid session status transition")
	ErrSubscription      = errors.New("realtime subscription failed")
)

type (
	Repository interface {
		CreateQuestion(ctx context.Context, q Question) (Question, error)
		QueryQuestionsByProfessor(ctx context.Context, professorID string) ([]Question, error)
		QueryQuestionsByCode(ctx context.Context, code string) ([]Question, error)
		// GetQuestionByCode returns any one question authored under code, or ErrQuestionNotFound.
		GetQuestionByCode(ctx context.Context, code string) (Question, error)

		GetSessionByID(ctx context.Context, id string) (Session, error)
		GetSessionByCode(ctx context.Context, code string) (Session, error)
		// CreateSession inserts a session; a quiz_code uniqueness conflict is
		// reported as ErrSessionExists so callers can re-read the winner's row.
		CreateSession(ctx context.Context, sess Session) (Session, error)
		UpdateSessionStatus(ctx context.Context, id, status string) (Session, error)

		// CreateParticipant inserts a membership row; a (session, student)
		// uniqueness conflict is reported as ErrAlreadyJoined.
		CreateParticipant(ctx context.Context, p Participant) (Participant, error)
		GetParticipant(ctx context.Context, sessionID, studentID string) (Participant, error)
		QueryParticipants(ctx context.Context, sessionID string) ([]Participant, error)
		CountParticipants(ctx context.Context, sessionID string) (int, error)
	}

	Service interface {
		CreateQuestion(ctx context.Context, professor user.User, nq NewQuestion) (Question, error)
		QueryQuestionsByProfessor(ctx context.Context, professorID string) ([]Question, error)
		QueryQuestionsByCode(ctx context.Context, code string) ([]Question, error)

		// Resolve finds the live session for a quiz code, creating it lazily
		// from the code's questions on first entry. Exactly one session is
		// ever created per code, under any number of concurrent callers.
		Resolve(ctx context.Context, code string) (Session, error)

		// Join adds usr to the session's participant list, idempotently.
		Join(ctx context.Context, sessionID string, usr user.User) (Participant, error)

		GetSession(ctx context.Context, id string) (Session, error)
		Roster(ctx context.Context, sessionID string) ([]Participant, error)

		// Start flips a waiting session to active; lobby watchers observe the
		// change and hand their students off to the exam.
		Start(ctx context.Context, sessionID string, usr user.User) (Session, error)
		// End flips an active session to ended and mails the professor a report.
		End(ctx context.Context, sessionID string, usr user.User) (Session, error)
	}

	service struct {
		repo    Repository
		usrSvc  user.Service
		mailSvc core.EmailService
		conf    *core.Config
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository, usrSvc user.Service, mailSvc core.EmailService, conf *core.Config) Service {
	return &service{
		repo:    repo,
		usrSvc:  usrSvc,
		mailSvc: mailSvc,
		conf:    conf,
	}
}

func (svc *service) CreateQuestion(ctx context.Context, professor user.User, nq NewQuestion) (Question, error) {
	now := time.Now().UTC()
	q := Question{
		QuizCode:    CleanCode(nq.QuizCode),
		ProfessorID: professor.ID,
		CourseID:    nq.CourseID,
		Title:       nq.Title,
		Question:    nq.Question,
		Choices:     nq.Choices,
		AnswerIndex: nq.AnswerIndex,
		CreatedAt:   now,
	}
	if nq.Subject != "" {
		q.Subject.SetValid(nq.Subject)
	}
	return svc.repo.CreateQuestion(ctx, q)
}

func (svc *service) QueryQuestionsByProfessor(ctx context.Context, professorID string) ([]Question, error) {
	return svc.repo.QueryQuestionsByProfessor(ctx, professorID)
}

func (svc *service) QueryQuestionsByCode(ctx context.Context, code string) ([]Question, error) {
	return svc.repo.QueryQuestionsByCode(ctx, CleanCode(code))
}

func (svc *service) GetSession(ctx context.Context, id string) (Session, error) {
	return svc.repo.GetSessionByID(ctx, id)
}

func (svc *service) Roster(ctx context.Context, sessionID string) ([]Participant, error) {
	return svc.repo.QueryParticipants(ctx, sessionID)
}

func (svc *service) Resolve(ctx context.Context, code string) (Session, error) {
	code = CleanCode(code)

	sess, err := svc.repo.GetSessionByCode(ctx, code)
	if err == nil {
		// re-entering an ended session is treated as an unknown code
		if sess.Status == StatusEnded {
			return Session{}, ErrInvalidCode
		}
		return sess, nil
	}
	if errors.Cause(err) != ErrNotFound {
		return Session{}, errors.Wrap(err, "finding session by code")
	}

	// no session yet: recover the session-defining fields from any question
	// authored under the code
	q, err := svc.repo.GetQuestionByCode(ctx, code)
	if err != nil {
		if errors.Cause(err) == ErrQuestionNotFound {
			return Session{}, ErrInvalidCode
		}
		return Session{}, errors.Wrap(err, "finding question by code")
	}

	now := time.Now().UTC()
	sess, err = svc.repo.CreateSession(ctx, Session{
		QuizCode:    code,
		ProfessorID: q.ProfessorID,
		CourseID:    q.CourseID,
		Title:       q.Title,
		Subject:     q.Subject,
		Status:      StatusWaiting,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		// lost the creation race: a concurrent first-joiner inserted the
		// session; their row is the session, re-read it
		if errors.Cause(err) == ErrSessionExists {
			sess, err = svc.repo.GetSessionByCode(ctx, code)
			if err != nil {
				return Session{}, errors.Wrap(err, "re-reading session after create conflict")
			}
			if sess.Status == StatusEnded {
				return Session{}, ErrInvalidCode
			}
			return sess, nil
		}
		return Session{}, errors.Wrap(err, "creating session")
	}
	return sess, nil
}

func (svc *service) Join(ctx context.Context, sessionID string, usr user.User) (Participant, error) {
	if p, err := svc.repo.GetParticipant(ctx, sessionID, usr.ID); err == nil {
		return p, nil // already joined; no-op
	} else if errors.Cause(err) != ErrNotFound {
		return Participant{}, errors.WithMessage(ErrJoinFailed, err.Error())
	}

	p, err := svc.repo.CreateParticipant(ctx, Participant{
		SessionID: sessionID,
		StudentID: usr.ID,
		Status:    StatusWaiting,
		JoinedAt:  time.Now().UTC(),
	})
	if err != nil {
		// a concurrent duplicate join is a no-op, not a failure
		if errors.Cause(err) == ErrAlreadyJoined {
			return svc.repo.GetParticipant(ctx, sessionID, usr.ID)
		}
		return Participant{}, errors.WithMessage(ErrJoinFailed, err.Error())
	}
	return p, nil
}

func (svc *service) Start(ctx context.Context, sessionID string, usr user.User) (Session, error) {
	sess, err := svc.repo.GetSessionByID(ctx, sessionID)
	if err != nil {
		return Session{}, err
	}
	if sess.ProfessorID != usr.ID && !usr.IsAdmin() {
		return Session{}, ErrNotOwner
	}
	if sess.Status != StatusWaiting {
		return Session{}, ErrInvalidTransition
	}
	return svc.repo.UpdateSessionStatus(ctx, sessionID, StatusActive)
}

func (svc *service) End(ctx context.Context, sessionID string, usr user.User) (Session, error) {
	sess, err := svc.repo.GetSessionByID(ctx, sessionID)
	if err != nil {
		return Session{}, err
	}
	if sess.ProfessorID != usr.ID && !usr.IsAdmin() {
		return Session{}, ErrNotOwner
	}
	if sess.Status != StatusActive {
		return Session{}, ErrInvalidTransition
	}
	sess, err = svc.repo.UpdateSessionStatus(ctx, sessionID, StatusEnded)
	if err != nil {
		return Session{}, err
	}
	go svc.sendSessionReportMail(sess)
	return sess, nil
}

func (svc *service) sendSessionReportMail(sess Session) {
	ctx := context.Background()
	prof, err := svc.usrSvc.GetByID(ctx, sess.ProfessorID)
	if err != nil || prof.Email == "" {
		return
	}
	count, err := svc.repo.CountParticipants(ctx, sess.ID)
	if err != nil {
		return
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: prof.Name, Address: prof.Email}},
		Subject:      fmt.Sprintf("Quiz session %q ended", sess.Title),
		TemplateName: "session-report",
		TemplateData: struct {
			Title            string
			QuizCode         string
			ParticipantCount int
		}{Title: sess.Title, QuizCode: sess.QuizCode, ParticipantCount: count},
	})
}
