package quiz

import (
	"context"

	"github.com/fads122/kodigrow-remake/core"
	"github.com/fads122/kodigrow-remake/core/user"
)

type serviceMock struct {
	service
}

// NewServiceMock returns a Service whose session report mail is sent synchronously.
func NewServiceMock(repo Repository, usrSvc user.Service, mailSvc core.EmailService, conf *core.Config) Service {
	return &serviceMock{
		service: service{
			repo:    repo,
			usrSvc:  usrSvc,
			mailSvc: mailSvc,
			conf:    conf,
		},
	}
}

func (svc *serviceMock) End(ctx context.Context, sessionID string, usr user.User) (Session, error) {
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
	// run synchronously
	svc.sendSessionReportMail(sess)
	return sess, nil
}
