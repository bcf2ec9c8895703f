package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/fads122/kodigrow-remake/core/quiz"
	"github.com/fads122/kodigrow-remake/core/user"
)

func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, uname, email, pwd string,
	roles []string,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	t.Helper()

	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		Name:      name,
		Username:  uname,
		Email:     email,
		IsActive:  &isActive,
		Roles:     roles,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("CreateUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	return usr
}

func CreateQuestion(
	t *testing.T,
	repo quiz.Repository,
	code string,
	professor user.User,
	courseID, title, question string,
	choices []string,
	answerIdx int,
) quiz.Question {
	t.Helper()

	q := quiz.Question{
		QuizCode:    quiz.CleanCode(code),
		ProfessorID: professor.ID,
		CourseID:    courseID,
		Title:       title,
		Question:    question,
		Choices:     choices,
		AnswerIndex: answerIdx,
		CreatedAt:   time.Now().UTC(),
	}
	q, err := repo.CreateQuestion(context.Background(), q)
	if err != nil {
		t.Fatalf("CreateQuestion() failed: %v", err)
	}
	return q
}

func CreateSession(
	t *testing.T,
	repo quiz.Repository,
	code string,
	professor user.User,
	courseID, title, status string,
) quiz.Session {
	t.Helper()

	now := time.Now().UTC()
	sess, err := repo.CreateSession(context.Background(), quiz.Session{
		QuizCode:    quiz.CleanCode(code),
		ProfessorID: professor.ID,
		CourseID:    courseID,
		Title:       title,
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		t.Fatalf("CreateSession() failed: %v", err)
	}
	return sess
}

func CreateParticipant(
	t *testing.T,
	repo quiz.Repository,
	sess quiz.Session,
	student user.User,
) quiz.Participant {
	t.Helper()

	p, err := repo.CreateParticipant(context.Background(), quiz.Participant{
		SessionID: sess.ID,
		StudentID: student.ID,
		Status:    quiz.StatusWaiting,
		JoinedAt:  time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("CreateParticipant() failed: %v", err)
	}
	return p
}
