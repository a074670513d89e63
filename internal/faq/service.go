// Package faq serves the canned questions students can pick in chat.
package faq

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"campusdesk/internal/apperr"
	"campusdesk/internal/model"
)

const (
	maxQuestion = 500
	maxAnswer   = 5000

	// FallbackGreeting is used when no FAQ is configured.
	FallbackGreeting = "¡Hola! Soy tu asistente académico 🤖. ¿En qué puedo ayudarte?"
)

type Store interface {
	CreateFAQ(ctx context.Context, question, answer, createdBy string) (model.FAQ, error)
	GetFAQ(ctx context.Context, id int64) (model.FAQ, error)
	ListFAQs(ctx context.Context) ([]model.FAQ, error)
	UpdateFAQ(ctx context.Context, id int64, question, answer string) (model.FAQ, error)
	DeleteFAQ(ctx context.Context, id int64) error
}

type Service struct {
	store Store
}

func New(store Store) *Service {
	return &Service{store: store}
}

// Questions lists the FAQs without their answers.
func (s *Service) Questions(ctx context.Context) ([]model.FAQ, error) {
	all, err := s.store.ListFAQs(ctx)
	if err != nil {
		return nil, err
	}
	for i := range all {
		all[i].Answer = ""
	}
	return all, nil
}

func (s *Service) Get(ctx context.Context, id int64) (model.FAQ, error) {
	f, err := s.store.GetFAQ(ctx, id)
	return f, notFound(err)
}

func (s *Service) Create(ctx context.Context, question, answer, createdBy string) (model.FAQ, error) {
	question, answer, err := clean(question, answer)
	if err != nil {
		return model.FAQ{}, err
	}
	return s.store.CreateFAQ(ctx, question, answer, createdBy)
}

func (s *Service) Update(ctx context.Context, id int64, question, answer string) (model.FAQ, error) {
	question, answer, err := clean(question, answer)
	if err != nil {
		return model.FAQ{}, err
	}
	f, err := s.store.UpdateFAQ(ctx, id, question, answer)
	return f, notFound(err)
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	return notFound(s.store.DeleteFAQ(ctx, id))
}

// Greeting is the bot's opening message: the numbered FAQ questions and a
// hint that support is one message away.
func (s *Service) Greeting(ctx context.Context) (string, error) {
	qs, err := s.Questions(ctx)
	if err != nil {
		return "", err
	}
	if len(qs) == 0 {
		return FallbackGreeting, nil
	}
	var b strings.Builder
	b.WriteString("¡Hola! Soy tu asistente académico 🤖. Estas son algunas preguntas frecuentes que puedo responder:\n\n")
	for i, q := range qs {
		fmt.Fprintf(&b, "%d. %s\n", i+1, q.Question)
	}
	b.WriteString("\nTambién puedes hacerme cualquier pregunta sobre la universidad o escribir 'Agente' para hablar con un agente de soporte.")
	return b.String(), nil
}

func clean(question, answer string) (string, string, error) {
	question = strings.TrimSpace(question)
	answer = strings.TrimSpace(answer)
	if question == "" || utf8.RuneCountInString(question) > maxQuestion {
		return "", "", fmt.Errorf("%w: question must be 1-%d chars", apperr.ErrValidation, maxQuestion)
	}
	if answer == "" || utf8.RuneCountInString(answer) > maxAnswer {
		return "", "", fmt.Errorf("%w: answer must be 1-%d chars", apperr.ErrValidation, maxAnswer)
	}
	return question, answer, nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: faq not found", apperr.ErrNotFound)
	}
	return err
}
