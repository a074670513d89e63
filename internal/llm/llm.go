// Package llm answers student questions and titles conversations.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"campusdesk/internal/config"
)

// FallbackAnswer is returned when no answer can be produced. It points
// the student at the escalation keyword.
const FallbackAnswer = "Disculpa, no tengo información disponible para responder tu pregunta. ¿Te gustaría que escale tu consulta con un agente humano? Escribe 'Agente' para continuar."

// ErrorAnswer is shown when the answer backend fails.
const ErrorAnswer = "Ha ocurrido un error al procesar tu pregunta. Por favor, intenta nuevamente o escribe 'Agente' para hablar con un humano."

const maxTitleLen = 100

var ErrEmptyResponse = errors.New("empty llm response")

// Turn is one prior chat message given as context.
type Turn struct {
	Role    string
	Content string
}

type Answerer interface {
	Answer(ctx context.Context, question string, history []Turn) (string, error)
}

type Titler interface {
	Title(ctx context.Context, transcript []Turn) (string, error)
}

type Client interface {
	Answerer
	Titler
}

// New returns the client selected by cfg.LLM.Driver.
func New(cfg config.Config, logger *zap.Logger) (Client, error) {
	switch cfg.LLM.Driver {
	case "", "static":
		return Static{}, nil
	case "openai":
		return NewOpenAI(OpenAIConfig{
			APIKey:      cfg.LLM.APIKey,
			BaseURL:     cfg.LLM.BaseURL,
			Model:       cfg.LLM.Model,
			MaxTokens:   cfg.LLM.MaxTokens,
			Temperature: cfg.LLM.Temperature,
			Timeout:     config.Duration(cfg.LLM.Timeout, 30*time.Second),
		}, logger), nil
	default:
		return nil, fmt.Errorf("unknown llm driver %q", cfg.LLM.Driver)
	}
}

// Static never calls out. Answers are the fallback text and titles come
// from the first user message.
type Static struct{}

func (Static) Answer(context.Context, string, []Turn) (string, error) {
	return FallbackAnswer, nil
}

func (Static) Title(_ context.Context, transcript []Turn) (string, error) {
	for _, t := range transcript {
		if t.Role == openai.ChatMessageRoleUser && strings.TrimSpace(t.Content) != "" {
			return CleanTitle(firstWords(t.Content, 7)), nil
		}
	}
	return "", ErrEmptyResponse
}

type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

type OpenAI struct {
	client *openai.Client
	cfg    OpenAIConfig
	logger *zap.Logger
}

func NewOpenAI(cfg OpenAIConfig, logger *zap.Logger) *OpenAI {
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 500
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return &OpenAI{
		client: openai.NewClientWithConfig(clientConfig),
		cfg:    cfg,
		logger: logger,
	}
}

const answerPrompt = `Eres "UniBot", un asistente académico universitario.
Responde siempre en español, de forma breve y precisa.
Si no conoces la respuesta con certeza, responde exactamente:
"` + FallbackAnswer + `"`

const titlePrompt = "Eres un asistente que genera títulos concisos y descriptivos para conversaciones. Genera un título de 3-7 palabras que capture el tema principal de la conversación. Responde SOLO con el título, sin puntos ni comillas."

func (o *OpenAI) Answer(ctx context.Context, question string, history []Turn) (string, error) {
	msgs := []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleSystem, Content: answerPrompt}}
	for _, t := range history {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: t.Role, Content: t.Content})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: question})

	out, err := o.complete(ctx, msgs, o.cfg.MaxTokens, float32(o.cfg.Temperature))
	if err != nil {
		o.logger.Error("llm answer failed", zap.Error(err))
		return "", err
	}
	return out, nil
}

func (o *OpenAI) Title(ctx context.Context, transcript []Turn) (string, error) {
	lines := make([]string, 0, len(transcript))
	for i, t := range transcript {
		if i == 6 {
			break
		}
		lines = append(lines, t.Role+": "+t.Content)
	}
	out, err := o.complete(ctx, []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: titlePrompt},
		{Role: openai.ChatMessageRoleUser, Content: "Genera un título para esta conversación:\n\n" + strings.Join(lines, "\n")},
	}, 50, 0.7)
	if err != nil {
		o.logger.Warn("llm title failed", zap.Error(err))
		return "", err
	}
	return CleanTitle(out), nil
}

func (o *OpenAI) complete(ctx context.Context, msgs []openai.ChatCompletionMessage, maxTokens int, temperature float32) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.cfg.Model,
		Messages:    msgs,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", ErrEmptyResponse
	}
	return content, nil
}

// CleanTitle strips quotes and trailing dots and caps the length.
func CleanTitle(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"'`)
	s = strings.TrimRight(s, ".")
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) > maxTitleLen {
		s = string(r[:maxTitleLen])
	}
	return s
}

func firstWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) > n {
		words = words[:n]
	}
	return strings.Join(words, " ")
}
