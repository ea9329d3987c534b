// Package inference é o cliente do serviço de IA (endpoint conversacional no
// formato da Inference API da Hugging Face) que fica atrás do gateway.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "https://api-inference.huggingface.co/models"
	DefaultModel   = "facebook/blenderbot-400M-distill"

	maxResponseBytes = 1 << 20
)

// Conversation é o histórico opcional enviado junto com o prompt.
type Conversation struct {
	PastUserInputs     []string `json:"past_user_inputs"`
	GeneratedResponses []string `json:"generated_responses"`
}

// Request é o que o gateway encaminha depois da validação.
type Request struct {
	Prompt       string
	Conversation *Conversation
}

// Gate controla o acesso ao serviço (pacing + concorrência). Satisfeito por
// application.ConcurrencyService.
type Gate interface {
	Acquire(ctx context.Context) (release func(), ok bool)
}

type Client struct {
	httpClient *http.Client
	baseURL    string
	model      string
	token      string
	timeout    time.Duration
	gate       Gate
	logger     *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithModel(m string) Option {
	return func(c *Client) { c.model = strings.Trim(m, "/") }
}

func WithToken(token string) Option {
	return func(c *Client) { c.token = strings.TrimSpace(token) }
}

// WithTimeout limita a etapa inteira de encaminhamento (gate + chamada).
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

func WithGate(g Gate) Option {
	return func(c *Client) { c.gate = g }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func New(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{},
		baseURL:    DefaultBaseURL,
		model:      DefaultModel,
		timeout:    30 * time.Second,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured diz se há credencial para chamar o serviço.
func (c *Client) Configured() bool { return c.token != "" }

type hfInputs struct {
	Text               string   `json:"text"`
	PastUserInputs     []string `json:"past_user_inputs"`
	GeneratedResponses []string `json:"generated_responses"`
}

type hfRequest struct {
	Inputs hfInputs `json:"inputs"`
}

// Complete encaminha o prompt ao serviço de IA e devolve o JSON da resposta
// sem modificações.
func (c *Client) Complete(ctx context.Context, req Request) (json.RawMessage, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	if c.gate != nil {
		release, ok := c.gate.Acquire(ctx)
		if !ok {
			return nil, &UpstreamError{Err: ErrNoCapacity}
		}
		defer release()
	}

	payload := hfRequest{Inputs: hfInputs{
		Text:               req.Prompt,
		PastUserInputs:     []string{},
		GeneratedResponses: []string{},
	}}
	if req.Conversation != nil {
		if req.Conversation.PastUserInputs != nil {
			payload.Inputs.PastUserInputs = req.Conversation.PastUserInputs
		}
		if req.Conversation.GeneratedResponses != nil {
			payload.Inputs.GeneratedResponses = req.Conversation.GeneratedResponses
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal inference request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+c.model, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build inference request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.token)
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &UpstreamError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &UpstreamError{Status: resp.StatusCode, Err: err}
	}

	c.logger.Debug("inference call finished",
		"status", resp.StatusCode,
		"duration", time.Since(start),
		"bytes", len(raw))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &UpstreamError{Status: resp.StatusCode, Message: upstreamMessage(raw)}
	}
	if !json.Valid(raw) {
		return nil, &UpstreamError{Status: resp.StatusCode, Message: "invalid json payload"}
	}
	if msg, ok := errorField(raw); ok {
		return nil, &UpstreamError{Status: resp.StatusCode, Message: msg}
	}

	return json.RawMessage(raw), nil
}

// errorField detecta o formato {"error": "..."} que a Inference API usa para
// falhas (ex: modelo carregando).
func errorField(raw []byte) (string, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", false
	}
	v, ok := obj["error"]
	if !ok || string(v) == "null" {
		return "", false
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s, true
	}
	return string(v), true
}

func upstreamMessage(raw []byte) string {
	if msg, ok := errorField(raw); ok {
		return msg
	}
	s := strings.TrimSpace(string(raw))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
