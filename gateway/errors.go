package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"ai-gateway/inference"
)

// Mensagens devolvidas ao cliente. Detalhes internos nunca entram no corpo.
const (
	msgInvalidPrompt       = "Invalid or missing prompt"
	msgPromptTooLong       = "Prompt too long (max 500 characters)"
	msgInvalidConversation = "Invalid conversation history"
	msgBodyTooLarge        = "Request body too large"
	msgMethodNotAllowed    = "Method not allowed"
	msgNotFound            = "Not found"
	msgNotConfigured       = "AI service not configured"
	msgUpstream            = "AI service error"
	msgInternal            = "Internal server error"
)

// ClientError é um erro de entrada corrigível pelo cliente (4xx). Nunca é
// repetido automaticamente.
type ClientError struct {
	Status  int
	Message string
}

func (e *ClientError) Error() string { return e.Message }

func badRequest(msg string) *ClientError {
	return &ClientError{Status: http.StatusBadRequest, Message: msg}
}

type errorBody struct {
	Error string `json:"error"`
}

// statusFor traduz a taxonomia de erros para status + mensagem pública.
func statusFor(err error) (int, string) {
	var ce *ClientError
	switch {
	case errors.As(err, &ce):
		return ce.Status, ce.Message
	case errors.Is(err, inference.ErrNotConfigured):
		return http.StatusInternalServerError, msgNotConfigured
	case inference.IsUpstreamError(err):
		return http.StatusBadGateway, msgUpstream
	default:
		return http.StatusInternalServerError, msgInternal
	}
}

func writeError(w http.ResponseWriter, err error) {
	status, msg := statusFor(err)
	writeJSON(w, status, errorBody{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeRawJSON(w http.ResponseWriter, status int, raw []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(raw)
}
