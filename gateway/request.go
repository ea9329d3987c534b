package gateway

import (
	"bytes"
	"encoding/json"
	"unicode/utf16"

	"ai-gateway/inference"
)

const (
	// MaxPromptLength conta unidades UTF-16, como o front-end conta caracteres.
	MaxPromptLength = 500
	// MaxHistoryTurns limita cada lista do histórico de conversa.
	MaxHistoryTurns = 10
)

type chatPayload struct {
	Prompt       json.RawMessage `json:"prompt"`
	Conversation json.RawMessage `json:"conversation"`
}

type conversationPayload struct {
	PastUserInputs     json.RawMessage `json:"past_user_inputs"`
	GeneratedResponses json.RawMessage `json:"generated_responses"`
}

// parseChatRequest valida o corpo do POST e monta o pedido ao serviço de IA.
// Corpo que não é um objeto JSON conta como prompt ausente.
func parseChatRequest(body []byte) (inference.Request, error) {
	var p chatPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return inference.Request{}, badRequest(msgInvalidPrompt)
	}

	prompt, ok := parseString(p.Prompt)
	if !ok || prompt == "" {
		return inference.Request{}, badRequest(msgInvalidPrompt)
	}
	if len(utf16.Encode([]rune(prompt))) > MaxPromptLength {
		return inference.Request{}, badRequest(msgPromptTooLong)
	}

	req := inference.Request{Prompt: prompt}
	if isAbsent(p.Conversation) {
		return req, nil
	}

	var c conversationPayload
	if err := json.Unmarshal(p.Conversation, &c); err != nil {
		return inference.Request{}, badRequest(msgInvalidConversation)
	}
	past, ok := parseStringArray(c.PastUserInputs)
	if !ok || len(past) > MaxHistoryTurns {
		return inference.Request{}, badRequest(msgInvalidConversation)
	}
	generated, ok := parseStringArray(c.GeneratedResponses)
	if !ok || len(generated) > MaxHistoryTurns {
		return inference.Request{}, badRequest(msgInvalidConversation)
	}

	req.Conversation = &inference.Conversation{
		PastUserInputs:     past,
		GeneratedResponses: generated,
	}
	return req, nil
}

func isAbsent(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

func parseString(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func parseStringArray(raw json.RawMessage) ([]string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '[' {
		return nil, false
	}
	out := []string{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, false
	}
	return out, true
}
