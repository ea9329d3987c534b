// mock-inference sobe um endpoint local no formato da Inference API para
// testar o gateway ponta a ponta sem token real:
//
//	HF_API_URL=http://localhost:8081/models HF_API_TOKEN=dev go run ./cmd/gateway
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
)

type inputs struct {
	Text               string   `json:"text"`
	PastUserInputs     []string `json:"past_user_inputs"`
	GeneratedResponses []string `json:"generated_responses"`
}

type reply struct {
	GeneratedText string `json:"generated_text"`
	Conversation  struct {
		PastUserInputs     []string `json:"past_user_inputs"`
		GeneratedResponses []string `json:"generated_responses"`
	} `json:"conversation"`
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}
	// MOCK_LATENCY simula modelo lento; MOCK_STATUS força um status de erro.
	latency, _ := time.ParseDuration(os.Getenv("MOCK_LATENCY"))
	failStatus, _ := strconv.Atoi(os.Getenv("MOCK_STATUS"))

	r := chi.NewRouter()
	r.Post("/models/*", func(w http.ResponseWriter, r *http.Request) {
		model := chi.URLParam(r, "*")
		w.Header().Set("Content-Type", "application/json")

		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"Authorization header is required"}`))
			return
		}
		if failStatus >= 400 {
			w.WriteHeader(failStatus)
			_, _ = w.Write([]byte(`{"error":"Model ` + model + ` is currently loading","estimated_time":20}`))
			return
		}

		var body struct {
			Inputs inputs `json:"inputs"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid JSON"}`))
			return
		}

		select {
		case <-time.After(latency):
		case <-r.Context().Done():
			return
		}

		var out reply
		out.GeneratedText = "echo: " + body.Inputs.Text
		out.Conversation.PastUserInputs = append(body.Inputs.PastUserInputs, body.Inputs.Text)
		out.Conversation.GeneratedResponses = append(body.Inputs.GeneratedResponses, out.GeneratedText)
		_ = json.NewEncoder(w).Encode(out)

		logger.Info("mock completion", "model", model, "prompt_len", len(body.Inputs.Text))
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("mock inference listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
