package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/google/uuid"
)

type requestIDKey struct{}

// RequestIDFromContext devolve o id gerado por requestID (ou "").
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// requestID reaproveita um X-Request-ID válido ou gera um novo.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

// cors coloca os headers comuns em todas as respostas e encerra o preflight
// antes de qualquer extração de identidade.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		h.Set("Content-Type", "application/json")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// allowMethods responde 405 para qualquer método fora de GET/POST/OPTIONS,
// independente do path.
func allowMethods(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodPost, http.MethodOptions:
			next.ServeHTTP(w, r)
		default:
			writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: msgMethodNotAllowed})
		}
	})
}

// recoverer transforma panics em 500 genérico. O handler de chat tem o seu
// próprio recover para registrar a telemetria.
func recoverer(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if p := recover(); p != nil {
					if p == http.ErrAbortHandler {
						panic(p)
					}
					logger.Error("panic serving request",
						"panic", p,
						"request_id", RequestIDFromContext(r.Context()),
						"path", r.URL.Path,
						"stack", string(debug.Stack()))
					writeJSON(w, http.StatusInternalServerError, errorBody{Error: msgInternal})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
