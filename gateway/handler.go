// Package gateway é o handler HTTP que fica na frente do serviço de IA:
// extrai a identidade, aplica a admissão multi-tier, valida o payload,
// encaminha ao serviço e contabiliza o desfecho.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"ai-gateway/inference"
	"ai-gateway/middleware/ratelimit"
	"ai-gateway/middleware/ratelimit/domain"

	"github.com/go-chi/chi/v5"
)

// Completer é o colaborador que chama o serviço de IA.
type Completer interface {
	Complete(ctx context.Context, req inference.Request) (json.RawMessage, error)
}

// Usage é a telemetria de uso (ver application.UsageService).
type Usage interface {
	Record(ctx context.Context, ev domain.StatsEvent)
	Snapshot(now time.Time) domain.UsageSnapshot
}

// DefaultMaxBodyBytes limita o corpo do POST. O prompt tem no máximo 500
// caracteres, mas o histórico só tem limite no número de turnos.
const DefaultMaxBodyBytes = 1 << 20

type Options struct {
	ChatPath     string
	StatsPath    string
	MaxBodyBytes int64

	// Admission é o middleware de rate limit (ratelimit.Middleware).
	Admission func(http.Handler) http.Handler
	Usage     Usage
	AI        Completer
	Clock     domain.Clock
	Logger    *slog.Logger

	// Extra permite pendurar rotas adicionais (ex: /healthz) no mesmo router.
	Extra func(r chi.Router)
}

type Handler struct {
	opts   Options
	logger *slog.Logger
}

func New(opts Options) *Handler {
	if opts.ChatPath == "" {
		opts.ChatPath = "/api/chat"
	}
	if opts.StatsPath == "" {
		opts.StatsPath = "/api/stats"
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if opts.Admission == nil {
		opts.Admission = func(next http.Handler) http.Handler { return next }
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{opts: opts, logger: logger}
}

// Routes monta o router completo.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(cors)
	r.Use(allowMethods)
	r.Use(recoverer(h.logger))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: msgNotFound})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: msgMethodNotAllowed})
	})

	r.Get(h.opts.StatsPath, h.stats)
	// o corpo é lido antes da admissão: entre Admit e Undo só há parsing
	r.With(h.bufferBody, h.opts.Admission).Post(h.opts.ChatPath, h.chat)

	if h.opts.Extra != nil {
		h.opts.Extra(r)
	}
	return r
}

func (h *Handler) now() time.Time {
	if h.opts.Clock == nil {
		return time.Now()
	}
	return h.opts.Clock.Now()
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	var snap domain.UsageSnapshot
	if h.opts.Usage != nil {
		snap = h.opts.Usage.Snapshot(h.now())
	}
	writeJSON(w, http.StatusOK, snap)
}

// chat registra exatamente um desfecho por requisição admitida, inclusive em
// caso de panic.
func (h *Handler) chat(w http.ResponseWriter, r *http.Request) {
	adm, ok := ratelimit.AdmissionFromContext(r.Context())
	if !ok {
		adm = ratelimit.Admission{Identity: domain.UnknownIdentity, Undo: func() {}}
	}

	outcome := domain.OutcomeInternalError
	defer func() {
		if p := recover(); p != nil {
			h.logger.Error("panic serving chat",
				"panic", p,
				"request_id", RequestIDFromContext(r.Context()),
				"identity", string(adm.Identity))
			outcome = domain.OutcomeInternalError
			writeError(w, errors.New("panic"))
		}
		if h.opts.Usage != nil {
			h.opts.Usage.Record(r.Context(), domain.StatsEvent{
				Identity: adm.Identity,
				Outcome:  outcome,
				Method:   r.Method,
				Path:     r.URL.Path,
				At:       h.now(),
			})
		}
	}()

	outcome = h.serveChat(w, r, adm)
}

func (h *Handler) serveChat(w http.ResponseWriter, r *http.Request, adm ratelimit.Admission) domain.Outcome {
	log := h.logger.With(
		"request_id", RequestIDFromContext(r.Context()),
		"identity", string(adm.Identity))

	cb, ok := r.Context().Value(bodyKey{}).(chatBody)
	if !ok {
		cb = h.readBody(w, r)
	}
	if cb.err != nil {
		adm.Undo()
		log.Debug("failed reading body", "error", cb.err)
		writeError(w, bodyReadError(cb.err))
		return domain.OutcomeRejectedInvalid
	}

	req, err := parseChatRequest(cb.data)
	if err != nil {
		// payload inválido não consome cota
		adm.Undo()
		log.Debug("rejected invalid payload", "error", err)
		writeError(w, err)
		return domain.OutcomeRejectedInvalid
	}

	if h.opts.AI == nil {
		log.Error("no inference client wired")
		writeError(w, inference.ErrNotConfigured)
		return domain.OutcomeNotConfigured
	}

	raw, err := h.opts.AI.Complete(r.Context(), req)
	switch {
	case err == nil:
		writeRawJSON(w, http.StatusOK, raw)
		return domain.OutcomeSucceeded
	case errors.Is(err, inference.ErrNotConfigured):
		log.Error("inference not configured", "error", err)
		writeError(w, err)
		return domain.OutcomeNotConfigured
	case inference.IsUpstreamError(err):
		log.Warn("inference upstream failed", "error", err)
		writeError(w, err)
		return domain.OutcomeUpstreamFailed
	default:
		log.Error("inference call failed", "error", err)
		writeError(w, err)
		return domain.OutcomeInternalError
	}
}

type bodyKey struct{}

type chatBody struct {
	data []byte
	err  error
}

// bufferBody lê o corpo inteiro antes do rate limit, para que um cliente
// lento não segure cota enquanto envia um payload que será rejeitado.
func (h *Handler) bufferBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cb := h.readBody(w, r)
		ctx := context.WithValue(r.Context(), bodyKey{}, cb)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) chatBody {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.opts.MaxBodyBytes))
	return chatBody{data: data, err: err}
}

// bodyReadError separa corpo grande demais (413) de corpo ilegível (400).
func bodyReadError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return &ClientError{Status: http.StatusRequestEntityTooLarge, Message: msgBodyTooLarge}
	}
	return badRequest(msgInvalidPrompt)
}
