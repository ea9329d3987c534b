package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"ai-gateway/middleware/ratelimit/application"
	"ai-gateway/middleware/ratelimit/domain"
)

// Recorder recebe o desfecho terminal das requisições barradas aqui.
type Recorder interface {
	Record(ctx context.Context, ev domain.StatsEvent)
}

type Options struct {
	Service             application.Service
	Stats               Recorder
	KeyFn               KeyFunc
	KeyHeader           string
	TrustXForwardedFor  bool
	UseRemoteAddr       bool
	AddRateLimitHeaders bool
}

// Admission é o que o middleware deixa no contexto para o próximo handler.
type Admission struct {
	Identity domain.Identity
	Decision domain.Decision
	// Undo devolve a cota desta admissão. Só deve ser usado quando o payload
	// for rejeitado na validação.
	Undo func()
}

type admissionKey struct{}

// AdmissionFromContext devolve a admissão registrada pelo Middleware.
func AdmissionFromContext(ctx context.Context) (Admission, bool) {
	a, ok := ctx.Value(admissionKey{}).(Admission)
	return a, ok
}

// DeniedMessage é a mensagem devolvida ao cliente quando um tier estoura.
func DeniedMessage(dec domain.Decision) string {
	return fmt.Sprintf("Rate limit exceeded. Maximum %d requests per %s.", dec.Max, dec.Tier)
}

// Middleware aplica a admissão multi-tier antes de qualquer validação de
// payload. Requisições barradas recebem 429 e contam só como rate limit hit;
// as admitidas seguem com a Admission no contexto.
func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.KeyFn == nil {
		opts.KeyFn = DefaultKeyFunc(opts.KeyHeader, opts.TrustXForwardedFor, opts.UseRemoteAddr)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := domain.Identity(opts.KeyFn(r))
			if id == "" {
				id = opts.Service.Unknown
				if id == "" {
					id = domain.UnknownIdentity
				}
			}

			if opts.AddRateLimitHeaders {
				w.Header().Set("X-RateLimit-Key", string(id))
			}

			dec, undo := opts.Service.Admit(id)
			if !dec.Allowed {
				if opts.Stats != nil {
					opts.Stats.Record(r.Context(), domain.StatsEvent{
						Identity: id,
						Outcome:  domain.OutcomeDenied,
						Method:   r.Method,
						Path:     r.URL.Path,
						At:       time.Now(),
					})
				}
				writeDenied(w, dec)
				return
			}

			ctx := context.WithValue(r.Context(), admissionKey{}, Admission{
				Identity: id,
				Decision: dec,
				Undo:     undo,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type deniedBody struct {
	Error      string `json:"error"`
	RetryAfter int    `json:"retryAfter"`
}

func writeDenied(w http.ResponseWriter, dec domain.Decision) {
	secs := int(dec.RetryAfter.Seconds())
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", formatInt(secs))
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(deniedBody{
		Error:      DeniedMessage(dec),
		RetryAfter: secs,
	})
}
