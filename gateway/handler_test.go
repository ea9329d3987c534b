package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ai-gateway/inference"
	"ai-gateway/middleware/ratelimit"
	"ai-gateway/middleware/ratelimit/application"
	"ai-gateway/middleware/ratelimit/domain"
	"ai-gateway/middleware/ratelimit/infra"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAI struct {
	calls atomic.Int32
	raw   json.RawMessage
	err   error
	panic bool
}

func (f *fakeAI) Complete(_ context.Context, _ inference.Request) (json.RawMessage, error) {
	f.calls.Add(1)
	if f.panic {
		panic("boom")
	}
	return f.raw, f.err
}

type fixture struct {
	handler http.Handler
	ledger  *infra.Ledger
	stats   *infra.MemoryStatsStore
	usage   application.UsageService
	clock   *infra.ManualClock
	ai      *fakeAI
}

var start = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func newFixture(t *testing.T, mods ...func(*Options)) *fixture {
	t.Helper()

	clk := infra.NewManualClock(start)
	ledger, err := infra.NewLedger(domain.DefaultTiers(), infra.WithClock(clk))
	require.NoError(t, err)

	stats := infra.NewMemoryStatsStore(infra.WithStartTime(start))
	usage := application.UsageService{Primary: stats, Active: ledger}
	ai := &fakeAI{raw: json.RawMessage(`{"generated_text":"hello","conversation":{"past_user_inputs":["hi"],"generated_responses":["hello"]}}`)}

	opts := Options{
		Admission: ratelimit.Middleware(ratelimit.Options{
			Service:            application.Service{Ledger: ledger, Clock: clk},
			Stats:              usage,
			TrustXForwardedFor: true,
			UseRemoteAddr:      true,
		}),
		Usage: usage,
		AI:    ai,
		Clock: clk,
	}
	for _, mod := range mods {
		mod(&opts)
	}
	h := New(opts)

	return &fixture{handler: h.Routes(), ledger: ledger, stats: stats, usage: usage, clock: clk, ai: ai}
}

func (f *fixture) do(method, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	r.RemoteAddr = "10.0.0.1:4321"
	for k, v := range hdr {
		r.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, r)
	return w
}

func (f *fixture) chat(body string, ip string) *httptest.ResponseRecorder {
	return f.do(http.MethodPost, "/api/chat", body, map[string]string{"X-Forwarded-For": ip})
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Error
}

func assertCommonHeaders(t *testing.T, w *httptest.ResponseRecorder) {
	t.Helper()
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
}

func TestHandler_OptionsPreflight(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodOptions, "/api/chat", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.String())
	assertCommonHeaders(t, w)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "POST")
	assert.Equal(t, 0, f.ledger.Active(), "preflight must not touch the ledger")
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	f := newFixture(t)

	for _, m := range []string{http.MethodPut, http.MethodDelete, http.MethodPatch} {
		w := f.do(m, "/api/chat", "", nil)
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code, m)
		assertCommonHeaders(t, w)
		assert.Equal(t, "Method not allowed", decodeError(t, w))
	}
	assert.Equal(t, 0, f.ledger.Active())
}

func TestHandler_SuccessPassesThroughPayload(t *testing.T) {
	f := newFixture(t)

	w := f.chat(`{"prompt":"hi"}`, "1.2.3.4")
	require.Equal(t, http.StatusOK, w.Code)
	assertCommonHeaders(t, w)
	assert.JSONEq(t, string(f.ai.raw), w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	c := f.stats.Counters()
	assert.Equal(t, int64(1), c.TotalRequests)
	assert.Equal(t, int64(0), c.Errors)
	assert.Equal(t, int64(1), c.UniqueIdentities)
	assert.Equal(t, 1, f.ledger.Counts("1.2.3.4")["minute"])
}

func TestHandler_EleventhRequestIsDenied(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 10; i++ {
		w := f.chat(`{"prompt":"hi"}`, "1.2.3.4")
		require.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
		f.clock.Advance(50 * time.Millisecond)
	}

	w := f.chat(`{"prompt":"hi"}`, "1.2.3.4")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assertCommonHeaders(t, w)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))

	var body struct {
		Error      string `json:"error"`
		RetryAfter int    `json:"retryAfter"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Rate limit exceeded. Maximum 10 requests per minute.", body.Error)
	assert.Equal(t, 60, body.RetryAfter)

	assert.Equal(t, int32(10), f.ai.calls.Load(), "denied request must not reach the AI service")

	c := f.stats.Counters()
	assert.Equal(t, int64(10), c.TotalRequests, "denied requests are excluded from the total")
	assert.Equal(t, int64(1), c.RateLimitHits)

	// outra identidade segue livre
	assert.Equal(t, http.StatusOK, f.chat(`{"prompt":"hi"}`, "5.6.7.8").Code)
}

func TestHandler_AdmittedAgainAfterWindow(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 10; i++ {
		f.chat(`{"prompt":"hi"}`, "1.2.3.4")
	}
	require.Equal(t, http.StatusTooManyRequests, f.chat(`{"prompt":"hi"}`, "1.2.3.4").Code)

	f.clock.Advance(time.Minute)
	assert.Equal(t, http.StatusOK, f.chat(`{"prompt":"hi"}`, "1.2.3.4").Code)
}

func TestHandler_DeniedBeforeValidation(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 10; i++ {
		f.chat(`{"prompt":"hi"}`, "1.2.3.4")
	}

	w := f.chat(`{"prompt":42}`, "1.2.3.4")
	assert.Equal(t, http.StatusTooManyRequests, w.Code, "rate limit wins over payload validation")
	assert.Equal(t, int64(1), f.stats.Counters().RateLimitHits)
	assert.Equal(t, int64(0), f.stats.Counters().Errors)
}

func TestHandler_PromptTooLongConsumesNoQuota(t *testing.T) {
	f := newFixture(t)

	w := f.chat(`{"prompt":"`+strings.Repeat("x", 501)+`"}`, "1.2.3.4")
	require.Equal(t, http.StatusBadRequest, w.Code)
	assertCommonHeaders(t, w)
	assert.Equal(t, "Prompt too long (max 500 characters)", decodeError(t, w))

	for name, n := range f.ledger.Counts("1.2.3.4") {
		assert.Equal(t, 0, n, "tier %s", name)
	}
	assert.Equal(t, int32(0), f.ai.calls.Load())

	c := f.stats.Counters()
	assert.Equal(t, int64(1), c.TotalRequests)
	assert.Equal(t, int64(1), c.Errors)
}

func TestHandler_InvalidConversationConsumesNoQuota(t *testing.T) {
	f := newFixture(t)

	past := `["1","2","3","4","5","6","7","8","9","10","11"]`
	w := f.chat(`{"prompt":"hi","conversation":{"past_user_inputs":`+past+`,"generated_responses":[]}}`, "1.2.3.4")
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid conversation history", decodeError(t, w))
	assert.Equal(t, 0, f.ledger.Counts("1.2.3.4")["minute"])

	// cota intacta: ainda cabem 10 requisições válidas
	for i := 0; i < 10; i++ {
		require.Equal(t, http.StatusOK, f.chat(`{"prompt":"hi"}`, "1.2.3.4").Code)
	}
}

func TestHandler_MissingPrompt(t *testing.T) {
	f := newFixture(t)

	w := f.chat(`{"conversation":null}`, "1.2.3.4")
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid or missing prompt", decodeError(t, w))
}

func TestHandler_UpstreamErrorKeepsQuota(t *testing.T) {
	f := newFixture(t)
	f.ai.err = &inference.UpstreamError{Status: 503, Message: "Model is currently loading"}

	w := f.chat(`{"prompt":"hi"}`, "1.2.3.4")
	require.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "AI service error", decodeError(t, w))
	assert.NotContains(t, w.Body.String(), "loading", "upstream details must not leak")

	assert.Equal(t, 1, f.ledger.Counts("1.2.3.4")["minute"], "upstream failures are not refunded")
	c := f.stats.Counters()
	assert.Equal(t, int64(1), c.TotalRequests)
	assert.Equal(t, int64(1), c.Errors)
}

func TestHandler_NotConfigured(t *testing.T) {
	f := newFixture(t)
	f.ai.err = inference.ErrNotConfigured

	w := f.chat(`{"prompt":"hi"}`, "1.2.3.4")
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "AI service not configured", decodeError(t, w))
	assert.Equal(t, int64(1), f.stats.Counters().Errors)
}

func TestHandler_UnexpectedErrorIsGeneric(t *testing.T) {
	f := newFixture(t)
	f.ai.err = errors.New("dial tcp 10.1.2.3:443: secret detail")

	w := f.chat(`{"prompt":"hi"}`, "1.2.3.4")
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Internal server error", decodeError(t, w))
	assert.NotContains(t, w.Body.String(), "secret")
}

func TestHandler_PanicRecordsOneFailure(t *testing.T) {
	f := newFixture(t)
	f.ai.panic = true

	w := f.chat(`{"prompt":"hi"}`, "1.2.3.4")
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Internal server error", decodeError(t, w))

	c := f.stats.Counters()
	assert.Equal(t, int64(1), c.TotalRequests)
	assert.Equal(t, int64(1), c.Errors)
}

func TestHandler_StatsSnapshot(t *testing.T) {
	f := newFixture(t)

	f.chat(`{"prompt":"hi"}`, "1.2.3.4")
	f.chat(`{"prompt":"hi"}`, "5.6.7.8")
	f.chat(`{}`, "5.6.7.8")
	f.clock.Advance(time.Hour)

	w := f.do(http.MethodGet, "/api/stats", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assertCommonHeaders(t, w)

	var snap domain.UsageSnapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, int64(3), snap.TotalRequests)
	assert.Equal(t, int64(2), snap.UniqueIdentities)
	assert.Equal(t, int64(1), snap.Errors)
	assert.Equal(t, int64(0), snap.RateLimitHits)
	assert.Equal(t, 2, snap.ActiveIdentities)
	assert.Equal(t, float64(3), snap.RequestsPerUptimeHour)
	assert.Equal(t, float64(3600), snap.UptimeSeconds)

	// snapshot não altera nada
	w2 := f.do(http.MethodGet, "/api/stats", "", nil)
	assert.JSONEq(t, w.Body.String(), w2.Body.String())
}

func TestHandler_UnknownPath(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assertCommonHeaders(t, w)
}

func TestHandler_GetOnChatPathIsNotAllowed(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodGet, "/api/chat", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHandler_ConcurrentRequestsRespectLimit(t *testing.T) {
	f := newFixture(t)

	results := make(chan int, 30)
	for i := 0; i < 30; i++ {
		go func() { results <- f.chat(`{"prompt":"hi"}`, "1.2.3.4").Code }()
	}

	ok, denied := 0, 0
	for i := 0; i < 30; i++ {
		switch <-results {
		case http.StatusOK:
			ok++
		case http.StatusTooManyRequests:
			denied++
		}
	}
	assert.Equal(t, 10, ok)
	assert.Equal(t, 20, denied)
	assert.Equal(t, int64(20), f.stats.Counters().RateLimitHits)
}

func TestHandler_LargePromptIsTooLongNotMissing(t *testing.T) {
	f := newFixture(t)

	w := f.chat(`{"prompt":"`+strings.Repeat("x", 70000)+`"}`, "1.2.3.4")
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Prompt too long (max 500 characters)", decodeError(t, w))
	assert.Equal(t, 0, f.ledger.Counts("1.2.3.4")["minute"])
}

func TestHandler_LongConversationTurnsAreAccepted(t *testing.T) {
	f := newFixture(t)

	turn := `"` + strings.Repeat("y", 20000) + `"`
	body := `{"prompt":"hi","conversation":{"past_user_inputs":[` + turn + `,` + turn + `,` + turn + `,` + turn + `],"generated_responses":[]}}`

	w := f.chat(body, "1.2.3.4")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandler_BodyOverLimitIs413(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.MaxBodyBytes = 1024 })

	w := f.chat(`{"prompt":"`+strings.Repeat("x", 2048)+`"}`, "1.2.3.4")
	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assertCommonHeaders(t, w)
	assert.Equal(t, "Request body too large", decodeError(t, w))

	assert.Equal(t, 0, f.ledger.Counts("1.2.3.4")["minute"], "oversized body consumes no quota")
	assert.Equal(t, int32(0), f.ai.calls.Load())
	c := f.stats.Counters()
	assert.Equal(t, int64(1), c.TotalRequests)
	assert.Equal(t, int64(1), c.Errors)
}

// slowBody segura a leitura até release fechar.
type slowBody struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
	r       io.Reader
}

func (b *slowBody) Read(p []byte) (int, error) {
	b.once.Do(func() { close(b.started) })
	<-b.release
	return b.r.Read(p)
}

func TestHandler_SlowBodyHoldsNoQuotaWhileReading(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 9; i++ {
		require.Equal(t, http.StatusOK, f.chat(`{"prompt":"hi"}`, "1.2.3.4").Code)
	}

	body := &slowBody{
		started: make(chan struct{}),
		release: make(chan struct{}),
		r:       strings.NewReader(`{"prompt":42}`),
	}
	slow := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		r := httptest.NewRequest(http.MethodPost, "/api/chat", body)
		r.Header.Set("X-Forwarded-For", "1.2.3.4")
		w := httptest.NewRecorder()
		f.handler.ServeHTTP(w, r)
		slow <- w
	}()
	<-body.started

	// enquanto o corpo lento chega, a décima requisição válida ainda cabe
	w := f.chat(`{"prompt":"hi"}`, "1.2.3.4")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 10, f.ledger.Counts("1.2.3.4")["minute"])

	close(body.release)
	ws := <-slow
	assert.Equal(t, http.StatusTooManyRequests, ws.Code, "the slow request is admitted only after its body arrives")
	assert.Equal(t, 10, f.ledger.Counts("1.2.3.4")["minute"])
	assert.Equal(t, int64(1), f.stats.Counters().RateLimitHits)
}

func TestHandler_StatsFieldNames(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodGet, "/api/stats", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw))
	for _, k := range []string{
		"totalRequests", "uniqueIdentityCount", "errorCount", "rateLimitHitCount",
		"uptime", "requestsPerUptimeHour", "activeIdentityCount",
	} {
		assert.Contains(t, raw, k)
	}
}
