package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"admission-gateway/middleware/auth"
	"admission-gateway/middleware/ratelimit"
	"admission-gateway/middleware/ratelimit/application"
	"admission-gateway/middleware/ratelimit/infra"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "pipeline-secret"

type recordingReporter struct {
	mu   sync.Mutex
	errs []error
}

func (rr *recordingReporter) Report(_ context.Context, _ *http.Request, err error) {
	rr.mu.Lock()
	rr.errs = append(rr.errs, err)
	rr.mu.Unlock()
}

func (rr *recordingReporter) all() []error {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	return append([]error(nil), rr.errs...)
}

type fixture struct {
	pipeline *Pipeline
	reporter *recordingReporter
	subs     *MemorySubscriptions
	verifier *auth.HMACVerifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	table, err := application.NewPolicyTable(application.DefaultPolicies())
	require.NoError(t, err)

	verifier := auth.NewHMACVerifier(secret)
	limiter := ratelimit.New(ratelimit.Options{
		Engine: application.Engine{
			Policies: table,
			Store:    infra.NewMemoryCounterStore(),
		},
		Resolver: ratelimit.IdentityResolver{Verifier: verifier},
	})

	f := &fixture{
		reporter: &recordingReporter{},
		subs:     NewMemorySubscriptions(nil),
		verifier: verifier,
	}
	f.pipeline = New(Options{
		Limiter:       limiter,
		Sessions:      TokenSessions{Verifier: verifier},
		Subscriptions: f.subs,
		Reporter:      f.reporter,
		Version:       "2026.10.1",
	})
	return f
}

func (f *fixture) token(t *testing.T, c auth.Claims) string {
	t.Helper()
	tok, err := f.verifier.Issue(c, time.Hour)
	require.NoError(t, err)
	return tok
}

func do(h http.Handler, token string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodGet, "http://example/api/resource", nil)
	r.Header.Set("X-Forwarded-For", "1.1.1.1")
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.False(t, body.Success)
	return body
}

func okHandler(w http.ResponseWriter, r *http.Request) error {
	w.WriteHeader(http.StatusOK)
	_, err := w.Write([]byte(`{"success":true}`))
	return err
}

func TestPipeline_SuccessAddsHeaders(t *testing.T) {
	f := newFixture(t)
	h := f.pipeline.Wrap(Route{Endpoint: "default"}, okHandler)

	w := do(h, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2026.10.1", w.Header().Get(HeaderAPIVersion))
	_, err := uuid.Parse(w.Header().Get(HeaderRequestID))
	assert.NoError(t, err)
	assert.Equal(t, "100", w.Header().Get(ratelimit.HeaderLimit))
	assert.Equal(t, "99", w.Header().Get(ratelimit.HeaderRemaining))
	assert.NotEmpty(t, w.Header().Get(ratelimit.HeaderReset))
}

func TestPipeline_ReusesValidInboundRequestID(t *testing.T) {
	f := newFixture(t)
	var seen string
	h := f.pipeline.Wrap(Route{}, func(w http.ResponseWriter, r *http.Request) error {
		seen = RequestIDFromContext(r.Context())
		return nil
	})

	inbound := uuid.NewString()
	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.Header.Set(HeaderRequestID, inbound)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, inbound, w.Header().Get(HeaderRequestID))
	assert.Equal(t, inbound, seen)

	r = httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.Header.Set(HeaderRequestID, "<script>")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.NotEqual(t, "<script>", w.Header().Get(HeaderRequestID))
}

func TestPipeline_NoEndpointSkipsAdmission(t *testing.T) {
	f := newFixture(t)
	h := f.pipeline.Wrap(Route{}, okHandler)

	w := do(h, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get(ratelimit.HeaderLimit))
}

func TestPipeline_RateLimitedBeforeAuth(t *testing.T) {
	f := newFixture(t)
	called := 0
	h := f.pipeline.Wrap(Route{Endpoint: "auth", Auth: AuthRequired}, func(w http.ResponseWriter, r *http.Request) error {
		called++
		return nil
	})

	for i := 0; i < 10; i++ {
		require.Equal(t, http.StatusUnauthorized, do(h, "").Code)
	}
	w := do(h, "")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get(ratelimit.HeaderRemaining))

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Too Many Requests", body["error"])
	assert.Contains(t, body, "retryAfter")
	assert.Zero(t, called)
}

func TestPipeline_Authentication(t *testing.T) {
	f := newFixture(t)
	var got *Session
	handler := func(w http.ResponseWriter, r *http.Request) error {
		got = SessionFromContext(r.Context())
		return nil
	}

	required := f.pipeline.Wrap(Route{Auth: AuthRequired}, handler)
	w := do(required, "")
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, CodeUnauthorized, decodeError(t, w).Error.Code)

	w = do(required, "not.a.valid.token")
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(required, f.token(t, auth.Claims{Subject: "user-1", Role: "member", AccountID: "acc-1"}))
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, got)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, "acc-1", got.AccountID)

	got = nil
	optional := f.pipeline.Wrap(Route{Auth: AuthOptional}, handler)
	w = do(optional, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, got)
}

func TestPipeline_Roles(t *testing.T) {
	f := newFixture(t)
	h := f.pipeline.Wrap(Route{Roles: []string{"admin", "owner"}}, okHandler)

	w := do(h, "")
	require.Equal(t, http.StatusUnauthorized, w.Code, "roles imply authentication")

	w = do(h, f.token(t, auth.Claims{Subject: "u", Role: "member"}))
	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, CodeForbidden, decodeError(t, w).Error.Code)

	w = do(h, f.token(t, auth.Claims{Subject: "u", Role: "owner"}))
	require.Equal(t, http.StatusOK, w.Code)
}

func TestPipeline_Subscription(t *testing.T) {
	f := newFixture(t)
	f.subs.Set("acc-active", StatusActive)
	f.subs.Set("acc-trial", StatusTrialing)
	f.subs.Set("acc-canceled", StatusCanceled)
	f.subs.Set("acc-unpaid", StatusUnpaid)
	f.subs.Set("acc-late", StatusPastDue)

	h := f.pipeline.Wrap(Route{Auth: AuthRequired, RequireSubscription: true}, okHandler)

	for _, acc := range []string{"acc-active", "acc-trial"} {
		w := do(h, f.token(t, auth.Claims{Subject: "u", AccountID: acc}))
		assert.Equal(t, http.StatusOK, w.Code, acc)
	}

	cases := map[string]SubscriptionStatus{
		"acc-canceled": StatusCanceled,
		"acc-unpaid":   StatusUnpaid,
		"acc-late":     StatusPastDue,
		"acc-missing":  StatusNone,
	}
	for acc, status := range cases {
		w := do(h, f.token(t, auth.Claims{Subject: "u", AccountID: acc}))
		require.Equal(t, http.StatusForbidden, w.Code, acc)
		body := decodeError(t, w)
		assert.Equal(t, CodeSubscriptionRequired, body.Error.Code, acc)
		assert.Equal(t, string(status), body.Error.Details["status"], acc)
		assert.Equal(t, status.RemediationMessage(), body.Error.Message, acc)
	}
}

type failingSubscriptions struct{}

func (failingSubscriptions) Status(context.Context, string) (SubscriptionStatus, error) {
	return "", errors.New("billing db down")
}

func TestPipeline_SubscriptionStoreErrorIsInternal(t *testing.T) {
	f := newFixture(t)
	f.pipeline.subscriptions = failingSubscriptions{}
	h := f.pipeline.Wrap(Route{Auth: AuthRequired, RequireSubscription: true}, okHandler)

	w := do(h, f.token(t, auth.Claims{Subject: "u", AccountID: "acc"}))
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "billing db down")
	assert.Len(t, f.reporter.all(), 1)
}

func TestPipeline_HandlerErrorIsSanitized(t *testing.T) {
	f := newFixture(t)
	h := f.pipeline.Wrap(Route{Endpoint: "chat"}, func(w http.ResponseWriter, r *http.Request) error {
		return errors.New("pq: relation \"secrets\" does not exist")
	})

	w := do(h, "")
	require.Equal(t, http.StatusInternalServerError, w.Code)
	body := decodeError(t, w)
	assert.Equal(t, CodeInternalError, body.Error.Code)
	assert.NotContains(t, w.Body.String(), "secrets")

	errs := f.reporter.all()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "secrets")
}

func TestPipeline_HandlerPanicIsRecovered(t *testing.T) {
	f := newFixture(t)
	h := f.pipeline.Wrap(Route{}, func(w http.ResponseWriter, r *http.Request) error {
		panic("nil map write in tender parser")
	})

	w := do(h, "")
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.False(t, strings.Contains(w.Body.String(), "tender parser"))
	require.Len(t, f.reporter.all(), 1)
}

func TestPipeline_HandlerErrorAfterWriteKeepsResponse(t *testing.T) {
	f := newFixture(t)
	h := f.pipeline.Wrap(Route{}, func(w http.ResponseWriter, r *http.Request) error {
		w.WriteHeader(http.StatusAccepted)
		return errors.New("late failure")
	})

	w := do(h, "")
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Len(t, f.reporter.all(), 1)
}

func TestState(t *testing.T) {
	assert.Equal(t, "SUBSCRIPTION_REQUIRED", StateSubscriptionRequired.String())
	assert.False(t, StateHandling.Terminal())
	assert.True(t, StateRateLimited.Terminal())
	assert.True(t, StateSuccess.Terminal())
}
