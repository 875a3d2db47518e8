package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appAudit "github.com/sessionflow/flowguard/internal/application/audit"
	"github.com/sessionflow/flowguard/internal/application/engine"
	"github.com/sessionflow/flowguard/internal/infrastructure/memory"
	"github.com/sessionflow/flowguard/internal/infrastructure/sse"
)

const ref = "SS-20250101-0001"

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	store := memory.NewStore()
	hub := sse.NewHub()
	engineSvc, err := engine.NewService(engine.Deps{Store: store, Listener: hub}, engine.Options{}, zerolog.Nop())
	require.NoError(t, err)
	srv := NewServer(engineSvc, appAudit.NewService(store, zerolog.Nop(), nil), hub, zerolog.Nop())
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func do(t *testing.T, ts *httptest.Server, method, path string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor", "tester")
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out := map[string]interface{}{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func createBooking(t *testing.T, ts *httptest.Server) {
	t.Helper()
	status, body := do(t, ts, http.MethodPost, "/v1/bookings", map[string]interface{}{
		"bookingId":   ref,
		"clientId":    "client-1",
		"therapistId": "therapist-1",
		"scheduledAt": "2025-01-02T10:00:00Z",
		"amount":      2500,
	})
	require.Equal(t, http.StatusCreated, status, body)
}

func toPaymentPending(t *testing.T, ts *httptest.Server) {
	t.Helper()
	createBooking(t, ts)
	status, body := do(t, ts, http.MethodPost, "/v1/bookings/"+ref+"/approve", nil)
	require.Equal(t, http.StatusOK, status, body)
	status, body = do(t, ts, http.MethodPost, "/v1/bookings/"+ref+"/payment", map[string]string{"externalTransactionId": "TX1"})
	require.Equal(t, http.StatusOK, status, body)
}

func callbackBody(amount int) map[string]interface{} {
	return map[string]interface{}{
		"externalTransactionId": "TX1",
		"bookingId":             ref,
		"amount":                amount,
		"status":                "success",
		"receivedAt":            "2025-01-01T09:00:00Z",
	}
}

func bookingField(t *testing.T, body map[string]interface{}, entity, field string) interface{} {
	t.Helper()
	b, ok := body["booking"].(map[string]interface{})
	require.True(t, ok, body)
	e, ok := b[entity].(map[string]interface{})
	require.True(t, ok, b)
	return e[field]
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	status, body := do(t, ts, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
}

func TestBookingLifecycle(t *testing.T) {
	ts := newTestServer(t)
	toPaymentPending(t, ts)

	status, body := do(t, ts, http.MethodPost, "/v1/callbacks/payment", callbackBody(2500))
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "CONFIRMED", bookingField(t, body, "payment", "state"))
	assert.Equal(t, "PAID", bookingField(t, body, "session", "state"))

	status, body = do(t, ts, http.MethodPost, "/v1/callbacks/payment", callbackBody(2500))
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, true, body["duplicate"])

	status, body = do(t, ts, http.MethodPost, "/v1/bookings/"+ref+"/prepare", nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "READY", bookingField(t, body, "session", "state"))

	status, body = do(t, ts, http.MethodPost, "/v1/bookings/"+ref+"/video/join", map[string]string{"participant": "client-1"})
	require.Equal(t, http.StatusOK, status, body)
	status, body = do(t, ts, http.MethodPost, "/v1/bookings/"+ref+"/video/join", map[string]string{"participant": "therapist-1"})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "IN_PROGRESS", bookingField(t, body, "session", "state"))
	assert.Equal(t, "ACTIVE", bookingField(t, body, "videoCall", "state"))

	status, body = do(t, ts, http.MethodPost, "/v1/bookings/"+ref+"/complete", nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "COMPLETED", bookingField(t, body, "session", "state"))
	assert.Equal(t, "ENDED", bookingField(t, body, "videoCall", "state"))

	status, body = do(t, ts, http.MethodGet, "/v1/bookings/"+ref+"/audit/verify", nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, true, body["verified"])
	assert.Len(t, body["chains"], 3)
}

func TestErrorMapping(t *testing.T) {
	ts := newTestServer(t)
	toPaymentPending(t, ts)

	cases := []struct {
		name   string
		method string
		path   string
		body   interface{}
		status int
		code   string
	}{
		{"unknown booking", http.MethodGet, "/v1/bookings/SS-20250101-0099", nil, http.StatusNotFound, "NOT_FOUND"},
		{"malformed ref", http.MethodGet, "/v1/bookings/nope", nil, http.StatusBadRequest, "INVALID_PARAM"},
		{"duplicate booking", http.MethodPost, "/v1/bookings", map[string]interface{}{
			"bookingId": ref, "clientId": "c", "therapistId": "t", "scheduledAt": "2025-01-02T10:00:00Z", "amount": 1,
		}, http.StatusConflict, "ALREADY_EXISTS"},
		{"unknown field", http.MethodPost, "/v1/bookings", map[string]interface{}{"bogus": 1}, http.StatusBadRequest, "INVALID_PARAM"},
		{"unpaid join", http.MethodPost, "/v1/bookings/" + ref + "/video/join", map[string]string{"participant": "client-1"}, http.StatusBadRequest, "UNPAID_ACCESS"},
		{"amount mismatch", http.MethodPost, "/v1/callbacks/payment", callbackBody(9999), http.StatusUnprocessableEntity, "VERIFICATION_MISMATCH"},
		{"bad party", http.MethodPost, "/v1/bookings/" + ref + "/no-show", map[string]string{"party": "nobody"}, http.StatusBadRequest, "INVALID_PARAM"},
		{"invalid transition", http.MethodPost, "/v1/transitions", map[string]interface{}{
			"bookingId": ref,
			"changes":   []map[string]string{{"entityType": "SESSION", "fromState": "PAYMENT_PENDING", "toState": "COMPLETED"}},
		}, http.StatusBadRequest, "INVALID_TRANSITION"},
		{"stale from-state", http.MethodPost, "/v1/transitions", map[string]interface{}{
			"bookingId": ref,
			"changes":   []map[string]string{{"entityType": "SESSION", "fromState": "REQUESTED", "toState": "APPROVED"}},
		}, http.StatusConflict, "STALE_STATE"},
		{"transition sets external id", http.MethodPost, "/v1/transitions", map[string]interface{}{
			"bookingId":             ref,
			"externalTransactionId": "TX-FORGED",
			"changes":               []map[string]string{{"entityType": "PAYMENT", "fromState": "INITIATED", "toState": "FAILED"}},
		}, http.StatusBadRequest, "INVALID_PARAM"},
		{"empty transition", http.MethodPost, "/v1/transitions", map[string]interface{}{"bookingId": ref}, http.StatusBadRequest, "INVALID_PARAM"},
		{"bad entity type", http.MethodGet, "/v1/audit/BOOKING/x", nil, http.StatusBadRequest, "INVALID_PARAM"},
		{"bad cursor", http.MethodGet, "/v1/audit/SESSION/x?cursor=%21%21", nil, http.StatusBadRequest, "INVALID_PARAM"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, body := do(t, ts, tc.method, tc.path, tc.body)
			assert.Equal(t, tc.status, status, body)
			assert.Equal(t, tc.code, body["error"], body)
		})
	}

	status, body := do(t, ts, http.MethodGet, "/v1/bookings/"+ref, nil)
	require.Equal(t, http.StatusOK, status, body)
	payment, ok := body["payment"].(map[string]interface{})
	require.True(t, ok, body)
	assert.Equal(t, "TX1", payment["externalTransactionId"])
	assert.Equal(t, "INITIATED", payment["state"])
}

func TestCallbackAfterCancelIsUnprocessable(t *testing.T) {
	ts := newTestServer(t)
	toPaymentPending(t, ts)

	status, body := do(t, ts, http.MethodPost, "/v1/bookings/"+ref+"/cancel", nil)
	require.Equal(t, http.StatusOK, status, body)

	status, body = do(t, ts, http.MethodPost, "/v1/callbacks/payment", callbackBody(2500))
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "VERIFICATION_MISMATCH", body["error"])
}

func TestSyncViolationIsUnprocessable(t *testing.T) {
	ts := newTestServer(t)
	createBooking(t, ts)

	status, body := do(t, ts, http.MethodPost, "/v1/transitions", map[string]interface{}{
		"bookingId": ref,
		"changes":   []map[string]string{{"entityType": "PAYMENT", "fromState": "PENDING", "toState": "INITIATED"}},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "SYNC_VIOLATION", body["error"])
}

func TestAuditHistoryPaginates(t *testing.T) {
	ts := newTestServer(t)
	toPaymentPending(t, ts)

	status, b := do(t, ts, http.MethodGet, "/v1/bookings/"+ref, nil)
	require.Equal(t, http.StatusOK, status)
	sessionID := b["session"].(map[string]interface{})["id"].(string)

	status, body := do(t, ts, http.MethodGet, "/v1/audit/SESSION/"+sessionID+"?limit=2", nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.Len(t, body["entries"], 2)
	pagination := body["pagination"].(map[string]interface{})
	assert.Equal(t, true, pagination["hasMore"])
	cursor := pagination["cursor"].(string)

	status, body = do(t, ts, http.MethodGet, "/v1/audit/SESSION/"+sessionID+"?limit=2&cursor="+url.QueryEscape(cursor), nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.Len(t, body["entries"], 1)

	status, body = do(t, ts, http.MethodGet, "/v1/audit/SESSION/"+sessionID+"/verify", nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, true, body["verified"])
}

func TestBookingEventStream(t *testing.T) {
	ts := newTestServer(t)
	createBooking(t, ts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/v1/bookings/"+ref+"/events", nil)
	require.NoError(t, err)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, ": connected\n", line)

	status, body := do(t, ts, http.MethodPost, "/v1/bookings/"+ref+"/approve", nil)
	require.Equal(t, http.StatusOK, status, body)

	for {
		line, err = reader.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: ") {
			break
		}
	}
	var ev struct {
		BookingRef string `json:"bookingId"`
		Applied    []struct {
			To string `json:"toState"`
		} `json:"applied"`
	}
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
	assert.Equal(t, ref, ev.BookingRef)
	require.Len(t, ev.Applied, 1)
	assert.Equal(t, "APPROVED", ev.Applied[0].To)

	status, _ = do(t, ts, http.MethodGet, "/v1/bookings/SS-20250101-0099/events", nil)
	assert.Equal(t, http.StatusNotFound, status)
}
