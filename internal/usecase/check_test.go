package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"compensation-checker/internal/config"
	"compensation-checker/internal/domain"
	"compensation-checker/internal/integrations/claimtool"
)

var testClaim = domain.Claim{
	Flight:    domain.Flight{Number: "8071", DepartureDate: "2024-07-14", AirlineCode: "EW"},
	Passenger: domain.Passenger{Name: "Jane", Surname: "Doe", Email: "jane@example.com", BookingCode: "X1Y2Z3"},
}

type stubConfig struct {
	claim domain.Claim
	err   error
}

func (s *stubConfig) Load(_ context.Context) (domain.Claim, error) {
	return s.claim, s.err
}

type mockTool struct {
	token       string
	tokenErr    error
	message     string
	decisionErr error

	sessionCalls  int
	decisionCalls int
	gotFlight     domain.Flight
	gotToken      string
	gotPassenger  domain.Passenger
}

func (m *mockTool) FetchSessionToken(_ context.Context, flight domain.Flight) (string, error) {
	m.sessionCalls++
	m.gotFlight = flight
	return m.token, m.tokenErr
}

func (m *mockTool) FetchDecision(_ context.Context, token string, passenger domain.Passenger) (string, error) {
	m.decisionCalls++
	m.gotToken = token
	m.gotPassenger = passenger
	return m.message, m.decisionErr
}

type mockHistory struct {
	latest    domain.DecisionRecord
	found     bool
	getErr    error
	recordErr error

	recorded      bool
	recordedKey   string
	recordedID    string
	recordedMsg   string
	recordedCheck time.Time
}

func (m *mockHistory) GetLatestDecision(_ context.Context, _ string) (domain.DecisionRecord, bool, error) {
	return m.latest, m.found, m.getErr
}

func (m *mockHistory) RecordDecision(_ context.Context, claimKey, checkID, message string, checkedAt time.Time) error {
	m.recorded = true
	m.recordedKey = claimKey
	m.recordedID = checkID
	m.recordedMsg = message
	m.recordedCheck = checkedAt
	return m.recordErr
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T, cfg ConfigLoader, tool ClaimTool, opts ...Option) *CheckService {
	t.Helper()
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	svc, err := NewCheckService(cfg, tool, opts...)
	require.NoError(t, err)
	return svc
}

func expectCheckError(t *testing.T, err error, kind ErrorKind, reason string) *Error {
	t.Helper()
	var checkErr *Error
	require.ErrorAs(t, err, &checkErr)
	require.Equal(t, kind, checkErr.Kind)
	require.Equal(t, reason, checkErr.Reason)
	return checkErr
}

func fixedClock(t *testing.T, ts time.Time, id string) {
	t.Helper()
	prevNow, prevUUID := now, newUUID
	now = func() time.Time { return ts }
	newUUID = func() string { return id }
	t.Cleanup(func() {
		now, newUUID = prevNow, prevUUID
	})
}

func TestNewCheckService_ValidatesDependencies(t *testing.T) {
	_, err := NewCheckService(nil, &mockTool{})
	require.Error(t, err)

	_, err = NewCheckService(&stubConfig{}, nil)
	require.Error(t, err)
}

func TestCheck_HappyPath(t *testing.T) {
	checkedAt := time.Date(2024, 7, 20, 9, 30, 0, 0, time.UTC)
	fixedClock(t, checkedAt, "check-1")
	tool := &mockTool{token: "abc123", message: "Eligible for compensation"}
	svc := newTestService(t, &stubConfig{claim: testClaim}, tool)

	out, err := svc.Check(context.Background())
	require.NoError(t, err)
	require.Equal(t, CheckOutput{
		CheckID:   "check-1",
		ClaimKey:  "EW8071#2024-07-14#X1Y2Z3",
		Message:   "Eligible for compensation",
		CheckedAt: checkedAt,
	}, out)
	require.Equal(t, testClaim.Flight, tool.gotFlight)
	require.Equal(t, "abc123", tool.gotToken)
	require.Equal(t, testClaim.Passenger, tool.gotPassenger)
	require.Equal(t, 1, tool.sessionCalls)
	require.Equal(t, 1, tool.decisionCalls)
}

func TestCheck_ConfigurationError_NoNetworkCalls(t *testing.T) {
	full := map[string]string{
		config.KeyFlightNumber:  "8071",
		config.KeyDepartureDate: "2024-07-14",
		config.KeyAirlineCode:   "EW",
		config.KeyName:          "Jane",
		config.KeySurname:       "Doe",
		config.KeyEmail:         "jane@example.com",
		config.KeyBookingCode:   "X1Y2Z3",
	}
	for _, key := range config.RequiredKeys {
		for _, mode := range []string{"absent", "empty"} {
			t.Run(key+"/"+mode, func(t *testing.T) {
				env := make(map[string]string, len(full))
				for k, v := range full {
					env[k] = v
				}
				if mode == "absent" {
					delete(env, key)
				} else {
					env[key] = ""
				}
				loader, err := config.NewLoader(config.LookupFunc(func(k string) (string, bool) {
					v, ok := env[k]
					return v, ok
				}))
				require.NoError(t, err)

				var requests int32
				srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					atomic.AddInt32(&requests, 1)
				}))
				defer srv.Close()
				tool, err := claimtool.NewClient(claimtool.WithBaseURL(srv.URL), claimtool.WithLogger(quietLogger()))
				require.NoError(t, err)

				svc := newTestService(t, loader, tool)
				_, err = svc.Check(context.Background())
				checkErr := expectCheckError(t, err, ErrorConfiguration, "missing_setting")
				require.Equal(t, key, checkErr.Key)
				require.Contains(t, err.Error(), key)
				require.Zero(t, atomic.LoadInt32(&requests))
			})
		}
	}
}

func TestCheck_ConfigSourceError(t *testing.T) {
	tool := &mockTool{}
	svc := newTestService(t, &stubConfig{err: errors.New("config: lookup NAME: ssm unavailable")}, tool)

	_, err := svc.Check(context.Background())
	checkErr := expectCheckError(t, err, ErrorConfiguration, "config_source_error")
	require.Empty(t, checkErr.Key)
	require.Zero(t, tool.sessionCalls)
}

func TestCheck_SessionTokenMissing(t *testing.T) {
	tool := &mockTool{tokenErr: fmt.Errorf("%w (status 200)", claimtool.ErrSessionTokenMissing)}
	svc := newTestService(t, &stubConfig{claim: testClaim}, tool)

	_, err := svc.Check(context.Background())
	expectCheckError(t, err, ErrorSessionTokenMissing, "session_token_missing")
	require.ErrorIs(t, err, claimtool.ErrSessionTokenMissing)
	require.Zero(t, tool.decisionCalls)
}

func TestCheck_TransportErrors(t *testing.T) {
	tool := &mockTool{tokenErr: &claimtool.TransportError{Stage: claimtool.StageSession, URL: "u", Err: errors.New("dial tcp: no such host")}}
	svc := newTestService(t, &stubConfig{claim: testClaim}, tool)
	_, err := svc.Check(context.Background())
	expectCheckError(t, err, ErrorTransport, "session_transport_error")
	require.Zero(t, tool.decisionCalls)

	tool = &mockTool{token: "abc123", decisionErr: &claimtool.TransportError{Stage: claimtool.StageDecision, URL: "u", Err: context.DeadlineExceeded}}
	svc = newTestService(t, &stubConfig{claim: testClaim}, tool)
	_, err = svc.Check(context.Background())
	expectCheckError(t, err, ErrorTransport, "decision_transport_error")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 1, tool.sessionCalls)
	require.Equal(t, 1, tool.decisionCalls)
}

func TestCheck_HTTPStatusError(t *testing.T) {
	tool := &mockTool{token: "abc123", decisionErr: &claimtool.HTTPStatusError{StatusCode: http.StatusForbidden}}
	svc := newTestService(t, &stubConfig{claim: testClaim}, tool)

	_, err := svc.Check(context.Background())
	checkErr := expectCheckError(t, err, ErrorHTTPStatus, "decision_http_status")
	require.Equal(t, http.StatusForbidden, checkErr.StatusCode)
}

func TestCheck_ResponseFormatError(t *testing.T) {
	tool := &mockTool{token: "abc123", decisionErr: &claimtool.ResponseFormatError{Body: "<html>", Err: errors.New("invalid character '<'")}}
	svc := newTestService(t, &stubConfig{claim: testClaim}, tool)

	_, err := svc.Check(context.Background())
	expectCheckError(t, err, ErrorResponseFormat, "decision_malformed_response")
}

func TestCheck_ResponseTooLarge(t *testing.T) {
	tool := &mockTool{token: "abc123", decisionErr: fmt.Errorf("%w (1048576 bytes)", claimtool.ErrResponseTooLarge)}
	svc := newTestService(t, &stubConfig{claim: testClaim}, tool)

	_, err := svc.Check(context.Background())
	expectCheckError(t, err, ErrorInternal, "decision_response_too_large")
}

func TestCheck_UnclassifiedError(t *testing.T) {
	tool := &mockTool{token: "abc123", decisionErr: errors.New("claimtool: session token must not be empty")}
	svc := newTestService(t, &stubConfig{claim: testClaim}, tool)

	_, err := svc.Check(context.Background())
	expectCheckError(t, err, ErrorInternal, "decision_error")
}

func TestCheck_History_FirstCheck(t *testing.T) {
	checkedAt := time.Date(2024, 7, 20, 9, 30, 0, 0, time.UTC)
	fixedClock(t, checkedAt, "check-1")
	history := &mockHistory{}
	svc := newTestService(t, &stubConfig{claim: testClaim}, &mockTool{token: "t", message: "Not eligible"}, WithHistory(history))

	out, err := svc.Check(context.Background())
	require.NoError(t, err)
	require.True(t, out.FirstCheck)
	require.False(t, out.Changed)
	require.True(t, history.recorded)
	require.Equal(t, "EW8071#2024-07-14#X1Y2Z3", history.recordedKey)
	require.Equal(t, "check-1", history.recordedID)
	require.Equal(t, "Not eligible", history.recordedMsg)
	require.Equal(t, checkedAt, history.recordedCheck)
}

func TestCheck_History_Changed(t *testing.T) {
	history := &mockHistory{found: true, latest: domain.DecisionRecord{Message: "Not eligible"}}
	svc := newTestService(t, &stubConfig{claim: testClaim}, &mockTool{token: "t", message: "Eligible for compensation"}, WithHistory(history))

	out, err := svc.Check(context.Background())
	require.NoError(t, err)
	require.False(t, out.FirstCheck)
	require.True(t, out.Changed)
	require.Equal(t, "Not eligible", out.PreviousMessage)
	require.True(t, history.recorded)
}

func TestCheck_History_Unchanged(t *testing.T) {
	history := &mockHistory{found: true, latest: domain.DecisionRecord{Message: "Not eligible"}}
	svc := newTestService(t, &stubConfig{claim: testClaim}, &mockTool{token: "t", message: "Not eligible"}, WithHistory(history))

	out, err := svc.Check(context.Background())
	require.NoError(t, err)
	require.False(t, out.Changed)
	require.False(t, out.FirstCheck)
}

func TestCheck_History_FailuresDoNotFailCheck(t *testing.T) {
	history := &mockHistory{getErr: errors.New("dynamodb down"), recordErr: errors.New("write failed")}
	svc := newTestService(t, &stubConfig{claim: testClaim}, &mockTool{token: "t", message: "Not eligible"}, WithHistory(history))

	out, err := svc.Check(context.Background())
	require.NoError(t, err)
	require.Equal(t, "Not eligible", out.Message)
	require.False(t, out.FirstCheck)
	require.False(t, out.Changed)
	require.True(t, history.recorded)
}

func TestCheck_History_NotConsultedOnFailure(t *testing.T) {
	history := &mockHistory{}
	tool := &mockTool{token: "t", decisionErr: &claimtool.HTTPStatusError{StatusCode: http.StatusBadGateway}}
	svc := newTestService(t, &stubConfig{claim: testClaim}, tool, WithHistory(history))

	_, err := svc.Check(context.Background())
	require.Error(t, err)
	require.False(t, history.recorded)
}

func TestCheck_EndToEnd(t *testing.T) {
	var sessionCalls, decisionCalls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "claimtool.submit.s2.html"):
			atomic.AddInt32(&sessionCalls, 1)
			http.SetCookie(w, &http.Cookie{Name: claimtool.SessionCookieName, Value: "xyz"})
		case strings.HasSuffix(r.URL.Path, "claimtool.submit.s3.html"):
			atomic.AddInt32(&decisionCalls, 1)
			cookie, err := r.Cookie(claimtool.SessionCookieName)
			if err != nil || cookie.Value != "xyz" {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			_, _ = w.Write([]byte(`{"message": "Not eligible"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	tool, err := claimtool.NewClient(claimtool.WithBaseURL(srv.URL), claimtool.WithLogger(logger))
	require.NoError(t, err)
	svc, err := NewCheckService(&stubConfig{claim: testClaim}, tool, WithLogger(logger))
	require.NoError(t, err)

	out, err := svc.Check(context.Background())
	require.NoError(t, err)
	require.Equal(t, "Not eligible", out.Message)
	require.Equal(t, int32(1), atomic.LoadInt32(&sessionCalls))
	require.Equal(t, int32(1), atomic.LoadInt32(&decisionCalls))

	var decisionLogs []string
	dec := json.NewDecoder(&logs)
	for dec.More() {
		var rec map[string]any
		require.NoError(t, dec.Decode(&rec))
		if rec["msg"] == "decision received" {
			decisionLogs = append(decisionLogs, rec["message"].(string))
		}
	}
	require.Equal(t, []string{"Not eligible"}, decisionLogs)
}

func TestError_Format(t *testing.T) {
	err := newError(ErrorHTTPStatus, "decision_http_status", errors.New("boom"))
	require.Equal(t, "usecase: HTTP_STATUS_ERROR (decision_http_status): boom", err.Error())
	require.EqualError(t, errors.Unwrap(err), "boom")

	err = newError(ErrorConfiguration, "missing_setting", nil)
	require.Equal(t, "usecase: CONFIGURATION_ERROR (missing_setting)", err.Error())

	var nilErr *Error
	require.Empty(t, nilErr.Error())
	require.Nil(t, nilErr.Unwrap())
}
