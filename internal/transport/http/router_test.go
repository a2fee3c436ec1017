package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carebook/internal/domain"
	"carebook/internal/service/appointments"
	"carebook/internal/service/availability"
	"carebook/internal/store/memory"
)

const testSecret = "test-secret"

// 2026-03-02 is a Monday; the clock is pinned a day earlier.
var testNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type testServer struct {
	handler http.Handler
	store   *memory.Store
}

func newTestServer(t *testing.T, mutate func(*Config)) *testServer {
	t.Helper()

	st := memory.New()
	for _, provider := range []string{"p1", "p2"} {
		st.AddWindow(domain.AvailabilityWindow{
			TenantID: "t1", ProviderID: provider, DayOfWeek: 1,
			StartTime: domain.MustParseClock("09:00"), EndTime: domain.MustParseClock("12:00"), IsActive: true,
		})
		st.AddBreak(domain.Break{
			TenantID: "t1", ProviderID: provider, DayOfWeek: 1,
			StartTime: domain.MustParseClock("10:00"), EndTime: domain.MustParseClock("10:30"), IsActive: true,
		})
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := func() time.Time { return testNow }
	cfg := Config{
		Logger:       log,
		Availability: availability.NewService(st, st, availability.Config{Logger: log, Now: clock}),
		Appointments: appointments.NewService(st, nil, nil, appointments.Config{Logger: log, Now: clock}),
		Schedules:    st,
		JWTSecret:    testSecret,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return &testServer{handler: NewRouter(cfg), store: st}
}

func token(t *testing.T, sub string, role domain.Role) string {
	t.Helper()
	claims := Claims{
		Role:     string(role),
		TenantID: "t1",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func (s *testServer) do(t *testing.T, method, path, bearer string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *errorBody      `json:"error"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) apiResponse {
	t.Helper()
	var out apiResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func requireErrorCode(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	require.Equal(t, status, rec.Code, rec.Body.String())
	res := decode(t, rec)
	assert.False(t, res.Success)
	require.NotNil(t, res.Error)
	assert.Equal(t, code, res.Error.Code)
}

func bookBody(start string) map[string]any {
	return map[string]any{
		"tenant_id":        "t1",
		"doctor_id":        "p1",
		"service_id":       "svc-1",
		"date":             "2026-03-02",
		"start_time":       start,
		"duration_minutes": 30,
	}
}

func book(t *testing.T, s *testServer, start string) appointmentDTO {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/appointments", token(t, "u1", domain.RolePatient), bookBody(start))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var appt appointmentDTO
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &appt))
	return appt
}

func TestHealthAndReadiness(t *testing.T) {
	s := newTestServer(t, func(c *Config) {
		c.Ready = func(ctx context.Context) error { return errors.New("db down") }
	})

	rec := s.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"unavailable"}`, rec.Body.String())
}

func TestDayAvailability(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/availability?doctorId=p1&date=2026-03-02&tenantId=t1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var times []string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &times))
	assert.Equal(t, []string{"09:00", "09:30", "10:30", "11:00", "11:30"}, times)

	rec = s.do(t, http.MethodGet, "/availability?doctorId=p1&date=2026-03-03&tenantId=t1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestDayAvailability_TenantFromToken(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/availability?doctorId=p1&date=2026-03-02", token(t, "u1", domain.RolePatient), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var times []string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &times))
	assert.Len(t, times, 5)
}

func TestDayAvailability_BadInput(t *testing.T) {
	s := newTestServer(t, nil)

	cases := []struct {
		name string
		path string
	}{
		{"missing date", "/availability?doctorId=p1&tenantId=t1"},
		{"bad date", "/availability?doctorId=p1&tenantId=t1&date=03/02/2026"},
		{"missing doctor", "/availability?tenantId=t1&date=2026-03-02"},
		{"missing tenant", "/availability?doctorId=p1&date=2026-03-02"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			requireErrorCode(t, s.do(t, http.MethodGet, tc.path, "", nil), http.StatusBadRequest, codeInvalidParameters)
		})
	}
}

func TestAvailableSlots(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/doctors/p1/available-slots?tenant_id=t1&base_date=2026-03-02&duration_minutes=60&suggestion_type=next_week", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	res := decode(t, rec)
	require.True(t, res.Success)
	var data searchDTO
	require.NoError(t, json.Unmarshal(res.Data, &data))

	assert.Equal(t, "p1", data.DoctorID)
	assert.Equal(t, "t1", data.TenantID)
	assert.Equal(t, dateRangeDTO{Start: "2026-03-02", End: "2026-03-09"}, data.DateRange)
	assert.Equal(t, 60, data.DurationMinutes)
	require.Len(t, data.Days, 8)
	assert.Equal(t, 4, data.TotalSlots)

	first := data.Days[0]
	assert.Equal(t, "Monday", first.DayName)
	assert.Equal(t, 2, first.SlotCount)
	assert.Equal(t, "09:00", first.Slots[0].StartTime)
	assert.Equal(t, "10:00", first.Slots[0].EndTime)
	assert.Equal(t, "11:00", first.Slots[1].StartTime)

	require.Len(t, data.NextAvailable, 4)
	assert.Equal(t, "2026-03-09", data.NextAvailable[3].Date)
}

func TestAvailableSlots_RequiredParameters(t *testing.T) {
	s := newTestServer(t, nil)

	cases := []struct {
		missing string
		query   string
	}{
		{"base_date", "duration_minutes=30&suggestion_type=next_week"},
		{"duration_minutes", "base_date=2026-03-02&suggestion_type=next_week"},
		{"suggestion_type", "base_date=2026-03-02&duration_minutes=30"},
	}
	for _, tc := range cases {
		t.Run(tc.missing, func(t *testing.T) {
			rec := s.do(t, http.MethodGet, "/doctors/p1/available-slots?tenant_id=t1&"+tc.query, "", nil)
			requireErrorCode(t, rec, http.StatusBadRequest, codeInvalidParameters)
			assert.Equal(t, tc.missing+" is required", decode(t, rec).Error.Message)
		})
	}
}

func TestAvailableSlots_Validation(t *testing.T) {
	s := newTestServer(t, nil)

	valid := map[string]string{
		"base_date":        "2026-03-02",
		"duration_minutes": "30",
		"suggestion_type":  "next_week",
	}
	cases := []struct {
		param string
		value string
	}{
		{"suggestion_type", "fortnight"},
		{"duration_minutes", "abc"},
		{"duration_minutes", "4"},
		{"max_per_day", "-1"},
		{"base_date", "tomorrow"},
	}
	for _, tc := range cases {
		t.Run(tc.param+"="+tc.value, func(t *testing.T) {
			q := url.Values{"tenant_id": {"t1"}}
			for k, v := range valid {
				q.Set(k, v)
			}
			q.Set(tc.param, tc.value)
			rec := s.do(t, http.MethodGet, "/doctors/p1/available-slots?"+q.Encode(), "", nil)
			requireErrorCode(t, rec, http.StatusBadRequest, codeInvalidParameters)
		})
	}
}

func TestBookAppointment(t *testing.T) {
	s := newTestServer(t, nil)

	appt := book(t, s, "09:00")
	assert.Equal(t, "u1", appt.PatientID)
	assert.Equal(t, "p1", appt.DoctorID)
	assert.Equal(t, "09:30", appt.EndTime)
	assert.Equal(t, string(domain.StatusPending), appt.Status)

	rec := s.do(t, http.MethodGet, "/availability?doctorId=p1&date=2026-03-02&tenantId=t1", "", nil)
	var times []string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &times))
	assert.NotContains(t, times, "09:00")

	rec = s.do(t, http.MethodPost, "/appointments", token(t, "u2", domain.RolePatient), bookBody("09:00"))
	requireErrorCode(t, rec, http.StatusConflict, codeConflict)
}

func TestBookAppointment_AutoConfirmNeedsStaff(t *testing.T) {
	s := newTestServer(t, nil)

	cases := []struct {
		name   string
		bearer string
		start  string
		want   domain.Status
	}{
		{"patient", token(t, "u1", domain.RolePatient), "09:00", domain.StatusPending},
		{"provider", token(t, "p1", domain.RoleProvider), "09:30", domain.StatusConfirmed},
		{"admin", token(t, "a1", domain.RoleAdmin), "11:00", domain.StatusConfirmed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body := bookBody(tc.start)
			body["auto_confirm"] = true
			rec := s.do(t, http.MethodPost, "/appointments", tc.bearer, body)
			require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

			var appt appointmentDTO
			require.NoError(t, json.Unmarshal(decode(t, rec).Data, &appt))
			assert.Equal(t, string(tc.want), appt.Status)
		})
	}
}

func TestBookAppointment_Errors(t *testing.T) {
	s := newTestServer(t, nil)
	patient := token(t, "u1", domain.RolePatient)

	rec := s.do(t, http.MethodPost, "/appointments", "", bookBody("09:00"))
	requireErrorCode(t, rec, http.StatusUnauthorized, codeUnauthorized)

	rec = s.do(t, http.MethodPost, "/appointments", "not-a-jwt", bookBody("09:00"))
	requireErrorCode(t, rec, http.StatusUnauthorized, codeUnauthorized)

	rec = s.do(t, http.MethodPost, "/appointments", patient, bookBody("08:00"))
	requireErrorCode(t, rec, http.StatusBadRequest, codeInvalidWindow)

	rec = s.do(t, http.MethodPost, "/appointments", patient, bookBody("10:15"))
	requireErrorCode(t, rec, http.StatusConflict, codeConflict)

	rec = s.do(t, http.MethodPost, "/appointments", patient, bookBody("9am"))
	requireErrorCode(t, rec, http.StatusBadRequest, codeInvalidParameters)

	body := bookBody("09:00")
	body["surprise"] = true
	rec = s.do(t, http.MethodPost, "/appointments", patient, body)
	requireErrorCode(t, rec, http.StatusBadRequest, codeInvalidParameters)
}

func TestBookAppointment_IdempotentReplay(t *testing.T) {
	s := newTestServer(t, nil)
	patient := token(t, "u1", domain.RolePatient)

	first := s.do(t, http.MethodPost, "/appointments", patient, bookBody("09:00"), headerIdempotencyKey, "k-1")
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())

	second := s.do(t, http.MethodPost, "/appointments", patient, bookBody("09:00"), headerIdempotencyKey, "k-1")
	require.Equal(t, http.StatusOK, second.Code, second.Body.String())
	assert.Equal(t, "true", second.Header().Get(headerReplayed))

	var a, b appointmentDTO
	require.NoError(t, json.Unmarshal(decode(t, first).Data, &a))
	require.NoError(t, json.Unmarshal(decode(t, second).Data, &b))
	assert.Equal(t, a.ID, b.ID)

	other := s.do(t, http.MethodPost, "/appointments", patient, bookBody("11:00"), headerIdempotencyKey, "k-1")
	requireErrorCode(t, other, http.StatusConflict, codeConflict)
}

func TestGetAppointment(t *testing.T) {
	s := newTestServer(t, nil)
	appt := book(t, s, "09:00")
	path := "/appointments/" + appt.ID

	cases := []struct {
		name   string
		bearer string
		status int
	}{
		{"patient", token(t, "u1", domain.RolePatient), http.StatusOK},
		{"provider", token(t, "p1", domain.RoleProvider), http.StatusOK},
		{"admin", token(t, "a1", domain.RoleAdmin), http.StatusOK},
		{"other patient", token(t, "u2", domain.RolePatient), http.StatusForbidden},
		{"anonymous", "", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := s.do(t, http.MethodGet, path, tc.bearer, nil)
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
		})
	}

	patient := token(t, "u1", domain.RolePatient)
	requireErrorCode(t, s.do(t, http.MethodGet, "/appointments/6f1c2f0e-5d6b-4a3c-9e7f-1a2b3c4d5e6f", patient, nil), http.StatusNotFound, codeNotFound)
	requireErrorCode(t, s.do(t, http.MethodGet, "/appointments/nope", patient, nil), http.StatusBadRequest, codeInvalidParameters)
}

func TestCancelAppointment(t *testing.T) {
	s := newTestServer(t, nil)
	appt := book(t, s, "11:00")
	path := "/appointments/" + appt.ID + "/cancel"

	rec := s.do(t, http.MethodPut, path, token(t, "p1", domain.RoleProvider), nil)
	requireErrorCode(t, rec, http.StatusForbidden, codeForbidden)

	rec = s.do(t, http.MethodPut, path, token(t, "u1", domain.RolePatient), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var cancelled appointmentDTO
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &cancelled))
	assert.Equal(t, string(domain.StatusCancelled), cancelled.Status)

	rec = s.do(t, http.MethodPut, path, token(t, "u1", domain.RolePatient), nil)
	requireErrorCode(t, rec, http.StatusBadRequest, codePreconditionFailed)
}

func TestCancelAppointment_InsideNoticeWindow(t *testing.T) {
	s := newTestServer(t, func(c *Config) {
		clock := func() time.Time { return testNow.Add(2 * time.Hour) }
		c.Appointments = appointments.NewService(c.Schedules.(*memory.Store), nil, nil, appointments.Config{Now: clock, Logger: c.Logger})
	})
	appt := book(t, s, "09:00")

	rec := s.do(t, http.MethodPut, "/appointments/"+appt.ID+"/cancel", token(t, "u1", domain.RolePatient), nil)
	requireErrorCode(t, rec, http.StatusBadRequest, codePreconditionFailed)
}

func TestUpdateAppointmentStatus(t *testing.T) {
	s := newTestServer(t, nil)
	appt := book(t, s, "09:00")
	provider := token(t, "p1", domain.RoleProvider)

	rec := s.do(t, http.MethodPut, "/doctors/p1/appointments", provider, map[string]any{
		"appointmentId": appt.ID,
		"status":        "confirmed",
		"notes":         "bring referral",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var updated appointmentDTO
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &updated))
	assert.Equal(t, string(domain.StatusConfirmed), updated.Status)
	assert.Equal(t, "bring referral", updated.Notes)

	cases := []struct {
		name   string
		path   string
		bearer string
		body   map[string]any
		status int
		code   string
	}{
		{"other caller", "/doctors/p1/appointments", token(t, "p2", domain.RoleProvider), map[string]any{"appointmentId": appt.ID, "status": "completed"}, http.StatusForbidden, codeForbidden},
		{"other provider", "/doctors/p2/appointments", token(t, "p2", domain.RoleProvider), map[string]any{"appointmentId": appt.ID, "status": "completed"}, http.StatusNotFound, codeNotFound},
		{"unknown status", "/doctors/p1/appointments", provider, map[string]any{"appointmentId": appt.ID, "status": "done"}, http.StatusBadRequest, codeInvalidParameters},
		{"back to pending", "/doctors/p1/appointments", provider, map[string]any{"appointmentId": appt.ID, "status": "pending"}, http.StatusBadRequest, codePreconditionFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			requireErrorCode(t, s.do(t, http.MethodPut, tc.path, tc.bearer, tc.body), tc.status, tc.code)
		})
	}
}

func TestSchedule_ReplaceAndGet(t *testing.T) {
	s := newTestServer(t, nil)
	provider := token(t, "p1", domain.RoleProvider)

	rec := s.do(t, http.MethodPut, "/doctors/p1/schedule", provider, map[string]any{
		"tenant_id": "t1",
		"windows": []map[string]any{
			{"day_of_week": 2, "start_time": "13:00", "end_time": "15:00"},
		},
		"breaks": []map[string]any{},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/doctors/p1/schedule?tenant_id=t1", token(t, "a1", domain.RoleAdmin), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var got scheduleDTO
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &got))
	require.Len(t, got.Windows, 1)
	assert.Equal(t, "Tuesday", got.Windows[0].DayName)
	require.NotNil(t, got.Windows[0].IsActive)
	assert.True(t, *got.Windows[0].IsActive)
	assert.Empty(t, got.Breaks)

	rec = s.do(t, http.MethodGet, "/availability?doctorId=p1&date=2026-03-03&tenantId=t1", "", nil)
	var times []string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &times))
	assert.Equal(t, []string{"13:00", "13:30", "14:00", "14:30"}, times)
}

func TestSchedule_Rejects(t *testing.T) {
	s := newTestServer(t, nil)
	provider := token(t, "p1", domain.RoleProvider)

	rec := s.do(t, http.MethodPut, "/doctors/p1/schedule", provider, map[string]any{
		"windows": []map[string]any{{"day_of_week": 7, "start_time": "09:00", "end_time": "10:00"}},
	})
	requireErrorCode(t, rec, http.StatusBadRequest, codeInvalidParameters)

	rec = s.do(t, http.MethodPut, "/doctors/p1/schedule", provider, map[string]any{
		"windows": []map[string]any{{"day_of_week": 1, "start_time": "10:00", "end_time": "09:00"}},
	})
	requireErrorCode(t, rec, http.StatusBadRequest, codeInvalidParameters)

	rec = s.do(t, http.MethodGet, "/doctors/p1/schedule", token(t, "u1", domain.RolePatient), nil)
	requireErrorCode(t, rec, http.StatusForbidden, codeForbidden)

	rec = s.do(t, http.MethodPut, "/doctors/p1/schedule", token(t, "p2", domain.RoleProvider), map[string]any{"windows": []map[string]any{}})
	requireErrorCode(t, rec, http.StatusForbidden, codeForbidden)
}

func TestRateLimit_BookingWrites(t *testing.T) {
	s := newTestServer(t, func(c *Config) {
		c.RateLimit = 0.001
		c.RateBurst = 1
	})
	patient := token(t, "u1", domain.RolePatient)

	rec := s.do(t, http.MethodPost, "/appointments", patient, bookBody("09:00"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/appointments", patient, bookBody("11:00"))
	requireErrorCode(t, rec, http.StatusTooManyRequests, codeRateLimited)

	rec = s.do(t, http.MethodPost, "/appointments", token(t, "u2", domain.RolePatient), bookBody("11:00"))
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestRequestTimeout_SetsDeadline(t *testing.T) {
	var deadline bool
	h := RequestTimeout(time.Second)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, deadline = r.Context().Deadline()
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, deadline)
}

func TestAuthenticate_RejectsOtherAlgorithms(t *testing.T) {
	claims := Claims{Role: "patient", TenantID: "t1", RegisteredClaims: jwt.RegisteredClaims{Subject: "u1"}}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	var reached bool
	h := Authenticate(testSecret, slog.New(slog.NewTextHandler(io.Discard, nil)))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+unsigned)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.False(t, reached)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
