package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/DGTLMagician/hass-alarmclock/internal/alarm"
	"github.com/DGTLMagician/hass-alarmclock/internal/clock"
)

type apiFixture struct {
	server *Server
	clk    *clock.MockClock
	wake   *alarm.Alarm
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	logger, _ := zap.NewDevelopment()
	clk := clock.NewMockClock(time.Date(2024, 5, 14, 6, 0, 0, 0, time.UTC))
	registry := alarm.NewRegistry(clk, nil, zap.NewNop())
	t.Cleanup(registry.Close)

	wake, err := registry.Register(alarm.Config{ID: "wake", Name: "Wake Up", SnoozeMinutes: 5})
	if err != nil {
		t.Fatalf("Failed to register alarm: %v", err)
	}

	return &apiFixture{
		server: NewServer(registry, logger, ":0"),
		clk:    clk,
		wake:   wake,
	}
}

// do runs one request through the full route table
func (f *apiFixture) do(method, path, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	w := httptest.NewRecorder()
	f.server.server.Handler.ServeHTTP(w, req)
	return w
}

func decodeAlarm(t *testing.T, w *httptest.ResponseRecorder) AlarmResponse {
	t.Helper()
	var resp AlarmResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode alarm response: %v", err)
	}
	return resp
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode error response: %v", err)
	}
	return resp
}

func TestListAlarms(t *testing.T) {
	f := newAPIFixture(t)
	if err := f.wake.SetAlarm("07:00"); err != nil {
		t.Fatalf("Failed to set alarm: %v", err)
	}

	w := f.do(http.MethodGet, "/api/alarms", "")

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected Content-Type application/json, got %s", ct)
	}

	var alarms []AlarmResponse
	if err := json.NewDecoder(w.Body).Decode(&alarms); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(alarms) != 1 {
		t.Fatalf("Expected 1 alarm, got %d", len(alarms))
	}
	if alarms[0].ID != "wake" || alarms[0].Name != "Wake Up" {
		t.Errorf("Unexpected identity: %+v", alarms[0])
	}
	if alarms[0].Phase != "armed" {
		t.Errorf("Expected phase armed, got %s", alarms[0].Phase)
	}
	if alarms[0].AlarmTime != "07:00:00" {
		t.Errorf("Expected alarm time 07:00:00, got %s", alarms[0].AlarmTime)
	}
	if alarms[0].NextFireAt != "2024-05-14T07:00:00Z" {
		t.Errorf("Unexpected next fire time: %s", alarms[0].NextFireAt)
	}
	if alarms[0].SecondsToFire != 3600 {
		t.Errorf("Expected 3600 seconds to fire, got %d", alarms[0].SecondsToFire)
	}
}

func TestGetAlarm(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(http.MethodGet, "/api/alarms/wake", "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	resp := decodeAlarm(t, w)
	if resp.ID != "wake" || resp.Phase != "idle" {
		t.Errorf("Unexpected alarm: %+v", resp)
	}
	if resp.SnoozeMinutes != 5 {
		t.Errorf("Expected snooze minutes 5, got %d", resp.SnoozeMinutes)
	}

	w = f.do(http.MethodGet, "/api/alarms/missing", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
	errResp := decodeError(t, w)
	if errResp.Error != "not_found" {
		t.Errorf("Expected error not_found, got %s", errResp.Error)
	}
	if !strings.Contains(errResp.Message, `"missing"`) {
		t.Errorf("Expected message to quote the id, got %q", errResp.Message)
	}
}

func TestSetAlarmCommand(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(http.MethodPost, "/api/alarms/wake/set", `{"time": "6:30"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decodeAlarm(t, w)
	if resp.Phase != "armed" || resp.AlarmTime != "06:30:00" {
		t.Errorf("Unexpected alarm after set: %+v", resp)
	}

	// A rejected time reports the offending input and changes nothing.
	w = f.do(http.MethodPost, "/api/alarms/wake/set", `{"time": "25:00"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
	errResp := decodeError(t, w)
	if errResp.Error != "out_of_range" {
		t.Errorf("Expected error out_of_range, got %s", errResp.Error)
	}
	if !strings.Contains(errResp.Message, `"25:00"`) {
		t.Errorf("Expected message to quote the input, got %q", errResp.Message)
	}
	if got := f.wake.Snapshot().AlarmTime; got != "06:30:00" {
		t.Errorf("Alarm time changed after rejected set: %s", got)
	}

	w = f.do(http.MethodPost, "/api/alarms/wake/set", `{"time": `)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for malformed body, got %d", w.Code)
	}
	if errResp := decodeError(t, w); errResp.Error != "unrecognized_format" {
		t.Errorf("Expected error unrecognized_format, got %s", errResp.Error)
	}
}

func TestCommandStateConflicts(t *testing.T) {
	f := newAPIFixture(t)
	if err := f.wake.SetAlarm("07:00"); err != nil {
		t.Fatalf("Failed to set alarm: %v", err)
	}

	// Snoozing an alarm that is not ringing conflicts with its phase.
	w := f.do(http.MethodPost, "/api/alarms/wake/snooze", "")
	if w.Code != http.StatusConflict {
		t.Errorf("Expected status 409, got %d", w.Code)
	}
	if errResp := decodeError(t, w); errResp.Error != "invalid_state" {
		t.Errorf("Expected error invalid_state, got %s", errResp.Error)
	}

	w = f.do(http.MethodPost, "/api/alarms/wake/disable", "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if resp := decodeAlarm(t, w); resp.Phase != "idle" || resp.Enabled {
		t.Errorf("Unexpected alarm after disable: %+v", resp)
	}

	w = f.do(http.MethodPost, "/api/alarms/wake/disable", "")
	if w.Code != http.StatusConflict {
		t.Errorf("Expected status 409 for double disable, got %d", w.Code)
	}

	w = f.do(http.MethodPost, "/api/alarms/wake/enable", "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if resp := decodeAlarm(t, w); resp.Phase != "armed" {
		t.Errorf("Expected phase armed after enable, got %s", resp.Phase)
	}
}

func TestSnoozeAndStopOverAPI(t *testing.T) {
	f := newAPIFixture(t)
	if err := f.wake.SetAlarm("07:00"); err != nil {
		t.Fatalf("Failed to set alarm: %v", err)
	}
	f.clk.Advance(time.Hour)

	w := f.do(http.MethodPost, "/api/alarms/wake/snooze", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decodeAlarm(t, w)
	if resp.Phase != "snoozed" {
		t.Errorf("Expected phase snoozed, got %s", resp.Phase)
	}
	if resp.NextFireAt != "2024-05-14T07:05:00Z" {
		t.Errorf("Unexpected snooze fire time: %s", resp.NextFireAt)
	}
	if resp.SecondsToFire != 300 {
		t.Errorf("Expected 300 seconds to fire, got %d", resp.SecondsToFire)
	}

	f.clk.Advance(5 * time.Minute)

	w = f.do(http.MethodPost, "/api/alarms/wake/stop", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	resp = decodeAlarm(t, w)
	if resp.Phase != "armed" {
		t.Errorf("Expected phase armed after stop, got %s", resp.Phase)
	}
	if resp.NextFireAt != "2024-05-15T07:00:00Z" {
		t.Errorf("Expected re-arm for tomorrow, got %s", resp.NextFireAt)
	}
}

func TestSnoozeMinutesCommand(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(http.MethodPost, "/api/alarms/wake/snooze_minutes", `{"minutes": 7}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if resp := decodeAlarm(t, w); resp.SnoozeMinutes != 7 {
		t.Errorf("Expected snooze minutes 7, got %d", resp.SnoozeMinutes)
	}

	w = f.do(http.MethodPost, "/api/alarms/wake/snooze_minutes", `{"minutes": 0}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
	if errResp := decodeError(t, w); errResp.Error != "out_of_range" {
		t.Errorf("Expected error out_of_range, got %s", errResp.Error)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(http.MethodPost, "/api/alarms", "")
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", w.Code)
	}

	w = f.do(http.MethodGet, "/api/alarms/wake/snooze", "")
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", w.Code)
	}
}

func TestUnknownAction(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(http.MethodPost, "/api/alarms/wake/explode", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestHandleHealth(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var response map[string]string
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if response["status"] != "ok" {
		t.Errorf("Expected status 'ok', got '%s'", response["status"])
	}
}

func TestSitemap(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(http.MethodGet, "/", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Expected plain text sitemap, got %s", ct)
	}
	if body := w.Body.String(); !strings.Contains(body, "/api/alarms/{id}/snooze") {
		t.Errorf("Sitemap does not list the snooze endpoint:\n%s", body)
	}

	// Browsers get the HTML rendering.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	rec := httptest.NewRecorder()
	f.server.server.Handler.ServeHTTP(rec, req)
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Expected HTML sitemap for browsers, got %s", ct)
	}

	// Anything else under / is a plain 404.
	w = f.do(http.MethodGet, "/nope", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
	if body := w.Body.String(); !strings.Contains(body, "404 page not found") {
		t.Errorf("Expected the standard 404 body, got %q", body)
	}
}
