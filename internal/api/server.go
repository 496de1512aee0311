package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/DGTLMagician/hass-alarmclock/internal/alarm"

	"go.uber.org/zap"
)

// Server provides HTTP API endpoints for inspecting and commanding alarms
type Server struct {
	registry *alarm.Registry
	logger   *zap.Logger
	server   *http.Server
}

// NewServer creates a new API server listening on addr
func NewServer(registry *alarm.Registry, logger *zap.Logger, addr string) *Server {
	s := &Server{
		registry: registry,
		logger:   logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleSitemap)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/alarms", s.handleListAlarms)
	mux.HandleFunc("/api/alarms/", s.handleAlarm)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// AlarmResponse is the JSON shape of one alarm
type AlarmResponse struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Phase         string `json:"phase"`
	Enabled       bool   `json:"enabled"`
	AlarmTime     string `json:"alarm_time,omitempty"`
	SnoozeMinutes int    `json:"snooze_minutes"`
	SolarEvent    string `json:"solar_event,omitempty"`
	NextFireAt    string `json:"next_fire_at,omitempty"`
	SecondsToFire int64  `json:"seconds_to_fire,omitempty"`
}

// ErrorResponse carries an application error code and its description
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func alarmResponse(snap alarm.Snapshot, now time.Time) AlarmResponse {
	resp := AlarmResponse{
		ID:            snap.ID,
		Name:          snap.Name,
		Phase:         string(snap.Phase),
		Enabled:       snap.Enabled,
		AlarmTime:     snap.AlarmTime,
		SnoozeMinutes: snap.SnoozeMinutes,
		SolarEvent:    string(snap.SolarEvent),
	}
	if !snap.NextFireAt.IsZero() {
		resp.NextFireAt = snap.NextFireAt.Format(time.RFC3339)
		resp.SecondsToFire = int64(snap.NextFireAt.Sub(now).Seconds())
	}
	return resp
}

// statusFor maps application error codes onto HTTP status codes
func statusFor(err error) int {
	switch alarm.ErrorCode(err) {
	case alarm.ErrUnrecognizedFormat, alarm.ErrOutOfRange:
		return http.StatusBadRequest
	case alarm.ErrNotFound:
		return http.StatusNotFound
	case alarm.ErrInvalidState, alarm.ErrDuplicateIdentifier:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.respondJSON(w, statusFor(err), ErrorResponse{
		Error:   string(alarm.ErrorCode(err)),
		Message: alarm.ErrorDescription(err),
	})
}

// handleListAlarms returns every registered alarm as JSON
func (s *Server) handleListAlarms(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	alarms := s.registry.List()
	now := s.registry.Clock().Now()
	response := make([]AlarmResponse, 0, len(alarms))
	for _, a := range alarms {
		response = append(response, alarmResponse(a.Snapshot(), now))
	}

	s.respondJSON(w, http.StatusOK, response)

	s.logger.Debug("Alarm list served",
		zap.Int("count", len(response)),
		zap.String("remote_addr", r.RemoteAddr))
}

// handleAlarm serves one alarm: GET /api/alarms/{id} reads it and
// POST /api/alarms/{id}/{action} commands it.
func (s *Server) handleAlarm(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/alarms/")
	parts := strings.Split(rest, "/")

	switch {
	case len(parts) == 1 && parts[0] != "":
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		a, err := s.registry.Get(parts[0])
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.respondJSON(w, http.StatusOK, alarmResponse(a.Snapshot(), s.registry.Clock().Now()))

	case len(parts) == 2 && parts[0] != "" && parts[1] != "":
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.handleCommand(w, r, parts[0], parts[1])

	default:
		http.NotFound(w, r)
	}
}

// handleCommand applies one action to one alarm and replies with the
// resulting state.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request, id, action string) {
	a, err := s.registry.Get(id)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var cmdErr error
	switch action {
	case "set":
		var body struct {
			Time string `json:"time"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			s.writeError(w, alarm.Errorf(alarm.ErrUnrecognizedFormat, "request body is not valid JSON"))
			return
		}
		cmdErr = a.SetAlarm(body.Time)

	case "enable":
		cmdErr = a.Enable()

	case "disable":
		cmdErr = a.Disable()

	case "snooze":
		cmdErr = a.Snooze()

	case "stop":
		cmdErr = a.Stop()

	case "snooze_minutes":
		var body struct {
			Minutes int `json:"minutes"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			s.writeError(w, alarm.Errorf(alarm.ErrUnrecognizedFormat, "request body is not valid JSON"))
			return
		}
		cmdErr = a.SetSnoozeMinutes(body.Minutes)

	default:
		http.NotFound(w, r)
		return
	}

	if cmdErr != nil {
		s.writeError(w, cmdErr)
		return
	}

	s.respondJSON(w, http.StatusOK, alarmResponse(a.Snapshot(), s.registry.Clock().Now()))

	s.logger.Debug("Alarm command served",
		zap.String("alarm_id", id),
		zap.String("action", action),
		zap.String("remote_addr", r.RemoteAddr))
}

// handleHealth returns a simple health check response
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status": "ok",
	})
}

// Endpoint represents an API endpoint with its documentation
type Endpoint struct {
	Path        string `json:"path"`
	Method      string `json:"method"`
	Description string `json:"description"`
}

// handleSitemap returns a list of all available API endpoints
func (s *Server) handleSitemap(w http.ResponseWriter, r *http.Request) {
	// Only handle requests to the root path
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	endpoints := []Endpoint{
		{
			Path:        "/",
			Method:      "GET",
			Description: "This sitemap - lists all available API endpoints",
		},
		{
			Path:        "/health",
			Method:      "GET",
			Description: "Health check endpoint - returns {\"status\": \"ok\"}",
		},
		{
			Path:        "/api/alarms",
			Method:      "GET",
			Description: "List every alarm with its phase and next fire time",
		},
		{
			Path:        "/api/alarms/{id}",
			Method:      "GET",
			Description: "Get one alarm",
		},
		{
			Path:        "/api/alarms/{id}/set",
			Method:      "POST",
			Description: "Set the alarm time, e.g. {\"time\": \"07:00\"}",
		},
		{
			Path:        "/api/alarms/{id}/enable",
			Method:      "POST",
			Description: "Arm the alarm at its stored time",
		},
		{
			Path:        "/api/alarms/{id}/disable",
			Method:      "POST",
			Description: "Disarm the alarm, keeping its stored time",
		},
		{
			Path:        "/api/alarms/{id}/snooze",
			Method:      "POST",
			Description: "Snooze a ringing alarm",
		},
		{
			Path:        "/api/alarms/{id}/stop",
			Method:      "POST",
			Description: "Silence a ringing alarm and re-arm it for tomorrow",
		},
		{
			Path:        "/api/alarms/{id}/snooze_minutes",
			Method:      "POST",
			Description: "Change the snooze duration, e.g. {\"minutes\": 5}",
		},
	}

	// Browsers announce text/html; everything else gets plain text
	preferHTML := strings.Contains(r.Header.Get("Accept"), "text/html")

	// Return 404 status code (for automation compatibility) but with helpful body
	if preferHTML {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>Alarm Clock API</title>
    <style>
        body { font-family: monospace; margin: 40px; background: #1e1e1e; color: #d4d4d4; }
        h1 { color: #4ec9b0; }
        h2 { color: #569cd6; margin-top: 30px; }
        .endpoint { background: #2d2d2d; padding: 15px; margin: 10px 0; border-left: 3px solid #007acc; }
        .method { color: #4ec9b0; font-weight: bold; }
        .path { color: #ce9178; }
        .description { color: #9cdcfe; margin-top: 5px; }
        a { color: #569cd6; text-decoration: none; }
        a:hover { text-decoration: underline; }
    </style>
</head>
<body>
    <h1>Alarm Clock API</h1>
    <p>Welcome! This API inspects and commands the virtual alarm clocks.</p>
    <h2>Available Endpoints</h2>
`)
		for _, ep := range endpoints {
			fmt.Fprintf(w, `    <div class="endpoint">
        <div><span class="method">%s</span> <span class="path">%s</span></div>
        <div class="description">%s</div>
    </div>
`, ep.Method, ep.Path, ep.Description)
		}
		fmt.Fprintf(w, `    <h2>Examples</h2>
    <div class="endpoint">
        <div>List all alarms:</div>
        <div class="description">curl <a href="/api/alarms">http://localhost:8082/api/alarms</a></div>
    </div>
    <div class="endpoint">
        <div>Snooze a ringing alarm:</div>
        <div class="description">curl -X POST http://localhost:8082/api/alarms/wake/snooze</div>
    </div>
</body>
</html>
`)
	} else {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintf(w, "Alarm Clock API\n")
		fmt.Fprintf(w, "===============\n\n")
		fmt.Fprintf(w, "Available endpoints:\n\n")
		for _, ep := range endpoints {
			fmt.Fprintf(w, "  %-6s %-36s %s\n", ep.Method, ep.Path, ep.Description)
		}
		fmt.Fprintf(w, "\nExamples:\n\n")
		fmt.Fprintf(w, "  List all alarms:\n")
		fmt.Fprintf(w, "    curl http://localhost:8082/api/alarms | jq\n\n")
		fmt.Fprintf(w, "  Set the wake alarm to 07:00:\n")
		fmt.Fprintf(w, "    curl -X POST -d '{\"time\": \"07:00\"}' http://localhost:8082/api/alarms/wake/set\n\n")
		fmt.Fprintf(w, "  Snooze a ringing alarm:\n")
		fmt.Fprintf(w, "    curl -X POST http://localhost:8082/api/alarms/wake/snooze\n\n")
	}

	s.logger.Debug("Sitemap request served",
		zap.String("remote_addr", r.RemoteAddr),
		zap.Bool("html_format", preferHTML))
}

// Start begins serving HTTP requests
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP API server", zap.String("addr", s.server.Addr))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop() error {
	s.logger.Info("Stopping HTTP API server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	return nil
}
