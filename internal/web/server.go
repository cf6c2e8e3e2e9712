// Package web serves the HTTP status API and the websocket event stream.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"gpstrack/internal/fix"
	"gpstrack/internal/geofence"
	"gpstrack/internal/pipeline"
	"gpstrack/internal/replay"
	"gpstrack/internal/trip"
	"gpstrack/internal/units"
)

type Config struct {
	// Addr is the HTTP listen address. Default ":8080".
	Addr  string
	Units units.System
}

// Providers are the read-side hooks the status endpoint pulls from. Zones,
// OpenTrip and Session may be nil when the corresponding feature is off.
type Providers struct {
	Stats    func() pipeline.Stats
	Zones    func() map[string]geofence.State
	OpenTrip func() *trip.Trip
	Session  *replay.Session
}

// Server exposes /api/status, /api/fix, the /ws event stream and, when a
// replay session is attached, the /api/replay controls.
type Server struct {
	cfg Config
	log logrus.FieldLogger
	hub *hub

	lastFix atomic.Value // fix.Snapshot

	stats   func() pipeline.Stats
	zones   func() map[string]geofence.State
	open    func() *trip.Trip
	session *replay.Session

	srv *http.Server
}

func NewServer(cfg Config, p Providers, log logrus.FieldLogger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Server{
		cfg:     cfg,
		log:     log,
		hub:     newHub(log),
		stats:   p.Stats,
		zones:   p.Zones,
		open:    p.OpenTrip,
		session: p.Session,
	}

	r := mux.NewRouter()
	r.HandleFunc("/api/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/fix", s.handleFix).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.handleWS)
	if s.session != nil {
		r.HandleFunc("/api/replay/{action}", s.handleReplay).Methods(http.MethodPost)
	}

	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the route tree, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Run serves until the context is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.srv.ListenAndServe()
	}()
	s.log.WithField("addr", s.cfg.Addr).Info("http server listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		s.hub.closeAll()
		_ = s.srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// wsMessage is the envelope every websocket broadcast uses.
type wsMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// BroadcastFix records the snapshot as last-known and streams it.
func (s *Server) BroadcastFix(snap fix.Snapshot) {
	s.lastFix.Store(snap)
	s.hub.broadcast(wsMessage{Type: "fix", Data: snap})
}

func (s *Server) BroadcastGeofence(ev geofence.Event) {
	s.hub.broadcast(wsMessage{Type: "geofence", Data: ev})
}

// BroadcastTrip streams lifecycle events as "trip" and braking/cornering
// as "driving".
func (s *Server) BroadcastTrip(ev trip.Event) {
	typ := "trip"
	if ev.Kind == trip.HardBraking || ev.Kind == trip.SharpCornering {
		typ = "driving"
	}
	s.hub.broadcast(wsMessage{Type: typ, Data: ev})
}

type statusResponse struct {
	Fix      *fix.Snapshot     `json:"fix,omitempty"`
	Speed    string            `json:"speed,omitempty"`
	Altitude string            `json:"altitude,omitempty"`
	Stats    pipeline.Stats    `json:"stats"`
	Zones    map[string]string `json:"zones,omitempty"`
	Trip     *tripStatus       `json:"trip,omitempty"`
	Replay   *replayStatus     `json:"replay,omitempty"`
}

type tripStatus struct {
	DistanceM float64 `json:"distance_m"`
	Distance  string  `json:"distance"`
	MaxSpeed  string  `json:"max_speed"`
	Duration  string  `json:"duration"`
}

type replayStatus struct {
	State  string `json:"state"`
	Cursor int    `json:"cursor"`
	Total  int    `json:"total"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	var resp statusResponse
	if s.stats != nil {
		resp.Stats = s.stats()
	}
	if snap, ok := s.lastFix.Load().(fix.Snapshot); ok {
		resp.Fix = &snap
		resp.Speed = s.cfg.Units.FormatSpeed(snap.SpeedMps)
		resp.Altitude = s.cfg.Units.FormatAltitude(snap.AltM)
	}
	if s.zones != nil {
		resp.Zones = make(map[string]string)
		for name, st := range s.zones() {
			resp.Zones[name] = st.String()
		}
	}
	if s.open != nil {
		if t := s.open(); t != nil {
			resp.Trip = &tripStatus{
				DistanceM: t.DistanceM,
				Distance:  s.cfg.Units.FormatDistance(t.DistanceM),
				MaxSpeed:  s.cfg.Units.FormatSpeed(t.MaxSpeedMps),
				Duration:  t.Duration.Round(time.Second).String(),
			}
		}
	}
	if s.session != nil {
		cur, total := s.session.Position()
		resp.Replay = &replayStatus{
			State:  s.session.State().String(),
			Cursor: cur,
			Total:  total,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleFix(w http.ResponseWriter, _ *http.Request) {
	snap, ok := s.lastFix.Load().(fix.Snapshot)
	if !ok {
		http.Error(w, "no fix yet", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	var greeting []byte
	if snap, ok := s.lastFix.Load().(fix.Snapshot); ok {
		greeting, _ = json.Marshal(wsMessage{Type: "fix", Data: snap})
	}
	s.hub.handle(w, r, greeting)
}

func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	switch mux.Vars(r)["action"] {
	case "pause":
		s.session.Pause()
	case "resume":
		s.session.Resume()
	case "stop":
		s.session.Stop()
	case "seek":
		pos, err := strconv.Atoi(r.URL.Query().Get("pos"))
		if err != nil {
			http.Error(w, "pos must be an integer", http.StatusBadRequest)
			return
		}
		if err := s.session.Seek(pos); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	default:
		http.Error(w, "unknown action", http.StatusNotFound)
		return
	}
	cur, total := s.session.Position()
	writeJSON(w, http.StatusOK, replayStatus{
		State:  s.session.State().String(),
		Cursor: cur,
		Total:  total,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
