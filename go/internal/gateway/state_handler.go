package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tandem/go/internal/backend"
	"github.com/mcdev12/tandem/go/internal/countdown"
	"github.com/mcdev12/tandem/go/internal/location"
	"github.com/mcdev12/tandem/go/internal/presence"
	"github.com/mcdev12/tandem/go/internal/votes"
)

type CountdownSource interface {
	Current() (countdown.View, bool)
}

type PresenceSource interface {
	State() presence.State
}

type LocationSource interface {
	Last() (location.Coordinate, bool)
}

type VoteService interface {
	Tallies() map[string]votes.Tally
	Vote(ctx context.Context, itemID string, d votes.Direction) (votes.Tally, error)
}

type CitySource interface {
	CityCounts(ctx context.Context) ([]backend.CityPresenceCount, error)
}

// Sources is everything the REST handlers read from. Nil members are
// reported as unavailable.
type Sources struct {
	Countdown CountdownSource
	Presence  PresenceSource
	Location  LocationSource
	Votes     VoteService
	Cities    CitySource
}

type StateResponse struct {
	Countdown  *countdown.View        `json:"countdown,omitempty"`
	Presence   *presence.State        `json:"presence,omitempty"`
	Location   *location.Coordinate   `json:"location,omitempty"`
	Votes      map[string]votes.Tally `json:"votes,omitempty"`
	ServerTime time.Time              `json:"server_time"`
}

type VoteRequest struct {
	ItemID    string `json:"item_id"`
	Direction string `json:"direction"`
}

type VoteResponse struct {
	ItemID string      `json:"item_id"`
	Tally  votes.Tally `json:"tally"`
	Error  string      `json:"error,omitempty"`
}

type CitiesResponse struct {
	Cities []backend.CityPresenceCount `json:"cities"`
}

type StateHandler struct {
	sources Sources
}

func NewStateHandler(sources Sources) *StateHandler {
	return &StateHandler{sources: sources}
}

func (h *StateHandler) RegisterStateRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/state", h.HandleState)
	mux.HandleFunc("/api/votes", h.HandleVote)
	mux.HandleFunc("/api/cities", h.HandleCities)
	mux.HandleFunc("/health", h.HandleHealth)
}

// HandleState returns the current view of every component.
func (h *StateHandler) HandleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := StateResponse{ServerTime: time.Now().UTC()}
	if h.sources.Countdown != nil {
		if view, ok := h.sources.Countdown.Current(); ok {
			resp.Countdown = &view
		}
	}
	if h.sources.Presence != nil {
		state := h.sources.Presence.State()
		resp.Presence = &state
	}
	if h.sources.Location != nil {
		if coord, ok := h.sources.Location.Last(); ok {
			resp.Location = &coord
		}
	}
	if h.sources.Votes != nil {
		resp.Votes = h.sources.Votes.Tallies()
	}

	writeJSON(w, http.StatusOK, resp)
}

// HandleVote toggles the caller's vote on an item. The response always
// carries the tally the UI should show, including after a rollback.
func (h *StateHandler) HandleVote(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.sources.Votes == nil {
		http.Error(w, "votes unavailable", http.StatusServiceUnavailable)
		return
	}

	var req VoteRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	direction, err := votes.ParseDirection(req.Direction)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	tally, err := h.sources.Votes.Vote(r.Context(), req.ItemID, direction)
	resp := VoteResponse{ItemID: req.ItemID, Tally: tally}
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, resp)
	case errors.Is(err, votes.ErrMissingItem), errors.Is(err, votes.ErrInvalidDirection):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, backend.ErrRateLimited):
		resp.Error = "rate limited"
		writeJSON(w, http.StatusTooManyRequests, resp)
	default:
		log.Warn().Err(err).Str("item_id", req.ItemID).Msg("vote failed")
		resp.Error = "vote not recorded"
		writeJSON(w, http.StatusBadGateway, resp)
	}
}

func (h *StateHandler) HandleCities(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.sources.Cities == nil {
		http.Error(w, "city counts unavailable", http.StatusServiceUnavailable)
		return
	}

	counts, err := h.sources.Cities.CityCounts(r.Context())
	if err != nil {
		log.Warn().Err(err).Msg("failed to load city counts")
		http.Error(w, "failed to load city counts", http.StatusBadGateway)
		return
	}
	if counts == nil {
		counts = []backend.CityPresenceCount{}
	}
	writeJSON(w, http.StatusOK, CitiesResponse{Cities: counts})
}

func (h *StateHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		log.Error().Err(err).Msg("failed to write health check response")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
