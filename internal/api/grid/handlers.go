// internal/api/grid/handlers.go
package grid

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/courtmaster/timemap/internal/api/apiutil"
	"github.com/courtmaster/timemap/internal/remote"
	"github.com/courtmaster/timemap/internal/scheduler"
	"github.com/courtmaster/timemap/internal/timemap"
)

var validate = validator.New()

// Backend is the booking system the grid mirrors. *remote.Client implements
// it in production.
type Backend interface {
	FetchDay(ctx context.Context, date string, viewingType int) (timemap.RawSnapshot, error)
	CommitMove(ctx context.Context, command *timemap.MoveCommand) error
	CommitStretch(ctx context.Context, command *timemap.StretchCommand) error
	SeasonPrice(ctx context.Context, request remote.SeasonPriceRequest) (float64, error)
	ValidateFreeTime(ctx context.Context, proposed timemap.ProposedTime) (timemap.ValidationResult, error)
}

// Store caches day payloads and keeps the relocation audit trail. May be nil
// when the server runs without a database.
type Store interface {
	LoadSnapshot(ctx context.Context, date string, viewingType int) (timemap.RawSnapshot, error)
	SaveSnapshot(ctx context.Context, raw timemap.RawSnapshot) error
	RecordMove(ctx context.Context, date string, command *timemap.MoveCommand) error
	RecordStretch(ctx context.Context, date string, command *timemap.StretchCommand) error
}

type dayKey struct {
	date        string
	viewingType int
}

type dayState struct {
	snapshot   *timemap.Snapshot
	selections *timemap.SelectionSet
}

// Handler serves the day grid and runs every gesture against it. One handler
// instance owns all in-memory day state; requests serialize on its mutex.
type Handler struct {
	backend    Backend
	store      Store
	controller *timemap.Controller
	host       string
	carveOut   timemap.TrainerCarveOut
	now        func() time.Time

	mu   sync.Mutex
	days map[dayKey]*dayState
}

func New(backend Backend, store Store, host string, carveOut timemap.TrainerCarveOut) *Handler {
	return &Handler{
		backend:    backend,
		store:      store,
		controller: timemap.NewController(backend),
		host:       host,
		carveOut:   carveOut,
		now:        time.Now,
		days:       make(map[dayKey]*dayState),
	}
}

func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.HandleFunc("GET /api/v1/timemap", h.HandleGrid)
	mux.HandleFunc("POST /api/v1/timemap/click", h.HandleClick)
	mux.HandleFunc("POST /api/v1/timemap/select", h.HandleSelectRange)
	mux.HandleFunc("POST /api/v1/timemap/move", h.HandleMove)
	mux.HandleFunc("POST /api/v1/timemap/stretch", h.HandleStretch)
	mux.HandleFunc("GET /api/v1/timemap/price", h.HandlePrice)
	mux.HandleFunc("POST /api/v1/timemap/refresh", h.HandleRefresh)
}

// DayRef names one tracked grid in a request body.
type DayRef struct {
	Date string `json:"date" validate:"required,datetime=2006-01-02"`
	Type int    `json:"type" validate:"required,min=1"`
}

type clickRequest struct {
	DayRef
	CourtID int64 `json:"court_id" validate:"required"`
	Index   int   `json:"index" validate:"min=0"`
}

type selectRangeRequest struct {
	DayRef
	CourtID   int64 `json:"court_id" validate:"required"`
	FromIndex int   `json:"from_index" validate:"min=0"`
	ToIndex   int   `json:"to_index" validate:"min=0"`
}

type moveRequest struct {
	DayRef
	CourtID       int64 `json:"court_id" validate:"required"`
	Index         int   `json:"index" validate:"min=0"`
	TargetCourtID int64 `json:"target_court_id" validate:"required"`
	TargetIndex   int   `json:"target_index" validate:"min=0"`
}

type stretchRequest struct {
	DayRef
	CourtID     int64 `json:"court_id" validate:"required"`
	Index       int   `json:"index" validate:"min=0"`
	TargetIndex int   `json:"target_index" validate:"min=0"`
}

type gridResponse struct {
	Changed bool          `json:"changed"`
	Grid    *timemap.Grid `json:"grid"`
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	_ = apiutil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) HandleGrid(w http.ResponseWriter, r *http.Request) {
	date, err := apiutil.DateFromQuery(r)
	if err != nil {
		apiutil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	viewingType, err := apiutil.ViewingTypeFromQuery(r)
	if err != nil {
		apiutil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	state, err := h.loadDay(r.Context(), date, viewingType)
	if err != nil {
		log.Ctx(r.Context()).Error().Err(err).Str("date", date).Msg("Failed to load day")
		apiutil.WriteError(w, http.StatusBadGateway, "day is not available")
		return
	}
	grid, err := h.buildGrid(r.Context(), state)
	if err != nil {
		apiutil.WriteError(w, http.StatusInternalServerError, "failed to build grid")
		return
	}
	_ = apiutil.WriteJSON(w, http.StatusOK, gridResponse{Grid: grid})
}

func (h *Handler) HandleClick(w http.ResponseWriter, r *http.Request) {
	var req clickRequest
	if !h.decode(w, r, &req) {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	state, grid, ok := h.dayAndGrid(w, r, req.DayRef)
	if !ok {
		return
	}
	changed, err := timemap.Click(grid, state.snapshot, state.selections, req.CourtID, req.Index)
	if err != nil {
		apiutil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.respondGrid(w, r, state, changed)
}

func (h *Handler) HandleSelectRange(w http.ResponseWriter, r *http.Request) {
	var req selectRangeRequest
	if !h.decode(w, r, &req) {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	state, grid, ok := h.dayAndGrid(w, r, req.DayRef)
	if !ok {
		return
	}
	changed, err := timemap.SelectRange(grid, state.snapshot, state.selections, req.CourtID, req.FromIndex, req.ToIndex)
	if err != nil {
		apiutil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.respondGrid(w, r, state, changed)
}

func (h *Handler) HandleMove(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if !h.decode(w, r, &req) {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	state, grid, ok := h.dayAndGrid(w, r, req.DayRef)
	if !ok {
		return
	}
	result, err := h.controller.Move(r.Context(), grid, state.snapshot, state.selections, timemap.MoveRequest{
		CourtID:       req.CourtID,
		Index:         req.Index,
		TargetCourtID: req.TargetCourtID,
		TargetIndex:   req.TargetIndex,
	})
	if err != nil {
		writeGestureError(w, r, err)
		return
	}
	if result.Command != nil {
		if err := h.backend.CommitMove(r.Context(), result.Command); err != nil {
			log.Ctx(r.Context()).Error().Err(err).Int64("booking_id", result.Command.BookingID).Msg("Move rejected by backend")
			apiutil.WriteError(w, http.StatusBadGateway, "backend rejected the move")
			return
		}
		if h.store != nil {
			if err := h.store.RecordMove(r.Context(), req.Date, result.Command); err != nil {
				log.Ctx(r.Context()).Warn().Err(err).Msg("Failed to record move")
			}
		}
		if err := h.controller.ApplyMove(state.snapshot, result.Command); err != nil {
			apiutil.WriteError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	h.respondGrid(w, r, state, result.Changed)
}

func (h *Handler) HandleStretch(w http.ResponseWriter, r *http.Request) {
	var req stretchRequest
	if !h.decode(w, r, &req) {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	state, grid, ok := h.dayAndGrid(w, r, req.DayRef)
	if !ok {
		return
	}
	result, err := h.controller.Stretch(r.Context(), grid, state.snapshot, state.selections, timemap.StretchRequest{
		CourtID:     req.CourtID,
		Index:       req.Index,
		TargetIndex: req.TargetIndex,
	})
	if err != nil {
		writeGestureError(w, r, err)
		return
	}
	if result.Command != nil {
		if err := h.backend.CommitStretch(r.Context(), result.Command); err != nil {
			log.Ctx(r.Context()).Error().Err(err).Int64("booking_id", result.Command.BookingID).Msg("Stretch rejected by backend")
			apiutil.WriteError(w, http.StatusBadGateway, "backend rejected the stretch")
			return
		}
		if h.store != nil {
			if err := h.store.RecordStretch(r.Context(), req.Date, result.Command); err != nil {
				log.Ctx(r.Context()).Warn().Err(err).Msg("Failed to record stretch")
			}
		}
		if err := h.controller.ApplyStretch(state.snapshot, result.Command); err != nil {
			apiutil.WriteError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	h.respondGrid(w, r, state, result.Changed)
}

func (h *Handler) HandlePrice(w http.ResponseWriter, r *http.Request) {
	date, err := apiutil.DateFromQuery(r)
	if err != nil {
		apiutil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	viewingType, err := apiutil.ViewingTypeFromQuery(r)
	if err != nil {
		apiutil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	courtID, err := apiutil.ParsePositiveInt64Field(r.URL.Query().Get("court_id"), "court_id")
	if err != nil {
		apiutil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	index, err := apiutil.ParseNonNegativeIntField(r.URL.Query().Get("index"), "index")
	if err != nil {
		apiutil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	state, err := h.loadDay(r.Context(), date, viewingType)
	if err != nil {
		apiutil.WriteError(w, http.StatusBadGateway, "day is not available")
		return
	}
	grid, err := h.buildGrid(r.Context(), state)
	if err != nil {
		apiutil.WriteError(w, http.StatusInternalServerError, "failed to build grid")
		return
	}
	cell := grid.CellAt(courtID, index)
	if cell == nil {
		apiutil.WriteError(w, http.StatusNotFound, "no such cell")
		return
	}
	group := grid.GroupOf(cell)

	// Seasonal selections price across every recurrence date, which only the
	// backend can see. The admin journal asks it for the season viewing
	// types; everything else is priced locally.
	seasonView := state.snapshot.ViewingType == timemap.TypeSeason ||
		state.snapshot.ViewingType == timemap.TypeSeasonTrainer
	if state.snapshot.Admin && seasonView && group.Selected {
		day, parseErr := time.Parse("2006-01-02", date)
		if parseErr != nil {
			apiutil.WriteError(w, http.StatusBadRequest, "date must be a date in YYYY-MM-DD form")
			return
		}
		selected := grid.SelectedGroups()
		spans := make([]timemap.Selection, 0, len(selected))
		for _, span := range selected {
			spans = append(spans, timemap.Selection{
				CourtID:  span.CourtID,
				TimeFrom: span.TimeFrom.Value,
				TimeTo:   span.TimeTo.Value,
			})
		}
		total, priceErr := h.backend.SeasonPrice(r.Context(), remote.SeasonPriceRequest{
			Date:     date,
			Spans:    spans,
			TypeID:   state.snapshot.ViewingType,
			Discount: timemap.SeasonDiscountForDate(day),
		})
		if priceErr != nil {
			log.Ctx(r.Context()).Error().Err(priceErr).Msg("Season price failed")
			apiutil.WriteError(w, http.StatusBadGateway, "backend could not price the selection")
			return
		}
		_ = apiutil.WriteJSON(w, http.StatusOK, timemap.Quote{Total: total})
		return
	}

	quote, err := h.quoteGroup(state.snapshot, group)
	if err != nil {
		apiutil.WriteError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	_ = apiutil.WriteJSON(w, http.StatusOK, quote)
}

func (h *Handler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req DayRef
	if !h.decode(w, r, &req) {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	raw, err := h.backend.FetchDay(r.Context(), req.Date, req.Type)
	if err != nil {
		log.Ctx(r.Context()).Error().Err(err).Str("date", req.Date).Msg("Day fetch failed")
		apiutil.WriteError(w, http.StatusBadGateway, "day is not available")
		return
	}
	if h.store != nil {
		if err := h.store.SaveSnapshot(r.Context(), raw); err != nil {
			log.Ctx(r.Context()).Warn().Err(err).Msg("Snapshot cache write failed")
		}
	}
	if err := h.replaceDay(raw); err != nil {
		apiutil.WriteError(w, http.StatusBadGateway, err.Error())
		return
	}

	state := h.days[dayKey{date: raw.Date, viewingType: raw.Type}]
	h.respondGrid(w, r, state, true)
}

// TrackedDays lists the days currently held in memory for the refresh job.
func (h *Handler) TrackedDays() []scheduler.TrackedDay {
	h.mu.Lock()
	defer h.mu.Unlock()

	days := make([]scheduler.TrackedDay, 0, len(h.days))
	for key := range h.days {
		days = append(days, scheduler.TrackedDay{Date: key.date, ViewingType: key.viewingType})
	}
	return days
}

// ApplyFeed folds a polled instruction batch into one tracked day.
func (h *Handler) ApplyFeed(day scheduler.TrackedDay, instructions timemap.InstructionSet) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	state, ok := h.days[dayKey{date: day.Date, viewingType: day.ViewingType}]
	if !ok {
		return false, nil
	}
	return timemap.ApplyInstructions(state.snapshot, state.selections, instructions)
}

// ReplaceDay swaps in a freshly fetched payload, keeping pending selections.
func (h *Handler) ReplaceDay(raw timemap.RawSnapshot) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.replaceDay(raw)
}

func (h *Handler) replaceDay(raw timemap.RawSnapshot) error {
	snapshot, err := timemap.Normalize(raw)
	if err != nil {
		return err
	}
	key := dayKey{date: raw.Date, viewingType: raw.Type}
	if state, ok := h.days[key]; ok {
		state.snapshot = snapshot
		return nil
	}
	h.days[key] = &dayState{snapshot: snapshot, selections: seedSelections(raw)}
	return nil
}

// seedSelections builds a day's initial selection set from the pending picks
// the payload carries.
func seedSelections(raw timemap.RawSnapshot) *timemap.SelectionSet {
	selections := timemap.NewSelectionSet()
	for _, selection := range raw.TimeSelected {
		selections.Add(selection)
	}
	return selections
}

// loadDay returns the tracked state for a day, fetching it on first access.
// The backend is the authority; the cache only serves when it is unreachable.
// Callers hold h.mu.
func (h *Handler) loadDay(ctx context.Context, date string, viewingType int) (*dayState, error) {
	key := dayKey{date: date, viewingType: viewingType}
	if state, ok := h.days[key]; ok {
		return state, nil
	}

	raw, err := h.backend.FetchDay(ctx, date, viewingType)
	if err != nil {
		if h.store == nil {
			return nil, err
		}
		cached, cacheErr := h.store.LoadSnapshot(ctx, date, viewingType)
		if cacheErr != nil {
			return nil, err
		}
		log.Ctx(ctx).Warn().Err(err).Str("date", date).Msg("Backend unreachable, serving cached day")
		raw = cached
	} else if h.store != nil {
		if err := h.store.SaveSnapshot(ctx, raw); err != nil {
			log.Ctx(ctx).Warn().Err(err).Msg("Snapshot cache write failed")
		}
	}

	snapshot, err := timemap.Normalize(raw)
	if err != nil {
		return nil, err
	}
	state := &dayState{snapshot: snapshot, selections: seedSelections(raw)}
	h.days[key] = state
	return state, nil
}

func (h *Handler) buildGrid(ctx context.Context, state *dayState) (*timemap.Grid, error) {
	grid, err := timemap.BuildGrid(state.snapshot, state.selections, h.now())
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("date", state.snapshot.Date).Msg("Grid build failed")
		return nil, err
	}
	return grid, nil
}

func (h *Handler) dayAndGrid(w http.ResponseWriter, r *http.Request, ref DayRef) (*dayState, *timemap.Grid, bool) {
	state, err := h.loadDay(r.Context(), ref.Date, ref.Type)
	if err != nil {
		log.Ctx(r.Context()).Error().Err(err).Str("date", ref.Date).Msg("Failed to load day")
		apiutil.WriteError(w, http.StatusBadGateway, "day is not available")
		return nil, nil, false
	}
	grid, err := h.buildGrid(r.Context(), state)
	if err != nil {
		apiutil.WriteError(w, http.StatusInternalServerError, "failed to build grid")
		return nil, nil, false
	}
	return state, grid, true
}

func (h *Handler) respondGrid(w http.ResponseWriter, r *http.Request, state *dayState, changed bool) {
	grid, err := h.buildGrid(r.Context(), state)
	if err != nil {
		apiutil.WriteError(w, http.StatusInternalServerError, "failed to build grid")
		return
	}
	_ = apiutil.WriteJSON(w, http.StatusOK, gridResponse{Changed: changed, Grid: grid})
}

// quoteGroup prices a booking or selected run locally from the day settings.
func (h *Handler) quoteGroup(snapshot *timemap.Snapshot, group *timemap.Group) (timemap.Quote, error) {
	pricer := timemap.NewPricer(snapshot.Settings, snapshot.Slots, h.host, h.carveOut)

	req := timemap.PriceRequest{
		TypeID:       group.TypeID,
		TimeFrom:     group.TimeFrom,
		TimeTo:       group.TimeTo,
		TrainerColor: group.TrainerColor,
	}
	if group.Selected && group.TypeID == 0 {
		req.TypeID = snapshot.ViewingType
	}
	for _, courtType := range snapshot.CourtTypes {
		if courtType.ID == group.CourtTypeID {
			req.CourtPrice = courtType.Price
			break
		}
	}
	if group.BookingID != 0 {
		for _, booking := range snapshot.Bookings {
			if booking.ID == group.BookingID {
				req.OrderColor = booking.OrderColor
				break
			}
		}
	}
	return pricer.Quote(req)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := apiutil.DecodeJSON(r, dst); err != nil {
		apiutil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		apiutil.WriteError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func writeGestureError(w http.ResponseWriter, r *http.Request, err error) {
	var conflict *timemap.ConflictError
	switch {
	case errors.Is(err, timemap.ErrGestureInProgress):
		apiutil.WriteError(w, http.StatusConflict, err.Error())
	case errors.As(err, &conflict):
		_ = apiutil.WriteJSON(w, http.StatusConflict, map[string]any{
			"error": conflict.Error(),
			"dates": conflict.Dates,
		})
	case errors.Is(err, timemap.ErrBlockedTarget),
		errors.Is(err, timemap.ErrNotMovable),
		errors.Is(err, timemap.ErrNotEditable):
		apiutil.WriteError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		log.Ctx(r.Context()).Warn().Err(err).Msg("Gesture rejected")
		apiutil.WriteError(w, http.StatusBadRequest, err.Error())
	}
}
