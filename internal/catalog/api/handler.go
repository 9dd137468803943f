package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"mealshare/internal/auth"
	"mealshare/internal/catalog"
	"mealshare/internal/models"
	"mealshare/internal/reservation"
	"mealshare/internal/search"
	"mealshare/internal/utils"
)

type Handler struct {
	Catalog      *catalog.Service
	Reservations *reservation.Service
}

// ListEvents serves the browse page: live events only, optionally narrowed
// by search, date, dietary, and location query params, sorted by start time.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.Catalog.List(r.Context())
	if err != nil {
		utils.WriteError(w, http.StatusInternalServerError, "could not list events", err)
		return
	}

	q := r.URL.Query()
	filtered := search.Filter(events, search.Query{
		Text:     q.Get("search"),
		Date:     q.Get("date"),
		Dietary:  q.Get("dietary"),
		Location: q.Get("location"),
	})

	utils.WriteSuccess(w, http.StatusOK, "events", filtered)
}

func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")

	event, err := h.Catalog.Get(r.Context(), eventID)
	if err != nil {
		writeServiceError(w, err, "could not get event")
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "event", event)
}

func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var input models.EventInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	event, err := h.Catalog.Create(r.Context(), auth.UserID(r.Context()), input)
	if err != nil {
		writeServiceError(w, err, "could not create event")
		return
	}
	utils.WriteSuccess(w, http.StatusCreated, "event created", event)
}

func (h *Handler) UpdateEvent(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")

	var update models.EventUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	event, err := h.Catalog.Update(r.Context(), eventID, auth.UserID(r.Context()), update)
	if err != nil {
		writeServiceError(w, err, "could not update event")
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "event updated", event)
}

func (h *Handler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")

	result, err := h.Catalog.Delete(r.Context(), eventID, auth.UserID(r.Context()))
	if err != nil {
		writeServiceError(w, err, "could not delete event")
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "event deleted", result)
}

// UserDashboard returns the caller's postings and reservations in one shot.
// Only the user themselves can see it.
func (h *Handler) UserDashboard(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	if userID != auth.UserID(r.Context()) {
		utils.WriteError(w, http.StatusForbidden, "cannot view another user's dashboard", nil)
		return
	}

	posted, err := h.Catalog.ListByOwner(r.Context(), userID)
	if err != nil {
		utils.WriteError(w, http.StatusInternalServerError, "could not list posted events", err)
		return
	}
	reserved, err := h.Reservations.ListForUser(r.Context(), userID)
	if err != nil {
		utils.WriteError(w, http.StatusInternalServerError, "could not list reservations", err)
		return
	}

	utils.WriteSuccess(w, http.StatusOK, "user events", map[string]interface{}{
		"posted":   posted,
		"reserved": reserved,
	})
}

func writeServiceError(w http.ResponseWriter, err error, message string) {
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		utils.WriteError(w, http.StatusNotFound, message, err)
	case errors.Is(err, catalog.ErrForbidden):
		utils.WriteError(w, http.StatusForbidden, message, err)
	case errors.Is(err, catalog.ErrInvalidInput):
		utils.WriteError(w, http.StatusBadRequest, message, err)
	default:
		utils.WriteError(w, http.StatusInternalServerError, message, err)
	}
}
