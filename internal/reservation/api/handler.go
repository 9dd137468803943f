package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"mealshare/internal/auth"
	"mealshare/internal/ledger"
	"mealshare/internal/pickup"
	"mealshare/internal/reservation"
	"mealshare/internal/utils"
)

type Handler struct {
	Reservations *reservation.Service
	QR           *pickup.QRGenerator
}

// Reserve claims a spot for the authenticated user. A second attempt for
// the same event is a conflict, not a no-op.
func (h *Handler) Reserve(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")
	userID := auth.UserID(r.Context())

	spotsLeft, err := h.Reservations.Reserve(r.Context(), eventID, userID)
	if err != nil {
		writeReservationError(w, err, "could not reserve spot")
		return
	}

	utils.WriteSuccess(w, http.StatusOK, "spot reserved", map[string]interface{}{
		"eventId":   eventID,
		"spotsLeft": spotsLeft,
	})
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")
	userID := auth.UserID(r.Context())

	spotsLeft, err := h.Reservations.Cancel(r.Context(), eventID, userID)
	if err != nil {
		writeReservationError(w, err, "could not cancel reservation")
		return
	}

	utils.WriteSuccess(w, http.StatusOK, "reservation cancelled", map[string]interface{}{
		"eventId":   eventID,
		"spotsLeft": spotsLeft,
	})
}

// PickupQR renders the caller's pickup code for an event as a PNG.
func (h *Handler) PickupQR(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")
	userID := auth.UserID(r.Context())

	res, err := h.Reservations.GetForUser(r.Context(), eventID, userID)
	if err != nil {
		writeReservationError(w, err, "could not load reservation")
		return
	}

	png, err := h.QR.Generate(res)
	if err != nil {
		utils.WriteError(w, http.StatusInternalServerError, "could not generate pickup code", err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

func writeReservationError(w http.ResponseWriter, err error, message string) {
	switch {
	case errors.Is(err, reservation.ErrNotFound):
		utils.WriteError(w, http.StatusNotFound, message, err)
	case errors.Is(err, reservation.ErrAlreadyReserved):
		utils.WriteError(w, http.StatusConflict, message, err)
	case errors.Is(err, reservation.ErrNotReserved):
		utils.WriteError(w, http.StatusNotFound, message, err)
	case errors.Is(err, ledger.ErrFull):
		utils.WriteError(w, http.StatusConflict, message, err)
	default:
		utils.WriteError(w, http.StatusInternalServerError, message, err)
	}
}
