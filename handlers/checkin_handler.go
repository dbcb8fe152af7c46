package handlers

import (
	"net/http"

	"github.com/Arakas181/ML-HUB-sub000/middleware"
	"github.com/Arakas181/ML-HUB-sub000/services"
)

type CheckInHandler struct {
	checkInService services.CheckInService
}

func NewCheckInHandler(cs services.CheckInService) *CheckInHandler {
	return &CheckInHandler{checkInService: cs}
}

// CheckInHandler godoc
// @Summary Отметить явку на турнир
// @Tags checkins
// @Description Подтвержденный участник отмечается в окне check-in. Повторная отметка обновляет время.
// @Produce json
// @Param tournamentID path int true "Tournament ID"
// @Success 200 {object} map[string]interface{} "Явка записана"
// @Failure 400 {object} map[string]string "Окно check-in не открыто или уже закрыто"
// @Failure 403 {object} map[string]string "Не является подтвержденным участником"
// @Failure 404 {object} map[string]string "Турнир не найден"
// @Security BearerAuth
// @Router /tournaments/{tournamentID}/checkins [post]
func (h *CheckInHandler) CheckInHandler(w http.ResponseWriter, r *http.Request) {
	tournamentID, err := getIDFromURL(r, "tournamentID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	currentUserID, err := middleware.GetUserIDFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, "authentication required to check in")
		return
	}

	record, err := h.checkInService.CheckIn(r.Context(), tournamentID, currentUserID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"checkin": record}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

func (h *CheckInHandler) ListCheckInsHandler(w http.ResponseWriter, r *http.Request) {
	tournamentID, err := getIDFromURL(r, "tournamentID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	records, err := h.checkInService.ListCheckIns(r.Context(), tournamentID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"checkins": records}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}
