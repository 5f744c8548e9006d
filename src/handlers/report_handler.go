package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/username/coinfolio/backend/src/database"
	"github.com/username/coinfolio/backend/src/logger"
	"github.com/username/coinfolio/backend/src/model"
	"github.com/username/coinfolio/backend/src/services"
	"github.com/username/coinfolio/backend/src/utils"
)

type ReportHandler struct {
	reportService services.ReportService
	emailService  services.EmailService
}

func NewReportHandler(reportService services.ReportService, emailService services.EmailService) *ReportHandler {
	return &ReportHandler{
		reportService: reportService,
		emailService:  emailService,
	}
}

// parseTsParam reads an integer query parameter, returning def when absent.
func parseTsParam(r *http.Request, name string, def int64) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	ts, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || ts < 0 {
		return 0, fmt.Errorf("invalid %s parameter: %q", name, raw)
	}
	return ts, nil
}

// HandleTaxReport computes the tax report for the requested period.
// Query parameters: start_ts (default 0), end_ts (default now),
// notify=true to also email the report summary to the user.
func (h *ReportHandler) HandleTaxReport(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		utils.SendJSONError(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	startTs, err := parseTsParam(r, "start_ts", 0)
	if err != nil {
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	endTs, err := parseTsParam(r, "end_ts", time.Now().Unix())
	if err != nil {
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if endTs < startTs {
		utils.SendJSONError(w, "end_ts must not be before start_ts", http.StatusBadRequest)
		return
	}

	report, err := h.reportService.GenerateReport(userID, startTs, endTs)
	if err != nil {
		if errors.Is(err, services.ErrNoHistory) {
			utils.SendJSONError(w, "No imported history found for this user", http.StatusNotFound)
			return
		}
		logger.L.Error("Failed to generate tax report", "userID", userID, "startTs", startTs, "endTs", endTs, "error", err)
		utils.SendJSONError(w, "Failed to generate tax report", http.StatusInternalServerError)
		return
	}

	if r.URL.Query().Get("notify") == "true" {
		go h.notifyReportReady(userID, report.StartTs, report.EndTs)
	}

	currentETag, etagErr := utils.GenerateETag(report)
	if etagErr == nil && currentETag != "" {
		quotedETag := fmt.Sprintf("\"%s\"", currentETag)
		w.Header().Set("ETag", quotedETag)
		clientETags := strings.Split(r.Header.Get("If-None-Match"), ",")
		for _, cETag := range clientETags {
			if strings.TrimSpace(cETag) == quotedETag {
				logger.L.Debug("ETag match for tax report", "userID", userID, "etag", currentETag)
				w.WriteHeader(http.StatusNotModified)
				return
			}
		}
	} else {
		logger.L.Warn("Proceeding without ETag check due to ETag generation error or empty ETag", "userID", userID)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(report); err != nil {
		logger.L.Error("Error encoding tax report response", "userID", userID, "error", err)
	}
}

// HandleHoldings returns the per-asset cost basis details at end_ts
// (default now), valued at current prices where available.
func (h *ReportHandler) HandleHoldings(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		utils.SendJSONError(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	endTs, err := parseTsParam(r, "end_ts", time.Now().Unix())
	if err != nil {
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	holdings, err := h.reportService.Holdings(userID, endTs)
	if err != nil {
		if errors.Is(err, services.ErrNoHistory) {
			utils.SendJSONError(w, "No imported history found for this user", http.StatusNotFound)
			return
		}
		logger.L.Error("Failed to compute holdings", "userID", userID, "endTs", endTs, "error", err)
		utils.SendJSONError(w, "Failed to compute holdings", http.StatusInternalServerError)
		return
	}

	utils.SendJSON(w, holdings, http.StatusOK)
}

// notifyReportReady emails the report summary. It regenerates from cache,
// so the extra GenerateReport call is cheap.
func (h *ReportHandler) notifyReportReady(userID int64, startTs, endTs int64) {
	user, err := model.GetUserByID(database.DB, userID)
	if err != nil {
		logger.L.Error("Report notification: failed to fetch user", "userID", userID, "error", err)
		return
	}
	report, err := h.reportService.GenerateReport(userID, startTs, endTs)
	if err != nil {
		logger.L.Error("Report notification: failed to regenerate report", "userID", userID, "error", err)
		return
	}
	if err := h.emailService.SendReportReadyEmail(user.Email, user.Username, report); err != nil {
		logger.L.Error("Report notification: failed to send email", "userID", userID, "error", err)
	}
}
