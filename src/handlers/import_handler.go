package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/username/coinfolio/backend/src/config"
	"github.com/username/coinfolio/backend/src/logger"
	"github.com/username/coinfolio/backend/src/services"
	"github.com/username/coinfolio/backend/src/utils"
)

type ImportHandler struct {
	importService services.ImportService
}

func NewImportHandler(service services.ImportService) *ImportHandler {
	return &ImportHandler{
		importService: service,
	}
}

// HandleImport accepts a multipart upload with a "file" field and a "source"
// field naming the exchange the file came from.
func (h *ImportHandler) HandleImport(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		utils.SendJSONError(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	if err := r.ParseMultipartForm(config.Cfg.MaxImportSizeBytes); err != nil {
		logger.L.Warn("Failed to parse multipart form or request too large", "userID", userID, "error", err, "limit", config.Cfg.MaxImportSizeBytes)
		utils.SendJSONError(w, fmt.Sprintf("Failed to parse form or request too large (max %d MB)", config.Cfg.MaxImportSizeBytes/(1024*1024)), http.StatusBadRequest)
		return
	}

	source := r.FormValue("source")
	if source == "" {
		utils.SendJSONError(w, "Missing 'source' form field", http.StatusBadRequest)
		return
	}

	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		logger.L.Warn("Failed to retrieve file from request", "userID", userID, "error", err)
		utils.SendJSONError(w, "Failed to retrieve file from request. Ensure 'file' field is used.", http.StatusBadRequest)
		return
	}
	defer file.Close()

	if fileHeader.Size > config.Cfg.MaxImportSizeBytes {
		logger.L.Warn("Uploaded file too large", "userID", userID, "fileSize", fileHeader.Size, "limit", config.Cfg.MaxImportSizeBytes)
		utils.SendJSONError(w, fmt.Sprintf("File too large, max %d MB", config.Cfg.MaxImportSizeBytes/(1024*1024)), http.StatusBadRequest)
		return
	}

	logger.L.Info("Processing import request", "userID", userID, "source", source, "filename", fileHeader.Filename)
	result, err := h.importService.ProcessImport(file, userID, source)
	if err != nil {
		if errors.Is(err, services.ErrParsingFailed) {
			logger.L.Warn("Import failed due to parsing errors", "userID", userID, "source", source, "error", err)
			utils.SendJSONError(w, fmt.Sprintf("Error parsing %s file: %v", source, err), http.StatusBadRequest)
		} else {
			logger.L.Error("Internal error processing import", "userID", userID, "source", source, "error", err)
			utils.SendJSONError(w, "An internal error occurred while processing the file. Please try again later.", http.StatusInternalServerError)
		}
		return
	}

	logger.L.Info("Import processed",
		"userID", userID,
		"source", source,
		"batchID", result.BatchID,
		"trades", result.Trades,
		"loans", result.Loans,
		"assetMovements", result.AssetMovements,
		"ethTransactions", result.EthTransactions,
		"marginPositions", result.MarginPositions)
	utils.SendJSON(w, result, http.StatusOK)
}
