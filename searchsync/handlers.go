package searchsync

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/commercekit/searchsync/config"
	"github.com/commercekit/searchsync/models"
	"github.com/commercekit/searchsync/utils"
	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"
)

// SearchTransfersHandler serves the admin ledger browser.
func SearchTransfersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req TransferSearchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if req.PageSize <= 0 {
			req.PageSize = config.SearchLimit
		}

		transfers, total, err := models.SearchEntityTransfers(c.Request.Context(), models.TransferSearchOptions{
			EntityNames:      req.EntityNames,
			OperationTypeIds: req.OperationTypeIds,
			Ignored:          req.Ignored,
			PageIndex:        req.PageIndex,
			PageSize:         req.PageSize,
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		resp := TransferSearchResponse{
			Transfers: make([]TransferResponse, 0, len(transfers)),
			Total:     total,
			PageIndex: req.PageIndex,
			PageSize:  req.PageSize,
		}
		for _, t := range transfers {
			resp.Transfers = append(resp.Transfers, toTransferResponse(t))
		}
		c.JSON(http.StatusOK, resp)
	}
}

// DeleteTransfersHandler removes bookkeeping rows only; the indexed
// documents stay. The deleted rows reappear as sync candidates.
func DeleteTransfersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req DeleteTransfersRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if len(req.Ids) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "ids are required"})
			return
		}

		deleted, err := models.DeleteEntityTransfersByIds(c.Request.Context(), req.Ids)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": deleted})
	}
}

func ToggleIgnoredHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
			return
		}

		var req ToggleIgnoredRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}

		transfer, err := models.ToggleEntityTransferIgnored(c.Request.Context(), id, req.Ignored)
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "transfer not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, toTransferResponse(transfer))
	}
}

func EntityNamesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		names, err := models.DistinctEntityNames(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"entity_names": names})
	}
}

// ExportTransfersHandler streams the filtered ledger as a spreadsheet.
// Filters arrive as query parameters since this is a browser download link.
func ExportTransfersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		opts := models.TransferSearchOptions{
			PageIndex: 0,
			PageSize:  10000,
		}
		if name := c.Query("entity_name"); name != "" {
			opts.EntityNames = []string{name}
		}
		if raw := c.Query("ignored"); raw != "" {
			ignored := raw == "true" || raw == "1"
			opts.Ignored = &ignored
		}

		transfers, _, err := models.SearchEntityTransfers(c.Request.Context(), opts)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		f := excelize.NewFile()
		f.SetCellValue("Sheet1", "A1", "Id")
		f.SetCellValue("Sheet1", "B1", "EntityName")
		f.SetCellValue("Sheet1", "C1", "EntityId")
		f.SetCellValue("Sheet1", "D1", "OperationType")
		f.SetCellValue("Sheet1", "E1", "Ignored")
		f.SetCellValue("Sheet1", "F1", "CreatedDateUtc")
		f.SetCellValue("Sheet1", "G1", "UpdatedDateUtc")

		for i, t := range transfers {
			row := fmt.Sprint(i + 2)
			f.SetCellValue("Sheet1", "A"+row, t.ID)
			f.SetCellValue("Sheet1", "B"+row, t.EntityName)
			f.SetCellValue("Sheet1", "C"+row, t.EntityId)
			f.SetCellValue("Sheet1", "D"+row, t.OperationType().String())
			f.SetCellValue("Sheet1", "E"+row, t.Ignored)
			f.SetCellValue("Sheet1", "F"+row, t.CreatedDateUtc.Format(time.RFC3339))
			f.SetCellValue("Sheet1", "G"+row, t.UpdatedDateUtc.Format(time.RFC3339))
		}

		c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		c.Header("Content-Disposition", "attachment; filename=entity-transfers.xlsx")
		if err := f.Write(c.Writer); err != nil {
			config.LogError(config.GetLogger(), "searchsync", "ExportTransfersHandler", "write workbook", nil, err)
		}
	}
}

func GetSettingsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		settings, err := models.GetSearchSettings(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, toSettingsResponse(settings))
	}
}

// UpdateSettingsHandler persists new connection settings and drops the
// cached index client so the next caller connects with them. Empty
// credential fields keep the stored values, letting the admin UI round-trip
// the masked response.
func UpdateSettingsHandler(conn *ConnectionManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req SettingsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}

		current, err := models.GetSearchSettings(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		settings := &models.SearchSettings{
			Active:           req.Active,
			ConnectionTypeId: req.ConnectionTypeId,
			Hostnames:        req.Hostnames,
			Username:         req.Username,
			Password:         req.Password,
			CloudId:          req.CloudId,
			ApiKey:           req.ApiKey,
			UseFingerprint:   req.UseFingerprint,
			Fingerprint:      req.Fingerprint,
			ResultLimit:      req.ResultLimit,
			ImmediateUpdate:  req.ImmediateUpdate,
		}
		if settings.Password == "" {
			settings.Password = current.Password
		}
		if settings.ApiKey == "" {
			settings.ApiKey = current.ApiKey
		}

		if err := settings.ValidateForSave(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if err := models.SaveSearchSettings(c.Request.Context(), settings); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		conn.Invalidate()
		c.JSON(http.StatusOK, toSettingsResponse(settings))
	}
}

func TriggerSyncHandler(svc *SyncService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req TriggerSyncRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}

		triggeredBy := models.SyncTriggeredManual
		if by, ok := utils.GetTriggeredByFromContext(c.Request.Context()); ok && by != "" {
			triggeredBy = by
		}

		run, err := svc.TriggerSync(c.Request.Context(), req.EntityType, triggeredBy)
		if err != nil {
			if errors.Is(err, utils.ErrorValidation) {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, toSyncRunResponse(run))
	}
}

func ListRunsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		pageIndex, _ := strconv.Atoi(c.DefaultQuery("page_index", "0"))
		pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))

		runs, total, err := models.ListSyncRuns(c.Request.Context(), c.Query("entity_name"), pageIndex, pageSize)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		resp := SyncRunListResponse{
			Runs:  make([]SyncRunResponse, 0, len(runs)),
			Total: total,
		}
		for _, run := range runs {
			resp.Runs = append(resp.Runs, toSyncRunResponse(run))
		}
		c.JSON(http.StatusOK, resp)
	}
}

// EntityTypesHandler lists the types the trigger endpoint accepts.
func EntityTypesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"entity_types": SyncableEntityTypes()})
	}
}
