package searchsync

import (
	"time"

	"github.com/commercekit/searchsync/models"
)

type PubSubPushEnvelope struct {
	Message struct {
		Data []byte `json:"data"`
		ID   string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

type SyncRequestPayload struct {
	RunId      uint   `json:"run_id"`
	EntityType string `json:"entity_type"`
}

type TransferSearchRequest struct {
	EntityNames      []string `json:"entity_names"`
	OperationTypeIds []int    `json:"operation_type_ids"`
	Ignored          *bool    `json:"ignored"`
	PageIndex        int      `json:"page_index"`
	PageSize         int      `json:"page_size"`
}

type TransferResponse struct {
	ID             int       `json:"id"`
	EntityName     string    `json:"entity_name"`
	EntityId       int       `json:"entity_id"`
	Ignored        bool      `json:"ignored"`
	OperationType  string    `json:"operation_type"`
	CreatedDateUtc time.Time `json:"created_date_utc"`
	UpdatedDateUtc time.Time `json:"updated_date_utc"`
}

func toTransferResponse(t *models.EntityTransfer) TransferResponse {
	return TransferResponse{
		ID:             t.ID,
		EntityName:     t.EntityName,
		EntityId:       t.EntityId,
		Ignored:        t.Ignored,
		OperationType:  t.OperationType().String(),
		CreatedDateUtc: t.CreatedDateUtc,
		UpdatedDateUtc: t.UpdatedDateUtc,
	}
}

type TransferSearchResponse struct {
	Transfers []TransferResponse `json:"transfers"`
	Total     int64              `json:"total"`
	PageIndex int                `json:"page_index"`
	PageSize  int                `json:"page_size"`
}

type DeleteTransfersRequest struct {
	Ids []int `json:"ids"`
}

type ToggleIgnoredRequest struct {
	Ignored bool `json:"ignored"`
}

// SettingsResponse omits credential material; only shape flags are exposed.
type SettingsResponse struct {
	Active           bool   `json:"active"`
	ConnectionTypeId int    `json:"connection_type_id"`
	Hostnames        string `json:"hostnames"`
	Username         string `json:"username"`
	HasPassword      bool   `json:"has_password"`
	CloudId          string `json:"cloud_id"`
	HasApiKey        bool   `json:"has_api_key"`
	UseFingerprint   bool   `json:"use_fingerprint"`
	Fingerprint      string `json:"fingerprint"`
	ResultLimit      int    `json:"result_limit"`
	ImmediateUpdate  bool   `json:"immediate_update"`
}

func toSettingsResponse(s *models.SearchSettings) SettingsResponse {
	return SettingsResponse{
		Active:           s.Active,
		ConnectionTypeId: s.ConnectionTypeId,
		Hostnames:        s.Hostnames,
		Username:         s.Username,
		HasPassword:      s.Password != "",
		CloudId:          s.CloudId,
		HasApiKey:        s.ApiKey != "",
		UseFingerprint:   s.UseFingerprint,
		Fingerprint:      s.Fingerprint,
		ResultLimit:      s.ResultLimit,
		ImmediateUpdate:  s.ImmediateUpdate,
	}
}

type SettingsRequest struct {
	Active           bool   `json:"active"`
	ConnectionTypeId int    `json:"connection_type_id"`
	Hostnames        string `json:"hostnames"`
	Username         string `json:"username"`
	Password         string `json:"password"`
	CloudId          string `json:"cloud_id"`
	ApiKey           string `json:"api_key"`
	UseFingerprint   bool   `json:"use_fingerprint"`
	Fingerprint      string `json:"fingerprint"`
	ResultLimit      int    `json:"result_limit"`
	ImmediateUpdate  bool   `json:"immediate_update"`
}

type TriggerSyncRequest struct {
	EntityType string `json:"entity_type"`
}

type SyncRunResponse struct {
	ID             uint   `json:"id"`
	EntityName     string `json:"entity_name"`
	Status         string `json:"status"`
	TriggeredBy    string `json:"triggered_by"`
	RecordsSynced  int    `json:"records_synced"`
	PagesProcessed int    `json:"pages_processed"`
	Error          string `json:"error"`
	StartedAt      string `json:"started_at,omitempty"`
	FinishedAt     string `json:"finished_at,omitempty"`
	DurationMs     int64  `json:"duration_ms"`
}

func toSyncRunResponse(run *models.SearchSyncRun) SyncRunResponse {
	return SyncRunResponse{
		ID:             run.ID,
		EntityName:     run.EntityName,
		Status:         run.Status,
		TriggeredBy:    run.TriggeredBy,
		RecordsSynced:  run.RecordsSynced,
		PagesProcessed: run.PagesProcessed,
		Error:          run.Error,
		StartedAt:      formatTime(run.StartedAt),
		FinishedAt:     formatTime(run.FinishedAt),
		DurationMs:     run.DurationMs,
	}
}

type SyncRunListResponse struct {
	Runs  []SyncRunResponse `json:"runs"`
	Total int64             `json:"total"`
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
