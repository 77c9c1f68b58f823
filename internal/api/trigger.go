package api

import (
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/MODSetter/SurfSense-sub000/internal/server"
	"github.com/MODSetter/SurfSense-sub000/pkg/scheduler"
)

// TriggerRequest is the POST /connectors/trigger body. Date sentinels
// ("undefined", "") normalize downstream; they are valid here.
type TriggerRequest struct {
	ConnectorID   IntString `json:"connector_id"`
	SearchSpaceID IntString `json:"search_space_id"`
	UserID        string    `json:"user_id,omitempty"`

	StartDate string `json:"start_date,omitempty"`
	EndDate   string `json:"end_date,omitempty"`

	MaxItems   int                   `json:"max_items,omitempty"`
	DriveItems *scheduler.DriveItems `json:"drive_items,omitempty"`
}

// Validate checks the trigger contract.
func (req *TriggerRequest) Validate() error {
	return validation.ValidateStruct(req,
		validation.Field(&req.ConnectorID,
			validation.Required.Error("connector_id is required")),
		validation.Field(&req.MaxItems, validation.Min(0)),
	)
}

// TriggerHandler queues one on-demand indexing run and returns the receipt.
func TriggerHandler(srv server.Server) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
			return
		}

		var req TriggerRequest
		if err := decodeJSON(r, &req); err != nil {
			respondError(w, srv.Logger, http.StatusBadRequest, err.Error())
			return
		}
		if err := req.Validate(); err != nil {
			respondError(w, srv.Logger, http.StatusBadRequest, err.Error())
			return
		}

		result, err := srv.Scheduler.Trigger(r.Context(), scheduler.TriggerParams{
			ConnectorID: uint(req.ConnectorID),
			SpaceID:     uint(req.SearchSpaceID),
			UserID:      req.UserID,
			StartDate:   req.StartDate,
			EndDate:     req.EndDate,
			MaxItems:    req.MaxItems,
			DriveItems:  req.DriveItems,
		})
		if err != nil {
			respondError(w, srv.Logger, http.StatusBadRequest, err.Error())
			return
		}
		respondJSON(w, srv.Logger, http.StatusOK, result)
	})
}
