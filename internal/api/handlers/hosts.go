package handlers

import (
	"context"
	"net/http"

	"github.com/anstrom/cr4wler/internal/api/middleware"
	"github.com/anstrom/cr4wler/internal/logging"
	"github.com/anstrom/cr4wler/internal/scanning"
)

// HostStore is the storage the host endpoints read and write.
type HostStore interface {
	SaveBatch(ctx context.Context, hosts []scanning.Host) (*scanning.BatchResult, error)
	ListAll(ctx context.Context) ([]scanning.Host, error)
}

// SaveResponse is the body returned by the submission endpoint.
type SaveResponse struct {
	Message  string                `json:"message"`
	Saved    []string              `json:"saved_hosts"`
	Rejected []string              `json:"rejected_hosts"`
	Failed   []scanning.FailedHost `json:"failed_hosts"`
	Error    string                `json:"error,omitempty"`
}

const (
	messageSaved   = "Data successfully saved."
	messagePartial = "Some hosts could not be stored."
)

// HostHandler serves host submission and retrieval.
type HostHandler struct {
	store  HostStore
	logger *logging.Logger
}

// NewHostHandler creates a new host handler.
func NewHostHandler(store HostStore, logger *logging.Logger) *HostHandler {
	return &HostHandler{
		store:  store,
		logger: logger.WithFields("handler", "hosts"),
	}
}

// SaveHosts stores a JSON array of hosts. Duplicates and invalid records
// are reported per host; only a store fault turns the response into a 500.
func (h *HostHandler) SaveHosts(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r)

	var hosts []scanning.Host
	if err := parseJSON(r, &hosts); err != nil {
		h.logger.Warn("Rejected host submission", "request_id", requestID, "error", err)
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	result, err := h.store.SaveBatch(r.Context(), hosts)
	if result == nil {
		result = scanning.NewBatchResult()
		if err != nil {
			for _, host := range hosts {
				result.Fail(host.IP, err)
			}
		}
	}

	resp := SaveResponse{
		Message:  messageSaved,
		Saved:    result.Accepted,
		Rejected: result.Rejected,
		Failed:   result.Failed,
	}

	h.logger.Info("Processed host submission",
		"request_id", requestID,
		"submitted", len(hosts),
		"saved", len(result.Accepted),
		"rejected", len(result.Rejected),
		"failed", len(result.Failed))

	if err != nil {
		h.logger.Error("Host submission had store failures", "request_id", requestID, "error", err)
		resp.Message = messagePartial
		resp.Error = err.Error()
		writeJSON(w, r, http.StatusInternalServerError, resp)
		return
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// ListHosts returns every stored host with its ports.
func (h *HostHandler) ListHosts(w http.ResponseWriter, r *http.Request) {
	hosts, err := h.store.ListAll(r.Context())
	if err != nil {
		h.logger.Error("Failed to list hosts", "request_id", middleware.GetRequestID(r), "error", err)
		writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, r, http.StatusOK, hosts)
}
