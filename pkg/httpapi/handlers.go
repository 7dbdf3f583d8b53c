package httpapi

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/jude-scai/processor/pkg/broker"
)

type handlers struct {
	broker Publisher
	logger *zap.Logger
}

// triggerRequest is the common envelope every /trigger endpoint accepts;
// individual fields are only meaningful to the workflow they target
// (spec.md §6 "Message topics").
type triggerRequest struct {
	UnderwritingID          string          `json:"underwriting_id,omitempty"`
	UnderwritingProcessorID string          `json:"underwriting_processor_id,omitempty"`
	ExecutionID             string          `json:"execution_id,omitempty"`
	Duplicate               bool            `json:"duplicate,omitempty"`
	ApplicationForm         json.RawMessage `json:"application_form,omitempty"`
	DocumentList            []string        `json:"document_list,omitempty"`
}

func (h *handlers) publish(w http.ResponseWriter, r *http.Request, topic broker.Topic) {
	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if err := h.broker.Publish(r.Context(), topic, req); err != nil {
		h.logger.Error("failed to publish trigger message", zap.String("topic", string(topic)), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to publish message"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "published"})
}

func (h *handlers) workflow1(w http.ResponseWriter, r *http.Request) {
	h.publish(w, r, broker.TopicUnderwritingUpdated)
}

func (h *handlers) workflow2(w http.ResponseWriter, r *http.Request) {
	h.publish(w, r, broker.TopicProcessorExecute)
}

func (h *handlers) workflow3(w http.ResponseWriter, r *http.Request) {
	h.publish(w, r, broker.TopicProcessorConsolidation)
}

func (h *handlers) workflow4(w http.ResponseWriter, r *http.Request) {
	h.publish(w, r, broker.TopicExecutionActivate)
}

func (h *handlers) workflow5(w http.ResponseWriter, r *http.Request) {
	h.publish(w, r, broker.TopicExecutionDisable)
}
