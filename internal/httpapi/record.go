package httpapi

import (
	"net/http"

	"github.com/ent0n29/mnemo/internal/memory"
	"github.com/ent0n29/mnemo/internal/session"
)

type searchConversationsRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

type lookupToolResultRequest struct {
	ToolName string          `json:"tool_name"`
	ToolArgs memory.Metadata `json:"tool_args"`
}

func (s *Server) handleRecordUser(w http.ResponseWriter, r *http.Request) {
	var req session.RecordInput
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	res, err := s.service.RecordUserInput(r.Context(), req)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, res)
}

func (s *Server) handleRecordAssistant(w http.ResponseWriter, r *http.Request) {
	var req session.RecordInput
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	res, err := s.service.RecordAssistantResponse(r.Context(), req)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, res)
}

func (s *Server) handleRecordTool(w http.ResponseWriter, r *http.Request) {
	var req session.ToolExecutionInput
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	res, err := s.service.RecordToolExecution(r.Context(), req)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, res)
}

func (s *Server) handleLookupToolResult(w http.ResponseWriter, r *http.Request) {
	var req lookupToolResultRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	result, found, err := s.service.LookupToolResult(r.Context(), req.ToolName, req.ToolArgs)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"found": found, "tool_result": result})
}

func (s *Server) handleSearchConversations(w http.ResponseWriter, r *http.Request) {
	var req searchConversationsRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	res, err := s.service.SearchConversations(r.Context(), req.Query, req.Limit)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleSearchMessages(w http.ResponseWriter, r *http.Request) {
	var req session.MessageSearch
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	res, err := s.service.SearchMessages(r.Context(), req)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}
