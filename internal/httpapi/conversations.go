package httpapi

import (
	"net/http"

	"github.com/ent0n29/mnemo/internal/memory"
)

type createConversationRequest struct {
	Title    string          `json:"title"`
	Metadata memory.Metadata `json:"metadata"`
}

type renameConversationRequest struct {
	Title string `json:"title"`
}

type createMessageRequest struct {
	ConversationID string             `json:"conversation_id"`
	Role           memory.Role        `json:"role"`
	Content        string             `json:"content"`
	ContentType    memory.ContentType `json:"content_type"`
	Metadata       memory.Metadata    `json:"metadata"`
}

type createSummaryRequest struct {
	Content     string             `json:"content"`
	SummaryType memory.SummaryType `json:"summary_type"`
	Metadata    memory.Metadata    `json:"metadata"`
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req createConversationRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	conv, err := s.service.CreateConversation(r.Context(), req.Title, req.Metadata)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, conv)
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		respondServiceError(w, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		respondServiceError(w, err)
		return
	}
	convs, err := s.service.ListConversations(r.Context(), limit, offset)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"conversations": convs})
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := s.service.GetConversation(r.Context(), pathID(r))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, conv)
}

func (s *Server) handleRenameConversation(w http.ResponseWriter, r *http.Request) {
	var req renameConversationRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	conv, err := s.service.RenameConversation(r.Context(), pathID(r), req.Title)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, conv)
}

func (s *Server) handleConversationMessages(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		respondServiceError(w, err)
		return
	}
	msgs, err := s.service.ConversationMessages(r.Context(), pathID(r), limit)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleConversationStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.service.ConversationStats(r.Context(), pathID(r))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleCreateSummary(w http.ResponseWriter, r *http.Request) {
	var req createSummaryRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	sum, err := s.service.AddSummary(r.Context(), memory.NewSummary{
		ConversationID: pathID(r),
		Content:        req.Content,
		SummaryType:    req.SummaryType,
		Metadata:       req.Metadata,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, sum)
}

func (s *Server) handleListSummaries(w http.ResponseWriter, r *http.Request) {
	sums, err := s.service.Summaries(r.Context(), pathID(r))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"summaries": sums})
}

func (s *Server) handleGenerateSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.service.GenerateSummary(r.Context(), pathID(r))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, sum)
}

func (s *Server) handleCreateMessage(w http.ResponseWriter, r *http.Request) {
	var req createMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	msg, err := s.service.AddMessage(r.Context(), memory.NewMessage{
		ConversationID: req.ConversationID,
		Role:           req.Role,
		Content:        req.Content,
		ContentType:    req.ContentType,
		Metadata:       req.Metadata,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, msg)
}

func (s *Server) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	msg, err := s.service.GetMessage(r.Context(), pathID(r))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, msg)
}

func (s *Server) handleToolExecutions(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)
	if _, err := s.service.GetMessage(r.Context(), id); err != nil {
		respondServiceError(w, err)
		return
	}
	execs, err := s.service.ToolExecutions(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"message_id": id, "tool_executions": execs})
}
