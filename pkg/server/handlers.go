package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/lectura-app/ai-service/pkg/agent"
	"github.com/lectura-app/ai-service/pkg/chunker"
	"github.com/lectura-app/ai-service/pkg/ingest"
	"github.com/lectura-app/ai-service/pkg/state"
	"github.com/lectura-app/ai-service/pkg/tools"
)

type inboundRequest struct {
	CourseID   string `json:"course_id"`
	SlideID    string `json:"slide_id"`
	S3FileName string `json:"s3_file_name"`
}

type inboundResponse struct {
	Status           string            `json:"status"`
	Message          string            `json:"message"`
	CourseID         string            `json:"course_id"`
	SlideID          string            `json:"slide_id"`
	S3FileName       string            `json:"s3_file_name"`
	Statistics       ingest.Statistics `json:"statistics"`
	Timing           ingest.Timing     `json:"timing"`
	ProcessingTimeMS int64             `json:"processing_time_ms"`
}

func (s *Server) handleInbound(w http.ResponseWriter, r *http.Request) {
	var req inboundRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	if req.CourseID == "" || req.SlideID == "" || req.S3FileName == "" {
		respondError(w, http.StatusBadRequest, "course_id, slide_id, and s3_file_name are required")
		return
	}

	result, err := s.deps.Ingestor.Process(r.Context(), req.CourseID, req.SlideID, req.S3FileName)
	if err != nil {
		s.logger.Error("ingestion failed",
			"course_id", req.CourseID, "slide_id", req.SlideID, "error", err)
		var inputErr *chunker.InputError
		if errors.As(err, &inputErr) {
			respondError(w, http.StatusBadRequest, "pipeline processing failed: %v", err)
			return
		}
		respondError(w, http.StatusInternalServerError, "pipeline processing failed: %v", err)
		return
	}

	respondJSON(w, http.StatusOK, inboundResponse{
		Status:           "success",
		Message:          "PDF processed and chunks stored successfully",
		CourseID:         req.CourseID,
		SlideID:          req.SlideID,
		S3FileName:       req.S3FileName,
		Statistics:       result.Statistics,
		Timing:           result.Timing,
		ProcessingTimeMS: result.ProcessingTimeMS,
	})
}

type snapshotDTO struct {
	SlideID    string `json:"slide_id"`
	PageNumber int    `json:"page_number"`
	S3Key      string `json:"s3key"`
}

type outboundRequest struct {
	UserID        string       `json:"user_id"`
	CourseID      string       `json:"course_id"`
	UserPrompt    string       `json:"user_prompt"`
	Snapshot      *snapshotDTO `json:"snapshot,omitempty"`
	SlidePriority []string     `json:"slide_priority"`
	SearchType    string       `json:"search_type"`
}

// imageSourceDTO uses the camelCase keys the frontend expects.
type imageSourceDTO struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	MessageID  string `json:"messageId,omitempty"`
	Timestamp  string `json:"timestamp,omitempty"`
	SlideID    string `json:"slideId,omitempty"`
	PageNumber int    `json:"pageNumber,omitempty"`
}

type chatResponseDTO struct {
	Response     string            `json:"response"`
	RagSources   []tools.RagSource `json:"ragSources"`
	WebSources   []tools.WebSource `json:"webSources"`
	ImageSources []imageSourceDTO  `json:"imageSources"`
}

func (s *Server) handleOutbound(w http.ResponseWriter, r *http.Request) {
	var req outboundRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	if req.UserID == "" || req.CourseID == "" || req.UserPrompt == "" {
		respondError(w, http.StatusBadRequest, "user_id, course_id, and user_prompt are required")
		return
	}

	searchType := agent.ParseSearchType(req.SearchType)
	if string(searchType) != req.SearchType {
		s.logger.Warn("normalized search type", "requested", req.SearchType, "using", searchType)
	}

	agentReq := agent.Request{
		CourseID:       req.CourseID,
		UserID:         req.UserID,
		Prompt:         req.UserPrompt,
		SlidesPriority: req.SlidePriority,
		SearchType:     searchType,
	}
	if req.Snapshot != nil {
		agentReq.Snapshot = &agent.Snapshot{
			SlideID:    req.Snapshot.SlideID,
			PageNumber: req.Snapshot.PageNumber,
			S3Key:      req.Snapshot.S3Key,
		}
	}

	result := s.deps.Agent.ProcessQuery(r.Context(), agentReq)

	respondJSON(w, http.StatusOK, chatResponseDTO{
		Response:     result.Response,
		RagSources:   result.RagSources,
		WebSources:   result.WebSources,
		ImageSources: toImageSourceDTOs(result.ImageSources),
	})
}

func toImageSourceDTOs(sources []state.ImageSource) []imageSourceDTO {
	out := make([]imageSourceDTO, len(sources))
	for i, src := range sources {
		out[i] = imageSourceDTO{
			ID:         src.ID,
			Type:       src.Type,
			Timestamp:  src.Timestamp,
			SlideID:    src.SlideID,
			PageNumber: src.PageNumber,
		}
	}
	return out
}

type managementRequest struct {
	CourseID   string `json:"course_id"`
	SlideID    string `json:"slide_id"`
	S3FileName string `json:"s3_file_name"`
}

type managementResponse struct {
	Status           string `json:"status"`
	Message          string `json:"message"`
	CourseID         string `json:"course_id"`
	SlideID          string `json:"slide_id"`
	S3FileName       string `json:"s3_file_name"`
	VectorsDeleted   int64  `json:"vectors_deleted"`
	ProcessingTimeMS int64  `json:"processing_time_ms"`
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	var req managementRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	if req.CourseID == "" || req.SlideID == "" || req.S3FileName == "" {
		respondError(w, http.StatusBadRequest, "course_id, slide_id, and s3_file_name are required")
		return
	}

	deleted, err := s.deps.Deleter.DeleteByDocument(r.Context(), req.CourseID, req.SlideID, req.S3FileName)
	if err != nil {
		s.logger.Error("deletion failed",
			"course_id", req.CourseID, "slide_id", req.SlideID, "error", err)
		respondError(w, http.StatusInternalServerError, "deletion failed: %v", err)
		return
	}

	message := "No documents found matching the specified criteria"
	if deleted > 0 {
		message = "Vectors deleted successfully"
	}

	respondJSON(w, http.StatusOK, managementResponse{
		Status:           "success",
		Message:          message,
		CourseID:         req.CourseID,
		SlideID:          req.SlideID,
		S3FileName:       req.S3FileName,
		VectorsDeleted:   deleted,
		ProcessingTimeMS: time.Since(started).Milliseconds(),
	})
}

type clearRequest struct {
	UserID   string `json:"user_id"`
	CourseID string `json:"course_id"`
}

type statusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

func (s *Server) handleClearConversation(w http.ResponseWriter, r *http.Request) {
	var req clearRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	if req.UserID == "" || req.CourseID == "" {
		respondError(w, http.StatusBadRequest, "user_id and course_id are required")
		return
	}

	threadID := state.ThreadID(req.UserID, req.CourseID)
	if err := s.deps.Conversations.Clear(r.Context(), threadID); err != nil {
		s.logger.Error("failed to clear conversation", "thread", threadID, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to clear conversation: %v", err)
		return
	}

	respondJSON(w, http.StatusOK, statusResponse{Status: "success", Message: "Conversation cleared"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, statusResponse{Status: "ok"})
}
