package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lectura-app/ai-service/pkg/agent"
	"github.com/lectura-app/ai-service/pkg/chunker"
	"github.com/lectura-app/ai-service/pkg/config"
	"github.com/lectura-app/ai-service/pkg/ingest"
	"github.com/lectura-app/ai-service/pkg/state"
	"github.com/lectura-app/ai-service/pkg/tools"
)

type fakeIngestor struct {
	result ingest.Result
	err    error

	gotCourse, gotSlide, gotFile string
}

func (f *fakeIngestor) Process(ctx context.Context, courseID, slideID, s3FileName string) (ingest.Result, error) {
	f.gotCourse, f.gotSlide, f.gotFile = courseID, slideID, s3FileName
	return f.result, f.err
}

type fakeAgent struct {
	response agent.Response
	gotReq   agent.Request
}

func (f *fakeAgent) ProcessQuery(ctx context.Context, req agent.Request) agent.Response {
	f.gotReq = req
	return f.response
}

type fakeDeleter struct {
	deleted int64
	err     error
}

func (f *fakeDeleter) DeleteByDocument(ctx context.Context, courseID, slideID, s3FileName string) (int64, error) {
	return f.deleted, f.err
}

type fakeClearer struct {
	cleared []string
	err     error
}

func (f *fakeClearer) Clear(ctx context.Context, threadID string) error {
	f.cleared = append(f.cleared, threadID)
	return f.err
}

func newTestServer(deps Dependencies) *httptest.Server {
	s := NewServer(&config.ServerConfig{Host: "127.0.0.1", Port: 0}, deps, nil)
	return httptest.NewServer(s.Router())
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, dst interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dst))
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(Dependencies{})
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body statusResponse
	decodeBody(t, resp, &body)
	assert.Equal(t, "ok", body.Status)
}

func TestInboundSuccess(t *testing.T) {
	ingestor := &fakeIngestor{result: ingest.Result{
		Statistics: ingest.Statistics{
			TotalPages:        12,
			ChunksCreated:     40,
			ChunksEmbedded:    40,
			ChunksSaved:       38,
			DuplicatesSkipped: 2,
		},
		ProcessingTimeMS: 1500,
	}}
	ts := newTestServer(Dependencies{Ingestor: ingestor})
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/inbound", map[string]string{
		"course_id":    "cs101",
		"slide_id":     "week3",
		"s3_file_name": "decks/week3.pdf",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body inboundResponse
	decodeBody(t, resp, &body)
	assert.Equal(t, "success", body.Status)
	assert.Equal(t, "cs101", body.CourseID)
	assert.Equal(t, 40, body.Statistics.ChunksCreated)
	assert.Equal(t, 2, body.Statistics.DuplicatesSkipped)
	assert.Equal(t, int64(1500), body.ProcessingTimeMS)

	assert.Equal(t, "decks/week3.pdf", ingestor.gotFile)
}

func TestInboundValidation(t *testing.T) {
	ts := newTestServer(Dependencies{Ingestor: &fakeIngestor{}})
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/inbound", map[string]string{"course_id": "cs101"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body errorResponse
	decodeBody(t, resp, &body)
	assert.Contains(t, body.Error, "required")
}

func TestInboundPipelineFailure(t *testing.T) {
	ingestor := &fakeIngestor{err: fmt.Errorf("failed to chunk PDF: unprocessable document")}
	ts := newTestServer(Dependencies{Ingestor: ingestor})
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/inbound", map[string]string{
		"course_id": "cs101", "slide_id": "week3", "s3_file_name": "bad.pdf",
	})
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	var body errorResponse
	decodeBody(t, resp, &body)
	assert.Contains(t, body.Error, "unprocessable document")
}

func TestInboundUnprocessableDocument(t *testing.T) {
	ingestor := &fakeIngestor{
		err: fmt.Errorf("failed to chunk PDF: %w", &chunker.InputError{Reason: "no extractable text"}),
	}
	ts := newTestServer(Dependencies{Ingestor: ingestor})
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/inbound", map[string]string{
		"course_id": "cs101", "slide_id": "week3", "s3_file_name": "scan.pdf",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body errorResponse
	decodeBody(t, resp, &body)
	assert.Contains(t, body.Error, "no extractable text")
}

func TestOutboundMapsRequestAndResponse(t *testing.T) {
	ag := &fakeAgent{response: agent.Response{
		Response:   "The answer [^1].",
		RagSources: []tools.RagSource{{ID: "1", Slide: "s1", S3File: "deck.pdf", Start: 2, End: 3, Text: "alpha", Score: 0.9}},
		WebSources: []tools.WebSource{},
		ImageSources: []state.ImageSource{{
			ID: "page", Type: "current", SlideID: "s1", PageNumber: 4, Timestamp: "2026-08-24T10:00:00Z",
		}},
	}}
	ts := newTestServer(Dependencies{Agent: ag})
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/outbound", map[string]interface{}{
		"user_id":     "u1",
		"course_id":   "cs101",
		"user_prompt": "explain",
		"search_type": "rag",
		"snapshot": map[string]interface{}{
			"slide_id": "s1", "page_number": 4, "s3key": "snaps/s1-4.png",
		},
		"slide_priority": []string{"s1"},
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]json.RawMessage
	decodeBody(t, resp, &body)
	require.Contains(t, body, "ragSources")
	require.Contains(t, body, "webSources")
	require.Contains(t, body, "imageSources")

	var images []imageSourceDTO
	require.NoError(t, json.Unmarshal(body["imageSources"], &images))
	require.Len(t, images, 1)
	assert.Equal(t, "page", images[0].ID)
	assert.Equal(t, "s1", images[0].SlideID)
	assert.Equal(t, 4, images[0].PageNumber)

	// lowercase search type is normalized before reaching the agent
	assert.Equal(t, agent.SearchTypeRag, ag.gotReq.SearchType)
	require.NotNil(t, ag.gotReq.Snapshot)
	assert.Equal(t, "snaps/s1-4.png", ag.gotReq.Snapshot.S3Key)
	assert.Equal(t, []string{"s1"}, ag.gotReq.SlidesPriority)
}

func TestOutboundUnknownSearchTypeFallsBack(t *testing.T) {
	ag := &fakeAgent{response: agent.Response{Response: "ok"}}
	ts := newTestServer(Dependencies{Agent: ag})
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/outbound", map[string]string{
		"user_id": "u1", "course_id": "cs101", "user_prompt": "hi", "search_type": "HYBRID",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, agent.SearchTypeDefault, ag.gotReq.SearchType)
}

func TestOutboundValidation(t *testing.T) {
	ts := newTestServer(Dependencies{Agent: &fakeAgent{}})
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/outbound", map[string]string{"user_id": "u1"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestManagementDelete(t *testing.T) {
	ts := newTestServer(Dependencies{Deleter: &fakeDeleter{deleted: 37}})
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/management/delete", map[string]string{
		"course_id": "cs101", "slide_id": "week3", "s3_file_name": "decks/week3.pdf",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body managementResponse
	decodeBody(t, resp, &body)
	assert.Equal(t, "success", body.Status)
	assert.Equal(t, int64(37), body.VectorsDeleted)
	assert.Contains(t, body.Message, "deleted")
}

func TestManagementDeleteNoMatches(t *testing.T) {
	ts := newTestServer(Dependencies{Deleter: &fakeDeleter{deleted: 0}})
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/management/delete", map[string]string{
		"course_id": "cs101", "slide_id": "week3", "s3_file_name": "decks/week3.pdf",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body managementResponse
	decodeBody(t, resp, &body)
	assert.Equal(t, "success", body.Status)
	assert.Equal(t, int64(0), body.VectorsDeleted)
	assert.Contains(t, body.Message, "No documents found")
}

func TestManagementDeleteFailure(t *testing.T) {
	ts := newTestServer(Dependencies{Deleter: &fakeDeleter{err: fmt.Errorf("connection refused")}})
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/management/delete", map[string]string{
		"course_id": "cs101", "slide_id": "week3", "s3_file_name": "decks/week3.pdf",
	})
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestClearConversation(t *testing.T) {
	clearer := &fakeClearer{}
	ts := newTestServer(Dependencies{Conversations: clearer})
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/conversation/clear", map[string]string{
		"user_id": "u1", "course_id": "cs101",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"u1:cs101"}, clearer.cleared)
}

func TestClearConversationValidation(t *testing.T) {
	ts := newTestServer(Dependencies{Conversations: &fakeClearer{}})
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/conversation/clear", map[string]string{"user_id": "u1"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
