package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"dokimi/internal/conversation"
	"dokimi/internal/workflow"
)

func TestGenerationStatusPicksKindField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/scenarios/uc-1/status", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"scenario_generation": "Completed",
			"confirmed":           true,
			"total_inserted":      8,
		})
	}))
	defer srv.Close()

	status, err := NewClient(srv.URL).GenerationStatus(context.Background(), workflow.KindScenarios, "uc-1")
	require.NoError(t, err)
	require.Equal(t, workflow.JobCompleted, status.State)
	require.True(t, status.Confirmed)
	require.True(t, status.HasTotal)
	require.Equal(t, 8, status.TotalInserted)
}

func TestGenerationStatusWithoutTotal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"requirement_generation": "In Progress"})
	}))
	defer srv.Close()

	status, err := NewClient(srv.URL).GenerationStatus(context.Background(), workflow.KindRequirements, "uc-1")
	require.NoError(t, err)
	require.Equal(t, workflow.JobInProgress, status.State)
	require.False(t, status.HasTotal)
}

func TestStartGenerationPostsToKindPath(t *testing.T) {
	var gotPath, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	err := NewClient(srv.URL).StartGeneration(context.Background(), workflow.KindTestCases, "uc-9")
	require.NoError(t, err)
	require.Equal(t, http.MethodPost, gotMethod)
	require.Equal(t, "/testcases/uc-9/generate", gotPath)
}

func TestStartGenerationSurfacesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := NewClient(srv.URL).StartGeneration(context.Background(), workflow.KindRequirements, "uc-1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "503")
}

func TestFetchArtifactDispatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/files/content/f1":
			json.NewEncoder(w).Encode(FileContent{FileID: "f1", Name: "spec.pdf"})
		case "/requirements/uc-1/list":
			json.NewEncoder(w).Encode([]Requirement{{ID: "r1", Title: "Login"}})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	c := NewClient(srv.URL)

	file, err := c.FetchArtifact(context.Background(), conversation.Marker{
		ArtifactKind: conversation.ArtifactFile, ArtifactRef: "f1",
	})
	require.NoError(t, err)
	require.Equal(t, "spec.pdf", file.(FileContent).Name)

	reqs, err := c.FetchArtifact(context.Background(), conversation.Marker{
		ArtifactKind: conversation.ArtifactRequirements, ConversationRef: "uc-1",
	})
	require.NoError(t, err)
	require.Equal(t, "Login", reqs.([]Requirement)[0].Title)

	_, err = c.FetchArtifact(context.Background(), conversation.Marker{ArtifactKind: "weird"})
	require.Error(t, err)
}

func TestPostMessageCarriesIdempotencyKeyAndAttachment(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/conversations/uc-1/message", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	}))
	defer srv.Close()

	att := &conversation.Attachment{Name: "spec.pdf", FileID: "f1"}
	err := NewClient(srv.URL).PostMessage(context.Background(), "uc-1", "hello", att)
	require.NoError(t, err)
	require.Equal(t, "hello", body["text"])
	require.NotEmpty(t, body["idempotency_key"])
	require.Equal(t, "spec.pdf", body["attachment"].(map[string]any)["name"])
}

func TestConversationLogDecodesEntries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"id":"m1","kind":"user","created_at":"2026-03-14T09:00:00Z","text":"hi"},
			{"id":"k1","kind":"marker","created_at":"2026-03-14T09:00:01Z",
			 "marker":{"artifact_kind":"file","artifact_ref":"f1","conversation_ref":"uc-1"}}
		]`))
	}))
	defer srv.Close()

	entries, err := NewClient(srv.URL).ConversationLog(context.Background(), "uc-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, conversation.EntryUser, entries[0].Kind)
	require.Equal(t, conversation.ArtifactFile, entries[1].Marker.ArtifactKind)
}
