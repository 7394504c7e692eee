package categorize

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentworkforce/focusspace/internal/testutil"
	"github.com/agentworkforce/focusspace/internal/workspace"
)

var fixedNow = time.UnixMilli(1700000000000).UTC()

func geminiServer(t *testing.T, status int, body string) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1beta/models/"+DefaultModel+":generateContent", r.URL.Path)
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))

		raw, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		var req generateRequest
		assert.NoError(t, json.Unmarshal(raw, &req))
		assert.Equal(t, "application/json", req.GenerationConfig.ResponseMIMEType)
		assert.Contains(t, string(req.GenerationConfig.ResponseSchema), `"sheets"`)
		if assert.Len(t, req.Contents, 1) && assert.NotEmpty(t, req.Contents[0].Parts) {
			assert.Contains(t, req.Contents[0].Parts[0].Text, "buy milk")
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server, &calls
}

func modelReply(t *testing.T, text string) string {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"candidates": []any{map[string]any{
			"content": map[string]any{"role": "model", "parts": []any{map[string]any{"text": text}}},
		}},
	})
	require.NoError(t, err)
	return string(payload)
}

func TestClientCategorize(t *testing.T) {
	reply := modelReply(t, `{"tasks":[{"title":"buy milk","priority":"low"}],"links":[{"url":"https://figma.com","category":"Work"}],"sheets":[{"url":"https://docs.google.com/spreadsheets/d/123"}],"notes":[{"content":"meeting at 10"}]}`)
	server, calls := geminiServer(t, http.StatusOK, reply)

	client := NewClient(Options{APIKey: "test-key", BaseURL: server.URL})
	result, err := client.Categorize(context.Background(), "buy milk, https://figma.com")
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, []TaskDraft{{Title: "buy milk", Priority: workspace.PriorityLow}}, result.Tasks)
	assert.Equal(t, "https://figma.com", result.Links[0].URL)
	assert.Equal(t, "https://docs.google.com/spreadsheets/d/123", result.Sheets[0].URL)
	assert.Equal(t, "meeting at 10", result.Notes[0].Content)
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))
}

func TestClientSkipsBlankInputAndMissingKey(t *testing.T) {
	client := NewClient(Options{APIKey: "test-key", BaseURL: "http://127.0.0.1:1"})
	result, err := client.Categorize(context.Background(), "   \n")
	require.NoError(t, err)
	assert.Nil(t, result)

	_, err = NewClient(Options{}).Categorize(context.Background(), "buy milk")
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestClientSurfacesAPIError(t *testing.T) {
	server, _ := geminiServer(t, http.StatusBadRequest, `{"error":{"code":400,"message":"API key not valid","status":"INVALID_ARGUMENT"}}`)
	client := NewClient(Options{APIKey: "test-key", BaseURL: server.URL})

	_, err := client.Categorize(context.Background(), "buy milk")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "gemini 400 INVALID_ARGUMENT: API key not valid", apiErr.Error())
}

func TestClientRejectsUnusableReplies(t *testing.T) {
	cases := map[string]string{
		"no candidates":  `{"candidates":[]}`,
		"not json text":  modelReply(t, "sure, here you go"),
		"blocked prompt": `{"promptFeedback":{"blockReason":"SAFETY"}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			server, _ := geminiServer(t, http.StatusOK, body)
			client := NewClient(Options{APIKey: "test-key", BaseURL: server.URL})
			_, err := client.Categorize(context.Background(), "buy milk")
			assert.ErrorIs(t, err, ErrInvalidResponse)
		})
	}
}

func TestParseResultRejectsWholeBatch(t *testing.T) {
	cases := map[string]string{
		"empty task title": `{"tasks":[{"title":"ok"},{"title":""}]}`,
		"link without url": `{"links":[{"title":"Figma"}]}`,
		"unknown priority": `{"tasks":[{"title":"x","priority":"urgent"}]}`,
		"unknown color":    `{"notes":[{"content":"x","color":"orange"}]}`,
		"null collection":  `{"tasks":null}`,
		"array root":       `[]`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			result, err := ParseResult([]byte(raw))
			assert.ErrorIs(t, err, ErrInvalidResponse)
			assert.Nil(t, result)
		})
	}

	result, err := ParseResult([]byte(`{}`))
	require.NoError(t, err)
	assert.True(t, result.Empty())
}

func TestFoldAppliesDefaults(t *testing.T) {
	result := &Result{
		Tasks:  []TaskDraft{{Title: "Call Bob"}},
		Links:  []LinkDraft{{URL: "https://go.dev"}},
		Sheets: []SheetDraft{{URL: "https://docs.google.com/spreadsheets/d/1"}},
		Notes:  []NoteDraft{{Content: "idea"}},
	}
	patch := Fold(result, testutil.NewSeqIDs(), fixedNow)

	assert.Nil(t, patch.Tasks)
	assert.Nil(t, patch.Links)
	assert.Nil(t, patch.Sheets)
	assert.Nil(t, patch.Notes)

	batch := patch.Prepend
	require.Len(t, batch.Tasks, 1)
	assert.Equal(t, workspace.Task{ID: "id-1", Title: "Call Bob", Priority: workspace.PriorityMedium, CreatedAt: 1700000000000}, batch.Tasks[0])
	assert.Equal(t, workspace.LinkItem{ID: "id-2", Title: "https://go.dev", URL: "https://go.dev", Category: DefaultLinkCategory, CreatedAt: 1700000000000}, batch.Links[0])
	assert.Equal(t, workspace.SheetItem{ID: "id-3", Title: DefaultSheetTitle, URL: "https://docs.google.com/spreadsheets/d/1", LastOpened: 1700000000000}, batch.Sheets[0])
	assert.Equal(t, workspace.StickyNote{ID: "id-4", Content: "idea", Color: workspace.ColorYellow, CreatedAt: 1700000000000}, batch.Notes[0])

	assert.True(t, Fold(nil, testutil.NewSeqIDs(), fixedNow).Empty())
}

func TestFoldPrependsWithoutReplacing(t *testing.T) {
	doc := workspace.Seed(fixedNow)
	before := len(doc.Links)
	patch := Fold(&Result{Links: []LinkDraft{{Title: "Figma", URL: "https://figma.com", Category: "Work"}}}, testutil.NewSeqIDs(), fixedNow)
	patch.Apply(&doc)

	require.Len(t, doc.Links, before+1)
	assert.Equal(t, "Figma", doc.Links[0].Title)
	assert.Equal(t, "Work", doc.Links[0].Category)
}

type stubCategorizer struct {
	result *Result
	err    error
}

func (s stubCategorizer) Categorize(context.Context, string) (*Result, error) {
	return s.result, s.err
}

type recordingTarget struct {
	patches []workspace.Patch
	err     error
}

func (r *recordingTarget) ApplyLocalMutation(p workspace.Patch) error {
	if r.err != nil {
		return r.err
	}
	r.patches = append(r.patches, p)
	return nil
}

func (r *recordingTarget) IDs() workspace.IDGenerator { return testutil.NewSeqIDs() }

func (r *recordingTarget) Now() time.Time { return fixedNow }

func TestCaptureAppliesBatch(t *testing.T) {
	target := &recordingTarget{}
	capturer := &Capturer{
		Categorizer: stubCategorizer{result: &Result{Tasks: []TaskDraft{{Title: "a"}, {Title: "b"}}}},
		Target:      target,
	}

	added, err := capturer.Capture(context.Background(), "a and b")
	require.NoError(t, err)
	assert.Len(t, added.Tasks, 2)
	require.Len(t, target.patches, 1)
	assert.Equal(t, added, target.patches[0].Prepend)
}

func TestCaptureFailureAppliesNothing(t *testing.T) {
	target := &recordingTarget{}
	capturer := &Capturer{Categorizer: stubCategorizer{err: ErrMissingAPIKey}, Target: target}

	_, err := capturer.Capture(context.Background(), "buy milk")
	var captureErr *CaptureError
	require.ErrorAs(t, err, &captureErr)
	assert.Equal(t, FailureMessage, err.Error())
	assert.ErrorIs(t, err, ErrMissingAPIKey)
	assert.Empty(t, target.patches)
}

func TestCaptureEmptyCases(t *testing.T) {
	target := &recordingTarget{}
	capturer := &Capturer{Categorizer: stubCategorizer{}, Target: target}

	_, err := capturer.Capture(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrEmptyInput)

	added, err := capturer.Capture(context.Background(), "nothing useful")
	require.NoError(t, err)
	assert.True(t, added.Empty())
	assert.Empty(t, target.patches)
}

func TestCapturePropagatesTargetError(t *testing.T) {
	blocked := errors.New("workspace is still loading")
	capturer := &Capturer{
		Categorizer: stubCategorizer{result: &Result{Notes: []NoteDraft{{Content: "x"}}}},
		Target:      &recordingTarget{err: blocked},
	}
	_, err := capturer.Capture(context.Background(), "x")
	assert.ErrorIs(t, err, blocked)
	assert.False(t, strings.Contains(err.Error(), FailureMessage))
}
