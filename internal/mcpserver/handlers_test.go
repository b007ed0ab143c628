package mcpserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohann-max/FINSHIELD/internal/analysis"
	"github.com/rohann-max/FINSHIELD/internal/history"
	"github.com/rohann-max/FINSHIELD/internal/risk"
	"github.com/rohann-max/FINSHIELD/internal/verdict"
)

// --- Test helpers ---

func newTestSetup(t *testing.T, handler http.Handler) *Handlers {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return NewHandlers(NewClient(Config{APIURL: ts.URL}))
}

func makeRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	if args == nil {
		args = map[string]any{}
	}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content, "expected at least one content block")
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

// liveAPI serves the real analysis routes over an in-memory store.
func liveAPI(t *testing.T) *Handlers {
	t.Helper()
	gin.SetMode(gin.TestMode)
	svc := analysis.NewService(risk.NewEngine(), verdict.NewNarrator(), history.NewMemoryStore(), nil)
	r := gin.New()
	analysis.NewHandler(svc).RegisterRoutes(r.Group("/api"))
	return newTestSetup(t, r)
}

// ============================================================
// Client tests
// ============================================================

func TestClient_HTTPError_WithAPIMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":   "invalid_request",
			"message": "Request body must be a JSON object",
		})
	}))
	defer ts.Close()

	client := NewClient(Config{APIURL: ts.URL})
	_, err := client.Analyze(context.Background(), map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Contains(t, err.Error(), "Request body must be a JSON object")
}

func TestClient_HTTPError_NonJSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream timeout"))
	}))
	defer ts.Close()

	client := NewClient(Config{APIURL: ts.URL})
	_, err := client.History(context.Background(), 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "upstream timeout")
}

func TestClient_ConnectionRefused(t *testing.T) {
	client := NewClient(Config{APIURL: "http://127.0.0.1:1"})
	_, err := client.History(context.Background(), 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request failed")
}

func TestClient_CancelledContext(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
		_, _ = w.Write([]byte(`[]`))
	}))
	defer ts.Close()

	client := NewClient(Config{APIURL: ts.URL})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.History(ctx, 0)
	require.Error(t, err)
}

func TestClient_AnalyzeRequestBody(t *testing.T) {
	var got map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/analyze", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	client := NewClient(Config{APIURL: ts.URL})
	_, err := client.Analyze(context.Background(), map[string]any{"transactionId": "T-1", "typingWPM": 65.0})
	require.NoError(t, err)
	assert.Equal(t, "T-1", got["transactionId"])
	assert.Equal(t, 65.0, got["typingWPM"])
}

func TestClient_HistoryQuery(t *testing.T) {
	var gotQuery string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(`[]`))
	}))
	defer ts.Close()

	client := NewClient(Config{APIURL: ts.URL})
	_, err := client.History(context.Background(), 25)
	require.NoError(t, err)
	assert.Equal(t, "limit=25", gotQuery)

	_, err = client.History(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, gotQuery)
}

func TestClient_HealthAcceptsDegraded(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"degraded","checks":{"store":"unhealthy"}}`))
	}))
	defer ts.Close()

	client := NewClient(Config{APIURL: ts.URL})
	raw, err := client.Health(context.Background())
	require.NoError(t, err)
	assert.Contains(t, string(raw), "degraded")
}

// ============================================================
// Tool definitions
// ============================================================

func TestAnalyzeToolSchema(t *testing.T) {
	props := ToolAnalyzeTransaction.InputSchema.Properties
	for _, name := range []string{"transactionId", "merchantType", "isWebDriver", "typingWPM", "pluginsLength", "amount"} {
		assert.Contains(t, props, name)
	}
	for name := range numericDescriptions {
		assert.Contains(t, props, name, "numeric field %s missing from tool schema", name)
	}
}

func TestRecordFromArgs(t *testing.T) {
	rec := recordFromArgs(map[string]any{
		"transactionId": "T-9",
		"merchantType":  "",
		"isWebDriver":   true,
		"typingWPM":     400.0,
		"mouseSpeed":    "fast",
		"unknownField":  1.0,
		"pluginsLength": 0,
	})

	assert.Equal(t, map[string]any{
		"transactionId": "T-9",
		"isWebDriver":   true,
		"typingWPM":     400.0,
		"pluginsLength": 0.0,
	}, rec)
}

// ============================================================
// Handler tests against the live analysis routes
// ============================================================

func TestHandleAnalyzeTransaction_Bot(t *testing.T) {
	h := liveAPI(t)

	result, err := h.HandleAnalyzeTransaction(context.Background(), makeRequest(map[string]any{
		"transactionId":     "TXN-BOT",
		"typingWPM":         400.0,
		"keystrokeInterval": 10.0,
		"keystrokeVariance": 2.0,
		"isWebDriver":       true,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "Transaction: TXN-BOT")
	assert.Contains(t, text, "Decision: BLOCKED")
	assert.Contains(t, text, "Risk score: 100%")
	assert.Contains(t, text, "Bot detected: yes")
	assert.Contains(t, text, "Verdict: "+verdict.LabelFraudulent)
	assert.Contains(t, text, "Impossible typing speed (400 WPM)")
	assert.Contains(t, text, "(critical)")
}

func TestHandleAnalyzeTransaction_Benign(t *testing.T) {
	h := liveAPI(t)

	result, err := h.HandleAnalyzeTransaction(context.Background(), makeRequest(map[string]any{
		"transactionId":      "TXN-OK",
		"typingWPM":          65.0,
		"keystrokeInterval":  150.0,
		"keystrokeVariance":  40.0,
		"mouseSpeed":         800.0,
		"interactionDensity": 2.0,
		"pluginsLength":      3.0,
	}))
	require.NoError(t, err)

	text := resultText(t, result)
	assert.Contains(t, text, "Decision: APPROVED")
	assert.Contains(t, text, "Bot detected: no")
	assert.Contains(t, text, "Verdict: "+verdict.LabelAuthorized)
	assert.Contains(t, text, "Flagged factors: none")
}

func TestHandleAnalyzeTransaction_APIError(t *testing.T) {
	h := newTestSetup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"rate_limit_exceeded","message":"Too many requests. Please slow down."}`))
	}))

	result, err := h.HandleAnalyzeTransaction(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "Too many requests")
}

func TestHandleGetHistory(t *testing.T) {
	h := liveAPI(t)
	ctx := context.Background()

	result, err := h.HandleGetHistory(ctx, makeRequest(nil))
	require.NoError(t, err)
	assert.Equal(t, "No transactions logged yet.", resultText(t, result))

	for _, id := range []string{"A", "B", "C"} {
		_, err := h.HandleAnalyzeTransaction(ctx, makeRequest(map[string]any{"transactionId": id, "amount": 12.5}))
		require.NoError(t, err)
	}

	result, err = h.HandleGetHistory(ctx, makeRequest(map[string]any{"limit": 2.0}))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.True(t, strings.HasPrefix(text, "2 transactions (newest first):"), text)
	assert.Contains(t, text, "- C |")
	assert.Contains(t, text, "- B |")
	assert.NotContains(t, text, "- A |")
	assert.Contains(t, text, "12.50 retail")
}

func TestHandleGetHistory_NegativeLimit(t *testing.T) {
	h := liveAPI(t)
	result, err := h.HandleGetHistory(context.Background(), makeRequest(map[string]any{"limit": -1.0}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleCheckHealth(t *testing.T) {
	h := newTestSetup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		_, _ = w.Write([]byte(`{"status":"healthy","version":"0.1.0","checks":{"store":"healthy","narration":"template"}}`))
	}))

	result, err := h.HandleCheckHealth(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.Equal(t, "Status: healthy (version 0.1.0)\nnarration: template\nstore: healthy", resultText(t, result))
}

func TestHandleCheckHealth_Unreachable(t *testing.T) {
	h := NewHandlers(NewClient(Config{APIURL: "http://127.0.0.1:1"}))
	result, err := h.HandleCheckHealth(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "Service unreachable")
}

// ============================================================
// Formatting
// ============================================================

func TestFormatAnalysis_OrdersCriticalFirst(t *testing.T) {
	raw := json.RawMessage(`{
		"decision": "BLOCKED", "riskScore": 85, "isBot": false,
		"aiVerdict": "Fraudulent Pattern", "aiDescription": "desc",
		"factors": [
			{"name": "Merchant Risk", "value": "GAMBLING", "status": "warning", "reason": "High-risk merchant category (+35 risk)"},
			{"name": "Typing Speed", "value": "65 WPM", "status": "normal", "reason": "Normal typing speed"},
			{"name": "Environment", "value": "WebDriver:true", "status": "critical", "reason": "Browser automation detected"}
		]
	}`)

	text, err := formatAnalysis(raw)
	require.NoError(t, err)
	assert.NotContains(t, text, "Typing Speed")
	assert.Less(t, strings.Index(text, "Environment"), strings.Index(text, "Merchant Risk"))
}

func TestFormatAnalysis_InvalidJSON(t *testing.T) {
	_, err := formatAnalysis(json.RawMessage(`not json`))
	assert.Error(t, err)
}

func TestNewMCPServer(t *testing.T) {
	s := NewMCPServer(Config{APIURL: "http://localhost:3000"}, "test")
	require.NotNil(t, s)
}
