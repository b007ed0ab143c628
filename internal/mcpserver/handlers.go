package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rohann-max/FINSHIELD/internal/telemetry"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *Client
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *Client) *Handlers {
	return &Handlers{client: client}
}

// HandleAnalyzeTransaction scores one telemetry record.
func (h *Handlers) HandleAnalyzeTransaction(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	record := recordFromArgs(req.GetArguments())

	raw, err := h.client.Analyze(ctx, record)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to analyze transaction: %v", err)), nil
	}

	text, err := formatAnalysis(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse analysis: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleGetHistory lists recent audit log entries.
func (h *Handlers) HandleGetHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", 0)
	if limit < 0 {
		return mcp.NewToolResultError("limit must be positive"), nil
	}

	raw, err := h.client.History(ctx, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to read history: %v", err)), nil
	}

	text, err := formatHistory(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse history: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleCheckHealth reports service health.
func (h *Handlers) HandleCheckHealth(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.Health(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Service unreachable: %v", err)), nil
	}

	text, err := formatHealth(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse health: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// recordFromArgs keeps only known telemetry fields of the right type, so the
// service applies its own defaults to everything else.
func recordFromArgs(args map[string]any) map[string]any {
	record := make(map[string]any)
	for _, name := range stringFields {
		if v, ok := args[name].(string); ok && v != "" {
			record[name] = v
		}
	}
	for _, name := range boolFields {
		if v, ok := args[name].(bool); ok {
			record[name] = v
		}
	}
	for _, name := range telemetry.NumericFields() {
		switch v := args[name].(type) {
		case float64:
			record[name] = v
		case int:
			record[name] = float64(v)
		}
	}
	return record
}

// ============================================================
// Formatting
// ============================================================

type factorInfo struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Status string `json:"status"`
	Reason string `json:"reason"`
}

type analysisInfo struct {
	TransactionID string       `json:"transactionId"`
	Decision      string       `json:"decision"`
	RiskScore     int          `json:"riskScore"`
	IsBot         bool         `json:"isBot"`
	AIVerdict     string       `json:"aiVerdict"`
	AIDescription string       `json:"aiDescription"`
	Factors       []factorInfo `json:"factors"`
}

func formatAnalysis(raw json.RawMessage) (string, error) {
	var a analysisInfo
	if err := json.Unmarshal(raw, &a); err != nil {
		return "", err
	}

	var sb strings.Builder
	if a.TransactionID != "" {
		fmt.Fprintf(&sb, "Transaction: %s\n", a.TransactionID)
	}
	fmt.Fprintf(&sb, "Decision: %s\n", a.Decision)
	fmt.Fprintf(&sb, "Risk score: %d%%\n", a.RiskScore)
	fmt.Fprintf(&sb, "Bot detected: %s\n", yesNo(a.IsBot))
	fmt.Fprintf(&sb, "Verdict: %s\n%s\n", a.AIVerdict, a.AIDescription)

	// Critical first, then warnings, keeping engine order within each group
	flagged := slices.DeleteFunc(slices.Clone(a.Factors), func(f factorInfo) bool { return f.Status == "normal" })
	slices.SortStableFunc(flagged, func(x, y factorInfo) int {
		return statusRank(x.Status) - statusRank(y.Status)
	})

	if len(flagged) == 0 {
		sb.WriteString("\nFlagged factors: none")
		return sb.String(), nil
	}
	sb.WriteString("\nFlagged factors:")
	for _, f := range flagged {
		fmt.Fprintf(&sb, "\n- %s: %s (%s) - %s", f.Name, f.Value, f.Status, f.Reason)
	}
	return sb.String(), nil
}

func statusRank(status string) int {
	switch status {
	case "critical":
		return 0
	case "warning":
		return 1
	default:
		return 2
	}
}

type entryInfo struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Amount    float64   `json:"amount"`
	Merchant  string    `json:"merchant"`
	RiskScore int       `json:"risk_score"`
	Decision  string    `json:"decision"`
	Reason    string    `json:"reason"`
}

func formatHistory(raw json.RawMessage) (string, error) {
	var entries []entryInfo
	if err := json.Unmarshal(raw, &entries); err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "No transactions logged yet.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d transactions (newest first):", len(entries))
	for _, e := range entries {
		fmt.Fprintf(&sb, "\n- %s | %s | %.2f %s | risk %d%% %s | %s",
			e.ID, e.Timestamp.UTC().Format(time.RFC3339), e.Amount, e.Merchant, e.RiskScore, e.Decision, e.Reason)
	}
	return sb.String(), nil
}

type healthInfo struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Checks  map[string]string `json:"checks"`
}

func formatHealth(raw json.RawMessage) (string, error) {
	var hi healthInfo
	if err := json.Unmarshal(raw, &hi); err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Status: %s", hi.Status)
	if hi.Version != "" {
		fmt.Fprintf(&sb, " (version %s)", hi.Version)
	}
	names := make([]string, 0, len(hi.Checks))
	for name := range hi.Checks {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		fmt.Fprintf(&sb, "\n%s: %s", name, hi.Checks[name])
	}
	return sb.String(), nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
