package mcpserver

import (
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rohann-max/FINSHIELD/internal/telemetry"
)

// Tool definitions for the FINSHIELD MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

// stringFields and boolFields are the non-numeric telemetry signals.
var (
	stringFields = []string{"transactionId", "merchantType", "deviceType"}
	boolFields   = []string{"isWebDriver", "isDebuggerOpen"}
)

var ToolAnalyzeTransaction = analyzeTool()

func analyzeTool() mcp.Tool {
	opts := []mcp.ToolOption{
		mcp.WithDescription(
			"Score a transaction attempt for fraud from behavioural biometrics. " +
				"Pass whatever signals were collected; omitted signals are treated as unobserved. " +
				"Returns APPROVED or BLOCKED, a 0-100 risk score, a bot flag, the triggered factors and a forensic verdict. " +
				"Every call is written to the transaction audit log."),
		mcp.WithString("transactionId",
			mcp.Description("Client transaction id. The first analysis of an id is the one kept in the audit log.")),
		mcp.WithString("merchantType",
			mcp.Description("Merchant category, e.g. 'retail', 'electronics', 'cryptocurrency', 'gambling' (default 'retail')")),
		mcp.WithString("deviceType",
			mcp.Description("'desktop' or 'mobile' (default 'desktop')")),
		mcp.WithBoolean("isWebDriver",
			mcp.Description("navigator.webdriver was set")),
		mcp.WithBoolean("isDebuggerOpen",
			mcp.Description("Developer tools were detected")),
	}
	for _, name := range telemetry.NumericFields() {
		opts = append(opts, mcp.WithNumber(name, mcp.Description(numericDescriptions[name])))
	}
	return mcp.NewTool("analyze_transaction", opts...)
}

var numericDescriptions = map[string]string{
	"amount":                  "Transaction amount",
	"typingWPM":               "Typing speed in words per minute",
	"typingWPS":               "Typing speed in words per second",
	"typingCPS":               "Typing speed in characters per second",
	"keystrokeInterval":       "Mean time between keystrokes in ms",
	"keystrokeVariance":       "Standard deviation of keystroke intervals in ms",
	"backspaceCount":          "Number of corrections",
	"mouseSpeed":              "Mean pointer speed in px/s",
	"clickDelay":              "Delay before first click in ms",
	"clickInterval":           "Mean time between clicks in ms (0 = not observed)",
	"doubleTapRate":           "Double taps per interaction (mobile)",
	"scrollSpeed":             "Mean scroll speed in px/s",
	"scrollDistance":          "Total scroll distance in px",
	"scrollDirectionChanges":  "Number of scroll direction reversals",
	"scrollEventCount":        "Number of scroll events",
	"fieldFocusTimeSec":       "Mean time focused on a form field in seconds (0 = not observed)",
	"tabSwitches":             "Number of tab switches",
	"interactionDensity":      "Interactions per second",
	"totalDwellTime":          "Total session time in seconds",
	"timeAwayFromTab":         "Seconds spent away from the tab",
	"deviceOrientationEvents": "Orientation changes (mobile)",
	"screenWidth":             "Screen width in px",
	"screenHeight":            "Screen height in px",
	"pluginsLength":           "navigator.plugins length",
}

var ToolGetHistory = mcp.NewTool("get_history",
	mcp.WithDescription(
		"List the most recent entries of the transaction audit log, newest first. "+
			"Each entry has the transaction id, amount, merchant, risk score, decision and verdict."),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of entries to return (default 10, max 100)")),
)

var ToolCheckHealth = mcp.NewTool("check_health",
	mcp.WithDescription(
		"Check whether the fraud service is up, whether its audit log store is reachable "+
			"and whether verdicts come from the narrative service or the template fallback."),
)
