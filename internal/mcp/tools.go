package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/roadsight/holderd/internal/model"
)

func (s *Server) registerTools() {
	// holderd_classify runs the ensemble engine for one subject.
	s.mcpServer.AddTool(
		mcplib.NewTool("holderd_classify",
			mcplib.WithDescription(`Classify a sign holder by its subject id.

Combines the stored record, the multi-region vision consensus, learned
correction patterns, and rule heuristics into one answer with a calibrated
confidence. A subject with a human-verified record returns that record at
confidence 1.0 unless force_refresh is set.`),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(true),
			mcplib.WithString("subject_id",
				mcplib.Description("Opaque subject identifier"),
				mcplib.Required(),
			),
			mcplib.WithBoolean("force_refresh",
				mcplib.Description("Re-consult the live sources even when a verified record exists"),
			),
		),
		s.handleClassify,
	)

	// holderd_correct records a human correction.
	s.mcpServer.AddTool(
		mcplib.NewTool("holderd_correct",
			mcplib.WithDescription(`Record a field-verified correction for a subject.

Marks the subject verified, appends the correction to the error-analysis
log, and updates the learned patterns so similar subjects benefit. Use only
for ground truth confirmed by a human, not for model output.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithString("subject_id",
				mcplib.Description("Opaque subject identifier"),
				mcplib.Required(),
			),
			mcplib.WithString("material",
				mcplib.Description("Verified holder material, e.g. kov, betón, drevo"),
				mcplib.Required(),
			),
			mcplib.WithString("type",
				mcplib.Description("Verified holder type, e.g. stĺp značky samostatný"),
				mcplib.Required(),
			),
		),
		s.handleCorrect,
	)

	// holderd_calibration reports confidence calibration.
	s.mcpServer.AddTool(
		mcplib.NewTool("holderd_calibration",
			mcplib.WithDescription("Report how well predicted confidences match observed accuracy, per confidence decile, with the recent accuracy trend."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
		),
		s.handleCalibration,
	)

	// holderd_confusions lists the most frequent correction pairs.
	s.mcpServer.AddTool(
		mcplib.NewTool("holderd_confusions",
			mcplib.WithDescription("List the most frequent (predicted, corrected) class pairs on one axis, revealing systematic misclassifications."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithString("axis",
				mcplib.Description("Classification axis: material or type"),
				mcplib.Required(),
			),
			mcplib.WithNumber("limit",
				mcplib.Description("Maximum pairs to return"),
				mcplib.Min(1),
				mcplib.Max(100),
				mcplib.DefaultNumber(5),
			),
		),
		s.handleConfusions,
	)

	// holderd_export snapshots all subject records.
	s.mcpServer.AddTool(
		mcplib.NewTool("holderd_export",
			mcplib.WithDescription("Export stored subject records, newest first, for downstream reporting."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithNumber("limit",
				mcplib.Description("Maximum records to return"),
				mcplib.Min(1),
				mcplib.Max(1000),
				mcplib.DefaultNumber(100),
			),
		),
		s.handleExport,
	)
}

func (s *Server) handleClassify(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	subjectID := request.GetString("subject_id", "")
	if subjectID == "" {
		return errorResult("subject_id is required"), nil
	}
	forceRefresh := request.GetBool("force_refresh", false)

	d := s.engine.Decide(ctx, subjectID, forceRefresh)

	resultData, _ := json.MarshalIndent(d, "", "  ")
	return textResult(string(resultData)), nil
}

func (s *Server) handleCorrect(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	subjectID := request.GetString("subject_id", "")
	material := request.GetString("material", "")
	typ := request.GetString("type", "")
	if subjectID == "" || material == "" || typ == "" {
		return errorResult("subject_id, material, and type are required"), nil
	}

	ev, err := s.engine.Correct(ctx, subjectID, material, typ)
	if err != nil {
		return errorResult(fmt.Sprintf("failed to apply correction: %v", err)), nil
	}

	resultData, _ := json.MarshalIndent(ev, "", "  ")
	return textResult(string(resultData)), nil
}

func (s *Server) handleCalibration(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	total, correct := s.calib.Outcomes()
	resultData, _ := json.MarshalIndent(map[string]any{
		"bins":    s.calib.Report(),
		"trend":   s.calib.Trend(),
		"total":   total,
		"correct": correct,
	}, "", "  ")
	return textResult(string(resultData)), nil
}

func (s *Server) handleConfusions(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	axis := request.GetString("axis", "")
	if !model.ValidAxis(axis) {
		return errorResult("axis must be material or type"), nil
	}
	limit := request.GetInt("limit", 5)

	tallies, err := s.calib.TopConfusions(ctx, model.Axis(axis), limit)
	if err != nil {
		return errorResult(fmt.Sprintf("failed to load confusions: %v", err)), nil
	}

	resultData, _ := json.MarshalIndent(map[string]any{
		"axis":       axis,
		"confusions": tallies,
	}, "", "  ")
	return textResult(string(resultData)), nil
}

func (s *Server) handleExport(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	limit := request.GetInt("limit", 100)

	recs, err := s.store.ExportRecords(ctx)
	if err != nil {
		return errorResult(fmt.Sprintf("failed to export records: %v", err)), nil
	}
	if len(recs) > limit {
		recs = recs[:limit]
	}

	resultData, _ := json.MarshalIndent(map[string]any{
		"records": recs,
		"total":   len(recs),
	}, "", "  ")
	return textResult(string(resultData)), nil
}

func textResult(text string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: text},
		},
	}
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
