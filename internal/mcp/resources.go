package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/kioku/internal/model"
)

func (s *Server) registerResources() {
	// kioku://corpus/stats — live corpus and index statistics.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"kioku://corpus/stats",
			"Corpus Statistics",
			mcplib.WithResourceDescription("Live incident count, sparse index statistics, and pipeline counters"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleCorpusStats,
	)

	// kioku://incidents/{id} — one incident record.
	s.mcpServer.AddResourceTemplate(
		mcplib.NewResourceTemplate(
			"kioku://incidents/{id}",
			"Incident Record",
			mcplib.WithTemplateDescription("A resolved incident record by id"),
			mcplib.WithTemplateMIMEType("application/json"),
		),
		s.handleIncidentResource,
	)
}

func (s *Server) handleCorpusStats(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	count, err := s.corpus.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("mcp: corpus stats: %w", err)
	}
	sparseStats := s.corpus.Snapshot().Stats()
	counters := s.rag.Counters()

	data, err := json.MarshalIndent(map[string]any{
		"live_incidents":    count,
		"sparse_documents":  sparseStats.Docs,
		"vocabulary_terms":  sparseStats.Terms,
		"snapshot_built_at": sparseStats.BuiltAt,
		"queries_served":    counters.ExactIDLookups + counters.HybridQueries,
		"refusals":          counters.Refusals,
		"degraded_serves":   counters.DegradedRuns,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal stats: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      "kioku://corpus/stats",
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleIncidentResource(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	uri := request.Params.URI
	id := strings.TrimPrefix(uri, "kioku://incidents/")
	if id == "" || id == uri {
		return nil, fmt.Errorf("mcp: invalid incident URI: %s", uri)
	}
	if !model.ValidIncidentID(id) {
		return nil, fmt.Errorf("mcp: %q is not a valid incident id", id)
	}

	in, err := s.corpus.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("mcp: incident %s: %w", id, err)
	}

	data, err := json.MarshalIndent(in, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal incident: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
