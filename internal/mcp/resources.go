package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Resource URIs.
const (
	StatusResourceURI = "tablerag://status"
)

func (s *Server) registerResources() {
	s.mcp.AddResource(
		&mcp.Resource{
			Name:        "status",
			URI:         StatusResourceURI,
			Description: "Index state, model names and query statistics for this session",
			MIMEType:    "application/json",
		},
		s.handleStatusResource,
	)
}

func (s *Server) handleStatusResource(_ context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	data, err := json.MarshalIndent(s.IndexStatus(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal status: %w", err)
	}

	uri := StatusResourceURI
	if req != nil && req.Params != nil && req.Params.URI != "" {
		uri = req.Params.URI
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		}},
	}, nil
}
