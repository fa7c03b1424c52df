// Package mcpapi provides a stateless MCP streamable-HTTP adapter.
package mcpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/hylla/turf/internal/adapters/server/common"
)

// Config captures MCP transport configuration.
type Config struct {
	ServerName    string
	ServerVersion string
	EndpointPath  string
}

// Handler wraps one stateless MCP streamable HTTP handler.
type Handler struct {
	httpHandler http.Handler
}

// NewHandler builds one stateless MCP adapter exposing conquest tools.
func NewHandler(cfg Config, service common.ConquestService) (*Handler, error) {
	if service == nil {
		return nil, fmt.Errorf("conquest service is required")
	}
	cfg = normalizeConfig(cfg)

	mcpSrv := mcpserver.NewMCPServer(
		cfg.ServerName,
		cfg.ServerVersion,
		mcpserver.WithToolCapabilities(false),
	)
	registerConquerTool(mcpSrv, service)
	registerTerritoryTools(mcpSrv, service)
	registerInvasionTools(mcpSrv, service)

	streamable := mcpserver.NewStreamableHTTPServer(
		mcpSrv,
		mcpserver.WithEndpointPath(cfg.EndpointPath),
		mcpserver.WithStateLess(true),
	)
	return &Handler{httpHandler: streamable}, nil
}

// ServeHTTP handles one MCP streamable HTTP request.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.httpHandler == nil {
		http.Error(w, "mcp handler unavailable", http.StatusServiceUnavailable)
		return
	}
	h.httpHandler.ServeHTTP(w, r)
}

// normalizeConfig applies deterministic defaults to MCP adapter config.
func normalizeConfig(cfg Config) Config {
	cfg.ServerName = strings.TrimSpace(cfg.ServerName)
	if cfg.ServerName == "" {
		cfg.ServerName = "turf"
	}
	cfg.ServerVersion = strings.TrimSpace(cfg.ServerVersion)
	if cfg.ServerVersion == "" {
		cfg.ServerVersion = "dev"
	}
	cfg.EndpointPath = strings.TrimSpace(cfg.EndpointPath)
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/mcp"
	}
	cfg.EndpointPath = "/" + strings.Trim(cfg.EndpointPath, "/")
	return cfg
}

// pointSchema describes one recorded GPS sample.
var pointSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"lat":         map[string]any{"type": "number"},
		"lng":         map[string]any{"type": "number"},
		"captured_at": map[string]any{"type": "string", "format": "date-time"},
		"speed":       map[string]any{"type": "number"},
		"accuracy":    map[string]any{"type": "number"},
		"altitude":    map[string]any{"type": "number"},
	},
	"required": []string{"lat", "lng", "captured_at"},
}

// registerConquerTool registers the `turf.conquer` tool.
func registerConquerTool(srv *mcpserver.MCPServer, service common.ConquestService) {
	srv.AddTool(
		mcp.NewTool(
			"turf.conquer",
			mcp.WithDescription("Claim the area enclosed by a finished activity loop and resolve overlaps with other owners."),
			mcp.WithString("owner_id", mcp.Required(), mcp.Description("Claiming owner")),
			mcp.WithString("activity_id", mcp.Required(), mcp.Description("Activity that recorded the loop")),
			mcp.WithArray("points", mcp.Required(), mcp.Description("Recorded points in capture order"), mcp.Items(pointSchema)),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			var args common.ConquerRequest
			if err := req.BindArguments(&args); err != nil {
				return invalidRequestToolResult(err), nil
			}
			if strings.TrimSpace(args.OwnerID) == "" {
				return mcp.NewToolResultError(`invalid_request: required argument "owner_id" not found`), nil
			}
			result, err := service.Conquer(ctx, args)
			if err != nil {
				return toolResultFromError(err), nil
			}
			out, err := mcp.NewToolResultJSON(result)
			if err != nil {
				return nil, fmt.Errorf("encode conquer result: %w", err)
			}
			return out, nil
		},
	)
}

// registerTerritoryTools registers territory read tools.
func registerTerritoryTools(srv *mcpserver.MCPServer, service common.ConquestService) {
	srv.AddTool(
		mcp.NewTool(
			"turf.get_territory",
			mcp.WithDescription("Return one territory with its claim history."),
			mcp.WithString("id", mcp.Required(), mcp.Description("Territory identifier")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			id, err := req.RequireString("id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			territory, err := service.GetTerritory(ctx, id)
			if err != nil {
				return toolResultFromError(err), nil
			}
			out, err := mcp.NewToolResultJSON(territory)
			if err != nil {
				return nil, fmt.Errorf("encode get_territory result: %w", err)
			}
			return out, nil
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"turf.list_territories",
			mcp.WithDescription("List territories whose bounding box intersects a box."),
			mcp.WithString("bbox", mcp.Required(), mcp.Description("minLng,minLat,maxLng,maxLat")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			bbox, err := req.RequireString("bbox")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			territories, err := service.ListTerritories(ctx, common.ListTerritoriesRequest{BBox: bbox})
			if err != nil {
				return toolResultFromError(err), nil
			}
			out, err := mcp.NewToolResultJSON(map[string]any{
				"territories": territories,
			})
			if err != nil {
				return nil, fmt.Errorf("encode list_territories result: %w", err)
			}
			return out, nil
		},
	)
}

// registerInvasionTools registers the `turf.list_invasions` tool.
func registerInvasionTools(srv *mcpserver.MCPServer, service common.ConquestService) {
	srv.AddTool(
		mcp.NewTool(
			"turf.list_invasions",
			mcp.WithDescription("List the newest invasions against one owner."),
			mcp.WithString("owner_id", mcp.Required(), mcp.Description("Invaded owner")),
			mcp.WithNumber("limit", mcp.Description("Maximum rows to return")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			ownerID, err := req.RequireString("owner_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			invasions, err := service.ListInvasions(ctx, common.ListInvasionsRequest{
				OwnerID: ownerID,
				Limit:   req.GetInt("limit", 0),
			})
			if err != nil {
				return toolResultFromError(err), nil
			}
			out, err := mcp.NewToolResultJSON(map[string]any{
				"invasions": invasions,
			})
			if err != nil {
				return nil, fmt.Errorf("encode list_invasions result: %w", err)
			}
			return out, nil
		},
	)
}

// invalidRequestToolResult reports undecodable tool arguments.
func invalidRequestToolResult(err error) *mcp.CallToolResult {
	return mcp.NewToolResultError("invalid_request: " + err.Error())
}

// toolResultFromError maps service errors into MCP-visible tool errors.
func toolResultFromError(err error) *mcp.CallToolResult {
	switch {
	case err == nil:
		return mcp.NewToolResultError("unknown error")
	case errors.Is(err, common.ErrInvalidRequest):
		if reason := common.RejectionReason(err); reason != "" {
			return mcp.NewToolResultError("invalid_request[" + reason + "]: " + err.Error())
		}
		return mcp.NewToolResultError("invalid_request: " + err.Error())
	case errors.Is(err, common.ErrNotFound):
		return mcp.NewToolResultError("not_found: " + err.Error())
	case errors.Is(err, common.ErrConflict):
		return mcp.NewToolResultError("conflict: " + err.Error())
	case errors.Is(err, common.ErrUnavailable):
		return mcp.NewToolResultError("service_unavailable: " + err.Error())
	default:
		return mcp.NewToolResultError("internal_error: " + err.Error())
	}
}
