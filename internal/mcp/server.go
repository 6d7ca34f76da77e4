package mcp

import (
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hpungsan/mileage/internal/app"
)

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"trip_start": {
		def:     tripStartToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleTripStart },
	},
	"trip_stop": {
		def:     tripStopToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleTripStop },
	},
	"trip_discard": {
		def:     tripDiscardToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleTripDiscard },
	},
	"trip_status": {
		def:     tripStatusToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleTripStatus },
	},
	"location_push": {
		def:     locationPushToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleLocationPush },
	},
	"recovery_inspect": {
		def:     recoveryInspectToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleRecoveryInspect },
	},
	"recovery_resolve": {
		def:     recoveryResolveToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleRecoveryResolve },
	},
	"trip_manual": {
		def:     tripManualToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleTripManual },
	},
	"trip_p2p_start": {
		def:     tripP2PStartToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleTripP2PStart },
	},
	"trip_p2p_finish": {
		def:     tripP2PFinishToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleTripP2PFinish },
	},
	"trip_route": {
		def:     tripRouteToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleTripRoute },
	},
	"trip_list": {
		def:     tripListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleTripList },
	},
	"trip_fetch": {
		def:     tripFetchToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleTripFetch },
	},
	"trip_delete": {
		def:     tripDeleteToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleTripDelete },
	},
	"deduction_summary": {
		def:     deductionSummaryToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleDeductionSummary },
	},
	"trip_export": {
		def:     tripExportToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleTripExport },
	},
	"trip_import_gpx": {
		def:     tripImportGPXToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleTripImportGPX },
	},
	"job_add": {
		def:     jobAddToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleJobAdd },
	},
	"job_list": {
		def:     jobListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleJobList },
	},
}

// AllToolNames returns every tool name, sorted.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateDisabledTools returns a list of unknown tool names from the given list.
func ValidateDisabledTools(names []string) []string {
	unknown := make([]string, 0)
	for _, name := range names {
		if _, ok := toolRegistry[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// NewServer creates a new MCP server with the mileage tools registered.
// Tools listed in the config's DisabledTools are skipped.
func NewServer(a *app.App, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"mileage",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(a)

	disabled := make(map[string]bool)
	if a.Config != nil {
		for _, name := range a.Config.DisabledTools {
			disabled[name] = true
		}
	}

	for name, entry := range toolRegistry {
		if disabled[name] {
			continue
		}
		s.AddTool(entry.def, entry.handler(h))
	}

	return s
}

// Run starts the MCP server using stdio transport.
func Run(a *app.App, version string) error {
	return server.ServeStdio(NewServer(a, version))
}
