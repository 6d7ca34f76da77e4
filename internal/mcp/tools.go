package mcp

import "github.com/mark3labs/mcp-go/mcp"

// Shared destination and metadata arguments.
var (
	destinationArgs = []mcp.ToolOption{
		mcp.WithString("destination_name", mcp.Description("Destination label")),
		mcp.WithNumber("destination_lat", mcp.Description("Destination latitude")),
		mcp.WithNumber("destination_lon", mcp.Description("Destination longitude")),
		mcp.WithString("destination_address", mcp.Description("Destination street address (geocoded)")),
		mcp.WithString("job_id", mcp.Description("Job ID or name to use as destination")),
	}
	detailArgs = []mcp.ToolOption{
		mcp.WithString("date", mcp.Description("Trip date YYYY-MM-DD (default: today or capture time)")),
		mcp.WithBoolean("round_trip", mcp.Description("Count the distance twice")),
		mcp.WithString("start_name", mcp.Description("Start location label")),
		mcp.WithString("purpose", mcp.Description("Business purpose")),
		mcp.WithString("notes", mcp.Description("Free-form notes (markdown)")),
		mcp.WithString("client_name", mcp.Description("Client billed for the trip")),
	}
)

func tool(name, desc string, groups [][]mcp.ToolOption, opts ...mcp.ToolOption) mcp.Tool {
	all := []mcp.ToolOption{mcp.WithDescription(desc)}
	for _, g := range groups {
		all = append(all, g...)
	}
	return mcp.NewTool(name, append(all, opts...)...)
}

var tripStartToolDef = tool("trip_start",
	"Start continuous GPS tracking. Positions arrive through location_push. Fails with RECOVERY_PENDING while an interrupted trip awaits recovery_resolve.",
	[][]mcp.ToolOption{destinationArgs},
	mcp.WithString("purpose", mcp.Description("Business purpose")),
	mcp.WithString("start_name", mcp.Description("Start location label")),
)

var tripStopToolDef = tool("trip_stop",
	"Stop continuous tracking and save the trip.", nil)

var tripDiscardToolDef = tool("trip_discard",
	"Stop continuous tracking without saving.", nil,
	mcp.WithDestructiveHintAnnotation(true),
)

var tripStatusToolDef = tool("trip_status",
	"Current tracking state, distance so far, and any point-to-point capture in progress.", nil,
	mcp.WithReadOnlyHintAnnotation(true),
)

var locationPushToolDef = tool("location_push",
	"Report a device position. Feeds the active tracking session and single-location captures.", nil,
	mcp.WithNumber("lat", mcp.Required(), mcp.Description("Latitude in degrees")),
	mcp.WithNumber("lon", mcp.Required(), mcp.Description("Longitude in degrees")),
	mcp.WithNumber("accuracy", mcp.Description("Horizontal accuracy radius in meters")),
	mcp.WithNumber("altitude", mcp.Description("Altitude in meters")),
	mcp.WithNumber("speed", mcp.Description("Speed in m/s")),
	mcp.WithNumber("course", mcp.Description("Course in degrees")),
	mcp.WithString("timestamp", mcp.Description("RFC 3339 fix time (default: now)")),
)

var recoveryInspectToolDef = tool("recovery_inspect",
	"Check for a trip interrupted by a crash or shutdown.", nil,
	mcp.WithReadOnlyHintAnnotation(true),
)

var recoveryResolveToolDef = tool("recovery_resolve",
	"Resolve an interrupted trip: resume tracking, finalize it as a saved trip, or discard it.", nil,
	mcp.WithString("action", mcp.Required(), mcp.Enum("resume", "finalize", "discard")),
)

var tripManualToolDef = tool("trip_manual",
	"Record a trip with a user-entered distance.",
	[][]mcp.ToolOption{detailArgs},
	mcp.WithNumber("distance_km", mcp.Required(), mcp.Description("One-way distance in kilometres")),
	mcp.WithString("end_name", mcp.Description("Destination label")),
	mcp.WithString("job_id", mcp.Description("Job ID")),
)

var tripP2PStartToolDef = tool("trip_p2p_start",
	"Capture the current location as the start of a point-to-point trip.", nil)

var tripP2PFinishToolDef = tool("trip_p2p_finish",
	"Capture the current location as the end of a point-to-point trip and save it.",
	[][]mcp.ToolOption{detailArgs},
	mcp.WithString("end_name", mcp.Description("Destination label")),
	mcp.WithString("job_id", mcp.Description("Job ID")),
)

var tripRouteToolDef = tool("trip_route",
	"Record a trip using a road-route estimate to a destination. Falls back to straight-line distance when routing fails.",
	[][]mcp.ToolOption{destinationArgs, detailArgs},
	mcp.WithNumber("start_lat", mcp.Description("Start latitude (default: current location)")),
	mcp.WithNumber("start_lon", mcp.Description("Start longitude")),
)

var tripListToolDef = tool("trip_list",
	"List saved trips, newest first.", nil,
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithNumber("year", mcp.Description("Calendar year filter")),
	mcp.WithString("mode", mcp.Enum("manual", "point_to_point", "continuous", "route_based")),
	mcp.WithString("job_id", mcp.Description("Job filter")),
	mcp.WithNumber("limit", mcp.Description("Max results (default 20, max 100)")),
	mcp.WithNumber("offset", mcp.Description("Pagination offset")),
)

var tripFetchToolDef = tool("trip_fetch",
	"Fetch one saved trip.", nil,
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithString("id", mcp.Required()),
	mcp.WithBoolean("include_route", mcp.Description("Include route points and polyline (default true)")),
)

var tripDeleteToolDef = tool("trip_delete",
	"Permanently delete a saved trip.", nil,
	mcp.WithDestructiveHintAnnotation(true),
	mcp.WithString("id", mcp.Required()),
)

var deductionSummaryToolDef = tool("deduction_summary",
	"Annual distance and tiered deduction, with each trip's share.", nil,
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithNumber("year", mcp.Description("Calendar year (default: current)")),
)

var tripExportToolDef = tool("trip_export",
	"Export trip geometry to GPX or GeoJSON under ~/.mileage/exports or an allowed path.", nil,
	mcp.WithString("path", mcp.Description("Output file path")),
	mcp.WithString("format", mcp.Enum("gpx", "geojson")),
	mcp.WithString("id", mcp.Description("Export a single trip")),
	mcp.WithNumber("year", mcp.Description("Export one calendar year")),
)

var tripImportGPXToolDef = tool("trip_import_gpx",
	"Save a continuous trip from a GPX track file. The date comes from the track.",
	[][]mcp.ToolOption{detailArgs[1:]},
	mcp.WithString("path", mcp.Required(), mcp.Description("GPX file directly in an allowed directory")),
	mcp.WithString("end_name", mcp.Description("Destination label (default: track name)")),
	mcp.WithString("job_id", mcp.Description("Job ID")),
)

var jobAddToolDef = tool("job_add",
	"Add a job site usable as a trip destination.", nil,
	mcp.WithString("name", mcp.Required()),
	mcp.WithString("address"),
	mcp.WithNumber("lat"),
	mcp.WithNumber("lon"),
	mcp.WithString("client_name"),
)

var jobListToolDef = tool("job_list",
	"List job sites.", nil,
	mcp.WithReadOnlyHintAnnotation(true),
)
