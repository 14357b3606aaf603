package mcp

import (
	"context"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// ServerName is reported to MCP clients during initialization
const ServerName = "danmaku-tools"

// Server exposes the danmaku tools over MCP
type Server struct {
	server  *mcpsdk.Server
	handler *Handler
}

// NewServer creates the MCP server and registers every tool
func NewServer(handler *Handler, version string) *Server {
	server := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    ServerName,
		Version: version,
	}, nil)

	s := &Server{server: server, handler: handler}
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	h := s.handler

	// Queue
	mcpsdk.AddTool(s.server, &mcpsdk.Tool{
		Name:        "danmaku_send",
		Description: "Queue a danmaku for the live overlay. The text goes through the content filter first; blocked or held text is reported as an error naming the matched rules.",
	}, h.Send)
	mcpsdk.AddTool(s.server, &mcpsdk.Tool{
		Name:        "danmaku_queue_status",
		Description: "Show how many danmaku are queued per status, the delivery counters, and whether delivery is running.",
	}, h.QueueStatus)
	mcpsdk.AddTool(s.server, &mcpsdk.Tool{
		Name:        "danmaku_list_messages",
		Description: "List queued danmaku in delivery order, optionally for one user or status.",
	}, h.ListMessages)
	mcpsdk.AddTool(s.server, &mcpsdk.Tool{
		Name:        "danmaku_cancel",
		Description: "Cancel a queued danmaku by id. A message already on screen cannot be recalled.",
	}, h.Cancel)
	mcpsdk.AddTool(s.server, &mcpsdk.Tool{
		Name:        "danmaku_processor",
		Description: "Start or stop delivering queued danmaku to the overlay.",
	}, h.Processor)

	// Filter
	mcpsdk.AddTool(s.server, &mcpsdk.Tool{
		Name:        "danmaku_check_text",
		Description: "Run text through the content filter without queueing it. Returns the action, risk level, matched rules and filtered text.",
	}, h.CheckText)
	mcpsdk.AddTool(s.server, &mcpsdk.Tool{
		Name:        "danmaku_list_rules",
		Description: "List the content filter rules in evaluation order.",
	}, h.ListRules)
	mcpsdk.AddTool(s.server, &mcpsdk.Tool{
		Name:        "danmaku_set_rule",
		Description: "Enable or disable a content filter rule by id.",
	}, h.SetRule)
	mcpsdk.AddTool(s.server, &mcpsdk.Tool{
		Name:        "danmaku_filter_stats",
		Description: "Summarise recent filter decisions: processed, blocked, warned, replaced and held for review.",
	}, h.Stats)

	// Overlay
	mcpsdk.AddTool(s.server, &mcpsdk.Tool{
		Name:        "danmaku_overlay",
		Description: "Control the overlay: pause, resume, clear the screen, set speed (slow, normal, fast) or opacity (0 to 1).",
	}, h.Overlay)
}

// Run serves MCP over stdio until ctx is done or the client disconnects
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcpsdk.StdioTransport{})
}

// GetServer returns the underlying MCP server
func (s *Server) GetServer() *mcpsdk.Server {
	return s.server
}
