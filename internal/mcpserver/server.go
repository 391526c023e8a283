// Package mcpserver exposes the recognition core as MCP tools so agent
// frontends can enroll speakers, identify clips and inspect sessions without
// going through the HTTP gateway.
//
// The server speaks the Model Context Protocol over stdio ([Server.Run] with
// a StdioTransport) or streamable HTTP ([Server.Handler] mounted on any mux).
// Audio crosses the protocol as base64-encoded WAV, the only binary-safe
// encoding a JSON transport offers.
package mcpserver

import (
	"context"
	"net/http"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/earshot-audio/earshot/internal/app"
)

const (
	serverName    = "earshot"
	serverVersion = "1.0.0"
)

// Server wraps the app core behind an MCP tool catalogue.
type Server struct {
	app *app.App
	srv *mcpsdk.Server
}

// New builds the MCP server and registers its tools.
func New(application *app.App) *Server {
	s := &Server{app: application}

	srv := mcpsdk.NewServer(&mcpsdk.Implementation{Name: serverName, Version: serverVersion}, nil)

	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name: "enroll_speaker",
		Description: "Enroll a speaker from one or more WAV recordings so they can be " +
			"identified in live audio. Recordings must total at least a few seconds " +
			"of clean speech from only that speaker.",
	}, s.enrollSpeaker)

	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        "list_speakers",
		Description: "List all enrolled speakers with their enrollment quality.",
	}, s.listSpeakers)

	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name: "identify_clip",
		Description: "Identify which enrolled speaker a WAV recording contains. " +
			"Returns the best match and its similarity score, or unknown when " +
			"nobody scores above the decision threshold.",
	}, s.identifyClip)

	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name: "session_stats",
		Description: "Report live recognition session counters: processed audio, " +
			"per-speaker speech time and match decisions. Omit session_id to " +
			"report every session.",
	}, s.sessionStats)

	s.srv = srv
	return s
}

// Run serves a single MCP session over the transport until the client
// disconnects or ctx is cancelled. Use a StdioTransport when the process is
// spawned by an agent host.
func (s *Server) Run(ctx context.Context, t mcpsdk.Transport) error {
	return s.srv.Run(ctx, t)
}

// Handler returns the streamable HTTP handler for serving MCP alongside the
// REST API.
func (s *Server) Handler() http.Handler {
	return mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server { return s.srv }, nil)
}
