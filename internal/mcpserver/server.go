// Package mcpserver provides an MCP (Model Context Protocol) server that
// exposes the document store as tools for LLM integration via stdio
// transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/othala/internal/apperr"
	"github.com/starford/othala/internal/remotestorage"
	"github.com/starford/othala/internal/rspath"
)

// Server wraps the MCP server with storage tools. Tools address documents by
// their full path (/<user>/<module>/.../<name>) and go through the same
// coordinator as the HTTP API, so versions cascade normally.
type Server struct {
	mcp *server.MCPServer
	svc *remotestorage.Service
}

// New creates a new MCP server with all storage tools registered.
func New(svc *remotestorage.Service) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Othala",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("read_document",
		mcp.WithDescription("Read a stored document. Returns its content as text."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Full document path (e.g. /alice/notes/todo.txt)")),
	), s.readDocument)

	s.mcp.AddTool(mcp.NewTool("write_document",
		mcp.WithDescription("Create or overwrite a document at the given path. "+
			"Parent folders are created implicitly."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Full document path (must not end with a slash)")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Document content")),
		mcp.WithString("content_type", mcp.Description("MIME type (default text/plain)")),
	), s.writeDocument)

	s.mcp.AddTool(mcp.NewTool("delete_document",
		mcp.WithDescription("Delete a document. Empty parent folders disappear with it."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Full document path")),
	), s.deleteDocument)

	s.mcp.AddTool(mcp.NewTool("list_folder",
		mcp.WithDescription("List the direct children of a folder. Subfolder names end with a slash."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Full folder path, trailing slash (e.g. /alice/notes/)")),
	), s.listFolder)

	s.mcp.AddTool(mcp.NewTool("get_usage",
		mcp.WithDescription("Report the total bytes a user has stored."),
		mcp.WithString("user", mcp.Required(), mcp.Description("User identifier")),
	), s.getUsage)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func parseArgPath(req mcp.CallToolRequest, folder bool) (rspath.Path, error) {
	raw, err := req.RequireString("path")
	if err != nil {
		return rspath.Path{}, err
	}
	p, err := rspath.Parse(raw)
	if err != nil {
		return rspath.Path{}, fmt.Errorf("invalid path %q", raw)
	}
	if folder && !p.IsFolder() {
		return rspath.Path{}, fmt.Errorf("%q is not a folder path (trailing slash required)", raw)
	}
	if !folder && p.IsFolder() {
		return rspath.Path{}, fmt.Errorf("%q is a folder path, expected a document", raw)
	}
	return p, nil
}

func (s *Server) readDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, err := parseArgPath(req, false)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	doc, err := s.svc.GetDocument(ctx, p, nil)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("not found: %s", p)), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	defer doc.Body.Close()
	data, err := io.ReadAll(doc.Body)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) writeDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, err := parseArgPath(req, false)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	contentType := "text/plain"
	if ct, err := req.RequireString("content_type"); err == nil && ct != "" {
		contentType = ct
	}

	version, err := s.svc.PutDocument(ctx, p, contentType, []byte(content), nil, nil)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("stored: %s (version %s)", p, version)), nil
}

func (s *Server) deleteDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, err := parseArgPath(req, false)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if _, err := s.svc.DeleteDocument(ctx, p, nil); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("not found: %s", p)), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("deleted: %s", p)), nil
}

func (s *Server) listFolder(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, err := parseArgPath(req, true)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	folder, err := s.svc.GetFolder(ctx, p, nil)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	type entry struct {
		Name        string `json:"name"`
		Folder      bool   `json:"folder,omitempty"`
		Length      int64  `json:"length,omitempty"`
		ContentType string `json:"contentType,omitempty"`
		Version     string `json:"version,omitempty"`
	}
	entries := make([]entry, 0, len(folder.Items))
	for name, item := range folder.Items {
		e := entry{Name: name, Folder: item.IsFolder}
		if !item.IsFolder {
			e.Length = item.Length
			e.ContentType = item.ContentType
			e.Version = item.Version.String()
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	out, _ := json.MarshalIndent(entries, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) getUsage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	user, err := req.RequireString("user")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	p, err := rspath.Parse("/" + user + "/")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid user %q", user)), nil
	}
	size, human, err := s.svc.Usage(ctx, p)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("%d bytes (%s)", size, human)), nil
}
