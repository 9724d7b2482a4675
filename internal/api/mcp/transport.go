package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/log"
)

// maxLineBytes caps a single request line.
const maxLineBytes = 4 * 1024 * 1024

// StdioTransport reads line-delimited JSON-RPC 2.0 requests from in and
// writes one response line per request to out. Nothing but responses may be
// written to out; diagnostics go to the logger, which must target stderr.
type StdioTransport struct {
	server *Server
	in     io.Reader
	out    io.Writer
	logger *log.Logger
}

// NewStdioTransport constructs a StdioTransport.
//
//	t := mcp.NewStdioTransport(srv, os.Stdin, os.Stdout, logger)
//	t.Serve(ctx)
func NewStdioTransport(srv *Server, in io.Reader, out io.Writer, logger *log.Logger) *StdioTransport {
	if logger == nil {
		logger = srv.logger
	}
	return &StdioTransport{server: srv, in: in, out: out, logger: logger}
}

// Serve handles requests in arrival order until in reaches EOF or ctx is
// done. A clean EOF returns nil.
func (t *StdioTransport) Serve(ctx context.Context) error {
	scanner := bufio.NewScanner(t.in)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	lines := make(chan []byte)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("context cancelled, shutting down")
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					if err != nil {
						return fmt.Errorf("stdin scanner: %w", err)
					}
				default:
				}
				t.logger.Info("stdin closed, shutting down")
				return nil
			}
			if err := t.handleLine(ctx, line); err != nil {
				return err
			}
		}
	}
}

func (t *StdioTransport) handleLine(ctx context.Context, line []byte) error {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil
	}

	resp, err := t.server.HandleRequest(ctx, line)
	if err != nil {
		t.logger.Error("handler error", "err", err)
		resp = internalErrorResponse(line, err)
	}
	if isNotification(line) {
		return nil
	}
	if _, err := fmt.Fprintf(t.out, "%s\n", resp); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	return nil
}

// isNotification reports whether line is a JSON-RPC notification, which
// must not be answered.
func isNotification(line []byte) bool {
	var head struct {
		ID     json.RawMessage `json:"id"`
		Method string          `json:"method"`
	}
	if err := json.Unmarshal(line, &head); err != nil {
		return false
	}
	return head.ID == nil && strings.HasPrefix(head.Method, "notifications/")
}

// internalErrorResponse builds an error frame for a failed handler, keeping
// the request id when it can be recovered.
func internalErrorResponse(rawRequest []byte, handlerErr error) []byte {
	var partial struct {
		ID interface{} `json:"id"`
	}
	_ = json.Unmarshal(rawRequest, &partial)

	data, err := json.Marshal(JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      partial.ID,
		Error:   &JSONRPCError{Code: ErrCodeInternalError, Message: handlerErr.Error()},
	})
	if err != nil {
		return []byte(`{"jsonrpc":"2.0","id":null,"error":{"code":-32603,"message":"internal error"}}`)
	}
	return data
}
