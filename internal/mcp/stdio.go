package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

const maxStdioMessage = 1024 * 1024

// lineWriter serialises newline-delimited JSON messages onto w.
type lineWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (lw *lineWriter) write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	lw.mu.Lock()
	defer lw.mu.Unlock()
	if _, err := lw.w.Write(append(data, '\n')); err != nil {
		return err
	}
	return nil
}

func (lw *lineWriter) Notify(method string, params any) error {
	return lw.write(JSONRPCNotification{JSONRPC: "2.0", Method: method, Params: params})
}

// ServeStdio serves one MCP session over newline-delimited JSON on r/w
// until r reaches EOF or ctx ends. Requests run concurrently so a
// long tool call does not block ping; responses are written as they
// complete.
func (s *Server) ServeStdio(ctx context.Context, r io.Reader, w io.Writer) error {
	out := &lineWriter{w: w}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxStdioMessage)

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

	s.log.Info().Msg("serving MCP on stdio")

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				wg.Wait()
				if err := <-scanErr; err != nil {
					return fmt.Errorf("reading stdin: %w", err)
				}
				s.log.Info().Msg("stdin closed, stdio session ending")
				return nil
			}
			if len(line) == 0 {
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				resp := s.HandleBytes(ctx, line, out)
				if resp == nil {
					return
				}
				if err := out.write(resp); err != nil {
					s.log.Error().Err(err).Msg("writing stdio response")
				}
			}()
		}
	}
}
