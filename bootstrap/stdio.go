package bootstrap

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/najoast/praas/buffer"
	"github.com/najoast/praas/core"
)

// maxRequestLine bounds one request line read by LineDriver.
const maxRequestLine = 16 * 1024 * 1024

// LineRequest is one invocation read by LineDriver.
type LineRequest struct {
	Function string            `json:"function"`
	Key      string            `json:"key,omitempty"`
	Target   string            `json:"target,omitempty"`
	Args     []json.RawMessage `json:"args,omitempty"`
}

// LineResponse is the outcome written for each LineRequest.
type LineResponse struct {
	Key        string `json:"key"`
	ReturnCode int    `json:"return_code"`
	Payload    string `json:"payload,omitempty"`
	Error      string `json:"error,omitempty"`
}

// LineDriver reads one JSON request per line from r, submits it and writes
// one JSON response per line to w. A JSON string argument is passed as its
// text, any other value as its JSON encoding. End of input stops the
// application.
func LineDriver(r io.Reader, w io.Writer) Driver {
	return func(ctx context.Context, app *ProcessApplication) error {
		logger := app.Logger().With("component", "line-driver")
		lines := make(chan []byte)
		readErr := make(chan error, 1)

		go func() {
			scanner := bufio.NewScanner(r)
			scanner.Buffer(make([]byte, 64*1024), maxRequestLine)
			for scanner.Scan() {
				line := append([]byte(nil), scanner.Bytes()...)
				select {
				case lines <- line:
				case <-ctx.Done():
					return
				}
			}
			readErr <- scanner.Err()
		}()

		encoder := json.NewEncoder(w)
		for {
			select {
			case <-ctx.Done():
				return nil
			case err := <-readErr:
				if err != nil {
					return fmt.Errorf("reading requests: %w", err)
				}
				logger.Info("request input closed")
				return errFinished
			case line := <-lines:
				if len(line) == 0 {
					continue
				}
				resp := serveLine(ctx, app, line)
				if resp.Error != "" {
					logger.Warn("request failed", "key", resp.Key, "error", resp.Error)
				}
				if err := encoder.Encode(resp); err != nil {
					return fmt.Errorf("writing response: %w", err)
				}
			}
		}
	}
}

func serveLine(ctx context.Context, app *ProcessApplication, line []byte) LineResponse {
	var req LineRequest
	if err := json.Unmarshal(line, &req); err != nil {
		return LineResponse{ReturnCode: core.ReturnFailure, Error: fmt.Sprintf("malformed request: %v", err)}
	}
	if req.Function == "" {
		return LineResponse{Key: req.Key, ReturnCode: core.ReturnFailure, Error: "missing function name"}
	}

	args := make([]*buffer.Buffer, 0, len(req.Args))
	for _, raw := range req.Args {
		var text string
		if err := json.Unmarshal(raw, &text); err == nil {
			args = append(args, buffer.FromString(text))
			continue
		}
		args = append(args, buffer.Wrap(append([]byte(nil), raw...)))
	}

	inv := &core.Invocation{Key: req.Key, FunctionName: req.Function, Args: args}
	result, err := app.Submit(ctx, core.ProcessID(req.Target), inv)
	if err != nil {
		return LineResponse{Key: inv.Key, ReturnCode: core.ReturnFailure, Error: err.Error()}
	}

	resp := LineResponse{Key: result.Key, ReturnCode: result.ReturnCode}
	if result.Payload != nil {
		payload := result.Payload.Bytes()
		if !utf8.Valid(payload) {
			return LineResponse{Key: result.Key, ReturnCode: result.ReturnCode, Error: "payload is not valid UTF-8"}
		}
		resp.Payload = string(payload)
	}
	return resp
}
