package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/capitalize-ai/canvas-chat/internal/model"
	"github.com/capitalize-ai/canvas-chat/pkg/artifact"
)

// TurnResult is what a completed turn produced.
type TurnResult struct {
	Text       string
	Reasoning  string
	ToolCalls  []model.ToolCallFrame
	Draft      artifact.Draft
	MessageIDs []string
	Finish     string
}

// StreamError is an error frame received after the stream started.
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string { return "stream error: " + e.Message }

// FrameFunc observes raw frames as they arrive. The draft is the artifact
// state after the frame was applied.
type FrameFunc func(code model.StreamCode, payload json.RawMessage, draft artifact.Draft)

// Submit sends a turn and consumes the streamed answer. Artifact deltas are
// applied to a fresh reducer in arrival order.
func (c *Client) Submit(ctx context.Context, turn *model.ChatRequest, onFrame FrameFunc) (*TurnResult, error) {
	body, err := json.Marshal(turn)
	if err != nil {
		return nil, err
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/conversation", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}

	return readTurn(resp.Body, onFrame)
}

func readTurn(r io.Reader, onFrame FrameFunc) (*TurnResult, error) {
	var (
		res      TurnResult
		text     strings.Builder
		thoughts strings.Builder
		deltas   []artifact.Delta
	)
	reducer := artifact.NewReducer()

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64<<10), 8<<20)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		code, payload, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("malformed stream line %q", line)
		}
		raw := json.RawMessage(payload)

		switch model.StreamCode(code) {
		case model.StreamText:
			var s string
			if err := json.Unmarshal(raw, &s); err != nil {
				return nil, fmt.Errorf("decode text frame: %w", err)
			}
			text.WriteString(s)
		case model.StreamReasoning:
			var s string
			if err := json.Unmarshal(raw, &s); err != nil {
				return nil, fmt.Errorf("decode reasoning frame: %w", err)
			}
			thoughts.WriteString(s)
		case model.StreamData:
			var batch []artifact.Delta
			if err := json.Unmarshal(raw, &batch); err != nil {
				return nil, fmt.Errorf("decode data frame: %w", err)
			}
			deltas = append(deltas, batch...)
			res.Draft = reducer.ApplyBatch(deltas)
		case model.StreamToolCall:
			var tc model.ToolCallFrame
			if err := json.Unmarshal(raw, &tc); err != nil {
				return nil, fmt.Errorf("decode tool call frame: %w", err)
			}
			res.ToolCalls = append(res.ToolCalls, tc)
		case model.StreamError:
			var s string
			_ = json.Unmarshal(raw, &s)
			return nil, &StreamError{Message: s}
		case model.StreamFinish:
			var fin model.FinishFrame
			if err := json.Unmarshal(raw, &fin); err != nil {
				return nil, fmt.Errorf("decode finish frame: %w", err)
			}
			res.Finish = fin.FinishReason
			res.MessageIDs = fin.MessageIDs
		}

		if onFrame != nil {
			onFrame(model.StreamCode(code), raw, res.Draft)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if res.Finish == "" {
		return nil, fmt.Errorf("stream ended without finish frame")
	}

	res.Text = text.String()
	res.Reasoning = thoughts.String()
	return &res, nil
}
