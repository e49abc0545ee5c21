package gemini

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/avast/retry-go/v4"
)

// finishMaxTokens is the collaborator's "max length reached" signal; the
// response is truncated and a continuation request is needed.
const finishMaxTokens = "MAX_TOKENS"

// generator states. The continuation loop is modeled as an explicit state
// machine with a bounded counter so truncation recovery is testable in
// isolation from the transport.
type genState int

const (
	stateRequesting genState = iota
	stateAccumulating
	stateContinuing
	stateDone
	stateFailed
)

const continuePrompt = "Continue your previous output exactly where it stopped. " +
	"Do not repeat anything already produced and do not add commentary."

// segment is one request/response round within a generation, either streamed
// or recovered via the non-streaming fallback.
type segment struct {
	text   string
	finish string
}

// generateJSON runs one logical generation against the model: a user turn
// carrying the uploaded file plus instruction, streamed and accumulated until
// the stream ends, with up to maxContinuations follow-up requests when the
// model reports MAX_TOKENS. The concatenated text of all rounds is returned.
func (c *Client) generateJSON(ctx context.Context, instruction string, file *File) (string, error) {
	contents := []content{{
		Role: "user",
		Parts: []part{
			{Text: instruction},
			{FileData: &fileData{MimeType: "application/pdf", FileURI: file.URI}},
		},
	}}

	var accumulated strings.Builder
	var seg segment
	var lastErr error
	continuations := 0

	state := stateRequesting
	for {
		switch state {
		case stateRequesting:
			seg, lastErr = c.streamSegment(ctx, contents)
			if lastErr != nil {
				c.log.Debug("stream failed, falling back to non-streaming", "error", lastErr)
				seg, lastErr = c.fallbackSegment(ctx, contents)
			}
			if lastErr != nil {
				state = stateFailed
				continue
			}
			state = stateAccumulating

		case stateAccumulating:
			accumulated.WriteString(seg.text)
			if seg.finish == finishMaxTokens && continuations < c.maxContinuations {
				state = stateContinuing
				continue
			}
			state = stateDone

		case stateContinuing:
			continuations++
			c.log.Info("response truncated, requesting continuation",
				"continuation", continuations, "accumulated", accumulated.Len())
			contents = append(contents,
				content{Role: "model", Parts: []part{{Text: seg.text}}},
				content{Role: "user", Parts: []part{{Text: continuePrompt}}},
			)
			state = stateRequesting

		case stateDone:
			return accumulated.String(), nil

		case stateFailed:
			return "", lastErr
		}
	}
}

// streamSegment issues a streamGenerateContent request and accumulates SSE
// chunks until the stream ends. A mid-stream read error fails the whole
// segment so the caller can fall back to the non-streaming path.
func (c *Client) streamSegment(ctx context.Context, contents []content) (segment, error) {
	url := fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?alt=sse&key=%s",
		c.baseURL, c.model, c.apiKey)

	resp, err := c.post(ctx, url, contents)
	if err != nil {
		return segment{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return segment{}, fmt.Errorf("stream request failed (status %d): %s", resp.StatusCode, string(body))
	}

	var text strings.Builder
	var finish string
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" || payload == "[DONE]" {
			continue
		}
		var chunk generateResponse
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			return segment{}, fmt.Errorf("failed to decode stream chunk: %w", err)
		}
		text.WriteString(chunk.text())
		if fr := chunk.finishReason(); fr != "" {
			finish = fr
		}
	}
	if err := scanner.Err(); err != nil {
		return segment{}, fmt.Errorf("stream interrupted: %w", err)
	}
	return segment{text: text.String(), finish: finish}, nil
}

// fallbackSegment issues a non-streaming generateContent request with
// bounded retries and exponential backoff.
func (c *Client) fallbackSegment(ctx context.Context, contents []content) (segment, error) {
	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s",
		c.baseURL, c.model, c.apiKey)

	var seg segment
	err := retry.Do(
		func() error {
			resp, err := c.post(ctx, url, contents)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("failed to read response: %w", err)
			}
			if resp.StatusCode != http.StatusOK {
				err := fmt.Errorf("request failed (status %d): %s", resp.StatusCode, string(body))
				if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
					return retry.Unrecoverable(err)
				}
				return err
			}
			var gr generateResponse
			if err := json.Unmarshal(body, &gr); err != nil {
				return fmt.Errorf("failed to unmarshal response: %w", err)
			}
			text := gr.text()
			if text == "" {
				return fmt.Errorf("empty response from model")
			}
			seg = segment{text: text, finish: gr.finishReason()}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(c.maxRetries)),
		retry.Delay(c.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return segment{}, fmt.Errorf("non-streaming fallback exhausted: %w", err)
	}
	return seg, nil
}

func (c *Client) post(ctx context.Context, url string, contents []content) (*http.Response, error) {
	body, err := json.Marshal(generateRequest{
		Contents:          contents,
		SystemInstruction: &content{Parts: []part{{Text: systemPrompt}}},
		GenerationConfig:  &generationConfig{ResponseMIMEType: "application/json"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}
