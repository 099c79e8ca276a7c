package llm

import (
	"bufio"
	"encoding/json"
	"io"
	"net/http"
	"strings"
)

// sseStream reads server-sent events off a provider response body and
// yields text chunks. It is finite and not restartable; Close aborts the
// underlying call by closing the body.
type sseStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	parse   func(data string) (chunk string, done bool, err error)
	closed  bool
}

func newSSEStream(resp *http.Response, parse func(string) (string, bool, error)) *sseStream {
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &sseStream{
		body:    resp.Body,
		scanner: scanner,
		parse:   parse,
	}
}

func (s *sseStream) Recv() (string, error) {
	if s.closed {
		return "", io.EOF
	}
	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}

		chunk, done, err := s.parse(data)
		if err != nil {
			s.Close()
			return "", err
		}
		if done {
			s.Close()
			return "", io.EOF
		}
		if chunk == "" {
			continue
		}
		return chunk, nil
	}
	if err := s.scanner.Err(); err != nil {
		s.Close()
		return "", err
	}
	s.Close()
	return "", io.EOF
}

func (s *sseStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.body.Close()
}

// parseOpenAIStreamData handles one OpenAI-style SSE payload.
func parseOpenAIStreamData(data string) (string, bool, error) {
	if data == "[DONE]" {
		return "", true, nil
	}
	var event struct {
		Choices []struct {
			Delta struct {
				Content string `json:"content"`
			} `json:"delta"`
			FinishReason *string `json:"finish_reason"`
		} `json:"choices"`
	}
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		// Keep-alives and unknown event shapes are skipped, not fatal.
		return "", false, nil
	}
	if len(event.Choices) == 0 {
		return "", false, nil
	}
	return event.Choices[0].Delta.Content, false, nil
}

// parseAnthropicStreamData handles one Anthropic messages-API SSE payload.
func parseAnthropicStreamData(data string) (string, bool, error) {
	var event struct {
		Type  string `json:"type"`
		Delta struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"delta"`
	}
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		return "", false, nil
	}
	switch event.Type {
	case "content_block_delta":
		if event.Delta.Type == "text_delta" {
			return event.Delta.Text, false, nil
		}
		return "", false, nil
	case "message_stop":
		return "", true, nil
	default:
		return "", false, nil
	}
}
