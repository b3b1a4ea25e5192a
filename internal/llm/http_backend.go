package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/quorumforge/aiorch/internal/core"
)

// HTTPBackend implements core.LLMBackend against an OpenAI-compatible
// /v1/chat/completions endpoint (spec §6, consumed surface 2). Streaming
// reads line-delimited `data: {...}` JSON; a line `data: [DONE]`
// terminates the stream.
type HTTPBackend struct {
	baseURL string
	client  *http.Client
}

// NewHTTPBackend constructs an HTTPBackend against baseURL (e.g.
// http://localhost:11434 or https://api.openai.com).
func NewHTTPBackend(baseURL string) *HTTPBackend {
	return &HTTPBackend{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

var _ core.LLMBackend = (*HTTPBackend)(nil)

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	Temperature float64       `json:"temperature,omitempty"`
	TopP        float64       `json:"top_p,omitempty"`
	TopK        int           `json:"top_k,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type chatCompletionChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

func toWireMessages(in []core.ChatMessage) []chatMessage {
	out := make([]chatMessage, len(in))
	for i, m := range in {
		out[i] = chatMessage{Role: m.Role, Content: m.Content}
	}
	return out
}

// ChatCompletion issues a non-streaming chat completion request.
func (b *HTTPBackend) ChatCompletion(ctx context.Context, req core.ChatRequest) (*core.ChatResponse, error) {
	body := chatCompletionRequest{
		Model:       req.Model,
		Messages:    toWireMessages(req.Messages),
		Stream:      false,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		TopK:        req.TopK,
		MaxTokens:   req.MaxTokens,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, core.ErrInternal("", "marshaling chat request").WithCause(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, core.ErrInternal("", "building chat request").WithCause(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, core.ErrTimeout("llm backend call timed out")
		}
		return nil, core.ErrExternal("LLM_REQUEST_FAILED", "llm backend request failed").WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, core.ErrExternal("LLM_BAD_STATUS", fmt.Sprintf("llm backend returned status %d", resp.StatusCode))
	}

	var out chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, core.ErrExternal("LLM_BAD_RESPONSE", "llm backend returned unparseable response").WithCause(err)
	}
	text := ""
	if len(out.Choices) > 0 {
		text = out.Choices[0].Message.Content
	}
	tokensIn := out.Usage.PromptTokens
	tokensOut := out.Usage.CompletionTokens
	if tokensIn == 0 {
		tokensIn = countWords(promptText(req.Messages))
	}
	if tokensOut == 0 {
		tokensOut = countWords(text)
	}
	return &core.ChatResponse{Text: text, TokensIn: tokensIn, TokensOut: tokensOut}, nil
}

// StreamChatCompletion issues a streaming chat completion request, parsing
// line-delimited `data: {...}` chunks until `data: [DONE]` or an error.
func (b *HTTPBackend) StreamChatCompletion(ctx context.Context, req core.ChatRequest) (<-chan core.StreamChunk, error) {
	body := chatCompletionRequest{
		Model:       req.Model,
		Messages:    toWireMessages(req.Messages),
		Stream:      true,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		TopK:        req.TopK,
		MaxTokens:   req.MaxTokens,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, core.ErrInternal("", "marshaling chat request").WithCause(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, core.ErrInternal("", "building chat request").WithCause(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, core.ErrExternal("LLM_REQUEST_FAILED", "llm backend request failed").WithCause(err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, core.ErrExternal("LLM_BAD_STATUS", fmt.Sprintf("llm backend returned status %d", resp.StatusCode))
	}

	out := make(chan core.StreamChunk)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case <-ctx.Done():
				out <- core.StreamChunk{Err: core.ErrCancelled("stream cancelled")}
				return
			default:
			}
			line := strings.TrimSpace(scanner.Text())
			if line == "" || !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				out <- core.StreamChunk{Done: true}
				return
			}
			var chunk chatCompletionChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				continue
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			text := chunk.Choices[0].Delta.Content
			if text != "" {
				out <- core.StreamChunk{Text: text}
			}
			if chunk.Choices[0].FinishReason != nil {
				out <- core.StreamChunk{Done: true}
				return
			}
		}
		if err := scanner.Err(); err != nil {
			out <- core.StreamChunk{Err: core.ErrExternal("LLM_STREAM_ERROR", "llm stream read failed").WithCause(err)}
		}
	}()
	return out, nil
}

func promptText(msgs []core.ChatMessage) string {
	var sb strings.Builder
	for _, m := range msgs {
		sb.WriteString(m.Content)
		sb.WriteString(" ")
	}
	return sb.String()
}

// countWords is the fallback input/output token estimate spec §4.8
// mandates "by simple whitespace split when the backend does not return
// counts".
func countWords(s string) int {
	return len(strings.Fields(s))
}
