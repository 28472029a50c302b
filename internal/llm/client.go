package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/moxxy-run/moxxy/internal/moxxyerr"
)

// httpClient is shared across all providers; 120s matches the host LLM call
// timeout spec §5 mandates for host_invoke_llm.
var httpClient = &http.Client{Timeout: 120 * time.Second}

type openAIChatRequest struct {
	Model    string              `json:"model"`
	Messages []openAIChatMessage `json:"messages"`
}

type openAIChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// callOpenAIShape posts to <baseURL>/chat/completions in OpenAI wire format.
func callOpenAIShape(ctx context.Context, p Provider, model string, messages []Message) (string, error) {
	wire := make([]openAIChatMessage, len(messages))
	for i, m := range messages {
		wire[i] = openAIChatMessage{Role: m.Role, Content: m.Content}
	}
	body, err := json.Marshal(openAIChatRequest{Model: model, Messages: wire})
	if err != nil {
		return "", fmt.Errorf("llm: marshal request: %w", err)
	}

	endpoint := strings.TrimRight(p.Def.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("llm: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	applyAuth(req, p)
	for k, v := range p.Def.ExtraHeaders {
		req.Header.Set(k, v)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", moxxyerr.WrapUpstream(err, "llm request to %s", p.Def.ID)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", moxxyerr.WrapUpstream(err, "llm read response")
	}
	if resp.StatusCode != http.StatusOK {
		return "", moxxyerr.Upstreamf("llm %s: HTTP %d: %s", p.Def.ID, resp.StatusCode, string(data))
	}

	var parsed openAIChatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", moxxyerr.WrapUpstream(err, "llm decode response")
	}
	if parsed.Error != nil {
		return "", moxxyerr.Upstreamf("llm %s: %s", p.Def.ID, parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", moxxyerr.Upstreamf("llm %s: empty choices", p.Def.ID)
	}
	return parsed.Choices[0].Message.Content, nil
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent  `json:"system_instruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// callGeminiShape posts to <baseURL>/models/<model>:generateContent.
func callGeminiShape(ctx context.Context, p Provider, model string, messages []Message) (string, error) {
	var sys *geminiContent
	var contents []geminiContent
	for _, m := range messages {
		if m.Role == "system" && sys == nil {
			sys = &geminiContent{Parts: []geminiPart{{Text: m.Content}}}
			continue
		}
		contents = append(contents, geminiContent{Role: m.Role, Parts: []geminiPart{{Text: m.Content}}})
	}

	body, err := json.Marshal(geminiRequest{SystemInstruction: sys, Contents: contents})
	if err != nil {
		return "", fmt.Errorf("llm: marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", strings.TrimRight(p.Def.BaseURL, "/"), model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("llm: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	applyAuth(req, p)

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", moxxyerr.WrapUpstream(err, "llm request to %s", p.Def.ID)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", moxxyerr.WrapUpstream(err, "llm read response")
	}
	if resp.StatusCode != http.StatusOK {
		return "", moxxyerr.Upstreamf("llm %s: HTTP %d: %s", p.Def.ID, resp.StatusCode, string(data))
	}

	var parsed geminiResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", moxxyerr.WrapUpstream(err, "llm decode response")
	}
	if parsed.Error != nil {
		return "", moxxyerr.Upstreamf("llm %s: %s", p.Def.ID, parsed.Error.Message)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return "", moxxyerr.Upstreamf("llm %s: empty candidates", p.Def.ID)
	}
	return parsed.Candidates[0].Content.Parts[0].Text, nil
}

func applyAuth(req *http.Request, p Provider) {
	switch p.Def.Auth.Type {
	case "query_param":
		q := req.URL.Query()
		name := p.Def.Auth.ParamName
		if name == "" {
			name = "key"
		}
		q.Set(name, p.APIKey)
		req.URL.RawQuery = q.Encode()
	default: // "bearer"
		req.Header.Set("Authorization", "Bearer "+p.APIKey)
	}
}

// parseURL parses a provider base URL with url.Parse. Nothing in this
// repository calls it.
func parseURL(raw string) (*url.URL, error) {
	return url.Parse(raw)
}
