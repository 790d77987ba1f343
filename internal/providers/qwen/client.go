package qwen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"promptgrid/internal/domain"
	"promptgrid/internal/engine"
	"promptgrid/internal/infra"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("qwen: api key is required")

// Options configures the DashScope Qwen client.
type Options struct {
	APIKey         string
	BaseURL        string
	ImageSize      string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client is an engine backend over the DashScope Qwen APIs. It handles text
// and image generation synchronously; cells asking for video or audio on a
// qwen model fail admission at the backend boundary.
type Client struct {
	apiKey     string
	baseURL    string
	imageSize  string
	httpClient *http.Client
	logger     *infra.Logger
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 45 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://dashscope-intl.aliyuncs.com/api/v1"
	}
	imageSize := strings.TrimSpace(opts.ImageSize)
	if imageSize == "" {
		imageSize = "1328*1328"
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		imageSize:  imageSize,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c.apiKey != ""
}

// Generate dispatches one generation request. Image results come back as a
// time-limited URL; persisting the asset is the caller's concern.
func (c *Client) Generate(ctx context.Context, req engine.GenerateRequest) (*engine.GenerateResult, error) {
	if !c.HasCredentials() {
		return nil, ErrMissingAPIKey
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, errors.New("qwen: prompt is required")
	}
	switch req.Type {
	case domain.GenerationTypeText:
		return c.generateText(ctx, req, prompt)
	case domain.GenerationTypeImage:
		return c.generateImage(ctx, req, prompt)
	default:
		return nil, fmt.Errorf("qwen: unsupported generation type %q", req.Type)
	}
}

// CheckJobStatus satisfies the backend interface. The qwen paths are
// synchronous, so no job can be outstanding.
func (c *Client) CheckJobStatus(ctx context.Context, jobID string) (*engine.JobStatusResult, error) {
	return nil, fmt.Errorf("qwen: unknown job %q", jobID)
}

type generationRequest struct {
	Model      string           `json:"model"`
	Input      generationInput  `json:"input"`
	Parameters generationParams `json:"parameters"`
}

type generationInput struct {
	Messages []generationMessage `json:"messages"`
}

type generationMessage struct {
	Role    string              `json:"role"`
	Content []generationContent `json:"content"`
}

type generationContent struct {
	Text string `json:"text,omitempty"`
}

type generationParams struct {
	Size        string   `json:"size,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	ResultFmt   string   `json:"result_format,omitempty"`
}

type generationResponse struct {
	Output struct {
		Text    string `json:"text"`
		Choices []struct {
			Message struct {
				Content []struct {
					Text  string `json:"text"`
					Image string `json:"image"`
				} `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	} `json:"output"`
	RequestID string `json:"request_id"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

func (c *Client) generateText(ctx context.Context, req engine.GenerateRequest, prompt string) (*engine.GenerateResult, error) {
	payload := generationRequest{
		Model: req.Model,
		Input: generationInput{
			Messages: []generationMessage{{
				Role:    "user",
				Content: []generationContent{{Text: prompt}},
			}},
		},
		Parameters: generationParams{ResultFmt: "message", MaxTokens: req.MaxTokens},
	}
	if req.Temperature > 0 {
		t := req.Temperature
		payload.Parameters.Temperature = &t
	}
	decoded, err := c.invoke(ctx, "/services/aigc/text-generation/generation", payload)
	if err != nil {
		return nil, err
	}
	text := firstText(decoded)
	if text == "" {
		return nil, errors.New("qwen: empty completion")
	}
	return &engine.GenerateResult{Output: text}, nil
}

func (c *Client) generateImage(ctx context.Context, req engine.GenerateRequest, prompt string) (*engine.GenerateResult, error) {
	payload := generationRequest{
		Model: req.Model,
		Input: generationInput{
			Messages: []generationMessage{{
				Role:    "user",
				Content: []generationContent{{Text: prompt}},
			}},
		},
		Parameters: generationParams{Size: c.imageSize},
	}
	decoded, err := c.invoke(ctx, "/services/aigc/multimodal-generation/generation", payload)
	if err != nil {
		return nil, err
	}
	imageURL := firstImageURL(decoded)
	if imageURL == "" {
		return nil, errors.New("qwen: empty image url")
	}
	c.logger.Debug().
		Str("model", req.Model).
		Str("request_id", decoded.RequestID).
		Msg("qwen: generated image asset")
	return &engine.GenerateResult{Output: imageURL}, nil
}

func (c *Client) invoke(ctx context.Context, path string, payload generationRequest) (*generationResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("qwen: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("qwen: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("qwen: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("qwen: read response: %w", err)
	}
	var decoded generationResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		if resp.StatusCode >= 300 {
			return nil, fmt.Errorf("qwen: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
		}
		return nil, fmt.Errorf("qwen: decode response: %w", err)
	}
	if resp.StatusCode >= 300 || decoded.Code != "" {
		return nil, fmt.Errorf("qwen: %s (%s)", decoded.Message, decoded.Code)
	}
	return &decoded, nil
}

func firstText(resp *generationResponse) string {
	if text := strings.TrimSpace(resp.Output.Text); text != "" {
		return text
	}
	for _, choice := range resp.Output.Choices {
		for _, content := range choice.Message.Content {
			if text := strings.TrimSpace(content.Text); text != "" {
				return text
			}
		}
	}
	return ""
}

func firstImageURL(resp *generationResponse) string {
	for _, choice := range resp.Output.Choices {
		for _, content := range choice.Message.Content {
			if url := strings.TrimSpace(content.Image); url != "" {
				return url
			}
		}
	}
	return ""
}
