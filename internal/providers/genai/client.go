package genai

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"promptgrid/internal/domain"
	"promptgrid/internal/engine"
	"promptgrid/internal/infra"
)

// Options controls how the Gemini client is configured.
type Options struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Client is the generation backend over the Gemini REST API. Text, image and
// audio calls return inline; video goes through a long-running operation that
// callers poll via CheckJobStatus. When no API key is configured, or a remote
// call fails, the client falls back to deterministic synthetic outputs so the
// rest of the pipeline (persistence, polling, credit settlement) stays
// exercised in local and CI environments.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *infra.Logger

	mu   sync.Mutex
	jobs map[string]*syntheticJob
}

// syntheticJob emulates a long-running video operation: it stays pending for
// a fixed number of status checks, then completes.
type syntheticJob struct {
	output    string
	remaining int
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts,omitempty"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
	FileData   *geminiFileData   `json:"fileData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

type geminiFileData struct {
	MimeType string `json:"mimeType,omitempty"`
	FileURI  string `json:"fileUri,omitempty"`
}

type geminiGenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
	CandidateCount  int      `json:"candidateCount,omitempty"`
}

type geminiGenerateContentRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
}

type geminiGenerateContentResponse struct {
	Candidates []geminiCandidate `json:"candidates"`
}

type geminiOperation struct {
	Name     string `json:"name"`
	Done     bool   `json:"done"`
	Error    *struct {
		Code    int    `json:"code,omitempty"`
		Message string `json:"message,omitempty"`
	} `json:"error,omitempty"`
	Response struct {
		GenerateVideoResponse struct {
			GeneratedSamples []struct {
				Video struct {
					URI string `json:"uri"`
				} `json:"video"`
			} `json:"generatedSamples"`
		} `json:"generateVideoResponse"`
	} `json:"response"`
}

type geminiErrorResponse struct {
	Error struct {
		Code    int    `json:"code,omitempty"`
		Message string `json:"message,omitempty"`
	} `json:"error"`
}

const syntheticJobPrefix = "synthetic-op/"

// NewClient constructs a Gemini client with sane defaults. Callers may provide
// a nil HTTP client; a reusable one with sensible timeouts will be created.
func NewClient(opts Options) (*Client, error) {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}

	model := opts.Model
	if model == "" {
		model = "gemini-2.5-flash"
	}

	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		logger = &discard
	}

	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		model:      model,
		httpClient: client,
		logger:     logger,
		jobs:       make(map[string]*syntheticJob),
	}, nil
}

// Model returns the configured default model identifier.
func (c *Client) Model() string {
	return c.model
}

// Generate dispatches one generation call. Video requests come back with a
// JobID for polling; everything else returns inline output.
func (c *Client) Generate(ctx context.Context, req engine.GenerateRequest) (*engine.GenerateResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch req.Type {
	case domain.GenerationTypeVideo:
		return c.startVideo(ctx, req)
	case domain.GenerationTypeImage:
		return c.generateMedia(ctx, req, "image", "png")
	case domain.GenerationTypeAudio:
		return c.generateMedia(ctx, req, "audio", c.audioExt(req))
	default:
		return c.generateText(ctx, req)
	}
}

func (c *Client) generateText(ctx context.Context, req engine.GenerateRequest) (*engine.GenerateResult, error) {
	if c.apiKey == "" {
		return &engine.GenerateResult{Output: c.syntheticText(req)}, nil
	}

	output, err := c.remoteGenerateText(ctx, req)
	if err != nil {
		c.logger.Warn().
			Err(err).
			Str("model", c.resolveModel(req.Model)).
			Msg("genai: remote text generation failed; falling back to synthetic output")
		return &engine.GenerateResult{Output: c.syntheticText(req)}, nil
	}
	if strings.TrimSpace(output) == "" {
		return &engine.GenerateResult{Output: c.syntheticText(req)}, nil
	}
	return &engine.GenerateResult{Output: output}, nil
}

// generateMedia handles the synchronous media types. The remote path returns
// a hosted file URI; the synthetic path returns a deterministic asset URL so
// downstream media handling still has something to chain on.
func (c *Client) generateMedia(ctx context.Context, req engine.GenerateRequest, kind, ext string) (*engine.GenerateResult, error) {
	if c.apiKey == "" {
		return &engine.GenerateResult{Output: c.syntheticAssetURL(req, kind, ext)}, nil
	}

	uri, err := c.remoteGenerateMedia(ctx, req)
	if err != nil {
		c.logger.Warn().
			Err(err).
			Str("model", c.resolveModel(req.Model)).
			Str("kind", kind).
			Msg("genai: remote media generation failed; falling back to synthetic asset")
		return &engine.GenerateResult{Output: c.syntheticAssetURL(req, kind, ext)}, nil
	}
	if uri == "" {
		return &engine.GenerateResult{Output: c.syntheticAssetURL(req, kind, ext)}, nil
	}
	return &engine.GenerateResult{Output: uri}, nil
}

func (c *Client) startVideo(ctx context.Context, req engine.GenerateRequest) (*engine.GenerateResult, error) {
	if c.apiKey == "" {
		return c.startSyntheticVideo(req), nil
	}

	jobID, err := c.remoteStartVideo(ctx, req)
	if err != nil {
		c.logger.Warn().
			Err(err).
			Str("model", c.resolveModel(req.Model)).
			Msg("genai: remote video start failed; falling back to synthetic job")
		return c.startSyntheticVideo(req), nil
	}
	return &engine.GenerateResult{JobID: jobID, Status: "pending"}, nil
}

// CheckJobStatus reports the state of an outstanding video operation.
func (c *Client) CheckJobStatus(ctx context.Context, jobID string) (*engine.JobStatusResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if strings.HasPrefix(jobID, syntheticJobPrefix) {
		return c.checkSyntheticJob(jobID)
	}
	return c.remoteCheckJob(ctx, jobID)
}

func (c *Client) startSyntheticVideo(req engine.GenerateRequest) *engine.GenerateResult {
	seed := deterministicSeed(req.Prompt, req.Model, req.Type)
	jobID := syntheticJobPrefix + seed
	output := c.assetURL(syntheticStorageKey("video", c.resolveModel(req.Model), seed, "mp4"))

	c.mu.Lock()
	c.jobs[jobID] = &syntheticJob{output: output, remaining: 2}
	c.mu.Unlock()

	c.logger.Debug().
		Str("job_id", jobID).
		Str("model", c.resolveModel(req.Model)).
		Msg("genai: started synthetic video job")
	return &engine.GenerateResult{JobID: jobID, Status: "pending"}
}

func (c *Client) checkSyntheticJob(jobID string) (*engine.JobStatusResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	job, ok := c.jobs[jobID]
	if !ok {
		return &engine.JobStatusResult{Status: "failed"}, nil
	}
	if job.remaining > 0 {
		job.remaining--
		return &engine.JobStatusResult{Status: "processing"}, nil
	}
	delete(c.jobs, jobID)
	return &engine.JobStatusResult{Status: "completed", Output: job.output}, nil
}

func (c *Client) remoteGenerateText(ctx context.Context, req engine.GenerateRequest) (string, error) {
	temp := req.Temperature
	payload := geminiGenerateContentRequest{
		Contents: []geminiContent{
			{
				Role:  "user",
				Parts: []geminiPart{{Text: req.Prompt}},
			},
		},
		GenerationConfig: &geminiGenerationConfig{
			Temperature:     &temp,
			MaxOutputTokens: req.MaxTokens,
			CandidateCount:  1,
		},
	}

	var response geminiGenerateContentResponse
	path := fmt.Sprintf("/models/%s:generateContent", url.PathEscape(c.resolveModel(req.Model)))
	if err := c.invoke(ctx, http.MethodPost, path, payload, &response); err != nil {
		return "", err
	}

	var b strings.Builder
	for _, candidate := range response.Candidates {
		for _, part := range candidate.Content.Parts {
			b.WriteString(part.Text)
		}
	}
	return strings.TrimSpace(b.String()), nil
}

func (c *Client) remoteGenerateMedia(ctx context.Context, req engine.GenerateRequest) (string, error) {
	payload := geminiGenerateContentRequest{
		Contents: []geminiContent{
			{
				Role:  "user",
				Parts: []geminiPart{{Text: req.Prompt}},
			},
		},
	}

	var response geminiGenerateContentResponse
	path := fmt.Sprintf("/models/%s:generateContent", url.PathEscape(c.resolveModel(req.Model)))
	if err := c.invoke(ctx, http.MethodPost, path, payload, &response); err != nil {
		return "", err
	}

	for _, candidate := range response.Candidates {
		for _, part := range candidate.Content.Parts {
			if part.FileData != nil && part.FileData.FileURI != "" {
				return part.FileData.FileURI, nil
			}
		}
	}
	return "", nil
}

func (c *Client) remoteStartVideo(ctx context.Context, req engine.GenerateRequest) (string, error) {
	instances := map[string]any{"prompt": req.Prompt}
	parameters := map[string]any{}
	if req.Video != nil {
		if req.Video.DurationSeconds > 0 {
			parameters["durationSeconds"] = req.Video.DurationSeconds
		}
		if req.Video.AspectRatio != "" {
			parameters["aspectRatio"] = req.Video.AspectRatio
		}
		if req.Video.Resolution != "" {
			parameters["resolution"] = req.Video.Resolution
		}
	}
	payload := map[string]any{
		"instances":  []any{instances},
		"parameters": parameters,
	}

	var op geminiOperation
	path := fmt.Sprintf("/models/%s:predictLongRunning", url.PathEscape(c.resolveModel(req.Model)))
	if err := c.invoke(ctx, http.MethodPost, path, payload, &op); err != nil {
		return "", err
	}
	if op.Name == "" {
		return "", fmt.Errorf("no operation name returned")
	}
	return op.Name, nil
}

func (c *Client) remoteCheckJob(ctx context.Context, jobID string) (*engine.JobStatusResult, error) {
	var op geminiOperation
	path := "/" + strings.TrimLeft(jobID, "/")
	if err := c.invoke(ctx, http.MethodGet, path, nil, &op); err != nil {
		return nil, err
	}

	if !op.Done {
		return &engine.JobStatusResult{Status: "processing"}, nil
	}
	if op.Error != nil {
		return &engine.JobStatusResult{Status: "failed", Output: op.Error.Message}, nil
	}
	for _, sample := range op.Response.GenerateVideoResponse.GeneratedSamples {
		if sample.Video.URI != "" {
			return &engine.JobStatusResult{Status: "completed", Output: sample.Video.URI}, nil
		}
	}
	return &engine.JobStatusResult{Status: "failed", Output: "operation completed without video output"}, nil
}

func (c *Client) invoke(ctx context.Context, method, path string, payload any, out any) error {
	endpoint := strings.TrimRight(c.baseURL, "/") + path

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	q := req.URL.Query()
	if c.apiKey != "" {
		q.Set("key", c.apiKey)
	}
	req.URL.RawQuery = q.Encode()
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("invoke gemini: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr geminiErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("gemini status %d: %s", resp.StatusCode, apiErr.Error.Message)
		}
		data, _ := io.ReadAll(resp.Body)
		if len(data) > 0 {
			return fmt.Errorf("gemini status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
		}
		return fmt.Errorf("gemini status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode gemini response: %w", err)
	}
	return nil
}

// syntheticText derives a readable deterministic answer from the request so
// local runs produce stable, inspectable outputs.
func (c *Client) syntheticText(req engine.GenerateRequest) string {
	seed := deterministicSeed(req.Prompt, req.Model, req.Type)
	prompt := strings.TrimSpace(req.Prompt)
	if len(prompt) > 160 {
		prompt = prompt[:160] + "..."
	}
	return fmt.Sprintf("[synthetic:%s] %s", seed, prompt)
}

func (c *Client) syntheticAssetURL(req engine.GenerateRequest, kind, ext string) string {
	seed := deterministicSeed(req.Prompt, req.Model, req.Type, kind)
	return c.assetURL(syntheticStorageKey(kind, c.resolveModel(req.Model), seed, ext))
}

func (c *Client) audioExt(req engine.GenerateRequest) string {
	if req.Audio != nil && req.Audio.Format != "" {
		return req.Audio.Format
	}
	return "mp3"
}

// resolveModel prefers the per-cell model, falling back to the configured
// default.
func (c *Client) resolveModel(model string) string {
	if strings.TrimSpace(model) != "" {
		return model
	}
	return c.model
}

func (c *Client) assetURL(storageKey string) string {
	return fmt.Sprintf("%s/%s", strings.TrimRight(c.baseURL, "/"), strings.TrimLeft(storageKey, "/"))
}

func syntheticStorageKey(kind, model, seed, ext string) string {
	return fmt.Sprintf("synthetic/%s/%s-%s.%s", url.PathEscape(model), url.PathEscape(kind), seed, ext)
}

func deterministicSeed(parts ...any) string {
	hasher := sha256.New()
	for _, part := range parts {
		hasher.Write([]byte(fmt.Sprintf("%v", part)))
		hasher.Write([]byte{'|'})
	}
	return hex.EncodeToString(hasher.Sum(nil))[:16]
}
