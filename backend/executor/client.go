// Package executor talks to a Piston compatible code execution service.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/adwski/coderoom/backend/model"
	"github.com/rs/zerolog"
)

const (
	DefaultBaseURL = "https://emkc.org/api/v2/piston"

	defaultTimeout     = 30 * time.Second
	defaultVersion     = "*"
	maxResponseSize    = 4 << 20
	stageRun           = "run"
	stageCompile       = "compile"
	errorMessageLength = 512
)

var ErrRejected = errors.New("execution request rejected")

var aliases = map[string]string{
	"py":      "python",
	"python3": "python",
	"js":      "javascript",
	"node":    "javascript",
	"ts":      "typescript",
	"cpp":     "c++",
	"c#":      "csharp",
	"cs":      "csharp",
	"golang":  "go",
	"rb":      "ruby",
	"rs":      "rust",
	"kt":      "kotlin",
}

// languages are the canonical names accepted by Execute. Every alias
// resolves to one of them.
var languages = []string{
	"c", "c++", "csharp", "go", "java", "javascript", "kotlin",
	"php", "python", "ruby", "rust", "swift", "typescript",
}

type (
	Config struct {
		Logger     *zerolog.Logger
		BaseURL    string
		Timeout    time.Duration
		HTTPClient *http.Client
	}

	Client struct {
		logger  zerolog.Logger
		baseURL string
		http    *http.Client
	}

	file struct {
		Content string `json:"content"`
	}

	executeRequest struct {
		Language string `json:"language"`
		Version  string `json:"version"`
		Files    []file `json:"files"`
		Stdin    string `json:"stdin"`
	}

	stage struct {
		Stdout string  `json:"stdout"`
		Stderr string  `json:"stderr"`
		Output string  `json:"output"`
		Code   *int    `json:"code"`
		Signal *string `json:"signal"`
	}

	executeResponse struct {
		Language string `json:"language"`
		Version  string `json:"version"`
		Run      *stage `json:"run"`
		Compile  *stage `json:"compile"`
	}

	errorResponse struct {
		Message string `json:"message"`
	}
)

func NewClient(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		logger:  cfg.Logger.With().Str("component", "executor").Logger(),
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

// SupportedLanguages returns the canonical language names in sorted order.
func SupportedLanguages() []string {
	return slices.Clone(languages)
}

// NormalizeLanguage lowercases a language name and resolves common aliases.
func NormalizeLanguage(language string) string {
	l := strings.ToLower(strings.TrimSpace(language))
	if canonical, ok := aliases[l]; ok {
		return canonical
	}
	return l
}

// Execute runs req and returns the normalized result. Transport failures
// and server errors wrap model.ErrExecutionBackendUnavailable, client errors
// wrap ErrRejected.
func (c *Client) Execute(ctx context.Context, req model.ExecRequest) (model.ExecResult, error) {
	version := req.Version
	if version == "" {
		version = defaultVersion
	}
	body, err := json.Marshal(&executeRequest{
		Language: NormalizeLanguage(req.Language),
		Version:  version,
		Files:    []file{{Content: req.Code}},
		Stdin:    req.Stdin,
	})
	if err != nil {
		return model.ExecResult{}, fmt.Errorf("failed to marshal execute request: %w", err)
	}

	var resp executeResponse
	if err = c.do(ctx, http.MethodPost, "/execute", body, &resp); err != nil {
		return model.ExecResult{}, err
	}
	c.logger.Debug().
		Str("language", resp.Language).
		Str("version", resp.Version).
		Msg("execution finished")
	return toResult(req.Language, &resp), nil
}

func (c *Client) Runtimes(ctx context.Context) ([]model.Runtime, error) {
	var runtimes []model.Runtime
	if err := c.do(ctx, http.MethodGet, "/runtimes", nil, &runtimes); err != nil {
		return nil, err
	}
	return runtimes, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, dst any) error {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return errors.Join(model.ErrExecutionBackendUnavailable, err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return errors.Join(model.ErrExecutionBackendUnavailable, err)
	}
	defer func() {
		_ = httpResp.Body.Close()
	}()
	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return errors.Join(model.ErrExecutionBackendUnavailable, err)
	}

	switch {
	case httpResp.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%w: %s returned %d", model.ErrExecutionBackendUnavailable, path, httpResp.StatusCode)
	case httpResp.StatusCode >= http.StatusBadRequest:
		var er errorResponse
		if json.Unmarshal(raw, &er) != nil || er.Message == "" {
			er.Message = truncate(string(raw))
		}
		return fmt.Errorf("%w: %s", ErrRejected, er.Message)
	}

	if err = json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: malformed response: %v", model.ErrExecutionBackendUnavailable, err)
	}
	return nil
}

func toResult(language string, resp *executeResponse) model.ExecResult {
	res := model.ExecResult{
		Language: language,
		Version:  resp.Version,
	}
	if c := resp.Compile; c != nil && !stageSucceeded(c) {
		res.Stage = stageCompile
		res.Output = c.Stdout
		res.Error = firstNonEmpty(c.Stderr, c.Output, "compilation failed")
		res.ExitCode = c.Code
		return res
	}
	r := resp.Run
	if r == nil {
		res.Stage = stageRun
		res.Error = "execution service returned no run stage"
		return res
	}
	res.Stage = stageRun
	res.Output = r.Stdout
	res.Error = r.Stderr
	res.ExitCode = r.Code
	res.Success = stageSucceeded(r)
	if !res.Success && res.Error == "" && r.Signal != nil {
		res.Error = "terminated by " + *r.Signal
	}
	return res
}

func stageSucceeded(s *stage) bool {
	return s.Code != nil && *s.Code == 0 && (s.Signal == nil || *s.Signal == "")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func truncate(s string) string {
	if len(s) > errorMessageLength {
		return s[:errorMessageLength]
	}
	return s
}
