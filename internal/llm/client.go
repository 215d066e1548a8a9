package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/egeucak/api-doc-gpt/internal/filter"
	"github.com/egeucak/api-doc-gpt/pkg/types"
)

const defaultRetryMax = 3

// Client is an OpenAI-compatible chat completions client.
type Client struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	// Timeout bounds one completion including retries. Zero means no timeout.
	Timeout    time.Duration
	RetryMax   int
	HTTPClient *retryablehttp.Client
	Logger     *slog.Logger
	// Redactor masks secrets in logged turns and replies.
	Redactor *filter.Redactor

	once        sync.Once
	mu          sync.Mutex
	totalTokens int
}

type chatRequest struct {
	Model       string       `json:"model"`
	Messages    []types.Turn `json:"messages"`
	MaxTokens   int          `json:"max_tokens,omitempty"`
	Temperature float64      `json:"temperature"`
	Stop        []string     `json:"stop,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message types.Turn `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// Complete sends the whole transcript and returns the content of the reply.
func (c *Client) Complete(ctx context.Context, turns []types.Turn, stop []string) (string, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	endpoint := strings.TrimRight(c.BaseURL, "/") + "/chat/completions"
	body, err := json.Marshal(chatRequest{
		Model:       c.Model,
		Messages:    turns,
		MaxTokens:   c.MaxTokens,
		Temperature: c.Temperature,
		Stop:        stop,
	})
	if err != nil {
		return "", err
	}
	c.debug("llm request", "url", endpoint, "turns", len(turns), "last", c.Redactor.Text(lastContent(turns)))

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.transport().Do(req)
	if err != nil {
		return "", fmt.Errorf("llm request: %w", err)
	}
	data, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return "", fmt.Errorf("read llm response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("llm error status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var out chatResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("decode llm response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("llm response has no choices")
	}

	c.mu.Lock()
	c.totalTokens += out.Usage.TotalTokens
	total := c.totalTokens
	c.mu.Unlock()

	content := out.Choices[0].Message.Content
	c.debug("llm response", "content", c.Redactor.Text(content), "tokens", out.Usage.TotalTokens, "total_tokens", total)
	return content, nil
}

// TotalTokens reports the tokens consumed by every completion so far.
func (c *Client) TotalTokens() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalTokens
}

func (c *Client) transport() *retryablehttp.Client {
	c.once.Do(func() {
		if c.HTTPClient != nil {
			return
		}
		rc := retryablehttp.NewClient()
		rc.RetryMax = c.RetryMax
		if rc.RetryMax <= 0 {
			rc.RetryMax = defaultRetryMax
		}
		rc.RetryWaitMin = time.Second
		rc.RetryWaitMax = 30 * time.Second
		// Hand the last response back so the status and body end up in the error.
		rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
		if c.Logger != nil {
			rc.Logger = c.Logger
		} else {
			rc.Logger = nil
		}
		c.HTTPClient = rc
	})
	return c.HTTPClient
}

func (c *Client) debug(msg string, args ...any) {
	if c.Logger != nil {
		c.Logger.Debug(msg, args...)
	}
}

func lastContent(turns []types.Turn) string {
	if len(turns) == 0 {
		return ""
	}
	return turns[len(turns)-1].Content
}
