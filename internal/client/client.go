// Package client talks to the certification API over HTTP and implements session.Store.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/lshigami/safetycert/internal/apperr"
	"github.com/lshigami/safetycert/internal/dto"
	"github.com/lshigami/safetycert/internal/model"
	"github.com/lshigami/safetycert/internal/session"
)

const defaultTimeout = 30 * time.Second

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New creates a client for baseURL (for example http://host/api/v1) authenticated with a bearer token.
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ session.Store = (*Client)(nil)

func (c *Client) StartAttempt(ctx context.Context, testID string) (*dto.TestAttemptDTO, error) {
	var a dto.TestAttemptDTO
	err := c.doJSON(ctx, "start attempt", http.MethodPost, "/tests/"+url.PathEscape(testID)+"/attempts", nil, &a)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *Client) GetAttempt(ctx context.Context, attemptID string) (*dto.TestAttemptDTO, error) {
	var a dto.TestAttemptDTO
	if err := c.doJSON(ctx, "get attempt", http.MethodGet, "/attempts/"+url.PathEscape(attemptID), nil, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *Client) ListAttempts(ctx context.Context, testID string) ([]dto.TestAttemptDTO, error) {
	var list []dto.TestAttemptDTO
	if err := c.doJSON(ctx, "list attempts", http.MethodGet, "/tests/"+url.PathEscape(testID)+"/attempts", nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (c *Client) SaveAnswers(ctx context.Context, attemptID string, answers model.AnswerSet) error {
	body := dto.SaveAnswersRequest{Answers: answers}
	return c.doJSON(ctx, "save answers", http.MethodPut, "/attempts/"+url.PathEscape(attemptID)+"/answers", body, nil)
}

// SubmitAttempt sends JSON, or multipart when a video is attached.
func (c *Client) SubmitAttempt(ctx context.Context, attemptID string, answers model.AnswerSet, video *session.Video) (*dto.TestAttemptDTO, error) {
	path := "/attempts/" + url.PathEscape(attemptID) + "/submit"
	var a dto.TestAttemptDTO
	if video == nil {
		if err := c.doJSON(ctx, "submit attempt", http.MethodPost, path, dto.SubmitAttemptRequest{Answers: answers}, &a); err != nil {
			return nil, err
		}
		return &a, nil
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	encoded, err := json.Marshal(answers)
	if err != nil {
		return nil, fmt.Errorf("encode answers: %w", err)
	}
	if err := w.WriteField("answers", string(encoded)); err != nil {
		return nil, err
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="video"; filename="recording"`)
	contentType := video.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(video.Data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	if err := c.do(ctx, "submit attempt", http.MethodPost, path, w.FormDataContentType(), &buf, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *Client) doJSON(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}
	return c.do(ctx, op, method, path, contentType, body, out)
}

func (c *Client) do(ctx context.Context, op, method, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &apperr.NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &apperr.NetworkError{Op: op, Err: err}
	}

	if resp.StatusCode >= 300 {
		return decodeError(op, resp.StatusCode, data)
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	normalized, err := Normalize(data)
	if err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	if err := json.Unmarshal(normalized, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

// decodeError maps an API error body back to the domain error kinds.
func decodeError(op string, status int, data []byte) error {
	var body dto.ErrorResponse
	_ = json.Unmarshal(data, &body)
	msg := body.Message
	if msg == "" {
		msg = http.StatusText(status)
	}

	switch body.Code {
	case "attempt_limit_exceeded":
		e := &apperr.AttemptLimitExceeded{}
		if body.Cap != nil {
			e.Cap = *body.Cap
		}
		if body.Used != nil {
			e.Used = *body.Used
		}
		return e
	case "validation_error":
		return apperr.NewValidationError(errors.New(msg), body.Fields...)
	case "otp_expired":
		return fmt.Errorf("%s: %w", op, apperr.ErrOTPExpired)
	case "otp_invalid":
		return fmt.Errorf("%s: %w", op, apperr.ErrOTPInvalid)
	case "conflict":
		return apperr.Conflict("%s", msg)
	case "not_found":
		return fmt.Errorf("%s: %s: %w", op, msg, apperr.ErrNotFound)
	case "forbidden":
		return fmt.Errorf("%s: %s: %w", op, msg, apperr.ErrForbidden)
	case "too_many_requests":
		return fmt.Errorf("%s: %s: %w", op, msg, apperr.ErrTooManyCalls)
	}

	switch {
	case status >= 500:
		return &apperr.NetworkError{Op: op, Err: fmt.Errorf("server returned %d: %s", status, msg)}
	case status == http.StatusNotFound:
		return fmt.Errorf("%s: %s: %w", op, msg, apperr.ErrNotFound)
	case status == http.StatusConflict:
		return apperr.Conflict("%s", msg)
	default:
		return fmt.Errorf("%s: unexpected status %d: %s", op, status, msg)
	}
}
