// Package extract calls the external document partition service and returns
// the ordered structural elements of a source file.
//
// The service (an unstructured-style HTTP endpoint) performs OCR and layout
// analysis. The call is expensive for large scanned documents, so the request
// timeout scales with file size instead of being a single constant.
package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"
)

var (
	// ErrServiceUnavailable indicates the partition service could not be
	// reached or returned a non-success response.
	ErrServiceUnavailable = errors.New("extraction service unavailable")

	// ErrEmptyResult indicates the service answered but produced no elements.
	ErrEmptyResult = errors.New("extraction produced no elements")
)

// Timeout scaling for the partition call. OCR over a dense scanned book runs
// for a long time; a 2 KB note must not wait an hour to fail.
const (
	baseTimeout  = 3 * time.Minute
	perMBAllow   = 60 * time.Second
	minTimeout   = 10 * time.Minute
	maxTimeout   = 100 * time.Minute
	maxErrorBody = 4 * 1024
)

// Options configures a single partition request.
type Options struct {
	// Strategy selects the service's extraction strategy (e.g. "hi_res").
	Strategy string

	// Language is the predominant OCR language code ("eng", "por").
	Language string

	// ImageBlockTypes lists element types to materialize as base64 image
	// payloads. Empty disables image extraction entirely.
	ImageBlockTypes []string
}

// Client calls the partition service.
// Safe for concurrent use; each request carries its own timeout.
type Client struct {
	endpoint string
	logger   *slog.Logger

	// httpClient has no global timeout; per-request deadlines are applied
	// via context so the size-scaled timeout can vary per call.
	httpClient *http.Client
}

// NewClient creates a partition service client for the given endpoint URL.
func NewClient(endpoint string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		endpoint:   endpoint,
		logger:     logger,
		httpClient: &http.Client{},
	}
}

// Timeout returns the request timeout for a file of the given size: a fixed
// base plus a per-megabyte allowance, clamped to [minTimeout, maxTimeout].
func Timeout(sizeBytes int64) time.Duration {
	mb := float64(sizeBytes) / (1024 * 1024)
	d := baseTimeout + time.Duration(mb*float64(perMBAllow))
	if d < minTimeout {
		return minTimeout
	}
	if d > maxTimeout {
		return maxTimeout
	}
	return d
}

// Partition sends file bytes to the partition service and returns the ordered
// element list. A network error, a non-2xx response, or an empty element list
// is stage-fatal for the calling pipeline.
func (c *Client) Partition(ctx context.Context, fileName string, data []byte, opts Options) ([]RawElement, error) {
	timeout := Timeout(int64(len(data)))
	c.logger.Info("partitioning file",
		"file", fileName,
		"size_bytes", len(data),
		"timeout", timeout.String(),
		"strategy", opts.Strategy)

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, contentType, err := buildMultipart(fileName, data, opts)
	if err != nil {
		return nil, fmt.Errorf("building partition request: %w", err)
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("creating partition request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if readErr != nil {
			msg = []byte("(unreadable body)")
		}
		return nil, fmt.Errorf("%w: status %d: %s", ErrServiceUnavailable, resp.StatusCode, string(msg))
	}

	var elements []RawElement
	if err := json.NewDecoder(resp.Body).Decode(&elements); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", ErrServiceUnavailable, err)
	}

	if len(elements) == 0 {
		return nil, ErrEmptyResult
	}

	c.logger.Info("partition complete", "file", fileName, "elements", len(elements))
	return elements, nil
}

// buildMultipart assembles the multipart form the partition service expects:
// the file plus strategy and image-extraction form fields.
func buildMultipart(fileName string, data []byte, opts Options) (io.Reader, string, error) {
	buf := new(bytes.Buffer)
	w := multipart.NewWriter(buf)

	part, err := w.CreateFormFile("files", fileName)
	if err != nil {
		return nil, "", fmt.Errorf("creating form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", fmt.Errorf("writing file payload: %w", err)
	}

	strategy := opts.Strategy
	if strategy == "" {
		strategy = "hi_res"
	}
	language := opts.Language
	if language == "" {
		language = "eng"
	}

	fields := map[string]string{
		"strategy":    strategy,
		"coordinates": "false",
	}
	if err := writeFields(w, fields); err != nil {
		return nil, "", err
	}
	if err := w.WriteField("languages", language); err != nil {
		return nil, "", fmt.Errorf("writing form field: %w", err)
	}

	for _, t := range opts.ImageBlockTypes {
		if err := w.WriteField("extract_image_block_types", t); err != nil {
			return nil, "", fmt.Errorf("writing form field: %w", err)
		}
	}
	if err := w.WriteField("extract_image_block_to_payload",
		strconv.FormatBool(len(opts.ImageBlockTypes) > 0)); err != nil {
		return nil, "", fmt.Errorf("writing form field: %w", err)
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("closing multipart writer: %w", err)
	}
	return buf, w.FormDataContentType(), nil
}

func writeFields(w *multipart.Writer, fields map[string]string) error {
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return fmt.Errorf("writing form field %q: %w", k, err)
		}
	}
	return nil
}

// ImageBlockTypesFor returns the image block types to request for the given
// pipeline mode: text-only skips image extraction entirely, skip-vision keeps
// tables (their structure still matters) but drops figures.
func ImageBlockTypesFor(textOnly, skipVision bool) []string {
	switch {
	case textOnly:
		return nil
	case skipVision:
		return []string{string(TypeTable)}
	default:
		return []string{string(TypeImage), string(TypeTable)}
	}
}
