package transport

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

	"github.com/goliatone/go-relay/core"
)

const (
	defaultClientTimeout         = 30 * time.Second
	defaultResponseBodyLimit     = 10 << 20 // 10 MiB
	correlationHeader            = "X-Correlation-ID"
	recordIDHeader               = "X-Record-ID"
	defaultRequestContentType    = "application/json"
	metadataKeyRecordID          = "record_id"
	metadataKeyDurationMS        = "duration_ms"
	metadataKeyEndpointKeyRecord = "endpoint_key"
)

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RESTAdapter delivers events to the consumer API over HTTP. It owns only the
// mechanics of one call: auth header, correlation header, bounded timeout,
// body limits, and record-id extraction. Retry, breaker, and idempotency
// policy live above it in the dispatcher.
type RESTAdapter struct {
	Client               HTTPDoer
	DefaultHeaders       map[string]string
	MaxResponseBodyBytes int64
}

func NewRESTAdapter(client HTTPDoer) *RESTAdapter {
	if client == nil {
		client = &http.Client{Timeout: defaultClientTimeout}
	}
	return &RESTAdapter{
		Client:               client,
		DefaultHeaders:       map[string]string{},
		MaxResponseBodyBytes: defaultResponseBodyLimit,
	}
}

func (a *RESTAdapter) Do(ctx context.Context, req core.ConsumerRequest) (core.ConsumerResponse, error) {
	if a == nil || a.Client == nil {
		return core.ConsumerResponse{}, core.TransportError("transport: rest adapter requires an http client", nil)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	method := strings.TrimSpace(strings.ToUpper(req.Method))
	if method == "" {
		method = http.MethodPost
	}
	parsedURL, err := url.Parse(strings.TrimSpace(req.URL))
	if err != nil {
		return core.ConsumerResponse{}, core.TransportError("transport: invalid request url", err)
	}
	if parsedURL.String() == "" {
		return core.ConsumerResponse{}, core.TransportError("transport: request url is required", nil)
	}

	requestCtx := ctx
	cancel := func() {}
	if req.Timeout > 0 {
		requestCtx, cancel = context.WithTimeout(ctx, req.Timeout)
	}
	defer cancel()

	httpReq, err := http.NewRequestWithContext(requestCtx, method, parsedURL.String(), bytes.NewReader(req.Body))
	if err != nil {
		return core.ConsumerResponse{}, core.TransportError("transport: create http request", err)
	}
	httpReq.Header.Set("Content-Type", defaultRequestContentType)
	for key, value := range a.DefaultHeaders {
		if strings.TrimSpace(key) == "" {
			continue
		}
		httpReq.Header.Set(strings.TrimSpace(key), strings.TrimSpace(value))
	}
	for key, value := range req.Headers {
		if strings.TrimSpace(key) == "" {
			continue
		}
		httpReq.Header.Set(strings.TrimSpace(key), strings.TrimSpace(value))
	}
	if strings.TrimSpace(req.CorrelationID) != "" {
		httpReq.Header.Set(correlationHeader, strings.TrimSpace(req.CorrelationID))
	}
	if strings.TrimSpace(req.BearerToken) != "" {
		httpReq.Header.Set("Authorization", "Bearer "+strings.TrimSpace(req.BearerToken))
	}

	startedAt := time.Now().UTC()
	httpRes, err := a.Client.Do(httpReq)
	if err != nil {
		if requestCtx.Err() == context.DeadlineExceeded {
			return core.ConsumerResponse{}, core.TimeoutError(
				fmt.Sprintf("transport: consumer call exceeded %s", req.Timeout),
				context.DeadlineExceeded,
			)
		}
		return core.ConsumerResponse{}, core.TransportError("transport: execute http request", err)
	}
	defer httpRes.Body.Close()

	maxBodyBytes := a.MaxResponseBodyBytes
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultResponseBodyLimit
	}
	body, err := io.ReadAll(io.LimitReader(httpRes.Body, maxBodyBytes+1))
	if err != nil {
		return core.ConsumerResponse{}, core.TransportError("transport: read response body", err)
	}
	if int64(len(body)) > maxBodyBytes {
		return core.ConsumerResponse{}, core.TransportError(
			fmt.Sprintf("transport: response body exceeds limit of %d bytes", maxBodyBytes),
			nil,
		)
	}

	metadata := map[string]any{
		metadataKeyDurationMS:        time.Since(startedAt).Milliseconds(),
		metadataKeyEndpointKeyRecord: req.EndpointKey,
	}
	if recordID := extractRecordID(httpRes.Header, body); recordID != "" {
		metadata[metadataKeyRecordID] = recordID
	}

	return core.ConsumerResponse{
		StatusCode: httpRes.StatusCode,
		Headers:    flattenHeaders(httpRes.Header),
		Body:       body,
		Metadata:   metadata,
	}, nil
}

// extractRecordID looks for the consumer-side record id, header first, then
// common JSON body fields.
func extractRecordID(headers http.Header, body []byte) string {
	if value := strings.TrimSpace(headers.Get(recordIDHeader)); value != "" {
		return value
	}
	if len(body) == 0 {
		return ""
	}
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	for _, key := range []string{"record_id", "id"} {
		if value, ok := payload[key].(string); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

func flattenHeaders(headers http.Header) map[string]string {
	if len(headers) == 0 {
		return map[string]string{}
	}
	flat := make(map[string]string, len(headers))
	for key, values := range headers {
		if len(values) == 0 {
			flat[key] = ""
			continue
		}
		flat[key] = strings.Join(values, ",")
	}
	return flat
}

var _ core.ConsumerTransport = (*RESTAdapter)(nil)
