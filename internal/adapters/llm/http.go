package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/pkg/errors"

	"github.com/PabloGalante/chatlog/internal/domain"
)

// HTTPClient talks to a standalone answer service: POST {base}/query {"query": q}
// answered with {"response": a}.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

var _ domain.AnswerGateway = &HTTPClient{}

type queryRequest struct {
	Query string `json:"query"`
}

type queryResponse struct {
	Response string `json:"response"`
	Detail   string `json:"detail,omitempty"`
}

func NewHTTPClient(baseURL string, client *http.Client) (*HTTPClient, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("answer service url is required")
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPClient{baseURL: baseURL, client: client}, nil
}

func (h *HTTPClient) Generate(ctx context.Context, question string) (string, error) {
	const op = "http.generate"

	body, err := json.Marshal(queryRequest{Query: question})
	if err != nil {
		return "", domain.Wrap(domain.KindInternal, op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/query", bytes.NewReader(body))
	if err != nil {
		return "", domain.Wrap(domain.KindInternal, op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return "", classify(op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", classify(op, err)
	}

	var out queryResponse
	decodeErr := json.Unmarshal(raw, &out)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := out.Detail
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return "", domain.Errorf(domain.KindUpstreamError, op, "answer service returned %d: %s", resp.StatusCode, msg)
	}
	if decodeErr != nil {
		return "", domain.Wrap(domain.KindUpstreamError, op, errors.Wrap(decodeErr, "decode answer"))
	}
	if strings.TrimSpace(out.Response) == "" {
		return "", emptyAnswer(op)
	}
	return out.Response, nil
}
