package knowledge

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// EmbedderClient notifies the external embedding service that a document is
// ready for chunking and vectorization. The service pulls the object itself;
// we only send the pointer.
type EmbedderClient struct {
	httpClient *resty.Client
}

type embedRequest struct {
	DocumentID string `json:"documentId"`
	CompanyID  string `json:"companyId"`
	ObjectKey  string `json:"objectKey"`
	Filename   string `json:"filename"`
}

type embedResponse struct {
	Status string `json:"status"`
	Msg    string `json:"msg"`
}

// NewEmbedderClient creates a client for the embedding service.
func NewEmbedderClient(baseURL, token string) *EmbedderClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if token != "" {
		client.SetAuthToken(token)
	}

	return &EmbedderClient{httpClient: client}
}

// NotifyDocument asks the embedding service to ingest one document.
func (c *EmbedderClient) NotifyDocument(ctx context.Context, documentID, companyID, objectKey, filename string) error {
	request := embedRequest{
		DocumentID: documentID,
		CompanyID:  companyID,
		ObjectKey:  objectKey,
		Filename:   filename,
	}

	var response embedResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(request).
		SetResult(&response).
		Post("/v1/documents/ingest")
	if err != nil {
		return fmt.Errorf("call embedding service: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("embedding service returned %d: %s", resp.StatusCode(), response.Msg)
	}
	return nil
}
