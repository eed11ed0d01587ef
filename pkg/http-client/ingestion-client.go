package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/AppleJax2/OncoTracker-sub000/pkg/apihelpers"
	studyTypes "github.com/AppleJax2/OncoTracker-sub000/pkg/study/types"
)

// sync error taxonomy as observed on the wire
var (
	// ErrTransport - no usable response (connection error, timeout, 5xx);
	// retryable, queue entries stay untouched apart from attempt bookkeeping.
	ErrTransport = errors.New("transport failure")
	// ErrInvalidToken - batch-level authorization failure; not retryable
	// without a corrected token, queue entries are preserved.
	ErrInvalidToken = errors.New("study access token rejected")
	// ErrStudyInactive - token resolves to an inactive study; batch-level.
	ErrStudyInactive = errors.New("study is not accepting submissions")
	// ErrValidation - item-level permanent failure on the single ingest path.
	ErrValidation = errors.New("submission rejected by validation")
)

type ClientConfig struct {
	RootURL              string
	InstanceID           string
	MTLSCertificatePaths *apihelpers.CertificatePaths
	Timeout              time.Duration
}

// IngestionAPIClient talks to the ingestion API on behalf of the sync agent.
type IngestionAPIClient struct {
	config     ClientConfig
	httpClient *http.Client
}

func NewIngestionAPIClient(config ClientConfig) (*IngestionAPIClient, error) {
	client := &http.Client{
		Timeout: config.Timeout,
	}

	if config.MTLSCertificatePaths != nil {
		tlsConfig, err := apihelpers.LoadClientTLSConfig(*config.MTLSCertificatePaths)
		if err != nil {
			return nil, err
		}
		client.Transport = &http.Transport{
			TLSClientConfig: tlsConfig,
		}
	}

	return &IngestionAPIClient{
		config:     config,
		httpClient: client,
	}, nil
}

// Ping performs one lightweight round-trip against the health endpoint and
// reports the observed latency. Used by the connectivity monitor's quality
// probe.
func (c *IngestionAPIClient) Ping(ctx context.Context) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.RootURL+"/", nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: health endpoint returned %d", ErrTransport, resp.StatusCode)
	}
	return time.Since(start), nil
}

// FetchSchema retrieves the symptom/question catalog for the study the access
// token belongs to, so the capture side can build valid submissions.
func (c *IngestionAPIClient) FetchSchema(ctx context.Context, accessToken string) (schema studyTypes.StudySchemaResponse, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.RootURL+"/v1/study-schema", nil)
	if err != nil {
		return schema, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	c.setCommonHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return schema, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	if err := c.classifyStatus(resp); err != nil {
		return schema, err
	}

	if err := json.NewDecoder(resp.Body).Decode(&schema); err != nil {
		return schema, fmt.Errorf("%w: decoding schema response: %v", ErrTransport, err)
	}
	return schema, nil
}

// SubmitSingle delivers one submission on the immediate (online) path.
func (c *IngestionAPIClient) SubmitSingle(ctx context.Context, submission studyTypes.Submission) (result studyTypes.SingleIngestResponse, err error) {
	resp, err := c.postJSON(ctx, "/v1/ingest/submission", submission)
	if err != nil {
		return result, err
	}
	defer resp.Body.Close()

	if err := c.classifyStatus(resp); err != nil {
		return result, err
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return result, fmt.Errorf("%w: decoding ingest response: %v", ErrTransport, err)
	}
	return result, nil
}

// SubmitBatch delivers one batch of queued submissions sharing an access
// token and returns the server's per-item outcome report.
func (c *IngestionAPIClient) SubmitBatch(ctx context.Context, accessToken string, submissions []studyTypes.Submission) (result studyTypes.BatchIngestResponse, err error) {
	payload := studyTypes.BatchIngestRequest{
		AccessToken: accessToken,
		Submissions: submissions,
	}

	resp, err := c.postJSON(ctx, "/v1/ingest/batch", payload)
	if err != nil {
		return result, err
	}
	defer resp.Body.Close()

	if err := c.classifyStatus(resp); err != nil {
		return result, err
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return result, fmt.Errorf("%w: decoding batch response: %v", ErrTransport, err)
	}
	return result, nil
}

func (c *IngestionAPIClient) postJSON(ctx context.Context, pathname string, payload interface{}) (*http.Response, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.RootURL+pathname, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.setCommonHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return resp, nil
}

func (c *IngestionAPIClient) setCommonHeaders(req *http.Request) {
	if c.config.InstanceID != "" {
		req.Header.Set("Instance-Id", c.config.InstanceID)
	}
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

// classifyStatus maps response codes onto the sync error taxonomy. Transport
// level failures (5xx) keep queue entries retryable; token and validation
// failures are surfaced as their own sentinels.
func (c *IngestionAPIClient) classifyStatus(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: server returned %d", ErrTransport, resp.StatusCode)
	}

	var errResp errorResponse
	_ = json.NewDecoder(resp.Body).Decode(&errResp)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || errResp.Reason == studyTypes.ERROR_REASON_INVALID_TOKEN:
		return fmt.Errorf("%w: %s", ErrInvalidToken, errResp.Error)
	case errResp.Reason == studyTypes.ERROR_REASON_STUDY_INACTIVE:
		return fmt.Errorf("%w: %s", ErrStudyInactive, errResp.Error)
	case errResp.Reason == studyTypes.ERROR_REASON_VALIDATION:
		return fmt.Errorf("%w: %s", ErrValidation, errResp.Error)
	default:
		return fmt.Errorf("%w: server returned %d: %s", ErrTransport, resp.StatusCode, errResp.Error)
	}
}
