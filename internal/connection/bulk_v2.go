package connection

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/syncstack/crm-connector/internal/config"
	"github.com/syncstack/crm-connector/internal/domain"
	"github.com/syncstack/crm-connector/internal/session"
)

// BulkV2Connection talks to the JSON query-job API rooted at
// {instanceUrl}/services/data/{apiVersion}/jobs.
type BulkV2Connection struct {
	orgType     domain.OrgType
	baseUrl     string
	accessToken string
	httpClient  *http.Client
}

func NewBulkV2ConnectionFactory(cfg *config.Config, sessionProvider session.SessionProvider) ConnectionFactory {
	return newCachingConnectionFactory(domain.ApiTypeBulkV2, sessionProvider,
		func(ctx context.Context, orgType domain.OrgType) (Connection, error) {

			instanceUrl, err := sessionProvider.GetInstanceUrl(ctx, orgType)
			if err != nil {
				return nil, err
			}

			accessToken, err := sessionProvider.GetAccessToken(ctx, orgType)
			if err != nil {
				return nil, err
			}

			return &BulkV2Connection{
				orgType:     orgType,
				baseUrl:     fmt.Sprintf("%s/services/data/%s/jobs", instanceUrl, cfg.CrmApiVersion),
				accessToken: accessToken,
				httpClient:  &http.Client{Timeout: 60 * time.Second},
			}, nil
		})
}

func (c *BulkV2Connection) ApiType() domain.ApiType {
	return domain.ApiTypeBulkV2
}

func (c *BulkV2Connection) OrgType() domain.OrgType {
	return c.orgType
}

func (c *BulkV2Connection) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

type BulkV2Job struct {
	Id                     string `json:"id"`
	State                  string `json:"state"`
	Object                 string `json:"object"`
	Operation              string `json:"operation"`
	NumberRecordsProcessed int64  `json:"numberRecordsProcessed"`
}

// CreateQueryJob submits a query job and returns its descriptor.
func (c *BulkV2Connection) CreateQueryJob(ctx context.Context, soql string) (*BulkV2Job, error) {

	request := map[string]string{
		"operation": "query",
		"query":     soql,
	}

	payload, err := json.Marshal(request)
	if err != nil {
		return nil, err
	}

	var job BulkV2Job
	err = c.doJson(ctx, http.MethodPost, c.baseUrl+"/query", bytes.NewBuffer(payload), &job)
	if err != nil {
		return nil, err
	}

	return &job, nil
}

// GetQueryJob fetches the current state of a query job.
func (c *BulkV2Connection) GetQueryJob(ctx context.Context, jobId string) (*BulkV2Job, error) {
	var job BulkV2Job
	err := c.doJson(ctx, http.MethodGet, fmt.Sprintf("%s/query/%s", c.baseUrl, jobId), nil, &job)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// GetQueryJobResults streams the CSV result set of a finished job.
func (c *BulkV2Connection) GetQueryJobResults(ctx context.Context, jobId string) ([]byte, error) {

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/query/%s/results", c.baseUrl, jobId), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Accept", "text/csv")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrSessionInvalid
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bulk v2 results call returned http status code %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

func (c *BulkV2Connection) doJson(ctx context.Context, method string, u string, body io.Reader, out interface{}) error {

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrSessionInvalid
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("bulk v2 call returned http status code %d", resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
