package connection

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/syncstack/crm-connector/internal/config"
	"github.com/syncstack/crm-connector/internal/domain"
	"github.com/syncstack/crm-connector/internal/session"
)

// BulkV1Connection talks to the original XML-based async API rooted at
// {instanceUrl}/services/async/{apiVersion}.
type BulkV1Connection struct {
	orgType      domain.OrgType
	baseUrl      string
	sessionToken string
	httpClient   *http.Client
}

func NewBulkV1ConnectionFactory(cfg *config.Config, sessionProvider session.SessionProvider) ConnectionFactory {
	return newCachingConnectionFactory(domain.ApiTypeBulkV1, sessionProvider,
		func(ctx context.Context, orgType domain.OrgType) (Connection, error) {

			instanceUrl, err := sessionProvider.GetInstanceUrl(ctx, orgType)
			if err != nil {
				return nil, err
			}

			accessToken, err := sessionProvider.GetAccessToken(ctx, orgType)
			if err != nil {
				return nil, err
			}

			version := strings.TrimPrefix(cfg.CrmApiVersion, "v")

			return &BulkV1Connection{
				orgType:      orgType,
				baseUrl:      fmt.Sprintf("%s/services/async/%s", instanceUrl, version),
				sessionToken: accessToken,
				httpClient:   &http.Client{Timeout: 60 * time.Second},
			}, nil
		})
}

func (c *BulkV1Connection) ApiType() domain.ApiType {
	return domain.ApiTypeBulkV1
}

func (c *BulkV1Connection) OrgType() domain.OrgType {
	return c.orgType
}

func (c *BulkV1Connection) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

type bulkV1JobInfo struct {
	XMLName     xml.Name `xml:"jobInfo"`
	Xmlns       string   `xml:"xmlns,attr"`
	Id          string   `xml:"id,omitempty"`
	Operation   string   `xml:"operation,omitempty"`
	Object      string   `xml:"object,omitempty"`
	State       string   `xml:"state,omitempty"`
	ContentType string   `xml:"contentType,omitempty"`
}

// CreateQueryJob opens an async query job for the given object.
func (c *BulkV1Connection) CreateQueryJob(ctx context.Context, objectApi string) (string, error) {

	jobInfo := bulkV1JobInfo{
		Xmlns:       "http://www.force.com/2009/06/asyncapi/dataload",
		Operation:   "query",
		Object:      objectApi,
		ContentType: "CSV",
	}

	result, err := c.postJobInfo(ctx, c.baseUrl+"/job", jobInfo)
	if err != nil {
		return "", err
	}

	return result.Id, nil
}

// CloseJob transitions a job to the Closed state.
func (c *BulkV1Connection) CloseJob(ctx context.Context, jobId string) error {

	jobInfo := bulkV1JobInfo{
		Xmlns: "http://www.force.com/2009/06/asyncapi/dataload",
		State: "Closed",
	}

	_, err := c.postJobInfo(ctx, fmt.Sprintf("%s/job/%s", c.baseUrl, jobId), jobInfo)
	return err
}

func (c *BulkV1Connection) postJobInfo(ctx context.Context, u string, jobInfo bulkV1JobInfo) (*bulkV1JobInfo, error) {

	payload, err := xml.Marshal(jobInfo)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewBuffer(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-SFDC-Session", c.sessionToken)
	req.Header.Set("Content-Type", "application/xml; charset=UTF-8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrSessionInvalid
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("bulk v1 call returned http status code %d", resp.StatusCode)
	}

	var result bulkV1JobInfo
	if err := xml.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("unable to parse jobInfo response: %w", err)
	}

	return &result, nil
}
