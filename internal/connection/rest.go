package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/syncstack/crm-connector/internal/config"
	"github.com/syncstack/crm-connector/internal/domain"
	"github.com/syncstack/crm-connector/internal/session"
)

// RestConnection talks to the CRM REST API rooted at
// {instanceUrl}/services/data/{apiVersion}.
type RestConnection struct {
	orgType     domain.OrgType
	instanceUrl string
	baseUrl     string
	accessToken string
	httpClient  *http.Client
}

func NewRestConnectionFactory(cfg *config.Config, sessionProvider session.SessionProvider) ConnectionFactory {
	return newCachingConnectionFactory(domain.ApiTypeRest, sessionProvider,
		func(ctx context.Context, orgType domain.OrgType) (Connection, error) {

			instanceUrl, err := sessionProvider.GetInstanceUrl(ctx, orgType)
			if err != nil {
				return nil, err
			}

			accessToken, err := sessionProvider.GetAccessToken(ctx, orgType)
			if err != nil {
				return nil, err
			}

			return &RestConnection{
				orgType:     orgType,
				instanceUrl: instanceUrl,
				baseUrl:     fmt.Sprintf("%s/services/data/%s", instanceUrl, cfg.CrmApiVersion),
				accessToken: accessToken,
				httpClient:  &http.Client{Timeout: 30 * time.Second},
			}, nil
		})
}

func (c *RestConnection) ApiType() domain.ApiType {
	return domain.ApiTypeRest
}

func (c *RestConnection) OrgType() domain.OrgType {
	return c.orgType
}

func (c *RestConnection) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

type QueryResult struct {
	TotalSize      int                      `json:"totalSize"`
	Done           bool                     `json:"done"`
	NextRecordsUrl string                   `json:"nextRecordsUrl"`
	Records        []map[string]interface{} `json:"records"`
}

// Query runs a SOQL query and follows nextRecordsUrl until all pages have
// been collected.
func (c *RestConnection) Query(ctx context.Context, soql string) ([]map[string]interface{}, error) {

	var records []map[string]interface{}

	u := fmt.Sprintf("%s/query?q=%s", c.baseUrl, url.QueryEscape(soql))

	for {
		var result QueryResult

		err := c.getJson(ctx, u, &result)
		if err != nil {
			return nil, err
		}

		records = append(records, result.Records...)

		if result.Done || result.NextRecordsUrl == "" {
			return records, nil
		}

		// nextRecordsUrl comes back instance-relative
		u = c.instanceUrl + result.NextRecordsUrl
	}
}

// Limits fetches the org limit snapshot published by the REST API.
func (c *RestConnection) Limits(ctx context.Context) (map[string]interface{}, error) {
	var limits map[string]interface{}
	err := c.getJson(ctx, c.baseUrl+"/limits", &limits)
	return limits, err
}

func (c *RestConnection) getJson(ctx context.Context, u string, out interface{}) error {

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrSessionInvalid
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("REST API call returned http status code %d", resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
