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

const soapEnvelopeTemplate = `<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/" xmlns:urn="urn:partner.soap.sforce.com">
  <soapenv:Header>
    <urn:SessionHeader>
      <urn:sessionId>%s</urn:sessionId>
    </urn:SessionHeader>
  </soapenv:Header>
  <soapenv:Body>%s</soapenv:Body>
</soapenv:Envelope>`

// SoapConnection talks to the partner SOAP endpoint at
// {instanceUrl}/services/Soap/u/{apiVersion}.
type SoapConnection struct {
	orgType      domain.OrgType
	endpointUrl  string
	sessionToken string
	httpClient   *http.Client
}

func NewSoapConnectionFactory(cfg *config.Config, sessionProvider session.SessionProvider) ConnectionFactory {
	return newCachingConnectionFactory(domain.ApiTypeSoap, sessionProvider,
		func(ctx context.Context, orgType domain.OrgType) (Connection, error) {

			instanceUrl, err := sessionProvider.GetInstanceUrl(ctx, orgType)
			if err != nil {
				return nil, err
			}

			accessToken, err := sessionProvider.GetAccessToken(ctx, orgType)
			if err != nil {
				return nil, err
			}

			// the SOAP endpoint takes the version without the leading "v"
			version := strings.TrimPrefix(cfg.CrmApiVersion, "v")

			return &SoapConnection{
				orgType:      orgType,
				endpointUrl:  fmt.Sprintf("%s/services/Soap/u/%s", instanceUrl, version),
				sessionToken: accessToken,
				httpClient:   &http.Client{Timeout: 30 * time.Second},
			}, nil
		})
}

func (c *SoapConnection) ApiType() domain.ApiType {
	return domain.ApiTypeSoap
}

func (c *SoapConnection) OrgType() domain.OrgType {
	return c.orgType
}

func (c *SoapConnection) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// GetServerTimestamp issues the getServerTimestamp call.  It is also used
// as a cheap connectivity probe.
func (c *SoapConnection) GetServerTimestamp(ctx context.Context) (time.Time, error) {

	body, err := c.call(ctx, "getServerTimestamp", "<urn:getServerTimestamp/>")
	if err != nil {
		return time.Time{}, err
	}

	var response struct {
		Timestamp string `xml:"Body>getServerTimestampResponse>result>timestamp"`
	}

	if err := xml.Unmarshal(body, &response); err != nil {
		return time.Time{}, fmt.Errorf("unable to parse getServerTimestamp response: %w", err)
	}

	return time.Parse(time.RFC3339, response.Timestamp)
}

func (c *SoapConnection) call(ctx context.Context, soapAction string, bodyXml string) ([]byte, error) {

	envelope := fmt.Sprintf(soapEnvelopeTemplate, c.sessionToken, bodyXml)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpointUrl, bytes.NewBufferString(envelope))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", soapAction)

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

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("SOAP call %s returned http status code %d", soapAction, resp.StatusCode)
	}

	return body, nil
}
