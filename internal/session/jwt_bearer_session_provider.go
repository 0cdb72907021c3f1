package session

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/syncstack/crm-connector/internal/config"
	"github.com/syncstack/crm-connector/internal/domain"
	"github.com/syncstack/crm-connector/internal/platform/logger"

	"github.com/golang-jwt/jwt"
	"github.com/sirupsen/logrus"
)

const (
	jwtBearerGrantType = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	sandboxLoginUrl    = "https://test.salesforce.com"
)

type orgSession struct {
	accessToken string
	instanceUrl string
	tenantId    string
	issuedAt    time.Time
}

// JwtBearerSessionProvider implements the OAuth 2.0 JWT bearer flow against
// the CRM token endpoint.  Sessions are cached per org and re-acquired once
// their validity window has passed.
type JwtBearerSessionProvider struct {
	cfg             *config.Config
	signKey         *rsa.PrivateKey
	httpClient      *http.Client
	sessionValidity time.Duration

	lock     sync.Mutex
	sessions map[domain.OrgType]*orgSession
}

func NewJwtBearerSessionProvider(cfg *config.Config) (*JwtBearerSessionProvider, error) {

	signBytes, err := os.ReadFile(cfg.CrmJwtPrivateKeyFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read connected app private key: %w", err)
	}

	signKey, err := jwt.ParseRSAPrivateKeyFromPEM(signBytes)
	if err != nil {
		return nil, fmt.Errorf("unable to parse connected app private key: %w", err)
	}

	return &JwtBearerSessionProvider{
		cfg:             cfg,
		signKey:         signKey,
		httpClient:      &http.Client{Timeout: 30 * time.Second},
		sessionValidity: time.Duration(cfg.CrmJwtTokenExpiry) * time.Minute,
		sessions:        make(map[domain.OrgType]*orgSession),
	}, nil
}

func (sp *JwtBearerSessionProvider) GetAccessToken(ctx context.Context, orgType domain.OrgType) (string, error) {
	session, err := sp.getSession(ctx, orgType)
	if err != nil {
		return "", err
	}
	return session.accessToken, nil
}

func (sp *JwtBearerSessionProvider) GetInstanceUrl(ctx context.Context, orgType domain.OrgType) (string, error) {
	session, err := sp.getSession(ctx, orgType)
	if err != nil {
		return "", err
	}
	return session.instanceUrl, nil
}

func (sp *JwtBearerSessionProvider) IsSessionValid(orgType domain.OrgType) bool {
	sp.lock.Lock()
	defer sp.lock.Unlock()

	session, exists := sp.sessions[orgType]
	if exists == false {
		return false
	}

	return time.Since(session.issuedAt) < sp.sessionValidity
}

func (sp *JwtBearerSessionProvider) InvalidateSession(orgType domain.OrgType) {
	sp.lock.Lock()
	defer sp.lock.Unlock()

	delete(sp.sessions, orgType)
}

func (sp *JwtBearerSessionProvider) getSession(ctx context.Context, orgType domain.OrgType) (*orgSession, error) {
	sp.lock.Lock()
	defer sp.lock.Unlock()

	session, exists := sp.sessions[orgType]
	if exists && time.Since(session.issuedAt) < sp.sessionValidity {
		return session, nil
	}

	session, err := sp.acquireSession(ctx, orgType)
	if err != nil {
		return nil, err
	}

	sp.sessions[orgType] = session

	return session, nil
}

func (sp *JwtBearerSessionProvider) acquireSession(ctx context.Context, orgType domain.OrgType) (*orgSession, error) {

	log := logger.Log.WithFields(logrus.Fields{"org_type": orgType})

	loginUrl := sp.loginUrlFor(orgType)

	assertion, err := sp.buildAssertion(loginUrl)
	if err != nil {
		return nil, fmt.Errorf("unable to build jwt bearer assertion: %w", err)
	}

	form := url.Values{}
	form.Set("grant_type", jwtBearerGrantType)
	form.Set("assertion", assertion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, loginUrl+"/services/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	log.Debug("Exchanging jwt bearer assertion for an access token")

	resp, err := sp.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token endpoint call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token endpoint returned http status code %d", resp.StatusCode)
	}

	var tokenResponse struct {
		AccessToken string `json:"access_token"`
		InstanceUrl string `json:"instance_url"`
		Id          string `json:"id"`
		TokenType   string `json:"token_type"`
	}

	err = json.NewDecoder(resp.Body).Decode(&tokenResponse)
	if err != nil {
		return nil, fmt.Errorf("unable to parse token endpoint response: %w", err)
	}

	log.Info("Acquired a new CRM session")

	return &orgSession{
		accessToken: tokenResponse.AccessToken,
		instanceUrl: tokenResponse.InstanceUrl,
		tenantId:    sp.cfg.CrmTenantId,
		issuedAt:    time.Now(),
	}, nil
}

func (sp *JwtBearerSessionProvider) buildAssertion(audience string) (string, error) {
	t := jwt.New(jwt.GetSigningMethod("RS256"))
	t.Claims = &jwt.StandardClaims{
		Issuer:    sp.cfg.CrmTokenClientId,
		Subject:   sp.cfg.CrmTokenUsername,
		Audience:  audience,
		ExpiresAt: time.Now().Add(3 * time.Minute).UTC().Unix(),
	}
	return t.SignedString(sp.signKey)
}

func (sp *JwtBearerSessionProvider) loginUrlFor(orgType domain.OrgType) string {
	if orgType == "sandbox" {
		return sandboxLoginUrl
	}
	return sp.cfg.CrmLoginUrl
}
