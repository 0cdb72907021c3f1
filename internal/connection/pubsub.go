package connection

import (
	"context"
	"crypto/tls"

	"github.com/syncstack/crm-connector/internal/config"
	"github.com/syncstack/crm-connector/internal/domain"
	"github.com/syncstack/crm-connector/internal/session"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// PubSubConnection owns the gRPC channel to the event bus.  Authentication
// travels as per-call metadata, refreshed from the session provider on
// every RPC.
type PubSubConnection struct {
	orgType  domain.OrgType
	grpcConn *grpc.ClientConn
}

// sessionCallCredentials injects the session headers expected by the event
// bus: accesstoken, instanceurl and tenantid.
type sessionCallCredentials struct {
	orgType         domain.OrgType
	tenantId        string
	sessionProvider session.SessionProvider
	requireTls      bool
}

func (c *sessionCallCredentials) GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error) {

	accessToken, err := c.sessionProvider.GetAccessToken(ctx, c.orgType)
	if err != nil {
		return nil, err
	}

	instanceUrl, err := c.sessionProvider.GetInstanceUrl(ctx, c.orgType)
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"accesstoken": accessToken,
		"instanceurl": instanceUrl,
		"tenantid":    c.tenantId,
	}, nil
}

func (c *sessionCallCredentials) RequireTransportSecurity() bool {
	return c.requireTls
}

func NewPubSubConnectionFactory(cfg *config.Config, sessionProvider session.SessionProvider) ConnectionFactory {
	return newCachingConnectionFactory(domain.ApiTypePubSub, sessionProvider,
		func(ctx context.Context, orgType domain.OrgType) (Connection, error) {

			var transportCreds credentials.TransportCredentials
			if cfg.EventBusTlsEnabled {
				transportCreds = credentials.NewTLS(&tls.Config{})
			} else {
				transportCreds = insecure.NewCredentials()
			}

			callCreds := &sessionCallCredentials{
				orgType:         orgType,
				tenantId:        cfg.CrmTenantId,
				sessionProvider: sessionProvider,
				requireTls:      cfg.EventBusTlsEnabled,
			}

			grpcConn, err := grpc.NewClient(cfg.EventBusGrpcEndpoint,
				grpc.WithTransportCredentials(transportCreds),
				grpc.WithPerRPCCredentials(callCreds))
			if err != nil {
				return nil, err
			}

			return &PubSubConnection{
				orgType:  orgType,
				grpcConn: grpcConn,
			}, nil
		})
}

func (c *PubSubConnection) ApiType() domain.ApiType {
	return domain.ApiTypePubSub
}

func (c *PubSubConnection) OrgType() domain.OrgType {
	return c.orgType
}

func (c *PubSubConnection) Close() error {
	return c.grpcConn.Close()
}

// GrpcConn exposes the underlying channel for the event bus client.
func (c *PubSubConnection) GrpcConn() *grpc.ClientConn {
	return c.grpcConn
}
