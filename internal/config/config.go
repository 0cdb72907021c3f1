package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	ENV_PREFIX = "CRM_CONNECTOR"

	URL_APP_NAME                   = "URL_App_Name"
	URL_PATH_PREFIX                = "URL_Path_Prefix"
	URL_BASE_PATH                  = "URL_Base_Path"
	HTTP_SHUTDOWN_TIMEOUT          = "HTTP_Shutdown_Timeout"
	SERVICE_TO_SERVICE_CREDENTIALS = "Service_To_Service_Credentials"
	PROFILE                        = "Enable_Profile"

	DATABASE_HOST          = "Database_Host"
	DATABASE_PORT          = "Database_Port"
	DATABASE_USER          = "Database_User"
	DATABASE_PASSWORD      = "Database_Password"
	DATABASE_NAME          = "Database_Name"
	DATABASE_SSL_MODE      = "Database_SSL_Mode"
	DATABASE_SSL_ROOT_CERT = "Database_SSL_Root_Cert"
	DATABASE_QUERY_TIMEOUT = "Database_Query_Timeout"

	CRM_LOGIN_URL            = "CRM_Login_Url"
	CRM_TOKEN_CLIENT_ID      = "CRM_Token_Client_Id"
	CRM_TOKEN_USERNAME       = "CRM_Token_Username"
	CRM_JWT_PRIVATE_KEY_FILE = "CRM_Jwt_Private_Key_File"
	CRM_JWT_TOKEN_EXPIRY     = "CRM_Jwt_Token_Expiry"
	CRM_API_VERSION          = "CRM_Api_Version"
	CRM_TENANT_ID            = "CRM_Tenant_Id"

	EVENT_BUS_GRPC_ENDPOINT     = "Event_Bus_Grpc_Endpoint"
	EVENT_BUS_TOPIC             = "Event_Bus_Topic"
	EVENT_BUS_REPLAY_ID         = "Event_Bus_Replay_Id"
	EVENT_BUS_FETCH_COUNT       = "Event_Bus_Fetch_Count"
	EVENT_BUS_MONITOR_INTERVAL  = "Event_Bus_Monitor_Interval"
	EVENT_BUS_SUBSCRIBE_TIMEOUT = "Event_Bus_Subscribe_Timeout"
	EVENT_BUS_TLS_ENABLED       = "Event_Bus_TLS_Enabled"

	SCHEMA_CACHE_SIZE = "Schema_Cache_Size"
	SCHEMA_CACHE_TTL  = "Schema_Cache_Ttl"

	RATE_LIMIT_UPDATE_RETRIES       = "Rate_Limit_Update_Retries"
	RATE_LIMIT_UPDATE_RETRY_BACKOFF = "Rate_Limit_Update_Retry_Backoff"
	CALL_STATS_PURGE_INTERVAL       = "Call_Stats_Purge_Interval"
	CALL_STATS_RETENTION            = "Call_Stats_Retention"

	EXECUTOR_POOL_SIZE     = "Executor_Pool_Size"
	EXECUTOR_DRAIN_TIMEOUT = "Executor_Drain_Timeout"

	BROKERS                      = "Kafka_Brokers"
	CHANGE_EVENTS_TOPIC          = "Kafka_Change_Events_Topic"
	CHANGE_EVENTS_BATCH_SIZE     = "Kafka_Change_Events_Batch_Size"
	CHANGE_EVENTS_BATCH_BYTES    = "Kafka_Change_Events_Batch_Bytes"
	KAFKA_USERNAME               = "Kafka_Username"
	KAFKA_PASSWORD               = "Kafka_Password"
	KAFKA_SASL_MECHANISM         = "Kafka_SASL_Mechanism"
	KAFKA_CA                     = "Kafka_CA"
	DEFAULT_KAFKA_BROKER_ADDRESS = "kafka:29092"
)

type Config struct {
	UrlAppName                  string
	UrlPathPrefix               string
	UrlBasePath                 string
	HttpShutdownTimeout         time.Duration
	ServiceToServiceCredentials map[string]interface{}
	Profile                     bool

	DatabaseHost         string
	DatabasePort         int
	DatabaseUser         string
	DatabasePassword     string
	DatabaseName         string
	DatabaseSslMode      string
	DatabaseSslRootCert  string
	DatabaseQueryTimeout time.Duration

	CrmLoginUrl          string
	CrmTokenClientId     string
	CrmTokenUsername     string
	CrmJwtPrivateKeyFile string
	CrmJwtTokenExpiry    int
	CrmApiVersion        string
	CrmTenantId          string

	EventBusGrpcEndpoint     string
	EventBusTopic            string
	EventBusReplayId         string
	EventBusFetchCount       int
	EventBusMonitorInterval  time.Duration
	EventBusSubscribeTimeout time.Duration
	EventBusTlsEnabled       bool

	SchemaCacheSize int
	SchemaCacheTtl  time.Duration

	RateLimitUpdateRetries      int
	RateLimitUpdateRetryBackoff time.Duration
	CallStatsPurgeInterval      time.Duration
	CallStatsRetention          time.Duration

	ExecutorPoolSize     int
	ExecutorDrainTimeout time.Duration

	KafkaBrokers                []string
	KafkaChangeEventsTopic      string
	KafkaChangeEventsBatchSize  int
	KafkaChangeEventsBatchBytes int
	KafkaUsername               string
	KafkaPassword               string
	KafkaSASLMechanism          string
	KafkaCA                     string
}

func (c Config) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s\n", URL_PATH_PREFIX, c.UrlPathPrefix)
	fmt.Fprintf(&b, "%s: %s\n", URL_APP_NAME, c.UrlAppName)
	fmt.Fprintf(&b, "%s: %s\n", URL_BASE_PATH, c.UrlBasePath)
	fmt.Fprintf(&b, "%s: %s\n", HTTP_SHUTDOWN_TIMEOUT, c.HttpShutdownTimeout)
	fmt.Fprintf(&b, "%s: %t\n", PROFILE, c.Profile)
	fmt.Fprintf(&b, "%s: %s\n", DATABASE_HOST, c.DatabaseHost)
	fmt.Fprintf(&b, "%s: %d\n", DATABASE_PORT, c.DatabasePort)
	fmt.Fprintf(&b, "%s: %s\n", DATABASE_NAME, c.DatabaseName)
	fmt.Fprintf(&b, "%s: %s\n", DATABASE_SSL_MODE, c.DatabaseSslMode)
	fmt.Fprintf(&b, "%s: %s\n", DATABASE_QUERY_TIMEOUT, c.DatabaseQueryTimeout)
	fmt.Fprintf(&b, "%s: %s\n", CRM_LOGIN_URL, c.CrmLoginUrl)
	fmt.Fprintf(&b, "%s: %s\n", CRM_TOKEN_USERNAME, c.CrmTokenUsername)
	fmt.Fprintf(&b, "%s: %s\n", CRM_API_VERSION, c.CrmApiVersion)
	fmt.Fprintf(&b, "%s: %s\n", EVENT_BUS_GRPC_ENDPOINT, c.EventBusGrpcEndpoint)
	fmt.Fprintf(&b, "%s: %s\n", EVENT_BUS_TOPIC, c.EventBusTopic)
	fmt.Fprintf(&b, "%s: %s\n", EVENT_BUS_REPLAY_ID, c.EventBusReplayId)
	fmt.Fprintf(&b, "%s: %d\n", EVENT_BUS_FETCH_COUNT, c.EventBusFetchCount)
	fmt.Fprintf(&b, "%s: %s\n", EVENT_BUS_MONITOR_INTERVAL, c.EventBusMonitorInterval)
	fmt.Fprintf(&b, "%s: %s\n", EVENT_BUS_SUBSCRIBE_TIMEOUT, c.EventBusSubscribeTimeout)
	fmt.Fprintf(&b, "%s: %d\n", SCHEMA_CACHE_SIZE, c.SchemaCacheSize)
	fmt.Fprintf(&b, "%s: %s\n", SCHEMA_CACHE_TTL, c.SchemaCacheTtl)
	fmt.Fprintf(&b, "%s: %d\n", RATE_LIMIT_UPDATE_RETRIES, c.RateLimitUpdateRetries)
	fmt.Fprintf(&b, "%s: %s\n", RATE_LIMIT_UPDATE_RETRY_BACKOFF, c.RateLimitUpdateRetryBackoff)
	fmt.Fprintf(&b, "%s: %s\n", CALL_STATS_PURGE_INTERVAL, c.CallStatsPurgeInterval)
	fmt.Fprintf(&b, "%s: %s\n", CALL_STATS_RETENTION, c.CallStatsRetention)
	fmt.Fprintf(&b, "%s: %d\n", EXECUTOR_POOL_SIZE, c.ExecutorPoolSize)
	fmt.Fprintf(&b, "%s: %s\n", EXECUTOR_DRAIN_TIMEOUT, c.ExecutorDrainTimeout)
	fmt.Fprintf(&b, "%s: %s\n", BROKERS, c.KafkaBrokers)
	fmt.Fprintf(&b, "%s: %s\n", CHANGE_EVENTS_TOPIC, c.KafkaChangeEventsTopic)
	fmt.Fprintf(&b, "%s: %d\n", CHANGE_EVENTS_BATCH_SIZE, c.KafkaChangeEventsBatchSize)
	fmt.Fprintf(&b, "%s: %d\n", CHANGE_EVENTS_BATCH_BYTES, c.KafkaChangeEventsBatchBytes)

	return b.String()
}

func GetConfig() *Config {
	options := viper.New()

	options.SetDefault(URL_PATH_PREFIX, "api")
	options.SetDefault(URL_APP_NAME, "crm-connector")
	options.SetDefault(HTTP_SHUTDOWN_TIMEOUT, 2)
	options.SetDefault(SERVICE_TO_SERVICE_CREDENTIALS, "")
	options.SetDefault(PROFILE, false)

	options.SetDefault(DATABASE_HOST, "localhost")
	options.SetDefault(DATABASE_PORT, 5432)
	options.SetDefault(DATABASE_USER, "crm-connector")
	options.SetDefault(DATABASE_PASSWORD, "crm-connector")
	options.SetDefault(DATABASE_NAME, "crm-connector")
	options.SetDefault(DATABASE_SSL_MODE, "disable")
	options.SetDefault(DATABASE_SSL_ROOT_CERT, "db_ssl_root_cert.pem")
	options.SetDefault(DATABASE_QUERY_TIMEOUT, 5)

	options.SetDefault(CRM_LOGIN_URL, "https://login.salesforce.com")
	options.SetDefault(CRM_TOKEN_CLIENT_ID, "")
	options.SetDefault(CRM_TOKEN_USERNAME, "")
	options.SetDefault(CRM_JWT_PRIVATE_KEY_FILE, "crm_connected_app_key.pem")
	options.SetDefault(CRM_JWT_TOKEN_EXPIRY, 3)
	options.SetDefault(CRM_API_VERSION, "v59.0")
	options.SetDefault(CRM_TENANT_ID, "")

	options.SetDefault(EVENT_BUS_GRPC_ENDPOINT, "api.pubsub.salesforce.com:7443")
	options.SetDefault(EVENT_BUS_TOPIC, "/data/ChangeEvents")
	options.SetDefault(EVENT_BUS_REPLAY_ID, "")
	options.SetDefault(EVENT_BUS_FETCH_COUNT, 100)
	options.SetDefault(EVENT_BUS_MONITOR_INTERVAL, 30)
	options.SetDefault(EVENT_BUS_SUBSCRIBE_TIMEOUT, 30)
	options.SetDefault(EVENT_BUS_TLS_ENABLED, true)

	options.SetDefault(SCHEMA_CACHE_SIZE, 100)
	options.SetDefault(SCHEMA_CACHE_TTL, 24*60*60)

	options.SetDefault(RATE_LIMIT_UPDATE_RETRIES, 3)
	options.SetDefault(RATE_LIMIT_UPDATE_RETRY_BACKOFF, "10ms")
	options.SetDefault(CALL_STATS_PURGE_INTERVAL, 60*60)
	options.SetDefault(CALL_STATS_RETENTION, 24*60*60)

	options.SetDefault(EXECUTOR_POOL_SIZE, 0)
	options.SetDefault(EXECUTOR_DRAIN_TIMEOUT, 30)

	options.SetDefault(BROKERS, []string{DEFAULT_KAFKA_BROKER_ADDRESS})
	options.SetDefault(CHANGE_EVENTS_TOPIC, "platform.crm-connector.change-events")
	options.SetDefault(CHANGE_EVENTS_BATCH_SIZE, 100)
	options.SetDefault(CHANGE_EVENTS_BATCH_BYTES, 1048576)
	options.SetDefault(KAFKA_USERNAME, "")
	options.SetDefault(KAFKA_PASSWORD, "")
	options.SetDefault(KAFKA_SASL_MECHANISM, "")
	options.SetDefault(KAFKA_CA, "")

	options.SetEnvPrefix(ENV_PREFIX)
	options.AutomaticEnv()

	return &Config{
		UrlPathPrefix:               options.GetString(URL_PATH_PREFIX),
		UrlAppName:                  options.GetString(URL_APP_NAME),
		UrlBasePath:                 buildUrlBasePath(options.GetString(URL_PATH_PREFIX), options.GetString(URL_APP_NAME)),
		HttpShutdownTimeout:         options.GetDuration(HTTP_SHUTDOWN_TIMEOUT) * time.Second,
		ServiceToServiceCredentials: options.GetStringMap(SERVICE_TO_SERVICE_CREDENTIALS),
		Profile:                     options.GetBool(PROFILE),

		DatabaseHost:         options.GetString(DATABASE_HOST),
		DatabasePort:         options.GetInt(DATABASE_PORT),
		DatabaseUser:         options.GetString(DATABASE_USER),
		DatabasePassword:     options.GetString(DATABASE_PASSWORD),
		DatabaseName:         options.GetString(DATABASE_NAME),
		DatabaseSslMode:      options.GetString(DATABASE_SSL_MODE),
		DatabaseSslRootCert:  options.GetString(DATABASE_SSL_ROOT_CERT),
		DatabaseQueryTimeout: options.GetDuration(DATABASE_QUERY_TIMEOUT) * time.Second,

		CrmLoginUrl:          options.GetString(CRM_LOGIN_URL),
		CrmTokenClientId:     options.GetString(CRM_TOKEN_CLIENT_ID),
		CrmTokenUsername:     options.GetString(CRM_TOKEN_USERNAME),
		CrmJwtPrivateKeyFile: options.GetString(CRM_JWT_PRIVATE_KEY_FILE),
		CrmJwtTokenExpiry:    options.GetInt(CRM_JWT_TOKEN_EXPIRY),
		CrmApiVersion:        options.GetString(CRM_API_VERSION),
		CrmTenantId:          options.GetString(CRM_TENANT_ID),

		EventBusGrpcEndpoint:     options.GetString(EVENT_BUS_GRPC_ENDPOINT),
		EventBusTopic:            options.GetString(EVENT_BUS_TOPIC),
		EventBusReplayId:         options.GetString(EVENT_BUS_REPLAY_ID),
		EventBusFetchCount:       options.GetInt(EVENT_BUS_FETCH_COUNT),
		EventBusMonitorInterval:  options.GetDuration(EVENT_BUS_MONITOR_INTERVAL) * time.Second,
		EventBusSubscribeTimeout: options.GetDuration(EVENT_BUS_SUBSCRIBE_TIMEOUT) * time.Second,
		EventBusTlsEnabled:       options.GetBool(EVENT_BUS_TLS_ENABLED),

		SchemaCacheSize: options.GetInt(SCHEMA_CACHE_SIZE),
		SchemaCacheTtl:  options.GetDuration(SCHEMA_CACHE_TTL) * time.Second,

		RateLimitUpdateRetries:      options.GetInt(RATE_LIMIT_UPDATE_RETRIES),
		RateLimitUpdateRetryBackoff: options.GetDuration(RATE_LIMIT_UPDATE_RETRY_BACKOFF),
		CallStatsPurgeInterval:      options.GetDuration(CALL_STATS_PURGE_INTERVAL) * time.Second,
		CallStatsRetention:          options.GetDuration(CALL_STATS_RETENTION) * time.Second,

		ExecutorPoolSize:     options.GetInt(EXECUTOR_POOL_SIZE),
		ExecutorDrainTimeout: options.GetDuration(EXECUTOR_DRAIN_TIMEOUT) * time.Second,

		KafkaBrokers:                options.GetStringSlice(BROKERS),
		KafkaChangeEventsTopic:      options.GetString(CHANGE_EVENTS_TOPIC),
		KafkaChangeEventsBatchSize:  options.GetInt(CHANGE_EVENTS_BATCH_SIZE),
		KafkaChangeEventsBatchBytes: options.GetInt(CHANGE_EVENTS_BATCH_BYTES),
		KafkaUsername:               options.GetString(KAFKA_USERNAME),
		KafkaPassword:               options.GetString(KAFKA_PASSWORD),
		KafkaSASLMechanism:          options.GetString(KAFKA_SASL_MECHANISM),
		KafkaCA:                     options.GetString(KAFKA_CA),
	}
}

func buildUrlBasePath(pathPrefix string, appName string) string {
	return fmt.Sprintf("/%s/%s/v1", pathPrefix, appName)
}
