package domain

import "time"

type OrgType string

func (ot OrgType) String() string {
	return string(ot)
}

type ApiType string

func (at ApiType) String() string {
	return string(at)
}

const (
	ApiTypeSoap   ApiType = "SOAP"
	ApiTypeRest   ApiType = "REST"
	ApiTypeBulkV1 ApiType = "BULK_V1"
	ApiTypeBulkV2 ApiType = "BULK_V2"
	ApiTypePubSub ApiType = "PUB_SUB"
)

type ChangeType string

const (
	ChangeTypeCreate   ChangeType = "CREATE"
	ChangeTypeUpdate   ChangeType = "UPDATE"
	ChangeTypeDelete   ChangeType = "DELETE"
	ChangeTypeUndelete ChangeType = "UNDELETE"
)

// ChangeRecord is the normalized form of a change-data-capture event after
// the schema-encoded payload has been decoded.
type ChangeRecord struct {
	EntityName      string
	RecordID        string
	ChangeType      ChangeType
	Fields          map[string]interface{}
	CommitTimestamp time.Time
	ReplayID        []byte
}

// RegisteredObject is an entity type enabled for synchronization.  The
// configuration store is the source of truth; the registry holds a copy.
type RegisteredObject struct {
	ObjectApi             string     `json:"object_api"`
	IsRealtimeSyncEnabled bool       `json:"is_realtime_sync_enabled"`
	LastSyncDate          *time.Time `json:"last_sync_date"`
}
