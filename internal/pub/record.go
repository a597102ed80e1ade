package pub

import (
	"fmt"
	"time"

	"github.com/couchbase/gocb/v2"

	"batchpub/internal/couchbase"
)

// StoredMessage is the document written for every message sent through the
// ledger transport. Its ID doubles as the message ack id.
type StoredMessage struct {
	ID          string            `json:"id"`
	Topic       string            `json:"topic"`
	OrderingKey string            `json:"orderingKey,omitempty"`
	Offset      uint64            `json:"offset"`
	Data        []byte            `json:"data"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	PublishTime *time.Time        `json:"publishTime,omitempty"`
}

func NewMessagesStore(cluster *gocb.Cluster, bucket *gocb.Bucket, scope string) (*couchbase.Couchbase[StoredMessage], error) {
	collection := bucket.Scope(scope).Collection("messages")
	store, err := couchbase.NewCouchbase[StoredMessage](cluster, collection)
	if err != nil {
		return nil, err
	}

	return store, nil
}

func MessageKey(topic string, offset uint64) string {
	return fmt.Sprintf("message::%s::%d", topic, offset)
}
