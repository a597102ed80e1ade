package pub

import (
	"fmt"

	"github.com/couchbase/gocb/v2"

	"batchpub/internal/couchbase"
)

// Offset is the next free write position of a topic.
type Offset struct {
	ID string `json:"id"`
	N  uint64 `json:"n"`
}

func NewOffsetsStore(cluster *gocb.Cluster, bucket *gocb.Bucket, scope string) (*couchbase.Couchbase[Offset], error) {
	collection := bucket.Scope(scope).Collection("offsets")
	store, err := couchbase.NewCouchbase[Offset](cluster, collection)
	if err != nil {
		return nil, err
	}

	return store, nil
}

func OffsetKey(topic string) string {
	return fmt.Sprintf("offset::%s", topic)
}
