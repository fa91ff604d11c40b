package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/0xmdrakib/2048TX/pkg/data/redis/snapshot"
)

// SnapshotSinkName identifies the Kafka sink in logs and metrics.
const SnapshotSinkName = "kafka"

// SnapshotArchiver publishes closed-window snapshots. Messages are keyed by
// window index, so a window published twice lands on the same partition and
// consumers can drop the duplicate.
type SnapshotArchiver struct {
	pub   Publisher
	topic string
}

// NewSnapshotArchiver creates an archiver publishing to topic.
func NewSnapshotArchiver(pub Publisher, topic string) *SnapshotArchiver {
	if topic == "" {
		topic = DefaultSnapshotTopic
	}
	return &SnapshotArchiver{pub: pub, topic: topic}
}

func (a *SnapshotArchiver) Name() string {
	return SnapshotSinkName
}

func (a *SnapshotArchiver) Archive(ctx context.Context, rec snapshot.Record) error {
	value, err := json.Marshal(snapshot.Stored{Key: snapshot.RecordKey(rec.WindowIndex), Record: rec})
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot %d: %w", rec.WindowIndex, err)
	}
	return a.pub.Publish(ctx, Msg{
		Topic: a.topic,
		Key:   []byte(strconv.FormatInt(rec.WindowIndex, 10)),
		Value: value,
		Headers: map[string]string{
			"content-type": "application/json",
			"chain-id":     strconv.FormatInt(rec.ChainID, 10),
		},
	})
}
