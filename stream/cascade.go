// Package stream reacts to DynamoDB Streams records on the node table.
//
// Soft deleting a node only stamps a TTL on its own row. The handler in this
// package sees that MODIFY record and stamps the same TTL on every row whose
// path starts with the deleted node's path, so a subtree expires together.
package stream

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"
)

// SubtreeMarker stamps a TTL on every live row under a path.
// *store.Store satisfies it.
type SubtreeMarker interface {
	SetSubtreeTTL(ctx context.Context, path string, ttl int64) (int, error)
}

// Handler propagates soft deletes to subtrees.
type Handler struct {
	marker SubtreeMarker
	logger *zap.Logger
}

// NewHandler creates a stream handler. A nil logger disables logging.
func NewHandler(m SubtreeMarker, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{marker: m, logger: logger}
}

// deletion is a node row that just received its TTL.
type deletion struct {
	id   int64
	path string
	ttl  int64
}

// HandleCascadeDelete is the Lambda entry point. A failing record aborts the
// batch so Lambda retries it; SetSubtreeTTL is idempotent, so replays of
// records that already succeeded are harmless.
func (h *Handler) HandleCascadeDelete(ctx context.Context, event events.DynamoDBEvent) error {
	for _, record := range event.Records {
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.Error("failed to process record", failureFields(record.EventID, err)...)
			return err
		}
	}
	return nil
}

func (h *Handler) processRecord(ctx context.Context, record events.DynamoDBEventRecord) error {
	d, ok := deletionFrom(record)
	if !ok {
		return nil
	}

	log := h.logger.With(zap.Int64("nodeID", d.id), zap.String("path", d.path))
	log.Info("processing cascade delete", zap.Int64("ttl", d.ttl))

	// Rows that already carry a TTL keep it.
	visited, err := h.marker.SetSubtreeTTL(ctx, d.path, d.ttl)
	if err != nil {
		return fmt.Errorf("cascade %s: %w", d.path, err)
	}

	log.Info("cascade delete completed", zap.Int("nodesVisited", visited))
	return nil
}

// deletionFrom reports whether record is a node row whose TTL went from
// unset to set. The id sequence row has no path and never qualifies.
func deletionFrom(record events.DynamoDBEventRecord) (deletion, bool) {
	if record.EventName != "MODIFY" {
		return deletion{}, false
	}

	before, after := record.Change.OldImage, record.Change.NewImage
	d := deletion{
		id:   numberAttr(after, "id"),
		path: stringAttr(after, "path"),
		ttl:  numberAttr(after, "ttl"),
	}
	if d.ttl == 0 || numberAttr(before, "ttl") != 0 || d.path == "" {
		return deletion{}, false
	}
	return d, true
}

func failureFields(eventID string, err error) []zap.Field {
	fields := []zap.Field{zap.String("eventID", eventID), zap.Error(err)}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		fields = append(fields, zap.String("errorCode", apiErr.ErrorCode()))
	}
	return fields
}

// stringAttr returns image[key] when it is a string attribute.
func stringAttr(image map[string]events.DynamoDBAttributeValue, key string) string {
	v, ok := image[key]
	if !ok || v.DataType() != events.DataTypeString {
		return ""
	}
	return v.String()
}

// numberAttr returns image[key] when it is an integral number attribute,
// zero otherwise.
func numberAttr(image map[string]events.DynamoDBAttributeValue, key string) int64 {
	v, ok := image[key]
	if !ok || v.DataType() != events.DataTypeNumber {
		return 0
	}
	n, err := strconv.ParseInt(v.Number(), 10, 64)
	if err != nil {
		return 0
	}
	return n
}
