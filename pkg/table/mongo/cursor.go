package mongo

import (
	"context"
	"fmt"

	"github.com/nimburion/docservice/pkg/table"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// changeEvent is the part of a change stream event the cursor reads.
type changeEvent struct {
	OperationType            string `bson:"operationType"`
	DocumentKey              bson.M `bson:"documentKey"`
	FullDocument             bson.M `bson:"fullDocument"`
	FullDocumentBeforeChange bson.M `bson:"fullDocumentBeforeChange"`
}

type cursor struct {
	stream *mongo.ChangeStream
	pk     string
}

// Next returns the next data change. Events that end the stream (drop,
// rename, invalidate) close the cursor; undecodable events are reported one
// at a time.
func (c *cursor) Next(ctx context.Context) (table.Change, error) {
	for {
		if !c.stream.Next(ctx) {
			if err := ctx.Err(); err != nil {
				return table.Change{}, err
			}
			if err := c.stream.Err(); err != nil {
				return table.Change{}, fmt.Errorf("%w: %v", table.ErrCursorClosed, err)
			}
			return table.Change{}, table.ErrCursorClosed
		}

		var ev changeEvent
		if err := c.stream.Decode(&ev); err != nil {
			return table.Change{}, fmt.Errorf("decode change event: %w", err)
		}
		ch, ok, err := c.convert(ev)
		if err != nil {
			return table.Change{}, err
		}
		if ok {
			return ch, nil
		}
	}
}

// convert maps a change stream event to a delta. ok is false for events that
// carry no record change.
func (c *cursor) convert(ev changeEvent) (table.Change, bool, error) {
	key := fromDoc(c.pk, ev.DocumentKey)
	before := fromDoc(c.pk, ev.FullDocumentBeforeChange)
	if before == nil {
		before = key
	}

	switch ev.OperationType {
	case "insert":
		return table.Change{NewVal: fromDoc(c.pk, ev.FullDocument)}, ev.FullDocument != nil, nil
	case "update", "replace":
		if ev.FullDocument == nil {
			// removed before the lookup ran; the delete event follows
			return table.Change{}, false, nil
		}
		return table.Change{OldVal: before, NewVal: fromDoc(c.pk, ev.FullDocument)}, before != nil, nil
	case "delete":
		return table.Change{OldVal: before}, before != nil, nil
	case "drop", "rename", "dropDatabase", "invalidate":
		return table.Change{}, false, table.ErrCursorClosed
	}
	return table.Change{}, false, nil
}

func (c *cursor) Close() error {
	return c.stream.Close(context.Background())
}
