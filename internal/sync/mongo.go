package syncx

import (
	"context"
	"encoding/json"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoEventRepo mirrors EventRepo on MongoDB. Sequence numbers come from a
// counter document bumped with $inc.
type MongoEventRepo struct {
	events   *mongo.Collection
	counters *mongo.Collection
	siteID   string
}

func NewMongoEventRepo(db *mongo.Database, siteID string) *MongoEventRepo {
	if siteID == "" {
		siteID = "local"
	}
	return &MongoEventRepo{events: db.Collection("event_log"), counters: db.Collection("counters"), siteID: siteID}
}

type mongoEvent struct {
	Seq       int64     `bson:"_id"`
	SiteID    string    `bson:"site_id"`
	Type      string    `bson:"typ"`
	Key       string    `bson:"key"`
	Data      string    `bson:"data"`
	CreatedAt time.Time `bson:"created_at"`
}

func (r *MongoEventRepo) nextSeq(ctx context.Context) (int64, error) {
	var doc struct {
		Seq int64 `bson:"seq"`
	}
	err := r.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": "event_log"},
		bson.M{"$inc": bson.M{"seq": 1}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&doc)
	return doc.Seq, err
}

func (r *MongoEventRepo) Append(ctx context.Context, e Event) error {
	seq, err := r.nextSeq(ctx)
	if err != nil {
		return err
	}
	if e.SiteID == "" {
		e.SiteID = r.siteID
	}
	if len(e.Data) == 0 {
		e.Data = json.RawMessage("{}")
	}
	_, err = r.events.InsertOne(ctx, mongoEvent{
		Seq: seq, SiteID: e.SiteID, Type: e.Type, Key: e.Key, Data: string(e.Data), CreatedAt: time.Now().UTC(),
	})
	return err
}

func (r *MongoEventRepo) ListSince(ctx context.Context, after int64, limit int) ([]Event, error) {
	cur, err := r.events.Find(ctx, bson.M{"_id": bson.M{"$gt": after}},
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}).SetLimit(int64(clampLimit(limit))))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []Event
	for cur.Next(ctx) {
		var m mongoEvent
		if err := cur.Decode(&m); err != nil {
			return nil, err
		}
		out = append(out, Event{Seq: m.Seq, SiteID: m.SiteID, Type: m.Type, Key: m.Key,
			Data: json.RawMessage(m.Data), CreatedAt: m.CreatedAt})
	}
	return out, cur.Err()
}
