// Package mongostore keeps the classroom model in MongoDB, one collection
// per entity. Room membership is embedded in the room document.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/mind-engage/mindengage-classroom/internal/classroom"
)

const (
	colUsers       = "users"
	colRooms       = "rooms"
	colPapers      = "papers"
	colAssignments = "assignments"
	colSubmissions = "submissions"
	colProgress    = "progress"
)

type Store struct {
	db *mongo.Database
}

var _ classroom.Store = (*Store)(nil)

// Connect dials uri, pings, and ensures indexes on database name.
func Connect(ctx context.Context, uri, name string) (*Store, func(context.Context) error, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, nil, fmt.Errorf("mongo ping: %w", err)
	}
	s := New(client.Database(name))
	if err := s.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, nil, err
	}
	return s, client.Disconnect, nil
}

func New(db *mongo.Database) *Store { return &Store{db: db} }

// Database exposes the handle for collections outside the classroom model.
func (s *Store) Database() *mongo.Database { return s.db }

func (s *Store) EnsureIndexes(ctx context.Context) error {
	idx := map[string][]mongo.IndexModel{
		colUsers: {{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true),
		}},
		colRooms: {{Keys: bson.D{{Key: "teacher_id", Value: 1}}}},
		colAssignments: {
			{Keys: bson.D{{Key: "teacher_id", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "student_ids", Value: 1}}},
		},
		colSubmissions: {{
			Keys:    bson.D{{Key: "assignment_id", Value: 1}, {Key: "student_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		}},
		colProgress: {{Keys: bson.D{{Key: "student_id", Value: 1}, {Key: "timestamp", Value: -1}}}},
	}
	for col, models := range idx {
		if _, err := s.db.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("indexes %s: %w", col, err)
		}
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return classroom.ErrNotFound
	}
	return err
}

// ---- users ----

func (s *Store) CreateUser(ctx context.Context, u classroom.User) (classroom.User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Collection(colUsers).InsertOne(ctx, u)
	if mongo.IsDuplicateKeyError(err) {
		return classroom.User{}, classroom.ErrDuplicateEmail
	}
	if err != nil {
		return classroom.User{}, err
	}
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (classroom.User, error) {
	var u classroom.User
	err := s.db.Collection(colUsers).FindOne(ctx, bson.M{"_id": id}).Decode(&u)
	return u, notFound(err)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (classroom.User, error) {
	var u classroom.User
	email = strings.ToLower(strings.TrimSpace(email))
	err := s.db.Collection(colUsers).FindOne(ctx, bson.M{"email": email}).Decode(&u)
	return u, notFound(err)
}

func (s *Store) SetUserRoom(ctx context.Context, userID, roomID string) error {
	res, err := s.db.Collection(colUsers).UpdateByID(ctx, userID, bson.M{"$set": bson.M{"room_id": roomID}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return classroom.ErrNotFound
	}
	return nil
}

// ---- rooms ----

func (s *Store) RoomExists(ctx context.Context, roomID string) (bool, error) {
	n, err := s.db.Collection(colRooms).CountDocuments(ctx, bson.M{"_id": roomID}, options.Count().SetLimit(1))
	return n > 0, err
}

func (s *Store) CreateRoom(ctx context.Context, r classroom.Room) (classroom.Room, error) {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if r.Students == nil {
		r.Students = []string{}
	}
	_, err := s.db.Collection(colRooms).InsertOne(ctx, r)
	if mongo.IsDuplicateKeyError(err) {
		return classroom.Room{}, classroom.ErrDuplicateRoomCode
	}
	if err != nil {
		return classroom.Room{}, err
	}
	return r, nil
}

func (s *Store) GetRoom(ctx context.Context, roomID string) (classroom.Room, error) {
	var r classroom.Room
	if err := s.db.Collection(colRooms).FindOne(ctx, bson.M{"_id": roomID}).Decode(&r); err != nil {
		return classroom.Room{}, notFound(err)
	}
	if r.Students == nil {
		r.Students = []string{}
	}
	return r, nil
}

func (s *Store) ListRoomsByTeacher(ctx context.Context, teacherID string) ([]classroom.Room, error) {
	cur, err := s.db.Collection(colRooms).Find(ctx, bson.M{"teacher_id": teacherID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, err
	}
	out := []classroom.Room{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) updateRoom(ctx context.Context, roomID string, update bson.M) (classroom.Room, error) {
	var r classroom.Room
	err := s.db.Collection(colRooms).FindOneAndUpdate(ctx, bson.M{"_id": roomID}, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&r)
	if err != nil {
		return classroom.Room{}, notFound(err)
	}
	if r.Students == nil {
		r.Students = []string{}
	}
	return r, nil
}

func (s *Store) AddStudent(ctx context.Context, roomID, studentID string) (classroom.Room, error) {
	return s.updateRoom(ctx, roomID, bson.M{"$addToSet": bson.M{"students": studentID}})
}

func (s *Store) RemoveStudent(ctx context.Context, roomID, studentID string) (classroom.Room, error) {
	return s.updateRoom(ctx, roomID, bson.M{"$pull": bson.M{"students": studentID}})
}

func (s *Store) SetRoomActive(ctx context.Context, roomID string, active bool) (classroom.Room, error) {
	return s.updateRoom(ctx, roomID, bson.M{"$set": bson.M{"is_active": active}})
}

// ---- papers ----

// PutPaper upserts unless the stored paper is locked; the filter then
// misses, the upsert collides on _id, and the collision means locked.
func (s *Store) PutPaper(ctx context.Context, p classroom.Paper) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Collection(colPapers).ReplaceOne(ctx,
		bson.M{"_id": p.ID, "locked": bson.M{"$ne": true}}, p, options.Replace().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		return classroom.ErrPaperLocked
	}
	return err
}

func (s *Store) GetPaper(ctx context.Context, id string) (classroom.Paper, error) {
	var p classroom.Paper
	err := s.db.Collection(colPapers).FindOne(ctx, bson.M{"_id": id}).Decode(&p)
	return p, notFound(err)
}

func (s *Store) ListPapers(ctx context.Context, limit int) ([]classroom.Paper, error) {
	if limit <= 0 {
		limit = 50
	}
	cur, err := s.db.Collection(colPapers).Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(int64(limit)))
	if err != nil {
		return nil, err
	}
	out := []classroom.Paper{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) LockPaper(ctx context.Context, id string) error {
	res, err := s.db.Collection(colPapers).UpdateByID(ctx, id, bson.M{"$set": bson.M{"locked": true}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return classroom.ErrNotFound
	}
	return nil
}

// ---- assignments & submissions ----

func (s *Store) CreateAssignment(ctx context.Context, a classroom.Assignment) (classroom.Assignment, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = "active"
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if a.StudentIDs == nil {
		a.StudentIDs = []string{}
	}
	if _, err := s.db.Collection(colAssignments).InsertOne(ctx, a); err != nil {
		return classroom.Assignment{}, err
	}
	return a, nil
}

func (s *Store) GetAssignment(ctx context.Context, id string) (classroom.Assignment, error) {
	var a classroom.Assignment
	err := s.db.Collection(colAssignments).FindOne(ctx, bson.M{"_id": id}).Decode(&a)
	return a, notFound(err)
}

func (s *Store) ListAssignments(ctx context.Context, opts classroom.AssignmentListOpts) ([]classroom.Assignment, error) {
	filter := bson.M{}
	if opts.TeacherID != "" {
		filter["teacher_id"] = opts.TeacherID
	}
	if opts.StudentID != "" {
		filter["student_ids"] = opts.StudentID
	}
	fo := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if opts.Limit > 0 {
		fo.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		fo.SetSkip(int64(opts.Offset))
	}
	cur, err := s.db.Collection(colAssignments).Find(ctx, filter, fo)
	if err != nil {
		return nil, err
	}
	out := []classroom.Assignment{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) UpsertSubmission(ctx context.Context, sub classroom.Submission) (classroom.Submission, error) {
	if _, err := s.GetAssignment(ctx, sub.AssignmentID); err != nil {
		return classroom.Submission{}, err
	}
	if sub.SubmittedAt.IsZero() {
		sub.SubmittedAt = time.Now().UTC()
	}
	_, err := s.db.Collection(colSubmissions).ReplaceOne(ctx,
		bson.M{"assignment_id": sub.AssignmentID, "student_id": sub.StudentID}, sub,
		options.Replace().SetUpsert(true))
	if err != nil {
		return classroom.Submission{}, err
	}
	return sub, nil
}

func (s *Store) GetSubmission(ctx context.Context, assignmentID, studentID string) (classroom.Submission, error) {
	var sub classroom.Submission
	err := s.db.Collection(colSubmissions).FindOne(ctx,
		bson.M{"assignment_id": assignmentID, "student_id": studentID}).Decode(&sub)
	return sub, notFound(err)
}

func (s *Store) ListSubmissions(ctx context.Context, assignmentID string) ([]classroom.Submission, error) {
	cur, err := s.db.Collection(colSubmissions).Find(ctx, bson.M{"assignment_id": assignmentID},
		options.Find().SetSort(bson.D{{Key: "submitted_at", Value: 1}}))
	if err != nil {
		return nil, err
	}
	out := []classroom.Submission{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ---- progress ----

func (s *Store) AppendProgress(ctx context.Context, r classroom.ProgressRecord) (classroom.ProgressRecord, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	if _, err := s.db.Collection(colProgress).InsertOne(ctx, r); err != nil {
		return classroom.ProgressRecord{}, err
	}
	return r, nil
}

func (s *Store) ListProgress(ctx context.Context, studentID string) ([]classroom.ProgressRecord, error) {
	cur, err := s.db.Collection(colProgress).Find(ctx, bson.M{"student_id": studentID},
		options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}, {Key: "_id", Value: -1}}))
	if err != nil {
		return nil, err
	}
	out := []classroom.ProgressRecord{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
