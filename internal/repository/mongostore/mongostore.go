// Package mongostore persists sessions in MongoDB. Each session document
// embeds its bookings, so the capacity decrement and the booking insert are
// one single-document update and commit atomically.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Shivanand-hulikatti/class-booking/internal/config"
	"github.com/Shivanand-hulikatti/class-booking/internal/model"
	"github.com/Shivanand-hulikatti/class-booking/internal/repository"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	sessionsCollection = "sessions"
	countersCollection = "counters"
	sessionSequence    = "sessions"
)

type sessionDoc struct {
	ID                int64        `bson:"_id"`
	Name              string       `bson:"name"`
	Instructor        string       `bson:"instructor"`
	StartTime         time.Time    `bson:"start_time"`
	RemainingCapacity int          `bson:"remaining_capacity"`
	CreatedAt         time.Time    `bson:"created_at"`
	Bookings          []bookingDoc `bson:"bookings,omitempty"`
}

type bookingDoc struct {
	ID          string    `bson:"id"`
	ClientName  string    `bson:"client_name"`
	ClientEmail string    `bson:"client_email"`
	CreatedAt   time.Time `bson:"created_at"`
}

func (d sessionDoc) toModel() model.Session {
	return model.Session{
		ID:                d.ID,
		Name:              d.Name,
		Instructor:        d.Instructor,
		StartTime:         d.StartTime.UTC(),
		RemainingCapacity: d.RemainingCapacity,
		CreatedAt:         d.CreatedAt.UTC(),
	}
}

// Store implements session and booking persistence on a MongoDB database.
type Store struct {
	sessions *mongo.Collection
	counters *mongo.Collection
}

// Connect dials MongoDB and verifies the connection.
func Connect(ctx context.Context, cfg config.MongoConfig) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.ConnTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client, nil
}

// New returns a Store on the given database.
func New(db *mongo.Database) *Store {
	return &Store{
		sessions: db.Collection(sessionsCollection),
		counters: db.Collection(countersCollection),
	}
}

// EnsureIndexes creates the indexes used by listing and client lookups.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.sessions.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "start_time", Value: 1}, {Key: "_id", Value: 1}}},
		{Keys: bson.D{{Key: "bookings.client_email", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create indexes: %w", classify(err))
	}
	return nil
}

func (s *Store) nextSessionID(ctx context.Context) (int64, error) {
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := s.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": sessionSequence},
		bson.M{"$inc": bson.M{"seq": 1}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return 0, fmt.Errorf("next session id: %w", classify(err))
	}
	return counter.Seq, nil
}

// Create inserts a new session.
func (s *Store) Create(ctx context.Context, req model.CreateSessionRequest) (*model.Session, error) {
	id, err := s.nextSessionID(ctx)
	if err != nil {
		return nil, err
	}
	doc := sessionDoc{
		ID:                id,
		Name:              req.Name,
		Instructor:        req.Instructor,
		StartTime:         req.StartTime.UTC().Truncate(time.Millisecond),
		RemainingCapacity: req.Capacity,
		CreatedAt:         time.Now().UTC().Truncate(time.Millisecond),
	}
	// $push needs an array to append to, so bookings starts out empty rather than missing.
	insert := bson.M{
		"_id":                doc.ID,
		"name":               doc.Name,
		"instructor":         doc.Instructor,
		"start_time":         doc.StartTime,
		"remaining_capacity": doc.RemainingCapacity,
		"created_at":         doc.CreatedAt,
		"bookings":           bson.A{},
	}
	if _, err := s.sessions.InsertOne(ctx, insert); err != nil {
		return nil, fmt.Errorf("insert session: %w", classify(err))
	}
	session := doc.toModel()
	return &session, nil
}

var withoutBookings = bson.M{"bookings": 0}

// GetByID returns a single session or ErrSessionNotFound.
func (s *Store) GetByID(ctx context.Context, id int64) (*model.Session, error) {
	var doc sessionDoc
	err := s.sessions.FindOne(ctx, bson.M{"_id": id},
		options.FindOne().SetProjection(withoutBookings),
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repository.ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", classify(err))
	}
	session := doc.toModel()
	return &session, nil
}

// ListUpcoming returns sessions starting at or after now, soonest first.
func (s *Store) ListUpcoming(ctx context.Context, now time.Time) ([]model.Session, error) {
	return s.find(ctx, bson.M{"start_time": bson.M{"$gte": now.UTC()}}, 0)
}

// ListAvailable returns up to limit upcoming sessions with capacity left,
// skipping excludeID.
func (s *Store) ListAvailable(ctx context.Context, now time.Time, excludeID int64, limit int) ([]model.Session, error) {
	return s.find(ctx, bson.M{
		"start_time":         bson.M{"$gte": now.UTC()},
		"remaining_capacity": bson.M{"$gt": 0},
		"_id":                bson.M{"$ne": excludeID},
	}, limit)
}

func (s *Store) find(ctx context.Context, filter bson.M, limit int) ([]model.Session, error) {
	opts := options.Find().
		SetProjection(withoutBookings).
		SetSort(bson.D{{Key: "start_time", Value: 1}, {Key: "_id", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := s.sessions.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find sessions: %w", classify(err))
	}
	defer cursor.Close(ctx)

	var docs []sessionDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode sessions: %w", classify(err))
	}
	sessions := make([]model.Session, 0, len(docs))
	for _, d := range docs {
		sessions = append(sessions, d.toModel())
	}
	return sessions, nil
}

// Book reserves one slot in a session.
//
// The filter only matches while remaining_capacity > 0 and the update
// decrements it and appends the booking in the same document write. MongoDB
// applies writes to one document one at a time, so concurrent attempts on a
// session are ordered and cannot oversell it; other sessions are untouched.
//
// The write takes no lock, so no deadline is added here: a deadline firing
// after the server applied the update would report a retryable failure for a
// booking that exists. ErrTransient from the update means the caller's
// context ended before the write was sent, or the driver's single retryable
// write attempt failed on the network, in which case the outcome is unknown.
func (s *Store) Book(ctx context.Context, sessionID int64, clientName, clientEmail string) (*model.Booking, error) {

	booking := bookingDoc{
		ID:          uuid.New().String(),
		ClientName:  clientName,
		ClientEmail: clientEmail,
		CreatedAt:   time.Now().UTC().Truncate(time.Millisecond),
	}
	res, err := s.sessions.UpdateOne(ctx,
		bson.M{"_id": sessionID, "remaining_capacity": bson.M{"$gt": 0}},
		bson.M{
			"$inc":  bson.M{"remaining_capacity": -1},
			"$push": bson.M{"bookings": booking},
		},
	)
	if err != nil {
		return nil, fmt.Errorf("book session: %w", classify(err))
	}

	if res.MatchedCount == 0 {
		// Capacity never goes back up, so an existing session that did not
		// match the filter is full.
		n, err := s.sessions.CountDocuments(ctx, bson.M{"_id": sessionID})
		if err != nil {
			return nil, fmt.Errorf("check session: %w", classify(err))
		}
		if n == 0 {
			return nil, repository.ErrSessionNotFound
		}
		return nil, repository.ErrSessionFull
	}

	return &model.Booking{
		ID:          booking.ID,
		SessionID:   sessionID,
		ClientName:  booking.ClientName,
		ClientEmail: booking.ClientEmail,
		CreatedAt:   booking.CreatedAt,
	}, nil
}

// ListByEmail returns a client's bookings, newest first, with session names.
func (s *Store) ListByEmail(ctx context.Context, email string) ([]model.BookingDetail, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"bookings.client_email": email}}},
		{{Key: "$unwind", Value: "$bookings"}},
		{{Key: "$match", Value: bson.M{"bookings.client_email": email}}},
		{{Key: "$sort", Value: bson.D{{Key: "bookings.created_at", Value: -1}, {Key: "bookings.id", Value: 1}}}},
		{{Key: "$project", Value: bson.M{
			"_id":          0,
			"session_id":   "$_id",
			"session_name": "$name",
			"booking":      "$bookings",
		}}},
	}

	cursor, err := s.sessions.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", classify(err))
	}
	defer cursor.Close(ctx)

	var rows []struct {
		SessionID   int64      `bson:"session_id"`
		SessionName string     `bson:"session_name"`
		Booking     bookingDoc `bson:"booking"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("decode bookings: %w", classify(err))
	}

	out := make([]model.BookingDetail, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.BookingDetail{
			Booking: model.Booking{
				ID:          r.Booking.ID,
				SessionID:   r.SessionID,
				ClientName:  r.Booking.ClientName,
				ClientEmail: r.Booking.ClientEmail,
				CreatedAt:   r.Booking.CreatedAt.UTC(),
			},
			SessionName: r.SessionName,
		})
	}
	return out, nil
}

// CountBySession returns how many bookings a session holds.
// Not used by the service; tests use it to check that capacity and
// bookings stay consistent.
func (s *Store) CountBySession(ctx context.Context, sessionID int64) (int, error) {
	var doc sessionDoc
	err := s.sessions.FindOne(ctx, bson.M{"_id": sessionID},
		options.FindOne().SetProjection(bson.M{"bookings": 1}),
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, nil
		}
		return 0, fmt.Errorf("count bookings: %w", classify(err))
	}
	return len(doc.Bookings), nil
}

// classify wraps retryable driver failures with ErrTransient.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var serverErr mongo.ServerError
	if errors.As(err, &serverErr) && serverErr.HasErrorLabel("TransientTransactionError") {
		return fmt.Errorf("%w: %w", repository.ErrTransient, err)
	}
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", repository.ErrTransient, err)
	}
	return err
}
