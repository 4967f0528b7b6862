package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pairchat/internal/domain"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

type userDoc struct {
	ID           bson.ObjectID `bson:"_id,omitempty"`
	UserID       string        `bson:"userId"`
	Username     string        `bson:"username"`
	Email        string        `bson:"email"`
	PasswordHash string        `bson:"password"`
	Avatar       string        `bson:"avatar"`
	Status       string        `bson:"status"`
	LastSeen     time.Time     `bson:"lastSeen"`
}

func (d *userDoc) toDomain() *domain.User {
	return &domain.User{
		UserID:       d.UserID,
		Username:     d.Username,
		Email:        d.Email,
		PasswordHash: d.PasswordHash,
		Avatar:       d.Avatar,
		Status:       domain.Status(d.Status),
		LastSeen:     d.LastSeen,
	}
}

type contactDoc struct {
	ID          string    `bson:"_id"`
	OwnerID     string    `bson:"ownerId"`
	ContactID   string    `bson:"contactId"`
	DisplayName string    `bson:"contactName,omitempty"`
	CreatedAt   time.Time `bson:"createdAt"`
}

func (d *contactDoc) toDomain() *domain.Contact {
	id, _ := uuid.Parse(d.ID)
	return &domain.Contact{
		ID:          id,
		OwnerID:     d.OwnerID,
		ContactID:   d.ContactID,
		DisplayName: d.DisplayName,
		CreatedAt:   d.CreatedAt,
	}
}

type messageDoc struct {
	ID         string    `bson:"_id"`
	SenderID   string    `bson:"senderId"`
	ReceiverID string    `bson:"receiverId"`
	Text       string    `bson:"text"`
	CreatedAt  time.Time `bson:"createdAt"`
	Seq        int64     `bson:"seq"`
}

// MongoStore is the document-store backend.
type MongoStore struct {
	client   *mongo.Client
	users    *mongo.Collection
	contacts *mongo.Collection
	messages *mongo.Collection
	now      func() time.Time
}

func OpenMongo(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to reach mongodb: %w", err)
	}

	db := client.Database(database)
	s := &MongoStore{
		client:   client,
		users:    db.Collection("users"),
		contacts: db.Collection("contacts"),
		messages: db.Collection("messages"),
		now:      time.Now,
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	unique := options.Index().SetUnique(true)
	indexes := []struct {
		coll  *mongo.Collection
		model mongo.IndexModel
	}{
		{s.users, mongo.IndexModel{Keys: bson.D{{Key: "userId", Value: 1}}, Options: unique}},
		{s.users, mongo.IndexModel{Keys: bson.D{{Key: "email", Value: 1}}, Options: unique}},
		{s.contacts, mongo.IndexModel{Keys: bson.D{{Key: "ownerId", Value: 1}, {Key: "contactId", Value: 1}}, Options: unique}},
		{s.messages, mongo.IndexModel{Keys: bson.D{{Key: "senderId", Value: 1}, {Key: "receiverId", Value: 1}, {Key: "createdAt", Value: 1}}}},
	}
	for _, idx := range indexes {
		if _, err := idx.coll.Indexes().CreateOne(ctx, idx.model); err != nil {
			return fmt.Errorf("failed to create index on %s: %w", idx.coll.Name(), err)
		}
	}
	return nil
}

func (s *MongoStore) findUser(ctx context.Context, filter bson.M) (*domain.User, error) {
	var doc userDoc
	if err := s.users.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return doc.toDomain(), nil
}

func (s *MongoStore) FindUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	return s.findUser(ctx, bson.M{"email": email})
}

func (s *MongoStore) FindUserByUserID(ctx context.Context, userID string) (*domain.User, error) {
	return s.findUser(ctx, bson.M{"userId": userID})
}

func (s *MongoStore) CreateUser(ctx context.Context, user *domain.User) (*domain.User, error) {
	u := *user
	if u.Status == "" {
		u.Status = domain.StatusOffline
	}
	if u.LastSeen.IsZero() {
		u.LastSeen = s.now()
	}
	u.LastSeen = u.LastSeen.UTC()

	_, err := s.users.InsertOne(ctx, userDoc{
		UserID:       u.UserID,
		Username:     u.Username,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		Avatar:       u.Avatar,
		Status:       string(u.Status),
		LastSeen:     u.LastSeen,
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			if _, ferr := s.FindUserByEmail(ctx, u.Email); ferr == nil {
				return nil, &domain.ConflictError{Field: "email"}
			}
			return nil, &domain.ConflictError{Field: "userId"}
		}
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	return &u, nil
}

func (s *MongoStore) UpdateUserStatus(ctx context.Context, userID string, status domain.Status) (*domain.User, error) {
	var doc userDoc
	err := s.users.FindOneAndUpdate(ctx,
		bson.M{"userId": userID},
		bson.M{"$set": bson.M{"status": string(status), "lastSeen": s.now().UTC()}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to update status: %w", err)
	}
	return doc.toDomain(), nil
}

func (s *MongoStore) GetContacts(ctx context.Context, userID string) ([]domain.ContactDetail, error) {
	cur, err := s.contacts.Find(ctx, bson.M{"ownerId": userID},
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch contacts: %w", err)
	}
	var docs []contactDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode contacts: %w", err)
	}

	details := make([]domain.ContactDetail, 0, len(docs))
	for i := range docs {
		target, err := s.FindUserByUserID(ctx, docs[i].ContactID)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		details = append(details, domain.NewContactDetail(docs[i].toDomain(), target))
	}
	return details, nil
}

func (s *MongoStore) AddContact(ctx context.Context, ownerID, contactID, name string) (*domain.Contact, error) {
	filter := bson.M{"ownerId": ownerID, "contactId": contactID}
	insert := bson.M{
		"_id":       uuid.NewString(),
		"ownerId":   ownerID,
		"contactId": contactID,
		"createdAt": s.now().UTC(),
	}
	if name != "" {
		insert["contactName"] = name
	}

	var doc contactDoc
	err := s.contacts.FindOneAndUpdate(ctx, filter,
		bson.M{"$setOnInsert": insert},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&doc)
	err = onDuplicateKey(err, func() error {
		return s.contacts.FindOne(ctx, filter).Decode(&doc)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upsert contact: %w", err)
	}
	return doc.toDomain(), nil
}

// onDuplicateKey runs reread when err is a unique index violation. Two
// concurrent upserts of the same key can both try the insert; the loser
// reads the winner's document instead.
func onDuplicateKey(err error, reread func() error) error {
	if mongo.IsDuplicateKeyError(err) {
		return reread()
	}
	return err
}

func (s *MongoStore) GetMessages(ctx context.Context, a, b string) ([]*domain.Message, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"senderId": a, "receiverId": b},
		bson.M{"senderId": b, "receiverId": a},
	}}
	cur, err := s.messages.Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "seq", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	var docs []messageDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}

	messages := make([]*domain.Message, 0, len(docs))
	for _, d := range docs {
		id, _ := uuid.Parse(d.ID)
		messages = append(messages, &domain.Message{
			ID:         id,
			SenderID:   d.SenderID,
			ReceiverID: d.ReceiverID,
			Text:       d.Text,
			CreatedAt:  d.CreatedAt,
		})
	}
	return messages, nil
}

func (s *MongoStore) SaveMessage(ctx context.Context, msg *domain.Message) (*domain.Message, error) {
	now := s.now().UTC()
	m := &domain.Message{
		ID:         uuid.New(),
		SenderID:   msg.SenderID,
		ReceiverID: msg.ReceiverID,
		Text:       msg.Text,
		// BSON dates carry millisecond precision.
		CreatedAt: now.Truncate(time.Millisecond),
	}
	_, err := s.messages.InsertOne(ctx, messageDoc{
		ID:         m.ID.String(),
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Text:       m.Text,
		CreatedAt:  m.CreatedAt,
		Seq:        now.UnixNano(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}
	return m, nil
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
