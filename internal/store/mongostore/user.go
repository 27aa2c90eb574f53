// Package mongostore keeps login credentials in MongoDB. It satisfies the
// same contract as the SQLite UserStore, so the auth flows can run against
// either backend.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/dukerupert/flock/internal/model"
	"github.com/dukerupert/flock/internal/store"
)

const (
	usersCollection    = "users"
	countersCollection = "counters"
	userSequence       = "users"
)

type userDoc struct {
	ID                   int64      `bson:"_id"`
	ChurchID             int64      `bson:"church_id"`
	BranchID             *int64     `bson:"branch_id,omitempty"`
	Email                string     `bson:"email"`
	Name                 string     `bson:"name"`
	PasswordHash         string     `bson:"password_hash"`
	Role                 string     `bson:"role"`
	ResetPasswordToken   *string    `bson:"reset_password_token,omitempty"`
	ResetPasswordExpires *time.Time `bson:"reset_password_expires,omitempty"`
	CreatedAt            time.Time  `bson:"created_at"`
	UpdatedAt            time.Time  `bson:"updated_at"`
}

func (d *userDoc) toModel() *model.User {
	u := &model.User{
		ID:           d.ID,
		ChurchID:     d.ChurchID,
		BranchID:     d.BranchID,
		Email:        d.Email,
		Name:         d.Name,
		PasswordHash: d.PasswordHash,
		Role:         d.Role,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
	if d.ResetPasswordToken != nil && d.ResetPasswordExpires != nil {
		u.ResetPasswordToken = d.ResetPasswordToken
		u.ResetPasswordExpires = d.ResetPasswordExpires
	}
	return u
}

// UserStore stores users as documents with sequential int64 ids, allocated
// from a counters collection so they line up with SQLite foreign keys.
type UserStore struct {
	users    *mongo.Collection
	counters *mongo.Collection
	now      func() time.Time
}

func NewUserStore(db *mongo.Database) *UserStore {
	return &UserStore{
		users:    db.Collection(usersCollection),
		counters: db.Collection(countersCollection),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// EnsureIndexes creates the unique email index and the sparse reset token index.
func (s *UserStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.users.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("email_unique"),
		},
		{
			Keys: bson.D{{Key: "reset_password_token", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("reset_token_unique").
				SetPartialFilterExpression(bson.D{{Key: "reset_password_token", Value: bson.D{{Key: "$type", Value: "string"}}}}),
		},
		{
			Keys:    bson.D{{Key: "church_id", Value: 1}, {Key: "email", Value: 1}},
			Options: options.Index().SetName("church_email"),
		},
	})
	if err != nil {
		return fmt.Errorf("create user indexes: %w", err)
	}
	return nil
}

func (s *UserStore) nextID(ctx context.Context) (int64, error) {
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := s.counters.FindOneAndUpdate(ctx,
		bson.D{{Key: "_id", Value: userSequence}},
		bson.D{{Key: "$inc", Value: bson.D{{Key: "seq", Value: int64(1)}}}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return 0, fmt.Errorf("next user id: %w", err)
	}
	return counter.Seq, nil
}

func (s *UserStore) findOne(ctx context.Context, filter bson.D) (*model.User, error) {
	var doc userDoc
	err := s.users.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return doc.toModel(), nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *UserStore) Create(ctx context.Context, u *model.User) (*model.User, error) {
	id, err := s.nextID(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()
	doc := userDoc{
		ID:           id,
		ChurchID:     u.ChurchID,
		BranchID:     u.BranchID,
		Email:        normalizeEmail(u.Email),
		Name:         u.Name,
		PasswordHash: u.PasswordHash,
		Role:         u.Role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if _, err := s.users.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, store.ErrDuplicate
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return doc.toModel(), nil
}

func (s *UserStore) GetByID(ctx context.Context, id int64) (*model.User, error) {
	u, err := s.findOne(ctx, bson.D{{Key: "_id", Value: id}})
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *UserStore) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	u, err := s.findOne(ctx, bson.D{{Key: "email", Value: normalizeEmail(email)}})
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

func (s *UserStore) GetByResetToken(ctx context.Context, digest string) (*model.User, error) {
	u, err := s.findOne(ctx, bson.D{{Key: "reset_password_token", Value: digest}})
	if err != nil {
		return nil, fmt.Errorf("get user by reset token: %w", err)
	}
	return u, nil
}

func (s *UserStore) ListByChurch(ctx context.Context, churchID int64) ([]model.User, error) {
	cur, err := s.users.Find(ctx,
		bson.D{{Key: "church_id", Value: churchID}},
		options.Find().SetSort(bson.D{{Key: "email", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	var docs []userDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode users: %w", err)
	}

	users := make([]model.User, 0, len(docs))
	for i := range docs {
		users = append(users, *docs[i].toModel())
	}
	return users, nil
}

func (s *UserStore) SetResetToken(ctx context.Context, id int64, digest string, expires time.Time) error {
	_, err := s.users.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: id}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "reset_password_token", Value: digest},
			{Key: "reset_password_expires", Value: expires.UTC()},
			{Key: "updated_at", Value: s.now()},
		}}},
	)
	if err != nil {
		return fmt.Errorf("set reset token: %w", err)
	}
	return nil
}

// ConsumeResetToken matches on the digest so only one caller can win.
func (s *UserStore) ConsumeResetToken(ctx context.Context, digest, passwordHash string) (bool, error) {
	res, err := s.users.UpdateOne(ctx,
		bson.D{{Key: "reset_password_token", Value: digest}},
		bson.D{
			{Key: "$set", Value: bson.D{
				{Key: "password_hash", Value: passwordHash},
				{Key: "updated_at", Value: s.now()},
			}},
			{Key: "$unset", Value: bson.D{
				{Key: "reset_password_token", Value: ""},
				{Key: "reset_password_expires", Value: ""},
			}},
		},
	)
	if err != nil {
		return false, fmt.Errorf("consume reset token: %w", err)
	}
	return res.MatchedCount == 1, nil
}

func (s *UserStore) ClearExpiredResetTokens(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.users.UpdateMany(ctx,
		bson.D{{Key: "reset_password_expires", Value: bson.D{{Key: "$lt", Value: cutoff.UTC()}}}},
		bson.D{{Key: "$unset", Value: bson.D{
			{Key: "reset_password_token", Value: ""},
			{Key: "reset_password_expires", Value: ""},
		}}},
	)
	if err != nil {
		return 0, fmt.Errorf("clear expired reset tokens: %w", err)
	}
	return res.ModifiedCount, nil
}

func (s *UserStore) Delete(ctx context.Context, id int64) error {
	if _, err := s.users.DeleteOne(ctx, bson.D{{Key: "_id", Value: id}}); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}
