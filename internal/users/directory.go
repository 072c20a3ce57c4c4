package users

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// Profile is the contact view of a user the engine needs for notifications.
type Profile struct {
	ID    string `json:"id" bson:"_id"`
	Name  string `json:"name" bson:"name"`
	Email string `json:"email" bson:"email"`
	Phone string `json:"phone,omitempty" bson:"phone,omitempty"`
}

// Directory resolves user ids to contact profiles.
type Directory interface {
	Lookup(ctx context.Context, userID string) (*Profile, error)
}

type mongoDirectory struct {
	users *mongo.Collection
}

// NewDirectory returns a Directory backed by the users collection.
func NewDirectory(db *mongo.Database) Directory {
	return &mongoDirectory{users: db.Collection("users")}
}

func (d *mongoDirectory) Lookup(ctx context.Context, userID string) (*Profile, error) {
	oid, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return nil, fmt.Errorf("invalid user id %q: %w", userID, err)
	}

	var doc struct {
		ID    primitive.ObjectID `bson:"_id"`
		Name  string             `bson:"name"`
		Email string             `bson:"email"`
		Phone string             `bson:"phone"`
	}
	if err := d.users.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to look up user %s: %w", userID, err)
	}

	return &Profile{
		ID:    doc.ID.Hex(),
		Name:  doc.Name,
		Email: doc.Email,
		Phone: doc.Phone,
	}, nil
}
