package donors

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"bloodhero/donation-portal/donation-portal-backend/internal/matching"
	"bloodhero/donation-portal/donation-portal-backend/internal/requests"
)

// Repository is the donor directory store. The lifecycle engine reads donor
// profiles for matching and keeps the acceptedRequests mirror in sync.
type Repository interface {
	GetByID(ctx context.Context, donorID string) (*Donor, error)
	GetByUserID(ctx context.Context, userID string) (*Donor, error)
	FindMatching(ctx context.Context, state, city string, bloodTypes []matching.BloodType) ([]Donor, error)

	AppendAcceptedRequest(ctx context.Context, donorID string, entry AcceptedRequest) error
	RemoveAcceptedRequest(ctx context.Context, donorID string, requestID primitive.ObjectID) error
	UpdateAcceptedRequestStatus(ctx context.Context, donorID string, requestID primitive.ObjectID, status requests.DonorStatus, feedback string) error
	SetAcceptedRequestProof(ctx context.Context, donorID string, requestID primitive.ObjectID, photoURL, notes string, donationDate time.Time) error
	ClearAcceptedRequestProof(ctx context.Context, donorID string, requestID primitive.ObjectID, feedback string) error
}

type mongoRepository struct {
	donors *mongo.Collection
}

// NewRepository returns a Repository backed by the donors collection.
func NewRepository(db *mongo.Database) Repository {
	return &mongoRepository{donors: db.Collection("donors")}
}

func (r *mongoRepository) GetByID(ctx context.Context, donorID string) (*Donor, error) {
	oid, err := primitive.ObjectIDFromHex(donorID)
	if err != nil {
		return nil, fmt.Errorf("invalid donor id %q: %w", donorID, err)
	}

	var donor Donor
	if err := r.donors.FindOne(ctx, bson.M{"_id": oid}).Decode(&donor); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get donor %s: %w", donorID, err)
	}
	return &donor, nil
}

func (r *mongoRepository) GetByUserID(ctx context.Context, userID string) (*Donor, error) {
	var donor Donor
	if err := r.donors.FindOne(ctx, bson.M{"user": userID}).Decode(&donor); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get donor for user %s: %w", userID, err)
	}
	return &donor, nil
}

// FindMatching returns available donors in the given area whose blood type
// can supply the request. Only used to pick notification recipients.
func (r *mongoRepository) FindMatching(ctx context.Context, state, city string, bloodTypes []matching.BloodType) ([]Donor, error) {
	filter := bson.M{
		"address.state": state,
		"address.city":  city,
		"bloodType":     bson.M{"$in": bloodTypes},
		"isAvailable":   true,
	}

	cursor, err := r.donors.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to find matching donors: %w", err)
	}
	defer cursor.Close(ctx)

	var matched []Donor
	if err := cursor.All(ctx, &matched); err != nil {
		return nil, fmt.Errorf("failed to decode matching donors: %w", err)
	}
	return matched, nil
}

func (r *mongoRepository) AppendAcceptedRequest(ctx context.Context, donorID string, entry AcceptedRequest) error {
	oid, err := primitive.ObjectIDFromHex(donorID)
	if err != nil {
		return fmt.Errorf("invalid donor id %q: %w", donorID, err)
	}

	res, err := r.donors.UpdateOne(ctx,
		bson.M{"_id": oid, "acceptedRequests.request": bson.M{"$ne": entry.RequestID}},
		bson.M{
			"$push": bson.M{"acceptedRequests": entry},
			"$set":  bson.M{"updatedAt": time.Now()},
		},
	)
	if err != nil {
		return fmt.Errorf("failed to append accepted request for donor %s: %w", donorID, err)
	}
	if res.MatchedCount == 0 {
		// Already mirrored or donor missing; either way the mirror is not
		// out of sync with the owning write.
		return nil
	}
	return nil
}

func (r *mongoRepository) RemoveAcceptedRequest(ctx context.Context, donorID string, requestID primitive.ObjectID) error {
	oid, err := primitive.ObjectIDFromHex(donorID)
	if err != nil {
		return fmt.Errorf("invalid donor id %q: %w", donorID, err)
	}

	_, err = r.donors.UpdateOne(ctx,
		bson.M{"_id": oid},
		bson.M{
			"$pull": bson.M{"acceptedRequests": bson.M{"request": requestID}},
			"$set":  bson.M{"updatedAt": time.Now()},
		},
	)
	if err != nil {
		return fmt.Errorf("failed to remove accepted request for donor %s: %w", donorID, err)
	}
	return nil
}

func (r *mongoRepository) UpdateAcceptedRequestStatus(ctx context.Context, donorID string, requestID primitive.ObjectID, status requests.DonorStatus, feedback string) error {
	oid, err := primitive.ObjectIDFromHex(donorID)
	if err != nil {
		return fmt.Errorf("invalid donor id %q: %w", donorID, err)
	}

	set := bson.M{
		"acceptedRequests.$.status": status,
		"updatedAt":                 time.Now(),
	}
	if feedback != "" {
		set["acceptedRequests.$.requesterFeedback"] = feedback
	}

	_, err = r.donors.UpdateOne(ctx,
		bson.M{"_id": oid, "acceptedRequests.request": requestID},
		bson.M{"$set": set},
	)
	if err != nil {
		return fmt.Errorf("failed to update mirror status for donor %s: %w", donorID, err)
	}
	return nil
}

func (r *mongoRepository) SetAcceptedRequestProof(ctx context.Context, donorID string, requestID primitive.ObjectID, photoURL, notes string, donationDate time.Time) error {
	oid, err := primitive.ObjectIDFromHex(donorID)
	if err != nil {
		return fmt.Errorf("invalid donor id %q: %w", donorID, err)
	}

	_, err = r.donors.UpdateOne(ctx,
		bson.M{"_id": oid, "acceptedRequests.request": requestID},
		bson.M{"$set": bson.M{
			"acceptedRequests.$.status":             requests.DonorPendingConfirmation,
			"acceptedRequests.$.donationProofPhoto": photoURL,
			"acceptedRequests.$.notes":              notes,
			"acceptedRequests.$.donationDate":       donationDate,
			"acceptedRequests.$.needsReupload":      false,
			"updatedAt":                             time.Now(),
		}},
	)
	if err != nil {
		return fmt.Errorf("failed to set mirror proof for donor %s: %w", donorID, err)
	}
	return nil
}

func (r *mongoRepository) ClearAcceptedRequestProof(ctx context.Context, donorID string, requestID primitive.ObjectID, feedback string) error {
	oid, err := primitive.ObjectIDFromHex(donorID)
	if err != nil {
		return fmt.Errorf("invalid donor id %q: %w", donorID, err)
	}

	_, err = r.donors.UpdateOne(ctx,
		bson.M{"_id": oid, "acceptedRequests.request": requestID},
		bson.M{"$set": bson.M{
			"acceptedRequests.$.status":             requests.DonorAccepted,
			"acceptedRequests.$.donationProofPhoto": "",
			"acceptedRequests.$.needsReupload":      true,
			"acceptedRequests.$.requesterFeedback":  feedback,
			"updatedAt":                             time.Now(),
		}},
	)
	if err != nil {
		return fmt.Errorf("failed to clear mirror proof for donor %s: %w", donorID, err)
	}
	return nil
}
