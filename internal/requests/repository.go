package requests

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Repository persists BloodRequest aggregates. The donor-cap and uniqueness
// guards are enforced inside single conditional updates so concurrent accepts
// against the same request cannot overshoot the cap.
type Repository interface {
	Create(ctx context.Context, req *BloodRequest) error
	GetByID(ctx context.Context, id primitive.ObjectID) (*BloodRequest, error)
	GetByIDs(ctx context.Context, ids []primitive.ObjectID) ([]BloodRequest, error)
	ListByRequester(ctx context.Context, requesterID string) ([]BloodRequest, error)
	ListResolvedByRequester(ctx context.Context, requesterID string) ([]BloodRequest, error)
	ListOpenExcluding(ctx context.Context, requesterID string, filter NearbyFilter) ([]BloodRequest, error)
	CountCreatedBetween(ctx context.Context, requesterID string, from, to time.Time) (int64, error)
	UpdateFields(ctx context.Context, id primitive.ObjectID, in UpdateRequestInput) (*BloodRequest, error)
	Delete(ctx context.Context, id primitive.ObjectID) error

	AddDonorResponse(ctx context.Context, id primitive.ObjectID, resp DonorResponse) (*BloodRequest, error)
	RemoveDonorResponse(ctx context.Context, id primitive.ObjectID, donorID string) error
	SetDonationProof(ctx context.Context, id primitive.ObjectID, donorID, photoURL, notes string, donationDate time.Time) (*BloodRequest, error)
	ConfirmDonation(ctx context.Context, id primitive.ObjectID, donorID, feedback string) (*BloodRequest, error)
	RejectOtherDonors(ctx context.Context, id primitive.ObjectID, winnerID, feedback string) ([]string, error)
	RejectDonation(ctx context.Context, id primitive.ObjectID, donorID, feedback string) (*BloodRequest, error)
	RequestReupload(ctx context.Context, id primitive.ObjectID, donorID, feedback string) (*BloodRequest, error)
	SetStatus(ctx context.Context, id primitive.ObjectID, from, to RequestStatus) error
}

type mongoRepository struct {
	requests *mongo.Collection
}

// NewRepository returns a Repository backed by the bloodrequests collection.
func NewRepository(db *mongo.Database) Repository {
	return &mongoRepository{requests: db.Collection("bloodrequests")}
}

func (r *mongoRepository) Create(ctx context.Context, req *BloodRequest) error {
	now := time.Now()
	req.CreatedAt = now
	req.UpdatedAt = now
	if req.Donors == nil {
		req.Donors = map[string]DonorResponse{}
	}

	res, err := r.requests.InsertOne(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to create blood request: %w", err)
	}
	if oid, ok := res.InsertedID.(primitive.ObjectID); ok {
		req.ID = oid
	}
	return nil
}

func (r *mongoRepository) GetByID(ctx context.Context, id primitive.ObjectID) (*BloodRequest, error) {
	var req BloodRequest
	if err := r.requests.FindOne(ctx, bson.M{"_id": id}).Decode(&req); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get blood request %s: %w", id.Hex(), err)
	}
	return &req, nil
}

func (r *mongoRepository) GetByIDs(ctx context.Context, ids []primitive.ObjectID) ([]BloodRequest, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	cursor, err := r.requests.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, fmt.Errorf("failed to get blood requests: %w", err)
	}
	defer cursor.Close(ctx)

	var out []BloodRequest
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode blood requests: %w", err)
	}
	return out, nil
}

func (r *mongoRepository) ListByRequester(ctx context.Context, requesterID string) ([]BloodRequest, error) {
	return r.list(ctx, bson.M{"requestedBy": requesterID})
}

func (r *mongoRepository) ListResolvedByRequester(ctx context.Context, requesterID string) ([]BloodRequest, error) {
	return r.list(ctx, bson.M{
		"requestedBy": requesterID,
		"status":      bson.M{"$in": bson.A{StatusFulfilled, StatusPartiallyFulfilled, StatusCancelled}},
	})
}

func (r *mongoRepository) ListOpenExcluding(ctx context.Context, requesterID string, f NearbyFilter) ([]BloodRequest, error) {
	filter := bson.M{
		"requestedBy": bson.M{"$ne": requesterID},
		"status":      bson.M{"$in": bson.A{StatusPending, StatusPartiallyFulfilled}},
	}
	if f.BloodType != "" {
		filter["bloodType"] = f.BloodType
	}
	if f.Urgency != "" {
		filter["urgency"] = f.Urgency
	}
	if f.Date != nil {
		start := time.Date(f.Date.Year(), f.Date.Month(), f.Date.Day(), 0, 0, 0, 0, f.Date.Location())
		filter["createdAt"] = bson.M{"$gte": start, "$lt": start.AddDate(0, 0, 1)}
	}
	return r.list(ctx, filter)
}

func (r *mongoRepository) list(ctx context.Context, filter bson.M) ([]BloodRequest, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	cursor, err := r.requests.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list blood requests: %w", err)
	}
	defer cursor.Close(ctx)

	var out []BloodRequest
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode blood requests: %w", err)
	}
	return out, nil
}

func (r *mongoRepository) CountCreatedBetween(ctx context.Context, requesterID string, from, to time.Time) (int64, error) {
	count, err := r.requests.CountDocuments(ctx, bson.M{
		"requestedBy": requesterID,
		"createdAt":   bson.M{"$gte": from, "$lt": to},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count blood requests: %w", err)
	}
	return count, nil
}

func (r *mongoRepository) UpdateFields(ctx context.Context, id primitive.ObjectID, in UpdateRequestInput) (*BloodRequest, error) {
	set := bson.M{"updatedAt": time.Now()}
	if in.PatientName != nil {
		set["patientName"] = *in.PatientName
	}
	if in.BloodType != nil {
		set["bloodType"] = *in.BloodType
	}
	if in.UnitsNeeded != nil {
		set["unitsNeeded"] = *in.UnitsNeeded
	}
	if in.Hospital != nil {
		set["hospital"] = *in.Hospital
	}
	if in.Urgency != nil {
		set["urgency"] = *in.Urgency
	}
	if in.Reason != nil {
		set["reason"] = *in.Reason
	}
	if in.RequiredBy != nil {
		set["requiredBy"] = *in.RequiredBy
	}
	if in.ContactInfo != nil {
		set["contactInfo"] = *in.ContactInfo
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var updated BloodRequest
	err := r.requests.FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": set}, opts).Decode(&updated)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to update blood request %s: %w", id.Hex(), err)
	}
	return &updated, nil
}

func (r *mongoRepository) Delete(ctx context.Context, id primitive.ObjectID) error {
	res, err := r.requests.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete blood request %s: %w", id.Hex(), err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// activeCountBelowCap matches documents whose active donor count is under
// the cap. Donors is a keyed object, so the count is taken over its values.
func activeCountBelowCap() bson.M {
	return bson.M{"$lt": bson.A{
		bson.M{"$size": bson.M{"$filter": bson.M{
			"input": bson.M{"$objectToArray": bson.M{"$ifNull": bson.A{"$donors", bson.M{}}}},
			"as":    "d",
			"cond": bson.M{"$in": bson.A{
				"$$d.v.status",
				bson.A{DonorAccepted, DonorDonated, DonorPendingConfirmation},
			}},
		}}},
		MaxActiveDonors,
	}}
}

// AddDonorResponse appends a donor response in a single conditional update.
// The filter asserts every guard at once: the request must still be open,
// the donor key must be absent, and the active-donor count must be under the
// cap. An accept racing a confirmation or two concurrent accepts can
// therefore never slip past the guards.
func (r *mongoRepository) AddDonorResponse(ctx context.Context, id primitive.ObjectID, resp DonorResponse) (*BloodRequest, error) {
	field := "donors." + resp.DonorID
	filter := bson.M{
		"_id":    id,
		"status": bson.M{"$nin": bson.A{StatusFulfilled, StatusCancelled}},
		field:    bson.M{"$exists": false},
		"$expr":  activeCountBelowCap(),
	}
	update := bson.M{"$set": bson.M{
		field:       resp,
		"updatedAt": time.Now(),
	}}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var updated BloodRequest
	err := r.requests.FindOneAndUpdate(ctx, filter, update, opts).Decode(&updated)
	if err == nil {
		return &updated, nil
	}
	if err != mongo.ErrNoDocuments {
		return nil, fmt.Errorf("failed to add donor response to %s: %w", id.Hex(), err)
	}

	// The guarded update matched nothing; inspect the document to report why.
	current, getErr := r.GetByID(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	if current == nil {
		return nil, ErrNotFound
	}
	switch current.Status {
	case StatusFulfilled:
		return nil, ErrRequestFulfilled
	case StatusCancelled:
		return nil, ErrInvalidTransition
	}
	if _, exists := current.Donors[resp.DonorID]; exists {
		return nil, ErrDuplicateResponse
	}
	return nil, ErrCapacityExceeded
}

// RemoveDonorResponse is the compensation for a failed mirror write after a
// successful accept.
func (r *mongoRepository) RemoveDonorResponse(ctx context.Context, id primitive.ObjectID, donorID string) error {
	_, err := r.requests.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{
			"$unset": bson.M{"donors." + donorID: ""},
			"$set":   bson.M{"updatedAt": time.Now()},
		},
	)
	if err != nil {
		return fmt.Errorf("failed to remove donor response from %s: %w", id.Hex(), err)
	}
	return nil
}

// SetDonationProof moves the donor's entry to pending_confirmation, guarded
// on the entry existing and not being terminally resolved.
func (r *mongoRepository) SetDonationProof(ctx context.Context, id primitive.ObjectID, donorID, photoURL, notes string, donationDate time.Time) (*BloodRequest, error) {
	field := "donors." + donorID
	filter := bson.M{
		"_id":             id,
		field + ".status": bson.M{"$nin": bson.A{DonorDonated, DonorRejected}},
	}
	update := bson.M{"$set": bson.M{
		field + ".status":             DonorPendingConfirmation,
		field + ".donationProofPhoto": photoURL,
		field + ".notes":              notes,
		field + ".donationDate":       donationDate,
		field + ".needsReupload":      false,
		"updatedAt":                   time.Now(),
	}}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var updated BloodRequest
	err := r.requests.FindOneAndUpdate(ctx, filter, update, opts).Decode(&updated)
	if err == nil {
		return &updated, nil
	}
	if err != mongo.ErrNoDocuments {
		return nil, fmt.Errorf("failed to set donation proof on %s: %w", id.Hex(), err)
	}

	current, getErr := r.GetByID(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	if current == nil {
		return nil, ErrNotFound
	}
	if _, exists := current.Donors[donorID]; !exists {
		return nil, ErrDonorNotFound
	}
	return nil, ErrInvalidTransition
}

// ConfirmDonation resolves the first-verified-wins race in one conditional
// update: the request must not already be fulfilled and the donor entry must
// be pending_confirmation. The same write marks the request fulfilled, so a
// second concurrent confirmation cannot match.
func (r *mongoRepository) ConfirmDonation(ctx context.Context, id primitive.ObjectID, donorID, feedback string) (*BloodRequest, error) {
	field := "donors." + donorID
	filter := bson.M{
		"_id":             id,
		"status":          bson.M{"$ne": StatusFulfilled},
		field + ".status": DonorPendingConfirmation,
	}
	set := bson.M{
		field + ".status": DonorDonated,
		"status":          StatusFulfilled,
		"updatedAt":       time.Now(),
	}
	if feedback != "" {
		set[field+".requesterFeedback"] = feedback
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var updated BloodRequest
	err := r.requests.FindOneAndUpdate(ctx, filter, bson.M{"$set": set}, opts).Decode(&updated)
	if err == nil {
		return &updated, nil
	}
	if err != mongo.ErrNoDocuments {
		return nil, fmt.Errorf("failed to confirm donation on %s: %w", id.Hex(), err)
	}

	current, getErr := r.GetByID(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	if current == nil {
		return nil, ErrNotFound
	}
	if current.Status == StatusFulfilled {
		return nil, ErrRequestFulfilled
	}
	if _, exists := current.Donors[donorID]; !exists {
		return nil, ErrDonorNotFound
	}
	return nil, ErrInvalidTransition
}

// RejectOtherDonors settles every competing donor after a confirmed
// donation. Entries already donated or rejected are untouched, which makes a
// re-run a no-op. Returns the donor ids that were rejected.
func (r *mongoRepository) RejectOtherDonors(ctx context.Context, id primitive.ObjectID, winnerID, feedback string) ([]string, error) {
	current, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, ErrNotFound
	}

	var rejected []string
	for donorID, resp := range current.Donors {
		if donorID == winnerID || resp.Status == DonorDonated || resp.Status == DonorRejected {
			continue
		}

		field := "donors." + donorID
		res, err := r.requests.UpdateOne(ctx,
			bson.M{
				"_id":             id,
				field + ".status": bson.M{"$nin": bson.A{DonorDonated, DonorRejected}},
			},
			bson.M{"$set": bson.M{
				field + ".status":            DonorRejected,
				field + ".requesterFeedback": feedback,
				"updatedAt":                  time.Now(),
			}},
		)
		if err != nil {
			return rejected, fmt.Errorf("failed to reject donor %s on %s: %w", donorID, id.Hex(), err)
		}
		if res.ModifiedCount > 0 {
			rejected = append(rejected, donorID)
		}
	}
	return rejected, nil
}

// RejectDonation records the requester's rejection of a submitted proof.
func (r *mongoRepository) RejectDonation(ctx context.Context, id primitive.ObjectID, donorID, feedback string) (*BloodRequest, error) {
	return r.resolvePendingConfirmation(ctx, id, donorID, bson.M{
		"donors." + donorID + ".status":            DonorRejected,
		"donors." + donorID + ".requesterFeedback": feedback,
		"updatedAt": time.Now(),
	})
}

// RequestReupload clears the submitted proof and sends the donor back to
// accepted with the reupload flag raised.
func (r *mongoRepository) RequestReupload(ctx context.Context, id primitive.ObjectID, donorID, feedback string) (*BloodRequest, error) {
	field := "donors." + donorID
	return r.resolvePendingConfirmation(ctx, id, donorID, bson.M{
		field + ".status":             DonorAccepted,
		field + ".donationProofPhoto": "",
		field + ".needsReupload":      true,
		field + ".requesterFeedback":  feedback,
		"updatedAt":                   time.Now(),
	})
}

func (r *mongoRepository) resolvePendingConfirmation(ctx context.Context, id primitive.ObjectID, donorID string, set bson.M) (*BloodRequest, error) {
	filter := bson.M{
		"_id": id,
		"donors." + donorID + ".status": DonorPendingConfirmation,
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var updated BloodRequest
	err := r.requests.FindOneAndUpdate(ctx, filter, bson.M{"$set": set}, opts).Decode(&updated)
	if err == nil {
		return &updated, nil
	}
	if err != mongo.ErrNoDocuments {
		return nil, fmt.Errorf("failed to resolve donation on %s: %w", id.Hex(), err)
	}

	current, getErr := r.GetByID(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	if current == nil {
		return nil, ErrNotFound
	}
	if _, exists := current.Donors[donorID]; !exists {
		return nil, ErrDonorNotFound
	}
	return nil, ErrInvalidTransition
}

// SetStatus moves the aggregate status, guarded on the current value so the
// count-derived recompute never overrides a fulfilled or cancelled request.
func (r *mongoRepository) SetStatus(ctx context.Context, id primitive.ObjectID, from, to RequestStatus) error {
	_, err := r.requests.UpdateOne(ctx,
		bson.M{"_id": id, "status": from},
		bson.M{"$set": bson.M{"status": to, "updatedAt": time.Now()}},
	)
	if err != nil {
		return fmt.Errorf("failed to set status on %s: %w", id.Hex(), err)
	}
	return nil
}
