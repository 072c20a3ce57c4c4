package donors

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"bloodhero/donation-portal/donation-portal-backend/internal/matching"
	"bloodhero/donation-portal/donation-portal-backend/internal/requests"
)

// engineDirectory adapts the donor repository to the lifecycle engine's
// DonorDirectory interface.
type engineDirectory struct {
	repo Repository
}

// NewEngineDirectory exposes the donor store to the lifecycle engine.
func NewEngineDirectory(repo Repository) requests.DonorDirectory {
	return &engineDirectory{repo: repo}
}

func toProfile(d *Donor) *requests.DonorProfile {
	if d == nil {
		return nil
	}
	return &requests.DonorProfile{
		ID:        d.ID.Hex(),
		UserID:    d.UserID,
		BloodType: d.BloodType,
		City:      d.Address.City,
		State:     d.Address.State,
		Phone:     d.Phone,
		Location:  d.Location,
	}
}

func (e *engineDirectory) GetByID(ctx context.Context, donorID string) (*requests.DonorProfile, error) {
	donor, err := e.repo.GetByID(ctx, donorID)
	if err != nil {
		return nil, err
	}
	return toProfile(donor), nil
}

func (e *engineDirectory) GetByUserID(ctx context.Context, userID string) (*requests.DonorProfile, error) {
	donor, err := e.repo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return toProfile(donor), nil
}

func (e *engineDirectory) FindMatching(ctx context.Context, state, city string, bloodTypes []matching.BloodType) ([]requests.DonorProfile, error) {
	donors, err := e.repo.FindMatching(ctx, state, city, bloodTypes)
	if err != nil {
		return nil, err
	}

	profiles := make([]requests.DonorProfile, 0, len(donors))
	for i := range donors {
		profiles = append(profiles, *toProfile(&donors[i]))
	}
	return profiles, nil
}

func (e *engineDirectory) MirrorAccept(ctx context.Context, donorID string, requestID primitive.ObjectID, acceptedAt time.Time) error {
	return e.repo.AppendAcceptedRequest(ctx, donorID, AcceptedRequest{
		RequestID:  requestID,
		AcceptedAt: acceptedAt,
		Status:     requests.DonorAccepted,
	})
}

func (e *engineDirectory) MirrorRemove(ctx context.Context, donorID string, requestID primitive.ObjectID) error {
	return e.repo.RemoveAcceptedRequest(ctx, donorID, requestID)
}

func (e *engineDirectory) MirrorStatus(ctx context.Context, donorID string, requestID primitive.ObjectID, status requests.DonorStatus, feedback string) error {
	return e.repo.UpdateAcceptedRequestStatus(ctx, donorID, requestID, status, feedback)
}

func (e *engineDirectory) MirrorProof(ctx context.Context, donorID string, requestID primitive.ObjectID, photoURL, notes string, donationDate time.Time) error {
	return e.repo.SetAcceptedRequestProof(ctx, donorID, requestID, photoURL, notes, donationDate)
}

func (e *engineDirectory) MirrorClearProof(ctx context.Context, donorID string, requestID primitive.ObjectID, feedback string) error {
	return e.repo.ClearAcceptedRequestProof(ctx, donorID, requestID, feedback)
}
