package donors

import (
	"context"
	"fmt"
	"sort"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"bloodhero/donation-portal/donation-portal-backend/internal/requests"
)

// RequestLoader loads request documents for the mirror join. Satisfied by the
// requests repository.
type RequestLoader interface {
	GetByIDs(ctx context.Context, ids []primitive.ObjectID) ([]requests.BloodRequest, error)
}

// Service exposes the donor-side read models.
type Service struct {
	repo   Repository
	loader RequestLoader
	logger *zap.Logger
}

// NewService creates a donor service.
func NewService(repo Repository, loader RequestLoader, logger *zap.Logger) *Service {
	return &Service{repo: repo, loader: loader, logger: logger}
}

// ErrDonorProfileNotFound means no donor profile exists for the user.
var ErrDonorProfileNotFound = fmt.Errorf("donor profile not found")

// GetProfile returns the donor profile for a user id.
func (s *Service) GetProfile(ctx context.Context, userID string) (*Donor, error) {
	donor, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if donor == nil {
		return nil, ErrDonorProfileNotFound
	}
	return donor, nil
}

// GetAcceptedRequests joins the donor's mirror entries with their request
// documents, newest acceptance first. Entries whose request has since been
// deleted are skipped.
func (s *Service) GetAcceptedRequests(ctx context.Context, userID string) ([]AcceptedRequestView, error) {
	donor, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if donor == nil {
		return nil, ErrDonorProfileNotFound
	}
	if len(donor.AcceptedRequests) == 0 {
		return []AcceptedRequestView{}, nil
	}

	ids := make([]primitive.ObjectID, 0, len(donor.AcceptedRequests))
	for _, entry := range donor.AcceptedRequests {
		ids = append(ids, entry.RequestID)
	}
	docs, err := s.loader.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[primitive.ObjectID]requests.BloodRequest, len(docs))
	for _, doc := range docs {
		byID[doc.ID] = doc
	}

	views := make([]AcceptedRequestView, 0, len(donor.AcceptedRequests))
	for _, entry := range donor.AcceptedRequests {
		req, ok := byID[entry.RequestID]
		if !ok {
			s.logger.Debug("skipping mirror entry for deleted request",
				zap.String("donor_id", donor.ID.Hex()),
				zap.String("request_id", entry.RequestID.Hex()))
			continue
		}

		views = append(views, AcceptedRequestView{
			RequestID:          req.ID.Hex(),
			BloodGroup:         req.BloodType,
			PatientName:        req.PatientName,
			HospitalName:       req.Hospital.Name,
			Location:           fmt.Sprintf("%s, %s", req.Hospital.City, req.Hospital.State),
			Address:            req.Hospital.Address,
			Phone:              req.ContactInfo.Phone,
			UrgencyLevel:       urgencyLabel(req.Urgency),
			UnitsNeeded:        req.UnitsNeeded,
			Status:             entry.Status,
			CreatedAt:          req.CreatedAt,
			AcceptedDate:       entry.AcceptedAt,
			DonationDate:       entry.DonationDate,
			Notes:              entry.Notes,
			RequesterFeedback:  entry.RequesterFeedback,
			NeedsReupload:      entry.NeedsReupload,
			DonationProofPhoto: entry.DonationProofPhoto,
		})
	}

	sort.Slice(views, func(i, j int) bool {
		return views[i].AcceptedDate.After(views[j].AcceptedDate)
	})
	return views, nil
}

func urgencyLabel(u requests.Urgency) string {
	switch u {
	case requests.UrgencyEmergency:
		return "Critical"
	case requests.UrgencyUrgent:
		return "High"
	default:
		return "Normal"
	}
}
