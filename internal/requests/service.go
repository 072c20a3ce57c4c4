package requests

import (
	"context"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"bloodhero/donation-portal/donation-portal-backend/internal/matching"
	"bloodhero/donation-portal/donation-portal-backend/internal/notifications"
	"bloodhero/donation-portal/donation-portal-backend/internal/users"
	"bloodhero/donation-portal/donation-portal-backend/pkg/geo"
	"bloodhero/donation-portal/donation-portal-backend/pkg/storage"
	"bloodhero/donation-portal/donation-portal-backend/pkg/workflows"
)

// DonorProfile is the slice of a donor document the engine needs.
type DonorProfile struct {
	ID        string
	UserID    string
	BloodType matching.BloodType
	City      string
	State     string
	Phone     string
	Location  *GeoPoint
}

// DonorDirectory is the engine's view of the donor store, including the
// acceptedRequests mirror kept on donor documents.
type DonorDirectory interface {
	GetByID(ctx context.Context, donorID string) (*DonorProfile, error)
	GetByUserID(ctx context.Context, userID string) (*DonorProfile, error)
	FindMatching(ctx context.Context, state, city string, bloodTypes []matching.BloodType) ([]DonorProfile, error)

	MirrorAccept(ctx context.Context, donorID string, requestID primitive.ObjectID, acceptedAt time.Time) error
	MirrorRemove(ctx context.Context, donorID string, requestID primitive.ObjectID) error
	MirrorStatus(ctx context.Context, donorID string, requestID primitive.ObjectID, status DonorStatus, feedback string) error
	MirrorProof(ctx context.Context, donorID string, requestID primitive.ObjectID, photoURL, notes string, donationDate time.Time) error
	MirrorClearProof(ctx context.Context, donorID string, requestID primitive.ObjectID, feedback string) error
}

// Notifier fans lifecycle transitions out to the affected users. Satisfied
// by the notifications service; every method is fire-and-forget.
type Notifier interface {
	RequestCreated(requester notifications.Recipient, req notifications.RequestSummary)
	NearbyRequest(donors []notifications.Recipient, req notifications.RequestSummary)
	DonorAccepted(requester notifications.Recipient, req notifications.RequestSummary, donorName, donorPhone string)
	ProofSubmitted(requester notifications.Recipient, req notifications.RequestSummary, donorID, donorName string)
	DonationConfirmed(donor notifications.Recipient, req notifications.RequestSummary)
	DonationRejected(donor notifications.Recipient, req notifications.RequestSummary, feedback string)
	ReuploadRequested(donor notifications.Recipient, req notifications.RequestSummary, feedback string)
	DonorSettled(donors []notifications.Recipient, req notifications.RequestSummary, feedback string)
	RequestCancelled(donors []notifications.Recipient, req notifications.RequestSummary)
}

// RequestLimiter caps request creation per requester per day.
type RequestLimiter interface {
	Allow(ctx context.Context, userID string) (bool, error)
	Refund(ctx context.Context, userID string)
	Limit() int
}

// Service is the request lifecycle engine.
type Service struct {
	repo        Repository
	donors      DonorDirectory
	users       users.Directory
	notifier    Notifier
	limiter     RequestLimiter
	storage     storage.Client
	bucket      string
	transitions *workflows.StateMachine
	logger      *zap.Logger
}

// NewService creates the lifecycle engine.
func NewService(repo Repository, donors DonorDirectory, userDir users.Directory, notifier Notifier, limiter RequestLimiter, store storage.Client, bucket string, logger *zap.Logger) *Service {
	return &Service{
		repo:        repo,
		donors:      donors,
		users:       userDir,
		notifier:    notifier,
		limiter:     limiter,
		storage:     store,
		bucket:      bucket,
		transitions: workflows.NewDonorStateMachine(),
		logger:      logger,
	}
}

// CreateRequest posts a new blood request and fans it out to matching
// donors in the hospital's area.
func (s *Service) CreateRequest(ctx context.Context, requesterID string, in CreateRequestInput) (*BloodRequest, error) {
	if err := validateCreateInput(&in); err != nil {
		return nil, err
	}

	allowed, err := s.limiter.Allow(ctx, requesterID)
	if err != nil {
		s.logger.Warn("rate limiter unavailable, falling back to stored counts",
			zap.String("user_id", requesterID), zap.Error(err))
		allowed, err = s.allowByStoredCount(ctx, requesterID)
		if err != nil {
			return nil, err
		}
	}
	if !allowed {
		return nil, &RateLimitedError{Limit: s.limiter.Limit()}
	}

	req := &BloodRequest{
		RequestedBy: requesterID,
		PatientName: in.PatientName,
		BloodType:   in.BloodType,
		UnitsNeeded: in.UnitsNeeded,
		Hospital:    in.Hospital,
		Location:    in.Location,
		Urgency:     in.Urgency,
		Reason:      in.Reason,
		Status:      StatusPending,
		RequiredBy:  in.RequiredBy,
		Donors:      map[string]DonorResponse{},
		ContactInfo: in.ContactInfo,
	}

	if err := s.repo.Create(ctx, req); err != nil {
		s.limiter.Refund(ctx, requesterID)
		return nil, err
	}

	go s.fanOutCreated(requesterID, req)

	return req, nil
}

// allowByStoredCount enforces the daily cap from the request documents
// themselves when the counter store is unreachable.
func (s *Service) allowByStoredCount(ctx context.Context, requesterID string) (bool, error) {
	now := time.Now()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	count, err := s.repo.CountCreatedBetween(ctx, requesterID, start, start.AddDate(0, 0, 1))
	if err != nil {
		return false, err
	}
	return count < int64(s.limiter.Limit()), nil
}

// fanOutCreated notifies the requester and every matching donor in the
// area. Runs detached from the request so notification lookups never delay
// the creation response.
func (s *Service) fanOutCreated(requesterID string, req *BloodRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	summary := s.summaryFor(req)

	if requester, err := s.recipientFor(ctx, requesterID); err == nil {
		s.notifier.RequestCreated(requester, summary)
	} else {
		s.logger.Warn("skipping creation receipt", zap.String("user_id", requesterID), zap.Error(err))
	}

	compatible := matching.CompatibleDonorTypes(req.BloodType)
	donors, err := s.donors.FindMatching(ctx, req.Hospital.State, req.Hospital.City, compatible)
	if err != nil {
		s.logger.Error("failed to find matching donors",
			zap.String("request_id", req.ID.Hex()), zap.Error(err))
		return
	}

	recipients := make([]notifications.Recipient, 0, len(donors))
	for _, donor := range donors {
		if donor.UserID == requesterID {
			continue
		}
		rcpt, err := s.recipientFor(ctx, donor.UserID)
		if err != nil {
			s.logger.Warn("skipping donor notification",
				zap.String("donor_id", donor.ID), zap.Error(err))
			continue
		}
		recipients = append(recipients, rcpt)
	}

	s.notifier.NearbyRequest(recipients, summary)
}

// AcceptRequest records the donor's commitment. The duplicate and capacity
// guards are enforced atomically by the repository; the acceptedRequests
// mirror write is retried once and the acceptance rolled back if it still
// fails.
func (s *Service) AcceptRequest(ctx context.Context, donorUserID, requestID string) (*RequestView, error) {
	oid, err := parseID(requestID)
	if err != nil {
		return nil, err
	}

	donor, err := s.donors.GetByUserID(ctx, donorUserID)
	if err != nil {
		return nil, err
	}
	if donor == nil {
		return nil, ErrNoDonorProfile
	}

	req, err := s.repo.GetByID(ctx, oid)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, ErrNotFound
	}
	if req.RequestedBy == donorUserID {
		return nil, ErrOwnRequest
	}
	switch req.Status {
	case StatusFulfilled:
		return nil, ErrRequestFulfilled
	case StatusCancelled:
		return nil, ErrInvalidTransition
	}

	profile, err := s.users.Lookup(ctx, donorUserID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	resp := DonorResponse{
		DonorID:      donor.ID,
		Status:       DonorAccepted,
		ResponseDate: now,
		AcceptedDate: &now,
		DonorPhone:   donor.Phone,
	}
	if profile != nil {
		resp.DonorName = profile.Name
		resp.DonorEmail = profile.Email
		if resp.DonorPhone == "" {
			resp.DonorPhone = profile.Phone
		}
	}

	updated, err := s.repo.AddDonorResponse(ctx, oid, resp)
	if err != nil {
		return nil, err
	}

	if err := s.mirrorAcceptWithRetry(ctx, donor.ID, oid, now); err != nil {
		// The request document owns the state. Rather than leave the two
		// stores disagreeing, undo the acceptance and surface the failure.
		if rbErr := s.repo.RemoveDonorResponse(ctx, oid, donor.ID); rbErr != nil {
			s.logger.Error("failed to roll back donor response after mirror failure",
				zap.String("request_id", requestID),
				zap.String("donor_id", donor.ID),
				zap.Error(rbErr))
		}
		return nil, err
	}

	go s.notifyAccepted(updated, resp)

	view := NewRequestView(*updated)
	return &view, nil
}

func (s *Service) mirrorAcceptWithRetry(ctx context.Context, donorID string, requestID primitive.ObjectID, acceptedAt time.Time) error {
	err := s.donors.MirrorAccept(ctx, donorID, requestID, acceptedAt)
	if err == nil {
		return nil
	}
	s.logger.Warn("mirror write failed, retrying",
		zap.String("donor_id", donorID),
		zap.String("request_id", requestID.Hex()),
		zap.Error(err))
	return s.donors.MirrorAccept(ctx, donorID, requestID, acceptedAt)
}

func (s *Service) notifyAccepted(req *BloodRequest, resp DonorResponse) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	requester, err := s.recipientFor(ctx, req.RequestedBy)
	if err != nil {
		s.logger.Warn("skipping acceptance notification",
			zap.String("user_id", req.RequestedBy), zap.Error(err))
		return
	}
	s.notifier.DonorAccepted(requester, s.summaryFor(req), resp.DonorName, resp.DonorPhone)
}

// SubmitDonationProof records the donor's proof photo and moves their entry
// to pending_confirmation. The handler has already uploaded the photo; this
// takes its URL.
func (s *Service) SubmitDonationProof(ctx context.Context, donorUserID, requestID, photoURL, notes string, donationDate time.Time) (*ProofSubmission, error) {
	oid, err := parseID(requestID)
	if err != nil {
		return nil, err
	}
	if photoURL == "" {
		return nil, &ValidationError{Field: "donation_proof_photo", Message: "proof photo is required"}
	}

	donor, err := s.donors.GetByUserID(ctx, donorUserID)
	if err != nil {
		return nil, err
	}
	if donor == nil {
		return nil, ErrNoDonorProfile
	}

	if donationDate.IsZero() {
		donationDate = time.Now()
	}

	updated, err := s.repo.SetDonationProof(ctx, oid, donor.ID, photoURL, notes, donationDate)
	if err != nil {
		return nil, err
	}

	if err := s.donors.MirrorProof(ctx, donor.ID, oid, photoURL, notes, donationDate); err != nil {
		s.logger.Error("failed to mirror donation proof",
			zap.String("donor_id", donor.ID),
			zap.String("request_id", requestID),
			zap.Error(err))
	}

	go s.notifyProofSubmitted(updated, donor.ID)

	return &ProofSubmission{
		Status:       DonorPendingConfirmation,
		DonationDate: donationDate,
		PhotoURL:     photoURL,
	}, nil
}

func (s *Service) notifyProofSubmitted(req *BloodRequest, donorID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	requester, err := s.recipientFor(ctx, req.RequestedBy)
	if err != nil {
		s.logger.Warn("skipping proof notification",
			zap.String("user_id", req.RequestedBy), zap.Error(err))
		return
	}
	s.notifier.ProofSubmitted(requester, s.summaryFor(req), donorID, req.Donors[donorID].DonorName)
}

// UpdateDonationStatus applies the requester's verdict on a submitted
// proof. Confirmation fulfills the request and settles every competing
// donor; a reupload sends the donor back to accepted with the proof
// cleared.
func (s *Service) UpdateDonationStatus(ctx context.Context, requesterID, requestID, donorID string, outcome VerifyOutcome, feedback string) (*BloodRequest, error) {
	oid, err := parseID(requestID)
	if err != nil {
		return nil, err
	}

	req, err := s.repo.GetByID(ctx, oid)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, ErrNotFound
	}
	if req.RequestedBy != requesterID {
		return nil, ErrNotRequestOwner
	}
	prior, ok := req.Donors[donorID]
	if !ok {
		return nil, ErrDonorNotFound
	}

	if outcome == OutcomeConfirmed && req.Status == StatusFulfilled {
		return nil, ErrRequestFulfilled
	}

	target, ok := map[VerifyOutcome]DonorStatus{
		OutcomeConfirmed: DonorDonated,
		OutcomeRejected:  DonorRejected,
		OutcomeReupload:  DonorAccepted,
	}[outcome]
	if !ok {
		return nil, &ValidationError{Field: "status", Message: "status must be confirmed, rejected, or reupload"}
	}
	if !s.transitions.CanTransition(string(prior.Status), string(target)) {
		return nil, ErrInvalidTransition
	}

	switch outcome {
	case OutcomeConfirmed:
		return s.confirmDonation(ctx, oid, donorID, feedback)

	case OutcomeRejected:
		if feedback == "" {
			return nil, &ValidationError{Field: "feedback", Message: "a reason is required when rejecting a donation"}
		}
		updated, err := s.repo.RejectDonation(ctx, oid, donorID, feedback)
		if err != nil {
			return nil, err
		}
		if err := s.donors.MirrorStatus(ctx, donorID, oid, DonorRejected, feedback); err != nil {
			s.logger.Error("failed to mirror rejection",
				zap.String("donor_id", donorID), zap.Error(err))
		}
		go s.notifyDonorOutcome(updated, donorID, OutcomeRejected, feedback)
		return updated, nil

	case OutcomeReupload:
		if feedback == "" {
			return nil, &ValidationError{Field: "feedback", Message: "a reason is required when requesting a re-upload"}
		}
		updated, err := s.repo.RequestReupload(ctx, oid, donorID, feedback)
		if err != nil {
			return nil, err
		}
		if err := s.donors.MirrorClearProof(ctx, donorID, oid, feedback); err != nil {
			s.logger.Error("failed to mirror proof reset",
				zap.String("donor_id", donorID), zap.Error(err))
		}
		s.deleteProofPhoto(ctx, prior.DonationProofPhoto)
		go s.notifyDonorOutcome(updated, donorID, OutcomeReupload, feedback)
		return updated, nil
	}

	return nil, &ValidationError{Field: "status", Message: "status must be confirmed, rejected, or reupload"}
}

func (s *Service) confirmDonation(ctx context.Context, oid primitive.ObjectID, donorID, feedback string) (*BloodRequest, error) {
	updated, err := s.repo.ConfirmDonation(ctx, oid, donorID, feedback)
	if err != nil {
		return nil, err
	}

	if err := s.donors.MirrorStatus(ctx, donorID, oid, DonorDonated, feedback); err != nil {
		s.logger.Error("failed to mirror confirmation",
			zap.String("donor_id", donorID), zap.Error(err))
	}

	settled, err := s.repo.RejectOtherDonors(ctx, oid, donorID, SettledFeedback)
	if err != nil {
		s.logger.Error("failed to settle competing donors",
			zap.String("request_id", oid.Hex()), zap.Error(err))
	}
	for _, other := range settled {
		if err := s.donors.MirrorStatus(ctx, other, oid, DonorRejected, SettledFeedback); err != nil {
			s.logger.Error("failed to mirror settlement",
				zap.String("donor_id", other), zap.Error(err))
		}
	}

	go s.notifyConfirmed(updated, donorID, settled)

	return s.repo.GetByID(ctx, oid)
}

func (s *Service) notifyConfirmed(req *BloodRequest, winnerID string, settled []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	summary := s.summaryFor(req)

	if rcpt, err := s.donorRecipient(ctx, winnerID); err == nil {
		s.notifier.DonationConfirmed(rcpt, summary)
	} else {
		s.logger.Warn("skipping confirmation notification",
			zap.String("donor_id", winnerID), zap.Error(err))
	}

	var losers []notifications.Recipient
	for _, donorID := range settled {
		rcpt, err := s.donorRecipient(ctx, donorID)
		if err != nil {
			s.logger.Warn("skipping settlement notification",
				zap.String("donor_id", donorID), zap.Error(err))
			continue
		}
		losers = append(losers, rcpt)
	}
	if len(losers) > 0 {
		s.notifier.DonorSettled(losers, summary, SettledFeedback)
	}
}

func (s *Service) notifyDonorOutcome(req *BloodRequest, donorID string, outcome VerifyOutcome, feedback string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	rcpt, err := s.donorRecipient(ctx, donorID)
	if err != nil {
		s.logger.Warn("skipping verification notification",
			zap.String("donor_id", donorID), zap.Error(err))
		return
	}

	summary := s.summaryFor(req)
	if outcome == OutcomeRejected {
		s.notifier.DonationRejected(rcpt, summary, feedback)
	} else {
		s.notifier.ReuploadRequested(rcpt, summary, feedback)
	}
}

// deleteProofPhoto removes a superseded proof photo from storage. Best
// effort; the state transition has already committed.
func (s *Service) deleteProofPhoto(ctx context.Context, photoURL string) {
	if photoURL == "" || s.storage == nil {
		return
	}
	key := storage.KeyFromURL(photoURL)
	if key == "" {
		return
	}
	if err := s.storage.Delete(ctx, s.bucket, key); err != nil {
		s.logger.Warn("failed to delete superseded proof photo",
			zap.String("key", key), zap.Error(err))
	}
}

// GetMyRequests returns the requester's requests with derived donor counts.
func (s *Service) GetMyRequests(ctx context.Context, requesterID string) ([]RequestView, error) {
	reqs, err := s.repo.ListByRequester(ctx, requesterID)
	if err != nil {
		return nil, err
	}

	views := make([]RequestView, 0, len(reqs))
	for _, req := range reqs {
		views = append(views, NewRequestView(req))
	}
	return views, nil
}

// GetRequestHistory returns the requester's resolved requests with donor
// statistics and an overall summary.
func (s *Service) GetRequestHistory(ctx context.Context, requesterID string) ([]HistoryEntry, HistorySummary, error) {
	reqs, err := s.repo.ListResolvedByRequester(ctx, requesterID)
	if err != nil {
		return nil, HistorySummary{}, err
	}

	summary := HistorySummary{Total: len(reqs)}
	entries := make([]HistoryEntry, 0, len(reqs))
	for _, req := range reqs {
		stats := donorStats(&req)
		entry := HistoryEntry{BloodRequest: req, DonorStats: stats}
		if req.Status == StatusFulfilled {
			completed := req.UpdatedAt
			entry.CompletionDate = &completed
		}
		entries = append(entries, entry)

		switch req.Status {
		case StatusFulfilled:
			summary.Fulfilled++
		case StatusPartiallyFulfilled:
			summary.PartiallyFulfilled++
		case StatusCancelled:
			summary.Cancelled++
		}
		summary.TotalDonors += stats.Total
		summary.TotalDonated += stats.Donated
	}
	return entries, summary, nil
}

func donorStats(req *BloodRequest) DonorStats {
	stats := DonorStats{Total: len(req.Donors)}
	for _, d := range req.Donors {
		switch d.Status {
		case DonorDonated:
			stats.Donated++
		case DonorAccepted, DonorPendingConfirmation:
			stats.Accepted++
		case DonorPending:
			stats.Pending++
		case DonorDeclined:
			stats.Declined++
		case DonorRejected:
			stats.Rejected++
		}
	}
	return stats
}

// FindNearbyRequests lists open requests from other requesters, annotated
// with distance when the caller supplied coordinates.
func (s *Service) FindNearbyRequests(ctx context.Context, callerID string, filter NearbyFilter) ([]NearbyRequest, error) {
	reqs, err := s.repo.ListOpenExcluding(ctx, callerID, filter)
	if err != nil {
		return nil, err
	}

	out := make([]NearbyRequest, 0, len(reqs))
	for _, req := range reqs {
		nearby := NearbyRequest{BloodRequest: req}
		if filter.Lat != nil && filter.Lng != nil && req.Location != nil && len(req.Location.Coordinates) == 2 {
			d := geo.DistanceKm(*filter.Lat, *filter.Lng,
				req.Location.Coordinates[1], req.Location.Coordinates[0])
			nearby.DistanceKm = &d
		}
		out = append(out, nearby)
	}

	if filter.Lat != nil && filter.Lng != nil {
		sort.SliceStable(out, func(i, j int) bool {
			if out[i].DistanceKm == nil {
				return false
			}
			if out[j].DistanceKm == nil {
				return true
			}
			return *out[i].DistanceKm < *out[j].DistanceKm
		})
	}
	return out, nil
}

// GetRequest returns one request with derived donor counts.
func (s *Service) GetRequest(ctx context.Context, requestID string) (*RequestView, error) {
	oid, err := parseID(requestID)
	if err != nil {
		return nil, err
	}

	req, err := s.repo.GetByID(ctx, oid)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, ErrNotFound
	}

	view := NewRequestView(*req)
	return &view, nil
}

// UpdateRequest edits a pending request. Only the owner may edit, and only
// before any donor is engaged.
func (s *Service) UpdateRequest(ctx context.Context, requesterID, requestID string, in UpdateRequestInput) (*BloodRequest, error) {
	oid, err := parseID(requestID)
	if err != nil {
		return nil, err
	}
	if in.BloodType != nil && !in.BloodType.IsValid() {
		return nil, &ValidationError{Field: "blood_type", Message: "unknown blood type"}
	}
	if in.UnitsNeeded != nil && *in.UnitsNeeded < 1 {
		return nil, &ValidationError{Field: "units_needed", Message: "at least one unit is required"}
	}

	req, err := s.repo.GetByID(ctx, oid)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, ErrNotFound
	}
	if req.RequestedBy != requesterID {
		return nil, ErrNotRequestOwner
	}
	if req.Status != StatusPending || req.ActiveDonorCount() > 0 {
		return nil, ErrInvalidTransition
	}

	return s.repo.UpdateFields(ctx, oid, in)
}

// CancelRequest withdraws a pending request and tells engaged donors.
func (s *Service) CancelRequest(ctx context.Context, requesterID, requestID string) error {
	oid, err := parseID(requestID)
	if err != nil {
		return err
	}

	req, err := s.repo.GetByID(ctx, oid)
	if err != nil {
		return err
	}
	if req == nil {
		return ErrNotFound
	}
	if req.RequestedBy != requesterID {
		return ErrNotRequestOwner
	}
	if req.Status != StatusPending {
		return ErrInvalidTransition
	}

	if err := s.repo.SetStatus(ctx, oid, StatusPending, StatusCancelled); err != nil {
		return err
	}

	go s.notifyCancelled(req)
	return nil
}

func (s *Service) notifyCancelled(req *BloodRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var engaged []notifications.Recipient
	for donorID, resp := range req.Donors {
		if !resp.Active() {
			continue
		}
		rcpt, err := s.donorRecipient(ctx, donorID)
		if err != nil {
			s.logger.Warn("skipping cancellation notification",
				zap.String("donor_id", donorID), zap.Error(err))
			continue
		}
		engaged = append(engaged, rcpt)
	}
	if len(engaged) > 0 {
		s.notifier.RequestCancelled(engaged, s.summaryFor(req))
	}
}

// DeleteRequest removes a request outright. Blocked once a donation has
// been confirmed; mirror entries on engaged donors are cleaned up.
func (s *Service) DeleteRequest(ctx context.Context, requesterID, requestID string) error {
	oid, err := parseID(requestID)
	if err != nil {
		return err
	}

	req, err := s.repo.GetByID(ctx, oid)
	if err != nil {
		return err
	}
	if req == nil {
		return ErrNotFound
	}
	if req.RequestedBy != requesterID {
		return ErrNotRequestOwner
	}
	for _, resp := range req.Donors {
		if resp.Status == DonorDonated {
			return ErrInvalidTransition
		}
	}

	if err := s.repo.Delete(ctx, oid); err != nil {
		return err
	}

	for donorID := range req.Donors {
		if err := s.donors.MirrorRemove(ctx, donorID, oid); err != nil {
			s.logger.Error("failed to remove mirror entry",
				zap.String("donor_id", donorID), zap.Error(err))
		}
	}

	go s.notifyCancelled(req)
	return nil
}

func (s *Service) summaryFor(req *BloodRequest) notifications.RequestSummary {
	return notifications.RequestSummary{
		RequestID:   req.ID.Hex(),
		PatientName: req.PatientName,
		BloodType:   string(req.BloodType),
		UnitsNeeded: req.UnitsNeeded,
		Hospital:    req.Hospital.Name,
		City:        req.Hospital.City,
		Urgent:      req.Urgency == UrgencyEmergency,
	}
}

func (s *Service) recipientFor(ctx context.Context, userID string) (notifications.Recipient, error) {
	profile, err := s.users.Lookup(ctx, userID)
	if err != nil {
		return notifications.Recipient{}, err
	}
	if profile == nil {
		return notifications.Recipient{}, ErrNotFound
	}
	return notifications.Recipient{
		UserID: profile.ID,
		Name:   profile.Name,
		Email:  profile.Email,
		Phone:  profile.Phone,
	}, nil
}

// donorRecipient resolves a donor id to its user's contact profile.
func (s *Service) donorRecipient(ctx context.Context, donorID string) (notifications.Recipient, error) {
	donor, err := s.donors.GetByID(ctx, donorID)
	if err != nil {
		return notifications.Recipient{}, err
	}
	if donor == nil {
		return notifications.Recipient{}, ErrDonorNotFound
	}
	return s.recipientFor(ctx, donor.UserID)
}

func validateCreateInput(in *CreateRequestInput) error {
	if in.PatientName == "" {
		return &ValidationError{Field: "patient_name", Message: "patient name is required"}
	}
	if !in.BloodType.IsValid() {
		return &ValidationError{Field: "blood_type", Message: "unknown blood type"}
	}
	if in.UnitsNeeded < 1 {
		return &ValidationError{Field: "units_needed", Message: "at least one unit is required"}
	}
	if in.Hospital.Name == "" || in.Hospital.City == "" || in.Hospital.State == "" {
		return &ValidationError{Field: "hospital", Message: "hospital name, city, and state are required"}
	}
	switch in.Urgency {
	case UrgencyNormal, UrgencyUrgent, UrgencyEmergency:
	case "":
		in.Urgency = UrgencyNormal
	default:
		return &ValidationError{Field: "urgency", Message: "urgency must be normal, urgent, or emergency"}
	}
	return nil
}

func parseID(requestID string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(requestID)
	if err != nil {
		return primitive.NilObjectID, &ValidationError{Field: "request_id", Message: "malformed request id"}
	}
	return oid, nil
}
