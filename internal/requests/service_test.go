package requests

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"bloodhero/donation-portal/donation-portal-backend/internal/matching"
	"bloodhero/donation-portal/donation-portal-backend/internal/notifications"
	"bloodhero/donation-portal/donation-portal-backend/internal/users"
)

// memRepository is an in-memory Repository with the same conditional-update
// guards as the Mongo implementation, so the cap, uniqueness, and
// first-verified-wins behavior can be exercised under concurrency.
type memRepository struct {
	mu   sync.Mutex
	docs map[primitive.ObjectID]*BloodRequest
}

func newMemRepository() *memRepository {
	return &memRepository{docs: make(map[primitive.ObjectID]*BloodRequest)}
}

func (r *memRepository) put(req *BloodRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if req.ID.IsZero() {
		req.ID = primitive.NewObjectID()
	}
	if req.Donors == nil {
		req.Donors = map[string]DonorResponse{}
	}
	r.docs[req.ID] = req
}

func (r *memRepository) Create(ctx context.Context, req *BloodRequest) error {
	req.CreatedAt = time.Now()
	req.UpdatedAt = req.CreatedAt
	r.put(req)
	return nil
}

func (r *memRepository) GetByID(ctx context.Context, id primitive.ObjectID) (*BloodRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return nil, nil
	}
	copied := *doc
	copied.Donors = make(map[string]DonorResponse, len(doc.Donors))
	for k, v := range doc.Donors {
		copied.Donors[k] = v
	}
	return &copied, nil
}

func (r *memRepository) GetByIDs(ctx context.Context, ids []primitive.ObjectID) ([]BloodRequest, error) {
	var out []BloodRequest
	for _, id := range ids {
		if doc, err := r.GetByID(ctx, id); err == nil && doc != nil {
			out = append(out, *doc)
		}
	}
	return out, nil
}

func (r *memRepository) ListByRequester(ctx context.Context, requesterID string) ([]BloodRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []BloodRequest
	for _, doc := range r.docs {
		if doc.RequestedBy == requesterID {
			out = append(out, *doc)
		}
	}
	return out, nil
}

func (r *memRepository) ListResolvedByRequester(ctx context.Context, requesterID string) ([]BloodRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []BloodRequest
	for _, doc := range r.docs {
		if doc.RequestedBy != requesterID {
			continue
		}
		switch doc.Status {
		case StatusFulfilled, StatusPartiallyFulfilled, StatusCancelled:
			out = append(out, *doc)
		}
	}
	return out, nil
}

func (r *memRepository) ListOpenExcluding(ctx context.Context, requesterID string, f NearbyFilter) ([]BloodRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []BloodRequest
	for _, doc := range r.docs {
		if doc.RequestedBy == requesterID {
			continue
		}
		if doc.Status != StatusPending && doc.Status != StatusPartiallyFulfilled {
			continue
		}
		if f.BloodType != "" && doc.BloodType != f.BloodType {
			continue
		}
		if f.Urgency != "" && doc.Urgency != f.Urgency {
			continue
		}
		out = append(out, *doc)
	}
	return out, nil
}

func (r *memRepository) CountCreatedBetween(ctx context.Context, requesterID string, from, to time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, doc := range r.docs {
		if doc.RequestedBy == requesterID && !doc.CreatedAt.Before(from) && doc.CreatedAt.Before(to) {
			n++
		}
	}
	return n, nil
}

func (r *memRepository) UpdateFields(ctx context.Context, id primitive.ObjectID, in UpdateRequestInput) (*BloodRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if in.PatientName != nil {
		doc.PatientName = *in.PatientName
	}
	if in.UnitsNeeded != nil {
		doc.UnitsNeeded = *in.UnitsNeeded
	}
	if in.Reason != nil {
		doc.Reason = *in.Reason
	}
	doc.UpdatedAt = time.Now()
	copied := *doc
	return &copied, nil
}

func (r *memRepository) Delete(ctx context.Context, id primitive.ObjectID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.docs[id]; !ok {
		return ErrNotFound
	}
	delete(r.docs, id)
	return nil
}

func (r *memRepository) AddDonorResponse(ctx context.Context, id primitive.ObjectID, resp DonorResponse) (*BloodRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	switch doc.Status {
	case StatusFulfilled:
		return nil, ErrRequestFulfilled
	case StatusCancelled:
		return nil, ErrInvalidTransition
	}
	if _, exists := doc.Donors[resp.DonorID]; exists {
		return nil, ErrDuplicateResponse
	}
	if doc.ActiveDonorCount() >= MaxActiveDonors {
		return nil, ErrCapacityExceeded
	}
	doc.Donors[resp.DonorID] = resp
	doc.UpdatedAt = time.Now()
	copied := *doc
	return &copied, nil
}

func (r *memRepository) RemoveDonorResponse(ctx context.Context, id primitive.ObjectID, donorID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if doc, ok := r.docs[id]; ok {
		delete(doc.Donors, donorID)
	}
	return nil
}

func (r *memRepository) SetDonationProof(ctx context.Context, id primitive.ObjectID, donorID, photoURL, notes string, donationDate time.Time) (*BloodRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	entry, exists := doc.Donors[donorID]
	if !exists {
		return nil, ErrDonorNotFound
	}
	if entry.Status == DonorDonated || entry.Status == DonorRejected {
		return nil, ErrInvalidTransition
	}
	entry.Status = DonorPendingConfirmation
	entry.DonationProofPhoto = photoURL
	entry.Notes = notes
	entry.DonationDate = &donationDate
	entry.NeedsReupload = false
	doc.Donors[donorID] = entry
	copied := *doc
	return &copied, nil
}

func (r *memRepository) ConfirmDonation(ctx context.Context, id primitive.ObjectID, donorID, feedback string) (*BloodRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if doc.Status == StatusFulfilled {
		return nil, ErrRequestFulfilled
	}
	entry, exists := doc.Donors[donorID]
	if !exists {
		return nil, ErrDonorNotFound
	}
	if entry.Status != DonorPendingConfirmation {
		return nil, ErrInvalidTransition
	}
	entry.Status = DonorDonated
	if feedback != "" {
		entry.RequesterFeedback = feedback
	}
	doc.Donors[donorID] = entry
	doc.Status = StatusFulfilled
	copied := *doc
	return &copied, nil
}

func (r *memRepository) RejectOtherDonors(ctx context.Context, id primitive.ObjectID, winnerID, feedback string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	var rejected []string
	for donorID, entry := range doc.Donors {
		if donorID == winnerID || entry.Status == DonorDonated || entry.Status == DonorRejected {
			continue
		}
		entry.Status = DonorRejected
		entry.RequesterFeedback = feedback
		doc.Donors[donorID] = entry
		rejected = append(rejected, donorID)
	}
	return rejected, nil
}

func (r *memRepository) RejectDonation(ctx context.Context, id primitive.ObjectID, donorID, feedback string) (*BloodRequest, error) {
	return r.resolve(id, donorID, func(entry *DonorResponse) {
		entry.Status = DonorRejected
		entry.RequesterFeedback = feedback
	})
}

func (r *memRepository) RequestReupload(ctx context.Context, id primitive.ObjectID, donorID, feedback string) (*BloodRequest, error) {
	return r.resolve(id, donorID, func(entry *DonorResponse) {
		entry.Status = DonorAccepted
		entry.DonationProofPhoto = ""
		entry.NeedsReupload = true
		entry.RequesterFeedback = feedback
	})
}

func (r *memRepository) resolve(id primitive.ObjectID, donorID string, apply func(*DonorResponse)) (*BloodRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	entry, exists := doc.Donors[donorID]
	if !exists {
		return nil, ErrDonorNotFound
	}
	if entry.Status != DonorPendingConfirmation {
		return nil, ErrInvalidTransition
	}
	apply(&entry)
	doc.Donors[donorID] = entry
	copied := *doc
	return &copied, nil
}

func (r *memRepository) SetStatus(ctx context.Context, id primitive.ObjectID, from, to RequestStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if doc, ok := r.docs[id]; ok && doc.Status == from {
		doc.Status = to
	}
	return nil
}

// MockDonorDirectory is a mock implementation of the DonorDirectory interface
type MockDonorDirectory struct {
	mock.Mock
}

func (m *MockDonorDirectory) GetByID(ctx context.Context, donorID string) (*DonorProfile, error) {
	args := m.Called(ctx, donorID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*DonorProfile), args.Error(1)
}

func (m *MockDonorDirectory) GetByUserID(ctx context.Context, userID string) (*DonorProfile, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*DonorProfile), args.Error(1)
}

func (m *MockDonorDirectory) FindMatching(ctx context.Context, state, city string, bloodTypes []matching.BloodType) ([]DonorProfile, error) {
	args := m.Called(ctx, state, city, bloodTypes)
	return args.Get(0).([]DonorProfile), args.Error(1)
}

func (m *MockDonorDirectory) MirrorAccept(ctx context.Context, donorID string, requestID primitive.ObjectID, acceptedAt time.Time) error {
	args := m.Called(ctx, donorID, requestID, acceptedAt)
	return args.Error(0)
}

func (m *MockDonorDirectory) MirrorRemove(ctx context.Context, donorID string, requestID primitive.ObjectID) error {
	args := m.Called(ctx, donorID, requestID)
	return args.Error(0)
}

func (m *MockDonorDirectory) MirrorStatus(ctx context.Context, donorID string, requestID primitive.ObjectID, status DonorStatus, feedback string) error {
	args := m.Called(ctx, donorID, requestID, status, feedback)
	return args.Error(0)
}

func (m *MockDonorDirectory) MirrorProof(ctx context.Context, donorID string, requestID primitive.ObjectID, photoURL, notes string, donationDate time.Time) error {
	args := m.Called(ctx, donorID, requestID, photoURL, notes, donationDate)
	return args.Error(0)
}

func (m *MockDonorDirectory) MirrorClearProof(ctx context.Context, donorID string, requestID primitive.ObjectID, feedback string) error {
	args := m.Called(ctx, donorID, requestID, feedback)
	return args.Error(0)
}

// stubUsers resolves every id to a canned profile.
type stubUsers struct{}

func (stubUsers) Lookup(ctx context.Context, userID string) (*users.Profile, error) {
	return &users.Profile{ID: userID, Name: "User " + userID, Email: userID + "@example.com"}, nil
}

// stubNotifier records fan-out calls.
type stubNotifier struct {
	mu        sync.Mutex
	confirmed []string
	settled   []string
	rejected  []string
	reuploads []string
}

func (n *stubNotifier) RequestCreated(notifications.Recipient, notifications.RequestSummary) {}
func (n *stubNotifier) NearbyRequest([]notifications.Recipient, notifications.RequestSummary) {
}
func (n *stubNotifier) DonorAccepted(notifications.Recipient, notifications.RequestSummary, string, string) {
}
func (n *stubNotifier) ProofSubmitted(notifications.Recipient, notifications.RequestSummary, string, string) {
}

func (n *stubNotifier) DonationConfirmed(donor notifications.Recipient, _ notifications.RequestSummary) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.confirmed = append(n.confirmed, donor.UserID)
}

func (n *stubNotifier) DonationRejected(donor notifications.Recipient, _ notifications.RequestSummary, _ string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rejected = append(n.rejected, donor.UserID)
}

func (n *stubNotifier) ReuploadRequested(donor notifications.Recipient, _ notifications.RequestSummary, _ string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reuploads = append(n.reuploads, donor.UserID)
}

func (n *stubNotifier) DonorSettled(donors []notifications.Recipient, _ notifications.RequestSummary, _ string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, d := range donors {
		n.settled = append(n.settled, d.UserID)
	}
}

func (n *stubNotifier) RequestCancelled([]notifications.Recipient, notifications.RequestSummary) {}

// stubLimiter allows a fixed number of creations, or errors out when its
// store is "down".
type stubLimiter struct {
	mu      sync.Mutex
	count   int
	allowed int
	err     error
}

func (l *stubLimiter) Allow(ctx context.Context, userID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return false, l.err
	}
	l.count++
	return l.count <= l.allowed, nil
}

func (l *stubLimiter) Refund(ctx context.Context, userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.count--
}

func (l *stubLimiter) Limit() int { return DailyRequestLimit }

func newTestService(repo Repository, dir DonorDirectory, notifier Notifier, limiter RequestLimiter) *Service {
	if limiter == nil {
		limiter = &stubLimiter{allowed: DailyRequestLimit}
	}
	return NewService(repo, dir, stubUsers{}, notifier, limiter, nil, "proof-bucket", zap.NewNop())
}

func validInput() CreateRequestInput {
	return CreateRequestInput{
		PatientName: "Jane Roe",
		BloodType:   matching.APositive,
		UnitsNeeded: 2,
		Hospital:    Hospital{Name: "City General", City: "Dhaka", State: "Dhaka"},
		Urgency:     UrgencyUrgent,
		RequiredBy:  time.Now().Add(48 * time.Hour),
	}
}

func seededRequest(repo *memRepository, requesterID string, donors map[string]DonorResponse) *BloodRequest {
	req := &BloodRequest{
		RequestedBy: requesterID,
		PatientName: "Jane Roe",
		BloodType:   matching.APositive,
		UnitsNeeded: 2,
		Hospital:    Hospital{Name: "City General", City: "Dhaka", State: "Dhaka"},
		Urgency:     UrgencyUrgent,
		Status:      StatusPending,
		Donors:      donors,
	}
	repo.put(req)
	return req
}

func donorEntry(donorID string, status DonorStatus) DonorResponse {
	now := time.Now()
	return DonorResponse{
		DonorID:      donorID,
		Status:       status,
		ResponseDate: now,
		AcceptedDate: &now,
	}
}

func TestCreateRequestRateLimited(t *testing.T) {
	repo := newMemRepository()
	dir := new(MockDonorDirectory)
	dir.On("FindMatching", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return([]DonorProfile{}, nil).Maybe()

	limiter := &stubLimiter{allowed: 2}
	service := newTestService(repo, dir, &stubNotifier{}, limiter)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := service.CreateRequest(ctx, "requester-1", validInput())
		require.NoError(t, err)
	}

	_, err := service.CreateRequest(ctx, "requester-1", validInput())
	var limited *RateLimitedError
	require.ErrorAs(t, err, &limited)
	assert.Equal(t, DailyRequestLimit, limited.Limit)
}

func TestCreateRequestFallsBackToStoredCount(t *testing.T) {
	repo := newMemRepository()
	dir := new(MockDonorDirectory)
	dir.On("FindMatching", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return([]DonorProfile{}, nil).Maybe()

	limiter := &stubLimiter{err: errors.New("redis down")}
	service := newTestService(repo, dir, &stubNotifier{}, limiter)
	ctx := context.Background()

	for i := 0; i < DailyRequestLimit; i++ {
		_, err := service.CreateRequest(ctx, "requester-1", validInput())
		require.NoError(t, err)
	}

	_, err := service.CreateRequest(ctx, "requester-1", validInput())
	var limited *RateLimitedError
	require.ErrorAs(t, err, &limited)

	// The fallback counts per requester, so others keep their budget.
	_, err = service.CreateRequest(ctx, "requester-2", validInput())
	require.NoError(t, err)
}

func TestCreateRequestValidation(t *testing.T) {
	service := newTestService(newMemRepository(), new(MockDonorDirectory), &stubNotifier{}, nil)
	ctx := context.Background()

	in := validInput()
	in.PatientName = ""
	_, err := service.CreateRequest(ctx, "requester-1", in)
	var validation *ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "patient_name", validation.Field)

	in = validInput()
	in.BloodType = "C+"
	_, err = service.CreateRequest(ctx, "requester-1", in)
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "blood_type", validation.Field)

	in = validInput()
	in.UnitsNeeded = 0
	_, err = service.CreateRequest(ctx, "requester-1", in)
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "units_needed", validation.Field)
}

func TestAcceptRequestCapEnforced(t *testing.T) {
	repo := newMemRepository()
	req := seededRequest(repo, "requester-1", map[string]DonorResponse{
		"d1": donorEntry("d1", DonorAccepted),
		"d2": donorEntry("d2", DonorAccepted),
		"d3": donorEntry("d3", DonorPendingConfirmation),
	})

	dir := new(MockDonorDirectory)
	dir.On("GetByUserID", mock.Anything, "user-4").
		Return(&DonorProfile{ID: "d4", UserID: "user-4", BloodType: matching.APositive}, nil)

	service := newTestService(repo, dir, &stubNotifier{}, nil)

	_, err := service.AcceptRequest(context.Background(), "user-4", req.ID.Hex())
	assert.ErrorIs(t, err, ErrCapacityExceeded)
}

func TestAcceptRequestRejectedDonorFreesSlot(t *testing.T) {
	repo := newMemRepository()
	req := seededRequest(repo, "requester-1", map[string]DonorResponse{
		"d1": donorEntry("d1", DonorAccepted),
		"d2": donorEntry("d2", DonorRejected),
		"d3": donorEntry("d3", DonorAccepted),
	})

	dir := new(MockDonorDirectory)
	dir.On("GetByUserID", mock.Anything, "user-4").
		Return(&DonorProfile{ID: "d4", UserID: "user-4", BloodType: matching.APositive}, nil)
	dir.On("MirrorAccept", mock.Anything, "d4", req.ID, mock.Anything).Return(nil)

	service := newTestService(repo, dir, &stubNotifier{}, nil)

	view, err := service.AcceptRequest(context.Background(), "user-4", req.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, 3, view.AcceptedDonorsCount)
	assert.True(t, view.MaxDonorsReached)
}

func TestAddDonorResponseBlockedOnceFulfilled(t *testing.T) {
	repo := newMemRepository()
	req := seededRequest(repo, "requester-1", map[string]DonorResponse{
		"d1": donorEntry("d1", DonorDonated),
	})
	req.Status = StatusFulfilled

	// An accept that read the request before the confirmation landed must
	// still bounce off the conditional update.
	_, err := repo.AddDonorResponse(context.Background(), req.ID, donorEntry("d2", DonorAccepted))
	assert.ErrorIs(t, err, ErrRequestFulfilled)

	cancelled := seededRequest(repo, "requester-1", map[string]DonorResponse{})
	cancelled.Status = StatusCancelled
	_, err = repo.AddDonorResponse(context.Background(), cancelled.ID, donorEntry("d2", DonorAccepted))
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestAcceptRequestDuplicate(t *testing.T) {
	repo := newMemRepository()
	req := seededRequest(repo, "requester-1", map[string]DonorResponse{
		"d1": donorEntry("d1", DonorAccepted),
	})

	dir := new(MockDonorDirectory)
	dir.On("GetByUserID", mock.Anything, "user-1").
		Return(&DonorProfile{ID: "d1", UserID: "user-1", BloodType: matching.APositive}, nil)

	service := newTestService(repo, dir, &stubNotifier{}, nil)

	_, err := service.AcceptRequest(context.Background(), "user-1", req.ID.Hex())
	assert.ErrorIs(t, err, ErrDuplicateResponse)
}

func TestAcceptRequestOwnRequest(t *testing.T) {
	repo := newMemRepository()
	req := seededRequest(repo, "requester-1", map[string]DonorResponse{})

	dir := new(MockDonorDirectory)
	dir.On("GetByUserID", mock.Anything, "requester-1").
		Return(&DonorProfile{ID: "d9", UserID: "requester-1", BloodType: matching.APositive}, nil)

	service := newTestService(repo, dir, &stubNotifier{}, nil)

	_, err := service.AcceptRequest(context.Background(), "requester-1", req.ID.Hex())
	assert.ErrorIs(t, err, ErrOwnRequest)
}

func TestAcceptRequestConcurrentNeverExceedsCap(t *testing.T) {
	repo := newMemRepository()
	req := seededRequest(repo, "requester-1", map[string]DonorResponse{})

	dir := new(MockDonorDirectory)
	for i := 0; i < 10; i++ {
		userID := "user-" + string(rune('a'+i))
		donorID := "donor-" + string(rune('a'+i))
		dir.On("GetByUserID", mock.Anything, userID).
			Return(&DonorProfile{ID: donorID, UserID: userID, BloodType: matching.APositive}, nil)
		dir.On("MirrorAccept", mock.Anything, donorID, req.ID, mock.Anything).Return(nil).Maybe()
	}

	service := newTestService(repo, dir, &stubNotifier{}, nil)

	var wg sync.WaitGroup
	results := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := service.AcceptRequest(context.Background(), "user-"+string(rune('a'+i)), req.ID.Hex())
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	succeeded, capped := 0, 0
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrCapacityExceeded):
			capped++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	assert.Equal(t, MaxActiveDonors, succeeded)
	assert.Equal(t, 10-MaxActiveDonors, capped)

	final, err := repo.GetByID(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, MaxActiveDonors, final.ActiveDonorCount())
}

func TestAcceptRequestMirrorFailureRollsBack(t *testing.T) {
	repo := newMemRepository()
	req := seededRequest(repo, "requester-1", map[string]DonorResponse{})

	dir := new(MockDonorDirectory)
	dir.On("GetByUserID", mock.Anything, "user-1").
		Return(&DonorProfile{ID: "d1", UserID: "user-1", BloodType: matching.APositive}, nil)
	dir.On("MirrorAccept", mock.Anything, "d1", req.ID, mock.Anything).
		Return(errors.New("donor store down")).Twice()

	service := newTestService(repo, dir, &stubNotifier{}, nil)

	_, err := service.AcceptRequest(context.Background(), "user-1", req.ID.Hex())
	require.Error(t, err)

	final, err := repo.GetByID(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Empty(t, final.Donors)
	dir.AssertExpectations(t)
}

func TestConfirmDonationFirstWins(t *testing.T) {
	repo := newMemRepository()
	req := seededRequest(repo, "requester-1", map[string]DonorResponse{
		"d1": donorEntry("d1", DonorPendingConfirmation),
		"d2": donorEntry("d2", DonorPendingConfirmation),
		"d3": donorEntry("d3", DonorAccepted),
	})

	dir := new(MockDonorDirectory)
	dir.On("MirrorStatus", mock.Anything, mock.Anything, req.ID, mock.Anything, mock.Anything).Return(nil)
	dir.On("GetByID", mock.Anything, mock.Anything).
		Return(&DonorProfile{ID: "dx", UserID: "user-x"}, nil).Maybe()

	notifier := &stubNotifier{}
	service := newTestService(repo, dir, notifier, nil)
	ctx := context.Background()

	updated, err := service.UpdateDonationStatus(ctx, "requester-1", req.ID.Hex(), "d1", OutcomeConfirmed, "thank you")
	require.NoError(t, err)
	assert.Equal(t, StatusFulfilled, updated.Status)
	assert.Equal(t, DonorDonated, updated.Donors["d1"].Status)
	assert.Equal(t, DonorRejected, updated.Donors["d2"].Status)
	assert.Equal(t, SettledFeedback, updated.Donors["d2"].RequesterFeedback)
	assert.Equal(t, DonorRejected, updated.Donors["d3"].Status)

	// The losing confirmation sees the fulfilled request, not a partial state.
	_, err = service.UpdateDonationStatus(ctx, "requester-1", req.ID.Hex(), "d2", OutcomeConfirmed, "")
	assert.ErrorIs(t, err, ErrRequestFulfilled)
}

func TestConfirmDonationConcurrentSingleWinner(t *testing.T) {
	repo := newMemRepository()
	req := seededRequest(repo, "requester-1", map[string]DonorResponse{
		"d1": donorEntry("d1", DonorPendingConfirmation),
		"d2": donorEntry("d2", DonorPendingConfirmation),
	})

	dir := new(MockDonorDirectory)
	dir.On("MirrorStatus", mock.Anything, mock.Anything, req.ID, mock.Anything, mock.Anything).Return(nil).Maybe()
	dir.On("GetByID", mock.Anything, mock.Anything).
		Return(&DonorProfile{ID: "dx", UserID: "user-x"}, nil).Maybe()

	service := newTestService(repo, dir, &stubNotifier{}, nil)

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for _, donorID := range []string{"d1", "d2"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := service.UpdateDonationStatus(context.Background(), "requester-1", req.ID.Hex(), id, OutcomeConfirmed, "")
			results <- err
		}(donorID)
	}
	wg.Wait()
	close(results)

	wins, losses := 0, 0
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrRequestFulfilled), errors.Is(err, ErrInvalidTransition):
			losses++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, losses)

	final, err := repo.GetByID(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFulfilled, final.Status)

	donated := 0
	for _, entry := range final.Donors {
		if entry.Status == DonorDonated {
			donated++
		}
	}
	assert.Equal(t, 1, donated)
}

func TestUpdateDonationStatusNotOwner(t *testing.T) {
	repo := newMemRepository()
	req := seededRequest(repo, "requester-1", map[string]DonorResponse{
		"d1": donorEntry("d1", DonorPendingConfirmation),
	})

	service := newTestService(repo, new(MockDonorDirectory), &stubNotifier{}, nil)

	_, err := service.UpdateDonationStatus(context.Background(), "someone-else", req.ID.Hex(), "d1", OutcomeConfirmed, "")
	assert.ErrorIs(t, err, ErrNotRequestOwner)
}

func TestRejectDonationRequiresFeedback(t *testing.T) {
	repo := newMemRepository()
	req := seededRequest(repo, "requester-1", map[string]DonorResponse{
		"d1": donorEntry("d1", DonorPendingConfirmation),
	})

	service := newTestService(repo, new(MockDonorDirectory), &stubNotifier{}, nil)

	_, err := service.UpdateDonationStatus(context.Background(), "requester-1", req.ID.Hex(), "d1", OutcomeRejected, "")
	var validation *ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "feedback", validation.Field)
}

func TestReuploadRoundTrip(t *testing.T) {
	repo := newMemRepository()
	entry := donorEntry("d1", DonorAccepted)
	req := seededRequest(repo, "requester-1", map[string]DonorResponse{"d1": entry})

	dir := new(MockDonorDirectory)
	dir.On("GetByUserID", mock.Anything, "user-1").
		Return(&DonorProfile{ID: "d1", UserID: "user-1"}, nil)
	dir.On("GetByID", mock.Anything, "d1").
		Return(&DonorProfile{ID: "d1", UserID: "user-1"}, nil).Maybe()
	dir.On("MirrorProof", mock.Anything, "d1", req.ID, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	dir.On("MirrorClearProof", mock.Anything, "d1", req.ID, "photo is blurry").Return(nil)

	service := newTestService(repo, dir, &stubNotifier{}, nil)
	ctx := context.Background()

	// Donor submits proof.
	submission, err := service.SubmitDonationProof(ctx, "user-1", req.ID.Hex(),
		"https://proof-bucket.s3.amazonaws.com/donation-proofs/x/1.jpg", "donated at city general", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, DonorPendingConfirmation, submission.Status)
	assert.False(t, submission.DonationDate.IsZero())

	// Requester asks for a clearer photo.
	updated, err := service.UpdateDonationStatus(ctx, "requester-1", req.ID.Hex(), "d1", OutcomeReupload, "photo is blurry")
	require.NoError(t, err)
	assert.Equal(t, DonorAccepted, updated.Donors["d1"].Status)
	assert.Empty(t, updated.Donors["d1"].DonationProofPhoto)
	assert.True(t, updated.Donors["d1"].NeedsReupload)
	assert.Equal(t, StatusPending, updated.Status)

	// Donor can submit again.
	submission, err = service.SubmitDonationProof(ctx, "user-1", req.ID.Hex(),
		"https://proof-bucket.s3.amazonaws.com/donation-proofs/x/2.jpg", "", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, DonorPendingConfirmation, submission.Status)

	final, err := repo.GetByID(ctx, req.ID)
	require.NoError(t, err)
	assert.False(t, final.Donors["d1"].NeedsReupload)
}

func TestSubmitProofAfterSettlement(t *testing.T) {
	repo := newMemRepository()
	req := seededRequest(repo, "requester-1", map[string]DonorResponse{
		"d1": donorEntry("d1", DonorRejected),
	})

	dir := new(MockDonorDirectory)
	dir.On("GetByUserID", mock.Anything, "user-1").
		Return(&DonorProfile{ID: "d1", UserID: "user-1"}, nil)

	service := newTestService(repo, dir, &stubNotifier{}, nil)

	_, err := service.SubmitDonationProof(context.Background(), "user-1", req.ID.Hex(),
		"https://proof-bucket.s3.amazonaws.com/p.jpg", "", time.Time{})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestGetRequestHistory(t *testing.T) {
	repo := newMemRepository()
	fulfilled := seededRequest(repo, "requester-1", map[string]DonorResponse{
		"d1": donorEntry("d1", DonorDonated),
		"d2": donorEntry("d2", DonorRejected),
	})
	fulfilled.Status = StatusFulfilled
	cancelled := seededRequest(repo, "requester-1", map[string]DonorResponse{})
	cancelled.Status = StatusCancelled
	seededRequest(repo, "requester-1", map[string]DonorResponse{}) // still pending

	service := newTestService(repo, new(MockDonorDirectory), &stubNotifier{}, nil)

	entries, summary, err := service.GetRequestHistory(context.Background(), "requester-1")
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.Fulfilled)
	assert.Equal(t, 1, summary.Cancelled)
	assert.Equal(t, 2, summary.TotalDonors)
	assert.Equal(t, 1, summary.TotalDonated)
}

func TestUpdateRequestBlockedOnceEngaged(t *testing.T) {
	repo := newMemRepository()
	req := seededRequest(repo, "requester-1", map[string]DonorResponse{
		"d1": donorEntry("d1", DonorAccepted),
	})

	service := newTestService(repo, new(MockDonorDirectory), &stubNotifier{}, nil)

	name := "New Name"
	_, err := service.UpdateRequest(context.Background(), "requester-1", req.ID.Hex(),
		UpdateRequestInput{PatientName: &name})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestDeleteRequestBlockedAfterDonation(t *testing.T) {
	repo := newMemRepository()
	req := seededRequest(repo, "requester-1", map[string]DonorResponse{
		"d1": donorEntry("d1", DonorDonated),
	})

	service := newTestService(repo, new(MockDonorDirectory), &stubNotifier{}, nil)

	err := service.DeleteRequest(context.Background(), "requester-1", req.ID.Hex())
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestFindNearbyRequestsExcludesOwnAndResolved(t *testing.T) {
	repo := newMemRepository()
	seededRequest(repo, "requester-1", map[string]DonorResponse{})
	other := seededRequest(repo, "requester-2", map[string]DonorResponse{})
	resolved := seededRequest(repo, "requester-3", map[string]DonorResponse{})
	resolved.Status = StatusFulfilled

	service := newTestService(repo, new(MockDonorDirectory), &stubNotifier{}, nil)

	nearby, err := service.FindNearbyRequests(context.Background(), "requester-1", NearbyFilter{})
	require.NoError(t, err)
	require.Len(t, nearby, 1)
	assert.Equal(t, other.ID, nearby[0].ID)
}
