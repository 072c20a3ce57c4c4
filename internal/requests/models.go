package requests

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"bloodhero/donation-portal/donation-portal-backend/internal/matching"
)

type RequestStatus string

const (
	StatusPending            RequestStatus = "pending"
	StatusPartiallyFulfilled RequestStatus = "partially_fulfilled"
	StatusFulfilled          RequestStatus = "fulfilled"
	StatusCancelled          RequestStatus = "cancelled"
)

type DonorStatus string

const (
	DonorPending             DonorStatus = "pending"
	DonorAccepted            DonorStatus = "accepted"
	DonorPendingConfirmation DonorStatus = "pending_confirmation"
	DonorDonated             DonorStatus = "donated"
	DonorRejected            DonorStatus = "rejected"
	DonorDeclined            DonorStatus = "declined"
)

type Urgency string

const (
	UrgencyNormal    Urgency = "normal"
	UrgencyUrgent    Urgency = "urgent"
	UrgencyEmergency Urgency = "emergency"
)

// MaxActiveDonors is the cap on donors simultaneously engaged on one request.
const MaxActiveDonors = 3

// DailyRequestLimit caps request creation per requester per calendar day.
const DailyRequestLimit = 15

// SettledFeedback is recorded on competing donors when another donation wins.
const SettledFeedback = "Blood has already been received from another donor. Thank you for your willingness to help."

// activeStatuses are the donor statuses that count against MaxActiveDonors.
var activeStatuses = []DonorStatus{DonorAccepted, DonorDonated, DonorPendingConfirmation}

// Hospital describes where the donation is needed.
type Hospital struct {
	Name    string `json:"name" bson:"name"`
	Address string `json:"address" bson:"address"`
	City    string `json:"city" bson:"city"`
	State   string `json:"state" bson:"state"`
	ZipCode string `json:"zip_code,omitempty" bson:"zipCode,omitempty"`
	Phone   string `json:"phone,omitempty" bson:"phone,omitempty"`
}

// ContactInfo is the requester's contact block on a request.
type ContactInfo struct {
	Name         string `json:"name,omitempty" bson:"name,omitempty"`
	Phone        string `json:"phone,omitempty" bson:"phone,omitempty"`
	Email        string `json:"email,omitempty" bson:"email,omitempty"`
	Relationship string `json:"relationship,omitempty" bson:"relationship,omitempty"`
}

// GeoPoint is a GeoJSON point stored as [longitude, latitude].
type GeoPoint struct {
	Type        string    `json:"type" bson:"type"`
	Coordinates []float64 `json:"coordinates" bson:"coordinates"`
}

// DonorResponse is one donor's engagement with a request. Responses live in
// BloodRequest.Donors keyed by donor id, so a donor can appear at most once.
type DonorResponse struct {
	DonorID            string      `json:"donor_id" bson:"donorId"`
	DonorName          string      `json:"donor_name,omitempty" bson:"donorName,omitempty"`
	DonorEmail         string      `json:"donor_email,omitempty" bson:"donorEmail,omitempty"`
	DonorPhone         string      `json:"donor_phone,omitempty" bson:"donorPhone,omitempty"`
	Status             DonorStatus `json:"status" bson:"status"`
	ResponseDate       time.Time   `json:"response_date" bson:"responseDate"`
	AcceptedDate       *time.Time  `json:"accepted_date,omitempty" bson:"acceptedDate,omitempty"`
	DonationDate       *time.Time  `json:"donation_date,omitempty" bson:"donationDate,omitempty"`
	DonationProofPhoto string      `json:"donation_proof_photo,omitempty" bson:"donationProofPhoto,omitempty"`
	Notes              string      `json:"notes,omitempty" bson:"notes,omitempty"`
	RequesterFeedback  string      `json:"requester_feedback,omitempty" bson:"requesterFeedback,omitempty"`
	NeedsReupload      bool        `json:"needs_reupload" bson:"needsReupload"`
}

// Active reports whether the response counts against the donor cap.
func (d DonorResponse) Active() bool {
	for _, s := range activeStatuses {
		if d.Status == s {
			return true
		}
	}
	return false
}

// BloodRequest is the request aggregate persisted as a single document.
type BloodRequest struct {
	ID          primitive.ObjectID       `json:"id" bson:"_id,omitempty"`
	RequestedBy string                   `json:"requested_by" bson:"requestedBy"`
	PatientName string                   `json:"patient_name" bson:"patientName"`
	BloodType   matching.BloodType       `json:"blood_type" bson:"bloodType"`
	UnitsNeeded int                      `json:"units_needed" bson:"unitsNeeded"`
	Hospital    Hospital                 `json:"hospital" bson:"hospital"`
	Location    *GeoPoint                `json:"location,omitempty" bson:"location,omitempty"`
	Urgency     Urgency                  `json:"urgency" bson:"urgency"`
	Reason      string                   `json:"reason" bson:"reason"`
	Status      RequestStatus            `json:"status" bson:"status"`
	RequiredBy  time.Time                `json:"required_by" bson:"requiredBy"`
	Donors      map[string]DonorResponse `json:"donors" bson:"donors"`
	ContactInfo ContactInfo              `json:"contact_info" bson:"contactInfo"`
	CreatedAt   time.Time                `json:"created_at" bson:"createdAt"`
	UpdatedAt   time.Time                `json:"updated_at" bson:"updatedAt"`
}

// ActiveDonorCount counts donors in accepted/donated/pending_confirmation.
func (r *BloodRequest) ActiveDonorCount() int {
	n := 0
	for _, d := range r.Donors {
		if d.Active() {
			n++
		}
	}
	return n
}

// MaxDonorsReached reports whether the donor cap is full.
func (r *BloodRequest) MaxDonorsReached() bool {
	return r.ActiveDonorCount() >= MaxActiveDonors
}

// RequestView is BloodRequest plus the derived donor-count fields returned by
// the "my requests" listing.
type RequestView struct {
	BloodRequest
	AcceptedDonorsCount int  `json:"accepted_donors_count"`
	MaxDonorsReached    bool `json:"max_donors_reached"`
}

// NewRequestView builds the listing view with derived counts.
func NewRequestView(r BloodRequest) RequestView {
	count := r.ActiveDonorCount()
	return RequestView{
		BloodRequest:        r,
		AcceptedDonorsCount: count,
		MaxDonorsReached:    count >= MaxActiveDonors,
	}
}

// DonorStats summarizes donor responses on a resolved request.
type DonorStats struct {
	Total    int `json:"total"`
	Donated  int `json:"donated"`
	Accepted int `json:"accepted"`
	Pending  int `json:"pending"`
	Declined int `json:"declined"`
	Rejected int `json:"rejected"`
}

// HistoryEntry is one resolved request in the requester's history.
type HistoryEntry struct {
	BloodRequest
	DonorStats     DonorStats `json:"donor_stats"`
	CompletionDate *time.Time `json:"completion_date,omitempty"`
}

// HistorySummary aggregates the requester's resolved requests.
type HistorySummary struct {
	Total              int `json:"total"`
	Fulfilled          int `json:"fulfilled"`
	PartiallyFulfilled int `json:"partially_fulfilled"`
	Cancelled          int `json:"cancelled"`
	TotalDonors        int `json:"total_donors"`
	TotalDonated       int `json:"total_donated"`
}

// CreateRequestInput carries the fields accepted by CreateRequest.
type CreateRequestInput struct {
	PatientName string             `json:"patient_name"`
	BloodType   matching.BloodType `json:"blood_type"`
	UnitsNeeded int                `json:"units_needed"`
	Hospital    Hospital           `json:"hospital"`
	Location    *GeoPoint          `json:"location,omitempty"`
	Urgency     Urgency            `json:"urgency"`
	Reason      string             `json:"reason"`
	RequiredBy  time.Time          `json:"required_by"`
	ContactInfo ContactInfo        `json:"contact_info"`
}

// UpdateRequestInput carries optional fields for UpdateRequest; nil means
// leave unchanged.
type UpdateRequestInput struct {
	PatientName *string             `json:"patient_name,omitempty"`
	BloodType   *matching.BloodType `json:"blood_type,omitempty"`
	UnitsNeeded *int                `json:"units_needed,omitempty"`
	Hospital    *Hospital           `json:"hospital,omitempty"`
	Urgency     *Urgency            `json:"urgency,omitempty"`
	Reason      *string             `json:"reason,omitempty"`
	RequiredBy  *time.Time          `json:"required_by,omitempty"`
	ContactInfo *ContactInfo        `json:"contact_info,omitempty"`
}

// VerifyOutcome is the requester's decision on a submitted donation proof.
type VerifyOutcome string

const (
	OutcomeConfirmed VerifyOutcome = "confirmed"
	OutcomeRejected  VerifyOutcome = "rejected"
	OutcomeReupload  VerifyOutcome = "reupload"
)

// ProofSubmission is the result returned by SubmitDonationProof.
type ProofSubmission struct {
	Status       DonorStatus `json:"status"`
	DonationDate time.Time   `json:"donation_date"`
	PhotoURL     string      `json:"photo_url"`
}

// NearbyFilter narrows the open-request listing for donors.
type NearbyFilter struct {
	BloodType matching.BloodType
	Urgency   Urgency
	Date      *time.Time
	Lat       *float64
	Lng       *float64
}

// NearbyRequest is an open request annotated with distance when the caller
// supplied coordinates.
type NearbyRequest struct {
	BloodRequest
	DistanceKm *float64 `json:"distance_km,omitempty"`
}
