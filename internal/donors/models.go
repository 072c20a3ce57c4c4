package donors

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"bloodhero/donation-portal/donation-portal-backend/internal/matching"
	"bloodhero/donation-portal/donation-portal-backend/internal/requests"
)

// Address is the donor's registered address, used for area matching.
type Address struct {
	Street  string `json:"street,omitempty" bson:"street,omitempty"`
	City    string `json:"city" bson:"city"`
	State   string `json:"state" bson:"state"`
	ZipCode string `json:"zip_code,omitempty" bson:"zipCode,omitempty"`
	Country string `json:"country,omitempty" bson:"country,omitempty"`
}

// AcceptedRequest mirrors a donor's engagement with a blood request. The
// request document owns the state; this entry is kept in sync for the donor's
// own history view.
type AcceptedRequest struct {
	RequestID          primitive.ObjectID   `json:"request_id" bson:"request"`
	AcceptedAt         time.Time            `json:"accepted_at" bson:"acceptedAt"`
	Status             requests.DonorStatus `json:"status" bson:"status"`
	DonationDate       *time.Time           `json:"donation_date,omitempty" bson:"donationDate,omitempty"`
	DonationProofPhoto string               `json:"donation_proof_photo,omitempty" bson:"donationProofPhoto,omitempty"`
	Notes              string               `json:"notes,omitempty" bson:"notes,omitempty"`
	RequesterFeedback  string               `json:"requester_feedback,omitempty" bson:"requesterFeedback,omitempty"`
	NeedsReupload      bool                 `json:"needs_reupload" bson:"needsReupload"`
}

// Donor is the donor profile aggregate owned by the donor directory.
type Donor struct {
	ID               primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	UserID           string             `json:"user_id" bson:"user"`
	BloodType        matching.BloodType `json:"blood_type" bson:"bloodType"`
	Address          Address            `json:"address" bson:"address"`
	Location         *requests.GeoPoint `json:"location,omitempty" bson:"location,omitempty"`
	Phone            string             `json:"phone,omitempty" bson:"phone,omitempty"`
	IsAvailable      bool               `json:"is_available" bson:"isAvailable"`
	AcceptedRequests []AcceptedRequest  `json:"accepted_requests" bson:"acceptedRequests"`
	CreatedAt        time.Time          `json:"created_at" bson:"createdAt"`
	UpdatedAt        time.Time          `json:"updated_at" bson:"updatedAt"`
}

// AcceptedRequestView joins a mirror entry with its request document for the
// donor's "accepted requests" listing.
type AcceptedRequestView struct {
	RequestID          string               `json:"request_id"`
	BloodGroup         matching.BloodType   `json:"blood_group"`
	PatientName        string               `json:"patient_name"`
	HospitalName       string               `json:"hospital_name"`
	Location           string               `json:"location"`
	Address            string               `json:"address"`
	Phone              string               `json:"phone"`
	UrgencyLevel       string               `json:"urgency_level"`
	UnitsNeeded        int                  `json:"units_needed"`
	Status             requests.DonorStatus `json:"status"`
	CreatedAt          time.Time            `json:"created_at"`
	AcceptedDate       time.Time            `json:"accepted_date"`
	DonationDate       *time.Time           `json:"donation_date,omitempty"`
	Notes              string               `json:"notes,omitempty"`
	RequesterFeedback  string               `json:"requester_feedback,omitempty"`
	NeedsReupload      bool                 `json:"needs_reupload"`
	DonationProofPhoto string               `json:"donation_proof_photo,omitempty"`
}
