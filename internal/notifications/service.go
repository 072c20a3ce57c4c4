package notifications

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Service is the lifecycle engine's notification surface. Every method
// enqueues and returns immediately; delivery happens on the queue workers.
type Service struct {
	queue       *Queue
	frontendURL string
	logger      *zap.Logger
}

// NewService creates the notification service.
func NewService(queue *Queue, frontendURL string, logger *zap.Logger) *Service {
	return &Service{queue: queue, frontendURL: frontendURL, logger: logger}
}

// RequestSummary carries the request fields templates interpolate.
type RequestSummary struct {
	RequestID   string
	PatientName string
	BloodType   string
	UnitsNeeded int
	Hospital    string
	City        string
	Urgent      bool
}

func (s *Service) enqueue(event Event, rcpt Recipient, data map[string]string) {
	s.queue.Enqueue(Job{
		ID:         uuid.New(),
		Event:      event,
		Recipient:  rcpt,
		Data:       data,
		Channels:   DefaultChannels[event],
		EnqueuedAt: time.Now(),
	})
}

func summaryData(req RequestSummary) map[string]string {
	return map[string]string{
		"request_id":   req.RequestID,
		"patient_name": req.PatientName,
		"blood_type":   req.BloodType,
		"units":        strconv.Itoa(req.UnitsNeeded),
		"hospital":     req.Hospital,
		"city":         req.City,
		"urgent":       strconv.FormatBool(req.Urgent),
	}
}

// RequestCreated confirms the posting to the requester.
func (s *Service) RequestCreated(requester Recipient, req RequestSummary) {
	s.enqueue(EventRequestCreated, requester, summaryData(req))
}

// NearbyRequest fans the new request out to matching donors in the area.
func (s *Service) NearbyRequest(donors []Recipient, req RequestSummary) {
	data := summaryData(req)
	for _, donor := range donors {
		s.enqueue(EventNearbyRequest, donor, data)
	}
}

// DonorAccepted tells the requester a donor took the request.
func (s *Service) DonorAccepted(requester Recipient, req RequestSummary, donorName, donorPhone string) {
	data := summaryData(req)
	data["donor_name"] = donorName
	data["donor_phone"] = donorPhone
	s.enqueue(EventDonorAccepted, requester, data)
}

// ProofSubmitted asks the requester to verify the uploaded proof.
func (s *Service) ProofSubmitted(requester Recipient, req RequestSummary, donorID, donorName string) {
	data := summaryData(req)
	data["donor_name"] = donorName
	data["verify_url"] = fmt.Sprintf("%s/dashboard/requester/verify-donation/%s/%s",
		s.frontendURL, req.RequestID, donorID)
	s.enqueue(EventProofSubmitted, requester, data)
}

// DonationConfirmed congratulates the verified donor.
func (s *Service) DonationConfirmed(donor Recipient, req RequestSummary) {
	s.enqueue(EventDonationConfirmed, donor, summaryData(req))
}

// DonationRejected tells the donor their proof was declined.
func (s *Service) DonationRejected(donor Recipient, req RequestSummary, feedback string) {
	data := summaryData(req)
	data["feedback"] = feedback
	s.enqueue(EventDonationRejected, donor, data)
}

// ReuploadRequested asks the donor for a new proof photo.
func (s *Service) ReuploadRequested(donor Recipient, req RequestSummary, feedback string) {
	data := summaryData(req)
	data["feedback"] = feedback
	s.enqueue(EventReuploadRequested, donor, data)
}

// DonorSettled tells competing donors the request was fulfilled by someone
// else.
func (s *Service) DonorSettled(donors []Recipient, req RequestSummary, feedback string) {
	data := summaryData(req)
	data["feedback"] = feedback
	for _, donor := range donors {
		s.enqueue(EventDonorSettled, donor, data)
	}
}

// RequestCancelled tells engaged donors the request was withdrawn.
func (s *Service) RequestCancelled(donors []Recipient, req RequestSummary) {
	data := summaryData(req)
	for _, donor := range donors {
		s.enqueue(EventRequestCancelled, donor, data)
	}
}
