package notifications

import "fmt"

// Render builds the subject and body for a job. Data keys are filled in by
// the lifecycle service when the job is enqueued.
func Render(job Job) Message {
	d := job.Data
	switch job.Event {
	case EventRequestCreated:
		return Message{
			Subject: "Your blood request has been posted",
			Body: fmt.Sprintf(
				"Hi %s, your request for %s units of %s blood for %s at %s is now live. Matching donors in %s are being notified.",
				job.Recipient.Name, d["units"], d["blood_type"], d["patient_name"], d["hospital"], d["city"]),
		}

	case EventNearbyRequest:
		subject := fmt.Sprintf("%s blood needed at %s", d["blood_type"], d["hospital"])
		if d["urgent"] == "true" {
			subject = "URGENT: " + subject
		}
		return Message{
			Subject: subject,
			Body: fmt.Sprintf(
				"Hi %s, a patient near you needs %s units of %s blood at %s, %s. Open the app to respond.",
				job.Recipient.Name, d["units"], d["blood_type"], d["hospital"], d["city"]),
		}

	case EventDonorAccepted:
		return Message{
			Subject: fmt.Sprintf("%s accepted your blood request", d["donor_name"]),
			Body: fmt.Sprintf(
				"Hi %s, %s has accepted your request for %s blood for %s. You can reach them at %s.",
				job.Recipient.Name, d["donor_name"], d["blood_type"], d["patient_name"], d["donor_phone"]),
		}

	case EventProofSubmitted:
		return Message{
			Subject: fmt.Sprintf("%s submitted donation proof", d["donor_name"]),
			Body: fmt.Sprintf(
				"Hi %s, %s has uploaded proof of their donation for %s. Please review and verify it here: %s",
				job.Recipient.Name, d["donor_name"], d["patient_name"], d["verify_url"]),
		}

	case EventDonationConfirmed:
		return Message{
			Subject: "Your donation has been confirmed",
			Body: fmt.Sprintf(
				"Hi %s, the requester has confirmed your donation for %s. Thank you for saving a life.",
				job.Recipient.Name, d["patient_name"]),
		}

	case EventDonationRejected:
		return Message{
			Subject: "Your donation proof was not accepted",
			Body: fmt.Sprintf(
				"Hi %s, the requester could not verify your donation for %s. Reason: %s",
				job.Recipient.Name, d["patient_name"], d["feedback"]),
		}

	case EventReuploadRequested:
		return Message{
			Subject: "Please re-upload your donation proof",
			Body: fmt.Sprintf(
				"Hi %s, the requester asked for a clearer proof photo for %s. Reason: %s. Please upload a new photo from your dashboard.",
				job.Recipient.Name, d["patient_name"], d["feedback"]),
		}

	case EventDonorSettled:
		return Message{
			Subject: "Update on the blood request you accepted",
			Body:    fmt.Sprintf("Hi %s, %s", job.Recipient.Name, d["feedback"]),
		}

	case EventRequestCancelled:
		return Message{
			Subject: "A blood request you accepted was cancelled",
			Body: fmt.Sprintf(
				"Hi %s, the request for %s blood for %s has been cancelled by the requester.",
				job.Recipient.Name, d["blood_type"], d["patient_name"]),
		}
	}

	return Message{Subject: "BloodHero notification", Body: "You have a new notification."}
}
