package patient

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/events"
)

// Projector applies patient events to the local projection.
type Projector struct {
	repo Repository
	log  *logrus.Entry
}

func NewProjector(repo Repository, log *logrus.Entry) *Projector {
	return &Projector{repo: repo, log: log.WithField("component", "patient_projector")}
}

// Handle is an events.Handler. Malformed or unknown events are logged and
// acknowledged; only storage errors are returned so the message is redelivered.
func (p *Projector) Handle(ctx context.Context, d events.Delivery[Event]) error {
	ev := d.Value
	log := p.log.WithFields(logrus.Fields{"event_type": ev.EventType, "patient_id": ev.PatientID})

	id, err := uuid.Parse(ev.PatientID)
	if err != nil {
		log.WithError(err).Error("invalid patient id in event, skipping")
		return nil
	}

	switch ev.EventType {
	case EventCreated, EventUpdated:
		status := strings.ToUpper(ev.Status)
		if status == "" {
			// creation events from older producers carry no status
			status = appointment.PatientActive
		}
		if err := p.repo.Upsert(ctx, Details{ID: id, Name: ev.Name, Email: ev.Email, Status: status}); err != nil {
			return err
		}
		log.WithField("status", status).Info("patient projection updated")

	case EventDeleted:
		found, err := p.repo.MarkDeleted(ctx, id)
		if err != nil {
			return err
		}
		if !found {
			log.Warn("delete for unknown patient, tombstone recorded")
			return nil
		}
		log.Info("patient marked deleted")

	default:
		log.Warn("unknown patient event type")
	}
	return nil
}

// Directory answers patient lookups for the booking flow from the projection.
type Directory struct {
	repo Repository
}

func NewDirectory(repo Repository) *Directory {
	return &Directory{repo: repo}
}

func (d *Directory) GetPatient(ctx context.Context, id uuid.UUID) (*appointment.Patient, error) {
	details, err := d.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &appointment.Patient{
		ID:     details.ID,
		Name:   details.Name,
		Email:  details.Email,
		Status: details.Status,
	}, nil
}
