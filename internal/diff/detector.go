// Package diff compares the freshly scraped dataset against the previous
// store snapshot and reports field-level transitions on tracked parent
// fields. It never touches the store: both inputs are in-memory snapshots.
package diff

import (
	"time"

	"jirasync/internal/models"
)

// Tracked field names.
const (
	FieldBatchName   = "batch_name"
	FieldDescription = "description"
)

// ChangeEvent records one tracked-field transition observed between two
// sync cycles. Events are pipeline output and are never persisted.
type ChangeEvent struct {
	SubTicket    string
	ParentTicket string
	Field        string
	Old          string
	New          string
	DetectedAt   time.Time
}

// TrackedField selects one parent field for change detection. Equal may
// be nil, in which case plain string equality is used.
type TrackedField struct {
	Name  string
	Of    func(*models.ParentTask) string
	Equal func(old, new string) bool
}

func BatchNameField() TrackedField {
	return TrackedField{
		Name: FieldBatchName,
		Of:   func(p *models.ParentTask) string { return p.BatchName },
	}
}

func DescriptionField() TrackedField {
	return TrackedField{
		Name: FieldDescription,
		Of:   func(p *models.ParentTask) string { return p.Description },
	}
}

type Detector struct {
	Fields []TrackedField
}

// NewDetector tracks the batch label, plus the parent description when
// trackDescription is set.
func NewDetector(trackDescription bool) *Detector {
	fields := []TrackedField{BatchNameField()}
	if trackDescription {
		fields = append(fields, DescriptionField())
	}
	return &Detector{Fields: fields}
}

// Detect matches next against prev by sub-task ticket number and emits one
// event per changed tracked field per sub-task. Sub-tasks whose owning
// parent moved its batch label are marked BatchChanged in place. Tickets
// absent from prev are first sightings and produce nothing; missing parent
// references on either side skip the comparison entirely.
func (d *Detector) Detect(prev, next []models.SubTask) []ChangeEvent {
	if len(next) == 0 || len(d.Fields) == 0 {
		return nil
	}

	prevByTicket := make(map[string]*models.SubTask, len(prev))
	for i := range prev {
		prevByTicket[prev[i].TicketNumber] = &prev[i]
	}

	now := time.Now().UTC()
	var events []ChangeEvent
	for i := range next {
		n := &next[i]
		if n.ParentTask == nil {
			continue
		}
		p, ok := prevByTicket[n.TicketNumber]
		if !ok || p.ParentTask == nil {
			continue
		}
		for _, f := range d.Fields {
			oldVal := f.Of(p.ParentTask)
			newVal := f.Of(n.ParentTask)
			equal := oldVal == newVal
			if f.Equal != nil {
				equal = f.Equal(oldVal, newVal)
			}
			if equal {
				continue
			}
			events = append(events, ChangeEvent{
				SubTicket:    n.TicketNumber,
				ParentTicket: n.ParentTask.TicketNumber,
				Field:        f.Name,
				Old:          oldVal,
				New:          newVal,
				DetectedAt:   now,
			})
			if f.Name == FieldBatchName {
				n.BatchChanged = true
			}
		}
	}
	return events
}
