package diff

import (
	"testing"

	"jirasync/internal/models"
)

func sub(ticket string, parent *models.ParentTask) models.SubTask {
	return models.SubTask{TicketNumber: ticket, ParentTask: parent}
}

func TestDetect_BatchChange(t *testing.T) {
	prevParent := &models.ParentTask{TicketNumber: "P1", BatchName: "A"}
	newParent := &models.ParentTask{TicketNumber: "P1", BatchName: "B"}
	prev := []models.SubTask{sub("S1", prevParent)}
	next := []models.SubTask{sub("S1", newParent)}

	events := NewDetector(false).Detect(prev, next)
	if len(events) != 1 {
		t.Fatalf("events=%d want 1", len(events))
	}
	ev := events[0]
	if ev.SubTicket != "S1" || ev.ParentTicket != "P1" || ev.Field != FieldBatchName {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.Old != "A" || ev.New != "B" {
		t.Fatalf("old=%q new=%q want A/B", ev.Old, ev.New)
	}
	if !next[0].BatchChanged {
		t.Fatalf("new sub-task must be marked changed")
	}
}

func TestDetect_NoChange(t *testing.T) {
	prevParent := &models.ParentTask{TicketNumber: "P1", BatchName: "A"}
	newParent := &models.ParentTask{TicketNumber: "P1", BatchName: "A"}
	prev := []models.SubTask{sub("S1", prevParent)}
	next := []models.SubTask{sub("S1", newParent)}

	if events := NewDetector(false).Detect(prev, next); len(events) != 0 {
		t.Fatalf("events=%d want 0", len(events))
	}
	if next[0].BatchChanged {
		t.Fatalf("sub-task must not be marked")
	}
}

func TestDetect_FirstSightingIsNotAChange(t *testing.T) {
	newParent := &models.ParentTask{TicketNumber: "P1", BatchName: "B"}
	next := []models.SubTask{sub("S-new", newParent)}

	if events := NewDetector(false).Detect(nil, next); len(events) != 0 {
		t.Fatalf("events=%d want 0", len(events))
	}
}

func TestDetect_MissingParentRefSkipsComparison(t *testing.T) {
	prevParent := &models.ParentTask{TicketNumber: "P1", BatchName: "A"}
	prev := []models.SubTask{sub("S1", prevParent)}
	next := []models.SubTask{sub("S1", nil)}

	if events := NewDetector(false).Detect(prev, next); len(events) != 0 {
		t.Fatalf("nil new parent: events=%d want 0", len(events))
	}

	prev2 := []models.SubTask{sub("S1", nil)}
	next2 := []models.SubTask{sub("S1", &models.ParentTask{TicketNumber: "P1", BatchName: "B"})}
	if events := NewDetector(false).Detect(prev2, next2); len(events) != 0 {
		t.Fatalf("nil old parent: events=%d want 0", len(events))
	}
}

func TestDetect_OneEventPerSiblingSubTask(t *testing.T) {
	prevParent := &models.ParentTask{TicketNumber: "P2", BatchName: "Q2-B1"}
	newParent := &models.ParentTask{TicketNumber: "P2", BatchName: "Q2-B2"}
	prev := []models.SubTask{sub("S1", prevParent), sub("S2", prevParent), sub("S3", prevParent)}
	next := []models.SubTask{sub("S1", newParent), sub("S2", newParent), sub("S3", newParent)}

	events := NewDetector(false).Detect(prev, next)
	if len(events) != 3 {
		t.Fatalf("events=%d want 3 (one per sub-task, no de-duplication)", len(events))
	}
	for i := range next {
		if !next[i].BatchChanged {
			t.Fatalf("sub %s not marked", next[i].TicketNumber)
		}
	}
}

func TestDetect_DescriptionTracking(t *testing.T) {
	prevParent := &models.ParentTask{TicketNumber: "P1", BatchName: "A", Description: "old words"}
	newParent := &models.ParentTask{TicketNumber: "P1", BatchName: "A", Description: "new words"}
	prev := []models.SubTask{sub("S1", prevParent)}
	next := []models.SubTask{sub("S1", newParent)}

	if events := NewDetector(false).Detect(prev, next); len(events) != 0 {
		t.Fatalf("description must not be tracked by default")
	}

	next2 := []models.SubTask{sub("S1", newParent)}
	events := NewDetector(true).Detect(prev, next2)
	if len(events) != 1 || events[0].Field != FieldDescription {
		t.Fatalf("unexpected events: %+v", events)
	}
	if next2[0].BatchChanged {
		t.Fatalf("description change must not set the batch marker")
	}
}
