package appointment

import (
	"context"
	"reflect"
	"testing"
)

func sampleRecords(t *testing.T) []Record {
	t.Helper()
	return []Record{
		{ID: "A1", PatientID: 1, ProviderID: "D1", Date: day(t, "2025-01-10"), Time: at(t, "09:00"), Status: StatusScheduled},
		{ID: "A2", PatientID: 2, ProviderID: "D1", Date: day(t, "2025-01-10"), Time: at(t, "09:30"), Status: StatusConfirmed},
		{ID: "A3", PatientID: 3, ProviderID: "D2", Date: day(t, "2025-01-09"), Time: at(t, "15:00"), Status: StatusCompleted,
			Outcome: &Outcome{ServiceType: "Consultation", Notes: "follow up in \"two\" weeks, maybe", Medicines: []Medicine{{Name: "Ibuprofen", Quantity: 20}}, PrescriptionStatus: "Issued"}},
		{ID: "A4", PatientID: 1, ProviderID: "D2", Date: day(t, "2025-01-08"), Time: at(t, "10:00"), Status: StatusCancelled},
	}
}

// exerciseRepository checks the behaviour every Repository shares: empty
// start, whole-generation replacement and preserved order.
func exerciseRepository(t *testing.T, repo Repository) {
	t.Helper()
	ctx := context.Background()

	records, err := repo.Load(ctx)
	if err != nil {
		t.Fatalf("Load on empty store error: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("empty store loaded %d records", len(records))
	}
	holds, err := repo.LoadHolds(ctx)
	if err != nil {
		t.Fatalf("LoadHolds on empty store error: %v", err)
	}
	if len(holds) != 0 {
		t.Fatalf("empty store loaded %d holds", len(holds))
	}

	want := sampleRecords(t)
	if err := repo.Save(ctx, want); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	got, err := repo.Load(ctx)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Load =\n%+v\nwant\n%+v", got, want)
	}

	// A smaller generation replaces the larger one entirely.
	if err := repo.Save(ctx, want[2:3]); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	got, err = repo.Load(ctx)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if !reflect.DeepEqual(got, want[2:3]) {
		t.Fatalf("Load after shrink = %+v, want %+v", got, want[2:3])
	}

	wantHolds := []SlotKey{
		{ProviderID: "D2", Date: day(t, "2025-01-12"), Time: at(t, "11:00")},
		{ProviderID: "D1", Date: day(t, "2025-01-10"), Time: at(t, "09:30")},
	}
	if err := repo.SaveHolds(ctx, wantHolds); err != nil {
		t.Fatalf("SaveHolds error: %v", err)
	}
	gotHolds, err := repo.LoadHolds(ctx)
	if err != nil {
		t.Fatalf("LoadHolds error: %v", err)
	}
	if !reflect.DeepEqual(gotHolds, wantHolds) {
		t.Fatalf("LoadHolds = %v, want %v", gotHolds, wantHolds)
	}

	if err := repo.SaveHolds(ctx, nil); err != nil {
		t.Fatalf("SaveHolds(nil) error: %v", err)
	}
	gotHolds, _ = repo.LoadHolds(ctx)
	if len(gotHolds) != 0 {
		t.Fatalf("holds after clearing = %v", gotHolds)
	}
}

func TestMemoryRepository(t *testing.T) {
	exerciseRepository(t, NewMemoryRepository())
}

func TestMemoryRepository_CopiesOnSaveAndLoad(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	records := sampleRecords(t)
	if err := repo.Save(ctx, records); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	records[2].Outcome.Medicines[0].Quantity = 99
	loaded, _ := repo.Load(ctx)
	loaded[0].Status = StatusCancelled

	again, _ := repo.Load(ctx)
	if again[2].Outcome.Medicines[0].Quantity != 20 {
		t.Fatalf("caller mutation leaked into the store")
	}
	if again[0].Status != StatusScheduled {
		t.Fatalf("loaded copy shares state with the store")
	}
}
