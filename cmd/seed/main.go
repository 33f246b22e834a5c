package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hackgods/appointment-ledger/internal/appointment"
	"github.com/hackgods/appointment-ledger/internal/bootstrap"
	"github.com/hackgods/appointment-ledger/internal/calendar"
	"github.com/hackgods/appointment-ledger/internal/config"
	"github.com/hackgods/appointment-ledger/internal/directory"
	"github.com/hackgods/appointment-ledger/internal/logger"
)

var specialties = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

var notes = []string{
	"Patient reports improvement since last visit",
	"Vitals within normal range",
	"Advised rest and hydration",
	"Referred for lab work, review in two weeks",
	"No change, continue current plan",
}

var medicines = []string{
	"Amoxicillin",
	"Ibuprofen",
	"Metformin",
	"Lisinopril",
	"Atorvastatin",
	"Cetirizine",
	"Omeprazole",
}

type options struct {
	providers    int
	patients     int
	appointments int
	days         int
	seed         int64
}

func main() {
	var opts options
	cmd := &cobra.Command{
		Use:           "seed",
		Short:         "Write a fake provider directory and book appointments through the ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
	}
	f := cmd.Flags()
	f.IntVar(&opts.providers, "providers", 20, "number of providers to generate")
	f.IntVar(&opts.patients, "patients", 500, "number of distinct patient IDs")
	f.IntVar(&opts.appointments, "appointments", 300, "number of appointments to attempt")
	f.IntVar(&opts.days, "days", 14, "book over this many days starting tomorrow")
	f.Int64Var(&opts.seed, "seed", 0, "random seed, 0 for time based")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "seed: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load: %w", err)
	}
	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer log.Sync()

	log.Info("seed starting")

	if opts.seed == 0 {
		opts.seed = time.Now().UnixNano()
	}
	faker := gofakeit.New(uint64(opts.seed))

	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	dir, err := seedProviders(faker, cfg.ProvidersFile, opts.providers)
	if err != nil {
		return fmt.Errorf("seed providers: %w", err)
	}
	log.Info("providers written", zap.String("path", cfg.ProvidersFile), zap.Int("count", len(dir)))

	stack, err := bootstrap.Open(ctx, cfg, log, nil)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer stack.Close()

	stats, err := seedAppointments(ctx, faker, stack.Ledger, dir, opts.patients, opts.appointments, opts.days)
	if err != nil {
		return fmt.Errorf("seed appointments: %w", err)
	}

	log.Info("seed complete",
		zap.Int64("seed", opts.seed),
		zap.Int("scheduled", stats.scheduled),
		zap.Int("conflicts", stats.conflicts),
		zap.Int("confirmed", stats.confirmed),
		zap.Int("completed", stats.completed),
		zap.Int("cancelled", stats.cancelled))
	return nil
}

func seedProviders(faker *gofakeit.Faker, path string, count int) ([]directory.Provider, error) {
	providers := make([]directory.Provider, 0, count)
	for i := 1; i <= count; i++ {
		providers = append(providers, directory.Provider{
			ID:             fmt.Sprintf("D%03d", i),
			Name:           "Dr. " + faker.Name(),
			Specialization: specialties[faker.Number(0, len(specialties)-1)],
		})
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	if err := directory.Write(f, providers); err != nil {
		_ = f.Close()
		return nil, err
	}
	return providers, f.Close()
}

type seedStats struct {
	scheduled, conflicts, confirmed, completed, cancelled int
}

func seedAppointments(ctx context.Context, faker *gofakeit.Faker, ledger *appointment.Ledger, providers []directory.Provider, patients, count, days int) (seedStats, error) {
	var stats seedStats
	if len(providers) == 0 || days <= 0 {
		return stats, nil
	}

	hours := ledger.Hours()
	var starts []calendar.Clock
	for _, c := range hours.Starts() {
		if !hours.IsBreakTime(c) {
			starts = append(starts, c)
		}
	}
	first := ledger.MinBookableDate()
	if tomorrow := calendar.DateOf(time.Now()).AddDays(1); tomorrow.After(first) {
		first = tomorrow
	}

	for i := 0; i < count; i++ {
		p := providers[faker.Number(0, len(providers)-1)]
		date := first.AddDays(faker.Number(0, days-1))
		at := starts[faker.Number(0, len(starts)-1)]

		rec, err := ledger.Schedule(ctx, faker.Number(1, patients), p.ID, date, at)
		if errors.Is(err, appointment.ErrSlotConflict) || errors.Is(err, appointment.ErrSlotBlocked) {
			stats.conflicts++
			continue
		}
		if err != nil {
			return stats, err
		}
		stats.scheduled++

		// walk a share of the bookings further along their lifecycle
		switch roll := faker.Number(1, 10); {
		case roll <= 2:
			if err := rec.Cancel(ctx); err != nil {
				return stats, err
			}
			stats.cancelled++
		case roll <= 6:
			if err := rec.Confirm(ctx); err != nil {
				return stats, err
			}
			stats.confirmed++
			if roll == 6 {
				if err := rec.RecordOutcome(ctx, fakeOutcome(faker)); err != nil {
					return stats, err
				}
				stats.completed++
			}
		}
	}
	return stats, nil
}

func fakeOutcome(faker *gofakeit.Faker) appointment.Outcome {
	o := appointment.Outcome{
		ServiceType:        faker.RandomString([]string{"Consultation", "Follow-up", "Check-up", "Procedure"}),
		Notes:              faker.RandomString(notes),
		PrescriptionStatus: faker.RandomString([]string{"Pending", "Issued", "Dispensed"}),
	}
	for n := faker.Number(0, 3); n > 0; n-- {
		o.Medicines = append(o.Medicines, appointment.Medicine{
			Name:     faker.RandomString(medicines),
			Quantity: faker.Number(1, 30),
		})
	}
	return o
}
