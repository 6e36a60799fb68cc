package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/hospital-scheduling/internal/config"
	"github.com/hackgods/hospital-scheduling/internal/db"
	"github.com/hackgods/hospital-scheduling/internal/logging"
	"github.com/hackgods/hospital-scheduling/internal/scheduling"
)

type seedOptions struct {
	clinicians  int
	patients    int
	days        int
	slotLength  time.Duration
	dayStart    int
	dayEnd      int
	concurrency int
}

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

func main() {
	var opts seedOptions

	cmd := &cobra.Command{
		Use:          "seed",
		Short:        "Fill the database with clinicians, patients and a grid of open slots",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}
	cmd.Flags().IntVar(&opts.clinicians, "clinicians", 100, "clinicians to create")
	cmd.Flags().IntVar(&opts.patients, "patients", 9000, "patients to create")
	cmd.Flags().IntVar(&opts.days, "days", 5, "working days of slots to define, starting tomorrow")
	cmd.Flags().DurationVar(&opts.slotLength, "slot-length", 30*time.Minute, "length of each slot")
	cmd.Flags().IntVar(&opts.dayStart, "day-start", 9, "first bookable hour, clinic time")
	cmd.Flags().IntVar(&opts.dayEnd, "day-end", 17, "hour the last slot must end by, clinic time")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 8, "clinicians whose calendars are defined in parallel")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts seedOptions) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load: %w", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	pool, err := db.ConnectPostgres(connectCtx, cfg.PostgresDSN, cfg.DBMaxConns, cfg.DBMinConns)
	cancel()
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	faker := gofakeit.New(uint64(time.Now().UnixNano()))

	clinicianIDs, err := seedClinicians(ctx, pool, faker, opts.clinicians)
	if err != nil {
		return fmt.Errorf("seed clinicians: %w", err)
	}
	logger.Info("clinicians seeded", zap.Int("count", len(clinicianIDs)))

	if err := seedPatients(ctx, pool, faker, opts.patients); err != nil {
		return fmt.Errorf("seed patients: %w", err)
	}
	logger.Info("patients seeded", zap.Int("count", opts.patients))

	// slots go through the service so overlap checks and audit rows apply
	svc := scheduling.NewService(scheduling.NewPgStore(pool, cfg.LockTimeout), nil, cfg, logger.Named("scheduling"))
	defined, err := seedSlots(ctx, svc, cfg.ClinicTimezone, clinicianIDs, opts)
	if err != nil {
		return fmt.Errorf("seed slots: %w", err)
	}
	logger.Info("slots seeded", zap.Int("count", defined))

	logger.Info("seed complete")
	return nil
}

func seedClinicians(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, count int) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, count)
	rows := make([][]any, 0, count)
	now := time.Now()
	for i := 0; i < count; i++ {
		id := uuid.New()
		ids = append(ids, id)
		name := "Dr. " + faker.Name()
		rows = append(rows, []any{id, name, specialties[faker.Number(0, len(specialties)-1)], now, now})
	}

	_, err := pool.CopyFrom(ctx,
		pgx.Identifier{"clinicians"},
		[]string{"id", "name", "specialty", "created_at", "updated_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, count int) error {
	const batchSize = 500
	now := time.Now()

	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		rows := make([][]any, 0, end-offset)
		for i := offset; i < end; i++ {
			rows = append(rows, []any{uuid.New(), faker.Name(), faker.Email(), now, now})
		}

		_, err := pool.CopyFrom(ctx,
			pgx.Identifier{"patients"},
			[]string{"id", "name", "email", "created_at", "updated_at"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func seedSlots(ctx context.Context, svc *scheduling.Service, loc *time.Location, clinicianIDs []uuid.UUID, opts seedOptions) (int, error) {
	starts := slotGrid(time.Now().In(loc), opts)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.concurrency)

	counts := make([]int, len(clinicianIDs))
	for i, clinicianID := range clinicianIDs {
		g.Go(func() error {
			for _, start := range starts {
				_, err := svc.DefineSlot(ctx, scheduling.SystemActor, scheduling.DefineSlotInput{
					ClinicianID: clinicianID,
					Start:       start,
					End:         start.Add(opts.slotLength),
				})
				if err != nil {
					return fmt.Errorf("clinician %s at %s: %w", clinicianID, start.Format(time.RFC3339), err)
				}
				counts[i]++
			}
			return nil
		})
	}
	err := g.Wait()

	total := 0
	for _, n := range counts {
		total += n
	}
	return total, err
}

// slotGrid lists slot starts on the next opts.days weekdays after now,
// between dayStart and dayEnd in now's location.
func slotGrid(now time.Time, opts seedOptions) []time.Time {
	var starts []time.Time
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	for added := 0; added < opts.days; {
		day = day.AddDate(0, 0, 1)
		if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		added++

		open := day.Add(time.Duration(opts.dayStart) * time.Hour)
		closeAt := day.Add(time.Duration(opts.dayEnd) * time.Hour)
		for t := open; !t.Add(opts.slotLength).After(closeAt); t = t.Add(opts.slotLength) {
			starts = append(starts, t)
		}
	}
	return starts
}
