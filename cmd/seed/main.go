package main

import (
	"context"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/hackgods/clinic-booking/internal/api"
	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/config"
	"github.com/hackgods/clinic-booking/internal/db"
	"github.com/hackgods/clinic-booking/internal/inventory"
	"github.com/hackgods/clinic-booking/internal/logging"
	"github.com/hackgods/clinic-booking/internal/patient"
)

const (
	doctorCount  = 20
	patientCount = 500
	slotDays     = 7
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Setup("info", "text", "seed").WithError(err).Fatal("config load error")
	}
	log := logging.Setup(cfg.LogLevel, cfg.LogFormat, "seed")
	log.Info("seed starting")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.WithError(err).Fatal("connect postgres")
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		log.WithError(err).Fatal("migrate")
	}

	gofakeit.Seed(time.Now().UnixNano())

	doctors, err := seedDoctors(ctx, pool, doctorCount, log)
	if err != nil {
		log.WithError(err).Fatal("seed doctors")
	}
	if err := seedSlots(ctx, pool, doctors, log); err != nil {
		log.WithError(err).Fatal("seed slots")
	}
	patients, err := seedPatients(ctx, patient.NewPgRepository(pool), patientCount, log)
	if err != nil {
		log.WithError(err).Fatal("seed patients")
	}

	if cfg.JWTSecret != "" {
		printToken(cfg.JWTSecret, uuid.New(), appointment.RoleAdmin)
		printToken(cfg.JWTSecret, doctors[0], appointment.RoleDoctor)
		printToken(cfg.JWTSecret, patients[0], appointment.RolePatient)
	}

	log.Info("seed complete")
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, count int, log *logrus.Entry) ([]uuid.UUID, error) {
	log.WithField("count", count).Info("seeding doctors")

	specialties := []string{
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

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		fee := float64(gofakeit.Number(40, 250))

		_, err := tx.Exec(ctx, `
			INSERT INTO doctors (id, first_name, last_name, specialization, email, consultation_fee, status)
			VALUES ($1, $2, $3, $4, $5, $6, 'ACTIVE')
		`, id, gofakeit.FirstName(), gofakeit.LastName(), gofakeit.RandomString(specialties),
			fmt.Sprintf("%s.%d@clinic.test", gofakeit.Username(), i), fee)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return ids, nil
}

// seedSlots goes through the ledger so generated windows obey the same
// overlap rules as slots created over the API.
func seedSlots(ctx context.Context, pool *pgxpool.Pool, doctors []uuid.UUID, log *logrus.Entry) error {
	ledger := inventory.NewLedger(inventory.NewPgRepository(pool), log)

	from := time.Now().UTC().AddDate(0, 0, 1)
	total := 0
	for _, id := range doctors {
		slots, err := ledger.GenerateSlots(ctx, id, inventory.GenerateRequest{
			From:     from,
			To:       from.AddDate(0, 0, slotDays-1),
			DayStart: 9 * time.Hour,
			DayEnd:   17 * time.Hour,
			Length:   30 * time.Minute,
		})
		if err != nil {
			return fmt.Errorf("doctor %s: %w", id, err)
		}
		total += len(slots)
	}

	log.WithField("count", total).Info("slots seeded")
	return nil
}

func seedPatients(ctx context.Context, repo patient.Repository, count int, log *logrus.Entry) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		status := "ACTIVE"
		if gofakeit.Number(1, 20) == 1 {
			status = "INACTIVE"
		}
		d := patient.Details{ID: uuid.New(), Name: gofakeit.Name(), Email: gofakeit.Email(), Status: status}
		if err := repo.Upsert(ctx, d); err != nil {
			return nil, err
		}
		ids = append(ids, d.ID)

		if (i+1)%100 == 0 {
			log.WithField("progress", fmt.Sprintf("%d/%d", i+1, count)).Info("patients seeded")
		}
	}
	return ids, nil
}

func printToken(secret string, id uuid.UUID, role appointment.Role) {
	token, err := api.IssueToken(secret, id, role, 24*time.Hour)
	if err != nil {
		return
	}
	fmt.Printf("%-8s %s\n%s\n\n", role, id, token)
}
