package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medsched/clinic-scheduling/internal/db"
	"github.com/medsched/clinic-scheduling/internal/schedule"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	if err := db.Migrate(context.Background(), pool); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	gofakeit.Seed(time.Now().UnixNano())

	if err := seedProviders(context.Background(), pool, 50); err != nil {
		log.Fatalf("seed providers: %v", err)
	}
	if err := seedLocations(context.Background(), pool, 12); err != nil {
		log.Fatalf("seed locations: %v", err)
	}
	if err := seedPatients(context.Background(), pool, 5000); err != nil {
		log.Fatalf("seed patients: %v", err)
	}

	log.Println("seed complete")
}

// defaultAvailability builds a plausible weekday schedule: morning and
// afternoon blocks Monday through Friday.
func defaultAvailability() schedule.WeeklyAvailability {
	morning := schedule.TimeRange{Start: 9 * 60, End: 12 * 60}
	afternoon := schedule.TimeRange{Start: 13 * 60, End: 17 * 60}

	weekly := schedule.WeeklyAvailability{}
	for day := time.Monday; day <= time.Friday; day++ {
		weekly[day] = []schedule.TimeRange{morning, afternoon}
	}
	return weekly
}

func seedProviders(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Printf("seeding %d providers", count)

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

	availability, err := json.Marshal(defaultAvailability())
	if err != nil {
		return err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for i := 0; i < count; i++ {
		id := uuid.New()
		name := gofakeit.Name()
		specialty := specialties[gofakeit.Number(0, len(specialties)-1)]

		_, err := tx.Exec(ctx, `
			INSERT INTO providers (id, name, specialty, availability, active, created_at, updated_at)
			VALUES ($1, $2, $3, $4, TRUE, now(), now())
		`, id, name, specialty, availability)
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Println("providers seeded")
	return nil
}

func seedLocations(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Printf("seeding %d locations", count)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for i := 0; i < count; i++ {
		id := uuid.New()
		name := gofakeit.Company() + " Clinic"
		capacity := gofakeit.Number(2, 8)

		_, err := tx.Exec(ctx, `
			INSERT INTO locations (id, name, capacity, active, created_at, updated_at)
			VALUES ($1, $2, $3, TRUE, now(), now())
		`, id, name, capacity)
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Println("locations seeded")
	return nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Printf("seeding %d patients", count)

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			id := uuid.New()
			name := gofakeit.Name()
			email := gofakeit.Email()

			_, err := tx.Exec(ctx, `
				INSERT INTO patients (id, name, email, created_at, updated_at)
				VALUES ($1, $2, $3, now(), now())
			`, id, name, email)
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		log.Printf("patients seeded: %d/%d", end, count)
	}

	log.Println("patients seeded")
	return nil
}
