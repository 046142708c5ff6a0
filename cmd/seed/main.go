package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/medication-adherence-engine/internal/db"
)

const (
	userCount     = 200
	itemsPerUser  = 3
	unitsPerItem  = 30
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

	gofakeit.Seed(time.Now().UnixNano())

	if err := seedUsers(context.Background(), pool, userCount); err != nil {
		log.Fatalf("seed users: %v", err)
	}

	log.Println("seed complete")
}

func seedUsers(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Printf("seeding %d users with items, schedules and stock", count)

	medications := []string{
		"Lisinopril",
		"Metformin",
		"Atorvastatin",
		"Levothyroxine",
		"Amlodipine",
		"Omeprazole",
		"Sertraline",
		"Vitamin D",
		"Fish Oil",
		"Magnesium",
	}

	times := [][]string{
		{"08:00"},
		{"08:00", "20:00"},
		{"08:00", "14:00", "20:00"},
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for i := 0; i < count; i++ {
		userID := uuid.New()

		birth := gofakeit.DateRange(
			time.Now().AddDate(-85, 0, 0),
			time.Now().AddDate(-20, 0, 0),
		)
		_, err := tx.Exec(ctx, `
			INSERT INTO profiles (user_id, birth_date, weight_kg, height_cm)
			VALUES ($1, $2, $3, $4)
		`, userID, birth, gofakeit.Float64Range(48, 120), gofakeit.Float64Range(150, 200))
		if err != nil {
			return fmt.Errorf("insert profile: %w", err)
		}

		for j := 0; j < itemsPerUser; j++ {
			itemID := uuid.New()
			category := "medication"
			if j == itemsPerUser-1 {
				category = "supplement"
			}

			_, err := tx.Exec(ctx, `
				INSERT INTO items (id, user_id, name, category, active, created_at, updated_at)
				VALUES ($1, $2, $3, $4, true, now(), now())
			`, itemID, userID, gofakeit.RandomString(medications), category)
			if err != nil {
				return fmt.Errorf("insert item: %w", err)
			}

			_, err = tx.Exec(ctx, `
				INSERT INTO schedules (id, item_id, frequency, times, days_of_week, interval_days, anchor_date, timezone, enabled, created_at, updated_at)
				VALUES ($1, $2, 'daily', $3, '{}', 0, now(), 'UTC', true, now(), now())
			`, uuid.New(), itemID, times[gofakeit.Number(0, len(times)-1)])
			if err != nil {
				return fmt.Errorf("insert schedule: %w", err)
			}

			_, err = tx.Exec(ctx, `
				INSERT INTO stock_records (item_id, units_left, units_total, last_refill_at, created_at, updated_at)
				VALUES ($1, $2, $2, now(), now(), now())
			`, itemID, unitsPerItem)
			if err != nil {
				return fmt.Errorf("insert stock record: %w", err)
			}
		}

		// Roughly half the users have a push subscription registered.
		if gofakeit.Bool() {
			_, err := tx.Exec(ctx, `
				INSERT INTO channel_bindings (user_id, channel, endpoint, enabled, created_at)
				VALUES ($1, 'push', $2, true, now())
			`, userID, gofakeit.URL())
			if err != nil {
				return fmt.Errorf("insert channel binding: %w", err)
			}
		}

		// A morning check-in alarm for some users.
		if gofakeit.Bool() {
			scheduledAt := time.Now().Add(time.Duration(gofakeit.Number(1, 48)) * time.Hour)
			_, err := tx.Exec(ctx, `
				INSERT INTO alarms (id, user_id, label, scheduled_at, recurrence, enabled, created_at, updated_at)
				VALUES ($1, $2, 'Daily check-in', $3, 'daily', true, now(), now())
			`, uuid.New(), userID, scheduledAt)
			if err != nil {
				return fmt.Errorf("insert alarm: %w", err)
			}
		}
	}

	return tx.Commit(ctx)
}
