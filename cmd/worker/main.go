package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"

	"rollcall/internal/attendance"
	"rollcall/internal/config"
	"rollcall/internal/queue"
	"rollcall/internal/store"
)

// Worker consumes finalize jobs and fills ABSENT records for enrolled
// students who never checked in. The insert skips existing rows, so a PRESENT
// or LATE mark is never overwritten here.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "attendance:jobs")
	}

	ledger := attendance.NewRepository(db.Client)

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for jobs...")
	for msg := range messages {
		if msg.Type != "finalize" {
			continue
		}

		var job queue.FinalizeJob
		if err := json.Unmarshal(msg.Body, &job); err != nil {
			log.Printf("malformed finalize job: %v", err)
			continue
		}

		added, err := ledger.FillAbsences(ctx, job.CourseID, job.Date)
		if err != nil {
			log.Printf("absence fill failed for course %s on %s: %v", job.CourseID, job.Date.Format("2006-01-02"), err)
			continue
		}
		log.Printf("course %s finalized for %s: %d absences recorded", job.CourseID, job.Date.Format("2006-01-02"), added)
	}

	log.Println("worker stopped")
}
