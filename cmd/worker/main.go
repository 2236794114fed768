package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Cyansiiii/attendance/internal/apiclient"
	"github.com/Cyansiiii/attendance/internal/config"
	"github.com/Cyansiiii/attendance/internal/faceclient"
	"github.com/Cyansiiii/attendance/internal/queue"
	"github.com/Cyansiiii/attendance/internal/recognition"
	"github.com/Cyansiiii/attendance/internal/store"
)

// Worker consumes queued capture jobs, runs the face service against the
// selected roster, and persists the matches as present with method=facial.
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

	redisClient := store.NewRedis(cfg.RedisAddr)

	var jobs queue.Queue
	if cfg.QueueBackend == "memory" {
		jobs = queue.NewInMemory(64)
	} else {
		jobs = queue.NewRedisQueue(redisClient.Client, queue.DefaultKey)
	}

	face := faceclient.New(cfg.FaceServiceURL, cfg.FaceSkip)
	recognizer := recognition.NewService(face, 0.5)
	api := apiclient.New(cfg.BackendBaseURL, cfg.BackendTimeout, apiclient.StaticToken(""))

	if !cfg.FaceSkip {
		if err := face.Health(ctx); err != nil {
			log.Printf("WARNING: Face service not available: %v", err)
			log.Println("Worker will retry face processing when jobs arrive")
		} else {
			log.Println("Face service connected")
		}
	}

	messages, err := jobs.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for capture jobs...")
	for msg := range messages {
		job, err := queue.DecodeCaptureJob(msg)
		if err != nil {
			log.Printf("skip malformed job: %v", err)
			continue
		}
		process(ctx, api, recognizer, job)
		time.Sleep(10 * time.Millisecond) // Small delay between jobs
	}

	log.Println("worker stopped")
}

// process runs one capture job end to end. Failures are logged and the job
// dropped; nothing is retried.
func process(ctx context.Context, api *apiclient.Client, recognizer *recognition.Service, job queue.CaptureJob) {
	log.Printf("processing capture for %s %s/%s", job.Date, job.ClassName, job.Section)

	scoped := api.WithTokenSource(apiclient.StaticToken(job.Token))

	candidates, err := scoped.Students(ctx, job.ClassName, job.Section)
	if err != nil {
		log.Printf("roster fetch failed: %v", err)
		return
	}
	if len(candidates) == 0 {
		log.Printf("no students for %s/%s, dropping job", job.ClassName, job.Section)
		return
	}

	matches, err := recognizer.Recognize(ctx, recognition.Frame{ImageURL: job.ImageURL}, candidates)
	if err != nil {
		log.Printf("face recognition failed: %v", err)
		return
	}
	if len(matches) == 0 {
		log.Println("no enrolled students recognized in frame")
		return
	}

	ids := make([]string, 0, len(matches))
	for _, st := range matches {
		ids = append(ids, st.ID)
	}
	err = scoped.MarkAttendance(ctx, apiclient.MarkRequest{
		StudentIDs: ids,
		Date:       job.Date,
		Status:     apiclient.StatusPresent,
		Method:     apiclient.MethodFacial,
	})
	if err != nil {
		log.Printf("mark attendance failed: %v", err)
		return
	}
	log.Printf("marked %d students present via facial recognition", len(ids))
}
