package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"challenge-platform/models"

	"github.com/gosimple/slug"
	"go.uber.org/zap"
)

const (
	DefaultCertificateWorkers   = 2
	DefaultCertificateQueueSize = 64

	certificateJobTimeout = 30 * time.Second
)

// ArtifactRecorder stores the uploaded certificate location on the user's record.
type ArtifactRecorder interface {
	RecordCertificateArtifact(ctx context.Context, userID string, tier models.Rank, url string) error
}

type certificateJob struct {
	userID        string
	tier          models.Rank
	certificateID string
	purchased     bool
}

// CertificateIssuer renders and mails certificates on a bounded worker pool. Enqueueing never
// blocks; a full queue drops the job with a warning.
type CertificateIssuer struct {
	Members   MemberDirectory
	Renderer  CertificateRenderer
	Sender    NotificationSender
	Artifacts ArtifactStore
	Recorder  ArtifactRecorder
	Logger    *zap.Logger
	Workers   int

	queue  chan certificateJob
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

type IssuerDeps struct {
	Members   MemberDirectory
	Renderer  CertificateRenderer
	Sender    NotificationSender
	Artifacts ArtifactStore
	Logger    *zap.Logger
	Workers   int
	QueueSize int
}

func NewCertificateIssuer(deps IssuerDeps) *CertificateIssuer {
	if deps.Workers <= 0 {
		deps.Workers = DefaultCertificateWorkers
	}
	if deps.QueueSize <= 0 {
		deps.QueueSize = DefaultCertificateQueueSize
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &CertificateIssuer{
		Members:   deps.Members,
		Renderer:  deps.Renderer,
		Sender:    deps.Sender,
		Artifacts: deps.Artifacts,
		Logger:    deps.Logger,
		Workers:   deps.Workers,
		queue:     make(chan certificateJob, deps.QueueSize),
	}
}

// Start launches the workers. They exit when Stop closes the queue or ctx ends.
func (i *CertificateIssuer) Start(ctx context.Context) {
	for w := 0; w < i.Workers; w++ {
		i.wg.Add(1)
		go func() {
			defer i.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job, ok := <-i.queue:
					if !ok {
						return
					}
					i.process(ctx, job)
				}
			}
		}()
	}
}

// Stop refuses new jobs, drains the queue and waits for the workers.
func (i *CertificateIssuer) Stop() {
	i.mu.Lock()
	if !i.closed {
		i.closed = true
		close(i.queue)
	}
	i.mu.Unlock()
	i.wg.Wait()
}

// NotifyRankUp sends the congratulation certificate for a newly reached rank.
func (i *CertificateIssuer) NotifyRankUp(userID string, rank models.Rank) {
	i.enqueue(certificateJob{userID: userID, tier: rank})
}

// DeliverCertificate renders, stores and mails a purchased certificate.
func (i *CertificateIssuer) DeliverCertificate(userID string, tier models.Rank, certificateID string) {
	i.enqueue(certificateJob{userID: userID, tier: tier, certificateID: certificateID, purchased: true})
}

func (i *CertificateIssuer) enqueue(job certificateJob) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.closed {
		i.Logger.Warn("certificate issuer stopped, dropping job",
			zap.String("user_id", job.userID),
			zap.String("tier", string(job.tier)),
		)
		return
	}
	select {
	case i.queue <- job:
	default:
		i.Logger.Warn("certificate queue full, dropping job",
			zap.String("user_id", job.userID),
			zap.String("tier", string(job.tier)),
		)
	}
}

func (i *CertificateIssuer) process(parent context.Context, job certificateJob) {
	ctx, cancel := context.WithTimeout(parent, certificateJobTimeout)
	defer cancel()

	log := i.Logger.With(
		zap.String("user_id", job.userID),
		zap.String("tier", string(job.tier)),
		zap.Bool("purchased", job.purchased),
	)
	if err := i.issue(ctx, job, log); err != nil {
		log.Error("certificate delivery failed", zap.Error(err))
		return
	}
	log.Info("📨 certificate delivered")
}

func (i *CertificateIssuer) issue(ctx context.Context, job certificateJob, log *zap.Logger) error {
	member, err := i.Members.Get(ctx, job.userID)
	if err != nil {
		return fmt.Errorf("load member: %w", err)
	}
	name := member.DisplayName()

	artifact, err := i.Renderer.Generate(name, job.tier)
	if err != nil {
		return fmt.Errorf("render certificate: %w", err)
	}

	if job.purchased && i.Artifacts != nil {
		key := ArtifactKey(name, job.tier, job.certificateID)
		url, err := i.Artifacts.Upload(ctx, key, artifact, "image/svg+xml")
		if err != nil {
			log.Warn("certificate upload failed", zap.String("key", key), zap.Error(err))
		} else if i.Recorder != nil {
			if err := i.Recorder.RecordCertificateArtifact(ctx, job.userID, job.tier, url); err != nil {
				log.Warn("failed to record certificate artifact", zap.String("url", url), zap.Error(err))
			}
		}
	}

	if member.Email == "" {
		return fmt.Errorf("member has no email: %w", ErrNotFound)
	}
	if err := i.Sender.SendCertificate(ctx, member.Email, name, job.tier, artifact); err != nil {
		return fmt.Errorf("send certificate: %w", err)
	}
	return nil
}

// ArtifactKey is the object key a purchased certificate is stored under.
func ArtifactKey(name string, tier models.Rank, certificateID string) string {
	return fmt.Sprintf("certificates/%s-%s-%s.svg", slug.Make(name), tier, certificateID)
}
