package controller

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/go-logr/logr"
	"github.com/hashicorp/go-multierror"

	jiemiv1alpha1 "github.com/scalaric/decryptor/api/v1alpha1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/scalaric/decryptor/internal/agentrpc"
	"github.com/scalaric/decryptor/internal/credentials"
	"github.com/scalaric/decryptor/internal/errs"
)

// Syncer runs the periodic sync described in spec.md section 4.8,
// independent of the watch stream: every interval it lists all
// Decryptors, re-renders each, and applies only when the commit hash
// has moved.
type Syncer struct {
	Client   client.Client
	Resolver *credentials.Resolver
	Applier  *Applier
	Agent    *agentrpc.Client
	Log      logr.Logger

	scheduler gocron.Scheduler
}

// NewSyncer builds a Syncer. The cadence is passed to Start (180s in
// production).
func NewSyncer(c client.Client, resolver *credentials.Resolver, applier *Applier, agent *agentrpc.Client, log logr.Logger) (*Syncer, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, errs.Wrap(errs.Watch, "failed to build sync scheduler", err)
	}
	return &Syncer{Client: c, Resolver: resolver, Applier: applier, Agent: agent, Log: log, scheduler: scheduler}, nil
}

// Start registers the periodic sync job.
func (s *Syncer) Start(ctx context.Context, interval time.Duration) error {
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() { s.runOnce(ctx) }),
	)
	if err != nil {
		return errs.Wrap(errs.Watch, "failed to schedule sync job", err)
	}
	s.scheduler.Start()
	return nil
}

// Stop shuts the scheduler down.
func (s *Syncer) Stop() error {
	return s.scheduler.Shutdown()
}

// runOnce lists every Decryptor and syncs each independently: one
// failing Decryptor must not halt the pass (spec.md section 4.8).
func (s *Syncer) runOnce(ctx context.Context) {
	list := &jiemiv1alpha1.DecryptorList{}
	if err := s.Client.List(ctx, list); err != nil {
		s.Log.Error(err, "failed to list Decryptors for periodic sync")
		return
	}

	var aggregate *multierror.Error
	for i := range list.Items {
		if err := s.syncOne(ctx, &list.Items[i]); err != nil {
			aggregate = multierror.Append(aggregate, err)
			s.Log.Error(err, "periodic sync failed for Decryptor", "name", list.Items[i].Name, "namespace", list.Items[i].Namespace)
		}
	}
	if aggregate != nil {
		s.Log.V(1).Info("periodic sync pass completed with failures", "count", aggregate.Len())
	}
}

func (s *Syncer) syncOne(ctx context.Context, decryptor *jiemiv1alpha1.Decryptor) error {
	var storedRevision string
	if decryptor.Status.Current != nil {
		storedRevision = decryptor.Status.Current.Revision
	}

	bundle, err := s.Resolver.ResolveProvider(ctx, decryptor.Namespace, decryptor.Spec.Provider)
	if err != nil {
		return err
	}

	resp, err := s.Agent.Render(ctx, agentrpc.RenderRequest{
		URL:           decryptor.Spec.Source.Repository.URL,
		FileToDecrypt: decryptor.Spec.Source.FileToDecrypt,
		SopsPath:      decryptor.Spec.Source.SopsPath,
		Provider:      toWireProviderBundle(bundle),
	})
	if err != nil {
		return err
	}

	if resp.CommitHash == storedRevision {
		return nil
	}

	patch := client.MergeFrom(decryptor.DeepCopy())
	entry := jiemiv1alpha1.StatusEntry{
		DeployedAt:    metav1.Now(),
		Revision:      resp.CommitHash,
		FileToDecrypt: decryptor.Spec.Source.FileToDecrypt,
		Status:        jiemiv1alpha1.SyncStatusSync,
	}
	if err := s.Applier.Apply(ctx, decryptor.Namespace, []byte(resp.RenderedYAML)); err != nil {
		entry.Status = jiemiv1alpha1.SyncStatusNotSync
		entry.ErrorMessage = err.Error()
	}
	decryptor.Status.PushCurrent(entry)
	return s.Client.Status().Patch(ctx, decryptor, patch)
}
