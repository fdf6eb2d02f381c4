/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package controller

import (
	"context"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	jiemiv1alpha1 "github.com/scalaric/decryptor/api/v1alpha1"
	"github.com/scalaric/decryptor/internal/agentrpc"
	"github.com/scalaric/decryptor/internal/credentials"
)

// DefaultMaxConcurrentReconciles matches spec.md section 4.1's
// requirement that events for different Decryptors run in parallel.
const DefaultMaxConcurrentReconciles = 8

// DecryptorReconciler reconciles a Decryptor object against the agent
// (R) and the cluster, per spec.md section 4.1.
type DecryptorReconciler struct {
	client.Client

	State    *GenerationState
	Resolver *credentials.Resolver
	Applier  *Applier
	Agent    *agentrpc.Client
}

// +kubebuilder:rbac:groups=jiemi.cr,resources=decryptors,verbs=get;list;watch;create;update;patch;delete
// +kubebuilder:rbac:groups=jiemi.cr,resources=decryptors/status,verbs=get;update;patch
// +kubebuilder:rbac:groups="",resources=secrets,verbs=get;list;watch
// +kubebuilder:rbac:groups="",resources=events,verbs=create;patch

func (r *DecryptorReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	log := logf.FromContext(ctx)

	decryptor := &jiemiv1alpha1.Decryptor{}
	if err := r.Get(ctx, req.NamespacedName, decryptor); err != nil {
		if apierrors.IsNotFound(err) {
			r.State.Delete(req.NamespacedName)
			return ctrl.Result{}, nil
		}
		log.Error(err, "failed to get Decryptor")
		return ctrl.Result{}, err
	}

	if !r.State.Known(req.NamespacedName) {
		gitAuth, err := r.Resolver.ResolveGit(ctx, req.Namespace, decryptor.Spec.Source.Repository.Credentials)
		if err != nil {
			log.Error(err, "failed to resolve git credentials")
			return r.writeError(ctx, decryptor, err)
		}

		if _, err := r.Agent.SetRepository(ctx, agentrpc.SetRepositoryRequest{
			URL:  decryptor.Spec.Source.Repository.URL,
			Auth: toWireGitAuth(gitAuth),
		}); err != nil {
			log.Error(err, "SetRepository RPC failed")
			return r.writeError(ctx, decryptor, err)
		}
	}

	if unchanged := r.State.Upsert(req.NamespacedName, decryptor.Generation); unchanged {
		return ctrl.Result{}, nil
	}

	bundle, err := r.Resolver.ResolveProvider(ctx, req.Namespace, decryptor.Spec.Provider)
	if err != nil {
		log.Error(err, "failed to resolve provider credentials")
		return r.writeError(ctx, decryptor, err)
	}

	resp, err := r.Agent.Render(ctx, agentrpc.RenderRequest{
		URL:           decryptor.Spec.Source.Repository.URL,
		FileToDecrypt: decryptor.Spec.Source.FileToDecrypt,
		SopsPath:      decryptor.Spec.Source.SopsPath,
		Provider:      toWireProviderBundle(bundle),
	})
	if err != nil {
		log.Error(err, "Render RPC failed")
		return r.writeError(ctx, decryptor, err)
	}

	if err := r.Applier.Apply(ctx, req.Namespace, []byte(resp.RenderedYAML)); err != nil {
		log.Error(err, "failed to apply rendered manifest")
		return r.writeStatus(ctx, decryptor, jiemiv1alpha1.StatusEntry{
			DeployedAt:    metav1.Now(),
			Revision:      resp.CommitHash,
			FileToDecrypt: decryptor.Spec.Source.FileToDecrypt,
			Status:        jiemiv1alpha1.SyncStatusNotSync,
			ErrorMessage:  err.Error(),
		})
	}

	log.Info("reconciled Decryptor", "name", req.Name, "revision", resp.CommitHash)
	return r.writeStatus(ctx, decryptor, jiemiv1alpha1.StatusEntry{
		DeployedAt:    metav1.Now(),
		Revision:      resp.CommitHash,
		FileToDecrypt: decryptor.Spec.Source.FileToDecrypt,
		Status:        jiemiv1alpha1.SyncStatusSync,
	})
}

// writeError records a terminal-for-this-generation failure as an Error
// status, carrying forward the previous revision if any (spec.md section
// 4.1 point 4).
func (r *DecryptorReconciler) writeError(ctx context.Context, decryptor *jiemiv1alpha1.Decryptor, cause error) (ctrl.Result, error) {
	prevRevision := ""
	if decryptor.Status.Current != nil {
		prevRevision = decryptor.Status.Current.Revision
	}
	return r.writeStatus(ctx, decryptor, jiemiv1alpha1.StatusEntry{
		DeployedAt:    metav1.Now(),
		Revision:      prevRevision,
		FileToDecrypt: decryptor.Spec.Source.FileToDecrypt,
		Status:        jiemiv1alpha1.SyncStatusError,
		ErrorMessage:  cause.Error(),
	})
}

// writeStatus pushes entry onto decryptor's status history and
// merge-patches the status subresource, per the commutative merge-patch
// discipline in spec.md section 4.1.
func (r *DecryptorReconciler) writeStatus(ctx context.Context, decryptor *jiemiv1alpha1.Decryptor, entry jiemiv1alpha1.StatusEntry) (ctrl.Result, error) {
	patch := client.MergeFrom(decryptor.DeepCopy())
	decryptor.Status.PushCurrent(entry)
	if err := r.Status().Patch(ctx, decryptor, patch); err != nil {
		return ctrl.Result{}, err
	}
	return ctrl.Result{}, nil
}

func toWireGitAuth(a credentials.GitAuth) agentrpc.GitAuth {
	return agentrpc.GitAuth{
		Variant:       string(a.Variant),
		Username:      a.Username,
		Token:         a.Token,
		SSHPrivateKey: a.SSHPrivateKey,
	}
}

func toWireProviderBundle(b credentials.Bundle) agentrpc.ProviderBundle {
	return agentrpc.ProviderBundle{
		Variant:               string(b.Variant),
		GcpServiceAccountJSON: b.GcpServiceAccountJSON,
		AwsKeyID:              b.AwsKeyID,
		AwsAccessKey:          b.AwsAccessKey,
		AwsRegion:             b.AwsRegion,
		PgpPrivateKeyArmored:  b.PgpPrivateKeyArmored,
		VaultToken:            b.VaultToken,
	}
}

// SetupWithManager sets up the controller with the Manager.
func (r *DecryptorReconciler) SetupWithManager(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		For(&jiemiv1alpha1.Decryptor{}).
		WithOptions(controller.Options{MaxConcurrentReconciles: DefaultMaxConcurrentReconciles}).
		Named("decryptor").
		Complete(r)
}
