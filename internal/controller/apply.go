package controller

import (
	"context"
	"fmt"
	"strings"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/yaml"

	"github.com/scalaric/decryptor/internal/errs"
)

// FieldManager is the field owner used for every server-side apply issued
// by this operator.
const FieldManager = "miwen"

// Applier parses a single rendered manifest and applies it to the cluster.
type Applier struct {
	Client client.Client
}

// NewApplier builds an Applier backed by c.
func NewApplier(c client.Client) *Applier {
	return &Applier{Client: c}
}

// Apply parses renderedYAML, derives its GVK, and creates it if absent or
// server-side-applies over it if present, in namespace.
func (a *Applier) Apply(ctx context.Context, namespace string, renderedYAML []byte) error {
	obj := &unstructured.Unstructured{}
	raw := map[string]interface{}{}
	if err := yaml.Unmarshal(renderedYAML, &raw); err != nil {
		return errs.Wrap(errs.Apply, "failed to parse rendered manifest", err)
	}
	obj.Object = raw

	name := obj.GetName()
	if name == "" {
		return errs.New(errs.Apply, "rendered manifest is missing metadata.name")
	}

	kind := obj.GetKind()
	if kind == "" {
		return errs.New(errs.Apply, "rendered manifest is missing kind")
	}

	group, version := splitAPIVersion(obj.GetAPIVersion())
	obj.SetNamespace(namespace)
	obj.SetGroupVersionKind(schema.GroupVersionKind{Group: group, Version: version, Kind: kind})

	existing := &unstructured.Unstructured{}
	existing.SetGroupVersionKind(obj.GroupVersionKind())
	err := a.Client.Get(ctx, client.ObjectKeyFromObject(obj), existing)
	switch {
	case err == nil:
		if err := a.Client.Patch(ctx, obj, client.Apply, client.ForceOwnership, client.FieldOwner(FieldManager)); err != nil {
			return errs.Wrap(errs.Apply, fmt.Sprintf("failed to apply %s/%s", kind, name), err)
		}
	case apierrors.IsNotFound(err):
		if err := a.Client.Create(ctx, obj); err != nil {
			return errs.Wrap(errs.Apply, fmt.Sprintf("failed to create %s/%s", kind, name), err)
		}
	default:
		return errs.Wrap(errs.Apply, fmt.Sprintf("failed to get %s/%s", kind, name), err)
	}

	return nil
}

// splitAPIVersion derives (group, version) from apiVersion by splitting on
// the first slash. No slash means the core API group (empty group).
func splitAPIVersion(apiVersion string) (group, version string) {
	idx := strings.Index(apiVersion, "/")
	if idx < 0 {
		return "", apiVersion
	}
	return apiVersion[:idx], apiVersion[idx+1:]
}
