// Package credentials resolves SecretRef values to cleartext strings
// against the cluster Secret store, and builds the Credentials bundle
// consumed once per Render RPC.
package credentials

import (
	"context"
	"fmt"
	"unicode/utf8"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/scalaric/decryptor/api/v1alpha1"
	"github.com/scalaric/decryptor/internal/errs"
)

// Resolver resolves SecretRef values against the cluster. It is re-entrant
// and holds no cache: every call is a fresh Secret lookup.
type Resolver struct {
	Client client.Client
}

// NewResolver builds a Resolver backed by c.
func NewResolver(c client.Client) *Resolver {
	return &Resolver{Client: c}
}

// Resolve returns the cleartext value of ref within namespace.
func (r *Resolver) Resolve(ctx context.Context, namespace string, ref v1alpha1.SecretRef) (string, error) {
	if err := ref.Validate(); err != nil {
		return "", errs.Wrap(errs.SecretLookup, "malformed secretRef", err)
	}

	if ref.IsLiteral() {
		return ref.Literal, nil
	}

	secret := &corev1.Secret{}
	key := types.NamespacedName{Namespace: namespace, Name: ref.SecretName}
	if err := r.Client.Get(ctx, key, secret); err != nil {
		if apierrors.IsNotFound(err) {
			return "", errs.Wrap(errs.SecretLookup, fmt.Sprintf("secret %s/%s not found", namespace, ref.SecretName), err)
		}
		return "", errs.Wrap(errs.SecretLookup, fmt.Sprintf("failed to get secret %s/%s", namespace, ref.SecretName), err)
	}

	raw, ok := secret.Data[ref.Key]
	if !ok {
		return "", errs.New(errs.SecretLookup, fmt.Sprintf("key %q not present in secret %s/%s", ref.Key, namespace, ref.SecretName))
	}

	if !utf8.Valid(raw) {
		return "", errs.New(errs.SecretLookup, fmt.Sprintf("key %q in secret %s/%s is not valid UTF-8", ref.Key, namespace, ref.SecretName))
	}

	return string(raw), nil
}
