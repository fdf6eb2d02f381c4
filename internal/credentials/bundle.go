package credentials

import (
	"context"

	"github.com/scalaric/decryptor/api/v1alpha1"
	"github.com/scalaric/decryptor/internal/errs"
)

// Variant tags the populated member of Bundle / GitAuth.
type Variant string

const (
	VariantNone  Variant = "none"
	VariantGcp   Variant = "gcp"
	VariantAws   Variant = "aws"
	VariantPgp   Variant = "pgp"
	VariantVault Variant = "vault"

	VariantToken Variant = "token"
	VariantSSH   Variant = "ssh"
)

// Bundle is the resolved decryption-provider credential, consumed once per
// Render RPC and never persisted.
type Bundle struct {
	Variant Variant

	GcpServiceAccountJSON string

	AwsKeyID     string
	AwsAccessKey string
	AwsRegion    string

	PgpPrivateKeyArmored string

	VaultToken string
}

// ResolveProvider turns a ProviderSpec into a resolved Bundle.
func (r *Resolver) ResolveProvider(ctx context.Context, namespace string, spec v1alpha1.ProviderSpec) (Bundle, error) {
	if err := spec.Validate(); err != nil {
		return Bundle{}, errs.Wrap(errs.ProviderAuth, "ambiguous provider spec", err)
	}

	switch {
	case spec.Gcp != nil:
		sa, err := r.Resolve(ctx, namespace, spec.Gcp.ServiceAccount)
		if err != nil {
			return Bundle{}, err
		}
		return Bundle{Variant: VariantGcp, GcpServiceAccountJSON: sa}, nil

	case spec.Aws != nil:
		keyID, err := r.Resolve(ctx, namespace, spec.Aws.KeyID)
		if err != nil {
			return Bundle{}, err
		}
		accessKey, err := r.Resolve(ctx, namespace, spec.Aws.AccessKey)
		if err != nil {
			return Bundle{}, err
		}
		return Bundle{
			Variant:      VariantAws,
			AwsKeyID:     keyID,
			AwsAccessKey: accessKey,
			AwsRegion:    spec.Aws.Region,
		}, nil

	case spec.Pgp != nil:
		key, err := r.Resolve(ctx, namespace, spec.Pgp.PrivateKey)
		if err != nil {
			return Bundle{}, err
		}
		return Bundle{Variant: VariantPgp, PgpPrivateKeyArmored: key}, nil

	case spec.Vault != nil:
		token, err := r.Resolve(ctx, namespace, spec.Vault.Token)
		if err != nil {
			return Bundle{}, err
		}
		return Bundle{Variant: VariantVault, VaultToken: token}, nil

	default:
		return Bundle{Variant: VariantNone}, nil
	}
}

// GitAuth is the resolved authentication method for a Git repository.
type GitAuth struct {
	Variant Variant

	Username string
	Token    string

	SSHPrivateKey string
}

// ResolveGit turns a *GitCredentials into a resolved GitAuth. A nil creds
// resolves to the empty/anonymous variant.
func (r *Resolver) ResolveGit(ctx context.Context, namespace string, creds *v1alpha1.GitCredentials) (GitAuth, error) {
	switch {
	case creds.IsToken():
		username, err := r.Resolve(ctx, namespace, *creds.Username)
		if err != nil {
			return GitAuth{}, err
		}
		token, err := r.Resolve(ctx, namespace, *creds.Token)
		if err != nil {
			return GitAuth{}, err
		}
		return GitAuth{Variant: VariantToken, Username: username, Token: token}, nil

	case creds.IsSSH():
		key, err := r.Resolve(ctx, namespace, *creds.SSHKey)
		if err != nil {
			return GitAuth{}, err
		}
		return GitAuth{Variant: VariantSSH, SSHPrivateKey: key}, nil

	default:
		return GitAuth{Variant: VariantNone}, nil
	}
}
