package agent

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/hashicorp/vault/api"

	"github.com/scalaric/decryptor/internal/agentrpc"
	"github.com/scalaric/decryptor/internal/errs"
)

// gcpCredentialsPath is the known file path the GCP variant writes the
// service-account JSON to, and the value GOOGLE_APPLICATION_CREDENTIALS
// is pointed at (spec.md section 4.3).
var gcpCredentialsPath = filepath.Join(os.Getenv("HOME"), "keys", "gcp-service-account.json")

// pgpKeyPath is where the PGP variant writes the armored private key
// before shelling out to gpg --import.
var pgpKeyPath = filepath.Join(os.Getenv("HOME"), "keys", "private.rsa")

// ProviderAdapter prepares the process-wide environment (files and
// environment variables) that SOPS reads credentials from. Its effects
// are process-wide singletons, so callers must serialize invocations
// at the granularity documented in spec.md section 5.
type ProviderAdapter struct {
	// runGPGImport is overridable in tests.
	runGPGImport func(ctx context.Context, keyPath string) error
}

// NewProviderAdapter returns an adapter that shells out to the real gpg
// binary.
func NewProviderAdapter() *ProviderAdapter {
	return &ProviderAdapter{runGPGImport: runGPGImport}
}

// Apply mutates the environment for bundle's variant. It returns an error
// for the "none" variant (and any empty or unknown one), since the agent cannot safely decrypt without a
// credential variant from the controller.
func (p *ProviderAdapter) Apply(ctx context.Context, bundle agentrpc.ProviderBundle) error {
	switch bundle.Variant {
	case "gcp":
		return p.applyGCP(bundle)
	case "aws":
		return p.applyAWS(bundle)
	case "pgp":
		return p.applyPGP(ctx, bundle)
	case "vault":
		return p.applyVault(ctx, bundle)
	default:
		return errs.New(errs.ProviderAuth, fmt.Sprintf("unsupported or empty provider variant %q", bundle.Variant))
	}
}

func (p *ProviderAdapter) applyGCP(bundle agentrpc.ProviderBundle) error {
	if err := os.MkdirAll(filepath.Dir(gcpCredentialsPath), 0o700); err != nil {
		return errs.Wrap(errs.ProviderAuth, "failed to create gcp credentials directory", err)
	}
	if err := os.WriteFile(gcpCredentialsPath, []byte(bundle.GcpServiceAccountJSON), 0o600); err != nil {
		return errs.Wrap(errs.ProviderAuth, "failed to write gcp service account file", err)
	}
	if err := os.Setenv("GOOGLE_APPLICATION_CREDENTIALS", gcpCredentialsPath); err != nil {
		return errs.Wrap(errs.ProviderAuth, "failed to set GOOGLE_APPLICATION_CREDENTIALS", err)
	}
	return nil
}

func (p *ProviderAdapter) applyAWS(bundle agentrpc.ProviderBundle) error {
	awsDir := filepath.Join(os.Getenv("HOME"), ".aws")
	if err := os.MkdirAll(awsDir, 0o700); err != nil {
		return errs.Wrap(errs.ProviderAuth, "failed to create ~/.aws", err)
	}

	credentials := fmt.Sprintf("[default]\naws_access_key_id = %s\naws_secret_access_key = %s\n",
		bundle.AwsKeyID, bundle.AwsAccessKey)
	if err := os.WriteFile(filepath.Join(awsDir, "credentials"), []byte(credentials), 0o600); err != nil {
		return errs.Wrap(errs.ProviderAuth, "failed to write ~/.aws/credentials", err)
	}

	config := fmt.Sprintf("[default]\nregion = %s\noutput = json\n", bundle.AwsRegion)
	if err := os.WriteFile(filepath.Join(awsDir, "config"), []byte(config), 0o600); err != nil {
		return errs.Wrap(errs.ProviderAuth, "failed to write ~/.aws/config", err)
	}
	return nil
}

func (p *ProviderAdapter) applyPGP(ctx context.Context, bundle agentrpc.ProviderBundle) error {
	if err := os.MkdirAll(filepath.Dir(pgpKeyPath), 0o700); err != nil {
		return errs.Wrap(errs.ProviderAuth, "failed to create pgp key directory", err)
	}
	if err := os.WriteFile(pgpKeyPath, []byte(bundle.PgpPrivateKeyArmored), 0o600); err != nil {
		return errs.Wrap(errs.ProviderAuth, "failed to write pgp private key", err)
	}

	importer := p.runGPGImport
	if importer == nil {
		importer = runGPGImport
	}
	if err := importer(ctx, pgpKeyPath); err != nil {
		return errs.Wrap(errs.ProviderAuth, "gpg --import failed", err)
	}
	return nil
}

func runGPGImport(ctx context.Context, keyPath string) error {
	cmd := exec.CommandContext(ctx, "gpg", "--import", keyPath)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %s", err, stderr.String())
	}
	return nil
}

func (p *ProviderAdapter) applyVault(ctx context.Context, bundle agentrpc.ProviderBundle) error {
	if err := os.Setenv("VAULT_TOKEN", bundle.VaultToken); err != nil {
		return errs.Wrap(errs.ProviderAuth, "failed to set VAULT_TOKEN", err)
	}

	// Self-check the token against the configured (or default) Vault
	// address so a bad token surfaces here rather than deep inside the
	// sops subprocess.
	cfg := api.DefaultConfig()
	client, err := api.NewClient(cfg)
	if err != nil {
		return errs.Wrap(errs.ProviderAuth, "failed to construct vault client", err)
	}
	client.SetToken(bundle.VaultToken)

	if _, err := client.Auth().Token().LookupSelfWithContext(ctx); err != nil {
		return errs.Wrap(errs.ProviderAuth, "vault token self-check failed", err)
	}
	return nil
}
