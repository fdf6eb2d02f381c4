package agent

import (
	"bytes"
	"context"
	"os/exec"
	"path/filepath"
	"time"
	"unicode/utf8"

	"github.com/scalaric/decryptor/internal/errs"
)

// DefaultDecryptTimeout bounds a single sops invocation. Spec.md section
// 5 notes child-process invocations have no built-in timeout of their
// own; this is a defensive ceiling on top of the outer RPC deadline.
const DefaultDecryptTimeout = 25 * time.Second

// Invoker drives the external sops binary against a working-tree file,
// per spec.md section 4.4/4.9's Render contract.
type Invoker struct {
	timeout time.Duration

	// binary names the executable to invoke; it is "sops" in
	// production and overridden by tests that stand in a fake binary.
	binary string
}

// NewInvoker returns an Invoker using DefaultDecryptTimeout.
func NewInvoker() *Invoker {
	return &Invoker{timeout: DefaultDecryptTimeout, binary: "sops"}
}

// Decrypt runs `sops -d <fileToDecrypt> --config <sopsPath>` rooted at
// workingTree and returns the decrypted manifest verbatim. fileToDecrypt
// and sopsPath are repository-relative.
func (i *Invoker) Decrypt(ctx context.Context, workingTree, fileToDecrypt, sopsPath string) ([]byte, error) {
	execCtx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	target := filepath.Join(workingTree, fileToDecrypt)
	args := []string{"-d", target}
	if sopsPath != "" {
		args = append(args, "--config", filepath.Join(workingTree, sopsPath))
	}

	cmd := exec.CommandContext(execCtx, i.binary, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if execCtx.Err() == context.DeadlineExceeded {
			return nil, errs.New(errs.Decrypt, "sops decrypt timed out")
		}
		return nil, errs.Wrap(errs.Decrypt, "sops decrypt failed: "+stderr.String(), err)
	}
	if !utf8.Valid(stdout.Bytes()) {
		return nil, errs.New(errs.Decrypt, "sops output is not valid UTF-8")
	}
	return stdout.Bytes(), nil
}
