package agent

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/ssh"

	"github.com/scalaric/decryptor/internal/agentrpc"
	"github.com/scalaric/decryptor/internal/errs"
)

// sshKeyPath is the known location an SSH variant writes its private key
// to before pointing GIT_SSH_COMMAND at it (spec.md section 4.4).
var sshKeyPath = filepath.Join(os.Getenv("HOME"), "keys", "id_repo")

// GitEngine drives one working tree under root through clone, pull,
// delete and commit-hash as an external subprocess tool, per spec.md
// section 4.4. One instance is created per repository record.
type GitEngine struct {
	root string
}

// NewGitEngine returns an engine rooted at root (the agent's workspace
// directory, e.g. ~/workspace/repo).
func NewGitEngine(root string) *GitEngine {
	return &GitEngine{root: root}
}

// WorkingTreePath derives a new on-disk directory for repoURL: the URL's
// basename plus a fresh uuid suffix, so every call returns a different
// path and repositories with the same basename never collide.
func (g *GitEngine) WorkingTreePath(repoURL string) string {
	base := filepath.Base(strings.TrimSuffix(repoURL, ".git"))
	return filepath.Join(g.root, base+"-"+uuid.NewString())
}

// Init clones repoURL into target if it does not already exist on disk.
// A pre-existing target is treated as success (idempotent SetRepository).
func (g *GitEngine) Init(ctx context.Context, target, repoURL string, auth agentrpc.GitAuth) error {
	if info, err := os.Stat(target); err == nil && info.IsDir() {
		return nil
	}

	cloneURL, env, err := cloneArgs(repoURL, auth)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return errs.Wrap(errs.RepoClone, "failed to create workspace directory", err)
	}

	if auth.Variant == "ssh" {
		if _, err := ssh.ParsePrivateKey([]byte(auth.SSHPrivateKey)); err != nil {
			return errs.Wrap(errs.RepoConfig, "ssh private key is malformed", err)
		}
		if err := os.MkdirAll(filepath.Dir(sshKeyPath), 0o700); err != nil {
			return errs.Wrap(errs.RepoClone, "failed to create ssh key directory", err)
		}
		if err := os.WriteFile(sshKeyPath, []byte(auth.SSHPrivateKey), 0o600); err != nil {
			return errs.Wrap(errs.RepoClone, "failed to write ssh private key", err)
		}
	}

	cmd := exec.CommandContext(ctx, "git", "clone", cloneURL, target)
	cmd.Env = env

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return errs.Wrap(errs.RepoClone, fmt.Sprintf("git clone failed: %s", stderr.String()), err)
	}
	return nil
}

// cloneArgs derives the URL to pass to `git clone` and any extra
// environment variables, per the per-variant rules in spec.md section
// 4.4.
func cloneArgs(repoURL string, auth agentrpc.GitAuth) (cloneURL string, env []string, err error) {
	switch auth.Variant {
	case "token":
		if !strings.HasPrefix(repoURL, "https://") {
			return "", nil, errs.New(errs.RepoConfig, "token auth requires an https:// repository URL")
		}
		rest := strings.TrimPrefix(repoURL, "https://")
		return fmt.Sprintf("https://%s:%s@%s", auth.Username, auth.Token, rest), os.Environ(), nil
	case "ssh":
		if !strings.Contains(repoURL, "git@") {
			return "", nil, errs.New(errs.RepoConfig, "ssh auth requires a git@ repository URL")
		}
		return repoURL, append(os.Environ(), "GIT_SSH_COMMAND="+sshCommand()), nil
	default:
		return repoURL, os.Environ(), nil
	}
}

// sshCommand builds the GIT_SSH_COMMAND value pointing at the key Init
// wrote to sshKeyPath. Shared by clone (cloneArgs) and Pull so a
// repository cloned with SSH auth keeps using the same identity on
// every later pull.
func sshCommand() string {
	return fmt.Sprintf("ssh -i %s -o UserKnownHostsFile=/dev/null -o StrictHostKeyChecking=no", sshKeyPath)
}

// Pull runs `git -C target pull --rebase`, reapplying the record's auth
// method for the duration of the subprocess: an SSH-authenticated
// repository needs the same GIT_SSH_COMMAND it was cloned with, since
// git never remembers an out-of-band SSH identity on its own (spec.md
// section 3). A non-zero exit is reported but is not meant to be
// treated as immediately fatal by the caller.
func (g *GitEngine) Pull(ctx context.Context, target string, auth agentrpc.GitAuth) error {
	cmd := exec.CommandContext(ctx, "git", "-C", target, "pull", "--rebase")
	if auth.Variant == "ssh" {
		cmd.Env = append(os.Environ(), "GIT_SSH_COMMAND="+sshCommand())
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return errs.Wrap(errs.RepoPull, fmt.Sprintf("git pull failed: %s", stderr.String()), err)
	}
	return nil
}

// Delete recursively removes target.
func (g *GitEngine) Delete(target string) error {
	if err := os.RemoveAll(target); err != nil {
		return errs.Wrap(errs.RepoConfig, "failed to remove working tree", err)
	}
	return nil
}

// CommitHash runs `git -C target rev-parse HEAD` and returns the trimmed
// stdout, or "" on failure.
func (g *GitEngine) CommitHash(ctx context.Context, target string) string {
	cmd := exec.CommandContext(ctx, "git", "-C", target, "rev-parse", "HEAD")
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}
