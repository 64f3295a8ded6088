// Package sopsdriver is a typed façade over the external sops binary,
// following the teacher's internal/tools/exec.Runner idiom: a bounded
// context.WithTimeout wraps exec.CommandContext, stdout/stderr are
// captured into buffers, and deadline/missing-binary errors are normalized
// before they reach the caller.
package sopsdriver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	. "github.com/roelfdiedericks/goclaw/internal/logging"
)

// CommandRunner abstracts subprocess execution so tests can substitute a
// fake without touching os/exec. Run must honor ctx's deadline.
type CommandRunner interface {
	Run(ctx context.Context, name string, args []string) (stdout, stderr []byte, err error)
}

// execRunner is the production CommandRunner, backed by os/exec.
type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args []string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// Driver invokes the sops binary to decrypt and encrypt JSON documents.
type Driver struct {
	config Config
	runner CommandRunner
}

// New creates a Driver using the real os/exec-backed runner.
func New(cfg Config) *Driver {
	return &Driver{config: cfg, runner: execRunner{}}
}

// NewWithRunner creates a Driver with a caller-supplied CommandRunner, for
// tests.
func NewWithRunner(cfg Config, runner CommandRunner) *Driver {
	return &Driver{config: cfg, runner: runner}
}

// Decrypt runs `sops [--config cfg] --decrypt --output-type json <path>`
// and parses stdout as JSON. configPath is only added to the argument list
// when non-empty.
func (d *Driver) Decrypt(ctx context.Context, path string, timeout time.Duration, missingBinaryMessage, configPath string) (any, error) {
	args := configArgs(configPath)
	args = append(args, "--decrypt", "--output-type", "json", path)

	out, _, err := d.invoke(ctx, "decrypt", path, timeout, missingBinaryMessage, args)
	if err != nil {
		return nil, err
	}

	var value any
	if err := json.Unmarshal(out, &value); err != nil {
		return nil, fmt.Errorf("sops decrypt failed for %s: output is not valid JSON: %w", path, err)
	}
	return value, nil
}

// Encrypt writes payload to a 0600 plaintext tempfile, invokes
// `sops [--config cfg] --encrypt --input-type json --output-type json
// --output <tmpEnc> <tmpPlain>`, and renames the encrypted tempfile over
// path with 0600 permissions. Both tempfiles are removed on every exit
// path.
func (d *Driver) Encrypt(ctx context.Context, path string, payload any, timeout time.Duration, missingBinaryMessage, configPath string) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("sops encrypt failed for %s: marshal payload: %w", path, err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("sops encrypt failed for %s: create directory: %w", path, err)
	}

	token := fmt.Sprintf("%d-%08x", os.Getpid(), randomToken())
	plainPath := filepath.Join(dir, ".sops-plain-"+token+".json")
	encPath := filepath.Join(dir, ".sops-enc-"+token+".json")

	if err := os.WriteFile(plainPath, data, 0o600); err != nil {
		return fmt.Errorf("sops encrypt failed for %s: write plaintext tempfile: %w", path, err)
	}
	defer os.Remove(plainPath)
	defer os.Remove(encPath)

	args := configArgs(configPath)
	args = append(args, "--encrypt", "--input-type", "json", "--output-type", "json", "--output", encPath, plainPath)

	if _, _, err := d.invoke(ctx, "encrypt", path, timeout, missingBinaryMessage, args); err != nil {
		return err
	}

	if err := os.Rename(encPath, path); err != nil {
		return fmt.Errorf("sops encrypt failed for %s: rename encrypted output into place: %w", path, err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		return fmt.Errorf("sops encrypt failed for %s: chmod: %w", path, err)
	}
	return nil
}

func configArgs(configPath string) []string {
	if configPath == "" {
		return nil
	}
	return []string{"--config", configPath}
}

// invoke runs the sops binary and normalizes errors per spec.md §4.2:
// missing binary -> missingBinaryMessage; timeout -> stable timeout
// message; anything else -> wrapped with the underlying cause preserved.
func (d *Driver) invoke(ctx context.Context, op, path string, timeout time.Duration, missingBinaryMessage string, args []string) ([]byte, []byte, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	L_debug("sopsdriver: invoking", "op", op, "path", path, "timeout", timeout)

	stdout, stderr, err := d.runner.Run(runCtx, d.config.binary(), args)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) || isNotFoundErr(err) {
			L_warn("sopsdriver: binary missing", "op", op, "path", path)
			return nil, nil, errors.New(missingBinaryMessage)
		}
		if runCtx.Err() == context.DeadlineExceeded {
			L_warn("sopsdriver: timed out", "op", op, "path", path, "timeout", timeout)
			return nil, nil, fmt.Errorf("sops %s timed out after %dms for %s", op, timeout.Milliseconds(), path)
		}
		L_error("sopsdriver: failed", "op", op, "path", path, "error", err, "stderr", limitForLog(stderr))
		return nil, nil, fmt.Errorf("sops %s failed for %s: %w", op, path, errWithStderr(err, stderr))
	}

	if int64(len(stdout)) > d.config.maxOutputBytes() {
		return nil, nil, fmt.Errorf("sops %s failed for %s: output exceeds %d byte limit", op, path, d.config.maxOutputBytes())
	}

	return stdout, stderr, nil
}

func isNotFoundErr(err error) bool {
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return errors.Is(pathErr.Err, os.ErrNotExist) || pathErr.Err.Error() == "executable file not found in $PATH"
	}
	return false
}

func errWithStderr(err error, stderr []byte) error {
	if len(stderr) == 0 {
		return err
	}
	return fmt.Errorf("%w (%s)", err, limitForLog(stderr))
}

func limitForLog(b []byte) string {
	const max = 500
	if len(b) > max {
		return string(b[:max]) + "...(truncated)"
	}
	return string(b)
}

// randomToken reads a small amount of entropy for tempfile naming. It does
// not need to be cryptographically strong, only distinct across concurrent
// invocations on the same pid.
func randomToken() uint32 {
	var buf [4]byte
	if _, err := io.ReadFull(cryptoRandReader(), buf[:]); err != nil {
		return uint32(time.Now().UnixNano())
	}
	return uint32(buf[0])<<24 | uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3])
}
