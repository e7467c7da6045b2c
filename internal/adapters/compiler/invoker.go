package compiler

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/chainproof-org/chainproof/internal/domain"
	"github.com/chainproof-org/chainproof/internal/domain/config"
)

const (
	solcMirror    = "https://binaries.soliditylang.org"
	defaultCompileTimeout = 5 * time.Minute
)

// Invoker downloads, caches and invokes compiler binaries on standard JSON
// inputs. The binary cache is shared across workers; downloads hold a file
// lock keyed by (language, version, platform).
type Invoker struct {
	log         *slog.Logger
	solcBinRepo string
	solcJsRepo  string
	vyperRepo   string

	http *retryablehttp.Client

	// Timeout bounds one compiler subprocess run.
	Timeout time.Duration
}

// NewInvoker creates a compiler invoker from runtime configuration.
func NewInvoker(cfg *config.RuntimeConfig, log *slog.Logger) *Invoker {
	httpClient := retryablehttp.NewClient()
	httpClient.RetryMax = 3
	httpClient.Logger = nil

	return &Invoker{
		log:         log.With("component", "CompilerInvoker"),
		solcBinRepo: cfg.Solc.SolcBinRepo,
		solcJsRepo:  cfg.Solc.SolcJsRepo,
		vyperRepo:   cfg.Vyper.VyperRepo,
		http:        httpClient,
		Timeout:     defaultCompileTimeout,
	}
}

// CompileOptions tweak one compilation.
type CompileOptions struct {
	// ForceEmscripten selects the JS-engine fallback even when a native
	// binary exists.
	ForceEmscripten bool
}

// Compile invokes the requested compiler version on a standard JSON input and
// returns the parsed standard JSON output. Compile failures are surfaced
// verbatim via the output's errors field; only infrastructure problems are
// returned as errors.
func (inv *Invoker) Compile(ctx context.Context, language domain.Language, version string, input *domain.StandardJSONInput, opts CompileOptions) (*domain.StandardJSONOutput, error) {
	parsed, err := ParseVersion(version)
	if err != nil {
		return nil, domain.WrapError(domain.ErrUnsupportedCompilerVersion, err, map[string]any{"version": version})
	}

	var binary string
	var args []string
	switch language {
	case domain.LanguageSolidity, domain.LanguageYul:
		if !parsed.HasNativeBinary() {
			return nil, domain.NewError(domain.ErrUnsupportedCompilerVersion, map[string]any{
				"version": version,
				"reason":  "solidity releases before 0.4.11 are not supported",
			})
		}
		if opts.ForceEmscripten {
			soljson, err := inv.resolveSoljson(ctx, parsed)
			if err != nil {
				return nil, err
			}
			binary = "node"
			args = []string{"-e", soljsonRunner, soljson}
		} else {
			binary, err = inv.resolveSolc(ctx, parsed)
			if err != nil {
				return nil, err
			}
			args = []string{"--standard-json"}
		}
	case domain.LanguageVyper:
		binary, err = inv.resolveVyper(ctx, parsed)
		if err != nil {
			return nil, err
		}
		args = []string{"--standard-json"}
	default:
		return nil, fmt.Errorf("unknown language %q", language)
	}

	payload, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("failed to encode standard JSON input: %w", err)
	}

	return inv.run(ctx, binary, args, payload)
}

// run executes one compiler subprocess: input on stdin, output on stdout,
// killed on deadline expiry.
func (inv *Invoker) run(ctx context.Context, binary string, args []string, stdin []byte) (*domain.StandardJSONOutput, error) {
	timeout := inv.Timeout
	if timeout == 0 {
		timeout = defaultCompileTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Stdin = bytes.NewReader(stdin)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	duration := time.Since(start)
	if ctx.Err() != nil {
		return nil, domain.WrapError(domain.ErrCompilerError, ctx.Err(), map[string]any{
			"reason": "compiler timed out",
		})
	}
	if err != nil && stdout.Len() == 0 {
		inv.log.Error("compiler subprocess failed", "binary", binary, "error", err, "stderr", stderr.String())
		return nil, domain.WrapError(domain.ErrCompilerError, err, map[string]any{
			"stderr": stderr.String(),
		})
	}

	var output domain.StandardJSONOutput
	if err := json.Unmarshal(stdout.Bytes(), &output); err != nil {
		return nil, domain.WrapError(domain.ErrCompilerError, err, map[string]any{
			"reason": "compiler produced unparseable output",
		})
	}

	inv.log.Debug("compilation finished", "binary", filepath.Base(binary), "duration", duration)
	return &output, nil
}

// resolveSolc returns the path of a cached native solc binary, downloading it
// from the mirror on first use.
func (inv *Invoker) resolveSolc(ctx context.Context, version Version) (string, error) {
	platform := solcPlatform()
	dir := filepath.Join(inv.solcBinRepo, platform)
	path := filepath.Join(dir, "solc-"+version.String())

	if fileExists(path) {
		return path, nil
	}
	if err := inv.download(ctx, platform, version, dir, path, false); err != nil {
		return "", err
	}
	return path, nil
}

// resolveSoljson returns the path of a cached emscripten build.
func (inv *Invoker) resolveSoljson(ctx context.Context, version Version) (string, error) {
	path := filepath.Join(inv.solcJsRepo, "soljson-v"+version.String()+".js")
	if fileExists(path) {
		return path, nil
	}
	if err := inv.download(ctx, "bin", version, inv.solcJsRepo, path, true); err != nil {
		return "", err
	}
	return path, nil
}

// resolveVyper returns the path of a cached vyper binary. Vyper releases are
// expected to be pre-populated in the repo; there is no official per-platform
// mirror index to verify against.
func (inv *Invoker) resolveVyper(_ context.Context, version Version) (string, error) {
	entries, err := os.ReadDir(inv.vyperRepo)
	if err != nil {
		return "", fmt.Errorf("vyper repo unreadable: %w", err)
	}
	prefix := fmt.Sprintf("vyper.%d.%d.%d", version.Major, version.Minor, version.Patch)
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), prefix) {
			return filepath.Join(inv.vyperRepo, entry.Name()), nil
		}
	}
	return "", domain.NewError(domain.ErrUnsupportedCompilerVersion, map[string]any{
		"version": version.String(),
		"reason":  "vyper binary not present in repo",
	})
}

// mirrorList is the shape of the mirror's list.json index.
type mirrorList struct {
	Builds []struct {
		Path        string `json:"path"`
		Version     string `json:"version"`
		LongVersion string `json:"longVersion"`
		Sha256      string `json:"sha256"`
	} `json:"builds"`
}

// download fetches a release listed in the mirror index, verifies its SHA-256
// and marks it executable. Concurrent workers serialize on a file lock.
func (inv *Invoker) download(ctx context.Context, platform string, version Version, dir, path string, js bool) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to lock compiler cache: %w", err)
	}
	defer func() {
		_ = lock.Unlock()
		_ = os.Remove(path + ".lock")
	}()

	// Another worker may have completed the download while we waited.
	if fileExists(path) {
		return nil
	}

	list, err := inv.fetchList(ctx, platform)
	if err != nil {
		return err
	}

	var buildPath, wantSha string
	for _, b := range list.Builds {
		if b.Version == fmt.Sprintf("%d.%d.%d", version.Major, version.Minor, version.Patch) {
			buildPath, wantSha = b.Path, b.Sha256
		}
	}
	if buildPath == "" {
		return domain.NewError(domain.ErrUnsupportedCompilerVersion, map[string]any{
			"version":  version.String(),
			"platform": platform,
			"reason":   "no build listed in mirror index",
		})
	}

	url := fmt.Sprintf("%s/%s/%s", solcMirror, platform, buildPath)
	inv.log.Info("downloading compiler", "url", url)

	req, err := retryablehttp.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return err
	}
	resp, err := inv.http.Do(req)
	if err != nil {
		return fmt.Errorf("compiler download failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != 200 {
		return fmt.Errorf("compiler download failed: HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	sum := sha256.Sum256(data)
	if got := hex.EncodeToString(sum[:]); got != strings.TrimPrefix(wantSha, "0x") {
		return fmt.Errorf("compiler checksum mismatch for %s: got %s want %s", buildPath, got, wantSha)
	}

	mode := os.FileMode(0o755)
	if js {
		mode = 0o644
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, mode); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (inv *Invoker) fetchList(ctx context.Context, platform string) (*mirrorList, error) {
	url := fmt.Sprintf("%s/%s/list.json", solcMirror, platform)
	req, err := retryablehttp.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := inv.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mirror index fetch failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("mirror index fetch failed: HTTP %d", resp.StatusCode)
	}
	var list mirrorList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("mirror index unparseable: %w", err)
	}
	return &list, nil
}

func solcPlatform() string {
	switch runtime.GOOS {
	case "darwin":
		return "macosx-amd64"
	case "windows":
		return "windows-amd64"
	default:
		return "linux-amd64"
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// soljsonRunner drives an emscripten solc build through node: reads the
// standard JSON input from stdin and writes the output to stdout.
const soljsonRunner = `
const soljson = require(process.argv[1]);
const compile = soljson.cwrap('solidity_compile', 'string', ['string', 'number']);
let input = '';
process.stdin.on('data', (d) => { input += d; });
process.stdin.on('end', () => { process.stdout.write(compile(input, 0)); });
`
