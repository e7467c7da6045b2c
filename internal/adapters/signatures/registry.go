package signatures

import (
	"bufio"
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/wire"
	"github.com/samber/lo"

	"github.com/chainproof-org/chainproof/internal/domain"
	"github.com/chainproof-org/chainproof/internal/domain/models"
	"github.com/chainproof-org/chainproof/internal/usecase"
)

// maxBatch bounds one insert request.
const maxBatch = 1000

//go:embed canonical.txt
var canonicalList string

var (
	searchPatternRe = regexp.MustCompile(`^[a-zA-Z0-9$_()\[\],*?]+$`)
	identifierRe    = regexp.MustCompile(`^[a-zA-Z$_][a-zA-Z0-9$_]*$`)
	signatureRe     = regexp.MustCompile(`^([a-zA-Z$_][a-zA-Z0-9$_]*)\((.*)\)$`)
)

// Registry implements selector lookup, wildcard search, and batch insert on
// top of the signature store.
type Registry struct {
	log       *slog.Logger
	store     usecase.SignatureStore
	canonical map[string]bool
}

// NewRegistry loads the bundled canonical list and wraps the store.
func NewRegistry(store usecase.SignatureStore, log *slog.Logger) *Registry {
	canonical := map[string]bool{}
	scanner := bufio.NewScanner(strings.NewReader(canonicalList))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		canonical[line] = true
	}
	return &Registry{
		log:       log.With("component", "SignatureRegistry"),
		store:     store,
		canonical: canonical,
	}
}

// Lookup resolves function and event hashes. Function hashes are accepted as
// 4-byte selectors or full 32-byte keccak hashes; event hashes must be
// 32 bytes.
func (r *Registry) Lookup(ctx context.Context, functions, events []string) (*domain.SignatureLookup, error) {
	result := &domain.SignatureLookup{
		Function: map[string][]domain.SignatureEntry{},
		Event:    map[string][]domain.SignatureEntry{},
	}

	var short, long [][]byte
	for _, h := range functions {
		raw, err := decodeHash(h, true)
		if err != nil {
			return nil, err
		}
		if len(raw) == 4 {
			short = append(short, raw)
		} else {
			long = append(long, raw)
		}
		result.Function[hexutil.Encode(raw)] = []domain.SignatureEntry{}
	}
	for _, h := range events {
		raw, err := decodeHash(h, false)
		if err != nil {
			return nil, err
		}
		long = append(long, raw)
		result.Event[hexutil.Encode(raw)] = []domain.SignatureEntry{}
	}

	if len(short) > 0 {
		sigs, err := r.store.SignaturesByHash4(ctx, short)
		if err != nil {
			return nil, err
		}
		if err := r.groupInto(ctx, result.Function, sigs, func(s models.Signature) string {
			return hexutil.Encode(s.SignatureHash4)
		}); err != nil {
			return nil, err
		}
	}
	if len(long) > 0 {
		sigs, err := r.store.SignaturesByHash32(ctx, long)
		if err != nil {
			return nil, err
		}
		key := func(s models.Signature) string { return hexutil.Encode(s.SignatureHash32) }
		if err := r.groupInto(ctx, result.Function, sigs, key); err != nil {
			return nil, err
		}
		if err := r.groupInto(ctx, result.Event, sigs, key); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// groupInto appends entries under keys that were actually queried.
func (r *Registry) groupInto(ctx context.Context, dst map[string][]domain.SignatureEntry, sigs []models.Signature, key func(models.Signature) string) error {
	entries, err := r.buildEntries(ctx, sigs)
	if err != nil {
		return err
	}
	for i, sig := range sigs {
		k := key(sig)
		if _, queried := dst[k]; queried {
			dst[k] = append(dst[k], entries[i])
		}
	}
	return nil
}

func (r *Registry) buildEntries(ctx context.Context, sigs []models.Signature) ([]domain.SignatureEntry, error) {
	hashes := lo.Map(sigs, func(s models.Signature, _ int) []byte { return s.SignatureHash32 })
	verified, err := r.store.VerifiedSignatureHashes(ctx, hashes)
	if err != nil {
		return nil, err
	}
	return lo.Map(sigs, func(s models.Signature, _ int) domain.SignatureEntry {
		return domain.SignatureEntry{
			Name:                s.Signature,
			Filtered:            r.canonical[s.Signature],
			HasVerifiedContract: verified[string(s.SignatureHash32)],
		}
	}), nil
}

// Search finds signatures by wildcard pattern. Both groupings are returned:
// the pattern alone cannot tell a function from an event.
func (r *Registry) Search(ctx context.Context, pattern string, filterCanonical bool) (*domain.SignatureLookup, error) {
	if !searchPatternRe.MatchString(pattern) {
		return nil, fmt.Errorf("invalid search pattern %q", pattern)
	}

	sigs, err := r.store.SearchSignatures(ctx, translatePattern(pattern), 0)
	if err != nil {
		return nil, err
	}
	entries, err := r.buildEntries(ctx, sigs)
	if err != nil {
		return nil, err
	}

	result := &domain.SignatureLookup{
		Function: map[string][]domain.SignatureEntry{},
		Event:    map[string][]domain.SignatureEntry{},
	}
	for i, sig := range sigs {
		if filterCanonical && !entries[i].Filtered {
			continue
		}
		fnKey := hexutil.Encode(sig.SignatureHash4)
		evKey := hexutil.Encode(sig.SignatureHash32)
		result.Function[fnKey] = append(result.Function[fnKey], entries[i])
		result.Event[evKey] = append(result.Event[evKey], entries[i])
	}
	return result, nil
}

// Insert validates and upserts a batch of signature texts.
func (r *Registry) Insert(ctx context.Context, batch []string) ([]domain.SignatureInsertOutcome, error) {
	if len(batch) == 0 {
		return nil, nil
	}
	if len(batch) > maxBatch {
		return nil, fmt.Errorf("batch of %d exceeds the maximum of %d", len(batch), maxBatch)
	}

	rows := make([]models.Signature, len(batch))
	for i, text := range batch {
		if err := ValidateSignature(text); err != nil {
			return nil, fmt.Errorf("signature %q: %w", text, err)
		}
		hash32 := crypto.Keccak256([]byte(text))
		rows[i] = models.Signature{
			SignatureHash32: hash32,
			SignatureHash4:  hash32[:4],
			Signature:       text,
		}
	}

	inserted, err := r.store.InsertSignatures(ctx, rows)
	if err != nil {
		return nil, err
	}
	return lo.Map(batch, func(text string, i int) domain.SignatureInsertOutcome {
		return domain.SignatureInsertOutcome{Signature: text, WasInserted: inserted[i]}
	}), nil
}

// Stats reads the materialized counters.
func (r *Registry) Stats(ctx context.Context) (*models.SignatureStats, error) {
	return r.store.SignatureStats(ctx)
}

// RefreshStats recomputes the counters.
func (r *Registry) RefreshStats(ctx context.Context) error {
	return r.store.RefreshSignatureStats(ctx)
}

// decodeHash parses a 0x-prefixed hash of length 10 (4 bytes, functions
// only) or 66 (32 bytes).
func decodeHash(h string, allowShort bool) ([]byte, error) {
	switch len(h) {
	case 10:
		if !allowShort {
			return nil, fmt.Errorf("hash %q: event hashes must be 32 bytes", h)
		}
	case 66:
	default:
		return nil, fmt.Errorf("hash %q: length must be 10 or 66", h)
	}
	raw, err := hexutil.Decode(strings.ToLower(h))
	if err != nil {
		return nil, fmt.Errorf("hash %q: %w", h, err)
	}
	return raw, nil
}

// translatePattern maps the wildcard grammar onto SQL LIKE: literal
// underscores and percents are escaped, then * becomes % and ? becomes _.
func translatePattern(pattern string) string {
	escaped := strings.NewReplacer(`\`, `\\`, "_", `\_`, "%", `\%`).Replace(pattern)
	return strings.NewReplacer("*", "%", "?", "_").Replace(escaped)
}

// ValidateSignature checks a signature text against the canonical ABI
// grammar: an identifier followed by a parenthesized type list.
func ValidateSignature(text string) error {
	m := signatureRe.FindStringSubmatch(text)
	if m == nil {
		return fmt.Errorf("not of the form name(type,...)")
	}
	if !identifierRe.MatchString(m[1]) {
		return fmt.Errorf("invalid identifier %q", m[1])
	}
	args, err := splitTypes(m[2])
	if err != nil {
		return err
	}
	for _, arg := range args {
		if err := validateType(arg); err != nil {
			return err
		}
	}
	return nil
}

// splitTypes splits a comma-separated type list, respecting tuple and array
// nesting.
func splitTypes(list string) ([]string, error) {
	if list == "" {
		return nil, nil
	}
	var (
		out   []string
		depth int
		start int
	)
	for i, c := range list {
		switch c {
		case '(', '[':
			depth++
		case ')', ']':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("unbalanced brackets in %q", list)
			}
		case ',':
			if depth == 0 {
				out = append(out, list[start:i])
				start = i + 1
			}
		}
	}
	if depth != 0 {
		return nil, fmt.Errorf("unbalanced brackets in %q", list)
	}
	out = append(out, list[start:])
	return out, nil
}

// validateType checks a single ABI type, expanding tuples recursively and
// delegating elementary types to the go-ethereum ABI parser.
func validateType(t string) error {
	t = strings.TrimSpace(t)
	if t == "" {
		return fmt.Errorf("empty type")
	}

	if strings.HasPrefix(t, "(") {
		// Strip array suffixes off the tuple, then recurse into members.
		inner := t
		for strings.HasSuffix(inner, "]") {
			open := strings.LastIndexByte(inner, '[')
			if open < 0 {
				return fmt.Errorf("unbalanced array suffix in %q", t)
			}
			if err := validateArraySuffix(inner[open:]); err != nil {
				return err
			}
			inner = inner[:open]
		}
		if !strings.HasSuffix(inner, ")") {
			return fmt.Errorf("malformed tuple %q", t)
		}
		members, err := splitTypes(inner[1 : len(inner)-1])
		if err != nil {
			return err
		}
		for _, m := range members {
			if err := validateType(m); err != nil {
				return err
			}
		}
		return nil
	}

	if _, err := abi.NewType(t, "", nil); err != nil {
		return fmt.Errorf("invalid type %q: %w", t, err)
	}
	return nil
}

var arraySuffixRe = regexp.MustCompile(`^\[[0-9]*\]$`)

func validateArraySuffix(s string) error {
	if !arraySuffixRe.MatchString(s) {
		return fmt.Errorf("invalid array suffix %q", s)
	}
	return nil
}

// RegistrySet provides the registry to wire.
var RegistrySet = wire.NewSet(
	NewRegistry,
	wire.Bind(new(usecase.SignatureRegistry), new(*Registry)),
)
