package verification

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainproof-org/chainproof/internal/adapters/compiler"
	"github.com/chainproof-org/chainproof/internal/domain"
)

// seqInvoker replays one canned output per compile call and records the last
// input it saw.
type seqInvoker struct {
	outputs   []*domain.StandardJSONOutput
	calls     int
	lastInput *domain.StandardJSONInput
}

func (s *seqInvoker) Compile(_ context.Context, _ domain.Language, _ string, input *domain.StandardJSONInput, _ compiler.CompileOptions) (*domain.StandardJSONOutput, error) {
	s.lastInput = input
	idx := s.calls
	if idx >= len(s.outputs) {
		idx = len(s.outputs) - 1
	}
	s.calls++
	return s.outputs[idx], nil
}

func auxdataTrailerHex(t *testing.T, solc []byte) string {
	t.Helper()
	doc, err := cbor.Marshal(map[string]any{"solc": solc})
	require.NoError(t, err)
	region := append(doc, byte(len(doc)>>8), byte(len(doc)))
	return hex.EncodeToString(region)
}

func metadataRequest(t *testing.T, compilerVersion string, supplied map[string]string) *domain.MetadataRequest {
	t.Helper()
	md := map[string]any{
		"compiler": map[string]string{"version": compilerVersion},
		"language": "Solidity",
		"settings": map[string]any{
			"compilationTarget": map[string]string{"src/Token.sol": "Token"},
		},
		"sources": map[string]any{
			"src/Token.sol": map[string]string{"content": "contract Token {}"},
		},
		"version": 1,
	}
	raw, err := json.Marshal(md)
	require.NoError(t, err)
	return &domain.MetadataRequest{
		ChainID:  1,
		Address:  common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		Metadata: raw,
		Sources:  supplied,
	}
}

func TestMetadataExtraFileInputBugWithoutExtras(t *testing.T) {
	trailer := auxdataTrailerHex(t, []byte{0, 6, 12})
	onchain := "6001" + trailer
	recompiled := "6002" + trailer

	client := &fakeClient{chainID: 1, runtime: hexutil.MustDecode("0x" + onchain)}
	e := newTestEngine(t, &seqInvoker{outputs: []*domain.StandardJSONOutput{outputFor(recompiled, "600a"+recompiled)}}, client)

	_, err := e.VerifyFromMetadata(context.Background(), metadataRequest(t, "0.6.12+commit.27d51765", nil))
	require.Error(t, err)
	assert.True(t, domain.HasCode(err, domain.ErrExtraFileInputBug))
}

func TestMetadataMismatchedTrailersSkipBugRetry(t *testing.T) {
	onchain := "6001" + auxdataTrailerHex(t, []byte{0, 6, 12})
	recompiled := "6002" + auxdataTrailerHex(t, []byte{0, 7, 0})

	client := &fakeClient{chainID: 1, runtime: hexutil.MustDecode("0x" + onchain)}
	invoker := &seqInvoker{outputs: []*domain.StandardJSONOutput{outputFor(recompiled, "600a"+recompiled)}}
	e := newTestEngine(t, invoker, client)

	_, err := e.VerifyFromMetadata(context.Background(), metadataRequest(t, "0.6.12+commit.27d51765", nil))
	require.Error(t, err)
	assert.True(t, domain.HasCode(err, domain.ErrBytecodeMismatch))
	assert.Equal(t, 1, invoker.calls)
}

func TestMetadataExtraFileInputBugRetriesWithExtras(t *testing.T) {
	trailer := auxdataTrailerHex(t, []byte{0, 6, 12})
	onchain := "6001" + trailer
	recompiled := "6002" + trailer

	client := &fakeClient{chainID: 1, runtime: hexutil.MustDecode("0x" + onchain)}
	invoker := &seqInvoker{outputs: []*domain.StandardJSONOutput{
		outputFor(recompiled, "600a"+recompiled),
		outputFor(onchain, "600a"+onchain),
	}}
	e := newTestEngine(t, invoker, client)

	supplied := map[string]string{
		"src/Token.sol": "contract Token {}",
		"src/Extra.sol": "library Extra {}",
	}
	export, err := e.VerifyFromMetadata(context.Background(), metadataRequest(t, "0.6.12+commit.27d51765", supplied))
	require.NoError(t, err)
	assert.Equal(t, domain.MatchPerfect, export.Status.RuntimeMatch)

	require.NotNil(t, invoker.lastInput)
	assert.Contains(t, invoker.lastInput.Sources, "src/Extra.sol")
}

func TestMetadataNonBugVersionKeepsMismatch(t *testing.T) {
	trailer := auxdataTrailerHex(t, []byte{0, 8, 21})
	onchain := "6001" + trailer
	recompiled := "6002" + trailer

	client := &fakeClient{chainID: 1, runtime: hexutil.MustDecode("0x" + onchain)}
	invoker := &seqInvoker{outputs: []*domain.StandardJSONOutput{outputFor(recompiled, "600a"+recompiled)}}
	e := newTestEngine(t, invoker, client)

	supplied := map[string]string{"src/Extra.sol": "library Extra {}"}
	_, err := e.VerifyFromMetadata(context.Background(), metadataRequest(t, "0.8.21+commit.d9974bed", supplied))
	require.Error(t, err)
	assert.True(t, domain.HasCode(err, domain.ErrBytecodeMismatch))
	assert.Equal(t, 1, invoker.calls)
}
