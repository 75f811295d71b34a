package tx

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github/chapool/go-staking/internal/staking"
	"github/chapool/go-staking/internal/staking/pipeline"
)

func TestParseParams(t *testing.T) {
	got := parseParams(map[string]string{
		"amount":            "1.5",
		"lamports":          "1000000",
		"compound":          "true",
		"validator_address": "Vote111111111111111111111111111111111111111",
	})

	assert.Equal(t, 1.5, got["amount"])
	assert.Equal(t, int64(1000000), got["lamports"])
	assert.Equal(t, true, got["compound"])
	assert.Equal(t, "Vote111111111111111111111111111111111111111", got["validator_address"])
}

func TestReadPayload(t *testing.T) {
	b, err := readPayload("0x02c0", "")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02, 0xc0}, b)

	// hex digits only, still decoded as base64 when asked to
	b, err = readPayload("abcd", "base64")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x69, 0xb7, 0x1d}, b)

	_, err = readPayload("02c0", "base58")
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "tx.hex")
	require.NoError(t, os.WriteFile(path, []byte("02c0\n"), 0o600))
	b, err = readPayload("@"+path, "hex")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02, 0xc0}, b)

	_, err = readPayload("@"+filepath.Join(t.TempDir(), "missing"), "hex")
	require.Error(t, err)
}

func TestParseDeposit(t *testing.T) {
	pubkey := "0x" + strings.Repeat("01", 48)

	topUp, err := parseDeposit(pubkey, "", "", 2_000_000_000)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 32), topUp.WithdrawalCredentials)
	assert.Equal(t, make([]byte, 96), topUp.Signature)
	_, err = topUp.CallData()
	require.NoError(t, err)

	fresh, err := parseDeposit(pubkey, "0x01"+strings.Repeat("00", 31), strings.Repeat("bb", 96), 32_000_000_000)
	require.NoError(t, err)
	assert.Equal(t, byte(0x01), fresh.WithdrawalCredentials[0])
	assert.Equal(t, byte(0xbb), fresh.Signature[95])

	_, err = parseDeposit(pubkey, "0x01"+strings.Repeat("00", 31), "", 32_000_000_000)
	require.Error(t, err)

	_, err = parseDeposit("zz", "", "", 2_000_000_000)
	require.Error(t, err)
}

func TestSigningFlags(t *testing.T) {
	var flags signingFlags
	cmd := &cobra.Command{Use: "x", RunE: func(*cobra.Command, []string) error { return nil }}
	flags.register(cmd)
	cmd.SetArgs([]string{"--key", "k", "--role-key", "payment=pay,stake=stk", "--role-signer", "stake=custodian", "--roles", "stake", "--broadcast"})
	require.NoError(t, cmd.Execute())

	req := flags.request(staking.ChainCardano)
	assert.Equal(t, "k", req.KeyRef)
	assert.Equal(t, map[staking.Role]string{"payment": "pay", "stake": "stk"}, req.RoleKeys)
	assert.Equal(t, map[staking.Role]string{"stake": "custodian"}, req.RoleSigners)
	assert.Equal(t, []staking.Role{"stake"}, req.Roles)
	assert.True(t, req.Broadcast)
	assert.False(t, req.WaitForFinality)
}

func TestPrintResultWritesPartial(t *testing.T) {
	flags := signingFlags{partialOut: filepath.Join(t.TempDir(), "partial.json")}
	cmd := &cobra.Command{}
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)

	partial := &staking.PartialTransaction{
		Chain:    staking.ChainCardano,
		Unsigned: []byte{0x84},
		Missing:  []staking.Role{"stake"},
	}
	require.NoError(t, flags.printResult(cmd, &pipeline.Result{Chain: staking.ChainCardano, State: pipeline.StatePartial, Partial: partial}, nil))
	assert.Contains(t, out.String(), `"state": "signed_partial"`)

	read, err := readPartial(flags.partialOut)
	require.NoError(t, err)
	assert.Equal(t, partial.Missing, read.Missing)
	assert.Equal(t, partial.Unsigned, read.Unsigned)
}

func TestReadPartialRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	write := func(name string, v any) string {
		raw, err := json.Marshal(v)
		require.NoError(t, err)
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, raw, 0o600))
		return path
	}

	_, err := readPartial(write("chain.json", staking.PartialTransaction{Chain: "dogecoin", Unsigned: []byte{1}}))
	require.Error(t, err)
	_, err = readPartial(write("empty.json", staking.PartialTransaction{Chain: staking.ChainSui}))
	require.Error(t, err)
}
