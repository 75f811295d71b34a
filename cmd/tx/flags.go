package tx

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github/chapool/go-staking/internal/api/handlers/signing"
	"github/chapool/go-staking/internal/staking"
	"github/chapool/go-staking/internal/staking/pipeline"
	"github/chapool/go-staking/internal/util"
)

// signingFlags are shared by every command that runs the pipeline
type signingFlags struct {
	key         string
	roleKeys    map[string]string
	roleSigners map[string]string
	roles       []string
	broadcast   bool
	wait        bool
	note        string
	partialOut  string
}

func (f *signingFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.key, "key", "", "Key reference used for every role without --role-key.")
	cmd.Flags().StringToStringVar(&f.roleKeys, "role-key", nil, "Key reference per role, role=ref.")
	cmd.Flags().StringToStringVar(&f.roleSigners, "role-signer", nil, "Signer backend per role, role=local|custodian.")
	cmd.Flags().StringSliceVar(&f.roles, "roles", nil, "Sign only these roles; the others are left for another signer.")
	cmd.Flags().BoolVar(&f.broadcast, "broadcast", false, "Broadcast the assembled transaction.")
	cmd.Flags().BoolVar(&f.wait, "wait", false, "Wait for finality after broadcasting.")
	cmd.Flags().StringVar(&f.note, "note", "", "Note attached to custodian requests.")
	cmd.Flags().StringVar(&f.partialOut, "partial-out", "", "Write a partially signed transaction to this file.")
}

func (f *signingFlags) request(ch staking.ChainKind) pipeline.Request {
	req := pipeline.Request{
		Chain:           ch,
		KeyRef:          f.key,
		RoleKeys:        roleMap(f.roleKeys),
		RoleSigners:     roleMap(f.roleSigners),
		Broadcast:       f.broadcast,
		WaitForFinality: f.wait,
		Note:            f.note,
	}
	for _, r := range f.roles {
		req.Roles = append(req.Roles, staking.Role(r))
	}
	return req
}

func roleMap(in map[string]string) map[staking.Role]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[staking.Role]string, len(in))
	for k, v := range in {
		out[staking.Role(k)] = v
	}
	return out
}

// readPayload decodes an argument in the given encoding; "@path" reads it from a file
func readPayload(arg string, encoding string) ([]byte, error) {
	enc, err := util.ParseEncoding(encoding)
	if err != nil {
		return nil, err
	}
	if path, ok := strings.CutPrefix(arg, "@"); ok {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read payload file")
		}
		arg = string(data)
	}
	return util.DecodePayload(arg, enc)
}

// printResult writes the result as JSON and saves a partial transaction when asked to.
// The pipeline error is returned so the command exits non-zero.
func (f *signingFlags) printResult(cmd *cobra.Command, res *pipeline.Result, runErr error) error {
	if res == nil {
		return runErr
	}

	out, err := json.MarshalIndent(signing.ResultToResponse(res), "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal result")
	}
	cmd.Println(string(out))

	if res.NeedsSigners() && f.partialOut != "" {
		raw, err := json.MarshalIndent(res.Partial, "", "  ")
		if err != nil {
			return errors.Wrap(err, "failed to marshal partial transaction")
		}
		if err := os.WriteFile(f.partialOut, raw, 0o600); err != nil {
			return errors.Wrap(err, "failed to write partial transaction")
		}
		cmd.PrintErrf("Partial transaction written to %s, missing %v\n", f.partialOut, res.Partial.Missing)
	}
	return runErr
}
