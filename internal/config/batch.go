package config

import (
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"github/chapool/go-staking/internal/staking"
	"github/chapool/go-staking/internal/staking/pipeline"
	"github/chapool/go-staking/internal/util"
)

// JobSpec is one [[jobs]] entry of a batch file. Either Operation or Unsigned is set.
type JobSpec struct {
	Name      string         `toml:"name"`
	Chain     string         `toml:"chain"`
	Operation string         `toml:"operation"`
	Params    map[string]any `toml:"params"`
	// Unsigned is a hex unsigned transaction, or base64 with encoding = "base64"
	Unsigned       string            `toml:"unsigned"`
	Encoding       string            `toml:"encoding"`
	SigningPayload string            `toml:"signing_payload"`
	Key            string            `toml:"key"`
	RoleKeys       map[string]string `toml:"role_keys"`
	RoleSigners    map[string]string `toml:"role_signers"`
	Roles          []string          `toml:"roles"`
	Broadcast      bool              `toml:"broadcast"`
	Wait           bool              `toml:"wait"`
	Note           string            `toml:"note"`
}

type batchFile struct {
	Jobs []JobSpec `toml:"jobs"`
}

// LoadBatch reads a TOML batch file
func LoadBatch(path string) ([]*pipeline.Job, error) {
	var file batchFile
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, errors.Wrap(err, "failed to decode batch file")
	}
	return BatchJobs(file.Jobs)
}

// DecodeBatch parses TOML batch content
func DecodeBatch(data string) ([]*pipeline.Job, error) {
	var file batchFile
	if _, err := toml.Decode(data, &file); err != nil {
		return nil, errors.Wrap(err, "failed to decode batch")
	}
	return BatchJobs(file.Jobs)
}

// BatchJobs converts job specs to pipeline jobs. Unnamed jobs are named after their position.
func BatchJobs(specs []JobSpec) ([]*pipeline.Job, error) {
	if len(specs) == 0 {
		return nil, errors.New("batch has no jobs")
	}

	jobs := make([]*pipeline.Job, 0, len(specs))
	names := make(map[string]struct{}, len(specs))
	for i, spec := range specs {
		if spec.Name == "" {
			spec.Name = "job-" + strconv.Itoa(i+1)
		}
		if _, dup := names[spec.Name]; dup {
			return nil, errors.Errorf("duplicate job name %q", spec.Name)
		}
		names[spec.Name] = struct{}{}

		job, err := spec.Job()
		if err != nil {
			return nil, errors.Wrapf(err, "job %q", spec.Name)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Job converts the spec to a pipeline job
func (j JobSpec) Job() (*pipeline.Job, error) {
	ch, err := staking.ParseChainKind(j.Chain)
	if err != nil {
		return nil, err
	}
	if (j.Operation == "") == (j.Unsigned == "") {
		return nil, errors.New("exactly one of operation and unsigned is required")
	}

	req := pipeline.Request{
		Chain:           ch,
		KeyRef:          j.Key,
		RoleKeys:        roleMap(j.RoleKeys),
		RoleSigners:     roleMap(j.RoleSigners),
		Broadcast:       j.Broadcast,
		WaitForFinality: j.Wait,
		Note:            j.Note,
	}
	for _, r := range j.Roles {
		req.Roles = append(req.Roles, staking.Role(r))
	}
	if j.Unsigned != "" {
		enc, err := util.ParseEncoding(j.Encoding)
		if err != nil {
			return nil, err
		}
		if req.Unsigned, err = util.DecodePayload(j.Unsigned, enc); err != nil {
			return nil, errors.Wrap(err, "failed to decode unsigned transaction")
		}
	}
	if j.SigningPayload != "" {
		if req.SigningPayload, err = util.DecodeHex(j.SigningPayload); err != nil {
			return nil, errors.Wrap(err, "failed to decode signing payload")
		}
	}

	return &pipeline.Job{
		Name: j.Name,
		FetchRequest: pipeline.FetchRequest{
			Request:   req,
			Operation: j.Operation,
			Params:    j.Params,
		},
	}, nil
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
