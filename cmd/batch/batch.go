package batch

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github/chapool/go-staking/internal/api"
	"github/chapool/go-staking/internal/api/handlers/signing"
	"github/chapool/go-staking/internal/config"
	"github/chapool/go-staking/internal/staking/pipeline"
	"github/chapool/go-staking/internal/util/command"
)

// Summary is the printed outcome of a batch
type Summary struct {
	Jobs    int                       `json:"jobs"`
	Success int                       `json:"success"`
	Partial int                       `json:"partial"`
	Failed  int                       `json:"failed"`
	Results []*signing.ResultResponse `json:"results"`
}

func New() *cobra.Command {
	return command.NewSubcommandGroup("batch",
		newRun(),
		newCheck(),
	)
}

func newRun() *cobra.Command {
	return &cobra.Command{
		Use:   "run <jobs.toml>",
		Short: "Runs every job of a TOML batch file concurrently",
		Long: `Runs the [[jobs]] of the file with at most BATCH_MAX_PARALLEL in flight.
A failing job does not stop the others; the command exits non-zero when any job failed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, err := config.LoadBatch(args[0])
			if err != nil {
				return err
			}

			return command.WithServer(cmd.Context(), config.DefaultServiceConfigFromEnv(), func(ctx context.Context, s *api.Server) error {
				results, runErr := s.Pipeline.RunBatch(ctx, jobs)
				summary := Summarize(results)

				out, err := json.MarshalIndent(summary, "", "  ")
				if err != nil {
					return errors.Wrap(err, "failed to marshal batch summary")
				}
				cmd.Println(string(out))

				if runErr != nil {
					return runErr
				}
				if summary.Failed > 0 {
					return errors.Errorf("%d of %d jobs failed", summary.Failed, summary.Jobs)
				}
				return nil
			})
		},
	}
}

func newCheck() *cobra.Command {
	return &cobra.Command{
		Use:   "check <jobs.toml>",
		Short: "Validates a TOML batch file without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, err := config.LoadBatch(args[0])
			if err != nil {
				return err
			}
			for _, job := range jobs {
				mode := "unsigned"
				if job.Operation != "" {
					mode = "operation " + job.Operation
				}
				cmd.Printf("%s: %s %s\n", job.Name, job.Chain, mode)
			}
			return nil
		},
	}
}

// Summarize counts the outcomes of a batch
func Summarize(results []*pipeline.Result) *Summary {
	s := &Summary{Jobs: len(results), Results: make([]*signing.ResultResponse, 0, len(results))}
	for _, res := range results {
		if res == nil {
			s.Failed++
			continue
		}
		switch {
		case res.NeedsSigners():
			s.Partial++
		case res.Success:
			s.Success++
		default:
			s.Failed++
		}
		s.Results = append(s.Results, signing.ResultToResponse(res))
	}
	return s
}
