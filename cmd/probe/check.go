package probe

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github/chapool/go-staking/internal/config"
)

const probeTimeout = 5 * time.Second

func newProbe(use string, short string, path string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Long: short + `
Queries ` + path + ` of a running server and exits non-zero unless it answers 200.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			verbose, err := cmd.Flags().GetBool(verboseFlag)
			if err != nil {
				return errors.Wrap(err, "failed to get verbose flag")
			}
			base, err := cmd.Flags().GetString(urlFlag)
			if err != nil {
				return errors.Wrap(err, "failed to get url flag")
			}
			if base == "" {
				base = localURL(config.DefaultServiceConfigFromEnv().Echo.ListenAddress)
			}

			return check(cmd, base+path, verbose)
		},
	}
	cmd.Flags().BoolP(verboseFlag, "v", false, "Show verbose output.")
	cmd.Flags().String(urlFlag, "", "Base URL of the server, defaults to the local listen address.")
	return cmd
}

func check(cmd *cobra.Command, url string, verbose bool) error {
	started := time.Now()
	res, err := resty.New().SetTimeout(probeTimeout).R().SetContext(cmd.Context()).Get(url)
	if err != nil {
		return errors.Wrapf(err, "failed to reach %s", url)
	}

	if verbose {
		log.Info().Str("url", url).Int("status", res.StatusCode()).Dur("duration", time.Since(started)).Str("body", res.String()).Msg("Probe finished")
	}
	if res.StatusCode() != http.StatusOK {
		return errors.Errorf("probe %s answered %d: %s", url, res.StatusCode(), res.String())
	}
	return nil
}

// localURL turns a listen address like ":8080" into a URL on the loopback interface
func localURL(listen string) string {
	if strings.HasPrefix(listen, ":") {
		listen = "127.0.0.1" + listen
	}
	return "http://" + listen
}
