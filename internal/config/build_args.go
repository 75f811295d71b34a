package config

import "fmt"

// The following vars are set by "-ldflags '-X ...'" at build time
var (
	ModuleName = "go-staking"
	Commit     = "< 40 chars git commit hash via ldflags >"
	BuildDate  = "1970-01-01-00:00:00"
)

// GetFormattedBuildArgs returns the version line printed by --version
func GetFormattedBuildArgs() string {
	return fmt.Sprintf("%v @ %v (%v)", ModuleName, Commit, BuildDate)
}
