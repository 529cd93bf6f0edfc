package meta

import (
	"fmt"
	"runtime"
	"strings"
)

// Info describes how a lantern binary was built.
//
// Most of it is filled in at build time by the Go linker, see the vars below.
type Info struct {
	Version   string
	Build     string
	Branch    string
	BuildTime string
	Platform  string
	GoVersion string
	GoTag     string
}

// These will be filled in using the linker -X flag, e.g.
//
//	go build -ldflags "-X github.com/luma/lantern/internal/meta.Version=v0.1.0"
var (
	// Version as an arbitrary string
	Version string

	// Build is the Git sha from when we are building
	Build string

	// Branch is the Git branch that we are building from
	Branch string

	// BuildTimeUTC is the build time in UTC (year/month/day hour:min:sec)
	BuildTimeUTC string

	// GoTag is the Go build tags, see https://golang.org/pkg/go/build/#hdr-Build_Constraints
	GoTag string

	platform = fmt.Sprintf("%s %s", runtime.GOOS, runtime.GOARCH)
)

// GetInfo returns an Info struct populated with the build information.
func GetInfo() Info {
	version := Version
	if version == "" {
		version = "dev"
	}

	return Info{
		GoVersion: runtime.Version(),
		Version:   version,
		Build:     Build,
		Branch:    Branch,
		BuildTime: BuildTimeUTC,
		GoTag:     GoTag,
		Platform:  platform,
	}
}

// String renders the info over several lines, for `lantern version`.
func (i Info) String() string {
	var b strings.Builder

	fmt.Fprintf(&b, "lantern %s\n", i.Version)

	if i.Build != "" {
		fmt.Fprintf(&b, "  build:     %s (%s)\n", i.Build, i.Branch)
	}

	if i.BuildTime != "" {
		fmt.Fprintf(&b, "  built at:  %s\n", i.BuildTime)
	}

	fmt.Fprintf(&b, "  platform:  %s\n", i.Platform)
	fmt.Fprintf(&b, "  go:        %s %s", i.GoVersion, i.GoTag)

	return strings.TrimRight(b.String(), " ")
}
