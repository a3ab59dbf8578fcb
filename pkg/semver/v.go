package semver

import (
	"fmt"
	"strings"
)

// V - structured semantic version.
type V struct {
	Major, Minor, Patch uint
	PreRelease          string
	BuildMetadata       []string
}

// Core - returns MAJOR.MINOR.PATCH part only.
func (v V) Core() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

func (v V) String() string {
	s := v.Core()
	if v.PreRelease != "" {
		s += "-" + v.PreRelease
	}
	if len(v.BuildMetadata) > 0 {
		s += "+" + strings.Join(v.BuildMetadata, ".")
	}
	return s
}
