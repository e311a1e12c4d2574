// Package hostinfo identifies the machine the agent runs on.
package hostinfo

import (
	"context"
	"fmt"
	"os"

	"github.com/shirou/gopsutil/v3/host"
)

// Info is the subset of host details reported to the control server and
// printed at startup.
type Info struct {
	Hostname string
	OS       string
	Platform string
	Arch     string
}

// lookup is swapped in tests.
var lookup = host.InfoWithContext

// Detect returns host details. If gopsutil cannot read them it falls back
// to os.Hostname; an error is returned only when no host name is available.
func Detect(ctx context.Context) (Info, error) {
	stat, err := lookup(ctx)
	if err == nil && stat != nil && stat.Hostname != "" {
		return Info{
			Hostname: stat.Hostname,
			OS:       stat.OS,
			Platform: stat.Platform,
			Arch:     stat.KernelArch,
		}, nil
	}

	name, herr := os.Hostname()
	if herr != nil {
		if err == nil {
			err = herr
		}
		return Info{}, fmt.Errorf("detect hostname: %w", err)
	}
	return Info{Hostname: name}, nil
}
