package version

import "fmt"

// Version is the client version reported to the control server. Release
// builds override it with -ldflags "-X .../internal/version.Version=x.y.z".
var Version = "0.1.0"

// Splash returns the banner printed at startup.
func Splash() string {
	return fmt.Sprintf("Seeder Control Client (v%s)", Version)
}
