// Package version provides build and version information for the rule chain engine.
package version

// Version is the current release version of the rule chain engine.
// This can be overridden at build time using:
//
//	go build -ldflags "-X github.com/AaronLay10/RuleChain/internal/version.Version=x.y.z"
var Version = "0.3.0"
