package version

// Version is stamped by the release tooling; local builds report "dev".
var Version = "dev"
