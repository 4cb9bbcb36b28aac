package cmd

// Set at build time with -ldflags "-X github.com/samzong/qualgate/cmd.Version=...".
var (
	Version   = "dev"
	BuildTime = "unknown"
)
