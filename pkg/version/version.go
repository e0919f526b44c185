package version

// Current defines the application version.
// It defaults to "dev" but is overwritten by the Makefile using -ldflags.
var Current = "dev"

// AppName is used in the CLI banner and the AWS user agent.
const AppName = "vmplace"
