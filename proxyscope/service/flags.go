package service

import (
	"github.com/spf13/pflag"
)

// ServeFlags holds flags for MCP server mode.
type ServeFlags struct {
	ConfigPath string
	DBPath     string
	MCPPort    int // 0 = use config value
	TruncateAt int // 0 = use config value
}

// ParseServeFlags parses flags for server mode (proxyscope serve).
func ParseServeFlags(args []string) (ServeFlags, error) {
	fs := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	fs.SetInterspersed(true)

	var flags ServeFlags
	fs.StringVar(&flags.ConfigPath, "config", "", "config file path (default: .proxyscope/config.json)")
	fs.StringVar(&flags.DBPath, "db", "", "traffic store path (default: from config)")
	fs.IntVar(&flags.MCPPort, "port", 0, "MCP server port (default: from config or 9233)")
	fs.IntVar(&flags.TruncateAt, "truncate-at", 0, "inline body threshold in bytes (default: from config or 4000)")

	if err := fs.Parse(args); err != nil {
		return flags, err
	}
	return flags, nil
}
