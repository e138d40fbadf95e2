package main

import (
	"encoding/json"
	"fmt"
	"io"
	"runtime"
	"runtime/debug"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"checkpool/internal/backend/tsbackend"
	"checkpool/internal/protocol"
	"checkpool/internal/version"
)

// buildInfo is what `checkpool version` reports. Commit and date fall back
// to the VCS stamp the Go toolchain embeds when no -ldflags were given.
type buildInfo struct {
	Tool       string   `json:"tool"`
	Version    string   `json:"version"`
	Commit     string   `json:"commit,omitempty"`
	Message    string   `json:"message,omitempty"`
	Built      string   `json:"built,omitempty"`
	Go         string   `json:"go,omitempty"`
	Protocol   int      `json:"protocol,omitempty"`
	Extensions []string `json:"extensions,omitempty"`
	Rules      []string `json:"rules,omitempty"`
}

func init() {
	versionCmd.Flags().Bool("full", false, "also show commit, build date, RPC protocol and supported rules")
	versionCmd.Flags().String("format", "pretty", "output format (pretty|json)")
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show checkpool build information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := cmd.Flags().GetString("format")
		if err != nil {
			return fmt.Errorf("failed to get format flag: %w", err)
		}
		full, _ := cmd.Flags().GetBool("full")
		info := collectBuildInfo(full)
		switch strings.ToLower(format) {
		case "json":
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(info)
		case "pretty":
			printBuildInfo(cmd.OutOrStdout(), info)
			return nil
		}
		return fmt.Errorf("unsupported format %q (must be pretty or json)", format)
	},
}

func collectBuildInfo(full bool) buildInfo {
	info := buildInfo{Tool: "checkpool", Version: strings.TrimSpace(version.Version)}
	if info.Version == "" {
		info.Version = "dev"
	}
	if !full {
		return info
	}
	info.Commit = strings.TrimSpace(version.GitCommit)
	info.Message = strings.TrimSpace(version.GitMessage)
	info.Built = strings.TrimSpace(version.BuildDate)
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch {
			case s.Key == "vcs.revision" && info.Commit == "":
				info.Commit = s.Value
			case s.Key == "vcs.time" && info.Built == "":
				info.Built = s.Value
			}
		}
	}
	info.Go = runtime.Version()
	info.Protocol = protocol.Version
	info.Extensions = slices.Clone(tsbackend.Extensions)
	for rule := range tsbackend.DefaultRules() {
		info.Rules = append(info.Rules, rule)
	}
	slices.Sort(info.Rules)
	return info
}

func printBuildInfo(out io.Writer, info buildInfo) {
	fmt.Fprintf(out, "checkpool %s\n", version.Colored(info.Version))
	if info.Go == "" {
		return
	}
	row := func(label, value string) {
		if value == "" {
			value = "unknown"
		}
		fmt.Fprintf(out, "  %-11s %s\n", label+":", value)
	}
	row("commit", info.Commit)
	if info.Message != "" {
		row("message", info.Message)
	}
	row("built", info.Built)
	row("go", info.Go)
	row("protocol", fmt.Sprint(info.Protocol))
	row("extensions", strings.Join(info.Extensions, " "))
	row("rules", strings.Join(info.Rules, " "))
}
