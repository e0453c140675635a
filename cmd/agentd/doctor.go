package main

import (
	"fmt"
	"net"
	"os"

	"github.com/spf13/cobra"

	"github.com/agentharness/agentd/internal/config"
)

func buildDoctorCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Validate configuration and environment",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cmd, configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to JSON configuration file")
	return cmd
}

// runDoctor checks the pieces a failed serve run would otherwise surface
// one at a time: config parses, data dir is writable, and the listen
// address is free.
func runDoctor(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()
	ok := true

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(out, "[FAIL] config: %v\n", err)
		return fmt.Errorf("doctor found a fatal problem")
	}
	fmt.Fprintf(out, "[ OK ] config loaded (listen_addr=%s, data_dir=%s)\n", cfg.ListenAddr, cfg.DataDir)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		fmt.Fprintf(out, "[FAIL] data_dir not writable: %v\n", err)
		ok = false
	} else {
		fmt.Fprintf(out, "[ OK ] data_dir writable: %s\n", cfg.DataDir)
	}

	listener, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		fmt.Fprintf(out, "[FAIL] listen_addr unavailable: %v\n", err)
		ok = false
	} else {
		_ = listener.Close()
		fmt.Fprintf(out, "[ OK ] listen_addr available: %s\n", cfg.ListenAddr)
	}

	if os.Getenv("ANTHROPIC_API_KEY") == "" {
		fmt.Fprintln(out, "[WARN] ANTHROPIC_API_KEY not set; only the stub model provider will be registered")
	} else {
		fmt.Fprintln(out, "[ OK ] ANTHROPIC_API_KEY set")
	}

	if cfg.AuthToken == "" {
		fmt.Fprintln(out, "[WARN] auth_token not set; the API will accept unauthenticated requests")
	} else {
		fmt.Fprintln(out, "[ OK ] auth_token configured")
	}

	if !ok {
		return fmt.Errorf("doctor found a fatal problem")
	}
	return nil
}
