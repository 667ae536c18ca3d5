package cmd

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var stopTimeout time.Duration

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running gymgate server",
	Long: `Ask the gymgate server recorded in ~/.gymgate/server.pid to shut down.

The server drains in-flight requests, flushes the audit buffer and saves
lockout state before exiting. If it is still running after --timeout it
is killed.

Examples:
  gymgate stop
  gymgate stop --timeout 30s`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer(cmd.ErrOrStderr(), pidFilePath(), stopTimeout)
	},
}

func init() {
	stopCmd.Flags().DurationVar(&stopTimeout, "timeout", 10*time.Second, "how long to wait before killing the server")
	rootCmd.AddCommand(stopCmd)
}

const stopPollInterval = 200 * time.Millisecond

// stopServer signals the process in pidPath and waits up to timeout for it
// to exit. The PID file is removed once the process is gone.
func stopServer(out io.Writer, pidPath string, timeout time.Duration) error {
	pid := readPIDFile(pidPath)
	if pid == 0 {
		return fmt.Errorf("no server PID file found at %s (is the server running?)", pidPath)
	}
	defer os.Remove(pidPath)

	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("invalid PID %d: %w", pid, err)
	}
	if !processIsAlive(proc) {
		return fmt.Errorf("server process %d is not running (stale PID file removed)", pid)
	}

	fmt.Fprintf(out, "Stopping gymgate server (PID %d)...\n", pid)
	if err := sendGracefulStop(proc); err != nil {
		return fmt.Errorf("failed to stop server: %w", err)
	}

	for deadline := time.Now().Add(timeout); time.Now().Before(deadline); {
		time.Sleep(stopPollInterval)
		if !processIsAlive(proc) {
			fmt.Fprintln(out, "Server stopped.")
			return nil
		}
	}

	fmt.Fprintf(out, "Server still running after %s, killing it.\n", timeout)
	if err := proc.Kill(); err != nil {
		return fmt.Errorf("kill server: %w", err)
	}
	return nil
}

// readPIDFile returns the PID stored at path, or 0 if it is missing or
// malformed.
func readPIDFile(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0
	}
	return pid
}
