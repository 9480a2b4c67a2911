package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/primehq/prime/internal/config"
	"github.com/primehq/prime/internal/storage"
)

func buildStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop a running instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(pidFilePath())
			if err != nil {
				if os.IsNotExist(err) {
					return fmt.Errorf("no pid file at %s; is prime running?", pidFilePath())
				}
				return err
			}
			pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
			if err != nil {
				return fmt.Errorf("malformed pid file: %w", err)
			}
			if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
				return fmt.Errorf("signal pid %d: %w", pid, err)
			}
			fmt.Printf("sent SIGTERM to pid %d\n", pid)
			return nil
		},
	}
}

func buildStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check whether the gateway is up",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flagConfig)
			if err != nil {
				return err
			}
			client := newGatewayClient(cfg)
			health, err := client.Health(cmd.Context())
			if err != nil {
				return fmt.Errorf("gateway unreachable at %s: %w", client.baseURL, err)
			}
			fmt.Printf("gateway: %s (%s)\n", health["status"], client.baseURL)
			for k, v := range health {
				if k == "status" {
					continue
				}
				fmt.Printf("  %s: %v\n", k, v)
			}
			return nil
		},
	}
}

func buildDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, database, and gateway health",
		RunE: func(cmd *cobra.Command, args []string) error {
			failures := 0
			check := func(name string, err error) {
				if err != nil {
					failures++
					fmt.Printf("FAIL %s: %v\n", name, err)
					return
				}
				fmt.Printf("ok   %s\n", name)
			}

			cfg, err := config.Load(flagConfig)
			check("configuration", err)
			if cfg == nil {
				return fmt.Errorf("%d check(s) failed", failures)
			}

			store, err := storage.Open(cmd.Context(), storage.DefaultConfig(cfg.Database.Path))
			check("database", err)
			if store != nil {
				check("database ping", store.Ping(cmd.Context()))
				store.Close()
			}

			if len(cfg.Providers.APIKeys) == 0 {
				check("provider keys", fmt.Errorf("no provider API keys configured"))
			} else {
				check("provider keys", nil)
			}

			client := newGatewayClient(cfg)
			if _, err := client.Health(cmd.Context()); err != nil {
				fmt.Printf("warn gateway: not reachable at %s (not running?)\n", client.baseURL)
			} else {
				check("gateway", nil)
			}

			if failures > 0 {
				return fmt.Errorf("%d check(s) failed", failures)
			}
			fmt.Println("all checks passed")
			return nil
		},
	}
}

func buildLogsCmd() *cobra.Command {
	var follow bool
	cmd := &cobra.Command{
		Use:   "logs [lines]",
		Short: "Show the tail of the log file",
		RunE: func(cmd *cobra.Command, args []string) error {
			n := 100
			if len(args) > 0 {
				v, err := strconv.Atoi(args[0])
				if err != nil || v <= 0 {
					return usagef("line count must be a positive integer")
				}
				n = v
			}
			path := logFilePath()
			if err := printTail(path, n); err != nil {
				return err
			}
			if follow {
				return followFile(cmd.Context(), path)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep printing as the file grows")
	return cmd
}

func logFilePath() string {
	return filepath.Join(dataDir(), "prime.log")
}

func printTail(path string, n int) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Printf("no log file at %s\n", path)
			return nil
		}
		return err
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	for _, line := range lines {
		fmt.Println(line)
	}
	return nil
}

func followFile(ctx context.Context, path string) error {
	offset := int64(0)
	if info, err := os.Stat(path); err == nil {
		offset = info.Size()
	}
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			info, err := os.Stat(path)
			if err != nil || info.Size() <= offset {
				continue
			}
			f, err := os.Open(path)
			if err != nil {
				continue
			}
			if _, err := f.Seek(offset, 0); err == nil {
				buf := make([]byte, info.Size()-offset)
				if _, err := f.Read(buf); err == nil {
					fmt.Print(string(buf))
					offset = info.Size()
				}
			}
			f.Close()
		}
	}
}
