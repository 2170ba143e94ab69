// emodbus CLI
//
// A Modbus master for the command line: reads and writes logical
// register names defined in a YAML profile over TCP, RTU or ASCII.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/commatea/emodbus/pkg/client"
	"github.com/commatea/emodbus/pkg/config"
	"github.com/commatea/emodbus/pkg/logger"
)

var (
	version   = "1.0.0"
	buildTime = "dev"
	gitCommit = "unknown"
)

var (
	cfgFile    string
	verbose    bool
	jsonOutput bool
	slaveID    uint8
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "emodbus",
		Short:   "emodbus - Modbus master CLI",
		Long:    "emodbus talks to Modbus slaves by logical register name.\nConnection settings and slave tables come from a YAML profile.",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildTime),
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default: ./emodbus.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().Uint8VarP(&slaveID, "slave", "s", 1, "slave id to address")

	rootCmd.AddCommand(
		newReadCmd(),
		newWriteCmd(),
		newPollCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newReadCmd creates the read command.
func newReadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read [name...]",
		Short: "Read named values from a slave",
		Long:  "Read the given logical names from the slave, or every name its table defines when none are given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer conn.Close()

			result := conn.Read(cmd.Context(), slaveID, args...)
			return printResult(result)
		},
	}
}

// newWriteCmd creates the write command.
func newWriteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "write name=value [name=value...]",
		Short: "Write named values to a slave",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			values := make(map[string]any, len(args))
			for _, arg := range args {
				name, raw, ok := strings.Cut(arg, "=")
				if !ok {
					return fmt.Errorf("expected name=value, got %q", arg)
				}
				values[name] = parseValue(raw)
			}

			conn, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer conn.Close()

			result := conn.Write(cmd.Context(), slaveID, values)
			return printResult(result)
		},
	}
}

// newPollCmd creates the poll command.
func newPollCmd() *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "poll [name...]",
		Short: "Read named values repeatedly until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer conn.Close()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigCh
				cancel()
			}()

			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			for {
				result := conn.Read(ctx, slaveID, args...)
				if err := printResult(result); err != nil {
					return err
				}

				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
				}
			}
		},
	}

	cmd.Flags().DurationVarP(&interval, "interval", "i", time.Second, "time between polls")
	return cmd
}

// open loads the profile and connects to the configured slave link.
func open(ctx context.Context) (*client.Connection, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if verbose {
		cfg.Logging.Level = "debug"
	}
	if jsonOutput {
		cfg.Logging.Format = "json"
	}
	log := logger.New(cfg.Logging)
	logger.SetGlobal(log)

	conn, err := client.ConnectConfig(ctx, cfg, &client.Options{Logger: log})
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	return conn, nil
}

// printResult writes one result to stdout, errors to stderr. A failed
// field makes the command exit non-zero but does not hide the rest.
func printResult(result client.Result) error {
	failed := 0
	for _, field := range result {
		if field.Err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "%s: %v\n", field.Name, field.Err)
		}
	}

	if jsonOutput {
		data, err := json.MarshalIndent(result.Map(), "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
	} else {
		for _, field := range result {
			if field.Err == nil {
				fmt.Printf("%s = %v\n", field.Name, field.Value)
			}
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d fields failed", failed, len(result))
	}
	return nil
}

// parseValue guesses the Go type of a command line value: integer,
// float, bool, then string.
func parseValue(raw string) any {
	if n, err := strconv.ParseInt(raw, 0, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	switch strings.ToLower(raw) {
	case "true", "on":
		return true
	case "false", "off":
		return false
	}
	return raw
}
