package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rincr/rincr/pkg/buildinfo"
	"github.com/rincr/rincr/pkg/config"
	"github.com/rincr/rincr/pkg/engine"
	"github.com/rincr/rincr/pkg/flagparse"
	"github.com/rincr/rincr/pkg/plog"
	"github.com/rincr/rincr/pkg/transfer"
)

// runInit writes a configuration file into the destination directory. An
// existing file is only replaced when -force was given.
func runInit(runConfig config.Config, flagMap map[string]any) error {
	if err := runConfig.Validate(false); err != nil {
		return err
	}

	if err := os.MkdirAll(runConfig.Destination, 0o755); err != nil {
		return fmt.Errorf("could not create destination directory: %w", err)
	}

	configPath := filepath.Join(runConfig.Destination, config.ConfigFileName)
	force, _ := flagMap["force"].(bool)
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("configuration file already exists at %s. Use -force to overwrite", configPath)
	}

	if err := config.Generate(runConfig); err != nil {
		return err
	}
	plog.Info("Destination initialized.", "path", runConfig.Destination)
	return nil
}

// loadRunConfig builds the effective configuration for a command: the file in
// the destination (or defaults) overlaid with the flags the user actually set.
func loadRunConfig(command flagparse.Command, flagMap map[string]any) (config.Config, error) {
	destPath, ok := flagMap["dest"].(string)
	if !ok || destPath == "" {
		return config.Config{}, fmt.Errorf("the -dest flag is required for the %s command", command)
	}

	loadedConfig, err := config.Load(destPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to load configuration from destination: %w", err)
	}

	runConfig := config.MergeConfigWithFlags(command, loadedConfig, flagMap)

	// Set the global log level based on the final configuration.
	plog.SetLevel(plog.LevelFromString(runConfig.LogLevel))
	return runConfig, nil
}

// run encapsulates the main application logic and returns an error if something
// goes wrong, allowing the main function to handle exit codes.
func run(ctx context.Context, args []string) error {
	command, flagMap, err := flagparse.Parse(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	switch command {
	case flagparse.None:
		return nil // Usage was already printed.
	case flagparse.Version:
		fmt.Printf("%s version %s\n", buildinfo.Name, buildinfo.Version)
		return nil
	}

	runConfig, err := loadRunConfig(command, flagMap)
	if err != nil {
		return err
	}

	if command == flagparse.Init {
		return runInit(runConfig, flagMap)
	}

	// Only a backup reads the source tree; the other commands operate on the
	// destination alone.
	if err := runConfig.Validate(command == flagparse.Backup); err != nil {
		return err
	}

	runner := engine.New(runConfig)
	startTime := time.Now()

	switch command {
	case flagparse.Backup:
		runConfig.LogSummary()
		err = runner.ExecuteBackup(ctx)
	case flagparse.Prune:
		err = runner.ExecutePrune(ctx)
	case flagparse.List:
		_, err = runner.ExecuteList(ctx)
	case flagparse.Export:
		backupName, _ := flagMap["backup-name"].(string)
		outDir, _ := flagMap["out"].(string)
		err = runner.ExecuteExport(ctx, backupName, outDir)
	default:
		return fmt.Errorf("internal error: unhandled command %s", command)
	}

	duration := time.Since(startTime).Round(time.Millisecond)
	if err != nil {
		return err // The error will be logged with full details by main()
	}
	plog.Info(buildinfo.Name+" finished successfully.", "command", command.String(), "duration", duration)
	return nil
}

func main() {
	// Cancel the run context on Ctrl+C or a termination request so rsync and
	// hooks get a chance to shut down cleanly.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		plog.Error(buildinfo.Name+" exited with error", "error", err)
		// A failed rsync surfaces its own exit status so schedulers and
		// wrapper scripts can tell transfer errors apart.
		if code, ok := transfer.ExitCode(err); ok && code > 0 {
			os.Exit(code)
		}
		os.Exit(1)
	}
}
