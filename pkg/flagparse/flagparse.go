package flagparse

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rincr/rincr/pkg/buildinfo"
)

// cliFlags holds pointers to all possible command-line flags.
// Fields are pointers so we can distinguish between "not registered for this command" (nil)
// and "registered but not set by user" (non-nil pointer to zero value).
type cliFlags struct {
	// Global
	LogLevel *string
	DryRun   *bool

	// Shared: Backup / Init / Prune
	Source        *string
	Dest          *string
	FailFast      *bool
	RsyncPath     *string
	Excludes      *string
	Includes      *string
	PreHooks      *string
	PostHooks     *string
	DaysToKeep    *int
	DeleteWorkers *int

	// Export specific
	BackupName   *string
	ExportFormat *string
	OutDir       *string

	// Init specific
	Force *bool
}

func registerGlobalFlags(fs *flag.FlagSet, f *cliFlags) {
	f.LogLevel = fs.String("log-level", "info", "Set the logging level: 'debug', 'notice', 'info', 'warn', 'error'.")
	f.DryRun = fs.Bool("dry-run", false, "Show what would be done without making any changes.")
}

func registerDestFlag(fs *flag.FlagSet, f *cliFlags) {
	f.Dest = fs.String("dest", "", "Destination directory holding the backup history. (Required)")
}

func registerBackupFlags(fs *flag.FlagSet, f *cliFlags) {
	registerDestFlag(fs, f)
	f.Source = fs.String("source", "", "Source directory to back up. (Required)")
	f.FailFast = fs.Bool("fail-fast", false, "Abort the run on the first hook command failure.")
	f.RsyncPath = fs.String("rsync-path", "", "Path to the rsync binary.")
	f.Excludes = fs.String("exclude", "", "Comma-separated list of rsync exclude patterns.")
	f.Includes = fs.String("include", "", "Comma-separated list of rsync include patterns.")
	f.PreHooks = fs.String("pre-backup-hooks", "", "Comma-separated list of commands to run before the backup.")
	f.PostHooks = fs.String("post-backup-hooks", "", "Comma-separated list of commands to run after the backup.")
	registerRetentionFlags(fs, f)
}

func registerRetentionFlags(fs *flag.FlagSet, f *cliFlags) {
	f.DaysToKeep = fs.Int("days-to-keep", 0, "Age in days after which complete backups are deleted. 0 disables age pruning.")
	f.DeleteWorkers = fs.Int("delete-workers", 0, "Number of worker goroutines for deleting outdated backups.")
}

func registerPruneFlags(fs *flag.FlagSet, f *cliFlags) {
	registerDestFlag(fs, f)
	registerRetentionFlags(fs, f)
}

func registerListFlags(fs *flag.FlagSet, f *cliFlags) {
	registerDestFlag(fs, f)
}

func registerExportFlags(fs *flag.FlagSet, f *cliFlags) {
	registerDestFlag(fs, f)
	f.BackupName = fs.String("backup-name", "", "Name of the backup directory to export. Defaults to the newest complete backup.")
	f.ExportFormat = fs.String("export-format", "", "Archive format for the export: 'tar.gz' or 'tar.zst'.")
	f.OutDir = fs.String("out", "", "Directory to write the archive to. Defaults to the current directory.")
}

func registerInitFlags(fs *flag.FlagSet, f *cliFlags) {
	// Init supports the backup flags (to generate config) plus 'force'.
	registerBackupFlags(fs, f)
	f.Force = fs.Bool("force", false, "Overwrite an existing configuration file.")
}

// Parse parses the provided arguments (usually os.Args[1:]) and returns the command and flag map.
func Parse(args []string) (Command, map[string]any, error) {
	// If no arguments provided, print help and exit.
	if len(args) == 0 {
		fs := flag.NewFlagSet("main", flag.ContinueOnError)
		printTopLevelUsage(fs)
		return None, nil, nil
	}

	cmdStr := strings.ToLower(args[0])

	if cmdStr == "help" || cmdStr == "-h" || cmdStr == "-help" || cmdStr == "--help" {
		fs := flag.NewFlagSet("main", flag.ContinueOnError)
		printTopLevelUsage(fs)
		return None, nil, nil
	}

	command, err := ParseCommand(cmdStr)
	if err != nil {
		return None, nil, err
	}

	if command == Version {
		return command, nil, nil
	}

	f := &cliFlags{}
	fs := flag.NewFlagSet(command.String(), flag.ContinueOnError)
	registerGlobalFlags(fs, f)

	var desc string
	switch command {
	case Backup:
		registerBackupFlags(fs, f)
		desc = "Run the backup operation."
	case Prune:
		registerPruneFlags(fs, f)
		desc = "Apply the retention policy to clean up outdated backups."
	case List:
		registerListFlags(fs, f)
		desc = "List the backups in the destination."
	case Export:
		registerExportFlags(fs, f)
		desc = "Export a backup as a compressed archive."
	case Init:
		registerInitFlags(fs, f)
		desc = "Write a configuration file into the destination."
	default:
		return None, nil, fmt.Errorf("unknown command: %s", args[0])
	}

	fs.Usage = func() {
		printSubcommandUsage(command, desc, fs)
	}

	if err := fs.Parse(args[1:]); err != nil {
		return command, nil, err
	}
	return command, flagsToMap(fs, f), nil
}

func flagsToMap(fs *flag.FlagSet, f *cliFlags) map[string]any {
	// Create a map of the flags that were explicitly set by the user, along with their values.
	// This map is used to selectively override the base configuration.
	usedFlags := make(map[string]bool)
	fs.Visit(func(fl *flag.Flag) { usedFlags[fl.Name] = true })

	flagMap := make(map[string]any)

	addIfUsed(flagMap, usedFlags, "log-level", f.LogLevel)
	addIfUsed(flagMap, usedFlags, "dry-run", f.DryRun)

	addIfUsed(flagMap, usedFlags, "source", f.Source)
	addIfUsed(flagMap, usedFlags, "dest", f.Dest)
	addIfUsed(flagMap, usedFlags, "fail-fast", f.FailFast)
	addIfUsed(flagMap, usedFlags, "rsync-path", f.RsyncPath)
	addIfUsed(flagMap, usedFlags, "days-to-keep", f.DaysToKeep)
	addIfUsed(flagMap, usedFlags, "delete-workers", f.DeleteWorkers)

	addIfUsed(flagMap, usedFlags, "backup-name", f.BackupName)
	addIfUsed(flagMap, usedFlags, "export-format", f.ExportFormat)
	addIfUsed(flagMap, usedFlags, "out", f.OutDir)

	addIfUsed(flagMap, usedFlags, "force", f.Force)

	// Handle flags that require parsing/validation.
	addParsedIfUsed(flagMap, usedFlags, "exclude", f.Excludes, ParseExcludeList)
	addParsedIfUsed(flagMap, usedFlags, "include", f.Includes, ParseExcludeList)
	addParsedIfUsed(flagMap, usedFlags, "pre-backup-hooks", f.PreHooks, ParseCmdList)
	addParsedIfUsed(flagMap, usedFlags, "post-backup-hooks", f.PostHooks, ParseCmdList)

	return flagMap
}

// addIfUsed adds the value of ptr to flagMap if ptr is not nil and the flag was set.
func addIfUsed[T any](flagMap map[string]any, usedFlags map[string]bool, name string, ptr *T) {
	if ptr != nil && usedFlags[name] {
		flagMap[name] = *ptr
	}
}

// addParsedIfUsed adds the parsed value of ptr to flagMap if ptr is not nil and the flag was set.
func addParsedIfUsed(flagMap map[string]any, usedFlags map[string]bool, name string, ptr *string, parser func(string) []string) {
	if ptr != nil && usedFlags[name] {
		flagMap[name] = parser(*ptr)
	}
}

// printTopLevelUsage prints the main help message.
func printTopLevelUsage(fs *flag.FlagSet) {
	execName := filepath.Base(os.Args[0])
	fmt.Fprintf(fs.Output(), "%s(%s) ", buildinfo.Name, buildinfo.Version)
	fmt.Fprintf(fs.Output(), "An incremental backup history manager driven by rsync.\n\n")
	fmt.Fprintf(fs.Output(), "Usage: %s <command> [flags]\n\n", execName)
	fmt.Fprintf(fs.Output(), "Commands:\n")
	fmt.Fprintf(fs.Output(), "  backup      Run the backup operation\n")
	fmt.Fprintf(fs.Output(), "  list        List the backups in the destination\n")
	fmt.Fprintf(fs.Output(), "  prune       Apply the retention policy to clean up outdated backups\n")
	fmt.Fprintf(fs.Output(), "  export      Export a backup as a compressed archive\n")
	fmt.Fprintf(fs.Output(), "  init        Write a configuration file into the destination\n")
	fmt.Fprintf(fs.Output(), "  version     Print the application version\n")
	fmt.Fprintf(fs.Output(), "\nRun '%s <command> -help' for more information on a command.\n", execName)
}

// printSubcommandUsage prints the help message for a specific subcommand.
func printSubcommandUsage(command Command, desc string, fs *flag.FlagSet) {
	execName := filepath.Base(os.Args[0])
	fmt.Fprintf(fs.Output(), "%s(%s) ", buildinfo.Name, buildinfo.Version)
	fmt.Fprintf(fs.Output(), "An incremental backup history manager driven by rsync.\n\n")
	fmt.Fprintf(fs.Output(), "Usage of the %s command: %s %s [flags]\n\n", command, execName, command)
	fmt.Fprintf(fs.Output(), "%s\n\n", desc)
	fmt.Fprintf(fs.Output(), "Flags:\n")
	fs.PrintDefaults()
}

// ParseCmdList parses a comma-separated list of shell-like commands.
// It preserves quotes and handles backslash escapes so they can be interpreted by the shell.
func ParseCmdList(s string) []string {
	return parseListInternal(s, true, true)
}

// ParseExcludeList parses a comma-separated list of path patterns.
// It removes quotes, as they are only used for grouping items with spaces.
// It treats backslashes as literal characters for Windows path compatibility.
func ParseExcludeList(s string) []string {
	return parseListInternal(s, false, false)
}

// parseListInternal is the core implementation for parsing a comma-separated list. It supports
// both single (') and double (") quotes to allow items to contain commas or spaces.
// - `keepQuotes`: Preserves quote characters in the output.
// - `handleEscapes`: Treats backslashes as escape characters.
func parseListInternal(s string, keepQuotes, handleEscapes bool) []string {
	var list []string
	var current strings.Builder
	var quoteChar rune

	// Helper to add the current buffered item to the list after trimming whitespace.
	appendItem := func() {
		trimmed := strings.TrimSpace(current.String())
		if trimmed != "" {
			list = append(list, trimmed)
		}
		current.Reset()
	}

	var isEscaped bool
	for _, r := range s {
		if isEscaped {
			current.WriteRune(r)
			isEscaped = false
			continue
		}

		switch {
		case r == '\\' && handleEscapes:
			isEscaped = true
			// For commands, we also keep the backslash for the shell to interpret.
			current.WriteRune(r)
		case r == '\'' || r == '"':
			if quoteChar == 0 { // Start of a new quoted section.
				quoteChar = r
				if keepQuotes {
					current.WriteRune(r)
				}
			} else if quoteChar == r { // End of the current quoted section.
				quoteChar = 0
				if keepQuotes {
					current.WriteRune(r)
				}
			} else { // A different quote character inside an existing quoted section.
				current.WriteRune(r) // Treat it as a literal character.
			}
		case r == ',' && quoteChar == 0: // Comma outside of any quotes.
			appendItem()
		default:
			current.WriteRune(r)
		}
	}
	appendItem() // Add the final item after the loop finishes.
	return list
}
