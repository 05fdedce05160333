// Package config contains command-line argument and environment variable
// structs shared across the rebuild, cleanup, and compact subcommands.
package config

import "time"

// ConnectionConfig contains the flags required to reach the target
// MongoDB deployment and database. These are shared by all three
// subcommands.
type ConnectionConfig struct {
	URI      string `arg:"--uri,required,env:MONGODB_URI" placeholder:"URI" help:"connection URI of the MongoDB deployment to connect to"`
	Database string `arg:"--database,required,env:MONGODB_DATABASE" placeholder:"NAME" help:"name of the database to operate on"`

	CallDeadline time.Duration `arg:"--call-deadline" placeholder:"DURATION" help:"per-call deadline applied to every MongoDB RPC" default:"5m"`
}

// FilterConfig contains collection/index include and exclude glob
// patterns. An empty Specified list means "all"; Ignored is applied
// after Specified.
type FilterConfig struct {
	SpecifiedCollections []string `arg:"--specified-collections,env:SPECIFIED_COLLECTIONS" placeholder:"GLOB" help:"comma-separated glob patterns of collections to include"`
	IgnoredCollections   []string `arg:"--ignored-collections,env:IGNORED_COLLECTIONS" placeholder:"GLOB" help:"comma-separated glob patterns of collections to exclude"`
	SpecifiedIndexes     []string `arg:"--specified-indexes,env:SPECIFIED_INDEXES" placeholder:"GLOB" help:"comma-separated glob patterns of index names to include"`
	IgnoredIndexes       []string `arg:"--ignored-indexes,env:IGNORED_INDEXES" placeholder:"GLOB" help:"comma-separated glob patterns of index names to exclude"`
}

// SafeRunConfig controls interactive confirmation prompts. SafeRun
// defaults to true for every subcommand.
type SafeRunConfig struct {
	SafeRun bool `arg:"--safe-run,--no-safe-run" help:"require interactive confirmation before destructive steps" default:"true"`
	Yes     bool `arg:"--yes" help:"drop every unrecorded orphaned temp index without the orphan reconciler's per-candidate prompt (batch confirmation); other prompts still ask"`
}

// PathConfig contains filesystem locations for durable state and logs.
type PathConfig struct {
	LogDir     string `arg:"--log-dir" placeholder:"PATH" help:"directory to write the advisory performance log to" default:"./rebuild_logs"`
	RuntimeDir string `arg:"--runtime-dir" placeholder:"PATH" help:"directory to write the durable state and lock files to" default:"./.rebuild_runtime"`
}

// LockConfig controls the advisory single-writer lock over the state
// file.
type LockConfig struct {
	LockStaleThreshold time.Duration `arg:"--lock-stale-threshold" placeholder:"DURATION" help:"age after which an existing lock file is considered abandoned" default:"10m"`
}

// JobConfig controls the top-level job driver.
type JobConfig struct {
	FailFast       bool          `arg:"--fail-fast" help:"stop the job on the first failed index instead of continuing with the rest"`
	WallClockCap   time.Duration `arg:"--wall-clock-cap" placeholder:"DURATION" help:"overall wall-clock budget for the job; zero disables the cap" default:"0s"`
	Parallelism    int           `arg:"--parallelism" placeholder:"N" help:"maximum number of collections processed concurrently" default:"1"`
	AllowUniqueRisk bool         `arg:"--allow-unique-risk" help:"permit rebuilding unique indexes under live writes, accepting the documented race risk"`
}

// CompactionConfig controls the optional post-rebuild compaction stage.
type CompactionConfig struct {
	ForceManualCompact bool `arg:"--force-manual-compact" help:"disable autoCompact and always use per-collection compact"`
	FreeSpaceTargetMB  int  `arg:"--free-space-target-mb" placeholder:"MB" help:"target amount of disk space to free per autoCompact run" default:"0"`
}

// RebuildArgs is the full set of flags accepted by the rebuild subcommand.
type RebuildArgs struct {
	ConnectionConfig
	FilterConfig
	SafeRunConfig
	PathConfig
	LockConfig
	JobConfig
}

// CleanupArgs is the full set of flags accepted by the cleanup subcommand.
type CleanupArgs struct {
	ConnectionConfig
	FilterConfig
	SafeRunConfig
	PathConfig
	LockConfig
}

// CompactArgs is the full set of flags accepted by the compact subcommand.
type CompactArgs struct {
	ConnectionConfig
	FilterConfig
	SafeRunConfig
	PathConfig
	CompactionConfig
}
