package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/alexflint/go-arg"

	"github.com/mongoreindex/mongoreindex/internal/config"
)

func parse(t *testing.T, cmd string, v any) {
	t.Helper()
	p, err := arg.NewParser(arg.Config{}, v)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Parse(strings.Split(cmd, " ")); err != nil {
		t.Fatal(err)
	}
}

func TestConnectionConfig(t *testing.T) {
	var c config.ConnectionConfig
	parse(t, "--uri mongodb://127.0.0.1:27017 --database catalog --call-deadline 30s", &c)
	if c.URI != "mongodb://127.0.0.1:27017" {
		t.Fail()
	}
	if c.Database != "catalog" {
		t.Fail()
	}
	if c.CallDeadline != 30*time.Second {
		t.Fail()
	}
}

func TestFilterConfig(t *testing.T) {
	var c config.FilterConfig
	parse(t, "--specified-collections users,orders --ignored-indexes tmp_*", &c)
	if len(c.SpecifiedCollections) != 2 {
		t.Fatalf("expected 2 collections, got %d", len(c.SpecifiedCollections))
	}
	if c.IgnoredIndexes[0] != "tmp_*" {
		t.Fail()
	}
}

func TestSafeRunConfig(t *testing.T) {
	var c config.SafeRunConfig
	parse(t, "--no-safe-run --yes", &c)
	if c.SafeRun {
		t.Error("expected safe run to be disabled")
	}
	if !c.Yes {
		t.Error("expected yes to be set")
	}
}

func TestJobConfig(t *testing.T) {
	var c config.JobConfig
	parse(t, "--fail-fast --wall-clock-cap 2h --parallelism 4 --allow-unique-risk", &c)
	if !c.FailFast {
		t.Fail()
	}
	if c.WallClockCap != 2*time.Hour {
		t.Fail()
	}
	if c.Parallelism != 4 {
		t.Fail()
	}
	if !c.AllowUniqueRisk {
		t.Fail()
	}
}

func TestCompactionConfig(t *testing.T) {
	var c config.CompactionConfig
	parse(t, "--force-manual-compact --free-space-target-mb 512", &c)
	if !c.ForceManualCompact {
		t.Fail()
	}
	if c.FreeSpaceTargetMB != 512 {
		t.Fail()
	}
}
