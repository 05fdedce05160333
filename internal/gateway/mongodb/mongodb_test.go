package mongodb

import (
	"context"
	"errors"
	"testing"

	"github.com/mongoreindex/mongoreindex"
)

func TestClassifyDeadlineExceeded(t *testing.T) {
	e := classify("op", context.DeadlineExceeded)
	if e.Kind != mongoreindex.KindRetryable {
		t.Errorf("expected retryable, got %s", e.Kind)
	}
}

func TestClassifyCanceled(t *testing.T) {
	e := classify("op", context.Canceled)
	if e.Kind != mongoreindex.KindAborted {
		t.Errorf("expected aborted, got %s", e.Kind)
	}
}

func TestClassifyGenericError(t *testing.T) {
	e := classify("op", errors.New("boom"))
	if e.Kind != mongoreindex.KindFatal {
		t.Errorf("expected fatal, got %s", e.Kind)
	}
}

func TestClassifyNil(t *testing.T) {
	if classify("op", nil) != nil {
		t.Error("expected nil classification for nil error")
	}
}

func TestParseVersion(t *testing.T) {
	v := parseVersion("7.0.5")
	if v.Major != 7 || v.Minor != 0 || v.Patch != 5 {
		t.Errorf("unexpected parse: %+v", v)
	}
	if !v.AtLeast(7, 0) {
		t.Error("expected 7.0.5 to be at least 7.0")
	}
	if v.AtLeast(8, 0) {
		t.Error("did not expect 7.0.5 to be at least 8.0")
	}
}

func TestHashHostsDeterministic(t *testing.T) {
	a := hashHosts([]string{"b:27017", "a:27017"})
	b := hashHosts([]string{"a:27017", "b:27017"})
	if a != b {
		t.Error("expected hash to be order-independent given sorted input")
	}
	if a == "" {
		t.Error("expected non-empty cluster identifier")
	}
}

func TestHostsFromConnectionString(t *testing.T) {
	hosts := hostsFromConnectionString("mongodb://user:pass@a:27017,b:27018/admin?replicaSet=rs0")
	if len(hosts) != 2 {
		t.Fatalf("expected 2 hosts, got %v", hosts)
	}
}
