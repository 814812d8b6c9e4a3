package warehouse

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"testing"

	sf "github.com/snowflakedb/gosnowflake"
)

func TestClassifyTransportErrors(t *testing.T) {
	tests := []struct {
		name string
		op   string
		err  error
	}{
		{"bad conn", "copy", driver.ErrBadConn},
		{"wrapped bad conn", "upload", fmt.Errorf("exec: %w", driver.ErrBadConn)},
		{"deadline", "copy", context.DeadlineExceeded},
		{"canceled", "ensure schema", context.Canceled},
		{"net error", "upload", &net.OpError{Op: "dial", Err: errors.New("refused")}},
		{"driver client error", "copy", &sf.SnowflakeError{Number: 261008, Message: "no response"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := classifyError(tc.op, "f.txt", tc.err)
			if !IsConnection(got) {
				t.Errorf("classifyError(%v) = %v, want ConnectionError", tc.err, got)
			}
			if IsLoad(got) {
				t.Errorf("classifyError(%v) also matches LoadError", tc.err)
			}
		})
	}
}

func TestClassifyCopyRejection(t *testing.T) {
	// A server-side error on the copy statement means the warehouse saw
	// and refused the data.
	err := classifyError("copy", "pageviews-20240101-000000.txt",
		&sf.SnowflakeError{Number: 100038, Message: "numeric value 'x' is not recognized"})

	if !IsLoad(err) {
		t.Fatalf("got %v, want LoadError", err)
	}

	var le *LoadError
	if !errors.As(err, &le) {
		t.Fatal("error is not *LoadError")
	}
	if le.FileName != "pageviews-20240101-000000.txt" {
		t.Errorf("FileName = %q", le.FileName)
	}
}

func TestClassifyNonCopyDefaultsToConnection(t *testing.T) {
	// DDL and PUT failures without a recognizable class stay retryable.
	err := classifyError("ensure stage", "", errors.New("session gone"))
	if !IsConnection(err) {
		t.Errorf("got %v, want ConnectionError", err)
	}
}

func TestErrorUnwrap(t *testing.T) {
	inner := errors.New("inner")

	ce := &ConnectionError{Op: "ping", Err: inner}
	if !errors.Is(ce, inner) {
		t.Error("ConnectionError does not unwrap")
	}

	le := &LoadError{FileName: "f", Err: inner}
	if !errors.Is(le, inner) {
		t.Error("LoadError does not unwrap")
	}
}

func TestIdentPattern(t *testing.T) {
	valid := []string{"WIKIPEDIA", "RAW_WIKIPEDIA_PAGEVIEWS", "stage_1", "_private", "A$B"}
	for _, v := range valid {
		if !identPattern.MatchString(v) {
			t.Errorf("%q should be a valid identifier", v)
		}
	}

	invalid := []string{"", "1TABLE", "my-table", "schema.table", "t able", `"quoted"`}
	for _, v := range invalid {
		if identPattern.MatchString(v) {
			t.Errorf("%q should be rejected", v)
		}
	}
}

func TestEscapeSQL(t *testing.T) {
	if got := escapeSQL("pageviews-20240101-000000.txt"); got != "pageviews-20240101-000000.txt" {
		t.Errorf("plain name changed: %q", got)
	}
	if got := escapeSQL("o'brien.txt"); got != "o''brien.txt" {
		t.Errorf("escapeSQL = %q", got)
	}
}
