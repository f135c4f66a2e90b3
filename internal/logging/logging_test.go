package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func newBufferedLogger(t *testing.T, level string) (*Logger, *bytes.Buffer) {
	t.Helper()
	l := New("smokelog-test", level, "json")
	buf := &bytes.Buffer{}
	l.SetOutput(buf)
	return l, buf
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	return entry
}

func TestNew_LevelParsing(t *testing.T) {
	if got := New("svc", "debug", "json").GetLevel(); got != logrus.DebugLevel {
		t.Errorf("level = %v, want debug", got)
	}
	if got := New("svc", "nonsense", "json").GetLevel(); got != logrus.InfoLevel {
		t.Errorf("level = %v, want info fallback", got)
	}
	if _, ok := New("svc", "info", "text").Formatter.(*logrus.TextFormatter); !ok {
		t.Error("text format should install TextFormatter")
	}
}

func TestWithContext_AttachesIdentifiers(t *testing.T) {
	l, buf := newBufferedLogger(t, "info")

	ctx := WithTraceID(context.Background(), "trace-1")
	ctx = WithUserID(ctx, "user-1")
	l.WithContext(ctx).Info("hello")

	entry := decodeLine(t, buf)
	if entry["trace_id"] != "trace-1" {
		t.Errorf("trace_id = %v", entry["trace_id"])
	}
	if entry["user_id"] != "user-1" {
		t.Errorf("user_id = %v", entry["user_id"])
	}
	if entry["service"] != "smokelog-test" {
		t.Errorf("service = %v", entry["service"])
	}
}

func TestLogRequest_LevelFollowsStatus(t *testing.T) {
	l, buf := newBufferedLogger(t, "info")

	l.LogRequest(context.Background(), "POST", "/api/events", 500, 12*time.Millisecond)
	entry := decodeLine(t, buf)
	if entry["level"] != "error" {
		t.Errorf("level = %v, want error", entry["level"])
	}
	if entry["status"] != float64(500) {
		t.Errorf("status = %v", entry["status"])
	}
}

func TestLogSecurityEvent(t *testing.T) {
	l, buf := newBufferedLogger(t, "info")
	l.LogSecurityEvent(context.Background(), "rate_limit_exceeded", map[string]interface{}{"key": "k"})

	entry := decodeLine(t, buf)
	if entry["security_event"] != "rate_limit_exceeded" || entry["key"] != "k" {
		t.Errorf("unexpected entry: %v", entry)
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	if GetTraceID(ctx) != "" || GetUserID(ctx) != "" || GetRole(ctx) != "" {
		t.Fatal("expected empty values on bare context")
	}
	if WithTraceID(ctx, "") != ctx {
		t.Error("empty trace id should not wrap context")
	}
	ctx = context.WithValue(ctx, RoleKey, "admin")
	if GetRole(ctx) != "admin" {
		t.Errorf("role = %q", GetRole(ctx))
	}
	if NewTraceID() == NewTraceID() {
		t.Error("trace ids should be unique")
	}
}
