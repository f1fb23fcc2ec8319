package conflict

import (
	"testing"
)

// TestResolverLastWriteWins tests the strict-newer rule for every ordering.
func TestResolverLastWriteWins(t *testing.T) {
	resolver := NewResolver(ResolutionStrategyLastWriteWins)

	tests := []struct {
		name       string
		local      int64
		remote     int64
		remoteWins bool
	}{
		{"remote newer", 1000, 1001, true},
		{"local newer", 1001, 1000, false},
		{"tie keeps local", 1000, 1000, false},
		{"remote far newer", 0, 1_700_000_000_000, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := resolver.Resolve(&Conflict{
				Family:          "items",
				EntityID:        "item-1",
				LocalTimestamp:  tt.local,
				RemoteTimestamp: tt.remote,
			})
			if err != nil {
				t.Fatalf("Resolve failed: %v", err)
			}
			if result.RemoteWins != tt.remoteWins {
				t.Errorf("Expected RemoteWins=%v, got %v", tt.remoteWins, result.RemoteWins)
			}
			if result.Strategy != ResolutionStrategyLastWriteWins {
				t.Errorf("Expected LastWriteWins strategy, got %s", result.Strategy)
			}
			if result.ConflictLog != nil {
				t.Error("Expected no conflict log without local changes")
			}
		})
	}
}

// TestResolverConflictLog tests a log entry is produced for concurrent edits.
func TestResolverConflictLog(t *testing.T) {
	resolver := NewResolver(ResolutionStrategyLastWriteWins)

	result, err := resolver.Resolve(&Conflict{
		Family:          "prompts",
		EntityID:        "p-1",
		LocalTimestamp:  500,
		RemoteTimestamp: 900,
		LocalPending:    true,
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	log := result.ConflictLog
	if log == nil {
		t.Fatal("Expected conflict log to be created")
	}
	if log.Resolution != "remote_wins" {
		t.Errorf("Expected remote_wins, got %s", log.Resolution)
	}
	if log.EntityID != "p-1" || log.Family != "prompts" {
		t.Errorf("Unexpected log identity %+v", log)
	}
	if log.LocalTimestamp != 500 || log.RemoteTimestamp != 900 {
		t.Errorf("Unexpected timestamps %+v", log)
	}
	if log.DetectedAt == 0 {
		t.Error("Expected DetectedAt to be set")
	}
}

// TestResolverInvalidConflict tests validation.
func TestResolverInvalidConflict(t *testing.T) {
	resolver := NewResolver(ResolutionStrategyLastWriteWins)

	if _, err := resolver.Resolve(nil); !IsConflictError(err) {
		t.Errorf("Expected ConflictError for nil conflict, got %v", err)
	}
	if _, err := resolver.Resolve(&Conflict{}); err != ErrInvalidConflict {
		t.Errorf("Expected ErrInvalidConflict, got %v", err)
	}
}
