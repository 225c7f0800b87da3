package logging

import (
	"errors"
	"testing"
)

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger("info", "json")
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	if logger == nil {
		t.Fatal("Expected Logger, got nil")
	}
	if logger.Logger == nil {
		t.Error("Expected zap.Logger to be initialized")
	}
}

func TestNewLoggerInvalidLevel(t *testing.T) {
	_, err := NewLogger("invalid", "json")
	if err == nil {
		t.Error("Expected error for invalid log level")
	}
}

func TestNewLoggerConsoleFormat(t *testing.T) {
	logger, err := NewLogger("debug", "console")
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	if logger == nil {
		t.Fatal("Expected Logger, got nil")
	}
}

func TestNewForEnv(t *testing.T) {
	debug, err := NewForEnv(true)
	if err != nil {
		t.Fatalf("Failed to create debug logger: %v", err)
	}
	if debug == nil {
		t.Fatal("Expected Logger, got nil")
	}

	quiet, err := NewForEnv(false)
	if err != nil {
		t.Fatalf("Failed to create default logger: %v", err)
	}
	if quiet == nil {
		t.Fatal("Expected Logger, got nil")
	}
}

func TestWithPeer(t *testing.T) {
	logger, _ := NewLogger("info", "json")
	peerLogger := logger.WithPeer("device-123")

	if peerLogger == nil {
		t.Error("Expected logger with peer device ID, got nil")
	}
}

func TestWithDoc(t *testing.T) {
	logger, _ := NewLogger("info", "json")
	docLogger := logger.WithDoc("doc-456")

	if docLogger == nil {
		t.Error("Expected logger with doc ID, got nil")
	}
}

func TestWithError(t *testing.T) {
	logger, _ := NewLogger("info", "json")
	testErr := errors.New("test error")
	errorLogger := logger.WithError(testErr)

	if errorLogger == nil {
		t.Error("Expected logger with error, got nil")
	}
}
