package core

import (
	"errors"
	"testing"
)

// TestNewIDUniqueness tests that NewID generates unique identifiers
func TestNewIDUniqueness(t *testing.T) {
	const numIDs = 1000

	ids := make(map[ID]bool, numIDs)
	for i := 0; i < numIDs; i++ {
		id := NewID()
		if id.IsEmpty() {
			t.Errorf("Generated empty ID at iteration %d", i)
		}
		if ids[id] {
			t.Errorf("Generated duplicate ID: %s", id)
		}
		ids[id] = true
	}
}

func TestParseEntityID(t *testing.T) {
	id, err := ParseEntityID("  37183050100 ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "37183050100" {
		t.Errorf("Expected trimmed id, got %q", id)
	}

	if _, err := ParseEntityID("   "); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for blank id, got %v", err)
	}
}

func TestNewSampleID(t *testing.T) {
	if got := NewSampleID("T1", "2021"); got != "T1/2021" {
		t.Errorf("Expected T1/2021, got %s", got)
	}
	if got := NewSampleID("T1", ""); got != "T1" {
		t.Errorf("Expected bare entity id, got %s", got)
	}
}

func TestComputeParameterHashIsOrderIndependent(t *testing.T) {
	a := ComputeParameterHash(map[string]float64{"budget": 5e6, "seed": 42})
	b := ComputeParameterHash(map[string]float64{"seed": 42, "budget": 5e6})
	if a != b {
		t.Errorf("Expected equal hashes, got %s and %s", a, b)
	}
	c := ComputeParameterHash(map[string]float64{"seed": 43, "budget": 5e6})
	if a == c {
		t.Error("Expected different hash for different parameters")
	}
}

func TestErrorHelpers(t *testing.T) {
	if !IsDataError(NewInsufficientDataError(3, 5, "median_income")) {
		t.Error("insufficient data should be a data error")
	}
	if !IsConfigurationError(NewInvalidCalibrationError("Q1", "factor must be positive")) {
		t.Error("invalid calibration should be a configuration error")
	}
	if !IsIntegrityError(NewReferentialIntegrityError("mae", "Q9")) {
		t.Error("referential integrity should be an integrity error")
	}
}
