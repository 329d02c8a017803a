package scheduler

import "testing"

func TestSlots_Limited(t *testing.T) {
	s := NewSlots(2)
	if !s.TryAcquire() || !s.TryAcquire() {
		t.Fatal("expected two slots")
	}
	if s.TryAcquire() {
		t.Error("third acquire should fail")
	}
	s.Release()
	if !s.TryAcquire() {
		t.Error("acquire after release should succeed")
	}
	if s.InUse() != 2 {
		t.Errorf("InUse() = %d, want 2", s.InUse())
	}
}

func TestSlots_Unlimited(t *testing.T) {
	s := NewSlots(0)
	for i := 0; i < 100; i++ {
		if !s.TryAcquire() {
			t.Fatalf("acquire %d failed on unlimited slots", i)
		}
	}
	if s.Capacity() != 0 {
		t.Errorf("Capacity() = %d, want 0", s.Capacity())
	}
}

func TestSlots_ResizeBelowUsage(t *testing.T) {
	s := NewSlots(3)
	for i := 0; i < 3; i++ {
		s.TryAcquire()
	}
	s.Resize(1)
	if s.TryAcquire() {
		t.Error("acquire should fail while usage exceeds the new limit")
	}
	s.Release()
	s.Release()
	if s.TryAcquire() {
		t.Error("acquire should fail at the limit")
	}
	s.Release()
	if !s.TryAcquire() {
		t.Error("acquire should succeed below the limit")
	}
}

func TestSlots_ReleaseNeverNegative(t *testing.T) {
	s := NewSlots(1)
	s.Release()
	if s.InUse() != 0 {
		t.Errorf("InUse() = %d, want 0", s.InUse())
	}
}
