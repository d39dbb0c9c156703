package progress

import "testing"

func TestNewPercentage(t *testing.T) {
	p := New(1000, 250)
	if p.Percentage != 25 {
		t.Fatalf("expected 25%%, got %v", p.Percentage)
	}

	zero := New(0, 0)
	if zero.Percentage != 0 {
		t.Fatalf("zero total should yield 0%%, got %v", zero.Percentage)
	}
}

func TestUpdateSpeedETA(t *testing.T) {
	p := New(1000, 500)
	p.UpdateSpeed(100, 0)

	eta, ok := p.ETA()
	if !ok {
		t.Fatal("expected ETA to be defined")
	}
	if eta.Seconds() != 5 {
		t.Fatalf("expected 5s ETA, got %v", eta)
	}
}

func TestUpdateSpeedNoETAWhenComplete(t *testing.T) {
	p := New(1000, 1000)
	p.UpdateSpeed(100, 0)

	if _, ok := p.ETA(); ok {
		t.Fatal("expected no ETA once transfer is complete")
	}
}

func TestUpdateSpeedNoETAWhenStalled(t *testing.T) {
	p := New(1000, 500)
	p.UpdateSpeed(0, 0)

	if _, ok := p.ETA(); ok {
		t.Fatal("expected no ETA at zero download rate")
	}
}

func TestIsCompleted(t *testing.T) {
	if New(0, 0).IsCompleted() {
		t.Fatal("unknown total should never be completed")
	}
	if !New(100, 100).IsCompleted() {
		t.Fatal("transferred == total should be completed")
	}
	if New(100, 99).IsCompleted() {
		t.Fatal("transferred < total should not be completed")
	}
}

func TestFormatSize(t *testing.T) {
	cases := map[uint64]string{
		0:          "0 B",
		512:        "512 B",
		1024:       "1.0 KiB",
		1536:       "1.5 KiB",
		1048576:    "1.0 MiB",
		1073741824: "1.0 GiB",
	}
	for in, want := range cases {
		if got := FormatSize(in); got != want {
			t.Errorf("FormatSize(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestSetTransferredRecomputesPercentage(t *testing.T) {
	p := New(200, 0)
	p.SetTransferred(100)
	if p.Percentage != 50 {
		t.Fatalf("expected 50%%, got %v", p.Percentage)
	}
}
