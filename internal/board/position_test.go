package board

import (
	"errors"
	"testing"
)

func TestToPositionRoundTrip(t *testing.T) {
	seen := map[string]bool{}
	for f := 0; f < Size; f++ {
		for r := 0; r < Size; r++ {
			p, err := ToPosition(f, r)
			if err != nil {
				t.Fatalf("ToPosition(%d,%d): %v", f, r, err)
			}
			gf, gr := p.Coords()
			if gf != f || gr != r {
				t.Fatalf("round trip (%d,%d) -> %s -> (%d,%d)", f, r, p, gf, gr)
			}
			parsed, err := ParsePosition(p.String())
			if err != nil || parsed != p {
				t.Fatalf("parse %s: %v (%v)", p, err, parsed)
			}
			seen[p.String()] = true
		}
	}
	if len(seen) != 64 {
		t.Fatalf("expected 64 distinct positions, got %d", len(seen))
	}
}

func TestToPositionOutOfRange(t *testing.T) {
	for _, c := range [][2]int{{-1, 0}, {0, -1}, {8, 0}, {0, 8}} {
		if _, err := ToPosition(c[0], c[1]); !errors.Is(err, ErrOutOfRange) {
			t.Fatalf("ToPosition(%d,%d): expected ErrOutOfRange, got %v", c[0], c[1], err)
		}
	}
}

func TestParsePositionRejectsInvalid(t *testing.T) {
	for _, s := range []string{"", " ", "e4", "I1", "A0", "A9", "E44", "4E", "E"} {
		if _, err := ParsePosition(s); err == nil {
			t.Fatalf("expected error for %q", s)
		}
	}
	if got := MustPosition("E4").String(); got != "E4" {
		t.Fatalf("expected E4, got %s", got)
	}
}

func TestLessOrdersByFileThenRank(t *testing.T) {
	all := All()
	for i := 1; i < len(all); i++ {
		if !all[i-1].Less(all[i]) {
			t.Fatalf("All not ordered at %d: %s !< %s", i, all[i-1], all[i])
		}
	}
	if !MustPosition("A8").Less(MustPosition("B1")) {
		t.Fatalf("A8 should order before B1")
	}
}

func TestShadeMatchesClassicPattern(t *testing.T) {
	if MustPosition("A1").Shade() != Dark {
		t.Fatalf("A1 must be dark")
	}
	if MustPosition("H1").Shade() != Light {
		t.Fatalf("H1 must be light")
	}
	if MustPosition("E4").Shade() != Light {
		t.Fatalf("E4 must be light")
	}
}
