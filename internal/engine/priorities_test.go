package engine

import "testing"

func TestWindowSize(t *testing.T) {
	tests := []struct {
		name      string
		numPieces int
		frac      float64
		want      int
	}{
		{name: "exact fraction", numPieces: 100, frac: 0.05, want: 5},
		{name: "rounds up", numPieces: 101, frac: 0.05, want: 6},
		{name: "tiny torrent still gets a window", numPieces: 3, frac: 0.05, want: 1},
		{name: "single piece", numPieces: 1, frac: 0.05, want: 1},
		{name: "zero pieces", numPieces: 0, frac: 0.05, want: 0},
		{name: "zero fraction", numPieces: 100, frac: 0, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := windowSize(tt.numPieces, tt.frac); got != tt.want {
				t.Errorf("windowSize(%d, %v) = %d, want %d", tt.numPieces, tt.frac, got, tt.want)
			}
		})
	}
}

func TestTierFor(t *testing.T) {
	const (
		numPieces = 100
		window    = 5
	)

	tests := []struct {
		name  string
		index int
		want  priorityTier
	}{
		{name: "first piece leads", index: 0, want: tierLead},
		{name: "last lead piece", index: 4, want: tierLead},
		{name: "first middle piece", index: 5, want: tierNormal},
		{name: "last middle piece", index: 94, want: tierNormal},
		{name: "first tail piece", index: 95, want: tierTail},
		{name: "last piece tails", index: 99, want: tierTail},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tierFor(tt.index, numPieces, window); got != tt.want {
				t.Errorf("tierFor(%d, %d, %d) = %v, want %v", tt.index, numPieces, window, got, tt.want)
			}
		})
	}
}

func TestTierFor_TinyTorrentLeadWins(t *testing.T) {
	// With one piece the lead and tail windows overlap; the lead tier
	// must win so playback starts as early as possible.
	if got := tierFor(0, 1, 1); got != tierLead {
		t.Errorf("tierFor(0, 1, 1) = %v, want tierLead", got)
	}
}

func TestETASeconds(t *testing.T) {
	tests := []struct {
		name       string
		totalSize  int64
		downloaded int64
		rate       int64
		want       int64
	}{
		{name: "half done", totalSize: 1000, downloaded: 500, rate: 100, want: 5},
		{name: "no rate yet", totalSize: 1000, downloaded: 500, rate: 0, want: 0},
		{name: "already complete", totalSize: 1000, downloaded: 1000, rate: 100, want: 0},
		{name: "size unknown", totalSize: 0, downloaded: 0, rate: 100, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := etaSeconds(tt.totalSize, tt.downloaded, tt.rate); got != tt.want {
				t.Errorf("etaSeconds(%d, %d, %d) = %d, want %d",
					tt.totalSize, tt.downloaded, tt.rate, got, tt.want)
			}
		})
	}
}

func TestLeadingWindowComplete(t *testing.T) {
	complete := func(n int) []bool {
		pieces := make([]bool, n)
		for i := range pieces {
			pieces[i] = true
		}

		return pieces
	}

	tests := []struct {
		name      string
		pieces    []bool
		threshold float64
		want      bool
	}{
		{name: "empty bitmap", pieces: nil, threshold: 0.05, want: false},
		{name: "all complete", pieces: complete(100), threshold: 0.05, want: true},
		{
			name: "leading window complete, rest missing",
			pieces: func() []bool {
				pieces := make([]bool, 100)
				for i := 0; i < 5; i++ {
					pieces[i] = true
				}

				return pieces
			}(),
			threshold: 0.05,
			want:      true,
		},
		{
			name: "hole inside the leading window",
			pieces: func() []bool {
				pieces := complete(100)
				pieces[2] = false

				return pieces
			}(),
			threshold: 0.05,
			want:      false,
		},
		{
			// 3 pieces at 5%: the required window rounds down to zero,
			// so any bitmap passes.
			name:      "window shorter than one piece",
			pieces:    make([]bool, 3),
			threshold: 0.05,
			want:      true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := leadingWindowComplete(tt.pieces, tt.threshold); got != tt.want {
				t.Errorf("leadingWindowComplete(len=%d, %v) = %v, want %v",
					len(tt.pieces), tt.threshold, got, tt.want)
			}
		})
	}
}
