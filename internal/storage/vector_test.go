package storage

import "testing"

func TestEncodeEmbedding(t *testing.T) {
	tests := []struct {
		name      string
		embedding []float32
		want      string
		wantValid bool
	}{
		{name: "nil embedding", embedding: nil, wantValid: false},
		{name: "empty slice", embedding: []float32{}, wantValid: false},
		{name: "single element", embedding: []float32{0.5}, want: "[0.5]", wantValid: true},
		{name: "multiple elements", embedding: []float32{0.1, 0.2, 0.3}, want: "[0.1,0.2,0.3]", wantValid: true},
		{name: "negative values", embedding: []float32{-0.5, 0.5, -1}, want: "[-0.5,0.5,-1]", wantValid: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EncodeEmbedding(tt.embedding)
			if got.Valid != tt.wantValid {
				t.Errorf("EncodeEmbedding() valid = %v, want %v", got.Valid, tt.wantValid)
			}
			if got.Valid && got.String != tt.want {
				t.Errorf("EncodeEmbedding() = %q, want %q", got.String, tt.want)
			}
		})
	}
}

func TestDecodeEmbedding(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []float32
	}{
		{name: "empty string", in: "", want: nil},
		{name: "empty brackets", in: "[]", want: nil},
		{name: "single element", in: "[0.5]", want: []float32{0.5}},
		{name: "multiple elements", in: "[0.1,0.2,0.3]", want: []float32{0.1, 0.2, 0.3}},
		{name: "malformed", in: "[0.1,bogus]", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DecodeEmbedding(tt.in)
			if len(got) != len(tt.want) {
				t.Fatalf("DecodeEmbedding(%q) = %v, want %v", tt.in, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("DecodeEmbedding(%q)[%d] = %v, want %v", tt.in, i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	in := []float32{0.125, -0.25, 3.5}
	enc := EncodeEmbedding(in)
	if !enc.Valid {
		t.Fatal("expected valid encoding")
	}
	out := DecodeEmbedding(enc.String)
	if len(out) != len(in) {
		t.Fatalf("round trip length mismatch: got %d, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("round trip[%d] = %v, want %v", i, out[i], in[i])
		}
	}
}

func TestNullString(t *testing.T) {
	if ns := NullString(""); ns.Valid {
		t.Error("NullString(\"\") should be invalid")
	}
	if ns := NullString("x"); !ns.Valid || ns.String != "x" {
		t.Errorf("NullString(\"x\") = %+v", ns)
	}
}
