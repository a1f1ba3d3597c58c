package codec

import "testing"

type sample struct {
	Term  string
	Count int
}

func TestJSONRoundTrip(t *testing.T) {
	var c Codec = JSON{}

	in := sample{Term: "quarterly", Count: 7}
	data, err := c.Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var out sample
	if err := c.Decode(data, &out); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out != in {
		t.Errorf("round trip = %+v, want %+v", out, in)
	}
}

func TestJSONDecodeInvalid(t *testing.T) {
	var c Codec = JSON{}
	var out sample
	if err := c.Decode([]byte("not json"), &out); err == nil {
		t.Error("expected error decoding invalid JSON")
	}
}
