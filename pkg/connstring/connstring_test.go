package connstring

import "testing"

func TestGenerateRejectsNode(t *testing.T) {
	net := newTestNetwork(t)
	node := net.node
	if _, err := Generate(node); err == nil {
		t.Fatal("Generate on a Node should fail, got nil error")
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	net := newTestNetwork(t)
	rec, err := Generate(net.host)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	s, err := Encode(rec)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	decoded, err := Decode(s)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.GameID != rec.GameID || decoded.HostID != rec.HostID || decoded.Secret != rec.Secret {
		t.Fatalf("decoded = %+v, want %+v", decoded, rec)
	}
	if decoded.Mode != Mode {
		t.Errorf("decoded.Mode = %q, want %q", decoded.Mode, Mode)
	}
}

func TestDecodeRejectsBadGameID(t *testing.T) {
	net := newTestNetwork(t)
	rec, err := Generate(net.host)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	rec.GameID = "Not A Valid ID!"

	s, err := Encode(rec)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	if _, err := Decode(s); err == nil {
		t.Fatal("Decode with an invalid gameId should fail, got nil error")
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := Decode("not-a-valid-connection-string"); err == nil {
		t.Error("Decode of garbage input should fail, got nil error")
	}
	if _, err := Decode(""); err == nil {
		t.Error("Decode of empty input should fail, got nil error")
	}
}

func TestGenerateAdvancesQRSeq(t *testing.T) {
	net := newTestNetwork(t)
	first, err := Generate(net.host)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	second, err := Generate(net.host)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if second.QRSeq <= first.QRSeq {
		t.Errorf("second.QRSeq (%d) did not advance past first.QRSeq (%d)", second.QRSeq, first.QRSeq)
	}
}
