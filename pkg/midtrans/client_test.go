package midtrans

import (
	"crypto/sha512"
	"encoding/hex"
	"testing"
)

func TestVerifySignature_AcceptsValidSignature(t *testing.T) {
	c := NewClient("test-server-key", false)

	sum := sha512.Sum512([]byte("TOPUP-u1-1700000000" + "200" + "10000.00" + "test-server-key"))
	sig := hex.EncodeToString(sum[:])

	if !c.VerifySignature("TOPUP-u1-1700000000", "200", "10000.00", sig) {
		t.Fatal("expected valid signature to verify")
	}
}

func TestVerifySignature_RejectsTamperedAmount(t *testing.T) {
	c := NewClient("test-server-key", false)

	sum := sha512.Sum512([]byte("TOPUP-u1-1700000000" + "200" + "10000.00" + "test-server-key"))
	sig := hex.EncodeToString(sum[:])

	if c.VerifySignature("TOPUP-u1-1700000000", "200", "99999.00", sig) {
		t.Fatal("expected signature over a different amount to fail")
	}
}

func TestVerifySignature_RejectsWrongServerKey(t *testing.T) {
	c := NewClient("other-key", false)

	sum := sha512.Sum512([]byte("TOPUP-u1-1700000000" + "200" + "10000.00" + "test-server-key"))
	sig := hex.EncodeToString(sum[:])

	if c.VerifySignature("TOPUP-u1-1700000000", "200", "10000.00", sig) {
		t.Fatal("expected signature made with a different key to fail")
	}
}

func TestNewClient_SelectsBaseURL(t *testing.T) {
	if got := NewClient("k", false).BaseURL; got != sandboxBaseURL {
		t.Fatalf("expected sandbox base URL, got %q", got)
	}
	if got := NewClient("k", true).BaseURL; got != productionBaseURL {
		t.Fatalf("expected production base URL, got %q", got)
	}
}

func TestChargeResponse_QRURL(t *testing.T) {
	var resp ChargeResponse
	resp.Actions = []struct {
		Name   string `json:"name"`
		Method string `json:"method"`
		URL    string `json:"url"`
	}{
		{Name: "deeplink-redirect", Method: "GET", URL: "https://example/deeplink"},
		{Name: "generate-qr-code", Method: "GET", URL: "https://example/qr.png"},
	}
	if got := resp.QRURL(); got != "https://example/qr.png" {
		t.Fatalf("expected qr action url, got %q", got)
	}
	if got := (&ChargeResponse{}).QRURL(); got != "" {
		t.Fatalf("expected empty url when no actions, got %q", got)
	}
}
