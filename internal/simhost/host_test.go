package simhost

import (
	"net/http"
	"testing"
)

func TestHostServes(t *testing.T) {
	h, err := Start(Options{Index: 0})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = h.Close() })

	for _, p := range []string{"/health", "/items/1"} {
		resp, err := http.Get(h.URL + p)
		if err != nil {
			t.Fatalf("GET %s: %v", p, err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: want 200, got %d", p, resp.StatusCode)
		}
	}
}

func TestDrainingHostAnswers503(t *testing.T) {
	h, err := Start(Options{Index: 1})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = h.Close() })

	h.SetDraining(true)
	resp, err := http.Get(h.URL + "/items/1")
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("want 503, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Fatal("draining host must send Retry-After")
	}

	h.SetDraining(false)
	resp, err = http.Get(h.URL + "/items/1")
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("want 200 after drain clears, got %d", resp.StatusCode)
	}
}
