package masking

import "testing"

func TestMaskSecret(t *testing.T) {
	cases := map[string]string{
		"":                            "",
		"TEST-1234567890-abcd":        "TEST-****abcd",
		"APP_USR-2425109007347-c3f4":  "APP_USR-****c3f4",
		"short":                       "****",
		"TEST-abc":                    "TEST-****",
		"plainsecretwithoutdashes99":  "****es99",
	}
	for input, want := range cases {
		if got := MaskSecret(input); got != want {
			t.Fatalf("MaskSecret(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestMaskSensitiveKeys(t *testing.T) {
	masked := MaskSensitiveKeys(map[string]any{
		"access_token": "TEST-1234567890-abcd",
		"payment_id":   "777",
		"nested":       map[string]any{"client_secret": "APP_USR-9999999999-zzzz"},
		"attempts":     3,
	})
	if masked["access_token"] != "TEST-****abcd" {
		t.Fatalf("token not masked: %v", masked["access_token"])
	}
	if masked["payment_id"] != "777" {
		t.Fatalf("non-sensitive value changed: %v", masked["payment_id"])
	}
	nested, ok := masked["nested"].(map[string]any)
	if !ok || nested["client_secret"] != "APP_USR-****zzzz" {
		t.Fatalf("nested secret not masked: %v", masked["nested"])
	}
	if masked["attempts"] != 3 {
		t.Fatalf("unexpected attempts %v", masked["attempts"])
	}
	if MaskSensitiveKeys(nil) != nil {
		t.Fatalf("expected nil for empty input")
	}
}
