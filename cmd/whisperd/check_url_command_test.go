package main

import (
	"encoding/json"
	"testing"
)

func TestCheckURLRejectsLoopback(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"check-url", "http://127.0.0.1:8080/admin"}, env.configPath, "")
	if err == nil {
		t.Fatal("expected loopback URL to be rejected")
	}
	requireContains(t, out, "rejected (Loopback)")
	requireContains(t, err.Error(), "url rejected")
}

func TestCheckURLAllowsPublicLiteral(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"check-url", "https://93.184.215.14/clip.mp3"}, env.configPath, "")
	if err != nil {
		t.Fatalf("check-url: %v\n%s", err, out)
	}
	requireContains(t, out, "Result:     allowed")
	requireContains(t, out, "IP literal: yes")
	requireContains(t, out, "93.184.215.14")
	requireContains(t, out, "public")
}

func TestCheckURLAllowlistFlag(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{
		"check-url", "--json", "--allowed-domain", "cdn.example.com",
		"https://93.184.215.14/clip.mp3",
	}, env.configPath, "")
	if err == nil {
		t.Fatal("expected allowlist rejection")
	}
	var result checkURLResult
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("decode json output: %v\n%s", err, out)
	}
	if result.Allowed || result.ErrorKind != "NotAllowlisted" {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestCheckURLRequiresArgument(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, _, err := runCLI(t, []string{"check-url"}, env.configPath, ""); err == nil {
		t.Fatal("expected missing argument error")
	}
}
