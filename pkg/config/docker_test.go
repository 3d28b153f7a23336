package config

import (
	"testing"
)

func TestResolveHostForDocker_NonLoopbackUnchanged(t *testing.T) {
	hosts := []string{"mydb.example.com", "192.168.1.100", "host.docker.internal"}

	for _, host := range hosts {
		if got := ResolveHostForDocker(host); got != host {
			t.Errorf("ResolveHostForDocker(%q) = %q, want unchanged", host, got)
		}
	}
}

func TestResolveHostForDocker_Loopback(t *testing.T) {
	for _, host := range []string{"localhost", "127.0.0.1"} {
		got := ResolveHostForDocker(host)
		want := host
		if IsRunningInDocker() {
			want = "host.docker.internal"
		}
		if got != want {
			t.Errorf("ResolveHostForDocker(%q) = %q, want %q", host, got, want)
		}
	}
}

func TestRewriteURLHost(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"http://localhost:11434/v1", "http://host.docker.internal:11434/v1"},
		{"http://127.0.0.1/v1", "http://host.docker.internal/v1"},
		{"https://api.openai.com/v1", "https://api.openai.com/v1"},
		{"not a url", "not a url"},
	}

	for _, tt := range tests {
		if got := rewriteURLHost(tt.input); got != tt.expected {
			t.Errorf("rewriteURLHost(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestResolveURLForDocker_Empty(t *testing.T) {
	if got := ResolveURLForDocker(""); got != "" {
		t.Errorf("ResolveURLForDocker(\"\") = %q, want empty", got)
	}
}
