package otel

import "testing"

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		wantHost string
		wantPath string
		insecure bool
		wantErr  bool
	}{
		{
			name:     "https with base path",
			endpoint: "https://cloud.langfuse.com/api/public/otel",
			wantHost: "cloud.langfuse.com",
			wantPath: "/api/public/otel",
		},
		{
			name:     "http is insecure",
			endpoint: "http://localhost:4318",
			wantHost: "localhost:4318",
			wantPath: "",
			insecure: true,
		},
		{
			name:     "trailing slash trimmed",
			endpoint: "http://localhost:3000/otel/",
			wantHost: "localhost:3000",
			wantPath: "/otel",
			insecure: true,
		},
		{
			name:     "no host",
			endpoint: "/just/a/path",
			wantErr:  true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ep, err := parseEndpoint(Options{Endpoint: tt.endpoint})
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseEndpoint: %v", err)
			}
			if ep.host != tt.wantHost || ep.basePath != tt.wantPath || ep.insecure != tt.insecure {
				t.Errorf("got host=%q path=%q insecure=%v, want %q %q %v",
					ep.host, ep.basePath, ep.insecure, tt.wantHost, tt.wantPath, tt.insecure)
			}
		})
	}
}

func TestParseHeaders(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want map[string]string
	}{
		{name: "empty", raw: "", want: map[string]string{}},
		{
			name: "single pair",
			raw:  "Authorization=Basic abc123",
			want: map[string]string{"Authorization": "Basic abc123"},
		},
		{
			name: "multiple pairs with spaces",
			raw:  "a=1, b = 2 ,c=3",
			want: map[string]string{"a": "1", "b": "2", "c": "3"},
		},
		{
			name: "value may contain equals",
			raw:  "Authorization=Basic dXNlcjpwYXNz==",
			want: map[string]string{"Authorization": "Basic dXNlcjpwYXNz=="},
		},
		{
			name: "malformed pairs dropped",
			raw:  "novalue,=nokey,ok=yes",
			want: map[string]string{"ok": "yes"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseHeaders(tt.raw)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("header %q = %q, want %q", k, got[k], v)
				}
			}
		})
	}
}
