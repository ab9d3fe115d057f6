package security

import "testing"

func TestMediaURLValidator_ValidateURL(t *testing.T) {
	v := NewMediaURLValidator()

	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"https画像", "https://cdn.example.com/p/1.jpg", false},
		{"http動画", "http://media.example.com/v/clip.mp4", false},
		{"公開IP", "https://93.184.216.34/a.png", false},
		{"空文字列", "", true},
		{"javascriptスキーム", "javascript:alert(1)", true},
		{"dataスキーム", "data:image/png;base64,AAAA", true},
		{"ftpスキーム", "ftp://example.com/a.jpg", true},
		{"ホストなし", "https:///a.jpg", true},
		{"localhost", "http://localhost/a.jpg", true},
		{"localhostのサブドメイン", "http://api.localhost/a.jpg", true},
		{"ループバック", "http://127.0.0.1/a.jpg", true},
		{"プライベートIP", "http://10.1.2.3/a.jpg", true},
		{"メタデータIP", "http://169.254.169.254/latest", true},
		{"IPv6ループバック", "http://[::1]/a.jpg", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}
