package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateEndpointURL(t *testing.T) {
	tests := []struct {
		url          string
		requireHTTPS bool
		wantErr      string
	}{
		{"https://93.184.216.34/hooks/review", true, ""},
		{"http://93.184.216.34/hooks/review", false, ""},
		{"http://93.184.216.34/hooks/review", true, "must be https"},
		{"ftp://93.184.216.34/", false, "http or https"},
		{"https:///nohost", false, "must have a host"},
		{"https://localhost/hooks", false, "not allowed"},
		{"https://metadata.google.internal/", false, "not allowed"},
		{"https://127.0.0.1/", false, "loopback"},
		{"https://10.0.0.5/", false, "private"},
		{"https://[fd00::1]/", false, "private"},
		{"https://169.254.169.254/latest", false, "link-local"},
		{"https://0.0.0.0/", false, "unspecified"},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			err := ValidateEndpointURL(tt.url, tt.requireHTTPS)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			if assert.Error(t, err) {
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
