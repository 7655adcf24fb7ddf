package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCallerID(t *testing.T) {
	tests := []struct {
		name string
		from string
		want string
	}{
		{"quoted display name", `"Alice Smith" <sip:1001@10.0.0.66>;tag=1`, "Alice Smith"},
		{"bare display name", `Bob <sip:1002@10.0.0.66>;tag=2`, "Bob"},
		{"uri only", `<sip:1003@10.0.0.66>;tag=3`, "1003"},
		{"no brackets", `sip:1004@10.0.0.66;tag=4`, "1004"},
		{"no user", `<sip:10.0.0.66>`, UnknownCaller},
		{"empty", ``, UnknownCaller},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CallerID(tt.from))
		})
	}
}

func TestRequestHost(t *testing.T) {
	assert.Equal(t, "10.0.0.56", RequestHost("sip:5000@10.0.0.56:5060"))
	assert.Equal(t, "10.0.0.56", RequestHost("sip:10.0.0.56"))
	assert.Equal(t, "", RequestHost("sip:5000@pbx.example.com"))
	assert.Equal(t, "", RequestHost(""))
}
