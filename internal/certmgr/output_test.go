package certmgr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	certderrors "certd/internal/errors"
)

func TestParseOutput_SkipsJunkLines(t *testing.T) {
	fields, err := ParseOutput([]byte("Name: value\nJUNK\nOther: x\n"))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"Name": "value", "Other": "x"}, fields)
}

func TestParseOutput(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		expect map[string]string
	}{
		{
			name:   "empty",
			input:  "",
			expect: map[string]string{},
		},
		{
			name:  "openssl style",
			input: "::service ldap::\r\nnotBefore=Jan  1 00:00:00 2024 GMT\nsubject=C = US, CN = mail.example.com\n",
			expect: map[string]string{
				"notBefore": "Jan  1 00:00:00 2024 GMT",
				"subject":   "C = US, CN = mail.example.com",
			},
		},
		{
			name:   "earliest separator wins",
			input:  "SubjectAltName: DNS:a.example.com, DNS:b.example.com\nkey=a:b\n",
			expect: map[string]string{"SubjectAltName": "DNS:a.example.com, DNS:b.example.com", "key": "a:b"},
		},
		{
			name:   "names with spaces",
			input:  "Not Before: Jan  1 00:00:00 2024 GMT\n** Verifying cert\n",
			expect: map[string]string{"Not Before": "Jan  1 00:00:00 2024 GMT"},
		},
		{
			name:   "empty names and markers are ignored",
			input:  ": nothing\n-----BEGIN CERTIFICATE-----\n=x\n",
			expect: map[string]string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields, err := ParseOutput([]byte(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.expect, fields)
		})
	}
}

func TestParseOutput_RejectsBinary(t *testing.T) {
	_, err := ParseOutput([]byte{'a', ':', 0xff, 0xfe})
	assert.ErrorIs(t, err, certderrors.ErrParse)
}

func TestCleanCSROutput(t *testing.T) {
	out := "** Retrieving CSR\n-----BEGIN CERTIFICATE REQUEST-----\nMIIB\n-----END CERTIFICATE REQUEST-----\ntrailing noise\n"
	pem, err := CleanCSROutput([]byte(out))
	require.NoError(t, err)
	assert.Equal(t, "-----BEGIN CERTIFICATE REQUEST-----\nMIIB\n-----END CERTIFICATE REQUEST-----\n", pem)

	_, err = CleanCSROutput([]byte("no csr here"))
	assert.ErrorIs(t, err, certderrors.ErrParse)
}
