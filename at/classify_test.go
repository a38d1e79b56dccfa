package at_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pwitab/ublox/at"
)

func urcSet(prefixes ...string) func(string) bool {
	set := make(map[string]bool, len(prefixes))
	for _, p := range prefixes {
		set[p] = true
	}
	return func(p string) bool { return set[p] }
}

func TestClassify(t *testing.T) {
	urcs := urcSet(at.UrcRegStatus, at.UrcConnStatus, at.UrcSocketClosed, at.UrcSocketRecv)

	tests := []struct {
		name     string
		input    string
		expected at.ResponseType
	}{
		// Final responses
		{name: "OK response", input: "OK", expected: at.TypeFinal},
		{name: "ERROR response", input: "ERROR", expected: at.TypeFinal},
		{name: "CME Error", input: "+CME ERROR: 4", expected: at.TypeFinal},
		{name: "CMS Error", input: "+CMS ERROR: 500", expected: at.TypeFinal},
		{name: "Verbose CME Error", input: "+CME ERROR: operation not allowed", expected: at.TypeFinal},

		// URCs
		{name: "Registration status URC", input: "+CEREG: 5", expected: at.TypeURC},
		{name: "Connection status URC", input: "+CSCON: 1", expected: at.TypeURC},
		{name: "Socket closed URC", input: "+UUSOCL: 0", expected: at.TypeURC},
		{name: "Pending datagram URC", input: "+UUSORF: 0,16", expected: at.TypeURC},

		// Data responses
		{name: "Socket create result", input: "+USOCR: 0", expected: at.TypeData},
		{name: "Send result", input: "+USOST: 0,4", expected: at.TypeData},
		{name: "IP address result", input: "+CGPADDR: 1,\"10.0.0.2\"", expected: at.TypeData},
		{name: "Unregistered prefix is data", input: "+NPSMR: 1", expected: at.TypeData},
		{name: "Bare value", input: "0", expected: at.TypeData},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, at.Classify(tt.input, urcs))
		})
	}

	t.Run("Nil prefix set classifies everything non-final as data", func(t *testing.T) {
		assert.Equal(t, at.TypeData, at.Classify("+CEREG: 1", nil))
		assert.Equal(t, at.TypeFinal, at.Classify("OK", nil))
	})
}

func TestParseFinal(t *testing.T) {
	tests := []struct {
		name  string
		input string
		ok    bool
		want  at.Final
	}{
		{name: "OK", input: "OK", ok: true, want: at.Final{Kind: at.FinalOK, Code: -1}},
		{name: "ERROR", input: "ERROR", ok: true, want: at.Final{Kind: at.FinalErr, Code: -1}},
		{
			name: "CME numeric", input: "+CME ERROR: 148", ok: true,
			want: at.Final{Kind: at.FinalCME, Code: 148, Message: "148"},
		},
		{
			name: "CMS numeric", input: "+CMS ERROR: 500", ok: true,
			want: at.Final{Kind: at.FinalCMS, Code: 500, Message: "500"},
		},
		{
			name: "CME verbose", input: "+CME ERROR: SIM not inserted", ok: true,
			want: at.Final{Kind: at.FinalCME, Code: -1, Message: "SIM not inserted"},
		},
		{name: "Not final", input: "+USOCR: 0", ok: false},
		{name: "OK as prefix is not final", input: "OKAY", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := at.ParseFinal(tt.input)
			require.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestParseURC(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		ok     bool
		prefix string
		fields []string
	}{
		{
			name: "Registration status", input: "+CEREG: 5", ok: true,
			prefix: "+CEREG:", fields: []string{"5"},
		},
		{
			name: "Socket closed", input: "+UUSOCL: 2", ok: true,
			prefix: "+UUSOCL:", fields: []string{"2"},
		},
		{
			name: "Pending datagram", input: "+UUSORF: 0,24", ok: true,
			prefix: "+UUSORF:", fields: []string{"0", "24"},
		},
		{
			name: "Quoted field with comma", input: `+NSONMI: 0,"a,b",4`, ok: true,
			prefix: "+NSONMI:", fields: []string{"0", "a,b", "4"},
		},
		{
			name: "Quotes stripped", input: `+CGPADDR: 1,"10.0.0.2"`, ok: true,
			prefix: "+CGPADDR:", fields: []string{"1", "10.0.0.2"},
		},
		{
			name: "Empty payload", input: "+CSCON:", ok: true,
			prefix: "+CSCON:", fields: nil,
		},
		{name: "No prefix", input: "OK", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, ok := at.ParseURC(tt.input)
			require.Equal(t, tt.ok, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.prefix, u.Prefix)
			assert.Equal(t, tt.fields, u.Fields)
		})
	}
}
