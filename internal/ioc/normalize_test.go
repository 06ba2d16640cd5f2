package ioc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		name    string
		value   string
		typ     IndicatorType
		want    string
		wantErr bool
	}{
		{"domain case folds", "Bad-Bank.Example.COM", TypeDomain, "bad-bank.example.com", false},
		{"domain drops trailing dot", "evil.tk.", TypeDomain, "evil.tk", false},
		{"domain without dot rejected", "localhost", TypeDomain, "", true},
		{"url loses scheme", "https://evil.tk/login", TypeURL, "evil.tk/login", false},
		{"url loses fragment", "http://evil.tk/a#frag", TypeURL, "evil.tk/a", false},
		{"defanged scheme stripped", "hxxp://evil.tk/login", TypeURL, "evil.tk/login", false},
		{"ip accepted", "203.0.113.9", TypeIP, "203.0.113.9", false},
		{"ip octet 256 rejected", "1.2.3.256", TypeIP, "", true},
		{"ip short quad rejected", "1.2.3", TypeIP, "", true},
		{"ip empty octet rejected", "1..2.3", TypeIP, "", true},
		{"hash lower cases hex", "D41D8CD98F00B204E9800998ECF8427E", TypeHash, "d41d8cd98f00b204e9800998ecf8427e", false},
		{"hash odd length rejected", "deadbeef", TypeHash, "", true},
		{"hash non-hex rejected", "zz1d8cd98f00b204e9800998ecf8427e", TypeHash, "", true},
		{"email case folds", "Phisher@Evil.TK", TypeEmail, "phisher@evil.tk", false},
		{"email without at rejected", "not-an-email.com", TypeEmail, "", true},
		{"empty value rejected", "   ", TypeDomain, "", true},
		{"unknown type rejected", "whatever", IndicatorType("dns"), "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Normalize(tc.value, tc.typ)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDetectType(t *testing.T) {
	cases := []struct {
		name   string
		value  string
		want   IndicatorType
		wantOK bool
	}{
		{"email", "phisher@evil.tk", TypeEmail, true},
		{"url with scheme", "https://evil.tk", TypeURL, true},
		{"defanged url", "hxxps://evil.tk/login", TypeURL, true},
		{"bare path is a url", "evil.tk/login", TypeURL, true},
		{"dotted quad", "198.51.100.7", TypeIP, true},
		{"md5", "d41d8cd98f00b204e9800998ecf8427e", TypeHash, true},
		{"sha1", "da39a3ee5e6b4b0d3255bfef95601890afd80709", TypeHash, true},
		{"sha256", "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", TypeHash, true},
		{"odd-length hex falls through", "d41d8cd98f00b204e9800998ecf8427ea", "", false},
		{"dotted name is a domain", "evil.tk", TypeDomain, true},
		{"out-of-range quad degrades to domain", "999.1.2.3", TypeDomain, true},
		{"dotless value undetectable", "no-dots-here", "", false},
		{"blank undetectable", "  ", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := DetectType(tc.value)
			assert.Equal(t, tc.wantOK, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestValidTechniqueID(t *testing.T) {
	assert.True(t, ValidTechniqueID("T1566"))
	assert.True(t, ValidTechniqueID("T1566.002"))
	assert.False(t, ValidTechniqueID("T156"))
	assert.False(t, ValidTechniqueID("T1566.02"))
	assert.False(t, ValidTechniqueID("X1566"))
	assert.False(t, ValidTechniqueID("t1566"))
}

func TestClassificationValidate(t *testing.T) {
	valid := Classification{RiskLevel: RiskHigh, Category: "phishing", Confidence: 0.9}
	assert.NoError(t, valid.Validate())

	bad := valid
	bad.RiskLevel = "severe"
	assert.Error(t, bad.Validate())

	bad = valid
	bad.Confidence = 1.2
	assert.Error(t, bad.Validate())

	bad = valid
	bad.Category = ""
	assert.Error(t, bad.Validate())
}
