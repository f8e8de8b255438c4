package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		c    Case
		want string
	}{
		{"upper strips diacritics", " Ω é  test ", Upper, "_Ω_E_TEST_"},
		{"lower strips diacritics", " Ω é  test ", Lower, "_ω_e_test_"},
		{"casing independent of input", "ÉtÉ Été", Lower, "ete_ete"},
		{"empty", "", Upper, ""},
		{"tabs are not spaces", "a\tb", Upper, "A\tB"},
		{"precomposed and decomposed agree", "café", Upper, "CAFE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in, tt.c))
		})
	}
}

func TestBillable(t *testing.T) {
	assert.Equal(t, "UNDEFINED_ENTITY", Billable(""))
	assert.Equal(t, "MDTN", Billable("mdtn"))
	assert.Equal(t, "MY_COMPANY", Billable("my   company"))
}

func TestCreativeID(t *testing.T) {
	assert.Equal(t, "no_style-NO_SIZE", CreativeID("", ""))
	assert.Equal(t, "summer_sale-300x250", CreativeID("Summer Sälé", "300x250"))
	assert.Equal(t, "summer_sale-NO_SIZE", CreativeID("Summer  Sale", ""))
}
