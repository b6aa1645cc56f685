package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOf(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		truncate bool
		want     string
	}{
		{"lower-cases and collapses whitespace", "  12   Rue de RIVOLI\t75001  Paris ", false, "12 rue de rivoli 75001 paris"},
		{"punctuation becomes space", "12, Rue de Rivoli, 75001 Paris", false, "12 rue de rivoli 75001 paris"},
		{"accents are folded", "3 Allée des Pâquerettes, 69001 Lyon", false, "3 allee des paquerettes 69001 lyon"},
		{"truncates after postal code", "12 Rue de Rivoli, 75001 Paris 1er", true, "12 rue de rivoli 75001"},
		{"no postal code leaves text intact", "Mairie de Nantes", true, "mairie de nantes"},
		{"only punctuation collapses to empty", "???", false, ""},
		{"empty", "", false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Of(tt.in, tt.truncate))
		})
	}
}

func TestOf_EquivalentSpellingsShareKey(t *testing.T) {
	a := Of("12 rue de Rivoli, 75001 PARIS", true)
	b := Of("12 Rue  de Rivoli 75001 Paris 1er Arrondissement", true)
	assert.Equal(t, a, b)
}
