package common

import "testing"

func TestNormalizeTenderID(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"already canonical", "2025_ABC_12345_1", "2025_ABC_12345_1"},
		{"lowercase uppercased", "2025_abc_12345_1", "2025_ABC_12345_1"},
		{"label prefix stripped", "Tender ID: 2025_ABC_12345_1", "2025_ABC_12345_1"},
		{"label prefix without colon", "tender id 2025_ABC_1", "2025_ABC_1"},
		{"brackets removed", "[2025_PWD_99_1]", "2025_PWD_99_1"},
		{"parens removed", "(2025_PWD_99_1)", "2025_PWD_99_1"},
		{"spaces collapse to underscore", "2025  ABC  1", "2025_ABC_1"},
		{"dashes collapse to underscore", "2025-ABC--1", "2025_ABC_1"},
		{"mixed runs collapse once", "2025 - ABC - 1", "2025_ABC_1"},
		{"underscore runs collapse", "2025__ABC___1", "2025_ABC_1"},
		{"edge underscores trimmed", "_2025_ABC_1_", "2025_ABC_1"},
		{"whitespace trimmed", "  2025_ABC_1  ", "2025_ABC_1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeTenderID(tt.raw)
			if got != tt.want {
				t.Errorf("NormalizeTenderID(%q) = %q, want %q", tt.raw, got, tt.want)
			}
			// Normalization must be idempotent.
			if again := NormalizeTenderID(got); again != got {
				t.Errorf("not idempotent: NormalizeTenderID(%q) = %q", got, again)
			}
		})
	}
}

func TestIsInvalidTenderID(t *testing.T) {
	invalid := []string{"", "   ", "nan", "NaN", "none", "NULL", "n/a", "N/A", "-", "--", "[-]", " - "}
	for _, raw := range invalid {
		if !IsInvalidTenderID(raw) {
			t.Errorf("IsInvalidTenderID(%q) = false, want true", raw)
		}
	}

	valid := []string{"2025_ABC_12345_1", "ABC-1", "[2025_PWD_99_1]", "Tender ID: X1"}
	for _, raw := range valid {
		if IsInvalidTenderID(raw) {
			t.Errorf("IsInvalidTenderID(%q) = true, want false", raw)
		}
	}
}

func TestNormalizePortalName(t *testing.T) {
	if got := NormalizePortalName("  Haryana "); got != "haryana" {
		t.Errorf("got %q", got)
	}
	if got := NormalizePortalName("CPPP"); got != "cppp" {
		t.Errorf("got %q", got)
	}
}

func TestNormalizeDepartmentName(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"  Public  Works\tDepartment ", "public works department"},
		{"HEALTH AND FAMILY WELFARE", "health and family welfare"},
		{"Irrigation\n Dept", "irrigation dept"},
	}
	for _, tt := range tests {
		if got := NormalizeDepartmentName(tt.raw); got != tt.want {
			t.Errorf("NormalizeDepartmentName(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestNormalizeClosingText(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{" 20-Feb-2026   10:00 am ", "20-FEB-2026 10:00 AM"},
		{"20-Feb-2026 10:00 AM", "20-FEB-2026 10:00 AM"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeClosingText(tt.raw); got != tt.want {
			t.Errorf("NormalizeClosingText(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestTenderKey(t *testing.T) {
	got := TenderKey("Haryana ", "tender id: abc-1")
	if got != "haryana|ABC_1" {
		t.Errorf("TenderKey = %q, want %q", got, "haryana|ABC_1")
	}

	// Keys built from differently written forms of the same identity collide.
	a := TenderKey("Haryana", "[2025_PWD_99_1]")
	b := TenderKey("  haryana", "2025_PWD_99_1")
	if a != b {
		t.Errorf("equivalent identities produced different keys: %q vs %q", a, b)
	}
}

func TestExtractBracketedID(t *testing.T) {
	tests := []struct {
		name string
		cell string
		want string
	}{
		{"no brackets", "Construction of rural road", ""},
		{"single token", "Construction of rural road [2025_PWD_99_1]", "2025_PWD_99_1"},
		{"last token wins", "Road work [Phase II] [2025_PWD_99_1]", "2025_PWD_99_1"},
		{"inner whitespace trimmed", "Road work [ 2025_PWD_99_1 ]", "2025_PWD_99_1"},
		{"empty cell", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractBracketedID(tt.cell); got != tt.want {
				t.Errorf("ExtractBracketedID(%q) = %q, want %q", tt.cell, got, tt.want)
			}
		})
	}
}

func TestPortalSlug(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"Haryana", "haryana"},
		{"Himachal Pradesh", "himachal_pradesh"},
		{"CPPP (Central)", "cppp_central"},
		{"  Maha-Tenders  ", "maha_tenders"},
	}
	for _, tt := range tests {
		if got := PortalSlug(tt.raw); got != tt.want {
			t.Errorf("PortalSlug(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}
