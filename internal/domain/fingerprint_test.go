package domain

import (
	"testing"

	"github.com/google/uuid"
)

func TestNormalizeFileName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Syllabus.PDF", "syllabus.pdf"},
		{"  notes.txt  ", "notes.txt"},
		{"uploads/2026/exam.docx", "exam.docx"},
		{"plain", "plain"},
	}
	for _, tc := range cases {
		if got := NormalizeFileName(tc.in); got != tc.want {
			t.Errorf("NormalizeFileName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestComputeFingerprint(t *testing.T) {
	tenant := uuid.New()
	school := uuid.New()

	a := ComputeFingerprint(tenant, school, "syllabus.pdf", 512000)
	b := ComputeFingerprint(tenant, school, "Syllabus.pdf", 512000)
	if a != b {
		t.Errorf("fingerprint should ignore case: %s != %s", a, b)
	}

	if c := ComputeFingerprint(tenant, school, "syllabus.pdf", 512001); c == a {
		t.Error("fingerprint should change with size")
	}
	if c := ComputeFingerprint(tenant, school, "other.pdf", 512000); c == a {
		t.Error("fingerprint should change with name")
	}
	if c := ComputeFingerprint(tenant, uuid.New(), "syllabus.pdf", 512000); c == a {
		t.Error("fingerprint should change with school scope")
	}
	if c := ComputeFingerprint(uuid.New(), school, "syllabus.pdf", 512000); c == a {
		t.Error("fingerprint should change with tenant scope")
	}
}

func TestIsTerminalStatus(t *testing.T) {
	if IsTerminalStatus(DocumentStatusProcessing) {
		t.Error("processing must not be terminal")
	}
	if !IsTerminalStatus(DocumentStatusIndexed) || !IsTerminalStatus(DocumentStatusFailed) {
		t.Error("indexed and failed must be terminal")
	}
}
